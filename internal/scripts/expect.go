package scripts

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/dop251/goja"
)

var chainWords = []string{
	"to", "be", "been", "is", "that", "which", "and", "has", "have",
	"with", "at", "of", "same", "does",
}

type assertion struct {
	s      *session
	obj    *goja.Object
	actual goja.Value
	negate bool
	deep   bool
}

func (s *session) expect(call goja.FunctionCall) goja.Value {
	a := &assertion{s: s, obj: s.vm.NewObject(), actual: call.Argument(0)}
	a.install()
	return a.obj
}

func (a *assertion) install() {
	self := func(goja.FunctionCall) goja.Value { return a.obj }
	for _, w := range chainWords {
		a.getter(w, self)
	}
	a.getter("not", func(goja.FunctionCall) goja.Value {
		a.negate = !a.negate
		return a.obj
	})
	a.getter("deep", func(goja.FunctionCall) goja.Value {
		a.deep = true
		return a.obj
	})

	a.flag("ok", func() (bool, string) {
		return a.actual.ToBoolean(), "be truthy"
	})
	a.flag("true", func() (bool, string) {
		return a.actual.StrictEquals(a.s.vm.ToValue(true)), "be true"
	})
	a.flag("false", func() (bool, string) {
		return a.actual.StrictEquals(a.s.vm.ToValue(false)), "be false"
	})
	a.flag("null", func() (bool, string) {
		return goja.IsNull(a.actual), "be null"
	})
	a.flag("undefined", func() (bool, string) {
		return goja.IsUndefined(a.actual), "be undefined"
	})
	a.flag("exist", func() (bool, string) {
		return !goja.IsNull(a.actual) && !goja.IsUndefined(a.actual), "exist"
	})
	a.flag("empty", func() (bool, string) {
		return a.isEmpty(), "be empty"
	})

	methods := map[string]func(goja.FunctionCall) goja.Value{
		"equal":    a.equal,
		"equals":   a.equal,
		"eql":      a.eql,
		"above":    a.compare("be above", func(x, y float64) bool { return x > y }),
		"gt":       a.compare("be above", func(x, y float64) bool { return x > y }),
		"below":    a.compare("be below", func(x, y float64) bool { return x < y }),
		"lt":       a.compare("be below", func(x, y float64) bool { return x < y }),
		"least":    a.compare("be at least", func(x, y float64) bool { return x >= y }),
		"most":     a.compare("be at most", func(x, y float64) bool { return x <= y }),
		"within":   a.within,
		"include":  a.include,
		"includes": a.include,
		"contain":  a.include,
		"contains": a.include,
		"a":        a.typeOf,
		"an":       a.typeOf,
		"match":    a.match,
		"property": a.property,
		"lengthOf": a.lengthOf,
		"length":   a.lengthOf,
		"oneOf":    a.oneOf,
	}
	for name, fn := range methods {
		_ = a.obj.Set(name, fn)
	}
}

func (a *assertion) getter(name string, fn func(goja.FunctionCall) goja.Value) {
	_ = a.obj.DefineAccessorProperty(name, a.s.vm.ToValue(fn), nil, goja.FLAG_TRUE, goja.FLAG_FALSE)
}

func (a *assertion) flag(name string, check func() (bool, string)) {
	a.getter(name, func(goja.FunctionCall) goja.Value {
		ok, what := check()
		a.assert(ok, what)
		return a.obj
	})
}

// assert records the outcome of a check, honouring a preceding not.
func (a *assertion) assert(ok bool, what string) {
	if ok != a.negate {
		return
	}
	verb := "to "
	if a.negate {
		verb = "to not "
	}
	a.s.fail(fmt.Sprintf("expected %s %s%s", inspect(a.actual), verb, what))
}

func (a *assertion) equal(call goja.FunctionCall) goja.Value {
	want := call.Argument(0)
	if a.deep {
		a.assert(deepEqual(a.actual, want), "deeply equal "+inspect(want))
		return a.obj
	}
	a.assert(a.actual.StrictEquals(want), "equal "+inspect(want))
	return a.obj
}

func (a *assertion) eql(call goja.FunctionCall) goja.Value {
	want := call.Argument(0)
	a.assert(deepEqual(a.actual, want), "deeply equal "+inspect(want))
	return a.obj
}

func (a *assertion) compare(what string, cmp func(x, y float64) bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		want := call.Argument(0)
		a.assert(cmp(a.actual.ToFloat(), want.ToFloat()), what+" "+inspect(want))
		return a.obj
	}
}

func (a *assertion) within(call goja.FunctionCall) goja.Value {
	lo, hi := call.Argument(0), call.Argument(1)
	n := a.actual.ToFloat()
	a.assert(n >= lo.ToFloat() && n <= hi.ToFloat(), fmt.Sprintf("be within %s..%s", lo, hi))
	return a.obj
}

func (a *assertion) include(call goja.FunctionCall) goja.Value {
	want := call.Argument(0)
	ok := false
	switch actual := a.actual.Export().(type) {
	case string:
		ok = strings.Contains(actual, want.String())
	case []interface{}:
		for _, item := range actual {
			if deepEqual(a.s.vm.ToValue(item), want) {
				ok = true
				break
			}
		}
	case map[string]interface{}:
		sub, isMap := want.Export().(map[string]interface{})
		if isMap {
			ok = true
			for k, v := range sub {
				got, present := actual[k]
				if !present || !deepEqual(a.s.vm.ToValue(got), a.s.vm.ToValue(v)) {
					ok = false
					break
				}
			}
		}
	}
	a.assert(ok, "include "+inspect(want))
	return a.obj
}

func (a *assertion) typeOf(call goja.FunctionCall) goja.Value {
	want := strings.ToLower(call.Argument(0).String())
	a.assert(jsType(a.actual) == want, "be a "+want)
	return a.obj
}

func (a *assertion) match(call goja.FunctionCall) goja.Value {
	pattern := call.Argument(0)
	subject := a.actual.String()
	ok := false
	if obj, isObj := pattern.(*goja.Object); isObj {
		if test, isFn := goja.AssertFunction(obj.Get("test")); isFn {
			res, err := test(obj, a.s.vm.ToValue(subject))
			ok = err == nil && res.ToBoolean()
		}
	} else if re, err := regexp.Compile(pattern.String()); err == nil {
		ok = re.MatchString(subject)
	}
	a.assert(ok, "match "+pattern.String())
	return a.obj
}

func (a *assertion) property(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	obj, isObj := a.actual.(*goja.Object)
	var got goja.Value
	if isObj {
		got = obj.Get(name)
	}
	has := got != nil && !goja.IsUndefined(got)
	if len(call.Arguments) < 2 {
		a.assert(has, "have property '"+name+"'")
		return a.obj
	}
	want := call.Argument(1)
	a.assert(has && got.StrictEquals(want), fmt.Sprintf("have property '%s' of %s", name, inspect(want)))
	return a.obj
}

func (a *assertion) lengthOf(call goja.FunctionCall) goja.Value {
	want := call.Argument(0).ToInteger()
	n, ok := a.length()
	a.assert(ok && n == want, fmt.Sprintf("have a length of %d", want))
	return a.obj
}

func (a *assertion) oneOf(call goja.FunctionCall) goja.Value {
	list := call.Argument(0)
	ok := false
	if items, isList := list.Export().([]interface{}); isList {
		for _, item := range items {
			if deepEqual(a.actual, a.s.vm.ToValue(item)) {
				ok = true
				break
			}
		}
	}
	a.assert(ok, "be one of "+inspect(list))
	return a.obj
}

func (a *assertion) length() (int64, bool) {
	obj, isObj := a.actual.(*goja.Object)
	if !isObj {
		if s, isStr := a.actual.Export().(string); isStr {
			return int64(len([]rune(s))), true
		}
		return 0, false
	}
	l := obj.Get("length")
	if l == nil || goja.IsUndefined(l) {
		return 0, false
	}
	return l.ToInteger(), true
}

func (a *assertion) isEmpty() bool {
	if n, ok := a.length(); ok {
		return n == 0
	}
	if obj, isObj := a.actual.(*goja.Object); isObj {
		return len(obj.Keys()) == 0
	}
	return false
}

func jsType(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	if _, isFn := goja.AssertFunction(v); isFn {
		return "function"
	}
	switch v.Export().(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int64, float64, int, int32, uint32:
		return "number"
	case []interface{}:
		return "array"
	}
	if obj, ok := v.(*goja.Object); ok && obj.ClassName() == "Array" {
		return "array"
	}
	return "object"
}

// deepEqual compares two values after normalising them through JSON, so
// integer and float representations of a number compare equal.
func deepEqual(x, y goja.Value) bool {
	nx, errX := normalize(x)
	ny, errY := normalize(y)
	if errX != nil || errY != nil {
		return x.StrictEquals(y)
	}
	return reflect.DeepEqual(nx, ny)
}

func normalize(v goja.Value) (interface{}, error) {
	if v == nil || goja.IsUndefined(v) {
		return nil, nil
	}
	return normalizeGo(v.Export())
}

func normalizeGo(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func inspect(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	if s, ok := v.Export().(string); ok {
		return "'" + s + "'"
	}
	return stringify(v)
}
