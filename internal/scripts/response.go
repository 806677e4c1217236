package scripts

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dop251/goja"
	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"
)

type responseAPI struct {
	s      *session
	resp   *Response
	parsed goja.Value
	tried  bool
}

func newResponseAPI(s *session, resp *Response) *responseAPI {
	return &responseAPI{s: s, resp: resp}
}

func (api *responseAPI) object() (*goja.Object, error) {
	r := api.resp
	obj := api.s.vm.NewObject()
	headers := map[string]interface{}{
		"get": func(name string) goja.Value {
			if r.Header == nil || len(r.Header.Values(name)) == 0 {
				return goja.Undefined()
			}
			return api.s.vm.ToValue(r.Header.Get(name))
		},
		"has": func(name string) bool {
			return r.Header != nil && len(r.Header.Values(name)) > 0
		},
		"all": headerMap(r.Header),
	}
	status := r.Status
	if status == "" {
		status = http.StatusText(r.Code)
	}
	props := map[string]interface{}{
		"code":         r.Code,
		"status":       status,
		"headers":      headers,
		"responseTime": r.Duration.Milliseconds(),
		"responseSize": len(r.Body),
		"text":         func() string { return string(r.Body) },
		"json":         api.json,
	}
	for k, v := range props {
		if err := readOnly(obj, k, api.s.vm.ToValue(v)); err != nil {
			return nil, err
		}
	}
	if err := obj.Set("to", api.toAPI()); err != nil {
		return nil, err
	}
	return obj, nil
}

// json parses the body on first use and caches the value. Invalid JSON
// leaves a console note and yields undefined.
func (api *responseAPI) json(goja.FunctionCall) goja.Value {
	if api.tried {
		return api.parsed
	}
	api.tried = true
	api.parsed = goja.Undefined()

	parse, ok := goja.AssertFunction(api.s.vm.Get("JSON").ToObject(api.s.vm).Get("parse"))
	if !ok {
		return api.parsed
	}
	v, err := parse(goja.Undefined(), api.s.vm.ToValue(string(api.resp.Body)))
	if err != nil {
		api.s.logf("ParseError: %s", exceptionMessage(err))
		return api.parsed
	}
	api.parsed = v
	return api.parsed
}

func (api *responseAPI) toAPI() map[string]interface{} {
	r := api.resp
	be := api.s.vm.NewObject()
	_ = be.DefineAccessorProperty("ok", api.s.vm.ToValue(func(goja.FunctionCall) goja.Value {
		if r.Code < 200 || r.Code > 299 {
			api.s.fail(fmt.Sprintf("expected response to be ok but got %d", r.Code))
		}
		return goja.Undefined()
	}), nil, goja.FLAG_TRUE, goja.FLAG_FALSE)

	return map[string]interface{}{
		"be": be,
		"have": map[string]interface{}{
			"status":     api.haveStatus,
			"header":     api.haveHeader,
			"jsonBody":   api.haveJSONBody,
			"jsonSchema": api.haveJSONSchema,
		},
	}
}

func (api *responseAPI) haveStatus(call goja.FunctionCall) goja.Value {
	want := call.Argument(0)
	if s, ok := want.Export().(string); ok {
		got := api.resp.Status
		if !strings.EqualFold(got, s) && !strings.HasSuffix(strings.ToLower(got), strings.ToLower(" "+s)) {
			api.s.fail(fmt.Sprintf("expected response to have status reason '%s' but got '%s'", s, got))
		}
		return goja.Undefined()
	}
	if int64(api.resp.Code) != want.ToInteger() {
		api.s.fail(fmt.Sprintf("expected response to have status code %d but got %d", want.ToInteger(), api.resp.Code))
	}
	return goja.Undefined()
}

func (api *responseAPI) haveHeader(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	values := api.resp.Header.Values(name)
	if len(values) == 0 {
		api.s.fail(fmt.Sprintf("expected response to have header '%s'", name))
		return goja.Undefined()
	}
	if len(call.Arguments) > 1 {
		want := call.Argument(1).String()
		if got := api.resp.Header.Get(name); got != want {
			api.s.fail(fmt.Sprintf("expected header '%s' to be '%s' but got '%s'", name, want, got))
		}
	}
	return goja.Undefined()
}

func (api *responseAPI) haveJSONBody(call goja.FunctionCall) goja.Value {
	if !gjson.ValidBytes(api.resp.Body) {
		api.s.fail("expected response to have a JSON body")
		return goja.Undefined()
	}
	if len(call.Arguments) == 0 {
		return goja.Undefined()
	}
	path := call.Argument(0).String()
	res := gjson.GetBytes(api.resp.Body, path)
	if !res.Exists() {
		api.s.fail(fmt.Sprintf("expected response body to have path '%s'", path))
		return goja.Undefined()
	}
	if len(call.Arguments) < 2 {
		return goja.Undefined()
	}
	want, errW := normalize(call.Argument(1))
	got, errG := normalizeGo(res.Value())
	if errW != nil || errG != nil || !jsonEqual(got, want) {
		api.s.fail(fmt.Sprintf("expected '%s' to equal %s but got %s", path, inspect(call.Argument(1)), res.Raw))
	}
	return goja.Undefined()
}

func (api *responseAPI) haveJSONSchema(call goja.FunctionCall) goja.Value {
	schema := call.Argument(0)
	if goja.IsUndefined(schema) || goja.IsNull(schema) {
		api.s.fail("jsonSchema requires a schema")
		return goja.Undefined()
	}
	res, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema.Export()),
		gojsonschema.NewBytesLoader(api.resp.Body),
	)
	if err != nil {
		api.s.fail("schema validation: " + err.Error())
		return goja.Undefined()
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		api.s.fail("expected response to match schema: " + strings.Join(msgs, "; "))
	}
	return goja.Undefined()
}

func jsonEqual(a, b interface{}) bool {
	x, errX := json.Marshal(a)
	y, errY := json.Marshal(b)
	return errX == nil && errY == nil && string(x) == string(y)
}
