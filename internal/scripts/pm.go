package scripts

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dop251/goja"

	"github.com/unkn0wn-root/restrun/internal/restfile"
)

// bindPM installs the only globals a script can see: pm, expect and console.
func (s *session) bindPM(req restfile.Request, resp *Response, env Environment) error {
	pm := s.vm.NewObject()
	if err := pm.Set("environment", s.environmentAPI(env)); err != nil {
		return err
	}
	if err := pm.Set("variables", s.variablesAPI(env)); err != nil {
		return err
	}
	reqObj, err := s.requestAPI(req)
	if err != nil {
		return err
	}
	if err := pm.Set("request", reqObj); err != nil {
		return err
	}
	if resp != nil {
		respObj, err := newResponseAPI(s, resp).object()
		if err != nil {
			return err
		}
		if err := pm.Set("response", respObj); err != nil {
			return err
		}
	}
	if err := pm.Set("test", s.namedTest); err != nil {
		return err
	}
	if err := pm.Set("expect", s.expect); err != nil {
		return err
	}
	if err := s.vm.Set("pm", pm); err != nil {
		return err
	}
	if err := s.vm.Set("expect", s.expect); err != nil {
		return err
	}
	return s.vm.Set("console", s.consoleAPI())
}

func (s *session) environmentAPI(env Environment) map[string]interface{} {
	return map[string]interface{}{
		"get": func(name string) goja.Value {
			if env == nil {
				return goja.Undefined()
			}
			v, ok := env.Lookup(name)
			if !ok {
				return goja.Undefined()
			}
			return s.vm.ToValue(v)
		},
		"has": func(name string) bool {
			if env == nil {
				return false
			}
			_, ok := env.Lookup(name)
			return ok
		},
		"set": func(call goja.FunctionCall) goja.Value {
			if env == nil || len(call.Arguments) == 0 {
				return goja.Undefined()
			}
			name := call.Argument(0).String()
			value := stringify(call.Argument(1))
			if err := env.Store(s.ctx, name, value); err != nil {
				s.logf("[warn] environment: %v", err)
			}
			return goja.Undefined()
		},
		"unset": func(name string) {
			if env == nil {
				return
			}
			if err := env.Delete(s.ctx, name); err != nil {
				s.logf("[warn] environment: %v", err)
			}
		},
	}
}

func (s *session) variablesAPI(env Environment) map[string]interface{} {
	local := make(map[string]string)
	return map[string]interface{}{
		"get": func(name string) goja.Value {
			if v, ok := local[name]; ok {
				return s.vm.ToValue(v)
			}
			if env != nil {
				if v, ok := env.Lookup(name); ok {
					return s.vm.ToValue(v)
				}
			}
			return goja.Undefined()
		},
		"set": func(call goja.FunctionCall) goja.Value {
			local[call.Argument(0).String()] = stringify(call.Argument(1))
			return goja.Undefined()
		},
		"has": func(name string) bool {
			if _, ok := local[name]; ok {
				return true
			}
			if env != nil {
				_, ok := env.Lookup(name)
				return ok
			}
			return false
		},
	}
}

// requestAPI exposes the dispatched request as read only data.
func (s *session) requestAPI(req restfile.Request) (*goja.Object, error) {
	headers := s.vm.NewObject()
	for _, h := range restfile.EnabledValues(req.Headers) {
		if err := readOnly(headers, h.Key, s.vm.ToValue(h.Value)); err != nil {
			return nil, err
		}
	}
	body := ""
	if req.Body != nil {
		body = req.Body.Content
	}
	obj := s.vm.NewObject()
	fields := map[string]goja.Value{
		"id":      s.vm.ToValue(req.ID),
		"name":    s.vm.ToValue(req.Name),
		"method":  s.vm.ToValue(strings.ToUpper(req.Method)),
		"url":     s.vm.ToValue(req.URL),
		"body":    s.vm.ToValue(body),
		"headers": headers,
	}
	for k, v := range fields {
		if err := readOnly(obj, k, v); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func readOnly(obj *goja.Object, name string, value goja.Value) error {
	return obj.DefineDataProperty(name, value, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE)
}

func (s *session) consoleAPI() map[string]interface{} {
	line := func(prefix string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, stringify(arg))
			}
			s.console = append(s.console, prefix+strings.Join(parts, " "))
			return goja.Undefined()
		}
	}
	return map[string]interface{}{
		"log":   line(""),
		"info":  line(""),
		"warn":  line("[warn] "),
		"error": line("[error] "),
	}
}

// stringify renders strings raw and everything else as JSON when possible.
func stringify(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if _, ok := v.Export().(string); ok {
		return v.String()
	}
	if _, ok := v.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(v); !isFn {
			if data, err := json.Marshal(v.Export()); err == nil {
				return string(data)
			}
		}
	}
	return v.String()
}

func headerMap(h http.Header) map[string]interface{} {
	out := make(map[string]interface{}, len(h))
	for name, values := range h {
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return out
}
