package jseng

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/atlanticdynamic/mcpverify/internal/script"
	"github.com/atlanticdynamic/mcpverify/internal/script/hostcap"
	"github.com/atlanticdynamic/mcpverify/internal/script/logcapture"
	"github.com/dop251/goja"
)

// sandbox is one hardened runtime. It is built for a single execution and
// dropped afterwards.
type sandbox struct {
	ctx       context.Context
	vm        *goja.Runtime
	buf       *logcapture.Buffer
	guard     *hostcap.Guard
	parse     goja.Callable
	stringify goja.Callable
	freeze    goja.Callable
}

func newSandbox(ctx context.Context, maxCallStack int, buf *logcapture.Buffer, guard *hostcap.Guard) (*sandbox, error) {
	vm := goja.New()
	vm.SetMaxCallStackSize(maxCallStack)

	jsonObj := vm.Get("JSON").ToObject(vm)
	parse, ok := goja.AssertFunction(jsonObj.Get("parse"))
	if !ok {
		return nil, fmt.Errorf("JSON.parse is not callable")
	}
	stringify, ok := goja.AssertFunction(jsonObj.Get("stringify"))
	if !ok {
		return nil, fmt.Errorf("JSON.stringify is not callable")
	}

	s := &sandbox{ctx: ctx, vm: vm, buf: buf, guard: guard, parse: parse, stringify: stringify}

	installer, err := vm.RunProgram(preludeProgram)
	if err != nil {
		return nil, fmt.Errorf("prelude: %w", err)
	}
	install, ok := goja.AssertFunction(installer)
	if !ok {
		return nil, fmt.Errorf("prelude did not return an installer")
	}
	freezeVal, err := install(goja.Undefined(), vm.ToValue(s.denyCallback))
	if err != nil {
		return nil, fmt.Errorf("install sandbox: %w", err)
	}
	if s.freeze, ok = goja.AssertFunction(freezeVal); !ok {
		return nil, fmt.Errorf("prelude did not return a freeze helper")
	}
	return s, nil
}

// throw raises a JavaScript Error carrying msg.
func (s *sandbox) throw(msg string) {
	obj, err := s.vm.New(s.vm.Get("Error"), s.vm.ToValue(msg))
	if err != nil {
		panic(s.vm.NewGoError(fmt.Errorf("%s", msg)))
	}
	panic(obj)
}

func (s *sandbox) denyCallback(call goja.FunctionCall) goja.Value {
	op := call.Argument(0).String()
	panic(s.vm.NewTypeError(s.guard.Deny(op).Error()))
}

func (s *sandbox) deny(op string) func(goja.FunctionCall) goja.Value {
	return func(goja.FunctionCall) goja.Value {
		panic(s.vm.NewTypeError(s.guard.Deny(op).Error()))
	}
}

// toJS decodes a JSON value into a frozen native object.
func (s *sandbox) toJS(v any) (goja.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	val, err := s.parse(goja.Undefined(), s.vm.ToValue(string(data)))
	if err != nil {
		return nil, err
	}
	return s.freeze(goja.Undefined(), val)
}

// fromJS normalizes a completion value through JSON.stringify, so the
// output matches what a JavaScript consumer would serialize.
func (s *sandbox) fromJS(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	encoded, err := s.stringify(goja.Undefined(), v)
	if err != nil {
		return nil, err
	}
	if goja.IsUndefined(encoded) {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal([]byte(encoded.String()), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sandbox) format(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(obj); !isFn {
			if encoded, err := s.stringify(goja.Undefined(), obj); err == nil && !goja.IsUndefined(encoded) {
				return encoded.String()
			}
		}
	}
	return v.String()
}

func (s *sandbox) join(args []goja.Value, sep string) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, s.format(arg))
	}
	return strings.Join(parts, sep)
}

// bind installs the script-facing globals for sctx.
func (s *sandbox) bind(sctx *script.Context) error {
	vm := s.vm
	request, err := s.toJS(sctx.Request)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	response, err := s.toJS(sctx.Response)
	if err != nil {
		return fmt.Errorf("response: %w", err)
	}
	metadata, err := s.toJS(sctx.MetadataMap())
	if err != nil {
		return fmt.Errorf("metadata: %w", err)
	}

	logFn := func(level string, message goja.Value) {
		s.buf.Capture(script.ParseLogLevel(level), s.format(message))
	}
	assertFn := func(call goja.FunctionCall) goja.Value {
		if !call.Argument(0).ToBoolean() {
			msg := "expectation failed"
			if len(call.Arguments) > 1 {
				msg = s.format(call.Argument(1))
			}
			s.throw("assertion failed: " + msg)
		}
		return s.vm.ToValue(true)
	}

	contextObj := vm.NewObject()
	for name, value := range map[string]any{
		"request":  request,
		"response": response,
		"metadata": metadata,
		"log":      logFn,
		"assert":   assertFn,
		"expect":   assertFn,
	} {
		if err := contextObj.Set(name, value); err != nil {
			return err
		}
	}

	console := vm.NewObject()
	for name, level := range map[string]script.LogLevel{
		"log":   script.LevelInfo,
		"info":  script.LevelInfo,
		"debug": script.LevelDebug,
		"warn":  script.LevelWarn,
		"error": script.LevelError,
	} {
		if err := console.Set(name, func(call goja.FunctionCall) goja.Value {
			s.buf.Capture(level, s.join(call.Arguments, " "))
			return goja.Undefined()
		}); err != nil {
			return err
		}
	}

	globals := map[string]any{
		"context":  contextObj,
		"request":  request,
		"response": response,
		"metadata": metadata,
		"log":      logFn,
		"assert":   assertFn,
		"expect":   assertFn,
		"console":  console,
		"print": func(call goja.FunctionCall) goja.Value {
			s.buf.Capture(script.LevelInfo, s.join(call.Arguments, "\t"))
			return goja.Undefined()
		},
		"fs":   s.fsObject(),
		"http": s.httpObject(),
	}
	for name, value := range globals {
		if err := vm.Set(name, value); err != nil {
			return fmt.Errorf("bind %s: %w", name, err)
		}
	}
	if _, err := s.freeze(goja.Undefined(), contextObj); err != nil {
		return err
	}
	return nil
}

func (s *sandbox) fsObject() *goja.Object {
	obj := s.vm.NewObject()
	if !s.guard.FilesystemAllowed() {
		_ = obj.Set("readFile", s.deny(hostcap.OpFileRead))
		_ = obj.Set("writeFile", s.deny(hostcap.OpFileWrite))
		_ = obj.Set("exists", s.deny(hostcap.OpFileExists))
		return obj
	}
	_ = obj.Set("readFile", func(path string) string {
		content, err := s.guard.ReadFile(path)
		if err != nil {
			s.throw(err.Error())
		}
		return content
	})
	_ = obj.Set("writeFile", func(path, content string) {
		if err := s.guard.WriteFile(path, content); err != nil {
			s.throw(err.Error())
		}
	})
	_ = obj.Set("exists", func(path string) bool {
		ok, err := s.guard.Exists(path)
		if err != nil {
			s.throw(err.Error())
		}
		return ok
	})
	return obj
}

func (s *sandbox) httpObject() *goja.Object {
	obj := s.vm.NewObject()
	if !s.guard.NetworkAllowed() {
		_ = obj.Set("get", s.deny(hostcap.OpHTTPGet))
		return obj
	}
	_ = obj.Set("get", func(url string) map[string]any {
		resp, err := s.guard.HTTPGet(s.ctx, url)
		if err != nil {
			s.throw(err.Error())
		}
		return map[string]any{
			"status": resp.Status,
			"body":   resp.Body,
			"ok":     resp.Status >= 200 && resp.Status < 300,
		}
	})
	return obj
}
