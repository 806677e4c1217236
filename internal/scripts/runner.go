package scripts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"

	"github.com/unkn0wn-root/restrun/internal/restfile"
)

const DefaultTimeout = 2 * time.Second

type Phase string

const (
	PhasePreRequest Phase = "pre-request"
	PhaseTest       Phase = "test"
)

// Environment is the slice of the active environment scripts may touch.
// A nil Environment makes pm.environment a silent no-op.
type Environment interface {
	Lookup(name string) (string, bool)
	Store(ctx context.Context, name, value string) error
	Delete(ctx context.Context, name string) error
}

type Options struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

type Runner struct {
	timeout time.Duration
	log     *slog.Logger
}

func NewRunner(opts Options) *Runner {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Runner{timeout: timeout, log: log}
}

type Response struct {
	Status   string
	Code     int
	Header   http.Header
	Body     []byte
	Duration time.Duration
}

type PreRequestInput struct {
	Script  string
	Request restfile.Request
	Env     Environment
}

type TestInput struct {
	Script   string
	Request  restfile.Request
	Response *Response
	Env      Environment
}

type TestResult struct {
	Name    string        `json:"name"`
	Message string        `json:"error,omitempty"`
	Passed  bool          `json:"passed"`
	Elapsed time.Duration `json:"elapsed"`
}

// ScriptError is a fatal script failure: an uncaught exception, a syntax
// error or an exhausted budget. It is reported apart from failed tests.
type ScriptError struct {
	Phase   Phase
	Message string
	Timeout bool
}

func (e *ScriptError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s script: %s", e.Phase, e.Message)
}

type Result struct {
	Console []string
	Tests   []TestResult
	Fatal   *ScriptError
}

func (r Result) Passed() int {
	n := 0
	for _, t := range r.Tests {
		if t.Passed {
			n++
		}
	}
	return n
}

func (r Result) Failed() int {
	return len(r.Tests) - r.Passed()
}

func (r *Runner) RunPreRequest(ctx context.Context, input PreRequestInput) Result {
	return r.run(ctx, PhasePreRequest, input.Script, func(s *session) error {
		return s.bindPM(input.Request, nil, input.Env)
	})
}

func (r *Runner) RunTest(ctx context.Context, input TestInput) Result {
	return r.run(ctx, PhaseTest, input.Script, func(s *session) error {
		return s.bindPM(input.Request, input.Response, input.Env)
	})
}

var errTimeout = errors.New("timeout")

func (r *Runner) run(
	ctx context.Context,
	phase Phase,
	script string,
	bind func(*session) error,
) (result Result) {
	script = strings.TrimSpace(script)
	if script == "" {
		return Result{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s := newSession(ctx, goja.New())
	defer func() {
		if rec := recover(); rec != nil {
			result = s.result()
			result.Fatal = &ScriptError{Phase: phase, Message: fmt.Sprintf("panic: %v", rec)}
		}
	}()

	if err := ctx.Err(); err != nil {
		result = s.result()
		result.Fatal = &ScriptError{Phase: phase, Message: "cancelled: " + err.Error()}
		return result
	}
	if err := bind(s); err != nil {
		result = s.result()
		result.Fatal = &ScriptError{Phase: phase, Message: err.Error()}
		return result
	}

	timer := time.AfterFunc(r.timeout, func() {
		s.timedOut.Store(true)
		s.vm.Interrupt(errTimeout)
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() {
		s.vm.Interrupt(ctx.Err())
	})
	defer stop()

	_, err := s.vm.RunString(script)
	result = s.result()
	if err == nil {
		return result
	}

	var interrupted *goja.InterruptedError
	switch {
	case errors.As(err, &interrupted) && s.timedOut.Load():
		result.Fatal = &ScriptError{Phase: phase, Message: "timeout", Timeout: true}
		r.log.Warn("script budget exhausted", "phase", phase, "budget", r.timeout)
	case errors.As(err, &interrupted):
		result.Fatal = &ScriptError{Phase: phase, Message: "cancelled"}
	default:
		result.Fatal = &ScriptError{Phase: phase, Message: exceptionMessage(err)}
		r.log.Debug("script failed", "phase", phase, "error", result.Fatal.Message)
	}
	return result
}

type session struct {
	ctx      context.Context
	vm       *goja.Runtime
	console  []string
	tests    []TestResult
	depth    int
	timedOut atomic.Bool
}

func newSession(ctx context.Context, vm *goja.Runtime) *session {
	return &session{ctx: ctx, vm: vm}
}

func (s *session) result() Result {
	return Result{
		Console: append([]string(nil), s.console...),
		Tests:   append([]TestResult(nil), s.tests...),
	}
}

func (s *session) logf(format string, args ...any) {
	s.console = append(s.console, fmt.Sprintf(format, args...))
}

// namedTest runs fn synchronously. A throw marks only this test failed.
func (s *session) namedTest(call goja.FunctionCall) goja.Value {
	name := strings.TrimSpace(call.Argument(0).String())
	if goja.IsUndefined(call.Argument(0)) || name == "" {
		name = "unnamed test"
	}
	fn, ok := goja.AssertFunction(call.Argument(1))
	if !ok {
		s.tests = append(s.tests, TestResult{
			Name:    name,
			Message: "pm.test requires a function argument",
		})
		return goja.Undefined()
	}

	start := time.Now()
	passed := true
	message := ""
	interrupted := false

	defer func() {
		s.depth--
		if rec := recover(); rec != nil {
			passed = false
			message = fmt.Sprintf("panic: %v", rec)
		}
		if interrupted {
			return
		}
		s.tests = append(s.tests, TestResult{
			Name:    name,
			Message: message,
			Passed:  passed,
			Elapsed: time.Since(start),
		})
	}()

	s.depth++
	if _, err := fn(goja.Undefined()); err != nil {
		var ie *goja.InterruptedError
		if errors.As(err, &ie) {
			// the runtime clears the flag once raised; raise it again so the
			// rest of the script stops too
			interrupted = true
			s.vm.Interrupt(ie.Value())
			return goja.Undefined()
		}
		passed = false
		message = exceptionMessage(err)
	}
	return goja.Undefined()
}

// fail throws inside pm.test and records a failed test elsewhere.
func (s *session) fail(msg string) {
	if s.depth > 0 {
		panic(s.assertionError(msg))
	}
	s.tests = append(s.tests, TestResult{Name: "expect", Message: msg})
}

func (s *session) assertionError(msg string) goja.Value {
	obj, err := s.vm.New(s.vm.Get("Error"), s.vm.ToValue(msg))
	if err != nil {
		return s.vm.ToValue(msg)
	}
	_ = obj.Set("name", "AssertionError")
	return obj
}

func exceptionMessage(err error) string {
	var exc *goja.Exception
	if !errors.As(err, &exc) {
		return err.Error()
	}
	val := exc.Value()
	if obj, ok := val.(*goja.Object); ok {
		msg := obj.Get("message")
		if msg != nil && !goja.IsUndefined(msg) {
			name := ""
			if n := obj.Get("name"); n != nil && !goja.IsUndefined(n) {
				name = n.String()
			}
			if name == "" || name == "Error" || name == "AssertionError" {
				return msg.String()
			}
			return name + ": " + msg.String()
		}
	}
	if val != nil {
		return val.String()
	}
	return err.Error()
}
