package scripts

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/unkn0wn-root/restrun/internal/restfile"
	"github.com/unkn0wn-root/restrun/internal/vars"
)

func newEnv(values map[string]string) *vars.Active {
	active := vars.NewActive(nil)
	active.Activate(restfile.Environment{ID: "e1", Name: "dev", Variables: values})
	return active
}

func jsonResponse(code int, body string) *Response {
	return &Response{
		Status:   http.StatusText(code),
		Code:     code,
		Header:   http.Header{"Content-Type": {"application/json"}},
		Body:     []byte(body),
		Duration: 12 * time.Millisecond,
	}
}

func expectNoFatal(t *testing.T, res Result) {
	t.Helper()
	if res.Fatal != nil {
		t.Fatalf("unexpected fatal: %+v", res.Fatal)
	}
}

func expectFatal(t *testing.T, res Result) *ScriptError {
	t.Helper()
	if res.Fatal == nil {
		t.Fatalf("expected a fatal script error")
	}
	return res.Fatal
}

func expectConsole(t *testing.T, res Result, want ...string) {
	t.Helper()
	if !reflect.DeepEqual(res.Console, want) {
		t.Fatalf("expected console %q, got %q", want, res.Console)
	}
}

func expectTests(t *testing.T, res Result, n int) {
	t.Helper()
	if len(res.Tests) != n {
		t.Fatalf("expected %d tests, got %d: %+v", n, len(res.Tests), res.Tests)
	}
}

func TestEmptyScriptSkipsSandbox(t *testing.T) {
	res := NewRunner(Options{}).RunPreRequest(context.Background(), PreRequestInput{Script: "   "})
	expectNoFatal(t, res)
	if len(res.Tests) != 0 || len(res.Console) != 0 {
		t.Fatalf("expected nothing recorded, got %+v", res)
	}
}

func TestPreRequestWritesThroughEnvironment(t *testing.T) {
	env := newEnv(map[string]string{"seed": "1"})
	res := NewRunner(Options{}).RunPreRequest(context.Background(), PreRequestInput{
		Script: `pm.environment.set("token", "abc"); console.log(pm.environment.get("seed"));`,
		Env:    env,
	})

	expectNoFatal(t, res)
	if v, ok := env.Lookup("token"); !ok || v != "abc" {
		t.Fatalf("expected token=abc, got %q (ok %v)", v, ok)
	}
	expectConsole(t, res, "1")
}

func TestEnvironmentWithoutActiveIsNoop(t *testing.T) {
	res := NewRunner(Options{}).RunPreRequest(context.Background(), PreRequestInput{
		Script: `pm.environment.set("k", "v"); console.log(String(pm.environment.get("k")));`,
		Env:    vars.NewActive(nil),
	})
	expectNoFatal(t, res)
	expectConsole(t, res, "undefined")
}

func TestEnvironmentPersistFailureBecomesConsoleNote(t *testing.T) {
	active := vars.NewActive(failingSink{})
	active.Activate(restfile.Environment{Name: "dev"})

	res := NewRunner(Options{}).RunPreRequest(context.Background(), PreRequestInput{
		Script: `pm.environment.set("k", "v");`,
		Env:    active,
	})
	expectNoFatal(t, res)
	if len(res.Console) != 1 || !strings.Contains(res.Console[0], "disk full") {
		t.Fatalf("expected a console note about the persist failure, got %q", res.Console)
	}
}

type failingSink struct{}

func (failingSink) SaveEnvironment(context.Context, restfile.Environment) error {
	return errors.New("disk full")
}

func TestFailingTestDoesNotStopLaterTests(t *testing.T) {
	script := `
pm.test("a", function () { throw new Error("x"); });
pm.test("b", function () {});
`
	res := NewRunner(Options{}).RunTest(context.Background(), TestInput{
		Script:   script,
		Response: jsonResponse(200, `{}`),
	})

	expectNoFatal(t, res)
	expectTests(t, res, 2)
	if a := res.Tests[0]; a.Name != "a" || a.Passed || a.Message != "x" {
		t.Fatalf("unexpected first test %+v", a)
	}
	if b := res.Tests[1]; b.Name != "b" || !b.Passed {
		t.Fatalf("unexpected second test %+v", b)
	}
	if res.Passed() != 1 || res.Failed() != 1 {
		t.Fatalf("expected 1 passed 1 failed, got %d/%d", res.Passed(), res.Failed())
	}
}

func TestUncaughtExceptionIsFatal(t *testing.T) {
	res := NewRunner(Options{}).RunTest(context.Background(), TestInput{
		Script:   `pm.test("first", function () {}); null.boom;`,
		Response: jsonResponse(200, `{}`),
	})
	fatal := expectFatal(t, res)
	if fatal.Timeout || fatal.Phase != PhaseTest {
		t.Fatalf("unexpected fatal %+v", fatal)
	}
	if !strings.Contains(fatal.Message, "TypeError") {
		t.Fatalf("expected TypeError, got %q", fatal.Message)
	}
	expectTests(t, res, 1)
	if !res.Tests[0].Passed {
		t.Fatalf("earlier test should be kept as passed")
	}
}

func TestSyntaxErrorIsFatal(t *testing.T) {
	res := NewRunner(Options{}).RunPreRequest(context.Background(), PreRequestInput{Script: `pm.test(`})
	if fatal := expectFatal(t, res); fatal.Phase != PhasePreRequest {
		t.Fatalf("expected pre-request phase, got %s", fatal.Phase)
	}
}

func TestTimeoutKeepsEarlierTests(t *testing.T) {
	script := `
pm.test("quick", function () { pm.expect(1).to.equal(1); });
while (true) {}
`
	res := NewRunner(Options{Timeout: 50 * time.Millisecond}).RunTest(context.Background(), TestInput{
		Script:   script,
		Response: jsonResponse(200, `{}`),
	})

	if fatal := expectFatal(t, res); !fatal.Timeout || fatal.Message != "timeout" {
		t.Fatalf("expected a timeout, got %+v", fatal)
	}
	expectTests(t, res, 1)
	if res.Tests[0].Name != "quick" || !res.Tests[0].Passed {
		t.Fatalf("unexpected test %+v", res.Tests[0])
	}
}

func TestTimeoutInsideTestStopsScript(t *testing.T) {
	script := `
pm.test("quick", function () {});
pm.test("spin", function () { while (true) {} });
pm.test("never", function () {});
`
	res := NewRunner(Options{Timeout: 50 * time.Millisecond}).RunTest(context.Background(), TestInput{
		Script:   script,
		Response: jsonResponse(200, `{}`),
	})

	if fatal := expectFatal(t, res); !fatal.Timeout {
		t.Fatalf("expected a timeout, got %+v", fatal)
	}
	expectTests(t, res, 1)
	if res.Tests[0].Name != "quick" {
		t.Fatalf("unexpected test %+v", res.Tests[0])
	}
}

func TestCancelledContextInterruptsScript(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res := NewRunner(Options{Timeout: 5 * time.Second}).RunPreRequest(ctx, PreRequestInput{
		Script: `while (true) {}`,
	})
	if fatal := expectFatal(t, res); fatal.Timeout || fatal.Message != "cancelled" {
		t.Fatalf("expected cancellation, got %+v", fatal)
	}
}

func TestSandboxHasNoRequire(t *testing.T) {
	res := NewRunner(Options{}).RunPreRequest(context.Background(), PreRequestInput{
		Script: `console.log(typeof require, typeof process, typeof pm.response);`,
	})
	expectNoFatal(t, res)
	expectConsole(t, res, "undefined undefined undefined")
}

func TestRequestSnapshotIsReadOnly(t *testing.T) {
	req := restfile.Request{
		ID:     "r1",
		Name:   "users",
		Method: "get",
		URL:    "https://api/users",
		Headers: []restfile.KeyValue{
			{Key: "Accept", Value: "application/json", Enabled: true},
			{Key: "X-Off", Value: "1", Enabled: false},
		},
	}
	res := NewRunner(Options{}).RunPreRequest(context.Background(), PreRequestInput{
		Script: `
pm.request.url = "changed";
console.log(pm.request.method, pm.request.url, pm.request.headers["Accept"], String(pm.request.headers["X-Off"]));
`,
		Request: req,
	})
	expectNoFatal(t, res)
	expectConsole(t, res, "GET https://api/users application/json undefined")
}

func TestResponseAccessors(t *testing.T) {
	script := `
pm.test("status", function () {
  pm.expect(pm.response.code).to.equal(201);
  pm.expect(pm.response.status).to.equal("Created");
  pm.expect(pm.response.headers.get("content-type")).to.include("json");
  pm.expect(pm.response.responseTime).to.equal(12);
});
pm.test("body", function () {
  var body = pm.response.json();
  pm.expect(body.user.name).to.equal("ann");
  pm.expect(body.tags).to.have.lengthOf(2);
  pm.expect(body).to.have.property("user");
  pm.expect(pm.response.json()).to.equal(body);
});
`
	res := NewRunner(Options{}).RunTest(context.Background(), TestInput{
		Script:   script,
		Response: jsonResponse(201, `{"user":{"name":"ann"},"tags":["a","b"]}`),
	})
	expectNoFatal(t, res)
	expectTests(t, res, 2)
	for _, tr := range res.Tests {
		if !tr.Passed {
			t.Fatalf("%s: %s", tr.Name, tr.Message)
		}
	}
}

func TestResponseJSONParseErrorGoesToConsole(t *testing.T) {
	res := NewRunner(Options{}).RunTest(context.Background(), TestInput{
		Script:   `console.log(String(pm.response.json())); pm.response.json();`,
		Response: jsonResponse(200, `not json`),
	})
	expectNoFatal(t, res)
	if len(res.Console) != 2 {
		t.Fatalf("expected two console lines, got %q", res.Console)
	}
	if !strings.Contains(res.Console[0], "ParseError") || res.Console[1] != "undefined" {
		t.Fatalf("unexpected console %q", res.Console)
	}
}

func TestResponseToHave(t *testing.T) {
	script := `
pm.test("status", function () { pm.response.to.have.status(200); });
pm.test("wrong status", function () { pm.response.to.have.status(404); });
pm.test("header", function () { pm.response.to.have.header("Content-Type", "application/json"); });
pm.test("path", function () { pm.response.to.have.jsonBody("items.#", 2); });
pm.test("schema", function () {
  pm.response.to.have.jsonSchema({
    type: "object",
    required: ["items"],
    properties: { items: { type: "array" } }
  });
});
pm.test("ok", function () { pm.response.to.be.ok; });
`
	res := NewRunner(Options{}).RunTest(context.Background(), TestInput{
		Script:   script,
		Response: jsonResponse(200, `{"items":[1,2]}`),
	})
	expectNoFatal(t, res)
	expectTests(t, res, 6)
	for _, tr := range res.Tests {
		wantPass := tr.Name != "wrong status"
		if tr.Passed != wantPass {
			t.Fatalf("%s: passed=%v, want %v (%s)", tr.Name, tr.Passed, wantPass, tr.Message)
		}
		if !wantPass && !strings.Contains(tr.Message, "404") {
			t.Fatalf("%s: expected message to mention 404, got %q", tr.Name, tr.Message)
		}
	}
}

func TestVariablesFallBackToEnvironment(t *testing.T) {
	env := newEnv(map[string]string{"base": "https://api"})
	res := NewRunner(Options{}).RunPreRequest(context.Background(), PreRequestInput{
		Script: `pm.variables.set("local", 1); console.log(pm.variables.get("local"), pm.variables.get("base"));`,
		Env:    env,
	})
	expectNoFatal(t, res)
	expectConsole(t, res, "1 https://api")
	if _, ok := env.Lookup("local"); ok {
		t.Fatalf("pm.variables must not write to the environment")
	}
}

func TestConsoleNeverThrows(t *testing.T) {
	res := NewRunner(Options{}).RunPreRequest(context.Background(), PreRequestInput{
		Script: `console.log({a: 1}, [1, 2], null, undefined); console.warn("w"); console.error("e");`,
	})
	expectNoFatal(t, res)
	expectConsole(t, res, `{"a":1} [1,2] null undefined`, "[warn] w", "[error] e")
}
