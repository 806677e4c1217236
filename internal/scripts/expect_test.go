package scripts

import (
	"context"
	"reflect"
	"testing"
)

func runExpect(t *testing.T, script string) Result {
	t.Helper()
	res := NewRunner(Options{}).RunPreRequest(context.Background(), PreRequestInput{Script: script})
	if res.Fatal != nil {
		t.Fatalf("unexpected fatal: %+v", res.Fatal)
	}
	return res
}

func TestExpectPassingChains(t *testing.T) {
	cases := map[string]string{
		"equal":      `expect(1).to.equal(1)`,
		"not equal":  `expect(1).to.not.equal(2)`,
		"eql":        `expect({a: [1, 2]}).to.eql({a: [1, 2]})`,
		"deep equal": `pm.expect({a: 1}).to.deep.equal({a: 1})`,
		"above":      `expect(5).to.be.above(4)`,
		"below":      `expect(3).to.be.below(4)`,
		"least":      `expect(4).to.be.at.least(4)`,
		"most":       `expect(4).to.be.at.most(4)`,
		"within":     `expect(4).to.be.within(1, 5)`,
		"include":    `expect("hello world").to.include("world")`,
		"array":      `expect([1, {b: 2}]).to.include({b: 2})`,
		"subset":     `expect({a: 1, b: 2}).to.include({a: 1})`,
		"type":       `expect("s").to.be.a("string"); expect([]).to.be.an("array"); expect(1).to.be.a("number")`,
		"match":      `expect("abc123").to.match(/\d+/)`,
		"property":   `expect({a: 1}).to.have.property("a", 1)`,
		"length":     `expect("abc").to.have.lengthOf(3)`,
		"oneOf":      `expect(2).to.be.oneOf([1, 2, 3])`,
		"flags":      `expect(1).to.be.ok; expect(true).to.be.true; expect(false).to.be.false; expect(null).to.be.null; expect(undefined).to.be.undefined; expect(0).to.exist; expect([]).to.be.empty; expect({}).to.be.empty`,
		"not flags":  `expect(1).to.not.be.null; expect("x").to.not.be.empty`,
	}
	for name, body := range cases {
		body := body
		t.Run(name, func(t *testing.T) {
			res := runExpect(t, `pm.test("case", function () { `+body+` });`)
			if len(res.Tests) != 1 {
				t.Fatalf("expected one test, got %d", len(res.Tests))
			}
			if !res.Tests[0].Passed {
				t.Fatalf("expected pass, got %q", res.Tests[0].Message)
			}
		})
	}
}

func TestExpectFailureMessages(t *testing.T) {
	cases := map[string]struct {
		body string
		msg  string
	}{
		"equal":    {`expect(200).to.equal(404)`, "expected 200 to equal 404"},
		"negated":  {`expect("a").to.not.equal("a")`, "expected 'a' to not equal 'a'"},
		"strict":   {`expect("1").to.equal(1)`, "expected '1' to equal 1"},
		"include":  {`expect([1, 2]).to.include(3)`, "expected [1,2] to include 3"},
		"property": {`expect({}).to.have.property("id")`, "expected {} to have property 'id'"},
	}
	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			res := runExpect(t, `pm.test("case", function () { `+tc.body+` });`)
			if len(res.Tests) != 1 {
				t.Fatalf("expected one test, got %d", len(res.Tests))
			}
			if res.Tests[0].Passed {
				t.Fatalf("expected failure")
			}
			if res.Tests[0].Message != tc.msg {
				t.Fatalf("expected message %q, got %q", tc.msg, res.Tests[0].Message)
			}
		})
	}
}

func TestExpectOutsideTestIsRecorded(t *testing.T) {
	res := runExpect(t, `expect(1).to.equal(2); console.log("after");`)
	if len(res.Tests) != 1 {
		t.Fatalf("expected one recorded assertion, got %d", len(res.Tests))
	}
	if res.Tests[0].Name != "expect" || res.Tests[0].Passed {
		t.Fatalf("unexpected result %+v", res.Tests[0])
	}
	if !reflect.DeepEqual(res.Console, []string{"after"}) {
		t.Fatalf("script should continue after a failed expect, console %v", res.Console)
	}
}
