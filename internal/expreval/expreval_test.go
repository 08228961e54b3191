package expreval

import (
	"errors"
	"strings"
	"testing"

	"github.com/pipe01/koreander/internal/renderer"
)

type user struct {
	Name  string
	Age   int
	inner int
}

func (u user) Greeting() string {
	return "Hello " + u.Name
}

func assert[T comparable](t *testing.T, expected, got T, msg string) {
	t.Helper()

	if got != expected {
		t.Fatalf("%s: expected %v, got %v", msg, expected, got)
	}
}

func TestBind(t *testing.T) {
	e := New()

	u := user{Name: "Ann", Age: 30, inner: 1}
	env := e.Bind(u)

	assert(t, "Ann", env["Name"].(string), "field")
	assert(t, u, env[ThisName].(user), "this")

	if _, ok := env["inner"]; ok {
		t.Fatal("unexported field bound")
	}

	v, err := e.Evaluate("Greeting()", env)
	if err != nil {
		t.Fatal(err)
	}
	assert(t, "Hello Ann", v.(string), "method")

	v, err = e.Evaluate("this.Age + 1", env)
	if err != nil {
		t.Fatal(err)
	}
	assert(t, 31, v.(int), "this field")

	env = e.Bind(map[string]any{"x": 2})
	v, err = e.Evaluate("x * 3", env)
	if err != nil {
		t.Fatal(err)
	}
	assert(t, 6, v.(int), "map key")

	env = e.Bind("str")
	assert(t, "str", env[ThisName].(string), "scalar this")
}

func TestEvaluate(t *testing.T) {
	e := New()
	env := renderer.Env{"a": 1, "s": "x"}

	v, err := e.Evaluate("a + 1", env)
	if err != nil {
		t.Fatal(err)
	}
	assert(t, 2, v.(int), "sum")

	v, err = e.Evaluate("missing", env)
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Fatalf("expected nil for undefined name, got %v", v)
	}

	var cerr *CompileError
	if _, err := e.Evaluate("a +", env); !errors.As(err, &cerr) {
		t.Fatalf("expected compile error, got %v", err)
	}

	if err := e.Prepare("  "); !errors.Is(err, ErrEmptyExpression) {
		t.Fatalf("expected empty expression error, got %v", err)
	}
}

func TestCache(t *testing.T) {
	e := New()

	if err := e.Prepare("1 + 2"); err != nil {
		t.Fatal(err)
	}

	first, _ := e.programs.Load("1 + 2")

	if _, err := e.Evaluate(" 1 + 2 ", nil); err != nil {
		t.Fatal(err)
	}

	second, _ := e.programs.Load("1 + 2")
	if first != second {
		t.Fatal("program compiled twice")
	}
}

func runScope(t *testing.T, e *Evaluator, source string, vars []string, env renderer.Env, prior renderer.Outcome) (renderer.Outcome, []string) {
	t.Helper()

	var runs []string

	outcome, err := e.Scope(renderer.Scope{Source: source, Vars: vars}, env, prior, func(env renderer.Env) error {
		var parts []string
		for _, v := range vars {
			parts = append(parts, renderer.Stringify(env[v]))
		}
		runs = append(runs, strings.Join(parts, ":"))
		return nil
	})
	if err != nil {
		t.Fatalf("%s: %v", source, err)
	}

	return outcome, runs
}

func TestConditionals(t *testing.T) {
	e := New()
	env := renderer.Env{"yes": true, "no": false, "n": 0}

	cases := []struct {
		source  string
		prior   renderer.Outcome
		outcome renderer.Outcome
		entered bool
	}{
		{"if yes", renderer.OutcomeNone, renderer.OutcomeEntered, true},
		{"if no", renderer.OutcomeNone, renderer.OutcomeSkipped, false},
		{"if(yes)", renderer.OutcomeNone, renderer.OutcomeEntered, true},
		{"unless no", renderer.OutcomeNone, renderer.OutcomeEntered, true},
		{"unless yes", renderer.OutcomeNone, renderer.OutcomeSkipped, false},
		{"else if yes", renderer.OutcomeSkipped, renderer.OutcomeEntered, true},
		{"else if yes", renderer.OutcomeEntered, renderer.OutcomeEntered, false},
		{"else if no", renderer.OutcomeSkipped, renderer.OutcomeSkipped, false},
		{"else", renderer.OutcomeSkipped, renderer.OutcomeEntered, true},
		{"else", renderer.OutcomeEntered, renderer.OutcomeEntered, false},
		{"n", renderer.OutcomeNone, renderer.OutcomeSkipped, false},
		{"yes", renderer.OutcomeNone, renderer.OutcomeEntered, true},
		{"iffy", renderer.OutcomeNone, renderer.OutcomeSkipped, false},
	}

	for _, c := range cases {
		outcome, runs := runScope(t, e, c.source, nil, env, c.prior)

		assert(t, c.outcome, outcome, c.source+" outcome")
		assert(t, c.entered, len(runs) == 1, c.source+" entered")
	}

	_, err := e.Scope(renderer.Scope{Source: "else"}, env, renderer.OutcomeNone, func(renderer.Env) error { return nil })
	if !errors.Is(err, ErrElseWithoutIf) {
		t.Fatalf("expected else without if error, got %v", err)
	}
}

func TestIteration(t *testing.T) {
	e := New()
	env := renderer.Env{
		"list":  []string{"a", "b"},
		"empty": []int{},
		"m":     map[string]int{"y": 2, "x": 1},
		"n":     3,
		"s":     "hé",
	}

	cases := []struct {
		source  string
		vars    []string
		runs    string
		outcome renderer.Outcome
	}{
		{"list", []string{"item"}, "a,b", renderer.OutcomeEntered},
		{"list", []string{"i", "item"}, "0:a,1:b", renderer.OutcomeEntered},
		{"empty", []string{"item"}, "", renderer.OutcomeSkipped},
		{"m", []string{"v"}, "1,2", renderer.OutcomeEntered},
		{"m", []string{"k", "v"}, "x:1,y:2", renderer.OutcomeEntered},
		{"n", []string{"i"}, "0,1,2", renderer.OutcomeEntered},
		{"s", []string{"c"}, "h,é", renderer.OutcomeEntered},
		{"missing", []string{"x"}, "", renderer.OutcomeSkipped},
	}

	for _, c := range cases {
		outcome, runs := runScope(t, e, c.source, c.vars, env, renderer.OutcomeNone)

		assert(t, c.outcome, outcome, c.source+" outcome")
		assert(t, c.runs, strings.Join(runs, ","), c.source+" runs")
	}

	body := func(renderer.Env) error { return nil }

	var nerr *NotIterableError
	if _, err := e.Scope(renderer.Scope{Source: "true", Vars: []string{"x"}}, env, renderer.OutcomeNone, body); !errors.As(err, &nerr) {
		t.Fatalf("expected not iterable error, got %v", err)
	}

	if _, err := e.Scope(renderer.Scope{Source: "list", Vars: []string{"a", "b", "c"}}, env, renderer.OutcomeNone, body); !errors.Is(err, ErrTooManyVars) {
		t.Fatalf("expected too many vars error, got %v", err)
	}
}

func TestIterationDoesNotLeak(t *testing.T) {
	e := New()
	env := renderer.Env{"list": []int{1}}

	_, err := e.Scope(renderer.Scope{Source: "list", Vars: []string{"item"}}, env, renderer.OutcomeNone, func(env renderer.Env) error {
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := env["item"]; ok {
		t.Fatal("loop variable leaked into parent environment")
	}
}

func TestBodyErrorStops(t *testing.T) {
	e := New()
	stop := errors.New("stop")
	calls := 0

	_, err := e.Scope(renderer.Scope{Source: "[1, 2, 3]", Vars: []string{"x"}}, nil, renderer.OutcomeNone, func(renderer.Env) error {
		calls++
		return stop
	})

	assert(t, stop, err, "error")
	assert(t, 1, calls, "calls")
}

func TestTruthy(t *testing.T) {
	var nilPtr *user

	cases := []struct {
		val  any
		want bool
	}{
		{nil, false},
		{false, false},
		{true, true},
		{0, false},
		{1.5, true},
		{"", false},
		{"a", true},
		{[]int{}, false},
		{map[string]int{"a": 1}, true},
		{nilPtr, false},
		{user{}, true},
	}

	for _, c := range cases {
		assert(t, c.want, Truthy(c.val), renderer.Stringify(c.val))
	}
}
