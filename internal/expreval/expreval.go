// Package expreval evaluates template expressions with expr-lang.
package expreval

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/pipe01/koreander/internal/renderer"
	"github.com/tliron/commonlog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ThisName is the name the whole context is bound to.
const ThisName = "this"

var (
	ErrEmptyExpression = errors.New("empty expression")
	ErrElseWithoutIf   = errors.New("else without a preceding if")
	ErrTooManyVars     = errors.New("at most two lambda variables are supported")
)

type CompileError struct {
	Source string
	Inner  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %q: %s", e.Source, e.Inner)
}

func (e *CompileError) Unwrap() error {
	return e.Inner
}

type NotIterableError struct {
	Value any
}

func (e *NotIterableError) Error() string {
	return fmt.Sprintf("cannot iterate over a %T", e.Value)
}

// Evaluator compiles each distinct expression once and caches the program.
// It is safe for concurrent use.
type Evaluator struct {
	programs sync.Map // source -> *vm.Program
	options  []expr.Option
	log      commonlog.Logger
}

var _ renderer.Evaluator = (*Evaluator)(nil)

// New creates an evaluator. The options are passed to every expr.Compile
// call, for example to register functions with expr.Function.
func New(options ...expr.Option) *Evaluator {
	return &Evaluator{
		options: append([]expr.Option{expr.AllowUndefinedVariables()}, options...),
		log:     commonlog.GetLogger("koreander.expreval"),
	}
}

// Prepare compiles source without running it.
func (e *Evaluator) Prepare(source string) error {
	_, err := e.compile(source)
	return err
}

func (e *Evaluator) compile(source string) (*vm.Program, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, &CompileError{Source: source, Inner: ErrEmptyExpression}
	}

	if cached, ok := e.programs.Load(source); ok {
		return cached.(*vm.Program), nil
	}

	program, err := expr.Compile(source, e.options...)
	if err != nil {
		return nil, &CompileError{Source: source, Inner: err}
	}

	e.log.Debugf("compiled expression %q", source)

	actual, _ := e.programs.LoadOrStore(source, program)
	return actual.(*vm.Program), nil
}

// Bind exposes the context as "this" and, for structs and string keyed
// maps, every exported field, method and key under its own name.
func (e *Evaluator) Bind(context any) renderer.Env {
	env := renderer.Env{}

	if context == nil {
		env[ThisName] = nil
		return env
	}

	if m, ok := context.(map[string]any); ok {
		maps.Copy(env, m)
	} else {
		bindValue(env, reflect.ValueOf(context))
	}

	env[ThisName] = context
	return env
}

func bindValue(env renderer.Env, v reflect.Value) {
	for _, m := range exportedMethods(v) {
		env[m] = v.MethodByName(m).Interface()
	}

	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			if f := t.Field(i); f.IsExported() {
				env[f.Name] = v.Field(i).Interface()
			}
		}

	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return
		}

		iter := v.MapRange()
		for iter.Next() {
			env[iter.Key().String()] = iter.Value().Interface()
		}
	}
}

func exportedMethods(v reflect.Value) []string {
	t := v.Type()
	names := make([]string, 0, t.NumMethod())

	for i := 0; i < t.NumMethod(); i++ {
		names = append(names, t.Method(i).Name)
	}

	return names
}

func (e *Evaluator) Evaluate(source string, env renderer.Env) (any, error) {
	program, err := e.compile(source)
	if err != nil {
		return nil, err
	}

	return vm.Run(program, map[string]any(env))
}

// Scope runs a control block. The source may start with one of the keywords
// if, unless, else if or else. Otherwise it is evaluated, and the block is
// run once per element when lambda variables are given, or once if the
// value is truthy.
func (e *Evaluator) Scope(scope renderer.Scope, env renderer.Env, prior renderer.Outcome, body func(renderer.Env) error) (renderer.Outcome, error) {
	source := strings.TrimSpace(scope.Source)

	if source == "else" {
		if prior == renderer.OutcomeNone {
			return renderer.OutcomeNone, ErrElseWithoutIf
		}
		if prior == renderer.OutcomeEntered {
			return renderer.OutcomeEntered, nil
		}

		return renderer.OutcomeEntered, body(env)
	}

	if cond, ok := cutKeyword(source, "else if"); ok {
		if prior == renderer.OutcomeNone {
			return renderer.OutcomeNone, ErrElseWithoutIf
		}
		if prior == renderer.OutcomeEntered {
			return renderer.OutcomeEntered, nil
		}

		return e.conditional(cond, false, env, body)
	}

	if cond, ok := cutKeyword(source, "if"); ok {
		return e.conditional(cond, false, env, body)
	}
	if cond, ok := cutKeyword(source, "unless"); ok {
		return e.conditional(cond, true, env, body)
	}

	val, err := e.Evaluate(source, env)
	if err != nil {
		return renderer.OutcomeNone, err
	}

	if len(scope.Vars) == 0 {
		if !Truthy(val) {
			return renderer.OutcomeSkipped, nil
		}

		return renderer.OutcomeEntered, body(env)
	}

	if len(scope.Vars) > 2 {
		return renderer.OutcomeNone, ErrTooManyVars
	}

	entered := false

	err = iterate(val, func(key, item any) error {
		entered = true

		child := make(renderer.Env, len(env)+len(scope.Vars))
		maps.Copy(child, env)

		if len(scope.Vars) == 1 {
			child[scope.Vars[0]] = item
		} else {
			child[scope.Vars[0]] = key
			child[scope.Vars[1]] = item
		}

		return body(child)
	})
	if err != nil {
		return renderer.OutcomeNone, err
	}

	if !entered {
		return renderer.OutcomeSkipped, nil
	}
	return renderer.OutcomeEntered, nil
}

func (e *Evaluator) conditional(cond string, negate bool, env renderer.Env, body func(renderer.Env) error) (renderer.Outcome, error) {
	val, err := e.Evaluate(cond, env)
	if err != nil {
		return renderer.OutcomeNone, err
	}

	if Truthy(val) == negate {
		return renderer.OutcomeSkipped, nil
	}

	return renderer.OutcomeEntered, body(env)
}

// cutKeyword reports whether source starts with the keyword kw followed by
// a space or an opening parenthesis, and returns the rest.
func cutKeyword(source, kw string) (string, bool) {
	rest, ok := strings.CutPrefix(source, kw)
	if !ok || rest == "" || (rest[0] != ' ' && rest[0] != '(') {
		return "", false
	}

	return strings.TrimSpace(rest), true
}

// iterate calls fn for every element of val. Slices, arrays and strings
// pass their index as key and maps their keys in sorted order. Integers
// count up from zero.
func iterate(val any, fn func(key, item any) error) error {
	if val == nil {
		return nil
	}

	if s, ok := val.(string); ok {
		i := 0
		for _, r := range s {
			if err := fn(i, string(r)); err != nil {
				return err
			}
			i++
		}
		return nil
	}

	v := reflect.ValueOf(val)

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := fn(i, v.Index(i).Interface()); err != nil {
				return err
			}
		}

	case reflect.Map:
		keys := v.MapKeys()
		slices.SortFunc(keys, func(a, b reflect.Value) int {
			return strings.Compare(fmt.Sprint(a.Interface()), fmt.Sprint(b.Interface()))
		})

		for _, k := range keys {
			if err := fn(k.Interface(), v.MapIndex(k).Interface()); err != nil {
				return err
			}
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		for i := int64(0); i < v.Int(); i++ {
			if err := fn(int(i), int(i)); err != nil {
				return err
			}
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		for i := uint64(0); i < v.Uint(); i++ {
			if err := fn(int(i), int(i)); err != nil {
				return err
			}
		}

	default:
		return &NotIterableError{Value: val}
	}

	return nil
}

// Truthy reports whether val counts as true in a condition. nil, false,
// zero numbers and empty strings, slices and maps are false.
func Truthy(val any) bool {
	if val == nil {
		return false
	}

	v := reflect.ValueOf(val)

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return v.Float() != 0
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return v.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !v.IsNil()
	}

	return true
}
