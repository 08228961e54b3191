// Package koreander compiles indentation based markup templates and renders
// them against a context value.
package koreander

import (
	"fmt"

	"github.com/pipe01/koreander/internal/expreval"
	"github.com/pipe01/koreander/internal/filter"
	"github.com/pipe01/koreander/internal/lexer"
	"github.com/pipe01/koreander/internal/parser"
	"github.com/pipe01/koreander/internal/renderer"
	"github.com/sahilm/fuzzy"
	"github.com/tliron/commonlog"
)

type (
	TypeTag  = parser.TypeTag
	Location = lexer.Location

	Filter     = filter.Filter
	FilterFunc = filter.FilterFunc
	Registry   = filter.Registry

	Evaluator = renderer.Evaluator

	ParserError      = parser.ParserError
	InvalidTypeError = renderer.InvalidTypeError
)

// TypeOf returns the type tag of a context value, to be passed to Compile.
func TypeOf(v any) TypeTag {
	return renderer.TypeOf(v)
}

// DefaultFilters returns a new registry with the built-in filters.
func DefaultFilters() Registry {
	return filter.Defaults()
}

type Options struct {
	// Filters available to templates, DefaultFilters if nil.
	Filters Registry

	// Evaluator runs embedded expressions, an expr-lang evaluator if nil.
	Evaluator Evaluator

	// Indent prefixes output lines with their source indentation.
	Indent bool

	// MaxDepth bounds scope nesting, parser.DefaultMaxDepth if zero.
	MaxDepth int

	Log commonlog.Logger
}

// preparer is implemented by evaluators that can compile expressions ahead
// of the first render.
type preparer interface {
	Prepare(source string) error
}

// Engine compiles and renders templates. It is safe for concurrent use as
// long as its filter registry is not modified.
type Engine struct {
	opts Options
}

func New(opts Options) *Engine {
	if opts.Filters == nil {
		opts.Filters = filter.Defaults()
	}
	if opts.Evaluator == nil {
		opts.Evaluator = expreval.New()
	}
	if opts.Log == nil {
		opts.Log = commonlog.GetLogger("koreander")
	}

	return &Engine{opts: opts}
}

// Template is a compiled program. It holds no render state and can be
// rendered any number of times, concurrently.
type Template struct {
	Name string

	program *parser.Program
	filters []FilterUse
}

// FilterUse is a reference to a filter by name from a template.
type FilterUse struct {
	Name     string
	Location Location
}

func (t *Template) ContextType() TypeTag {
	return t.program.ContextType
}

// Filters lists the filters the template refers to, in source order.
func (t *Template) Filters() []FilterUse {
	return t.filters
}

// Compile compiles src for contexts of type typ.
func (e *Engine) Compile(src string, typ TypeTag) (*Template, error) {
	return e.CompileFile("", []byte(src), typ)
}

// CompileFile is like Compile, with error locations naming the file.
func (e *Engine) CompileFile(name string, src []byte, typ TypeTag) (*Template, error) {
	tks := lexer.New(src, name).Collect()

	prog, err := parser.Parse(tks, typ, parser.Options{
		MaxDepth: e.opts.MaxDepth,
		Log:      e.opts.Log,
	})
	if err != nil {
		return nil, err
	}

	tpl := &Template{
		Name:    name,
		program: prog,
	}

	if err := e.inspect(tpl); err != nil {
		return nil, err
	}

	e.opts.Log.Debugf("compiled template %q for %s", name, typ)

	return tpl, nil
}

// inspect collects the filters a template uses and compiles its expressions
// if the evaluator supports it.
func (e *Engine) inspect(tpl *Template) error {
	prep, _ := e.opts.Evaluator.(preparer)

	prepare := func(source string, at Location) error {
		if prep == nil {
			return nil
		}

		if err := prep.Prepare(source); err != nil {
			return &parser.ParserError{Inner: err, Location: at}
		}
		return nil
	}

	value := func(v parser.Value, at Location) error {
		for _, f := range v {
			switch f.Kind {
			case parser.FragmentExpression:
				if err := prepare(f.Text, at); err != nil {
					return err
				}
			case parser.FragmentFilter:
				tpl.filters = append(tpl.filters, FilterUse{Name: f.Filter, Location: at})
			}
		}
		return nil
	}

	for _, instr := range tpl.program.Instructions {
		var err error

		switch instr := instr.(type) {
		case *parser.InstructionExpression:
			err = value(instr.Value, instr.Position())

		case *parser.InstructionExec:
			err = prepare(instr.Source, instr.Position())

		case *parser.InstructionOpenScope:
			// Control sources may start with a keyword, the evaluator
			// compiles them when the scope runs
			if err = value(instr.Open, instr.Position()); err == nil {
				err = value(instr.Close, instr.Position())
			}

		case *parser.InstructionFilteredBlock:
			tpl.filters = append(tpl.filters, FilterUse{Name: instr.Filter, Location: instr.Position()})
		}

		if err != nil {
			return err
		}
	}

	for _, use := range tpl.filters {
		if _, ok := e.opts.Filters.Lookup(use.Name); !ok {
			e.opts.Log.Warningf("%s: unknown filter %q, did you mean %v?", &use.Location, use.Name, e.SuggestFilter(use.Name))
		}
	}

	return nil
}

// Render renders tpl against ctx, which must be of the type tpl was
// compiled for.
func (e *Engine) Render(tpl *Template, ctx any) (string, error) {
	return renderer.Render(tpl.program, ctx, e.opts.Filters, renderer.Options{
		Indent:    e.opts.Indent,
		Evaluator: e.opts.Evaluator,
		Log:       e.opts.Log,
	})
}

// RenderString compiles src for the type of ctx and renders it.
func (e *Engine) RenderString(src string, ctx any) (string, error) {
	tpl, err := e.Compile(src, TypeOf(ctx))
	if err != nil {
		return "", fmt.Errorf("compile template: %w", err)
	}

	return e.Render(tpl, ctx)
}

// Filters returns the engine's filter registry.
func (e *Engine) Filters() Registry {
	return e.opts.Filters
}

// SuggestFilter returns registered filter names that fuzzily match name,
// best first.
func (e *Engine) SuggestFilter(name string) []string {
	matches := fuzzy.Find(name, e.opts.Filters.Names())

	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.Str
	}

	return names
}
