package renderer

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/pipe01/koreander/internal/filter"
	"github.com/pipe01/koreander/internal/parser"
	"github.com/tliron/commonlog"
)

const LineSeparator = "\n"

var ErrNoEvaluator = errors.New("template needs an expression evaluator")

type InvalidTypeError struct {
	Expected, Actual parser.TypeTag
}

func (e *InvalidTypeError) Error() string {
	return fmt.Sprintf("invalid type: expected a %s but got a %s", e.Expected, e.Actual)
}

type Options struct {
	// Indent prefixes every line with the indentation of its source line.
	Indent bool

	Evaluator Evaluator
	Log       commonlog.Logger
}

type context struct {
	prog    *parser.Program
	filters filter.Registry
	opts    Options
}

// Render executes prog against ctx. Nothing is rendered if ctx is not of
// the type prog was compiled for.
func Render(prog *parser.Program, ctx any, filters filter.Registry, opts Options) (string, error) {
	if typ := TypeOf(ctx); typ != prog.ContextType {
		return "", &InvalidTypeError{
			Expected: prog.ContextType,
			Actual:   typ,
		}
	}

	if opts.Log == nil {
		opts.Log = commonlog.GetLogger("koreander.renderer")
	}

	c := context{
		prog:    prog,
		filters: filters,
		opts:    opts,
	}

	var env Env
	if opts.Evaluator != nil {
		env = opts.Evaluator.Bind(ctx)
	}

	w := outputWriter{indent: opts.Indent}

	if err := c.visitInstructions(&w, 0, len(prog.Instructions), env); err != nil {
		return "", err
	}

	return w.String(), nil
}

func (c *context) visitInstructions(w *outputWriter, start, end int, env Env) error {
	prior := OutcomeNone

	for i := start; i < end; i++ {
		instr := c.prog.Instructions[i]

		scope, isScope := instr.(*parser.InstructionOpenScope)
		if !isScope || scope.Kind != parser.ScopeControl {
			prior = OutcomeNone
		}

		switch instr := instr.(type) {
		case *parser.InstructionLiteral:
			w.WriteLine(instr.Depth, instr.Text)

		case *parser.InstructionExpression:
			str, err := c.visitValue(instr.Value, env)
			if err != nil {
				return err
			}

			w.WriteLine(instr.Depth, str)

		case *parser.InstructionExec:
			if _, err := c.evaluate(instr.Source, env); err != nil {
				return err
			}

		case *parser.InstructionFilteredBlock:
			w.WriteFiltered(instr.Depth, c.applyFilter(instr.Filter, instr.Text))

		case *parser.InstructionOpenScope:
			var err error

			if instr.Kind == parser.ScopeTag {
				err = c.visitTagScope(w, i, instr, env)
			} else {
				prior, err = c.visitControlScope(w, i, instr, env, prior)
			}
			if err != nil {
				return err
			}

			i = instr.End

		case *parser.InstructionCloseScope:
			// Scopes are skipped past as a whole
		}
	}

	return nil
}

func (c *context) visitTagScope(w *outputWriter, index int, scope *parser.InstructionOpenScope, env Env) error {
	open, err := c.visitValue(scope.Open, env)
	if err != nil {
		return err
	}
	w.WriteLine(scope.Depth, open)

	if err := c.visitInstructions(w, index+1, scope.End, env); err != nil {
		return err
	}

	closing, err := c.visitValue(scope.Close, env)
	if err != nil {
		return err
	}
	w.WriteLine(scope.Depth, closing)

	return nil
}

func (c *context) visitControlScope(w *outputWriter, index int, scope *parser.InstructionOpenScope, env Env, prior Outcome) (Outcome, error) {
	if c.opts.Evaluator == nil {
		return OutcomeNone, ErrNoEvaluator
	}

	target := w
	if scope.Capture {
		target = &outputWriter{indent: w.indent}
	}

	outcome, err := c.opts.Evaluator.Scope(Scope{
		Source: scope.Source,
		Vars:   scope.Vars,
	}, env, prior, func(env Env) error {
		return c.visitInstructions(target, index+1, scope.End, env)
	})
	if err != nil {
		return OutcomeNone, err
	}

	if scope.Capture && len(target.entries) > 0 {
		w.WriteLine(0, target.String())
	}

	return outcome, nil
}

func (c *context) visitValue(v parser.Value, env Env) (string, error) {
	var b strings.Builder

	for _, f := range v {
		switch f.Kind {
		case parser.FragmentLiteral:
			b.WriteString(f.Text)

		case parser.FragmentExpression:
			val, err := c.evaluate(f.Text, env)
			if err != nil {
				return "", err
			}

			if f.Escape {
				b.WriteString(html.EscapeString(Stringify(val)))
			} else {
				b.WriteString(Stringify(val))
			}

		case parser.FragmentFilter:
			b.WriteString(c.applyFilter(f.Filter, f.Text))
		}
	}

	return b.String(), nil
}

func (c *context) evaluate(source string, env Env) (any, error) {
	if c.opts.Evaluator == nil {
		return nil, ErrNoEvaluator
	}

	return c.opts.Evaluator.Evaluate(source, env)
}

func (c *context) applyFilter(name, input string) string {
	f, ok := c.filters.Lookup(name)
	if !ok {
		c.opts.Log.Warningf("filter %q not found", name)
		return filter.NotFound(name)
	}

	return f.Filter(input)
}
