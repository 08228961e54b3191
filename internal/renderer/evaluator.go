package renderer

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/pipe01/koreander/internal/parser"
)

// Env holds the names visible to an expression.
type Env map[string]any

// Scope is a control block handed to the evaluator.
type Scope struct {
	Source string
	Vars   []string
}

// Outcome reports what a control scope did, so that a following sibling
// like "else" can chain onto it.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeSkipped
	OutcomeEntered
)

// Evaluator runs the expressions embedded in a template.
type Evaluator interface {
	// Bind builds the root environment for a context value.
	Bind(context any) Env

	Evaluate(source string, env Env) (any, error)

	// Scope decides whether and how often body runs. prior is the outcome
	// of the directly preceding sibling scope, OutcomeNone if there is none.
	Scope(scope Scope, env Env, prior Outcome, body func(Env) error) (Outcome, error)
}

// Typed lets a context name its own type tag.
type Typed interface {
	TemplateType() parser.TypeTag
}

var (
	typeTagsMu sync.Mutex
	typeTags   = map[reflect.Type]parser.TypeTag{}
	tagOwners  = map[parser.TypeTag]reflect.Type{}
)

// TypeOf returns the tag a context value is checked against. Distinct types
// always get distinct tags: a type whose name is already taken by another
// type, like a function local type, gets a numbered suffix.
func TypeOf(v any) parser.TypeTag {
	if t, ok := v.(Typed); ok {
		return t.TemplateType()
	}

	t := reflect.TypeOf(v)
	if t == nil {
		return "<nil>"
	}

	typeTagsMu.Lock()
	defer typeTagsMu.Unlock()

	if tag, ok := typeTags[t]; ok {
		return tag
	}

	base := typeName(t)
	tag := base

	for n := 2; ; n++ {
		if _, taken := tagOwners[tag]; !taken {
			break
		}
		tag = parser.TypeTag(fmt.Sprintf("%s#%d", base, n))
	}

	typeTags[t] = tag
	tagOwners[tag] = t

	return tag
}

// typeName is the import path qualified name of named types, and the type
// literal for everything else.
func typeName(t reflect.Type) parser.TypeTag {
	if t.Name() != "" && t.PkgPath() != "" {
		return parser.TypeTag(t.PkgPath() + "." + t.Name())
	}

	return parser.TypeTag(t.String())
}

// Stringify converts an evaluated value to output text. nil renders as
// nothing.
func Stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}

	return fmt.Sprint(v)
}
