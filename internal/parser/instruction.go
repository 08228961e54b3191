package parser

import (
	"strings"

	"github.com/pipe01/koreander/internal/lexer"
)

// TypeTag names the context type a program was compiled for.
type TypeTag string

type Program struct {
	ContextType  TypeTag
	Instructions []Instruction
}

type pos lexer.Location

func (p pos) Position() lexer.Location {
	return lexer.Location(p)
}

type Instruction interface {
	Position() lexer.Location
}

type FragmentKind int

const (
	FragmentLiteral FragmentKind = iota
	FragmentExpression
	FragmentFilter
)

// Fragment is one piece of an output line. Literal text is stored already
// escaped; expressions are escaped at render time when Escape is set.
type Fragment struct {
	Kind FragmentKind

	Text   string
	Filter string
	Escape bool
}

type Value []Fragment

func literal(text string) Value {
	return Value{{Kind: FragmentLiteral, Text: text}}
}

func expression(source string, escape bool) Value {
	return Value{{Kind: FragmentExpression, Text: source, Escape: escape}}
}

func concatValues(values ...Value) Value {
	var v Value

	for _, val := range values {
		for _, f := range val {
			if n := len(v); n > 0 && f.Kind == FragmentLiteral && v[n-1].Kind == FragmentLiteral {
				v[n-1].Text += f.Text
				continue
			}

			v = append(v, f)
		}
	}

	return v
}

// IsLiteral reports whether v renders without evaluating anything.
func (v Value) IsLiteral() bool {
	for _, f := range v {
		if f.Kind != FragmentLiteral {
			return false
		}
	}

	return true
}

func (v Value) String() string {
	var b strings.Builder

	for _, f := range v {
		switch f.Kind {
		case FragmentLiteral:
			b.WriteString(f.Text)
		case FragmentExpression:
			b.WriteString("{" + f.Text + "}")
		case FragmentFilter:
			b.WriteString(":" + f.Filter + "{" + f.Text + "}")
		}
	}

	return b.String()
}

type ScopeKind int

const (
	ScopeTag ScopeKind = iota
	ScopeControl
)

// InstructionLiteral emits Text as is.
type InstructionLiteral struct {
	pos
	Text  string
	Depth int
}

// InstructionExpression emits the rendered fragments of Value as one entry.
type InstructionExpression struct {
	pos
	Value Value
	Depth int
}

// InstructionExec evaluates Source and discards the result.
type InstructionExec struct {
	pos
	Source string
}

// InstructionOpenScope starts a scope closed by the InstructionCloseScope at
// index End. Tag scopes emit Open before and Close after their body. Control
// scopes hand Source, Vars and the body to the expression evaluator; Capture
// collects the body output into a single entry.
type InstructionOpenScope struct {
	pos
	Kind  ScopeKind
	Depth int

	Open, Close Value

	Source  string
	Vars    []string
	Capture bool

	End int
}

type InstructionCloseScope struct {
	pos
}

// InstructionFilteredBlock passes Text through the named filter.
type InstructionFilteredBlock struct {
	pos
	Text   string
	Filter string
	Depth  int
}
