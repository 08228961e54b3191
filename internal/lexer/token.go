package lexer

import "fmt"

type TokenType int

const (
	TokenDocTypeIdentifier TokenType = iota
	TokenDocType
	TokenWhitespace

	TokenElementIdentifier
	TokenElementIDIdentifier
	TokenElementClassIdentifier
	TokenAttributeConnector
	TokenFilterIdentifier

	TokenString
	TokenQuotedString
	TokenBracketExpression
	TokenExpression
	TokenText

	TokenCodeIdentifier
	TokenSilentCodeIdentifier
	TokenCommentIdentifier
	TokenComment

	TokenLambdaVariablesIdentifier
	TokenLambdaVariables
)

func (t TokenType) String() string {
	switch t {
	case TokenDocTypeIdentifier:
		return "Doctype identifier"
	case TokenDocType:
		return "Doctype"
	case TokenWhitespace:
		return "Whitespace"

	case TokenElementIdentifier:
		return "Element identifier"
	case TokenElementIDIdentifier:
		return "Element ID identifier"
	case TokenElementClassIdentifier:
		return "Element class identifier"
	case TokenAttributeConnector:
		return "Attribute connector"
	case TokenFilterIdentifier:
		return "Filter identifier"

	case TokenString:
		return "String"
	case TokenQuotedString:
		return "Quoted string"
	case TokenBracketExpression:
		return "Bracket expression"
	case TokenExpression:
		return "Expression"
	case TokenText:
		return "Text"

	case TokenCodeIdentifier:
		return "Code identifier"
	case TokenSilentCodeIdentifier:
		return "Silent code identifier"
	case TokenCommentIdentifier:
		return "Comment identifier"
	case TokenComment:
		return "Comment"

	case TokenLambdaVariablesIdentifier:
		return "Lambda variables identifier"
	case TokenLambdaVariables:
		return "Lambda variables"
	}

	return "<unknown>"
}

type Token struct {
	Type     TokenType
	Start    Location
	Contents string
}

// Depth is the indentation carried by a whitespace token.
func (t *Token) Depth() int {
	return len(t.Contents)
}

type Location struct {
	File string

	// 0-based
	Line, Column int

	// Offset counts runes from the start of the file, line breaks included.
	Offset int
}

func (l *Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line+1, l.Column+1)
}
