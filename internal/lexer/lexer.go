package lexer

import (
	"regexp"
	"strings"
)

const bom = "\uFEFF"

var lambdaVarsRegex = regexp.MustCompile(`^\s*[A-Za-z_]\w*(\s*,\s*[A-Za-z_]\w*)*\s*$`)

type state struct {
	str    []rune
	col    int
	tokens []Token
}

type Lexer struct {
	filename string
	lines    []string

	line       int
	lineOffset int

	// rawBase is the indentation of a standalone filter line whose deeper
	// block is being passed through untouched, or -1.
	rawBase int

	state

	queue []Token
}

// New prepares a lexer over file. Tokens are produced one line at a time as
// they are requested.
func New(file []byte, fileName string) *Lexer {
	src := strings.TrimPrefix(string(file), bom)
	src = strings.ReplaceAll(src, "\r\n", "\n")
	src = strings.ReplaceAll(src, "\r", "\n")

	return &Lexer{
		filename: fileName,
		lines:    strings.Split(src, "\n"),
		rawBase:  -1,
	}
}

// Lex tokenizes src in one go.
func Lex(src, fileName string) []Token {
	return New([]byte(src), fileName).Collect()
}

func (l *Lexer) Next() (*Token, bool) {
	for len(l.queue) == 0 {
		if l.line >= len(l.lines) {
			return nil, false
		}

		l.queue = l.lexLine()
	}

	tk := l.queue[0]
	l.queue = l.queue[1:]

	return &tk, true
}

func (l *Lexer) Collect() []Token {
	tks := []Token{}

	for {
		tk, ok := l.Next()
		if !ok {
			break
		}

		tks = append(tks, *tk)
	}

	return tks
}

func (l *Lexer) lexLine() []Token {
	text := l.lines[l.line]

	l.state = state{str: []rune(text)}

	defer func() {
		l.lineOffset += len(l.str) + 1
		l.line++
	}()

	if strings.TrimSpace(text) == "" {
		return nil
	}

	if l.rawBase >= 0 {
		if l.indentation() > l.rawBase {
			l.lexIndentation()
			l.emit(TokenText, len(l.str))
			return l.tokens
		}

		l.rawBase = -1
	}

	// Careful when editing, order matters

	if l.line == 0 && l.lexDocType() {
		return l.tokens
	}

	indent := l.lexIndentation()

	if content, ok := l.lexFilter(); ok {
		if !content {
			l.rawBase = indent
		}
		return l.tokens
	}

	if l.lexTagHeader() {
		l.lexAttributes()

		if l.lexTrailingFilter() {
			return l.tokens
		}

		l.takeSpaces()
	}

	l.lexOutput()

	return l.tokens
}

func (l *Lexer) peek() (r rune, eol bool) {
	if l.col >= len(l.str) {
		return 0, true
	}

	return l.str[l.col], false
}

func (l *Lexer) rest() string {
	return string(l.str[l.col:])
}

func (l *Lexer) hasPrefix(prefix string) bool {
	return strings.HasPrefix(l.rest(), prefix)
}

func (l *Lexer) location(col int) Location {
	return Location{
		File:   l.filename,
		Line:   l.line,
		Column: col,
		Offset: l.lineOffset + col,
	}
}

// emit adds a token made of the runes up to end and moves past them.
func (l *Lexer) emit(typ TokenType, end int) {
	l.emitString(typ, l.col, string(l.str[l.col:end]))
	l.col = end
}

func (l *Lexer) emitString(typ TokenType, col int, contents string) {
	l.tokens = append(l.tokens, Token{
		Type:     typ,
		Start:    l.location(col),
		Contents: contents,
	})
}

func (l *Lexer) takeSpaces() (took bool) {
	for {
		r, eol := l.peek()
		if eol || !isWhitespace(r) {
			return took
		}

		l.col++
		took = true
	}
}

func (l *Lexer) indentation() (n int) {
	for n < len(l.str) && l.str[n] == ' ' {
		n++
	}

	return n
}

func (l *Lexer) lexIndentation() int {
	n := l.indentation()
	l.emit(TokenWhitespace, n)
	return n
}

func (l *Lexer) lexDocType() bool {
	if !l.hasPrefix("!!!") {
		return false
	}

	l.emit(TokenDocTypeIdentifier, l.col+3)

	for {
		l.takeSpaces()

		if _, eol := l.peek(); eol {
			break
		}

		end := l.col
		for end < len(l.str) && !isWhitespace(l.str[end]) {
			end++
		}

		l.emit(TokenDocType, end)
	}

	return true
}

// lexFilter matches a ":name" marker at the current position, optionally
// followed by inline content. content reports whether any was found.
func (l *Lexer) lexFilter() (content, ok bool) {
	r, eol := l.peek()
	if eol || r != ':' {
		return false, false
	}

	end := l.col + 1
	for end < len(l.str) && isFilterNameRune(l.str[end]) {
		end++
	}

	if end == l.col+1 || (end < len(l.str) && l.str[end] != ' ') {
		return false, false
	}

	l.emit(TokenFilterIdentifier, end)

	if _, eol := l.peek(); eol {
		return false, true
	}

	l.col++

	if _, eol := l.peek(); eol {
		return false, true
	}

	l.emit(TokenText, len(l.str))
	return true, true
}

func (l *Lexer) lexTrailingFilter() bool {
	saved := l.state

	if !l.takeSpaces() {
		return false
	}

	if _, ok := l.lexFilter(); !ok {
		l.state = saved
		return false
	}

	return true
}

// lexTagHeader matches %name, #id and .class identifiers, each followed by
// its value. Nothing is kept unless the whole header matches.
func (l *Lexer) lexTagHeader() bool {
	saved := l.state
	found := false

	if r, _ := l.peek(); r == '%' {
		l.emit(TokenElementIdentifier, l.col+1)

		if !l.lexValue(headerExclusions, false) {
			l.state = saved
			return false
		}

		found = true
	}

loop:
	for {
		r, _ := l.peek()

		switch r {
		case '#':
			l.emit(TokenElementIDIdentifier, l.col+1)
		case '.':
			l.emit(TokenElementClassIdentifier, l.col+1)
		default:
			break loop
		}

		if !l.lexValue(headerExclusions, false) {
			l.state = saved
			return false
		}

		found = true
	}

	if !found {
		l.state = saved
		return false
	}

	return true
}

func (l *Lexer) lexAttributes() {
	for {
		saved := l.state

		if !l.takeSpaces() || !l.lexAttribute() {
			l.state = saved
			return
		}
	}
}

func (l *Lexer) lexAttribute() bool {
	if !l.lexValue(attrNameExclusions, false) {
		return false
	}

	if r, _ := l.peek(); r != '=' {
		return false
	}
	l.emit(TokenAttributeConnector, l.col+1)

	return l.lexValue(attrValueExclusions, true)
}

// lexValue matches a bracket expression, a quoted string if allowed, or a
// bare string made of runes outside exclusions.
func (l *Lexer) lexValue(exclusions string, quoted bool) bool {
	r, eol := l.peek()
	if eol {
		return false
	}

	switch {
	case r == '{':
		end, ok := MatchBrackets(l.str, l.col)
		if !ok {
			return false
		}

		l.emit(TokenBracketExpression, end)
		return true

	case r == '"':
		if !quoted {
			return false
		}

		end := l.col + 1
		for end < len(l.str) && l.str[end] != '"' {
			end++
		}

		if end >= len(l.str) {
			return false
		}

		l.emit(TokenQuotedString, end+1)
		return true
	}

	end := l.col
	for end < len(l.str) && !excluded(exclusions, l.str[end]) {
		end++
	}

	if end == l.col {
		return false
	}

	l.emit(TokenString, end)
	return true
}

func (l *Lexer) lexOutput() {
	if _, eol := l.peek(); eol {
		return
	}

	switch {
	case l.hasPrefix("- "):
		l.lexCode(TokenSilentCodeIdentifier, 1)
		return

	case l.hasPrefix("= "):
		l.lexCode(TokenCodeIdentifier, 1)
		return

	case l.hasPrefix("!= "):
		l.lexCode(TokenCodeIdentifier, 2)
		return

	case l.hasPrefix("/"):
		l.emit(TokenCommentIdentifier, l.col+1)

		if r, _ := l.peek(); r == ' ' {
			l.col++
		}

		l.emit(TokenComment, len(l.str))
		return
	}

	l.emit(TokenText, len(l.str))
}

// lexCode emits the code identifier, its expression and an optional trailing
// "-> a, b" lambda clause. Without an expression the line is plain text.
func (l *Lexer) lexCode(typ TokenType, identLen int) {
	body := string(l.str[l.col+identLen:])
	if strings.TrimSpace(body) == "" {
		l.emit(TokenText, len(l.str))
		return
	}

	l.emit(typ, l.col+identLen)
	l.takeSpaces()

	body = l.rest()
	expr := body
	vars := ""

	if idx := strings.LastIndex(body, "->"); idx >= 0 && lambdaVarsRegex.MatchString(body[idx+2:]) {
		expr = body[:idx]
		vars = body[idx+2:]
	}

	exprCol := l.col
	l.emitString(TokenExpression, exprCol, strings.TrimSpace(expr))

	if vars != "" {
		arrowCol := exprCol + len([]rune(expr))
		l.emitString(TokenLambdaVariablesIdentifier, arrowCol, "->")

		varsCol := arrowCol + 2 + len([]rune(vars)) - len([]rune(strings.TrimLeft(vars, " ")))
		l.emitString(TokenLambdaVariables, varsCol, strings.TrimSpace(vars))
	}

	l.col = len(l.str)
}
