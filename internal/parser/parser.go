package parser

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/pipe01/koreander/internal/lexer"
	"github.com/tliron/commonlog"
	"golang.org/x/exp/slices"
)

const DefaultMaxDepth = 100

var (
	ErrUnexpectedEndOfInput = errors.New("unexpected end of input")
	ErrInvalidFilterInput   = errors.New("filter block lines must be indented at least as deep as the first one")
	ErrMaxDepth             = errors.New("max nesting depth reached")
	ErrLambdaWithoutBlock   = errors.New("lambda variables need an indented block")
)

type ParserError struct {
	Inner    error
	Location lexer.Location
}

func (e *ParserError) Unwrap() error {
	return e.Inner
}

func (e *ParserError) Error() string {
	return fmt.Sprintf("%s at %s", e.Inner, &e.Location)
}

func (e *ParserError) At() lexer.Location {
	return e.Location
}

type UnexpectedTokenError struct {
	Got *lexer.Token
}

func (e *UnexpectedTokenError) Error() string {
	return fmt.Sprintf("unexpected %s %q", e.Got.Type, e.Got.Contents)
}

type ExpectedOtherError struct {
	Got      *lexer.Token
	Expected []lexer.TokenType
}

func (e *ExpectedOtherError) Error() string {
	names := make([]string, len(e.Expected))
	for i, t := range e.Expected {
		names[i] = t.String()
	}

	return fmt.Sprintf("expected %s, found %q (%s)", strings.Join(names, " or "), e.Got.Contents, e.Got.Type)
}

type UnexpectedDocTypeError struct {
	Keyword string
}

func (e *UnexpectedDocTypeError) Error() string {
	return fmt.Sprintf("unknown doctype %q", e.Keyword)
}

type Options struct {
	// MaxDepth bounds the number of scopes open at once, DefaultMaxDepth if zero.
	MaxDepth int

	Log commonlog.Logger
}

// openTag is a pending closer. Markers only remember an indentation depth.
type openTag struct {
	depth  int
	marker bool
}

type parser struct {
	tokens []lexer.Token
	index  int

	program  *Program
	openTags []openTag
	scopes   int

	opts Options
	err  *ParserError
}

// Parse turns a token stream into a render program for contexts of type typ.
func Parse(tokens []lexer.Token, typ TypeTag, opts Options) (*Program, error) {
	if opts.MaxDepth == 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Log == nil {
		opts.Log = commonlog.GetLogger("koreander.parser")
	}

	p := parser{
		tokens:  tokens,
		program: &Program{ContextType: typ},
		opts:    opts,
	}

	p.parseFile()
	if p.err != nil {
		return nil, p.err
	}

	p.opts.Log.Debugf("parsed %d tokens into %d instructions", len(tokens), len(p.program.Instructions))

	return p.program, nil
}

func (p *parser) take() *lexer.Token {
	if p.index >= len(p.tokens) {
		return nil
	}

	tk := &p.tokens[p.index]
	p.index++

	return tk
}

func (p *parser) peek() *lexer.Token {
	if p.index >= len(p.tokens) {
		return nil
	}

	return &p.tokens[p.index]
}

func (p *parser) isEOF() bool {
	return p.index >= len(p.tokens)
}

func (p *parser) nextIfType(types ...lexer.TokenType) *lexer.Token {
	tk := p.peek()
	if tk == nil || !slices.Contains(types, tk.Type) {
		return nil
	}

	return p.take()
}

func (p *parser) mustTake(types ...lexer.TokenType) (tk *lexer.Token, found bool) {
	if tk = p.nextIfType(types...); tk != nil {
		return tk, true
	}

	got := p.peek()
	if got == nil {
		p.addErrorAt(ErrUnexpectedEndOfInput, p.endLocation())
		return nil, false
	}

	p.addErrorAt(&ExpectedOtherError{
		Got:      got,
		Expected: types,
	}, got.Start)
	return nil, false
}

func (p *parser) endLocation() lexer.Location {
	if len(p.tokens) == 0 {
		return lexer.Location{}
	}

	loc := p.tokens[len(p.tokens)-1].Start
	loc.Column += len([]rune(p.tokens[len(p.tokens)-1].Contents))
	return loc
}

func (p *parser) addErrorAt(err error, loc lexer.Location) {
	if p.err == nil {
		p.err = &ParserError{
			Inner:    err,
			Location: loc,
		}
	}
}

func (p *parser) currentDepth() int {
	if len(p.openTags) == 0 {
		return 0
	}

	return p.openTags[len(p.openTags)-1].depth
}

func (p *parser) nextIsDeeperWhitespace() bool {
	tk := p.peek()
	return tk != nil && tk.Type == lexer.TokenWhitespace && tk.Depth() > p.currentDepth()
}

func (p *parser) nextIsClosingWhitespace() bool {
	tk := p.peek()
	if tk == nil {
		return true // end of input, will be closed
	}

	return tk.Type == lexer.TokenWhitespace && tk.Depth() <= p.currentDepth()
}

func (p *parser) add(instr Instruction) {
	p.program.Instructions = append(p.program.Instructions, instr)
}

func (p *parser) last(n int) Instruction {
	instrs := p.program.Instructions
	if len(instrs) < n {
		return nil
	}

	return instrs[len(instrs)-n]
}

func (p *parser) parseFile() {
	p.parseDocType()

	// one loop execution processes one line of the template
	for !p.isEOF() && p.err == nil {
		index := p.index

		p.parseWhitespace()

		p.parseFilter(true)

		hadTag := p.parseTag()

		hadOutput := p.parseFilter(false) || p.parseCode() || p.parseSilentCode() || p.parseComment() || p.parseText()

		if hadTag && hadOutput {
			if p.nextIsClosingWhitespace() {
				p.fuseTagOutput(true)
			} else if p.nextIsDeeperWhitespace() {
				p.fuseTagOutput(false)
			}
		}

		if p.err == nil && index == p.index {
			tk := p.peek()
			p.addErrorAt(&UnexpectedTokenError{Got: tk}, tk.Start)
		}
	}

	if p.err != nil {
		return
	}

	p.closeOpenTags(0)
	p.matchScopes()
}

func (p *parser) parseDocType() {
	tk := p.nextIfType(lexer.TokenDocTypeIdentifier)
	if tk == nil {
		return
	}

	var keyword, encoding string

	if typeTk := p.nextIfType(lexer.TokenDocType); typeTk != nil {
		keyword = typeTk.Contents

		if encTk := p.nextIfType(lexer.TokenDocType); encTk != nil {
			encoding = encTk.Contents
		}
	}

	if strings.EqualFold(keyword, "xml") {
		if encoding == "" {
			encoding = "utf-8"
		}

		p.add(&InstructionLiteral{pos: pos(tk.Start), Text: fmt.Sprintf(xmlProlog, encoding)})
		return
	}

	docType, ok := LookupDocType(keyword)
	if !ok {
		p.addErrorAt(&UnexpectedDocTypeError{Keyword: keyword}, tk.Start)
		return
	}

	if encoding != "" {
		p.add(&InstructionLiteral{pos: pos(tk.Start), Text: fmt.Sprintf(xmlProlog, encoding)})
	}

	p.add(&InstructionLiteral{pos: pos(tk.Start), Text: docType})
}

func (p *parser) parseWhitespace() bool {
	tk := p.nextIfType(lexer.TokenWhitespace)
	if tk == nil {
		return false
	}

	depth := tk.Depth()

	p.closeOpenTags(depth)

	// remember as current depth
	p.openTags = append(p.openTags, openTag{depth: depth, marker: true})

	return true
}

// closeOpenTags pops every pending closer recorded at downTo or deeper.
func (p *parser) closeOpenTags(downTo int) {
	for len(p.openTags) > 0 && p.currentDepth() >= downTo {
		tag := p.openTags[len(p.openTags)-1]
		p.openTags = p.openTags[:len(p.openTags)-1]

		if !tag.marker {
			p.scopes--
			p.add(&InstructionCloseScope{})
		}
	}
}

func (p *parser) openScope(scope *InstructionOpenScope) {
	if p.scopes >= p.opts.MaxDepth {
		p.addErrorAt(ErrMaxDepth, scope.Position())
		return
	}

	p.scopes++
	p.add(scope)
	p.openTags = append(p.openTags, openTag{depth: scope.Depth})
}

func (p *parser) parseFilter(standalone bool) bool {
	tk := p.nextIfType(lexer.TokenFilterIdentifier)
	if tk == nil {
		return false
	}

	filter := strings.Trim(tk.Contents, ": ")
	depth := p.currentDepth()

	var input strings.Builder

	if standalone && p.nextIsDeeperWhitespace() {
		// block mode - get all input from deeper indented block
		ws := p.take()
		baseDepth := ws.Depth()
		lastLine := ws.Start.Line

		for !p.isEOF() {
			next := p.peek()

			if next.Type == lexer.TokenWhitespace {
				if next.Depth() <= p.currentDepth() {
					break
				}
				if next.Depth() < baseDepth {
					p.addErrorAt(ErrInvalidFilterInput, next.Start)
					return true
				}

				p.take()

				// blank lines never reach the parser, put them back
				input.WriteString(strings.Repeat("\n", next.Start.Line-lastLine))
				input.WriteString(next.Contents[baseDepth:])
				lastLine = next.Start.Line
				continue
			}

			input.WriteString(p.take().Contents)
		}
	} else {
		// one line mode - take all tokens unless next whitespace
		for !p.isEOF() && p.peek().Type != lexer.TokenWhitespace {
			input.WriteString(p.take().Contents)
		}
	}

	p.add(&InstructionFilteredBlock{
		pos:    pos(tk.Start),
		Text:   input.String(),
		Filter: filter,
		Depth:  depth,
	})

	return true
}

type tagAttribute struct {
	name  Value
	value Value
}

func (p *parser) parseTag() bool {
	start := p.peek()

	var name Value
	var id Value
	var classes []Value

	if p.nextIfType(lexer.TokenElementIdentifier) != nil {
		name = p.parseExpressionToken(lexer.TokenBracketExpression, lexer.TokenString)
	}

loop:
	for {
		switch {
		case p.nextIfType(lexer.TokenElementIDIdentifier) != nil:
			id = p.parseExpressionToken(lexer.TokenBracketExpression, lexer.TokenString)

		case p.nextIfType(lexer.TokenElementClassIdentifier) != nil:
			classes = append(classes, p.parseExpressionToken(lexer.TokenBracketExpression, lexer.TokenString))

		default:
			break loop
		}
	}

	// must have at least one defined
	if name == nil && id == nil && classes == nil {
		return false
	}
	if p.err != nil {
		return true
	}

	var attrs []tagAttribute

	for {
		nameTk := p.nextIfType(lexer.TokenBracketExpression, lexer.TokenString)
		if nameTk == nil {
			break
		}

		if _, ok := p.mustTake(lexer.TokenAttributeConnector); !ok {
			return true
		}

		value := p.parseExpressionToken(lexer.TokenBracketExpression, lexer.TokenQuotedString, lexer.TokenString)
		if p.err != nil {
			return true
		}

		attrs = append(attrs, tagAttribute{
			name:  p.expressionCode(nameTk),
			value: value,
		})
	}

	if name == nil {
		name = literal("div")
	}

	open := concatValues(literal("<"), name)

	if idx := attributeIndex(attrs, "id"); idx >= 0 {
		id = attrs[idx].value
		attrs = slices.Delete(attrs, idx, idx+1)
	}
	if id != nil {
		open = concatValues(open, literal(` id="`), id, literal(`"`))
	}

	if idx := attributeIndex(attrs, "class"); idx >= 0 {
		classes = append(classes, attrs[idx].value)
		attrs = slices.Delete(attrs, idx, idx+1)
	}
	if len(classes) > 0 {
		open = concatValues(open, literal(` class="`))

		for i, class := range classes {
			if i > 0 {
				open = concatValues(open, literal(" "))
			}
			open = concatValues(open, class)
		}

		open = concatValues(open, literal(`"`))
	}

	for _, attr := range attrs {
		open = concatValues(open, literal(" "), attr.name, literal(`="`), attr.value, literal(`"`))
	}

	open = concatValues(open, literal(">"))
	closing := concatValues(literal("</"), name, literal(">"))

	if p.nextIsClosingWhitespace() {
		p.addValue(concatValues(open, closing), start.Start, p.currentDepth())
		return true
	}

	p.openScope(&InstructionOpenScope{
		pos:   pos(start.Start),
		Kind:  ScopeTag,
		Depth: p.currentDepth(),
		Open:  open,
		Close: closing,
	})

	return true
}

// attributeIndex finds an attribute whose name is the literal name.
func attributeIndex(attrs []tagAttribute, name string) int {
	return slices.IndexFunc(attrs, func(a tagAttribute) bool {
		return a.name.IsLiteral() && a.name.String() == name
	})
}

func (p *parser) parseExpressionToken(types ...lexer.TokenType) Value {
	tk, ok := p.mustTake(types...)
	if !ok {
		return nil
	}

	return p.expressionCode(tk)
}

// expressionCode renders a token used as a tag name, id, class or attribute
// part. Expressions are evaluated and escaped at render time; literal text is
// escaped now and never interpolated.
func (p *parser) expressionCode(tk *lexer.Token) Value {
	switch tk.Type {
	case lexer.TokenBracketExpression:
		return expression(tk.Contents[1:len(tk.Contents)-1], true)

	case lexer.TokenExpression:
		return expression(tk.Contents, true)

	case lexer.TokenQuotedString:
		return literal(html.EscapeString(tk.Contents[1 : len(tk.Contents)-1]))

	case lexer.TokenString, lexer.TokenText:
		return literal(html.EscapeString(tk.Contents))
	}

	p.addErrorAt(&ExpectedOtherError{
		Got:      tk,
		Expected: []lexer.TokenType{lexer.TokenBracketExpression, lexer.TokenQuotedString, lexer.TokenExpression, lexer.TokenString},
	}, tk.Start)
	return nil
}

// addValue emits v, as a plain literal when nothing in it needs evaluating.
func (p *parser) addValue(v Value, at lexer.Location, depth int) {
	if v.IsLiteral() {
		p.add(&InstructionLiteral{pos: pos(at), Text: v.String(), Depth: depth})
		return
	}

	p.add(&InstructionExpression{pos: pos(at), Value: v, Depth: depth})
}

func (p *parser) parseCode() bool {
	tk := p.nextIfType(lexer.TokenCodeIdentifier)
	if tk == nil {
		return false
	}

	code, vars, ok := p.parseCodeBody()
	if !ok {
		return true
	}

	if p.nextIsDeeperWhitespace() {
		p.openScope(&InstructionOpenScope{
			pos:     pos(code.Start),
			Kind:    ScopeControl,
			Depth:   p.currentDepth(),
			Source:  code.Contents,
			Vars:    vars,
			Capture: true,
		})
		return true
	}

	if vars != nil {
		p.addErrorAt(ErrLambdaWithoutBlock, code.Start)
		return true
	}

	p.add(&InstructionExpression{
		pos:   pos(code.Start),
		Value: expression(code.Contents, tk.Contents == "="),
		Depth: p.currentDepth(),
	})

	return true
}

func (p *parser) parseSilentCode() bool {
	if p.nextIfType(lexer.TokenSilentCodeIdentifier) == nil {
		return false
	}

	code, vars, ok := p.parseCodeBody()
	if !ok {
		return true
	}

	if p.nextIsDeeperWhitespace() {
		p.openScope(&InstructionOpenScope{
			pos:    pos(code.Start),
			Kind:   ScopeControl,
			Depth:  p.currentDepth(),
			Source: code.Contents,
			Vars:   vars,
		})
		return true
	}

	if vars != nil {
		p.addErrorAt(ErrLambdaWithoutBlock, code.Start)
		return true
	}

	p.add(&InstructionExec{pos: pos(code.Start), Source: code.Contents})

	return true
}

func (p *parser) parseCodeBody() (code *lexer.Token, vars []string, ok bool) {
	code, ok = p.mustTake(lexer.TokenExpression)
	if !ok {
		return nil, nil, false
	}

	if p.nextIfType(lexer.TokenLambdaVariablesIdentifier) != nil {
		varsTk, ok := p.mustTake(lexer.TokenLambdaVariables)
		if !ok {
			return nil, nil, false
		}

		for _, v := range strings.Split(varsTk.Contents, ",") {
			vars = append(vars, strings.TrimSpace(v))
		}
	}

	return code, vars, true
}

func (p *parser) parseComment() bool {
	tk := p.nextIfType(lexer.TokenCommentIdentifier)
	if tk == nil {
		return false
	}

	comment, ok := p.mustTake(lexer.TokenComment)
	if !ok {
		return true
	}

	p.add(&InstructionLiteral{
		pos:   pos(tk.Start),
		Text:  "<!-- " + comment.Contents + " -->",
		Depth: p.currentDepth(),
	})

	return true
}

func (p *parser) parseText() bool {
	tk := p.nextIfType(lexer.TokenText)
	if tk == nil {
		return false
	}

	p.addValue(interpolate(tk.Contents), tk.Start, p.currentDepth())

	return true
}

// interpolate splits text on #{expr} sequences. A backslash before the hash
// keeps the sequence literal.
func interpolate(text string) Value {
	str := []rune(text)

	var v Value
	var lit strings.Builder

	for i := 0; i < len(str); i++ {
		if str[i] == '\\' && i+2 < len(str) && str[i+1] == '#' && str[i+2] == '{' {
			lit.WriteString("#")
			i++
			continue
		}

		if str[i] == '#' && i+1 < len(str) && str[i+1] == '{' {
			if end, ok := lexer.MatchBrackets(str, i+1); ok {
				v = concatValues(v, literal(html.EscapeString(lit.String())), expression(string(str[i+2:end-1]), true))
				lit.Reset()
				i = end - 1
				continue
			}
		}

		lit.WriteRune(str[i])
	}

	return concatValues(v, literal(html.EscapeString(lit.String())))
}

// fuseTagOutput merges a tag opened on this line with the output that
// followed it. With closing set the whole element becomes one entry.
func (p *parser) fuseTagOutput(closing bool) {
	if p.err != nil {
		return
	}

	open, ok := p.last(2).(*InstructionOpenScope)
	if !ok || open.Kind != ScopeTag {
		return
	}

	var content Value

	switch instr := p.last(1).(type) {
	case *InstructionLiteral:
		content = literal(instr.Text)
	case *InstructionExpression:
		content = instr.Value
	case *InstructionFilteredBlock:
		content = Value{{Kind: FragmentFilter, Text: instr.Text, Filter: instr.Filter}}
	default:
		return
	}

	p.program.Instructions = p.program.Instructions[:len(p.program.Instructions)-2]

	if closing {
		p.openTags = p.openTags[:len(p.openTags)-1]
		p.scopes--

		p.addValue(concatValues(open.Open, content, open.Close), open.Position(), open.Depth)
		return
	}

	fused := *open
	fused.Open = concatValues(open.Open, content)
	p.add(&fused)
}

// matchScopes records where each scope ends.
func (p *parser) matchScopes() {
	var stack []*InstructionOpenScope

	for i, instr := range p.program.Instructions {
		switch instr := instr.(type) {
		case *InstructionOpenScope:
			stack = append(stack, instr)

		case *InstructionCloseScope:
			stack[len(stack)-1].End = i
			stack = stack[:len(stack)-1]
		}
	}
}
