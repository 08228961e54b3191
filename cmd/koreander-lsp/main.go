package main

import (
	goerrors "errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pipe01/koreander/internal/lexer"
	"github.com/pipe01/koreander/internal/workspace"
	"github.com/pipe01/koreander/koreander"
	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"

	_ "github.com/tliron/commonlog/simple"
)

const lsName = "koreander"

var version string = "0.1.0"
var handler protocol.Handler

var (
	documents   = map[string]string{}
	documentsMu sync.Mutex

	engine = koreander.New(koreander.Options{})
)

type SituatedErr interface {
	Unwrap() error
	At() lexer.Location
}

var tokenLegend = []string{
	"keyword",
	"string",
	"comment",
	"variable",
}

func main() {
	// This increases logging verbosity (optional)
	commonlog.Configure(1, nil)

	protocol.SetTraceValue(protocol.TraceValueMessage)

	handler = protocol.Handler{
		Initialize:  initialize,
		Initialized: initialized,
		Shutdown:    shutdown,
		SetTrace:    setTrace,
		TextDocumentDidOpen: func(context *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
			setDocument(params.TextDocument.URI, params.TextDocument.Text)

			return handleDocument(context, params.TextDocument.URI)
		},
		TextDocumentDidChange: func(context *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
			content, ok := getDocument(params.TextDocument.URI)
			if !ok {
				return nil
			}

			for _, change := range params.ContentChanges {
				switch change := change.(type) {
				case protocol.TextDocumentContentChangeEventWhole:
					content = change.Text

				case protocol.TextDocumentContentChangeEvent:
					startIndex, endIndex := change.Range.IndexesIn(content)
					content = content[:startIndex] + change.Text + content[endIndex:]
				}
			}

			setDocument(params.TextDocument.URI, content)

			return handleDocument(context, params.TextDocument.URI)
		},
		TextDocumentDidClose: func(context *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
			documentsMu.Lock()
			delete(documents, params.TextDocument.URI)
			documentsMu.Unlock()

			return nil
		},
		TextDocumentSemanticTokensFull: semanticTokensFull,
	}

	server := server.NewServer(&handler, lsName, false)

	server.RunStdio()
}

func getDocument(uri string) (string, bool) {
	documentsMu.Lock()
	defer documentsMu.Unlock()

	content, ok := documents[uri]
	return content, ok
}

func setDocument(uri, content string) {
	documentsMu.Lock()
	defer documentsMu.Unlock()

	documents[uri] = content
}

func handleDocument(context *glsp.Context, docURI string) error {
	url, err := url.Parse(docURI)
	if err != nil {
		return fmt.Errorf("parse document uri: %w", err)
	}
	if url.Scheme != "file" {
		return fmt.Errorf("invalid document uri scheme %q", url.Scheme)
	}

	contents, ok := getDocument(docURI)
	if !ok {
		return nil
	}

	fileName := filepath.Base(url.Path)

	ws := workspace.New(filepath.Dir(url.Path), engine, "")

	diag := []protocol.Diagnostic{}

	tpl, err := ws.LoadWithContents(fileName, []byte(contents))
	if err != nil {
		var poserr SituatedErr

		if goerrors.As(err, &poserr) {
			diag = append(diag, protocol.Diagnostic{
				Range: protocol.Range{
					Start: pos(poserr.At()),
					End:   pos(poserr.At()),
				},
				Severity: ptr(protocol.DiagnosticSeverityError),
				Source:   ptr(lsName),
				Message:  poserr.Unwrap().Error(),
			})
		} else {
			diag = append(diag, protocol.Diagnostic{
				Severity: ptr(protocol.DiagnosticSeverityError),
				Source:   ptr(lsName),
				Message:  err.Error(),
			})
		}
	} else {
		diag = append(diag, filterDiagnostics(tpl)...)
	}

	context.Notify(protocol.ServerTextDocumentPublishDiagnostics, &protocol.PublishDiagnosticsParams{
		URI:         docURI,
		Diagnostics: diag,
	})

	return nil
}

// filterDiagnostics warns about filters that are not registered.
func filterDiagnostics(tpl *koreander.Template) []protocol.Diagnostic {
	var diag []protocol.Diagnostic

	for _, use := range tpl.Filters() {
		if _, ok := engine.Filters().Lookup(use.Name); ok {
			continue
		}

		msg := fmt.Sprintf("unknown filter %q", use.Name)
		if suggestions := engine.SuggestFilter(use.Name); len(suggestions) > 0 {
			msg += ", did you mean " + strings.Join(suggestions, " or ") + "?"
		}

		end := use.Location
		end.Column += len([]rune(use.Name)) + 1

		diag = append(diag, protocol.Diagnostic{
			Range: protocol.Range{
				Start: pos(use.Location),
				End:   pos(end),
			},
			Severity: ptr(protocol.DiagnosticSeverityWarning),
			Source:   ptr(lsName),
			Message:  msg,
		})
	}

	return diag
}

func initialize(context *glsp.Context, params *protocol.InitializeParams) (any, error) {
	capabilities := handler.CreateServerCapabilities()
	capabilities.SemanticTokensProvider = &protocol.SemanticTokensOptions{
		Legend: protocol.SemanticTokensLegend{
			TokenTypes:     tokenLegend,
			TokenModifiers: []string{},
		},
		Range: false,
		Full:  true,
	}

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lsName,
			Version: &version,
		},
	}, nil
}

func initialized(context *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func shutdown(context *glsp.Context) error {
	protocol.SetTraceValue(protocol.TraceValueOff)
	return nil
}

func setTrace(context *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

// semanticTokenType maps a token to its index in tokenLegend.
func semanticTokenType(typ lexer.TokenType) (protocol.UInteger, bool) {
	switch typ {
	case lexer.TokenDocTypeIdentifier, lexer.TokenElementIdentifier, lexer.TokenElementIDIdentifier,
		lexer.TokenElementClassIdentifier, lexer.TokenFilterIdentifier, lexer.TokenCodeIdentifier,
		lexer.TokenSilentCodeIdentifier, lexer.TokenLambdaVariablesIdentifier:
		return 0, true

	case lexer.TokenString, lexer.TokenQuotedString, lexer.TokenDocType:
		return 1, true

	case lexer.TokenCommentIdentifier, lexer.TokenComment:
		return 2, true

	case lexer.TokenExpression, lexer.TokenBracketExpression, lexer.TokenLambdaVariables:
		return 3, true
	}

	return 0, false
}

func semanticTokensFull(context *glsp.Context, params *protocol.SemanticTokensParams) (*protocol.SemanticTokens, error) {
	content, ok := getDocument(params.TextDocument.URI)
	if !ok {
		return nil, fmt.Errorf("document %q not found", params.TextDocument.URI)
	}

	l := lexer.New([]byte(content), filepath.Base(params.TextDocument.URI))

	tokens := make([]protocol.UInteger, 0)

	var prevPos lexer.Location
	for {
		tk, ok := l.Next()
		if !ok {
			break
		}

		tokenType, shouldSend := semanticTokenType(tk.Type)
		if !shouldSend || tk.Contents == "" {
			continue
		}

		var startDelta protocol.UInteger
		if tk.Start.Line == prevPos.Line {
			startDelta = uint32(tk.Start.Column - prevPos.Column)
		} else {
			startDelta = uint32(tk.Start.Column)
		}

		length := len([]rune(tk.Contents))

		tokens = append(tokens,
			protocol.UInteger(tk.Start.Line-prevPos.Line),
			startDelta,
			protocol.UInteger(length),
			tokenType,
			0,
		)

		prevPos = tk.Start
	}

	return &protocol.SemanticTokens{
		Data: tokens,
	}, nil
}

func ptr[T any](v T) *T {
	return &v
}

func pos(l lexer.Location) protocol.Position {
	return protocol.Position{
		Line:      uint32(l.Line),
		Character: uint32(l.Column),
	}
}
