package filter

import (
	"html"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Filter transforms the raw text of a filter block. The input has the
// block indentation removed and the output is written without escaping.
type Filter interface {
	Filter(input string) string
}

type FilterFunc func(input string) string

func (f FilterFunc) Filter(input string) string {
	return f(input)
}

// Registry maps filter names to filters. It is safe for concurrent reads.
type Registry map[string]Filter

// Defaults returns a new registry with the built-in filters.
func Defaults() Registry {
	return Registry{
		"css":        FilterFunc(InlineCSS),
		"javascript": FilterFunc(InlineJavascript),
		"js":         FilterFunc(InlineJavascript),
		"plain":      FilterFunc(Plain),
		"escaped":    FilterFunc(html.EscapeString),
		"cdata":      FilterFunc(CDATA),
	}
}

// Lookup returns the named filter. A nil registry has none.
func (r Registry) Lookup(name string) (Filter, bool) {
	f, ok := r[name]
	return f, ok
}

// Names returns the registered names in sorted order.
func (r Registry) Names() []string {
	names := maps.Keys(r)
	slices.Sort(names)
	return names
}

// With returns a copy of r with f registered under name.
func (r Registry) With(name string, f Filter) Registry {
	cp := maps.Clone(r)
	if cp == nil {
		cp = Registry{}
	}

	cp[name] = f
	return cp
}

func InlineCSS(input string) string {
	return "<style>\n" + input + "\n</style>"
}

func InlineJavascript(input string) string {
	return "<script type=\"text/javascript\">\n" + input + "\n</script>"
}

func Plain(input string) string {
	return input
}

func CDATA(input string) string {
	return "<![CDATA[\n" + strings.ReplaceAll(input, "]]>", "]]]]><![CDATA[>") + "\n]]>"
}

// NotFound is the text rendered in place of a block whose filter is unknown.
func NotFound(name string) string {
	return "Filter '" + name + "' not found."
}
