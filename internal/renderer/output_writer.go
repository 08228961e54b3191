package renderer

import "strings"

// outputWriter collects the output entries of a render, one per line.
type outputWriter struct {
	entries []string
	indent  bool
}

func (w *outputWriter) indentation(depth int) string {
	if !w.indent {
		return ""
	}

	return strings.Repeat(" ", depth)
}

func (w *outputWriter) WriteLine(depth int, str string) {
	w.entries = append(w.entries, w.indentation(depth)+str)
}

// WriteFiltered writes filter output, keeping every line of it at depth.
func (w *outputWriter) WriteFiltered(depth int, str string) {
	ind := w.indentation(depth)
	w.entries = append(w.entries, ind+strings.ReplaceAll(str, "\n", "\n"+ind))
}

func (w *outputWriter) String() string {
	return strings.Join(w.entries, LineSeparator)
}
