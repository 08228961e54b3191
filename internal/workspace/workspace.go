package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pipe01/koreander/koreander"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type TemplateNotFoundError struct {
	Path  string
	Inner error
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("template %q not found", e.Path)
}

func (e *TemplateNotFoundError) Unwrap() error {
	return e.Inner
}

func (e *TemplateNotFoundError) Is(target error) bool {
	return target == fs.ErrNotExist
}

// Workspace loads and compiles templates relative to a root directory,
// keeping compiled templates until they are invalidated.
type Workspace struct {
	rootPath string
	engine   *koreander.Engine
	typ      koreander.TypeTag

	mu        sync.Mutex
	compiled  map[string]*koreander.Template
	requested map[string]struct{}
}

// New creates a workspace whose templates are compiled for contexts of
// type typ.
func New(rootPath string, engine *koreander.Engine, typ koreander.TypeTag) *Workspace {
	return &Workspace{
		rootPath:  rootPath,
		engine:    engine,
		typ:       typ,
		compiled:  make(map[string]*koreander.Template),
		requested: make(map[string]struct{}),
	}
}

func (w *Workspace) fullPath(relPath string) string {
	if filepath.IsAbs(relPath) {
		return filepath.Clean(relPath)
	}

	return filepath.Join(w.rootPath, relPath)
}

func (w *Workspace) Load(relPath string) (*koreander.Template, error) {
	fullPath := w.fullPath(relPath)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.requested[fullPath] = struct{}{}

	if tpl, ok := w.compiled[fullPath]; ok {
		return tpl, nil
	}

	bytes, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &TemplateNotFoundError{Path: relPath, Inner: err}
		}
		return nil, fmt.Errorf("read file: %w", err)
	}

	return w.compile(fullPath, relPath, bytes)
}

// LoadWithContents compiles contents as the template at relPath, replacing
// any cached version. Editors use it for unsaved buffers.
func (w *Workspace) LoadWithContents(relPath string, contents []byte) (*koreander.Template, error) {
	fullPath := w.fullPath(relPath)

	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.compiled, fullPath)

	return w.compile(fullPath, relPath, contents)
}

func (w *Workspace) compile(fullPath, relPath string, contents []byte) (*koreander.Template, error) {
	tpl, err := w.engine.CompileFile(relPath, contents, w.typ)
	if err != nil {
		return nil, fmt.Errorf("compile file: %w", err)
	}

	w.compiled[fullPath] = tpl
	return tpl, nil
}

// Invalidate drops the compiled version of relPath.
func (w *Workspace) Invalidate(relPath string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.compiled, w.fullPath(relPath))
}

// RequestedFiles returns the absolute paths of every template loaded so far,
// sorted.
func (w *Workspace) RequestedFiles() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	files := maps.Keys(w.requested)
	slices.Sort(files)
	return files
}

func (w *Workspace) Render(relPath string, ctx any) (string, error) {
	tpl, err := w.Load(relPath)
	if err != nil {
		return "", err
	}

	return w.engine.Render(tpl, ctx)
}
