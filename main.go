package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/natefinch/atomic"
	"github.com/pipe01/koreander/internal/lexer"
	"github.com/pipe01/koreander/internal/workspace"
	"github.com/pipe01/koreander/koreander"
	"github.com/pkg/profile"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

var (
	app = kingpin.New("koreander", "Render indentation based markup templates.")

	verbose    = app.Flag("verbose", "Increase log verbosity, can be repeated").Short('v').Counter()
	profileDir = app.Flag("profile", "Write a CPU profile to this folder").String()

	renderCmd   = app.Command("render", "Render templates to files").Default()
	contextFile = renderCmd.Flag("context", "YAML or JSON file with the render context").Short('c').ExistingFile()
	outDir      = renderCmd.Flag("out-dir", "Folder to put rendered files on").Short('o').Default(".").String()
	outExt      = renderCmd.Flag("ext", "Extension of rendered files").Default(".html").String()
	pretty      = renderCmd.Flag("pretty", "Indent rendered output like the source").Bool()
	watch       = renderCmd.Flag("watch", "Watch files for changes and render again automatically").Short('w').Bool()
	files       = renderCmd.Arg("files", "List of files to render").Required().ExistingFiles()

	tokensCmd  = app.Command("tokens", "Print the tokens of a template")
	tokensFile = tokensCmd.Arg("file", "File to tokenize").Required().ExistingFile()

	renderCtx map[string]any
	engine    *koreander.Engine
)

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	commonlog.Configure(*verbose, nil)

	if *profileDir != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(*profileDir), profile.Quiet).Stop()
	}

	var err error

	switch cmd {
	case tokensCmd.FullCommand():
		err = printTokens(*tokensFile)

	case renderCmd.FullCommand():
		err = runRender()
	}

	if err != nil {
		app.Fatalf("%s", err)
	}
}

func runRender() error {
	*outDir, _ = filepath.Abs(*outDir)

	var err error

	renderCtx, err = loadContext(*contextFile)
	if err != nil {
		return err
	}

	engine = koreander.New(koreander.Options{
		Indent: *pretty,
	})

	if *watch {
		if err := watchFiles(); err != nil {
			return fmt.Errorf("failed to watch files: %w", err)
		}
		return nil
	}

	if err := renderAll(); err != nil {
		return fmt.Errorf("failed to render files: %s", err)
	}
	return nil
}

func newWorkspace() *workspace.Workspace {
	wd, _ := os.Getwd()
	return workspace.New(wd, engine, koreander.TypeOf(renderCtx))
}

func renderAll() error {
	ws := newWorkspace()

	for _, fname := range *files {
		_, err := renderFile(ws, fname)
		if err != nil {
			return fmt.Errorf("render file %q: %s", fname, describeError(err))
		}
	}

	return nil
}

func outputPath(fname string) string {
	base := filepath.Base(fname)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	return filepath.Join(*outDir, base+*outExt)
}

func renderFile(ws *workspace.Workspace, fname string) (outPath string, err error) {
	out, err := ws.Render(fname, renderCtx)
	if err != nil {
		return "", err
	}

	outPath = outputPath(fname)

	if err := atomic.WriteFile(outPath, strings.NewReader(out)); err != nil {
		return "", fmt.Errorf("write output file: %w", err)
	}

	return outPath, nil
}

func printTokens(fname string) error {
	data, err := os.ReadFile(fname)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	l := lexer.New(data, fname)

	for {
		tk, ok := l.Next()
		if !ok {
			break
		}

		fmt.Printf("%s\t%s\t%q\n", &tk.Start, tk.Type, tk.Contents)
	}

	return nil
}

func watchFiles() error {
	watcher, err := NewWatcher(newWorkspace())
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	for _, f := range *files {
		err = watcher.WatchFile(f)
		if err != nil {
			return fmt.Errorf("watch file %q: %w", f, err)
		}

		watcher.fileModified(f)
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	log.Println("watching files for changes...")

	<-ch
	return nil
}
