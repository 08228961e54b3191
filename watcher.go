package main

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pipe01/koreander/internal/workspace"
)

type Watcher struct {
	mu                          sync.Mutex
	watchingDirs, watchingFiles map[string]struct{}

	ws      *workspace.Workspace
	watcher *fsnotify.Watcher
}

func NewWatcher(ws *workspace.Workspace) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		watchingDirs:  make(map[string]struct{}),
		watchingFiles: make(map[string]struct{}),
		ws:            ws,
		watcher:       watcher,
	}
	go w.eventLoop()

	return w, nil
}

func (w *Watcher) WatchFile(path string) error {
	fullPath, _ := filepath.Abs(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.watchingFiles[fullPath] = struct{}{}

	dir := filepath.Dir(fullPath)
	if _, ok := w.watchingDirs[dir]; ok {
		return nil
	}

	err := w.watcher.Add(dir)
	if err != nil {
		return err
	}

	w.watchingDirs[dir] = struct{}{}

	return nil
}

func (w *Watcher) isWatched(fullPath string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, ok := w.watchingFiles[fullPath]
	return ok
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			fname, _ := filepath.Abs(event.Name)

			if !w.isWatched(fname) {
				continue
			}

			w.fileModified(fname)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Println("error:", err)
		}
	}
}

func (w *Watcher) fileModified(path string) {
	fullPath, _ := filepath.Abs(path)
	name := filepath.Base(fullPath)

	log.Printf("file %q modified, rendering...", name)

	w.ws.Invalidate(fullPath)

	outPath, err := renderFile(w.ws, fullPath)
	if err != nil {
		log.Printf("failed to render file %q: %s", fullPath, describeError(err))
		return
	}

	log.Printf("wrote %q", outPath)

	for _, req := range w.ws.RequestedFiles() {
		if err := w.WatchFile(req); err != nil {
			log.Printf("failed to watch %q: %s", req, err)
		}
	}
}
