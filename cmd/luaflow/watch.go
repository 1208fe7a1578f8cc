package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/fsnotify/fsnotify"

	configpkg "github.com/drblury/luaflow/internal/runtime/config"
	loggingpkg "github.com/drblury/luaflow/internal/runtime/logging"
	"github.com/drblury/luaflow/internal/runtime/script"
)

// scriptWatcher reopens channels whose file:// code or preload changed.
type scriptWatcher struct {
	watcher *fsnotify.Watcher
	files   map[string][]string
	target  reloader
	log     loggingpkg.ServiceLogger
}

// scriptFiles maps the absolute path of every file:// script to the
// channels loading it.
func scriptFiles(conf *configpkg.Service) (map[string][]string, error) {
	files := make(map[string][]string)
	for _, c := range conf.Channels {
		for _, code := range append([]string{c.Code}, c.Preload...) {
			path, ok := script.CodeFile(code)
			if !ok {
				continue
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				return nil, fmt.Errorf("absolute path: %w", err)
			}
			if names := files[abs]; len(names) == 0 || names[len(names)-1] != c.Name {
				files[abs] = append(names, c.Name)
			}
		}
	}
	return files, nil
}

func newScriptWatcher(conf *configpkg.Service, target reloader, log loggingpkg.ServiceLogger) (*scriptWatcher, error) {
	files, err := scriptFiles(conf)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	// Watch directories, editors replace files on save.
	dirs := make(map[string]bool)
	for path := range files {
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watch directory: %w", err)
		}
	}
	log.Info("Watching scripts for changes", loggingpkg.LogFields{"files": len(files)})
	return &scriptWatcher{watcher: watcher, files: files, target: target, log: log}, nil
}

func (w *scriptWatcher) Close() error { return w.watcher.Close() }

func (w *scriptWatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("Script watcher error", err, nil)
		}
	}
}

func (w *scriptWatcher) handle(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}
	names := w.files[abs]
	if len(names) == 0 {
		return
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	for _, name := range sorted {
		w.log.Debug("Script changed", loggingpkg.LogFields{"file": abs, "channel": name})
		if err := w.target.Reload(ctx, name); err != nil {
			w.log.Error("Reload failed", err, loggingpkg.LogFields{"channel": name})
		}
	}
}
