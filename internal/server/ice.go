package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/BioHazard786/warpcall/internal/iceservers"
	"github.com/fsnotify/fsnotify"
	"github.com/pion/webrtc/v4"
)

// ICEList serves the ICE server list handed to peers. The list comes from
// a JSON file when one is configured and falls back to a fixed list.
type ICEList struct {
	path     string
	fallback []webrtc.ICEServer
	log      *slog.Logger

	mu   sync.RWMutex
	body []byte
}

// NewICEList loads path, or the fallback when path is empty.
func NewICEList(path string, fallback []webrtc.ICEServer, logger *slog.Logger) (*ICEList, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &ICEList{path: path, fallback: fallback, log: logger}
	if err := l.Load(); err != nil {
		return nil, err
	}
	return l, nil
}

// Load rereads the file. A file that fails to parse or validate leaves the
// current list in place.
func (l *ICEList) Load() error {
	list := l.fallback
	if l.path != "" {
		b, err := os.ReadFile(l.path)
		if err != nil {
			return fmt.Errorf("read ice file: %w", err)
		}
		if list, err = iceservers.Decode(b); err != nil {
			return err
		}
	}
	if err := iceservers.Validate(list); err != nil {
		return fmt.Errorf("ice file %s: %w", l.path, err)
	}
	body, err := iceservers.Encode(list)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.body = body
	l.mu.Unlock()
	return nil
}

func (l *ICEList) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.mu.RLock()
	body := l.body
	l.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(body)
}

// Watch reloads the list whenever the file changes, until ctx ends. The
// parent directory is watched so editors that replace the file by rename
// are picked up.
func (l *ICEList) Watch(ctx context.Context) error {
	if l.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(l.path), err)
	}
	name := filepath.Base(l.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if err := l.Load(); err != nil {
				l.log.Warn("ice list reload failed", "path", l.path, "error", err)
				continue
			}
			l.log.Info("ice list reloaded", "path", l.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.log.Warn("ice watcher error", "error", err)
		}
	}
}
