package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"slothive/internal/logging"
)

// fileSnapshot is the on-disk session format. An external login helper writes
// it; scoutd only ever reads it.
type fileSnapshot struct {
	Cookies []struct {
		Name   string `json:"name"`
		Value  string `json:"value"`
		Domain string `json:"domain,omitempty"`
		Path   string `json:"path,omitempty"`
	} `json:"cookies"`
	Headers       map[string]string `json:"headers"`
	Page          map[string]string `json:"page"`
	Authenticated bool              `json:"authenticated"`
}

// FileWatcher feeds a Store from a session file and rotates identity by
// picking up a rewritten file. Rotation only succeeds when the file has
// actually changed since the identity being discarded was captured, so a
// burned identity is never reused.
type FileWatcher struct {
	path  string
	store *Store

	mu      sync.Mutex
	lastMod time.Time
}

func NewFileWatcher(path string, store *Store) *FileWatcher {
	return &FileWatcher{path: path, store: store}
}

// Load parses the session file into the store.
func (w *FileWatcher) Load() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return fmt.Errorf("stat session file: %w", err)
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("read session file: %w", err)
	}

	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse session file %s: %w", w.path, err)
	}

	ctx := Context{
		Headers:       snap.Headers,
		PageSnapshot:  snap.Page,
		Authenticated: snap.Authenticated,
		CapturedAt:    info.ModTime().UTC(),
	}
	for _, c := range snap.Cookies {
		ctx.Cookies = append(ctx.Cookies, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	w.store.Set(ctx)

	w.mu.Lock()
	w.lastMod = info.ModTime()
	w.mu.Unlock()
	return nil
}

// Watch reloads the file whenever its modification time advances.
func (w *FileWatcher) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				continue
			}
			w.mu.Lock()
			changed := info.ModTime().After(w.lastMod)
			w.mu.Unlock()
			if !changed {
				continue
			}
			if err := w.Load(); err != nil {
				logging.L().Warnw("session reload failed", "err", err)
				continue
			}
			logging.L().Infow("session refreshed from file", "path", w.path)
		}
	}
}

// Rotate drops the current identity and adopts the one on disk. It fails when
// the file has not changed, because re-adopting a rate-limited identity would
// defeat the rotation.
func (w *FileWatcher) Rotate(ctx context.Context) error {
	w.mu.Lock()
	prev := w.lastMod
	w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		w.store.Clear()
		return fmt.Errorf("rotate identity: %w", err)
	}
	if !info.ModTime().After(prev) {
		return fmt.Errorf("rotate identity: no fresh session available")
	}

	// Invalidate before adopting: a failed load must not leave the old
	// identity in place.
	w.store.Clear()
	return w.Load()
}

// Clear drops the stored identity without replacement.
func (w *FileWatcher) Clear(ctx context.Context) {
	w.store.Clear()
}
