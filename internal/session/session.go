package session

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Context is a read-only snapshot of the authentication material captured from
// the portal: cookies, headers, and whether the capture looked signed-in.
// Consumers must re-fetch a fresh snapshot before every network call; the
// underlying identity can be invalidated by a rotation at any time.
type Context struct {
	Cookies       []*http.Cookie
	Headers       map[string]string
	PageSnapshot  map[string]string
	Authenticated bool
	CapturedAt    time.Time
}

// Observer supplies the latest captured session. Implementations must be safe
// to call at high frequency; freshness is only "latest observed".
type Observer interface {
	Session() Context
}

// Rotator invalidates and replaces the network-level identity used for
// requests. Rotate must fully invalidate the prior identity before returning
// nil, so callers may retry almost immediately afterwards.
type Rotator interface {
	Rotate(ctx context.Context) error
	Clear(ctx context.Context)
}

// Store holds the latest session snapshot. Single writer (the external session
// observer calls Set), many readers (scout and sniper call Session).
type Store struct {
	mu   sync.RWMutex
	curr Context
}

func NewStore() *Store {
	return &Store{}
}

// Set replaces the stored snapshot.
func (s *Store) Set(c Context) {
	if c.CapturedAt.IsZero() {
		c.CapturedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.curr = c
	s.mu.Unlock()
}

// Session returns a copy of the latest snapshot. The copy is deep enough that
// callers cannot mutate the stored headers or cookie list.
func (s *Store) Session() Context {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Context{
		Authenticated: s.curr.Authenticated,
		CapturedAt:    s.curr.CapturedAt,
	}
	if len(s.curr.Cookies) > 0 {
		out.Cookies = make([]*http.Cookie, len(s.curr.Cookies))
		copy(out.Cookies, s.curr.Cookies)
	}
	if len(s.curr.Headers) > 0 {
		out.Headers = make(map[string]string, len(s.curr.Headers))
		for k, v := range s.curr.Headers {
			out.Headers[k] = v
		}
	}
	if len(s.curr.PageSnapshot) > 0 {
		out.PageSnapshot = make(map[string]string, len(s.curr.PageSnapshot))
		for k, v := range s.curr.PageSnapshot {
			out.PageSnapshot[k] = v
		}
	}
	return out
}

// Clear drops the stored snapshot, typically after an identity rotation.
func (s *Store) Clear() {
	s.mu.Lock()
	s.curr = Context{}
	s.mu.Unlock()
}
