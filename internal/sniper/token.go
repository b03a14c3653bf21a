package sniper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/patrickmn/go-cache"

	"slothive/config"
	"slothive/internal/logging"
	"slothive/internal/session"
)

const lastKnownTokenKey = "last_known"

var hiddenInputRe = regexp.MustCompile(`name="__?(?:RequestVerificationToken|VerificationToken)"[^>]*value="([^"]+)"`)

// TokenResolver resolves the anti-CSRF verification token required by the
// booking endpoint. Sources are tried in order: session-captured header,
// session page snapshot, a live fetch from the portal, and finally the
// last-known value. The first non-empty value wins and is remembered.
type TokenResolver struct {
	cfg    config.SniperConfig
	client *http.Client
	known  *cache.Cache
}

// NewTokenResolver creates a resolver. Last-known tokens are kept for ten
// minutes; portal tokens rotate faster than that, but a stale token still
// beats no token when every live source is down.
func NewTokenResolver(cfg config.SniperConfig, client *http.Client) *TokenResolver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TokenResolver{
		cfg:    cfg,
		client: client,
		known:  cache.New(10*time.Minute, 30*time.Minute),
	}
}

// Resolve returns the verification token for a booking attempt, or an error
// when every source in the chain came up empty.
func (r *TokenResolver) Resolve(ctx context.Context, sess session.Context) (string, error) {
	if tok := sess.Headers[r.cfg.TokenHeader]; tok != "" {
		r.remember(tok)
		return tok, nil
	}
	if tok := sess.PageSnapshot[r.cfg.TokenField]; tok != "" {
		r.remember(tok)
		return tok, nil
	}
	if tok := r.fetchLive(ctx, sess); tok != "" {
		r.remember(tok)
		return tok, nil
	}
	if v, ok := r.known.Get(lastKnownTokenKey); ok {
		logging.L().Warnw("falling back to last-known verification token")
		return v.(string), nil
	}
	return "", fmt.Errorf("no verification token available from any source")
}

func (r *TokenResolver) remember(tok string) {
	r.known.Set(lastKnownTokenKey, tok, cache.DefaultExpiration)
}

// fetchLive pulls the booking page and scrapes the hidden token field.
// Best-effort: any failure just moves the chain along.
func (r *TokenResolver) fetchLive(ctx context.Context, sess session.Context) string {
	if r.cfg.TokenURL == "" {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.TokenURL, nil)
	if err != nil {
		return ""
	}
	for k, v := range sess.Headers {
		req.Header.Set(k, v)
	}
	for _, c := range sess.Cookies {
		req.AddCookie(c)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		logging.L().Debugw("live token fetch failed", "err", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ""
	}
	if m := hiddenInputRe.FindSubmatch(body); m != nil {
		return string(m[1])
	}
	return ""
}
