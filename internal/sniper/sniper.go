package sniper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"slothive/config"
	"slothive/internal/logging"
	"slothive/internal/session"
	"slothive/internal/slot"
)

// Outcome tags a booking attempt result.
type Outcome string

const (
	OutcomeBooked     Outcome = "BOOKED"
	OutcomeFailed     Outcome = "FAILED"
	OutcomePending    Outcome = "PENDING"
	OutcomeTokenError Outcome = "TOKEN_ERROR"
)

// Result is the classified outcome of one booking attempt. Immutable once
// produced.
type Result struct {
	Outcome     Outcome `json:"outcome"`
	Reason      string  `json:"reason,omitempty"`
	RedirectURL string  `json:"redirectUrl,omitempty"`
}

// BookedFunc receives successful results for cross-system notification.
// Delivery is best-effort; booking correctness never depends on it.
type BookedFunc func(target slot.Descriptor, res Result)

// Sniper converts a discovered slot into a single fast booking request and
// classifies the outcome.
type Sniper struct {
	cfg      config.SniperConfig
	observer session.Observer
	tokens   *TokenResolver
	client   *http.Client
	onBooked BookedFunc

	inflight atomic.Bool
}

// New creates a Sniper. The HTTP client never follows redirects; the booking
// portal signals success through them, so they must stay observable.
func New(cfg config.SniperConfig, observer session.Observer, onBooked BookedFunc) *Sniper {
	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			logging.L().Warnf("invalid proxy URL %q: %v; sniper will not use a proxy", cfg.HTTPProxy, err)
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   15 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &Sniper{
		cfg:      cfg,
		observer: observer,
		tokens:   NewTokenResolver(cfg, nil),
		client:   client,
		onBooked: onBooked,
	}
}

// Execute fires one booking attempt for the given slot. Only one attempt may
// be in flight per Sniper; a concurrent call returns Pending immediately with
// no side effects.
func (s *Sniper) Execute(ctx context.Context, target slot.Descriptor) Result {
	if !s.inflight.CompareAndSwap(false, true) {
		return Result{Outcome: OutcomePending, Reason: "Already executing"}
	}
	defer s.inflight.Store(false)

	res := s.attempt(ctx, target)
	if res.Outcome == OutcomeBooked && s.onBooked != nil {
		// Listener must not delay the caller.
		go s.onBooked(target, res)
	}
	return res
}

// ExecuteWithRetry retries Failed outcomes with the same slot after a short
// fixed delay, up to the configured bound. Booked and Pending are terminal,
// and TokenError is not transient, so none of those are retried.
func (s *Sniper) ExecuteWithRetry(ctx context.Context, target slot.Descriptor, retries int) Result {
	res := s.Execute(ctx, target)
	for attempt := 0; attempt < retries && res.Outcome == OutcomeFailed; attempt++ {
		select {
		case <-ctx.Done():
			return res
		case <-time.After(s.cfg.RetryDelay):
		}
		logging.L().Infow("retrying booking", "slotId", target.SlotID, "attempt", attempt+1)
		res = s.Execute(ctx, target)
	}
	return res
}

// attempt resolves the token, builds the booking request, and classifies the
// raw response.
func (s *Sniper) attempt(ctx context.Context, target slot.Descriptor) Result {
	// Fresh snapshot for every attempt; never reuse material across calls.
	sess := s.observer.Session()
	if !sess.Authenticated {
		return Result{Outcome: OutcomeFailed, Reason: "Authentication failed"}
	}

	token, err := s.tokens.Resolve(ctx, sess)
	if err != nil {
		return Result{Outcome: OutcomeTokenError, Reason: err.Error()}
	}

	form := url.Values{}
	form.Set("slotId", target.SlotID)
	form.Set("date", target.Date)
	form.Set("time", target.Time)
	form.Set("visaType", s.cfg.VisaType)
	form.Set("center", s.cfg.Center)
	form.Set("category", s.cfg.Category)
	form.Set(s.cfg.TokenField, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BookingURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{Outcome: OutcomeFailed, Reason: fmt.Sprintf("failed to build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(s.cfg.TokenHeader, token)
	for k, v := range sess.Headers {
		req.Header.Set(k, v)
	}
	for _, c := range sess.Cookies {
		req.AddCookie(c)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Reason: fmt.Sprintf("booking request failed: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{Outcome: OutcomePending, Reason: "Response unreadable"}
	}

	res := Classify(resp.StatusCode, resp.Header.Get("Location"), string(body))
	logging.L().Infow("booking attempt classified",
		"slotId", target.SlotID, "outcome", res.Outcome, "reason", res.Reason)
	return res
}

var (
	redirectSuccessMarkers = []string{"payment", "confirm", "success"}
	successPhrases         = []string{"successfully", "booked", "appointment has been"}
	failurePhrases         = []string{"not available", "already booked", "error", "failed"}
)

// Classify maps a raw booking response onto a Result. The portal signals
// success inconsistently, sometimes by redirect and sometimes by 200 with
// human-readable text, so signals are checked in priority order and anything
// ambiguous surfaces as Pending rather than a guess.
func Classify(status int, location, body string) Result {
	switch {
	case status == http.StatusMovedPermanently || status == http.StatusFound:
		loc := strings.ToLower(location)
		for _, marker := range redirectSuccessMarkers {
			if strings.Contains(loc, marker) {
				return Result{Outcome: OutcomeBooked, RedirectURL: location}
			}
		}
		return Result{Outcome: OutcomePending, Reason: "Ambiguous redirect", RedirectURL: location}

	case status == http.StatusOK:
		// Failure phrases first: "already booked" contains "booked", so the
		// success scan would otherwise shadow it.
		lower := strings.ToLower(body)
		for _, phrase := range failurePhrases {
			if strings.Contains(lower, phrase) {
				return Result{Outcome: OutcomeFailed, Reason: "Slot no longer available"}
			}
		}
		for _, phrase := range successPhrases {
			if strings.Contains(lower, phrase) {
				return Result{Outcome: OutcomeBooked}
			}
		}
		return Result{Outcome: OutcomePending, Reason: "Response unclear"}

	case status == http.StatusTooManyRequests:
		return Result{Outcome: OutcomeFailed, Reason: "Rate limited"}

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Result{Outcome: OutcomeFailed, Reason: "Authentication failed"}

	case status >= 200 && status < 300:
		// Uncommon 2xx without a body signal.
		return Result{Outcome: OutcomePending, Reason: "Response unclear"}

	default:
		return Result{Outcome: OutcomeFailed, Reason: fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status))}
	}
}
