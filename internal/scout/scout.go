package scout

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"slothive/config"
	"slothive/internal/logging"
	"slothive/internal/session"
	"slothive/internal/slot"
)

// ProbeStatus classifies the outcome of a single availability probe.
type ProbeStatus string

const (
	ProbeFound    ProbeStatus = "FOUND"
	ProbeEmpty    ProbeStatus = "EMPTY"
	ProbeCooldown ProbeStatus = "COOLDOWN"
	ProbeError    ProbeStatus = "ERROR"
)

// ProbeResult is the typed outcome of one probe. Probes never return a bare
// error; transport failures surface as ProbeError results so a single failed
// check can never bring the loop down.
type ProbeResult struct {
	Status    ProbeStatus       `json:"status"`
	Slots     []slot.Descriptor `json:"slots,omitempty"`
	Remaining time.Duration     `json:"remaining,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

// State holds the poller counters. Written only under the scout's mutex, read
// concurrently through Snapshot.
type State struct {
	Polling           bool
	Paused            bool
	CooldownUntil     time.Time
	ConsecutiveErrors int
	TotalChecks       int
	SlotsFound        int
	Param             string
}

// StartResult is the acknowledgment returned by Start: whether the loop was
// entered plus the result of the immediate first probe.
type StartResult struct {
	Polling bool
	Initial ProbeResult
}

// FoundFunc is invoked when a probe discovers available slots.
type FoundFunc func(param string, slots []slot.Descriptor)

// Scout repeatedly probes the provider's availability endpoint with jittered
// pacing, cooldowns, and exponential backoff.
type Scout struct {
	cfg      config.ScoutConfig
	observer session.Observer
	rotator  session.Rotator
	client   *http.Client
	onFound  FoundFunc
	now      func() time.Time

	mu     sync.Mutex
	st     State
	rng    *rand.Rand
	cancel context.CancelFunc
	gen    int
}

// New creates a Scout. The rotator may be nil; 429 responses then always take
// the standard cooldown.
func New(cfg config.ScoutConfig, observer session.Observer, rotator session.Rotator, onFound FoundFunc) *Scout {
	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			logging.L().Warnf("invalid proxy URL %q: %v; scout will not use a proxy", cfg.HTTPProxy, err)
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	return &Scout{
		cfg:      cfg,
		observer: observer,
		rotator:  rotator,
		onFound:  onFound,
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		now: time.Now,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Snapshot returns a copy of the current poller state.
func (s *Scout) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

// Start begins polling for the given parameter. A running loop is stopped
// first, so restarts are idempotent. One probe is performed immediately; if it
// already finds slots the loop is never entered.
func (s *Scout) Start(ctx context.Context, param string) StartResult {
	s.mu.Lock()
	if s.st.Polling && s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	s.st.Polling = true
	s.st.Paused = false
	s.st.Param = param
	s.mu.Unlock()

	initial := s.Probe(ctx, param)
	if initial.Status == ProbeFound {
		s.mu.Lock()
		s.st.Polling = false
		s.mu.Unlock()
		return StartResult{Polling: false, Initial: initial}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.gen != gen || !s.st.Polling {
		// Stopped or restarted while the initial probe was in flight.
		s.mu.Unlock()
		cancel()
		return StartResult{Polling: false, Initial: initial}
	}
	s.cancel = cancel
	s.mu.Unlock()

	go s.loop(loopCtx, gen, param, initial)
	return StartResult{Polling: true, Initial: initial}
}

// Stop halts the loop at the next check boundary and returns the cumulative
// counters. Safe to call whether or not the scout is polling.
func (s *Scout) Stop() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.st.Polling = false
	s.st.Paused = false
	return s.st
}

// Pause suspends probing without tearing the loop down; the loop keeps
// sleeping and skips probes until Resume.
func (s *Scout) Pause() {
	s.mu.Lock()
	s.st.Paused = true
	s.mu.Unlock()
}

// Resume re-enters the loop from scratch with the last parameter.
func (s *Scout) Resume(ctx context.Context) StartResult {
	s.mu.Lock()
	param := s.st.Param
	s.mu.Unlock()
	return s.Start(ctx, param)
}

// CheckOnce performs a single on-demand probe. It shares all cooldown and
// backoff state with the loop, so manual checks cannot bypass rate limiting.
func (s *Scout) CheckOnce(ctx context.Context, param string) ProbeResult {
	if param == "" {
		s.mu.Lock()
		param = s.st.Param
		s.mu.Unlock()
	}
	return s.Probe(ctx, param)
}

// loop is the jittered polling loop. Each iteration sleeps, re-checks the
// polling flag (mid-sleep cancellation), then probes. A cooldown result makes
// the next sleep the cooldown remainder instead of the standard interval.
func (s *Scout) loop(ctx context.Context, gen int, param string, initial ProbeResult) {
	next := s.nextDelay(initial)

	for {
		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.mu.Lock()
		active := s.st.Polling && s.gen == gen
		paused := s.st.Paused
		if active && !s.st.CooldownUntil.IsZero() && !s.now().Before(s.st.CooldownUntil) {
			s.st.CooldownUntil = time.Time{}
		}
		s.mu.Unlock()
		if !active {
			return
		}
		if paused {
			next = s.jitterDelay()
			continue
		}

		res := s.Probe(ctx, param)
		if res.Status == ProbeFound {
			s.mu.Lock()
			s.st.Polling = false
			s.mu.Unlock()
			return
		}
		next = s.nextDelay(res)
	}
}

// nextDelay picks the sleep before the following probe: the cooldown
// remainder after a COOLDOWN result, the jittered interval otherwise.
func (s *Scout) nextDelay(res ProbeResult) time.Duration {
	if res.Status == ProbeCooldown && res.Remaining > 0 {
		return res.Remaining
	}
	return s.jitterDelay()
}

// jitterDelay returns minInterval plus a uniform random jitter so request
// timing is not fingerprintable.
func (s *Scout) jitterDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.MaxJitter <= 0 {
		return s.cfg.MinInterval
	}
	return s.cfg.MinInterval + time.Duration(s.rng.Int63n(int64(s.cfg.MaxJitter)))
}

// Probe performs one availability check against the provider.
func (s *Scout) Probe(ctx context.Context, param string) ProbeResult {
	now := s.now()

	s.mu.Lock()
	if now.Before(s.st.CooldownUntil) {
		remaining := s.st.CooldownUntil.Sub(now)
		s.mu.Unlock()
		return ProbeResult{Status: ProbeCooldown, Remaining: remaining}
	}
	s.mu.Unlock()

	// Always a fresh snapshot; cookies may have been rotated since the last
	// probe.
	sess := s.observer.Session()
	if !sess.Authenticated {
		return ProbeResult{Status: ProbeError, Reason: "Not authenticated"}
	}

	s.mu.Lock()
	s.st.TotalChecks++
	s.mu.Unlock()

	status, body, err := s.fetch(ctx, param, sess)
	if err != nil {
		return s.recordError(err.Error())
	}

	switch {
	case status == http.StatusTooManyRequests:
		return s.rateLimited(ctx)
	case status < 200 || status > 299:
		return s.recordError(fmt.Sprintf("HTTP %d from availability endpoint", status))
	}

	slots, err := slot.ParseAvailability(body)
	if err != nil {
		return s.recordError(fmt.Sprintf("malformed availability response: %v", err))
	}

	s.mu.Lock()
	s.st.ConsecutiveErrors = 0
	if len(slots) == 0 {
		s.mu.Unlock()
		return ProbeResult{Status: ProbeEmpty}
	}
	s.st.SlotsFound += len(slots)
	s.mu.Unlock()

	logging.L().Infow("slots found", "param", param, "count", len(slots))
	if s.onFound != nil {
		s.onFound(param, slots)
	}
	return ProbeResult{Status: ProbeFound, Slots: slots}
}

// fetch issues the availability request with cache-defeating parameters and
// the session's headers and cookies.
func (s *Scout) fetch(ctx context.Context, param string, sess session.Context) (int, []byte, error) {
	u, err := url.Parse(s.cfg.AvailabilityURL)
	if err != nil {
		return 0, nil, fmt.Errorf("bad availability URL: %w", err)
	}
	q := u.Query()
	if param != "" {
		q.Set("data", param)
	}
	q.Set("_", strconv.FormatInt(s.now().UnixNano(), 10))
	s.mu.Lock()
	nonce := s.rng.Int63()
	s.mu.Unlock()
	q.Set("nc", strconv.FormatInt(nonce, 36))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range sess.Headers {
		req.Header.Set(k, v)
	}
	for _, c := range sess.Cookies {
		req.AddCookie(c)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("availability request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read availability response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// rateLimited handles a 429: try an identity rotation and come back almost
// immediately when it works, otherwise take the full cooldown.
func (s *Scout) rateLimited(ctx context.Context) ProbeResult {
	s.mu.Lock()
	s.st.ConsecutiveErrors++
	s.mu.Unlock()

	cooldown := s.cfg.Cooldown
	if s.rotator != nil {
		if err := s.rotator.Rotate(ctx); err != nil {
			logging.L().Warnw("identity rotation failed", "err", err)
		} else {
			logging.L().Infow("identity rotated after rate limit")
			cooldown = s.cfg.RotationCooldown
		}
	}

	s.mu.Lock()
	s.st.CooldownUntil = s.now().Add(cooldown)
	s.mu.Unlock()
	return ProbeResult{Status: ProbeCooldown, Remaining: cooldown}
}

// recordError counts a failed probe and applies exponential backoff once the
// consecutive-error count reaches the retry budget.
func (s *Scout) recordError(reason string) ProbeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.ConsecutiveErrors++
	if s.st.ConsecutiveErrors >= s.cfg.MaxRetries {
		exp := float64(s.st.ConsecutiveErrors - s.cfg.MaxRetries)
		backoff := time.Duration(float64(s.cfg.Cooldown) * math.Pow(s.cfg.BackoffMultiplier, exp))
		if backoff > s.cfg.MaxCooldown {
			backoff = s.cfg.MaxCooldown
		}
		until := s.now().Add(backoff)
		if until.After(s.st.CooldownUntil) {
			s.st.CooldownUntil = until
		}
	}

	logging.L().Warnw("probe failed", "reason", reason, "consecutive", s.st.ConsecutiveErrors)
	return ProbeResult{Status: ProbeError, Reason: reason}
}
