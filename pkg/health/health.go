// Package health serves liveness and readiness probes.
//
// Checks run in the background on a fixed interval and the endpoints only
// report the last observed state, so a probe never blocks on a slow
// dependency. A check flips to failing after FailureThreshold consecutive
// errors and back after SuccessThreshold consecutive passes.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Kind selects the probe a check contributes to.
type Kind int

const (
	Liveness Kind = iota
	Readiness
)

// Check describes a registered check.
type Check struct {
	Name             string
	Kind             Kind
	Timeout          time.Duration
	Func             CheckFunc
	FailureThreshold int
	SuccessThreshold int
}

type state struct {
	Check

	passing atomic.Bool
	lastErr atomic.Pointer[error]

	// Owned by the check goroutine.
	fails, oks int
}

func (s *state) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	err := s.Func(ctx)
	s.lastErr.Store(&err)
	if err != nil {
		s.oks = 0
		if s.fails++; s.fails >= s.FailureThreshold {
			s.passing.Store(false)
		}
		return
	}
	s.fails = 0
	if s.oks++; s.oks >= s.SuccessThreshold {
		s.passing.Store(true)
	}
}

func (s *state) failure() string {
	if s.passing.Load() {
		return ""
	}
	if p := s.lastErr.Load(); p != nil && *p != nil {
		return (*p).Error()
	}
	return "failing"
}

// Health tracks the checks of one process.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*state
	cancel context.CancelFunc
}

// New returns a Health that reports not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// Add registers c. Zero thresholds default to 3 failures and 1 success; a
// zero timeout defaults to one second. Checks start out passing.
func (h *Health) Add(c Check) {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	s := &state{Check: c}
	s.passing.Store(true)

	h.mu.Lock()
	h.checks = append(h.checks, s)
	h.mu.Unlock()
}

// AddLivenessCheck registers a check on /livez.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.Add(Check{Name: name, Kind: Liveness, Timeout: timeout, Func: fn})
}

// AddReadinessCheck registers a check on /readyz.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.Add(Check{Name: name, Kind: Readiness, Timeout: timeout, Func: fn})
}

// Start runs every registered check now and then every interval until Stop
// or ctx cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := append([]*state(nil), h.checks...)
	h.mu.Unlock()

	for _, s := range checks {
		go func() {
			t := time.NewTicker(interval)
			defer t.Stop()
			for {
				s.run(ctx)
				select {
				case <-ctx.Done():
					return
				case <-t.C:
				}
			}
		}()
	}
}

// Stop cancels the background checks. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady marks the process ready or draining.
func (h *Health) SetReady(ready bool) { h.ready.Store(ready) }

// IsReady reports whether the process is marked ready and all readiness
// checks pass.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	return len(h.failures(Readiness)) == 0
}

func (h *Health) failures(kind Kind) map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]string)
	for _, s := range h.checks {
		if s.Kind != kind {
			continue
		}
		if msg := s.failure(); msg != "" {
			out[s.Name] = msg
		}
	}
	return out
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.failures(Liveness))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(Readiness)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, failures)
}

// writeStatus responds 200 {"status":"ok"} or 503 with the failing checks.
func writeStatus(w http.ResponseWriter, failures map[string]string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	code := http.StatusOK
	if len(failures) == 0 {
		e.Str("ok")
	} else {
		code = http.StatusServiceUnavailable
		e.Str("unhealthy")

		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)

		e.FieldStart("checks")
		e.ObjStart()
		for _, name := range names {
			e.FieldStart(name)
			e.Str(failures[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
