// Package connwatch tracks whether the interviewer's external services
// (model providers, the MQTT broker) are reachable.
//
// Each watched service is probed in a loop. While a service is down the
// delay between probes grows exponentially up to a ceiling; once it is
// up the loop settles into a fixed poll interval. Transitions are logged
// and surfaced through [Monitor.Status] for the health endpoint.
package connwatch

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Backoff controls probe timing.
type Backoff struct {
	// Initial is the first retry delay after a failed probe (default: 2s).
	Initial time.Duration
	// Max caps the retry delay (default: 60s).
	Max time.Duration
	// Interval is the poll period while the service is up (default: 60s).
	Interval time.Duration
	// Timeout bounds a single probe (default: 10s).
	Timeout time.Duration
}

// DefaultBackoff returns 2s doubling to 60s while down, 60s polling
// while up, and a 10s probe timeout.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:  2 * time.Second,
		Max:      60 * time.Second,
		Interval: 60 * time.Second,
		Timeout:  10 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Interval <= 0 {
		b.Interval = d.Interval
	}
	if b.Timeout <= 0 {
		b.Timeout = d.Timeout
	}
	return b
}

// Status is the health of one service, suitable for JSON.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	// Failures counts consecutive failed probes.
	Failures int `json:"failures,omitempty"`
}

type service struct {
	name    string
	probe   ProbeFunc
	backoff Backoff

	mu     sync.Mutex
	status Status
}

// record stores a probe outcome and reports whether readiness changed.
func (s *service) record(err error, now time.Time) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.status.Ready
	s.status.LastCheck = now
	if err != nil {
		s.status.Ready = false
		s.status.LastError = err.Error()
		s.status.Failures++
	} else {
		s.status.Ready = true
		s.status.LastError = ""
		s.status.Failures = 0
	}
	return was != s.status.Ready
}

func (s *service) snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// nextDelay is the wait before the next probe given the consecutive
// failure count.
func (b Backoff) nextDelay(failures int) time.Duration {
	if failures == 0 {
		return b.Interval
	}
	d := b.Initial
	for i := 1; i < failures && d < b.Max; i++ {
		d *= 2
	}
	return min(d, b.Max)
}

// Monitor watches a set of services. It is safe for concurrent use.
type Monitor struct {
	mu       sync.RWMutex
	services map[string]*service
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewMonitor creates an empty Monitor.
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		services: make(map[string]*service),
		logger:   logger.With("component", "connwatch"),
	}
}

// Watch starts probing a service until ctx is cancelled. The first probe
// runs immediately. Watching a name twice replaces the status entry.
func (m *Monitor) Watch(ctx context.Context, name string, probe ProbeFunc, b Backoff) {
	svc := &service{
		name:    name,
		probe:   probe,
		backoff: b.withDefaults(),
		status:  Status{Name: name},
	}
	m.mu.Lock()
	m.services[name] = svc
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, svc)
	}()
}

func (m *Monitor) run(ctx context.Context, svc *service) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		probeCtx, cancel := context.WithTimeout(ctx, svc.backoff.Timeout)
		err := svc.probe(probeCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}

		changed := svc.record(err, time.Now())
		st := svc.snapshot()
		switch {
		case changed && st.Ready:
			m.logger.Info("service reachable", "service", svc.name)
		case changed:
			m.logger.Warn("service unreachable", "service", svc.name, "error", err)
		case err != nil:
			m.logger.Debug("service still unreachable", "service", svc.name, "failures", st.Failures, "error", err)
		}

		timer.Reset(svc.backoff.nextDelay(st.Failures))
	}
}

// Status returns every watched service, sorted by name.
func (m *Monitor) Status() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.services))
	for _, svc := range m.services {
		out = append(out, svc.snapshot())
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Status) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Ready reports whether every watched service is reachable.
func (m *Monitor) Ready() bool {
	for _, st := range m.Status() {
		if !st.Ready {
			return false
		}
	}
	return true
}

// Wait blocks until every watch loop has exited.
func (m *Monitor) Wait() {
	m.wg.Wait()
}
