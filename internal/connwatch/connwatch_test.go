package connwatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testBackoff() Backoff {
	return Backoff{
		Initial:  time.Millisecond,
		Max:      4 * time.Millisecond,
		Interval: 5 * time.Millisecond,
		Timeout:  50 * time.Millisecond,
	}
}

func quietMonitor() *Monitor {
	return NewMonitor(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDefaultBackoff(t *testing.T) {
	t.Parallel()
	b := DefaultBackoff()
	if b.Initial != 2*time.Second || b.Max != 60*time.Second || b.Interval != 60*time.Second || b.Timeout != 10*time.Second {
		t.Errorf("DefaultBackoff() = %+v", b)
	}
	if got := (Backoff{}).withDefaults(); got != b {
		t.Errorf("zero backoff with defaults = %+v, want %+v", got, b)
	}
}

func TestBackoff_NextDelay(t *testing.T) {
	t.Parallel()
	b := Backoff{Initial: 2 * time.Second, Max: 10 * time.Second, Interval: time.Minute}
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, time.Minute},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := b.nextDelay(tt.failures); got != tt.want {
			t.Errorf("nextDelay(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestMonitor_ImmediateSuccess(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	m := quietMonitor()
	m.Watch(ctx, "anthropic", func(context.Context) error { return nil }, testBackoff())

	eventually(t, "ready", m.Ready)
	st := m.Status()
	if len(st) != 1 || st[0].Name != "anthropic" || st[0].LastError != "" || st[0].LastCheck.IsZero() {
		t.Errorf("Status() = %+v", st)
	}
}

func TestMonitor_RecoversAfterFailures(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var attempts atomic.Int32
	probe := func(context.Context) error {
		if attempts.Add(1) <= 3 {
			return errors.New("connection refused")
		}
		return nil
	}

	m := quietMonitor()
	m.Watch(ctx, "ollama", probe, testBackoff())

	eventually(t, "recovery", m.Ready)
	if n := attempts.Load(); n < 4 {
		t.Errorf("attempts = %d, want at least 4", n)
	}
	if st := m.Status()[0]; st.Failures != 0 || st.LastError != "" {
		t.Errorf("status after recovery = %+v", st)
	}
}

func TestMonitor_ServiceGoesDown(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var down atomic.Bool
	probe := func(context.Context) error {
		if down.Load() {
			return errors.New("broker gone")
		}
		return nil
	}

	m := quietMonitor()
	m.Watch(ctx, "mqtt", probe, testBackoff())
	eventually(t, "ready", m.Ready)

	down.Store(true)
	eventually(t, "down", func() bool { return !m.Ready() })
	eventually(t, "failures counted", func() bool { return m.Status()[0].Failures >= 2 })
	if st := m.Status()[0]; st.LastError != "broker gone" {
		t.Errorf("LastError = %q", st.LastError)
	}
}

func TestMonitor_ProbeTimeout(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	m := quietMonitor()
	m.Watch(ctx, "gemini", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, testBackoff())

	eventually(t, "timeout recorded", func() bool { return m.Status()[0].Failures > 0 })
	if m.Ready() {
		t.Error("hung service reported ready")
	}
}

func TestMonitor_StatusSortedAndWaitReturns(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())

	m := quietMonitor()
	ok := func(context.Context) error { return nil }
	m.Watch(ctx, "ollama", ok, testBackoff())
	m.Watch(ctx, "anthropic", ok, testBackoff())
	m.Watch(ctx, "mqtt", ok, testBackoff())

	st := m.Status()
	if len(st) != 3 || st[0].Name != "anthropic" || st[1].Name != "mqtt" || st[2].Name != "ollama" {
		t.Errorf("Status() order = %+v", st)
	}

	cancel()
	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait() did not return after cancel")
	}
}

func TestMonitor_EmptyIsReady(t *testing.T) {
	t.Parallel()
	if !quietMonitor().Ready() {
		t.Error("monitor with no services should be ready")
	}
}
