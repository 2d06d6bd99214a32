package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/resume-interviewer/internal/config"
	"github.com/nugget/resume-interviewer/internal/events"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*paho.Publish
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, p)
	return &paho.PublishResponse{}, nil
}

func (f *fakePublisher) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.msgs))
	for i, m := range f.msgs {
		out[i] = m.Topic
	}
	return out
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker:             "mqtt://localhost:1883",
		DeviceName:         "test-interviewer",
		DiscoveryPrefix:    "homeassistant",
		PublishIntervalSec: 60,
		MaxEventsPerMinute: 3,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadOrCreateInstanceID_CreatesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	id, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if len(strings.Split(id, "-")) != 5 {
		t.Errorf("id %q does not look like a UUID", id)
	}

	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != id {
		t.Errorf("file content = %q, want %q", got, id)
	}

	again, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if again != id {
		t.Errorf("second = %q, want %q (should be stable)", again, id)
	}
}

func TestNewDeviceInfo(t *testing.T) {
	info := NewDeviceInfo("test-instance-id", "test-device")
	if info.Name != "test-device" {
		t.Errorf("Name = %q, want %q", info.Name, "test-device")
	}
	if len(info.Identifiers) != 1 || info.Identifiers[0] != "test-instance-id" {
		t.Errorf("Identifiers = %v, want [test-instance-id]", info.Identifiers)
	}
	if info.Model != "Resume Interviewer" {
		t.Errorf("Model = %q, want %q", info.Model, "Resume Interviewer")
	}
}

func TestRelay_TopicPaths(t *testing.T) {
	r := New(testConfig(), "test-id", events.New(), quietLogger())
	e := events.Event{Source: events.SourceInterview, Kind: events.KindProfileCompleted, Subject: "user-42"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"baseTopic", r.baseTopic(), "interviewer/test-interviewer"},
		{"availabilityTopic", r.availabilityTopic(), "interviewer/test-interviewer/availability"},
		{"stateTopic", r.stateTopic("turns_today"), "interviewer/test-interviewer/turns_today/state"},
		{"discoveryTopic", r.discoveryTopic("turns_today"), "homeassistant/sensor/test-interviewer/turns_today/config"},
		{"eventTopic", r.eventTopic(e), "interviewer/test-interviewer/events/interview/profile_completed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestRelay_DiscoveryPayloads(t *testing.T) {
	r := New(testConfig(), "instance-123", events.New(), quietLogger())
	pub := &fakePublisher{}

	r.publishDiscovery(t.Context(), pub)

	if len(pub.msgs) != len(sensors) {
		t.Fatalf("published %d discovery messages, want %d", len(pub.msgs), len(sensors))
	}
	seen := make(map[string]bool)
	for _, m := range pub.msgs {
		if !m.Retain || m.QoS != 1 {
			t.Errorf("%s: retain=%v qos=%d, want retained QoS 1", m.Topic, m.Retain, m.QoS)
		}
		var cfg SensorConfig
		if err := json.Unmarshal(m.Payload, &cfg); err != nil {
			t.Fatalf("unmarshal %s: %v", m.Topic, err)
		}
		if !strings.HasPrefix(cfg.UniqueID, "instance-123_") {
			t.Errorf("unique_id = %q, want instance prefix", cfg.UniqueID)
		}
		if cfg.AvailabilityTopic != r.availabilityTopic() {
			t.Errorf("availability_topic = %q", cfg.AvailabilityTopic)
		}
		if seen[cfg.UniqueID] {
			t.Errorf("duplicate unique_id %q", cfg.UniqueID)
		}
		seen[cfg.UniqueID] = true
	}
}

func TestRelay_ForwardsAndCountsEvents(t *testing.T) {
	r := New(testConfig(), "id", events.New(), quietLogger())
	pub := &fakePublisher{}
	r.pub = pub

	e := events.Event{
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Source:    events.SourceAgent,
		Kind:      events.KindTurnComplete,
		Subject:   "user-42",
		Data:      map[string]any{"iterations": 2},
	}
	r.relay(t.Context(), e)

	topics := pub.topics()
	if len(topics) != 1 || topics[0] != "interviewer/test-interviewer/events/agent/turn_complete" {
		t.Fatalf("topics = %v", topics)
	}
	for _, topic := range topics {
		if strings.Contains(topic, "user-42") {
			t.Errorf("subject leaked into topic %q", topic)
		}
	}
	if pub.msgs[0].Retain {
		t.Error("event published retained")
	}
	var got events.Event
	if err := json.Unmarshal(pub.msgs[0].Payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.Kind != events.KindTurnComplete || got.Source != events.SourceAgent {
		t.Errorf("payload = %+v", got)
	}
	if n := r.counters.Get(events.KindTurnComplete); n != 1 {
		t.Errorf("turn counter = %d, want 1", n)
	}
}

func TestRelay_RateLimitStillCounts(t *testing.T) {
	r := New(testConfig(), "id", events.New(), quietLogger())
	pub := &fakePublisher{}
	r.pub = pub

	for range 5 {
		r.relay(t.Context(), events.Event{Source: events.SourceDialog, Kind: events.KindAnswerRejected})
	}

	if got := len(pub.topics()); got != 3 {
		t.Errorf("published %d events, want 3 (limit)", got)
	}
	if n := r.counters.Get(events.KindAnswerRejected); n != 5 {
		t.Errorf("counter = %d, want 5", n)
	}

	r.limiter.tick()
	r.relay(t.Context(), events.Event{Source: events.SourceDialog, Kind: events.KindAnswerRejected})
	if got := len(pub.topics()); got != 4 {
		t.Errorf("published %d events after tick, want 4", got)
	}
}

func TestRelay_PublishStates(t *testing.T) {
	r := New(testConfig(), "id", events.New(), quietLogger())
	pub := &fakePublisher{}
	r.pub = pub
	r.counters.Add(events.KindProfileReset)
	r.counters.Add(events.KindProfileReset)

	r.publishStates(t.Context())

	found := false
	for _, m := range pub.msgs {
		if m.Topic == r.stateTopic("resets_today") {
			found = true
			if string(m.Payload) != "2" {
				t.Errorf("resets_today = %q, want 2", m.Payload)
			}
		}
	}
	if !found {
		t.Error("resets_today state not published")
	}
}

func TestRelay_PublishErrorsAreLogged(t *testing.T) {
	r := New(testConfig(), "id", events.New(), quietLogger())
	r.pub = &fakePublisher{err: errors.New("not connected")}

	// Must not panic or block.
	r.relay(t.Context(), events.Event{Source: events.SourceAgent, Kind: events.KindTurnStart})
	r.publishStates(t.Context())
}

func TestRelay_StopWithoutStart(t *testing.T) {
	r := New(testConfig(), "id", events.New(), quietLogger())
	if err := r.Stop(t.Context()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestDailyCounters_MidnightReset(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	d := NewDailyCounters(time.UTC)
	d.now = func() time.Time { return now }
	d.day = d.today()

	d.Add("turn_complete")
	d.Add("turn_complete")
	if n := d.Get("turn_complete"); n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}

	now = now.Add(2 * time.Minute)
	if n := d.Get("turn_complete"); n != 0 {
		t.Errorf("count after midnight = %d, want 0", n)
	}
}

func TestDailyCounters_NilLocation(t *testing.T) {
	d := NewDailyCounters(nil)
	if d.loc != time.Local {
		t.Error("nil location should default to time.Local")
	}
}

func TestDailyCounters_Concurrent(t *testing.T) {
	d := NewDailyCounters(time.UTC)
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				d.Add("k")
			}
		}()
	}
	wg.Wait()
	if n := d.Get("k"); n != 1000 {
		t.Errorf("count = %d, want 1000", n)
	}
}
