// Package events provides a publish/subscribe bus for interview
// lifecycle events. Events flow from the dialog engine, the agent graph
// and the interview service to subscribers such as the WebSocket stream
// and the MQTT relay. Publish on a nil *Bus is a no-op, so components do
// not need guard checks.
package events

import (
	"sync"
	"time"
)

// Sources identify the component that published an event.
const (
	SourceInterview = "interview"
	SourceDialog    = "dialog"
	SourceAgent     = "agent"
	SourceSchema    = "schema"
)

// Kinds describe the event within a source.
const (
	// KindTurnStart signals a conversational turn began.
	// Data: turn_id, message_len.
	KindTurnStart = "turn_start"
	// KindNodeEnter signals the agent graph entered a node.
	// Data: turn_id, node, iteration.
	KindNodeEnter = "node_enter"
	// KindToolCall signals a tool finished. Data: turn_id, tool, kind.
	KindToolCall = "tool_call"
	// KindSafetyFlagged signals the safety screen refused the message.
	// Data: turn_id, reason.
	KindSafetyFlagged = "safety_flagged"
	// KindVerification signals the audit result. Data: turn_id, status.
	KindVerification = "verification"
	// KindTurnComplete signals the end of a turn.
	// Data: turn_id, iterations, elapsed_ms.
	KindTurnComplete = "turn_complete"

	// KindQuestion signals the deterministic flow asked a field.
	// Data: field.
	KindQuestion = "question"
	// KindAnswerRejected signals an answer failed validation.
	// Data: field, message.
	KindAnswerRejected = "answer_rejected"
	// KindRecordAdded signals a group record was finalized.
	// Data: group, record_id.
	KindRecordAdded = "record_added"

	// KindProfileCompleted signals the interview has nothing left to ask.
	// Data: profile_id.
	KindProfileCompleted = "profile_completed"
	// KindProfileReset signals the subject started over.
	// Data: archived_profile_id, profile_id.
	KindProfileReset = "profile_reset"
	// KindDocumentMerged signals extracted document data was merged.
	// Data: profile_id, fields.
	KindDocumentMerged = "document_merged"

	// KindSchemaReloaded signals the question catalog was rebuilt.
	// Data: fields, groups.
	KindSchemaReloaded = "schema_reloaded"
)

// Event represents a single event published by a component.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Subject   string         `json:"subject,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Filter selects the events a subscriber receives. A nil Filter accepts
// everything.
type Filter func(Event) bool

// ForSubject returns a filter that accepts events about one subject.
func ForSubject(subject string) Filter {
	return func(e Event) bool { return e.Subject == subject }
}

// Bus is a non-blocking broadcast bus. Subscribers receive events on
// buffered channels; slow subscribers miss events rather than block
// publishers.
type Bus struct {
	mu         sync.RWMutex
	subs       map[chan Event]Filter
	recvToSend map[<-chan Event]chan Event
	now        func() time.Time
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]Filter),
		recvToSend: make(map[<-chan Event]chan Event),
		now:        time.Now,
	}
}

// Publish sends an event to all matching subscribers, stamping the time
// when it is unset. Full subscriber channels drop the event.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, filter := range b.subs {
		if filter != nil && !filter(e) {
			continue
		}
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit is shorthand for Publish with the fields spelled out.
func (b *Bus) Emit(source, kind, subject string, data map[string]any) {
	b.Publish(Event{Source: source, Kind: kind, Subject: subject, Data: data})
}

// Subscribe returns a channel that receives events accepted by filter.
// The caller must eventually call Unsubscribe.
func (b *Bus) Subscribe(bufSize int, filter Filter) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = filter
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Unknown
// channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
