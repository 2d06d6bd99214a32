package llm

import (
	"errors"
	"strings"
	"sync"
)

// KeyRotator hands out API keys round-robin so load spreads across
// several credentials. The position is held on the value, not globally,
// so each provider (and each test) owns its own rotation.
type KeyRotator struct {
	mu   sync.Mutex
	keys []string
	next int
}

// NewKeyRotator creates a rotator over keys, which must be non-empty.
func NewKeyRotator(keys []string) (*KeyRotator, error) {
	var clean []string
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			clean = append(clean, k)
		}
	}
	if len(clean) == 0 {
		return nil, errors.New("no API keys configured")
	}
	return &KeyRotator{keys: clean}, nil
}

// ParseKeys splits a comma-separated key list.
func ParseKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Next returns the index and value of the key to use for the next call.
func (r *KeyRotator) Next() (int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.next
	r.next = (r.next + 1) % len(r.keys)
	return i, r.keys[i]
}

// Len reports how many keys are in rotation.
func (r *KeyRotator) Len() int {
	return len(r.keys)
}
