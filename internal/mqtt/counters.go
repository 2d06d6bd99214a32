package mqtt

import (
	"sync"
	"time"
)

// DailyCounters counts events by kind and starts over at local midnight.
// It is safe for concurrent use.
type DailyCounters struct {
	mu     sync.Mutex
	counts map[string]int64
	day    string
	loc    *time.Location
	now    func() time.Time
}

// NewDailyCounters creates counters that roll over at midnight in loc.
// A nil loc means [time.Local].
func NewDailyCounters(loc *time.Location) *DailyCounters {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyCounters{
		counts: make(map[string]int64),
		loc:    loc,
		now:    time.Now,
	}
	d.day = d.today()
	return d
}

func (d *DailyCounters) today() string {
	return d.now().In(d.loc).Format(time.DateOnly)
}

// Add records one occurrence of kind.
func (d *DailyCounters) Add(kind string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeReset()
	d.counts[kind]++
}

// Get returns today's count for kind.
func (d *DailyCounters) Get(kind string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeReset()
	return d.counts[kind]
}

// maybeReset zeroes the counts when the local date changed. Must be
// called with d.mu held.
func (d *DailyCounters) maybeReset() {
	if today := d.today(); today != d.day {
		clear(d.counts)
		d.day = today
	}
}
