package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters. Outcome maps are keyed
// by outcome label.
type Snapshot struct {
	Signups        map[string]uint64
	Logins         map[string]uint64
	PasswordResets map[string]uint64
	EmailChecks    map[string]uint64

	EmailCacheHits   uint64
	EmailCacheMisses uint64
	EmailCacheErrors uint64

	HashDurationCount   uint64
	HashDurationTotalNs int64
}

// Labels returns the keys of an outcome map in sorted order.
func Labels(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// counterVec is a set of counters keyed by label.
type counterVec struct {
	mu     sync.Mutex
	counts map[string]uint64
}

func (c *counterVec) inc(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]uint64)
	}
	c.counts[label]++
}

func (c *counterVec) snapshot() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// InMemoryRecorder keeps metrics in process memory.
type InMemoryRecorder struct {
	signups        counterVec
	logins         counterVec
	passwordResets counterVec
	emailChecks    counterVec

	emailCacheHits   uint64
	emailCacheMisses uint64
	emailCacheErrors uint64

	hashDurationCount   uint64
	hashDurationTotalNs int64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		Signups:             m.signups.snapshot(),
		Logins:              m.logins.snapshot(),
		PasswordResets:      m.passwordResets.snapshot(),
		EmailChecks:         m.emailChecks.snapshot(),
		EmailCacheHits:      atomic.LoadUint64(&m.emailCacheHits),
		EmailCacheMisses:    atomic.LoadUint64(&m.emailCacheMisses),
		EmailCacheErrors:    atomic.LoadUint64(&m.emailCacheErrors),
		HashDurationCount:   atomic.LoadUint64(&m.hashDurationCount),
		HashDurationTotalNs: atomic.LoadInt64(&m.hashDurationTotalNs),
	}
}

// IncSignup counts a signup attempt by outcome.
func (m *InMemoryRecorder) IncSignup(outcome string) { m.signups.inc(outcome) }

// IncLogin counts a login attempt by outcome.
func (m *InMemoryRecorder) IncLogin(outcome string) { m.logins.inc(outcome) }

// IncPasswordReset counts a reset attempt by outcome.
func (m *InMemoryRecorder) IncPasswordReset(outcome string) { m.passwordResets.inc(outcome) }

// IncEmailCheck counts an email check by outcome.
func (m *InMemoryRecorder) IncEmailCheck(outcome string) { m.emailChecks.inc(outcome) }

// IncEmailCacheHit increments cache hit counter.
func (m *InMemoryRecorder) IncEmailCacheHit() {
	atomic.AddUint64(&m.emailCacheHits, 1)
}

// IncEmailCacheMiss increments cache miss counter.
func (m *InMemoryRecorder) IncEmailCacheMiss() {
	atomic.AddUint64(&m.emailCacheMisses, 1)
}

// IncEmailCacheError increments the cache failure counter.
func (m *InMemoryRecorder) IncEmailCacheError() {
	atomic.AddUint64(&m.emailCacheErrors, 1)
}

// ObserveHashDuration records time spent hashing or verifying a password.
func (m *InMemoryRecorder) ObserveHashDuration(duration time.Duration) {
	atomic.AddUint64(&m.hashDurationCount, 1)
	atomic.AddInt64(&m.hashDurationTotalNs, duration.Nanoseconds())
}
