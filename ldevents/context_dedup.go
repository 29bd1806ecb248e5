package ldevents

import (
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
)

// ContextDeduplicator implements C4: it decides whether a context needs a freshly synthesized "index"
// event (spec §4.4). The dispatcher calls ProcessContext once per event and treats the return value as
// the sole signal for whether to emit an Index event.
type ContextDeduplicator interface {
	// ProcessContext returns true the first time it is called for a given context's key within the
	// current window, false otherwise.
	ProcessContext(c ldcontext.Context) bool

	// Flush forgets all contexts seen so far.
	Flush()

	// FlushInterval returns the interval at which the dispatcher should call Flush automatically, and
	// whether such an interval applies at all (a client-side deduplicator has none).
	FlushInterval() (time.Duration, bool)
}

// lruContextDeduplicator is the server-side default: an LRU of fixed capacity, rotated on a timer. This
// mirrors the shape of the teacher's hand-rolled userKeys cache in the vendored event_processor.go, but
// promotes it to the pack's own bounded-cache dependency instead of a bespoke implementation.
type lruContextDeduplicator struct {
	cache         *lru.Cache
	flushInterval time.Duration
}

// NewLRUContextDeduplicator creates the default ContextDeduplicator. capacity <= 0 falls back to
// DefaultContextDeduplicatorCapacity; flushInterval <= 0 falls back to
// DefaultContextDeduplicatorFlushInterval.
func NewLRUContextDeduplicator(capacity int, flushInterval time.Duration) ContextDeduplicator {
	if capacity <= 0 {
		capacity = DefaultContextDeduplicatorCapacity
	}
	if flushInterval <= 0 {
		flushInterval = DefaultContextDeduplicatorFlushInterval
	}
	cache, _ := lru.New(capacity)
	return &lruContextDeduplicator{cache: cache, flushInterval: flushInterval}
}

func (d *lruContextDeduplicator) ProcessContext(c ldcontext.Context) bool {
	key := canonicalContextKey(c)
	if d.cache.Contains(key) {
		return false
	}
	d.cache.Add(key, struct{}{})
	return true
}

func (d *lruContextDeduplicator) Flush() {
	d.cache.Purge()
}

func (d *lruContextDeduplicator) FlushInterval() (time.Duration, bool) {
	return d.flushInterval, true
}

// nullContextDeduplicator is the client-side flavor: it never considers a context new, so no Index
// events are ever synthesized (spec §4.4: "The client-side variant may always return false").
type nullContextDeduplicator struct{}

// NewNullContextDeduplicator creates a ContextDeduplicator suitable for client-side SDK configurations,
// where every context is already fully known to the receiving service and no index events are needed.
func NewNullContextDeduplicator() ContextDeduplicator {
	return nullContextDeduplicator{}
}

func (nullContextDeduplicator) ProcessContext(ldcontext.Context) bool { return false }
func (nullContextDeduplicator) Flush()                                {}
func (nullContextDeduplicator) FlushInterval() (time.Duration, bool)  { return 0, false }

// canonicalContextKey builds a stable identity key for a context, used only for dedup bookkeeping (never
// emitted). Multi-kind contexts are keyed by the ordered kind:key pairs of their constituents.
func canonicalContextKey(c ldcontext.Context) string {
	if !c.Multiple() {
		return string(c.Kind()) + ":" + c.Key()
	}
	var b strings.Builder
	for i := 0; i < c.IndividualContextCount(); i++ {
		ic := c.IndividualContextByIndex(i)
		if !ic.IsDefined() {
			continue
		}
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(string(ic.Kind()))
		b.WriteByte(':')
		b.WriteString(ic.Key())
	}
	return b.String()
}
