// Package audit keeps a bounded in-memory trail of administrative
// activity: catalog mutations observed through the admin hook chain and
// notable auth operations recorded by the API layer. The trail is a
// fixed-size ring, so it answers "what changed recently" without a
// database round trip; the persistent auth log lives in the store.
package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/giantswarm/mcp-gateway/internal/catalog"
)

// Record is one audit trail entry.
type Record struct {
	Time      time.Time `json:"time"`
	RequestID string    `json:"request_id,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Kind      string    `json:"kind"`
	Action    string    `json:"action"`
	EntityID  string    `json:"entity_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Log is a concurrency-safe ring of audit records. Once full, each
// append evicts the oldest record.
type Log struct {
	mu    sync.Mutex
	ring  []Record
	next  int
	count int
	now   func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock substitutes the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// DefaultCapacity is used when NewLog is given a non-positive size.
const DefaultCapacity = 1024

// NewLog returns an empty ring holding at most capacity records.
func NewLog(capacity int, opts ...Option) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{
		ring: make([]Record, capacity),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append adds a record, stamping Time when unset.
func (l *Log) Append(rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec.Time.IsZero() {
		rec.Time = l.now()
	}
	l.ring[l.next] = rec
	l.next = (l.next + 1) % len(l.ring)
	if l.count < len(l.ring) {
		l.count++
	}
}

// Recent returns up to n records, newest first. n <= 0 returns all
// retained records.
func (l *Log) Recent(n int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > l.count {
		n = l.count
	}
	out := make([]Record, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.ring)) % len(l.ring)
		out = append(out, l.ring[idx])
	}
	return out
}

// Len reports how many records the ring currently retains.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Hooks adapts the log into a catalog admin hook chain member. Pre never
// vetoes; Post records the committed mutation with the request ID the
// HTTP layer stamped on the context.
func Hooks(log *Log) catalog.AdminHooks {
	return catalogHooks{log: log}
}

type catalogHooks struct {
	log *Log
}

func (catalogHooks) Pre(context.Context, catalog.AdminEvent) error { return nil }

func (h catalogHooks) Post(ctx context.Context, ev catalog.AdminEvent) {
	rec := Record{
		RequestID: chimw.GetReqID(ctx),
		Actor:     ev.Actor.Email,
		Kind:      string(ev.Kind),
		Action:    string(ev.Action),
		EntityID:  ev.ID,
	}
	switch {
	case ev.Action == catalog.ActionStatusChange && ev.Enabled != nil:
		if *ev.Enabled {
			rec.Detail = "enabled"
		} else {
			rec.Detail = "disabled"
		}
	case len(ev.Changed) > 0:
		rec.Detail = strings.Join(ev.Changed, ",")
	}
	h.log.Append(rec)
}
