package events

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Category identifies one telemetry bucket. Each category owns its own
// ring buffer; cross-category ordering is not guaranteed.
type Category string

const (
	CategoryConsole   Category = "console"
	CategoryNetwork   Category = "network"
	CategoryError     Category = "error"
	CategoryDialog    Category = "dialog"
	CategoryMutation  Category = "mutation"
	CategoryLifecycle Category = "lifecycle"
	CategoryWorkflow  Category = "workflow"
	CategoryCustom    Category = "custom"
)

// Wildcard subscribes to every category.
const Wildcard Category = "*"

// DefaultCapacity is the per-category ring buffer size used when the
// configured capacity is zero.
const DefaultCapacity = 2000

// Categories returns every known category in stable order.
func Categories() []Category {
	return []Category{
		CategoryConsole,
		CategoryNetwork,
		CategoryError,
		CategoryDialog,
		CategoryMutation,
		CategoryLifecycle,
		CategoryWorkflow,
		CategoryCustom,
	}
}

// ParseCategory validates a user-supplied category name.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown event category %q", s)
}

// Event is a single telemetry record. Events are immutable once pushed;
// consumers receive copies and must not mutate Payload.
type Event struct {
	ID        string                 `json:"id"`
	Category  Category               `json:"category"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Handler receives events for a subscription.
type Handler func(Event)

// Predicate filters events before a subscription's handler runs.
type Predicate func(Event) bool

type subscription struct {
	id        string
	category  Category
	handler   Handler
	predicate Predicate
}

type ringBuffer struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	pushed   int64
}

func (rb *ringBuffer) append(ev *Event) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	// Timestamp under the buffer lock so buffer order and timestamp order
	// agree for concurrent pushers.
	ev.Timestamp = time.Now()
	if len(rb.events) >= rb.capacity {
		// Evict oldest first.
		excess := len(rb.events) - rb.capacity + 1
		rb.events = rb.events[excess:]
	}
	rb.events = append(rb.events, *ev)
	rb.pushed++
}

func (rb *ringBuffer) snapshot() []Event {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	out := make([]Event, len(rb.events))
	copy(out, rb.events)
	return out
}

func (rb *ringBuffer) clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.events = rb.events[:0]
}

func (rb *ringBuffer) stats() (int64, int) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.pushed, len(rb.events)
}

// Bus stores telemetry in per-category ring buffers and fans events out to
// subscriptions. Pushing is safe from any goroutine; buffer mutation is
// serialized per category.
type Bus struct {
	capacity int
	buffers  map[Category]*ringBuffer

	subMu  sync.RWMutex
	subs   []*subscription
	closed bool
}

// NewBus creates a bus whose per-category buffers hold capacity events
// each. A non-positive capacity selects DefaultCapacity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	buffers := make(map[Category]*ringBuffer, len(Categories()))
	for _, c := range Categories() {
		buffers[c] = &ringBuffer{capacity: capacity}
	}
	return &Bus{capacity: capacity, buffers: buffers}
}

// Push appends one event to the category's buffer, evicting the oldest
// entry if the buffer is full, then notifies matching subscriptions
// synchronously in registration order. A failure in one subscriber never
// blocks delivery to the others.
func (b *Bus) Push(category Category, eventType, source string, payload map[string]interface{}) Event {
	rb, ok := b.buffers[category]
	if !ok {
		rb = b.buffers[CategoryCustom]
		category = CategoryCustom
	}

	ev := Event{
		ID:       uuid.New().String(),
		Category: category,
		Type:     eventType,
		Source:   source,
		Payload:  payload,
	}
	rb.append(&ev)
	b.notify(ev)
	return ev
}

func (b *Bus) notify(ev Event) {
	b.subMu.RLock()
	subs := make([]*subscription, 0, len(b.subs))
	subs = append(subs, b.subs...)
	b.subMu.RUnlock()

	for _, sub := range subs {
		if sub.category != Wildcard && sub.category != ev.Category {
			continue
		}
		if sub.predicate != nil && !sub.predicate(ev) {
			continue
		}
		func() {
			defer func() {
				// One misbehaving subscriber must not break delivery
				// to the rest.
				_ = recover()
			}()
			sub.handler(ev)
		}()
	}
}

// Subscribe registers a handler for one category, or Wildcard for all.
// Handlers run synchronously on the pushing goroutine.
func (b *Bus) Subscribe(category Category, handler Handler) string {
	return b.SubscribeMatching(category, handler, nil)
}

// SubscribeMatching registers a handler guarded by a predicate.
func (b *Bus) SubscribeMatching(category Category, handler Handler, predicate Predicate) string {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if b.closed {
		return ""
	}
	sub := &subscription{
		id:        uuid.New().String(),
		category:  category,
		handler:   handler,
		predicate: predicate,
	}
	b.subs = append(b.subs, sub)
	return sub.id
}

// Unsubscribe removes a subscription. Returns false if the ID is unknown.
func (b *Bus) Unsubscribe(id string) bool {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Close drops every subscription. Buffered events stay queryable.
func (b *Bus) Close() {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subs = nil
	b.closed = true
}

// Query selects events from one or all categories. Filters apply in a
// fixed order: category selection, since-timestamp, source, type, URL
// substring, then tail-limit, so Limit always returns the most recent N
// matching events.
type Query struct {
	Category    Category  `json:"category,omitempty"`
	Since       time.Time `json:"since,omitempty"`
	Source      string    `json:"source,omitempty"`
	Type        string    `json:"type,omitempty"`
	URLContains string    `json:"url,omitempty"`
	Limit       int       `json:"limit,omitempty"`
}

// Result carries the filtered events plus the total match count before
// the tail-limit was applied.
type Result struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
}

// Get applies the query against the buffered events.
func (b *Bus) Get(q Query) Result {
	var merged []Event
	if q.Category == "" || q.Category == Wildcard {
		for _, c := range Categories() {
			merged = append(merged, b.buffers[c].snapshot()...)
		}
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].Timestamp.Before(merged[j].Timestamp)
		})
	} else if rb, ok := b.buffers[q.Category]; ok {
		merged = rb.snapshot()
	}

	filtered := merged[:0:0]
	for _, ev := range merged {
		if !q.Since.IsZero() && !ev.Timestamp.After(q.Since) {
			continue
		}
		if q.Source != "" && ev.Source != q.Source {
			continue
		}
		if q.Type != "" && ev.Type != q.Type {
			continue
		}
		if q.URLContains != "" && !strings.Contains(eventURL(ev), q.URLContains) {
			continue
		}
		filtered = append(filtered, ev)
	}

	total := len(filtered)
	if q.Limit > 0 && len(filtered) > q.Limit {
		filtered = filtered[len(filtered)-q.Limit:]
	}
	return Result{Events: filtered, Total: total}
}

func eventURL(ev Event) string {
	if ev.Payload == nil {
		return ""
	}
	if u, ok := ev.Payload["url"].(string); ok {
		return u
	}
	return ""
}

// Clear empties one category's buffer, or all of them for Wildcard or
// the empty string.
func (b *Bus) Clear(category Category) {
	if category == "" || category == Wildcard {
		for _, rb := range b.buffers {
			rb.clear()
		}
		return
	}
	if rb, ok := b.buffers[category]; ok {
		rb.clear()
	}
}

// CategoryStats reports one buffer's running totals.
type CategoryStats struct {
	Pushed   int64 `json:"pushed"`
	Buffered int   `json:"buffered"`
	Capacity int   `json:"capacity"`
}

// Stats returns per-category push totals and buffer occupancy.
func (b *Bus) Stats() map[Category]CategoryStats {
	out := make(map[Category]CategoryStats, len(b.buffers))
	for c, rb := range b.buffers {
		pushed, buffered := rb.stats()
		out[c] = CategoryStats{Pushed: pushed, Buffered: buffered, Capacity: rb.capacity}
	}
	return out
}
