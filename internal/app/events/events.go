// Package events provides the structured audit-event trail of the ledger.
// Every mutating operation emits a typed event carrying the acting address
// and affected quantities; external observers subscribe for the live stream
// or read back the recent window.
package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/R3E-Network/securities_layer/internal/app/domain/token"
)

// Type classifies the kind of audit event.
type Type string

const (
	// Ledger events
	EventTokenIssued      Type = "token.issued"
	EventTokenTransferred Type = "token.transferred"
	EventTokenRedeemed    Type = "token.redeemed"
	EventSnapshotRecorded Type = "snapshot.recorded"

	// Operator events
	EventOperatorAuthorized Type = "operator.authorized"
	EventOperatorRevoked    Type = "operator.revoked"

	// Order lifecycle events
	EventOrderInitiated   Type = "order.initiated"
	EventOrderAccepted    Type = "order.accepted"
	EventOrderApproved    Type = "order.approved"
	EventOrderDisapproved Type = "order.disapproved"
	EventOrderFilled      Type = "order.filled"
	EventOrderCancelled   Type = "order.cancelled"

	// Escrow events
	EventProceedsWithdrawn Type = "proceeds.withdrawn"
	EventEscrowSwept       Type = "escrow.swept"

	// Dividend events
	EventDividendDeposited Type = "dividend.deposited"
	EventDividendClaimed   Type = "dividend.claimed"
	EventDividendReclaimed Type = "dividend.reclaimed"

	// Disclosure events
	EventDocumentUpdated Type = "document.updated"
)

// Event is one structured audit record.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Actor is the address the operation was invoked by.
	Actor token.Address `json:"actor,omitempty"`

	// Subject is the address whose balances or records were affected, where
	// that differs from the actor.
	Subject   token.Address   `json:"subject,omitempty"`
	Partition token.Partition `json:"partition,omitempty"`
	Amount    uint64          `json:"amount,omitempty"`
	Sequence  uint64          `json:"sequence,omitempty"`

	// OrderID / DividendID link the event to the append-only records.
	OrderID    uint64 `json:"order_id,omitempty"`
	DividendID uint64 `json:"dividend_id,omitempty"`

	Message  string            `json:"message,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Handler processes events as they occur.
type Handler func(Event)

// Filter decides whether an event should be delivered to a handler.
type Filter func(Event) bool

// Log is the audit event sink consumed by the services.
type Log interface {
	// Emit records an event and notifies subscribers.
	Emit(event Event)

	// Subscribe registers a handler for all events; the returned function
	// unsubscribes it.
	Subscribe(handler Handler) func()

	// SubscribeFiltered registers a handler behind a filter.
	SubscribeFiltered(filter Filter, handler Handler) func()

	// Recent returns up to n most recent events, newest first.
	Recent(n int) []Event

	// RecentByType returns up to n most recent events of one type.
	RecentByType(eventType Type, n int) []Event
}

// RingBuffer is a thread-safe circular event buffer implementing Log.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextSub  int64
}

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

var _ Log = (*RingBuffer)(nil)

// NewRingBuffer creates a buffer holding the last size events.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

var eventSeq atomic.Int64

func nextEventID(ts time.Time) string {
	return fmt.Sprintf("%d-%d", ts.UnixNano(), eventSeq.Add(1))
}

// Emit adds an event and notifies handlers outside the lock.
func (rb *RingBuffer) Emit(event Event) {
	rb.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = nextEventID(event.Timestamp)
	}

	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// Subscribe registers a handler for all events.
func (rb *RingBuffer) Subscribe(handler Handler) func() {
	return rb.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler behind a filter.
func (rb *RingBuffer) SubscribeFiltered(filter Filter, handler Handler) func() {
	rb.mu.Lock()
	id := rb.nextSub
	rb.nextSub++
	rb.handlers = append(rb.handlers, handlerEntry{id: id, filter: filter, handler: handler})
	rb.mu.Unlock()

	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns up to n events, newest first.
func (rb *RingBuffer) Recent(n int) []Event {
	return rb.RecentByFilter(nil, n)
}

// RecentByType returns up to n events of one type, newest first.
func (rb *RingBuffer) RecentByType(eventType Type, n int) []Event {
	return rb.RecentByFilter(func(e Event) bool { return e.Type == eventType }, n)
}

// RecentByFilter returns up to n events passing the filter, newest first.
func (rb *RingBuffer) RecentByFilter(filter Filter, n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}

	result := make([]Event, 0, n)
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size*2) % rb.size
		e := rb.events[idx]
		if filter == nil || filter(e) {
			result = append(result, e)
		}
	}
	return result
}

// Nop is a Log that drops everything. Used when no observer is wired.
type Nop struct{}

var _ Log = Nop{}

func (Nop) Emit(Event)                               {}
func (Nop) Subscribe(Handler) func()                 { return func() {} }
func (Nop) SubscribeFiltered(Filter, Handler) func() { return func() {} }
func (Nop) Recent(int) []Event                       { return nil }
func (Nop) RecentByType(Type, int) []Event           { return nil }
