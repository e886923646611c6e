package events

import (
	"testing"
)

func TestRingBufferEviction(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Emit(Event{Type: EventTokenIssued, Amount: uint64(i)})
	}

	recent := rb.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("recent returned %d events, want 3", len(recent))
	}
	// Newest first; the two oldest were evicted.
	for i, want := range []uint64{4, 3, 2} {
		if recent[i].Amount != want {
			t.Fatalf("recent[%d].Amount = %d, want %d", i, recent[i].Amount, want)
		}
	}
}

func TestRecentByType(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Emit(Event{Type: EventTokenIssued})
	rb.Emit(Event{Type: EventOrderFilled, OrderID: 1})
	rb.Emit(Event{Type: EventOrderFilled, OrderID: 2})

	fills := rb.RecentByType(EventOrderFilled, 10)
	if len(fills) != 2 || fills[0].OrderID != 2 || fills[1].OrderID != 1 {
		t.Fatalf("fills wrong: %+v", fills)
	}
	if got := rb.RecentByType(EventDividendClaimed, 10); len(got) != 0 {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	rb := NewRingBuffer(10)

	var all, filtered []Event
	unsubAll := rb.Subscribe(func(e Event) { all = append(all, e) })
	unsubFiltered := rb.SubscribeFiltered(
		func(e Event) bool { return e.Type == EventOrderFilled },
		func(e Event) { filtered = append(filtered, e) },
	)

	rb.Emit(Event{Type: EventTokenIssued})
	rb.Emit(Event{Type: EventOrderFilled})
	if len(all) != 2 || len(filtered) != 1 {
		t.Fatalf("delivery counts = %d, %d, want 2, 1", len(all), len(filtered))
	}

	unsubAll()
	unsubFiltered()
	rb.Emit(Event{Type: EventOrderFilled})
	if len(all) != 2 || len(filtered) != 1 {
		t.Fatal("handlers still firing after unsubscribe")
	}
}

func TestEmitAssignsIDAndTimestamp(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Emit(Event{Type: EventTokenIssued})
	got := rb.Recent(1)[0]
	if got.ID == "" || got.Timestamp.IsZero() {
		t.Fatalf("event not stamped: %+v", got)
	}
}
