package memory

import (
	"context"
	"testing"

	"github.com/R3E-Network/securities_layer/internal/app/domain/dividend"
	"github.com/R3E-Network/securities_layer/internal/app/domain/document"
	"github.com/R3E-Network/securities_layer/internal/app/domain/order"
	"github.com/R3E-Network/securities_layer/internal/app/domain/token"
	"github.com/R3E-Network/securities_layer/internal/errors"
)

func TestOrderIDsAreSequential(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.CreateOrder(ctx, order.Order{Initiator: "alice", Amount: 10})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := s.CreateOrder(ctx, order.Order{Initiator: "bob", Amount: 20})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ID != 1 || second.ID != 2 {
		t.Fatalf("ids = %d, %d, want 1, 2", first.ID, second.ID)
	}

	orders, err := s.ListOrders(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != 1 || orders[1].ID != 2 {
		t.Fatalf("list order wrong: %+v", orders)
	}
}

func TestUpdateUnknownOrder(t *testing.T) {
	s := New()
	_, err := s.UpdateOrder(context.Background(), order.Order{ID: 42})
	if !errors.Is(err, errors.CodeNotFound) {
		t.Fatalf("update unknown: %v", err)
	}
}

func TestProceedsDefaultsToZeroRecord(t *testing.T) {
	s := New()
	ctx := context.Background()

	p, err := s.GetProceeds(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Address != "alice" || p.Native != 0 || p.Token != 0 {
		t.Fatalf("zero record wrong: %+v", p)
	}

	if err := s.PutProceeds(ctx, order.Proceeds{Address: "alice", Token: 5}); err != nil {
		t.Fatalf("put: %v", err)
	}
	p, err = s.GetProceeds(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Token != 5 {
		t.Fatalf("token = %d, want 5", p.Token)
	}
}

func TestClaimedRelation(t *testing.T) {
	s := New()
	ctx := context.Background()

	div, err := s.CreateDividend(ctx, dividend.Dividend{Partition: "class-a", Amount: 100})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed, err := s.HasClaimed(ctx, div.ID, "alice")
	if err != nil || claimed {
		t.Fatalf("fresh claim state = %v, %v", claimed, err)
	}
	if err := s.MarkClaimed(ctx, div.ID, "alice"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	claimed, err = s.HasClaimed(ctx, div.ID, "alice")
	if err != nil || !claimed {
		t.Fatalf("post-mark claim state = %v, %v", claimed, err)
	}

	// The relation is per (dividend, holder): double marking conflicts,
	// other holders stay unmarked.
	if err := s.MarkClaimed(ctx, div.ID, "alice"); !errors.Is(err, errors.CodeConflict) {
		t.Fatalf("double mark: %v", err)
	}
	claimed, _ = s.HasClaimed(ctx, div.ID, "bob")
	if claimed {
		t.Fatal("bob marked claimed without claiming")
	}

	// Unmarking clears the relation so a mark can be replayed.
	if err := s.UnmarkClaimed(ctx, div.ID, "alice"); err != nil {
		t.Fatalf("unmark: %v", err)
	}
	claimed, _ = s.HasClaimed(ctx, div.ID, "alice")
	if claimed {
		t.Fatal("alice still marked after unmark")
	}
	if err := s.MarkClaimed(ctx, div.ID, "alice"); err != nil {
		t.Fatalf("re-mark: %v", err)
	}
}

func TestJournalFilterAndLimit(t *testing.T) {
	s := New()
	ctx := context.Background()

	entries := []token.JournalEntry{
		{Kind: token.EntryIssue, To: "alice", Amount: 100},
		{Kind: token.EntryTransfer, From: "alice", To: "bob", Amount: 40},
		{Kind: token.EntryRedeem, From: "bob", Amount: 10},
	}
	for _, e := range entries {
		if _, err := s.AppendEntry(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// Holder filter matches either side, newest first.
	got, err := s.ListEntries(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Kind != token.EntryTransfer || got[1].Kind != token.EntryIssue {
		t.Fatalf("filtered list wrong: %+v", got)
	}

	got, err = s.ListEntries(ctx, "", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Kind != token.EntryRedeem {
		t.Fatalf("limited list wrong: %+v", got)
	}
}

func TestDocumentUpsert(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.PutDocument(ctx, document.Document{Name: "prospectus", URI: "ipfs://v1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutDocument(ctx, document.Document{Name: "prospectus", URI: "ipfs://v2"}); err != nil {
		t.Fatalf("re-put: %v", err)
	}

	doc, err := s.GetDocument(ctx, "prospectus")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.URI != "ipfs://v2" {
		t.Fatalf("uri = %s, want ipfs://v2", doc.URI)
	}
	if _, err := s.GetDocument(ctx, "missing"); !errors.Is(err, errors.CodeNotFound) {
		t.Fatalf("get missing: %v", err)
	}
}
