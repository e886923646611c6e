package storage

import (
	"context"

	"github.com/R3E-Network/securities_layer/internal/app/domain/dividend"
	"github.com/R3E-Network/securities_layer/internal/app/domain/document"
	"github.com/R3E-Network/securities_layer/internal/app/domain/order"
	"github.com/R3E-Network/securities_layer/internal/app/domain/token"
)

// OrderStore persists the append-only order book. CreateOrder assigns the
// next sequential ID; IDs are never reused and orders are never deleted.
type OrderStore interface {
	CreateOrder(ctx context.Context, ord order.Order) (order.Order, error)
	UpdateOrder(ctx context.Context, ord order.Order) (order.Order, error)
	GetOrder(ctx context.Context, id uint64) (order.Order, error)
	ListOrders(ctx context.Context) ([]order.Order, error)
}

// ProceedsStore persists unclaimed settlement proceeds per address.
// GetProceeds returns a zero-valued record for unknown addresses.
type ProceedsStore interface {
	GetProceeds(ctx context.Context, addr token.Address) (order.Proceeds, error)
	PutProceeds(ctx context.Context, p order.Proceeds) error
	ListProceeds(ctx context.Context) ([]order.Proceeds, error)
}

// DividendStore persists the append-only dividend ledger plus the separate
// (dividend, address) claimed relation.
type DividendStore interface {
	CreateDividend(ctx context.Context, div dividend.Dividend) (dividend.Dividend, error)
	UpdateDividend(ctx context.Context, div dividend.Dividend) (dividend.Dividend, error)
	GetDividend(ctx context.Context, id uint64) (dividend.Dividend, error)
	ListDividends(ctx context.Context) ([]dividend.Dividend, error)

	MarkClaimed(ctx context.Context, dividendID uint64, holder token.Address) error
	UnmarkClaimed(ctx context.Context, dividendID uint64, holder token.Address) error
	HasClaimed(ctx context.Context, dividendID uint64, holder token.Address) (bool, error)
}

// JournalStore persists the append-only transfer journal.
type JournalStore interface {
	AppendEntry(ctx context.Context, entry token.JournalEntry) (token.JournalEntry, error)
	ListEntries(ctx context.Context, holder token.Address, limit int) ([]token.JournalEntry, error)
}

// DocumentStore persists registry document metadata, keyed by name.
type DocumentStore interface {
	PutDocument(ctx context.Context, doc document.Document) error
	GetDocument(ctx context.Context, name string) (document.Document, error)
	ListDocuments(ctx context.Context) ([]document.Document, error)
}
