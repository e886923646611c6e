// Package memory provides the in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is the default backend for
// tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/securities_layer/internal/app/domain/dividend"
	"github.com/R3E-Network/securities_layer/internal/app/domain/document"
	"github.com/R3E-Network/securities_layer/internal/app/domain/order"
	"github.com/R3E-Network/securities_layer/internal/app/domain/token"
	"github.com/R3E-Network/securities_layer/internal/app/storage"
	"github.com/R3E-Network/securities_layer/internal/errors"
)

// Store is an in-memory implementation of the storage interfaces.
type Store struct {
	mu sync.RWMutex

	nextOrderID    uint64
	nextDividendID uint64

	orders    map[uint64]order.Order
	proceeds  map[token.Address]order.Proceeds
	dividends map[uint64]dividend.Dividend
	claimed   map[claimKey]bool
	journal   []token.JournalEntry
	documents map[string]document.Document
}

type claimKey struct {
	dividendID uint64
	holder     token.Address
}

var _ storage.OrderStore = (*Store)(nil)
var _ storage.ProceedsStore = (*Store)(nil)
var _ storage.DividendStore = (*Store)(nil)
var _ storage.JournalStore = (*Store)(nil)
var _ storage.DocumentStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextOrderID:    1,
		nextDividendID: 1,
		orders:         make(map[uint64]order.Order),
		proceeds:       make(map[token.Address]order.Proceeds),
		dividends:      make(map[uint64]dividend.Dividend),
		claimed:        make(map[claimKey]bool),
		documents:      make(map[string]document.Document),
	}
}

// OrderStore implementation ---------------------------------------------------

func (s *Store) CreateOrder(_ context.Context, ord order.Order) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ord.ID = s.nextOrderID
	s.nextOrderID++

	now := time.Now().UTC()
	ord.CreatedAt = now
	ord.UpdatedAt = now

	s.orders[ord.ID] = ord
	return ord, nil
}

func (s *Store) UpdateOrder(_ context.Context, ord order.Order) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.orders[ord.ID]
	if !ok {
		return order.Order{}, errors.NotFound("order %d not found", ord.ID)
	}

	ord.CreatedAt = original.CreatedAt
	ord.UpdatedAt = time.Now().UTC()

	s.orders[ord.ID] = ord
	return ord, nil
}

func (s *Store) GetOrder(_ context.Context, id uint64) (order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ord, ok := s.orders[id]
	if !ok {
		return order.Order{}, errors.NotFound("order %d not found", id)
	}
	return ord, nil
}

func (s *Store) ListOrders(_ context.Context) ([]order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]order.Order, 0, len(s.orders))
	for _, ord := range s.orders {
		result = append(result, ord)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ProceedsStore implementation ------------------------------------------------

func (s *Store) GetProceeds(_ context.Context, addr token.Address) (order.Proceeds, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.proceeds[addr]; ok {
		return p, nil
	}
	return order.Proceeds{Address: addr}, nil
}

func (s *Store) PutProceeds(_ context.Context, p order.Proceeds) error {
	if p.Address.Zero() {
		return errors.InvalidInput("proceeds address is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p.UpdatedAt = time.Now().UTC()
	s.proceeds[p.Address] = p
	return nil
}

func (s *Store) ListProceeds(_ context.Context) ([]order.Proceeds, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]order.Proceeds, 0, len(s.proceeds))
	for _, p := range s.proceeds {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Address < result[j].Address })
	return result, nil
}

// DividendStore implementation ------------------------------------------------

func (s *Store) CreateDividend(_ context.Context, div dividend.Dividend) (dividend.Dividend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	div.ID = s.nextDividendID
	s.nextDividendID++

	now := time.Now().UTC()
	div.CreatedAt = now
	div.UpdatedAt = now

	s.dividends[div.ID] = div
	return div, nil
}

func (s *Store) UpdateDividend(_ context.Context, div dividend.Dividend) (dividend.Dividend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.dividends[div.ID]
	if !ok {
		return dividend.Dividend{}, errors.NotFound("dividend %d not found", div.ID)
	}

	div.CreatedAt = original.CreatedAt
	div.UpdatedAt = time.Now().UTC()

	s.dividends[div.ID] = div
	return div, nil
}

func (s *Store) GetDividend(_ context.Context, id uint64) (dividend.Dividend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	div, ok := s.dividends[id]
	if !ok {
		return dividend.Dividend{}, errors.NotFound("dividend %d not found", id)
	}
	return div, nil
}

func (s *Store) ListDividends(_ context.Context) ([]dividend.Dividend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]dividend.Dividend, 0, len(s.dividends))
	for _, div := range s.dividends {
		result = append(result, div)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) MarkClaimed(_ context.Context, dividendID uint64, holder token.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dividends[dividendID]; !ok {
		return errors.NotFound("dividend %d not found", dividendID)
	}
	key := claimKey{dividendID: dividendID, holder: holder}
	if s.claimed[key] {
		return errors.Conflict("dividend %d already claimed by %s", dividendID, holder)
	}
	s.claimed[key] = true
	return nil
}

func (s *Store) UnmarkClaimed(_ context.Context, dividendID uint64, holder token.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, claimKey{dividendID: dividendID, holder: holder})
	return nil
}

func (s *Store) HasClaimed(_ context.Context, dividendID uint64, holder token.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claimed[claimKey{dividendID: dividendID, holder: holder}], nil
}

// JournalStore implementation -------------------------------------------------

func (s *Store) AppendEntry(_ context.Context, entry token.JournalEntry) (token.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.journal = append(s.journal, entry)
	return entry, nil
}

func (s *Store) ListEntries(_ context.Context, holder token.Address, limit int) ([]token.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]token.JournalEntry, 0)
	for i := len(s.journal) - 1; i >= 0; i-- {
		entry := s.journal[i]
		if !holder.Zero() && entry.From != holder && entry.To != holder {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// DocumentStore implementation ------------------------------------------------

func (s *Store) PutDocument(_ context.Context, doc document.Document) error {
	if doc.Name == "" {
		return errors.InvalidInput("document name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc.UpdatedAt = time.Now().UTC()
	s.documents[doc.Name] = doc
	return nil
}

func (s *Store) GetDocument(_ context.Context, name string) (document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[name]
	if !ok {
		return document.Document{}, errors.NotFound("document %q not found", name)
	}
	return doc, nil
}

func (s *Store) ListDocuments(_ context.Context) ([]document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]document.Document, 0, len(s.documents))
	for _, doc := range s.documents {
		result = append(result, doc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}
