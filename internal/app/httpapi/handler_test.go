package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/R3E-Network/securities_layer/internal/app/domain/token"
	"github.com/R3E-Network/securities_layer/internal/app/events"
	"github.com/R3E-Network/securities_layer/internal/app/services/dividend"
	"github.com/R3E-Network/securities_layer/internal/app/services/documents"
	"github.com/R3E-Network/securities_layer/internal/app/services/ledger"
	"github.com/R3E-Network/securities_layer/internal/app/services/orderbook"
	"github.com/R3E-Network/securities_layer/internal/app/storage/memory"
	"github.com/R3E-Network/securities_layer/internal/authz"
	"github.com/R3E-Network/securities_layer/internal/middleware"
	"github.com/R3E-Network/securities_layer/internal/payment"
)

const (
	owner  = token.Address("owner")
	alice  = token.Address("alice")
	escrow = token.Address("escrow:orderbook")
)

func newTestHandler(t *testing.T) (*Handler, *payment.Memory) {
	t.Helper()

	registry := authz.NewStatic(owner)
	registry.SetWhitelisted(alice, true)
	registry.SetManager(escrow, true)
	registry.SetWhitelisted(escrow, true)

	counter := ledger.NewCounter(1)
	ring := events.NewRingBuffer(100)
	store := memory.New()
	medium := payment.NewMemory()
	ledgerSvc := ledger.New(registry, counter, store, ring, nil)

	orderSvc := orderbook.New(orderbook.Config{
		Registry:      registry,
		Ledger:        ledgerSvc,
		Medium:        medium,
		Orders:        store,
		Proceeds:      store,
		Events:        ring,
		EscrowAddress: escrow,
	})
	dividendSvc := dividend.New(dividend.Config{
		Registry:      registry,
		Ledger:        ledgerSvc,
		Medium:        medium,
		Dividends:     store,
		Events:        ring,
		EscrowAddress: "escrow:dividends",
	})
	docSvc := documents.New(registry, store, ring, nil)

	return New(ledgerSvc, counter, orderSvc, dividendSvc, docSvc, store, ring, nil), medium
}

func do(t *testing.T, h *Handler, caller token.Address, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != "" {
		req = req.WithContext(middleware.WithCaller(context.Background(), caller))
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestIssueAndQueryBalance(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, owner, http.MethodPost, "/v1/ledger/issue",
		map[string]any{"partition": "class-a", "holder": "alice", "amount": 500})
	if rec.Code != http.StatusOK {
		t.Fatalf("issue status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, alice, http.MethodGet, "/v1/ledger/balances/alice/class-a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance status = %d", rec.Code)
	}
	var resp struct {
		Balance uint64 `json:"balance"`
	}
	decode(t, rec, &resp)
	if resp.Balance != 500 {
		t.Fatalf("balance = %d, want 500", resp.Balance)
	}
}

func TestIssueUnauthorizedMapsTo403(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, alice, http.MethodPost, "/v1/ledger/issue",
		map[string]any{"partition": "class-a", "holder": "alice", "amount": 500})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	var resp struct {
		Code string `json:"code"`
	}
	decode(t, rec, &resp)
	if resp.Code != "unauthorized" {
		t.Fatalf("code = %q", resp.Code)
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	h, medium := newTestHandler(t)

	// Seed: alice holds shares; owner holds payment and allowance.
	rec := do(t, h, owner, http.MethodPost, "/v1/ledger/issue",
		map[string]any{"partition": "class-a", "holder": "alice", "amount": 100})
	if rec.Code != http.StatusOK {
		t.Fatalf("seed issue: %d", rec.Code)
	}
	rec = do(t, h, owner, http.MethodPost, "/v1/operators/authorize",
		map[string]any{"holder": "alice", "operator": string(escrow)})
	if rec.Code != http.StatusOK {
		t.Fatalf("seed grant: %d", rec.Code)
	}
	if err := medium.Mint(owner, 1000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := medium.Approve(owner, escrow, 1000); err != nil {
		t.Fatalf("approve: %v", err)
	}

	rec = do(t, h, alice, http.MethodPost, "/v1/orders",
		map[string]any{"partition": "class-a", "amount": 100, "price": 1, "sell": true, "token_payment": true})
	if rec.Code != http.StatusCreated {
		t.Fatalf("initiate status = %d, body %s", rec.Code, rec.Body.String())
	}
	var ord struct {
		ID uint64 `json:"id"`
	}
	decode(t, rec, &ord)

	rec = do(t, h, owner, http.MethodPost, "/v1/orders/1/accept", map[string]any{"quantity": 60})
	if rec.Code != http.StatusOK {
		t.Fatalf("accept status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, owner, http.MethodPost, "/v1/orders/1/fill", map[string]any{"quantity": 60})
	if rec.Code != http.StatusOK {
		t.Fatalf("fill status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, alice, http.MethodGet, "/v1/orders/1", nil)
	var got struct {
		Filled uint64 `json:"filled"`
	}
	decode(t, rec, &got)
	if got.Filled != 60 {
		t.Fatalf("filled = %d, want 60", got.Filled)
	}
}

func TestSequenceAdvance(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, owner, http.MethodGet, "/v1/sequence", nil)
	var seq struct {
		Sequence uint64 `json:"sequence"`
	}
	decode(t, rec, &seq)
	if seq.Sequence != 1 {
		t.Fatalf("sequence = %d, want 1", seq.Sequence)
	}

	rec = do(t, h, owner, http.MethodPost, "/v1/sequence/advance", nil)
	decode(t, rec, &seq)
	if seq.Sequence != 2 {
		t.Fatalf("advanced sequence = %d, want 2", seq.Sequence)
	}
}

func TestRecentEvents(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, owner, http.MethodPost, "/v1/ledger/issue",
		map[string]any{"partition": "class-a", "holder": "alice", "amount": 5})
	if rec.Code != http.StatusOK {
		t.Fatalf("issue: %d", rec.Code)
	}

	rec = do(t, h, owner, http.MethodGet, "/v1/events/recent?type=token.issued", nil)
	var resp struct {
		Events []events.Event `json:"events"`
	}
	decode(t, rec, &resp)
	if len(resp.Events) != 1 || resp.Events[0].Type != events.EventTokenIssued {
		t.Fatalf("events = %+v", resp.Events)
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, owner, http.MethodPut, "/v1/documents/prospectus",
		map[string]any{"uri": "ipfs://doc", "hash": "abc"})
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, alice, http.MethodGet, "/v1/documents/prospectus", nil)
	var doc struct {
		URI string `json:"uri"`
	}
	decode(t, rec, &doc)
	if doc.URI != "ipfs://doc" {
		t.Fatalf("uri = %q", doc.URI)
	}
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := do(t, h, "", http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	var resp struct {
		Status string `json:"status"`
	}
	decode(t, rec, &resp)
	if resp.Status != "ok" {
		t.Fatalf("status = %q", resp.Status)
	}
}
