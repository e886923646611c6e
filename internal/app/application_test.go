package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/R3E-Network/securities_layer/internal/config"
	"github.com/R3E-Network/securities_layer/internal/middleware"
	"github.com/R3E-Network/securities_layer/pkg/logger"
)

func TestApplicationWiringInMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Ledger.Whitelist = []string{"alice"}

	application, err := New(cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer application.Stop(ctx)

	// Unauthenticated operational endpoints pass the middleware chain.
	rec := httptest.NewRecorder()
	application.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}

	// API endpoints demand a caller identity. No secret is configured, so
	// the caller header is trusted.
	rec = httptest.NewRecorder()
	application.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sequence", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/sequence", nil)
	req.Header.Set(middleware.CallerHeader, "alice")
	rec = httptest.NewRecorder()
	application.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestBuildRegistrySeedsEscrowAuthority(t *testing.T) {
	cfg := config.Default()
	cfg.Ledger.Managers = []string{"ops"}
	registry := buildRegistry(cfg)

	if !registry.IsManager("ops") || !registry.IsWhitelisted("ops") {
		t.Fatal("configured manager not seeded")
	}
	// The order escrow mints on approved issuance fills; the dividend escrow
	// only holds value.
	if !registry.IsManager("escrow:orderbook") {
		t.Fatal("order escrow lacks manager authority")
	}
	if registry.IsManager("escrow:dividends") {
		t.Fatal("dividend escrow should not carry manager authority")
	}
	if !registry.IsWhitelisted("escrow:dividends") {
		t.Fatal("dividend escrow not whitelisted")
	}
}
