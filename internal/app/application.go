// Package app assembles the service layer: compliance registry, ledger,
// order book, dividend distributor, document registry, storage, and the HTTP
// surface.
package app

import (
	"context"
	"net/http"

	"github.com/R3E-Network/securities_layer/internal/app/domain/token"
	"github.com/R3E-Network/securities_layer/internal/app/events"
	"github.com/R3E-Network/securities_layer/internal/app/httpapi"
	"github.com/R3E-Network/securities_layer/internal/app/services/dividend"
	"github.com/R3E-Network/securities_layer/internal/app/services/documents"
	"github.com/R3E-Network/securities_layer/internal/app/services/ledger"
	"github.com/R3E-Network/securities_layer/internal/app/services/orderbook"
	"github.com/R3E-Network/securities_layer/internal/app/storage"
	"github.com/R3E-Network/securities_layer/internal/app/storage/memory"
	"github.com/R3E-Network/securities_layer/internal/app/storage/postgres"
	"github.com/R3E-Network/securities_layer/internal/app/system"
	"github.com/R3E-Network/securities_layer/internal/authz"
	"github.com/R3E-Network/securities_layer/internal/config"
	"github.com/R3E-Network/securities_layer/internal/middleware"
	"github.com/R3E-Network/securities_layer/internal/payment"
	"github.com/R3E-Network/securities_layer/pkg/logger"
)

// Stores groups the persistence interfaces the services consume. Zero-value
// fields are filled with the in-memory backend.
type Stores struct {
	Orders    storage.OrderStore
	Proceeds  storage.ProceedsStore
	Dividends storage.DividendStore
	Journal   storage.JournalStore
	Documents storage.DocumentStore
}

// Application owns every service and their shared infrastructure.
type Application struct {
	Config   *config.Config
	Registry *authz.Static
	Payment  *payment.Memory
	Sequence *ledger.Counter
	Events   *events.RingBuffer

	Ledger    *ledger.Service
	Orders    *orderbook.Service
	Dividends *dividend.Service
	Documents *documents.Service

	Handler http.Handler

	log     *logger.Logger
	manager *system.Manager
	pg      *postgres.Store
	done    chan struct{}
}

// New builds a fully wired application. When the config names a database DSN
// the durable backend is opened and migrated; otherwise everything runs in
// memory.
func New(cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	var (
		stores Stores
		pg     *postgres.Store
	)
	if cfg.Database.DSN != "" {
		var err error
		pg, err = postgres.Open(cfg.Database.DSN, log.WithField("component", "postgres"))
		if err != nil {
			return nil, err
		}
		stores = Stores{Orders: pg, Proceeds: pg, Dividends: pg, Journal: pg, Documents: pg}
	}
	fillDefaults(&stores)

	registry := buildRegistry(cfg)
	medium := payment.NewMemory()
	counter := ledger.NewCounter(cfg.Ledger.StartSequence)
	ring := events.NewRingBuffer(1000)

	ledgerSvc := ledger.New(registry, counter, stores.Journal, ring, log.WithField("component", "ledger"))

	orderSvc := orderbook.New(orderbook.Config{
		Registry:        registry,
		Ledger:          ledgerSvc,
		Medium:          medium,
		Orders:          stores.Orders,
		Proceeds:        stores.Proceeds,
		Events:          ring,
		Log:             log.WithField("component", "orderbook"),
		EscrowAddress:   token.Address(cfg.Orders.EscrowAddress),
		RequireApproval: cfg.Orders.RequireApproval,
	})

	dividendSvc := dividend.New(dividend.Config{
		Registry:      registry,
		Ledger:        ledgerSvc,
		Medium:        medium,
		Dividends:     stores.Dividends,
		Events:        ring,
		Log:           log.WithField("component", "dividend"),
		EscrowAddress: token.Address(cfg.Dividends.EscrowAddress),
		ReclaimPeriod: cfg.Dividends.ReclaimPeriod,
	})

	documentSvc := documents.New(registry, stores.Documents, ring, log.WithField("component", "documents"))

	manager := system.NewManager(log.WithField("component", "system"))
	manager.Register(dividend.NewSweeper(dividendSvc, cfg.Dividends.SweepSchedule, log.WithField("component", "dividend-sweeper")))

	api := httpapi.New(ledgerSvc, counter, orderSvc, dividendSvc, documentSvc, stores.Journal, ring, log.WithField("component", "httpapi"))

	auth := middleware.NewAuth(cfg.Auth.JWTSecret, log.WithField("component", "auth"), []string{"/healthz", "/metrics"})
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log.WithField("component", "ratelimit"))

	var handler http.Handler = api.Routes()
	handler = limiter.Handler(handler)
	handler = auth.Handler(handler)
	handler = middleware.CORS(cfg.Server.AllowedOrigins)(handler)

	return &Application{
		Config:    cfg,
		Registry:  registry,
		Payment:   medium,
		Sequence:  counter,
		Events:    ring,
		Ledger:    ledgerSvc,
		Orders:    orderSvc,
		Dividends: dividendSvc,
		Documents: documentSvc,
		Handler:   handler,
		log:       log,
		manager:   manager,
		pg:        pg,
		done:      make(chan struct{}),
	}, nil
}

// Start brings up the background services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop shuts down background services and closes storage.
func (a *Application) Stop(ctx context.Context) error {
	close(a.done)
	err := a.manager.Stop(ctx)
	if a.pg != nil {
		if closeErr := a.pg.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

// buildRegistry seeds the compliance registry from configuration. Both
// escrow addresses are whitelisted so they may appear as ledger parties, and
// the order escrow is granted manager authority so approved issuance fills
// can mint.
func buildRegistry(cfg *config.Config) *authz.Static {
	registry := authz.NewStatic(token.Address(cfg.Ledger.Owner))
	for _, m := range cfg.Ledger.Managers {
		registry.SetManager(token.Address(m), true)
		registry.SetWhitelisted(token.Address(m), true)
	}
	for _, w := range cfg.Ledger.Whitelist {
		registry.SetWhitelisted(token.Address(w), true)
	}

	orderEscrow := token.Address(cfg.Orders.EscrowAddress)
	registry.SetManager(orderEscrow, true)
	registry.SetWhitelisted(orderEscrow, true)
	registry.SetWhitelisted(token.Address(cfg.Dividends.EscrowAddress), true)
	return registry
}

func fillDefaults(s *Stores) {
	var mem *memory.Store
	lazy := func() *memory.Store {
		if mem == nil {
			mem = memory.New()
		}
		return mem
	}
	if s.Orders == nil {
		s.Orders = lazy()
	}
	if s.Proceeds == nil {
		s.Proceeds = lazy()
	}
	if s.Dividends == nil {
		s.Dividends = lazy()
	}
	if s.Journal == nil {
		s.Journal = lazy()
	}
	if s.Documents == nil {
		s.Documents = lazy()
	}
}
