// Package httpapi exposes the service layer over REST plus a websocket event
// stream. The caller identity is taken from the request context set by the
// auth middleware; handlers never trust identities in request bodies.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/R3E-Network/securities_layer/internal/app/domain/order"
	"github.com/R3E-Network/securities_layer/internal/app/domain/token"
	"github.com/R3E-Network/securities_layer/internal/app/events"
	"github.com/R3E-Network/securities_layer/internal/app/metrics"
	"github.com/R3E-Network/securities_layer/internal/app/services/dividend"
	"github.com/R3E-Network/securities_layer/internal/app/services/documents"
	"github.com/R3E-Network/securities_layer/internal/app/services/ledger"
	"github.com/R3E-Network/securities_layer/internal/app/services/orderbook"
	"github.com/R3E-Network/securities_layer/internal/app/storage"
	"github.com/R3E-Network/securities_layer/internal/errors"
	"github.com/R3E-Network/securities_layer/internal/middleware"
	"github.com/R3E-Network/securities_layer/pkg/logger"
)

// Handler serves the REST API.
type Handler struct {
	ledger    *ledger.Service
	sequence  *ledger.Counter
	orders    *orderbook.Service
	dividends *dividend.Service
	documents *documents.Service
	journal   storage.JournalStore
	events    events.Log
	log       *logger.Logger
	upgrader  websocket.Upgrader
	started   time.Time
}

// New constructs the handler.
func New(
	ledgerSvc *ledger.Service,
	sequence *ledger.Counter,
	orders *orderbook.Service,
	dividends *dividend.Service,
	docs *documents.Service,
	journal storage.JournalStore,
	evts events.Log,
	log *logger.Logger,
) *Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	return &Handler{
		ledger:    ledgerSvc,
		sequence:  sequence,
		orders:    orders,
		dividends: dividends,
		documents: docs,
		journal:   journal,
		events:    evts,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		started: time.Now(),
	}
}

// Routes registers every endpoint on a new router.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/v1").Subrouter()

	// Ledger
	api.HandleFunc("/ledger/issue", h.handleIssue).Methods(http.MethodPost)
	api.HandleFunc("/ledger/transfer", h.handleTransfer).Methods(http.MethodPost)
	api.HandleFunc("/ledger/redeem", h.handleRedeem).Methods(http.MethodPost)
	api.HandleFunc("/ledger/balances/{holder}", h.handleBalances).Methods(http.MethodGet)
	api.HandleFunc("/ledger/balances/{holder}/{partition}", h.handlePartitionBalance).Methods(http.MethodGet)
	api.HandleFunc("/ledger/supply", h.handleSupply).Methods(http.MethodGet)
	api.HandleFunc("/ledger/history/balance", h.handleBalanceAt).Methods(http.MethodGet)
	api.HandleFunc("/ledger/history/supply", h.handleSupplyAt).Methods(http.MethodGet)
	api.HandleFunc("/ledger/journal", h.handleJournal).Methods(http.MethodGet)

	// Operators
	api.HandleFunc("/operators/authorize", h.handleAuthorizeOperator).Methods(http.MethodPost)
	api.HandleFunc("/operators/revoke", h.handleRevokeOperator).Methods(http.MethodPost)
	api.HandleFunc("/operators/check", h.handleCheckOperator).Methods(http.MethodGet)

	// Sequence
	api.HandleFunc("/sequence", h.handleSequence).Methods(http.MethodGet)
	api.HandleFunc("/sequence/advance", h.handleSequenceAdvance).Methods(http.MethodPost)

	// Orders
	api.HandleFunc("/orders", h.handleInitiateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders", h.handleListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", h.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/accept", h.handleAcceptOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/approve", h.handleApproveOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/disapprove", h.handleDisapproveOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/fill", h.handleFillOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/cancel", h.handleCancelOrder).Methods(http.MethodPost)

	// Proceeds and escrow
	api.HandleFunc("/proceeds/claim", h.handleClaimProceeds).Methods(http.MethodPost)
	api.HandleFunc("/proceeds/{address}", h.handleGetProceeds).Methods(http.MethodGet)
	api.HandleFunc("/escrow/withdraw-all", h.handleWithdrawAll).Methods(http.MethodPost)

	// Dividends
	api.HandleFunc("/dividends", h.handleDepositDividend).Methods(http.MethodPost)
	api.HandleFunc("/dividends", h.handleListDividends).Methods(http.MethodGet)
	api.HandleFunc("/dividends/{id}", h.handleGetDividend).Methods(http.MethodGet)
	api.HandleFunc("/dividends/{id}/claimable", h.handleClaimableDividend).Methods(http.MethodGet)
	api.HandleFunc("/dividends/{id}/claim", h.handleClaimDividend).Methods(http.MethodPost)
	api.HandleFunc("/dividends/{id}/reclaim", h.handleReclaimDividend).Methods(http.MethodPost)

	// Documents
	api.HandleFunc("/documents", h.handleListDocuments).Methods(http.MethodGet)
	api.HandleFunc("/documents/{name}", h.handleSetDocument).Methods(http.MethodPut)
	api.HandleFunc("/documents/{name}", h.handleGetDocument).Methods(http.MethodGet)

	// Events
	api.HandleFunc("/events/recent", h.handleRecentEvents).Methods(http.MethodGet)
	api.HandleFunc("/events/ws", h.handleEventStream).Methods(http.MethodGet)

	// Operational surface
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			metrics.InstrumentHandler(req.URL.Path, next).ServeHTTP(w, req)
		})
	})
	return r
}

// Ledger ----------------------------------------------------------------------

type moveRequest struct {
	Partition string `json:"partition"`
	Holder    string `json:"holder,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Amount    uint64 `json:"amount"`
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller := middleware.CallerFromContext(r.Context())
	err := h.ledger.Issue(r.Context(), caller, token.Partition(req.Partition), token.Address(req.Holder), req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"holder":    req.Holder,
		"partition": req.Partition,
		"balance":   h.ledger.PartitionBalanceOf(token.Address(req.Holder), token.Partition(req.Partition)),
	})
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller := middleware.CallerFromContext(r.Context())
	err := h.ledger.Transfer(r.Context(), caller, token.Partition(req.Partition), token.Address(req.From), token.Address(req.To), req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "transferred"})
}

func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller := middleware.CallerFromContext(r.Context())
	err := h.ledger.Redeem(r.Context(), caller, token.Partition(req.Partition), token.Address(req.Holder), req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "redeemed"})
}

func (h *Handler) handleBalances(w http.ResponseWriter, r *http.Request) {
	holder := token.Address(mux.Vars(r)["holder"])
	h.writeJSON(w, http.StatusOK, map[string]any{
		"holder":   holder,
		"balance":  h.ledger.BalanceOf(holder),
		"holdings": h.ledger.PartitionsOf(holder),
	})
}

func (h *Handler) handlePartitionBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	holder := token.Address(vars["holder"])
	partition := token.Partition(vars["partition"])
	h.writeJSON(w, http.StatusOK, map[string]any{
		"holder":    holder,
		"partition": partition,
		"balance":   h.ledger.PartitionBalanceOf(holder, partition),
	})
}

func (h *Handler) handleSupply(w http.ResponseWriter, r *http.Request) {
	partition := r.URL.Query().Get("partition")
	if partition != "" {
		h.writeJSON(w, http.StatusOK, map[string]any{
			"partition": partition,
			"supply":    h.ledger.PartitionTotalSupply(token.Partition(partition)),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"supply": h.ledger.TotalSupply()})
}

func (h *Handler) handleBalanceAt(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	seq, err := strconv.ParseUint(q.Get("sequence"), 10, 64)
	if err != nil {
		h.writeError(w, r, errors.InvalidInput("sequence must be a non-negative integer"))
		return
	}
	holder := token.Address(q.Get("holder"))
	partition := token.Partition(q.Get("partition"))
	h.writeJSON(w, http.StatusOK, map[string]any{
		"holder":    holder,
		"partition": partition,
		"sequence":  seq,
		"balance":   h.ledger.BalanceAt(holder, partition, seq),
	})
}

func (h *Handler) handleSupplyAt(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	seq, err := strconv.ParseUint(q.Get("sequence"), 10, 64)
	if err != nil {
		h.writeError(w, r, errors.InvalidInput("sequence must be a non-negative integer"))
		return
	}
	partition := q.Get("partition")
	if partition != "" {
		h.writeJSON(w, http.StatusOK, map[string]any{
			"partition": partition,
			"sequence":  seq,
			"supply":    h.ledger.PartitionSupplyAt(token.Partition(partition), seq),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"sequence": seq,
		"supply":   h.ledger.TotalSupplyAt(seq),
	})
}

func (h *Handler) handleJournal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(w, r, errors.InvalidInput("limit must be a positive integer"))
			return
		}
		limit = n
	}
	entries, err := h.journal.ListEntries(r.Context(), token.Address(q.Get("holder")), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Operators ------------------------------------------------------------------

type operatorRequest struct {
	Holder    string `json:"holder"`
	Operator  string `json:"operator"`
	Partition string `json:"partition,omitempty"`
}

func (h *Handler) handleAuthorizeOperator(w http.ResponseWriter, r *http.Request) {
	var req operatorRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller := middleware.CallerFromContext(r.Context())
	err := h.ledger.AuthorizeOperator(r.Context(), caller, token.Address(req.Holder), token.Address(req.Operator), token.Partition(req.Partition))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "authorized"})
}

func (h *Handler) handleRevokeOperator(w http.ResponseWriter, r *http.Request) {
	var req operatorRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller := middleware.CallerFromContext(r.Context())
	err := h.ledger.RevokeOperator(r.Context(), caller, token.Address(req.Holder), token.Address(req.Operator), token.Partition(req.Partition))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}

func (h *Handler) handleCheckOperator(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"authorized": h.ledger.IsOperator(
			token.Address(q.Get("holder")),
			token.Address(q.Get("operator")),
			token.Partition(q.Get("partition")),
		),
	})
}

// Sequence -------------------------------------------------------------------

func (h *Handler) handleSequence(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"sequence": h.sequence.Current()})
}

func (h *Handler) handleSequenceAdvance(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"sequence": h.sequence.Advance()})
}

// Orders ---------------------------------------------------------------------

type initiateOrderRequest struct {
	Partition     string `json:"partition"`
	Amount        uint64 `json:"amount"`
	Price         uint64 `json:"price"`
	Sell          bool   `json:"sell"`
	ShareIssuance bool   `json:"share_issuance"`
	TokenPayment  bool   `json:"token_payment"`
}

func (h *Handler) handleInitiateOrder(w http.ResponseWriter, r *http.Request) {
	var req initiateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller := middleware.CallerFromContext(r.Context())
	ord, err := h.orders.Initiate(r.Context(), caller, token.Partition(req.Partition), req.Amount, req.Price, order.Kind{
		Sell:          req.Sell,
		ShareIssuance: req.ShareIssuance,
		TokenPayment:  req.TokenPayment,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, ord)
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	ord, err := h.orders.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ord)
}

func (h *Handler) handleAcceptOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Quantity uint64 `json:"quantity"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	caller := middleware.CallerFromContext(r.Context())
	ord, err := h.orders.Accept(r.Context(), caller, id, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ord)
}

func (h *Handler) handleApproveOrder(w http.ResponseWriter, r *http.Request) {
	h.orderAction(w, r, h.orders.Approve)
}

func (h *Handler) handleDisapproveOrder(w http.ResponseWriter, r *http.Request) {
	h.orderAction(w, r, h.orders.Disapprove)
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	h.orderAction(w, r, h.orders.Cancel)
}

func (h *Handler) orderAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, caller token.Address, id uint64) (order.Order, error)) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	caller := middleware.CallerFromContext(r.Context())
	ord, err := fn(r.Context(), caller, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ord)
}

func (h *Handler) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Quantity    uint64 `json:"quantity"`
		NativeValue uint64 `json:"native_value"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	caller := middleware.CallerFromContext(r.Context())
	ord, err := h.orders.Fill(r.Context(), caller, id, req.Quantity, req.NativeValue)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ord)
}

// Proceeds and escrow --------------------------------------------------------

func (h *Handler) handleGetProceeds(w http.ResponseWriter, r *http.Request) {
	p, err := h.orders.ProceedsOf(r.Context(), token.Address(mux.Vars(r)["address"]))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleClaimProceeds(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	caller := middleware.CallerFromContext(r.Context())
	addr := token.Address(req.Address)
	if addr.Zero() {
		addr = caller
	}
	p, err := h.orders.ClaimProceeds(r.Context(), caller, addr)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleWithdrawAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To string `json:"to"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	caller := middleware.CallerFromContext(r.Context())
	native, tokens, err := h.orders.UnsafeWithdrawAll(r.Context(), caller, token.Address(req.To))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"native": native, "token": tokens})
}

// Dividends ------------------------------------------------------------------

func (h *Handler) handleDepositDividend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Partition         string    `json:"partition"`
		ReferenceSequence uint64    `json:"reference_sequence,omitempty"`
		RecordDate        time.Time `json:"record_date,omitempty"`
		PayoutDate        time.Time `json:"payout_date"`
		Amount            uint64    `json:"amount"`
		PayoutToken       string    `json:"payout_token,omitempty"`
		NativeValue       uint64    `json:"native_value,omitempty"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	caller := middleware.CallerFromContext(r.Context())
	div, err := h.dividends.Deposit(r.Context(), caller, dividend.DepositRequest{
		Partition:         token.Partition(req.Partition),
		ReferenceSequence: req.ReferenceSequence,
		RecordDate:        req.RecordDate,
		PayoutDate:        req.PayoutDate,
		Amount:            req.Amount,
		PayoutToken:       token.Address(req.PayoutToken),
		NativeValue:       req.NativeValue,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, div)
}

func (h *Handler) handleListDividends(w http.ResponseWriter, r *http.Request) {
	divs, err := h.dividends.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"dividends": divs})
}

func (h *Handler) handleGetDividend(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	div, err := h.dividends.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, div)
}

func (h *Handler) handleClaimableDividend(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	holder := token.Address(r.URL.Query().Get("holder"))
	if holder.Zero() {
		holder = middleware.CallerFromContext(r.Context())
	}
	amount, err := h.dividends.ClaimableAmount(r.Context(), holder, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"holder": holder, "claimable": amount})
}

func (h *Handler) handleClaimDividend(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	caller := middleware.CallerFromContext(r.Context())
	paid, err := h.dividends.Claim(r.Context(), caller, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"paid": paid})
}

func (h *Handler) handleReclaimDividend(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	caller := middleware.CallerFromContext(r.Context())
	swept, err := h.dividends.Reclaim(r.Context(), caller, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"swept": swept})
}

// Documents ------------------------------------------------------------------

func (h *Handler) handleSetDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URI  string `json:"uri"`
		Hash string `json:"hash,omitempty"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	caller := middleware.CallerFromContext(r.Context())
	doc, err := h.documents.Set(r.Context(), caller, mux.Vars(r)["name"], req.URI, req.Hash)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.documents.Get(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.documents.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// Events ---------------------------------------------------------------------

func (h *Handler) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(w, r, errors.InvalidInput("limit must be a positive integer"))
			return
		}
		limit = n
	}
	var evts []events.Event
	if t := q.Get("type"); t != "" {
		evts = h.events.RecentByType(events.Type(t), limit)
	} else {
		evts = h.events.Recent(limit)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"events": evts})
}

// handleEventStream upgrades to a websocket and pushes audit events as they
// occur. A slow client that fills its send buffer misses events rather than
// blocking the emitter; the ring buffer remains the complete record.
func (h *Handler) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	send := make(chan events.Event, 64)
	unsubscribe := h.events.Subscribe(func(e events.Event) {
		select {
		case send <- e:
		default:
			// Buffer full; drop the event for this subscriber.
		}
	})
	defer unsubscribe()

	// Reader goroutine detects client disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e := <-send:
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// Health ---------------------------------------------------------------------

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"uptime":  time.Since(h.started).String(),
		"started": h.started.UTC().Format(time.RFC3339),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp["memory_used_percent"] = vm.UsedPercent
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		resp["cpu_percent"] = pct[0]
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Helpers --------------------------------------------------------------------

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.writeError(w, r, errors.InvalidInput("id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, r, errors.InvalidInput("invalid request body: %v", err))
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Error("response encoding failed")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).
			WithField("path", r.URL.Path).
			Error("request failed")
	}
	h.writeJSON(w, status, map[string]any{
		"error": err.Error(),
		"code":  string(errors.CodeOf(err)),
	})
}
