// Package orderbook implements the swap order lifecycle: initiation,
// acceptance, manager approval, partial fills with escrowed settlement, and
// cancellation. Orders are append-only; terminal orders are kept for audit.
package orderbook

import (
	"context"
	"strconv"
	"sync"

	"github.com/R3E-Network/securities_layer/internal/app/domain/order"
	"github.com/R3E-Network/securities_layer/internal/app/domain/token"
	"github.com/R3E-Network/securities_layer/internal/app/events"
	"github.com/R3E-Network/securities_layer/internal/app/metrics"
	"github.com/R3E-Network/securities_layer/internal/app/services/ledger"
	"github.com/R3E-Network/securities_layer/internal/app/storage"
	"github.com/R3E-Network/securities_layer/internal/authz"
	"github.com/R3E-Network/securities_layer/internal/errors"
	"github.com/R3E-Network/securities_layer/internal/payment"
	"github.com/R3E-Network/securities_layer/pkg/logger"
)

// Config bundles the order book dependencies.
type Config struct {
	Registry authz.Registry
	Ledger   *ledger.Service
	Medium   payment.Medium
	Orders   storage.OrderStore
	Proceeds storage.ProceedsStore
	Events   events.Log
	Log      *logger.Logger

	// EscrowAddress is the engine's own account on the payment medium and
	// the identity it presents to the ledger when moving shares on behalf
	// of order parties.
	EscrowAddress token.Address

	// RequireApproval gates fills behind owner/manager approval.
	RequireApproval bool
}

// Service is the order book engine. A single mutex serializes every order
// mutation; composite operations validate, then mutate internal state, then
// move value, so no caller observes partial effects.
type Service struct {
	mu sync.Mutex

	registry        authz.Registry
	ledger          *ledger.Service
	medium          payment.Medium
	orders          storage.OrderStore
	proceeds        storage.ProceedsStore
	events          events.Log
	log             *logger.Logger
	escrow          token.Address
	requireApproval bool

	// heldNative is the native value the engine currently holds in escrow.
	heldNative uint64
}

// New constructs the order book engine.
func New(cfg Config) *Service {
	log := cfg.Log
	if log == nil {
		log = logger.NewDefault("orderbook")
	}
	evts := cfg.Events
	if evts == nil {
		evts = events.Nop{}
	}
	return &Service{
		registry:        cfg.Registry,
		ledger:          cfg.Ledger,
		medium:          cfg.Medium,
		orders:          cfg.Orders,
		proceeds:        cfg.Proceeds,
		events:          evts,
		log:             log,
		escrow:          cfg.EscrowAddress,
		requireApproval: cfg.RequireApproval,
	}
}

// Initiate opens a new order at a freshly allocated id. Sell orders require
// the caller to hold the committed shares; token-payment buy orders require
// the caller to hold the committed payment. Share-issuance sell orders are
// restricted to owner-level callers, and banned addresses may not enter the
// buy side.
func (s *Service) Initiate(ctx context.Context, caller token.Address, partition token.Partition, amount, price uint64, kind order.Kind) (order.Order, error) {
	ord, err := s.initiate(ctx, caller, partition, amount, price, kind)
	metrics.OrderAction("initiate", err)
	return ord, err
}

func (s *Service) initiate(ctx context.Context, caller token.Address, partition token.Partition, amount, price uint64, kind order.Kind) (order.Order, error) {
	if amount == 0 {
		return order.Order{}, errors.InvalidInput("order amount must be positive")
	}
	if partition.Zero() {
		return order.Order{}, errors.InvalidInput("partition is required")
	}
	if caller.Zero() {
		return order.Order{}, errors.InvalidInput("initiator is required")
	}
	if !s.registry.IsWhitelisted(caller) {
		return order.Order{}, errors.Unauthorized("initiator %s is not whitelisted", caller)
	}

	if kind.Sell {
		if kind.ShareIssuance {
			if !authz.IsOwnerOrManager(s.registry, caller) {
				return order.Order{}, errors.Unauthorized("share issuance orders require owner or manager authority")
			}
		} else if held := s.ledger.PartitionBalanceOf(caller, partition); held < amount {
			return order.Order{}, errors.Conflict("initiator holds %d in partition %s, order needs %d", held, partition, amount)
		}
	} else {
		if s.registry.IsBanned(caller) {
			return order.Order{}, errors.Unauthorized("address %s is banned from buy-side entry", caller)
		}
		if kind.TokenPayment {
			cost, err := token.MulAmount(amount, price)
			if err != nil {
				return order.Order{}, err
			}
			if held := s.medium.BalanceOf(caller); held < cost {
				return order.Order{}, errors.Conflict("initiator holds %d payment units, order needs %d", held, cost)
			}
		}
		// Native-payment buy orders declare value ability; nothing to check
		// until fill time.
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ord, err := s.orders.CreateOrder(ctx, order.Order{
		Initiator: caller,
		Partition: partition,
		Amount:    amount,
		Price:     price,
		Kind:      kind,
	})
	if err != nil {
		return order.Order{}, errors.Internal(err)
	}

	s.events.Emit(events.Event{
		Type:      events.EventOrderInitiated,
		Actor:     caller,
		Partition: partition,
		Amount:    amount,
		OrderID:   ord.ID,
	})
	s.log.WithField("order_id", ord.ID).
		WithField("initiator", caller).
		WithField("amount", amount).
		Info("order initiated")
	return ord, nil
}

// Accept records a counterparty acceptance for up to the remaining quantity.
// Accepting less than the remainder enables a partial fill; each fill clears
// the acceptance, so the rest needs a fresh cycle.
func (s *Service) Accept(ctx context.Context, caller token.Address, orderID uint64, quantity uint64) (order.Order, error) {
	ord, err := s.accept(ctx, caller, orderID, quantity)
	metrics.OrderAction("accept", err)
	return ord, err
}

func (s *Service) accept(ctx context.Context, caller token.Address, orderID uint64, quantity uint64) (order.Order, error) {
	if quantity == 0 {
		return order.Order{}, errors.InvalidInput("accept quantity must be positive")
	}
	if !s.registry.IsWhitelisted(caller) {
		return order.Order{}, errors.Unauthorized("counterparty %s is not whitelisted", caller)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ord, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return order.Order{}, err
	}
	if ord.Status.Cancelled {
		return order.Order{}, errors.Conflict("order %d is cancelled", orderID)
	}
	if ord.Status.Disapproved {
		return order.Order{}, errors.Conflict("order %d is disapproved", orderID)
	}
	if ord.Remaining() == 0 {
		return order.Order{}, errors.Conflict("order %d is fully filled", orderID)
	}
	// Accepting a sell order puts the caller on the buy side.
	if ord.Kind.Sell && s.registry.IsBanned(caller) {
		return order.Order{}, errors.Unauthorized("address %s is banned from buy-side entry", caller)
	}
	if quantity > ord.Remaining() {
		return order.Order{}, errors.Conflict("acceptance of %d exceeds remaining %d", quantity, ord.Remaining())
	}

	ord.Status.Accepted = true
	ord.Counterparty = caller
	ord.AcceptedAmount = quantity

	ord, err = s.orders.UpdateOrder(ctx, ord)
	if err != nil {
		return order.Order{}, errors.Internal(err)
	}

	s.events.Emit(events.Event{
		Type:    events.EventOrderAccepted,
		Actor:   caller,
		Amount:  quantity,
		OrderID: ord.ID,
	})
	return ord, nil
}

// Approve marks an order approved. When approval gating requires prior
// acceptance, share-issuance orders are exempt: approval auto-accepts them
// for the remaining quantity with the contract owner as implicit
// counterparty.
func (s *Service) Approve(ctx context.Context, caller token.Address, orderID uint64) (order.Order, error) {
	ord, err := s.approve(ctx, caller, orderID)
	metrics.OrderAction("approve", err)
	return ord, err
}

func (s *Service) approve(ctx context.Context, caller token.Address, orderID uint64) (order.Order, error) {
	if !authz.IsOwnerOrManager(s.registry, caller) {
		return order.Order{}, errors.Unauthorized("order approval requires owner or manager authority")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ord, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return order.Order{}, err
	}
	if ord.Status.Cancelled {
		return order.Order{}, errors.Conflict("order %d is cancelled", orderID)
	}
	if ord.Status.Disapproved {
		return order.Order{}, errors.Conflict("order %d is disapproved", orderID)
	}
	if ord.Status.Approved {
		return order.Order{}, errors.Conflict("order %d is already approved", orderID)
	}
	// Share-issuance buy orders skip the acceptance requirement; approval
	// marks them accepted for the full remainder with the owner selling.
	issuanceBuy := ord.Kind.ShareIssuance && !ord.Kind.Sell
	if s.requireApproval && !ord.Status.Accepted && !issuanceBuy {
		return order.Order{}, errors.Conflict("order %d has not been accepted", orderID)
	}

	if issuanceBuy && !ord.Status.Accepted {
		ord.Status.Accepted = true
		ord.AcceptedAmount = ord.Remaining()
		if ord.Counterparty.Zero() {
			ord.Counterparty = s.registry.Owner()
		}
	}
	ord.Status.Approved = true

	ord, err = s.orders.UpdateOrder(ctx, ord)
	if err != nil {
		return order.Order{}, errors.Internal(err)
	}

	s.events.Emit(events.Event{
		Type:    events.EventOrderApproved,
		Actor:   caller,
		OrderID: ord.ID,
	})
	return ord, nil
}

// Disapprove terminally rejects an order that has not been filled at all.
func (s *Service) Disapprove(ctx context.Context, caller token.Address, orderID uint64) (order.Order, error) {
	ord, err := s.disapprove(ctx, caller, orderID)
	metrics.OrderAction("disapprove", err)
	return ord, err
}

func (s *Service) disapprove(ctx context.Context, caller token.Address, orderID uint64) (order.Order, error) {
	if !authz.IsOwnerOrManager(s.registry, caller) {
		return order.Order{}, errors.Unauthorized("order disapproval requires owner or manager authority")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ord, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return order.Order{}, err
	}
	if ord.Status.Cancelled {
		return order.Order{}, errors.Conflict("order %d is cancelled", orderID)
	}
	if ord.Status.Disapproved {
		return order.Order{}, errors.Conflict("order %d is already disapproved", orderID)
	}
	if ord.Filled > 0 {
		return order.Order{}, errors.Conflict("order %d has fills and cannot be disapproved", orderID)
	}

	ord.Status.Disapproved = true
	ord.Status.Approved = false
	ord.Status.Accepted = false
	ord.AcceptedAmount = 0

	ord, err = s.orders.UpdateOrder(ctx, ord)
	if err != nil {
		return order.Order{}, errors.Internal(err)
	}

	s.events.Emit(events.Event{
		Type:    events.EventOrderDisapproved,
		Actor:   caller,
		OrderID: ord.ID,
	})
	return ord, nil
}

// Fill settles quantity units of an accepted (and, when gated, approved)
// order. The filler is always the paying buy side: the accepting
// counterparty of a sell order, or the initiator of a buy order. Payment is
// pulled into escrow first; shares then move through the ledger (a mint for
// issuance orders, an operator-gated transfer otherwise); proceeds accrue to
// the sell side; and the acceptance is cleared for the next cycle.
//
// nativeValue is the value attached to the call and must equal the cost
// exactly for native-payment orders, and be zero for token-payment orders.
func (s *Service) Fill(ctx context.Context, caller token.Address, orderID uint64, quantity, nativeValue uint64) (order.Order, error) {
	ord, err := s.fill(ctx, caller, orderID, quantity, nativeValue)
	metrics.OrderAction("fill", err)
	if err == nil {
		metrics.OrderFilled(quantity)
	}
	return ord, err
}

func (s *Service) fill(ctx context.Context, caller token.Address, orderID uint64, quantity, nativeValue uint64) (order.Order, error) {
	if quantity == 0 {
		return order.Order{}, errors.InvalidInput("fill quantity must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ord, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return order.Order{}, err
	}
	if ord.Status.Cancelled {
		return order.Order{}, errors.Conflict("order %d is cancelled", orderID)
	}
	if ord.Status.Disapproved {
		return order.Order{}, errors.Conflict("order %d is disapproved", orderID)
	}
	if s.requireApproval && !ord.Status.Approved {
		return order.Order{}, errors.Conflict("order %d is not approved", orderID)
	}
	if !ord.Status.Accepted {
		return order.Order{}, errors.Conflict("order %d has no active acceptance", orderID)
	}

	if ord.Kind.Sell {
		if caller != ord.Counterparty {
			return order.Order{}, errors.Unauthorized("only the accepting counterparty may fill a sell order")
		}
	} else if caller != ord.Initiator {
		return order.Order{}, errors.Unauthorized("only the initiator may fill a buy order")
	}

	if quantity > ord.AcceptedAmount {
		return order.Order{}, errors.Conflict("fill of %d exceeds accepted quantity %d", quantity, ord.AcceptedAmount)
	}
	filled, err := token.AddAmount(ord.Filled, quantity)
	if err != nil {
		return order.Order{}, err
	}
	if filled > ord.Amount {
		return order.Order{}, errors.Conflict("fill of %d would overfill order %d (%d/%d)", quantity, orderID, ord.Filled, ord.Amount)
	}

	cost, err := token.MulAmount(ord.Price, quantity)
	if err != nil {
		return order.Order{}, err
	}

	buyer, seller := s.parties(ord)

	// Pre-validate the share movement so a failure after the payment pull is
	// not reachable through ordinary inputs.
	if !ord.Kind.ShareIssuance {
		if held := s.ledger.PartitionBalanceOf(seller, ord.Partition); held < quantity {
			return order.Order{}, errors.Conflict("seller holds %d in partition %s, fill needs %d", held, ord.Partition, quantity)
		}
		if seller != s.escrow && !s.ledger.IsOperator(seller, s.escrow, ord.Partition) {
			return order.Order{}, errors.Unauthorized("engine lacks an operator grant for %s in partition %s", seller, ord.Partition)
		}
	}
	if !s.registry.IsWhitelisted(buyer) {
		return order.Order{}, errors.Unauthorized("buyer %s is not whitelisted", buyer)
	}

	// Pull payment into escrow.
	if ord.Kind.TokenPayment {
		if nativeValue != 0 {
			return order.Order{}, errors.InvalidInput("token-payment fills must not attach native value")
		}
		if cost > 0 {
			if err := s.medium.TransferFrom(s.escrow, caller, s.escrow, cost); err != nil {
				return order.Order{}, err
			}
		}
	} else if nativeValue != cost {
		return order.Order{}, errors.InvalidInput("attached value %d does not match cost %d", nativeValue, cost)
	}

	// Move the shares. On the unexpected failure path the pulled payment is
	// returned before reporting the error.
	if ord.Kind.ShareIssuance {
		err = s.ledger.Issue(ctx, s.escrow, ord.Partition, buyer, quantity)
	} else {
		err = s.ledger.Transfer(ctx, s.escrow, ord.Partition, seller, buyer, quantity)
	}
	if err != nil {
		if ord.Kind.TokenPayment && cost > 0 {
			if refundErr := s.medium.Transfer(s.escrow, caller, cost); refundErr != nil {
				s.log.WithError(refundErr).Errorf("refund of %d to %s failed after ledger rejection", cost, caller)
			}
		}
		return order.Order{}, err
	}

	// Credit the sell side's unclaimed proceeds.
	if err := s.creditProceeds(ctx, seller, cost, ord.Kind.TokenPayment); err != nil {
		return order.Order{}, err
	}
	if !ord.Kind.TokenPayment {
		s.heldNative += nativeValue
	}

	ord.Filled = filled
	ord.Status.Accepted = false
	ord.AcceptedAmount = 0

	ord, err = s.orders.UpdateOrder(ctx, ord)
	if err != nil {
		return order.Order{}, errors.Internal(err)
	}

	s.events.Emit(events.Event{
		Type:      events.EventOrderFilled,
		Actor:     caller,
		Subject:   buyer,
		Partition: ord.Partition,
		Amount:    quantity,
		OrderID:   ord.ID,
		Metadata:  map[string]string{"seller": string(seller)},
	})
	s.log.WithField("order_id", ord.ID).
		WithField("quantity", quantity).
		WithField("cost", cost).
		Info("order filled")
	return ord, nil
}

// Cancel lets the initiator withdraw an order that is not terminal yet.
func (s *Service) Cancel(ctx context.Context, caller token.Address, orderID uint64) (order.Order, error) {
	ord, err := s.cancel(ctx, caller, orderID)
	metrics.OrderAction("cancel", err)
	return ord, err
}

func (s *Service) cancel(ctx context.Context, caller token.Address, orderID uint64) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ord, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return order.Order{}, err
	}
	if caller != ord.Initiator {
		return order.Order{}, errors.Unauthorized("only the initiator may cancel order %d", orderID)
	}
	if ord.Status.Cancelled {
		return order.Order{}, errors.Conflict("order %d is already cancelled", orderID)
	}
	if ord.Status.Disapproved {
		return order.Order{}, errors.Conflict("order %d is disapproved", orderID)
	}
	if ord.Filled == ord.Amount {
		return order.Order{}, errors.Conflict("order %d is fully filled", orderID)
	}

	ord.Status.Cancelled = true
	ord.Status.Approved = false
	ord.Status.Accepted = false
	ord.AcceptedAmount = 0

	ord, err = s.orders.UpdateOrder(ctx, ord)
	if err != nil {
		return order.Order{}, errors.Internal(err)
	}

	s.events.Emit(events.Event{
		Type:    events.EventOrderCancelled,
		Actor:   caller,
		OrderID: ord.ID,
	})
	return ord, nil
}

// ClaimProceeds sweeps an address's accumulated settlement proceeds to zero
// and pays them out. The owner's aggregated proceeds may also be claimed by
// any manager. The bookkeeping is zeroed before any value moves.
func (s *Service) ClaimProceeds(ctx context.Context, caller, addr token.Address) (order.Proceeds, error) {
	p, err := s.claimProceeds(ctx, caller, addr)
	metrics.OrderAction("claim_proceeds", err)
	return p, err
}

func (s *Service) claimProceeds(ctx context.Context, caller, addr token.Address) (order.Proceeds, error) {
	if addr.Zero() {
		return order.Proceeds{}, errors.InvalidInput("address is required")
	}
	if caller != addr && !(addr == s.registry.Owner() && authz.IsOwnerOrManager(s.registry, caller)) {
		return order.Proceeds{}, errors.Unauthorized("%s may not claim proceeds of %s", caller, addr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	claimed, err := s.proceeds.GetProceeds(ctx, addr)
	if err != nil {
		return order.Proceeds{}, errors.Internal(err)
	}
	if claimed.Native == 0 && claimed.Token == 0 {
		return claimed, nil
	}
	if claimed.Native > s.heldNative {
		return order.Proceeds{}, errors.Conflict("escrow holds %d native, proceeds record %d", s.heldNative, claimed.Native)
	}

	if err := s.proceeds.PutProceeds(ctx, order.Proceeds{Address: addr}); err != nil {
		return order.Proceeds{}, errors.Internal(err)
	}
	s.heldNative -= claimed.Native

	if claimed.Token > 0 {
		if err := s.medium.Transfer(s.escrow, addr, claimed.Token); err != nil {
			// Restore the record so the value is not stranded.
			s.heldNative += claimed.Native
			if putErr := s.proceeds.PutProceeds(ctx, claimed); putErr != nil {
				s.log.WithError(putErr).Errorf("restoring proceeds record for %s failed", addr)
			}
			return order.Proceeds{}, err
		}
	}

	s.events.Emit(events.Event{
		Type:    events.EventProceedsWithdrawn,
		Actor:   caller,
		Subject: addr,
		Amount:  claimed.Token,
		Metadata: map[string]string{
			"native": formatAmount(claimed.Native),
		},
	})
	return claimed, nil
}

// UnsafeWithdrawAll sweeps every balance the engine holds to the given
// address, ignoring the per-address proceeds bookkeeping. This is an
// emergency escape hatch: after use, outstanding proceeds records are no
// longer backed by escrow and individual claims will fail.
func (s *Service) UnsafeWithdrawAll(ctx context.Context, caller, to token.Address) (native, tokens uint64, err error) {
	native, tokens, err = s.unsafeWithdrawAll(ctx, caller, to)
	metrics.OrderAction("unsafe_withdraw_all", err)
	return native, tokens, err
}

func (s *Service) unsafeWithdrawAll(_ context.Context, caller, to token.Address) (uint64, uint64, error) {
	if to.Zero() {
		return 0, 0, errors.InvalidInput("destination is required")
	}
	if !authz.IsOwnerOrManager(s.registry, caller) {
		return 0, 0, errors.Unauthorized("emergency withdrawal requires owner or manager authority")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	native := s.heldNative
	s.heldNative = 0

	tokens := s.medium.BalanceOf(s.escrow)
	if tokens > 0 {
		if err := s.medium.Transfer(s.escrow, to, tokens); err != nil {
			s.heldNative = native
			return 0, 0, err
		}
	}

	s.events.Emit(events.Event{
		Type:    events.EventEscrowSwept,
		Actor:   caller,
		Subject: to,
		Amount:  tokens,
		Metadata: map[string]string{
			"native": formatAmount(native),
		},
	})
	s.log.WithField("to", to).Warn("emergency escrow sweep executed")
	return native, tokens, nil
}

// Get returns one order.
func (s *Service) Get(ctx context.Context, orderID uint64) (order.Order, error) {
	return s.orders.GetOrder(ctx, orderID)
}

// List returns all orders in id order.
func (s *Service) List(ctx context.Context) ([]order.Order, error) {
	return s.orders.ListOrders(ctx)
}

// ProceedsOf returns an address's unclaimed proceeds record.
func (s *Service) ProceedsOf(ctx context.Context, addr token.Address) (order.Proceeds, error) {
	return s.proceeds.GetProceeds(ctx, addr)
}

// HeldNative returns the native value currently escrowed by the engine.
func (s *Service) HeldNative() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heldNative
}

// parties resolves the buy and sell side of an order. The sell side of a
// share-issuance order is whoever the proceeds belong to: the initiator of
// an issuance ask, or the accepting counterparty (the contract owner) of an
// issuance bid.
func (s *Service) parties(ord order.Order) (buyer, seller token.Address) {
	if ord.Kind.Sell {
		return ord.Counterparty, ord.Initiator
	}
	return ord.Initiator, ord.Counterparty
}

func (s *Service) creditProceeds(ctx context.Context, seller token.Address, cost uint64, tokenPayment bool) error {
	if cost == 0 {
		return nil
	}
	p, err := s.proceeds.GetProceeds(ctx, seller)
	if err != nil {
		return errors.Internal(err)
	}
	if tokenPayment {
		if p.Token, err = token.AddAmount(p.Token, cost); err != nil {
			return err
		}
	} else {
		if p.Native, err = token.AddAmount(p.Native, cost); err != nil {
			return err
		}
	}
	p.Address = seller
	if err := s.proceeds.PutProceeds(ctx, p); err != nil {
		return errors.Internal(err)
	}
	return nil
}

func formatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}
