// Package dividend implements pro-rata payout distribution. Each deposit is
// anchored to the partition supply snapshot at its reference sequence; claims
// are computed against that frozen ratio, never against live balances.
package dividend

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/securities_layer/internal/app/domain/dividend"
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

// DefaultReclaimPeriod is how long after the payout date a dividend stays
// claimable before the issuer may reclaim the residue.
const DefaultReclaimPeriod = 90 * 24 * time.Hour

// Config bundles the distributor dependencies.
type Config struct {
	Registry  authz.Registry
	Ledger    *ledger.Service
	Medium    payment.Medium
	Dividends storage.DividendStore
	Events    events.Log
	Log       *logger.Logger

	// EscrowAddress holds deposited payout pools until claimed or reclaimed.
	EscrowAddress token.Address

	// ReclaimPeriod is the claim window length; zero means
	// DefaultReclaimPeriod.
	ReclaimPeriod time.Duration
}

// Service is the dividend distributor.
type Service struct {
	mu sync.Mutex

	registry      authz.Registry
	ledger        *ledger.Service
	medium        payment.Medium
	dividends     storage.DividendStore
	events        events.Log
	log           *logger.Logger
	escrow        token.Address
	reclaimPeriod time.Duration

	// heldNative mirrors the native payout pools currently in escrow.
	heldNative uint64

	now func() time.Time
}

// New constructs the distributor.
func New(cfg Config) *Service {
	log := cfg.Log
	if log == nil {
		log = logger.NewDefault("dividend")
	}
	evts := cfg.Events
	if evts == nil {
		evts = events.Nop{}
	}
	period := cfg.ReclaimPeriod
	if period <= 0 {
		period = DefaultReclaimPeriod
	}
	return &Service{
		registry:      cfg.Registry,
		ledger:        cfg.Ledger,
		medium:        cfg.Medium,
		dividends:     cfg.Dividends,
		events:        evts,
		log:           log,
		escrow:        cfg.EscrowAddress,
		reclaimPeriod: period,
		now:           time.Now,
	}
}

// DepositRequest describes one payout pool deposit.
type DepositRequest struct {
	Partition token.Partition

	// ReferenceSequence anchors the payout ratio to a historical supply
	// snapshot; zero means the current ledger sequence.
	ReferenceSequence uint64

	// RecordDate defaults to the declaration time when zero.
	RecordDate time.Time

	// PayoutDate must be strictly in the future; claims open at this
	// instant.
	PayoutDate time.Time

	Amount uint64

	// PayoutToken zero means native value, in which case NativeValue must
	// equal Amount exactly. Otherwise the pool is pulled from the depositor
	// on the payment medium and nothing may be attached.
	PayoutToken token.Address
	NativeValue uint64
}

// Deposit escrows a payout pool for one partition. The payout ratio is frozen
// at deposit time against the supply snapshot at the reference sequence,
// never against live balances.
func (s *Service) Deposit(ctx context.Context, caller token.Address, req DepositRequest) (dividend.Dividend, error) {
	div, err := s.deposit(ctx, caller, req)
	metrics.DividendAction("deposit", err)
	return div, err
}

func (s *Service) deposit(ctx context.Context, caller token.Address, req DepositRequest) (dividend.Dividend, error) {
	if req.Amount == 0 {
		return dividend.Dividend{}, errors.InvalidInput("deposit amount must be positive")
	}
	if req.Partition.Zero() {
		return dividend.Dividend{}, errors.InvalidInput("partition is required")
	}
	if !authz.IsOwnerOrManager(s.registry, caller) {
		return dividend.Dividend{}, errors.Unauthorized("dividend deposits require owner or manager authority")
	}

	now := s.now()
	if !req.PayoutDate.After(now) {
		return dividend.Dividend{}, errors.Timing("payout date must be in the future")
	}
	recordDate := req.RecordDate
	if recordDate.IsZero() {
		recordDate = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := req.ReferenceSequence
	current := s.ledger.CurrentSequence()
	if seq == 0 {
		seq = current
	} else if seq > current {
		return dividend.Dividend{}, errors.InvalidInput("reference sequence %d is ahead of the current sequence %d", seq, current)
	}
	supply := s.ledger.PartitionSupplyAt(req.Partition, seq)
	if supply == 0 {
		return dividend.Dividend{}, errors.Conflict("partition %s has no recorded supply at sequence %d", req.Partition, seq)
	}

	native := req.PayoutToken.Zero()
	if native {
		if req.NativeValue != req.Amount {
			return dividend.Dividend{}, errors.InvalidInput("attached value %d does not match deposit %d", req.NativeValue, req.Amount)
		}
	} else {
		if req.NativeValue != 0 {
			return dividend.Dividend{}, errors.InvalidInput("token deposits must not attach native value")
		}
		if err := s.medium.TransferFrom(s.escrow, caller, s.escrow, req.Amount); err != nil {
			return dividend.Dividend{}, err
		}
	}

	div, err := s.dividends.CreateDividend(ctx, dividend.Dividend{
		Partition:      req.Partition,
		Sequence:       seq,
		SupplySnapshot: supply,
		DeclaredAt:     now,
		RecordDate:     recordDate,
		PayoutDate:     req.PayoutDate,
		Amount:         req.Amount,
		Remaining:      req.Amount,
		PayoutToken:    req.PayoutToken,
	})
	if err != nil {
		if !native {
			if refundErr := s.medium.Transfer(s.escrow, caller, req.Amount); refundErr != nil {
				s.log.WithError(refundErr).Errorf("refund of %d to %s failed after store rejection", req.Amount, caller)
			}
		}
		return dividend.Dividend{}, errors.Internal(err)
	}
	if native {
		s.heldNative += req.NativeValue
	}

	s.events.Emit(events.Event{
		Type:       events.EventDividendDeposited,
		Actor:      caller,
		Partition:  req.Partition,
		Amount:     req.Amount,
		Sequence:   seq,
		DividendID: div.ID,
	})
	s.log.WithField("dividend_id", div.ID).
		WithField("partition", req.Partition).
		WithField("amount", req.Amount).
		WithField("supply", supply).
		Info("dividend deposited")
	return div, nil
}

// Claim pays the caller their pro-rata share of a dividend, exactly once.
// The payout is floor(pool * balance / supply), computed against the
// anchored snapshot; the residue from flooring stays in the pool until
// reclaimed. Internal state is updated before any value leaves escrow.
func (s *Service) Claim(ctx context.Context, caller token.Address, dividendID uint64) (uint64, error) {
	paid, err := s.claim(ctx, caller, dividendID)
	metrics.DividendAction("claim", err)
	if err == nil {
		metrics.DividendClaimed(paid)
	}
	return paid, err
}

func (s *Service) claim(ctx context.Context, caller token.Address, dividendID uint64) (uint64, error) {
	if caller.Zero() {
		return 0, errors.InvalidInput("claimant is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	div, err := s.dividends.GetDividend(ctx, dividendID)
	if err != nil {
		return 0, err
	}
	if div.Recycled {
		return 0, errors.Timing("dividend %d has been reclaimed", dividendID)
	}
	if !div.Claimable(s.now()) {
		return 0, errors.Timing("dividend %d is not yet payable", dividendID)
	}

	claimed, err := s.dividends.HasClaimed(ctx, dividendID, caller)
	if err != nil {
		return 0, errors.Internal(err)
	}
	if claimed {
		return 0, errors.Conflict("%s has already claimed dividend %d", caller, dividendID)
	}

	balance := s.ledger.BalanceAt(caller, div.Partition, div.Sequence)
	if balance == 0 {
		return 0, errors.Conflict("%s held no shares of partition %s at sequence %d", caller, div.Partition, div.Sequence)
	}

	payout, err := token.MulDivAmount(div.Amount, balance, div.SupplySnapshot)
	if err != nil {
		return 0, err
	}
	if payout > div.Remaining {
		return 0, errors.Conflict("payout %d exceeds remaining pool %d", payout, div.Remaining)
	}

	if err := s.dividends.MarkClaimed(ctx, dividendID, caller); err != nil {
		return 0, errors.Internal(err)
	}
	div.Remaining -= payout
	if _, err := s.dividends.UpdateDividend(ctx, div); err != nil {
		if unErr := s.dividends.UnmarkClaimed(ctx, dividendID, caller); unErr != nil {
			s.log.WithError(unErr).WithField("dividend_id", dividendID).Error("claim flag restore failed after store rejection")
		}
		return 0, errors.Internal(err)
	}

	if payout > 0 {
		if div.PayoutToken.Zero() {
			if payout > s.heldNative {
				s.restoreClaim(ctx, div, caller, payout)
				return 0, errors.Conflict("escrow holds %d native, payout needs %d", s.heldNative, payout)
			}
			s.heldNative -= payout
			// Native value leaves with the call result; the host environment
			// delivers it to the claimant.
		} else if err := s.medium.Transfer(s.escrow, caller, payout); err != nil {
			s.restoreClaim(ctx, div, caller, payout)
			return 0, err
		}
	}

	s.events.Emit(events.Event{
		Type:       events.EventDividendClaimed,
		Actor:      caller,
		Partition:  div.Partition,
		Amount:     payout,
		Sequence:   div.Sequence,
		DividendID: dividendID,
	})
	return payout, nil
}

// ClaimableAmount previews what a claim would pay without claiming. It
// returns zero for already-claimed, recycled, or zero-balance cases.
func (s *Service) ClaimableAmount(ctx context.Context, holder token.Address, dividendID uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	div, err := s.dividends.GetDividend(ctx, dividendID)
	if err != nil {
		return 0, err
	}
	if !div.Claimable(s.now()) {
		return 0, nil
	}
	claimed, err := s.dividends.HasClaimed(ctx, dividendID, holder)
	if err != nil {
		return 0, errors.Internal(err)
	}
	if claimed {
		return 0, nil
	}
	balance := s.ledger.BalanceAt(holder, div.Partition, div.Sequence)
	if balance == 0 {
		return 0, nil
	}
	payout, err := token.MulDivAmount(div.Amount, balance, div.SupplySnapshot)
	if err != nil {
		return 0, err
	}
	if payout > div.Remaining {
		payout = div.Remaining
	}
	return payout, nil
}

// HasClaimed reports whether the holder already claimed the dividend.
func (s *Service) HasClaimed(ctx context.Context, holder token.Address, dividendID uint64) (bool, error) {
	return s.dividends.HasClaimed(ctx, dividendID, holder)
}

// Reclaim sweeps a dividend's remaining pool back to the contract owner
// after the claim window has elapsed, whoever initiates it. Recycling is
// irreversible: the dividend rejects every claim afterwards, even from
// holders who never claimed.
func (s *Service) Reclaim(ctx context.Context, caller token.Address, dividendID uint64) (uint64, error) {
	swept, err := s.reclaim(ctx, caller, dividendID)
	metrics.DividendAction("reclaim", err)
	return swept, err
}

func (s *Service) reclaim(ctx context.Context, caller token.Address, dividendID uint64) (uint64, error) {
	if !authz.IsOwnerOrManager(s.registry, caller) {
		return 0, errors.Unauthorized("dividend reclaim requires owner or manager authority")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	div, err := s.dividends.GetDividend(ctx, dividendID)
	if err != nil {
		return 0, err
	}
	return s.reclaimLocked(ctx, s.registry.Owner(), div)
}

// ReclaimExpired sweeps every dividend whose claim window has elapsed. The
// scheduled sweeper calls this with the owner identity; individual failures
// are logged and do not stop the pass.
func (s *Service) ReclaimExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	divs, err := s.dividends.ListDividends(ctx)
	if err != nil {
		return 0, errors.Internal(err)
	}

	owner := s.registry.Owner()
	swept := 0
	for _, div := range divs {
		if div.Recycled || div.Remaining == 0 || !s.expired(div) {
			continue
		}
		if _, err := s.reclaimLocked(ctx, owner, div); err != nil {
			s.log.WithError(err).WithField("dividend_id", div.ID).Warn("scheduled reclaim failed")
			continue
		}
		swept++
	}
	return swept, nil
}

// Get returns one dividend record.
func (s *Service) Get(ctx context.Context, dividendID uint64) (dividend.Dividend, error) {
	return s.dividends.GetDividend(ctx, dividendID)
}

// List returns every dividend in id order.
func (s *Service) List(ctx context.Context) ([]dividend.Dividend, error) {
	return s.dividends.ListDividends(ctx)
}

// HeldNative returns the native value currently escrowed by the distributor.
func (s *Service) HeldNative() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heldNative
}

func (s *Service) expired(div dividend.Dividend) bool {
	return !s.now().Before(div.PayoutDate.Add(s.reclaimPeriod))
}

// reclaimLocked requires s.mu held.
func (s *Service) reclaimLocked(ctx context.Context, to token.Address, div dividend.Dividend) (uint64, error) {
	if div.Recycled {
		return 0, errors.Conflict("dividend %d is already reclaimed", div.ID)
	}
	if !s.expired(div) {
		return 0, errors.Timing("dividend %d claim window is still open", div.ID)
	}
	if div.Remaining == 0 {
		return 0, errors.Conflict("dividend %d has nothing left to reclaim", div.ID)
	}

	swept := div.Remaining
	div.Remaining = 0
	div.Recycled = true
	if _, err := s.dividends.UpdateDividend(ctx, div); err != nil {
		return 0, errors.Internal(err)
	}

	if div.PayoutToken.Zero() {
		if swept > s.heldNative {
			s.restoreReclaim(ctx, div, swept)
			return 0, errors.Conflict("escrow holds %d native, reclaim needs %d", s.heldNative, swept)
		}
		s.heldNative -= swept
	} else if err := s.medium.Transfer(s.escrow, to, swept); err != nil {
		s.restoreReclaim(ctx, div, swept)
		return 0, err
	}

	s.events.Emit(events.Event{
		Type:       events.EventDividendReclaimed,
		Actor:      to,
		Partition:  div.Partition,
		Amount:     swept,
		DividendID: div.ID,
	})
	s.log.WithField("dividend_id", div.ID).
		WithField("swept", swept).
		Info("dividend reclaimed")
	return swept, nil
}

// restoreClaim unwinds claim bookkeeping after a failed payout so the holder
// can retry. Takes the already-decremented record.
func (s *Service) restoreClaim(ctx context.Context, div dividend.Dividend, holder token.Address, payout uint64) {
	div.Remaining += payout
	if _, err := s.dividends.UpdateDividend(ctx, div); err != nil {
		s.log.WithError(err).WithField("dividend_id", div.ID).Error("pool restore failed after payout failure")
	}
	if err := s.dividends.UnmarkClaimed(ctx, div.ID, holder); err != nil {
		s.log.WithError(err).WithField("dividend_id", div.ID).Error("claim flag restore failed after payout failure")
	}
}

// restoreReclaim unwinds a recycle after the residue sweep failed, so the
// pool is not stranded. Takes the already-recycled record.
func (s *Service) restoreReclaim(ctx context.Context, div dividend.Dividend, swept uint64) {
	div.Remaining = swept
	div.Recycled = false
	if _, err := s.dividends.UpdateDividend(ctx, div); err != nil {
		s.log.WithError(err).WithField("dividend_id", div.ID).Error("record restore failed after reclaim sweep failure")
	}
}
