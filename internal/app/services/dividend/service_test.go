package dividend

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/securities_layer/internal/app/domain/dividend"
	"github.com/R3E-Network/securities_layer/internal/app/domain/token"
	"github.com/R3E-Network/securities_layer/internal/app/services/ledger"
	"github.com/R3E-Network/securities_layer/internal/app/storage/memory"
	"github.com/R3E-Network/securities_layer/internal/authz"
	"github.com/R3E-Network/securities_layer/internal/errors"
	"github.com/R3E-Network/securities_layer/internal/payment"
)

const (
	owner    = token.Address("owner")
	alice    = token.Address("alice")
	bob      = token.Address("bob")
	carol    = token.Address("carol")
	dave     = token.Address("dave")
	escrow   = token.Address("escrow:dividends")
	payToken = token.Address("pay-token")
	classA   = token.Partition("class-a")
)

type fixture struct {
	registry  *authz.Static
	ledger    *ledger.Service
	counter   *ledger.Counter
	medium    *payment.Memory
	dividends *Service
	clock     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	registry := authz.NewStatic(owner)
	for _, a := range []token.Address{alice, bob, carol, dave, escrow} {
		registry.SetWhitelisted(a, true)
	}

	counter := ledger.NewCounter(1)
	ledgerSvc := ledger.New(registry, counter, nil, nil, nil)
	medium := payment.NewMemory()

	f := &fixture{
		registry: registry,
		ledger:   ledgerSvc,
		counter:  counter,
		medium:   medium,
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	f.dividends = New(Config{
		Registry:      registry,
		Ledger:        ledgerSvc,
		Medium:        medium,
		Dividends:     memory.New(),
		EscrowAddress: escrow,
		ReclaimPeriod: 30 * 24 * time.Hour,
	})
	f.dividends.now = func() time.Time { return f.clock }

	// Partition supply 1200, split 600/300/200/100.
	for _, seed := range []struct {
		holder token.Address
		amount uint64
	}{{alice, 600}, {bob, 300}, {carol, 200}, {dave, 100}} {
		if err := ledgerSvc.Issue(ctx, owner, classA, seed.holder, seed.amount); err != nil {
			t.Fatalf("seed issue: %v", err)
		}
	}

	// The owner funds deposits on the payment medium.
	if err := medium.Mint(owner, 100000); err != nil {
		t.Fatalf("seed mint: %v", err)
	}
	if err := medium.Approve(owner, escrow, 100000); err != nil {
		t.Fatalf("seed approve: %v", err)
	}
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

// deposit declares a pool paying out an hour from now, then moves the clock
// past the payout date so claims are open.
func (f *fixture) deposit(t *testing.T, amount uint64, payoutToken token.Address, nativeValue uint64) dividend.Dividend {
	t.Helper()
	div, err := f.dividends.Deposit(context.Background(), owner, DepositRequest{
		Partition:   classA,
		PayoutDate:  f.clock.Add(time.Hour),
		Amount:      amount,
		PayoutToken: payoutToken,
		NativeValue: nativeValue,
	})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.advance(time.Hour)
	return div
}

func TestProRataClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	div := f.deposit(t, 1200, payToken, 0)
	if div.SupplySnapshot != 1200 {
		t.Fatalf("supply snapshot = %d, want 1200", div.SupplySnapshot)
	}

	// floor(1200 * balance / 1200) per holder.
	for _, want := range []struct {
		holder token.Address
		payout uint64
	}{{alice, 600}, {bob, 300}, {carol, 200}} {
		paid, err := f.dividends.Claim(ctx, want.holder, div.ID)
		if err != nil {
			t.Fatalf("claim by %s: %v", want.holder, err)
		}
		if paid != want.payout {
			t.Fatalf("payout to %s = %d, want %d", want.holder, paid, want.payout)
		}
		if got := f.medium.BalanceOf(want.holder); got != want.payout {
			t.Fatalf("balance of %s = %d, want %d", want.holder, got, want.payout)
		}
	}

	got, err := f.dividends.Get(ctx, div.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Remaining != 100 {
		t.Fatalf("remaining = %d, want 100", got.Remaining)
	}
}

func TestClaimIsOncePerHolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	div := f.deposit(t, 1200, payToken, 0)
	if _, err := f.dividends.Claim(ctx, alice, div.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := f.dividends.Claim(ctx, alice, div.ID); !errors.Is(err, errors.CodeConflict) {
		t.Fatalf("second claim: %v", err)
	}
}

func TestClaimRequiresSnapshotBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	div := f.deposit(t, 1200, payToken, 0)
	stranger := token.Address("stranger")
	if _, err := f.dividends.Claim(ctx, stranger, div.ID); !errors.Is(err, errors.CodeConflict) {
		t.Fatalf("claim with no snapshot balance: %v", err)
	}
}

func TestClaimAnchoredToDepositSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	div := f.deposit(t, 1200, payToken, 0)

	// A transfer at a later sequence does not change anyone's entitlement.
	f.counter.Advance()
	if err := f.ledger.Transfer(ctx, alice, classA, alice, bob, 600); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	paid, err := f.dividends.Claim(ctx, alice, div.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if paid != 600 {
		t.Fatalf("payout = %d, want 600 from the anchored snapshot", paid)
	}
}

func TestRoundingResidueStaysInPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 1000 over supply 1200: floor payouts 500+250+166+83 = 999, residue 1.
	div := f.deposit(t, 1000, payToken, 0)
	total := uint64(0)
	for _, holder := range []token.Address{alice, bob, carol, dave} {
		paid, err := f.dividends.Claim(ctx, holder, div.ID)
		if err != nil {
			t.Fatalf("claim by %s: %v", holder, err)
		}
		total += paid
	}
	got, err := f.dividends.Get(ctx, div.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if total != 999 || got.Remaining != 1 {
		t.Fatalf("claimed %d residue %d, want 999/1", total, got.Remaining)
	}
}

func TestReclaimIsIrreversible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	div := f.deposit(t, 1200, payToken, 0)
	if _, err := f.dividends.Claim(ctx, alice, div.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Inside the window the reclaim is premature.
	if _, err := f.dividends.Reclaim(ctx, owner, div.ID); !errors.Is(err, errors.CodeTiming) {
		t.Fatalf("early reclaim: %v", err)
	}

	f.advance(31 * 24 * time.Hour)
	ownerBefore := f.medium.BalanceOf(owner)
	swept, err := f.dividends.Reclaim(ctx, owner, div.ID)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if swept != 600 {
		t.Fatalf("swept = %d, want 600", swept)
	}
	if got := f.medium.BalanceOf(owner); got != ownerBefore+600 {
		t.Fatalf("owner balance = %d, want %d", got, ownerBefore+600)
	}

	// Recycling is terminal: even a holder who never claimed is rejected.
	if _, err := f.dividends.Claim(ctx, bob, div.ID); !errors.Is(err, errors.CodeTiming) {
		t.Fatalf("claim after recycle: %v", err)
	}
	if _, err := f.dividends.Reclaim(ctx, owner, div.ID); !errors.Is(err, errors.CodeConflict) {
		t.Fatalf("second reclaim: %v", err)
	}
}

func TestReclaimExpiredSweepsAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deposit(t, 100, payToken, 0)
	f.deposit(t, 200, payToken, 0)

	if swept, err := f.dividends.ReclaimExpired(ctx); err != nil || swept != 0 {
		t.Fatalf("early pass swept %d err %v", swept, err)
	}

	f.advance(31 * 24 * time.Hour)
	swept, err := f.dividends.ReclaimExpired(ctx)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if swept != 2 {
		t.Fatalf("swept %d dividends, want 2", swept)
	}
}

func TestNativeDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The attached value must equal the pool exactly.
	if _, err := f.dividends.Deposit(ctx, owner, DepositRequest{
		Partition:   classA,
		PayoutDate:  f.clock.Add(time.Hour),
		Amount:      1200,
		NativeValue: 1100,
	}); !errors.Is(err, errors.CodeInvalidInput) {
		t.Fatalf("short value: %v", err)
	}
	div := f.deposit(t, 1200, "", 1200)
	if got := f.dividends.HeldNative(); got != 1200 {
		t.Fatalf("held native = %d, want 1200", got)
	}

	paid, err := f.dividends.Claim(ctx, alice, div.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if paid != 600 {
		t.Fatalf("payout = %d, want 600", paid)
	}
	if got := f.dividends.HeldNative(); got != 600 {
		t.Fatalf("held native after claim = %d, want 600", got)
	}
}

func TestDepositAuthorization(t *testing.T) {
	f := newFixture(t)
	if _, err := f.dividends.Deposit(context.Background(), alice, DepositRequest{
		Partition:   classA,
		PayoutDate:  f.clock.Add(time.Hour),
		Amount:      100,
		PayoutToken: payToken,
	}); !errors.Is(err, errors.CodeUnauthorized) {
		t.Fatalf("deposit by non-owner: %v", err)
	}
}

func TestDepositRequiresRecordedSupply(t *testing.T) {
	f := newFixture(t)
	if _, err := f.dividends.Deposit(context.Background(), owner, DepositRequest{
		Partition:   token.Partition("empty"),
		PayoutDate:  f.clock.Add(time.Hour),
		Amount:      100,
		PayoutToken: payToken,
	}); !errors.Is(err, errors.CodeConflict) {
		t.Fatalf("deposit against empty partition: %v", err)
	}
}

func TestDepositRequiresFuturePayoutDate(t *testing.T) {
	f := newFixture(t)
	if _, err := f.dividends.Deposit(context.Background(), owner, DepositRequest{
		Partition:   classA,
		PayoutDate:  f.clock,
		Amount:      100,
		PayoutToken: payToken,
	}); !errors.Is(err, errors.CodeTiming) {
		t.Fatalf("deposit with past payout date: %v", err)
	}
}

func TestDepositRejectsFutureReferenceSequence(t *testing.T) {
	f := newFixture(t)
	if _, err := f.dividends.Deposit(context.Background(), owner, DepositRequest{
		Partition:         classA,
		ReferenceSequence: f.ledger.CurrentSequence() + 1,
		PayoutDate:        f.clock.Add(time.Hour),
		Amount:            100,
		PayoutToken:       payToken,
	}); !errors.Is(err, errors.CodeInvalidInput) {
		t.Fatalf("deposit ahead of the sequence: %v", err)
	}
}

func TestFailedPayoutLeavesClaimRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	div := f.deposit(t, 1200, payToken, 0)

	// Drain the escrow so the outbound payment fails mid-claim.
	if err := f.medium.Transfer(escrow, owner, 1200); err != nil {
		t.Fatalf("drain escrow: %v", err)
	}
	if _, err := f.dividends.Claim(ctx, alice, div.ID); err == nil {
		t.Fatal("claim against a drained escrow should fail")
	}

	claimed, err := f.dividends.HasClaimed(ctx, alice, div.ID)
	if err != nil {
		t.Fatalf("has claimed: %v", err)
	}
	if claimed {
		t.Fatal("failed claim left the claimed flag set")
	}
	got, err := f.dividends.Get(ctx, div.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Remaining != 1200 {
		t.Fatalf("remaining after failed claim = %d, want 1200", got.Remaining)
	}

	// Once the escrow is refunded, the same holder claims normally.
	if err := f.medium.Transfer(owner, escrow, 1200); err != nil {
		t.Fatalf("refund escrow: %v", err)
	}
	paid, err := f.dividends.Claim(ctx, alice, div.ID)
	if err != nil {
		t.Fatalf("retry claim: %v", err)
	}
	if paid != 600 {
		t.Fatalf("retry payout = %d, want 600", paid)
	}
}

func TestFailedSweepLeavesReclaimRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	div := f.deposit(t, 1200, payToken, 0)
	f.advance(31 * 24 * time.Hour)

	if err := f.medium.Transfer(escrow, alice, 1200); err != nil {
		t.Fatalf("drain escrow: %v", err)
	}
	if _, err := f.dividends.Reclaim(ctx, owner, div.ID); err == nil {
		t.Fatal("reclaim against a drained escrow should fail")
	}

	got, err := f.dividends.Get(ctx, div.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Recycled || got.Remaining != 1200 {
		t.Fatalf("failed reclaim left recycled=%v remaining=%d, want false/1200", got.Recycled, got.Remaining)
	}

	if err := f.medium.Transfer(alice, escrow, 1200); err != nil {
		t.Fatalf("refund escrow: %v", err)
	}
	swept, err := f.dividends.Reclaim(ctx, owner, div.ID)
	if err != nil {
		t.Fatalf("retry reclaim: %v", err)
	}
	if swept != 1200 {
		t.Fatalf("swept = %d, want 1200", swept)
	}
}

func TestManagerReclaimPaysOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mgr := token.Address("mallory-manager")
	f.registry.SetManager(mgr, true)
	f.registry.SetWhitelisted(mgr, true)

	div := f.deposit(t, 1200, payToken, 0)
	f.advance(31 * 24 * time.Hour)

	ownerBefore := f.medium.BalanceOf(owner)
	swept, err := f.dividends.Reclaim(ctx, mgr, div.ID)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if swept != 1200 {
		t.Fatalf("swept = %d, want 1200", swept)
	}
	if got := f.medium.BalanceOf(mgr); got != 0 {
		t.Fatalf("manager pocketed %d from the reclaim", got)
	}
	if got := f.medium.BalanceOf(owner); got != ownerBefore+1200 {
		t.Fatalf("owner balance = %d, want %d", got, ownerBefore+1200)
	}
}

func TestClaimBeforePayoutDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	div, err := f.dividends.Deposit(ctx, owner, DepositRequest{
		Partition:   classA,
		PayoutDate:  f.clock.Add(time.Hour),
		Amount:      1200,
		PayoutToken: payToken,
	})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.dividends.Claim(ctx, alice, div.ID); !errors.Is(err, errors.CodeTiming) {
		t.Fatalf("claim before payout date: %v", err)
	}
	if got, _ := f.dividends.ClaimableAmount(ctx, alice, div.ID); got != 0 {
		t.Fatalf("claimable before payout date = %d, want 0", got)
	}
}

func TestClaimableAmountPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	div := f.deposit(t, 1200, payToken, 0)
	if got, _ := f.dividends.ClaimableAmount(ctx, alice, div.ID); got != 600 {
		t.Fatalf("claimable = %d, want 600", got)
	}
	if _, err := f.dividends.Claim(ctx, alice, div.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got, _ := f.dividends.ClaimableAmount(ctx, alice, div.ID); got != 0 {
		t.Fatalf("claimable after claim = %d, want 0", got)
	}
}
