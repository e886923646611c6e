// Package ledger implements the partitioned balance ledger: the exclusive
// owner of balance, supply, operator and snapshot state. All mutation goes
// through Issue, Transfer and Redeem; every mutation is all-or-nothing and
// records post-state snapshots keyed by the logical sequence counter.
package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/R3E-Network/securities_layer/internal/app/domain/token"
	"github.com/R3E-Network/securities_layer/internal/app/events"
	"github.com/R3E-Network/securities_layer/internal/app/metrics"
	"github.com/R3E-Network/securities_layer/internal/app/storage"
	"github.com/R3E-Network/securities_layer/internal/authz"
	"github.com/R3E-Network/securities_layer/internal/errors"
	"github.com/R3E-Network/securities_layer/pkg/logger"
)

// Service is the partitioned ledger engine. A single RWMutex serializes all
// mutations, so every operation is atomic and queries observe either the
// pre- or post-state of a mutation, never a partial one.
type Service struct {
	mu sync.RWMutex

	registry authz.Registry
	seq      SequenceSource
	journal  storage.JournalStore
	events   events.Log
	log      *logger.Logger

	balances        map[token.Address]uint64
	holdings        map[token.Address]map[token.Partition]uint64
	supply          uint64
	partitionSupply map[token.Partition]uint64

	snapshots *snapshotSet
	operators *operatorTable
}

// New constructs a ledger. The journal store may be nil; events and log
// default to no-ops.
func New(registry authz.Registry, seq SequenceSource, journal storage.JournalStore, evts events.Log, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	if evts == nil {
		evts = events.Nop{}
	}
	return &Service{
		registry:        registry,
		seq:             seq,
		journal:         journal,
		events:          evts,
		log:             log,
		balances:        make(map[token.Address]uint64),
		holdings:        make(map[token.Address]map[token.Partition]uint64),
		partitionSupply: make(map[token.Partition]uint64),
		snapshots:       newSnapshotSet(),
		operators:       newOperatorTable(),
	}
}

// Issue mints amount units of the partition to holder. The caller must carry
// owner-level authority or hold an operator grant for the holder in that
// partition.
func (s *Service) Issue(ctx context.Context, caller token.Address, partition token.Partition, holder token.Address, amount uint64) error {
	err := s.issue(ctx, caller, partition, holder, amount)
	metrics.LedgerOperation("issue", err)
	return err
}

func (s *Service) issue(ctx context.Context, caller token.Address, partition token.Partition, holder token.Address, amount uint64) error {
	if amount == 0 {
		return errors.InvalidInput("issue amount must be positive")
	}
	if partition.Zero() {
		return errors.InvalidInput("partition is required")
	}
	if holder.Zero() {
		return errors.InvalidInput("holder is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !authz.IsOwnerOrManager(s.registry, caller) && !s.operators.authorized(holder, caller, partition) {
		return errors.Unauthorized("%s may not issue to %s", caller, holder)
	}
	if !s.registry.IsWhitelisted(holder) {
		return errors.Unauthorized("holder %s is not whitelisted", holder)
	}

	// Compute every post-state value before touching anything, so a checked
	// overflow aborts with no effect.
	newHolding, err := token.AddAmount(s.holdings[holder][partition], amount)
	if err != nil {
		return err
	}
	newBalance, err := token.AddAmount(s.balances[holder], amount)
	if err != nil {
		return err
	}
	newPartitionSupply, err := token.AddAmount(s.partitionSupply[partition], amount)
	if err != nil {
		return err
	}
	newSupply, err := token.AddAmount(s.supply, amount)
	if err != nil {
		return err
	}

	seq := s.seq.Current()
	if err := s.appendJournal(ctx, token.JournalEntry{
		Kind:      token.EntryIssue,
		Partition: partition,
		To:        holder,
		Amount:    amount,
		Sequence:  seq,
		Actor:     caller,
	}); err != nil {
		return err
	}

	s.setHolding(holder, partition, newHolding)
	s.balances[holder] = newBalance
	s.partitionSupply[partition] = newPartitionSupply
	s.supply = newSupply
	s.snapshotHolder(holder, partition, seq)
	s.snapshotSupply(partition, seq)

	s.events.Emit(events.Event{
		Type:      events.EventTokenIssued,
		Actor:     caller,
		Subject:   holder,
		Partition: partition,
		Amount:    amount,
		Sequence:  seq,
	})
	s.log.WithField("holder", holder).
		WithField("partition", partition).
		WithField("amount", amount).
		Info("tokens issued")
	return nil
}

// Transfer moves amount units of the partition from one holder to another
// without changing total supply. The caller must be the sender or hold an
// operator grant for the sender in that partition.
func (s *Service) Transfer(ctx context.Context, caller token.Address, partition token.Partition, from, to token.Address, amount uint64) error {
	err := s.transfer(ctx, caller, partition, from, to, amount)
	metrics.LedgerOperation("transfer", err)
	return err
}

func (s *Service) transfer(ctx context.Context, caller token.Address, partition token.Partition, from, to token.Address, amount uint64) error {
	if amount == 0 {
		return errors.InvalidInput("transfer amount must be positive")
	}
	if partition.Zero() {
		return errors.InvalidInput("partition is required")
	}
	if from.Zero() || to.Zero() {
		return errors.InvalidInput("from and to are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != from && !s.operators.authorized(from, caller, partition) {
		return errors.Unauthorized("%s is not an operator for %s in partition %s", caller, from, partition)
	}
	if !s.registry.IsWhitelisted(from) {
		return errors.Unauthorized("sender %s is not whitelisted", from)
	}
	if !s.registry.IsWhitelisted(to) {
		return errors.Unauthorized("recipient %s is not whitelisted", to)
	}

	held, tracked := s.holdings[from][partition]
	if !tracked {
		return errors.Conflict("%s holds no allocation in partition %s", from, partition)
	}
	if held < amount {
		return errors.Conflict("partition balance of %s is %d, need %d", from, held, amount)
	}

	newToHolding, err := token.AddAmount(s.holdings[to][partition], amount)
	if err != nil {
		return err
	}
	newToBalance, err := token.AddAmount(s.balances[to], amount)
	if err != nil {
		return err
	}

	seq := s.seq.Current()
	if err := s.appendJournal(ctx, token.JournalEntry{
		Kind:      token.EntryTransfer,
		Partition: partition,
		From:      from,
		To:        to,
		Amount:    amount,
		Sequence:  seq,
		Actor:     caller,
	}); err != nil {
		return err
	}

	s.setHolding(from, partition, held-amount)
	s.balances[from] -= amount
	s.setHolding(to, partition, newToHolding)
	s.balances[to] = newToBalance
	s.snapshotHolder(from, partition, seq)
	s.snapshotHolder(to, partition, seq)
	s.snapshotSupply(partition, seq)

	s.events.Emit(events.Event{
		Type:      events.EventTokenTransferred,
		Actor:     caller,
		Subject:   to,
		Partition: partition,
		Amount:    amount,
		Sequence:  seq,
		Metadata:  map[string]string{"from": string(from)},
	})
	return nil
}

// Redeem burns amount units of the partition held by holder. The caller must
// be the holder, carry owner-level authority, or hold an operator grant.
func (s *Service) Redeem(ctx context.Context, caller token.Address, partition token.Partition, holder token.Address, amount uint64) error {
	err := s.redeem(ctx, caller, partition, holder, amount)
	metrics.LedgerOperation("redeem", err)
	return err
}

func (s *Service) redeem(ctx context.Context, caller token.Address, partition token.Partition, holder token.Address, amount uint64) error {
	if amount == 0 {
		return errors.InvalidInput("redeem amount must be positive")
	}
	if partition.Zero() {
		return errors.InvalidInput("partition is required")
	}
	if holder.Zero() {
		return errors.InvalidInput("holder is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != holder && !authz.IsOwnerOrManager(s.registry, caller) && !s.operators.authorized(holder, caller, partition) {
		return errors.Unauthorized("%s may not redeem for %s", caller, holder)
	}

	held, tracked := s.holdings[holder][partition]
	if !tracked {
		return errors.Conflict("%s holds no allocation in partition %s", holder, partition)
	}
	if held < amount {
		return errors.Conflict("partition balance of %s is %d, need %d", holder, held, amount)
	}

	seq := s.seq.Current()
	if err := s.appendJournal(ctx, token.JournalEntry{
		Kind:      token.EntryRedeem,
		Partition: partition,
		From:      holder,
		Amount:    amount,
		Sequence:  seq,
		Actor:     caller,
	}); err != nil {
		return err
	}

	s.setHolding(holder, partition, held-amount)
	s.balances[holder] -= amount
	s.partitionSupply[partition] -= amount
	s.supply -= amount
	s.snapshotHolder(holder, partition, seq)
	s.snapshotSupply(partition, seq)

	s.events.Emit(events.Event{
		Type:      events.EventTokenRedeemed,
		Actor:     caller,
		Subject:   holder,
		Partition: partition,
		Amount:    amount,
		Sequence:  seq,
	})
	return nil
}

// AuthorizeOperator grants operator authority over holder, either for all
// partitions (zero partition) or one partition. Grants are owner-mediated:
// only owner-level callers may create them.
func (s *Service) AuthorizeOperator(_ context.Context, caller, holder, operator token.Address, partition token.Partition) error {
	if holder.Zero() || operator.Zero() {
		return errors.InvalidInput("holder and operator are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !authz.IsOwnerOrManager(s.registry, caller) {
		return errors.Unauthorized("operator grants require owner or manager authority")
	}
	s.operators.grant(holder, operator, partition)

	s.events.Emit(events.Event{
		Type:      events.EventOperatorAuthorized,
		Actor:     caller,
		Subject:   holder,
		Partition: partition,
		Metadata:  map[string]string{"operator": string(operator)},
	})
	return nil
}

// RevokeOperator removes a previously created grant of the same scope.
func (s *Service) RevokeOperator(_ context.Context, caller, holder, operator token.Address, partition token.Partition) error {
	if holder.Zero() || operator.Zero() {
		return errors.InvalidInput("holder and operator are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !authz.IsOwnerOrManager(s.registry, caller) {
		return errors.Unauthorized("operator revocation requires owner or manager authority")
	}
	s.operators.revoke(holder, operator, partition)

	s.events.Emit(events.Event{
		Type:      events.EventOperatorRevoked,
		Actor:     caller,
		Subject:   holder,
		Partition: partition,
		Metadata:  map[string]string{"operator": string(operator)},
	})
	return nil
}

// IsOperator reports whether operator may act for holder in the partition.
func (s *Service) IsOperator(holder, operator token.Address, partition token.Partition) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operators.authorized(holder, operator, partition)
}

// Read projections --------------------------------------------------------

// BalanceOf returns the holder's aggregate balance across all partitions.
func (s *Service) BalanceOf(holder token.Address) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[holder]
}

// PartitionBalanceOf returns the holder's allocation in one partition.
func (s *Service) PartitionBalanceOf(holder token.Address, partition token.Partition) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.holdings[holder][partition]
}

// PartitionsOf returns the holder's tracked allocations, sorted by partition.
func (s *Service) PartitionsOf(holder token.Address) []token.Holding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]token.Holding, 0, len(s.holdings[holder]))
	for partition, amount := range s.holdings[holder] {
		result = append(result, token.Holding{Partition: partition, Amount: amount})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Partition < result[j].Partition })
	return result
}

// TotalSupply returns the global supply.
func (s *Service) TotalSupply() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.supply
}

// PartitionTotalSupply returns the supply of one partition.
func (s *Service) PartitionTotalSupply(partition token.Partition) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.partitionSupply[partition]
}

// Historical queries. A query before the stream's first recorded sequence
// returns zero: the value did not exist yet.

// BalanceAt returns the holder's partition balance at the given sequence.
func (s *Service) BalanceAt(holder token.Address, partition token.Partition, seq uint64) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshots.valueAt(streamKey{holder: holder, partition: partition}, seq)
}

// PartitionSupplyAt returns one partition's supply at the given sequence.
func (s *Service) PartitionSupplyAt(partition token.Partition, seq uint64) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshots.valueAt(streamKey{partition: partition}, seq)
}

// TotalSupplyAt returns the global supply at the given sequence.
func (s *Service) TotalSupplyAt(seq uint64) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshots.valueAt(streamKey{}, seq)
}

// CurrentSequence returns the sequence new snapshot points would be recorded
// at. Dividend deposits anchor their payout ratio here.
func (s *Service) CurrentSequence() uint64 {
	return s.seq.Current()
}

// Internals ----------------------------------------------------------------

// setHolding writes an allocation, removing the record entirely when it
// reaches zero. Redeem and plain transfer share this policy.
func (s *Service) setHolding(holder token.Address, partition token.Partition, amount uint64) {
	if amount == 0 {
		delete(s.holdings[holder], partition)
		if len(s.holdings[holder]) == 0 {
			delete(s.holdings, holder)
		}
		return
	}
	if s.holdings[holder] == nil {
		s.holdings[holder] = make(map[token.Partition]uint64)
	}
	s.holdings[holder][partition] = amount
}

func (s *Service) snapshotHolder(holder token.Address, partition token.Partition, seq uint64) {
	s.snapshots.record(streamKey{holder: holder, partition: partition}, seq, s.holdings[holder][partition])
	s.events.Emit(events.Event{
		Type:      events.EventSnapshotRecorded,
		Subject:   holder,
		Partition: partition,
		Sequence:  seq,
	})
}

func (s *Service) snapshotSupply(partition token.Partition, seq uint64) {
	s.snapshots.record(streamKey{partition: partition}, seq, s.partitionSupply[partition])
	s.snapshots.record(streamKey{}, seq, s.supply)
}

func (s *Service) appendJournal(ctx context.Context, entry token.JournalEntry) error {
	if s.journal == nil {
		return nil
	}
	if _, err := s.journal.AppendEntry(ctx, entry); err != nil {
		return errors.Internal(err)
	}
	return nil
}
