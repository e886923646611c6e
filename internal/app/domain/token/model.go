// Package token defines the core identifiers and records of the partitioned
// security-token ledger.
package token

import "time"

// Address identifies a holder, operator, or payout token on the host
// environment. The zero value is invalid everywhere.
type Address string

// Zero reports whether the address is the invalid zero address.
func (a Address) Zero() bool { return a == "" }

// Partition names a tranche bucket within a holder's account. The zero value
// is invalid everywhere.
type Partition string

// Zero reports whether the partition identifier is empty.
func (p Partition) Zero() bool { return p == "" }

// Holding is one holder's allocation within a single partition.
type Holding struct {
	Partition Partition `json:"partition"`
	Amount    uint64    `json:"amount"`
}

// EntryKind classifies a journal entry.
type EntryKind string

const (
	EntryIssue    EntryKind = "issue"
	EntryTransfer EntryKind = "transfer"
	EntryRedeem   EntryKind = "redeem"
)

// JournalEntry is one row of the append-only transfer journal. Issues carry a
// zero From address, redeems a zero To address.
type JournalEntry struct {
	ID        string    `json:"id"`
	Kind      EntryKind `json:"kind"`
	Partition Partition `json:"partition"`
	From      Address   `json:"from,omitempty"`
	To        Address   `json:"to,omitempty"`
	Amount    uint64    `json:"amount"`
	Sequence  uint64    `json:"sequence"`
	Actor     Address   `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}
