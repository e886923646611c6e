// Package dividend defines the pro-rata distribution records.
package dividend

import (
	"time"

	"github.com/R3E-Network/securities_layer/internal/app/domain/token"
)

// Dividend is one entry of the append-only distribution ledger. Claims are
// computed against the partition supply snapshot at Sequence, never against
// live balances. The per-holder claimed set is stored separately, keyed by
// (dividend ID, address).
type Dividend struct {
	ID        uint64          `json:"id"`
	Partition token.Partition `json:"partition"`

	// Sequence is the logical sequence number the payout ratio is anchored
	// to; SupplySnapshot is the partition total supply recorded there.
	Sequence       uint64 `json:"sequence"`
	SupplySnapshot uint64 `json:"supply_snapshot"`

	DeclaredAt time.Time `json:"declared_at"`
	RecordDate time.Time `json:"record_date"`
	PayoutDate time.Time `json:"payout_date"`

	// Amount is the escrowed pool; Remaining decrements with each claim and
	// holds the rounding residue afterwards.
	Amount    uint64 `json:"amount"`
	Remaining uint64 `json:"remaining"`

	// PayoutToken is the payment token address, or zero for native value.
	PayoutToken token.Address `json:"payout_token,omitempty"`

	// Recycled is set irreversibly once the residue is swept back to the
	// issuer; all later claims are rejected.
	Recycled bool `json:"recycled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Claimable reports whether the dividend accepts claims at the given time.
func (d Dividend) Claimable(now time.Time) bool {
	return !d.Recycled && !now.Before(d.PayoutDate)
}
