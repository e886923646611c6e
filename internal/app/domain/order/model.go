// Package order defines the swap order records managed by the order book.
package order

import (
	"time"

	"github.com/R3E-Network/securities_layer/internal/app/domain/token"
)

// Kind carries the immutable classification of an order.
type Kind struct {
	// Sell is true for an ask (dispose of shares for payment), false for a
	// bid (acquire shares by paying).
	Sell bool `json:"sell"`

	// ShareIssuance marks an order whose fills mint new shares instead of
	// moving existing ones.
	ShareIssuance bool `json:"share_issuance"`

	// TokenPayment selects settlement in the payment token; false means
	// native value attached to the fill call.
	TokenPayment bool `json:"token_payment"`
}

// Status carries the mutable lifecycle flags of an order. Cancelled and
// Disapproved are terminal, as is a fully filled order.
type Status struct {
	Approved    bool `json:"approved"`
	Disapproved bool `json:"disapproved"`
	Cancelled   bool `json:"cancelled"`

	// Accepted is set by a counterparty acceptance and cleared after every
	// fill, so each partial fill needs a fresh acceptance cycle.
	Accepted bool `json:"accepted"`
}

// Order is one entry of the append-only order book. Orders are never
// deleted; terminal orders are retained for audit.
type Order struct {
	ID        uint64          `json:"id"`
	Initiator token.Address   `json:"initiator"`
	Partition token.Partition `json:"partition"`

	// Amount is the total share quantity committed; Price is payment units
	// per share. Filled never exceeds Amount.
	Amount uint64 `json:"amount"`
	Price  uint64 `json:"price"`
	Filled uint64 `json:"filled"`

	// Counterparty is the address recorded by the latest acceptance, and
	// AcceptedAmount the quantity that acceptance covers.
	Counterparty   token.Address `json:"counterparty,omitempty"`
	AcceptedAmount uint64        `json:"accepted_amount"`

	Kind   Kind   `json:"kind"`
	Status Status `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Remaining returns the unfilled share quantity.
func (o Order) Remaining() uint64 {
	if o.Filled >= o.Amount {
		return 0
	}
	return o.Amount - o.Filled
}

// Terminal reports whether the order can never change again.
func (o Order) Terminal() bool {
	return o.Status.Cancelled || o.Status.Disapproved || o.Filled == o.Amount
}

// Proceeds accumulates escrowed settlement value a party has not yet
// withdrawn. It is zeroed atomically on withdrawal.
type Proceeds struct {
	Address   token.Address `json:"address"`
	Native    uint64        `json:"native"`
	Token     uint64        `json:"token"`
	UpdatedAt time.Time     `json:"updated_at"`
}
