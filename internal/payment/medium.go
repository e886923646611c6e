// Package payment abstracts the fungible payment token the swap and dividend
// engines settle against. The engines only pull value through TransferFrom
// after the payer granted them an allowance, and push value through Transfer
// from their own escrow account.
package payment

import (
	"sync"

	"github.com/R3E-Network/securities_layer/internal/app/domain/token"
	"github.com/R3E-Network/securities_layer/internal/errors"
)

// Medium is the opaque payment-token ledger.
type Medium interface {
	BalanceOf(addr token.Address) uint64

	// Transfer moves value out of from's balance. The caller asserts it is
	// acting as from.
	Transfer(from, to token.Address, amount uint64) error

	// TransferFrom moves value from `from` to `to`, spending the allowance
	// `from` granted to `spender`.
	TransferFrom(spender, from, to token.Address, amount uint64) error

	// Approve sets the allowance `owner` grants to `spender`.
	Approve(owner, spender token.Address, amount uint64) error

	Allowance(owner, spender token.Address) uint64
}

// Memory is an in-memory Medium used for local mode and tests.
type Memory struct {
	mu         sync.RWMutex
	balances   map[token.Address]uint64
	allowances map[token.Address]map[token.Address]uint64
}

var _ Medium = (*Memory)(nil)

// NewMemory creates an empty in-memory payment ledger.
func NewMemory() *Memory {
	return &Memory{
		balances:   make(map[token.Address]uint64),
		allowances: make(map[token.Address]map[token.Address]uint64),
	}
}

// Mint credits a balance out of thin air. Test and bootstrap helper.
func (m *Memory) Mint(addr token.Address, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := token.AddAmount(m.balances[addr], amount)
	if err != nil {
		return err
	}
	m.balances[addr] = next
	return nil
}

func (m *Memory) BalanceOf(addr token.Address) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[addr]
}

func (m *Memory) Transfer(from, to token.Address, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveLocked(from, to, amount)
}

func (m *Memory) TransferFrom(spender, from, to token.Address, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := m.allowances[from][spender]
	if allowed < amount {
		return errors.Conflict("allowance of %s for %s is %d, need %d", from, spender, allowed, amount)
	}
	if err := m.moveLocked(from, to, amount); err != nil {
		return err
	}
	m.allowances[from][spender] = allowed - amount
	return nil
}

func (m *Memory) Approve(owner, spender token.Address, amount uint64) error {
	if owner.Zero() || spender.Zero() {
		return errors.InvalidInput("approve requires non-zero owner and spender")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allowances[owner] == nil {
		m.allowances[owner] = make(map[token.Address]uint64)
	}
	m.allowances[owner][spender] = amount
	return nil
}

func (m *Memory) Allowance(owner, spender token.Address) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allowances[owner][spender]
}

func (m *Memory) moveLocked(from, to token.Address, amount uint64) error {
	if from.Zero() || to.Zero() {
		return errors.InvalidInput("transfer requires non-zero from and to")
	}
	balance := m.balances[from]
	if balance < amount {
		return errors.Conflict("payment balance of %s is %d, need %d", from, balance, amount)
	}
	credited, err := token.AddAmount(m.balances[to], amount)
	if err != nil {
		return err
	}
	m.balances[from] = balance - amount
	m.balances[to] = credited
	return nil
}
