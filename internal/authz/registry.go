// Package authz provides the authorization oracle consulted by every
// externally reachable operation: ownership, manager roles, the transfer
// whitelist, and the banned-address list used to block buy-side order entry.
//
// The oracle is an injected collaborator rather than package state so it can
// be faked in tests and replaced by an external compliance service in
// deployment.
package authz

import (
	"sync"

	"github.com/R3E-Network/securities_layer/internal/app/domain/token"
)

// Registry answers authorization queries for the service layer.
type Registry interface {
	IsWhitelisted(addr token.Address) bool
	IsOwner(addr token.Address) bool
	IsManager(addr token.Address) bool
	IsBanned(addr token.Address) bool

	// Owner returns the contract owner address, the implicit counterparty
	// and proceeds recipient of share-issuance orders.
	Owner() token.Address
}

// IsOwnerOrManager reports whether the address carries owner-level authority.
func IsOwnerOrManager(r Registry, addr token.Address) bool {
	return r.IsOwner(addr) || r.IsManager(addr)
}

// Static is an in-memory Registry with administrative mutation. It backs
// local deployments and tests; production deployments substitute the
// compliance service.
type Static struct {
	mu        sync.RWMutex
	owner     token.Address
	managers  map[token.Address]bool
	whitelist map[token.Address]bool
	banned    map[token.Address]bool
}

var _ Registry = (*Static)(nil)

// NewStatic creates a registry owned by the given address. The owner is
// whitelisted from the start.
func NewStatic(owner token.Address) *Static {
	s := &Static{
		owner:     owner,
		managers:  make(map[token.Address]bool),
		whitelist: make(map[token.Address]bool),
		banned:    make(map[token.Address]bool),
	}
	if !owner.Zero() {
		s.whitelist[owner] = true
	}
	return s
}

func (s *Static) Owner() token.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner
}

func (s *Static) IsOwner(addr token.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !addr.Zero() && addr == s.owner
}

func (s *Static) IsManager(addr token.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.managers[addr]
}

func (s *Static) IsWhitelisted(addr token.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.whitelist[addr]
}

func (s *Static) IsBanned(addr token.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.banned[addr]
}

// SetManager grants or revokes the manager role.
func (s *Static) SetManager(addr token.Address, managed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if managed {
		s.managers[addr] = true
	} else {
		delete(s.managers, addr)
	}
}

// SetWhitelisted adds or removes an address from the transfer whitelist.
func (s *Static) SetWhitelisted(addr token.Address, listed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if listed {
		s.whitelist[addr] = true
	} else {
		delete(s.whitelist, addr)
	}
}

// SetBanned adds or removes an address from the banned list.
func (s *Static) SetBanned(addr token.Address, banned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if banned {
		s.banned[addr] = true
	} else {
		delete(s.banned, addr)
	}
}
