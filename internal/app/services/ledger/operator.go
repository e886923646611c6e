package ledger

import (
	"github.com/R3E-Network/securities_layer/internal/app/domain/token"
)

// operatorTable tracks delegated transfer authority. A grant is either
// all-partitions or scoped to one partition; grants never expire and are
// revoked explicitly.
type operatorTable struct {
	global map[token.Address]map[token.Address]bool
	scoped map[token.Address]map[token.Partition]map[token.Address]bool
}

func newOperatorTable() *operatorTable {
	return &operatorTable{
		global: make(map[token.Address]map[token.Address]bool),
		scoped: make(map[token.Address]map[token.Partition]map[token.Address]bool),
	}
}

func (t *operatorTable) grant(holder, operator token.Address, partition token.Partition) {
	if partition.Zero() {
		if t.global[holder] == nil {
			t.global[holder] = make(map[token.Address]bool)
		}
		t.global[holder][operator] = true
		return
	}
	if t.scoped[holder] == nil {
		t.scoped[holder] = make(map[token.Partition]map[token.Address]bool)
	}
	if t.scoped[holder][partition] == nil {
		t.scoped[holder][partition] = make(map[token.Address]bool)
	}
	t.scoped[holder][partition][operator] = true
}

func (t *operatorTable) revoke(holder, operator token.Address, partition token.Partition) {
	if partition.Zero() {
		delete(t.global[holder], operator)
		return
	}
	delete(t.scoped[holder][partition], operator)
}

// authorized reports whether operator may act for holder in the partition,
// via either the all-partitions grant or the partition-scoped grant.
func (t *operatorTable) authorized(holder, operator token.Address, partition token.Partition) bool {
	if t.global[holder][operator] {
		return true
	}
	return t.scoped[holder][partition][operator]
}
