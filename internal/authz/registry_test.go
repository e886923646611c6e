package authz

import (
	"testing"

	"github.com/R3E-Network/securities_layer/internal/app/domain/token"
)

func TestStaticRoles(t *testing.T) {
	r := NewStatic("owner")

	if !r.IsOwner("owner") || r.IsOwner("alice") {
		t.Fatal("owner identity wrong")
	}
	// The owner is whitelisted implicitly.
	if !r.IsWhitelisted("owner") {
		t.Fatal("owner not whitelisted")
	}
	if !IsOwnerOrManager(r, "owner") {
		t.Fatal("owner lacks owner-level authority")
	}

	r.SetManager("alice", true)
	if !r.IsManager("alice") || !IsOwnerOrManager(r, "alice") {
		t.Fatal("manager authority not granted")
	}
	r.SetManager("alice", false)
	if r.IsManager("alice") {
		t.Fatal("manager authority not revoked")
	}

	r.SetWhitelisted("bob", true)
	r.SetBanned("bob", true)
	if !r.IsWhitelisted("bob") || !r.IsBanned("bob") {
		t.Fatal("whitelist and ban are independent flags")
	}
	r.SetBanned("bob", false)
	if r.IsBanned("bob") {
		t.Fatal("ban not lifted")
	}

	if r.Owner() != token.Address("owner") {
		t.Fatalf("Owner() = %s", r.Owner())
	}
}
