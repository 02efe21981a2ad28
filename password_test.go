package authcore

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHashVerify(t *testing.T) {
	h := &PasswordHasher{Cost: bcrypt.MinCost}

	d1, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	d2, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if d1 == d2 {
		t.Error("two digests of the same password should differ by salt")
	}
	if strings.Contains(d1, "correct horse") {
		t.Error("digest contains the plaintext")
	}
	if !h.Verify("correct horse", d1) || !h.Verify("correct horse", d2) {
		t.Error("Verify rejected the right password")
	}
	if h.Verify("correct horsE", d1) {
		t.Error("Verify accepted the wrong password")
	}
	if h.Verify("anything", "not-a-digest") {
		t.Error("Verify accepted a malformed digest")
	}
}

func TestPasswordHashTooLong(t *testing.T) {
	h := &PasswordHasher{Cost: bcrypt.MinCost}
	if _, err := h.Hash(strings.Repeat("x", MaxPasswordLength+1)); err == nil {
		t.Error("expected an error past bcrypt's input limit")
	}
}

func TestNeedsRehash(t *testing.T) {
	low := &PasswordHasher{Cost: bcrypt.MinCost}
	digest, err := low.Hash("secret123")
	if err != nil {
		t.Fatal(err)
	}
	if low.NeedsRehash(digest) {
		t.Error("digest at the configured cost should not need a rehash")
	}
	higher := &PasswordHasher{Cost: bcrypt.MinCost + 1}
	if !higher.NeedsRehash(digest) {
		t.Error("digest below the configured cost should need a rehash")
	}
	if higher.NeedsRehash("garbage") {
		t.Error("a malformed digest cannot be rehashed")
	}
}

func TestZeroHasherUsesDefaultCost(t *testing.T) {
	var h PasswordHasher
	if got := h.cost(); got != DefaultPasswordCost {
		t.Errorf("cost = %d, want %d", got, DefaultPasswordCost)
	}
}
