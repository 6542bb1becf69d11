// Package keystore holds the compiled-in, read-only table of trusted
// public keys the verifier consults, in the spirit of
// artifact/sec.SignKey (a small tagged struct naming the key material)
// generalized into an ordered slot table addressable by PUBKEY_HINT.
package keystore

import (
	"bytes"
	"crypto/sha256"

	"github.com/wolfSSL/wolfboot-go/sigalg"
	"github.com/wolfSSL/wolfboot-go/wolferr"
)

// Slot is one compiled-in trusted key.
type Slot struct {
	SlotID      int
	Alg         sigalg.SigAlg
	PubkeyBytes []byte
	// PermittedImageMask authorizes image type t when bit t is set.
	PermittedImageMask uint32
}

// Hint returns the PUBKEY_HINT a manifest signed with this slot's key
// would carry: the SHA-256 of the raw public key bytes, matching the
// teacher's RawKeyHash (artifact/image/create.go's BuildKeyHashTlv
// computes a key hash the same way, over the same byte encoding this
// repo's sigalg verifiers expect).
func (s Slot) Hint() []byte {
	h := sha256.Sum256(s.PubkeyBytes)
	return h[:]
}

// Permits reports whether this slot's mask authorizes imageType.
func (s Slot) Permits(imageType uint16) bool {
	if imageType >= 32 {
		return false
	}
	return s.PermittedImageMask&(1<<imageType) != 0
}

// Store is an ordered, immutable sequence of slots.
type Store struct {
	slots []Slot
}

// New builds a Store from a compiled-in slot table. Order is preserved
// for diagnostics (slot 0 is tried first on a hint collision, though
// hints are collision-resistant hashes in practice).
func New(slots []Slot) *Store {
	cp := make([]Slot, len(slots))
	copy(cp, slots)
	return &Store{slots: cp}
}

// Lookup finds the slot whose public key hashes to hint.
func Lookup(ks *Store, hint []byte) (Slot, error) {
	for _, s := range ks.slots {
		if bytes.Equal(s.Hint(), hint) {
			return s, nil
		}
	}
	return Slot{}, wolferr.New(wolferr.UnknownKey, "no keystore slot matches pubkey hint")
}

// Slots returns the compiled-in table, for diagnostics.
func (ks *Store) Slots() []Slot {
	return ks.slots
}
