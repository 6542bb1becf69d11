// Package verify implements the Verifier: the five-step algorithm that
// turns a parsed manifest plus its payload bytes into a pass/fail
// decision. Grounded on artifact/sec.SignKey's tagged dispatch
// (generalized here into sigalg.Verify) and on
// artifact/image/image.go's pattern of streaming a hash over the image
// body before trusting any TLV inside it.
package verify

import (
	"crypto/sha256"
	"crypto/sha3"
	"crypto/sha512"
	"hash"

	"github.com/wolfSSL/wolfboot-go/hal"
	"github.com/wolfSSL/wolfboot-go/keystore"
	"github.com/wolfSSL/wolfboot-go/manifest"
	"github.com/wolfSSL/wolfboot-go/sigalg"
	"github.com/wolfSSL/wolfboot-go/wolferr"
)

// Result carries the three independent "ok" flags the Candidate Image
// model requires. A caller only trusts the candidate when all three
// are true; on hardened builds the boot package wraps this in armor's
// redundant cross-checks.
type Result struct {
	HdrOK       bool
	ShaOK       bool
	SignatureOK bool
}

// OK reports whether every flag is set.
func (r Result) OK() bool {
	return r.HdrOK && r.ShaOK && r.SignatureOK
}

func hasherFor(shaTag manifest.Tag) (hash.Hash, error) {
	switch shaTag {
	case manifest.TagSHA256:
		return sha256.New(), nil
	case manifest.TagSHA384:
		return sha512.New384(), nil
	case manifest.TagSHA3_384:
		return sha3.New384(), nil
	default:
		return nil, wolferr.New(wolferr.HdrInvalid, "unrecognized SHA tag 0x%04x", uint16(shaTag))
	}
}

// Verify runs the five-step algorithm against v, reading the payload
// bytes from dev at payloadAddr (immediately after the manifest's
// header region in the partition). ks is the primary keystore;
// secondaryKs (may be nil) is consulted for an optional hybrid
// SECONDARY_SIGNATURE.
func Verify(dev hal.Device, payloadAddr uint32, v *manifest.View, ks, secondaryKs *keystore.Store) (Result, error) {
	var res Result

	// Step 1: locate PUBKEY_HINT, scan keystore.
	slot, err := keystore.Lookup(ks, v.PubkeyHint())
	if err != nil {
		return res, err
	}
	res.HdrOK = true

	// Step 2: permitted-image-mask check.
	if !slot.Permits(uint16(v.Type())) {
		return res, wolferr.New(wolferr.NotPermitted, "slot %d not permitted for image type %d", slot.SlotID, v.Type())
	}

	// Step 3: stream-hash header-minus-signature || payload, compare to SHA.
	shaTag, digestLen := v.SHATag()
	h, err := hasherFor(shaTag)
	if err != nil {
		return res, err
	}
	h.Write(v.SignedRegion())
	if err := streamPayload(dev, payloadAddr, int(v.PayloadLen()), h); err != nil {
		return res, err
	}
	digest := h.Sum(nil)
	want := v.SHA()
	if len(want) != digestLen || !constantTimeEqual(digest, want) {
		return res, wolferr.New(wolferr.HashMismatch, "payload hash mismatch")
	}
	res.ShaOK = true

	// Step 4: dispatch primary signature.
	if err := sigalg.Verify(slot.Alg, slot.PubkeyBytes, digest, v.Signature()); err != nil {
		return res, wolferr.Wrap(wolferr.SignatureInvalid, err, "primary signature verification failed")
	}

	// Step 5: optional hybrid secondary signature.
	if sig2, ok := v.SecondarySignature(); ok {
		if secondaryKs == nil {
			return res, wolferr.New(wolferr.SignatureInvalid, "manifest carries SECONDARY_SIGNATURE but no secondary keystore is configured")
		}
		slot2, err := keystore.Lookup(secondaryKs, v.PubkeyHint())
		if err != nil {
			return res, err
		}
		if err := sigalg.Verify(slot2.Alg, slot2.PubkeyBytes, digest, sig2); err != nil {
			return res, wolferr.Wrap(wolferr.SignatureInvalid, err, "secondary signature verification failed")
		}
	}

	res.SignatureOK = true
	return res, nil
}

// streamPayload reads the payload region in fixed-size chunks rather
// than all at once, keeping a single bounded buffer alive: one
// hash-context, one verifier work area, statically allocated.
func streamPayload(dev hal.Device, addr uint32, length int, h hash.Hash) error {
	const chunk = 256
	buf := make([]byte, chunk)
	remaining := length
	offset := addr
	for remaining > 0 {
		n := chunk
		if remaining < n {
			n = remaining
		}
		if err := dev.Read(offset, buf[:n]); err != nil {
			return err
		}
		h.Write(buf[:n])
		offset += uint32(n)
		remaining -= n
	}
	return nil
}

// constantTimeEqual avoids a data-dependent early-exit comparison on
// the security-critical hash check, matching the hardened double-check
// posture every comparison that gates hand-off uses.
func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
