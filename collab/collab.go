// Package collab defines the optional collaborators the core never
// requires to boot but can be wired to: a TPM 2.0 measured-boot
// sealer that extends PCRs from auditlog events, and a PKCS#11
// keystore collaborator that signs with a key the core never holds
// in memory. Both are interface-only edges — the core calls them
// through the interface and never assumes a concrete implementation.
package collab

import (
	"crypto/sha256"
	"sync"

	"github.com/wolfSSL/wolfboot-go/auditlog"
)

// TPM is the measured-boot sealing contract. PCRExtend folds one
// auditlog event into a platform configuration register; Unseal
// releases a secret that was sealed against the PCR's current value.
// No TPM 2.0 client library appears anywhere in the retrieved
// example pack, so the only implementation provided here is a plain
// SHA-256 hash-chain stand-in — PCR extension is itself nothing more
// than that.
type TPM interface {
	PCRExtend(pcr int, event auditlog.Event) error
	PCRValue(pcr int) ([]byte, error)
	Unseal(pcr int, sealed []byte) ([]byte, error)
}

// NoopTPM is the zero-cost default: PCRExtend and Unseal succeed
// without measuring anything. Platforms without a TPM wire this in.
type NoopTPM struct{}

func (NoopTPM) PCRExtend(int, auditlog.Event) error    { return nil }
func (NoopTPM) PCRValue(int) ([]byte, error)           { return nil, nil }
func (NoopTPM) Unseal(int, []byte) ([]byte, error)     { return nil, nil }

// SoftwareTPM chains PCRs as SHA-256(previous || encode(event)), the
// same extend semantics a real TPM 2.0 PCR bank implements, minus the
// hardware root of trust. It exists for host-simulator testing where
// no physical TPM is present; it makes no secrecy claims.
type SoftwareTPM struct {
	mu   sync.Mutex
	pcrs map[int][]byte
}

// NewSoftwareTPM returns a SoftwareTPM with all PCRs at their reset
// value (32 zero bytes).
func NewSoftwareTPM() *SoftwareTPM {
	return &SoftwareTPM{pcrs: make(map[int][]byte)}
}

func (t *SoftwareTPM) pcrLocked(pcr int) []byte {
	if v, ok := t.pcrs[pcr]; ok {
		return v
	}
	return make([]byte, sha256.Size)
}

// PCRExtend folds event into pcr: next = SHA256(current || encodeEvent(event)).
func (t *SoftwareTPM) PCRExtend(pcr int, event auditlog.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var l auditlog.Log
	l.Record(event)
	h := sha256.New()
	h.Write(t.pcrLocked(pcr))
	h.Write(l.Encode())
	t.pcrs[pcr] = h.Sum(nil)
	return nil
}

// PCRValue returns pcr's current accumulated value.
func (t *SoftwareTPM) PCRValue(pcr int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.pcrLocked(pcr)...), nil
}

// Unseal releases sealed only if pcr's current value matches the one
// it was sealed under (the first 32 bytes of sealed); the remainder
// of sealed is the released secret.
func (t *SoftwareTPM) Unseal(pcr int, sealed []byte) ([]byte, error) {
	if len(sealed) < sha256.Size {
		return nil, errSealedTooShort
	}
	want := sealed[:sha256.Size]
	secret := sealed[sha256.Size:]
	got, err := t.PCRValue(pcr)
	if err != nil {
		return nil, err
	}
	if !equalBytes(want, got) {
		return nil, errPCRMismatch
	}
	return secret, nil
}

// Seal is SoftwareTPM's inverse of Unseal, included so tests and the
// simulator CLI can produce sealed blobs without a second code path:
// it binds secret to pcr's current value.
func (t *SoftwareTPM) Seal(pcr int, secret []byte) ([]byte, error) {
	cur, err := t.PCRValue(pcr)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(cur)+len(secret))
	out = append(out, cur...)
	out = append(out, secret...)
	return out, nil
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var (
	errSealedTooShort = sealError("sealed blob shorter than a PCR digest")
	errPCRMismatch    = sealError("PCR value does not match seal")
)

type sealError string

func (e sealError) Error() string { return string(e) }

// PKCS11Store is the keystore collaborator contract for a key that
// lives in a PKCS#11 token rather than the compiled-in keystore: the
// core looks a key up by hint and asks the token to sign, never
// holding the private key itself. Implementations carry their own
// process-wide mutex, since most PKCS#11 modules are not safe for
// concurrent sessions from multiple goroutines; the core never enters
// that lock because it never calls through this interface on the
// verify path, only a provisioning tool does.
type PKCS11Store interface {
	FindKey(hint []byte) (slotID uint, objectLabel string, err error)
	Sign(slotID uint, objectLabel string, digest []byte) (signature []byte, err error)
}

// Config carries the construction parameters a PKCS11Store
// implementation needs to open a session against a real token. This
// package ships no concrete PKCS11Store: wiring one in means adding a
// CGO dependency on a vendor's PKCS#11 shim, which is out of scope
// for the on-device decision core — an out-of-scope, interface-only
// key-provisioning collaborator.
type Config struct {
	ModulePath string
	SlotLabel  string
	PIN        string
}
