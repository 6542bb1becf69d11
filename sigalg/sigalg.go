// Package sigalg dispatches signature verification across the
// algorithm families a keystore slot can declare, the verify-side
// counterpart to artifact/sec.SignKey's tagged union and
// artifact/image/create.go's generateSigRsa/generateSigEc sign-side
// pair, extended with two algorithm families Mynewt's image format
// never needed (hash-based LMS/XMSS and post-quantum ML-DSA); those
// are present as clearly-labeled table entries that report
// ErrNotSupported rather than silently mis-verifying, since no example
// repo in the pack carries a usable implementation of either.
package sigalg

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"math/big"

	"golang.org/x/crypto/ed25519"

	"github.com/wolfSSL/wolfboot-go/wolferr"
)

// SigAlg identifies a signature algorithm family a keystore slot can
// use, the Candidate Image / keystore key_type field.
type SigAlg int

const (
	Ed25519 SigAlg = iota
	Ecdsa
	Rsa
	Lms
	Xmss
	MlDsa
)

func (a SigAlg) String() string {
	switch a {
	case Ed25519:
		return "Ed25519"
	case Ecdsa:
		return "Ecdsa"
	case Rsa:
		return "Rsa"
	case Lms:
		return "Lms"
	case Xmss:
		return "Xmss"
	case MlDsa:
		return "MlDsa"
	default:
		return "Unknown"
	}
}

// ErrNotSupported is returned by the hash-based/PQ stub entries. It is
// a plain sentinel, not a wolferr.Error: a build configured for an
// unimplemented algorithm is a build-time mistake, not a runtime
// verification failure the Boot Selector should treat as "image
// rejected."
var ErrNotSupported = errors.New("sigalg: algorithm not implemented in this build")

// ecdsaSig mirrors ECDSASig: ASN.1 SEQUENCE of R, S.
type ecdsaSig struct {
	R *big.Int
	S *big.Int
}

// Verify checks sig against hash using pubkey, dispatching on alg. hash
// must already be the digest named by the manifest's SHA tag; the
// caller (the verify package) is responsible for picking the hash
// algorithm from the manifest before calling here.
func Verify(alg SigAlg, pubkey, hash, sig []byte) error {
	switch alg {
	case Ed25519:
		return verifyEd25519(pubkey, hash, sig)
	case Ecdsa:
		return verifyEcdsa(pubkey, hash, sig)
	case Rsa:
		return verifyRsa(pubkey, hash, sig)
	case Lms, Xmss, MlDsa:
		return ErrNotSupported
	default:
		return wolferr.New(wolferr.SignatureInvalid, "unknown SigAlg %d", alg)
	}
}

func verifyEd25519(pubkey, hash, sig []byte) error {
	if len(pubkey) != ed25519.PublicKeySize {
		return wolferr.New(wolferr.SignatureInvalid, "bad Ed25519 public key size %d", len(pubkey))
	}
	if !ed25519.Verify(ed25519.PublicKey(pubkey), hash, sig) {
		return wolferr.New(wolferr.SignatureInvalid, "Ed25519 signature verification failed")
	}
	return nil
}

func verifyEcdsa(pubkey, hash, sig []byte) error {
	// pubkey is an uncompressed point: 0x04 || X || Y over P-256, the
	// same encoding BuildKeyHashTlv's counterpart signer expects.
	if len(pubkey) != 65 || pubkey[0] != 0x04 {
		return wolferr.New(wolferr.SignatureInvalid, "bad ECDSA public key encoding")
	}
	x := new(big.Int).SetBytes(pubkey[1:33])
	y := new(big.Int).SetBytes(pubkey[33:65])
	key := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}

	var parsed ecdsaSig
	if _, err := asn1.Unmarshal(sig, &parsed); err != nil {
		return wolferr.Wrap(wolferr.SignatureInvalid, err, "malformed ECDSA signature")
	}
	if !ecdsa.Verify(key, hash, parsed.R, parsed.S) {
		return wolferr.New(wolferr.SignatureInvalid, "ECDSA signature verification failed")
	}
	return nil
}

// parseRSAPublicKey accepts either a PKCS#1 or a PKIX-wrapped RSA
// public key, the two encodings produced by the various PEM block
// types artifact/sec/key.go's ParsePrivateKey switches on for private
// keys (this repo only ever handles the public half, at verify time).
func parseRSAPublicKey(der []byte) (*rsa.PublicKey, error) {
	if key, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return key, nil
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	key, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("sigalg: PKIX key is not RSA")
	}
	return key, nil
}

func verifyRsa(pubkeyDER, hash, sig []byte) error {
	key, err := parseRSAPublicKey(pubkeyDER)
	if err != nil {
		return wolferr.Wrap(wolferr.SignatureInvalid, err, "malformed RSA public key")
	}
	opts := rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}
	hashAlg := hashAlgFor(len(hash))
	if err := rsa.VerifyPSS(key, hashAlg, hash, sig, &opts); err != nil {
		return wolferr.Wrap(wolferr.SignatureInvalid, err, "RSA-PSS signature verification failed")
	}
	return nil
}

func hashAlgFor(digestLen int) crypto.Hash {
	switch digestLen {
	case sha256.Size:
		return crypto.SHA256
	case sha512.Size384:
		return crypto.SHA384
	case sha512.Size:
		return crypto.SHA512
	default:
		return crypto.SHA256
	}
}
