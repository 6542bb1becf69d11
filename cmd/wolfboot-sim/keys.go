package main

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"strconv"
	"strings"

	yaml "gopkg.in/yaml.v2"

	"github.com/wolfSSL/wolfboot-go/keystore"
	"github.com/wolfSSL/wolfboot-go/sigalg"
	"github.com/wolfSSL/wolfboot-go/wolferr"
)

// keysDoc mirrors config.rawDoc's loosely-typed YAML approach
// (newt/flashmap/flashmap.go's convention): a compiled keystore is, on
// real hardware, baked into the bootloader image at build time; the
// simulator's stand-in for that build step is reading the same slot
// table from a small YAML file instead.
type keysDoc struct {
	Slots []struct {
		Slot   int    `yaml:"slot"`
		Alg    string `yaml:"alg"`
		Pubkey string `yaml:"pubkey"` // path to a raw or PEM-encoded public key
		Mask   string `yaml:"mask"`  // "0xFFFFFFFF"-style permitted-image-type mask
	} `yaml:"slots"`
}

func parseAlgName(name string) (sigalg.SigAlg, error) {
	switch strings.ToLower(name) {
	case "", "ed25519":
		return sigalg.Ed25519, nil
	case "ecdsa":
		return sigalg.Ecdsa, nil
	case "rsa":
		return sigalg.Rsa, nil
	case "lms":
		return sigalg.Lms, nil
	case "xmss":
		return sigalg.Xmss, nil
	case "mldsa", "ml-dsa":
		return sigalg.MlDsa, nil
	default:
		return 0, wolferr.New(wolferr.HdrInvalid, "unknown signature algorithm %q", name)
	}
}

func parseMask(s string) (uint32, error) {
	if s == "" {
		return 0xFFFFFFFF, nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		return 0, wolferr.Wrap(wolferr.HdrInvalid, err, "invalid permitted-image mask %q", s)
	}
	return uint32(v), nil
}

// loadPubkey reads path and returns the raw public key bytes in the
// encoding sigalg.Verify expects for alg: PKIX/PKCS1 DER for RSA,
// uncompressed P-256 point for ECDSA, 32 raw bytes for Ed25519. A PEM
// "PUBLIC KEY" block is decoded and re-encoded into that shape; a file
// with no PEM armor is assumed to already hold the right raw encoding.
func loadPubkey(path string, alg sigalg.SigAlg) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, wolferr.Wrap(wolferr.HdrInvalid, err, "reading public key %s", path)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return raw, nil
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		// PKCS#1 RSA public keys are not PKIX; try that encoding too.
		if alg == sigalg.Rsa {
			if _, perr := x509.ParsePKCS1PublicKey(block.Bytes); perr == nil {
				return block.Bytes, nil
			}
		}
		return nil, wolferr.Wrap(wolferr.HdrInvalid, err, "parsing PEM public key %s", path)
	}
	switch key := pub.(type) {
	case *rsa.PublicKey:
		return x509.MarshalPKCS1PublicKey(key), nil
	case *ecdsa.PublicKey:
		return elliptic.Marshal(key.Curve, key.X, key.Y), nil
	case ed25519.PublicKey:
		return []byte(key), nil
	default:
		// Any other key type: the PEM block's DER bytes, unchanged.
		return block.Bytes, nil
	}
}

// loadKeystore parses a keys YAML file into a keystore.Store, the
// simulator's stand-in for a compiled-in keystore table.
func loadKeystore(path string) (*keystore.Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wolferr.Wrap(wolferr.HdrInvalid, err, "reading keys file %s", path)
	}
	var doc keysDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, wolferr.Wrap(wolferr.HdrInvalid, err, "parsing keys YAML %s", path)
	}
	var slots []keystore.Slot
	for _, s := range doc.Slots {
		alg, err := parseAlgName(s.Alg)
		if err != nil {
			return nil, err
		}
		mask, err := parseMask(s.Mask)
		if err != nil {
			return nil, err
		}
		pub, err := loadPubkey(s.Pubkey, alg)
		if err != nil {
			return nil, err
		}
		slots = append(slots, keystore.Slot{
			SlotID:             s.Slot,
			Alg:                alg,
			PubkeyBytes:        pub,
			PermittedImageMask: mask,
		})
	}
	return keystore.New(slots), nil
}
