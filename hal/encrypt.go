// External-flash encryption-at-rest: a Device wrapper that XORs every
// transfer against an AES-CTR keystream keyed from a 32-byte secret,
// transparent to every caller above this package. The CTR
// counter is derived from the absolute flash address rather than a
// running stream position, since flash reads and writes are random
// access, not sequential.
//
// Grounded on artifact/sec/encrypt.go's EncryptAES (AES-CTR XOR
// keystream over a byte buffer) and artifact/sec/key.go's
// EncryptSecretAes/ParseKeBase64 (the secret itself travels key-wrapped
// under a KEK, RFC 3394-style, rather than in the clear).
package hal

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"

	keywrap "github.com/NickBall/go-aes-key-wrap"

	"github.com/wolfSSL/wolfboot-go/wolferr"
)

// CipherSecretSize is the width of the unwrapped content-encryption
// secret external-flash paths are keyed with.
const CipherSecretSize = 32

// ExternalCipherDevice wraps an inner Device and makes every Read/Write
// transparent AES-CTR ciphertext. Erase is passed straight through: an
// erased cell's value (0xFF, or 0x00 under FLAGS_INVERT) is the same in
// plaintext or ciphertext space only because it is never XORed — erase
// never goes through the keystream, matching real NOR semantics where
// erase sets the physical cell state directly.
type ExternalCipherDevice struct {
	inner Device
	block cipher.Block
}

// NewExternalCipherDevice unwraps wrappedSecret (produced the way
// artifact/sec/key.go's EncryptSecretAes wraps a content-encryption
// secret under a key-encryption key) using kek, and builds the AES
// block cipher the per-address keystream is derived from. kek must be
// 16, 24, or 32 bytes; the unwrapped secret must be exactly
// CipherSecretSize bytes.
func NewExternalCipherDevice(inner Device, wrappedSecret, kek []byte) (*ExternalCipherDevice, error) {
	kekBlock, err := aes.NewCipher(kek)
	if err != nil {
		return nil, wolferr.Wrap(wolferr.FlashIo, err, "external cipher: bad key-encryption key")
	}
	secret, err := keywrap.Unwrap(kekBlock, wrappedSecret)
	if err != nil {
		return nil, wolferr.Wrap(wolferr.FlashIo, err, "external cipher: unwrap secret")
	}
	if len(secret) != CipherSecretSize {
		return nil, wolferr.New(wolferr.FlashIo,
			"external cipher: unwrapped secret is %d bytes, want %d", len(secret), CipherSecretSize)
	}
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, wolferr.Wrap(wolferr.FlashIo, err, "external cipher: bad content-encryption secret")
	}
	return &ExternalCipherDevice{inner: inner, block: block}, nil
}

// streamAt returns a keystream positioned to begin at byte addr: the
// CTR counter is addr/BlockSize, with the first addr%BlockSize bytes
// of that block's keystream discarded so Read/Write at any alignment
// produce a keystream consistent with reading the same bytes from the
// start of the block.
func (d *ExternalCipherDevice) streamAt(addr uint32) cipher.Stream {
	var iv [aes.BlockSize]byte
	binary.BigEndian.PutUint64(iv[aes.BlockSize-8:], uint64(addr)/aes.BlockSize)
	stream := cipher.NewCTR(d.block, iv[:])
	if skip := int(addr) % aes.BlockSize; skip > 0 {
		discard := make([]byte, skip)
		stream.XORKeyStream(discard, discard)
	}
	return stream
}

func (d *ExternalCipherDevice) Read(addr uint32, buf []byte) error {
	if err := d.inner.Read(addr, buf); err != nil {
		return err
	}
	d.streamAt(addr).XORKeyStream(buf, buf)
	return nil
}

func (d *ExternalCipherDevice) Write(addr uint32, buf []byte) error {
	ct := make([]byte, len(buf))
	d.streamAt(addr).XORKeyStream(ct, buf)
	return d.inner.Write(addr, ct)
}

func (d *ExternalCipherDevice) Erase(addr uint32, length uint32) error {
	return d.inner.Erase(addr, length)
}

func (d *ExternalCipherDevice) SectorSize(addr uint32) uint32 {
	return d.inner.SectorSize(addr)
}
