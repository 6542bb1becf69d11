package hal_test

import (
	"bytes"
	"crypto/aes"
	"path/filepath"
	"testing"

	keywrap "github.com/NickBall/go-aes-key-wrap"

	"github.com/wolfSSL/wolfboot-go/hal"
)

func wrapSecret(t *testing.T, kek, secret []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(kek)
	if err != nil {
		t.Fatalf("aes.NewCipher(kek): %v", err)
	}
	wrapped, err := keywrap.Wrap(block, secret)
	if err != nil {
		t.Fatalf("keywrap.Wrap: %v", err)
	}
	return wrapped
}

func newCipherDevice(t *testing.T) *hal.ExternalCipherDevice {
	t.Helper()
	path := filepath.Join(t.TempDir(), "external.bin")
	if err := hal.Format(path, 4096, false); err != nil {
		t.Fatalf("Format: %v", err)
	}
	inner, err := hal.NewMmapDevice(path, 512, false)
	if err != nil {
		t.Fatalf("NewMmapDevice: %v", err)
	}
	t.Cleanup(func() { inner.Close() })

	kek := bytes.Repeat([]byte{0x11}, 16)
	secret := bytes.Repeat([]byte{0x22}, hal.CipherSecretSize)
	wrapped := wrapSecret(t, kek, secret)

	dev, err := hal.NewExternalCipherDevice(inner, wrapped, kek)
	if err != nil {
		t.Fatalf("NewExternalCipherDevice: %v", err)
	}
	return dev
}

func TestExternalCipherRoundTrip(t *testing.T) {
	dev := newCipherDevice(t)
	want := []byte("top secret firmware image bytes")
	if err := dev.Write(128, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := make([]byte, len(want))
	if err := dev.Read(128, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, want)
	}
}

func TestExternalCipherStoresCiphertextNotPlaintext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "external.bin")
	if err := hal.Format(path, 4096, false); err != nil {
		t.Fatalf("Format: %v", err)
	}
	inner, err := hal.NewMmapDevice(path, 512, false)
	if err != nil {
		t.Fatalf("NewMmapDevice: %v", err)
	}
	t.Cleanup(func() { inner.Close() })

	kek := bytes.Repeat([]byte{0x33}, 16)
	secret := bytes.Repeat([]byte{0x44}, hal.CipherSecretSize)
	wrapped := wrapSecret(t, kek, secret)
	dev, err := hal.NewExternalCipherDevice(inner, wrapped, kek)
	if err != nil {
		t.Fatalf("NewExternalCipherDevice: %v", err)
	}

	plaintext := bytes.Repeat([]byte{0xAB}, 64)
	if err := dev.Write(0, plaintext); err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw := make([]byte, len(plaintext))
	if err := inner.Read(0, raw); err != nil {
		t.Fatalf("inner.Read: %v", err)
	}
	if bytes.Equal(raw, plaintext) {
		t.Fatalf("backing device holds plaintext; encryption did not apply")
	}
}

func TestExternalCipherDifferentAddressesProduceDifferentKeystream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "external.bin")
	if err := hal.Format(path, 4096, false); err != nil {
		t.Fatalf("Format: %v", err)
	}
	inner, err := hal.NewMmapDevice(path, 512, false)
	if err != nil {
		t.Fatalf("NewMmapDevice: %v", err)
	}
	t.Cleanup(func() { inner.Close() })

	kek := bytes.Repeat([]byte{0x11}, 16)
	secret := bytes.Repeat([]byte{0x22}, hal.CipherSecretSize)
	dev, err := hal.NewExternalCipherDevice(inner, wrapSecret(t, kek, secret), kek)
	if err != nil {
		t.Fatalf("NewExternalCipherDevice: %v", err)
	}

	plaintext := bytes.Repeat([]byte{0x55}, 32)
	if err := dev.Write(0, plaintext); err != nil {
		t.Fatalf("Write at 0: %v", err)
	}
	if err := dev.Write(64, plaintext); err != nil {
		t.Fatalf("Write at 64: %v", err)
	}

	got0 := make([]byte, len(plaintext))
	got64 := make([]byte, len(plaintext))
	if err := dev.Read(0, got0); err != nil {
		t.Fatalf("Read at 0: %v", err)
	}
	if err := dev.Read(64, got64); err != nil {
		t.Fatalf("Read at 64: %v", err)
	}
	if !bytes.Equal(got0, plaintext) || !bytes.Equal(got64, plaintext) {
		t.Fatalf("plaintext not recovered at both addresses")
	}

	raw0 := make([]byte, len(plaintext))
	raw64 := make([]byte, len(plaintext))
	if err := inner.Read(0, raw0); err != nil {
		t.Fatalf("inner.Read at 0: %v", err)
	}
	if err := inner.Read(64, raw64); err != nil {
		t.Fatalf("inner.Read at 64: %v", err)
	}
	if bytes.Equal(raw0, raw64) {
		t.Errorf("same plaintext at 0 and 64 produced identical ciphertext; keystream does not depend on address")
	}
}

func TestNewExternalCipherDeviceRejectsBadKek(t *testing.T) {
	path := filepath.Join(t.TempDir(), "external.bin")
	if err := hal.Format(path, 4096, false); err != nil {
		t.Fatalf("Format: %v", err)
	}
	inner, err := hal.NewMmapDevice(path, 512, false)
	if err != nil {
		t.Fatalf("NewMmapDevice: %v", err)
	}
	t.Cleanup(func() { inner.Close() })

	if _, err := hal.NewExternalCipherDevice(inner, []byte("not a valid wrapped secret"), []byte("short")); err == nil {
		t.Fatalf("expected error for a malformed key-encryption key")
	}
}
