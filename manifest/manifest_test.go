package manifest_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/wolfSSL/wolfboot-go/manifest"
)

func buildValid(t *testing.T, headerSize int) ([]byte, manifest.Builder) {
	t.Helper()
	payload := []byte("firmware payload bytes")
	hint := bytes.Repeat([]byte{0xAB}, 32)
	sum := sha256.Sum256(payload)
	b := manifest.Builder{
		HeaderSize: headerSize,
		PayloadLen: uint32(len(payload)),
		Version:    7,
		Type:       manifest.ImageTypeApplication,
		SHA:        sum[:],
		PubkeyHint: hint,
		Signature:  bytes.Repeat([]byte{0x11}, 64),
	}
	hdr, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return hdr, b
}

func TestOpenValidManifest(t *testing.T) {
	hdr, b := buildValid(t, 256)
	v, err := manifest.Open(hdr, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if v.Version() != b.Version {
		t.Errorf("Version() = %d, want %d", v.Version(), b.Version)
	}
	if v.Type() != manifest.ImageTypeApplication {
		t.Errorf("Type() = %v, want Application", v.Type())
	}
	if !bytes.Equal(v.SHA(), b.SHA) {
		t.Errorf("SHA() mismatch")
	}
	if !bytes.Equal(v.PubkeyHint(), b.PubkeyHint) {
		t.Errorf("PubkeyHint() mismatch")
	}
	if !bytes.Equal(v.Signature(), b.Signature) {
		t.Errorf("Signature() mismatch")
	}
	if _, ok := v.SecondarySignature(); ok {
		t.Errorf("SecondarySignature() present, want absent")
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	hdr, _ := buildValid(t, 256)
	hdr[0] ^= 0xFF
	if _, err := manifest.Open(hdr, 0); err == nil {
		t.Fatalf("expected error for bad magic")
	}
}

func TestOpenRejectsPayloadOverflow(t *testing.T) {
	hdr, _ := buildValid(t, 256)
	binary.LittleEndian.PutUint32(hdr[4:8], 1<<30)
	if _, err := manifest.Open(hdr, 4096); err == nil {
		t.Fatalf("expected error for payload overflowing partition capacity")
	}
}

func TestOpenRequiresSHAPubkeyHintSignature(t *testing.T) {
	b := manifest.Builder{
		HeaderSize: 256,
		Version:    1,
		SHA:        bytes.Repeat([]byte{0x01}, 32),
		PubkeyHint: bytes.Repeat([]byte{0x02}, 32),
		// Signature deliberately omitted.
	}
	if _, err := b.Build(); err == nil {
		t.Fatalf("expected Build to reject a manifest missing SIGNATURE")
	}
}

func TestSecondarySignatureAllowedToRepeat(t *testing.T) {
	hint := bytes.Repeat([]byte{0xAB}, 32)
	b := manifest.Builder{
		HeaderSize: 256,
		PayloadLen: 4,
		Version:    1,
		SHA:        bytes.Repeat([]byte{0x01}, 32),
		PubkeyHint: hint,
		Signature:  bytes.Repeat([]byte{0x11}, 64),
		Signature2: bytes.Repeat([]byte{0x22}, 64),
	}
	hdr, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	v, err := manifest.Open(hdr, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sig2, ok := v.SecondarySignature()
	if !ok {
		t.Fatalf("expected SecondarySignature present")
	}
	if !bytes.Equal(sig2, b.Signature2) {
		t.Errorf("SecondarySignature() mismatch")
	}
}

func TestDuplicateSingletonTagRejected(t *testing.T) {
	hdr := make([]byte, 64)
	for i := range hdr {
		hdr[i] = 0xFF
	}
	binary.LittleEndian.PutUint32(hdr[0:4], manifest.Magic)
	binary.LittleEndian.PutUint32(hdr[4:8], 0)

	putTag := func(off int, tag manifest.Tag, value []byte) int {
		binary.LittleEndian.PutUint16(hdr[off:], uint16(tag))
		binary.LittleEndian.PutUint16(hdr[off+2:], uint16(len(value)))
		copy(hdr[off+4:], value)
		return off + 4 + len(value)
	}
	off := 8
	version := []byte{1, 0, 0, 0}
	off = putTag(off, manifest.TagVersion, version)
	off = putTag(off, manifest.TagVersion, version) // duplicate singleton
	putTag(off, manifest.TagEnd, nil)

	if _, err := manifest.Open(hdr, 0); err == nil {
		t.Fatalf("expected error for duplicate singleton VERSION tag")
	}
}

func TestSignedRegionExcludesSignature(t *testing.T) {
	hdr, b := buildValid(t, 256)
	v, err := manifest.Open(hdr, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	region := v.SignedRegion()
	if bytes.Contains(region, b.Signature) {
		t.Errorf("SignedRegion() must not include the SIGNATURE field's bytes")
	}
}

func TestDeltaDescriptor(t *testing.T) {
	b := manifest.Builder{
		HeaderSize: 256,
		PayloadLen: 10,
		Version:    3,
		SHA:        bytes.Repeat([]byte{0x03}, 32),
		PubkeyHint: bytes.Repeat([]byte{0x04}, 32),
		Signature:  bytes.Repeat([]byte{0x05}, 64),
		Delta:      &manifest.DeltaDescriptor{BaseVersion: 2, Size: 1024},
	}
	hdr, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	v, err := manifest.Open(hdr, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	d, ok := v.Delta()
	if !ok {
		t.Fatalf("expected Delta() present")
	}
	if d.BaseVersion != 2 || d.Size != 1024 {
		t.Errorf("Delta() = %+v, want BaseVersion=2 Size=1024", d)
	}
}
