package delta_test

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/pierrec/lz4/v4"

	"github.com/wolfSSL/wolfboot-go/delta"
	"github.com/wolfSSL/wolfboot-go/hal"
)

const sectorSize = 256

func buildOperations(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	// REPLACE at offset 0: "hello"
	buf.WriteByte(0)
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint32(5))
	buf.WriteString("hello")
	// ZERO at offset 300, length 8
	buf.WriteByte(1)
	binary.Write(&buf, binary.LittleEndian, uint32(300))
	binary.Write(&buf, binary.LittleEndian, uint32(8))
	return buf.Bytes()
}

func newDevice(t *testing.T) *hal.MmapDevice {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flash.img")
	if err := hal.Format(path, 1024, false); err != nil {
		t.Fatalf("Format: %v", err)
	}
	dev, err := hal.NewMmapDevice(path, sectorSize, false)
	if err != nil {
		t.Fatalf("NewMmapDevice: %v", err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev
}

func TestApplyUncompressedOperations(t *testing.T) {
	dev := newDevice(t)
	patch := buildOperations(t)

	if err := delta.Apply(dev, 0, sectorSize, patch); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got := make([]byte, 5)
	if err := dev.Read(0, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("payload at offset 0 = %q, want %q", got, "hello")
	}

	zeroed := make([]byte, 8)
	if err := dev.Read(300, zeroed); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, b := range zeroed {
		if b != 0 {
			t.Errorf("byte %d at zeroed offset = 0x%02x, want 0", i, b)
		}
	}
}

func TestApplyLZ4CompressedOperations(t *testing.T) {
	dev := newDevice(t)
	raw := buildOperations(t)

	var compressed bytes.Buffer
	w := lz4.NewWriter(&compressed)
	if _, err := w.Write(raw); err != nil {
		t.Fatalf("lz4 write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("lz4 close: %v", err)
	}

	if err := delta.Apply(dev, 0, sectorSize, compressed.Bytes()); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got := make([]byte, 5)
	if err := dev.Read(0, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("payload at offset 0 = %q, want %q", got, "hello")
	}
}
