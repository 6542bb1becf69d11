package hal_test

import (
	"path/filepath"
	"testing"

	"github.com/wolfSSL/wolfboot-go/hal"
)

func TestIsBlockDeviceFalseForRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.bin")
	if err := hal.Format(path, 4096, false); err != nil {
		t.Fatalf("Format: %v", err)
	}
	isBlock, err := hal.IsBlockDevice(path)
	if err != nil {
		t.Fatalf("IsBlockDevice: %v", err)
	}
	if isBlock {
		t.Errorf("IsBlockDevice(%s) = true, want false for a plain backing file", path)
	}
}
