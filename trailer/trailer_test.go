package trailer_test

import (
	"path/filepath"
	"testing"

	"github.com/wolfSSL/wolfboot-go/hal"
	"github.com/wolfSSL/wolfboot-go/trailer"
)

const partitionSize = 4096
const sectorSize = 512

func newPartition(t *testing.T, invert bool) trailer.Partition {
	t.Helper()
	path := filepath.Join(t.TempDir(), "part.bin")
	if err := hal.Format(path, partitionSize, invert); err != nil {
		t.Fatalf("Format: %v", err)
	}
	dev, err := hal.NewMmapDevice(path, sectorSize, invert)
	if err != nil {
		t.Fatalf("NewMmapDevice: %v", err)
	}
	t.Cleanup(func() { dev.Close() })
	return trailer.Partition{Dev: dev, Base: 0, Size: partitionSize, Invert: invert}
}

func TestVirginPartitionReadsStateNew(t *testing.T) {
	for _, invert := range []bool{false, true} {
		p := newPartition(t, invert)
		s, err := trailer.GetState(p)
		if err != nil {
			t.Fatalf("GetState (invert=%v): %v", invert, err)
		}
		if s != trailer.StateNew {
			t.Errorf("GetState (invert=%v) = %v, want NEW", invert, s)
		}
	}
}

func TestStateProgression(t *testing.T) {
	p := newPartition(t, false)
	seq := []trailer.State{trailer.StateUpdating, trailer.StateTesting, trailer.StateSuccess}
	for _, s := range seq {
		if err := trailer.SetState(p, s); err != nil {
			t.Fatalf("SetState(%v): %v", s, err)
		}
		got, err := trailer.GetState(p)
		if err != nil {
			t.Fatalf("GetState: %v", err)
		}
		if got != s {
			t.Fatalf("GetState() = %v, want %v", got, s)
		}
	}
}

func TestStateProgressionInverted(t *testing.T) {
	p := newPartition(t, true)
	seq := []trailer.State{trailer.StateUpdating, trailer.StateTesting, trailer.StateSuccess}
	for _, s := range seq {
		if err := trailer.SetState(p, s); err != nil {
			t.Fatalf("SetState(%v): %v", s, err)
		}
		got, err := trailer.GetState(p)
		if err != nil {
			t.Fatalf("GetState: %v", err)
		}
		if got != s {
			t.Fatalf("GetState() = %v, want %v", got, s)
		}
	}
}

func TestIllegalStateTransitionRejected(t *testing.T) {
	p := newPartition(t, false)
	if err := trailer.SetState(p, trailer.StateSuccess); err == nil {
		t.Fatalf("expected error skipping straight from NEW to SUCCESS")
	}
	if err := trailer.SetState(p, trailer.StateUpdating); err != nil {
		t.Fatalf("SetState(UPDATING): %v", err)
	}
	if err := trailer.SetState(p, trailer.StateNew); err == nil {
		t.Fatalf("expected error for UPDATING -> NEW outside of an erase")
	}
}

func TestSameStateIsIdempotent(t *testing.T) {
	p := newPartition(t, false)
	if err := trailer.SetState(p, trailer.StateNew); err != nil {
		t.Fatalf("SetState(NEW) on a virgin partition should be a no-op: %v", err)
	}
}

func TestSectorFlagProgression(t *testing.T) {
	p := newPartition(t, false)
	n, err := p.NumSectors()
	if err != nil {
		t.Fatalf("NumSectors: %v", err)
	}
	if n == 0 {
		t.Fatalf("expected at least one data sector")
	}
	seq := []trailer.SectorFlag{trailer.FlagSwapping, trailer.FlagBackup, trailer.FlagUpdated}
	for _, f := range seq {
		if err := trailer.SetSectorFlag(p, 0, f); err != nil {
			t.Fatalf("SetSectorFlag(%v): %v", f, err)
		}
		got, err := trailer.GetSectorFlag(p, 0)
		if err != nil {
			t.Fatalf("GetSectorFlag: %v", err)
		}
		if got != f {
			t.Fatalf("GetSectorFlag() = %v, want %v", got, f)
		}
	}
	// Other sectors are untouched.
	other, err := trailer.GetSectorFlag(p, 1)
	if err != nil {
		t.Fatalf("GetSectorFlag(1): %v", err)
	}
	if other != trailer.FlagNew {
		t.Errorf("GetSectorFlag(1) = %v, want NEW (untouched)", other)
	}
}

func TestSectorFlagOutOfRange(t *testing.T) {
	p := newPartition(t, false)
	n, _ := p.NumSectors()
	if _, err := trailer.GetSectorFlag(p, n); err == nil {
		t.Fatalf("expected out-of-range error")
	}
}

func TestEraseTrailerRegionResetsToNew(t *testing.T) {
	p := newPartition(t, false)
	if err := trailer.SetState(p, trailer.StateUpdating); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if err := trailer.EraseTrailerRegion(p); err != nil {
		t.Fatalf("EraseTrailerRegion: %v", err)
	}
	s, err := trailer.GetState(p)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if s != trailer.StateNew {
		t.Errorf("GetState() after erase = %v, want NEW", s)
	}
	magic, err := trailer.Magic(p)
	if err != nil {
		t.Fatalf("Magic: %v", err)
	}
	if string(magic) != "BOOT" {
		t.Errorf("Magic() = %q, want \"BOOT\"", magic)
	}
}

func TestFallbackFlag(t *testing.T) {
	p := newPartition(t, false)
	on, err := trailer.GetFallback(p)
	if err != nil {
		t.Fatalf("GetFallback: %v", err)
	}
	if on {
		t.Fatalf("expected fallback flag unset on a virgin partition")
	}
	if err := trailer.SetFallback(p); err != nil {
		t.Fatalf("SetFallback: %v", err)
	}
	on, err = trailer.GetFallback(p)
	if err != nil {
		t.Fatalf("GetFallback: %v", err)
	}
	if !on {
		t.Fatalf("expected fallback flag set after SetFallback")
	}
}
