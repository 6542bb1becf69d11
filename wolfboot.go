// Package wolfboot is the thin public entry point applications link
// against, playing the same role over this repository's internal
// packages that root newt.go/stack.go play over newt/*: a small
// surface an embedded application calls into, backed
// entirely by package trailer/update/manifest underneath.
package wolfboot

import (
	"github.com/wolfSSL/wolfboot-go/manifest"
	"github.com/wolfSSL/wolfboot-go/trailer"
	"github.com/wolfSSL/wolfboot-go/update"
)

// Library is the application-facing handle: the partitions an
// embedded target's linker script places, bound once at startup.
type Library struct {
	Boot       trailer.Partition
	Update     trailer.Partition
	Swap       trailer.Partition
	HeaderSize int
}

// Success confirms the currently-running image, transitioning its
// source partition's state from TESTING to SUCCESS. An application
// calls this once, after its own self-test, on its first boot following
// an update; calling it when the partition is already SUCCESS is a
// no-op. partition names which partition the running candidate came
// from: "boot" after a sector swap (the normal case), or "update" under
// the RAM-load strategy, where ConsumeForRAMLoad advances UPDATE's own
// state rather than BOOT's.
func (l Library) Success(partition string) error {
	p, err := l.partitionByName(partition)
	if err != nil {
		return err
	}
	return update.Confirm(p)
}

// UpdateTrigger marks a complete image already staged in the UPDATE
// partition as ready to apply: UPDATE's state moves NEW -> UPDATING,
// which the Boot Selector reads on the next reset as "run the version
// check and, if it passes, perform the swap."
func (l Library) UpdateTrigger() error {
	return trailer.SetState(l.Update, trailer.StateUpdating)
}

// CurrentFirmwareVersion reports the VERSION field of the manifest
// currently occupying BOOT, the running image's own version number.
func (l Library) CurrentFirmwareVersion() (uint32, error) {
	v, err := l.GetImageFromPartition("boot")
	if err != nil {
		return 0, err
	}
	return v.Version(), nil
}

// GetImageFromPartition opens and validates the manifest header
// currently occupying the named partition ("boot", "update"), for
// applications that want to inspect a candidate without driving the
// full Boot Selector state machine.
func (l Library) GetImageFromPartition(name string) (*manifest.View, error) {
	p, err := l.partitionByName(name)
	if err != nil {
		return nil, err
	}
	hdr := make([]byte, l.HeaderSize)
	if err := p.Dev.Read(p.Base, hdr); err != nil {
		return nil, err
	}
	return manifest.Open(hdr, int(p.Size))
}

func (l Library) partitionByName(name string) (trailer.Partition, error) {
	switch name {
	case "boot":
		return l.Boot, nil
	case "update":
		return l.Update, nil
	default:
		return trailer.Partition{}, &unknownPartitionError{name: name}
	}
}

type unknownPartitionError struct{ name string }

func (e *unknownPartitionError) Error() string {
	return "wolfboot: unknown partition " + e.name
}
