// Package update implements the Update Engine: the fail-safe per-sector
// swap with interrupted-swap recovery, direct RAM-load boot,
// confirmation/rollback, and version anti-rollback. The per-sector
// state-machine shape — inspect
// a small per-item progress flag, do only the work that flag says is
// still outstanding, advance the flag, repeat — is grounded on
// CircleCashTeam-magiskboot_go/payload.go's doExtractBootFromPayload,
// which walks a sorted list of OTA operations applying exactly one of a
// few kinds per item in a single streaming pass.
package update

import (
	"github.com/wolfSSL/wolfboot-go/armor"
	"github.com/wolfSSL/wolfboot-go/hal"
	"github.com/wolfSSL/wolfboot-go/manifest"
	"github.com/wolfSSL/wolfboot-go/trailer"
	"github.com/wolfSSL/wolfboot-go/wolferr"
)

// Partitions names the three partitions the swap strategy operates
// over: BOOT and UPDATE proper, plus the single-sector SWAP scratch
// area used as the pivot for each sector exchange.
type Partitions struct {
	Boot   trailer.Partition
	Update trailer.Partition
	Swap   trailer.Partition
}

func copyWithStaging(dstDev hal.Device, dstAddr uint32, srcDev hal.Device, srcAddr uint32, length uint32) error {
	buf := make([]byte, length)
	if err := srcDev.Read(srcAddr, buf); err != nil {
		return err
	}
	if err := dstDev.Erase(dstAddr, length); err != nil {
		return err
	}
	return dstDev.Write(dstAddr, buf)
}

// swapSector advances sector i exactly as far as its current flag
// requires. Because each branch falls through to the next, a call that
// finds the sector already partway through (after a power loss)
// resumes at the step the flag value says is still outstanding — the
// whole of the recovery table falls out of this; Swap and Recover share
// this code.
func swapSector(p Partitions, i int, ss uint32) error {
	flag, err := trailer.GetSectorFlag(p.Update, i)
	if err != nil {
		return err
	}
	bootAddr := p.Boot.Base + uint32(i)*ss
	updateAddr := p.Update.Base + uint32(i)*ss

	if flag == trailer.FlagUpdated {
		return nil
	}

	if flag == trailer.FlagNew {
		// Step 2: copy BOOT[i] into SWAP (erase SWAP first).
		if err := copyWithStaging(p.Swap.Dev, p.Swap.Base, p.Boot.Dev, bootAddr, ss); err != nil {
			return err
		}
		// Step 3: mark SWAPPING.
		if err := trailer.SetSectorFlag(p.Update, i, trailer.FlagSwapping); err != nil {
			return err
		}
		flag = trailer.FlagSwapping
	}

	if flag == trailer.FlagSwapping {
		// Step 4: erase BOOT[i]; copy UPDATE[i] -> BOOT[i]. On resume,
		// SWAP already holds the former BOOT[i] bytes from step 2.
		if err := copyWithStaging(p.Boot.Dev, bootAddr, p.Update.Dev, updateAddr, ss); err != nil {
			return err
		}
		// Step 5: mark BACKUP.
		if err := trailer.SetSectorFlag(p.Update, i, trailer.FlagBackup); err != nil {
			return err
		}
		flag = trailer.FlagBackup
	}

	if flag == trailer.FlagBackup {
		// Step 6: erase UPDATE[i]; copy SWAP -> UPDATE[i].
		if err := copyWithStaging(p.Update.Dev, updateAddr, p.Swap.Dev, p.Swap.Base, ss); err != nil {
			return err
		}
		// Step 7: mark UPDATED.
		if err := trailer.SetSectorFlag(p.Update, i, trailer.FlagUpdated); err != nil {
			return err
		}
	}

	return nil
}

// Swap runs the per-sector swap loop over every data sector in the
// UPDATE partition, then commits the result: BOOT's trailer is reset
// and advanced to TESTING, UPDATE's trailer is reset and advanced to
// SUCCESS (it now holds the previously-running, already-trusted
// image, the fallback candidate). The reserved trailer sector itself
// is never content-swapped — doing so would overwrite the very
// sector-flag bookkeeping this loop depends on mid-flight — so the
// commit is expressed as explicit trailer transitions instead of a
// physical copy.
func Swap(p Partitions) error {
	n, err := p.Update.NumSectors()
	if err != nil {
		return err
	}
	ss := p.Update.Dev.SectorSize(p.Update.Base)
	for i := 0; i < n; i++ {
		if err := swapSector(p, i, ss); err != nil {
			return err
		}
	}

	if err := trailer.EraseTrailerRegion(p.Boot); err != nil {
		return err
	}
	if err := trailer.SetState(p.Boot, trailer.StateUpdating); err != nil {
		return err
	}
	if err := trailer.SetState(p.Boot, trailer.StateTesting); err != nil {
		return err
	}

	if err := trailer.EraseTrailerRegion(p.Update); err != nil {
		return err
	}
	if err := trailer.SetState(p.Update, trailer.StateUpdating); err != nil {
		return err
	}
	if err := trailer.SetState(p.Update, trailer.StateTesting); err != nil {
		return err
	}
	return trailer.SetState(p.Update, trailer.StateSuccess)
}

// Recover resumes an interrupted swap by running Swap again: swapSector's
// flag-driven branching already does exactly what the recovery table
// describes. It does nothing unless UPDATE is still UPDATING, because a
// completed swap's commit resets UPDATE's trailer (sector flags
// included) and a second Swap would exchange every sector back.
func Recover(p Partitions) error {
	state, err := trailer.GetState(p.Update)
	if err != nil {
		return err
	}
	if state != trailer.StateUpdating {
		return nil
	}
	return Swap(p)
}

// InProgress reports whether any UPDATE sector has left its initial
// NEW flag, the Boot Selector's signal to resume a swap rather than
// start one.
func InProgress(p Partitions) (bool, error) {
	n, err := p.Update.NumSectors()
	if err != nil {
		return false, err
	}
	for i := 0; i < n; i++ {
		f, err := trailer.GetSectorFlag(p.Update, i)
		if err != nil {
			return false, err
		}
		if f != trailer.FlagNew {
			return true, nil
		}
	}
	return false, nil
}

// Confirm transitions a partition from TESTING to SUCCESS, the library
// call an application makes after a successful first boot of an
// update. SetState's DAG check rejects this from NEW or UPDATING;
// from SUCCESS it is a no-op.
func Confirm(p trailer.Partition) error {
	return trailer.SetState(p, trailer.StateSuccess)
}

// ConsumeForRAMLoad moves an UPDATE partition's state UPDATING ->
// TESTING before hand-off, the RAM-load strategy's only state
// mutation, performed only when the candidate being loaded came from
// the UPDATE partition.
func ConsumeForRAMLoad(update trailer.Partition) error {
	return trailer.SetState(update, trailer.StateTesting)
}

// RAMLoad copies length bytes starting at srcAddr into a freshly
// allocated buffer standing in for RAM, for the no-swap-partition
// strategy where the candidate is read into memory (or executed in
// place) rather than relocated sector by sector.
func RAMLoad(dev hal.Device, srcAddr, length uint32) ([]byte, error) {
	buf := make([]byte, length)
	if err := dev.Read(srcAddr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readVersionTwice(dev hal.Device, addr uint32, headerSize int) (uint32, error) {
	read := func() (uint32, error) {
		hdr := make([]byte, headerSize)
		if err := dev.Read(addr, hdr); err != nil {
			return 0, err
		}
		v, err := manifest.Open(hdr, 0)
		if err != nil {
			return 0, err
		}
		return v.Version(), nil
	}
	return armor.DoubleRead(read)
}

// ApplyKeyUpdate atomically replaces the compiled keystore's on-flash
// image: newBlob is staged into
// the key vault's UPDATE-role partition, marked UPDATING, and run
// through the same fail-safe swap primitive firmware updates use,
// narrowed to the vault's one-sector-pair scope. The caller is
// responsible for having already verified newBlob's manifest chains to
// the currently active keystore before calling this.
func ApplyKeyUpdate(vault Partitions, newBlob []byte) error {
	ss := vault.Update.Dev.SectorSize(vault.Update.Base)
	if uint32(len(newBlob)) > ss {
		return wolferr.New(wolferr.HdrInvalid, "key-update blob (%d bytes) exceeds vault sector size %d", len(newBlob), ss)
	}
	if err := vault.Update.Dev.Erase(vault.Update.Base, ss); err != nil {
		return err
	}
	if err := vault.Update.Dev.Write(vault.Update.Base, newBlob); err != nil {
		return err
	}
	if err := trailer.SetState(vault.Update, trailer.StateUpdating); err != nil {
		return err
	}
	return Swap(vault)
}

// CheckVersion reads both partitions' manifests twice each (via
// armor.DoubleRead) and requires version(UPDATE) > version(BOOT)
// unless fallbackInProgress signals an explicit fallback — the sole
// defense against authenticated downgrade.
func CheckVersion(dev hal.Device, bootAddr, updateAddr uint32, headerSize int, fallbackInProgress bool) error {
	bootVer, err := readVersionTwice(dev, bootAddr, headerSize)
	if err != nil {
		return err
	}
	updateVer, err := readVersionTwice(dev, updateAddr, headerSize)
	if err != nil {
		return err
	}
	if !fallbackInProgress && updateVer <= bootVer {
		return wolferr.New(wolferr.VersionRollback,
			"update version %d does not exceed boot version %d", updateVer, bootVer)
	}
	return nil
}
