// Package boot implements the Boot Selector: the top-level state
// machine that decides which partition to run, verifies it, falls
// back on failure, and hands off control. Grounded on the five-step
// boot policy below and on the `builder.Builder`/
// `image.Image` idiom (newt/image/image.go) of threading one mutable
// context through a pipeline rather than passing loose parameters at
// every call site.
package boot

import (
	"github.com/wolfSSL/wolfboot-go/armor"
	"github.com/wolfSSL/wolfboot-go/delta"
	"github.com/wolfSSL/wolfboot-go/hal"
	"github.com/wolfSSL/wolfboot-go/keystore"
	"github.com/wolfSSL/wolfboot-go/manifest"
	"github.com/wolfSSL/wolfboot-go/trailer"
	"github.com/wolfSSL/wolfboot-go/update"
	"github.com/wolfSSL/wolfboot-go/verify"
	"github.com/wolfSSL/wolfboot-go/wolferr"
)

// Context is the one mutable structure threaded through Run: the
// devices and partitions it operates over, the header size every
// manifest is framed at, and the keystores Verify consults.
type Context struct {
	Boot              trailer.Partition
	Update            trailer.Partition
	Swap              trailer.Partition
	HeaderSize        int
	Keystore          *keystore.Store
	SecondaryKeystore *keystore.Store // nil unless hybrid dual-signature is configured
	// KeyVault, when non-nil, enables the key-update image type: a
	// manifest of type KeyUpdate staged in UPDATE and signed by the
	// currently active keystore replaces the compiled keystore via
	// update.ApplyKeyUpdate instead of a firmware swap.
	KeyVault *update.Partitions
}

func (c Context) partitions() update.Partitions {
	return update.Partitions{Boot: c.Boot, Update: c.Update, Swap: c.Swap}
}

// Outcome is what Run decided to hand off to: which partition won, and
// where its payload begins and how long it runs, the information a
// real target uses to configure its MMU/MPU and jump to the
// application's entry point.
type Outcome struct {
	Partition   string // "boot" or "update"
	PayloadAddr uint32
	PayloadLen  uint32
}

func loadCandidate(dev hal.Device, base uint32, headerSize int) (*manifest.View, error) {
	hdr := make([]byte, headerSize)
	if err := dev.Read(base, hdr); err != nil {
		return nil, err
	}
	return manifest.Open(hdr, 0)
}

// verifyCandidate runs the Verifier and then re-checks its verdict
// through an armored Check, the redundant gate required before any
// hand-off decision is trusted.
func verifyCandidate(dev hal.Device, base uint32, headerSize int, ks, secondaryKs *keystore.Store) (*manifest.View, bool) {
	view, err := loadCandidate(dev, base, headerSize)
	if err != nil {
		return nil, false
	}
	payloadAddr := base + uint32(headerSize)
	result, err := verify.Verify(dev, payloadAddr, view, ks, secondaryKs)
	if err != nil {
		return view, false
	}
	return view, armor.Check(armor.Set(result.OK()))
}

// applyKeyUpdateCandidate verifies the staged key-update image against
// the currently active keystore (it must chain to the keystore it is
// about to replace) and, on success, commits it via
// update.ApplyKeyUpdate. It reports whether an update was applied so
// Run knows to re-inspect partition state rather than fall through to
// a firmware version check.
func applyKeyUpdateCandidate(ctx Context, view *manifest.View) (bool, error) {
	if _, ok := verifyCandidate(ctx.Update.Dev, ctx.Update.Base, ctx.HeaderSize, ctx.Keystore, ctx.SecondaryKeystore); !ok {
		return false, trailer.EraseTrailerRegion(ctx.Update)
	}
	payloadAddr := ctx.Update.Base + uint32(ctx.HeaderSize)
	blob := make([]byte, view.PayloadLen())
	if err := ctx.Update.Dev.Read(payloadAddr, blob); err != nil {
		return false, err
	}
	if err := update.ApplyKeyUpdate(*ctx.KeyVault, blob); err != nil {
		return false, err
	}
	// The staged key-update image is consumed: reset UPDATE's trailer so
	// the next pass through Run's loop sees it as NEW rather than
	// looping back into this same key update forever.
	return true, trailer.EraseTrailerRegion(ctx.Update)
}

// stageDeltaCandidate reconstructs a delta-patch UPDATE candidate into a
// complete image in place, before the sector swap sees it: BOOT's
// current payload is staged into UPDATE's payload region as the patch
// base, then the patch operations already sitting there are replayed
// over it. A candidate with no DELTA_BASE/DELTA_SIZE descriptor is a
// full image already and is left untouched.
func stageDeltaCandidate(ctx Context, view *manifest.View) error {
	desc, ok := view.Delta()
	if !ok {
		return nil
	}
	patchAddr := ctx.Update.Base + uint32(ctx.HeaderSize)
	patch := make([]byte, view.PayloadLen())
	if err := ctx.Update.Dev.Read(patchAddr, patch); err != nil {
		return err
	}
	baseAddr := ctx.Boot.Base + uint32(ctx.HeaderSize)
	base := make([]byte, desc.Size)
	if err := ctx.Boot.Dev.Read(baseAddr, base); err != nil {
		return err
	}
	if err := ctx.Update.Dev.Erase(patchAddr, desc.Size); err != nil {
		return err
	}
	if err := ctx.Update.Dev.Write(patchAddr, base); err != nil {
		return err
	}
	sectorSize := ctx.Update.Dev.SectorSize(ctx.Update.Base)
	return delta.Apply(ctx.Update.Dev, patchAddr, sectorSize, patch)
}

// verifyAndSwap is the fresh-update branch of Run's policy: UPDATE is
// only ever relocated into BOOT once it has authenticated, matching the
// same verify-then-commit shape applyKeyUpdateCandidate uses for the
// key-update image type. A candidate that fails to authenticate never
// reaches Swap; its trailer is erased back to NEW instead, so a stale or
// tampered UPDATE image cannot pollute BOOT no matter how high its
// VERSION field claims to be.
func verifyAndSwap(ctx Context) error {
	view, ok := verifyCandidate(ctx.Update.Dev, ctx.Update.Base, ctx.HeaderSize, ctx.Keystore, ctx.SecondaryKeystore)
	if !ok {
		return trailer.EraseTrailerRegion(ctx.Update)
	}
	if err := stageDeltaCandidate(ctx, view); err != nil {
		return err
	}
	return update.Swap(ctx.partitions())
}

// Run implements the Boot Selector's five-step policy: resume an
// interrupted swap, or perform a pending one once its version check
// passes AND the candidate authenticates; verify BOOT; on failure
// verify UPDATE as an emergency fallback; on failure of both, Panic.
func Run(ctx Context) (Outcome, error) {
	for {
		updateState, err := trailer.GetState(ctx.Update)
		if err != nil {
			return Outcome{}, err
		}
		if updateState != trailer.StateUpdating {
			break
		}

		inProgress, err := update.InProgress(ctx.partitions())
		if err != nil {
			return Outcome{}, err
		}
		if inProgress {
			if err := update.Recover(ctx.partitions()); err != nil {
				return Outcome{}, err
			}
			continue
		}

		if ctx.KeyVault != nil {
			if view, err := loadCandidate(ctx.Update.Dev, ctx.Update.Base, ctx.HeaderSize); err == nil &&
				view.Type() == manifest.ImageTypeKeyUpdate {
				if applied, err := applyKeyUpdateCandidate(ctx, view); err != nil {
					return Outcome{}, err
				} else if applied {
					continue
				}
				break
			}
		}

		fallback, err := trailer.GetFallback(ctx.Update)
		if err != nil {
			return Outcome{}, err
		}
		err = update.CheckVersion(ctx.Boot.Dev, ctx.Boot.Base, ctx.Update.Base, ctx.HeaderSize, fallback)
		if err == nil {
			if err := verifyAndSwap(ctx); err != nil {
				return Outcome{}, err
			}
		}
		break
	}

	if view, ok := verifyCandidate(ctx.Boot.Dev, ctx.Boot.Base, ctx.HeaderSize, ctx.Keystore, ctx.SecondaryKeystore); ok {
		return Outcome{
			Partition:   "boot",
			PayloadAddr: ctx.Boot.Base + uint32(ctx.HeaderSize),
			PayloadLen:  view.PayloadLen(),
		}, nil
	}

	if err := trailer.SetFallback(ctx.Update); err != nil {
		return Outcome{}, err
	}
	if view, ok := verifyCandidate(ctx.Update.Dev, ctx.Update.Base, ctx.HeaderSize, ctx.Keystore, ctx.SecondaryKeystore); ok {
		return Outcome{
			Partition:   "update",
			PayloadAddr: ctx.Update.Base + uint32(ctx.HeaderSize),
			PayloadLen:  view.PayloadLen(),
		}, nil
	}

	armor.Panic()
	return Outcome{}, wolferr.New(wolferr.SignatureInvalid, "no candidate partition authenticated; panicked")
}
