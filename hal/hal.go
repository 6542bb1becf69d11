// Package hal is the Flash Access Layer: a narrow Device contract that
// every other package programs against, plus the concrete backends that
// implement it. Shaped after Mynewt's device-abstraction idiom of
// handing callers a single small interface and keeping every backend's
// quirks (write granularity, polarity, mapping) behind it.
package hal

import "github.com/wolfSSL/wolfboot-go/wolferr"

// Device is the contract every component above this package programs
// against: read, erase, write, and the sector size at a given address.
// Real targets implement this over SPI-NOR/NAND/internal-flash register
// interfaces; this repo ships only host-simulator and wrapper backends.
type Device interface {
	Read(addr uint32, buf []byte) error
	Erase(addr uint32, length uint32) error
	Write(addr uint32, buf []byte) error
	SectorSize(addr uint32) uint32
}

// ErrIO wraps any backend failure as the single FlashIo terminal outcome,
// per the failure policy: any I/O error during verification is fatal for
// that candidate.
func ErrIO(format string, args ...interface{}) error {
	return wolferr.New(wolferr.FlashIo, format, args...)
}
