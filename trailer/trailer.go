// Package trailer implements the Partition State & Trailer: a small
// region at the tail of every non-swap partition recording that
// partition's lifecycle state and, for the UPDATE partition, one flag
// per sector tracking fail-safe-swap progress. Grounded on
// artifact/image/image.go's ImageTrailer (a small fixed-layout region
// parsed at a known offset from the end of an image) and on
// newtmgr/protocol/imagestate.go's Pending/Confirmed/Active fields,
// which are the device-reported shape of this package's
// Testing/Success states.
//
// Every field here is encoded as a monotone bit-clearing progression,
// but rather than trust a single byte to survive an arbitrary number
// of program cycles on hardware
// stricter than "bits only clear," each field is backed by a small
// circular log of slots within its reserved sector; get_* scans the
// log for the most-progressed decodable value and set_* advances into
// the next free slot.
package trailer

import (
	"github.com/wolfSSL/wolfboot-go/hal"
	"github.com/wolfSSL/wolfboot-go/wolferr"
)

// State is a partition's lifecycle state.
type State byte

const (
	StateNew      State = 0xFF
	StateUpdating State = 0x70
	StateTesting  State = 0x10
	StateSuccess  State = 0x00
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateUpdating:
		return "UPDATING"
	case StateTesting:
		return "TESTING"
	case StateSuccess:
		return "SUCCESS"
	default:
		return "INVALID"
	}
}

// SectorFlag is a single UPDATE-partition sector's fail-safe-swap progress.
type SectorFlag byte

const (
	FlagNew      SectorFlag = 0x0F
	FlagSwapping SectorFlag = 0x07
	FlagBackup   SectorFlag = 0x03
	FlagUpdated  SectorFlag = 0x00
)

func (f SectorFlag) String() string {
	switch f {
	case FlagNew:
		return "NEW"
	case FlagSwapping:
		return "SWAPPING"
	case FlagBackup:
		return "BACKUP"
	case FlagUpdated:
		return "UPDATED"
	default:
		return "INVALID"
	}
}

var stateRanks = []byte{byte(StateNew), byte(StateUpdating), byte(StateTesting), byte(StateSuccess)}
var flagRanks = []byte{byte(FlagNew), byte(FlagSwapping), byte(FlagBackup), byte(FlagUpdated)}

// stateDAG / flagDAG: legal direct transitions. UPDATING -> NEW exists
// only via a full erase (EraseTrailerRegion), never through SetState.
var stateDAG = map[State]State{
	StateNew:      StateUpdating,
	StateUpdating: StateTesting,
	StateTesting:  StateSuccess,
}

var flagDAG = map[SectorFlag]SectorFlag{
	FlagNew:      FlagSwapping,
	FlagSwapping: FlagBackup,
	FlagBackup:   FlagUpdated,
}

const (
	stateSlotCount     = 8 // redundant log entries per field
	flagSlotsPerSector = 4
	magicValue         = "BOOT"
)

// Partition locates a trailer: the device it lives on, and the byte
// range of the partition it belongs to. The trailer itself occupies the
// partition's last sector.
type Partition struct {
	Dev    hal.Device
	Base   uint32
	Size   uint32
	Invert bool // FLAGS_INVERT: erase-to-0 polarity
}

func (p Partition) trailerSectorAddr() uint32 {
	ss := p.Dev.SectorSize(p.Base + p.Size - 1)
	return p.Base + p.Size - ss
}

func (p Partition) erasedByte() byte {
	if p.Invert {
		return 0x00
	}
	return 0xFF
}

// layout computes the trailer sector's internal offsets: the sector-flag
// log (one slot group per data sector, excluding the trailer sector
// itself), the 4-byte magic, the fallback log, and the state log,
// packed in that order from the start of the reserved sector (the
// reserved sector IS the top of the partition). Bytes after the state
// log, up to the end of the sector, are unused.
type layout struct {
	sectorAddr  uint32
	sectorSize  uint32
	numSectors  int // data sectors covered by the flag vector, excludes trailer sector
	flagsOff    uint32
	magicOff    uint32
	fallbackOff uint32
	stateOff    uint32
}

func (p Partition) layout() (layout, error) {
	sectorAddr := p.trailerSectorAddr()
	ss := p.Dev.SectorSize(sectorAddr)
	if ss == 0 || p.Size < ss {
		return layout{}, wolferr.New(wolferr.StateInvalid, "partition too small for a trailer sector")
	}
	numSectors := int(p.Size/ss) - 1
	if numSectors < 0 {
		numSectors = 0
	}
	flagsOff := uint32(0)
	flagsLen := uint32(numSectors * flagSlotsPerSector)
	magicOff := flagsOff + flagsLen
	fallbackOff := magicOff + 4
	stateOff := fallbackOff + fallbackSlotCount
	if stateOff+stateSlotCount > ss {
		return layout{}, wolferr.New(wolferr.StateInvalid,
			"trailer sector (%d bytes) too small for %d data sectors' flag log", ss, numSectors)
	}
	return layout{
		sectorAddr:  sectorAddr,
		sectorSize:  ss,
		numSectors:  numSectors,
		flagsOff:    flagsOff,
		magicOff:    magicOff,
		fallbackOff: fallbackOff,
		stateOff:    stateOff,
	}, nil
}

func decodeRank(b byte, invert bool, ranks []byte) (int, bool) {
	if invert {
		b = ^b
	}
	for i, v := range ranks {
		if v == b {
			return i, true
		}
	}
	return -1, false
}

func encodeRank(rank int, invert bool, ranks []byte) byte {
	b := ranks[rank]
	if invert {
		b = ^b
	}
	return b
}

// mostProgressed scans a slot group and returns the highest rank any
// slot decodes to, defaulting to rank 0 (the DAG's initial state) when
// every slot is still blank.
func mostProgressed(slots []byte, invert bool, ranks []byte) int {
	best := 0
	for _, b := range slots {
		if rank, ok := decodeRank(b, invert, ranks); ok && rank > best {
			best = rank
		}
	}
	return best
}

// writeNextSlot advances a field's circular log to rank by programming
// the first still-blank slot; it never needs to overwrite a populated
// slot, which is what lets this work on flash stricter than "bits only
// clear in place."
func writeNextSlot(dev hal.Device, base uint32, slots []byte, rank int, invert bool, ranks []byte) error {
	erased := byte(0xFF)
	if invert {
		erased = 0x00
	}
	for i, b := range slots {
		if b == erased {
			return dev.Write(base+uint32(i), []byte{encodeRank(rank, invert, ranks)})
		}
	}
	return wolferr.New(wolferr.StateInvalid, "trailer log exhausted at 0x%x; partition erase required", base)
}

func readSlots(dev hal.Device, base uint32, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := dev.Read(base, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// GetState returns the partition's current lifecycle state, preferring
// the most-progressed decodable value in the state log. A virgin
// (all-erased) trailer reads as StateNew, matching "created implicitly
// when the partition is first erased."
func GetState(p Partition) (State, error) {
	l, err := p.layout()
	if err != nil {
		return 0, err
	}
	slots, err := readSlots(p.Dev, l.sectorAddr+l.stateOff, stateSlotCount)
	if err != nil {
		return 0, err
	}
	return State(stateRanks[mostProgressed(slots, p.Invert, stateRanks)]), nil
}

// SetState validates new against the state DAG (relative to the current
// state) and advances the log.
func SetState(p Partition, new State) error {
	cur, err := GetState(p)
	if err != nil {
		return err
	}
	if cur == new {
		return nil
	}
	if stateDAG[cur] != new {
		return wolferr.New(wolferr.StateInvalid, "illegal state transition %s -> %s", cur, new)
	}
	l, err := p.layout()
	if err != nil {
		return err
	}
	slots, err := readSlots(p.Dev, l.sectorAddr+l.stateOff, stateSlotCount)
	if err != nil {
		return err
	}
	rank := indexOf(stateRanks, byte(new))
	return writeNextSlot(p.Dev, l.sectorAddr+l.stateOff, slots, rank, p.Invert, stateRanks)
}

func indexOf(ranks []byte, canonical byte) int {
	for i, v := range ranks {
		if v == canonical {
			return i
		}
	}
	return 0
}

func sectorSlotBase(l layout, sector int) uint32 {
	return l.sectorAddr + l.flagsOff + uint32(sector*flagSlotsPerSector)
}

// GetSectorFlag returns the UPDATE partition sector's current swap
// progress flag.
func GetSectorFlag(p Partition, sector int) (SectorFlag, error) {
	l, err := p.layout()
	if err != nil {
		return 0, err
	}
	if sector < 0 || sector >= l.numSectors {
		return 0, wolferr.New(wolferr.StateInvalid, "sector index %d out of range [0,%d)", sector, l.numSectors)
	}
	slots, err := readSlots(p.Dev, sectorSlotBase(l, sector), flagSlotsPerSector)
	if err != nil {
		return 0, err
	}
	return SectorFlag(flagRanks[mostProgressed(slots, p.Invert, flagRanks)]), nil
}

// SetSectorFlag validates new against the sector-flag DAG and advances
// that sector's log.
func SetSectorFlag(p Partition, sector int, new SectorFlag) error {
	cur, err := GetSectorFlag(p, sector)
	if err != nil {
		return err
	}
	if cur == new {
		return nil
	}
	if flagDAG[cur] != new {
		return wolferr.New(wolferr.StateInvalid, "illegal sector flag transition %s -> %s (sector %d)", cur, new, sector)
	}
	l, err := p.layout()
	if err != nil {
		return err
	}
	base := sectorSlotBase(l, sector)
	slots, err := readSlots(p.Dev, base, flagSlotsPerSector)
	if err != nil {
		return err
	}
	rank := indexOf(flagRanks, byte(new))
	return writeNextSlot(p.Dev, base, slots, rank, p.Invert, flagRanks)
}

// NumSectors returns the number of data sectors this trailer tracks
// flags for (the partition's sector count minus the reserved trailer
// sector).
func (p Partition) NumSectors() (int, error) {
	l, err := p.layout()
	if err != nil {
		return 0, err
	}
	return l.numSectors, nil
}

// EraseTrailerRegion wipes the whole reserved trailer sector, the only
// way to move a partition's state back to NEW (UPDATING -> NEW "via
// erase") and the only way to recycle an exhausted circular log.
func EraseTrailerRegion(p Partition) error {
	l, err := p.layout()
	if err != nil {
		return err
	}
	if err := p.Dev.Erase(l.sectorAddr, l.sectorSize); err != nil {
		return err
	}
	return writeMagic(p, l)
}

func writeMagic(p Partition, l layout) error {
	return p.Dev.Write(l.sectorAddr+l.magicOff, []byte(magicValue))
}

// Magic reads back the 4-byte "BOOT" trailer magic, for diagnostics
// (to tell a formatted trailer sector from untouched erased flash).
func Magic(p Partition) ([]byte, error) {
	l, err := p.layout()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 4)
	if err := p.Dev.Read(l.sectorAddr+l.magicOff, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// fallback flag: a single bit, stored like any other field, recording
// that an explicit fallback is in progress so CheckVersion (update.E.4)
// knows to waive the version-must-increase rule.
const fallbackSlotCount = 8

var fallbackRanks = []byte{0xFF, 0x00} // rank0 = off (erased), rank1 = on

// GetFallback reports whether the fallback-in-progress flag is set.
func GetFallback(p Partition) (bool, error) {
	l, err := p.layout()
	if err != nil {
		return false, err
	}
	slots, err := readSlots(p.Dev, l.sectorAddr+l.fallbackOff, fallbackSlotCount)
	if err != nil {
		return false, err
	}
	return mostProgressed(slots, p.Invert, fallbackRanks) == 1, nil
}

// SetFallback raises the fallback-in-progress flag. It is one-way within
// a single trailer lifetime; EraseTrailerRegion clears it.
func SetFallback(p Partition) error {
	l, err := p.layout()
	if err != nil {
		return err
	}
	slots, err := readSlots(p.Dev, l.sectorAddr+l.fallbackOff, fallbackSlotCount)
	if err != nil {
		return err
	}
	if mostProgressed(slots, p.Invert, fallbackRanks) == 1 {
		return nil
	}
	return writeNextSlot(p.Dev, l.sectorAddr+l.fallbackOff, slots, 1, p.Invert, fallbackRanks)
}
