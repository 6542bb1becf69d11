package hal

import (
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// MmapDevice memory-maps a flat file and treats it as a single flash
// device, in the idiom of patch.go, which opens a file and calls
// mmap.Map(fd, mmap.RDWR, 0) to patch bytes in place rather than
// seeking and rewriting through the os.File handle. Write-once semantics
// (bits only clear, they never set) are enforced here in software so the
// simulator surfaces the same class of bug a real write-once NOR part
// would: writing a 0 bit back to 1 without an intervening Erase fails.
type MmapDevice struct {
	f          *os.File
	m          mmap.MMap
	sectorSize uint32
	invert     bool // FLAGS_INVERT: erase-to-0 polarity instead of erase-to-1
}

// NewMmapDevice opens path (which must already exist at the desired
// size — callers format a blank device with Format first) and maps it.
func NewMmapDevice(path string, sectorSize uint32, invert bool) (*MmapDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, ErrIO("mmap device: open %s: %v", path, err)
	}
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, ErrIO("mmap device: map %s: %v", path, err)
	}
	return &MmapDevice{f: f, m: m, sectorSize: sectorSize, invert: invert}, nil
}

// Format creates (or truncates) path to size, pre-filled with the
// device's erased-cell value (0xFF normally, 0x00 under FLAGS_INVERT),
// the simulator's stand-in for "partition implicitly created by erase".
func Format(path string, size int64, invert bool) error {
	f, err := os.Create(path)
	if err != nil {
		return ErrIO("mmap device: create %s: %v", path, err)
	}
	defer f.Close()
	erased := byte(0xFF)
	if invert {
		erased = 0x00
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = erased
	}
	if _, err := f.Write(buf); err != nil {
		return ErrIO("mmap device: format %s: %v", path, err)
	}
	return nil
}

func (d *MmapDevice) erasedByte() byte {
	if d.invert {
		return 0x00
	}
	return 0xFF
}

func (d *MmapDevice) Close() error {
	if err := d.m.Unmap(); err != nil {
		return ErrIO("mmap device: unmap: %v", err)
	}
	return d.f.Close()
}

func (d *MmapDevice) Read(addr uint32, buf []byte) error {
	if int(addr)+len(buf) > len(d.m) {
		return ErrIO("read at 0x%x len %d overruns device size %d", addr, len(buf), len(d.m))
	}
	copy(buf, d.m[addr:int(addr)+len(buf)])
	return nil
}

// Erase resets every sector fully covered by [addr, addr+length) to the
// device's erased value. addr and length must be sector-aligned.
func (d *MmapDevice) Erase(addr uint32, length uint32) error {
	ss := d.SectorSize(addr)
	if addr%ss != 0 || length%ss != 0 {
		return ErrIO("erase at 0x%x len %d is not sector-aligned (sector=%d)", addr, length, ss)
	}
	end := int(addr) + int(length)
	if end > len(d.m) {
		return ErrIO("erase at 0x%x len %d overruns device size %d", addr, length, len(d.m))
	}
	erased := d.erasedByte()
	for i := int(addr); i < end; i++ {
		d.m[i] = erased
	}
	return nil
}

// Write programs buf at addr, honoring write-once-flash semantics:
// a cell may only move from its erased value toward its programmed
// polarity (1 -> 0 normally; 0 -> 1 under FLAGS_INVERT), never back.
// Writing a value equal to the cell's current contents is always
// permitted; writing the erased value succeeds only on a cell that is
// still erased.
func (d *MmapDevice) Write(addr uint32, buf []byte) error {
	if int(addr)+len(buf) > len(d.m) {
		return ErrIO("write at 0x%x len %d overruns device size %d", addr, len(buf), len(d.m))
	}
	for i, want := range buf {
		cur := d.m[int(addr)+i]
		if !writeOnceLegal(cur, want, d.invert) {
			return ErrIO("write-once violation at 0x%x: 0x%02x -> 0x%02x", int(addr)+i, cur, want)
		}
		d.m[int(addr)+i] = want
	}
	return nil
}

// writeOnceLegal reports whether programming a cell currently holding cur
// to want is legal on write-once flash: every bit may only transition
// toward its programmed polarity, never back toward erased.
func writeOnceLegal(cur, want byte, invert bool) bool {
	if invert {
		// erase-to-0: bits only ever set (0 -> 1).
		return cur&want == cur
	}
	// erase-to-1 (default): bits only ever clear (1 -> 0).
	return cur&want == want
}

func (d *MmapDevice) SectorSize(addr uint32) uint32 {
	return d.sectorSize
}

// Size returns the mapped device's total length, for callers (the
// simulator CLI, tests) that need to lay out partitions against it.
func (d *MmapDevice) Size() int {
	return len(d.m)
}
