// Package delta applies a differential-update patch stream against a
// flash partition, the implementation behind the manifest's optional
// DELTA_BASE/DELTA_SIZE descriptor. The patch stream is one
// codec-compressed blob of sorted REPLACE/ZERO operations; both
// the magic-byte codec dispatch and the sorted-offset apply loop are
// grounded on CircleCashTeam-magiskboot_go: format.go's CheckFmt for
// the former, payload.go's doExtractBootFromPayload for the latter,
// which sorts a partition's operations by offset and streams
// REPLACE/ZERO/REPLACE_XZ into the output file in one pass.
package delta

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/wolfSSL/wolfboot-go/hal"
	"github.com/wolfSSL/wolfboot-go/wolferr"
)

var xzMagic = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}
var lz4Magic = []byte{0x04, 0x22, 0x4D, 0x18}

type codec int

const (
	codecNone codec = iota
	codecXZ
	codecLZ4
)

// detectCodec inspects the patch stream's leading bytes, the same
// magic-byte dispatch shape as format.go's CheckFmt.
func detectCodec(buf []byte) codec {
	switch {
	case bytes.HasPrefix(buf, xzMagic):
		return codecXZ
	case bytes.HasPrefix(buf, lz4Magic):
		return codecLZ4
	default:
		return codecNone
	}
}

func decompress(buf []byte) ([]byte, error) {
	switch detectCodec(buf) {
	case codecXZ:
		r, err := xz.NewReader(bytes.NewReader(buf))
		if err != nil {
			return nil, wolferr.Wrap(wolferr.HdrInvalid, err, "opening xz delta stream")
		}
		return io.ReadAll(r)
	case codecLZ4:
		r := lz4.NewReader(bytes.NewReader(buf))
		return io.ReadAll(r)
	default:
		return buf, nil
	}
}

type opKind byte

const (
	opReplace opKind = 0
	opZero    opKind = 1
)

type operation struct {
	kind      opKind
	dstOffset uint32
	length    uint32
	payload   []byte // only set for opReplace
}

// parseOperations reads the decompressed stream as a sequence of
// fixed records: 1-byte kind, 4-byte little-endian dstOffset, 4-byte
// little-endian length, and (for REPLACE only) length payload bytes.
func parseOperations(raw []byte) ([]operation, error) {
	var ops []operation
	r := bytes.NewReader(raw)
	for r.Len() > 0 {
		var kind byte
		if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
			return nil, wolferr.Wrap(wolferr.HdrInvalid, err, "reading delta operation kind")
		}
		var dstOffset, length uint32
		if err := binary.Read(r, binary.LittleEndian, &dstOffset); err != nil {
			return nil, wolferr.Wrap(wolferr.HdrInvalid, err, "reading delta operation offset")
		}
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, wolferr.Wrap(wolferr.HdrInvalid, err, "reading delta operation length")
		}
		op := operation{kind: opKind(kind), dstOffset: dstOffset, length: length}
		if op.kind == opReplace {
			op.payload = make([]byte, length)
			if _, err := io.ReadFull(r, op.payload); err != nil {
				return nil, wolferr.Wrap(wolferr.HdrInvalid, err, "reading delta operation payload")
			}
		} else if op.kind != opZero {
			return nil, wolferr.New(wolferr.HdrInvalid, "unsupported delta operation kind %d", kind)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func eraseSpan(dev hal.Device, base uint32, length uint32, sectorSize uint32, erased map[uint32]bool) error {
	start := base - base%sectorSize
	end := base + length
	for addr := start; addr < end; addr += sectorSize {
		if erased[addr] {
			continue
		}
		if err := dev.Erase(addr, sectorSize); err != nil {
			return err
		}
		erased[addr] = true
	}
	return nil
}

// Apply decompresses patch and replays its operations against dst,
// sorted by destination offset exactly as payload.go sorts a
// partition's operations before streaming them into the output file.
// Sectors are erased lazily, the first time any operation touches
// them.
func Apply(dev hal.Device, dstBase uint32, sectorSize uint32, patch []byte) error {
	raw, err := decompress(patch)
	if err != nil {
		return err
	}
	ops, err := parseOperations(raw)
	if err != nil {
		return err
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].dstOffset < ops[j].dstOffset })

	erased := map[uint32]bool{}
	for _, op := range ops {
		addr := dstBase + op.dstOffset
		if err := eraseSpan(dev, addr, op.length, sectorSize, erased); err != nil {
			return err
		}
		switch op.kind {
		case opReplace:
			if err := dev.Write(addr, op.payload); err != nil {
				return err
			}
		case opZero:
			if err := dev.Write(addr, make([]byte, op.length)); err != nil {
				return err
			}
		}
	}
	return nil
}
