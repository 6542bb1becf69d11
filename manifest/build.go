package manifest

import (
	"encoding/binary"

	"github.com/wolfSSL/wolfboot-go/wolferr"
)

// Builder assembles a manifest header byte-for-byte, in the idiom of
// ImageCreator (artifact/image/create.go): fields are set on the
// builder, then Build lays them out as TLVs and pads to HeaderSize
// with 0xFF, leaving room for re-signing with a larger algorithm
// later.
type Builder struct {
	HeaderSize  int
	PayloadLen  uint32
	Version     uint32
	Timestamp   uint64
	Type        ImageType
	SHATag      Tag
	SHA         []byte
	PubkeyHint  []byte
	Signature   []byte
	Signature2  []byte // SECONDARY_SIGNATURE, optional
	Delta       *DeltaDescriptor
	Policy      []byte
	Custom      []byte
}

func putTLV(buf []byte, off int, tag Tag, value []byte) int {
	binary.LittleEndian.PutUint16(buf[off:], uint16(tag))
	binary.LittleEndian.PutUint16(buf[off+2:], uint16(len(value)))
	copy(buf[off+4:], value)
	return off + 4 + len(value)
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// Build lays out the header: magic, payload_length, the TLV fields set on
// the Builder (VERSION, TIMESTAMP if set, IMG_TYPE, SHA, PUBKEY_HINT,
// then the optional delta / POLICY / CUSTOM fields, then SIGNATURE and
// an optional SECONDARY_SIGNATURE), an END tag, and 0xFF padding up to
// HeaderSize.
func (b *Builder) Build() ([]byte, error) {
	if b.HeaderSize <= 0 {
		return nil, wolferr.New(wolferr.HdrInvalid, "HeaderSize must be positive")
	}
	header := make([]byte, b.HeaderSize)
	for i := range header {
		header[i] = 0xFF
	}

	binary.LittleEndian.PutUint32(header[0:4], Magic)
	binary.LittleEndian.PutUint32(header[4:8], b.PayloadLen)

	off := fixedPrefixSize
	off = putTLV(header, off, TagVersion, u32(b.Version))
	if b.Timestamp != 0 {
		off = putTLV(header, off, TagTimestamp, u64(b.Timestamp))
	}
	off = putTLV(header, off, TagImgType, u16(uint16(b.Type)))
	if len(b.SHA) == 0 {
		return nil, wolferr.New(wolferr.HdrInvalid, "SHA is required")
	}
	if b.SHATag == 0 {
		b.SHATag = TagSHA256
	}
	off = putTLV(header, off, b.SHATag, b.SHA)
	if len(b.PubkeyHint) == 0 {
		return nil, wolferr.New(wolferr.HdrInvalid, "PubkeyHint is required")
	}
	off = putTLV(header, off, TagPubkeyHint, b.PubkeyHint)

	if b.Delta != nil {
		off = putTLV(header, off, TagDeltaBase, u32(b.Delta.BaseVersion))
		off = putTLV(header, off, TagDeltaSize, u32(b.Delta.Size))
		if b.Delta.InverseBase != 0 {
			off = putTLV(header, off, TagDeltaInverseBase, u32(b.Delta.InverseBase))
		}
		if b.Delta.InverseSize != 0 {
			off = putTLV(header, off, TagDeltaInverseSize, u32(b.Delta.InverseSize))
		}
	}
	if len(b.Policy) > 0 {
		off = putTLV(header, off, TagPolicy, b.Policy)
	}
	if len(b.Custom) > 0 {
		off = putTLV(header, off, TagCustom, b.Custom)
	}

	if len(b.Signature) == 0 {
		return nil, wolferr.New(wolferr.HdrInvalid, "Signature is required")
	}
	off = putTLV(header, off, TagSignature, b.Signature)
	if len(b.Signature2) > 0 {
		off = putTLV(header, off, TagSecondarySignature, b.Signature2)
	}

	if off+4 > b.HeaderSize {
		return nil, wolferr.New(wolferr.HdrInvalid,
			"TLV fields (%d bytes) exceed HEADER_SIZE-FIXED_PREFIX", off-fixedPrefixSize)
	}
	putTLV(header, off, TagEnd, nil)

	return header, nil
}
