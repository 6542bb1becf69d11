// Package manifest parses and queries the signed TLV manifest that precedes
// every firmware payload. The parser is modeled on the artifact/image
// package (ParseImage/FindUniqueTlv/RemoveTlvsWithType), generalized
// from Mynewt's fixed nine-field image trailer to wolfBoot's variable,
// magic-prefixed, END-terminated TLV list living inside a
// build-time-constant HEADER_SIZE region.
package manifest

import (
	"encoding/binary"

	"github.com/wolfSSL/wolfboot-go/wolferr"
)

// Magic is the four byte value ("WOLF") every manifest must start with.
const Magic uint32 = 0x574F4C46

const fixedPrefixSize = 8 // magic (4) + payload_length (4)

// Tag identifies a single TLV field in the manifest.
type Tag uint16

// Recognized tag values. Numeric encodings are centralized here per the
// spec's open question about target-specific numeric encodings: a portable
// implementation should keep exactly one definition module for them.
const (
	TagEnd                  Tag = 0x0000
	TagVersion              Tag = 0x0001
	TagTimestamp            Tag = 0x0002
	TagImgType              Tag = 0x0004
	TagPubkeyHint           Tag = 0x0008
	TagSHA256               Tag = 0x0010
	TagSHA384               Tag = 0x0011
	TagSHA3_384             Tag = 0x0012
	TagSignature            Tag = 0x0020
	TagSecondarySignature   Tag = 0x0021
	TagDeltaBase            Tag = 0x0030
	TagDeltaSize            Tag = 0x0031
	TagDeltaInverseBase     Tag = 0x0032
	TagDeltaInverseSize     Tag = 0x0033
	TagPolicy               Tag = 0x0040
	TagCustom               Tag = 0x00C0
)

var shaTagSizes = map[Tag]int{
	TagSHA256:   32,
	TagSHA384:   48,
	TagSHA3_384: 48,
}

// ImageType is the IMG_TYPE manifest field.
type ImageType uint16

const (
	ImageTypeApplication ImageType = 0
	ImageTypeBootloader  ImageType = 1
	ImageTypeSecondary   ImageType = 2
	ImageTypeKeyUpdate   ImageType = 3
)

type tlvEntry struct {
	tag    Tag
	offset int // offset of the value, within the header
	length int
}

// View is a parsed, validated manifest. It holds offsets into the
// originally supplied header bytes rather than copies, the way
// artifact/image.Image holds its TLVs as slices over the same backing
// array that was parsed.
type View struct {
	header       []byte // exactly HeaderSize bytes
	payloadLen   uint32
	hdrSize      int
	sigFieldOff  int // end (exclusive) of the signed region (== start of SIGNATURE tag's TL, or where parsing stopped if absent)
	entries      []tlvEntry
}

// singleton tags: a second occurrence is an error.
func isSingleton(t Tag) bool {
	return t != TagEnd
}

// Open validates magic, checks the payload length against partition
// capacity, and walks the TLV list once, recording the offset of every
// recognized tag. It rejects: bad magic, TLV overrun, and a manifest
// missing any of SHA/PUBKEY_HINT/SIGNATURE.
func Open(header []byte, partitionCapacity int) (*View, error) {
	hdrSize := len(header)
	if hdrSize < fixedPrefixSize {
		return nil, wolferr.New(wolferr.HdrInvalid, "header too small: %d bytes", hdrSize)
	}

	magic := binary.LittleEndian.Uint32(header[0:4])
	if magic != Magic {
		return nil, wolferr.New(wolferr.HdrInvalid, "bad magic 0x%08x", magic)
	}

	payloadLen := binary.LittleEndian.Uint32(header[4:8])
	if partitionCapacity > 0 && hdrSize+int(payloadLen) > partitionCapacity {
		return nil, wolferr.New(wolferr.HdrInvalid,
			"payload length %d does not fit partition (capacity %d, header %d)",
			payloadLen, partitionCapacity, hdrSize)
	}

	v := &View{
		header:     header,
		payloadLen: payloadLen,
		hdrSize:    hdrSize,
	}

	seen := map[Tag]bool{}
	offset := fixedPrefixSize
	sigFieldOff := -1

	for offset < hdrSize {
		if offset+4 > hdrSize {
			return nil, wolferr.New(wolferr.HdrInvalid, "TLV header overruns HEADER_SIZE at offset %d", offset)
		}
		tag := Tag(binary.LittleEndian.Uint16(header[offset : offset+2]))
		length := int(binary.LittleEndian.Uint16(header[offset+2 : offset+4]))

		if tag == TagEnd {
			break
		}

		valueOff := offset + 4
		if valueOff+length > hdrSize {
			return nil, wolferr.New(wolferr.HdrInvalid, "TLV value overruns HEADER_SIZE for tag 0x%04x", uint16(tag))
		}

		if tag == TagSignature && sigFieldOff < 0 {
			sigFieldOff = offset
		}

		if isSingleton(tag) && tag != TagSecondarySignature {
			if seen[tag] {
				return nil, wolferr.New(wolferr.HdrInvalid, "duplicate singleton tag 0x%04x", uint16(tag))
			}
			seen[tag] = true
		}

		v.entries = append(v.entries, tlvEntry{tag: tag, offset: valueOff, length: length})
		offset = valueOff + length
	}

	if sigFieldOff < 0 {
		// No SIGNATURE tag seen: the signed region runs to wherever
		// parsing stopped (END tag or HEADER_SIZE boundary).
		sigFieldOff = offset
	}
	v.sigFieldOff = sigFieldOff

	if _, ok := v.findSHA(); !ok {
		return nil, wolferr.New(wolferr.HdrInvalid, "manifest missing SHA tag")
	}
	if _, ok := v.Field(TagPubkeyHint); !ok {
		return nil, wolferr.New(wolferr.HdrInvalid, "manifest missing PUBKEY_HINT tag")
	}
	if _, ok := v.Field(TagSignature); !ok {
		return nil, wolferr.New(wolferr.HdrInvalid, "manifest missing SIGNATURE tag")
	}

	return v, nil
}

// Field returns the raw bytes of the first occurrence of tag, if present.
func (v *View) Field(tag Tag) ([]byte, bool) {
	for _, e := range v.entries {
		if e.tag == tag {
			return v.header[e.offset : e.offset+e.length], true
		}
	}
	return nil, false
}

// Fields returns every occurrence of tag, in manifest order.
// SECONDARY_SIGNATURE is the one tag explicitly permitted to repeat;
// SecondarySignature itself returns only its first occurrence.
func (v *View) Fields(tag Tag) [][]byte {
	var out [][]byte
	for _, e := range v.entries {
		if e.tag == tag {
			out = append(out, v.header[e.offset:e.offset+e.length])
		}
	}
	return out
}

func (v *View) findSHA() (Tag, bool) {
	for t := range shaTagSizes {
		if _, ok := v.Field(t); ok {
			return t, true
		}
	}
	return 0, false
}

// SHATag reports which of SHA256/SHA384/SHA3_384 is present, and the
// expected digest size in bytes for that algorithm.
func (v *View) SHATag() (Tag, int) {
	t, _ := v.findSHA()
	return t, shaTagSizes[t]
}

// SHA returns the raw hash bytes of whichever SHA tag is present.
func (v *View) SHA() []byte {
	t, _ := v.findSHA()
	b, _ := v.Field(t)
	return b
}

// Version returns the VERSION tag's value, or 0 if absent (VERSION is not
// in the required set, but every wolfBoot image in practice carries one;
// absence is surfaced to callers as version 0, which never beats an
// existing partition under the anti-rollback check).
func (v *View) Version() uint32 {
	b, ok := v.Field(TagVersion)
	if !ok || len(b) != 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// Type returns the IMG_TYPE tag's value.
func (v *View) Type() ImageType {
	b, ok := v.Field(TagImgType)
	if !ok || len(b) != 2 {
		return ImageTypeApplication
	}
	return ImageType(binary.LittleEndian.Uint16(b))
}

// Timestamp returns the informational TIMESTAMP tag's value.
func (v *View) Timestamp() uint64 {
	b, ok := v.Field(TagTimestamp)
	if !ok || len(b) != 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// PubkeyHint returns the PUBKEY_HINT tag's bytes.
func (v *View) PubkeyHint() []byte {
	b, _ := v.Field(TagPubkeyHint)
	return b
}

// Signature returns the primary SIGNATURE tag's bytes.
func (v *View) Signature() []byte {
	b, _ := v.Field(TagSignature)
	return b
}

// SecondarySignature returns the SECONDARY_SIGNATURE tag's bytes, if a
// hybrid second signature is present.
func (v *View) SecondarySignature() ([]byte, bool) {
	return v.Field(TagSecondarySignature)
}

// PayloadLen returns the payload_length field from the fixed prefix.
func (v *View) PayloadLen() uint32 {
	return v.payloadLen
}

// HeaderSize returns the size of the header region this View was parsed
// from (the build-time-constant HEADER_SIZE).
func (v *View) HeaderSize() int {
	return v.hdrSize
}

// SignedRegion returns the byte range of the header that the SHA/signature
// cover: everything from the start of the manifest up to (but excluding)
// the SIGNATURE field's tag/length/value, per "hash of
// (header-without-signature-fields || payload)".
func (v *View) SignedRegion() []byte {
	return v.header[:v.sigFieldOff]
}

// DeltaDescriptor reports the optional delta-update fields, if present.
type DeltaDescriptor struct {
	BaseVersion  uint32
	Size         uint32
	InverseBase  uint32
	InverseSize  uint32
}

// Delta returns the manifest's delta-update descriptor, if the image is a
// delta patch rather than a full image.
func (v *View) Delta() (DeltaDescriptor, bool) {
	base, ok1 := v.Field(TagDeltaBase)
	size, ok2 := v.Field(TagDeltaSize)
	if !ok1 || !ok2 || len(base) != 4 || len(size) != 4 {
		return DeltaDescriptor{}, false
	}
	d := DeltaDescriptor{
		BaseVersion: binary.LittleEndian.Uint32(base),
		Size:        binary.LittleEndian.Uint32(size),
	}
	if ib, ok := v.Field(TagDeltaInverseBase); ok && len(ib) == 4 {
		d.InverseBase = binary.LittleEndian.Uint32(ib)
	}
	if is, ok := v.Field(TagDeltaInverseSize); ok && len(is) == 4 {
		d.InverseSize = binary.LittleEndian.Uint32(is)
	}
	return d, true
}
