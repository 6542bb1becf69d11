// Package auditlog holds measured-boot events, one per verification
// step a caller appends: which partition, which manifest version and
// payload size, the SHA that was checked, and the verdict. It is the
// concrete backing store collab.TPM extends PCRs from. The boot
// package does not append events or extend PCRs itself; recording is
// left to whoever drives the verification. Records are framed with raw protobuf wire primitives rather
// than a generated message type, since the schema is a handful of
// scalar fields — not worth a .proto and protoc-generated package —
// the same "hand-frame the wire bytes directly" choice
// CircleCashTeam-magiskboot_go's payload.go makes on the consuming
// side for ChromeOS's update_engine DeltaArchiveManifest.
package auditlog

import (
	"github.com/dustin/go-humanize"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wolfSSL/wolfboot-go/wolferr"
)

const (
	fieldPartitionID = protowire.Number(1)
	fieldVersion     = protowire.Number(2)
	fieldSHA         = protowire.Number(3)
	fieldOutcome     = protowire.Number(4)
	fieldPayloadLen  = protowire.Number(5)
)

// Event is one measured-boot record.
type Event struct {
	PartitionID string
	Version     uint32
	SHA         []byte
	Outcome     string // "OK" or one of wolferr's Outcome names
	PayloadLen  uint32
}

// String renders the event as one line of text, formatting PayloadLen
// with go-humanize the way
// CircleCashTeam-magiskboot_go/cpio/cpio.go formats archive-entry
// sizes for its own listing output.
func (e Event) String() string {
	return e.PartitionID + " v" + itoa(e.Version) + " (" + humanize.Bytes(uint64(e.PayloadLen)) + "): " + e.Outcome
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var digits []byte
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	return string(digits)
}

func encodeEvent(e Event) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldPartitionID, protowire.BytesType)
	b = protowire.AppendString(b, e.PartitionID)
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Version))
	b = protowire.AppendTag(b, fieldSHA, protowire.BytesType)
	b = protowire.AppendBytes(b, e.SHA)
	b = protowire.AppendTag(b, fieldOutcome, protowire.BytesType)
	b = protowire.AppendString(b, e.Outcome)
	b = protowire.AppendTag(b, fieldPayloadLen, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.PayloadLen))
	return b
}

func decodeEvent(b []byte) (Event, error) {
	var e Event
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Event{}, wolferr.New(wolferr.HdrInvalid, "auditlog: malformed tag")
		}
		b = b[n:]
		switch num {
		case fieldPartitionID:
			s, m := protowire.ConsumeString(b)
			if m < 0 {
				return Event{}, wolferr.New(wolferr.HdrInvalid, "auditlog: malformed partition_id")
			}
			e.PartitionID = s
			b = b[m:]
		case fieldVersion:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return Event{}, wolferr.New(wolferr.HdrInvalid, "auditlog: malformed version")
			}
			e.Version = uint32(v)
			b = b[m:]
		case fieldSHA:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Event{}, wolferr.New(wolferr.HdrInvalid, "auditlog: malformed sha")
			}
			e.SHA = append([]byte(nil), v...)
			b = b[m:]
		case fieldOutcome:
			s, m := protowire.ConsumeString(b)
			if m < 0 {
				return Event{}, wolferr.New(wolferr.HdrInvalid, "auditlog: malformed outcome")
			}
			e.Outcome = s
			b = b[m:]
		case fieldPayloadLen:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return Event{}, wolferr.New(wolferr.HdrInvalid, "auditlog: malformed payload_len")
			}
			e.PayloadLen = uint32(v)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return Event{}, wolferr.New(wolferr.HdrInvalid, "auditlog: malformed unknown field")
			}
			b = b[m:]
		}
	}
	return e, nil
}

// Log is an append-only, in-memory sequence of events for one boot
// attempt.
type Log struct {
	events []Event
}

// Record appends an event.
func (l *Log) Record(e Event) {
	l.events = append(l.events, e)
}

// Events returns the recorded events in order.
func (l *Log) Events() []Event {
	return l.events
}

// Encode serializes the log as a sequence of length-prefixed protobuf
// wire records.
func (l *Log) Encode() []byte {
	var out []byte
	for _, e := range l.events {
		rec := encodeEvent(e)
		out = protowire.AppendVarint(out, uint64(len(rec)))
		out = append(out, rec...)
	}
	return out
}

// Decode parses a byte stream produced by Encode.
func Decode(buf []byte) (*Log, error) {
	l := &Log{}
	for len(buf) > 0 {
		length, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, wolferr.New(wolferr.HdrInvalid, "auditlog: malformed record length")
		}
		buf = buf[n:]
		if uint64(len(buf)) < length {
			return nil, wolferr.New(wolferr.HdrInvalid, "auditlog: truncated record")
		}
		e, err := decodeEvent(buf[:length])
		if err != nil {
			return nil, err
		}
		l.events = append(l.events, e)
		buf = buf[length:]
	}
	return l, nil
}
