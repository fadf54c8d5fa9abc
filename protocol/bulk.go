package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash"
	"github.com/cockroachdb/errors"

	"github.com/dan-strohschein/syndrdb-bulkload/types"
)

// BULK_COMMAND opens a bulk load. Its parameters are the target table and the
// "insert bulk" statement carrying the load hints.
const BULK_COMMAND = "BULK INSERT"

// FrameKind tags a binary bulk frame.
type FrameKind byte

const (
	// FrameMetadata carries the column metadata header.
	FrameMetadata FrameKind = 0x81
	// FrameRow carries one encoded row.
	FrameRow FrameKind = 0xD1
	// FrameDone ends the row stream; the server answers with the row count.
	FrameDone FrameKind = 0xFD
	// FrameAttention aborts the load; the server discards it and acknowledges.
	FrameAttention FrameKind = 0x06
)

const frameHeaderLen = 5

// String returns the frame kind name.
func (k FrameKind) String() string {
	switch k {
	case FrameMetadata:
		return "METADATA"
	case FrameRow:
		return "ROW"
	case FrameDone:
		return "DONE"
	case FrameAttention:
		return "ATTENTION"
	default:
		return fmt.Sprintf("FRAME(0x%02x)", byte(k))
	}
}

// EncodeFrame writes kind, a big-endian uint32 payload length, then payload.
func EncodeFrame(kind FrameKind, payload []byte) []byte {
	out := make([]byte, frameHeaderLen, frameHeaderLen+len(payload))
	out[0] = byte(kind)
	binary.BigEndian.PutUint32(out[1:], uint32(len(payload)))
	return append(out, payload...)
}

// DecodeFrame reads one frame and returns the remaining bytes.
func DecodeFrame(data []byte) (FrameKind, []byte, []byte, error) {
	if len(data) < frameHeaderLen {
		return 0, nil, nil, errors.Newf("frame header truncated: %d bytes", len(data))
	}
	kind := FrameKind(data[0])
	n := binary.BigEndian.Uint32(data[1:frameHeaderLen])
	if uint64(len(data)-frameHeaderLen) < uint64(n) {
		return 0, nil, nil, errors.Newf("%s frame truncated: want %d bytes, have %d", kind, n, len(data)-frameHeaderLen)
	}
	end := frameHeaderLen + int(n)
	return kind, data[frameHeaderLen:end], data[end:], nil
}

// IsFrame reports whether data starts with a bulk frame tag rather than a
// text command.
func IsFrame(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	switch FrameKind(data[0]) {
	case FrameMetadata, FrameRow, FrameDone, FrameAttention:
		return true
	}
	return false
}

// ColumnMetadata describes one column of the bulk metadata header.
type ColumnMetadata struct {
	Name      string
	TypeID    byte
	Nullable  bool
	Length    int32
	Precision uint8
	Scale     uint8
}

// Params returns the type parameters recorded for the column.
func (c ColumnMetadata) Params() types.Params {
	return types.Params{Length: int(c.Length), Precision: c.Precision, Scale: c.Scale}
}

const flagNullable = 0x01

// EncodeColumnMetadata serializes the header: a big-endian column count,
// one entry per column, and an xxhash64 fingerprint of everything before it.
func EncodeColumnMetadata(cols []ColumnMetadata) []byte {
	buf := binary.BigEndian.AppendUint16(nil, uint16(len(cols)))
	for _, c := range cols {
		var flags byte
		if c.Nullable {
			flags |= flagNullable
		}
		buf = append(buf, c.TypeID, flags)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(c.Length))
		buf = append(buf, c.Precision, c.Scale)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Name)))
		buf = append(buf, c.Name...)
	}
	return binary.BigEndian.AppendUint64(buf, xxhash.Sum64(buf))
}

// DecodeColumnMetadata parses and verifies a header.
func DecodeColumnMetadata(data []byte) ([]ColumnMetadata, error) {
	if len(data) < 10 {
		return nil, errors.New("column metadata truncated")
	}
	body, trailer := data[:len(data)-8], data[len(data)-8:]
	if got, want := xxhash.Sum64(body), binary.BigEndian.Uint64(trailer); got != want {
		return nil, errors.Newf("column metadata fingerprint mismatch: %016x != %016x", got, want)
	}

	count := int(binary.BigEndian.Uint16(body))
	body = body[2:]
	cols := make([]ColumnMetadata, 0, count)
	for i := 0; i < count; i++ {
		if len(body) < 10 {
			return nil, errors.Newf("column %d metadata truncated", i)
		}
		c := ColumnMetadata{
			TypeID:    body[0],
			Nullable:  body[1]&flagNullable != 0,
			Length:    int32(binary.LittleEndian.Uint32(body[2:6])),
			Precision: body[6],
			Scale:     body[7],
		}
		nameLen := int(binary.BigEndian.Uint16(body[8:10]))
		body = body[10:]
		if len(body) < nameLen {
			return nil, errors.Newf("column %d name truncated", i)
		}
		c.Name = string(body[:nameLen])
		body = body[nameLen:]
		cols = append(cols, c)
	}
	if len(body) != 0 {
		return nil, errors.Newf("column metadata has %d trailing bytes", len(body))
	}
	return cols, nil
}

// Fingerprint returns the xxhash64 trailer of an encoded header.
func Fingerprint(header []byte) uint64 {
	if len(header) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(header[len(header)-8:])
}

// DecodeRow decodes one row record against the header columns.
func DecodeRow(cols []ColumnMetadata, data []byte) ([]interface{}, error) {
	values := make([]interface{}, len(cols))
	for i, c := range cols {
		typ, ok := types.ByID(c.TypeID)
		if !ok {
			return nil, errors.Newf("column %q: unknown type id 0x%02x", c.Name, c.TypeID)
		}
		v, n, err := typ.ReadValue(data, c.Params())
		if err != nil {
			return nil, errors.Wrapf(err, "column %q", c.Name)
		}
		values[i] = v
		data = data[n:]
	}
	if len(data) != 0 {
		return nil, errors.Newf("row has %d trailing bytes", len(data))
	}
	return values, nil
}
