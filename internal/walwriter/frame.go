// Package walwriter writes and recovers a single WAL segment file.
//
// A segment is a sequence of frames:
//
//	[length: 4 bytes BE] [crc32c(payload): 4 bytes BE] [payload: length bytes]
//
// Every Append issues exactly one write of one frame. Durability follows the
// configured [SyncMethod], named after PostgreSQL's wal_sync_method. Recovery
// reads frames until the first incomplete or corrupt one and reports the rest
// as a torn tail.
package walwriter

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

const (
	headerSize = 8

	// MaxRecordSize is the largest payload a frame can carry.
	MaxRecordSize = 16 << 20
)

var (
	// ErrEmptyRecord is returned by Append for a zero-length payload.
	ErrEmptyRecord = errors.New("walwriter: empty record")

	// ErrRecordTooLarge is returned by Append for payloads above [MaxRecordSize].
	ErrRecordTooLarge = errors.New("walwriter: record too large")
)

// Torn tail reasons reported in [Recovered.Tail].
var (
	ErrTornHeader  = errors.New("walwriter: incomplete frame header")
	ErrTornPayload = errors.New("walwriter: incomplete frame payload")
	ErrBadLength   = errors.New("walwriter: invalid frame length")
	ErrBadChecksum = errors.New("walwriter: frame checksum mismatch")
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func checksum(p []byte) uint32 {
	return crc32.Checksum(p, castagnoli)
}

// encodeFrame returns the frame for payload.
func encodeFrame(payload []byte) []byte {
	frame := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(frame[4:8], checksum(payload))
	copy(frame[headerSize:], payload)

	return frame
}

// Recovered is the result of decoding a segment.
type Recovered struct {
	// Records are the payloads of all valid frames, in order.
	Records [][]byte

	// ValidBytes is the length of the valid frame prefix.
	ValidBytes int64

	// TornBytes is the number of bytes after the valid prefix.
	TornBytes int64

	// Tail is why decoding stopped before the end of the data, or nil if all
	// data decoded cleanly.
	Tail error
}

// Decode decodes frames from data until the first incomplete or corrupt one.
func Decode(data []byte) Recovered {
	var (
		res Recovered
		off int
	)

	for off < len(data) {
		rest := data[off:]

		if len(rest) < headerSize {
			res.Tail = ErrTornHeader

			break
		}

		n := binary.BigEndian.Uint32(rest[0:4])
		sum := binary.BigEndian.Uint32(rest[4:8])

		if n == 0 || n > MaxRecordSize {
			res.Tail = ErrBadLength

			break
		}

		if len(rest)-headerSize < int(n) {
			res.Tail = ErrTornPayload

			break
		}

		payload := rest[headerSize : headerSize+int(n)]
		if checksum(payload) != sum {
			res.Tail = ErrBadChecksum

			break
		}

		res.Records = append(res.Records, append([]byte(nil), payload...))
		off += headerSize + int(n)
	}

	res.ValidBytes = int64(off)
	res.TornBytes = int64(len(data) - off)

	return res
}
