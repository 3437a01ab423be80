// Package header implements the wire codec for the microTCP segment header:
// a fixed 40-byte layout in network byte order, protected together with the
// payload by a CRC-32 checksum.
package header

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Size is the fixed on-wire header length in bytes.
const Size = 40

// Control flag bits. Combinations are bitwise-OR'd.
const (
	ACK uint16 = 0x1000
	RST uint16 = 0x2000
	SYN uint16 = 0x4000
	FIN uint16 = 0x8000

	SYNACK = SYN | ACK
	FINACK = FIN | ACK
)

// ErrMalformed reports a segment too short to carry the fixed header, or a
// declared payload length that the datagram does not actually carry. The
// segment is dropped; the connection is unaffected.
var ErrMalformed = errors.New("microtcp: malformed segment")

// Header is the in-memory form of one segment header. The three reserved
// 32-bit wire fields are zero-filled on encode and ignored on decode, so
// they have no field here.
type Header struct {
	SeqNumber uint32
	AckNumber uint32
	Control   uint16
	Window    uint16
	DataLen   uint32
	Checksum  uint32
	LeftSACK  uint32
	RightSACK uint32
}

// Wire offsets. Field order: seq, ack, control, window, data_len, three
// reserved u32s, checksum, left_sack, right_sack.
const (
	offSeq      = 0
	offAck      = 4
	offControl  = 8
	offWindow   = 10
	offDataLen  = 12
	offReserved = 16
	offChecksum = 28
	offLeft     = 32
	offRight    = 36
)

// Encode produces the wire representation of h followed by payload. DataLen
// is taken from len(payload) and the checksum is computed last, over the
// encoded bytes with the checksum field zeroed.
func Encode(h *Header, payload []byte) []byte {
	buf := make([]byte, Size+len(payload))

	binary.BigEndian.PutUint32(buf[offSeq:], h.SeqNumber)
	binary.BigEndian.PutUint32(buf[offAck:], h.AckNumber)
	binary.BigEndian.PutUint16(buf[offControl:], h.Control)
	binary.BigEndian.PutUint16(buf[offWindow:], h.Window)
	binary.BigEndian.PutUint32(buf[offDataLen:], uint32(len(payload)))
	binary.BigEndian.PutUint32(buf[offLeft:], h.LeftSACK)
	binary.BigEndian.PutUint32(buf[offRight:], h.RightSACK)
	copy(buf[Size:], payload)

	h.DataLen = uint32(len(payload))
	h.Checksum = crc32.ChecksumIEEE(buf)
	binary.BigEndian.PutUint32(buf[offChecksum:], h.Checksum)
	return buf
}

// Decode parses one datagram into a header and its payload. The payload
// slice aliases b. Decode does not validate the checksum; call Verify.
func Decode(b []byte) (Header, []byte, error) {
	if len(b) < Size {
		return Header{}, nil, ErrMalformed
	}
	h := Header{
		SeqNumber: binary.BigEndian.Uint32(b[offSeq:]),
		AckNumber: binary.BigEndian.Uint32(b[offAck:]),
		Control:   binary.BigEndian.Uint16(b[offControl:]),
		Window:    binary.BigEndian.Uint16(b[offWindow:]),
		DataLen:   binary.BigEndian.Uint32(b[offDataLen:]),
		Checksum:  binary.BigEndian.Uint32(b[offChecksum:]),
		LeftSACK:  binary.BigEndian.Uint32(b[offLeft:]),
		RightSACK: binary.BigEndian.Uint32(b[offRight:]),
	}
	if h.DataLen > uint32(len(b)-Size) {
		return Header{}, nil, ErrMalformed
	}
	return h, b[Size : Size+int(h.DataLen)], nil
}

// Verify recomputes the checksum of h+payload with the checksum field zeroed
// and compares it against h.Checksum. A mismatch means the segment was
// corrupted in flight and must be dropped.
func Verify(h *Header, payload []byte) bool {
	buf := make([]byte, Size+len(payload))

	binary.BigEndian.PutUint32(buf[offSeq:], h.SeqNumber)
	binary.BigEndian.PutUint32(buf[offAck:], h.AckNumber)
	binary.BigEndian.PutUint16(buf[offControl:], h.Control)
	binary.BigEndian.PutUint16(buf[offWindow:], h.Window)
	binary.BigEndian.PutUint32(buf[offDataLen:], h.DataLen)
	binary.BigEndian.PutUint32(buf[offLeft:], h.LeftSACK)
	binary.BigEndian.PutUint32(buf[offRight:], h.RightSACK)
	copy(buf[Size:], payload)

	return crc32.ChecksumIEEE(buf) == h.Checksum
}
