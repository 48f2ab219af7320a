package codec

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// A frame is laid out as
//
//	version(1) | uvarint len(header) | header | payload | crc32c(4)
//
// with the checksum covering every byte before it.
const frameVersion byte = 1

var (
	ErrShortFrame   = errors.New("codec: short frame")
	ErrFrameVersion = errors.New("codec: unknown frame version")
	ErrChecksum     = errors.New("codec: checksum mismatch")
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Frame is the decoded content of a record.
type Frame struct {
	Header  []byte
	Payload []byte
}

// EncodeRecord frames header and payload.
func EncodeRecord(header, payload []byte) []byte {
	b := make([]byte, 0, 1+binary.MaxVarintLen32+len(header)+len(payload)+crc32.Size)
	b = append(b, frameVersion)
	b = binary.AppendUvarint(b, uint64(len(header)))
	b = append(b, header...)
	b = append(b, payload...)
	return binary.BigEndian.AppendUint32(b, crc32.Checksum(b, crcTable))
}

// DecodeRecord verifies b and returns copies of its header and payload.
func DecodeRecord(b []byte) (Frame, error) {
	if len(b) < 2+crc32.Size {
		return Frame{}, ErrShortFrame
	}
	body, sum := b[:len(b)-crc32.Size], binary.BigEndian.Uint32(b[len(b)-crc32.Size:])
	if crc32.Checksum(body, crcTable) != sum {
		return Frame{}, ErrChecksum
	}
	if body[0] != frameVersion {
		return Frame{}, ErrFrameVersion
	}
	hlen, n := binary.Uvarint(body[1:])
	if n <= 0 || hlen > uint64(len(body)-1-n) {
		return Frame{}, ErrShortFrame
	}
	rest := body[1+n:]
	return Frame{
		Header:  append([]byte(nil), rest[:hlen]...),
		Payload: append([]byte(nil), rest[hlen:]...),
	}, nil
}
