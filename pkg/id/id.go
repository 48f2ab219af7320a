package id

import (
	"encoding/binary"
	"encoding/hex"
	"time"
)

// ID is a 128-bit identifier laid out big-endian as
// [8 bytes ms timestamp][4 bytes node][4 bytes sequence]. IDs of one
// Generator sort by creation order; the node field keeps IDs of different
// generators apart.
type ID [16]byte

func makeID(ms int64, node, seq uint32) ID {
	var id ID
	binary.BigEndian.PutUint64(id[0:8], uint64(ms))
	binary.BigEndian.PutUint32(id[8:12], node)
	binary.BigEndian.PutUint32(id[12:16], seq)
	return id
}

// String returns the ID as 32 hex digits.
func (i ID) String() string { return hex.EncodeToString(i[:]) }

// Time returns the millisecond timestamp embedded in the ID.
func (i ID) Time() time.Time { return time.UnixMilli(int64(binary.BigEndian.Uint64(i[0:8]))) }

// Node returns the generator tag embedded in the ID.
func (i ID) Node() uint32 { return binary.BigEndian.Uint32(i[8:12]) }
