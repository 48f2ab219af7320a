package storage

import (
	"errors"
	"fmt"

	"github.com/rzbill/replog/internal/codec"
)

// ErrCorruptValue is returned when a stored envelope fails its checksum.
var ErrCorruptValue = errors.New("storage: corrupt value")

// EncodeEnvelope frames value with its etag for backends that keep both in a
// single byte slot (pebble, bolt).
func EncodeEnvelope(etag string, value []byte) []byte {
	return codec.EncodeRecord([]byte(etag), value)
}

// DecodeEnvelope reverses EncodeEnvelope.
func DecodeEnvelope(b []byte) (Record, error) {
	dec, err := codec.DecodeRecord(b)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorruptValue, err)
	}
	return Record{Value: dec.Payload, ETag: string(dec.Header)}, nil
}
