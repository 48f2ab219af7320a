// Package codec holds the value codecs used for events, views and records,
// plus the checksummed frame shared by the storage backends.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec converts values of T to and from bytes.
type Codec[T any] interface {
	Marshal(v T) ([]byte, error)
	Unmarshal(b []byte) (T, error)
	Name() string
}

// Msgpack encodes with vmihailenco/msgpack. It is the default codec.
type Msgpack[T any] struct{}

func (Msgpack[T]) Marshal(v T) ([]byte, error) { return msgpack.Marshal(v) }

func (Msgpack[T]) Unmarshal(b []byte) (T, error) {
	var v T
	if err := msgpack.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("msgpack: %w", err)
	}
	return v, nil
}

func (Msgpack[T]) Name() string { return "msgpack" }

// JSON encodes with encoding/json; unknown fields are rejected so that a
// changed view shape is detected rather than silently zeroed.
type JSON[T any] struct{}

func (JSON[T]) Marshal(v T) ([]byte, error) { return json.Marshal(v) }

func (JSON[T]) Unmarshal(b []byte) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("json: %w", err)
	}
	return v, nil
}

func (JSON[T]) Name() string { return "json" }

// ByName returns the codec registered under name.
func ByName[T any](name string) (Codec[T], error) {
	switch name {
	case "", "msgpack":
		return Msgpack[T]{}, nil
	case "json":
		return JSON[T]{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}

// EncodeAll marshals each value with c.
func EncodeAll[T any](c Codec[T], vs []T) ([][]byte, error) {
	out := make([][]byte, len(vs))
	for i, v := range vs {
		b, err := c.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode #%d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}
