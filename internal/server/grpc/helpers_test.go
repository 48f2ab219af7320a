package grpcserver

import (
	"testing"

	"github.com/rzbill/replog/internal/codec"
)

func encode(t *testing.T, events ...string) [][]byte {
	t.Helper()
	out, err := codec.EncodeAll[string](codec.Msgpack[string]{}, events)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return out
}
