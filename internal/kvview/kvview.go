// Package kvview is a sample actor: a string key/value register whose view
// is folded from set, delete and clear events.
package kvview

import (
	"errors"
	"fmt"
)

// Operations.
const (
	OpSet    = "set"
	OpDelete = "del"
	OpClear  = "clear"
)

// ErrUnknownOp is returned by Fold for an unrecognized operation.
var ErrUnknownOp = errors.New("kvview: unknown op")

// Event is one change to the register.
type Event struct {
	Op    string `msgpack:"op" json:"op"`
	Key   string `msgpack:"key,omitempty" json:"key,omitempty"`
	Value string `msgpack:"value,omitempty" json:"value,omitempty"`
}

// View is the register contents.
type View map[string]string

func Set(key, value string) Event { return Event{Op: OpSet, Key: key, Value: value} }
func Delete(key string) Event     { return Event{Op: OpDelete, Key: key} }
func Clear() Event                { return Event{Op: OpClear} }

// Initial returns an empty register.
func Initial() View { return View{} }

// Validate reports malformed events before they are submitted.
func (e Event) Validate() error {
	switch e.Op {
	case OpSet, OpDelete:
		if e.Key == "" {
			return fmt.Errorf("kvview: %s requires a key", e.Op)
		}
	case OpClear:
	default:
		return fmt.Errorf("%w %q", ErrUnknownOp, e.Op)
	}
	return nil
}

// Fold applies e to v. It copies v, so earlier views stay valid.
func Fold(v View, e Event) (View, error) {
	if err := e.Validate(); err != nil {
		return v, err
	}
	if e.Op == OpClear {
		return View{}, nil
	}
	out := make(View, len(v)+1)
	for k, val := range v {
		out[k] = val
	}
	switch e.Op {
	case OpSet:
		out[e.Key] = e.Value
	case OpDelete:
		delete(out, e.Key)
	}
	return out, nil
}
