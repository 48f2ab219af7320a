// Package filter selects commits with CEL expressions, e.g.
//
//	origin == "east" && events.exists(e, e.key == "a")
//
// Variables: stream, version, sequence, origin, ts_ms, size (event count),
// events (decoded msgpack events as JSON values) and now_ms.
package filter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/rzbill/replog/internal/commitstore"
	"github.com/rzbill/replog/internal/publish"
)

// Filter is a compiled expression. The zero Filter matches everything.
type Filter struct {
	prog    cel.Program
	enabled bool
}

// Compile parses and type-checks expr. An empty expression yields a Filter
// that matches every commit.
func Compile(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("stream", cel.StringType),
		cel.Variable("version", cel.IntType),
		cel.Variable("sequence", cel.IntType),
		cel.Variable("origin", cel.StringType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("events", cel.ListType(cel.DynType)),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return Filter{}, fmt.Errorf("filter: expression must be bool, got %s", ast.OutputType())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog, enabled: true}, nil
}

// Match evaluates the filter against c. Evaluation errors do not match.
func (f Filter) Match(c commitstore.Commit) bool {
	if !f.enabled {
		return true
	}
	out, _, err := f.prog.Eval(map[string]any{
		"stream":   c.Stream,
		"version":  int64(c.Version),
		"sequence": int64(c.Sequence),
		"origin":   c.Origin,
		"ts_ms":    c.Time,
		"size":     int64(len(c.Events)),
		"events":   decodeEvents(c.Events),
		"now_ms":   time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// decodeEvents renders each event as a JSON value; undecodable events
// become null.
func decodeEvents(events [][]byte) []any {
	out := make([]any, len(events))
	for i, e := range events {
		raw, err := publish.MsgpackJSON(e)
		if err != nil {
			continue
		}
		_ = json.Unmarshal(raw, &out[i])
	}
	return out
}
