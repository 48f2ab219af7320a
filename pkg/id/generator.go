package id

import (
	"encoding/binary"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Generator produces strictly increasing IDs tagged with a node value.
type Generator struct {
	node uint32
	now  func() int64

	mu        sync.Mutex
	lastMs    int64
	sequence  uint32
	instances uint64
}

// NewGenerator returns a Generator with a random node tag, so etags minted by
// two processes sharing one database never collide.
func NewGenerator() *Generator {
	u := uuid.New()
	return NewGeneratorWithNode(binary.BigEndian.Uint32(u[:4]))
}

// NewGeneratorWithNode returns a Generator with a fixed node tag.
func NewGeneratorWithNode(node uint32) *Generator {
	return &Generator{node: node, now: func() int64 { return time.Now().UnixMilli() }}
}

// Next returns a new ID. A regressing clock is pinned to the last seen
// millisecond; an exhausted sequence waits for the next millisecond.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now()
	if ms < g.lastMs {
		ms = g.lastMs
	}
	switch {
	case ms > g.lastMs:
		g.sequence = 0
	case g.sequence < math.MaxUint32:
		g.sequence++
	default:
		for ms <= g.lastMs {
			time.Sleep(time.Millisecond / 8)
			ms = g.now()
		}
		g.sequence = 0
	}
	g.lastMs = ms
	return makeID(ms, g.node, g.sequence)
}

// ETag returns a fresh opaque storage token.
func (g *Generator) ETag() string { return g.Next().String() }

// Instance returns a locally scoped identifier "<prefix>.<n>" where n counts
// instances created by this generator.
func (g *Generator) Instance(prefix string) string {
	g.mu.Lock()
	g.instances++
	n := g.instances
	g.mu.Unlock()
	return prefix + "." + strconv.FormatUint(n, 10)
}
