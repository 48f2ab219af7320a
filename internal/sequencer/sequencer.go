// Package sequencer issues cluster-wide commit sequence numbers.
//
// There is one logical counter per cluster, persisted in the storage backend
// under keys.Sequencer(clusterID). Bump persists the incremented value before
// returning it, so a number is never handed out twice, even across restarts
// or between processes sharing the backend.
//
// Clusters sharing a backend also share the commit keyspace. A sequence
// number therefore carries the cluster's tag above the counter, with the
// sign bit left clear so numbers survive int64 consumers:
//
//	| 0 | tag (23 bits, FNV-1a of the cluster id) | counter (40 bits) |
//
// Two clusters only compete for commit slots when their tags collide; the
// commit store still rejects the second writer of a slot in that case.
package sequencer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/rzbill/replog/internal/keys"
	"github.com/rzbill/replog/internal/storage"
	"github.com/rzbill/replog/pkg/log"
)

var (
	// ErrCorruptCounter is returned when the persisted counter is not 8 bytes.
	ErrCorruptCounter = errors.New("sequencer: corrupt counter")
	// ErrExhausted is returned once the counter has used all of its bits.
	ErrExhausted = errors.New("sequencer: counter exhausted")
)

// Layout of a sequence number.
const (
	TagBits     = 23
	CounterBits = 40

	maxCounter = 1<<CounterBits - 1
)

// Tag returns the tag clusterID stamps on its sequence numbers.
func Tag(clusterID string) uint64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(clusterID))
	return uint64(h.Sum32()) & (1<<TagBits - 1)
}

// Split returns the cluster tag and counter of seq.
func Split(seq uint64) (tag, counter uint64) {
	return seq >> CounterBits, seq & maxCounter
}

// Sequencer is the per-cluster counter. Safe for concurrent use.
type Sequencer struct {
	mu      sync.Mutex
	backend storage.Backend
	key     []byte
	tag     uint64
	logger  log.Logger
}

// New returns the sequencer of clusterID stored in backend.
func New(backend storage.Backend, clusterID string, logger log.Logger) *Sequencer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Sequencer{
		backend: backend,
		key:     keys.Sequencer(clusterID),
		tag:     Tag(clusterID),
		logger:  logger.With(log.Component("sequencer"), log.Str("cluster", clusterID)),
	}
}

// Bump increments the counter and returns the new sequence number once the
// counter is durable.
func (s *Sequencer) Bump(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; ; attempt++ {
		cur, etag, err := s.read(ctx)
		if err != nil {
			return 0, err
		}
		if cur >= maxCounter {
			return 0, ErrExhausted
		}
		next := cur + 1
		_, err = s.backend.Write(ctx, storage.KindSequencer, s.key, encode(next), etag)
		if err == nil {
			return s.stamp(next), nil
		}
		if !errors.Is(err, storage.ErrConditionFailed) {
			return 0, fmt.Errorf("sequencer: persist %d: %w", next, err)
		}
		// Another process sharing the backend won the slot; re-read.
		if attempt > 0 && attempt%16 == 0 {
			s.logger.Warn("sequencer contention", log.Int("attempts", attempt))
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
}

// Current returns the last issued sequence number, 0 if none was ever
// issued.
func (s *Sequencer) Current(ctx context.Context) (uint64, error) {
	v, _, err := s.read(ctx)
	if err != nil || v == 0 {
		return 0, err
	}
	return s.stamp(v), nil
}

func (s *Sequencer) stamp(counter uint64) uint64 { return s.tag<<CounterBits | counter }

func (s *Sequencer) read(ctx context.Context) (uint64, string, error) {
	rec, err := s.backend.Read(ctx, storage.KindSequencer, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("sequencer: read: %w", err)
	}
	if len(rec.Value) != 8 {
		return 0, "", ErrCorruptCounter
	}
	return binary.BigEndian.Uint64(rec.Value), rec.ETag, nil
}

func encode(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}
