package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/rzbill/replog/internal/codec"
	"github.com/rzbill/replog/internal/commitstore"
	cfgpkg "github.com/rzbill/replog/internal/config"
	"github.com/rzbill/replog/internal/keys"
	"github.com/rzbill/replog/internal/logview"
	"github.com/rzbill/replog/internal/sequencer"
	"github.com/rzbill/replog/internal/snapshot"
	"github.com/rzbill/replog/internal/storage"
	boltstore "github.com/rzbill/replog/internal/storage/bolt"
	"github.com/rzbill/replog/internal/storage/memory"
	pebblestore "github.com/rzbill/replog/internal/storage/pebble"
	sqlitestore "github.com/rzbill/replog/internal/storage/sqlite"
	"github.com/rzbill/replog/internal/streamindex"
	"github.com/rzbill/replog/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger log.Logger
	// StorageMetrics observes pebble reads and writes. Optional.
	StorageMetrics pebblestore.MetricsHook
	// Backend overrides the configured engine when set. The runtime takes
	// ownership and closes it.
	Backend storage.Backend
}

// Runtime wires the storage backend and the record stores for one replica.
type Runtime struct {
	backend   storage.Backend
	config    cfgpkg.Config
	clusterID string
	logger    log.Logger

	seq     *sequencer.Sequencer
	commits *commitstore.Store
	index   *streamindex.Index
}

// Open opens the configured backend and returns a Runtime. An empty cluster
// id is replaced by a random one.
func Open(opts Options) (*Runtime, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	logger := opts.Logger.With(log.Component("runtime"))
	backend := opts.Backend
	if backend == nil {
		var err error
		backend, err = OpenBackend(opts.Config.Storage, opts.StorageMetrics)
		if err != nil {
			return nil, err
		}
	}
	clusterID := opts.Config.Cluster.ID
	if clusterID == "" {
		id, err := storedClusterID(context.Background(), backend)
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("cluster id: %w", err)
		}
		clusterID = id
		logger.Warn("no cluster id configured, using the one stored with the data", log.Str(log.ReplicaKey, clusterID))
	}
	if err := keys.Validate(clusterID); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("cluster id: %w", err)
	}
	opts.Config.Cluster.ID = clusterID
	logger.Info("runtime opened", log.Str("engine", opts.Config.Storage.Engine),
		log.Str("data_dir", opts.Config.Storage.DataDir), log.Str(log.ReplicaKey, clusterID))
	return &Runtime{
		backend:   backend,
		config:    opts.Config,
		clusterID: clusterID,
		logger:    logger,
		seq:       sequencer.New(backend, clusterID, opts.Logger),
		commits:   commitstore.New(backend),
		index:     streamindex.New(backend),
	}, nil
}

// OpenBackend opens the storage engine named by cfg.Engine under
// cfg.DataDir.
func OpenBackend(cfg cfgpkg.StorageConfig, hook pebblestore.MetricsHook) (storage.Backend, error) {
	engine := strings.ToLower(cfg.Engine)
	if engine != "memory" {
		if cfg.DataDir == "" {
			return nil, errors.New("runtime: data dir is required")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("runtime: mkdir data dir: %w", err)
		}
	}
	switch engine {
	case "", "pebble":
		mode, err := pebblestore.ParseFsyncMode(cfg.Fsync)
		if err != nil {
			return nil, err
		}
		return pebblestore.OpenBackend(pebblestore.Options{
			DataDir:       filepath.Join(cfg.DataDir, "pebble"),
			Fsync:         mode,
			FsyncInterval: cfg.FsyncInterval,
			Metrics:       hook,
		})
	case "bolt":
		return boltstore.Open(boltstore.Options{
			Path:   filepath.Join(cfg.DataDir, "replog.bolt"),
			NoSync: strings.EqualFold(cfg.Fsync, "never"),
		})
	case "sqlite":
		return sqlitestore.Open(filepath.Join(cfg.DataDir, "replog.db"))
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("runtime: unknown storage engine %q", cfg.Engine)
	}
}

// Close closes the backend.
func (r *Runtime) Close() error {
	if r.backend == nil {
		return nil
	}
	err := r.backend.Close()
	r.backend = nil
	return err
}

// CheckHealth reads this replica's sequencer record.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.backend == nil {
		return errors.New("runtime: backend not open")
	}
	_, err := r.backend.Read(ctx, storage.KindSequencer, keys.Sequencer(r.clusterID))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

func (r *Runtime) Backend() storage.Backend        { return r.backend }
func (r *Runtime) Config() cfgpkg.Config           { return r.config }
func (r *Runtime) ClusterID() string               { return r.clusterID }
func (r *Runtime) Sequencer() *sequencer.Sequencer { return r.seq }
func (r *Runtime) Commits() *commitstore.Store     { return r.commits }
func (r *Runtime) Index() *streamindex.Index       { return r.index }

// Stores bundles the runtime's stores with a snapshot store for views of
// type V. A nil codec means msgpack.
func Stores[V any](r *Runtime, c codec.Codec[V]) logview.Stores[V] {
	return logview.Stores[V]{
		Sequencer: r.seq,
		Commits:   r.commits,
		Index:     r.index,
		Snapshots: snapshot.New[V](r.backend, c, r.logger),
	}
}

var clusterIDKey = []byte("cluster-id")

// storedClusterID returns the replica identity kept next to the sequencer
// counters, creating a random one on first use.
func storedClusterID(ctx context.Context, b storage.Backend) (string, error) {
	for {
		rec, err := b.Read(ctx, storage.KindSequencer, clusterIDKey)
		if err == nil {
			return string(rec.Value), nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return "", err
		}
		id := uuid.NewString()
		_, err = b.Write(ctx, storage.KindSequencer, clusterIDKey, []byte(id), "")
		switch {
		case err == nil:
			return id, nil
		case !errors.Is(err, storage.ErrConditionFailed):
			return "", err
		}
	}
}
