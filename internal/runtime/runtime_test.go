package runtime

import (
	"context"
	"testing"

	cfgpkg "github.com/rzbill/replog/internal/config"
	"github.com/rzbill/replog/internal/logview"
)

func fold(v []string, e string) ([]string, error) { return append(append([]string(nil), v...), e), nil }

func TestOpenCloseHealth(t *testing.T) {
	for _, engine := range cfgpkg.Engines {
		t.Run(engine, func(t *testing.T) {
			cfg := cfgpkg.Default()
			cfg.Cluster.ID = "east"
			cfg.Storage.Engine = engine
			cfg.Storage.DataDir = t.TempDir()
			rt, err := Open(Options{Config: cfg})
			if err != nil {
				t.Fatalf("open runtime: %v", err)
			}
			if err := rt.CheckHealth(context.Background()); err != nil {
				t.Fatalf("health: %v", err)
			}
			if err := rt.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}
			if err := rt.CheckHealth(context.Background()); err == nil {
				t.Fatalf("expected health error after close")
			}
		})
	}
}

func TestGeneratedClusterID(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.Storage.Engine = "memory"
	rt, err := Open(Options{Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if rt.ClusterID() == "" || rt.Config().Cluster.ID != rt.ClusterID() {
		t.Fatalf("cluster id not generated: %q", rt.ClusterID())
	}
}

func TestGeneratedClusterIDSurvivesRestart(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.Storage.Engine = "bolt"
	cfg.Storage.DataDir = t.TempDir()
	rt, err := Open(Options{Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first := rt.ClusterID()
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rt, err = Open(Options{Config: cfg})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rt.Close()
	if rt.ClusterID() != first {
		t.Fatalf("cluster id changed across restarts: %q then %q", first, rt.ClusterID())
	}
}

func TestUnknownEngine(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.Storage.Engine = "leveldb"
	cfg.Storage.DataDir = t.TempDir()
	if _, err := Open(Options{Config: cfg}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStoresSurviveReopen(t *testing.T) {
	ctx := context.Background()
	cfg := cfgpkg.Default()
	cfg.Cluster.ID = "east"
	cfg.Storage.Engine = "bolt"
	cfg.Storage.DataDir = t.TempDir()

	rt, err := Open(Options{Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ad, err := logview.New(Stores[[]string](rt, nil), logview.Options[[]string, string]{
		Stream: "orders", ReplicaID: rt.ClusterID(), Fold: fold, TakeSnapshots: true, SnapshotInterval: 2,
	})
	if err != nil {
		t.Fatalf("adaptor: %v", err)
	}
	if err := ad.Activate(ctx); err != nil {
		t.Fatalf("activate: %v", err)
	}
	for _, e := range []string{"a", "b", "c"} {
		if err := ad.Submit(e); err != nil {
			t.Fatalf("submit: %v", err)
		}
		if _, err := ad.Write(ctx); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rt, err = Open(Options{Config: cfg})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rt.Close()
	again, err := logview.New(Stores[[]string](rt, nil), logview.Options[[]string, string]{
		Stream: "orders", ReplicaID: "west", Fold: fold,
	})
	if err != nil {
		t.Fatalf("adaptor: %v", err)
	}
	if err := again.Activate(ctx); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if got := again.ConfirmedVersion(); got != 3 {
		t.Fatalf("expected version 3, got %d", got)
	}
	if got := again.ConfirmedView(); len(got) != 3 || got[2] != "c" {
		t.Fatalf("unexpected view %v", got)
	}
}
