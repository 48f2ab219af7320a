// Package runtime wires a storage backend and the replog record stores
// (sequencer, commit store, stream index) into a single replica. It exposes
// Open/Close, a health check and Stores for building log-view adaptors.
//
// Example:
//
//	cfg := config.Default()
//	cfg.Cluster.ID = "east"
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
//	_ = rt.CheckHealth(context.Background())
//	stores := runtime.Stores[kvview.View](rt, nil)
package runtime
