// Package pebblestore is the default storage.Backend, built on Pebble.
//
// Every record kind lives under its own key prefix ({kind}/{key}) and each
// value is stored as a checksummed envelope holding the record's etag, so a
// conditional write is one read and one batch commit under the backend's
// mutex. The fsync mode decides whether that commit waits for the WAL.
//
// Usage:
//
//	b, err := pebblestore.OpenBackend(pebblestore.Options{
//	    DataDir: "./data/pebble",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer b.Close()
//
//	etag, _ := b.Write(ctx, storage.KindSummary, key, value, "")
//	rec, _ := b.Read(ctx, storage.KindSummary, key)
package pebblestore
