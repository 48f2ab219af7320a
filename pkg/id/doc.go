// Package id mints the identifiers replog uses for storage etags and
// in-memory component instances.
//
// An ID is [ms timestamp][node][sequence]. The sequence makes IDs of one
// Generator strictly increasing even when the clock stalls or regresses; the
// random node tag keeps two processes writing the same database from minting
// the same etag.
//
// Usage
//
//	g := id.NewGenerator()
//	etag := g.ETag()               // opaque write token
//	name := g.Instance("logview")  // "logview.1"
package id
