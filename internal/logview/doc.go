// Package logview implements the log-view adaptor: the per-stream state
// machine that recovers a materialized view from snapshots and the stream
// index, commits batches of events through the summary, sequencer, commit
// store and index, and merges update notifications gossiped by peer replicas.
//
// Lifecycle
//
//	Uninitialized --Activate--> Recovering --(caught up)--> Ready
//
// Writes are only performed in Ready; events submitted earlier stay pending.
//
// Write order per batch:
//
//  1. conditional summary bump (reserves the next local version)
//  2. sequencer Bump
//  3. commit Append at the sequence number
//  4. index RecordEntry(version -> sequence)
//  5. fold into the confirmed view
//
// A failure after step 1 keeps the reservation so the next Write resumes it
// instead of reserving another version. A writer that never gets past step
// 3 leaves an index hole; once the hole outlives HoleRepairAttempts and
// HoleRepairAfter, the next writer fills it with an empty commit.
//
// Every replica of a stream must use the same storage. Notifications only
// speed up convergence; a view they carry past the stored summary makes
// Write fail with ErrDiverged.
//
// An Adaptor is not safe for concurrent use. The host runs every call for one
// stream on a single goroutine.
//
// Usage:
//
//	a, _ := logview.New(stores, logview.Options[View, Event]{Stream: "acct-1", ReplicaID: "east", Fold: fold})
//	_ = a.Activate(ctx)
//	_ = a.Submit(ev)
//	n, err := a.Write(ctx)
package logview
