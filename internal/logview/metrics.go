package logview

import "time"

// MetricsHook receives adaptor observations. Implementations must be safe
// for concurrent use since one hook is shared by every stream.
type MetricsHook interface {
	CommitWritten(stream string, events int, took time.Duration)
	WriteConflict(stream string)
	EventsFolded(stream string, n int)
	FoldFault(stream string)
	NotificationApplied(stream string)
	NotificationDiscarded(stream string)
	NotificationMerged(stream string)
	NotificationsBuffered(stream string, n int)
	SnapshotSaved(stream string, err error)
}

// NoopMetrics is used when no hook is provided.
type NoopMetrics struct{}

func (NoopMetrics) CommitWritten(string, int, time.Duration) {}
func (NoopMetrics) WriteConflict(string)                     {}
func (NoopMetrics) EventsFolded(string, int)                 {}
func (NoopMetrics) FoldFault(string)                         {}
func (NoopMetrics) NotificationApplied(string)               {}
func (NoopMetrics) NotificationDiscarded(string)             {}
func (NoopMetrics) NotificationMerged(string)                {}
func (NoopMetrics) NotificationsBuffered(string, int)        {}
func (NoopMetrics) SnapshotSaved(string, error)              {}
