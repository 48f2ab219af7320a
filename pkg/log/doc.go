// Package log is the structured logger used across replog.
//
// Components take a Logger and tag it once with the fields that identify
// them, usually Component, Stream and the replica id:
//
//	l := log.NewLogger(log.WithLevel(log.DebugLevel), log.WithFormatter(&log.TextFormatter{}))
//	l = l.With(log.Component("logview"), log.Stream("cart-7"))
//	l.Info("activated", log.Uint64("version", 17))
//
// Records go through a log/slog handler that resolves fields, applies key
// redaction and per-message sampling, then hands the entry to a Formatter
// (JSON or text) and every configured Output. ApplyConfig builds the same
// pipeline from the [log] section of the server config.
//
// ToStdLogger and RedirectStdLog route libraries that only know *log.Logger
// into the same pipeline.
package log
