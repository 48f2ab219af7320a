// Package httpserver is the REST gateway of a replog replica.
//
// Routes live in the controllers package:
//
//	POST /v1/streams/{id}/events    append events, returns the committed version
//	GET  /v1/streams/{id}           confirmed view; ?sync=true catches up first,
//	                                ?after=N&wait=10s long-polls for a newer version
//	GET  /v1/streams/{id}/events    committed events, ?from=&to=
//	GET  /v1/streams/{id}/stats     one activation
//	GET  /v1/streams                every activation
//	GET  /v1/healthz                storage health and cluster id
//	GET  /metrics                   Prometheus exposition
package httpserver
