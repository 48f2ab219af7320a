// Package client provides the `replog` command-line client.
//
// Stream commands talk to a node's HTTP API; `health --peer` talks to its
// gossip gRPC endpoint. `replay` and `commits` open a data directory
// directly and need no running node.
//
// Installation
//
//	go install github.com/rzbill/replog/cmd/replog@latest
//
// # Address configuration
//
// The HTTP base URL comes from the BaseURLFunc given by the embedding
// binary; the standalone binary reads REPLOG_HTTP and defaults to
// http://127.0.0.1:8080. The gossip address is read from REPLOG_GRPC
// (default 127.0.0.1:7070).
//
// Usage
//
//	replog append cart-1 --set item=book --set qty=2
//	replog append cart-1 --del qty
//	replog view cart-1 --sync
//	replog events cart-1 --from 2
//	replog stats
//	replog health --peer --grpc 10.0.0.2:7070
//
//	replog replay cart-1 --data-dir /var/lib/replog --engine pebble
//	replog commits --data-dir /var/lib/replog --filter 'origin == "east"' --limit 20
//
// Output is JSON on stdout; errors go to stderr with a non-zero exit.
package client
