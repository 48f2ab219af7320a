// Package serverrun starts a replog replica: storage, the stream host, the
// gossip broadcaster and the commit publisher, then the gRPC and HTTP
// servers. Run blocks until its context is cancelled or a server fails.
package serverrun
