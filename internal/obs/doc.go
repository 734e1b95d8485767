// Package obs exposes the process to operators: a Prometheus scrape endpoint
// and a gRPC health service that reports whether the remote store is
// reachable.
package obs
