// Package server composes and runs the authorization engine process boundary.
//
// It hosts the OAuth HTTP endpoints plus a gRPC health service over the same
// SQLite store so token lifecycle decisions are made from one source of truth.
package server
