// Package objectstore implements the transient object store used to hand
// audio between the submitting process and workers. Objects are opaque byte
// blobs addressed by a caller-minted id: write-once, read-many, and
// idempotently deletable.
//
// Implementations: BadgerStore (embedded badger database), MemoryStore, and
// HTTPStore, a client for the routes mounted by Handler.
package objectstore
