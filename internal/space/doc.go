// Package space implements the graph cache: one canonical, field-merged
// record per identity, kept alive by holder claims.
//
// # Records
//
// Imprint merges the declared fields of an incoming Thing into the
// canonical record for its identity. Declared fields overwrite, undeclared
// fields are left alone, so narrow and wide views of the same identity
// enrich one record in either order. Nested identified Things are imprinted
// into their own records and replaced by identity stubs; Get resolves the
// stubs back to the current canonical records.
//
// # Retention
//
// A Holder claims identities. An identity is live while it is claimed or
// referenced from another live record. Forget drops a holder's claims and
// evicts everything no longer reachable from a claimed root (mark and
// sweep). Imprints of identities that are neither claimed nor referenced
// are dropped.
//
// # Concurrency
//
// Records are immutable and swapped per identity through an atomic
// pointer, so Get never observes a half-merged record. Imprints to one
// identity serialize on that identity's slot lock; imprints to different
// identities only share the short retention critical section where a
// merged record is committed. Update runs a read-modify-write under the
// slot lock.
//
// Atomicity is per identity: an imprint whose nested records all merge
// cleanly commits each of them, and one that fails to merge commits none,
// but readers may see a parent before its children.
//
// # Persistence
//
// With WithStore, records reachable from a persistent holder are written
// to the "things" scope and persistent claim lists to the "holders" scope.
// Restore loads them back. A record that fails to decode is skipped.
//
// Store writes are queued in the order they were decided and run with no
// lock held. Whichever caller finds the queue idle drains it, so a slow
// store delays that caller only; a write may land after the call that
// decided it has returned.
package space
