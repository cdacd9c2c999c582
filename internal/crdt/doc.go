// Package crdt wraps the replicated-structure engine behind a narrow
// interface so the sync core never depends on its internal representation.
package crdt

import "pagesync/internal/domain"

// Document is the replicated structure for one page. Implementations are
// not safe for concurrent use; callers serialize access with the page's
// lock. Merges are commutative and idempotent: peers that have applied the
// same set of updates converge to the same block sequence regardless of
// order.
type Document interface {
	// Fingerprint returns a compact summary of the document's known edit
	// history. An empty document has an empty fingerprint.
	Fingerprint() []byte

	// Diff returns an update containing everything this document has that
	// a peer with the given fingerprint does not.
	Diff(remote []byte) ([]byte, error)

	// Merge applies an update produced by a peer's Diff. A malformed
	// update returns an error and leaves the document unchanged.
	Merge(update []byte) error

	// Blocks returns the current ordered block sequence. Position is the
	// index in the sequence, not whatever stale value an entry carries.
	Blocks() ([]domain.BlockState, error)
}
