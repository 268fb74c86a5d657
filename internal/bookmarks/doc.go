// Package bookmarks implements the bookmark lifecycle: creation, removal,
// bulk purge and startup reconciliation.
//
// # Overview
//
// A bookmark is two-sided state: a durable store record plus a private copy
// delivered to the owner. The Service keeps the two consistent under partial
// failure by ordering the phases asymmetrically:
//
//   - Creation persists first, then delivers. A failed delivery leaves the
//     record in the pending-delivery state, which is a valid terminal state,
//     not something to roll back.
//   - Removal deletes the record first, then best-effort deletes the
//     delivered copy. Once the record is gone the bookmark does not exist,
//     whatever happens to the artifact.
//
// # Concurrency
//
// Triggers (command, reaction, delete control) may fire concurrently for the
// same owner and message. Creation races resolve through the store's
// uniqueness constraint: the losing insert gets ErrDuplicateBookmark and the
// service re-fetches the winner instead of surfacing the conflict. Removal
// races are no-ops on the second delete.
//
// # Reconciliation
//
// Reconcile runs once at startup: it loads all records, resolves each owner
// with bounded parallelism, purges bookmarks whose owner no longer exists,
// and hydrates the per-owner index. The index is a cache rebuilt only from
// store reads; it is never consulted for correctness decisions.
package bookmarks
