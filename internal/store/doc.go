// Package store provides persistent storage for satchel using SQLite.
//
// # Data Model
//
// A single table holds Bookmark records:
//
//   - ID: primary key, assigned at creation, never changes
//   - OwnerID / CommunityID / SourceChannelID / SourceMessageID: where the
//     bookmarked message lives and who saved it
//   - DeliveredMessageID: the private copy sent to the owner, NULL until
//     delivery succeeds (the pending-delivery state)
//
// A UNIQUE index on (owner_id, source_message_id) enforces that an owner can
// hold at most one bookmark per message. The constraint lives in the database
// rather than application code so that concurrent creations for the same
// message cannot slip a duplicate row past a stale read; the loser gets
// ErrDuplicateBookmark and re-fetches.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested bookmark does not exist
//   - ErrDuplicateBookmark: Bookmark already exists for the owner/message pair
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests; it implements Store entirely in memory
// with the same uniqueness and no-op delete semantics. Use NewSQLiteStore with
// a temp path for integration tests against real SQLite.
package store
