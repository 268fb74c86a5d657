// ABOUTME: Store interface and data types for satchel persistence
// ABOUTME: Defines the Bookmark record and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateBookmark is returned when a bookmark already exists for the
// same owner and source message
var ErrDuplicateBookmark = errors.New("bookmark already exists")

// Bookmark is a user's saved reference to a message in a community room.
// DeliveredMessageID is nil until the private copy has been sent to the
// owner; a bookmark without it is in the pending-delivery state, which is
// valid and removable like any other.
type Bookmark struct {
	ID                 string
	OwnerID            string
	CommunityID        string
	SourceChannelID    string
	SourceMessageID    string
	DeliveredMessageID *string
	CreatedAt          time.Time
}

// Delivered reports whether the private copy has been sent to the owner.
func (b *Bookmark) Delivered() bool {
	return b.DeliveredMessageID != nil && *b.DeliveredMessageID != ""
}

// Store defines the interface for bookmark persistence.
//
// CreateBookmark must enforce the (owner, source message) uniqueness at the
// storage layer so that concurrent creations for the same message resolve to
// a single row regardless of interleaving.
type Store interface {
	CreateBookmark(ctx context.Context, bookmark *Bookmark) error
	GetBookmark(ctx context.Context, id string) (*Bookmark, error)
	GetBookmarkByOwnerAndMessage(ctx context.Context, ownerID, messageID string) (*Bookmark, error)

	// SetDeliveredMessage records the ID of the private copy after delivery
	// succeeds. It is the only mutation a bookmark supports.
	SetDeliveredMessage(ctx context.Context, id, deliveredID string) error

	// DeleteBookmark removes a bookmark. Deleting an absent ID is a no-op.
	DeleteBookmark(ctx context.Context, id string) error

	// DeleteBookmarksForOwner removes all of an owner's bookmarks, optionally
	// scoped to one community (communityID == "" means every community).
	// Returns the number of rows removed.
	DeleteBookmarksForOwner(ctx context.Context, ownerID, communityID string) (int64, error)

	ListBookmarks(ctx context.Context) ([]*Bookmark, error)

	// Close releases any resources held by the store
	Close() error
}
