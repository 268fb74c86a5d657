// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing. It mirrors the
// SQLite semantics, including the (owner, source message) uniqueness check.
type MockStore struct {
	mu        sync.RWMutex
	bookmarks map[string]*Bookmark // keyed by bookmark ID
	pairIndex map[string]string    // keyed by "ownerID:messageID" -> bookmark ID

	// FailCreate, when set, makes the next CreateBookmark return this error.
	FailCreate error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		bookmarks: make(map[string]*Bookmark),
		pairIndex: make(map[string]string),
	}
}

func pairKey(ownerID, messageID string) string {
	return ownerID + ":" + messageID
}

// CreateBookmark stores a new bookmark, enforcing pair uniqueness.
func (m *MockStore) CreateBookmark(ctx context.Context, bookmark *Bookmark) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreate != nil {
		err := m.FailCreate
		m.FailCreate = nil
		return err
	}

	key := pairKey(bookmark.OwnerID, bookmark.SourceMessageID)
	if _, exists := m.pairIndex[key]; exists {
		return ErrDuplicateBookmark
	}

	// Make a copy to avoid external modification
	b := *bookmark
	m.bookmarks[b.ID] = &b
	m.pairIndex[key] = b.ID
	return nil
}

// GetBookmark retrieves a bookmark by ID.
func (m *MockStore) GetBookmark(ctx context.Context, id string) (*Bookmark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bookmarks[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *b
	return &result, nil
}

// GetBookmarkByOwnerAndMessage retrieves a bookmark by its uniqueness pair.
func (m *MockStore) GetBookmarkByOwnerAndMessage(ctx context.Context, ownerID, messageID string) (*Bookmark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.pairIndex[pairKey(ownerID, messageID)]
	if !ok {
		return nil, ErrNotFound
	}
	b, ok := m.bookmarks[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *b
	return &result, nil
}

// SetDeliveredMessage records the delivered copy for a bookmark.
func (m *MockStore) SetDeliveredMessage(ctx context.Context, id, deliveredID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookmarks[id]
	if !ok {
		return ErrNotFound
	}
	delivered := deliveredID
	b.DeliveredMessageID = &delivered
	return nil
}

// DeleteBookmark removes a bookmark. Absent IDs are a no-op.
func (m *MockStore) DeleteBookmark(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookmarks[id]
	if !ok {
		return nil
	}
	delete(m.pairIndex, pairKey(b.OwnerID, b.SourceMessageID))
	delete(m.bookmarks, id)
	return nil
}

// DeleteBookmarksForOwner removes an owner's bookmarks, optionally scoped to
// one community.
func (m *MockStore) DeleteBookmarksForOwner(ctx context.Context, ownerID, communityID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, b := range m.bookmarks {
		if b.OwnerID != ownerID {
			continue
		}
		if communityID != "" && b.CommunityID != communityID {
			continue
		}
		delete(m.pairIndex, pairKey(b.OwnerID, b.SourceMessageID))
		delete(m.bookmarks, id)
		removed++
	}
	return removed, nil
}

// ListBookmarks returns all bookmarks, oldest first.
func (m *MockStore) ListBookmarks(ctx context.Context) ([]*Bookmark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bookmarks := make([]*Bookmark, 0, len(m.bookmarks))
	for _, b := range m.bookmarks {
		result := *b
		bookmarks = append(bookmarks, &result)
	}
	sort.Slice(bookmarks, func(i, j int) bool {
		if bookmarks[i].CreatedAt.Equal(bookmarks[j].CreatedAt) {
			return bookmarks[i].ID < bookmarks[j].ID
		}
		return bookmarks[i].CreatedAt.Before(bookmarks[j].CreatedAt)
	})
	return bookmarks, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
