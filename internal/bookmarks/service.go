// ABOUTME: BookmarkService is the consistency boundary for bookmark state
// ABOUTME: All bookmark creation, removal and reconciliation flows through here

package bookmarks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/satchelbot/satchel/internal/store"
)

// ErrInvalidContext is returned when a bookmark is attempted on a message
// outside a community room (direct chats cannot be bookmarked).
var ErrInvalidContext = errors.New("message is not in a community room")

// ErrOwnerUnreachable is returned by a Messenger when the owner cannot
// receive private messages. The bookmark record still exists in the
// pending-delivery state when CreateBookmark returns this.
var ErrOwnerUnreachable = errors.New("owner cannot receive private messages")

// ErrArtifactNotFound is returned by a Messenger when the delivered copy no
// longer exists. RemoveBookmark swallows it; removal still succeeds.
var ErrArtifactNotFound = errors.New("delivered copy not found")

// ErrArtifactCleanup wraps delivery faults during removal. The store record
// is already gone when this is returned, so callers treat it as a warning,
// not a failed removal.
var ErrArtifactCleanup = errors.New("delivered copy cleanup failed")

// ErrUserNotFound is returned by a Resolver when an identity no longer
// exists on the platform.
var ErrUserNotFound = errors.New("user not found")

// defaultResolveLimit bounds concurrent owner lookups during reconciliation.
const defaultResolveLimit = 4

// MessageRef identifies a public message being bookmarked, plus the details
// the delivered copy summarizes.
type MessageRef struct {
	CommunityID string
	ChannelID   string
	MessageID   string

	AuthorID    string
	ChannelName string
	Excerpt     string
	SentAt      time.Time
}

// User is a resolved platform identity.
type User struct {
	ID          string
	DisplayName string
}

// BookmarkStore defines what the service needs from storage
type BookmarkStore interface {
	CreateBookmark(ctx context.Context, bookmark *store.Bookmark) error
	GetBookmark(ctx context.Context, id string) (*store.Bookmark, error)
	GetBookmarkByOwnerAndMessage(ctx context.Context, ownerID, messageID string) (*store.Bookmark, error)
	SetDeliveredMessage(ctx context.Context, id, deliveredID string) error
	DeleteBookmark(ctx context.Context, id string) error
	DeleteBookmarksForOwner(ctx context.Context, ownerID, communityID string) (int64, error)
	ListBookmarks(ctx context.Context) ([]*store.Bookmark, error)
}

// Messenger delivers and deletes the private bookmark copies.
// SendPrivateMessage returns the platform ID of the delivered message.
type Messenger interface {
	SendPrivateMessage(ctx context.Context, userID string, payload *Payload) (string, error)
	DeletePrivateMessage(ctx context.Context, userID, deliveredID string) error
}

// Resolver looks up platform identities during reconciliation.
type Resolver interface {
	ResolveUser(ctx context.Context, userID string) (*User, error)
}

// Service orchestrates the bookmark lifecycle. It is the only component that
// writes to the store; trigger adapters normalize their events and call in.
type Service struct {
	store     BookmarkStore
	messenger Messenger
	resolver  Resolver
	logger    *slog.Logger

	resolveLimit int

	// byOwner is a lookup cache rebuilt from the store at startup. It is
	// never consulted for uniqueness or existence decisions.
	mu      sync.RWMutex
	byOwner map[string][]*store.Bookmark
}

// New creates a bookmark service.
func New(st BookmarkStore, messenger Messenger, resolver Resolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        st,
		messenger:    messenger,
		resolver:     resolver,
		logger:       logger.With("component", "bookmarks"),
		resolveLimit: defaultResolveLimit,
		byOwner:      make(map[string][]*store.Bookmark),
	}
}

// SetResolveLimit bounds how many owner lookups Reconcile runs concurrently.
// Values below 1 fall back to the default.
func (s *Service) SetResolveLimit(n int) {
	if n < 1 {
		n = defaultResolveLimit
	}
	s.resolveLimit = n
}

// CreateBookmark persists a bookmark for ownerID pointing at msg, then
// delivers the private copy.
//
// Creation is idempotent: if the owner already bookmarked the message, the
// existing record is returned unchanged. Persist and deliver are separate
// phases; if delivery fails because the owner is unreachable, the record
// stays in the pending-delivery state and the returned error is
// ErrOwnerUnreachable alongside the (still valid) bookmark.
func (s *Service) CreateBookmark(ctx context.Context, ownerID string, msg MessageRef) (*store.Bookmark, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	if msg.MessageID == "" {
		return nil, fmt.Errorf("message id is required")
	}
	if msg.CommunityID == "" {
		return nil, ErrInvalidContext
	}

	existing, err := s.store.GetBookmarkByOwnerAndMessage(ctx, ownerID, msg.MessageID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up bookmark: %w", err)
	}

	bookmark := &store.Bookmark{
		ID:              uuid.New().String(),
		OwnerID:         ownerID,
		CommunityID:     msg.CommunityID,
		SourceChannelID: msg.ChannelID,
		SourceMessageID: msg.MessageID,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.store.CreateBookmark(ctx, bookmark); err != nil {
		if errors.Is(err, store.ErrDuplicateBookmark) {
			// Lost a creation race against a concurrent trigger for the same
			// message. The winner's row is authoritative; re-fetch it.
			winner, lookupErr := s.store.GetBookmarkByOwnerAndMessage(ctx, ownerID, msg.MessageID)
			if lookupErr == nil {
				s.logger.Debug("found existing bookmark after create race",
					"bookmark_id", winner.ID, "owner", ownerID)
				return winner, nil
			}
			return nil, fmt.Errorf("refetching bookmark after duplicate: %w", lookupErr)
		}
		return nil, fmt.Errorf("creating bookmark: %w", err)
	}

	s.indexAdd(bookmark)
	s.logger.Debug("bookmark created",
		"bookmark_id", bookmark.ID,
		"owner", ownerID,
		"message", msg.MessageID)

	// Delivery is network-bound and may take arbitrarily long; no store
	// state is held across it.
	deliveredID, err := s.messenger.SendPrivateMessage(ctx, ownerID, BuildPayload(bookmark, msg))
	if err != nil {
		if errors.Is(err, ErrOwnerUnreachable) {
			s.logger.Warn("bookmark copy undeliverable, record kept pending",
				"bookmark_id", bookmark.ID, "owner", ownerID)
			return bookmark, ErrOwnerUnreachable
		}
		s.logger.Warn("bookmark delivery failed, record kept pending",
			"bookmark_id", bookmark.ID, "owner", ownerID, "error", err)
		return bookmark, fmt.Errorf("delivering bookmark copy: %w", err)
	}

	if err := s.store.SetDeliveredMessage(ctx, bookmark.ID, deliveredID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Removed while delivery was in flight. The record's absence
			// wins; the delivered copy will be cleaned up by the owner.
			s.logger.Debug("bookmark removed during delivery",
				"bookmark_id", bookmark.ID)
			s.indexRemove(bookmark.OwnerID, bookmark.ID)
			return bookmark, nil
		}
		return bookmark, fmt.Errorf("recording delivered copy: %w", err)
	}

	bookmark.DeliveredMessageID = &deliveredID
	s.indexAdd(bookmark)

	s.logger.Info("bookmark delivered",
		"bookmark_id", bookmark.ID,
		"owner", ownerID,
		"delivered_message_id", deliveredID)
	return bookmark, nil
}

// GetBookmark retrieves a bookmark by ID.
// Returns store.ErrNotFound if it doesn't exist.
func (s *Service) GetBookmark(ctx context.Context, id string) (*store.Bookmark, error) {
	return s.store.GetBookmark(ctx, id)
}

// RemoveBookmark deletes a bookmark and best-effort cleans up its delivered
// copy. The store deletion commits first and is never reverted: once it
// succeeds the bookmark no longer exists, regardless of what happens to the
// artifact. Removing an absent ID is a no-op.
//
// A missing delivered copy is swallowed. Any other cleanup fault is returned
// wrapped in ErrArtifactCleanup; the removal itself has still succeeded.
func (s *Service) RemoveBookmark(ctx context.Context, id string) error {
	bookmark, err := s.store.GetBookmark(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up bookmark: %w", err)
	}

	if err := s.store.DeleteBookmark(ctx, id); err != nil {
		return fmt.Errorf("deleting bookmark: %w", err)
	}
	s.indexRemove(bookmark.OwnerID, bookmark.ID)
	s.logger.Info("bookmark removed", "bookmark_id", id, "owner", bookmark.OwnerID)

	if !bookmark.Delivered() {
		return nil
	}

	if err := s.messenger.DeletePrivateMessage(ctx, bookmark.OwnerID, *bookmark.DeliveredMessageID); err != nil {
		if errors.Is(err, ErrArtifactNotFound) {
			// Owner left or already deleted the copy. Nothing to clean up.
			s.logger.Debug("delivered copy already gone",
				"bookmark_id", id, "delivered_message_id", *bookmark.DeliveredMessageID)
			return nil
		}
		s.logger.Warn("delivered copy cleanup failed",
			"bookmark_id", id, "owner", bookmark.OwnerID, "error", err)
		return fmt.Errorf("%w: %v", ErrArtifactCleanup, err)
	}
	return nil
}

// RemoveAllForOwner purges every bookmark an owner holds, optionally scoped
// to one community (communityID == "" means all). No artifact cleanup is
// attempted; this path serves owner-departure scenarios where delivery would
// fail universally anyway.
func (s *Service) RemoveAllForOwner(ctx context.Context, ownerID, communityID string) error {
	removed, err := s.store.DeleteBookmarksForOwner(ctx, ownerID, communityID)
	if err != nil {
		return fmt.Errorf("purging bookmarks for owner: %w", err)
	}
	s.indexRemoveScope(ownerID, communityID)
	if removed > 0 {
		s.logger.Info("purged owner bookmarks",
			"owner", ownerID, "community", communityID, "count", removed)
	}
	return nil
}

// Reconcile loads every persisted bookmark, validates each owner still
// resolves on the platform, purges bookmarks of departed owners, and rebuilds
// the per-owner index. It runs once at startup.
//
// Owner lookups run with bounded parallelism; one unresolvable or failing
// lookup never aborts the pass for the remaining owners.
func (s *Service) Reconcile(ctx context.Context) error {
	bookmarks, err := s.store.ListBookmarks(ctx)
	if err != nil {
		return fmt.Errorf("loading bookmarks: %w", err)
	}

	s.mu.Lock()
	s.byOwner = make(map[string][]*store.Bookmark)
	s.mu.Unlock()

	if len(bookmarks) == 0 {
		s.logger.Info("reconciliation complete", "owners", 0, "bookmarks", 0)
		return nil
	}

	grouped := make(map[string][]*store.Bookmark)
	for _, b := range bookmarks {
		grouped[b.OwnerID] = append(grouped[b.OwnerID], b)
	}

	var g errgroup.Group
	g.SetLimit(s.resolveLimit)

	for ownerID, owned := range grouped {
		// Each owner's purge-or-hydrate step is independent; a shutdown
		// mid-pass leaves every completed owner consistent.
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			s.reconcileOwner(ctx, ownerID, owned)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("reconciliation interrupted: %w", err)
	}

	s.logger.Info("reconciliation complete",
		"owners", len(grouped), "bookmarks", len(bookmarks))
	return nil
}

// reconcileOwner validates a single owner and either purges their bookmarks
// or hydrates them into the index.
func (s *Service) reconcileOwner(ctx context.Context, ownerID string, owned []*store.Bookmark) {
	_, err := s.resolver.ResolveUser(ctx, ownerID)
	if errors.Is(err, ErrUserNotFound) {
		s.logger.Info("owner no longer resolvable, purging bookmarks",
			"owner", ownerID, "count", len(owned))
		if purgeErr := s.RemoveAllForOwner(ctx, ownerID, ""); purgeErr != nil {
			s.logger.Error("failed to purge orphaned bookmarks",
				"owner", ownerID, "error", purgeErr)
		}
		return
	}
	if err != nil {
		// Transient lookup fault. Keep the records, skip hydration; the
		// next startup pass will retry.
		s.logger.Warn("owner lookup failed, skipping",
			"owner", ownerID, "error", err)
		return
	}

	s.mu.Lock()
	s.byOwner[ownerID] = append(s.byOwner[ownerID], owned...)
	s.mu.Unlock()

	s.logger.Debug("hydrated owner bookmarks", "owner", ownerID, "count", len(owned))
}

// BookmarksForOwner returns a copy of the cached bookmarks for an owner.
// The result reflects the last reconciliation plus live mutations; it must
// not be used for existence or uniqueness decisions.
func (s *Service) BookmarksForOwner(ownerID string) []*store.Bookmark {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owned := s.byOwner[ownerID]
	result := make([]*store.Bookmark, 0, len(owned))
	for _, b := range owned {
		c := *b
		result = append(result, &c)
	}
	return result
}

// indexAdd inserts or refreshes a bookmark in the owner cache.
func (s *Service) indexAdd(bookmark *store.Bookmark) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *bookmark
	owned := s.byOwner[bookmark.OwnerID]
	for i, b := range owned {
		if b.ID == bookmark.ID {
			owned[i] = &c
			return
		}
	}
	s.byOwner[bookmark.OwnerID] = append(owned, &c)
}

// indexRemove drops one bookmark from the owner cache.
func (s *Service) indexRemove(ownerID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := s.byOwner[ownerID]
	for i, b := range owned {
		if b.ID == id {
			s.byOwner[ownerID] = append(owned[:i], owned[i+1:]...)
			break
		}
	}
	if len(s.byOwner[ownerID]) == 0 {
		delete(s.byOwner, ownerID)
	}
}

// indexRemoveScope drops an owner's cached bookmarks, optionally only those
// in one community.
func (s *Service) indexRemoveScope(ownerID, communityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if communityID == "" {
		delete(s.byOwner, ownerID)
		return
	}

	owned := s.byOwner[ownerID]
	kept := owned[:0]
	for _, b := range owned {
		if b.CommunityID != communityID {
			kept = append(kept, b)
		}
	}
	if len(kept) == 0 {
		delete(s.byOwner, ownerID)
		return
	}
	s.byOwner[ownerID] = kept
}
