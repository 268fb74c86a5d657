// ABOUTME: Matrix bridge core for satchel
// ABOUTME: Handles the sync loop and routes trigger events to the bookmark service

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/satchelbot/satchel/internal/bookmarks"
	"github.com/satchelbot/satchel/internal/dedupe"
	"github.com/satchelbot/satchel/internal/messenger"
	"github.com/satchelbot/satchel/internal/store"
)

// maxExcerptLen bounds the source-message excerpt carried into the copy.
const maxExcerptLen = 200

// Client is the slice of the Matrix client the trigger handlers need.
type Client interface {
	GetEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*event.Event, error)
	RedactEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID, extra ...mautrix.ReqRedact) (*mautrix.RespSendEvent, error)
	SendNotice(ctx context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error)
}

// BookmarkService defines what the bridge needs from the bookmark service.
type BookmarkService interface {
	CreateBookmark(ctx context.Context, ownerID string, msg bookmarks.MessageRef) (*store.Bookmark, error)
	GetBookmark(ctx context.Context, id string) (*store.Bookmark, error)
	RemoveBookmark(ctx context.Context, id string) error
}

// RoomClassifier distinguishes direct rooms from community rooms.
type RoomClassifier interface {
	IsDirectRoom(roomID id.RoomID) bool
}

// Options configures the trigger surface.
type Options struct {
	// UserID is the bridge's own Matrix identity, ignored as a trigger source.
	UserID id.UserID

	// CommandPrefix is the bookmark command, matched against the first word of
	// a message sent as a reply.
	CommandPrefix string

	// BookmarkEmoji creates a bookmark when reacted onto a community message.
	BookmarkEmoji string

	// DeleteEmoji removes a bookmark when reacted onto a delivered copy.
	DeleteEmoji string

	// CommunityID scopes created bookmarks. Empty means each room is its own
	// community scope.
	CommunityID string

	// AllowedRooms restricts which rooms the create triggers listen in.
	// Empty allows every non-direct room.
	AllowedRooms []string
}

// Bridge wires the three bookmark triggers to a Matrix sync stream: the
// command trigger, the bookmark reaction trigger and the delete control
// trigger. Every trigger normalizes its event into a service call; the bridge
// itself holds no bookmark state.
type Bridge struct {
	client Client
	books  BookmarkService
	rooms  RoomClassifier
	seen   *dedupe.Cache
	opts   Options
	logger *slog.Logger

	// wg tracks in-flight trigger goroutines so Run can drain on shutdown.
	wg sync.WaitGroup

	// ctx is the parent context for trigger goroutines
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a bridge. The dedupe cache guards against sync replay
// delivering the same trigger event twice.
func New(client Client, books BookmarkService, rooms RoomClassifier, seen *dedupe.Cache, opts Options, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CommandPrefix == "" {
		opts.CommandPrefix = "!bookmark"
	}
	if opts.BookmarkEmoji == "" {
		opts.BookmarkEmoji = "🔖"
	}
	if opts.DeleteEmoji == "" {
		opts.DeleteEmoji = "🗑️"
	}
	return &Bridge{
		client: client,
		books:  books,
		rooms:  rooms,
		seen:   seen,
		opts:   opts,
		logger: logger.With("component", "bridge"),
	}
}

// Run registers the trigger handlers and blocks on the sync loop until the
// context is cancelled or sync fails.
func (b *Bridge) Run(ctx context.Context, matrix *mautrix.Client) error {
	b.logger.Info("starting bridge",
		"user_id", b.opts.UserID,
		"command", b.opts.CommandPrefix,
	)

	b.ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()

	syncer, ok := matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", matrix.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessage)
	syncer.OnEventType(event.EventReaction, b.handleReaction)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- matrix.SyncWithContext(b.ctx)
	}()

	b.logger.Info("bridge running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down bridge")
		b.cancel()
		b.wg.Wait()
		return nil
	case err := <-syncErr:
		b.wg.Wait()
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMessage processes the command trigger: the bookmark command sent as a
// reply to the message being bookmarked.
func (b *Bridge) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == b.opts.UserID {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	fields := strings.Fields(content.Body)
	if len(fields) == 0 || fields[0] != b.opts.CommandPrefix {
		return
	}

	// Sync replay can deliver the same event twice; only trigger events are
	// worth remembering.
	if b.seen.Seen(evt.ID.String()) {
		return
	}

	targetID := content.RelatesTo.GetReplyTo()
	if targetID == "" {
		b.logger.Debug("bookmark command without a reply target",
			"room", evt.RoomID, "sender", evt.Sender)
		b.notifyAsync(evt.RoomID,
			fmt.Sprintf("Reply to the message you want to save with %s.", b.opts.CommandPrefix))
		return
	}

	b.logger.Info("bookmark command received",
		"room", evt.RoomID, "sender", evt.Sender, "target", targetID)

	// Process in a goroutine so slow store or delivery calls never stall the
	// sync loop.
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.createFromEvent(b.ctx, evt.Sender, evt.RoomID, targetID)
	}()
}

// handleReaction processes the two reaction triggers: the bookmark emoji on a
// community message, and the delete emoji on a delivered copy.
func (b *Bridge) handleReaction(ctx context.Context, evt *event.Event) {
	if evt.Sender == b.opts.UserID {
		return
	}

	content, ok := evt.Content.Parsed.(*event.ReactionEventContent)
	if !ok || content.RelatesTo.Type != event.RelAnnotation {
		return
	}
	targetID := content.RelatesTo.EventID
	if targetID == "" {
		return
	}

	switch normalizeEmoji(content.RelatesTo.Key) {
	case normalizeEmoji(b.opts.BookmarkEmoji):
		if b.seen.Seen(evt.ID.String()) {
			return
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.bookmarkReaction(b.ctx, evt, targetID)
		}()
	case normalizeEmoji(b.opts.DeleteEmoji):
		if b.seen.Seen(evt.ID.String()) {
			return
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.deleteReaction(b.ctx, evt.Sender, evt.RoomID, targetID)
		}()
	}
}

// bookmarkReaction handles the bookmark emoji: the reaction is redacted to
// keep the source message clean, then a bookmark is created for the reactor.
func (b *Bridge) bookmarkReaction(ctx context.Context, evt *event.Event, targetID id.EventID) {
	if b.rooms.IsDirectRoom(evt.RoomID) {
		b.logger.Debug("ignoring bookmark reaction in direct room",
			"room", evt.RoomID, "sender", evt.Sender)
		return
	}

	if _, err := b.client.RedactEvent(ctx, evt.RoomID, evt.ID); err != nil {
		// The reaction lingering is cosmetic; the bookmark still proceeds.
		b.logger.Debug("failed to redact bookmark reaction",
			"room", evt.RoomID, "event", evt.ID, "error", err)
	}

	b.createFromEvent(ctx, evt.Sender, evt.RoomID, targetID)
}

// createFromEvent fetches the target message, normalizes it into a message
// reference and asks the service to create the bookmark.
func (b *Bridge) createFromEvent(ctx context.Context, owner id.UserID, roomID id.RoomID, targetID id.EventID) {
	if !b.isRoomAllowed(roomID) {
		b.logger.Debug("ignoring trigger from non-allowed room", "room", roomID)
		return
	}

	target, err := b.client.GetEvent(ctx, roomID, targetID)
	if err != nil {
		b.logger.Error("failed to fetch bookmark target",
			"room", roomID, "event", targetID, "error", err)
		return
	}

	ref := b.messageRef(roomID, target)
	bookmark, err := b.books.CreateBookmark(ctx, owner.String(), ref)
	switch {
	case errors.Is(err, bookmarks.ErrInvalidContext):
		b.logger.Debug("bookmark rejected outside community room",
			"room", roomID, "owner", owner)
		b.notify(ctx, roomID, "Bookmarks only work on messages in community rooms.")
	case errors.Is(err, bookmarks.ErrOwnerUnreachable):
		b.logger.Warn("bookmark kept pending, owner unreachable",
			"bookmark_id", bookmark.ID, "owner", owner)
		b.notify(ctx, roomID,
			"Your bookmark is saved, but I couldn't send you a private copy. Allow direct messages from me to receive it.")
	case err != nil:
		b.logger.Error("failed to create bookmark",
			"room", roomID, "owner", owner, "error", err)
	}
}

// deleteReaction handles the delete emoji on a delivered copy. The copy
// carries the delete control identifier in its content; anything without one
// is not ours and is silently ignored, as is a reactor who does not own the
// bookmark.
func (b *Bridge) deleteReaction(ctx context.Context, sender id.UserID, roomID id.RoomID, targetID id.EventID) {
	target, err := b.client.GetEvent(ctx, roomID, targetID)
	if err != nil {
		b.logger.Debug("failed to fetch delete target",
			"room", roomID, "event", targetID, "error", err)
		return
	}

	control, _ := target.Content.Raw[messenger.ControlField].(string)
	bookmarkID, ok := bookmarks.ParseDeleteControlID(control)
	if !ok {
		return
	}

	bookmark, err := b.books.GetBookmark(ctx, bookmarkID)
	if errors.Is(err, store.ErrNotFound) {
		// Already removed; the control is stale.
		return
	}
	if err != nil {
		b.logger.Error("failed to look up bookmark for delete control",
			"bookmark_id", bookmarkID, "error", err)
		return
	}
	if bookmark.OwnerID != sender.String() {
		b.logger.Debug("ignoring delete control from non-owner",
			"bookmark_id", bookmarkID, "sender", sender)
		return
	}

	if err := b.books.RemoveBookmark(ctx, bookmarkID); err != nil {
		if errors.Is(err, bookmarks.ErrArtifactCleanup) {
			b.logger.Warn("bookmark removed, copy cleanup failed",
				"bookmark_id", bookmarkID, "error", err)
			return
		}
		b.logger.Error("failed to remove bookmark",
			"bookmark_id", bookmarkID, "error", err)
		b.notify(ctx, roomID, "Sorry, something went wrong removing that bookmark. Please try again.")
	}
}

// notify sends a best-effort notice; failure only logs.
func (b *Bridge) notify(ctx context.Context, roomID id.RoomID, text string) {
	if _, err := b.client.SendNotice(ctx, roomID, text); err != nil {
		b.logger.Debug("failed to send notice", "room", roomID, "error", err)
	}
}

// notifyAsync sends a notice from a sync handler without blocking the loop.
func (b *Bridge) notifyAsync(roomID id.RoomID, text string) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.notify(b.ctx, roomID, text)
	}()
}

// messageRef normalizes a fetched Matrix event into a message reference.
// Direct rooms yield an empty community scope, which the service rejects.
func (b *Bridge) messageRef(roomID id.RoomID, target *event.Event) bookmarks.MessageRef {
	communityID := ""
	if !b.rooms.IsDirectRoom(roomID) {
		communityID = b.opts.CommunityID
		if communityID == "" {
			communityID = roomID.String()
		}
	}

	body, _ := target.Content.Raw["body"].(string)
	if content, ok := target.Content.Parsed.(*event.MessageEventContent); ok {
		body = content.Body
	}

	return bookmarks.MessageRef{
		CommunityID: communityID,
		ChannelID:   roomID.String(),
		MessageID:   target.ID.String(),
		AuthorID:    target.Sender.String(),
		Excerpt:     truncate(body, maxExcerptLen),
		SentAt:      time.UnixMilli(target.Timestamp).UTC(),
	}
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID id.RoomID) bool {
	if len(b.opts.AllowedRooms) == 0 {
		return true
	}
	for _, allowed := range b.opts.AllowedRooms {
		if allowed == roomID.String() {
			return true
		}
	}
	return false
}

// normalizeEmoji strips whitespace and the emoji variation selector so 🗑
// and 🗑️ compare equal. Clients are inconsistent about sending it.
func normalizeEmoji(s string) string {
	return strings.TrimSuffix(strings.TrimSpace(s), "\ufe0f")
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
