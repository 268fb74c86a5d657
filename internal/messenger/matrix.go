// ABOUTME: Matrix-backed delivery adapter for private bookmark copies
// ABOUTME: Manages direct rooms, sends/redacts copies, resolves identities

package messenger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/satchelbot/satchel/internal/bookmarks"
)

// ControlField is the content key carrying the delete control identifier on
// a delivered bookmark copy.
const ControlField = "io.satchel.control"

// Client is the slice of the Matrix client the messenger needs.
type Client interface {
	CreateRoom(ctx context.Context, req *mautrix.ReqCreateRoom) (*mautrix.RespCreateRoom, error)
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	RedactEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID, extra ...mautrix.ReqRedact) (*mautrix.RespSendEvent, error)
	GetProfile(ctx context.Context, userID id.UserID) (*mautrix.RespUserProfile, error)
}

// MatrixMessenger delivers private bookmark copies over Matrix direct rooms
// and resolves user identities via profile lookups. It implements
// bookmarks.Messenger and bookmarks.Resolver.
type MatrixMessenger struct {
	client Client
	logger *slog.Logger

	// Direct room per user, created lazily on first delivery.
	mu          sync.RWMutex
	directRooms map[string]id.RoomID
}

// NewMatrix creates a messenger on top of a Matrix client.
func NewMatrix(client Client, logger *slog.Logger) *MatrixMessenger {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatrixMessenger{
		client:      client,
		logger:      logger.With("component", "messenger"),
		directRooms: make(map[string]id.RoomID),
	}
}

// copyContent is the delivered message content: a regular text message plus
// the control field the delete trigger parses.
type copyContent struct {
	event.MessageEventContent
	Control string `json:"io.satchel.control,omitempty"`
}

// SendPrivateMessage delivers a bookmark copy to the user's direct room and
// returns the delivered event ID. An owner who cannot be reached (direct
// room cannot be created, or the send is rejected) yields
// bookmarks.ErrOwnerUnreachable.
func (m *MatrixMessenger) SendPrivateMessage(ctx context.Context, userID string, payload *bookmarks.Payload) (string, error) {
	roomID, err := m.ensureDirectRoom(ctx, userID)
	if err != nil {
		return "", err
	}

	resp, err := m.client.SendMessageEvent(ctx, roomID, event.EventMessage, renderContent(payload))
	if err != nil {
		if errors.Is(err, mautrix.MForbidden) {
			return "", fmt.Errorf("%w: %v", bookmarks.ErrOwnerUnreachable, err)
		}
		return "", fmt.Errorf("sending bookmark copy: %w", err)
	}

	m.logger.Debug("delivered bookmark copy",
		"user", userID, "room", roomID, "event", resp.EventID)
	return resp.EventID.String(), nil
}

// DeletePrivateMessage redacts a previously delivered copy in the user's
// direct room. A copy that no longer exists yields
// bookmarks.ErrArtifactNotFound.
func (m *MatrixMessenger) DeletePrivateMessage(ctx context.Context, userID, deliveredID string) error {
	roomID, err := m.ensureDirectRoom(ctx, userID)
	if err != nil {
		// No direct room means no copy to clean up.
		return fmt.Errorf("%w: %v", bookmarks.ErrArtifactNotFound, err)
	}

	_, err = m.client.RedactEvent(ctx, roomID, id.EventID(deliveredID))
	if err != nil {
		if errors.Is(err, mautrix.MNotFound) {
			return fmt.Errorf("%w: %v", bookmarks.ErrArtifactNotFound, err)
		}
		return fmt.Errorf("redacting bookmark copy: %w", err)
	}

	m.logger.Debug("deleted bookmark copy", "user", userID, "event", deliveredID)
	return nil
}

// ResolveUser looks up a user's profile on the homeserver.
// Unknown users yield bookmarks.ErrUserNotFound.
func (m *MatrixMessenger) ResolveUser(ctx context.Context, userID string) (*bookmarks.User, error) {
	profile, err := m.client.GetProfile(ctx, id.UserID(userID))
	if err != nil {
		if errors.Is(err, mautrix.MNotFound) {
			return nil, fmt.Errorf("%w: %s", bookmarks.ErrUserNotFound, userID)
		}
		return nil, fmt.Errorf("resolving user %s: %w", userID, err)
	}

	return &bookmarks.User{
		ID:          userID,
		DisplayName: profile.DisplayName,
	}, nil
}

// RegisterDirectRoom records a known direct room for a user, e.g. one
// discovered from sync state at startup.
func (m *MatrixMessenger) RegisterDirectRoom(userID string, roomID id.RoomID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.directRooms[userID] = roomID
}

// IsDirectRoom reports whether a room is one of the known direct rooms.
func (m *MatrixMessenger) IsDirectRoom(roomID id.RoomID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.directRooms {
		if r == roomID {
			return true
		}
	}
	return false
}

// ensureDirectRoom returns the direct room for a user, creating one if none
// is known yet.
func (m *MatrixMessenger) ensureDirectRoom(ctx context.Context, userID string) (id.RoomID, error) {
	m.mu.RLock()
	roomID, ok := m.directRooms[userID]
	m.mu.RUnlock()
	if ok {
		return roomID, nil
	}

	resp, err := m.client.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Invite:   []id.UserID{id.UserID(userID)},
		IsDirect: true,
		Preset:   "trusted_private_chat",
	})
	if err != nil {
		return "", fmt.Errorf("%w: creating direct room: %v", bookmarks.ErrOwnerUnreachable, err)
	}

	m.mu.Lock()
	m.directRooms[userID] = resp.RoomID
	m.mu.Unlock()

	m.logger.Debug("created direct room", "user", userID, "room", resp.RoomID)
	return resp.RoomID, nil
}

// renderContent builds the Matrix message content for a payload: markdown
// body as the plain-text fallback, goldmark-rendered HTML as the formatted
// body, and the delete control identifier in the custom field.
func renderContent(payload *bookmarks.Payload) *copyContent {
	markdown := fmt.Sprintf("**%s**\n\n%s\n[View](%s)", payload.Title, payload.Body, payload.ViewURL)

	var html bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &html); err != nil {
		// Fall back to the plain body; the copy is still usable.
		html.Reset()
	}

	content := &copyContent{
		MessageEventContent: event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    markdown,
		},
		Control: payload.ControlID,
	}
	if html.Len() > 0 {
		content.Format = event.FormatHTML
		content.FormattedBody = html.String()
	}
	return content
}

// Ensure MatrixMessenger satisfies the service contracts
var (
	_ bookmarks.Messenger = (*MatrixMessenger)(nil)
	_ bookmarks.Resolver  = (*MatrixMessenger)(nil)
)
