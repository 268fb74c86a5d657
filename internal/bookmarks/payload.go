// ABOUTME: Delivery payload construction for the private bookmark copy
// ABOUTME: Builds the summary body, view link and delete control identifier

package bookmarks

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/satchelbot/satchel/internal/store"
)

// deleteControlPrefix keys the delete control embedded in the delivered copy
// to the bookmark it removes.
const deleteControlPrefix = "delete-bookmark-"

// Payload is the content of the private copy sent to a bookmark's owner.
// Body is markdown; the messenger renders it for the platform.
type Payload struct {
	Title     string
	Body      string
	ViewURL   string
	ControlID string
}

// BuildPayload assembles the delivered copy for a bookmark: a summary of the
// source message, a View link to jump back to it, and the Delete control
// keyed by the bookmark's ID.
func BuildPayload(bookmark *store.Bookmark, msg MessageRef) *Payload {
	var b strings.Builder

	fmt.Fprintf(&b, "You bookmarked a message in %s. React with 🗑️ on this message to remove the bookmark.\n\n", displayChannel(msg))
	fmt.Fprintf(&b, "**Author:** %s  \n", msg.AuthorID)
	fmt.Fprintf(&b, "**Channel:** %s  \n", displayChannel(msg))
	if !msg.SentAt.IsZero() {
		fmt.Fprintf(&b, "**Sent:** %s  \n", msg.SentAt.UTC().Format(time.RFC1123))
	}
	if msg.Excerpt != "" {
		fmt.Fprintf(&b, "\n> %s\n", strings.ReplaceAll(msg.Excerpt, "\n", "\n> "))
	}

	return &Payload{
		Title:     "🔖 Message bookmarked",
		Body:      b.String(),
		ViewURL:   fmt.Sprintf("https://matrix.to/#/%s/%s", msg.ChannelID, msg.MessageID),
		ControlID: DeleteControlID(bookmark.ID),
	}
}

func displayChannel(msg MessageRef) string {
	if msg.ChannelName != "" {
		return msg.ChannelName
	}
	return msg.ChannelID
}

// DeleteControlID returns the control identifier for removing a bookmark.
func DeleteControlID(bookmarkID string) string {
	return deleteControlPrefix + bookmarkID
}

// ParseDeleteControlID extracts the bookmark ID from a delete control
// identifier. It returns ok == false for identifiers that are not delete
// controls or whose embedded ID is not a valid bookmark ID, so foreign
// controls are ignored rather than treated as errors.
func ParseDeleteControlID(controlID string) (string, bool) {
	id, found := strings.CutPrefix(controlID, deleteControlPrefix)
	if !found || id == "" {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}
