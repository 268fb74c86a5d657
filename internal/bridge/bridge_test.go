// ABOUTME: Tests for the bridge trigger handlers
// ABOUTME: Exercises the command, bookmark reaction and delete control triggers

package bridge

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/satchelbot/satchel/internal/bookmarks"
	"github.com/satchelbot/satchel/internal/dedupe"
	"github.com/satchelbot/satchel/internal/messenger"
	"github.com/satchelbot/satchel/internal/store"
)

const (
	botUser       = id.UserID("@satchel:example.org")
	aliceUser     = id.UserID("@alice:example.org")
	bobUser       = id.UserID("@bob:example.org")
	communityRoom = id.RoomID("!general:example.org")
	aliceDM       = id.RoomID("!alice-dm:example.org")
)

// fakeClient serves fetches and records redactions for the trigger handlers.
type fakeClient struct {
	mu            sync.Mutex
	events        map[id.EventID]*event.Event
	getEventCalls int
	redacted      []id.EventID
	noticed       []string
}

func (f *fakeClient) GetEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*event.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getEventCalls++
	evt, ok := f.events[eventID]
	if !ok {
		return nil, fmt.Errorf("event %s not found", eventID)
	}
	return evt, nil
}

func (f *fakeClient) RedactEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID, extra ...mautrix.ReqRedact) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redacted = append(f.redacted, eventID)
	return &mautrix.RespSendEvent{EventID: id.EventID("$redaction")}, nil
}

func (f *fakeClient) SendNotice(ctx context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noticed = append(f.noticed, text)
	return &mautrix.RespSendEvent{EventID: id.EventID("$notice")}, nil
}

func (f *fakeClient) notices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.noticed...)
}

func (f *fakeClient) addEvent(evt *event.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[evt.ID] = evt
}

func (f *fakeClient) redactions() []id.EventID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]id.EventID(nil), f.redacted...)
}

// stubMessenger stands in for the delivery side of the service.
type stubMessenger struct {
	mu      sync.Mutex
	sends   int
	sendErr error
	deleted []string
}

func (m *stubMessenger) SendPrivateMessage(ctx context.Context, userID string, payload *bookmarks.Payload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.sends++
	return fmt.Sprintf("$copy-%d", m.sends), nil
}

func (m *stubMessenger) DeletePrivateMessage(ctx context.Context, userID, deliveredID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, deliveredID)
	return nil
}

func (m *stubMessenger) ResolveUser(ctx context.Context, userID string) (*bookmarks.User, error) {
	return &bookmarks.User{ID: userID}, nil
}

// fakeRooms classifies the alice DM as direct, everything else as community.
type fakeRooms struct{}

func (fakeRooms) IsDirectRoom(roomID id.RoomID) bool { return roomID == aliceDM }

type fixture struct {
	bridge    *Bridge
	client    *fakeClient
	store     *store.MockStore
	messenger *stubMessenger
	service   *bookmarks.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewMockStore()
	msgr := &stubMessenger{}
	svc := bookmarks.New(st, msgr, msgr, nil)

	client := &fakeClient{events: make(map[id.EventID]*event.Event)}
	b := New(client, svc, fakeRooms{}, dedupe.New(time.Minute, 100), Options{
		UserID: botUser,
	}, nil)
	b.ctx = context.Background()

	return &fixture{
		bridge:    b,
		client:    client,
		store:     st,
		messenger: msgr,
		service:   svc,
	}
}

// wait drains the in-flight trigger goroutines.
func (f *fixture) wait() {
	f.bridge.wg.Wait()
}

func sourceEvent(evtID id.EventID, room id.RoomID, sender id.UserID, body string) *event.Event {
	return &event.Event{
		ID:        evtID,
		RoomID:    room,
		Sender:    sender,
		Timestamp: time.Now().UnixMilli(),
		Content: event.Content{
			Raw:    map[string]any{"body": body},
			Parsed: &event.MessageEventContent{MsgType: event.MsgText, Body: body},
		},
	}
}

func commandEvent(evtID id.EventID, room id.RoomID, sender id.UserID, replyTo id.EventID) *event.Event {
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: "!bookmark"}
	if replyTo != "" {
		content.RelatesTo = &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: replyTo}}
	}
	return &event.Event{
		ID:      evtID,
		RoomID:  room,
		Sender:  sender,
		Content: event.Content{Parsed: content},
	}
}

func reactionEvent(evtID id.EventID, room id.RoomID, sender id.UserID, target id.EventID, key string) *event.Event {
	return &event.Event{
		ID:     evtID,
		RoomID: room,
		Sender: sender,
		Content: event.Content{
			Parsed: &event.ReactionEventContent{
				RelatesTo: event.RelatesTo{
					Type:    event.RelAnnotation,
					EventID: target,
					Key:     key,
				},
			},
		},
	}
}

func TestCommandTrigger_CreatesBookmark(t *testing.T) {
	f := newFixture(t)
	f.client.addEvent(sourceEvent("$src-1", communityRoom, bobUser, "interesting link"))

	f.bridge.handleMessage(context.Background(), commandEvent("$cmd-1", communityRoom, aliceUser, "$src-1"))
	f.wait()

	bm, err := f.store.GetBookmarkByOwnerAndMessage(context.Background(), aliceUser.String(), "$src-1")
	require.NoError(t, err)
	assert.Equal(t, communityRoom.String(), bm.CommunityID)
	assert.Equal(t, communityRoom.String(), bm.SourceChannelID)
	assert.True(t, bm.Delivered(), "copy must be delivered")
	assert.Equal(t, 1, f.messenger.sends)
}

func TestCommandTrigger_WithoutReplySendsUsageHint(t *testing.T) {
	f := newFixture(t)

	f.bridge.handleMessage(context.Background(), commandEvent("$cmd-1", communityRoom, aliceUser, ""))
	f.wait()

	all, err := f.store.ListBookmarks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
	require.Len(t, f.client.notices(), 1)
	assert.Contains(t, f.client.notices()[0], "Reply to the message")
}

func TestCommandTrigger_IgnoresOwnMessages(t *testing.T) {
	f := newFixture(t)
	f.client.addEvent(sourceEvent("$src-1", communityRoom, bobUser, "hi"))

	f.bridge.handleMessage(context.Background(), commandEvent("$cmd-1", communityRoom, botUser, "$src-1"))
	f.wait()

	all, err := f.store.ListBookmarks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCommandTrigger_RejectedInDirectRoom(t *testing.T) {
	f := newFixture(t)
	f.client.addEvent(sourceEvent("$src-1", aliceDM, botUser, "your bookmark"))

	f.bridge.handleMessage(context.Background(), commandEvent("$cmd-1", aliceDM, aliceUser, "$src-1"))
	f.wait()

	all, err := f.store.ListBookmarks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all, "direct rooms cannot be bookmarked")
	assert.Equal(t, 0, f.messenger.sends)
	require.Len(t, f.client.notices(), 1)
	assert.Contains(t, f.client.notices()[0], "community rooms")
}

func TestCommandTrigger_ReplayedEventHandledOnce(t *testing.T) {
	f := newFixture(t)
	f.client.addEvent(sourceEvent("$src-1", communityRoom, bobUser, "hi"))

	evt := commandEvent("$cmd-1", communityRoom, aliceUser, "$src-1")
	f.bridge.handleMessage(context.Background(), evt)
	f.wait()
	f.bridge.handleMessage(context.Background(), evt)
	f.wait()

	assert.Equal(t, 1, f.client.getEventCalls, "replayed event must not be re-fetched")
	assert.Equal(t, 1, f.messenger.sends)
}

func TestCommandTrigger_UnreachableOwnerWarnsInRoom(t *testing.T) {
	f := newFixture(t)
	f.messenger.sendErr = bookmarks.ErrOwnerUnreachable
	f.client.addEvent(sourceEvent("$src-1", communityRoom, bobUser, "hi"))

	f.bridge.handleMessage(context.Background(), commandEvent("$cmd-1", communityRoom, aliceUser, "$src-1"))
	f.wait()

	// Record persists in the pending state even though delivery failed.
	bm, err := f.store.GetBookmarkByOwnerAndMessage(context.Background(), aliceUser.String(), "$src-1")
	require.NoError(t, err)
	assert.False(t, bm.Delivered())
	require.Len(t, f.client.notices(), 1)
	assert.Contains(t, f.client.notices()[0], "direct messages")
}

func TestReactionTrigger_CreatesBookmarkAndRedactsReaction(t *testing.T) {
	f := newFixture(t)
	f.client.addEvent(sourceEvent("$src-1", communityRoom, bobUser, "worth keeping"))

	f.bridge.handleReaction(context.Background(), reactionEvent("$react-1", communityRoom, aliceUser, "$src-1", "🔖"))
	f.wait()

	bm, err := f.store.GetBookmarkByOwnerAndMessage(context.Background(), aliceUser.String(), "$src-1")
	require.NoError(t, err)
	assert.True(t, bm.Delivered())
	assert.Equal(t, []id.EventID{"$react-1"}, f.client.redactions(), "trigger reaction must be redacted")
}

func TestReactionTrigger_VariationSelectorMatches(t *testing.T) {
	f := newFixture(t)
	f.client.addEvent(sourceEvent("$src-1", communityRoom, bobUser, "hi"))

	f.bridge.handleReaction(context.Background(), reactionEvent("$react-1", communityRoom, aliceUser, "$src-1", "🔖️"))
	f.wait()

	_, err := f.store.GetBookmarkByOwnerAndMessage(context.Background(), aliceUser.String(), "$src-1")
	assert.NoError(t, err)
}

func TestReactionTrigger_OtherEmojiIgnored(t *testing.T) {
	f := newFixture(t)
	f.client.addEvent(sourceEvent("$src-1", communityRoom, bobUser, "hi"))

	f.bridge.handleReaction(context.Background(), reactionEvent("$react-1", communityRoom, aliceUser, "$src-1", "👍"))
	f.wait()

	all, err := f.store.ListBookmarks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, f.client.redactions())
}

func TestReactionTrigger_IgnoredInDirectRoom(t *testing.T) {
	f := newFixture(t)
	f.client.addEvent(sourceEvent("$src-1", aliceDM, botUser, "your bookmark"))

	f.bridge.handleReaction(context.Background(), reactionEvent("$react-1", aliceDM, aliceUser, "$src-1", "🔖"))
	f.wait()

	all, err := f.store.ListBookmarks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, f.client.redactions(), "nothing is redacted in direct rooms")
}

// seedBookmark creates a delivered bookmark through the service and registers
// its copy event with the fake client so the delete trigger can fetch it.
func seedBookmark(t *testing.T, f *fixture, owner id.UserID) *store.Bookmark {
	t.Helper()

	bm, err := f.service.CreateBookmark(context.Background(), owner.String(), bookmarks.MessageRef{
		CommunityID: communityRoom.String(),
		ChannelID:   communityRoom.String(),
		MessageID:   "$src-seed",
		AuthorID:    bobUser.String(),
	})
	require.NoError(t, err)
	require.True(t, bm.Delivered())

	f.client.addEvent(&event.Event{
		ID:     id.EventID(*bm.DeliveredMessageID),
		RoomID: aliceDM,
		Sender: botUser,
		Content: event.Content{
			Raw: map[string]any{
				"body":                 "🔖 Message bookmarked",
				messenger.ControlField: bookmarks.DeleteControlID(bm.ID),
			},
		},
	})
	return bm
}

func TestDeleteTrigger_RemovesBookmarkAndCopy(t *testing.T) {
	f := newFixture(t)
	bm := seedBookmark(t, f, aliceUser)

	f.bridge.handleReaction(context.Background(),
		reactionEvent("$react-del", aliceDM, aliceUser, id.EventID(*bm.DeliveredMessageID), "🗑️"))
	f.wait()

	_, err := f.store.GetBookmark(context.Background(), bm.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, []string{*bm.DeliveredMessageID}, f.messenger.deleted)
}

func TestDeleteTrigger_NonOwnerIgnored(t *testing.T) {
	f := newFixture(t)
	bm := seedBookmark(t, f, aliceUser)

	f.bridge.handleReaction(context.Background(),
		reactionEvent("$react-del", aliceDM, bobUser, id.EventID(*bm.DeliveredMessageID), "🗑️"))
	f.wait()

	_, err := f.store.GetBookmark(context.Background(), bm.ID)
	assert.NoError(t, err, "non-owner reaction must not remove the bookmark")
	assert.Empty(t, f.messenger.deleted)
}

func TestDeleteTrigger_ForeignMessageIgnored(t *testing.T) {
	f := newFixture(t)
	bm := seedBookmark(t, f, aliceUser)

	// A reaction on a message without a delete control is not ours.
	f.client.addEvent(sourceEvent("$other", aliceDM, botUser, "unrelated"))
	f.bridge.handleReaction(context.Background(),
		reactionEvent("$react-del", aliceDM, aliceUser, "$other", "🗑️"))
	f.wait()

	_, err := f.store.GetBookmark(context.Background(), bm.ID)
	assert.NoError(t, err)
	assert.Empty(t, f.messenger.deleted)
}

func TestDeleteTrigger_StaleControlIgnored(t *testing.T) {
	f := newFixture(t)
	bm := seedBookmark(t, f, aliceUser)
	require.NoError(t, f.service.RemoveBookmark(context.Background(), bm.ID))
	deletedBefore := len(f.messenger.deleted)

	f.bridge.handleReaction(context.Background(),
		reactionEvent("$react-del", aliceDM, aliceUser, id.EventID(*bm.DeliveredMessageID), "🗑️"))
	f.wait()

	assert.Len(t, f.messenger.deleted, deletedBefore, "stale control must be a no-op")
}

func TestAllowedRooms_RestrictsCreateTriggers(t *testing.T) {
	f := newFixture(t)
	f.bridge.opts.AllowedRooms = []string{"!elsewhere:example.org"}
	f.client.addEvent(sourceEvent("$src-1", communityRoom, bobUser, "hi"))

	f.bridge.handleMessage(context.Background(), commandEvent("$cmd-1", communityRoom, aliceUser, "$src-1"))
	f.wait()

	all, err := f.store.ListBookmarks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMessageRef_UsesConfiguredCommunity(t *testing.T) {
	f := newFixture(t)
	f.bridge.opts.CommunityID = "community-1"

	ref := f.bridge.messageRef(communityRoom, sourceEvent("$src-1", communityRoom, bobUser, "hi"))
	assert.Equal(t, "community-1", ref.CommunityID)

	ref = f.bridge.messageRef(aliceDM, sourceEvent("$src-2", aliceDM, bobUser, "hi"))
	assert.Empty(t, ref.CommunityID, "direct rooms have no community scope")
}

func TestMessageRef_TruncatesExcerpt(t *testing.T) {
	f := newFixture(t)

	long := make([]rune, maxExcerptLen+50)
	for i := range long {
		long[i] = 'x'
	}
	ref := f.bridge.messageRef(communityRoom, sourceEvent("$src-1", communityRoom, bobUser, string(long)))
	assert.Len(t, []rune(ref.Excerpt), maxExcerptLen+3)
}
