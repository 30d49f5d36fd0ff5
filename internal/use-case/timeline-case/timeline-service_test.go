package timeline_service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xenn00/room-sync/config"
	"github.com/xenn00/room-sync/internal/bridge"
	"github.com/xenn00/room-sync/internal/bridge/memory"
	"github.com/xenn00/room-sync/internal/bridge/mocks"
	"github.com/xenn00/room-sync/internal/entity"
	app_error "github.com/xenn00/room-sync/internal/errors"
	"github.com/xenn00/room-sync/internal/grouping"
	"github.com/xenn00/room-sync/state"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const (
	alice id.UserID = "@alice:local"
	bob   id.UserID = "@bob:local"
	carol id.UserID = "@carol:local"

	roomID id.RoomID = "!room:local"
)

var base = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.AppConfig {
	conf := config.Default()
	conf.Sync.SweepInterval = 10 * time.Millisecond
	return conf
}

func newService(t *testing.T, client bridge.Client, conf *config.AppConfig) *TimelineService {
	t.Helper()
	appState := &state.AppState{Ctx: context.Background(), Conf: conf, Bridge: client}
	svc := NewTimelineService(appState).(*TimelineService)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// startOn starts a service acting as userID on a memory homeserver.
func startOn(t *testing.T, server *memory.Server, userID id.UserID) *TimelineService {
	t.Helper()
	client := server.Connect(userID)
	t.Cleanup(func() { _ = client.Close() })

	svc := newService(t, client, testConfig())
	require.Nil(t, svc.Start(context.Background()))
	return svc
}

func waitRoom(t *testing.T, svc *TimelineService, roomID id.RoomID, cond func(entity.Room) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		room, ok := svc.RoomRepo.Get(roomID)
		return ok && (cond == nil || cond(room))
	}, 2*time.Second, 10*time.Millisecond)
}

func textEvent(eventID id.EventID, seq int64, sender id.UserID, body string) entity.Event {
	return entity.Event{
		ID:        eventID,
		RoomID:    roomID,
		Sender:    sender,
		Timestamp: base.Add(time.Duration(seq) * time.Second),
		Seq:       seq,
		Content:   entity.TextContent{Body: body},
	}
}

func groupRoom(membership event.Membership, level int) entity.Room {
	return entity.Room{
		ID:         roomID,
		Name:       "general",
		Kind:       entity.RoomKindGroup,
		Visibility: entity.VisibilityPrivate,
		Membership: membership,
		PowerLevel: level,
	}
}

func flatten(view *TimelineView) []entity.Event {
	var out []entity.Event
	for _, c := range view.Collections {
		for _, f := range c {
			out = append(out, f...)
		}
	}
	return out
}

func TestIngest_DuplicatesAreAbsorbed(t *testing.T) {
	svc := newService(t, &mocks.Client{User: bob}, testConfig())
	svc.RoomRepo.Upsert(groupRoom(event.MembershipJoin, 0))

	first := svc.Ingest(roomID, []entity.Event{textEvent("$1", 1, alice, "hi"), textEvent("$2", 2, alice, "there")})
	assert.Len(t, first, 2)

	again := svc.Ingest(roomID, []entity.Event{textEvent("$2", 2, alice, "there"), textEvent("$1", 1, alice, "hi")})
	assert.Empty(t, again)
	assert.Len(t, svc.TimelineRepo.Get(roomID), 2)
}

func TestIngest_AppliesMembershipAndPowerEvents(t *testing.T) {
	svc := newService(t, &mocks.Client{User: bob}, testConfig())
	svc.RoomRepo.Upsert(groupRoom(event.MembershipInvite, 0))

	svc.Ingest(roomID, []entity.Event{
		{ID: "$m", RoomID: roomID, Sender: bob, Seq: 1, Timestamp: base, Content: entity.MembershipContent{UserID: bob, Membership: event.MembershipJoin}},
		{ID: "$p", RoomID: roomID, Sender: alice, Seq: 2, Timestamp: base, Content: entity.PowerLevelContent{UserID: bob, Level: 50}},
	})

	room, appErr := svc.Room(roomID)
	require.Nil(t, appErr)
	assert.Equal(t, event.MembershipJoin, room.Membership)
	assert.Equal(t, 50, room.PowerLevel)

	m, ok := svc.RoomRepo.Member(roomID, bob)
	require.True(t, ok)
	assert.Equal(t, 50, m.PowerLevel)
}

func TestObserve_SharesOneSubscriptionAndReleasesOnce(t *testing.T) {
	client := &mocks.Client{User: bob}
	feed := bridge.NewFeed[entity.Event](nil)
	client.On("SubscribeRoom", mock.Anything, roomID).Return(feed, nil).Once()

	svc := newService(t, client, testConfig())
	ctx := context.Background()

	first, appErr := svc.Observe(ctx, roomID)
	require.Nil(t, appErr)
	second, appErr := svc.Observe(ctx, roomID)
	require.Nil(t, appErr)

	feed.Publish(textEvent("$1", 1, alice, "live"))
	require.Eventually(t, func() bool { return len(svc.TimelineRepo.Get(roomID)) == 1 }, time.Second, 5*time.Millisecond)

	first.Close()
	first.Close()
	select {
	case <-feed.Done():
		t.Fatal("subscription closed while still observed")
	default:
	}

	second.Close()
	select {
	case <-feed.Done():
	case <-time.After(time.Second):
		t.Fatal("last release did not close the subscription")
	}
	client.AssertNumberOfCalls(t, "SubscribeRoom", 1)
}

func TestObserve_ReleasedWhenContextEnds(t *testing.T) {
	client := &mocks.Client{User: bob}
	feed := bridge.NewFeed[entity.Event](nil)
	client.On("SubscribeRoom", mock.Anything, roomID).Return(feed, nil).Once()

	svc := newService(t, client, testConfig())
	ctx, cancel := context.WithCancel(context.Background())

	_, appErr := svc.Observe(ctx, roomID)
	require.Nil(t, appErr)
	cancel()

	select {
	case <-feed.Done():
	case <-time.After(time.Second):
		t.Fatal("cancelled observation was not released")
	}
}

func TestWithRoom_ScopesTheObservation(t *testing.T) {
	client := &mocks.Client{User: bob}
	feed := bridge.NewFeed[entity.Event](nil)
	client.On("SubscribeRoom", mock.Anything, roomID).Return(feed, nil).Once()
	svc := newService(t, client, testConfig())

	sentinel := errors.New("inside")
	err := svc.WithRoom(context.Background(), roomID, func(obs *Observation) error {
		assert.Equal(t, roomID, obs.RoomID)
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	select {
	case <-feed.Done():
	case <-time.After(time.Second):
		t.Fatal("scoped observation leaked")
	}
}

func TestPaginate_CoalescesConcurrentCalls(t *testing.T) {
	client := &mocks.Client{User: bob}
	entered := make(chan struct{})
	release := make(chan struct{})
	next := "older"
	client.On("Paginate", mock.Anything, roomID, "").
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(&bridge.Page{Events: []entity.Event{textEvent("$1", 1, alice, "a"), textEvent("$2", 2, alice, "b")}, NextCursor: &next}, nil).
		Once()

	svc := newService(t, client, testConfig())
	ctx := context.Background()

	results := make([]*PaginationResult, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = svc.Paginate(ctx, roomID)
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = svc.Paginate(ctx, roomID)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	client.AssertNumberOfCalls(t, "Paginate", 1)
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, 2, res.Added)
		assert.True(t, res.HasMore)
		assert.True(t, res.Coalesced)
	}
	cursor, hasMore := svc.TimelineRepo.Cursor(roomID)
	assert.Equal(t, "older", cursor)
	assert.True(t, hasMore)
}

func TestPaginate_FailureLeavesTimelineUntouched(t *testing.T) {
	client := &mocks.Client{User: bob}
	client.On("Paginate", mock.Anything, roomID, "").Return(nil, errors.New("connection reset")).Once()
	client.On("Paginate", mock.Anything, roomID, "").Return(&bridge.Page{Events: []entity.Event{textEvent("$1", 1, alice, "a")}}, nil).Once()

	svc := newService(t, client, testConfig())
	ctx := context.Background()

	_, appErr := svc.Paginate(ctx, roomID)
	require.NotNil(t, appErr)
	assert.ErrorIs(t, appErr, app_error.ErrTransient)
	assert.Empty(t, svc.TimelineRepo.Get(roomID))

	res, appErr := svc.Paginate(ctx, roomID)
	require.Nil(t, appErr)
	assert.Equal(t, 1, res.Added)
	assert.False(t, res.HasMore)

	res, appErr = svc.Paginate(ctx, roomID)
	require.Nil(t, appErr)
	assert.Zero(t, res.Added, "history is exhausted")
	client.AssertNumberOfCalls(t, "Paginate", 2)
}

func TestPaginate_ResultAfterTeardownIsDiscarded(t *testing.T) {
	client := &mocks.Client{User: bob}
	feed := bridge.NewFeed[entity.Event](nil)
	client.On("SubscribeRoom", mock.Anything, roomID).Return(feed, nil).Once()

	entered := make(chan struct{})
	release := make(chan struct{})
	client.On("Paginate", mock.Anything, roomID, "").
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(&bridge.Page{Events: []entity.Event{textEvent("$1", 1, alice, "late")}}, nil).
		Once()

	svc := newService(t, client, testConfig())
	obs, appErr := svc.Observe(context.Background(), roomID)
	require.Nil(t, appErr)

	done := make(chan *PaginationResult, 1)
	go func() {
		res, _ := svc.Paginate(context.Background(), roomID)
		done <- res
	}()
	<-entered
	obs.Close()
	close(release)

	res := <-done
	require.NotNil(t, res)
	assert.True(t, res.Discarded)
	assert.Empty(t, svc.TimelineRepo.Get(roomID))
}

func TestTimeline_FoldsDeletionsEditsRepliesAndArtifacts(t *testing.T) {
	svc := newService(t, &mocks.Client{User: bob}, testConfig())
	svc.RoomRepo.Upsert(groupRoom(event.MembershipJoin, 0))

	reply := textEvent("$5", 5, bob, "answer")
	reply.RepliedEventID = "$2"
	dangling := textEvent("$6", 6, bob, "what?")
	dangling.RepliedEventID = "$gone"

	svc.Ingest(roomID, []entity.Event{
		textEvent("$1", 1, alice, "first"),
		textEvent("$2", 2, alice, "second"),
		{ID: "$3", RoomID: roomID, Sender: alice, Seq: 3, Timestamp: base.Add(3 * time.Second), Content: entity.RedactionContent{Redacts: "$1", Reason: "typo"}},
		{ID: "$4", RoomID: roomID, Sender: alice, Seq: 4, Timestamp: base.Add(4 * time.Second), Content: entity.EditContent{Replaces: "$2", NewBody: "second, fixed"}},
		reply,
		dangling,
		{ID: "$7", RoomID: roomID, Sender: alice, Seq: 7, Timestamp: base.Add(7 * time.Second), Content: entity.EditContent{Replaces: "$2", NewBody: "second, fixed again"}},
	})

	artifact := svc.Overlay.Add(roomID, svc.Overlay.NewPreview(entity.Event{
		RoomID:    roomID,
		Sender:    bob,
		Timestamp: base.Add(8 * time.Second),
		Content:   entity.TextContent{Body: "sending"},
		TxnID:     "txn-1",
	}))

	view, appErr := svc.Timeline(roomID, grouping.Asc)
	require.Nil(t, appErr)

	var ids []id.EventID
	for _, ev := range flatten(view) {
		ids = append(ids, ev.ID)
	}
	assert.Equal(t, []id.EventID{"$1", "$2", "$5", "$6", artifact.Event.ID}, ids)
	require.Len(t, view.Collections, 1)
	assert.Len(t, view.Collections[0], 2, "alice's run, then bob's messages and pending send")

	assert.True(t, view.Annotations["$1"].Redacted)
	assert.Equal(t, "typo", view.Annotations["$1"].RedactionReason)
	assert.True(t, view.Annotations["$2"].Edited)
	assert.Equal(t, "second, fixed again", view.Annotations["$2"].Body)
	assert.Equal(t, ReplyLoaded, view.Annotations["$5"].Reply)
	assert.Equal(t, ReplyPending, view.Annotations["$6"].Reply)
	assert.True(t, view.Annotations[artifact.Event.ID].Pending)

	desc, appErr := svc.Timeline(roomID, grouping.Desc)
	require.Nil(t, appErr)
	assert.Equal(t, artifact.Event.ID, flatten(desc)[0].ID)

	_, appErr = svc.Timeline(roomID, "sideways")
	assert.ErrorIs(t, appErr, app_error.ErrInvalid)
	_, appErr = svc.Timeline("!unknown:local", grouping.Asc)
	assert.ErrorIs(t, appErr, app_error.ErrNotFound)
}

func TestRankedRooms_FollowActivity(t *testing.T) {
	svc := newService(t, &mocks.Client{User: bob}, testConfig())
	for _, r := range []id.RoomID{"!a:local", "!b:local", "!c:local"} {
		svc.RoomRepo.Upsert(entity.Room{ID: r, Kind: entity.RoomKindGroup, Membership: event.MembershipJoin})
	}
	at := func(eventID id.EventID, r id.RoomID, seq int64, content entity.Content) entity.Event {
		return entity.Event{ID: eventID, RoomID: r, Sender: alice, Seq: seq, Timestamp: base.Add(time.Duration(seq) * time.Minute), Content: content}
	}

	svc.Ingest("!a:local", []entity.Event{at("$a1", "!a:local", 1, entity.TextContent{Body: "a"})})
	svc.Ingest("!b:local", []entity.Event{at("$b1", "!b:local", 2, entity.TextContent{Body: "b"})})

	order := func() []id.RoomID {
		var out []id.RoomID
		for _, r := range svc.RankedRooms() {
			out = append(out, r.ID)
		}
		return out
	}
	assert.Equal(t, []id.RoomID{"!b:local", "!a:local", "!c:local"}, order())

	// a deletion is not activity
	svc.Ingest("!a:local", []entity.Event{at("$a2", "!a:local", 3, entity.RedactionContent{Redacts: "$a1"})})
	assert.Equal(t, []id.RoomID{"!b:local", "!a:local", "!c:local"}, order())

	svc.Ingest("!a:local", []entity.Event{at("$a3", "!a:local", 4, entity.TextContent{Body: "again"})})
	assert.Equal(t, []id.RoomID{"!a:local", "!b:local", "!c:local"}, order())
}

func TestPermissions_ReportsEveryAction(t *testing.T) {
	svc := newService(t, &mocks.Client{User: bob}, testConfig())
	room := groupRoom(event.MembershipJoin, 0)
	room.Visibility = entity.VisibilityPublic
	room.BroadcastOnly = true
	svc.RoomRepo.Upsert(room)

	decisions, appErr := svc.Permissions(roomID)
	require.Nil(t, appErr)

	allowed := make(map[string]bool)
	for _, d := range decisions {
		allowed[string(d.Action)] = d.Allowed
	}
	assert.False(t, allowed["post_text"])
	assert.False(t, allowed["upload_media"])
	assert.True(t, allowed["delete_own"])
	assert.False(t, allowed["delete_other"])
	assert.False(t, allowed["invite"])
}

func TestFailures_ReportsExpiredArtifacts(t *testing.T) {
	server := memory.NewServer()
	conf := testConfig()
	conf.Sync.ArtifactTTL = 20 * time.Millisecond

	client := server.Connect(bob)
	defer client.Close()
	svc := newService(t, client, conf)
	require.Nil(t, svc.Start(context.Background()))

	a := svc.Overlay.Add(roomID, svc.Overlay.NewPreview(entity.Event{RoomID: roomID, Sender: bob, Content: entity.TextContent{Body: "lost"}, TxnID: "t"}))

	select {
	case failed := <-svc.Failures():
		assert.Equal(t, a.ID, failed.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("expired artifact was not reported")
	}
	assert.Zero(t, svc.Overlay.Len())
}

func TestClose_EndsFailureStream(t *testing.T) {
	server := memory.NewServer()
	client := server.Connect(bob)
	defer client.Close()
	svc := newService(t, client, testConfig())
	require.Nil(t, svc.Start(context.Background()))

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range svc.Failures() {
		}
	}()

	require.NoError(t, svc.Close())
	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("failure stream still open after Close")
	}
	assert.NoError(t, svc.Close(), "second Close is a no-op")
}

func TestMetrics_ExportsPendingArtifacts(t *testing.T) {
	registry := prometheus.NewRegistry()
	appState := &state.AppState{Ctx: context.Background(), Conf: testConfig(), Bridge: &mocks.Client{User: bob}, Registry: registry}
	svc := NewTimelineService(appState).(*TimelineService)
	defer svc.Close()

	svc.Overlay.Add(roomID, svc.Overlay.NewPreview(entity.Event{RoomID: roomID, Sender: bob, Content: entity.TextContent{Body: "soon"}, TxnID: "t1"}))
	svc.Overlay.Add(roomID, svc.Overlay.NewPreview(entity.Event{RoomID: roomID, Sender: bob, Content: entity.TextContent{Body: "later"}, TxnID: "t2"}))

	families, err := registry.Gather()
	require.NoError(t, err)
	var pending float64 = -1
	for _, f := range families {
		if f.GetName() == "roomsync_pending_artifacts" {
			pending = f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, float64(2), pending)
}

func TestForgetRoom_EvictsEverything(t *testing.T) {
	client := &mocks.Client{User: bob}
	feed := bridge.NewFeed[entity.Event](nil)
	client.On("SubscribeRoom", mock.Anything, roomID).Return(feed, nil).Once()

	svc := newService(t, client, testConfig())
	svc.RoomRepo.Upsert(groupRoom(event.MembershipJoin, 0))
	svc.Ingest(roomID, []entity.Event{textEvent("$1", 1, alice, "hi")})
	_, appErr := svc.Observe(context.Background(), roomID)
	require.Nil(t, appErr)

	svc.ForgetRoom(roomID)

	select {
	case <-feed.Done():
	case <-time.After(time.Second):
		t.Fatal("forgotten room is still subscribed")
	}
	_, appErr = svc.Room(roomID)
	assert.ErrorIs(t, appErr, app_error.ErrNotFound)
	assert.Empty(t, svc.TimelineRepo.Get(roomID))
	assert.Empty(t, svc.RankedRooms())
}
