package overlay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xenn00/room-sync/internal/entity"
	"maunium.net/go/mautrix/id"
)

const (
	roomA id.RoomID = "!a:local"
	roomB id.RoomID = "!b:local"
)

func upload(roomID id.RoomID, file string) entity.Event {
	return entity.Event{
		RoomID:  roomID,
		Sender:  "@me:local",
		Content: entity.PreviewMediaContent{Media: entity.Media{FileName: file}, Target: entity.KindImage},
	}
}

func echo(roomID id.RoomID, eventID id.EventID, file string) entity.Event {
	return entity.Event{
		ID:      eventID,
		RoomID:  roomID,
		Sender:  "@me:local",
		Content: entity.ImageContent{Media: entity.Media{FileName: file}},
	}
}

func TestOverlay_ReconcileMatchesOnce(t *testing.T) {
	o := New(time.Minute)
	a := o.Add(roomA, o.NewPreview(upload(roomA, "cat.png")))
	assert.Equal(t, "file:cat.png", a.Key)
	require.Len(t, o.Visible(roomA), 1)

	matched := o.Reconcile(roomA, []entity.Event{echo(roomA, "$1", "cat.png")})
	require.Len(t, matched, 1)
	assert.Equal(t, a.ID, matched[0].ID)
	assert.False(t, matched[0].Visible)
	assert.Empty(t, o.Visible(roomA), "matched artifact must be hidden")

	again := o.Reconcile(roomA, []entity.Event{echo(roomA, "$1", "cat.png")})
	assert.Empty(t, again, "an artifact is matched at most once")
}

func TestOverlay_UnrelatedEventsDoNotMatch(t *testing.T) {
	o := New(time.Minute)
	o.Add(roomA, o.NewPreview(upload(roomA, "cat.png")))

	assert.Empty(t, o.Reconcile(roomA, []entity.Event{echo(roomA, "$1", "dog.png")}))
	assert.Empty(t, o.Reconcile(roomB, []entity.Event{echo(roomB, "$2", "cat.png")}), "other rooms never match")
	assert.Len(t, o.Visible(roomA), 1)
}

func TestOverlay_SameFileNameMatchesOldestFirst(t *testing.T) {
	o := New(time.Minute)
	first := o.NewPreview(upload(roomA, "scan.pdf"))
	first.CreatedAt = time.Unix(100, 0)
	second := o.NewPreview(upload(roomA, "scan.pdf"))
	second.CreatedAt = time.Unix(200, 0)
	o.Add(roomA, first)
	o.Add(roomA, second)

	matched := o.Reconcile(roomA, []entity.Event{echo(roomA, "$1", "scan.pdf")})
	require.Len(t, matched, 1)
	assert.Equal(t, first.ID, matched[0].ID)

	visible := o.Visible(roomA)
	require.Len(t, visible, 1)
	assert.Equal(t, second.ID, visible[0].ID)
}

func TestOverlay_TextMatchesOnTransaction(t *testing.T) {
	o := New(time.Minute)
	pending := o.NewPreview(entity.Event{RoomID: roomA, Content: entity.TextContent{Body: "hi"}, TxnID: "t1"})
	o.Add(roomA, pending)

	server := entity.Event{ID: "$9", RoomID: roomA, Content: entity.TextContent{Body: "hi"}, TxnID: "t1"}
	assert.Len(t, o.Reconcile(roomA, []entity.Event{server}), 1)
}

func TestOverlay_ExpireReturnsUnmatched(t *testing.T) {
	o := New(time.Minute)
	old := o.NewPreview(upload(roomA, "old.png"))
	old.CreatedAt = time.Unix(0, 0)
	o.Add(roomA, old)

	done := o.Add(roomA, o.NewPreview(upload(roomA, "done.png")))
	o.Reconcile(roomA, []entity.Event{echo(roomA, "$1", "done.png")})

	expired := o.Expire(time.Unix(0, 0).Add(2 * time.Minute))
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)
	assert.Equal(t, 0, o.Len(), "matched artifacts are pruned on the same sweep")
	_, ok := o.Retire(done.ID)
	assert.False(t, ok)
}

func TestOverlay_RetireAndDropRoom(t *testing.T) {
	o := New(time.Minute)
	a := o.Add(roomA, o.NewPreview(upload(roomA, "x.png")))
	o.Add(roomB, o.NewPreview(upload(roomB, "y.png")))

	retired, ok := o.Retire(a.ID)
	require.True(t, ok)
	assert.Equal(t, a.ID, retired.ID)
	assert.Empty(t, o.Visible(roomA))

	o.DropRoom(roomB)
	assert.Equal(t, 0, o.Len())
}

func TestOverlay_RunNotifiesExpiry(t *testing.T) {
	o := New(time.Millisecond)
	o.Add(roomA, o.NewPreview(upload(roomA, "slow.png")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan entity.Artifact, 1)
	go o.Run(ctx, 5*time.Millisecond, func(a entity.Artifact) { got <- a })

	select {
	case a := <-got:
		assert.Equal(t, "file:slow.png", a.Key)
	case <-time.After(2 * time.Second):
		t.Fatal("expired artifact was never reported")
	}
}
