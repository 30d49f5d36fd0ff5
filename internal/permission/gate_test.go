package permission

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xenn00/room-sync/internal/entity"
	app_error "github.com/xenn00/room-sync/internal/errors"
	"maunium.net/go/mautrix/event"
)

const me = "@me:local"

func room(vis entity.Visibility, broadcast bool) entity.Room {
	return entity.Room{ID: "!r:local", Kind: entity.RoomKindGroup, Visibility: vis, BroadcastOnly: broadcast, Membership: event.MembershipJoin}
}

func actor(level int) Actor {
	return Actor{UserID: me, Membership: event.MembershipJoin, PowerLevel: level}
}

func TestGate_Tier(t *testing.T) {
	g := NewGate(DefaultThresholds())
	assert.Equal(t, TierDefault, g.Tier(0))
	assert.Equal(t, TierDefault, g.Tier(49))
	assert.Equal(t, TierModerator, g.Tier(50))
	assert.Equal(t, TierModerator, g.Tier(99))
	assert.Equal(t, TierAdmin, g.Tier(100))
}

func TestGate_MediaAndBroadcastMatrix(t *testing.T) {
	g := NewGate(DefaultThresholds())

	cases := []struct {
		vis       entity.Visibility
		broadcast bool
		level     int
		upload    bool
		text      bool
	}{
		{entity.VisibilityPrivate, false, 0, true, true},
		{entity.VisibilityPrivate, false, 50, true, true},
		{entity.VisibilityPrivate, false, 100, true, true},
		{entity.VisibilityPrivate, true, 0, true, false},
		{entity.VisibilityPrivate, true, 50, true, true},
		{entity.VisibilityPrivate, true, 100, true, true},
		{entity.VisibilityPublic, false, 0, false, true},
		{entity.VisibilityPublic, false, 50, true, true},
		{entity.VisibilityPublic, false, 100, true, true},
		{entity.VisibilityPublic, true, 0, false, false},
		{entity.VisibilityPublic, true, 50, true, true},
		{entity.VisibilityPublic, true, 100, true, true},
	}

	for _, tc := range cases {
		name := fmt.Sprintf("%s/broadcast=%v/level=%d", tc.vis, tc.broadcast, tc.level)
		t.Run(name, func(t *testing.T) {
			r := room(tc.vis, tc.broadcast)
			a := actor(tc.level)
			assert.Equal(t, tc.upload, g.CanPerform(r, a, UploadMedia, nil), "upload media")
			assert.Equal(t, tc.text, g.CanPerform(r, a, PostText, nil), "post text")

			captioned := ActionsForContent(entity.ImageContent{Caption: "hi"})
			err := g.CheckAll(r, a, captioned, nil)
			assert.Equal(t, tc.upload && tc.text, err == nil, "media with caption needs both rules")
		})
	}
}

func TestGate_Delete(t *testing.T) {
	g := NewGate(DefaultThresholds())
	r := room(entity.VisibilityPrivate, false)

	own := &Target{Sender: me}
	other := &Target{Sender: "@other:local"}

	assert.True(t, g.CanPerform(r, actor(0), DeleteOwn, own))
	assert.False(t, g.CanPerform(r, actor(0), DeleteOwn, other), "delete own must not cover someone else's event")
	assert.False(t, g.CanPerform(r, actor(0), DeleteOther, other))
	assert.True(t, g.CanPerform(r, actor(50), DeleteOther, other))

	left := Actor{UserID: me, Membership: event.MembershipLeave, PowerLevel: 100}
	assert.False(t, g.CanPerform(r, left, DeleteOwn, own), "membership join is required")

	assert.Equal(t, DeleteOwn, DeleteAction(me, me))
	assert.Equal(t, DeleteOther, DeleteAction(me, "@other:local"))
}

func TestGate_SetPowerLevel(t *testing.T) {
	g := NewGate(DefaultThresholds())
	r := room(entity.VisibilityPrivate, false)

	member := &entity.Member{UserID: "@bob:local", PowerLevel: 0}
	assert.True(t, g.CanPerform(r, actor(100), SetPowerLevel, &Target{Member: member, NewLevel: 50}))
	assert.False(t, g.CanPerform(r, actor(50), SetPowerLevel, &Target{Member: member, NewLevel: 100}), "cannot grant above own level")
	assert.False(t, g.CanPerform(r, actor(0), SetPowerLevel, &Target{Member: member, NewLevel: 0}))

	peer := &entity.Member{UserID: "@peer:local", PowerLevel: 100}
	assert.False(t, g.CanPerform(r, actor(100), SetPowerLevel, &Target{Member: peer, NewLevel: 0}), "cannot demote an equal")

	self := &entity.Member{UserID: me, PowerLevel: 100}
	assert.True(t, g.CanPerform(r, actor(100), SetPowerLevel, &Target{Member: self, NewLevel: 50}), "self demotion is allowed")
}

func TestGate_InviteAndJoin(t *testing.T) {
	g := NewGate(DefaultThresholds())

	direct := entity.Room{ID: "!dm:local", Kind: entity.RoomKindDirect, Visibility: entity.VisibilityPrivate, Membership: event.MembershipJoin}
	assert.False(t, g.CanPerform(direct, actor(100), Invite, nil))
	assert.True(t, g.CanPerform(room(entity.VisibilityPrivate, false), actor(0), Invite, nil))
	assert.False(t, g.CanPerform(room(entity.VisibilityPublic, false), actor(0), Invite, nil))

	invited := Actor{UserID: me, Membership: event.MembershipInvite}
	assert.True(t, g.CanPerform(room(entity.VisibilityPrivate, false), invited, Join, nil))

	stranger := Actor{UserID: me, Membership: event.MembershipLeave}
	assert.False(t, g.CanPerform(room(entity.VisibilityPrivate, false), stranger, Join, nil))
	assert.True(t, g.CanPerform(room(entity.VisibilityPublic, false), stranger, Join, nil))

	banned := Actor{UserID: me, Membership: event.MembershipBan}
	assert.False(t, g.CanPerform(room(entity.VisibilityPublic, false), banned, Join, nil))
}

func TestGate_CheckReturnsLocalDeny(t *testing.T) {
	g := NewGate(DefaultThresholds())
	err := g.Check(room(entity.VisibilityPublic, true), actor(0), PostText, nil)

	assert.True(t, errors.Is(err, app_error.ErrNotAuthorized))
	assert.Contains(t, err.Error(), "broadcast-only")
}

func TestGate_Snapshot(t *testing.T) {
	g := NewGate(DefaultThresholds())
	decisions := g.Snapshot(room(entity.VisibilityPublic, false), actor(0))

	got := map[Action]bool{}
	for _, d := range decisions {
		got[d.Action] = d.Allowed
	}
	assert.Len(t, decisions, len(AllActions))
	assert.True(t, got[PostText])
	assert.False(t, got[UploadMedia])
	assert.False(t, got[DeleteOther])
	assert.True(t, got[DeleteOwn])
}
