package permission

import (
	"fmt"

	"github.com/xenn00/room-sync/internal/entity"
	app_error "github.com/xenn00/room-sync/internal/errors"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

type Action string

const (
	DeleteOwn     Action = "delete_own"
	DeleteOther   Action = "delete_other"
	UploadMedia   Action = "upload_media"
	PostText      Action = "post_text"
	EditOwn       Action = "edit_own"
	Invite        Action = "invite"
	SetPowerLevel Action = "set_power_level"
	Join          Action = "join"
)

// AllActions is the order permission snapshots are reported in.
var AllActions = []Action{PostText, UploadMedia, EditOwn, DeleteOwn, DeleteOther, Invite, SetPowerLevel, Join}

type Tier int

const (
	TierDefault Tier = iota
	TierModerator
	TierAdmin
)

func (t Tier) String() string {
	switch t {
	case TierAdmin:
		return "admin"
	case TierModerator:
		return "moderator"
	default:
		return "default"
	}
}

type Thresholds struct {
	Moderator int
	Admin     int
}

func DefaultThresholds() Thresholds {
	return Thresholds{Moderator: 50, Admin: 100}
}

// Actor is the acting user's state in one room.
type Actor struct {
	UserID     id.UserID
	Membership event.Membership
	PowerLevel int
}

// ActorInRoom builds the actor from the current user's room snapshot.
func ActorInRoom(userID id.UserID, room entity.Room) Actor {
	return Actor{UserID: userID, Membership: room.Membership, PowerLevel: room.PowerLevel}
}

// Target describes what an action is applied to. Sender is the author of
// the event being deleted or edited; Member and NewLevel are used by
// SetPowerLevel.
type Target struct {
	Sender   id.UserID
	Member   *entity.Member
	NewLevel int
}

type Decision struct {
	Action  Action `json:"action"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Gate decides actions from a room snapshot. It holds no state besides the
// tier thresholds, so the caller must pass the latest snapshot every time.
type Gate struct {
	thresholds Thresholds
}

func NewGate(t Thresholds) Gate {
	if t.Moderator <= 0 {
		t = DefaultThresholds()
	}
	return Gate{thresholds: t}
}

func (g Gate) Thresholds() Thresholds {
	return g.thresholds
}

func (g Gate) Tier(level int) Tier {
	switch {
	case level >= g.thresholds.Admin:
		return TierAdmin
	case level >= g.thresholds.Moderator:
		return TierModerator
	default:
		return TierDefault
	}
}

func (g Gate) CanPerform(room entity.Room, actor Actor, action Action, target *Target) bool {
	return g.Decide(room, actor, action, target).Allowed
}

func (g Gate) Decide(room entity.Room, actor Actor, action Action, target *Target) Decision {
	allow := Decision{Action: action, Allowed: true}
	deny := func(reason string) Decision {
		return Decision{Action: action, Reason: reason}
	}

	if action == Join {
		switch {
		case actor.Membership == event.MembershipBan:
			return deny("banned from room")
		case actor.Membership == event.MembershipJoin, actor.Membership == event.MembershipInvite, room.IsPublic():
			return allow
		default:
			return deny("room requires an invite")
		}
	}

	if actor.Membership != event.MembershipJoin {
		return deny("not joined")
	}
	moderator := g.Tier(actor.PowerLevel) >= TierModerator

	switch action {
	case DeleteOwn:
		if target != nil && target.Sender != "" && target.Sender != actor.UserID {
			return deny("event belongs to another user")
		}
		return allow

	case DeleteOther:
		if !moderator {
			return deny("requires moderator")
		}
		return allow

	case UploadMedia:
		if room.IsPublic() && !moderator {
			return deny("media in public rooms requires moderator")
		}
		return allow

	case PostText:
		if room.BroadcastOnly && !moderator {
			return deny("broadcast-only room")
		}
		return allow

	case EditOwn:
		if target == nil || target.Sender != actor.UserID {
			return deny("only the sender can edit")
		}
		if room.BroadcastOnly && !moderator {
			return deny("broadcast-only room")
		}
		return allow

	case Invite:
		if room.IsDirect() {
			return deny("direct rooms take no invites")
		}
		if room.IsPublic() && !moderator {
			return deny("invites in public rooms require moderator")
		}
		return allow

	case SetPowerLevel:
		if !moderator {
			return deny("requires moderator")
		}
		if target == nil || target.Member == nil {
			return deny("no target member")
		}
		if target.NewLevel > actor.PowerLevel {
			return deny("cannot grant a level above your own")
		}
		if target.Member.UserID != actor.UserID && target.Member.PowerLevel >= actor.PowerLevel {
			return deny("target level is not below yours")
		}
		return allow
	}

	return deny(fmt.Sprintf("unknown action %q", action))
}

// Check returns a local not-authorized error for a denied action.
func (g Gate) Check(room entity.Room, actor Actor, action Action, target *Target) error {
	d := g.Decide(room, actor, action, target)
	if d.Allowed {
		return nil
	}
	appErr := app_error.NotAuthorized(string(action), string(room.ID))
	appErr.Message = fmt.Sprintf("%s: %s", appErr.Message, d.Reason)
	return appErr
}

// CheckAll requires every action to pass.
func (g Gate) CheckAll(room entity.Room, actor Actor, actions []Action, target *Target) error {
	for _, a := range actions {
		if err := g.Check(room, actor, a, target); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot reports every action's decision for the actor.
func (g Gate) Snapshot(room entity.Room, actor Actor) []Decision {
	out := make([]Decision, 0, len(AllActions))
	for _, a := range AllActions {
		target := &Target{Sender: actor.UserID}
		if a == SetPowerLevel {
			target.Member = &entity.Member{RoomID: room.ID, UserID: actor.UserID, PowerLevel: actor.PowerLevel}
			target.NewLevel = actor.PowerLevel
		}
		out = append(out, g.Decide(room, actor, a, target))
	}
	return out
}

// ActionsForContent lists what a send of c must be allowed to do. Media with
// a caption needs both the upload and the text rule.
func ActionsForContent(c entity.Content) []Action {
	switch c.(type) {
	case entity.TextContent:
		return []Action{PostText}
	case entity.EditContent:
		return []Action{EditOwn}
	}
	if _, caption, ok := entity.MediaOf(c); ok {
		if caption != "" {
			return []Action{UploadMedia, PostText}
		}
		return []Action{UploadMedia}
	}
	return []Action{PostText}
}

// DeleteAction picks the delete rule that applies to deleting an event
// authored by sender.
func DeleteAction(actor id.UserID, sender id.UserID) Action {
	if actor == sender {
		return DeleteOwn
	}
	return DeleteOther
}
