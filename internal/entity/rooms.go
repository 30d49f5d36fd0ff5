package entity

import (
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

type RoomKind string

const (
	RoomKindDirect RoomKind = "direct"
	RoomKindGroup  RoomKind = "group"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Room is the current user's view of a room. Membership and PowerLevel
// describe the current user only; other members live in Member.
type Room struct {
	ID            id.RoomID        `json:"id"`
	Name          string           `json:"name"`
	Kind          RoomKind         `json:"kind"`
	Visibility    Visibility       `json:"visibility"`
	BroadcastOnly bool             `json:"broadcast_only"`
	Membership    event.Membership `json:"membership"`
	PowerLevel    int              `json:"power_level"`
	DirectUserID  id.UserID        `json:"direct_user_id,omitempty"`
}

func (r Room) IsDirect() bool {
	return r.Kind == RoomKindDirect
}

func (r Room) IsPublic() bool {
	return r.Visibility == VisibilityPublic
}

// Member is a room-local projection of a user. The same user may hold
// different power levels in different rooms.
type Member struct {
	RoomID      id.RoomID        `json:"room_id"`
	UserID      id.UserID        `json:"user_id"`
	DisplayName string           `json:"display_name,omitempty"`
	Membership  event.Membership `json:"membership"`
	PowerLevel  int              `json:"power_level"`
}
