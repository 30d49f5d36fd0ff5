package entity

import (
	"strings"
	"time"

	"maunium.net/go/mautrix/id"
)

// Artifact is an optimistic local stand-in for something the user sent but
// the server has not yet echoed back.
type Artifact struct {
	ID        string    `json:"id"`
	RoomID    id.RoomID `json:"room_id"`
	Key       string    `json:"key"`
	Visible   bool      `json:"visible"`
	Matched   bool      `json:"matched"`
	CreatedAt time.Time `json:"created_at"`
	Event     Event     `json:"event"`
}

const LocalIDPrefix = "~local."

// IsLocalEventID reports whether an event id was minted for an artifact and
// never seen by the server.
func IsLocalEventID(eventID id.EventID) bool {
	return strings.HasPrefix(string(eventID), LocalIDPrefix)
}
