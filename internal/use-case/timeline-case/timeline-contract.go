package timeline_service

import (
	"context"

	"github.com/xenn00/room-sync/internal/entity"
	app_error "github.com/xenn00/room-sync/internal/errors"
	"github.com/xenn00/room-sync/internal/grouping"
	"github.com/xenn00/room-sync/internal/permission"
	"github.com/xenn00/room-sync/internal/ranking"
	"github.com/xenn00/room-sync/internal/reply"
	"maunium.net/go/mautrix/id"
)

type TimelineServiceContract interface {
	Start(ctx context.Context) *app_error.AppError
	Close() error
	// Failures reports artifacts that expired without a server echo.
	Failures() <-chan entity.Artifact
	UserID() id.UserID

	Observe(ctx context.Context, roomID id.RoomID) (*Observation, *app_error.AppError)
	WithRoom(ctx context.Context, roomID id.RoomID, fn func(obs *Observation) error) error
	Ingest(roomID id.RoomID, events []entity.Event) []entity.Event
	Paginate(ctx context.Context, roomID id.RoomID) (*PaginationResult, *app_error.AppError)

	SendMessage(ctx context.Context, roomID id.RoomID, content entity.Content, repliedEventID id.EventID) (*SendResult, *app_error.AppError)
	SendDirectMessage(ctx context.Context, userID id.UserID, content entity.Content, repliedEventID id.EventID) (*SendResult, *app_error.AppError)
	DeleteMessage(ctx context.Context, roomID id.RoomID, eventID id.EventID, reason string) *app_error.AppError
	EditMessage(ctx context.Context, roomID id.RoomID, eventID id.EventID, body string) (*SendResult, *app_error.AppError)
	SetPowerLevel(ctx context.Context, roomID id.RoomID, userID id.UserID, level int) *app_error.AppError
	InviteUser(ctx context.Context, roomID id.RoomID, userID id.UserID) *app_error.AppError
	JoinRoom(ctx context.Context, roomID id.RoomID) *app_error.AppError

	// RefreshPermissions and VerifyPowerLevel also serve the job worker.
	RefreshPermissions(ctx context.Context, roomID id.RoomID) error
	VerifyPowerLevel(ctx context.Context, roomID id.RoomID, userID id.UserID, level int) error

	Room(roomID id.RoomID) (entity.Room, *app_error.AppError)
	Members(roomID id.RoomID) ([]entity.Member, *app_error.AppError)
	RankedRooms() []ranking.RankedRoom
	Timeline(roomID id.RoomID, dir grouping.Direction) (*TimelineView, *app_error.AppError)
	Permissions(roomID id.RoomID) ([]permission.Decision, *app_error.AppError)
	ResolveReply(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*reply.Reply, *app_error.AppError)
	ForgetRoom(roomID id.RoomID)
}

type PaginationResult struct {
	Added     int  `json:"added"`
	HasMore   bool `json:"has_more"`
	Coalesced bool `json:"coalesced"`
	// Discarded is set when the room was torn down while the page was in
	// flight; nothing was merged.
	Discarded bool `json:"discarded"`
}

type SendResult struct {
	RoomID     id.RoomID    `json:"room_id"`
	Event      entity.Event `json:"event"`
	ArtifactID string       `json:"artifact_id,omitempty"`
}

type ReplyState string

const (
	ReplyNone    ReplyState = ""
	ReplyLoaded  ReplyState = "loaded"
	ReplyPending ReplyState = "pending"
)

// Annotations is what later events say about an earlier one.
type Annotations struct {
	Redacted        bool       `json:"redacted,omitempty"`
	RedactionReason string     `json:"redaction_reason,omitempty"`
	Edited          bool       `json:"edited,omitempty"`
	Body            string     `json:"body,omitempty"`
	Reply           ReplyState `json:"reply,omitempty"`
	Pending         bool       `json:"pending,omitempty"`
}

type TimelineView struct {
	RoomID      id.RoomID                  `json:"room_id"`
	Collections []grouping.Collection      `json:"collections"`
	Annotations map[id.EventID]Annotations `json:"annotations"`
	HasMore     bool                       `json:"has_more"`
}
