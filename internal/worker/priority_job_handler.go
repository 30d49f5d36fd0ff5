package worker

import (
	"context"
	"fmt"

	"github.com/xenn00/room-sync/internal/queue"
	"maunium.net/go/mautrix/id"
)

// JobHandler is the engine side of the background jobs.
type JobHandler interface {
	VerifyPowerLevel(ctx context.Context, roomID id.RoomID, userID id.UserID, level int) error
	RefreshPermissions(ctx context.Context, roomID id.RoomID) error
}

func HandleJob(ctx context.Context, job queue.Job, handler JobHandler) error {
	switch job.Type {
	case queue.JobSyncPowerLevel:
		payload, err := queue.Decode[queue.PowerLevelPayload](job)
		if err != nil {
			return fmt.Errorf("invalid %s payload: %w", job.Type, err)
		}
		return handler.VerifyPowerLevel(ctx, payload.RoomID, payload.UserID, payload.Level)
	case queue.JobRefreshMembers:
		payload, err := queue.Decode[queue.RefreshMembersPayload](job)
		if err != nil {
			return fmt.Errorf("invalid %s payload: %w", job.Type, err)
		}
		return handler.RefreshPermissions(ctx, payload.RoomID)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}
