package timeline_service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xenn00/room-sync/internal/bridge"
	app_error "github.com/xenn00/room-sync/internal/errors"
	"github.com/xenn00/room-sync/internal/permission"
	"maunium.net/go/mautrix/id"
)

// readHistory labels server denials of pagination; the gate has no rule for
// reading.
const readHistory permission.Action = "read_history"

// Paginate loads one page of history before the oldest known event.
// Concurrent calls for a room share one bridge request. A failure leaves the
// timeline untouched.
func (s *TimelineService) Paginate(ctx context.Context, roomID id.RoomID) (*PaginationResult, *app_error.AppError) {
	if _, hasMore := s.TimelineRepo.Cursor(roomID); !hasMore {
		s.Metrics.Paginations.WithLabelValues("exhausted").Inc()
		return &PaginationResult{}, nil
	}

	// callers sharing the flight must not lose it to the first caller's
	// cancellation
	flightCtx := context.WithoutCancel(ctx)
	v, err, shared := s.paginations.Do(string(roomID), func() (any, error) {
		gen := s.TimelineRepo.Generation(roomID)
		cursor, _ := s.TimelineRepo.Cursor(roomID)
		if cursor == "" {
			// live events arrived before any page did
			if oldest, ok := s.TimelineRepo.Oldest(roomID); ok {
				cursor = bridge.CursorBefore(oldest.Seq)
			}
		}

		start := time.Now()
		page, err := s.Bridge.Paginate(flightCtx, roomID, cursor)
		s.latency("paginate", start)
		if err != nil {
			return nil, err
		}

		added, applied := s.TimelineRepo.Prepend(roomID, page.Events, page.NextCursor, gen)
		if !applied {
			log.Debug().Str("roomID", string(roomID)).Msg("pagination result discarded, room was torn down")
			return &PaginationResult{Discarded: true}, nil
		}
		return &PaginationResult{Added: len(added), HasMore: page.NextCursor != nil}, nil
	})

	if err != nil {
		s.Metrics.Paginations.WithLabelValues("failed").Inc()
		return nil, s.remoteFailure(ctx, "paginate", roomID, readHistory, err)
	}

	res := *v.(*PaginationResult)
	res.Coalesced = shared
	switch {
	case res.Discarded:
		s.Metrics.Paginations.WithLabelValues("discarded").Inc()
	case shared:
		s.Metrics.Paginations.WithLabelValues("coalesced").Inc()
	default:
		s.Metrics.Paginations.WithLabelValues("issued").Inc()
	}
	return &res, nil
}
