package timeline_service

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/xenn00/room-sync/internal/entity"
	app_error "github.com/xenn00/room-sync/internal/errors"
	"github.com/xenn00/room-sync/internal/grouping"
	"github.com/xenn00/room-sync/internal/permission"
	"github.com/xenn00/room-sync/internal/ranking"
	"github.com/xenn00/room-sync/internal/reply"
	"maunium.net/go/mautrix/id"
)

func (s *TimelineService) Room(roomID id.RoomID) (entity.Room, *app_error.AppError) {
	return s.room(roomID)
}

func (s *TimelineService) Members(roomID id.RoomID) ([]entity.Member, *app_error.AppError) {
	if _, appErr := s.room(roomID); appErr != nil {
		return nil, appErr
	}
	return s.RoomRepo.Members(roomID), nil
}

// RankedRooms returns rooms by latest activity. The ranking is recomputed
// only after the room or timeline stores changed.
func (s *TimelineService) RankedRooms() []ranking.RankedRoom {
	version := s.RoomRepo.Version() + s.TimelineRepo.TotalVersion()
	return s.ranked.Get(version, func() []ranking.RankedRoom {
		return ranking.Rank(s.RoomRepo.List(), s.TimelineRepo.LatestActivity)
	})
}

// Timeline builds the renderable view of a room: stored events plus visible
// artifacts, with deletions and edits folded into annotations of their
// targets, grouped into collections and frames.
func (s *TimelineService) Timeline(roomID id.RoomID, dir grouping.Direction) (*TimelineView, *app_error.AppError) {
	switch dir {
	case "":
		dir = grouping.Asc
	case grouping.Asc, grouping.Desc:
	default:
		return nil, app_error.Invalid("dir must be asc or desc", "dir")
	}

	events := s.TimelineRepo.Get(roomID)
	if len(events) == 0 {
		if _, appErr := s.room(roomID); appErr != nil {
			return nil, appErr
		}
	}

	known := make(map[id.EventID]struct{}, len(events))
	for _, ev := range events {
		known[ev.ID] = struct{}{}
	}

	annotations := make(map[id.EventID]Annotations)
	annotate := func(eventID id.EventID, fn func(a *Annotations)) {
		a := annotations[eventID]
		fn(&a)
		annotations[eventID] = a
	}

	rendered := make([]entity.Event, 0, len(events))
	for _, ev := range events {
		switch c := ev.Content.(type) {
		case entity.RedactionContent:
			annotate(c.Redacts, func(a *Annotations) {
				a.Redacted = true
				a.RedactionReason = c.Reason
			})
			continue
		case entity.EditContent:
			// events come in Seq order, so the last edit wins
			annotate(c.Replaces, func(a *Annotations) {
				a.Edited = true
				a.Body = c.NewBody
			})
			continue
		}

		if ev.RepliedEventID != "" {
			state := ReplyPending
			if _, ok := known[ev.RepliedEventID]; ok {
				state = ReplyLoaded
			}
			annotate(ev.ID, func(a *Annotations) { a.Reply = state })
		}
		rendered = append(rendered, ev)
	}

	for _, a := range s.Overlay.Visible(roomID) {
		rendered = append(rendered, a.Event)
		annotate(a.Event.ID, func(ann *Annotations) { ann.Pending = true })
	}

	_, hasMore := s.TimelineRepo.Cursor(roomID)
	return &TimelineView{
		RoomID:      roomID,
		Collections: grouping.Group(rendered, dir, s.groupingOptions()),
		Annotations: annotations,
		HasMore:     hasMore,
	}, nil
}

// Permissions reports what the current user may do in the room right now.
func (s *TimelineService) Permissions(roomID id.RoomID) ([]permission.Decision, *app_error.AppError) {
	room, appErr := s.room(roomID)
	if appErr != nil {
		return nil, appErr
	}
	return s.Gate.Snapshot(room, permission.ActorInRoom(s.UserID(), room)), nil
}

// ResolveReply loads the event that eventID replies to.
func (s *TimelineService) ResolveReply(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*reply.Reply, *app_error.AppError) {
	source, appErr := s.lookupEvent(ctx, roomID, eventID)
	if appErr != nil {
		return nil, appErr
	}
	if source.RepliedEventID == "" {
		return nil, app_error.Invalid("event is not a reply", "event_id")
	}

	res, err := s.Replies.Resolve(ctx, roomID, source.RepliedEventID)
	if err != nil {
		return nil, app_error.From(err)
	}
	return res, nil
}

// ForgetRoom evicts everything known about a room locally. A live
// subscription is torn down regardless of how many observers hold it.
func (s *TimelineService) ForgetRoom(roomID id.RoomID) {
	s.observeMu.Lock()
	obs, ok := s.observers[roomID]
	delete(s.observers, roomID)
	s.observeMu.Unlock()
	if ok {
		s.teardown(roomID, obs)
	}

	s.TimelineRepo.Drop(roomID)
	s.Overlay.DropRoom(roomID)
	s.RoomRepo.Remove(roomID)
	s.Replies.Forget(roomID)
	log.Info().Str("roomID", string(roomID)).Msg("room forgotten")
}
