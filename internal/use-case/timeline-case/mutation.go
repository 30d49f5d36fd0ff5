package timeline_service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/xenn00/room-sync/internal/entity"
	app_error "github.com/xenn00/room-sync/internal/errors"
	"github.com/xenn00/room-sync/internal/permission"
	"github.com/xenn00/room-sync/internal/queue"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const (
	powerCheckTTL = 10 * time.Minute
	refreshTTL    = 10 * time.Minute
)

func (s *TimelineService) SendMessage(ctx context.Context, roomID id.RoomID, content entity.Content, repliedEventID id.EventID) (*SendResult, *app_error.AppError) {
	if appErr := validateContent(content); appErr != nil {
		return nil, appErr
	}
	room, appErr := s.room(roomID)
	if appErr != nil {
		return nil, appErr
	}
	actions := permission.ActionsForContent(content)
	if appErr := s.authorize(room, actions, nil); appErr != nil {
		return nil, appErr
	}

	txnID := uuid.NewString()
	artifact := s.addPreview(roomID, content, repliedEventID, txnID)

	start := time.Now()
	ev, err := s.Bridge.SendMessage(ctx, roomID, content, repliedEventID, txnID)
	s.latency("send_message", start)
	if err != nil {
		s.retire(artifact)
		return nil, s.remoteFailure(ctx, "send message", roomID, actions[0], err)
	}

	s.ingestOwn(roomID, ev, txnID)
	return &SendResult{RoomID: roomID, Event: *ev, ArtifactID: artifact.ID}, nil
}

// SendDirectMessage sends to the one direct room shared with userID,
// letting the bridge create it when none is known yet.
func (s *TimelineService) SendDirectMessage(ctx context.Context, userID id.UserID, content entity.Content, repliedEventID id.EventID) (*SendResult, *app_error.AppError) {
	if appErr := validateContent(content); appErr != nil {
		return nil, appErr
	}
	if userID == s.UserID() {
		return nil, app_error.Invalid("cannot open a direct room with yourself", "user_id")
	}
	if _, _, err := userID.Parse(); err != nil {
		return nil, app_error.Invalid("user_id is not a valid user id", "user_id")
	}

	txnID := uuid.NewString()
	actions := permission.ActionsForContent(content)

	var artifact *entity.Artifact
	room, known := s.RoomRepo.FindDirect(userID)
	if known {
		if appErr := s.authorize(room, actions, nil); appErr != nil {
			return nil, appErr
		}
		artifact = s.addPreview(room.ID, content, repliedEventID, txnID)
	}

	start := time.Now()
	roomID, ev, err := s.Bridge.SendDirectMessage(ctx, userID, content, repliedEventID, txnID)
	s.latency("send_direct_message", start)
	if err != nil {
		s.retire(artifact)
		return nil, s.remoteFailure(ctx, "send direct message", room.ID, actions[0], err)
	}
	if known && roomID != room.ID {
		log.Warn().Str("known", string(room.ID)).Str("bridge", string(roomID)).Msg("bridge used a different direct room")
	}

	s.ingestOwn(roomID, ev, txnID)
	res := &SendResult{RoomID: roomID, Event: *ev}
	if artifact != nil {
		res.ArtifactID = artifact.ID
	}
	return res, nil
}

// DeleteMessage redacts an event. Deleting someone else's event needs the
// moderator tier; a local deny never reaches the bridge.
func (s *TimelineService) DeleteMessage(ctx context.Context, roomID id.RoomID, eventID id.EventID, reason string) *app_error.AppError {
	if entity.IsLocalEventID(eventID) {
		return app_error.Invalid("message has not been sent yet", "event_id")
	}
	room, appErr := s.room(roomID)
	if appErr != nil {
		return appErr
	}
	target, appErr := s.lookupEvent(ctx, roomID, eventID)
	if appErr != nil {
		return appErr
	}
	if target.IsTombstone() {
		return app_error.Invalid("a deletion cannot be deleted", "event_id")
	}

	action := permission.DeleteAction(s.UserID(), target.Sender)
	if appErr := s.authorize(room, []permission.Action{action}, &permission.Target{Sender: target.Sender}); appErr != nil {
		return appErr
	}

	start := time.Now()
	err := s.Bridge.DeleteMessage(ctx, roomID, eventID, reason)
	s.latency("delete_message", start)
	if err != nil {
		return s.remoteFailure(ctx, "delete message", roomID, action, err)
	}
	return nil
}

func (s *TimelineService) EditMessage(ctx context.Context, roomID id.RoomID, eventID id.EventID, body string) (*SendResult, *app_error.AppError) {
	if strings.TrimSpace(body) == "" {
		return nil, app_error.Invalid("body is required", "body")
	}
	if entity.IsLocalEventID(eventID) {
		return nil, app_error.Invalid("message has not been sent yet", "event_id")
	}
	room, appErr := s.room(roomID)
	if appErr != nil {
		return nil, appErr
	}
	target, appErr := s.lookupEvent(ctx, roomID, eventID)
	if appErr != nil {
		return nil, appErr
	}
	switch target.Kind() {
	case entity.KindText, entity.KindImage, entity.KindVideo, entity.KindFile:
	default:
		return nil, app_error.Invalid(fmt.Sprintf("%s events cannot be edited", target.Kind()), "event_id")
	}
	if appErr := s.authorize(room, []permission.Action{permission.EditOwn}, &permission.Target{Sender: target.Sender}); appErr != nil {
		return nil, appErr
	}

	txnID := uuid.NewString()
	start := time.Now()
	ev, err := s.Bridge.EditMessage(ctx, roomID, eventID, body, txnID)
	s.latency("edit_message", start)
	if err != nil {
		return nil, s.remoteFailure(ctx, "edit message", roomID, permission.EditOwn, err)
	}

	s.ingestOwn(roomID, ev, txnID)
	return &SendResult{RoomID: roomID, Event: *ev}, nil
}

// SetPowerLevel changes a member's level and schedules a check that the
// change propagated.
func (s *TimelineService) SetPowerLevel(ctx context.Context, roomID id.RoomID, userID id.UserID, level int) *app_error.AppError {
	if level < 0 {
		return app_error.Invalid("level must not be negative", "level")
	}
	room, appErr := s.room(roomID)
	if appErr != nil {
		return appErr
	}

	member, ok := s.RoomRepo.Member(roomID, userID)
	if !ok {
		if err := s.RefreshPermissions(ctx, roomID); err != nil {
			return app_error.From(err)
		}
		if member, ok = s.RoomRepo.Member(roomID, userID); !ok {
			return app_error.NotFound("member "+string(userID), "user_id")
		}
		room, _ = s.RoomRepo.Get(roomID)
	}

	target := &permission.Target{Member: &member, NewLevel: level}
	if appErr := s.authorize(room, []permission.Action{permission.SetPowerLevel}, target); appErr != nil {
		return appErr
	}

	start := time.Now()
	err := s.Bridge.SetPowerLevel(ctx, roomID, userID, level)
	s.latency("set_power_level", start)
	if err != nil {
		return s.remoteFailure(ctx, "set power level", roomID, permission.SetPowerLevel, err)
	}

	s.schedulePowerCheck(ctx, roomID, userID, level)
	return nil
}

func (s *TimelineService) schedulePowerCheck(ctx context.Context, roomID id.RoomID, userID id.UserID, level int) {
	if s.Producer != nil {
		payload := queue.PowerLevelPayload{RoomID: roomID, UserID: userID, Level: level}
		job := queue.NewJob(queue.JobSyncPowerLevel, payload, 1, s.conf.Worker.MaxRetry, powerCheckTTL)
		err := s.Producer.Enqueue(ctx, job)
		if err == nil {
			log.Debug().Str("jobID", job.ID).Str("roomID", string(roomID)).Msg("power level check queued")
			return
		}
		log.Warn().Err(err).Str("roomID", string(roomID)).Msg("failed to queue power level check, refreshing now")
	}
	if err := s.RefreshPermissions(ctx, roomID); err != nil {
		log.Warn().Err(err).Str("roomID", string(roomID)).Msg("refresh after power level change failed")
	}
}

func (s *TimelineService) InviteUser(ctx context.Context, roomID id.RoomID, userID id.UserID) *app_error.AppError {
	if _, _, err := userID.Parse(); err != nil {
		return app_error.Invalid("user_id is not a valid user id", "user_id")
	}
	room, appErr := s.room(roomID)
	if appErr != nil {
		return appErr
	}
	if m, ok := s.RoomRepo.Member(roomID, userID); ok && m.Membership == event.MembershipJoin {
		return app_error.Invalid(fmt.Sprintf("%s is already in the room", userID), "user_id")
	}
	if appErr := s.authorize(room, []permission.Action{permission.Invite}, nil); appErr != nil {
		return appErr
	}

	start := time.Now()
	err := s.Bridge.InviteUser(ctx, roomID, userID)
	s.latency("invite_user", start)
	if err != nil {
		return s.remoteFailure(ctx, "invite user", roomID, permission.Invite, err)
	}
	return nil
}

// JoinRoom joins a room the user is invited to, or a public one. A room not
// known locally is left for the server to decide.
func (s *TimelineService) JoinRoom(ctx context.Context, roomID id.RoomID) *app_error.AppError {
	if room, ok := s.RoomRepo.Get(roomID); ok {
		if room.Membership == event.MembershipJoin {
			return nil
		}
		if appErr := s.authorize(room, []permission.Action{permission.Join}, nil); appErr != nil {
			return appErr
		}
	}

	start := time.Now()
	err := s.Bridge.JoinRoom(ctx, roomID)
	s.latency("join_room", start)
	if err != nil {
		return s.remoteFailure(ctx, "join room", roomID, permission.Join, err)
	}

	if err := s.RefreshPermissions(ctx, roomID); err != nil {
		log.Warn().Err(err).Str("roomID", string(roomID)).Msg("refresh after join failed")
		s.queueRefresh(ctx, roomID)
	}
	return nil
}

// RefreshPermissions refetches the member list and updates the current
// user's room snapshot from it. Concurrent refreshes of a room share one
// fetch.
func (s *TimelineService) RefreshPermissions(ctx context.Context, roomID id.RoomID) error {
	flightCtx := context.WithoutCancel(ctx)
	_, err, _ := s.refreshes.Do(string(roomID), func() (any, error) {
		start := time.Now()
		members, err := s.Bridge.RefetchMembers(flightCtx, roomID)
		s.latency("refetch_members", start)
		if err != nil {
			return nil, err
		}
		s.Metrics.PermissionRefreshes.Inc()
		s.RoomRepo.ReplaceMembers(roomID, members)

		self := s.UserID()
		selfMember := entity.Member{Membership: event.MembershipLeave}
		for _, m := range members {
			if m.UserID == self {
				selfMember = m
				break
			}
		}
		s.RoomRepo.UpdateSelf(roomID, func(room *entity.Room) {
			room.Membership = selfMember.Membership
			room.PowerLevel = selfMember.PowerLevel
		})
		log.Debug().Str("roomID", string(roomID)).Int("members", len(members)).Msg("permissions refreshed")
		return nil, nil
	})
	if err != nil {
		return s.classify("refresh permissions", err)
	}
	return nil
}

// VerifyPowerLevel refreshes the room and reports an error until userID
// holds level.
func (s *TimelineService) VerifyPowerLevel(ctx context.Context, roomID id.RoomID, userID id.UserID, level int) error {
	if err := s.RefreshPermissions(ctx, roomID); err != nil {
		return err
	}
	m, ok := s.RoomRepo.Member(roomID, userID)
	if !ok {
		return fmt.Errorf("%s is not a member of %s", userID, roomID)
	}
	if m.PowerLevel != level {
		return fmt.Errorf("power level of %s in %s is %d, want %d", userID, roomID, m.PowerLevel, level)
	}
	return nil
}

// authorize checks every action against the current room snapshot.
func (s *TimelineService) authorize(room entity.Room, actions []permission.Action, target *permission.Target) *app_error.AppError {
	actor := permission.ActorInRoom(s.UserID(), room)
	for _, action := range actions {
		if err := s.Gate.Check(room, actor, action, target); err != nil {
			s.Metrics.Denials.WithLabelValues("local", string(action)).Inc()
			log.Info().Str("roomID", string(room.ID)).Str("action", string(action)).Msg("denied locally")
			return app_error.From(err)
		}
	}
	return nil
}

// remoteFailure classifies a failed bridge mutation. A server deny means the
// local snapshot was stale, so the room is refreshed before returning.
func (s *TimelineService) remoteFailure(ctx context.Context, op string, roomID id.RoomID, action permission.Action, err error) *app_error.AppError {
	appErr := s.classify(op, err)
	if !errors.Is(appErr, app_error.ErrRemoteDenied) {
		log.Warn().Err(err).Str("roomID", string(roomID)).Msg(op + " failed")
		return appErr
	}

	s.Metrics.Denials.WithLabelValues("remote", string(action)).Inc()
	log.Warn().Err(err).Str("roomID", string(roomID)).Str("action", string(action)).Msg("denied by server, refreshing permissions")
	if roomID != "" {
		if rerr := s.RefreshPermissions(ctx, roomID); rerr != nil {
			log.Warn().Err(rerr).Str("roomID", string(roomID)).Msg("permission refresh failed")
			s.queueRefresh(ctx, roomID)
		}
	}
	return appErr
}

// queueRefresh hands a failed refresh to the worker pool, which retries it
// with backoff. Without Redis the snapshot stays stale until the next deny.
func (s *TimelineService) queueRefresh(ctx context.Context, roomID id.RoomID) {
	if s.Producer == nil {
		return
	}
	job := queue.NewJob(queue.JobRefreshMembers, queue.RefreshMembersPayload{RoomID: roomID}, 2, s.conf.Worker.MaxRetry, refreshTTL)
	if err := s.Producer.Enqueue(context.WithoutCancel(ctx), job); err != nil {
		log.Error().Err(err).Str("roomID", string(roomID)).Msg("failed to queue permission refresh")
		return
	}
	log.Debug().Str("jobID", job.ID).Str("roomID", string(roomID)).Msg("permission refresh queued")
}

func (s *TimelineService) lookupEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (entity.Event, *app_error.AppError) {
	if ev, ok := s.TimelineRepo.Event(roomID, eventID); ok {
		return ev, nil
	}
	start := time.Now()
	ev, err := s.Bridge.FetchEvent(ctx, roomID, eventID)
	s.latency("fetch_event", start)
	if err != nil {
		return entity.Event{}, s.classify("fetch event", err)
	}
	return *ev, nil
}

// addPreview puts a visible stand-in for the send into the overlay.
func (s *TimelineService) addPreview(roomID id.RoomID, content entity.Content, repliedEventID id.EventID, txnID string) *entity.Artifact {
	preview := content
	if media, caption, ok := entity.MediaOf(content); ok {
		preview = entity.PreviewMediaContent{Media: media, Caption: caption, Target: content.Kind()}
	}
	a := s.Overlay.Add(roomID, s.Overlay.NewPreview(entity.Event{
		RoomID:         roomID,
		Sender:         s.UserID(),
		Content:        preview,
		RepliedEventID: repliedEventID,
		TxnID:          txnID,
	}))
	s.Metrics.Artifacts.WithLabelValues("created").Inc()
	return &a
}

func (s *TimelineService) retire(a *entity.Artifact) {
	if a == nil {
		return
	}
	if _, ok := s.Overlay.Retire(a.ID); ok {
		s.Metrics.Artifacts.WithLabelValues("retired").Inc()
	}
}

// ingestOwn feeds the event the bridge returned for our own send through
// ingestion so the overlay reconciles even when the room is not observed.
func (s *TimelineService) ingestOwn(roomID id.RoomID, ev *entity.Event, txnID string) {
	if ev == nil {
		return
	}
	own := *ev
	if own.TxnID == "" {
		own.TxnID = txnID
	}
	if own.RoomID == "" {
		own.RoomID = roomID
	}
	s.Ingest(roomID, []entity.Event{own})
}

func validateContent(content entity.Content) *app_error.AppError {
	switch c := content.(type) {
	case nil:
		return app_error.Invalid("content is required", "content")
	case entity.TextContent:
		if strings.TrimSpace(c.Body) == "" {
			return app_error.Invalid("body is required", "body")
		}
		return nil
	case entity.ImageContent, entity.VideoContent, entity.FileContent:
		media, _, _ := entity.MediaOf(c)
		if media.FileName == "" {
			return app_error.Invalid("file name is required", "file_name")
		}
		return nil
	default:
		return app_error.Invalid(fmt.Sprintf("%s content cannot be sent as a message", content.Kind()), "kind")
	}
}
