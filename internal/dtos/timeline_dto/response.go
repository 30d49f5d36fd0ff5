package timeline_dto

import (
	"time"

	"github.com/xenn00/room-sync/internal/entity"
	"github.com/xenn00/room-sync/internal/grouping"
	timeline_service "github.com/xenn00/room-sync/internal/use-case/timeline-case"
	"maunium.net/go/mautrix/id"
)

type EventResponse struct {
	Event       entity.Event                  `json:"event"`
	Annotations *timeline_service.Annotations `json:"annotations,omitempty"`
}

type FrameResponse struct {
	Start  time.Time       `json:"start"`
	End    time.Time       `json:"end"`
	Events []EventResponse `json:"events"`
}

type CollectionResponse struct {
	Frames []FrameResponse `json:"frames"`
}

type TimelineResponse struct {
	RoomID      id.RoomID            `json:"room_id"`
	HasMore     bool                 `json:"has_more"`
	Collections []CollectionResponse `json:"collections"`
}

type PaginationResponse struct {
	Added     int  `json:"added"`
	HasMore   bool `json:"has_more"`
	Coalesced bool `json:"coalesced"`
	Discarded bool `json:"discarded"`
}

type SendMessageResponse struct {
	RoomID     id.RoomID    `json:"room_id"`
	Event      entity.Event `json:"event"`
	ArtifactID string       `json:"artifact_id,omitempty"`
}

type ObserveResponse struct {
	HandleID string    `json:"handle_id"`
	RoomID   id.RoomID `json:"room_id"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewTimelineResponse(view *timeline_service.TimelineView) TimelineResponse {
	resp := TimelineResponse{
		RoomID:      view.RoomID,
		HasMore:     view.HasMore,
		Collections: make([]CollectionResponse, 0, len(view.Collections)),
	}
	for _, collection := range view.Collections {
		frames := make([]FrameResponse, 0, len(collection))
		for _, frame := range collection {
			frames = append(frames, newFrame(frame, view.Annotations))
		}
		resp.Collections = append(resp.Collections, CollectionResponse{Frames: frames})
	}
	return resp
}

func newFrame(frame grouping.TimeFrame, annotations map[id.EventID]timeline_service.Annotations) FrameResponse {
	out := FrameResponse{Events: make([]EventResponse, 0, len(frame))}
	for i, ev := range frame {
		if i == 0 || ev.Timestamp.Before(out.Start) {
			out.Start = ev.Timestamp
		}
		if ev.Timestamp.After(out.End) {
			out.End = ev.Timestamp
		}
		item := EventResponse{Event: ev}
		if a, ok := annotations[ev.ID]; ok {
			item.Annotations = &a
		}
		out.Events = append(out.Events, item)
	}
	return out
}

func NewPaginationResponse(res *timeline_service.PaginationResult) PaginationResponse {
	return PaginationResponse{
		Added:     res.Added,
		HasMore:   res.HasMore,
		Coalesced: res.Coalesced,
		Discarded: res.Discarded,
	}
}

func NewSendMessageResponse(res *timeline_service.SendResult) SendMessageResponse {
	return SendMessageResponse{
		RoomID:     res.RoomID,
		Event:      res.Event,
		ArtifactID: res.ArtifactID,
	}
}
