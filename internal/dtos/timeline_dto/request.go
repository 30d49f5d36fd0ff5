package timeline_dto

import (
	"fmt"

	"github.com/xenn00/room-sync/internal/entity"
	"maunium.net/go/mautrix/id"
)

type MediaRequest struct {
	FileName string `json:"file_name" validate:"required,max=255"`
	MimeType string `json:"mime_type" validate:"omitempty,max=127"`
	Size     int64  `json:"size" validate:"gte=0"`
	URI      string `json:"uri" validate:"omitempty,uri"`
	Width    int    `json:"width" validate:"gte=0"`
	Height   int    `json:"height" validate:"gte=0"`
}

type SendMessageRequest struct {
	Kind    string        `json:"kind" validate:"required,oneof=text image video file"`
	Body    string        `json:"body" validate:"required_if=Kind text,max=65536"`
	Caption string        `json:"caption" validate:"max=4096"`
	Media   *MediaRequest `json:"media" validate:"required_unless=Kind text"`
	ReplyTo string        `json:"reply_to" validate:"omitempty,startswith=$"`
}

// Content builds the event payload the request describes.
func (r SendMessageRequest) Content() (entity.Content, error) {
	kind := entity.ContentKind(r.Kind)
	if kind == entity.KindText {
		return entity.TextContent{Body: r.Body}, nil
	}
	if r.Media == nil {
		return nil, fmt.Errorf("%s message needs media", r.Kind)
	}
	media := entity.Media{
		FileName: r.Media.FileName,
		MimeType: r.Media.MimeType,
		Size:     r.Media.Size,
		URI:      r.Media.URI,
		Width:    r.Media.Width,
		Height:   r.Media.Height,
	}
	return entity.NewMediaContent(kind.MessageType(), media, r.Caption)
}

func (r SendMessageRequest) RepliedEventID() id.EventID {
	return id.EventID(r.ReplyTo)
}

type DeleteMessageRequest struct {
	Reason string `json:"reason" validate:"max=512"`
}

type EditMessageRequest struct {
	Body string `json:"body" validate:"required,min=1,max=65536"`
}

type SetPowerLevelRequest struct {
	UserID string `json:"user_id" validate:"required,startswith=@"`
	Level  int    `json:"level" validate:"gte=0"`
}

type InviteRequest struct {
	UserID string `json:"user_id" validate:"required,startswith=@"`
}

type IssueTokenRequest struct {
	UserID   string `json:"user_id" validate:"required,startswith=@"`
	Username string `json:"username" validate:"omitempty,max=64"`
}
