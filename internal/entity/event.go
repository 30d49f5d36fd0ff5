package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

type ContentKind string

const (
	KindText         ContentKind = "text"
	KindImage        ContentKind = "image"
	KindVideo        ContentKind = "video"
	KindFile         ContentKind = "file"
	KindRedaction    ContentKind = "redaction"
	KindEdit         ContentKind = "edit"
	KindMembership   ContentKind = "membership"
	KindPowerLevel   ContentKind = "power_level"
	KindPreviewMedia ContentKind = "preview_media"
)

// Content is the sealed set of event payloads. Only types in this package
// implement it.
type Content interface {
	Kind() ContentKind
	isContent()
}

type Media struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
	URI      string `json:"uri,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

type TextContent struct {
	Body string `json:"body"`
}

type ImageContent struct {
	Media
	Caption string `json:"caption,omitempty"`
}

type VideoContent struct {
	Media
	Caption string `json:"caption,omitempty"`
}

type FileContent struct {
	Media
	Caption string `json:"caption,omitempty"`
}

// RedactionContent is a deletion tombstone. The target event is never
// mutated; readers fold the tombstone in.
type RedactionContent struct {
	Redacts id.EventID `json:"redacts"`
	Reason  string     `json:"reason,omitempty"`
}

// EditContent redirects the rendered body of Replaces to NewBody.
type EditContent struct {
	Replaces id.EventID `json:"replaces"`
	NewBody  string     `json:"new_body"`
}

type MembershipContent struct {
	UserID      id.UserID        `json:"user_id"`
	Membership  event.Membership `json:"membership"`
	DisplayName string           `json:"display_name,omitempty"`
}

type PowerLevelContent struct {
	UserID id.UserID `json:"user_id"`
	Level  int       `json:"level"`
}

// PreviewMediaContent only ever exists locally, as the payload of an
// optimistic artifact standing in for an upload.
type PreviewMediaContent struct {
	Media
	Caption string      `json:"caption,omitempty"`
	Target  ContentKind `json:"target"`
}

func (TextContent) Kind() ContentKind         { return KindText }
func (ImageContent) Kind() ContentKind        { return KindImage }
func (VideoContent) Kind() ContentKind        { return KindVideo }
func (FileContent) Kind() ContentKind         { return KindFile }
func (RedactionContent) Kind() ContentKind    { return KindRedaction }
func (EditContent) Kind() ContentKind         { return KindEdit }
func (MembershipContent) Kind() ContentKind   { return KindMembership }
func (PowerLevelContent) Kind() ContentKind   { return KindPowerLevel }
func (PreviewMediaContent) Kind() ContentKind { return KindPreviewMedia }

func (TextContent) isContent()         {}
func (ImageContent) isContent()        {}
func (VideoContent) isContent()        {}
func (FileContent) isContent()         {}
func (RedactionContent) isContent()    {}
func (EditContent) isContent()         {}
func (MembershipContent) isContent()   {}
func (PowerLevelContent) isContent()   {}
func (PreviewMediaContent) isContent() {}

// MessageType maps message kinds onto their Matrix msgtype. State-like kinds
// return the empty string.
func (k ContentKind) MessageType() event.MessageType {
	switch k {
	case KindText:
		return event.MsgText
	case KindImage:
		return event.MsgImage
	case KindVideo:
		return event.MsgVideo
	case KindFile:
		return event.MsgFile
	default:
		return ""
	}
}

// NewMediaContent builds the media content for a Matrix msgtype.
func NewMediaContent(msgType event.MessageType, media Media, caption string) (Content, error) {
	switch msgType {
	case event.MsgImage:
		return ImageContent{Media: media, Caption: caption}, nil
	case event.MsgVideo:
		return VideoContent{Media: media, Caption: caption}, nil
	case event.MsgFile:
		return FileContent{Media: media, Caption: caption}, nil
	default:
		return nil, fmt.Errorf("unsupported media msgtype %q", msgType)
	}
}

// MediaOf returns the media payload and caption of an upload, including a
// local preview.
func MediaOf(c Content) (Media, string, bool) {
	switch v := c.(type) {
	case ImageContent:
		return v.Media, v.Caption, true
	case VideoContent:
		return v.Media, v.Caption, true
	case FileContent:
		return v.Media, v.Caption, true
	case PreviewMediaContent:
		return v.Media, v.Caption, true
	default:
		return Media{}, "", false
	}
}

// BodyOf returns the text a user typed: the body of a text message, the
// caption of an upload, or the new body of an edit.
func BodyOf(c Content) string {
	switch v := c.(type) {
	case TextContent:
		return v.Body
	case EditContent:
		return v.NewBody
	default:
		if _, caption, ok := MediaOf(c); ok {
			return caption
		}
		return ""
	}
}

type Event struct {
	ID             id.EventID `json:"id"`
	RoomID         id.RoomID  `json:"room_id"`
	Sender         id.UserID  `json:"sender"`
	Timestamp      time.Time  `json:"timestamp"`
	Seq            int64      `json:"seq"`
	Content        Content    `json:"-"`
	RepliedEventID id.EventID `json:"replied_event_id,omitempty"`
	TxnID          string     `json:"txn_id,omitempty"`
}

func (e Event) Kind() ContentKind {
	if e.Content == nil {
		return ""
	}
	return e.Content.Kind()
}

func (e Event) IsTombstone() bool {
	_, ok := e.Content.(RedactionContent)
	return ok
}

// MatchKeys lists the keys an authoritative event can reconcile an
// optimistic artifact with: the echoed transaction id and, for uploads, the
// file name.
func (e Event) MatchKeys() []string {
	var keys []string
	if e.TxnID != "" {
		keys = append(keys, TxnKey(e.TxnID))
	}
	if media, _, ok := MediaOf(e.Content); ok && media.FileName != "" {
		keys = append(keys, FileKey(media.FileName))
	}
	return keys
}

func TxnKey(txnID string) string    { return "txn:" + txnID }
func FileKey(fileName string) string { return "file:" + fileName }

type eventAlias Event

type eventEnvelope struct {
	eventAlias
	ContentKind ContentKind     `json:"kind"`
	RawContent  json.RawMessage `json:"content"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	env := eventEnvelope{eventAlias: eventAlias(e), ContentKind: e.Kind()}
	if e.Content != nil {
		raw, err := json.Marshal(e.Content)
		if err != nil {
			return nil, err
		}
		env.RawContent = raw
	}
	return json.Marshal(env)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	content, err := DecodeContent(env.ContentKind, env.RawContent)
	if err != nil {
		return err
	}

	*e = Event(env.eventAlias)
	e.Content = content
	return nil
}

// DecodeContent decodes a content payload of the given kind. An empty kind
// decodes to nil content.
func DecodeContent(kind ContentKind, raw json.RawMessage) (Content, error) {
	switch kind {
	case "":
		return nil, nil
	case KindText:
		return decodeAs[TextContent](raw)
	case KindImage:
		return decodeAs[ImageContent](raw)
	case KindVideo:
		return decodeAs[VideoContent](raw)
	case KindFile:
		return decodeAs[FileContent](raw)
	case KindRedaction:
		return decodeAs[RedactionContent](raw)
	case KindEdit:
		return decodeAs[EditContent](raw)
	case KindMembership:
		return decodeAs[MembershipContent](raw)
	case KindPowerLevel:
		return decodeAs[PowerLevelContent](raw)
	case KindPreviewMedia:
		return decodeAs[PreviewMediaContent](raw)
	default:
		return nil, fmt.Errorf("unknown content kind %q", kind)
	}
}

func decodeAs[T Content](raw json.RawMessage) (Content, error) {
	var c T
	if len(raw) == 0 || string(raw) == "null" {
		return c, nil
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return c, nil
}
