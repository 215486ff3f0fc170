package models

import (
	"encoding/json"
	"fmt"
)

// Attachment is a closed sum over the attachment kinds the relay understands.
// Only types in this package implement it.
type Attachment interface {
	Kind() AttachmentKind
	isAttachment()
}

type AttachmentKind string

const (
	AttachmentPhoto       AttachmentKind = "PHOTO"
	AttachmentVideo       AttachmentKind = "VIDEO"
	AttachmentFile        AttachmentKind = "FILE"
	AttachmentUnsupported AttachmentKind = "UNSUPPORTED"
)

// PhotoAttachment carries a directly downloadable URL
type PhotoAttachment struct {
	BaseURL string `json:"base_url"`
}

// VideoAttachment must be resolved to a URL through the source client
type VideoAttachment struct {
	VideoID int64 `json:"video_id"`
}

// FileAttachment must be resolved to a URL through the source client
type FileAttachment struct {
	FileID int64  `json:"file_id"`
	Name   string `json:"name,omitempty"`
}

// UnsupportedAttachment is any kind the relay does not forward (stickers, audio, ...)
type UnsupportedAttachment struct {
	Type string `json:"_type"`
}

func (PhotoAttachment) Kind() AttachmentKind       { return AttachmentPhoto }
func (VideoAttachment) Kind() AttachmentKind       { return AttachmentVideo }
func (FileAttachment) Kind() AttachmentKind        { return AttachmentFile }
func (UnsupportedAttachment) Kind() AttachmentKind { return AttachmentUnsupported }

func (PhotoAttachment) isAttachment()       {}
func (VideoAttachment) isAttachment()       {}
func (FileAttachment) isAttachment()        {}
func (UnsupportedAttachment) isAttachment() {}

// Attachments decodes the "_type"-tagged wire representation
type Attachments []Attachment

type taggedAttachment struct {
	Type    string `json:"_type"`
	BaseURL string `json:"base_url,omitempty"`
	VideoID int64  `json:"video_id,omitempty"`
	FileID  int64  `json:"file_id,omitempty"`
	Name    string `json:"name,omitempty"`
}

// wireAttachment is the decoding side of taggedAttachment. Ids go through
// RawID so that gateways quoting them still decode.
type wireAttachment struct {
	Type    string `json:"_type"`
	BaseURL string `json:"base_url"`
	VideoID RawID  `json:"video_id"`
	FileID  RawID  `json:"file_id"`
	Name    string `json:"name"`
}

// UnmarshalJSON decodes element by element. An element that cannot be
// understood becomes an UnsupportedAttachment instead of failing the message.
func (a *Attachments) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode attachments: %w", err)
	}
	out := make(Attachments, 0, len(raw))
	for _, elem := range raw {
		out = append(out, decodeAttachment(elem))
	}
	*a = out
	return nil
}

func decodeAttachment(data json.RawMessage) Attachment {
	var w wireAttachment
	if err := json.Unmarshal(data, &w); err != nil {
		var tag struct {
			Type string `json:"_type"`
		}
		_ = json.Unmarshal(data, &tag)
		return UnsupportedAttachment{Type: tag.Type}
	}

	switch AttachmentKind(w.Type) {
	case AttachmentPhoto:
		return PhotoAttachment{BaseURL: w.BaseURL}
	case AttachmentVideo:
		id, err := w.VideoID.Int64()
		if err != nil {
			return UnsupportedAttachment{Type: w.Type}
		}
		return VideoAttachment{VideoID: id}
	case AttachmentFile:
		id, err := w.FileID.Int64()
		if err != nil {
			return UnsupportedAttachment{Type: w.Type}
		}
		return FileAttachment{FileID: id, Name: w.Name}
	default:
		return UnsupportedAttachment{Type: w.Type}
	}
}

func (a Attachments) MarshalJSON() ([]byte, error) {
	raw := make([]taggedAttachment, 0, len(a))
	for _, att := range a {
		switch v := att.(type) {
		case PhotoAttachment:
			raw = append(raw, taggedAttachment{Type: string(AttachmentPhoto), BaseURL: v.BaseURL})
		case VideoAttachment:
			raw = append(raw, taggedAttachment{Type: string(AttachmentVideo), VideoID: v.VideoID})
		case FileAttachment:
			raw = append(raw, taggedAttachment{Type: string(AttachmentFile), FileID: v.FileID, Name: v.Name})
		case UnsupportedAttachment:
			raw = append(raw, taggedAttachment{Type: v.Type})
		}
	}
	return json.Marshal(raw)
}
