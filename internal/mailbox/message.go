package mailbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

type Kind string

const (
	KindMessage Kind = "message"
	KindStatus  Kind = "status"
	KindError   Kind = "error"
)

type Role string

const (
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Segment is one piece of multimodal message content.
type Segment struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageRef `json:"image_url,omitempty"`
}

type ImageRef struct {
	URL string `json:"url"`
}

func TextSegment(text string) Segment {
	return Segment{Type: "text", Text: text}
}

func ImageSegment(url string) Segment {
	return Segment{Type: "image_url", ImageURL: &ImageRef{URL: url}}
}

// Content is an ordered list of segments. On the wire it is either a plain
// string (single text segment, the common case) or an array of segments, so
// payloads stay interchangeable with the browser client.
type Content struct {
	Segments []Segment
}

func Text(text string) Content {
	return Content{Segments: []Segment{TextSegment(text)}}
}

func (c Content) IsEmpty() bool {
	for _, s := range c.Segments {
		switch s.Type {
		case "text":
			if s.Text != "" {
				return false
			}
		case "image_url":
			if s.ImageURL != nil && s.ImageURL.URL != "" {
				return false
			}
		}
	}
	return true
}

// PlainText joins the text segments, ignoring images.
func (c Content) PlainText() string {
	out := ""
	for _, s := range c.Segments {
		if s.Type == "text" {
			out += s.Text
		}
	}
	return out
}

func (c Content) MarshalJSON() ([]byte, error) {
	if len(c.Segments) == 1 && c.Segments[0].Type == "text" {
		return json.Marshal(c.Segments[0].Text)
	}
	return json.Marshal(c.Segments)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Segments = []Segment{TextSegment(text)}
		return nil
	}
	var segments []Segment
	if err := json.Unmarshal(data, &segments); err != nil {
		return fmt.Errorf("content must be a string or a segment list: %w", err)
	}
	for _, s := range segments {
		if s.Type != "text" && s.Type != "image_url" {
			return fmt.Errorf("unknown content segment type %q", s.Type)
		}
	}
	c.Segments = segments
	return nil
}

// Message is one pending delivery owned by a session mailbox. Wire field
// names match the browser client's PushMessage shape.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	Kind      Kind           `json:"type"`
	Content   Content        `json:"content"`
	Role      Role           `json:"role,omitempty"`
	Timestamp int64          `json:"timestamp"` // unix milliseconds
	Metadata  map[string]any `json:"metadata,omitempty"`
}

var ErrEmptyContent = errors.New("message content must not be empty")

// New builds a Message with a fresh ULID and defaults applied.
func New(sessionID string, content Content, kind Kind, role Role, metadata map[string]any) (Message, error) {
	if content.IsEmpty() {
		return Message{}, ErrEmptyContent
	}
	if kind == "" {
		kind = KindMessage
	}
	if role == "" {
		role = RoleAssistant
	}
	return Message{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		Kind:      kind,
		Content:   content,
		Role:      role,
		Timestamp: time.Now().UnixMilli(),
		Metadata:  metadata,
	}, nil
}
