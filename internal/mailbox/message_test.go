package mailbox

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestContentMarshalPlainString(t *testing.T) {
	data, err := json.Marshal(Text("hello"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"hello"` {
		t.Errorf("expected plain string form, got %s", data)
	}
}

func TestContentMarshalSegments(t *testing.T) {
	c := Content{Segments: []Segment{
		TextSegment("look at this"),
		ImageSegment("https://example.com/a.png"),
	}}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var segments []Segment
	if err := json.Unmarshal(data, &segments); err != nil {
		t.Fatalf("expected segment array, got %s: %v", data, err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[1].Type != "image_url" || segments[1].ImageURL == nil {
		t.Errorf("image segment lost: %+v", segments[1])
	}
}

func TestContentUnmarshalString(t *testing.T) {
	var c Content
	if err := json.Unmarshal([]byte(`"hi there"`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(c.Segments) != 1 || c.Segments[0].Type != "text" || c.Segments[0].Text != "hi there" {
		t.Errorf("expected single text segment, got %+v", c.Segments)
	}
}

func TestContentUnmarshalSegmentArray(t *testing.T) {
	raw := `[{"type":"text","text":"caption"},{"type":"image_url","image_url":{"url":"https://x/y.png"}}]`
	var c Content
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(c.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(c.Segments))
	}
	if c.Segments[1].ImageURL.URL != "https://x/y.png" {
		t.Errorf("image url = %q", c.Segments[1].ImageURL.URL)
	}
}

func TestContentUnmarshalRejectsUnknownSegment(t *testing.T) {
	var c Content
	if err := json.Unmarshal([]byte(`[{"type":"video","text":"x"}]`), &c); err == nil {
		t.Error("expected error for unknown segment type")
	}
}

func TestNewRejectsEmptyContent(t *testing.T) {
	if _, err := New("s1", Content{}, KindMessage, RoleAssistant, nil); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("expected ErrEmptyContent, got %v", err)
	}
	if _, err := New("s1", Text(""), KindMessage, RoleAssistant, nil); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("expected ErrEmptyContent for blank text, got %v", err)
	}
}

func TestNewDefaults(t *testing.T) {
	msg, err := New("s1", Text("x"), "", "", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if msg.Kind != KindMessage {
		t.Errorf("kind = %q, want %q", msg.Kind, KindMessage)
	}
	if msg.Role != RoleAssistant {
		t.Errorf("role = %q, want %q", msg.Role, RoleAssistant)
	}
	if msg.ID == "" {
		t.Error("expected generated id")
	}
	if msg.Timestamp == 0 {
		t.Error("expected timestamp")
	}
}

func TestNewIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		msg, err := New("s1", Text("a"), KindMessage, RoleAssistant, nil)
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		if seen[msg.ID] {
			t.Fatalf("duplicate id %s", msg.ID)
		}
		seen[msg.ID] = true
	}
}
