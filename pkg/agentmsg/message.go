// Package agentmsg defines the role-tagged message model shared by the
// conversation store, the provider adapter, and the stream parser.
package agentmsg

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Role identifies who produced a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrEmptyContent is returned by Validate when a non-assistant message has
// no text and no parts.
var ErrEmptyContent = errors.New("agentmsg: message content must not be empty")

// PartKind tags the variant held by a Part.
type PartKind string

const (
	PartText  PartKind = "text"
	PartImage PartKind = "image"
	PartAudio PartKind = "audio"
)

// Part is one element of a multimodal message body. Exactly one of the
// payload fields is meaningful, selected by Kind.
type Part struct {
	Kind PartKind `json:"kind"`

	// Text holds the payload for PartText.
	Text string `json:"text,omitempty"`

	// Image payload: either a URL or inline base64 data with a media type.
	ImageURL       string `json:"image_url,omitempty"`
	ImageBase64    string `json:"image_base64,omitempty"`
	ImageMediaType string `json:"image_media_type,omitempty"`

	// Audio payload, inline base64.
	AudioBase64    string `json:"audio_base64,omitempty"`
	AudioMediaType string `json:"audio_media_type,omitempty"`
}

// TextPart builds a text Part.
func TextPart(text string) Part { return Part{Kind: PartText, Text: text} }

// ImageURLPart builds an image Part that references a URL.
func ImageURLPart(url string) Part { return Part{Kind: PartImage, ImageURL: url} }

// ImageDataPart builds an image Part carrying inline base64 data.
func ImageDataPart(mediaType, base64Data string) Part {
	return Part{Kind: PartImage, ImageBase64: base64Data, ImageMediaType: mediaType}
}

// Message is a single turn in a conversation. Content is represented either
// as a plain string (Text) or as an ordered list of Parts; precisely one of
// the two is set. Messages are never mutated in place; every transform
// returns a new value.
type Message struct {
	Role Role `json:"role"`

	// Text holds a plain-string body. Mutually exclusive with Parts.
	Text string `json:"text,omitempty"`

	// Parts holds a multimodal body. Mutually exclusive with Text.
	Parts []Part `json:"parts,omitempty"`

	// Name optionally disambiguates multiple participants sharing a role.
	Name string `json:"name,omitempty"`
}

// NewText constructs a plain-text message for the given role.
func NewText(role Role, text string) Message {
	return Message{Role: role, Text: text}
}

// NewParts constructs a multimodal message for the given role.
func NewParts(role Role, parts ...Part) Message {
	return Message{Role: role, Parts: parts}
}

// IsEmpty reports whether the message carries no text and no parts.
func (m Message) IsEmpty() bool {
	return m.Text == "" && len(m.Parts) == 0
}

// Validate enforces the data-model invariant: content is never empty for
// any role other than assistant (an assistant may legitimately produce an
// empty turn, e.g. a tool-only response is represented elsewhere).
func (m Message) Validate() error {
	if m.Role != RoleAssistant && m.IsEmpty() {
		return fmt.Errorf("%w: role=%s", ErrEmptyContent, m.Role)
	}
	return nil
}

// Flatten returns the message body as a single string, concatenating part
// text and describing non-text parts with a bracketed placeholder. Used
// when a precise tokenizer or a display surface needs a scalar string.
func (m Message) Flatten() string {
	if len(m.Parts) == 0 {
		return m.Text
	}
	out := ""
	for _, p := range m.Parts {
		switch p.Kind {
		case PartText:
			out += p.Text
		case PartImage:
			out += "[image]"
		case PartAudio:
			out += "[audio]"
		}
	}
	return out
}

// ImageCount returns the number of image parts, used by token-estimation
// fallbacks that charge a fixed per-image token cost.
func (m Message) ImageCount() int {
	n := 0
	for _, p := range m.Parts {
		if p.Kind == PartImage {
			n++
		}
	}
	return n
}

// MarshalJSON normalizes Text-only messages to a bare "content" string and
// multimodal messages to a "content" array, matching the wire shape most
// chat-completion APIs expect.
func (m Message) MarshalJSON() ([]byte, error) {
	type wire struct {
		Role    Role   `json:"role"`
		Content any    `json:"content"`
		Name    string `json:"name,omitempty"`
	}
	w := wire{Role: m.Role, Name: m.Name}
	if len(m.Parts) > 0 {
		w.Content = m.Parts
	} else {
		w.Content = m.Text
	}
	return json.Marshal(w)
}
