package domain

import (
	"sort"
	"time"
)

// DeletedPlaceholder replaces a message's text when it is tombstoned.
const DeletedPlaceholder = "[deleted]"

type Attachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Text           string `json:"text"`
	// RequestID correlates the message to an external business object. Opaque
	// to the engine.
	RequestID   string       `json:"requestId,omitempty"`
	Attachments []Attachment `json:"attachments"`

	// Read is the legacy single-reader flag; ReadBy is authoritative. Read is
	// derived as "anyone has read this" and never consulted for logic.
	Read   bool            `json:"read"`
	ReadBy map[string]bool `json:"readBy,omitempty"`

	Deleted   bool       `json:"deleted"`
	DeletedBy string     `json:"deletedBy,omitempty"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ReadByIDs returns the reader set as a sorted slice, the shape the flat
// document schema and the HTTP layer expose.
func (m Message) ReadByIDs() []string {
	ids := make([]string, 0, len(m.ReadBy))
	for id, ok := range m.ReadBy {
		if ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// SeenBy reports whether userID has observed this message.
func (m Message) SeenBy(userID string) bool {
	return m.ReadBy[userID]
}

// Before orders messages by (createdAt, id) ascending. The id tie-break keeps
// ordering deterministic when the server clock resolution produces equal
// timestamps.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// SortMessages sorts in place by (createdAt, id) ascending.
func SortMessages(msgs []Message) {
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Before(msgs[j])
	})
}
