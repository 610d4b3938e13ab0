package domain

import (
	"time"
)

// LastMessage is the denormalized snapshot of the most recent message, kept on
// the conversation so list views render without reading the message log.
type LastMessage struct {
	Text     string    `json:"text"`
	SenderID string    `json:"senderId"`
	SentAt   time.Time `json:"sentAt"`
}

type Conversation struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`

	LastMessage   *LastMessage `json:"lastMessage,omitempty"`
	LastMessageAt time.Time    `json:"lastMessageAt,omitempty"`

	// Per-participant sub-paths. Each key is only ever written through
	// field-level atomic store operations, never by rewriting the whole map.
	UnreadCount map[string]int64 `json:"unreadCount"`
	Typing      map[string]bool  `json:"typing,omitempty"`
	ArchivedBy  map[string]bool  `json:"archivedBy,omitempty"`
}

// NewConversation builds the record for a participant pair with both unread
// counters initialized to zero.
func NewConversation(a, b string, now time.Time) Conversation {
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	return Conversation{
		ID:           DeriveConversationID(a, b),
		Participants: []string{first, second},
		CreatedAt:    now,
		UpdatedAt:    now,
		UnreadCount:  map[string]int64{first: 0, second: 0},
		Typing:       map[string]bool{},
		ArchivedBy:   map[string]bool{},
	}
}

// HasParticipant reports whether userID is one of the two participants.
func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the peer of userID, or "" if userID is not a
// participant.
func (c Conversation) OtherParticipant(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// ArchivedFor reports whether userID has archived this conversation.
func (c Conversation) ArchivedFor(userID string) bool {
	return c.ArchivedBy[userID]
}
