package httpdto

import (
	"time"

	"pairchat/internal/domain"
)

type CreateDirectConversationRequest struct {
	OtherID string `json:"otherId" binding:"required"`
}

type MarkReadRequest struct {
	MessageIDs []string `json:"messageIds" binding:"required"`
}

type TypingRequest struct {
	IsTyping bool `json:"isTyping"`
}

type LastMessageResponse struct {
	Text     string    `json:"text"`
	SenderID string    `json:"senderId"`
	SentAt   time.Time `json:"sentAt"`
}

type ConversationResponse struct {
	ID            string               `json:"id"`
	Participants  []string             `json:"participants"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
	LastMessage   *LastMessageResponse `json:"lastMessage"`
	LastMessageAt *time.Time           `json:"lastMessageAt,omitempty"`
	UnreadCount   map[string]int64     `json:"unreadCount"`
	Typing        map[string]bool      `json:"typing"`
	ArchivedBy    map[string]bool      `json:"archivedBy"`
}

type ListConversationsResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
}

func FromConversation(c domain.Conversation) ConversationResponse {
	resp := ConversationResponse{
		ID:           c.ID,
		Participants: c.Participants,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		UnreadCount:  c.UnreadCount,
		Typing:       c.Typing,
		ArchivedBy:   c.ArchivedBy,
	}
	if resp.UnreadCount == nil {
		resp.UnreadCount = map[string]int64{}
	}
	if resp.Typing == nil {
		resp.Typing = map[string]bool{}
	}
	if resp.ArchivedBy == nil {
		resp.ArchivedBy = map[string]bool{}
	}
	if c.LastMessage != nil {
		resp.LastMessage = &LastMessageResponse{
			Text:     c.LastMessage.Text,
			SenderID: c.LastMessage.SenderID,
			SentAt:   c.LastMessage.SentAt,
		}
	}
	if !c.LastMessageAt.IsZero() {
		t := c.LastMessageAt
		resp.LastMessageAt = &t
	}
	return resp
}

func FromConversationSlice(items []domain.Conversation) []ConversationResponse {
	out := make([]ConversationResponse, 0, len(items))
	for _, c := range items {
		out = append(out, FromConversation(c))
	}
	return out
}
