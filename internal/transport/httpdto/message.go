package httpdto

import (
	"time"

	"pairchat/internal/domain"
)

type AttachmentDTO struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

type SendMessageRequest struct {
	Text        string          `json:"text"`
	RequestID   string          `json:"requestId"`
	Attachments []AttachmentDTO `json:"attachments"`
}

type MessageResponse struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	SenderID       string          `json:"senderId"`
	Text           string          `json:"text"`
	RequestID      string          `json:"requestId,omitempty"`
	Attachments    []AttachmentDTO `json:"attachments"`
	Read           bool            `json:"read"`
	ReadBy         []string        `json:"readBy"`
	Deleted        bool            `json:"deleted"`
	DeletedBy      string          `json:"deletedBy,omitempty"`
	DeletedAt      *time.Time      `json:"deletedAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type ListMessagesResponse struct {
	Messages []MessageResponse `json:"messages"`
}

func FromAttachment(a domain.Attachment) AttachmentDTO {
	return AttachmentDTO{Name: a.Name, Type: a.Type, Size: a.Size, URL: a.URL}
}

func ToAttachment(a AttachmentDTO) domain.Attachment {
	return domain.Attachment{Name: a.Name, Type: a.Type, Size: a.Size, URL: a.URL}
}

func FromMessage(m domain.Message) MessageResponse {
	attachments := make([]AttachmentDTO, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		attachments = append(attachments, FromAttachment(a))
	}
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		RequestID:      m.RequestID,
		Attachments:    attachments,
		Read:           m.Read,
		ReadBy:         m.ReadByIDs(),
		Deleted:        m.Deleted,
		DeletedBy:      m.DeletedBy,
		DeletedAt:      m.DeletedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func FromMessageSlice(items []domain.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(items))
	for _, m := range items {
		out = append(out, FromMessage(m))
	}
	return out
}
