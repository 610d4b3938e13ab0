// Package chat is the conversation and messaging engine: per-pair
// conversations, ordered append-only message logs, per-participant unread
// counters, read receipts, typing presence, archival and soft deletion,
// all on top of an injected document store and blob store.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"pairchat/internal/domain"
	"pairchat/internal/store"
	pairchat_errors "pairchat/pkg/errors"
	"pairchat/pkg/logger"
)

const conversationsCollection = "conversations"

func messagesCollection(conversationID string) string {
	return "conversations/" + conversationID + "/messages"
}

const (
	retryAttempts  = 3
	retryBaseDelay = 50 * time.Millisecond
)

type Service struct {
	docs     store.Store
	uploader *Uploader
	log      *logger.Logger

	// now is swappable in tests to force timestamp ties.
	now func() time.Time
}

func NewService(docs store.Store, uploader *Uploader, log *logger.Logger) *Service {
	return &Service{
		docs:     docs,
		uploader: uploader,
		log:      log,
		now:      time.Now,
	}
}

// GetOrCreateConversation loads the conversation for the (selfID, otherID)
// pair, creating it if absent. Safe under concurrent invocation by both
// participants: a lost create race reads back the winner's record.
func (s *Service) GetOrCreateConversation(ctx context.Context, selfID, otherID string) (domain.Conversation, error) {
	if selfID == "" || otherID == "" {
		return domain.Conversation{}, fmt.Errorf("%w: participant ids are required", pairchat_errors.ErrInvalidInput)
	}
	if selfID == otherID {
		return domain.Conversation{}, fmt.Errorf("%w: cannot open a conversation with yourself", pairchat_errors.ErrInvalidInput)
	}

	id := domain.DeriveConversationID(selfID, otherID)
	conv, err := s.GetConversation(ctx, id)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, pairchat_errors.ErrNotFound) {
		return domain.Conversation{}, err
	}

	fresh := domain.NewConversation(selfID, otherID, s.now().UTC())
	doc, err := store.EncodeDoc(fresh)
	if err != nil {
		return domain.Conversation{}, err
	}
	err = s.docs.Create(ctx, conversationsCollection, id, doc)
	if err == nil {
		return fresh, nil
	}
	if errors.Is(err, pairchat_errors.ErrAlreadyExists) {
		return s.GetConversation(ctx, id)
	}
	return domain.Conversation{}, err
}

func (s *Service) GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error) {
	doc, err := s.docs.Get(ctx, conversationsCollection, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	var conv domain.Conversation
	if err := store.DecodeDoc(doc, &conv); err != nil {
		return domain.Conversation{}, err
	}
	conv.ID = conversationID
	return conv, nil
}

// GetConversationFor returns the conversation only to one of its
// participants. Reads go through this on caller-facing surfaces so a valid
// identity cannot walk other users' conversations by id.
func (s *Service) GetConversationFor(ctx context.Context, conversationID, userID string) (domain.Conversation, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !conv.HasParticipant(userID) {
		return domain.Conversation{}, fmt.Errorf("%w: %s is not a participant of %s", pairchat_errors.ErrForbidden, userID, conversationID)
	}
	return conv, nil
}

// ListMessagesFor is ListMessages gated on participation.
func (s *Service) ListMessagesFor(ctx context.Context, conversationID, userID string) ([]domain.Message, error) {
	if _, err := s.GetConversationFor(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.listMessages(ctx, conversationID)
}

type SendMessageInput struct {
	ConversationID string
	SenderID       string
	Text           string
	// RequestID is an opaque correlation id to an external business object.
	RequestID string
	// Attachments are already-uploaded references.
	Attachments []domain.Attachment
	// Files are raw payloads uploaded before the message is written. Any
	// upload failure aborts the whole send; no partial message is created.
	Files []File
}

// SendMessage appends a message to the conversation's log with a
// server-assigned timestamp and updates the conversation's last-message
// snapshot and unread counters.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (domain.Message, error) {
	conv, err := s.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return domain.Message{}, err
	}
	if !conv.HasParticipant(in.SenderID) {
		return domain.Message{}, fmt.Errorf("%w: sender %s is not a participant", pairchat_errors.ErrInvalidInput, in.SenderID)
	}
	if in.Text == "" && len(in.Attachments) == 0 && len(in.Files) == 0 {
		return domain.Message{}, fmt.Errorf("%w: message needs text or attachments", pairchat_errors.ErrInvalidInput)
	}

	attachments := make([]domain.Attachment, 0, len(in.Attachments)+len(in.Files))
	attachments = append(attachments, in.Attachments...)
	for _, f := range in.Files {
		att, err := s.uploader.Upload(ctx, in.SenderID, f)
		if err != nil {
			return domain.Message{}, err
		}
		attachments = append(attachments, att)
	}

	// Server clock only. Client timestamps are never trusted for ordering.
	now := s.now().UTC()
	msg := domain.Message{
		ID:             uuid.New().String(),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Text:           in.Text,
		RequestID:      in.RequestID,
		Attachments:    attachments,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	doc, err := store.EncodeDoc(msg)
	if err != nil {
		return domain.Message{}, err
	}
	if err := s.docs.Create(ctx, messagesCollection(in.ConversationID), msg.ID, doc); err != nil {
		return domain.Message{}, err
	}

	// The conversation-side updates are a liveness hint, not a delivery
	// gate: if they exhaust their retries the message stays visible and the
	// drift is logged.
	s.retryOrDrop(ctx, "conversation snapshot update", func() error {
		return s.docs.SetFields(ctx, conversationsCollection, in.ConversationID, store.Fields{
			"lastMessage":                domain.LastMessage{Text: in.Text, SenderID: in.SenderID, SentAt: now},
			"lastMessageAt":              now,
			"updatedAt":                  now,
			"unreadCount." + in.SenderID: int64(0),
		})
	})
	other := conv.OtherParticipant(in.SenderID)
	s.retryOrDrop(ctx, "unread increment", func() error {
		_, err := s.docs.IncrField(ctx, conversationsCollection, in.ConversationID, "unreadCount."+other, 1)
		return err
	})

	return msg, nil
}

// ListMessages returns the conversation's full log ordered by
// (createdAt, id) ascending.
func (s *Service) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if _, err := s.docs.Get(ctx, conversationsCollection, conversationID); err != nil {
		return nil, err
	}
	return s.listMessages(ctx, conversationID)
}

func (s *Service) listMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	docs, err := s.docs.List(ctx, messagesCollection(conversationID))
	if err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(docs))
	for _, d := range docs {
		var msg domain.Message
		if err := store.DecodeDoc(d.Data, &msg); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", d.ID, err)
		}
		msg.ID = d.ID
		msgs = append(msgs, msg)
	}
	domain.SortMessages(msgs)
	return msgs, nil
}

// MarkMessagesAsRead resets the reader's unread counter and records the
// reader on each named message. Re-reading an already-read message is a
// no-op; the readBy set only grows.
func (s *Service) MarkMessagesAsRead(ctx context.Context, conversationID, readerID string, messageIDs []string) error {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(readerID) {
		return fmt.Errorf("%w: reader %s is not a participant", pairchat_errors.ErrInvalidInput, readerID)
	}

	s.retryOrDrop(ctx, "unread reset", func() error {
		return s.docs.SetFields(ctx, conversationsCollection, conversationID, store.Fields{
			"unreadCount." + readerID: int64(0),
		})
	})

	coll := messagesCollection(conversationID)
	now := s.now().UTC()
	for _, msgID := range messageIDs {
		doc, err := s.docs.Get(ctx, coll, msgID)
		if err != nil {
			return err
		}
		var msg domain.Message
		if err := store.DecodeDoc(doc, &msg); err != nil {
			return err
		}
		if msg.SeenBy(readerID) {
			continue
		}
		if err := s.docs.SetFields(ctx, coll, msgID, store.Fields{
			"readBy." + readerID: true,
			// Legacy flag, derived from readBy. Never consulted for logic.
			"read":      true,
			"updatedAt": now,
		}); err != nil {
			return err
		}
	}
	return nil
}

// DeleteMessage tombstones a message: text and attachments are irreversibly
// replaced with placeholder values. Idempotent; a second call does not move
// deletedAt.
func (s *Service) DeleteMessage(ctx context.Context, conversationID, messageID, callerID string) (domain.Message, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return domain.Message{}, err
	}
	if !conv.HasParticipant(callerID) {
		return domain.Message{}, fmt.Errorf("%w: %s is not a participant", pairchat_errors.ErrInvalidInput, callerID)
	}

	coll := messagesCollection(conversationID)
	doc, err := s.docs.Get(ctx, coll, messageID)
	if err != nil {
		return domain.Message{}, err
	}
	var msg domain.Message
	if err := store.DecodeDoc(doc, &msg); err != nil {
		return domain.Message{}, err
	}
	msg.ID = messageID
	if msg.Deleted {
		return msg, nil
	}

	now := s.now().UTC()
	if err := s.docs.SetFields(ctx, coll, messageID, store.Fields{
		"deleted":     true,
		"deletedBy":   callerID,
		"deletedAt":   now,
		"text":        domain.DeletedPlaceholder,
		"attachments": []domain.Attachment{},
		"updatedAt":   now,
	}); err != nil {
		return domain.Message{}, err
	}

	msg.Deleted = true
	msg.DeletedBy = callerID
	msg.DeletedAt = &now
	msg.Text = domain.DeletedPlaceholder
	msg.Attachments = []domain.Attachment{}
	msg.UpdatedAt = now
	return msg, nil
}

// SetTyping flips the caller's ephemeral typing flag. Last write wins, and a
// failed write is swallowed: typing indicators are cosmetic and never worth
// failing a session over.
func (s *Service) SetTyping(ctx context.Context, conversationID, userID string, isTyping bool) error {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		s.log.Debugf("typing update skipped for %s: %v", conversationID, err)
		return nil
	}
	if !conv.HasParticipant(userID) {
		return fmt.Errorf("%w: %s is not a participant", pairchat_errors.ErrInvalidInput, userID)
	}
	s.retryOrDrop(ctx, "typing flag", func() error {
		return s.docs.SetFields(ctx, conversationsCollection, conversationID, store.Fields{
			"typing." + userID: isTyping,
		})
	})
	return nil
}

// ArchiveConversation hides the conversation from the caller's active list.
// The other participant's view and the stored history are untouched.
func (s *Service) ArchiveConversation(ctx context.Context, conversationID, userID string) error {
	return s.setArchived(ctx, conversationID, userID, true)
}

// UnarchiveConversation reverses ArchiveConversation for the caller.
func (s *Service) UnarchiveConversation(ctx context.Context, conversationID, userID string) error {
	return s.setArchived(ctx, conversationID, userID, false)
}

func (s *Service) setArchived(ctx context.Context, conversationID, userID string, archived bool) error {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return fmt.Errorf("%w: %s is not a participant", pairchat_errors.ErrInvalidInput, userID)
	}
	return s.retry(ctx, func() error {
		return s.docs.SetFields(ctx, conversationsCollection, conversationID, store.Fields{
			"archivedBy." + userID: archived,
		})
	})
}

// ListConversations returns the user's conversations, archived or active,
// ordered by lastMessageAt descending (createdAt for conversations that have
// never seen a message).
func (s *Service) ListConversations(ctx context.Context, userID string, archived bool) ([]domain.Conversation, error) {
	docs, err := s.docs.List(ctx, conversationsCollection)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Conversation, 0, len(docs))
	for _, d := range docs {
		var conv domain.Conversation
		if err := store.DecodeDoc(d.Data, &conv); err != nil {
			return nil, fmt.Errorf("decode conversation %s: %w", d.ID, err)
		}
		conv.ID = d.ID
		if !conv.HasParticipant(userID) || conv.ArchivedFor(userID) != archived {
			continue
		}
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := activityTime(out[i]), activityTime(out[j])
		if !a.Equal(b) {
			return a.After(b)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func activityTime(c domain.Conversation) time.Time {
	if !c.LastMessageAt.IsZero() {
		return c.LastMessageAt
	}
	return c.CreatedAt
}

// UploadChatAttachment uploads a standalone attachment and returns its
// durable reference for a later SendMessage call.
func (s *Service) UploadChatAttachment(ctx context.Context, uploaderID string, f File) (domain.Attachment, error) {
	return s.uploader.Upload(ctx, uploaderID, f)
}

// retry runs fn with bounded backoff while it keeps failing transiently.
func (s *Service) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !errors.Is(err, pairchat_errors.ErrServiceUnavailable) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBaseDelay << attempt):
		}
	}
	return err
}

// retryOrDrop retries like retry but on exhaustion drops the mutation with a
// log line instead of failing the user-visible action that triggered it.
func (s *Service) retryOrDrop(ctx context.Context, op string, fn func() error) {
	if err := s.retry(ctx, fn); err != nil {
		s.log.Errorf("dropped %s after %d attempts: %v", op, retryAttempts, err)
	}
}
