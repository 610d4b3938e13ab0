package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pairchat/internal/blob"
	"pairchat/internal/domain"
	"pairchat/internal/store"
	pairchat_errors "pairchat/pkg/errors"
	"pairchat/pkg/logger"
)

func newTestService(t *testing.T) (*Service, *blob.Memory) {
	t.Helper()
	blobs := blob.NewMemory()
	svc := NewService(store.NewMemory(), NewUploader(blobs, 1<<20, logger.Nop()), logger.Nop())
	return svc, blobs
}

type failingBlob struct{}

func (failingBlob) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	return "", errors.New("blob store unavailable")
}

func TestGetOrCreateConversationIsOrderIndependent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	second, err := svc.GetOrCreateConversation(ctx, "u2", "u1")
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, []string{"u1", "u2"}, second.Participants)
	require.Equal(t, int64(0), second.UnreadCount["u1"])
	require.Equal(t, int64(0), second.UnreadCount["u2"])
	require.Nil(t, second.LastMessage)
}

func TestGetOrCreateConversationRejectsSelfAndEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.GetOrCreateConversation(ctx, "u1", "u1")
	require.ErrorIs(t, err, pairchat_errors.ErrInvalidInput)
	_, err = svc.GetOrCreateConversation(ctx, "", "u2")
	require.ErrorIs(t, err, pairchat_errors.ErrInvalidInput)
}

func TestGetOrCreateConversationConcurrent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const callers = 40
	var wg sync.WaitGroup
	ids := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			self, other := "u1", "u2"
			if n%2 == 0 {
				self, other = other, self
			}
			conv, err := svc.GetOrCreateConversation(ctx, self, other)
			require.NoError(t, err)
			ids <- conv.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	for id := range ids {
		require.Equal(t, "u1_u2", id)
	}
	convs, err := svc.ListConversations(ctx, "u1", false)
	require.NoError(t, err)
	require.Len(t, convs, 1)
}

func TestSendMessageUpdatesCountersAndSnapshot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	msg, err := svc.SendMessage(ctx, SendMessageInput{
		ConversationID: conv.ID,
		SenderID:       "u1",
		Text:           "hello",
	})
	require.NoError(t, err)
	require.Equal(t, "u1", msg.SenderID)
	require.False(t, msg.CreatedAt.IsZero())

	got, err := svc.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.UnreadCount["u1"])
	require.Equal(t, int64(1), got.UnreadCount["u2"])
	require.NotNil(t, got.LastMessage)
	require.Equal(t, "hello", got.LastMessage.Text)
	require.Equal(t, "u1", got.LastMessage.SenderID)
	require.False(t, got.LastMessageAt.IsZero())
}

func TestSendMessageResetsSenderCounter(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "u1", Text: "ping"})
		require.NoError(t, err)
	}
	// u2 replies without ever marking read. Sending clears their own badge.
	_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "u2", Text: "pong"})
	require.NoError(t, err)

	got, err := svc.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.UnreadCount["u2"])
	require.Equal(t, int64(1), got.UnreadCount["u1"])
}

func TestSendMessageValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "intruder", Text: "hi"})
	require.ErrorIs(t, err, pairchat_errors.ErrInvalidInput)

	_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "u1"})
	require.ErrorIs(t, err, pairchat_errors.ErrInvalidInput)

	_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: "nope", SenderID: "u1", Text: "hi"})
	require.ErrorIs(t, err, pairchat_errors.ErrNotFound)
}

func TestMessagesOrderedWithDeterministicTieBreak(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	// Freeze the clock so every message collides on createdAt.
	frozen := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return frozen }

	var sent []string
	for i := 0; i < 5; i++ {
		msg, err := svc.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "u1", Text: "m"})
		require.NoError(t, err)
		sent = append(sent, msg.ID)
	}

	msgs, err := svc.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i := 1; i < len(msgs); i++ {
		require.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
		require.Greater(t, msgs[i].ID, msgs[i-1].ID)
	}
}

func TestMarkMessagesAsRead(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	m1, err := svc.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "u1", Text: "one"})
	require.NoError(t, err)
	m2, err := svc.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "u1", Text: "two"})
	require.NoError(t, err)

	require.NoError(t, svc.MarkMessagesAsRead(ctx, conv.ID, "u2", []string{m1.ID, m2.ID}))

	got, err := svc.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.UnreadCount["u2"])
	require.Equal(t, int64(0), got.UnreadCount["u1"])

	msgs, err := svc.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	for _, m := range msgs {
		require.True(t, m.SeenBy("u2"))
		require.False(t, m.SeenBy("u1"))
		require.True(t, m.Read)
	}
}

func TestMarkMessagesAsReadIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	m1, err := svc.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "u1", Text: "hey"})
	require.NoError(t, err)

	require.NoError(t, svc.MarkMessagesAsRead(ctx, conv.ID, "u2", []string{m1.ID}))
	require.NoError(t, svc.MarkMessagesAsRead(ctx, conv.ID, "u2", []string{m1.ID}))

	msgs, err := svc.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"u2"}, msgs[0].ReadByIDs())
}

func TestMarkMessagesAsReadRejectsOutsider(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	err = svc.MarkMessagesAsRead(ctx, conv.ID, "intruder", nil)
	require.ErrorIs(t, err, pairchat_errors.ErrInvalidInput)
}

func TestDeleteMessageTombstoneIsOneWayAndIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	msg, err := svc.SendMessage(ctx, SendMessageInput{
		ConversationID: conv.ID,
		SenderID:       "u1",
		Text:           "secret",
		Attachments:    []domain.Attachment{{Name: "x.png", Type: "image/png", Size: 10, URL: "memory://x"}},
	})
	require.NoError(t, err)

	deleted, err := svc.DeleteMessage(ctx, conv.ID, msg.ID, "u1")
	require.NoError(t, err)
	require.True(t, deleted.Deleted)
	require.Equal(t, domain.DeletedPlaceholder, deleted.Text)
	require.Empty(t, deleted.Attachments)
	require.Equal(t, "u1", deleted.DeletedBy)
	require.NotNil(t, deleted.DeletedAt)

	again, err := svc.DeleteMessage(ctx, conv.ID, msg.ID, "u1")
	require.NoError(t, err)
	require.True(t, again.Deleted)
	require.Equal(t, deleted.DeletedAt.UTC(), again.DeletedAt.UTC())

	msgs, err := svc.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, domain.DeletedPlaceholder, msgs[0].Text)
}

func TestSendMessageUploadsFilesFirst(t *testing.T) {
	svc, blobs := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	msg, err := svc.SendMessage(ctx, SendMessageInput{
		ConversationID: conv.ID,
		SenderID:       "u1",
		Files:          []File{{Name: "report.pdf", ContentType: "application/pdf", Data: []byte("pdf-bytes")}},
	})
	require.NoError(t, err)
	require.Len(t, msg.Attachments, 1)
	require.Equal(t, "report.pdf", msg.Attachments[0].Name)
	require.Equal(t, int64(len("pdf-bytes")), msg.Attachments[0].Size)
	require.True(t, strings.HasPrefix(msg.Attachments[0].URL, "memory://chat-uploads/u1/"))
	require.Equal(t, 1, blobs.Len())
}

func TestFailedUploadCreatesNoMessage(t *testing.T) {
	svc, _ := newTestService(t)
	svc.uploader = NewUploader(failingBlob{}, 1<<20, logger.Nop())
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	prior, err := svc.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "u2", Text: "before"})
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, SendMessageInput{
		ConversationID: conv.ID,
		SenderID:       "u1",
		Text:           "with attachment",
		Files:          []File{{Name: "pic.jpg", Data: []byte("jpeg")}},
	})
	require.ErrorIs(t, err, pairchat_errors.ErrNotUploaded)

	msgs, err := svc.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, prior.ID, msgs[0].ID)

	got, err := svc.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, "before", got.LastMessage.Text)
}

func TestArchiveOnlyAffectsCaller(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	require.NoError(t, svc.ArchiveConversation(ctx, conv.ID, "u1"))

	active1, err := svc.ListConversations(ctx, "u1", false)
	require.NoError(t, err)
	require.Empty(t, active1)
	archived1, err := svc.ListConversations(ctx, "u1", true)
	require.NoError(t, err)
	require.Len(t, archived1, 1)

	active2, err := svc.ListConversations(ctx, "u2", false)
	require.NoError(t, err)
	require.Len(t, active2, 1)

	require.NoError(t, svc.UnarchiveConversation(ctx, conv.ID, "u1"))
	active1, err = svc.ListConversations(ctx, "u1", false)
	require.NoError(t, err)
	require.Len(t, active1, 1)
}

func TestSetTypingLastWriteWins(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	require.NoError(t, svc.SetTyping(ctx, conv.ID, "u1", true))
	got, err := svc.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.True(t, got.Typing["u1"])
	require.False(t, got.Typing["u2"])

	require.NoError(t, svc.SetTyping(ctx, conv.ID, "u1", false))
	got, err = svc.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.False(t, got.Typing["u1"])

	require.ErrorIs(t, svc.SetTyping(ctx, conv.ID, "intruder", true), pairchat_errors.ErrInvalidInput)
	// Typing against a missing conversation is cosmetic noise, not an error.
	require.NoError(t, svc.SetTyping(ctx, "missing", "u1", true))
}

func TestReadsGatedOnParticipation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "u1", Text: "private"})
	require.NoError(t, err)

	// A valid identity outside the pair cannot read metadata or the log.
	_, err = svc.GetConversationFor(ctx, conv.ID, "intruder")
	require.ErrorIs(t, err, pairchat_errors.ErrForbidden)
	_, err = svc.ListMessagesFor(ctx, conv.ID, "intruder")
	require.ErrorIs(t, err, pairchat_errors.ErrForbidden)

	got, err := svc.GetConversationFor(ctx, conv.ID, "u2")
	require.NoError(t, err)
	require.Equal(t, conv.ID, got.ID)
	msgs, err := svc.ListMessagesFor(ctx, conv.ID, "u2")
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	_, err = svc.GetConversationFor(ctx, "missing", "u1")
	require.ErrorIs(t, err, pairchat_errors.ErrNotFound)
}

func TestConversationListOrderedByActivity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	older, err := svc.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	newer, err := svc.GetOrCreateConversation(ctx, "u1", "u3")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: older.ID, SenderID: "u2", Text: "first"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: newer.ID, SenderID: "u3", Text: "second"})
	require.NoError(t, err)

	items, err := svc.ListConversations(ctx, "u1", false)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, newer.ID, items[0].ID)
	require.Equal(t, older.ID, items[1].ID)
}
