package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pairchat/internal/domain"
)

// waitFor drains snapshots from ch until one satisfies pred or the deadline
// passes. Change ticks may be coalesced, so tests match on snapshot content
// rather than counting deliveries.
func waitFor[T any](t *testing.T, ch <-chan T, pred func(T) bool) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if pred(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching snapshot")
		}
	}
}

func TestSubscribeToMessagesPushesFullOrderedLog(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	snapshots := make(chan []domain.Message, 16)
	cancel := svc.SubscribeToMessages(ctx, conv.ID, func(msgs []domain.Message) {
		snapshots <- msgs
	})
	defer cancel()

	initial := waitFor(t, snapshots, func(m []domain.Message) bool { return true })
	require.Empty(t, initial)

	first, err := svc.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "u1", Text: "one"})
	require.NoError(t, err)
	waitFor(t, snapshots, func(m []domain.Message) bool {
		return len(m) == 1 && m[0].ID == first.ID
	})

	second, err := svc.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "u2", Text: "two"})
	require.NoError(t, err)
	snap := waitFor(t, snapshots, func(m []domain.Message) bool { return len(m) == 2 })
	require.Equal(t, first.ID, snap[0].ID)
	require.Equal(t, second.ID, snap[1].ID)
}

func TestSubscribeToConversationSeesTypingAndCounters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	snapshots := make(chan domain.Conversation, 16)
	cancel := svc.SubscribeToConversation(ctx, conv.ID, func(c domain.Conversation) {
		snapshots <- c
	})
	defer cancel()

	require.NoError(t, svc.SetTyping(ctx, conv.ID, "u2", true))
	waitFor(t, snapshots, func(c domain.Conversation) bool { return c.Typing["u2"] })

	_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "u2", Text: "hi"})
	require.NoError(t, err)
	waitFor(t, snapshots, func(c domain.Conversation) bool {
		return c.UnreadCount["u1"] == 1 && c.LastMessage != nil && c.LastMessage.Text == "hi"
	})
}

func TestConversationListSubscriptionTracksArchival(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	activeU1 := make(chan []domain.Conversation, 16)
	cancelU1 := svc.SubscribeToUserConversations(ctx, "u1", func(cs []domain.Conversation) {
		activeU1 <- cs
	})
	defer cancelU1()
	activeU2 := make(chan []domain.Conversation, 16)
	cancelU2 := svc.SubscribeToUserConversations(ctx, "u2", func(cs []domain.Conversation) {
		activeU2 <- cs
	})
	defer cancelU2()

	waitFor(t, activeU1, func(cs []domain.Conversation) bool { return len(cs) == 1 })
	waitFor(t, activeU2, func(cs []domain.Conversation) bool { return len(cs) == 1 })

	// Archival is per-participant: it empties u1's active list only.
	require.NoError(t, svc.ArchiveConversation(ctx, conv.ID, "u1"))
	waitFor(t, activeU1, func(cs []domain.Conversation) bool { return len(cs) == 0 })
	snap := waitFor(t, activeU2, func(cs []domain.Conversation) bool { return len(cs) == 1 })
	require.Equal(t, conv.ID, snap[0].ID)
}

func TestArchivedListSubscription(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	archived := make(chan []domain.Conversation, 16)
	cancel := svc.SubscribeToArchivedConversations(ctx, "u1", func(cs []domain.Conversation) {
		archived <- cs
	})
	defer cancel()

	waitFor(t, archived, func(cs []domain.Conversation) bool { return len(cs) == 0 })
	require.NoError(t, svc.ArchiveConversation(ctx, conv.ID, "u1"))
	waitFor(t, archived, func(cs []domain.Conversation) bool { return len(cs) == 1 })
	require.NoError(t, svc.UnarchiveConversation(ctx, conv.ID, "u1"))
	waitFor(t, archived, func(cs []domain.Conversation) bool { return len(cs) == 0 })
}

func TestSubscriptionCancelStopsDelivery(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	snapshots := make(chan []domain.Message, 16)
	cancel := svc.SubscribeToMessages(ctx, conv.ID, func(msgs []domain.Message) {
		snapshots <- msgs
	})
	waitFor(t, snapshots, func(m []domain.Message) bool { return true })

	cancel()
	cancel() // cancel is idempotent

	// Let any delivery already in flight land, then go quiet.
	time.Sleep(50 * time.Millisecond)
	for {
		select {
		case <-snapshots:
			continue
		default:
		}
		break
	}

	_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "u1", Text: "after cancel"})
	require.NoError(t, err)

	select {
	case snap := <-snapshots:
		t.Fatalf("snapshot delivered after cancel: %d messages", len(snap))
	case <-time.After(100 * time.Millisecond):
	}
}
