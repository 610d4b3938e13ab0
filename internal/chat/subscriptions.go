package chat

import (
	"context"
	"errors"
	"sync"

	"pairchat/internal/domain"
	pairchat_errors "pairchat/pkg/errors"
)

// Subscription callbacks receive the complete current result set on every
// underlying change, never deltas. A subscriber that was offline for a change
// simply gets the next full snapshot; there is no replay buffer.
type (
	ConversationListHandler func([]domain.Conversation)
	ConversationHandler     func(domain.Conversation)
	MessageListHandler      func([]domain.Message)
)

// SubscribeToUserConversations pushes the user's active conversation list
// (archived excluded, lastMessageAt descending). The returned cancel func
// releases the watcher; callers must always invoke it.
func (s *Service) SubscribeToUserConversations(ctx context.Context, userID string, fn ConversationListHandler) func() {
	return s.watchLoop(ctx, conversationsCollection, func(ctx context.Context) {
		items, err := s.ListConversations(ctx, userID, false)
		if err != nil {
			s.log.Warnf("conversation-list snapshot for %s failed: %v", userID, err)
			return
		}
		fn(items)
	})
}

// SubscribeToArchivedConversations is the archived counterpart of
// SubscribeToUserConversations.
func (s *Service) SubscribeToArchivedConversations(ctx context.Context, userID string, fn ConversationListHandler) func() {
	return s.watchLoop(ctx, conversationsCollection, func(ctx context.Context) {
		items, err := s.ListConversations(ctx, userID, true)
		if err != nil {
			s.log.Warnf("archived-list snapshot for %s failed: %v", userID, err)
			return
		}
		fn(items)
	})
}

// SubscribeToConversation pushes the metadata snapshot of one conversation.
func (s *Service) SubscribeToConversation(ctx context.Context, conversationID string, fn ConversationHandler) func() {
	return s.watchLoop(ctx, conversationsCollection, func(ctx context.Context) {
		conv, err := s.GetConversation(ctx, conversationID)
		if err != nil {
			if !errors.Is(err, pairchat_errors.ErrNotFound) {
				s.log.Warnf("conversation snapshot for %s failed: %v", conversationID, err)
			}
			return
		}
		fn(conv)
	})
}

// SubscribeToMessages pushes the full ordered message log of one conversation
// on every change.
func (s *Service) SubscribeToMessages(ctx context.Context, conversationID string, fn MessageListHandler) func() {
	return s.watchLoop(ctx, messagesCollection(conversationID), func(ctx context.Context) {
		msgs, err := s.listMessages(ctx, conversationID)
		if err != nil {
			s.log.Warnf("message snapshot for %s failed: %v", conversationID, err)
			return
		}
		fn(msgs)
	})
}

// watchLoop delivers one initial snapshot and then one per change tick until
// the context ends or the cancel func runs.
func (s *Service) watchLoop(ctx context.Context, collection string, deliver func(context.Context)) func() {
	tick, stop := s.docs.Watch(collection)
	done := make(chan struct{})

	go func() {
		deliver(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case _, ok := <-tick:
				if !ok {
					return
				}
				deliver(ctx)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			close(done)
		})
	}
}
