package websocket

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"pairchat/internal/chat"
	"pairchat/internal/domain"
	"pairchat/internal/transport/httpdto"
	"pairchat/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// controlFrame is what clients send: subscription management plus the typing
// signal, which rides the socket to avoid one HTTP roundtrip per keystroke
// debounce.
type controlFrame struct {
	Action         string `json:"action"`
	Topic          string `json:"topic"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// envelope wraps every outbound snapshot with the topic that produced it.
type envelope struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

type Handler struct {
	hub     *Hub
	service *chat.Service
	log     *logger.Logger
}

func NewHandler(hub *Hub, service *chat.Service, log *logger.Logger) *Handler {
	return &Handler{hub: hub, service: service, log: log}
}

// Serve upgrades the connection and pumps control frames until the peer goes
// away. Identity comes from the X-User-Id header, like the HTTP surface.
func (h *Handler) Serve(c *gin.Context) {
	userID := c.GetHeader("X-User-Id")
	if userID == "" {
		userID = c.Query("user_id")
	}
	if userID == "" {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("missing identity", "UNAUTHORIZED"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade failed: %v", err)
		return
	}

	client := NewClient(conn, userID)
	h.hub.Register(client)
	go client.WriteLoop(c.Request.Context())

	defer h.hub.Unregister(client)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame controlFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.log.Debugf("dropping malformed frame from %s: %v", client.ID, err)
			continue
		}
		h.dispatch(c.Request.Context(), client, frame)
	}
}

func (h *Handler) dispatch(ctx context.Context, client *Client, frame controlFrame) {
	switch frame.Action {
	case "subscribe":
		h.subscribe(ctx, client, frame)
	case "unsubscribe":
		client.RemoveSubscription(topicKey(frame))
	case "typing":
		if err := h.service.SetTyping(ctx, frame.ConversationID, client.UserID, frame.IsTyping); err != nil {
			h.log.Debugf("typing rejected for %s: %v", client.UserID, err)
		}
	}
}

func (h *Handler) subscribe(ctx context.Context, client *Client, frame controlFrame) {
	key := topicKey(frame)
	switch frame.Topic {
	case "conversations":
		cancel := h.service.SubscribeToUserConversations(ctx, client.UserID, func(items []domain.Conversation) {
			client.SendMessage(h.encode(key, httpdto.FromConversationSlice(items)))
		})
		client.AddSubscription(key, cancel)
	case "archived":
		cancel := h.service.SubscribeToArchivedConversations(ctx, client.UserID, func(items []domain.Conversation) {
			client.SendMessage(h.encode(key, httpdto.FromConversationSlice(items)))
		})
		client.AddSubscription(key, cancel)
	case "conversation":
		if !h.authorize(ctx, client, frame.ConversationID) {
			return
		}
		cancel := h.service.SubscribeToConversation(ctx, frame.ConversationID, func(conv domain.Conversation) {
			client.SendMessage(h.encode(key, httpdto.FromConversation(conv)))
		})
		client.AddSubscription(key, cancel)
	case "messages":
		if !h.authorize(ctx, client, frame.ConversationID) {
			return
		}
		cancel := h.service.SubscribeToMessages(ctx, frame.ConversationID, func(msgs []domain.Message) {
			client.SendMessage(h.encode(key, httpdto.FromMessageSlice(msgs)))
		})
		client.AddSubscription(key, cancel)
	default:
		h.log.Debugf("unknown topic %q from %s", frame.Topic, client.ID)
	}
}

// authorize gates per-conversation topics on participation, mirroring the
// HTTP read endpoints.
func (h *Handler) authorize(ctx context.Context, client *Client, conversationID string) bool {
	if _, err := h.service.GetConversationFor(ctx, conversationID, client.UserID); err != nil {
		h.log.Debugf("subscription to %s rejected for %s: %v", conversationID, client.UserID, err)
		return false
	}
	return true
}

func topicKey(frame controlFrame) string {
	if frame.ConversationID == "" {
		return frame.Topic
	}
	return frame.Topic + ":" + frame.ConversationID
}

func (h *Handler) encode(topic string, data any) []byte {
	raw, err := json.Marshal(envelope{Topic: topic, Data: data})
	if err != nil {
		h.log.Errorf("encode snapshot for %s: %v", topic, err)
		return nil
	}
	return raw
}
