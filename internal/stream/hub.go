package stream

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix = "routeedit:"
	channelSuffix = ":broadcast"

	kindMessage = 'm'
	kindClose   = 'c'
)

// Hub fans drafting-session updates out to websocket subscribers. With a
// redis client it also relays them to subscribers held by other instances.
type Hub struct {
	redis   *redis.Client
	log     *zap.Logger
	origin  string
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
	cancel  context.CancelFunc
}

type Client struct {
	SessionID string
	Send      chan []byte
}

func NewHub(redisClient *redis.Client, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		redis:   redisClient,
		log:     log,
		origin:  uuid.NewString(),
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		pubsub := redisClient.PSubscribe(ctx, channelPrefix+"*"+channelSuffix)
		go h.subscribeRedis(ctx, pubsub)
	}
	return h
}

func (h *Hub) Register(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Send:      make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = map[*Client]struct{}{}
	}
	h.clients[sessionID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessionClients, ok := h.clients[client.SessionID]; ok {
		if _, registered := sessionClients[client]; !registered {
			return
		}
		delete(sessionClients, client)
		if len(sessionClients) == 0 {
			delete(h.clients, client.SessionID)
		}
		close(client.Send)
	}
}

// Subscribers reports how many local clients follow sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// Broadcast delivers payload to local subscribers and publishes it for other
// instances. Slow subscribers drop messages rather than block the caller.
func (h *Hub) Broadcast(sessionID string, payload []byte) {
	h.deliver(sessionID, payload)

	if h.redis != nil {
		h.publish(sessionID, kindMessage, payload)
	}
}

// CloseSession disconnects every subscriber of sessionID, here and on other
// instances.
func (h *Hub) CloseSession(sessionID string) {
	h.closeLocal(sessionID)
	if h.redis != nil {
		h.publish(sessionID, kindClose, nil)
	}
}

func (h *Hub) closeLocal(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients[sessionID] {
		close(client.Send)
	}
	delete(h.clients, sessionID)
}

func (h *Hub) publish(sessionID string, kind byte, payload []byte) {
	err := h.redis.Publish(context.Background(), redisChannel(sessionID), h.envelope(kind, payload)).Err()
	if err != nil {
		h.log.Warn("redis publish failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// Close stops the redis relay.
func (h *Hub) Close() {
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *Hub) deliver(sessionID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[sessionID] {
		select {
		case client.Send <- payload:
		default:
			h.log.Debug("subscriber buffer full, dropping update", zap.String("session_id", sessionID))
		}
	}
}

func (h *Hub) subscribeRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			sessionID := sessionIDFromChannel(msg.Channel)
			if sessionID == "" {
				continue
			}
			origin, kind, payload := openEnvelope([]byte(msg.Payload))
			if origin == h.origin {
				continue
			}
			if kind == kindClose {
				h.closeLocal(sessionID)
				continue
			}
			h.deliver(sessionID, payload)
		}
	}
}

// envelope is "origin\n" followed by a one-byte kind and the payload, so an
// instance can skip its own publications.
func (h *Hub) envelope(kind byte, payload []byte) []byte {
	out := make([]byte, 0, len(h.origin)+2+len(payload))
	out = append(out, h.origin...)
	out = append(out, '\n', kind)
	return append(out, payload...)
}

func openEnvelope(raw []byte) (string, byte, []byte) {
	i := bytes.IndexByte(raw, '\n')
	if i < 0 || i+1 >= len(raw) {
		return "", kindMessage, raw
	}
	return string(raw[:i]), raw[i+1], raw[i+2:]
}

func redisChannel(sessionID string) string {
	return channelPrefix + sessionID + channelSuffix
}

func sessionIDFromChannel(ch string) string {
	// routeedit:{session}:broadcast
	if len(ch) <= len(channelPrefix)+len(channelSuffix) {
		return ""
	}
	if ch[:len(channelPrefix)] != channelPrefix || ch[len(ch)-len(channelSuffix):] != channelSuffix {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
