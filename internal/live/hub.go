// Package live pushes feed events to connected followers over websockets.
package live

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"backend-yatube/internal/posts"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const channelPattern = "feed:*:events"

type FollowerLister interface {
	FollowerIDs(ctx context.Context, authorID string) ([]string, error)
}

type Event struct {
	Type string     `json:"type"`
	Post posts.Post `json:"post"`
}

// Hub fans events out to every socket a user has open. With redis the event
// travels through pub/sub so sockets held by other instances receive it too;
// without redis delivery stays in process.
type Hub struct {
	redis     *redis.Client
	followers FollowerLister
	log       logrus.FieldLogger

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	cancel    context.CancelFunc
}

type Client struct {
	UserID string
	Send   chan []byte
}

var _ posts.Notifier = (*Hub)(nil)

func NewHub(redisClient *redis.Client, followers FollowerLister, log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	h := &Hub{
		redis:     redisClient,
		followers: followers,
		log:       log,
		clients:   map[string]map[*Client]struct{}{},
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}

	if redisClient == nil {
		h.markReady()
		close(h.done)
		return h
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.subscribeRedis(ctx)
	return h
}

// Ready is closed once the hub can receive events.
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

func (h *Hub) Register(userID string) *Client {
	client := &Client{
		UserID: userID,
		Send:   make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = map[*Client]struct{}{}
	}
	h.clients[userID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if userClients, ok := h.clients[client.UserID]; ok {
		if _, ok := userClients[client]; !ok {
			return
		}
		delete(userClients, client)
		if len(userClients) == 0 {
			delete(h.clients, client.UserID)
		}
		close(client.Send)
	}
}

// PostCreated notifies every follower of the post's author.
func (h *Hub) PostCreated(ctx context.Context, p posts.Post) {
	ids, err := h.followers.FollowerIDs(ctx, p.AuthorID)
	if err != nil {
		h.log.WithError(err).WithField("author_id", p.AuthorID).Warn("load followers failed")
		return
	}
	if len(ids) == 0 {
		return
	}

	payload, err := json.Marshal(Event{Type: "post_created", Post: p})
	if err != nil {
		h.log.WithError(err).Error("encode live event")
		return
	}
	for _, id := range ids {
		h.Deliver(ctx, id, payload)
	}
}

func (h *Hub) Deliver(ctx context.Context, userID string, payload []byte) {
	if h.redis == nil {
		h.local(userID, payload)
		return
	}
	if err := h.redis.Publish(ctx, userChannel(userID), payload).Err(); err != nil {
		h.log.WithError(err).WithField("user_id", userID).Warn("redis publish failed")
	}
}

func (h *Hub) local(userID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) subscribeRedis(ctx context.Context) {
	defer close(h.done)
	defer h.markReady()

	pubsub := h.redis.PSubscribe(ctx, channelPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() == nil {
			h.log.WithError(err).Error("redis subscribe failed")
		}
		return
	}
	h.markReady()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if userID := userIDFromChannel(msg.Channel); userID != "" {
				h.local(userID, []byte(msg.Payload))
			}
		}
	}
}

func (h *Hub) markReady() {
	h.readyOnce.Do(func() { close(h.ready) })
}

// Close stops the redis subscriber.
func (h *Hub) Close() {
	if h.cancel != nil {
		h.cancel()
	}
	<-h.done
}

func userChannel(userID string) string {
	return "feed:" + userID + ":events"
}

func userIDFromChannel(ch string) string {
	// feed:{user}:events
	const prefix = "feed:"
	const suffix = ":events"
	if len(ch) <= len(prefix)+len(suffix) || !strings.HasPrefix(ch, prefix) || !strings.HasSuffix(ch, suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
