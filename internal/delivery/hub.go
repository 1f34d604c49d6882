package delivery

import (
	"encoding/json"
	"sync"

	"github.com/enderfga/sasha-relay/internal/mailbox"
	"github.com/google/uuid"
	sse "github.com/tmaxmax/go-sse"
)

const subscriberBuffer = 128

// Subscriber is one live stream attached to a session. Messages are
// enqueued non-blocking; a full buffer means the subscriber is stale and
// delivery falls back to the mailbox. The channel carries mailbox
// messages rather than encoded frames so the stream handler can return
// anything it never wrote to the wire back to the store.
type Subscriber struct {
	SessionID string
	ClientID  string
	ch        chan mailbox.Message
}

func (s *Subscriber) Messages() <-chan mailbox.Message { return s.ch }

// Hub tracks live push subscribers per session and attempts immediate
// delivery of published messages.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscriber]struct{})}
}

func (h *Hub) Subscribe(sessionID string) *Subscriber {
	sub := &Subscriber{
		SessionID: sessionID,
		ClientID:  uuid.New().String(),
		ch:        make(chan mailbox.Message, subscriberBuffer),
	}
	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if set, ok := h.subs[sub.SessionID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.SessionID)
		}
	}
	h.mu.Unlock()
}

// Publish attempts immediate delivery to every subscriber of the message's
// session. It reports whether at least one subscriber accepted the message;
// failure is never an error for the producer.
func (h *Hub) Publish(msg mailbox.Message) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := false
	for sub := range h.subs[msg.SessionID] {
		select {
		case sub.ch <- msg:
			delivered = true
		default:
			// stale or slow subscriber; delivery falls back to the mailbox
		}
	}
	return delivered
}

// SessionSubscribers reports the live subscriber count for one session.
func (h *Hub) SessionSubscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// SubscriberCount reports the total number of open streams.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, set := range h.subs {
		total += len(set)
	}
	return total
}

// Frame encodes a mailbox message as an SSE event typed by its kind.
func Frame(msg mailbox.Message) (*sse.Message, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	frame := &sse.Message{
		ID:   sse.ID(msg.ID),
		Type: sse.Type(string(msg.Kind)),
	}
	frame.AppendData(string(data))
	return frame, nil
}
