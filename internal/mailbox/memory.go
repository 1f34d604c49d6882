package mailbox

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps mailboxes in a mutex-guarded map. Valid only when
// producer and consumer share a process.
type MemoryStore struct {
	mu       sync.Mutex
	boxes    map[string]*box
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

type box struct {
	msgs      []Message
	expiresAt time.Time
}

func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		boxes:    make(map[string]*box),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *MemoryStore) Append(ctx context.Context, sessionID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()

	b, ok := s.boxes[sessionID]
	if !ok {
		b = &box{}
		s.boxes[sessionID] = b
	}
	b.msgs = append(b.msgs, msg)
	if len(b.msgs) > s.capacity {
		b.msgs = b.msgs[len(b.msgs)-s.capacity:]
	}
	b.expiresAt = s.now().Add(s.ttl)
	return nil
}

func (s *MemoryStore) Drain(ctx context.Context, sessionID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()

	b, ok := s.boxes[sessionID]
	if !ok {
		return nil, nil
	}
	delete(s.boxes, sessionID)
	return b.msgs, nil
}

func (s *MemoryStore) Sweep(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// sweepLocked removes expired mailboxes. Callers hold s.mu.
func (s *MemoryStore) sweepLocked() {
	now := s.now()
	for id, b := range s.boxes {
		if now.After(b.expiresAt) {
			delete(s.boxes, id)
		}
	}
}
