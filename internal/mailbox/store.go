package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStoreUnavailable marks a backing-store failure. Read paths degrade to an
// empty result instead of surfacing it to clients.
var ErrStoreUnavailable = errors.New("mailbox store unavailable")

// Store holds bounded, time-limited message lists per session. Append and
// Drain are each atomic with respect to the other for a given session;
// callers cannot tell which backend is active.
type Store interface {
	// Append inserts at the tail, evicting from the head beyond the cap,
	// and extends the mailbox TTL.
	Append(ctx context.Context, sessionID string, msg Message) error
	// Drain atomically returns and empties the mailbox. Unknown sessions
	// drain to an empty slice.
	Drain(ctx context.Context, sessionID string) ([]Message, error)
	// Sweep drops mailboxes past their TTL. Backends with native expiry
	// may treat it as a no-op.
	Sweep(ctx context.Context) error
	Close() error
}

// Open selects a backend by name: "memory" for single-process deployments,
// "redis" whenever producer and consumer may run in different instances.
func Open(backend, redisURL string, capacity int, ttl time.Duration) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(capacity, ttl), nil
	case "redis":
		return NewRedisStore(redisURL, capacity, ttl)
	default:
		return nil, fmt.Errorf("unknown mailbox backend %q", backend)
	}
}
