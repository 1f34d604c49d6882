package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/enderfga/sasha-relay/internal/config"
	"github.com/enderfga/sasha-relay/internal/delivery"
	"github.com/enderfga/sasha-relay/internal/mailbox"
	"github.com/enderfga/sasha-relay/internal/middleware"
	"github.com/enderfga/sasha-relay/internal/ratelimit"
	"github.com/enderfga/sasha-relay/internal/terminal"
)

// API bundles the relay's collaborators for the HTTP handlers.
type API struct {
	Store    mailbox.Store
	Limiter  *ratelimit.Limiter
	Hub      *delivery.Hub
	Terminal *terminal.Server

	Heartbeat   time.Duration
	IdleCeiling time.Duration
	Started     time.Time
}

func NewAPI(store mailbox.Store, limiter *ratelimit.Limiter, hub *delivery.Hub, term *terminal.Server) *API {
	hb := config.Cfg.StreamHeartbeat
	if hb == 0 {
		hb = 15 * time.Second
	}
	idle := config.Cfg.StreamIdleCeiling
	if idle == 0 {
		idle = 30 * time.Minute
	}
	return &API{
		Store:       store,
		Limiter:     limiter,
		Hub:         hub,
		Terminal:    term,
		Heartbeat:   hb,
		IdleCeiling: idle,
		Started:     time.Now(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[handlers] Failed to encode response: %v", err)
	}
}

// clientKey identifies a caller for rate limiting: the bearer token when
// present, the remote address otherwise.
func clientKey(r *http.Request) string {
	if token := middleware.BearerToken(r); token != "" {
		return "token:" + token
	}
	return "ip:" + r.RemoteAddr
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
