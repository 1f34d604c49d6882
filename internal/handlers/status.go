package handlers

import (
	"net/http"
	"time"

	"github.com/enderfga/sasha-relay/internal/config"
)

// Status reports live relay state for dashboards and debugging.
func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	backend := config.Cfg.MailboxBackend
	if backend == "" {
		backend = "memory"
	}
	terminals := 0
	if a.Terminal != nil {
		terminals = a.Terminal.OpenConnections()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"backend":       backend,
		"subscribers":   a.Hub.SubscriberCount(),
		"terminals":     terminals,
		"uptimeSeconds": int64(time.Since(a.Started).Seconds()),
	})
}
