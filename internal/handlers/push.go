package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/enderfga/sasha-relay/internal/logutil"
	"github.com/enderfga/sasha-relay/internal/mailbox"
)

type pushRequest struct {
	SessionID string          `json:"sessionId"`
	Content   mailbox.Content `json:"content"`
	Kind      mailbox.Kind    `json:"type"`
	Role      mailbox.Role    `json:"role"`
	Metadata  map[string]any  `json:"metadata"`
}

// Publish accepts a message for a session. Delivery is attempted on any
// live stream first; otherwise the message is queued in the mailbox for
// the next poll or stream attach.
func (a *API) Publish(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body"})
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "sessionId is required"})
		return
	}

	res := a.Limiter.Check(clientKey(r))
	if !res.Allowed {
		log.Printf("[push] Rate limited session=%s", logutil.SanitizeForLog(req.SessionID))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":     "Rate limit exceeded",
			"limit":     res.Limit,
			"remaining": res.Remaining,
			"resetAt":   res.ResetAt.UnixMilli(),
		})
		return
	}

	msg, err := mailbox.New(req.SessionID, req.Content, req.Kind, req.Role, req.Metadata)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	delivered := a.Hub.Publish(msg)
	if !delivered {
		if err := a.Store.Append(r.Context(), msg.SessionID, msg); err != nil {
			log.Printf("[push] Append failed session=%s: %v", logutil.SanitizeForLog(msg.SessionID), err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to store message"})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"messageId": msg.ID,
		"delivered": delivered,
		"queued":    !delivered,
	})
}

// Poll destructively drains a session's mailbox. A broken store degrades
// to an empty list so clients keep their polling loop alive.
func (a *API) Poll(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "sessionId is required"})
		return
	}

	msgs, err := a.Store.Drain(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, mailbox.ErrStoreUnavailable) {
			log.Printf("[push] Store unavailable, serving empty poll session=%s: %v",
				logutil.SanitizeForLog(sessionID), err)
		} else {
			log.Printf("[push] Drain failed session=%s: %v", logutil.SanitizeForLog(sessionID), err)
		}
		msgs = nil
	}
	if msgs == nil {
		msgs = []mailbox.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages":  msgs,
		"hasMore":   false,
		"timestamp": nowMillis(),
	})
}
