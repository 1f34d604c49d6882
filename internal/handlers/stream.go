package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	sse "github.com/tmaxmax/go-sse"

	"github.com/enderfga/sasha-relay/internal/delivery"
	"github.com/enderfga/sasha-relay/internal/logutil"
	"github.com/enderfga/sasha-relay/internal/mailbox"
)

// Stream attaches a live SSE subscriber to a session. Queued mailbox
// messages are replayed first, then published messages flow as events
// typed by message kind, with comment heartbeats keeping proxies from
// cutting the connection.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "sessionId is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.IdleCeiling)
	defer cancel()

	sub := a.Hub.Subscribe(sessionID)

	// Anything the hub handed this subscriber that never made it onto
	// the wire goes back to the mailbox so a later poll still finds it.
	var unsent []mailbox.Message
	defer func() {
		a.Hub.Unsubscribe(sub)
		a.requeue(sessionID, unsent, sub)
	}()

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "SSE not supported"})
		return
	}

	log.Printf("[stream] Client %s attached session=%s", sub.ClientID, logutil.SanitizeForLog(sessionID))
	defer log.Printf("[stream] Client %s detached session=%s", sub.ClientID, logutil.SanitizeForLog(sessionID))

	connected, _ := json.Marshal(map[string]any{
		"clientId":  sub.ClientID,
		"sessionId": sessionID,
		"timestamp": nowMillis(),
	})
	hello := &sse.Message{Type: sse.Type("connected")}
	hello.AppendData(string(connected))
	if err := sess.Send(hello); err != nil {
		return
	}
	_ = sess.Flush()

	// Messages queued before this stream attached are replayed so a
	// client switching from polling loses nothing.
	backlog, err := a.Store.Drain(ctx, sessionID)
	if err != nil {
		log.Printf("[stream] Backlog drain failed session=%s: %v", logutil.SanitizeForLog(sessionID), err)
	}
	for i, msg := range backlog {
		frame, err := delivery.Frame(msg)
		if err != nil {
			log.Printf("[stream] Failed to encode message %s: %v", msg.ID, err)
			unsent = append(unsent, msg)
			continue
		}
		if err := sess.Send(frame); err != nil {
			unsent = append(unsent, backlog[i:]...)
			return
		}
	}
	_ = sess.Flush()

	heartbeat := time.NewTicker(a.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			beat := &sse.Message{}
			beat.AppendComment("heartbeat")
			if err := sess.Send(beat); err != nil {
				return
			}
			_ = sess.Flush()
		case msg := <-sub.Messages():
			frame, err := delivery.Frame(msg)
			if err != nil {
				log.Printf("[stream] Failed to encode message %s: %v", msg.ID, err)
				unsent = append(unsent, msg)
				continue
			}
			if err := sess.Send(frame); err != nil {
				unsent = append(unsent, msg)
				return
			}
			_ = sess.Flush()
		}
	}
}

// requeue writes messages that were accepted for live delivery but never
// reached the wire back into the mailbox. It runs after the subscriber is
// removed from the hub, so the channel can no longer grow.
func (a *API) requeue(sessionID string, pending []mailbox.Message, sub *delivery.Subscriber) {
	for {
		select {
		case msg := <-sub.Messages():
			pending = append(pending, msg)
			continue
		default:
		}
		break
	}
	for _, msg := range pending {
		if err := a.Store.Append(context.Background(), sessionID, msg); err != nil {
			log.Printf("[stream] Failed to requeue message %s session=%s: %v",
				msg.ID, logutil.SanitizeForLog(sessionID), err)
		}
	}
}
