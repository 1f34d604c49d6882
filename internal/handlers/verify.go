package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/enderfga/sasha-relay/internal/auth"
)

// VerifyCode checks an access code without issuing anything; clients use
// it to validate a stored code before opening streams.
func (a *API) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": auth.VerifyCode(req.Code)})
}
