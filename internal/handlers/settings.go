package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/enderfga/sasha-relay/internal/crypto"
	"github.com/enderfga/sasha-relay/internal/database"
)

const (
	settingTerminalHostURL   = "terminal_host_url"
	settingTerminalHostToken = "terminal_host_token"
)

// GetSettings returns the upstream terminal host configuration. The host
// token is decrypted only to produce a masked preview.
func (a *API) GetSettings(w http.ResponseWriter, r *http.Request) {
	hostURL, _ := database.GetSetting(settingTerminalHostURL)

	tokenMasked := ""
	if enc, err := database.GetSetting(settingTerminalHostToken); err == nil && enc != "" {
		if plain, err := crypto.Decrypt(enc); err == nil {
			tokenMasked = crypto.Mask(plain)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"terminalHostUrl":   hostURL,
		"terminalHostToken": tokenMasked,
	})
}

// UpdateSettings stores the upstream terminal host configuration. The
// token is encrypted at rest; an empty token field leaves the stored
// value untouched.
func (a *API) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TerminalHostURL   *string `json:"terminalHostUrl"`
		TerminalHostToken *string `json:"terminalHostToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body"})
		return
	}

	if req.TerminalHostURL != nil {
		if err := database.SetSetting(settingTerminalHostURL, *req.TerminalHostURL); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to save settings"})
			return
		}
	}
	if req.TerminalHostToken != nil && *req.TerminalHostToken != "" {
		enc, err := crypto.Encrypt(*req.TerminalHostToken)
		if err != nil {
			log.Printf("[settings] Encrypt failed: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to save settings"})
			return
		}
		if err := database.SetSetting(settingTerminalHostToken, enc); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to save settings"})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
