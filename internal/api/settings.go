package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/highlight-helper/highlight-helper/internal/model"
)

type settingsResponse struct {
	ReadwiseTokenConfigured bool `json:"readwise_token_configured"`
	ReadwiseAutoSync        bool `json:"readwise_auto_sync"`
}

type updateSettingsRequest struct {
	ReadwiseToken    *string `json:"readwise_token"`
	ReadwiseAutoSync *bool   `json:"readwise_auto_sync"`
}

type validateTokenResponse struct {
	Valid bool    `json:"valid"`
	Error *string `json:"error"`
}

func (s *Server) currentSettings(w http.ResponseWriter, r *http.Request) (settingsResponse, bool) {
	configured, err := s.sync.Configured(r.Context())
	if err != nil {
		zap.L().Error("settings lookup failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load settings")
		return settingsResponse{}, false
	}
	autoSync, err := s.sync.AutoSyncEnabled(r.Context())
	if err != nil {
		zap.L().Error("settings lookup failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load settings")
		return settingsResponse{}, false
	}
	return settingsResponse{
		ReadwiseTokenConfigured: configured,
		ReadwiseAutoSync:        autoSync,
	}, true
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	resp, ok := s.currentSettings(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.ReadwiseToken != nil {
		// An empty string clears the stored token.
		var value *string
		if *req.ReadwiseToken != "" {
			value = req.ReadwiseToken
		}
		if err := s.st.SetSetting(r.Context(), model.SettingReadwiseToken, value); err != nil {
			zap.L().Error("save setting failed", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
	}

	if req.ReadwiseAutoSync != nil {
		value := "false"
		if *req.ReadwiseAutoSync {
			value = "true"
		}
		if err := s.st.SetSetting(r.Context(), model.SettingReadwiseAutoSync, &value); err != nil {
			zap.L().Error("save setting failed", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
	}

	resp, ok := s.currentSettings(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleValidateReadwise(w http.ResponseWriter, r *http.Request) {
	configured, valid, err := s.sync.ValidateToken(r.Context())
	if err != nil {
		zap.L().Error("token validation failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to validate token")
		return
	}

	resp := validateTokenResponse{}
	switch {
	case !configured:
		msg := "No token configured"
		resp.Error = &msg
	case valid != nil && *valid:
		resp.Valid = true
	default:
		msg := "Invalid token"
		resp.Error = &msg
	}
	respondJSON(w, http.StatusOK, resp)
}
