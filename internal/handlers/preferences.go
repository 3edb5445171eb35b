package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/remexa/remexa/internal/services"
	appErrors "github.com/remexa/remexa/pkg/errors"
	"github.com/remexa/remexa/pkg/response"
)

// PreferenceHandler exposes per-user notification preference endpoints.
type PreferenceHandler struct {
	prefs *services.PreferenceService
}

// NewPreferenceHandler constructs a preference handler.
func NewPreferenceHandler(prefs *services.PreferenceService) (*PreferenceHandler, error) {
	if prefs == nil {
		return nil, errRequiredServices
	}
	return &PreferenceHandler{prefs: prefs}, nil
}

// Get returns the user's preference document, materialising defaults on first
// access.
func (h *PreferenceHandler) Get(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("userID"))
	if userID == "" {
		response.Error(c, appErrors.NewBadRequest("user id is required"))
		return
	}

	prefs, err := h.prefs.Get(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, prefs)
}

// Update applies a partial preference change.
func (h *PreferenceHandler) Update(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("userID"))
	if userID == "" {
		response.Error(c, appErrors.NewBadRequest("user id is required"))
		return
	}

	var req services.UpdatePreferencesInput
	if !bindAndValidate(c, &req) {
		return
	}

	prefs, err := h.prefs.Update(c.Request.Context(), userID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, prefs)
}
