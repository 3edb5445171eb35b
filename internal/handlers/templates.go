package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/remexa/remexa/internal/services"
	"github.com/remexa/remexa/pkg/response"
)

// TemplateHandler exposes the template catalog administration endpoints.
type TemplateHandler struct {
	templates *services.TemplateService
}

// NewTemplateHandler constructs a template handler.
func NewTemplateHandler(templates *services.TemplateService) (*TemplateHandler, error) {
	if templates == nil {
		return nil, errRequiredServices
	}
	return &TemplateHandler{templates: templates}, nil
}

// List returns catalog templates matching the query filters.
func (h *TemplateHandler) List(c *gin.Context) {
	items, err := h.templates.List(c.Request.Context(), services.ListTemplatesInput{
		Type:       c.Query("type"),
		Channel:    c.Query("channel"),
		ActiveOnly: strings.EqualFold(c.Query("active"), "true"),
		Limit:      parseIntQuery(c, "limit", 50),
		Offset:     parseIntQuery(c, "offset", 0),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, items)
}

// Get returns a single template by identifier.
func (h *TemplateHandler) Get(c *gin.Context) {
	tpl, err := h.templates.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, tpl)
}

type createTemplateRequest struct {
	Name      string   `json:"name" validate:"required,max=128"`
	Type      string   `json:"type" validate:"required"`
	Channels  []string `json:"channels" validate:"required,min=1"`
	Subject   string   `json:"subject" validate:"max=255"`
	Body      string   `json:"body" validate:"required"`
	Variables []string `json:"variables,omitempty"`
	Active    *bool    `json:"active,omitempty"`
}

// Create registers a new template.
func (h *TemplateHandler) Create(c *gin.Context) {
	var req createTemplateRequest
	if !bindAndValidate(c, &req) {
		return
	}

	tpl, err := h.templates.Create(c.Request.Context(), services.CreateTemplateInput{
		Name:      req.Name,
		Type:      req.Type,
		Channels:  req.Channels,
		Subject:   req.Subject,
		Body:      req.Body,
		Variables: req.Variables,
		Active:    req.Active,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, tpl)
}

type updateTemplateRequest struct {
	Name      *string  `json:"name,omitempty"`
	Channels  []string `json:"channels,omitempty"`
	Subject   *string  `json:"subject,omitempty"`
	Body      *string  `json:"body,omitempty"`
	Variables []string `json:"variables,omitempty"`
	Active    *bool    `json:"active,omitempty"`
}

// Update applies a partial change to an existing template.
func (h *TemplateHandler) Update(c *gin.Context) {
	var req updateTemplateRequest
	if !bindAndValidate(c, &req) {
		return
	}

	tpl, err := h.templates.Update(c.Request.Context(), c.Param("id"), services.UpdateTemplateInput{
		Name:      req.Name,
		Channels:  req.Channels,
		Subject:   req.Subject,
		Body:      req.Body,
		Variables: req.Variables,
		Active:    req.Active,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, tpl)
}

// Delete removes a template from the catalog.
func (h *TemplateHandler) Delete(c *gin.Context) {
	if err := h.templates.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
