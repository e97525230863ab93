// Package api exposes the render service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/entrhq/rasterd/pkg/service"
)

// Service is the part of the render facade the HTTP layer needs.
type Service interface {
	Render(ctx context.Context, content string, opts service.RenderOptions, callback service.RenderCallback) (*service.ImageResult, error)
	Restart(ctx context.Context) string
	Health() service.Health
}

// RenderRequest is the body of POST /render.
type RenderRequest struct {
	Content   string `json:"content" binding:"required"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	FullPage  bool   `json:"fullPage"`
	Format    string `json:"format"`
	Quality   int    `json:"quality"`
	WaitUntil string `json:"waitUntil"`
	TimeoutMs int    `json:"timeoutMs"`
}

// ErrorResponse is the error body for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler carries the service dependency for all routes.
type Handler struct {
	svc Service
	log *logrus.Entry
}

// NewHandler creates the API handler.
func NewHandler(svc Service, log *logrus.Entry) *Handler {
	return &Handler{svc: svc, log: log}
}

// Render handles POST /render: rasterize the posted content and reply with
// the raw image bytes.
func (h *Handler) Render(c *gin.Context) {
	var req RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	opts := service.RenderOptions{
		Width:     req.Width,
		Height:    req.Height,
		FullPage:  req.FullPage,
		Format:    req.Format,
		Quality:   req.Quality,
		WaitUntil: req.WaitUntil,
		Timeout:   time.Duration(req.TimeoutMs) * time.Millisecond,
	}

	result, err := h.svc.Render(c.Request.Context(), req.Content, opts, nil)
	if err != nil {
		h.log.WithError(err).Error("render request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	contentType := "image/png"
	if result.Format == "jpeg" {
		contentType = "image/jpeg"
	}
	c.Header("X-Request-ID", result.RequestID)
	c.Data(http.StatusOK, contentType, result.Data)
}

// Restart handles POST /restart.
func (h *Handler) Restart(c *gin.Context) {
	status := h.svc.Restart(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// Health handles GET /healthz.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Health())
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(svc Service, log *logrus.Entry) *gin.Engine {
	handler := NewHandler(svc, log)

	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/render", handler.Render)
	router.POST("/restart", handler.Restart)
	router.GET("/healthz", handler.Health)

	return router
}
