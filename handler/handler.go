package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"nvr-edge/dto"
	"nvr-edge/registry"
	"nvr-edge/service"
)

type Handler struct {
	orchestrator *service.Orchestrator
}

func New(orchestrator *service.Orchestrator) *Handler {
	return &Handler{orchestrator: orchestrator}
}

func (h *Handler) Register(r *gin.Engine) {
	api := r.Group("/api")
	api.POST("/cameras", h.addCamera)
	api.GET("/cameras", h.listCameras)
	api.GET("/cameras/:id", h.cameraStatus)
	api.DELETE("/cameras/:id", h.removeCamera)
	api.POST("/cameras/:id/enable", h.setEnabled(true))
	api.POST("/cameras/:id/disable", h.setEnabled(false))
	api.GET("/recordings/summary", h.summary)
	api.POST("/retention/gc", h.gc)
}

func (h *Handler) addCamera(c *gin.Context) {
	var req dto.AddCameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	status, err := h.orchestrator.AddCamera(c.Request.Context(), req.Id, req.URI)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, status)
}

func (h *Handler) removeCamera(c *gin.Context) {
	if err := h.orchestrator.RemoveCamera(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) setEnabled(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.orchestrator.SetEnabled(c.Request.Context(), c.Param("id"), enabled); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (h *Handler) listCameras(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"cameras":           h.orchestrator.StatusAll(),
		"storage_exhausted": h.orchestrator.StorageExhausted(),
	})
}

func (h *Handler) cameraStatus(c *gin.Context) {
	status, err := h.orchestrator.Status(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) summary(c *gin.Context) {
	summaries, err := h.orchestrator.Summary(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summaries)
}

func (h *Handler) gc(c *gin.Context) {
	result, err := h.orchestrator.ForceGC(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, registry.ErrInvalidId), errors.Is(err, registry.ErrInvalidURI):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, registry.ErrDuplicateId):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, registry.ErrNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, dto.ErrorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
	}
}
