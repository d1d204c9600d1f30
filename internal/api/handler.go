// Package api exposes the engine over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fluxrules/internal/constants"
	"fluxrules/internal/engine"
	"fluxrules/internal/logger"
	"fluxrules/internal/rete"
	apperrors "fluxrules/pkg/errors"
)

type Handler struct {
	service *engine.Service
	logger  logger.Logger
}

func NewHandler(service *engine.Service, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Handler{service: service, logger: log}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/facts/evaluate", h.EvaluateFact)
		v1.POST("/simulate", h.Simulate)

		rules := v1.Group("/rules")
		{
			rules.POST("/reload", h.ReloadRules)
			rules.GET("/:id/expression", h.GetExpression)
			rules.GET("/:id/related", h.GetRelatedRules)
		}

		conflicts := v1.Group("/conflicts")
		{
			conflicts.GET("", h.GetConflicts)
			conflicts.POST("/check", h.CheckRule)
		}

		v1.GET("/graph", h.GetGraph)
		v1.GET("/network/stats", h.GetNetworkStats)
		v1.GET("/actions", h.ListActions)
		v1.POST("/cache/invalidate", h.InvalidateCache)
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	status := apperrors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorwCtx(c.Request.Context(), "Request failed", "error", err, "path", c.Request.URL.Path)
	} else {
		h.logger.DebugwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, apperrors.ToErrorResponse(err))
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	h.handleError(c, apperrors.ErrValidation.WithCause(err))
}

type EvaluateRequest struct {
	ID   string     `json:"id"`
	Fact *rete.Fact `json:"fact" binding:"required"`
}

type SimulateRequest struct {
	Fact    *rete.Fact `json:"fact" binding:"required"`
	RuleIDs []string   `json:"rule_ids"`
}

// EvaluateFact runs a fact against the active rules and dispatches the
// matched actions. A missing id is generated.
func (h *Handler) EvaluateFact(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	eval, err := h.service.EvaluateFact(c.Request.Context(), req.ID, *req.Fact)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, eval)
}

// Simulate is a dry run over the listed rules, or every rule when none are given.
func (h *Handler) Simulate(c *gin.Context) {
	var req SimulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	eval, err := h.service.Simulate(c.Request.Context(), *req.Fact, req.RuleIDs)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, eval)
}

type ReloadResponse struct {
	Version     uint64    `json:"version"`
	Rules       int       `json:"rules"`
	Fingerprint string    `json:"fingerprint"`
	LoadedAt    time.Time `json:"loaded_at"`
}

func (h *Handler) ReloadRules(c *gin.Context) {
	snap, _, err := h.service.ReloadFromSource(c.Request.Context(), constants.TriggerAPI, false)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, ReloadResponse{
		Version:     snap.Version,
		Rules:       len(snap.Rules),
		Fingerprint: snap.Fingerprint,
		LoadedAt:    snap.LoadedAt,
	})
}

func (h *Handler) GetExpression(c *gin.Context) {
	id := c.Param("id")
	expr, err := h.service.Expression(id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule_id": id, "language": "cel", "expression": expr})
}

func (h *Handler) GetRelatedRules(c *gin.Context) {
	id := c.Param("id")
	related, err := h.service.RelatedRules(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule_id": id, "related": related})
}

func (h *Handler) GetConflicts(c *gin.Context) {
	report, err := h.service.DetectConflicts(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// CheckRule reports the conflicts a proposed rule would introduce.
func (h *Handler) CheckRule(c *gin.Context) {
	var candidate rete.Rule
	if err := c.ShouldBindJSON(&candidate); err != nil {
		h.badRequest(c, err)
		return
	}

	report, err := h.service.CheckRule(c.Request.Context(), candidate)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) GetGraph(c *gin.Context) {
	graph, err := h.service.DependencyGraph(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, graph)
}

func (h *Handler) GetNetworkStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Stats())
}

func (h *Handler) ListActions(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.ListActions())
}

func (h *Handler) InvalidateCache(c *gin.Context) {
	h.service.InvalidateCache(c.Request.Context())
	c.Status(http.StatusNoContent)
}
