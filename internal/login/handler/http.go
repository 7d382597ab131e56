// Package handler exposes the login flows over HTTP for the portal frontend.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"forex-portal/login-gateway/internal/login/domain"
	"forex-portal/login-gateway/internal/login/service"
	"forex-portal/login-gateway/internal/login/store"
	"forex-portal/login-gateway/internal/upstream"
)

// Handler wires the login service and flow registry into gin routes.
type Handler struct {
	svc    *service.Service
	flows  *store.MemoryStore
	logger *zap.Logger
}

// New returns a Handler. logger may be nil.
func New(svc *service.Service, flows *store.MemoryStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, flows: flows, logger: logger}
}

// RegisterRoutes mounts the v1 login API and the health probe.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.health)

	v1 := r.Group("/v1/login/flows")
	{
		v1.POST("", h.createFlow)
		v1.GET("/:id", h.getFlow)
		v1.DELETE("/:id", h.deleteFlow)
		v1.POST("/:id/phone", h.submitPhone)
		v1.PUT("/:id/code", h.setCode)
		v1.POST("/:id/verify", h.verify)
		v1.POST("/:id/resend", h.resend)
		v1.POST("/:id/captcha", h.refreshCaptcha)
		v1.POST("/:id/back", h.backToPhone)
	}
}

type phoneRequest struct {
	PhoneNumber   string `json:"phoneNumber"`
	CaptchaAnswer string `json:"captchaAnswer"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type resendRequest struct {
	CaptchaAnswer string `json:"captchaAnswer"`
}

type verifyResponse struct {
	User      any              `json:"user"`
	SessionID string           `json:"sessionId"`
	IsNewUser bool             `json:"isNewUser"`
	State     service.Snapshot `json:"state"`
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) createFlow(c *gin.Context) {
	f := h.svc.NewFlow(c.Request.Context())
	h.flows.Put(f)
	c.JSON(http.StatusCreated, h.svc.State(f))
}

func (h *Handler) getFlow(c *gin.Context) {
	f, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.svc.State(f))
}

func (h *Handler) deleteFlow(c *gin.Context) {
	f, ok := h.flows.Delete(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "flow not found"})
		return
	}
	h.svc.Close(f)
	c.Status(http.StatusNoContent)
}

func (h *Handler) submitPhone(c *gin.Context) {
	f, ok := h.lookup(c)
	if !ok {
		return
	}
	var req phoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.svc.SubmitPhone(c.Request.Context(), f, req.PhoneNumber, req.CaptchaAnswer); err != nil {
		h.fail(c, f, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.State(f))
}

func (h *Handler) setCode(c *gin.Context) {
	f, ok := h.lookup(c)
	if !ok {
		return
	}
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.svc.SetCode(f, req.Code); err != nil {
		h.fail(c, f, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.State(f))
}

func (h *Handler) verify(c *gin.Context) {
	f, ok := h.lookup(c)
	if !ok {
		return
	}
	result, err := h.svc.SubmitCode(c.Request.Context(), f)
	if err != nil {
		h.fail(c, f, err)
		return
	}
	// Hand-off: the flow is done, drop it from the registry.
	h.flows.Delete(f.ID())
	snap := h.svc.State(f)
	h.svc.Close(f)
	c.JSON(http.StatusOK, verifyResponse{
		User:      rawJSON(result.User),
		SessionID: result.SessionID,
		IsNewUser: result.IsNewUser,
		State:     snap,
	})
}

func (h *Handler) resend(c *gin.Context) {
	f, ok := h.lookup(c)
	if !ok {
		return
	}
	var req resendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.svc.Resend(c.Request.Context(), f, req.CaptchaAnswer); err != nil {
		h.fail(c, f, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.State(f))
}

func (h *Handler) refreshCaptcha(c *gin.Context) {
	f, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := h.svc.RefreshChallenge(c.Request.Context(), f); err != nil {
		h.fail(c, f, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.State(f))
}

func (h *Handler) backToPhone(c *gin.Context) {
	f, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := h.svc.BackToPhone(f); err != nil {
		h.fail(c, f, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.State(f))
}

func (h *Handler) lookup(c *gin.Context) (*service.Flow, bool) {
	f, ok := h.flows.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "flow not found"})
		return nil, false
	}
	return f, true
}

// fail maps a service error to a status code and an error body carrying the
// current flow state so the frontend can re-render without a second round trip.
func (h *Handler) fail(c *gin.Context, f *service.Flow, err error) {
	var de *service.DomainError
	if errors.As(err, &de) {
		body := gin.H{
			"error":   de.Error(),
			"outcome": de.Outcome.String(),
			"state":   h.svc.State(f),
		}
		if de.Outcome == upstream.OutcomeWrongCode {
			body["attemptsRemaining"] = de.AttemptsRemaining
		}
		c.JSON(http.StatusUnprocessableEntity, body)
		return
	}

	status := statusFor(err)
	if status == http.StatusBadGateway {
		h.logger.Warn("upstream failure", zap.String("flow_id", f.ID()), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error": err.Error(),
		"state": h.svc.State(f),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrFlowClosed):
		return http.StatusGone
	case errors.Is(err, service.ErrLocked):
		return http.StatusLocked
	case errors.Is(err, service.ErrCooldownActive):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, service.ErrWrongStep),
		errors.Is(err, service.ErrAnswerRequired),
		errors.Is(err, service.ErrAnswerInvalid),
		errors.Is(err, service.ErrChallengeNotReady),
		errors.Is(err, domain.ErrInvalidPhone),
		errors.Is(err, domain.ErrInvalidCode):
		return http.StatusUnprocessableEntity
	default:
		var ue *upstream.Error
		if errors.As(err, &ue) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
}

// rawJSON passes the upstream user object through without re-encoding.
func rawJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}
