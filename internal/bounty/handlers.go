package bounty

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kalebvo/stakeduel/internal/escrow"
	"github.com/kalebvo/stakeduel/internal/validation"
	"github.com/kalebvo/stakeduel/internal/wallet"
)

// Handler provides HTTP endpoints for bounty operations.
type Handler struct {
	service       *Service
	escrow        *escrow.Manager
	arbiterSecret string
}

// NewHandler creates a new bounty handler. arbiterSecret gates the resolve
// endpoint; an empty secret disables arbitration over HTTP.
func NewHandler(service *Service, esc *escrow.Manager, arbiterSecret string) *Handler {
	return &Handler{service: service, escrow: esc, arbiterSecret: arbiterSecret}
}

// RegisterRoutes sets up bounty routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/bounties", h.CreateBounty)
	r.GET("/bounties/open", h.ListOpen)
	r.GET("/bounties/:id", h.GetBounty)
	r.POST("/bounties/:id/accept", h.AcceptBounty)
	r.POST("/bounties/:id/start", h.StartMatch)
	r.POST("/bounties/:id/result", h.SubmitResult)
	r.POST("/bounties/:id/complete", h.CompleteBounty)
	r.POST("/bounties/:id/cancel", h.CancelBounty)
	r.POST("/bounties/:id/dispute", h.RaiseDispute)
	r.POST("/bounties/:id/dispute/notes", h.AppendDisputeNotes)
	r.POST("/bounties/:id/resolve", h.ResolveDispute)

	users := r.Group("/users")
	users.Use(validation.UserParamMiddleware())
	users.GET("/:user/bounties", h.ListUserBounties)
	users.GET("/:user/stats", h.GetUserStats)
	users.GET("/:user/balance", h.GetBalance)
}

// caller extracts the acting user from the X-User header set by the
// platform's auth gateway.
func caller(c *gin.Context) string {
	return c.GetHeader("X-User")
}

// respondErr maps service errors onto HTTP statuses.
func respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
	case errors.Is(err, wallet.ErrInsufficientFunds):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient_funds", "message": "Available balance cannot cover the stake"})
	case errors.Is(err, ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "permission_denied", "message": err.Error()})
	case errors.Is(err, ErrUserBlocked):
		c.JSON(http.StatusForbidden, gin.H{"error": "user_blocked", "message": err.Error()})
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDisputeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrDisputeWindowOpen),
		errors.Is(err, ErrDisputeWindowClosed),
		errors.Is(err, ErrDisputeExists),
		errors.Is(err, ErrTooManyActive):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": err.Error()})
	case errors.Is(err, ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited", "message": err.Error()})
	case errors.Is(err, escrow.ErrAmountMismatch), errors.Is(err, escrow.ErrNegativeAvailable):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "integrity_violation", "message": "Operation refused; contact support"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Something went wrong"})
	}
}

func limitQuery(c *gin.Context) int {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}
	return limit
}

// CreateBounty handles POST /v1/bounties
func (h *Handler) CreateBounty(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	req.Creator = caller(c)

	if errs := validation.Validate(
		validation.Required("creator", req.Creator),
		validation.ValidUser("creator", req.Creator),
		validation.ValidUser("targetUser", req.TargetUser),
		validation.PositiveAmount("stakeAmount", req.StakeAmount),
		validation.MaxLength("gameRef", req.GameRef, 256),
		validation.MaxLength("matchRef", req.MatchRef, 256),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	b, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"bounty": b})
}

// GetBounty handles GET /v1/bounties/:id
func (h *Handler) GetBounty(c *gin.Context) {
	detail, err := h.service.GetDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// ListOpen handles GET /v1/bounties/open
func (h *Handler) ListOpen(c *gin.Context) {
	bounties, err := h.service.ListOpen(c.Request.Context(), limitQuery(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bounties": bounties, "count": len(bounties)})
}

// AcceptBounty handles POST /v1/bounties/:id/accept
func (h *Handler) AcceptBounty(c *gin.Context) {
	b, err := h.service.Accept(c.Request.Context(), c.Param("id"), caller(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bounty": b})
}

// StartMatch handles POST /v1/bounties/:id/start
func (h *Handler) StartMatch(c *gin.Context) {
	b, err := h.service.Start(c.Request.Context(), c.Param("id"), caller(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bounty": b})
}

type submitResultRequest struct {
	ClaimedWinner string `json:"claimedWinner" binding:"required"`
	ProofRef      string `json:"proofRef" binding:"required"`
	ProofType     string `json:"proofType"`
}

// SubmitResult handles POST /v1/bounties/:id/result
func (h *Handler) SubmitResult(c *gin.Context) {
	var req submitResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	b, err := h.service.SubmitResult(c.Request.Context(), c.Param("id"), caller(c),
		req.ClaimedWinner, validation.SanitizeString(req.ProofRef, 1024), req.ProofType)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bounty": b})
}

// CompleteBounty handles POST /v1/bounties/:id/complete
func (h *Handler) CompleteBounty(c *gin.Context) {
	b, err := h.service.Complete(c.Request.Context(), c.Param("id"), caller(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bounty": b})
}

// CancelBounty handles POST /v1/bounties/:id/cancel
func (h *Handler) CancelBounty(c *gin.Context) {
	b, err := h.service.Cancel(c.Request.Context(), c.Param("id"), caller(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bounty": b})
}

type raiseDisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RaiseDispute handles POST /v1/bounties/:id/dispute
func (h *Handler) RaiseDispute(c *gin.Context) {
	var req raiseDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	d, err := h.service.RaiseDispute(c.Request.Context(), c.Param("id"), caller(c),
		validation.SanitizeString(req.Reason, 2000))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"dispute": d})
}

type resolveDisputeRequest struct {
	Decision string `json:"decision" binding:"required"`
	Notes    string `json:"notes"`
}

// ResolveDispute handles POST /v1/bounties/:id/resolve. Requires the
// X-Arbiter-Secret header in addition to the arbiter's own identity.
func (h *Handler) ResolveDispute(c *gin.Context) {
	if h.arbiterSecret == "" || c.GetHeader("X-Arbiter-Secret") != h.arbiterSecret {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "permission_denied",
			"message": "Arbiter authorization required",
		})
		return
	}

	var req resolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	b, err := h.service.ResolveDispute(c.Request.Context(), c.Param("id"), caller(c),
		Decision(req.Decision), validation.SanitizeString(req.Notes, 2000))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bounty": b})
}

type appendNotesRequest struct {
	Note string `json:"note" binding:"required"`
}

// AppendDisputeNotes handles POST /v1/bounties/:id/dispute/notes. Arbiter-only,
// gated the same way as resolve.
func (h *Handler) AppendDisputeNotes(c *gin.Context) {
	if h.arbiterSecret == "" || c.GetHeader("X-Arbiter-Secret") != h.arbiterSecret {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "permission_denied",
			"message": "Arbiter authorization required",
		})
		return
	}

	var req appendNotesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	d, err := h.service.AppendDisputeNotes(c.Request.Context(), c.Param("id"), caller(c),
		validation.SanitizeString(req.Note, 2000))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// ListUserBounties handles GET /v1/users/:user/bounties
func (h *Handler) ListUserBounties(c *gin.Context) {
	bounties, err := h.service.ListByUser(c.Request.Context(), c.Param("user"), limitQuery(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bounties": bounties, "count": len(bounties)})
}

// GetUserStats handles GET /v1/users/:user/stats
func (h *Handler) GetUserStats(c *gin.Context) {
	stats, err := h.service.GetUserStats(c.Request.Context(), c.Param("user"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// GetBalance handles GET /v1/users/:user/balance
func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.escrow.Balance(c.Request.Context(), c.Param("user"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance, "available": balance.Available()})
}
