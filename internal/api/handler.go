package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rongwang/fundchain-server/internal/metrics"
	"github.com/rongwang/fundchain-server/internal/models"
	"github.com/rongwang/fundchain-server/internal/service"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Options configures authentication and throttling for the HTTP surface
type Options struct {
	JWTSecret   []byte
	StaffRoles  []string
	IssuerRoles []string

	BroadcastRatePerSecond float64
	BroadcastBurst         int
}

// Handler handles HTTP requests
type Handler struct {
	service service.Service
	log     logrus.FieldLogger
	opts    Options
	staff   roleSet
	issuers roleSet
}

// NewHandler creates a new Handler
func NewHandler(svc service.Service, log logrus.FieldLogger, opts Options) *Handler {
	return &Handler{
		service: svc,
		log:     log,
		opts:    opts,
		staff:   newRoleSet(opts.StaffRoles),
		issuers: newRoleSet(opts.IssuerRoles, opts.StaffRoles),
	}
}

// SetupRoutes registers every route on the router
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(RequestID(), Metrics(), RequestLogger(h.log))

	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	authed := router.Group("")
	authed.Use(AuthMiddleware(h.opts.JWTSecret))

	broadcastLimit := RateLimit(h.opts.BroadcastRatePerSecond, h.opts.BroadcastBurst)
	staffOnly := RequireRole(h.staff)

	authed.POST("/tx_broadcast", broadcastLimit, h.Broadcast)

	issuer := authed.Group("/issuer")
	issuer.Use(RequireRole(h.issuers))
	{
		issuer.GET("/mint", h.IssuerMint)
		issuer.GET("/burn", h.IssuerBurn)
		issuer.POST("/transaction", broadcastLimit, h.IssuerSubmit)
	}

	v1 := authed.Group("/api/v1")
	{
		deposits := v1.Group("/deposit")
		deposits.POST("", h.CreateDeposit)
		deposits.GET("", h.ListDeposits)
		deposits.GET("/:id", h.GetDeposit)
		deposits.DELETE("/:id", h.DeleteDeposit)
		deposits.POST("/:id/approve", staffOnly, h.ApproveDeposit)
		deposits.GET("/:id/transaction", staffOnly, h.MintTransaction)

		withdraws := v1.Group("/withdraw")
		withdraws.POST("", h.CreateWithdraw)
		withdraws.GET("", h.ListWithdraws)
		withdraws.GET("/:id", h.GetWithdraw)
		withdraws.DELETE("/:id", h.DeleteWithdraw)
		withdraws.GET("/:id/approval/transaction", h.WithdrawApprovalTransaction)
		withdraws.GET("/:id/burn/transaction", staffOnly, h.WithdrawBurnTransaction)

		v1.GET("/wallet/organization/:id/transaction", h.OrgWalletTransaction)
		v1.GET("/wallet/project/:id/transaction", h.ProjectWalletTransaction)

		v1.POST("/invest/project/:id/allowance", h.InvestAllowance)
		v1.POST("/invest/project/:id/confirm", h.InvestConfirm)
	}
}

// Health reports liveness
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{Status: "ok"})
}

// Deposit handlers
func (h *Handler) CreateDeposit(c *gin.Context) {
	var req models.CreateDepositRequest
	// The announced amount is optional, so an empty body is fine
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.badRequest(c, err.Error())
		return
	}

	resp, err := h.service.CreateDeposit(c.Request.Context(), c.GetString(contextUserID), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) ListDeposits(c *gin.Context) {
	userID := c.GetString(contextUserID)

	if c.Query("status") == "pending" {
		resp, err := h.service.GetPendingDeposit(c.Request.Context(), userID)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	resp, err := h.service.ListDeposits(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetDeposit(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	resp, err := h.service.GetDeposit(c.Request.Context(), h.actor(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) DeleteDeposit(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.service.DeleteDeposit(c.Request.Context(), h.actor(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) ApproveDeposit(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req models.ApproveDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	resp, err := h.service.ApproveDeposit(c.Request.Context(), c.GetString(contextUserID), id, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) MintTransaction(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	h.respondUnsigned(c)(h.service.GenerateMintTransaction(c.Request.Context(), c.GetString(contextUserID), id))
}

// Withdraw handlers
func (h *Handler) CreateWithdraw(c *gin.Context) {
	var req models.CreateWithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	resp, err := h.service.CreateWithdraw(c.Request.Context(), c.GetString(contextUserID), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) ListWithdraws(c *gin.Context) {
	resp, err := h.service.ListWithdraws(c.Request.Context(), c.GetString(contextUserID))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetWithdraw(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	resp, err := h.service.GetWithdraw(c.Request.Context(), h.actor(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) DeleteWithdraw(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.service.DeleteWithdraw(c.Request.Context(), h.actor(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) WithdrawApprovalTransaction(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	h.respondUnsigned(c)(h.service.GenerateWithdrawApproval(c.Request.Context(), c.GetString(contextUserID), id))
}

func (h *Handler) WithdrawBurnTransaction(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	h.respondUnsigned(c)(h.service.GenerateWithdrawBurn(c.Request.Context(), c.GetString(contextUserID), id))
}

// Wallet handlers
func (h *Handler) OrgWalletTransaction(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	h.respondUnsigned(c)(h.service.GenerateOrgWalletTransaction(c.Request.Context(), c.GetString(contextUserID), id))
}

func (h *Handler) ProjectWalletTransaction(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	h.respondUnsigned(c)(h.service.GenerateProjectWalletTransaction(c.Request.Context(), c.GetString(contextUserID), id))
}

// Investment handlers
func (h *Handler) InvestAllowance(c *gin.Context) {
	id, req, ok := h.investRequest(c)
	if !ok {
		return
	}
	h.respondUnsigned(c)(h.service.GenerateInvestAllowance(c.Request.Context(), c.GetString(contextUserID), id, req))
}

func (h *Handler) InvestConfirm(c *gin.Context) {
	id, req, ok := h.investRequest(c)
	if !ok {
		return
	}
	h.respondUnsigned(c)(h.service.GenerateInvestConfirm(c.Request.Context(), c.GetString(contextUserID), id, req))
}

func (h *Handler) investRequest(c *gin.Context) (int64, models.InvestRequest, bool) {
	var req models.InvestRequest
	id, ok := h.pathID(c)
	if !ok {
		return 0, req, false
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err.Error())
		return 0, req, false
	}
	return id, req, true
}

// Broadcast relays a signed payload against the descriptor it was generated for
func (h *Handler) Broadcast(c *gin.Context) {
	txID, err := strconv.ParseInt(c.Query("tx_id"), 10, 64)
	if err != nil {
		h.badRequest(c, "tx_id must be an integer")
		return
	}

	resp, err := h.service.Broadcast(c.Request.Context(), h.actor(c), txID, c.Query("tx_sig"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Issuer handlers
func (h *Handler) IssuerMint(c *gin.Context) {
	amount, ok := h.queryAmount(c)
	if !ok {
		return
	}
	resp, err := h.service.IssuerMintTransaction(c.Request.Context(), c.Query("from"), c.Query("toHash"), amount)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) IssuerBurn(c *gin.Context) {
	amount, ok := h.queryAmount(c)
	if !ok {
		return
	}
	resp, err := h.service.IssuerBurnTransaction(c.Request.Context(), c.Query("from"), c.Query("burnFromTxHash"), amount)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) IssuerSubmit(c *gin.Context) {
	var req models.SignedTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	resp, err := h.service.IssuerSubmit(c.Request.Context(), c.Query("type"), req.Data)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// actor builds the caller identity the service layer checks ownership against
func (h *Handler) actor(c *gin.Context) service.Actor {
	return service.Actor{
		UserID: c.GetString(contextUserID),
		Staff:  h.staff.has(c.GetString(contextRole)),
	}
}

func (h *Handler) pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.badRequest(c, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) queryAmount(c *gin.Context) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		h.badRequest(c, "amount must be a decimal number")
		return decimal.Zero, false
	}
	return amount, true
}

// respondUnsigned adapts a service result into the unsigned transaction response
func (h *Handler) respondUnsigned(c *gin.Context) func(*models.UnsignedTransactionResponse, error) {
	return func(resp *models.UnsignedTransactionResponse, err error) {
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}
