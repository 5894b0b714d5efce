package httpapi

import (
	"net/http"
	"strconv"

	"stakearn-backend/pkg/config"
	"stakearn-backend/pkg/errutil"
	"stakearn-backend/pkg/health"
	"stakearn-backend/pkg/middleware"
	"stakearn-backend/services/admin"
	"stakearn-backend/services/staking"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewRouter),
)

// Handler is the thin request gateway: bind, call the controller, render.
// No business logic lives here.
type Handler struct {
	actions *staking.Service
	admin   *admin.Service
}

type RouterParams struct {
	fx.In
	Cfg     *config.Config
	Actions *staking.Service
	Admin   *admin.Service
	Health  health.HealthService
}

func NewRouter(p RouterParams) http.Handler {
	if p.Cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	h := &Handler{actions: p.Actions, admin: p.Admin}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	r.GET("/healthz", p.Health.Liveness)
	r.GET("/readyz", p.Health.Readiness)

	api := r.Group("/api")
	{
		api.GET("/status", h.getStatus)
		api.POST("/stake", h.stake)
		api.POST("/stake/withdraw", h.withdrawStake)
		api.POST("/reward/reveal", h.revealReward)
		api.POST("/reward/collect", h.collectReward)
		api.POST("/balance/withdraw", h.withdrawBalance)
		api.POST("/referral/bonus", h.referralCopyBonus)
	}

	adm := api.Group("/admin")
	{
		adm.POST("/pause", h.adminTogglePause)
		adm.POST("/withdrawals/pause", h.adminToggleWithdrawalsPause)
		adm.POST("/params", h.adminSetParams)
		adm.POST("/fund", h.adminFundUser)
		adm.GET("/leaderboard", h.adminLeaderboard)
	}

	return r
}

type walletRequest struct {
	WalletAddress string `json:"walletAddress"`
}

func (h *Handler) getStatus(c *gin.Context) {
	snap, err := h.actions.GetStatus(c.Request.Context(), c.Query("wallet"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) stake(c *gin.Context) {
	var req staking.StakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid request body"))
		return
	}
	snap, err := h.actions.Stake(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) withdrawStake(c *gin.Context) {
	var req walletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid request body"))
		return
	}
	snap, err := h.actions.WithdrawStake(c.Request.Context(), req.WalletAddress)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) revealReward(c *gin.Context) {
	var req walletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid request body"))
		return
	}
	res, err := h.actions.RevealReward(c.Request.Context(), req.WalletAddress)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) collectReward(c *gin.Context) {
	var req walletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid request body"))
		return
	}
	res, err := h.actions.CollectReward(c.Request.Context(), req.WalletAddress)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) withdrawBalance(c *gin.Context) {
	var req staking.WithdrawBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid request body"))
		return
	}
	res, err := h.actions.WithdrawBalance(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) referralCopyBonus(c *gin.Context) {
	var req walletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid request body"))
		return
	}
	res, err := h.actions.ReferralCopyBonus(c.Request.Context(), req.WalletAddress)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type adminRequest struct {
	AdminAddress     string   `json:"adminAddress"`
	WalletAddress    string   `json:"walletAddress"`
	Currency         string   `json:"currency"`
	Amount           float64  `json:"amount"`
	DurationHours    *float64 `json:"durationHours"`
	StakeAmountUSD   *float64 `json:"stakeAmountUSD"`
	MaxStakeSlots    *int64   `json:"maxStakeSlots"`
	MaxRewardPoolUSD *float64 `json:"maxRewardPoolUSD"`
	RecipientAddress *string  `json:"recipientAddress"`
}

func (h *Handler) adminTogglePause(c *gin.Context) {
	var req adminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid request body"))
		return
	}
	state, warning, err := h.admin.TogglePause(c.Request.Context(), req.AdminAddress)
	if err != nil {
		_ = c.Error(err)
		return
	}
	resp := gin.H{"event": state}
	if warning != "" {
		resp["warning"] = warning
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) adminToggleWithdrawalsPause(c *gin.Context) {
	var req adminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid request body"))
		return
	}
	state, err := h.admin.ToggleWithdrawalsPause(c.Request.Context(), req.AdminAddress)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": state})
}

// adminSetParams applies whichever tunables the body carries. Setting the
// duration resets the cycle; the rest are pure parameter mutations.
func (h *Handler) adminSetParams(c *gin.Context) {
	var req adminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid request body"))
		return
	}

	ctx := c.Request.Context()
	var err error

	if req.StakeAmountUSD != nil {
		if _, err = h.admin.SetStakeAmount(ctx, req.AdminAddress, *req.StakeAmountUSD); err != nil {
			_ = c.Error(err)
			return
		}
	}
	if req.MaxStakeSlots != nil {
		if _, err = h.admin.SetMaxSlots(ctx, req.AdminAddress, *req.MaxStakeSlots); err != nil {
			_ = c.Error(err)
			return
		}
	}
	if req.MaxRewardPoolUSD != nil {
		if _, err = h.admin.SetMaxRewardPool(ctx, req.AdminAddress, *req.MaxRewardPoolUSD); err != nil {
			_ = c.Error(err)
			return
		}
	}
	if req.RecipientAddress != nil {
		if _, err = h.admin.SetRecipientAddress(ctx, req.AdminAddress, *req.RecipientAddress); err != nil {
			_ = c.Error(err)
			return
		}
	}
	if req.DurationHours != nil {
		if _, err = h.admin.SetEventDuration(ctx, req.AdminAddress, *req.DurationHours); err != nil {
			_ = c.Error(err)
			return
		}
	}

	snap, err := h.actions.GetStatus(ctx, "")
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) adminFundUser(c *gin.Context) {
	var req adminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid request body"))
		return
	}
	user, err := h.admin.FundUser(c.Request.Context(), req.AdminAddress, req.WalletAddress, req.Currency, req.Amount)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *Handler) adminLeaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	users, err := h.admin.Leaderboard(c.Request.Context(), c.Query("admin"), c.DefaultQuery("sort", "primary_balance"), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}
