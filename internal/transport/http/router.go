package apihttp

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"ladder/internal/logger"
	"ladder/internal/plan"
	"ladder/internal/reconcile"
	"ladder/internal/session"
	"ladder/internal/store"
)

// Router exposes the trade lifecycle over /api.
type Router struct {
	Store     store.Store
	Trading   *session.TradingService
	Reconcile *reconcile.Service
}

func NewRouter(st store.Store, trading *session.TradingService, rec *reconcile.Service) *Router {
	return &Router{Store: st, Trading: trading, Reconcile: rec}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/trades", r.handleListTrades)
	group.POST("/trades", r.handleCreateTrade)
	group.GET("/trades/:id", r.handleGetTrade)
	group.POST("/trades/:id/start", r.handleStartTrade)
	group.POST("/trades/:id/close", r.handleCloseTrade)
	group.GET("/trades/:id/position", r.handlePosition)
	group.GET("/trades/:id/events", r.handleEvents)
	group.POST("/sync", r.handleSync)
	group.GET("/credentials", r.handleListCredentials)
	group.POST("/credentials", r.handleSaveCredential)
}

func (r *Router) handleListTrades(c *gin.Context) {
	var statuses []store.TradeStatus
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			statuses = append(statuses, store.TradeStatus(strings.ToUpper(strings.TrimSpace(s))))
		}
	}
	trades, err := r.Store.ListTradesByStatus(c.Request.Context(), statuses...)
	if err != nil {
		logger.Errorf("[api] trades list failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

// handleCreateTrade accepts a trade plan document and persists it as a
// PENDING trade. Nothing reaches the exchange yet.
func (r *Router) handleCreateTrade(c *gin.Context) {
	var p plan.TradePlan
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := r.Trading.CreateTrade(c.Request.Context(), &p)
	if err != nil {
		if errors.Is(err, plan.ErrPlanInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.Errorf("[api] trade create failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"trade_id": rec.TradeID, "status": rec.Status})
}

func (r *Router) handleGetTrade(c *gin.Context) {
	tradeID := c.Param("id")
	rec, ok, err := r.Store.GetTrade(c.Request.Context(), tradeID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "交易不存在"})
		return
	}
	_, monitored := r.Trading.Registry().Get(tradeID)
	c.JSON(http.StatusOK, gin.H{"trade": rec, "monitored": monitored})
}

func (r *Router) handleStartTrade(c *gin.Context) {
	tradeID := c.Param("id")
	if err := r.Trading.StartTrade(c.Request.Context(), tradeID); err != nil {
		if errors.Is(err, session.ErrNoCredentials) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		logger.Errorf("[api] trade start failed ip=%s trade=%s err=%v", c.ClientIP(), tradeID, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] trade start ip=%s trade=%s", c.ClientIP(), tradeID)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) handleCloseTrade(c *gin.Context) {
	tradeID := c.Param("id")
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)
	if err := r.Trading.CloseTrade(c.Request.Context(), tradeID, body.Reason); err != nil {
		logger.Errorf("[api] trade close failed ip=%s trade=%s err=%v", c.ClientIP(), tradeID, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] trade close ip=%s trade=%s", c.ClientIP(), tradeID)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handlePosition serves the live runtime snapshot; it requires a running
// monitor, the persisted record is available on /trades/:id regardless.
func (r *Router) handlePosition(c *gin.Context) {
	tradeID := c.Param("id")
	sess, ok := r.Trading.Registry().Get(tradeID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "交易未在监控中"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"position": sess.State.Snapshot()})
}

func (r *Router) handleEvents(c *gin.Context) {
	tradeID := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := r.Store.ListEvents(c.Request.Context(), tradeID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (r *Router) handleSync(c *gin.Context) {
	sum, err := r.Reconcile.SyncAll(c.Request.Context())
	if err != nil {
		if errors.Is(err, reconcile.ErrSyncInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		logger.Errorf("[api] sync failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sum)
}

type credentialView struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Exchange  string `json:"exchange"`
	APIKey    string `json:"api_key"`
	Testnet   bool   `json:"testnet"`
	IsDefault bool   `json:"is_default"`
	Active    bool   `json:"active"`
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

func (r *Router) handleListCredentials(c *gin.Context) {
	creds, err := r.Store.ListActiveCredentials(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]credentialView, 0, len(creds))
	for _, cr := range creds {
		views = append(views, credentialView{
			ID:        cr.ID,
			Name:      cr.Name,
			Exchange:  cr.Exchange,
			APIKey:    maskKey(cr.APIKey),
			Testnet:   cr.Testnet,
			IsDefault: cr.IsDefault,
			Active:    cr.Active,
		})
	}
	c.JSON(http.StatusOK, gin.H{"credentials": views})
}

func (r *Router) handleSaveCredential(c *gin.Context) {
	var req struct {
		Name      string `json:"name"`
		Exchange  string `json:"exchange"`
		APIKey    string `json:"api_key"`
		APISecret string `json:"api_secret"`
		Testnet   bool   `json:"testnet"`
		IsDefault bool   `json:"is_default"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.APIKey) == "" || strings.TrimSpace(req.APISecret) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "api_key 与 api_secret 必填"})
		return
	}
	rec, err := r.Store.SaveCredential(c.Request.Context(), store.CredentialRecord{
		Name:      req.Name,
		Exchange:  req.Exchange,
		APIKey:    req.APIKey,
		APISecret: req.APISecret,
		Testnet:   req.Testnet,
		IsDefault: req.IsDefault,
		Active:    true,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] credential saved ip=%s name=%s exchange=%s", c.ClientIP(), rec.Name, rec.Exchange)
	c.JSON(http.StatusCreated, gin.H{"id": rec.ID})
}
