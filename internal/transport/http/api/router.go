package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"sentra/internal/engine"
	"sentra/internal/logger"
	"sentra/internal/market"
	"sentra/internal/plan"
	"sentra/internal/risk"

	"github.com/gin-gonic/gin"
)

// Router handles the decision API endpoints
type Router struct {
	eng *engine.Engine
}

func NewRouter(eng *engine.Engine) *Router {
	return &Router{eng: eng}
}

// Register registers the decision API routes
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/evaluate", r.handleEvaluate)
	group.POST("/batch", r.handleBatch)
	group.GET("/plans", r.handleListPlans)
	group.GET("/plans/:id/trail", r.handleTrail)
	group.POST("/plans/:id/activate", r.handleActivate)
	group.POST("/plans/:id/cancel", r.handleCancel)
	group.POST("/plans/:id/close", r.handleClose)
	group.GET("/lessons", r.handleLessons)
}

// EvaluateRequest is the request body for a single evaluation.
// Equity/RiskPercent 可选，缺省取服务配置。
type EvaluateRequest struct {
	Symbol      string  `json:"symbol,omitempty"`
	Address     string  `json:"address,omitempty"`
	Chain       string  `json:"chain,omitempty"`
	Venue       string  `json:"venue,omitempty"`
	Equity      float64 `json:"account_equity,omitempty"`
	RiskPercent float64 `json:"risk_percentage,omitempty"`
}

func (req EvaluateRequest) pair() (market.PairRef, bool) {
	if req.Symbol == "" && req.Address == "" {
		return market.PairRef{}, false
	}
	return market.PairRef{
		Symbol:  req.Symbol,
		Address: req.Address,
		Chain:   req.Chain,
		Venue:   req.Venue,
	}, true
}

// BatchRequest is the request body for a batch evaluation
type BatchRequest struct {
	Pairs []EvaluateRequest `json:"pairs"`
}

// CloseRequest is the request body for closing a plan
type CloseRequest struct {
	PnlUsd float64 `json:"pnl_usd"`
	Reason string  `json:"reason"`
}

func (r *Router) handleEvaluate(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}
	pair, ok := req.pair()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 symbol 或 address"})
		return
	}

	res, err := r.eng.EvaluateWith(c.Request.Context(), pair,
		risk.Params{Equity: req.Equity, RiskPercent: req.RiskPercent})
	if err != nil {
		if errors.Is(err, market.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		logger.Errorf("[api] evaluate %s failed: %v", pair.Key(), err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (r *Router) handleBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}
	pairs := make([]market.PairRef, 0, len(req.Pairs))
	for _, p := range req.Pairs {
		pair, ok := p.pair()
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 symbol 或 address"})
			return
		}
		pairs = append(pairs, pair)
	}
	if len(pairs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pairs 不能为空"})
		return
	}

	results, err := r.eng.Batch(c.Request.Context(), pairs)
	if err != nil {
		logger.Errorf("[api] batch failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (r *Router) handleListPlans(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	plans, err := r.eng.Plans(c.Request.Context(), limit)
	if err != nil {
		logger.Errorf("[api] list plans failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

func (r *Router) handleTrail(c *gin.Context) {
	nodes, err := r.eng.Trail(c.Request.Context(), c.Param("id"))
	if err != nil {
		logger.Errorf("[api] trail failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(nodes) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "决策链不存在"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes})
}

func (r *Router) handleActivate(c *gin.Context) {
	p, err := r.eng.Activate(c.Request.Context(), c.Param("id"), time.Now().UTC())
	if err != nil {
		writePlanError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (r *Router) handleCancel(c *gin.Context) {
	p, err := r.eng.Cancel(c.Request.Context(), c.Param("id"), time.Now().UTC())
	if err != nil {
		writePlanError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (r *Router) handleClose(c *gin.Context) {
	var req CloseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}
	p, l, err := r.eng.Close(c.Request.Context(), c.Param("id"), req.PnlUsd, req.Reason, time.Now().UTC())
	if err != nil {
		writePlanError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": p, "lesson": l})
}

func (r *Router) handleLessons(c *gin.Context) {
	lessons, err := r.eng.Lessons(c.Request.Context())
	if err != nil {
		logger.Errorf("[api] lessons failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"lessons": lessons})
}

func writePlanError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrPlanNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, plan.ErrBadTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.Errorf("[api] plan operation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
