package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"leverage-core/internal/order"
	"leverage-core/pkg/errors"
)

type listQuery struct {
	Limit  int    `form:"limit" binding:"omitempty,gte=1,lte=1000"`
	Symbol string `form:"symbol"`
}

type historyQuery struct {
	Window time.Duration `form:"window"`
}

type alertsQuery struct {
	Source     string `form:"source" binding:"omitempty,oneof=live stored"`
	Unresolved bool   `form:"unresolved"`
	Limit      int    `form:"limit" binding:"omitempty,gte=1,lte=1000"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondErr maps a coded error onto an HTTP status.
func respondErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"
	switch errors.GetCode(err) {
	case errors.ErrCodeInvalidParameter, errors.ErrCodeInvalidOrder, errors.ErrCodeInvalidConfiguration:
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	case errors.ErrCodeDataNotFound, errors.ErrCodePositionNotFound, errors.ErrCodeExchangeNotFound:
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.ErrCodeInvalidStateTransition:
		status, code = http.StatusConflict, "INVALID_STATE"
	case errors.ErrCodeOrderRejected:
		status, code = http.StatusUnprocessableEntity, "ORDER_REJECTED"
	case errors.ErrCodeExchangeUnavailable, errors.ErrCodeExchangeRequestFailed, errors.ErrCodeMarketDataMissing:
		status, code = http.StatusBadGateway, "EXCHANGE_ERROR"
	}
	respondError(c, status, code, err.Error())
}

func unavailable(c *gin.Context, what string) {
	respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", what+" is not configured")
}

// orderView is the wire form of an order.
type orderView struct {
	ID              string         `json:"id"`
	Symbol          string         `json:"symbol"`
	Side            order.Side     `json:"side"`
	Type            order.Type     `json:"type"`
	Quantity        float64        `json:"quantity"`
	Price           float64        `json:"price"`
	Leverage        float64        `json:"leverage"`
	Status          order.Status   `json:"status"`
	FilledQuantity  float64        `json:"filled_quantity"`
	FilledPrice     float64        `json:"filled_price"`
	ExchangeOrderID string         `json:"exchange_order_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

func viewOf(o *order.Order) orderView {
	return orderView{
		ID:              o.ID,
		Symbol:          o.Symbol,
		Side:            o.Side,
		Type:            o.Type,
		Quantity:        o.Quantity,
		Price:           o.Price,
		Leverage:        o.Leverage,
		Status:          o.Status,
		FilledQuantity:  o.FilledQuantity,
		FilledPrice:     o.FilledPrice,
		ExchangeOrderID: o.ExchangeOrderID,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		Metadata:        o.Metadata,
	}
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Coordinator.Status())
}

func (s *Server) getReport(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Coordinator.Report())
}

func (s *Server) getPerformance(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Coordinator.PerformanceMetrics())
}

func (s *Server) getMarket(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Coordinator.MarketDataSummary())
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.deps.Metrics == nil {
		unavailable(c, "metrics")
		return
	}
	c.JSON(http.StatusOK, s.deps.Metrics.Snapshot())
}

func (s *Server) getBalances(c *gin.Context) {
	if s.deps.Balances == nil {
		unavailable(c, "balance sync")
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": s.deps.Balances.All()})
}

func (s *Server) getSessions(c *gin.Context) {
	if s.deps.Queries == nil {
		unavailable(c, "database")
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	sessions, err := s.deps.Queries.ListSessions(c.Request.Context(), q.Limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Engine.PositionsSummary())
}

// getOrders serves the persisted order history.
func (s *Server) getOrders(c *gin.Context) {
	if s.deps.Queries == nil {
		unavailable(c, "database")
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	orders, err := s.deps.Queries.ListOrders(c.Request.Context(), strings.ToUpper(q.Symbol), q.Limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) getPendingOrders(c *gin.Context) {
	pending := s.deps.Engine.PendingOrders()
	out := make([]orderView, 0, len(pending))
	for _, o := range pending {
		out = append(out, viewOf(o))
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

// getOrder prefers the live order table and falls back to history.
func (s *Server) getOrder(c *gin.Context) {
	id := c.Param("id")
	if o, ok := s.deps.Engine.Order(id); ok {
		c.JSON(http.StatusOK, viewOf(o))
		return
	}
	if s.deps.Queries == nil {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "order not found")
		return
	}
	stored, err := s.deps.Queries.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

func (s *Server) getRiskReport(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Risk.Report())
}

func (s *Server) getRiskHistory(c *gin.Context) {
	q := historyQuery{Window: time.Hour}
	if err := c.ShouldBindQuery(&q); err != nil || q.Window <= 0 {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "window must be a positive duration")
		return
	}
	c.JSON(http.StatusOK, gin.H{"window": q.Window.String(), "metrics": s.deps.Risk.HistoricalData(q.Window)})
}

func (s *Server) getRiskLimits(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Risk.Limits())
}

// getAlerts serves live alerts from the risk manager, or the persisted log with
// source=stored.
func (s *Server) getAlerts(c *gin.Context) {
	var q alertsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	if q.Source != "stored" {
		if q.Unresolved {
			c.JSON(http.StatusOK, gin.H{"alerts": s.deps.Risk.ActiveAlerts()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"alerts": s.deps.Risk.AlertHistory()})
		return
	}
	if s.deps.Queries == nil {
		unavailable(c, "database")
		return
	}
	alerts, err := s.deps.Queries.ListAlerts(c.Request.Context(), q.Unresolved, q.Limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}
