package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"leverage-core/internal/order"
	"leverage-core/internal/risk"
	"leverage-core/pkg/config"
)

type placeOrderRequest struct {
	Symbol   string  `json:"symbol" binding:"required,min=1"`
	Side     string  `json:"side" binding:"required,oneof=buy sell"`
	Type     string  `json:"type" binding:"omitempty,oneof=market limit"`
	Quantity float64 `json:"quantity" binding:"gt=0"`
	Price    float64 `json:"price" binding:"gte=0"`
	Leverage float64 `json:"leverage" binding:"omitempty,gte=1,lte=10"`
	Reason   string  `json:"reason"`
}

func (s *Server) startTrading(c *gin.Context) {
	if err := s.deps.Coordinator.Start(c.Request.Context()); err != nil {
		respondErr(c, err)
		return
	}
	s.log.Info("trading started", zap.String("operator", CurrentOperator(c)))
	c.JSON(http.StatusOK, s.deps.Coordinator.Status())
}

func (s *Server) pauseTrading(c *gin.Context) {
	if err := s.deps.Coordinator.Pause(); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, s.deps.Coordinator.Status())
}

func (s *Server) resumeTrading(c *gin.Context) {
	if err := s.deps.Coordinator.Resume(); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, s.deps.Coordinator.Status())
}

func (s *Server) stopTrading(c *gin.Context) {
	if err := s.deps.Coordinator.Stop(c.Request.Context()); err != nil {
		respondErr(c, err)
		return
	}
	s.log.Info("trading stopped", zap.String("operator", CurrentOperator(c)))
	c.JSON(http.StatusOK, s.deps.Coordinator.Status())
}

func (s *Server) emergencyStop(c *gin.Context) {
	if err := s.deps.Coordinator.EmergencyStop(c.Request.Context()); err != nil {
		respondErr(c, err)
		return
	}
	s.log.Warn("emergency stop requested", zap.String("operator", CurrentOperator(c)))
	c.JSON(http.StatusOK, s.deps.Coordinator.Status())
}

func (s *Server) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	if !s.deps.Coordinator.State().Active() {
		respondError(c, http.StatusConflict, "INVALID_STATE", "trading session is not running")
		return
	}

	symbol := strings.ToUpper(req.Symbol)
	price := req.Price
	if price == 0 {
		if md, ok := s.deps.Coordinator.MarketDataSummary()[symbol]; ok {
			price = md.Price
		}
	}
	if price <= 0 {
		respondError(c, http.StatusBadRequest, "NO_PRICE", "price is required when no market data is available")
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual"
	}

	o, err := order.New(order.Params{
		ID:       s.deps.Engine.NextOrderID(),
		Symbol:   symbol,
		Side:     order.Side(req.Side),
		Type:     order.Type(req.Type),
		Quantity: req.Quantity,
		Price:    price,
		Leverage: req.Leverage,
		Metadata: map[string]any{order.MetaReason: reason, "operator": CurrentOperator(c)},
	})
	if err != nil {
		respondErr(c, err)
		return
	}

	filled, why := s.deps.Coordinator.ManualOrder(c.Request.Context(), o)
	if !filled {
		respondError(c, http.StatusUnprocessableEntity, "ORDER_REJECTED", why)
		return
	}
	c.JSON(http.StatusOK, viewOf(o))
}

func (s *Server) cancelOrder(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.Coordinator.CancelOrder(c.Request.Context(), id); err != nil {
		respondErr(c, err)
		return
	}
	o, _ := s.deps.Engine.Order(id)
	c.JSON(http.StatusOK, viewOf(o))
}

func (s *Server) closePosition(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	filled, err := s.deps.Coordinator.ClosePosition(c.Request.Context(), symbol)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "closed": filled})
}

func (s *Server) closeAllPositions(c *gin.Context) {
	closed := s.deps.Coordinator.CloseAllPositions(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"closed": closed})
}

// updateRiskLimits overlays the JSON body on the current limits. Keys absent from the
// body keep their value.
func (s *Server) updateRiskLimits(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	next := s.deps.Risk.Limits()
	if err := json.Unmarshal(body, &next); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	if err := config.ValidateRiskLimits(next); err != nil {
		respondErr(c, err)
		return
	}
	updated := s.deps.Coordinator.UpdateRiskLimits(func(l *risk.RiskLimits) { *l = next })
	s.log.Info("risk limits updated", zap.String("operator", CurrentOperator(c)))
	c.JSON(http.StatusOK, updated)
}

func (s *Server) resetEmergency(c *gin.Context) {
	s.deps.Risk.ResetEmergencyMode()
	s.log.Warn("emergency mode reset", zap.String("operator", CurrentOperator(c)))
	c.JSON(http.StatusOK, s.deps.Risk.Report())
}

func (s *Server) resolveAlert(c *gin.Context) {
	id := c.Param("id")
	live := s.deps.Risk.ResolveAlert(id)
	stored := false
	if s.deps.Queries != nil {
		if err := s.deps.Queries.MarkAlertResolved(c.Request.Context(), id); err == nil {
			stored = true
		}
	}
	if !live && !stored {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "alert not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "resolved": true})
}
