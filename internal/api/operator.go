package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"sniper-core/internal/risk"
	"sniper-core/pkg/db"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func listLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_LIMIT",
			"error": "limit must be a positive integer",
		})
		return 0, false
	}
	return min(n, maxListLimit), true
}

func internalError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":  "INTERNAL_ERROR",
		"error": err.Error(),
	})
}

func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.engine.Positions()})
}

func (s *Server) getTrades(c *gin.Context) {
	limit, ok := listLimit(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	trades, err := s.store.ListClosedTrades(ctx, limit)
	if err != nil {
		internalError(c, err)
		return
	}
	total, err := s.store.RealizedPnlTotal(ctx)
	if err != nil {
		internalError(c, err)
		return
	}
	if trades == nil {
		trades = []db.ClosedTrade{}
	}
	c.JSON(http.StatusOK, gin.H{
		"trades":                 trades,
		"realized_pnl_usd_total": total,
	})
}

func (s *Server) getOrders(c *gin.Context) {
	limit, ok := listLimit(c)
	if !ok {
		return
	}
	instrument := strings.ToUpper(strings.TrimSpace(c.Query("instrument")))
	orders, err := s.store.ListOrderEvents(c.Request.Context(), instrument, limit)
	if err != nil {
		internalError(c, err)
		return
	}
	if orders == nil {
		orders = []db.OrderEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) getHalts(c *gin.Context) {
	incidents, err := s.store.OpenIncidents(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	if incidents == nil {
		incidents = []db.Incident{}
	}
	c.JSON(http.StatusOK, gin.H{
		"halts":     s.engine.Halts(),
		"incidents": incidents,
	})
}

// acknowledgeHalt resumes trading on an instrument. The operator named in the
// token takes responsibility for any position left on the venue.
func (s *Server) acknowledgeHalt(c *gin.Context) {
	instrument := strings.ToUpper(c.Param("instrument"))
	operator := CurrentOperator(c)
	err := s.engine.Acknowledge(c.Request.Context(), instrument, operator)
	switch {
	case errors.Is(err, risk.ErrNotHalted):
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "NOT_HALTED",
			"error": "instrument is not halted",
		})
		return
	case err != nil:
		internalError(c, err)
		return
	}
	s.logger.Info().Str("instrument", instrument).Str("operator", operator).
		Str("request_id", c.GetString(requestIDKey)).Msg("halt acknowledged via API")
	c.JSON(http.StatusOK, gin.H{
		"instrument":      instrument,
		"acknowledged_by": operator,
		"halts":           s.engine.Halts(),
	})
}
