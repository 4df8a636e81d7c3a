package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/cyclehub/rental-backend/bike"
	"github.com/cyclehub/rental-backend/internal/middleware"
	"github.com/cyclehub/rental-backend/session"
)

type adminCommandRequest struct {
	BikeID  int64  `json:"bike_id" binding:"required"`
	Command string `json:"command" binding:"required"`
	Reason  string `json:"reason"`
}

func (a *API) adminCommandHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	var req adminCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	err := a.engine.AdminForceCommand(c, req.BikeID, req.Command, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidCommand):
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_COMMAND", "message": "Command must be force_unlock or force_lock"})
		case errors.Is(err, session.ErrBikeNotFound):
			c.JSON(http.StatusNotFound, gin.H{"code": "BIKE_NOT_FOUND", "message": "Bike not found"})
		default:
			logger.ErrorContext(c, "admin command failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "command sent"})
}

func (a *API) dashboardHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	counts, err := a.br.StatusCounts(c)
	if err != nil {
		logger.ErrorContext(c, "failed to count bikes", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	userTotal, err := a.ur.Count(c)
	if err != nil {
		logger.ErrorContext(c, "failed to count users", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	today := time.Now()
	ordersToday, err := a.or.CountCreatedOn(c, today)
	if err != nil {
		logger.ErrorContext(c, "failed to count orders", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	revenueToday, err := a.or.RevenueOn(c, today)
	if err != nil {
		logger.ErrorContext(c, "failed to sum revenue", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	c.JSON(http.StatusOK, gin.H{
		"bikes": gin.H{
			"total":  total,
			"idle":   counts[bike.StatusIdle],
			"riding": counts[bike.StatusRiding],
			"fault":  counts[bike.StatusFault],
		},
		"users":        gin.H{"total": userTotal},
		"ordersToday":  ordersToday,
		"revenueToday": revenueToday,
	})
}

type trendPoint struct {
	Date    string          `json:"date"`
	Orders  int             `json:"orders"`
	Revenue decimal.Decimal `json:"revenue"`
}

func (a *API) trendsHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	days, _ := strconv.Atoi(c.DefaultQuery("days", "7"))
	if days < 1 || days > 90 {
		days = 7
	}

	points := make([]trendPoint, 0, days)
	for i := days - 1; i >= 0; i-- {
		day := time.Now().AddDate(0, 0, -i)
		orders, err := a.or.CountCreatedOn(c, day)
		if err != nil {
			logger.ErrorContext(c, "failed to count orders for trend", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		revenue, err := a.or.RevenueOn(c, day)
		if err != nil {
			logger.ErrorContext(c, "failed to sum revenue for trend", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		points = append(points, trendPoint{
			Date:    day.Format("2006-01-02"),
			Orders:  orders,
			Revenue: revenue,
		})
	}

	c.JSON(http.StatusOK, points)
}
