package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/cyclehub/rental-backend/internal/middleware"
	"github.com/cyclehub/rental-backend/order"
	"github.com/cyclehub/rental-backend/session"
)

type orderResponse struct {
	ID              int64            `json:"id"`
	UserID          *int64           `json:"userId"`
	BikeID          *int64           `json:"bikeId"`
	StartTime       time.Time        `json:"startTime"`
	EndTime         *time.Time       `json:"endTime"`
	DurationMinutes *int32           `json:"durationMinutes"`
	StartLat        *float64         `json:"startLat"`
	StartLng        *float64         `json:"startLng"`
	EndLat          *float64         `json:"endLat"`
	EndLng          *float64         `json:"endLng"`
	Cost            *decimal.Decimal `json:"cost"`
	Status          order.Status     `json:"status"`
}

func toOrderResponse(o order.Order) orderResponse {
	resp := orderResponse{
		ID:        o.ID,
		StartTime: o.StartTime,
		StartLat:  o.StartLat,
		StartLng:  o.StartLng,
		EndLat:    o.EndLat,
		EndLng:    o.EndLng,
		Status:    o.Status,
	}
	if o.UserID.Valid {
		resp.UserID = &o.UserID.Int64
	}
	if o.BikeID.Valid {
		resp.BikeID = &o.BikeID.Int64
	}
	if o.EndTime.Valid {
		resp.EndTime = &o.EndTime.Time
	}
	if o.DurationMinutes.Valid {
		resp.DurationMinutes = &o.DurationMinutes.Int32
	}
	if o.Cost.Valid {
		resp.Cost = &o.Cost.Decimal
	}
	return resp
}

type unlockRequest struct {
	RFIDCard string  `json:"rfid_card" binding:"required"`
	BikeID   int64   `json:"bike_id" binding:"required"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

func (a *API) unlockHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	var req unlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	res, err := a.engine.Unlock(c, req.RFIDCard, req.BikeID, req.Lat, req.Lng)
	if err != nil {
		a.sessionError(c, logger, err, "unlock failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":   toOrderResponse(res.Order),
		"userId":  res.UserID,
		"balance": res.Balance,
	})
}

type lockRequest struct {
	OrderID  int64   `json:"order_id" binding:"required"`
	RFIDCard string  `json:"rfid_card" binding:"required"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

func (a *API) lockHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	res, err := a.engine.Lock(c, req.OrderID, req.RFIDCard, req.Lat, req.Lng)
	if err != nil {
		a.sessionError(c, logger, err, "lock failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":           toOrderResponse(res.Order),
		"durationMinutes": res.DurationMinutes,
		"cost":            res.Cost,
		"newBalance":      res.NewBalance,
	})
}

func (a *API) listOrdersHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	var userID *int64
	if s := c.Query("user_id"); s != "" {
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "invalid user_id"})
			return
		}
		userID = &uid
	}

	offset, limit := pagination(c)
	orders, err := a.or.List(c, userID, offset, limit)
	if err != nil {
		logger.ErrorContext(c, "failed to list orders", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	items := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		items = append(items, toOrderResponse(o))
	}
	c.JSON(http.StatusOK, items)
}

func (a *API) getOrderHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "invalid order id"})
		return
	}

	o, err := a.or.GetByID(c, id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "ORDER_NOT_FOUND", "message": "Order not found"})
			return
		}
		logger.ErrorContext(c, "failed to get order", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(o))
}

// sessionError maps engine failures onto the app-flow status codes. The
// hardware flows never come through here; they answer 200 regardless.
func (a *API) sessionError(c *gin.Context, logger *slog.Logger, err error, msg string) {
	var unavailable *session.BikeUnavailableError
	var notActive *session.OrderNotActiveError

	switch {
	case errors.Is(err, session.ErrBikeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "BIKE_NOT_FOUND", "message": "Bike not found"})
	case errors.Is(err, session.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "USER_NOT_FOUND", "message": "User not found"})
	case errors.Is(err, session.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "ORDER_NOT_FOUND", "message": "Order not found"})
	case errors.Is(err, session.ErrAccountFrozen):
		c.JSON(http.StatusForbidden, gin.H{"code": "ACCOUNT_FROZEN", "message": "Account is frozen"})
	case errors.Is(err, session.ErrInsufficientBalance):
		c.JSON(http.StatusForbidden, gin.H{"code": "INSUFFICIENT_BALANCE", "message": "Insufficient balance"})
	case errors.Is(err, session.ErrUserMismatch):
		c.JSON(http.StatusForbidden, gin.H{"code": "USER_MISMATCH", "message": "Order belongs to a different user"})
	case errors.As(err, &unavailable):
		c.JSON(http.StatusForbidden, gin.H{"code": "BIKE_UNAVAILABLE", "message": unavailable.Error()})
	case errors.As(err, &notActive):
		c.JSON(http.StatusBadRequest, gin.H{"code": "ORDER_NOT_ACTIVE", "message": notActive.Error()})
	default:
		logger.ErrorContext(c, msg, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
