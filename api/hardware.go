package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cyclehub/rental-backend/internal/middleware"
	"github.com/cyclehub/rental-backend/session"
)

type hardwareUnlockRequest struct {
	RFIDCard string  `json:"rfid_card" binding:"required"`
	BikeCode string  `json:"bike_code" binding:"required"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

// hardwareUnlockHandler is the device-initiated unlock: bike addressed by
// printed code, unknown cards auto-register. Always answers 200 with the
// outcome in the payload.
func (a *API) hardwareUnlockHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	var req hardwareUnlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "invalid request"})
		return
	}

	res, err := a.engine.UnlockByCode(c, req.RFIDCard, req.BikeCode, req.Lat, req.Lng)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": hardwareFailureMessage(logger, c, err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "unlocked",
		"orderId": res.Order.ID,
		"userId":  res.UserID,
		"balance": res.Balance,
	})
}

func hardwareFailureMessage(logger *slog.Logger, c *gin.Context, err error) string {
	var unavailable *session.BikeUnavailableError

	switch {
	case errors.Is(err, session.ErrBikeNotFound):
		return "bike not registered"
	case errors.Is(err, session.ErrAccountFrozen):
		return "account frozen"
	case errors.Is(err, session.ErrInsufficientBalance):
		return "insufficient balance"
	case errors.As(err, &unavailable):
		return unavailable.Error()
	default:
		logger.ErrorContext(c, "hardware unlock failed", "error", err)
		return "operation failed"
	}
}
