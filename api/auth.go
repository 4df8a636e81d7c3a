package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/cyclehub/rental-backend/internal/middleware"
	"github.com/cyclehub/rental-backend/session"
	"github.com/cyclehub/rental-backend/user"
)

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Phone    string `json:"phone"`
	RFIDCard string `json:"rfid_card"`
}

func (a *API) registerHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	u, err := a.ur.Create(c, req.Username, req.Phone, a.cfg.InitialBalance)
	if err != nil {
		logger.ErrorContext(c, "failed to create user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, toUserResponse(u))
}

func (a *API) registerWithCardHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RFIDCard == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "username and rfid_card are required"})
		return
	}

	u, err := a.ur.CreateWithCard(c, req.RFIDCard, req.Username, req.Phone, a.cfg.InitialBalance)
	if err != nil {
		if errors.Is(err, user.ErrCardInUse) {
			c.JSON(http.StatusBadRequest, gin.H{"code": "CARD_IN_USE", "message": "Card is already bound to another user"})
			return
		}
		logger.ErrorContext(c, "failed to create user with card", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, toUserResponse(u))
}

type topupRequest struct {
	UserID int64           `json:"user_id" binding:"required"`
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

func (a *API) topupHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	var req topupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "amount must be positive"})
		return
	}

	u, err := a.ur.Topup(c, req.UserID, req.Amount)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "USER_NOT_FOUND", "message": "User not found"})
			return
		}
		logger.ErrorContext(c, "failed to top up balance", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, toUserResponse(u))
}

type autoRegisterRequest struct {
	RFIDCard string `json:"rfid_card" binding:"required"`
}

// autoRegisterHandler provisions an account for a card seen at the lock
// before any session is attempted. Idempotent: an already-bound card returns
// the existing user.
func (a *API) autoRegisterHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	var req autoRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	if u, err := a.ur.GetByRFID(c, req.RFIDCard); err == nil {
		c.JSON(http.StatusOK, gin.H{"created": false, "user": toUserResponse(u)})
		return
	} else if !errors.Is(err, user.ErrNotFound) {
		logger.ErrorContext(c, "failed to look up card", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	u, err := a.ur.CreateWithCard(c, req.RFIDCard, generatedUsername(req.RFIDCard), "", a.cfg.InitialBalance)
	if err != nil {
		logger.ErrorContext(c, "failed to auto-register user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"created": true, "user": toUserResponse(u)})
}

func generatedUsername(rfidCard string) string {
	suffix := rfidCard
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return "user_" + suffix
}

type validateCardRequest struct {
	RFIDUID string `json:"rfid_uid" binding:"required"`
	BikeID  int64  `json:"bike_id" binding:"required"`
	Action  string `json:"action" binding:"required"`
}

// validateCardHandler drives the card-at-the-lock flow over HTTP. Embedded
// clients do not branch on transport status codes, so every outcome is a 200
// with an in-payload success flag.
func (a *API) validateCardHandler(c *gin.Context) {
	var req validateCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "invalid request"})
		return
	}
	if req.Action != session.ActionUnlock && req.Action != session.ActionLock {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "unknown action: " + req.Action})
		return
	}

	out := a.engine.Authenticate(c, req.RFIDUID, req.BikeID, req.Action)

	resp := gin.H{"success": out.Success, "message": out.Message}
	if out.UserID != nil {
		resp["user_id"] = *out.UserID
	}
	if out.Balance != nil {
		resp["balance"] = *out.Balance
	}
	if out.OrderID != nil {
		resp["order_id"] = *out.OrderID
	}
	c.JSON(http.StatusOK, resp)
}
