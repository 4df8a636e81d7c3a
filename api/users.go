package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/cyclehub/rental-backend/internal/middleware"
	"github.com/cyclehub/rental-backend/user"
)

type userResponse struct {
	ID        int64           `json:"id"`
	RFIDCard  *string         `json:"rfidCard"`
	Username  string          `json:"username"`
	Phone     string          `json:"phone,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	Status    user.Status     `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

func toUserResponse(u user.User) userResponse {
	return userResponse{
		ID:        u.ID,
		RFIDCard:  u.RFIDCard,
		Username:  u.Username,
		Phone:     u.Phone,
		Balance:   u.Balance,
		Status:    u.Status,
		CreatedAt: u.CreatedAt,
	}
}

func (a *API) listUsersHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	offset, limit := pagination(c)
	users, err := a.ur.List(c, offset, limit)
	if err != nil {
		logger.ErrorContext(c, "failed to list users", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	total, err := a.ur.Count(c)
	if err != nil {
		logger.ErrorContext(c, "failed to count users", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	items := make([]userResponse, 0, len(users))
	for _, u := range users {
		items = append(items, toUserResponse(u))
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "items": items})
}

func (a *API) getUserHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "invalid user id"})
		return
	}

	u, err := a.ur.GetByID(c, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "USER_NOT_FOUND", "message": "User not found"})
			return
		}
		logger.ErrorContext(c, "failed to get user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, toUserResponse(u))
}

type updateUserRequest struct {
	Username *string `json:"username"`
	Phone    *string `json:"phone"`
	Status   *string `json:"status"`
}

func (a *API) updateUserHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "invalid user id"})
		return
	}

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	var status *user.Status
	if req.Status != nil {
		s := user.Status(*req.Status)
		if s != user.StatusActive && s != user.StatusFrozen {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "invalid status"})
			return
		}
		status = &s
	}

	u, err := a.ur.UpdateProfile(c, id, req.Username, req.Phone, status)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "USER_NOT_FOUND", "message": "User not found"})
			return
		}
		logger.ErrorContext(c, "failed to update user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, toUserResponse(u))
}

type bindCardRequest struct {
	RFIDCard string `json:"rfid_card" binding:"required"`
}

func (a *API) bindCardHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "invalid user id"})
		return
	}

	var req bindCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	u, err := a.ur.BindCard(c, id, req.RFIDCard)
	if err != nil {
		switch {
		case errors.Is(err, user.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"code": "USER_NOT_FOUND", "message": "User not found"})
		case errors.Is(err, user.ErrCardBound):
			c.JSON(http.StatusBadRequest, gin.H{"code": "CARD_BOUND", "message": "User already has a bound card"})
		case errors.Is(err, user.ErrCardInUse):
			c.JSON(http.StatusBadRequest, gin.H{"code": "CARD_IN_USE", "message": "Card is already bound to another user"})
		default:
			logger.ErrorContext(c, "failed to bind card", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	c.JSON(http.StatusOK, toUserResponse(u))
}

// pagination reads page/page_size query params with sane bounds.
func pagination(c *gin.Context) (offset, limit int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if size < 1 || size > 100 {
		size = 20
	}
	return (page - 1) * size, size
}
