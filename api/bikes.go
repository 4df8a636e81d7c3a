package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cyclehub/rental-backend/bike"
	"github.com/cyclehub/rental-backend/internal/middleware"
)

type bikeResponse struct {
	ID            int64       `json:"id"`
	BikeCode      string      `json:"bikeCode"`
	Status        bike.Status `json:"status"`
	CurrentLat    *float64    `json:"currentLat"`
	CurrentLng    *float64    `json:"currentLng"`
	Battery       int         `json:"battery"`
	LastHeartbeat *time.Time  `json:"lastHeartbeat"`
	CreatedAt     time.Time   `json:"createdAt"`
}

func toBikeResponse(b bike.Bike) bikeResponse {
	return bikeResponse{
		ID:            b.ID,
		BikeCode:      b.Code,
		Status:        b.Status,
		CurrentLat:    b.CurrentLat,
		CurrentLng:    b.CurrentLng,
		Battery:       b.Battery,
		LastHeartbeat: b.LastHeartbeat,
		CreatedAt:     b.CreatedAt,
	}
}

type createBikeRequest struct {
	BikeCode string `json:"bike_code" binding:"required"`
}

func (a *API) createBikeHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	var req createBikeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	b, err := a.br.Create(c, req.BikeCode)
	if err != nil {
		logger.ErrorContext(c, "failed to create bike", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, toBikeResponse(b))
}

func (a *API) listBikesHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	var status *bike.Status
	if s := c.Query("status"); s != "" {
		st := bike.Status(s)
		if !st.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "invalid status filter"})
			return
		}
		status = &st
	}

	offset, limit := pagination(c)
	bikes, total, err := a.br.List(c, status, offset, limit)
	if err != nil {
		logger.ErrorContext(c, "failed to list bikes", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	items := make([]bikeResponse, 0, len(bikes))
	for _, b := range bikes {
		items = append(items, toBikeResponse(b))
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "items": items})
}

func (a *API) getBikeHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "invalid bike id"})
		return
	}

	b, err := a.br.GetByID(c, id)
	if err != nil {
		if errors.Is(err, bike.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "BIKE_NOT_FOUND", "message": "Bike not found"})
			return
		}
		logger.ErrorContext(c, "failed to get bike", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, toBikeResponse(b))
}

type setBikeStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// setBikeStatusHandler is the admin path for flagging a bike faulty or
// returning it to service. Session transitions never go through here.
func (a *API) setBikeStatusHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "invalid bike id"})
		return
	}

	var req setBikeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	status := bike.Status(req.Status)
	if !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "invalid status"})
		return
	}

	b, err := a.br.SetStatus(c, id, status)
	if err != nil {
		if errors.Is(err, bike.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "BIKE_NOT_FOUND", "message": "Bike not found"})
			return
		}
		logger.ErrorContext(c, "failed to set bike status", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, toBikeResponse(b))
}

type trajectoryResponse struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Mode       string    `json:"mode"`
	OrderID    *int64    `json:"orderId,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

func (a *API) bikeTrajectoryHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "invalid bike id"})
		return
	}

	var orderID *int64
	if s := c.Query("order_id"); s != "" {
		oid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "invalid order_id"})
			return
		}
		orderID = &oid
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))
	if limit < 1 || limit > 5000 {
		limit = 500
	}

	if _, err := a.br.GetByID(c, id); err != nil {
		if errors.Is(err, bike.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "BIKE_NOT_FOUND", "message": "Bike not found"})
			return
		}
		logger.ErrorContext(c, "failed to get bike", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	samples, err := a.tr.ListByBike(c, id, orderID, limit)
	if err != nil {
		logger.ErrorContext(c, "failed to list trajectory", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	items := make([]trajectoryResponse, 0, len(samples))
	for _, s := range samples {
		resp := trajectoryResponse{
			Lat:        s.Latitude,
			Lng:        s.Longitude,
			Mode:       s.Mode,
			RecordedAt: s.RecordedAt,
		}
		if s.OrderID.Valid {
			oid := s.OrderID.Int64
			resp.OrderID = &oid
		}
		items = append(items, resp)
	}
	c.JSON(http.StatusOK, items)
}

type logResponse struct {
	LogType   string    `json:"logType"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

func (a *API) bikeLogsHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "invalid bike id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit < 1 || limit > 1000 {
		limit = 100
	}

	entries, err := a.ar.ListByBike(c, id, limit)
	if err != nil {
		logger.ErrorContext(c, "failed to list system logs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	items := make([]logResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, logResponse{
			LogType:   string(e.LogType),
			Message:   e.Message,
			CreatedAt: e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, items)
}
