package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/rentsync/internal/models"
	"github.com/langchou/rentsync/internal/service"
)

// CreateBookingRequest 下单请求
type CreateBookingRequest struct {
	CarID           int64  `json:"car_id" binding:"required"`
	StartDate       string `json:"start_date" binding:"required"`
	EndDate         string `json:"end_date" binding:"required"`
	PickupOfficeID  int64  `json:"pickup_office_id"`
	DropoffOfficeID int64  `json:"dropoff_office_id"`
	CustomerName    string `json:"customer_name" binding:"required"`
	CustomerEmail   string `json:"customer_email" binding:"required,email"`
}

// bookingStatus 订单错误对应的 HTTP 状态码
func bookingStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidWindow):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrBookingConflict),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrCarInactive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) bookingError(c *gin.Context, err error) {
	status := bookingStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Booking request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "Internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// CreateBooking 创建订单
func (h *Handler) CreateBooking(c *gin.Context) {
	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start, err := service.ParseDate(req.StartDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start_date"})
		return
	}
	end, err := service.ParseDate(req.EndDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end_date"})
		return
	}

	booking, err := h.deps.Bookings.Create(c.Request.Context(), service.CreateBookingInput{
		CarID:           req.CarID,
		StartDate:       start,
		EndDate:         end,
		PickupOfficeID:  req.PickupOfficeID,
		DropoffOfficeID: req.DropoffOfficeID,
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
	})
	if err != nil {
		h.bookingError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": booking, "actions": h.deps.Bookings.Actions(booking)})
}

// GetBooking 获取订单
func (h *Handler) GetBooking(c *gin.Context) {
	h.withBookingID(c, h.deps.Bookings.Get)
}

// ConfirmBooking 确认订单
func (h *Handler) ConfirmBooking(c *gin.Context) {
	h.withBookingID(c, h.deps.Bookings.Confirm)
}

// CancelBooking 取消订单
func (h *Handler) CancelBooking(c *gin.Context) {
	h.withBookingID(c, h.deps.Bookings.Cancel)
}

// CompleteBooking 完成订单
func (h *Handler) CompleteBooking(c *gin.Context) {
	h.withBookingID(c, h.deps.Bookings.Complete)
}

func (h *Handler) withBookingID(c *gin.Context, fn func(ctx context.Context, id int64) (*models.Booking, error)) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid booking ID"})
		return
	}

	booking, err := fn(c.Request.Context(), id)
	if err != nil {
		h.bookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": booking, "actions": h.deps.Bookings.Actions(booking)})
}
