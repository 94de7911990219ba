package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/rentsync/internal/models"
	"github.com/langchou/rentsync/internal/service"
)

// CheckAvailability 页面使用的可用性查询，错误放在响应体中
func (h *Handler) CheckAvailability(c *gin.Context) {
	pickup, _ := strconv.ParseInt(c.Query("pickup_office_id"), 10, 64)
	dropoff, _ := strconv.ParseInt(c.Query("dropoff_office_id"), 10, 64)

	result := h.deps.Availability.Check(c.Request.Context(), c.Query("date_out"), c.Query("date_in"), pickup, dropoff)
	c.JSON(http.StatusOK, result)
}

// ListCars 获取车辆列表，带 start/end 时返回该时间段可租车辆
func (h *Handler) ListCars(c *gin.Context) {
	startStr, endStr := c.Query("start"), c.Query("end")
	if startStr == "" && endStr == "" {
		cars, err := h.deps.Cars.List(c.Request.Context())
		if err != nil {
			h.logger.Error("Failed to list cars", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list cars"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": cars})
		return
	}

	start, err := service.ParseDate(startStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start date"})
		return
	}
	end, err := service.ParseDate(endStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end date"})
		return
	}

	result, err := h.deps.Availability.ListAvailable(c.Request.Context(), models.Window{Start: start, End: end}, 0, 0)
	if err != nil {
		if errors.Is(err, service.ErrInvalidWindow) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to reconcile cars", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list cars"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":           result.Cars,
		"overlay":        result.Overlay,
		"remote_checked": result.RemoteChecked,
	})
}

// GetCar 获取单个车辆
func (h *Handler) GetCar(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid car ID"})
		return
	}

	car, err := h.deps.Cars.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Car not found"})
			return
		}
		h.logger.Error("Failed to get car", zap.Int64("car_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get car"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": car})
}
