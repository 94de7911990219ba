package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/rentsync/internal/service"
)

// CronSync 定时任务触发的目录与价格同步
func (h *Handler) CronSync(c *gin.Context) {
	result, err := h.deps.Sync.Run(c.Request.Context())
	if err != nil {
		if errors.Is(err, service.ErrSyncInProgress) {
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
			return
		}
		h.logger.Error("Cron sync failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"cars":         result.Cars,
		"availability": result.Availability,
		"proposals":    result.Proposals,
		"partial":      result.Partial,
	})
}

// LastSync 最近一次同步结果
func (h *Handler) LastSync(c *gin.Context) {
	last := h.deps.Sync.LastResult()
	if last == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No sync has run yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": last})
}
