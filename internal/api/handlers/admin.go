package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/rentsync/internal/models"
)

// PutOverrideRequest 分类映射请求
type PutOverrideRequest struct {
	CategoryID int64  `json:"category_id" binding:"required"`
	Note       string `json:"note"`
}

// SetCarStatusRequest 车辆状态请求
type SetCarStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=ACTIVE INACTIVE"`
}

// SetCarStatus 手动上架或下架车辆
func (h *Handler) SetCarStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid car ID"})
		return
	}

	var req SetCarStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.deps.Cars.SetStatus(c.Request.Context(), id, req.Status); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Car not found"})
			return
		}
		h.logger.Error("Failed to set car status", zap.Int64("car_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to set car status"})
		return
	}

	h.logger.Info("Car status changed", zap.Int64("car_id", id), zap.String("status", req.Status))
	c.JSON(http.StatusOK, gin.H{"success": true, "status": req.Status})
}

// ListOverrides 列出分类映射
func (h *Handler) ListOverrides(c *gin.Context) {
	overrides, err := h.deps.Overrides.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list category overrides", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list category overrides"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": overrides})
}

// PutOverride 创建或更新分类映射
func (h *Handler) PutOverride(c *gin.Context) {
	renteonID, err := strconv.ParseInt(c.Param("renteon_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid renteon ID"})
		return
	}

	var req PutOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	override := &models.CategoryOverride{RenteonID: renteonID, CategoryID: req.CategoryID, Note: req.Note}
	if err := h.deps.Overrides.Upsert(c.Request.Context(), override); err != nil {
		h.logger.Error("Failed to save category override", zap.Int64("renteon_id", renteonID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save category override"})
		return
	}

	h.logger.Info("Category override saved",
		zap.Int64("renteon_id", renteonID),
		zap.Int64("category_id", req.CategoryID),
		zap.Int("version", override.Version))
	c.JSON(http.StatusOK, gin.H{"data": override})
}

// DeleteOverride 删除分类映射
func (h *Handler) DeleteOverride(c *gin.Context) {
	renteonID, err := strconv.ParseInt(c.Param("renteon_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid renteon ID"})
		return
	}

	if err := h.deps.Overrides.Delete(c.Request.Context(), renteonID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Category override not found"})
			return
		}
		h.logger.Error("Failed to delete category override", zap.Int64("renteon_id", renteonID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete category override"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListDeactivations 列出停用提议，默认只看待处理的
func (h *Handler) ListDeactivations(c *gin.Context) {
	status := c.DefaultQuery("status", models.ProposalPending)
	proposals, err := h.deps.Proposals.ListByStatus(c.Request.Context(), status)
	if err != nil {
		h.logger.Error("Failed to list deactivation proposals", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list deactivation proposals"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": proposals})
}

// ApplyDeactivation 确认停用提议，车辆下架
func (h *Handler) ApplyDeactivation(c *gin.Context) {
	h.reviewProposal(c, h.deps.Proposals.Apply, true)
}

// DismissDeactivation 驳回停用提议
func (h *Handler) DismissDeactivation(c *gin.Context) {
	h.reviewProposal(c, h.deps.Proposals.Dismiss, false)
}

func (h *Handler) reviewProposal(c *gin.Context, fn func(ctx context.Context, id int64) (*models.DeactivationProposal, error), applied bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid proposal ID"})
		return
	}

	proposal, err := fn(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Pending proposal not found"})
			return
		}
		h.logger.Error("Failed to review proposal", zap.Int64("proposal_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to review proposal"})
		return
	}

	h.logger.Info("Deactivation proposal reviewed",
		zap.Int64("proposal_id", id),
		zap.Int64("car_id", proposal.CarID),
		zap.String("status", proposal.Status))

	stats := models.SyncStats{TotalScanned: 1}
	if applied {
		stats.Deactivated = 1
	}
	c.JSON(http.StatusOK, gin.H{"data": proposal, "stats": stats})
}

// ListOutbox 列出远端操作记录
func (h *Handler) ListOutbox(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	ops, err := h.deps.Outbox.ListByStatus(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		h.logger.Error("Failed to list outbox", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list outbox"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ops})
}

// ListRemoteOffices 远端门店
func (h *Handler) ListRemoteOffices(c *gin.Context) {
	offices, err := h.deps.NewRemote().ListOffices(c.Request.Context())
	h.remoteResponse(c, "offices", offices, err)
}

// ListRemoteEquipments 远端附加设备
func (h *Handler) ListRemoteEquipments(c *gin.Context) {
	equipments, err := h.deps.NewRemote().ListEquipments(c.Request.Context())
	h.remoteResponse(c, "equipments", equipments, err)
}

// ListRemoteServices 远端附加服务
func (h *Handler) ListRemoteServices(c *gin.Context) {
	services, err := h.deps.NewRemote().ListServices(c.Request.Context())
	h.remoteResponse(c, "services", services, err)
}

func (h *Handler) remoteResponse(c *gin.Context, what string, data interface{}, err error) {
	if err != nil {
		h.logger.Warn("Remote listing failed", zap.String("resource", what), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Remote " + what + " unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

