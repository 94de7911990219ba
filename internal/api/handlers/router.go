package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/rentsync/internal/models"
	"github.com/langchou/rentsync/internal/service"
	"github.com/langchou/rentsync/pkg/ws"
)

// SyncRunner 定时同步入口
type SyncRunner interface {
	Run(ctx context.Context) (*service.SyncResult, error)
	LastResult() *service.SyncResult
}

// Availability 可用性查询
type Availability interface {
	Check(ctx context.Context, dateOut, dateIn string, pickupOfficeID, dropoffOfficeID int64) *service.CheckResult
	ListAvailable(ctx context.Context, window models.Window, pickupOfficeID, dropoffOfficeID int64) (*service.Reconciliation, error)
}

// Bookings 订单服务
type Bookings interface {
	Create(ctx context.Context, in service.CreateBookingInput) (*models.Booking, error)
	Get(ctx context.Context, id int64) (*models.Booking, error)
	Confirm(ctx context.Context, id int64) (*models.Booking, error)
	Cancel(ctx context.Context, id int64) (*models.Booking, error)
	Complete(ctx context.Context, id int64) (*models.Booking, error)
	Actions(b *models.Booking) []string
}

// CarStore 车辆查询
type CarStore interface {
	List(ctx context.Context) ([]*models.Car, error)
	GetByID(ctx context.Context, id int64) (*models.Car, error)
	SetStatus(ctx context.Context, id int64, status string) error
}

// OverrideStore 分类映射管理
type OverrideStore interface {
	List(ctx context.Context) ([]*models.CategoryOverride, error)
	Upsert(ctx context.Context, o *models.CategoryOverride) error
	Delete(ctx context.Context, renteonID int64) error
}

// ProposalStore 停用提议管理
type ProposalStore interface {
	ListByStatus(ctx context.Context, status string) ([]*models.DeactivationProposal, error)
	Apply(ctx context.Context, id int64) (*models.DeactivationProposal, error)
	Dismiss(ctx context.Context, id int64) (*models.DeactivationProposal, error)
}

// OutboxStore outbox 查询
type OutboxStore interface {
	ListByStatus(ctx context.Context, status string, limit int) ([]*models.RemoteOperation, error)
}

// Deps 处理器依赖
type Deps struct {
	Sync         SyncRunner
	Availability Availability
	Bookings     Bookings
	Cars         CarStore
	Overrides    OverrideStore
	Proposals    ProposalStore
	Outbox       OutboxStore
	NewRemote    service.RemoteFactory
	Hub          *ws.Hub
	CronSecret   string
	AdminSecret  string
}

// Handler HTTP 处理器
type Handler struct {
	logger   *zap.Logger
	deps     Deps
	upgrader websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(logger *zap.Logger, deps Deps) *Handler {
	return &Handler{
		logger: logger,
		deps:   deps,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		// 定时同步
		api.POST("/cron/sync", h.bearerAuth(h.deps.CronSecret), h.CronSync)

		// 可用性与车辆
		api.GET("/availability", h.CheckAvailability)
		api.GET("/cars", h.ListCars)
		api.GET("/cars/:id", h.GetCar)

		// 订单
		api.POST("/bookings", h.CreateBooking)
		api.GET("/bookings/:id", h.GetBooking)
		api.POST("/bookings/:id/confirm", h.ConfirmBooking)
		api.POST("/bookings/:id/cancel", h.CancelBooking)
		api.POST("/bookings/:id/complete", h.CompleteBooking)
	}

	admin := api.Group("/admin", h.bearerAuth(h.deps.AdminSecret))
	{
		admin.GET("/sync/last", h.LastSync)

		admin.PUT("/cars/:id/status", h.SetCarStatus)

		admin.GET("/category-overrides", h.ListOverrides)
		admin.PUT("/category-overrides/:renteon_id", h.PutOverride)
		admin.DELETE("/category-overrides/:renteon_id", h.DeleteOverride)

		admin.GET("/deactivations", h.ListDeactivations)
		admin.POST("/deactivations/:id/apply", h.ApplyDeactivation)
		admin.POST("/deactivations/:id/dismiss", h.DismissDeactivation)

		admin.GET("/outbox", h.ListOutbox)

		admin.GET("/remote/offices", h.ListRemoteOffices)
		admin.GET("/remote/equipments", h.ListRemoteEquipments)
		admin.GET("/remote/services", h.ListRemoteServices)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// bearerAuth 校验 Authorization: Bearer <secret>，未配置密钥时拒绝所有请求
func (h *Handler) bearerAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	if h.deps.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event feed disabled"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.deps.Hub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	clients := 0
	if h.deps.Hub != nil {
		clients = h.deps.Hub.ClientCount()
	}
	resp := gin.H{
		"status":     "ok",
		"ws_clients": clients,
	}
	if h.deps.Sync != nil {
		if last := h.deps.Sync.LastResult(); last != nil {
			resp["last_sync_at"] = last.FinishedAt.Format(time.RFC3339)
			resp["last_sync_success"] = last.Success
		}
	}
	c.JSON(http.StatusOK, resp)
}
