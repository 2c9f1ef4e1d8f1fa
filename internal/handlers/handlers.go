package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/courier-risk/internal/auth"
	"github.com/example/courier-risk/internal/logging"
	"github.com/example/courier-risk/internal/repository"
	"github.com/example/courier-risk/internal/usecase"
)

// RequestIDHeader carries the request identifier in and out of the service.
const RequestIDHeader = "X-Request-ID"

// Service is the application behaviour exposed over HTTP.
type Service interface {
	Check(ctx context.Context, phone string, providers []string) (*usecase.CheckResult, error)
	RefreshPhone(ctx context.Context, phone string) (*usecase.RefreshReport, error)
	ImportMetrics(ctx context.Context, in usecase.ImportInput) error
	DeleteMetric(ctx context.Context, id int64) error
	GetDashboard(ctx context.Context) (*usecase.Dashboard, error)
	Lookup(ctx context.Context, phone string) (*usecase.LookupResult, error)
	Recent(ctx context.Context, limit int) ([]repository.ProviderMetric, error)
	ProviderSettings(ctx context.Context) ([]usecase.ProviderView, error)
	UpdateProviderSettings(ctx context.Context, slug string, fields map[string]any) error
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc Service, authMiddleware gin.HandlerFunc, metricsHandler http.Handler, logger *zap.Logger) {
	h := &handler{svc: svc, logger: logger.Named("http")}

	router.Use(RequestID())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	api := router.Group("/api/v1", authMiddleware)
	api.GET("/check", h.check)

	admin := router.Group("/admin", authMiddleware, auth.RequireScope(auth.ScopeManage))
	admin.GET("/dashboard", h.dashboard)
	admin.GET("/lookup", h.lookup)
	admin.POST("/lookup/refresh", h.refresh)
	admin.GET("/metrics/recent", h.recent)
	admin.POST("/metrics", h.importMetrics)
	admin.DELETE("/metrics/:id", h.deleteMetric)
	admin.GET("/providers", h.providers)
	admin.PUT("/providers/:slug", h.updateProvider)
}

// RequestID assigns every request an identifier and stores it on the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		c.Request = c.Request.WithContext(logging.ContextWithRequestID(c.Request.Context(), requestID))
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}

type handler struct {
	svc    Service
	logger *zap.Logger
}

func (h *handler) check(c *gin.Context) {
	phone := c.Query("phone")
	if strings.TrimSpace(phone) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a valid phone number is required"})
		return
	}

	result, err := h.svc.Check(c.Request.Context(), phone, providersParam(c))
	if err != nil {
		h.fail(c, "check", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handler) dashboard(c *gin.Context) {
	dashboard, err := h.svc.GetDashboard(c.Request.Context())
	if err != nil {
		h.fail(c, "dashboard", err)
		return
	}
	c.JSON(http.StatusOK, dashboard)
}

func (h *handler) lookup(c *gin.Context) {
	result, err := h.svc.Lookup(c.Request.Context(), c.Query("phone"))
	if err != nil {
		h.fail(c, "lookup", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type refreshRequest struct {
	Phone string `json:"phone" binding:"required"`
}

func (h *handler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone is required"})
		return
	}

	report, err := h.svc.RefreshPhone(c.Request.Context(), req.Phone)
	if err != nil {
		h.fail(c, "refresh", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handler) recent(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = parsed
	}

	rows, err := h.svc.Recent(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "recent", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rows})
}

func (h *handler) importMetrics(c *gin.Context) {
	var in usecase.ImportInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.svc.ImportMetrics(c.Request.Context(), in); err != nil {
		h.fail(c, "import_metrics", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "imported"})
}

func (h *handler) deleteMetric(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be an integer"})
		return
	}

	if err := h.svc.DeleteMetric(c.Request.Context(), id); err != nil {
		h.fail(c, "delete_metric", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) providers(c *gin.Context) {
	views, err := h.svc.ProviderSettings(c.Request.Context())
	if err != nil {
		h.fail(c, "providers", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": views})
}

func (h *handler) updateProvider(c *gin.Context) {
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.svc.UpdateProviderSettings(c.Request.Context(), c.Param("slug"), fields); err != nil {
		h.fail(c, "update_provider", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// fail maps validation errors to 400 and everything else to 500.
func (h *handler) fail(c *gin.Context, operation string, err error) {
	if usecase.IsValidationError(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	requestID := logging.RequestIDFromContext(c.Request.Context())
	logging.WithOperation(h.logger, "http."+operation, requestID).Error("request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "request_id": requestID})
}

// providersParam accepts both ?providers=a,b and repeated ?providers=a&providers=b.
func providersParam(c *gin.Context) []string {
	var out []string
	for _, raw := range c.QueryArray("providers") {
		for _, slug := range strings.Split(raw, ",") {
			if slug = strings.TrimSpace(slug); slug != "" {
				out = append(out, slug)
			}
		}
	}
	return out
}
