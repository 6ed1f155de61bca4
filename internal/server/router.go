// Package server exposes the engine over HTTP (gin) and health over gRPC.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/link-forwarding-service/internal/model"
	"github.com/teresa-solution/link-forwarding-service/internal/service"
)

const AdminTokenHeader = "X-Admin-Token"

// Pinger reports whether the backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	engine     *service.Engine
	admin      *service.AdminService
	pinger     Pinger
	adminToken string
}

func NewHandlers(engine *service.Engine, admin *service.AdminService, pinger Pinger, adminToken string) *Handlers {
	return &Handlers{engine: engine, admin: admin, pinger: pinger, adminToken: adminToken}
}

// NewRouter wires every route onto a fresh gin engine
func NewRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger())

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.POST("/events", h.HandleEvent)

	admin := api.Group("/admin")
	admin.Use(AdminAuth(h.adminToken))
	admin.GET("/overview", h.Overview)
	admin.GET("/tenants", h.ListTenants)
	admin.GET("/tenants/:platform_id", h.TenantDetail)
	admin.GET("/tenants/:platform_id/records", h.TenantRecords)
	admin.PUT("/tenants/:platform_id/active", h.SetActive)

	return r
}

func RespondError(c *gin.Context, msg string, code int) {
	c.JSON(code, gin.H{"error": msg})
}

func RespondSuccess(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondErr maps a domain error onto a status code. Store failures are not echoed.
func RespondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidEvent), errors.Is(err, model.ErrInvalidConfiguration):
		RespondError(c, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrTenantNotFound):
		RespondError(c, "tenant not found", http.StatusNotFound)
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		RespondError(c, "internal server error", http.StatusInternalServerError)
	}
}

// AdminAuth requires the configured token in the X-Admin-Token header.
// With no token configured the admin routes are closed.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			RespondError(c, "admin api disabled", http.StatusForbidden)
			c.Abort()
			return
		}
		given := c.GetHeader(AdminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			RespondError(c, "unauthorized", http.StatusUnauthorized)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequestLogger logs method, path, status and latency
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}

func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.pinger.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("Health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	RespondSuccess(c, gin.H{"status": "ok"})
}

func (h *Handlers) HandleEvent(c *gin.Context) {
	var ev service.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		RespondError(c, "invalid request body", http.StatusBadRequest)
		return
	}
	resp, err := h.engine.HandleEvent(c.Request.Context(), ev)
	if err != nil {
		RespondErr(c, err)
		return
	}
	RespondSuccess(c, resp)
}

func (h *Handlers) Overview(c *gin.Context) {
	o, err := h.admin.Overview(c.Request.Context())
	if err != nil {
		RespondErr(c, err)
		return
	}
	RespondSuccess(c, o)
}

func (h *Handlers) ListTenants(c *gin.Context) {
	tenants, err := h.admin.ListTenants(c.Request.Context())
	if err != nil {
		RespondErr(c, err)
		return
	}
	RespondSuccess(c, gin.H{"tenants": tenants})
}

func (h *Handlers) TenantDetail(c *gin.Context) {
	detail, err := h.admin.TenantDetail(c.Request.Context(), c.Param("platform_id"))
	if err != nil {
		RespondErr(c, err)
		return
	}
	RespondSuccess(c, detail)
}

// TenantRecords serves either the newest ?limit= records or the last ?days= window
func (h *Handlers) TenantRecords(c *gin.Context) {
	if raw, ok := c.GetQuery("limit"); ok {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			RespondError(c, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		records, err := h.admin.LatestRecords(c.Request.Context(), c.Param("platform_id"), limit)
		if err != nil {
			RespondErr(c, err)
			return
		}
		RespondSuccess(c, gin.H{"records": records})
		return
	}

	days := 0
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			RespondError(c, "days must be an integer", http.StatusBadRequest)
			return
		}
		days = n
	}
	records, err := h.admin.RecentRecords(c.Request.Context(), c.Param("platform_id"), days)
	if err != nil {
		RespondErr(c, err)
		return
	}
	RespondSuccess(c, gin.H{"records": records})
}

type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (h *Handlers) SetActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, "body must be {\"active\": bool}", http.StatusBadRequest)
		return
	}
	tenant, err := h.admin.SetActive(c.Request.Context(), c.Param("platform_id"), *req.Active)
	if err != nil {
		RespondErr(c, err)
		return
	}
	RespondSuccess(c, tenant)
}
