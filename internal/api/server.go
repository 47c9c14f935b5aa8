package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tfdgestao/relatorios/internal/auth"
	"github.com/tfdgestao/relatorios/internal/logs"
	"github.com/tfdgestao/relatorios/internal/metrics"
	"github.com/tfdgestao/relatorios/internal/models"
	"github.com/tfdgestao/relatorios/internal/schedule"
	"github.com/tfdgestao/relatorios/internal/users"
	"gorm.io/gorm"
)

type Server struct {
	service   *schedule.Service
	auth      *auth.Authenticator
	directory *users.Directory
	db        *gorm.DB
	metrics   *metrics.Metrics
	router    *gin.Engine
	http      *http.Server
}

func NewServer(service *schedule.Service, authenticator *auth.Authenticator, directory *users.Directory, db *gorm.DB, m *metrics.Metrics) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	server := &Server{
		service:   service,
		auth:      authenticator,
		directory: directory,
		db:        db,
		metrics:   m,
		router:    router,
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.healthz)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.router.POST("/api/v1/auth/login", s.login)

	api := s.router.Group("/api/v1")
	api.Use(s.auth.Middleware(), s.accessLog())

	manage := auth.RequireRole(models.RoleAdmin, models.RoleOperator)
	admin := auth.RequireRole(models.RoleAdmin)

	schedules := api.Group("/schedules")
	{
		schedules.GET("", s.listSchedules)
		schedules.GET("/armed", admin, s.armedSchedules)
		schedules.GET("/export", manage, s.exportSchedules)
		schedules.GET("/:id", s.getSchedule)
		schedules.POST("", manage, s.createSchedule)
		schedules.POST("/import", admin, s.importSchedules)
		schedules.POST("/sweep", admin, s.sweep)
		schedules.PUT("/:id", manage, s.updateSchedule)
		schedules.DELETE("/:id", manage, s.deleteSchedule)
		schedules.PUT("/:id/enable", manage, s.enableSchedule)
		schedules.PUT("/:id/disable", manage, s.disableSchedule)
		schedules.POST("/:id/run", manage, s.runSchedule)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logs.Info("[api] listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) healthz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "armed": len(s.service.Armed())})
}

func (s *Server) login(c *gin.Context) {
	var loginReq struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&loginReq); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := s.directory.Authenticate(c.Request.Context(), loginReq.Username, loginReq.Password)
	if err != nil {
		if errors.Is(err, users.ErrUnknownUser) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		writeError(c, err)
		return
	}

	token, err := s.auth.GenerateToken(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// writeError maps service errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	var verr *schedule.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "fields": verr.Fields})
	case errors.Is(err, schedule.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, schedule.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logs.CtxError(c.Request.Context(), "[api] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule ID"})
		return 0, false
	}
	return uint(id), true
}

// requestLogger tags every request with a log id and writes one line per
// request through the application logger.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := logs.WithNewLogID(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Log-Id", logs.GetLogID(ctx))

		start := time.Now()
		c.Next()

		logs.CtxInfo(ctx, "[api] %s %s %d %s %s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Microsecond), c.ClientIP())
	}
}

// accessLog persists authenticated requests; the rows feed the access_logs
// report type.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := models.AccessLog{
			UserID:    c.GetUint(auth.KeyUserID),
			Method:    c.Request.Method,
			Path:      c.Request.URL.Path,
			Status:    c.Writer.Status(),
			ClientIP:  c.ClientIP(),
			LatencyMs: time.Since(start).Milliseconds(),
		}
		if err := s.db.WithContext(context.WithoutCancel(c.Request.Context())).Create(&entry).Error; err != nil {
			logs.CtxWarn(c.Request.Context(), "[api] access log: %v", err)
		}
	}
}
