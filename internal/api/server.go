package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bridgeinspect/internal/records"
	"bridgeinspect/internal/snapshot"
)

type Server struct {
	Records  *records.Service
	Log      *slog.Logger
	Gatherer prometheus.Gatherer

	// Snapshot routes are registered only when both are set.
	Snapshots     *snapshot.Exporter
	SnapshotStore SnapshotStore
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	if s.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.GET("/schema", s.getSchema)
	api.POST("/:entity", s.createRecord)
	api.GET("/:entity", s.listRecords)
	api.GET("/:entity/:id", s.getRecord)
	api.PATCH("/:entity/:id", s.updateRecord)
	api.DELETE("/:entity/:id", s.deleteRecord)
	api.POST("/:entity/:id/restore", s.restoreRecord)
	api.GET("/:entity/:id/descendants", s.getDescendants)
	api.GET("/:entity/:id/tree", s.getTree)

	if s.Snapshots != nil && s.SnapshotStore != nil {
		api.POST("/snapshots", s.createSnapshot)
		api.GET("/snapshots", s.listSnapshots)
		api.GET("/snapshots/:name", s.getSnapshot)
	}
}

var statusByKind = map[string]int{
	records.KindValidation:              http.StatusBadRequest,
	records.KindInvalidFilterField:      http.StatusBadRequest,
	records.KindUnknownEntityType:       http.StatusNotFound,
	records.KindNotFound:                http.StatusNotFound,
	records.KindParentNotFound:          http.StatusUnprocessableEntity,
	records.KindCodeConflict:            http.StatusConflict,
	records.KindNameConflict:            http.StatusConflict,
	records.KindCodeGenerationExhausted: http.StatusServiceUnavailable,
	records.KindCascadeFailure:          http.StatusInternalServerError,
}

func (s *Server) writeError(c *gin.Context, err error) {
	kind := records.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger().Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "kind", kind, "error", err)
		if errors.Is(err, records.ErrCascadeFailure) {
			msg = "cascade failed"
		} else if kind == records.KindInternal {
			msg = "internal error"
		}
	}
	c.JSON(status, gin.H{"error": msg, "kind": kind})
}

func (s *Server) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

// RequestLogger logs one line per request.
func RequestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}
