package observability

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Health is the receiver snapshot served on /health.
type Health struct {
	SessionState    string `json:"session_state"`
	FramesCompleted uint64 `json:"frames_completed"`
	FramesEvicted   uint64 `json:"frames_evicted"`
	DuplicateChunks uint64 `json:"duplicate_chunks"`
	RejectedChunks  uint64 `json:"rejected_chunks"`
	DecodeErrors    uint64 `json:"decode_errors"`
	PendingFrames   int    `json:"pending_frames"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
}

// HealthFunc supplies the current snapshot; it is called per request
// from HTTP handler goroutines and must be safe for concurrent use.
type HealthFunc func() Health

// NewDebugServer builds the debug/metrics HTTP server. The caller owns
// its lifecycle; it serves /health and prometheus /metrics.
func NewDebugServer(addr string, corsOrigins []string, health HealthFunc, logger zerolog.Logger) *http.Server {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger))
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, health())
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &http.Server{Addr: addr, Handler: r}
}

// RequestLogger emits one structured log line per debug request.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("http_request")
	}
}
