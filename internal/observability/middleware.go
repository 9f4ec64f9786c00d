package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in and out of the gateway.
const RequestIDHeader = "X-Request-ID"

// sizeWriter counts the bytes written to the response.
type sizeWriter struct {
	gin.ResponseWriter
	size int
}

func (w *sizeWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

func (w *sizeWriter) WriteString(s string) (int, error) {
	n, err := w.ResponseWriter.WriteString(s)
	w.size += n
	return n, err
}

// RequestLoggingMiddleware assigns a request id, logs one line per request
// and records HTTP metrics. The client id is read back from the request
// context after the handlers ran, so auth can sit later in the chain.
func RequestLoggingMiddleware(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)
		c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), requestID))

		sw := &sizeWriter{ResponseWriter: c.Writer}
		c.Writer = sw

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		ctx := c.Request.Context()
		fields := map[string]interface{}{
			"method":        c.Request.Method,
			"path":          c.Request.URL.Path,
			"route":         route,
			"status":        status,
			"duration_ms":   duration.Milliseconds(),
			"response_size": sw.size,
			"ip":            c.ClientIP(),
		}

		switch {
		case len(c.Errors) > 0:
			logger.Error(ctx, "HTTP request failed", c.Errors.Last().Err, fields)
		case status >= http.StatusInternalServerError:
			logger.Error(ctx, "HTTP request failed", nil, fields)
		case status >= http.StatusBadRequest:
			logger.Warn(ctx, "HTTP request rejected", fields)
		default:
			logger.Info(ctx, "HTTP request completed", fields)
		}

		RecordHTTPMetrics(c.Request.Method, route, status, duration, sw.size)
	}
}

// RecoveryMiddleware turns a handler panic into a 500 with the standard
// error envelope.
func RecoveryMiddleware(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error(c.Request.Context(), "Panic recovered", nil, map[string]interface{}{
					"panic":  rec,
					"method": c.Request.Method,
					"path":   c.Request.URL.Path,
				})
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{
						"code":    "INTERNAL_ERROR",
						"message": "An unexpected error occurred",
					},
				})
			}
		}()

		c.Next()
	}
}

// HealthHandler serves the aggregated health report. Degraded is still 200;
// only unhealthy returns 503.
func HealthHandler(checker *HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		response := checker.GetHealthResponse(c.Request.Context())

		statusCode := http.StatusOK
		if response.Status == HealthStatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, response)
	}
}

// MetricsHandler serves every collected series as JSON.
func MetricsHandler(collector *MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"metrics":   collector.GetAll(),
			"timestamp": time.Now().UTC(),
		})
	}
}

// CORSWithLogging answers preflight requests and sets the CORS headers the
// API clients need, including the exposed request id.
func CORSWithLogging(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+RequestIDHeader)
		h.Set("Access-Control-Expose-Headers", RequestIDHeader)

		if c.Request.Method != http.MethodOptions {
			c.Next()
			return
		}

		if origin := c.GetHeader("Origin"); origin != "" {
			logger.Debug(c.Request.Context(), "CORS preflight request", map[string]interface{}{
				"origin": origin,
				"method": c.GetHeader("Access-Control-Request-Method"),
			})
		}
		c.AbortWithStatus(http.StatusNoContent)
	}
}
