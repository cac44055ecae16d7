package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const RequestIDHeader = "X-Request-ID"

// RequestID tags each request with an id, reusing one the caller supplied.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDHeader, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// RequestLogger logs one line per request, at warn for 4xx and error for 5xx.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := routePath(c)

		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		} else if c.Request.Method != "GET" {
			event = logger.Info()
		}

		event.
			Str("request_id", c.GetString(RequestIDHeader)).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("observability.http request")
	}
}

// RequestMetricsMiddleware records every route except the scrape endpoint.
func RequestMetricsMiddleware(node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return
		}
		RecordHTTPRequest(node, c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

func routePath(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return c.Request.URL.Path
}
