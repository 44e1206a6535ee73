package api

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	clientIDKey     = "client_id"
	unknownClientID = "unknown"
)

// RateLimit admits or rejects each request against limiter before the rest
// of the chain runs. Rejections get 429 with retry guidance; admitted
// responses carry the quota headers, overriding any the handler set.
func RateLimit(limiter RateLimiter, action string, maxRequests int) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := ClientID(c.Request)
		key := clientID
		if action != "" {
			key = action + ":" + clientID
		}

		decision := limiter.CheckLimit(key, maxRequests)
		headers := decision.Headers()
		c.Set(clientIDKey, clientID)

		if !decision.Allowed {
			for name, value := range headers {
				c.Header(name, value)
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"message":    "Too Many Requests",
				"retryAfter": decision.RetryAfter,
			})
			return
		}

		writer := &quotaWriter{ResponseWriter: c.Writer, headers: headers}
		c.Writer = writer
		c.Next()
		writer.apply()
	}
}

// ClientID picks the rate-limit key for a request: first X-Forwarded-For
// entry, then Client-IP, then the connection address, else "unknown".
// Every unidentifiable client shares the "unknown" counter.
func ClientID(r *http.Request) string {
	forwarded, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
	candidates := []string{
		strings.TrimSpace(forwarded),
		strings.TrimSpace(r.Header.Get("Client-IP")),
		remoteIP(r),
	}

	id, found := lo.Find(candidates, func(candidate string) bool {
		return candidate != ""
	})
	if !found {
		return unknownClientID
	}
	return id
}

func remoteIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func clientIDFrom(c *gin.Context) string {
	if value, ok := c.Get(clientIDKey); ok {
		if id, ok := value.(string); ok {
			return id
		}
	}
	return ClientID(c.Request)
}

// quotaWriter re-applies quota headers right before anything reaches the wire.
type quotaWriter struct {
	gin.ResponseWriter
	headers map[string]string
}

func (w *quotaWriter) apply() {
	if w.ResponseWriter.Written() {
		return
	}
	for name, value := range w.headers {
		w.ResponseWriter.Header().Set(name, value)
	}
}

func (w *quotaWriter) WriteHeader(code int) {
	w.apply()
	w.ResponseWriter.WriteHeader(code)
}

func (w *quotaWriter) WriteHeaderNow() {
	w.apply()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *quotaWriter) Write(data []byte) (int, error) {
	w.apply()
	return w.ResponseWriter.Write(data)
}

func (w *quotaWriter) WriteString(s string) (int, error) {
	w.apply()
	return w.ResponseWriter.WriteString(s)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client", clientIDFrom(c)),
		)
	}
}
