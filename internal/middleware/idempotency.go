package middleware

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"safaripay/internal/cache"
	"safaripay/internal/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const IdempotencyHeader = "Idempotency-Key"

type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response for a repeated POST carrying the
// same Idempotency-Key from the same user. A repeat that arrives while the
// first is still running gets 409. 5xx responses and handler panics are not
// stored; the key is released so the client can retry.
func Idempotency(store cache.IdempotencyStore, ttl time.Duration, m *metrics.Metrics, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		if key == "" || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		if len(key) > 255 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Idempotency-Key too long"})
			return
		}
		scoped := fmt.Sprintf("%d:%s:%s", GetUserID(c), c.FullPath(), key)
		ctx := c.Request.Context()

		stored, started, err := store.Begin(ctx, scoped, ttl)
		if err != nil {
			logger.Error("idempotency store unavailable", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency store unavailable"})
			return
		}
		if !started {
			if stored == nil || stored.InFlight {
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "a request with this Idempotency-Key is in progress"})
				return
			}
			m.ObserveIdempotentReplay()
			c.Header("Idempotent-Replayed", "true")
			c.Data(stored.Status, stored.ContentType, stored.Body)
			c.Abort()
			return
		}

		// The outcome must be recorded even if the client has gone away.
		storeCtx := context.WithoutCancel(ctx)
		settled := false
		defer func() {
			if settled {
				return
			}
			if err := store.Release(storeCtx, scoped); err != nil {
				logger.Warn("release idempotency key", zap.Error(err))
			}
		}()

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		status := rec.Status()
		if status >= http.StatusInternalServerError {
			return
		}
		settled = true
		resp := cache.Response{Status: status, ContentType: rec.Header().Get("Content-Type"), Body: rec.body.Bytes()}
		if err := store.Complete(storeCtx, scoped, resp, ttl); err != nil {
			logger.Warn("store idempotent response", zap.Error(err))
		}
	}
}
