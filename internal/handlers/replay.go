package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/idempotency"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

// replayMiddleware runs a request at most once per Idempotency-Key and
// answers retries with the stored response. Requests without the header
// pass through.
func replayMiddleware(store IdempotencyStore, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if store == nil || key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "detail": err.Error()})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		fp := fingerprint(c.Request.Method, c.FullPath(), body)
		ctx := c.Request.Context()

		created, err := store.Begin(ctx, key, fp)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
			return
		}
		if !created && !resume(c, store, key, fp) {
			return
		}

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		status := rec.Status()
		done := context.WithoutCancel(ctx)
		if replayable(status) {
			err = store.MarkDone(done, key, rec.body.String(), status)
		} else {
			err = store.MarkFailed(done, key, fmt.Sprintf("status %d", status))
		}
		if err != nil {
			log.WithError(err).WithField("idempotency_key", key).Warn("api: could not record idempotent response")
		}
	}
}

// resume decides what to do with a key that is already taken. It writes
// the response itself and returns false unless the request should run.
func resume(c *gin.Context, store IdempotencyStore, key, fp string) bool {
	rec, err := store.Get(c.Request.Context(), key)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
		return false
	}
	if rec == nil {
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "request_in_progress"})
		return false
	}
	if rec.Fingerprint != fp {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "idempotency_key_reused",
			"detail": "the key was used for a different request",
		})
		return false
	}

	switch rec.Status {
	case idempotency.StatusDone:
		c.Header(HeaderReplayed, "true")
		c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
		c.Abort()
		return false
	case idempotency.StatusFailed:
		ok, err := store.Retry(c.Request.Context(), key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
			return false
		}
		if ok {
			return true
		}
	}
	c.Header("Retry-After", "1")
	c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "request_in_progress"})
	return false
}

// replayable reports whether a response is final for its request. Other
// responses leave the key retryable.
func replayable(status int) bool {
	return status < http.StatusBadRequest ||
		status == http.StatusNotFound ||
		status == http.StatusUnprocessableEntity
}

func fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method + "\n" + path + "\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

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
