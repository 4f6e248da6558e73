package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"payment-webhook-service/internal/webhook"
)

// SignatureHeaderKey is the gin context key under which the handler stores
// the (truncated) signature for the audit trail.
const SignatureHeaderKey = "auditSignature"

// AuditMiddleware logs one forensic entry per request on the webhook surface:
// client IP, truncated signature, body length and outcome. Raw bodies,
// secrets and payment instrument data are never logged.
func AuditMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	entry := logger.WithField("component", "middleware.audit")

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		fields := logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      status,
			"durationMs":  time.Since(start).Milliseconds(),
			"clientIp":    c.ClientIP(),
			"userAgent":   c.Request.UserAgent(),
			"bodyLength":  c.Request.ContentLength,
			"success":     status < 400,
		}
		if sig := c.GetString(SignatureHeaderKey); sig != "" {
			fields["signature"] = webhook.TruncateSignature(sig)
		}

		if status >= 400 {
			entry.WithFields(fields).Warn("webhook request rejected")
		} else {
			entry.WithFields(fields).Info("webhook request handled")
		}
	}
}
