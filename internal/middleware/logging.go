// internal/middleware/logging.go
package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/coop-registry/internal/metrics"
	"github.com/javajoker/coop-registry/internal/models"
	"github.com/javajoker/coop-registry/internal/services"
	"github.com/javajoker/coop-registry/internal/utils"
)

const (
	requestIDHeader = "X-Request-ID"
	actionAdminCall = "ADMIN_REQUEST"
	maxAuditBody    = 64 << 10
)

// RequestID reuses an incoming X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(utils.RequestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics" {
			return
		}

		fields := logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).Milliseconds(),
			"ip":         c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
			"request_id": c.GetString(utils.RequestIDKey),
		}
		if userID, ok := utils.GetUserIDFromContext(c); ok {
			fields["user_id"] = userID
		}

		entry := logrus.WithFields(fields)
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("Request processed")
		case status >= http.StatusBadRequest:
			entry.Warn("Request processed")
		default:
			entry.Info("Request processed")
		}
	}
}

// Metrics records request counts and latency by route template.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}

// AuditLogMiddleware records every mutating admin request in the activity log.
// Only the names of submitted fields are kept, never their values.
func AuditLogMiddleware(activity *services.ActivityLogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		var requestBody []byte
		if c.Request.Body != nil {
			requestBody, _ = io.ReadAll(io.LimitReader(c.Request.Body, maxAuditBody))
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		start := time.Now()
		c.Next()

		entry := services.ActivityEntry{
			Action:      actionAdminCall,
			Description: c.Request.Method + " " + c.Request.URL.Path,
			Metadata: models.JSONB{
				"route":      c.FullPath(),
				"status":     c.Writer.Status(),
				"durationMs": time.Since(start).Milliseconds(),
				"requestId":  c.GetString(utils.RequestIDKey),
			},
			RequestMeta: services.RequestMeta{
				IPAddress: c.ClientIP(),
				UserAgent: c.Request.UserAgent(),
			},
		}
		if principal, ok := utils.GetPrincipalFromContext(c); ok {
			entry.UserID = &principal.SubjectID
		}
		if fields := submittedFields(requestBody); len(fields) > 0 {
			entry.Metadata["fields"] = fields
		}
		if resourceID := extractResourceID(c.Request.URL.Path); resourceID != "" {
			entry.Metadata["resourceType"] = extractResourceType(c.Request.URL.Path)
			entry.Metadata["resourceId"] = resourceID
		}

		activity.Log(c.Request.Context(), entry)
	}
}

func submittedFields(body []byte) []string {
	if len(body) == 0 {
		return nil
	}
	var requestData map[string]interface{}
	if err := json.Unmarshal(body, &requestData); err != nil {
		return nil
	}

	fields := make([]string, 0, len(requestData))
	for key := range requestData {
		fields = append(fields, key)
	}
	sort.Strings(fields)
	return fields
}

// extractResourceType returns the path segment after /v1/admin.
func extractResourceType(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, part := range parts {
		if part == "admin" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	if len(parts) >= 2 && parts[0] == "v1" {
		return parts[1]
	}
	return "unknown"
}

func extractResourceID(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for _, part := range parts {
		if _, err := uuid.Parse(part); err == nil {
			return part
		}
	}
	return ""
}
