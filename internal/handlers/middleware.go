package handlers

import (
	"crypto/subtle"
	"net/http"

	"reftrack/internal/services"
	"reftrack/pkg/utils"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	sessionName       = "reftrack_session"
	visitorSessionKey = "visitor_id"
	visitorContextKey = "visitor_id"
)

// APIKeyAuth guards the integration API with a shared key. An empty
// configured key leaves the API open, which is how local runs work.
func (h *Handler) APIKeyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.cfg.APIKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API Key required"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(h.cfg.APIKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API Key"})
			return
		}
		c.Next()
	}
}

func (h *Handler) RateLimitMiddleware(limiter *services.IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			return
		}
		c.Next()
	}
}

// VisitorMiddleware pins an anonymous visitor id in the session cookie so
// clicks and a later signup from the same browser share one identity.
func (h *Handler) VisitorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		visitorID, _ := session.Get(visitorSessionKey).(string)
		if visitorID == "" {
			visitorID = utils.GenerateID()
			session.Set(visitorSessionKey, visitorID)
			if err := session.Save(); err != nil {
				h.logger.Warn("Failed to persist visitor session", "error", err)
			}
		}
		c.Set(visitorContextKey, visitorID)
		c.Next()
	}
}

func visitorFromContext(c *gin.Context) string {
	return c.GetString(visitorContextKey)
}
