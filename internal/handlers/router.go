package handlers

import (
	"net/http"

	"reftrack/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

func (h *Handler) SetupRouter(rateLimiter *services.IPRateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if h.cfg.AppEnv != "production" {
		r.Use(gin.Logger())
	}

	store := cookie.NewStore([]byte(h.cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   365 * 24 * 60 * 60,
		HttpOnly: true,
		Secure:   h.cfg.AppEnv == "production",
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionName, store))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	// Public redirects
	redirects := r.Group("/r")
	if rateLimiter != nil {
		redirects.Use(h.RateLimitMiddleware(rateLimiter))
	}
	redirects.Use(h.VisitorMiddleware())
	{
		redirects.GET("/:code", h.Redirect)
		redirects.GET("/:code/:link", h.Redirect)
	}

	api := r.Group("/api/v1")
	api.Use(h.APIKeyAuth())
	{
		api.POST("/codes", h.CreateCode)
		api.GET("/codes/:code", h.GetCode)
		api.POST("/codes/:code/deactivate", h.DeactivateCode)
		api.GET("/codes/:code/links", h.ListLinks)
		api.POST("/codes/:code/links", h.CreateLink)
		api.GET("/links/:id/qr", h.LinkQR)

		api.POST("/events/click", h.RecordClick)
		api.POST("/events/signup", h.RecordSignup)
		api.POST("/events/conversion", h.RecordConversion)

		api.POST("/conversions/:id/void", h.VoidConversion)
		api.POST("/orders/:order_id/void", h.VoidOrder)

		api.POST("/commissions/evaluate", h.Evaluate)
		api.GET("/commissions/accrued", h.ListAccrued)
		api.POST("/commissions/:id/paid", h.MarkPaid)

		api.GET("/reports/codes/:code", h.CodeReport)
		api.GET("/reports/codes/:code/funnel", h.Funnel)
		api.GET("/reports/codes/:code/audit", h.AuditTrail)
	}

	return r
}
