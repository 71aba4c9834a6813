package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) CodeReport(c *gin.Context) {
	w, err := window(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	report, err := h.reports.CodeTotals(c.Request.Context(), c.Param("code"), w)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) Funnel(c *gin.Context) {
	w, err := window(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	funnel, err := h.reports.Funnel(c.Request.Context(), c.Param("code"), w)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, funnel)
}

func (h *Handler) AuditTrail(c *gin.Context) {
	w, err := window(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	trail, err := h.reports.AuditTrail(c.Request.Context(), c.Param("code"), w)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, trail)
}
