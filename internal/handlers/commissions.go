package handlers

import (
	"net/http"
	"strconv"

	"reftrack/internal/repository"

	"github.com/gin-gonic/gin"
)

type EvaluateRequest struct {
	Since   string `json:"since,omitempty"`
	AfterID uint   `json:"after_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// Evaluate runs the commission engine. With a limit it processes one
// resumable batch and returns the cursor to continue from.
func (h *Handler) Evaluate(c *gin.Context) {
	var req EvaluateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	since, err := parseTime(req.Since)
	if err != nil {
		h.respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	if req.Limit > 0 {
		batch, err := h.engine.EvaluateBatch(ctx, repository.Cursor{Timestamp: since, ID: req.AfterID}, req.Limit)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, batch)
		return
	}

	created, err := h.engine.Evaluate(ctx, since)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"created": len(created), "commissions": created})
}

func (h *Handler) ListAccrued(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	rows, err := h.engine.ListAccrued(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commissions": rows})
}

func (h *Handler) MarkPaid(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	commission, err := h.engine.MarkPaid(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, commission)
}

func (h *Handler) VoidConversion(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	conv, err := h.engine.Void(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) VoidOrder(c *gin.Context) {
	conv, err := h.engine.VoidOrder(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return uint(id), true
}
