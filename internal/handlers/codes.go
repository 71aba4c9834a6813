package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"reftrack/internal/services"

	"github.com/gin-gonic/gin"
)

type CreateCodeRequest struct {
	OwnerID string `json:"owner_id" binding:"required"`
}

type DeactivateCodeRequest struct {
	OwnerID string `json:"owner_id" binding:"required"`
}

type CreateLinkRequest struct {
	BaseURL     string `json:"base_url" binding:"required"`
	UTMSource   string `json:"utm_source" binding:"required"`
	UTMMedium   string `json:"utm_medium" binding:"required"`
	UTMCampaign string `json:"utm_campaign" binding:"required"`
	UTMTerm     string `json:"utm_term,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`
}

// CreateCode returns the owner's active code, issuing one if needed. A new
// code answers 201, an existing one 200.
func (h *Handler) CreateCode(c *gin.Context) {
	var req CreateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	code, created, err := h.codes.Issue(c.Request.Context(), req.OwnerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, code)
}

func (h *Handler) GetCode(c *gin.Context) {
	code, err := h.codes.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, code)
}

// DeactivateCode retires a code on behalf of its owner. Deactivating an
// already inactive code is a no-op.
func (h *Handler) DeactivateCode(c *gin.Context) {
	var req DeactivateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	code, err := h.codes.Get(ctx, c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if code.OwnerID != strings.TrimSpace(req.OwnerID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Code belongs to another owner"})
		return
	}
	if !code.Active {
		c.JSON(http.StatusOK, code)
		return
	}

	retired, err := h.codes.Deactivate(ctx, code.OwnerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, retired)
}

func (h *Handler) ListLinks(c *gin.Context) {
	links, err := h.codes.Links(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"links": links})
}

func (h *Handler) CreateLink(c *gin.Context) {
	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	link, err := h.codes.CreateLink(c.Request.Context(), services.LinkDTO{
		Code:        c.Param("code"),
		BaseURL:     req.BaseURL,
		UTMSource:   req.UTMSource,
		UTMMedium:   req.UTMMedium,
		UTMCampaign: req.UTMCampaign,
		UTMTerm:     req.UTMTerm,
		UTMContent:  req.UTMContent,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"link":         link,
		"tracking_url": trackingURL(c, link.Code, link.ID),
	})
}

// LinkQR renders the tracking URL of a link as a PNG.
func (h *Handler) LinkQR(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid link id"})
		return
	}
	link, err := h.codes.Link(c.Request.Context(), uint(id))
	if err != nil {
		h.respondError(c, err)
		return
	}

	size, _ := strconv.Atoi(c.DefaultQuery("size", "256"))
	png, err := h.qrService.GeneratePNG(services.QROptions{
		Content: trackingURL(c, link.Code, link.ID),
		Size:    size,
		FgColor: c.Query("fg"),
		BgColor: c.Query("bg"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/png", png)
}

func trackingURL(c *gin.Context, code string, linkID uint) string {
	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/r/%s/%d", scheme, c.Request.Host, code, linkID)
}
