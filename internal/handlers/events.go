package handlers

import (
	"errors"
	"net/http"

	"reftrack/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type ClickRequest struct {
	Code      string `json:"code" binding:"required"`
	VisitorID string `json:"visitor_id" binding:"required"`
	LinkID    *uint  `json:"link_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
}

type SignupRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	VisitorID string `json:"visitor_id"`
	Timestamp string `json:"timestamp,omitempty"`
}

type ConversionRequest struct {
	OrderID   string           `json:"order_id" binding:"required"`
	UserID    string           `json:"user_id" binding:"required"`
	Amount    *decimal.Decimal `json:"amount"`
	Currency  string           `json:"currency" binding:"required"`
	Timestamp string           `json:"timestamp,omitempty"`
}

// RecordClick ingests a click observed outside the redirect path.
func (h *Handler) RecordClick(c *gin.Context) {
	var req ClickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ts, err := parseTime(req.Timestamp)
	if err != nil {
		h.respondError(c, err)
		return
	}

	click, err := h.recorder.RecordClick(c.Request.Context(), services.ClickDTO{
		Code:      req.Code,
		VisitorID: req.VisitorID,
		LinkID:    req.LinkID,
		Timestamp: ts,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Referrer:  req.Referrer,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, click)
}

// RecordSignup answers 201 for a new signup and 200 for a redelivery.
func (h *Handler) RecordSignup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ts, err := parseTime(req.Timestamp)
	if err != nil {
		h.respondError(c, err)
		return
	}

	signup, created, err := h.recorder.RecordSignup(c.Request.Context(), req.UserID, req.VisitorID, ts)
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"signup": signup, "attributed": signup.Attributed()})
}

// RecordConversion answers 202 when the user has not signed up yet; the
// conversion is stored and settled once the signup arrives.
func (h *Handler) RecordConversion(c *gin.Context) {
	var req ConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Amount == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount is required"})
		return
	}
	ts, err := parseTime(req.Timestamp)
	if err != nil {
		h.respondError(c, err)
		return
	}

	conv, created, err := h.recorder.RecordConversion(c.Request.Context(), services.ConversionDTO{
		OrderID:   req.OrderID,
		UserID:    req.UserID,
		Amount:    *req.Amount,
		Currency:  req.Currency,
		Timestamp: ts,
	})
	switch {
	case errors.Is(err, services.ErrUnknownUser):
		c.JSON(http.StatusAccepted, gin.H{"conversion": conv, "created": created, "warning": err.Error()})
	case err != nil:
		h.respondError(c, err)
	case created:
		c.JSON(http.StatusCreated, gin.H{"conversion": conv, "created": true})
	default:
		c.JSON(http.StatusOK, gin.H{"conversion": conv, "created": false})
	}
}
