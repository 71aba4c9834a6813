package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"reftrack/internal/config"
	"reftrack/internal/repository"
	"reftrack/internal/services"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	cfg       config.Config
	logger    *slog.Logger
	codes     *services.CodeGenerator
	resolver  *services.LinkResolver
	recorder  *services.EventRecorder
	engine    *services.CommissionEngine
	reports   *services.ReportingFacade
	qrService *services.QRService
}

func NewHandler(
	cfg config.Config,
	logger *slog.Logger,
	codes *services.CodeGenerator,
	resolver *services.LinkResolver,
	recorder *services.EventRecorder,
	engine *services.CommissionEngine,
	reports *services.ReportingFacade,
	qrService *services.QRService,
) *Handler {
	return &Handler{
		cfg:       cfg,
		logger:    logger,
		codes:     codes,
		resolver:  resolver,
		recorder:  recorder,
		engine:    engine,
		reports:   reports,
		qrService: qrService,
	}
}

// respondError maps service sentinels onto HTTP statuses. Anything
// unrecognised is logged and reported as a bare 500.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrCodeInactive), errors.Is(err, services.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, services.ErrCodeSpaceExhausted):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "path", c.FullPath(), "error", err)
		msg := "Internal server error"
		if errors.Is(err, services.ErrNoRatePolicy) {
			msg = "No commission rate policy configured"
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not an RFC 3339 timestamp", services.ErrInvalidInput, raw)
	}
	return t, nil
}

// window reads the optional ?from= and ?to= bounds of a report.
func window(c *gin.Context) (repository.Window, error) {
	from, err := parseTime(c.Query("from"))
	if err != nil {
		return repository.Window{}, err
	}
	to, err := parseTime(c.Query("to"))
	if err != nil {
		return repository.Window{}, err
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return repository.Window{}, fmt.Errorf("%w: from must be before to", services.ErrInvalidInput)
	}
	return repository.Window{From: from, To: to}, nil
}
