package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"reftrack/internal/models"
	"reftrack/internal/repository"
	"reftrack/pkg/utils"
)

const (
	ActionCodeIssued         = "CODE_ISSUED"
	ActionCodeDeactivated    = "CODE_DEACTIVATED"
	ActionLinkCreated        = "LINK_CREATED"
	ActionCommissionAccrued  = "COMMISSION_ACCRUED"
	ActionCommissionPaid     = "COMMISSION_PAID"
	ActionCommissionReversed = "COMMISSION_REVERSED"
	ActionConversionVoided   = "CONVERSION_VOIDED"
)

type AuditService struct {
	store   *repository.Store
	logger  *slog.Logger
	entries chan models.AuditLog
}

func NewAuditService(store *repository.Store, logger *slog.Logger) *AuditService {
	return &AuditService{
		store:   store,
		logger:  logger,
		entries: make(chan models.AuditLog, 100),
	}
}

func (s *AuditService) Start(ctx context.Context) {
	s.logger.Info("Audit worker starting")
	for {
		select {
		case entry := <-s.entries:
			s.write(entry)
		case <-ctx.Done():
			s.drain()
			s.logger.Info("Audit worker stopping")
			return
		}
	}
}

func (s *AuditService) drain() {
	for {
		select {
		case entry := <-s.entries:
			s.write(entry)
		default:
			return
		}
	}
}

func (s *AuditService) write(entry models.AuditLog) {
	if _, err := s.store.AppendAudit(context.Background(), &entry); err != nil {
		s.logger.Error("Failed to write audit log", "action", entry.Action, "error", err)
	}
}

// LogAction enqueues an audit entry. It never blocks the caller; a full
// queue drops the entry with a warning.
func (s *AuditService) LogAction(actor, action, entityID string, details interface{}) {
	if s == nil {
		return
	}
	detailBytes, _ := json.Marshal(details)

	entry := models.AuditLog{
		EventID:   utils.GenerateID(),
		Actor:     actor,
		Action:    action,
		EntityID:  entityID,
		Details:   string(detailBytes),
		Timestamp: time.Now().UTC(),
	}

	select {
	case s.entries <- entry:
	default:
		s.logger.Warn("Audit channel full, dropping log", "action", action, "entity_id", entityID)
	}
}
