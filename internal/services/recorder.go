package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"reftrack/internal/models"
	"reftrack/internal/repository"

	"github.com/shopspring/decimal"
)

type ClickDTO struct {
	Code      string
	VisitorID string
	LinkID    *uint
	Timestamp time.Time
	IPAddress string
	UserAgent string
	Referrer  string
}

type ConversionDTO struct {
	OrderID   string
	UserID    string
	Amount    decimal.Decimal
	Currency  string
	Timestamp time.Time
}

// EventRecorder writes the click -> signup -> conversion funnel. Every write
// is idempotent on its natural key; repeated deliveries return the stored row.
type EventRecorder struct {
	store    *repository.Store
	enricher *ClickEnricher
	logger   *slog.Logger
	nowFn    func() time.Time
}

func NewEventRecorder(store *repository.Store, enricher *ClickEnricher, logger *slog.Logger) *EventRecorder {
	return &EventRecorder{
		store:    store,
		enricher: enricher,
		logger:   logger,
		nowFn:    time.Now,
	}
}

func (r *EventRecorder) timestamp(ts time.Time) time.Time {
	if ts.IsZero() {
		ts = r.nowFn()
	}
	return ts.UTC().Truncate(time.Microsecond)
}

// RecordClick always appends. Clicks on a deactivated code are kept and
// tagged CodeActive=false.
func (r *EventRecorder) RecordClick(ctx context.Context, dto ClickDTO) (*models.Click, error) {
	dto.VisitorID = strings.TrimSpace(dto.VisitorID)
	if dto.VisitorID == "" {
		return nil, fmt.Errorf("%w: visitor id is required", ErrInvalidInput)
	}

	code, err := r.store.GetCode(ctx, strings.TrimSpace(dto.Code))
	if err != nil {
		return nil, err
	}
	if dto.LinkID != nil {
		link, err := r.store.GetLink(ctx, *dto.LinkID)
		if err != nil {
			return nil, err
		}
		if link.Code != code.Code {
			return nil, fmt.Errorf("%w: link %d does not belong to code %s", ErrInvalidInput, link.ID, code.Code)
		}
	}

	click := models.Click{
		Code:       code.Code,
		VisitorID:  dto.VisitorID,
		LinkID:     dto.LinkID,
		Timestamp:  r.timestamp(dto.Timestamp),
		CodeActive: code.Active,
		Referrer:   truncate(dto.Referrer, 255),
	}
	r.enricher.Enrich(&click, dto.IPAddress, dto.UserAgent)

	if err := r.store.InsertClick(ctx, &click); err != nil {
		return nil, fmt.Errorf("failed to record click: %w", err)
	}
	return &click, nil
}

// AttributedCode applies first-click-wins: the code of the visitor's earliest
// click, ties broken by insertion order. A later click never overrides it.
func (r *EventRecorder) AttributedCode(ctx context.Context, visitorID string) (string, bool, error) {
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return "", false, nil
	}
	click, err := r.store.FirstClick(ctx, visitorID)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return click.Code, true, nil
}

// RecordSignup stamps the visitor's attributed code, or nil if there is none.
// Attribution is read once here and never applied retroactively. A repeated
// userID returns the stored signup with created=false.
func (r *EventRecorder) RecordSignup(ctx context.Context, userID, visitorID string, ts time.Time) (*models.Signup, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, false, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	if existing, err := r.store.GetSignupByUser(ctx, userID); err == nil {
		r.logger.Debug("Duplicate signup ignored", "user_id", userID)
		return existing, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	signup := models.Signup{
		UserID:    userID,
		VisitorID: strings.TrimSpace(visitorID),
		Timestamp: r.timestamp(ts),
	}
	code, ok, err := r.AttributedCode(ctx, signup.VisitorID)
	if err != nil {
		return nil, false, err
	}
	if ok {
		signup.Code = &code
	}

	inserted, err := r.store.InsertSignup(ctx, &signup)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record signup: %w", err)
	}
	if !inserted {
		existing, err := r.store.GetSignupByUser(ctx, userID)
		if err != nil {
			return nil, false, err
		}
		r.logger.Debug("Duplicate signup ignored", "user_id", userID)
		return existing, false, nil
	}

	if !ok {
		r.logger.Info("Unattributed signup recorded", "user_id", userID)
	}
	return &signup, true, nil
}

// RecordConversion inserts a pending conversion keyed by OrderID. A repeated
// OrderID returns the stored row unchanged, whatever the new amount.
//
// When the user has no signup yet the conversion is still stored and
// returned together with ErrUnknownUser; the commission engine settles it
// once the signup arrives.
func (r *EventRecorder) RecordConversion(ctx context.Context, dto ConversionDTO) (*models.Conversion, bool, error) {
	dto.OrderID = strings.TrimSpace(dto.OrderID)
	dto.UserID = strings.TrimSpace(dto.UserID)
	dto.Currency = strings.ToUpper(strings.TrimSpace(dto.Currency))
	if dto.OrderID == "" || dto.UserID == "" {
		return nil, false, fmt.Errorf("%w: order id and user id are required", ErrInvalidInput)
	}
	if dto.Amount.IsNegative() {
		return nil, false, fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
	}
	if !validCurrency(dto.Currency) {
		return nil, false, fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidInput)
	}

	conv := models.Conversion{
		OrderID:   dto.OrderID,
		UserID:    dto.UserID,
		Amount:    dto.Amount,
		Currency:  dto.Currency,
		Timestamp: r.timestamp(dto.Timestamp),
		Status:    models.ConversionPending,
	}
	inserted, err := r.store.InsertConversion(ctx, &conv)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record conversion: %w", err)
	}

	result := &conv
	if !inserted {
		existing, err := r.store.GetConversionByOrder(ctx, dto.OrderID)
		if err != nil {
			return nil, false, err
		}
		if !existing.Amount.Equal(dto.Amount) || existing.UserID != dto.UserID {
			r.logger.Warn("Redelivered order differs from stored conversion",
				"order_id", dto.OrderID, "stored_amount", existing.Amount.String(), "amount", dto.Amount.String())
		}
		result = existing
	}

	if _, err := r.store.GetSignupByUser(ctx, result.UserID); errors.Is(err, ErrNotFound) {
		r.logger.Warn("Conversion recorded before signup", "order_id", result.OrderID, "user_id", result.UserID)
		return result, inserted, ErrUnknownUser
	} else if err != nil {
		return nil, false, err
	}
	return result, inserted, nil
}

func validCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if c[i] < 'A' || c[i] > 'Z' {
			return false
		}
	}
	return true
}

// truncate cuts s to at most n bytes without splitting a rune. Invalid
// sequences are dropped first since postgres rejects them.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
