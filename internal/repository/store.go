package repository

import (
	"context"
	"errors"
	"time"

	"reftrack/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("record not found")

// Cursor is a resume point over conversions ordered by (timestamp, id).
type Cursor struct {
	Timestamp time.Time `json:"timestamp"`
	ID        uint      `json:"id"`
}

// Window bounds a query by time. A zero bound is open.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) apply(q *gorm.DB, column string) *gorm.DB {
	if !w.From.IsZero() {
		q = q.Where(column+" >= ?", w.From.UTC())
	}
	if !w.To.IsZero() {
		q = q.Where(column+" < ?", w.To.UTC())
	}
	return q
}

// Store is the attribution ledger. Every unique key is guarded by a unique
// index and written with ON CONFLICT DO NOTHING, so concurrent identical
// writes resolve inside the database rather than through read-then-write.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Transaction runs fn against a store bound to a single transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) insertIfAbsent(ctx context.Context, row interface{}) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Referral codes

func (s *Store) CreateCode(ctx context.Context, code *models.ReferralCode) (bool, error) {
	return s.insertIfAbsent(ctx, code)
}

func (s *Store) GetCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	var row models.ReferralCode
	if err := s.db.WithContext(ctx).Where("code = ?", code).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

func (s *Store) ActiveCodeForOwner(ctx context.Context, ownerID string) (*models.ReferralCode, error) {
	var row models.ReferralCode
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND active = ?", ownerID, true).
		First(&row).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

func (s *Store) DeactivateCode(ctx context.Context, code string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.ReferralCode{}).
		Where("code = ? AND active = ?", code, true).
		Updates(map[string]interface{}{"active": false, "deactivated_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Tracking links

func (s *Store) CreateLink(ctx context.Context, link *models.TrackingLink) error {
	return s.db.WithContext(ctx).Create(link).Error
}

func (s *Store) GetLink(ctx context.Context, id uint) (*models.TrackingLink, error) {
	var row models.TrackingLink
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

func (s *Store) LatestLink(ctx context.Context, code string) (*models.TrackingLink, error) {
	var row models.TrackingLink
	err := s.db.WithContext(ctx).
		Where("code = ?", code).
		Order("created_at desc").Order("id desc").
		First(&row).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

func (s *Store) ListLinks(ctx context.Context, code string) ([]models.TrackingLink, error) {
	var rows []models.TrackingLink
	err := s.db.WithContext(ctx).Where("code = ?", code).Order("id asc").Find(&rows).Error
	return rows, err
}

// Clicks

func (s *Store) InsertClick(ctx context.Context, click *models.Click) error {
	return s.db.WithContext(ctx).Create(click).Error
}

// FirstClick returns the earliest click of a visitor, ties broken by insertion order.
func (s *Store) FirstClick(ctx context.Context, visitorID string) (*models.Click, error) {
	var row models.Click
	err := s.db.WithContext(ctx).
		Where("visitor_id = ?", visitorID).
		Order("timestamp asc").Order("id asc").
		First(&row).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

func (s *Store) CountClicks(ctx context.Context, code string, w Window, onlyInactive bool) (int64, error) {
	var n int64
	q := s.db.WithContext(ctx).Model(&models.Click{}).Where("code = ?", code)
	if onlyInactive {
		q = q.Where("code_active = ?", false)
	}
	err := w.apply(q, "timestamp").Count(&n).Error
	return n, err
}

// Signups

func (s *Store) InsertSignup(ctx context.Context, signup *models.Signup) (bool, error) {
	return s.insertIfAbsent(ctx, signup)
}

func (s *Store) GetSignupByUser(ctx context.Context, userID string) (*models.Signup, error) {
	var row models.Signup
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

func (s *Store) CountSignups(ctx context.Context, code string, w Window) (int64, error) {
	var n int64
	q := s.db.WithContext(ctx).Model(&models.Signup{}).Where("code = ?", code)
	err := w.apply(q, "timestamp").Count(&n).Error
	return n, err
}

// Conversions

func (s *Store) InsertConversion(ctx context.Context, conv *models.Conversion) (bool, error) {
	return s.insertIfAbsent(ctx, conv)
}

func (s *Store) GetConversion(ctx context.Context, id uint) (*models.Conversion, error) {
	var row models.Conversion
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

func (s *Store) GetConversionByOrder(ctx context.Context, orderID string) (*models.Conversion, error) {
	var row models.Conversion
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

// PendingConversions returns up to limit pending conversions strictly after the cursor.
func (s *Store) PendingConversions(ctx context.Context, after Cursor, limit int) ([]models.Conversion, error) {
	var rows []models.Conversion
	ts := after.Timestamp.UTC()
	err := s.db.WithContext(ctx).
		Where("status = ?", models.ConversionPending).
		Where("timestamp > ? OR (timestamp = ? AND id > ?)", ts, ts, after.ID).
		Order("timestamp asc").Order("id asc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// TransitionConversion moves a conversion to status `to` only if it is
// currently in one of `from`. The bool reports whether this call won.
func (s *Store) TransitionConversion(ctx context.Context, id uint, from []models.ConversionStatus, to models.ConversionStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Conversion{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ConversionsForCode returns conversions whose signup is attributed to code.
func (s *Store) ConversionsForCode(ctx context.Context, code string, w Window) ([]models.Conversion, error) {
	var rows []models.Conversion
	q := s.db.WithContext(ctx).Model(&models.Conversion{}).
		Select("conversions.*").
		Joins("JOIN signups ON signups.user_id = conversions.user_id").
		Where("signups.code = ?", code)
	err := w.apply(q, "conversions.timestamp").Order("conversions.id asc").Find(&rows).Error
	return rows, err
}

// Commissions

func (s *Store) InsertCommission(ctx context.Context, commission *models.Commission) (bool, error) {
	return s.insertIfAbsent(ctx, commission)
}

func (s *Store) GetCommission(ctx context.Context, id uint) (*models.Commission, error) {
	var row models.Commission
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

func (s *Store) GetCommissionByConversion(ctx context.Context, conversionID uint) (*models.Commission, error) {
	var row models.Commission
	if err := s.db.WithContext(ctx).Where("conversion_id = ?", conversionID).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

// TransitionCommission applies `to` (plus extra columns) only from the listed states.
func (s *Store) TransitionCommission(ctx context.Context, id uint, from []models.CommissionStatus, to models.CommissionStatus, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := s.db.WithContext(ctx).Model(&models.Commission{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CommissionsForCode lists commissions of a code, optionally narrowed to the
// given statuses, whose conversion falls inside the window.
func (s *Store) CommissionsForCode(ctx context.Context, code string, w Window, statuses ...models.CommissionStatus) ([]models.Commission, error) {
	var rows []models.Commission
	q := s.db.WithContext(ctx).Model(&models.Commission{}).
		Select("commissions.*").
		Joins("JOIN conversions ON conversions.id = commissions.conversion_id").
		Where("commissions.code = ?", code)
	if len(statuses) > 0 {
		q = q.Where("commissions.status IN ?", statuses)
	}
	err := w.apply(q, "conversions.timestamp").Order("commissions.id asc").Find(&rows).Error
	return rows, err
}

// CommissionVolume returns the non-reversed commission rows of a code in one currency.
func (s *Store) CommissionVolume(ctx context.Context, code, currency string) ([]models.Commission, error) {
	var rows []models.Commission
	err := s.db.WithContext(ctx).
		Select("id", "amount").
		Where("code = ? AND currency = ? AND status <> ?", code, currency, models.CommissionReversed).
		Find(&rows).Error
	return rows, err
}

func (s *Store) ListCommissions(ctx context.Context, status models.CommissionStatus, limit int) ([]models.Commission, error) {
	var rows []models.Commission
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id asc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Audit

func (s *Store) AppendAudit(ctx context.Context, entry *models.AuditLog) (bool, error) {
	return s.insertIfAbsent(ctx, entry)
}
