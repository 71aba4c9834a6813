package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"reftrack/internal/models"
	"reftrack/internal/repository"

	"github.com/shopspring/decimal"
)

// Tier is one band of the rate table. Threshold is the cumulative
// commission volume of a code at which the band starts.
type Tier struct {
	Name      string          `json:"name"`
	Threshold decimal.Decimal `json:"threshold"`
	Rate      decimal.Decimal `json:"rate"`
}

// RatePolicy picks the tier for a code given its past non-reversed
// commission volume in the conversion's currency. It must be pure.
type RatePolicy interface {
	Tier(code string, cumulative decimal.Decimal) (Tier, error)
}

// TierTable is a RatePolicy banded by cumulative volume, sorted by threshold.
type TierTable []Tier

// ParseTierTable reads "name:threshold:rate" entries separated by commas,
// e.g. "base:0:0.05,gold:1000:0.08". Rates are fractions of the conversion
// amount. An empty string yields an empty table.
func ParseTierTable(raw string) (TierTable, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var table TierTable
	seen := map[string]bool{}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: tier %q must be name:threshold:rate", ErrInvalidInput, entry)
		}
		name := strings.TrimSpace(parts[0])
		threshold, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("%w: tier %q threshold: %v", ErrInvalidInput, name, err)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, fmt.Errorf("%w: tier %q rate: %v", ErrInvalidInput, name, err)
		}
		if name == "" || seen[name] {
			return nil, fmt.Errorf("%w: tier names must be unique and non-empty", ErrInvalidInput)
		}
		if threshold.IsNegative() || rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("%w: tier %q needs threshold >= 0 and rate in [0,1]", ErrInvalidInput, name)
		}
		seen[name] = true
		table = append(table, Tier{Name: name, Threshold: threshold, Rate: rate})
	}

	sort.Slice(table, func(i, j int) bool { return table[i].Threshold.LessThan(table[j].Threshold) })
	if !table[0].Threshold.IsZero() {
		return nil, fmt.Errorf("%w: the lowest tier must start at 0", ErrInvalidInput)
	}
	for i := 1; i < len(table); i++ {
		if table[i].Threshold.Equal(table[i-1].Threshold) {
			return nil, fmt.Errorf("%w: duplicate tier threshold %s", ErrInvalidInput, table[i].Threshold)
		}
	}
	return table, nil
}

func (t TierTable) Tier(_ string, cumulative decimal.Decimal) (Tier, error) {
	for i := len(t) - 1; i >= 0; i-- {
		if !cumulative.LessThan(t[i].Threshold) {
			return t[i], nil
		}
	}
	return Tier{}, ErrNoRatePolicy
}

// EvaluateBatch is the outcome of one resumable chunk of evaluation.
type EvaluateBatch struct {
	Commissions []models.Commission `json:"commissions"`
	Qualified   int                 `json:"qualified"`
	Deferred    int                 `json:"deferred"`
	Next        repository.Cursor   `json:"next"`
	Done        bool                `json:"done"`
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeQualified
	outcomeCommission
	outcomeDeferred
)

// CommissionEngine turns pending conversions into at most one commission
// each. Safety under overlapping runs comes from the conditional
// pending->qualified transition and the unique conversion_id, not from locks.
type CommissionEngine struct {
	store        *repository.Store
	policy       RatePolicy
	auditService *AuditService
	logger       *slog.Logger
	batchSize    int
	nowFn        func() time.Time
}

func NewCommissionEngine(store *repository.Store, policy RatePolicy, auditService *AuditService, logger *slog.Logger, batchSize int) *CommissionEngine {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &CommissionEngine{
		store:        store,
		policy:       policy,
		auditService: auditService,
		logger:       logger,
		batchSize:    batchSize,
		nowFn:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate processes every pending conversion with timestamp >= since and
// returns the commissions created by this call. Re-running over the same
// window creates nothing new. On cancellation the commissions of completed
// chunks are returned with ctx.Err().
func (e *CommissionEngine) Evaluate(ctx context.Context, since time.Time) ([]models.Commission, error) {
	cursor := repository.Cursor{Timestamp: since.UTC()}
	var created []models.Commission
	for {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		batch, err := e.EvaluateBatch(ctx, cursor, e.batchSize)
		if batch != nil {
			created = append(created, batch.Commissions...)
		}
		if err != nil {
			return created, err
		}
		if batch.Done {
			return created, nil
		}
		cursor = batch.Next
	}
}

// EvaluateBatch processes up to limit pending conversions after cursor.
// Next is the cursor to resume from; a restarted run from any earlier
// cursor is a no-op over conversions already settled.
func (e *CommissionEngine) EvaluateBatch(ctx context.Context, after repository.Cursor, limit int) (*EvaluateBatch, error) {
	if limit <= 0 {
		limit = e.batchSize
	}
	rows, err := e.store.PendingConversions(ctx, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending conversions: %w", err)
	}

	batch := &EvaluateBatch{Next: after, Done: len(rows) < limit}
	for i := range rows {
		conv := rows[i]
		if err := ctx.Err(); err != nil {
			batch.Done = false
			return batch, err
		}
		commission, result, err := e.evaluateOne(ctx, &conv)
		if err != nil {
			batch.Done = false
			return batch, err
		}
		switch result {
		case outcomeCommission:
			batch.Commissions = append(batch.Commissions, *commission)
			batch.Qualified++
		case outcomeQualified:
			batch.Qualified++
		case outcomeDeferred:
			batch.Deferred++
		}
		batch.Next = repository.Cursor{Timestamp: conv.Timestamp, ID: conv.ID}
	}
	return batch, nil
}

func (e *CommissionEngine) evaluateOne(ctx context.Context, conv *models.Conversion) (*models.Commission, outcome, error) {
	signup, err := e.store.GetSignupByUser(ctx, conv.UserID)
	if errors.Is(err, ErrNotFound) {
		// Signup and conversion may race across services; leave it pending.
		e.logger.Debug("Conversion has no signup yet, deferring", "order_id", conv.OrderID, "user_id", conv.UserID)
		return nil, outcomeDeferred, nil
	}
	if err != nil {
		return nil, outcomeSkipped, err
	}

	if !signup.Attributed() {
		return e.qualifyWithoutCommission(ctx, conv, "unattributed")
	}
	code, err := e.store.GetCode(ctx, *signup.Code)
	if errors.Is(err, ErrNotFound) {
		e.logger.Warn("Signup references unknown referral code", "code", *signup.Code, "user_id", signup.UserID)
		return e.qualifyWithoutCommission(ctx, conv, "unknown_code")
	}
	if err != nil {
		return nil, outcomeSkipped, err
	}

	var commission *models.Commission
	err = e.store.Transaction(ctx, func(tx *repository.Store) error {
		won, err := tx.TransitionConversion(ctx, conv.ID,
			[]models.ConversionStatus{models.ConversionPending}, models.ConversionQualified)
		if err != nil {
			return err
		}
		if !won {
			// Another run qualified it, or it was voided meanwhile.
			return nil
		}

		volume, err := tx.CommissionVolume(ctx, code.Code, conv.Currency)
		if err != nil {
			return err
		}
		cumulative := decimal.Zero
		for _, c := range volume {
			cumulative = cumulative.Add(c.Amount)
		}
		if e.policy == nil {
			return ErrNoRatePolicy
		}
		tier, err := e.policy.Tier(code.Code, cumulative)
		if err != nil {
			return err
		}

		now := e.nowFn()
		row := models.Commission{
			Code:         code.Code,
			ConversionID: conv.ID,
			Amount:       conv.Amount.Mul(tier.Rate).Round(2),
			Currency:     conv.Currency,
			Tier:         tier.Name,
			Rate:         tier.Rate,
			Status:       models.CommissionAccrued,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		inserted, err := tx.InsertCommission(ctx, &row)
		if err != nil {
			return err
		}
		if inserted {
			commission = &row
		}
		return nil
	})
	if errors.Is(err, ErrNoRatePolicy) {
		// The claim rolled back; a later run with a rate table settles it.
		e.logger.Warn("No commission rate for conversion, deferring", "order_id", conv.OrderID, "code", code.Code)
		return nil, outcomeDeferred, nil
	}
	if err != nil {
		return nil, outcomeSkipped, fmt.Errorf("failed to evaluate conversion %d: %w", conv.ID, err)
	}
	if commission == nil {
		e.logger.Debug("Conversion already evaluated", "order_id", conv.OrderID)
		return nil, outcomeSkipped, nil
	}

	e.auditService.LogAction("commission-engine", ActionCommissionAccrued, commission.Code, map[string]interface{}{
		"commission_id": commission.ID,
		"conversion_id": conv.ID,
		"order_id":      conv.OrderID,
		"amount":        commission.Amount.String(),
		"currency":      commission.Currency,
		"tier":          commission.Tier,
	})
	return commission, outcomeCommission, nil
}

func (e *CommissionEngine) qualifyWithoutCommission(ctx context.Context, conv *models.Conversion, reason string) (*models.Commission, outcome, error) {
	won, err := e.store.TransitionConversion(ctx, conv.ID,
		[]models.ConversionStatus{models.ConversionPending}, models.ConversionQualified)
	if err != nil {
		return nil, outcomeSkipped, fmt.Errorf("failed to qualify conversion %d: %w", conv.ID, err)
	}
	if !won {
		return nil, outcomeSkipped, nil
	}
	e.logger.Debug("Conversion qualified without commission", "order_id", conv.OrderID, "reason", reason)
	return nil, outcomeQualified, nil
}

// Void marks a conversion voided and reverses its commission. A paid
// commission is reversed too; recovering the money is the payout side's job.
func (e *CommissionEngine) Void(ctx context.Context, conversionID uint) (*models.Conversion, error) {
	var (
		conv     *models.Conversion
		reversed *models.Commission
		wasPaid  bool
		changed  bool
	)
	err := e.store.Transaction(ctx, func(tx *repository.Store) error {
		var err error
		conv, err = tx.GetConversion(ctx, conversionID)
		if err != nil {
			return err
		}
		if conv.Status == models.ConversionVoided {
			return nil
		}
		changed, err = tx.TransitionConversion(ctx, conv.ID,
			[]models.ConversionStatus{models.ConversionPending, models.ConversionQualified}, models.ConversionVoided)
		if err != nil || !changed {
			return err
		}
		conv.Status = models.ConversionVoided

		commission, err := tx.GetCommissionByConversion(ctx, conv.ID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if commission.Status == models.CommissionReversed {
			return nil
		}
		now := e.nowFn()
		ok, err := tx.TransitionCommission(ctx, commission.ID,
			[]models.CommissionStatus{models.CommissionAccrued, models.CommissionPaid},
			models.CommissionReversed, map[string]interface{}{"reversed_at": now})
		if err != nil {
			return err
		}
		if ok {
			wasPaid = commission.Status == models.CommissionPaid
			commission.Status = models.CommissionReversed
			commission.ReversedAt = &now
			reversed = commission
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to void conversion %d: %w", conversionID, err)
	}

	if changed {
		e.auditService.LogAction("billing", ActionConversionVoided, conv.OrderID, map[string]interface{}{"conversion_id": conv.ID})
	}
	if reversed != nil {
		if wasPaid {
			e.logger.Warn("Reversed a paid commission, clawback required", "commission_id", reversed.ID, "code", reversed.Code)
		}
		e.auditService.LogAction("billing", ActionCommissionReversed, reversed.Code, map[string]interface{}{
			"commission_id": reversed.ID,
			"conversion_id": conv.ID,
			"was_paid":      wasPaid,
			"amount":        reversed.Amount.String(),
		})
	}
	return conv, nil
}

// VoidOrder voids the conversion recorded for a billing order id.
func (e *CommissionEngine) VoidOrder(ctx context.Context, orderID string) (*models.Conversion, error) {
	conv, err := e.store.GetConversionByOrder(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return nil, err
	}
	return e.Void(ctx, conv.ID)
}

// MarkPaid records a successful payout. Repeating it is a no-op; a reversed
// commission cannot be paid.
func (e *CommissionEngine) MarkPaid(ctx context.Context, commissionID uint) (*models.Commission, error) {
	commission, err := e.store.GetCommission(ctx, commissionID)
	if err != nil {
		return nil, err
	}
	switch commission.Status {
	case models.CommissionPaid:
		return commission, nil
	case models.CommissionReversed:
		return nil, ErrInvalidTransition
	}

	now := e.nowFn()
	won, err := e.store.TransitionCommission(ctx, commission.ID,
		[]models.CommissionStatus{models.CommissionAccrued},
		models.CommissionPaid, map[string]interface{}{"paid_at": now})
	if err != nil {
		return nil, fmt.Errorf("failed to mark commission %d paid: %w", commissionID, err)
	}
	if !won {
		// Lost a race; report whatever state won.
		current, err := e.store.GetCommission(ctx, commissionID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.CommissionPaid {
			return current, nil
		}
		return nil, ErrInvalidTransition
	}

	commission.Status = models.CommissionPaid
	commission.PaidAt = &now
	e.auditService.LogAction("payout", ActionCommissionPaid, commission.Code, map[string]interface{}{
		"commission_id": commission.ID,
		"amount":        commission.Amount.String(),
	})
	return commission, nil
}

// ListAccrued feeds the payout collaborator, oldest first.
func (e *CommissionEngine) ListAccrued(ctx context.Context, limit int) ([]models.Commission, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return e.store.ListCommissions(ctx, models.CommissionAccrued, limit)
}
