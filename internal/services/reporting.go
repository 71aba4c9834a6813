package services

import (
	"context"
	"math"

	"reftrack/internal/models"
	"reftrack/internal/repository"

	"github.com/shopspring/decimal"
)

// Totals are keyed by currency; amounts in different currencies are never summed.
type Totals map[string]decimal.Decimal

func (t Totals) add(currency string, amount decimal.Decimal) {
	t[currency] = t[currency].Add(amount)
}

type CodeReport struct {
	Code               string `json:"code"`
	Clicks             int64  `json:"clicks"`
	InactiveClicks     int64  `json:"inactive_clicks"`
	Signups            int64  `json:"signups"`
	Conversions        int64  `json:"conversions"`
	VoidedConversions  int64  `json:"voided_conversions"`
	Revenue            Totals `json:"revenue"`
	Commission         Totals `json:"commission"`
	PaidCommission     Totals `json:"paid_commission"`
	ReversedCommission Totals `json:"reversed_commission"`
}

type Funnel struct {
	Code               string  `json:"code"`
	Clicks             int64   `json:"clicks"`
	Signups            int64   `json:"signups"`
	Conversions        int64   `json:"conversions"`
	ClickToSignup      float64 `json:"click_to_signup"`
	SignupToConversion float64 `json:"signup_to_conversion"`
	ClickToConversion  float64 `json:"click_to_conversion"`
}

type AuditTrail struct {
	Code        string              `json:"code"`
	Conversions []models.Conversion `json:"conversions"`
	Commissions []models.Commission `json:"commissions"`
}

// ReportingFacade aggregates the ledger for dashboards. It never writes.
// Voided conversions and reversed commissions are excluded from the active
// totals and reported separately.
type ReportingFacade struct {
	store *repository.Store
}

func NewReportingFacade(store *repository.Store) *ReportingFacade {
	return &ReportingFacade{store: store}
}

func (f *ReportingFacade) CodeTotals(ctx context.Context, code string, w repository.Window) (*CodeReport, error) {
	if _, err := f.store.GetCode(ctx, code); err != nil {
		return nil, err
	}

	report := &CodeReport{
		Code:               code,
		Revenue:            Totals{},
		Commission:         Totals{},
		PaidCommission:     Totals{},
		ReversedCommission: Totals{},
	}

	var err error
	if report.Clicks, err = f.store.CountClicks(ctx, code, w, false); err != nil {
		return nil, err
	}
	if report.InactiveClicks, err = f.store.CountClicks(ctx, code, w, true); err != nil {
		return nil, err
	}
	if report.Signups, err = f.store.CountSignups(ctx, code, w); err != nil {
		return nil, err
	}

	conversions, err := f.store.ConversionsForCode(ctx, code, w)
	if err != nil {
		return nil, err
	}
	for _, c := range conversions {
		if c.Status == models.ConversionVoided {
			report.VoidedConversions++
			continue
		}
		report.Conversions++
		report.Revenue.add(c.Currency, c.Amount)
	}

	commissions, err := f.store.CommissionsForCode(ctx, code, w)
	if err != nil {
		return nil, err
	}
	for _, c := range commissions {
		switch c.Status {
		case models.CommissionReversed:
			report.ReversedCommission.add(c.Currency, c.Amount)
		case models.CommissionPaid:
			report.PaidCommission.add(c.Currency, c.Amount)
			report.Commission.add(c.Currency, c.Amount)
		default:
			report.Commission.add(c.Currency, c.Amount)
		}
	}
	return report, nil
}

func (f *ReportingFacade) Funnel(ctx context.Context, code string, w repository.Window) (*Funnel, error) {
	report, err := f.CodeTotals(ctx, code, w)
	if err != nil {
		return nil, err
	}
	return &Funnel{
		Code:               code,
		Clicks:             report.Clicks,
		Signups:            report.Signups,
		Conversions:        report.Conversions,
		ClickToSignup:      ratio(report.Signups, report.Clicks),
		SignupToConversion: ratio(report.Conversions, report.Signups),
		ClickToConversion:  ratio(report.Conversions, report.Clicks),
	}, nil
}

// AuditTrail lists every conversion and commission of a code, voided and
// reversed rows included.
func (f *ReportingFacade) AuditTrail(ctx context.Context, code string, w repository.Window) (*AuditTrail, error) {
	if _, err := f.store.GetCode(ctx, code); err != nil {
		return nil, err
	}
	conversions, err := f.store.ConversionsForCode(ctx, code, w)
	if err != nil {
		return nil, err
	}
	commissions, err := f.store.CommissionsForCode(ctx, code, w)
	if err != nil {
		return nil, err
	}
	return &AuditTrail{Code: code, Conversions: conversions, Commissions: commissions}, nil
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return math.Round(float64(num)/float64(den)*10000) / 10000
}
