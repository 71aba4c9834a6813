package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"reftrack/internal/models"
	"reftrack/internal/repository"
	"reftrack/pkg/utils"
)

type CodeGeneratorConfig struct {
	MinLength int
	MaxLength int
	Attempts  int // per length, before widening
}

func (c CodeGeneratorConfig) withDefaults() CodeGeneratorConfig {
	if c.MinLength < utils.MinCodeLength {
		c.MinLength = utils.MinCodeLength
	}
	if c.MaxLength == 0 {
		c.MaxLength = 10
	}
	if c.MaxLength > utils.MaxCodeLength {
		c.MaxLength = utils.MaxCodeLength
	}
	if c.MaxLength < c.MinLength {
		c.MaxLength = c.MinLength
	}
	if c.Attempts < 1 {
		c.Attempts = 5
	}
	return c
}

type LinkDTO struct {
	Code        string
	BaseURL     string
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	UTMTerm     string
	UTMContent  string
}

// CodeGenerator issues referral codes and the tracking links built on them.
type CodeGenerator struct {
	store         *repository.Store
	resolver      *LinkResolver
	auditService  *AuditService
	logger        *slog.Logger
	cfg           CodeGeneratorConfig
	codeGenerator func(int) string
	nowFn         func() time.Time
}

func NewCodeGenerator(store *repository.Store, resolver *LinkResolver, auditService *AuditService, logger *slog.Logger, cfg CodeGeneratorConfig) *CodeGenerator {
	return &CodeGenerator{
		store:         store,
		resolver:      resolver,
		auditService:  auditService,
		logger:        logger,
		cfg:           cfg.withDefaults(),
		codeGenerator: utils.GenerateShortCode,
		nowFn:         func() time.Time { return time.Now().UTC() },
	}
}

// Generate returns the owner's active code, creating one if the owner has none.
// Candidates are retried on collision and widened one character at a time up
// to MaxLength; past that ErrCodeSpaceExhausted is returned.
func (g *CodeGenerator) Generate(ctx context.Context, ownerID string) (*models.ReferralCode, error) {
	code, _, err := g.Issue(ctx, ownerID)
	return code, err
}

// Issue is Generate that also reports whether the code was created by this call.
func (g *CodeGenerator) Issue(ctx context.Context, ownerID string) (*models.ReferralCode, bool, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, false, fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}

	existing, err := g.store.ActiveCodeForOwner(ctx, ownerID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	for length := g.cfg.MinLength; length <= g.cfg.MaxLength; length++ {
		for attempt := 0; attempt < g.cfg.Attempts; attempt++ {
			row := models.ReferralCode{
				Code:      g.codeGenerator(length),
				OwnerID:   ownerID,
				Active:    true,
				CreatedAt: g.nowFn(),
			}
			inserted, err := g.store.CreateCode(ctx, &row)
			if err != nil {
				return nil, false, fmt.Errorf("failed to store referral code: %w", err)
			}
			if inserted {
				g.auditService.LogAction(ownerID, ActionCodeIssued, row.Code, map[string]interface{}{"length": length})
				return &row, true, nil
			}

			// The conflict is either a code collision or a concurrent Generate
			// for the same owner that won the active slot.
			existing, err := g.store.ActiveCodeForOwner(ctx, ownerID)
			if err == nil {
				return existing, false, nil
			}
			if !errors.Is(err, ErrNotFound) {
				return nil, false, err
			}
			g.logger.Debug("Referral code collision", "length", length, "attempt", attempt+1)
		}
		if length < g.cfg.MaxLength {
			g.logger.Warn("Referral code collisions exhausted attempts, widening", "length", length+1)
		}
	}

	g.logger.Error("Referral code space exhausted", "max_length", g.cfg.MaxLength, "attempts", g.cfg.Attempts)
	return nil, false, ErrCodeSpaceExhausted
}

// Deactivate retires the owner's active code. Existing links keep resolving.
func (g *CodeGenerator) Deactivate(ctx context.Context, ownerID string) (*models.ReferralCode, error) {
	row, err := g.store.ActiveCodeForOwner(ctx, strings.TrimSpace(ownerID))
	if err != nil {
		return nil, err
	}

	now := g.nowFn()
	changed, err := g.store.DeactivateCode(ctx, row.Code, now)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate referral code: %w", err)
	}
	row.Active = false
	row.DeactivatedAt = &now
	if changed {
		g.resolver.Invalidate(ctx, row.Code)
		g.auditService.LogAction(ownerID, ActionCodeDeactivated, row.Code, nil)
	}
	return row, nil
}

// CreateLink stores a new immutable tracking link for an active code.
func (g *CodeGenerator) CreateLink(ctx context.Context, dto LinkDTO) (*models.TrackingLink, error) {
	dto.Code = strings.TrimSpace(dto.Code)
	dto.UTMSource = strings.TrimSpace(dto.UTMSource)
	dto.UTMMedium = strings.TrimSpace(dto.UTMMedium)
	dto.UTMCampaign = strings.TrimSpace(dto.UTMCampaign)
	if dto.UTMSource == "" || dto.UTMMedium == "" || dto.UTMCampaign == "" {
		return nil, fmt.Errorf("%w: utm_source, utm_medium and utm_campaign are required", ErrInvalidInput)
	}
	if err := validateBaseURL(dto.BaseURL); err != nil {
		return nil, err
	}

	code, err := g.store.GetCode(ctx, dto.Code)
	if err != nil {
		return nil, err
	}
	if !code.Active {
		return nil, ErrCodeInactive
	}

	link := models.TrackingLink{
		Code:        code.Code,
		BaseURL:     strings.TrimSpace(dto.BaseURL),
		UTMSource:   dto.UTMSource,
		UTMMedium:   dto.UTMMedium,
		UTMCampaign: dto.UTMCampaign,
		UTMTerm:     optional(dto.UTMTerm),
		UTMContent:  optional(dto.UTMContent),
		CreatedAt:   g.nowFn(),
	}
	if err := g.store.CreateLink(ctx, &link); err != nil {
		return nil, fmt.Errorf("failed to store tracking link: %w", err)
	}

	g.resolver.Invalidate(ctx, code.Code)
	g.auditService.LogAction(code.OwnerID, ActionLinkCreated, code.Code, map[string]interface{}{
		"link_id":      link.ID,
		"utm_campaign": link.UTMCampaign,
	})
	return &link, nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: base_url must be an absolute http(s) URL", ErrInvalidInput)
	}
	return nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func (g *CodeGenerator) Get(ctx context.Context, code string) (*models.ReferralCode, error) {
	return g.store.GetCode(ctx, strings.TrimSpace(code))
}

func (g *CodeGenerator) Link(ctx context.Context, id uint) (*models.TrackingLink, error) {
	return g.store.GetLink(ctx, id)
}

func (g *CodeGenerator) Links(ctx context.Context, code string) ([]models.TrackingLink, error) {
	if _, err := g.store.GetCode(ctx, code); err != nil {
		return nil, err
	}
	return g.store.ListLinks(ctx, code)
}
