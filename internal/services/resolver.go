package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"reftrack/internal/models"
	"reftrack/internal/repository"
	"reftrack/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Resolution is what a redirect needs: where to send the visitor and which
// UTM parameters to append.
type Resolution struct {
	Code       string            `json:"code"`
	LinkID     uint              `json:"link_id"`
	BaseURL    string            `json:"base_url"`
	UTMParams  map[string]string `json:"utm_params"`
	CodeActive bool              `json:"code_active"`
}

// TargetURL merges the UTM parameters into the base URL's query, replacing
// any utm_* values already present there.
func (r Resolution) TargetURL() (string, error) {
	u, err := url.Parse(r.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	q := u.Query()
	for k, v := range r.UTMParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func resolutionFor(code *models.ReferralCode, link *models.TrackingLink) *Resolution {
	params := map[string]string{
		"utm_source":   link.UTMSource,
		"utm_medium":   link.UTMMedium,
		"utm_campaign": link.UTMCampaign,
	}
	if link.UTMTerm != nil {
		params["utm_term"] = *link.UTMTerm
	}
	if link.UTMContent != nil {
		params["utm_content"] = *link.UTMContent
	}
	return &Resolution{
		Code:       link.Code,
		LinkID:     link.ID,
		BaseURL:    link.BaseURL,
		UTMParams:  params,
		CodeActive: code.Active,
	}
}

// LinkResolver is read-only. Deactivated codes still resolve; only their
// active flag changes.
type LinkResolver struct {
	store  *repository.Store
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewLinkResolver(store *repository.Store, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *LinkResolver {
	return &LinkResolver{
		store:  store,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func cacheKey(code string) string {
	return "resolve:" + code
}

// Resolve expands code into its most recent tracking link.
func (r *LinkResolver) Resolve(ctx context.Context, code string) (*Resolution, error) {
	if !utils.IsValidCode(code) {
		return nil, ErrNotFound
	}

	// 1. Redis Cache Lookup
	if r.rdb != nil {
		val, err := r.rdb.Get(ctx, cacheKey(code)).Result()
		if err == nil {
			var res Resolution
			if err := json.Unmarshal([]byte(val), &res); err == nil {
				return &res, nil
			}
		} else if err != redis.Nil {
			r.logger.Debug("Resolve cache unavailable", "code", code, "error", err)
		}
	}

	// 2. DB Lookup
	row, err := r.store.GetCode(ctx, code)
	if err != nil {
		return nil, err
	}
	link, err := r.store.LatestLink(ctx, code)
	if err != nil {
		return nil, err
	}
	res := resolutionFor(row, link)

	if r.rdb != nil && r.ttl > 0 {
		data, _ := json.Marshal(res)
		if err := r.rdb.Set(ctx, cacheKey(code), data, r.ttl).Err(); err != nil {
			r.logger.Debug("Resolve cache write failed", "code", code, "error", err)
		}
	}
	return res, nil
}

// ResolveLink resolves a specific link, which must belong to code.
func (r *LinkResolver) ResolveLink(ctx context.Context, code string, linkID uint) (*Resolution, error) {
	if !utils.IsValidCode(code) {
		return nil, ErrNotFound
	}
	link, err := r.store.GetLink(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if link.Code != code {
		return nil, ErrNotFound
	}
	row, err := r.store.GetCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return resolutionFor(row, link), nil
}

// Invalidate drops the cached resolution of code.
func (r *LinkResolver) Invalidate(ctx context.Context, code string) {
	if r == nil || r.rdb == nil {
		return
	}
	if err := r.rdb.Del(ctx, cacheKey(code)).Err(); err != nil {
		r.logger.Warn("Failed to invalidate resolve cache", "code", code, "error", err)
	}
}
