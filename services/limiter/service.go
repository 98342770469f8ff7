package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/linkshield/cloaker/internal/kv"
	"github.com/linkshield/cloaker/internal/logger"
	"github.com/linkshield/cloaker/internal/models"
	"github.com/linkshield/cloaker/internal/repository"
	"github.com/linkshield/cloaker/internal/tracing"
	"github.com/linkshield/cloaker/internal/utils"
)

// Service owns both counting concerns of a click: the per-IP fixed-window
// rate limit in the key-value store and the atomic click quota counters in
// postgres.
type Service struct {
	log      logger.Logger
	store    kv.Store
	linkRepo repository.LinkRepository
}

func NewService(log logger.Logger, store kv.Store, linkRepo repository.LinkRepository) *Service {
	return &Service{log: log, store: store, linkRepo: linkRepo}
}

// IsRateLimited counts this request against the link's per-IP window and
// reports whether the limit is exceeded. Links without a limit never count.
// Store failures fail open; a degraded cache must not take traffic down.
func (s *Service) IsRateLimited(ctx context.Context, link *models.CloakedLink, ip string) bool {
	if link.RateLimitPerIP == nil || *link.RateLimitPerIP <= 0 || ip == "" {
		return false
	}
	span, ctx := opentracing.StartSpanFromContext(ctx, "LimiterService.IsRateLimited")
	defer span.Finish()
	tracing.TagComponentService(span)

	window := time.Duration(link.RateLimitWindowMinutes) * time.Minute
	if window <= 0 {
		window = 10 * time.Minute
	}
	key := fmt.Sprintf("rl:%s:%s", link.ID, ip)

	count, err := s.store.IncrementWindow(ctx, key, window)
	if err != nil {
		tracing.TraceErr(span, err)
		s.log.Warnf("rate limit store unavailable for link %s: %v", link.ID, err)
		return false
	}
	return count > int64(*link.RateLimitPerIP)
}

// ConsumeQuota resets the daily counter when the link-local day has rolled
// over, then atomically claims one click against both quotas. It returns
// false when either cap is already reached, so concurrent clicks past the
// cap lose the conditional update instead of racing the read.
func (s *Service) ConsumeQuota(ctx context.Context, link *models.CloakedLink) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "LimiterService.ConsumeQuota")
	defer span.Finish()
	tracing.TagComponentService(span)
	span.SetTag("linkId", link.ID)

	if s.needsDailyReset(link) {
		dayStart := startOfDay(utils.Now(), link.Location())
		reset, err := s.linkRepo.ResetDailyCounterIfStale(ctx, link.ID, dayStart)
		if err != nil {
			tracing.TraceErr(span, err)
			return false, errors.Wrap(err, "reset daily counter")
		}
		if reset {
			link.ClicksToday = 0
		}
	}

	claimed, err := s.linkRepo.IncrementClickCounters(ctx, link.ID, link.MaxClicksDaily, link.MaxClicksTotal)
	if err != nil {
		tracing.TraceErr(span, err)
		return false, errors.Wrap(err, "increment click counters")
	}
	return claimed, nil
}

// Quota scopes reported by QuotaExceeded.
const (
	QuotaScopeDaily = "daily"
	QuotaScopeTotal = "total"
)

// QuotaExceeded is the read-only check run before the admission pipeline.
// A daily counter from an earlier calendar day does not count as exhausted;
// the reset itself happens in ConsumeQuota, which is also the authoritative
// claim.
func (s *Service) QuotaExceeded(link *models.CloakedLink) (bool, string) {
	if link.MaxClicksDaily != nil && !s.needsDailyReset(link) && link.ClicksToday >= int64(*link.MaxClicksDaily) {
		return true, QuotaScopeDaily
	}
	if link.MaxClicksTotal != nil && link.ClicksCount >= int64(*link.MaxClicksTotal) {
		return true, QuotaScopeTotal
	}
	return false, ""
}

func (s *Service) needsDailyReset(link *models.CloakedLink) bool {
	if link.LastClickReset == nil {
		return link.ClicksToday > 0
	}
	return !utils.SameCalendarDay(*link.LastClickReset, utils.Now(), link.Location())
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
