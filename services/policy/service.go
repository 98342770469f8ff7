package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	er "github.com/linkshield/cloaker/internal/errors"
	"github.com/linkshield/cloaker/internal/kv"
	"github.com/linkshield/cloaker/internal/logger"
	"github.com/linkshield/cloaker/internal/models"
	"github.com/linkshield/cloaker/internal/repository"
	"github.com/linkshield/cloaker/internal/tracing"
	"github.com/linkshield/cloaker/internal/utils"
)

const cacheTTL = 10 * time.Minute

// Service resolves the traffic policy for an incoming (host, slug) pair.
// Lookups on the serving path go through a cache-aside layer so postgres
// is off the hot path for repeat traffic.
type Service struct {
	log           logger.Logger
	store         kv.Store
	linkRepo      repository.LinkRepository
	domainRepo    repository.DomainRepository
	canonicalHost string
}

func NewService(log logger.Logger, store kv.Store, linkRepo repository.LinkRepository, domainRepo repository.DomainRepository, canonicalHost string) *Service {
	return &Service{
		log:           log,
		store:         store,
		linkRepo:      linkRepo,
		domainRepo:    domainRepo,
		canonicalHost: utils.NormalizeDomain(canonicalHost),
	}
}

// GetPolicy resolves the link serving slug on host. On the canonical host
// the slug is globally unique; on a custom domain the slug is scoped to the
// domain owner, so two users can serve the same slug on their own domains.
func (s *Service) GetPolicy(ctx context.Context, host, slug string) (*models.CloakedLink, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "PolicyService.GetPolicy")
	defer span.Finish()
	tracing.TagComponentService(span)
	span.SetTag("host", host)
	span.SetTag("slug", slug)

	host = utils.NormalizeDomain(host)
	key := cacheKey(host, slug)

	if cached, ok, err := s.store.Get(ctx, key); err == nil && ok {
		var link models.CloakedLink
		if err := json.Unmarshal([]byte(cached), &link); err == nil {
			return &link, nil
		}
		// poisoned entry, fall through to the database
		_ = s.store.Delete(ctx, key)
	} else if err != nil {
		s.log.Warnf("policy cache read failed: %v", err)
	}

	link, err := s.lookup(ctx, host, slug)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	if payload, err := json.Marshal(link); err == nil {
		if err := s.store.Set(ctx, key, string(payload), cacheTTL); err != nil {
			s.log.Warnf("policy cache write failed: %v", err)
		}
	}
	return link, nil
}

// lookup resolves the policy from postgres. Repository failures surface as
// ErrStoreUnavailable so callers fail closed instead of treating an outage
// as a server fault.
func (s *Service) lookup(ctx context.Context, host, slug string) (*models.CloakedLink, error) {
	if host == "" || host == s.canonicalHost {
		link, err := s.linkRepo.GetBySlug(ctx, slug)
		if err != nil {
			s.log.Errorf("link lookup by slug failed: %v", err)
			return nil, errors.Wrap(er.ErrStoreUnavailable, "get link by slug")
		}
		if link == nil {
			return nil, er.ErrPolicyNotFound
		}
		return link, nil
	}

	domain, err := s.domainRepo.GetVerifiedByDomain(ctx, host)
	if err != nil {
		s.log.Errorf("verified domain lookup failed: %v", err)
		return nil, errors.Wrap(er.ErrStoreUnavailable, "get verified domain")
	}
	if domain == nil {
		return nil, er.ErrPolicyNotFound
	}
	link, err := s.linkRepo.GetByUserAndSlug(ctx, domain.UserID, slug)
	if err != nil {
		s.log.Errorf("link lookup by user and slug failed: %v", err)
		return nil, errors.Wrap(er.ErrStoreUnavailable, "get link by user and slug")
	}
	if link == nil {
		return nil, er.ErrPolicyNotFound
	}
	return link, nil
}

// Invalidate drops every cached copy of a user's slug: the canonical host
// entry plus one entry per domain the user has registered. Called after any
// policy mutation; counter drift inside the TTL is acceptable, stale filter
// rules past a save are not.
func (s *Service) Invalidate(ctx context.Context, userID, slug string) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "PolicyService.Invalidate")
	defer span.Finish()
	tracing.TagComponentService(span)

	hosts := []string{s.canonicalHost}
	domains, err := s.domainRepo.ListByUser(ctx, userID)
	if err != nil {
		s.log.Warnf("listing domains for cache invalidation failed: %v", err)
	}
	for _, d := range domains {
		hosts = append(hosts, d.Domain)
	}
	for _, host := range hosts {
		if err := s.store.Delete(ctx, cacheKey(utils.NormalizeDomain(host), slug)); err != nil {
			s.log.Warnf("policy cache invalidation failed for %s/%s: %v", host, slug, err)
		}
	}
}

func cacheKey(host, slug string) string {
	return fmt.Sprintf("policy:%s:%s", host, slug)
}
