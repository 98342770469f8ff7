package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	"github.com/linkshield/cloaker/config"
	"github.com/linkshield/cloaker/internal/enum"
	er "github.com/linkshield/cloaker/internal/errors"
	"github.com/linkshield/cloaker/internal/logger"
	"github.com/linkshield/cloaker/internal/models"
	"github.com/linkshield/cloaker/internal/repository"
	"github.com/linkshield/cloaker/internal/tracing"
	"github.com/linkshield/cloaker/internal/utils"
)

// Resolver is the DNS surface verification needs. *net.Resolver satisfies
// it; tests plug in a fake.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type Service struct {
	log      logger.Logger
	cfg      *config.DomainConfig
	repos    *repository.Repositories
	resolver Resolver
}

func NewService(log logger.Logger, cfg *config.DomainConfig, repos *repository.Repositories, resolver Resolver) *Service {
	return &Service{
		log:      log,
		cfg:      cfg,
		repos:    repos,
		resolver: resolver,
	}
}

// Register creates a pending domain for the user. The verification token
// is generated on insert; the caller shows the user which records to create.
func (s *Service) Register(ctx context.Context, userID, rawDomain string) (*models.CloakerDomain, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainService.Register")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("request.domain", rawDomain)

	name := utils.NormalizeDomain(rawDomain)
	if name == "" || !strings.Contains(name, ".") {
		return nil, errors.Wrap(er.ErrInvalidConfiguration, "domain name is not valid")
	}

	existing, err := s.repos.DomainRepository.GetByDomain(ctx, name)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if existing != nil {
		if existing.UserID == userID {
			return existing, nil
		}
		return nil, er.ErrDomainAlreadyRegistered
	}

	domain := &models.CloakerDomain{
		UserID: userID,
		Domain: name,
	}
	if err := s.repos.DomainRepository.Register(ctx, domain); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return domain, nil
}

// Verify runs the DNS checks for a domain and advances its lifecycle.
// Verification is idempotent; a domain that is already fully active skips
// the DNS checks and only refreshes its last check timestamp. Repeat
// attempts inside the recheck window are rejected with ErrVerifyTooSoon so
// the resolver is not hammered.
//
// Ownership needs the challenge TXT record to carry the token and the apex
// A record to point at the ingress address. SSL advances one step per
// successful check, mirroring the certificate issuance that runs out of
// band.
func (s *Service) Verify(ctx context.Context, userID, domainID string) (*models.CloakerDomain, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainService.Verify")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("request.domainId", domainID)

	domain, err := s.repos.DomainRepository.GetByID(ctx, domainID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if domain == nil || domain.UserID != userID {
		return nil, er.ErrDomainNotFound
	}

	if domain.IsVerified && domain.SSLStatus == enum.SSLStatusActive {
		span.LogFields(tracingLog.Bool("result.alreadyVerified", true))
		// the no-op still counts as a check
		now := utils.Now()
		domain.LastCheckAt = &now
		if err := s.repos.DomainRepository.UpdateStatus(ctx, domain); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		return domain, nil
	}

	if domain.LastCheckAt != nil {
		minGap := time.Duration(s.cfg.MinRecheckMinutes) * time.Minute
		if utils.Now().Sub(*domain.LastCheckAt) < minGap {
			return nil, er.ErrVerifyTooSoon
		}
	}

	return s.runChecks(ctx, domain)
}

// Recheck is the cron entry point; it skips the recheck throttle because
// the scheduler already paces itself.
func (s *Service) Recheck(ctx context.Context, domain *models.CloakerDomain) (*models.CloakerDomain, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainService.Recheck")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("request.domainId", domain.ID)

	return s.runChecks(ctx, domain)
}

func (s *Service) runChecks(ctx context.Context, domain *models.CloakerDomain) (*models.CloakerDomain, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainService.runChecks")
	defer span.Finish()
	tracing.TagComponentService(span)

	now := utils.Now()
	domain.LastCheckAt = &now

	txtOK := s.checkOwnershipRecord(ctx, span, domain)
	aOK := s.checkIngressRecord(ctx, span, domain)

	if txtOK && aOK {
		domain.DNSStatus = enum.DNSStatusVerified
		if !domain.IsVerified {
			domain.IsVerified = true
			domain.VerifiedAt = &now
		}
		domain.SSLStatus = advanceSSL(domain.SSLStatus)
	} else {
		domain.DNSStatus = enum.DNSStatusFailed
		domain.IsVerified = false
		domain.VerifiedAt = nil
		if domain.SSLStatus != enum.SSLStatusActive {
			domain.SSLStatus = enum.SSLStatusPending
		}
	}

	span.LogFields(
		tracingLog.Bool("result.txtRecord", txtOK),
		tracingLog.Bool("result.aRecord", aOK),
		tracingLog.String("result.dnsStatus", domain.DNSStatus.String()),
		tracingLog.String("result.sslStatus", domain.SSLStatus.String()),
	)

	if err := s.repos.DomainRepository.UpdateStatus(ctx, domain); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return domain, nil
}

func (s *Service) checkOwnershipRecord(ctx context.Context, span opentracing.Span, domain *models.CloakerDomain) bool {
	challenge := fmt.Sprintf("%s.%s", s.cfg.TXTPrefix, domain.Domain)
	records, err := s.resolver.LookupTXT(ctx, challenge)
	if err != nil {
		span.LogKV("txt.lookupError", err.Error())
		return false
	}
	for _, record := range records {
		if strings.TrimSpace(record) == domain.VerificationToken {
			return true
		}
	}
	return false
}

func (s *Service) checkIngressRecord(ctx context.Context, span opentracing.Span, domain *models.CloakerDomain) bool {
	addrs, err := s.resolver.LookupHost(ctx, domain.Domain)
	if err != nil {
		span.LogKV("a.lookupError", err.Error())
		return false
	}
	for _, addr := range addrs {
		if addr == s.cfg.IngressIP {
			return true
		}
	}
	return false
}

func advanceSSL(status enum.SSLStatus) enum.SSLStatus {
	switch status {
	case enum.SSLStatusPending, enum.SSLStatusFailed:
		return enum.SSLStatusProvisioning
	case enum.SSLStatusProvisioning:
		return enum.SSLStatusActive
	default:
		return status
	}
}

// SetDefault marks one verified domain as the user's default.
func (s *Service) SetDefault(ctx context.Context, userID, domainID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainService.SetDefault")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("request.domainId", domainID)

	domain, err := s.repos.DomainRepository.GetByID(ctx, domainID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if domain == nil || domain.UserID != userID {
		return er.ErrDomainNotFound
	}
	if !domain.IsVerified {
		return er.ErrDomainNotVerified
	}

	if err := s.repos.DomainRepository.SetDefault(ctx, userID, domainID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (s *Service) Get(ctx context.Context, userID, domainID string) (*models.CloakerDomain, error) {
	domain, err := s.repos.DomainRepository.GetByID(ctx, domainID)
	if err != nil {
		return nil, err
	}
	if domain == nil || domain.UserID != userID {
		return nil, er.ErrDomainNotFound
	}
	return domain, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]models.CloakerDomain, error) {
	return s.repos.DomainRepository.ListByUser(ctx, userID)
}

func (s *Service) Delete(ctx context.Context, userID, domainID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainService.Delete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("request.domainId", domainID)

	if err := s.repos.DomainRepository.Delete(ctx, userID, domainID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}
