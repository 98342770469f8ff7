package repository

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/linkshield/cloaker/internal/enum"
	"github.com/linkshield/cloaker/internal/models"
	"github.com/linkshield/cloaker/internal/tracing"
	"github.com/linkshield/cloaker/internal/utils"
)

type DomainRepository interface {
	Register(ctx context.Context, domain *models.CloakerDomain) error
	GetByID(ctx context.Context, domainID string) (*models.CloakerDomain, error)
	GetByDomain(ctx context.Context, domain string) (*models.CloakerDomain, error)
	GetVerifiedByDomain(ctx context.Context, domain string) (*models.CloakerDomain, error)
	ListByUser(ctx context.Context, userID string) ([]models.CloakerDomain, error)
	// ListUnverifiedCheckedBefore returns pending/failed domains whose last
	// check predates the cutoff; used by the re-verification poller.
	ListUnverifiedCheckedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.CloakerDomain, error)
	UpdateStatus(ctx context.Context, domain *models.CloakerDomain) error
	// SetDefault makes domainID the user's only default, unsetting any other
	// default inside the same transaction.
	SetDefault(ctx context.Context, userID, domainID string) error
	Delete(ctx context.Context, userID, domainID string) error
}

type domainRepository struct {
	db *gorm.DB
}

func NewDomainRepository(db *gorm.DB) DomainRepository {
	return &domainRepository{db: db}
}

func (r *domainRepository) Register(ctx context.Context, domain *models.CloakerDomain) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "DomainRepository.Register")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.LogKV("domain", domain.Domain)

	now := utils.Now()
	domain.CreatedAt = now
	domain.UpdatedAt = now
	domain.DNSStatus = enum.DNSStatusPending
	domain.SSLStatus = enum.SSLStatusPending

	err := r.db.WithContext(ctx).Create(domain).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *domainRepository) GetByID(ctx context.Context, domainID string) (*models.CloakerDomain, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "DomainRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, domainID)

	var domain models.CloakerDomain
	err := r.db.WithContext(ctx).
		Where("id = ?", domainID).
		First(&domain).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return &domain, nil
}

func (r *domainRepository) GetByDomain(ctx context.Context, domain string) (*models.CloakerDomain, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "DomainRepository.GetByDomain")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.LogKV("domain", domain)

	var model models.CloakerDomain
	err := r.db.WithContext(ctx).
		Where("domain = ?", domain).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return &model, nil
}

func (r *domainRepository) GetVerifiedByDomain(ctx context.Context, domain string) (*models.CloakerDomain, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "DomainRepository.GetVerifiedByDomain")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.LogKV("domain", domain)

	var model models.CloakerDomain
	err := r.db.WithContext(ctx).
		Where("domain = ? AND is_verified = ?", domain, true).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.LogFields(tracingLog.Bool("response.exists", false))
			return nil, nil
		}
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	span.LogFields(tracingLog.Bool("response.exists", true))
	return &model, nil
}

func (r *domainRepository) ListByUser(ctx context.Context, userID string) ([]models.CloakerDomain, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "DomainRepository.ListByUser")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var domains []models.CloakerDomain
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&domains).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return domains, nil
}

func (r *domainRepository) ListUnverifiedCheckedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.CloakerDomain, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "DomainRepository.ListUnverifiedCheckedBefore")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var domains []models.CloakerDomain
	err := r.db.WithContext(ctx).
		Where("is_verified = ?", false).
		Where("last_check_at IS NULL OR last_check_at < ?", cutoff).
		Order("last_check_at asc nulls first").
		Limit(limit).
		Find(&domains).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return domains, nil
}

func (r *domainRepository) UpdateStatus(ctx context.Context, domain *models.CloakerDomain) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "DomainRepository.UpdateStatus")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, domain.ID)

	err := r.db.WithContext(ctx).
		Model(&models.CloakerDomain{}).
		Where("id = ?", domain.ID).
		UpdateColumns(map[string]interface{}{
			"is_verified":   domain.IsVerified,
			"dns_status":    domain.DNSStatus,
			"ssl_status":    domain.SSLStatus,
			"last_check_at": domain.LastCheckAt,
			"verified_at":   domain.VerifiedAt,
			"updated_at":    utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *domainRepository) SetDefault(ctx context.Context, userID, domainID string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "DomainRepository.SetDefault")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, domainID)

	// Unset-all-then-set in one transaction keeps the at-most-one-default
	// invariant under concurrent calls.
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.CloakerDomain{}).
			Where("user_id = ? AND is_default = ?", userID, true).
			UpdateColumn("is_default", false).Error; err != nil {
			return err
		}

		res := tx.Model(&models.CloakerDomain{}).
			Where("user_id = ? AND id = ?", userID, domainID).
			UpdateColumns(map[string]interface{}{
				"is_default": true,
				"updated_at": utils.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *domainRepository) Delete(ctx context.Context, userID, domainID string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "DomainRepository.Delete")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, domainID)

	// Idempotent: deleting an absent domain is not an error.
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, domainID).
		Delete(&models.CloakerDomain{}).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}
