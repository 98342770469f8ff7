package repository

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/linkshield/cloaker/internal/models"
	"github.com/linkshield/cloaker/internal/tracing"
)

type VisitorRepository interface {
	Create(ctx context.Context, visitor *models.CloakerVisitor) error
	CreateBatch(ctx context.Context, visitors []models.CloakerVisitor) error
	ListByLink(ctx context.Context, linkID string, limit, offset int) ([]models.CloakerVisitor, error)
	ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.CloakerVisitor, error)
	DeleteByIDs(ctx context.Context, ids []string) error
}

type visitorRepository struct {
	db *gorm.DB
}

func NewVisitorRepository(db *gorm.DB) VisitorRepository {
	return &visitorRepository{db: db}
}

func (r *visitorRepository) Create(ctx context.Context, visitor *models.CloakerVisitor) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "VisitorRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, visitor.LinkID)

	err := r.db.WithContext(ctx).Create(visitor).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *visitorRepository) CreateBatch(ctx context.Context, visitors []models.CloakerVisitor) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "VisitorRepository.CreateBatch")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.LogKV("batch.size", len(visitors))

	if len(visitors) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).CreateInBatches(visitors, 100).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *visitorRepository) ListByLink(ctx context.Context, linkID string, limit, offset int) ([]models.CloakerVisitor, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "VisitorRepository.ListByLink")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, linkID)

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var visitors []models.CloakerVisitor
	err := r.db.WithContext(ctx).
		Where("link_id = ?", linkID).
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&visitors).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return visitors, nil
}

func (r *visitorRepository) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.CloakerVisitor, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "VisitorRepository.ListOlderThan")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var visitors []models.CloakerVisitor
	err := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Order("created_at asc").
		Limit(limit).
		Find(&visitors).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return visitors, nil
}

func (r *visitorRepository) DeleteByIDs(ctx context.Context, ids []string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "VisitorRepository.DeleteByIDs")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.LogKV("batch.size", len(ids))

	if len(ids) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&models.CloakerVisitor{}).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}
