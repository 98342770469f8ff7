package repository

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/linkshield/cloaker/internal/models"
	"github.com/linkshield/cloaker/internal/tracing"
	"github.com/linkshield/cloaker/internal/utils"
)

type LinkRepository interface {
	Create(ctx context.Context, link *models.CloakedLink) error
	Update(ctx context.Context, link *models.CloakedLink) error
	Delete(ctx context.Context, userID, linkID string) error
	GetByID(ctx context.Context, linkID string) (*models.CloakedLink, error)
	GetByUserAndID(ctx context.Context, userID, linkID string) (*models.CloakedLink, error)
	GetBySlug(ctx context.Context, slug string) (*models.CloakedLink, error)
	GetByUserAndSlug(ctx context.Context, userID, slug string) (*models.CloakedLink, error)
	ListByUser(ctx context.Context, userID string) ([]models.CloakedLink, error)
	// IncrementClickCounters bumps both click counters in one conditional
	// UPDATE. It returns false without error when a quota is exhausted, so
	// two concurrent clicks can never both consume the last slot.
	IncrementClickCounters(ctx context.Context, linkID string, maxDaily, maxTotal *int) (bool, error)
	// ResetDailyCounterIfStale zeroes clicks_today when the stored reset
	// marker predates dayStart. Safe to call concurrently; only one caller
	// performs the reset.
	ResetDailyCounterIfStale(ctx context.Context, linkID string, dayStart time.Time) (bool, error)
}

type linkRepository struct {
	db *gorm.DB
}

func NewLinkRepository(db *gorm.DB) LinkRepository {
	return &linkRepository{db: db}
}

func (r *linkRepository) Create(ctx context.Context, link *models.CloakedLink) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "LinkRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	now := utils.Now()
	link.CreatedAt = now
	link.UpdatedAt = now

	err := r.db.WithContext(ctx).Create(link).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *linkRepository) Update(ctx context.Context, link *models.CloakedLink) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "LinkRepository.Update")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, link.ID)

	link.UpdatedAt = utils.Now()

	err := r.db.WithContext(ctx).Save(link).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *linkRepository) Delete(ctx context.Context, userID, linkID string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "LinkRepository.Delete")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, linkID)

	// Visitor logs are owned by the link and go with it.
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("link_id = ?", linkID).Delete(&models.CloakerVisitor{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ? AND id = ?", userID, linkID).Delete(&models.CloakedLink{}).Error
	})
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *linkRepository) GetByID(ctx context.Context, linkID string) (*models.CloakedLink, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "LinkRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, linkID)

	var link models.CloakedLink
	err := r.db.WithContext(ctx).
		Where("id = ?", linkID).
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return &link, nil
}

func (r *linkRepository) GetByUserAndID(ctx context.Context, userID, linkID string) (*models.CloakedLink, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "LinkRepository.GetByUserAndID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, linkID)

	var link models.CloakedLink
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, linkID).
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return &link, nil
}

func (r *linkRepository) GetBySlug(ctx context.Context, slug string) (*models.CloakedLink, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "LinkRepository.GetBySlug")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.LogKV("slug", slug)

	var link models.CloakedLink
	err := r.db.WithContext(ctx).
		Where("slug = ?", slug).
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return &link, nil
}

func (r *linkRepository) GetByUserAndSlug(ctx context.Context, userID, slug string) (*models.CloakedLink, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "LinkRepository.GetByUserAndSlug")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.LogKV("slug", slug)

	var link models.CloakedLink
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND slug = ?", userID, slug).
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return &link, nil
}

func (r *linkRepository) ListByUser(ctx context.Context, userID string) ([]models.CloakedLink, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "LinkRepository.ListByUser")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var links []models.CloakedLink
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&links).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return links, nil
}

func (r *linkRepository) IncrementClickCounters(ctx context.Context, linkID string, maxDaily, maxTotal *int) (bool, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "LinkRepository.IncrementClickCounters")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, linkID)

	q := r.db.WithContext(ctx).
		Model(&models.CloakedLink{}).
		Where("id = ?", linkID)
	if maxDaily != nil {
		q = q.Where("clicks_today < ?", *maxDaily)
	}
	if maxTotal != nil {
		q = q.Where("clicks_count < ?", *maxTotal)
	}

	res := q.UpdateColumns(map[string]interface{}{
		"clicks_today": gorm.Expr("clicks_today + 1"),
		"clicks_count": gorm.Expr("clicks_count + 1"),
		"updated_at":   utils.Now(),
	})
	if res.Error != nil {
		tracing.TraceErr(span, errors.Wrap(res.Error, "db error"))
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *linkRepository) ResetDailyCounterIfStale(ctx context.Context, linkID string, dayStart time.Time) (bool, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "LinkRepository.ResetDailyCounterIfStale")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, linkID)

	res := r.db.WithContext(ctx).
		Model(&models.CloakedLink{}).
		Where("id = ?", linkID).
		Where("last_click_reset IS NULL OR last_click_reset < ?", dayStart).
		UpdateColumns(map[string]interface{}{
			"clicks_today":     0,
			"last_click_reset": utils.Now(),
		})
	if res.Error != nil {
		tracing.TraceErr(span, errors.Wrap(res.Error, "db error"))
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
