package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	"github.com/linkshield/cloaker/config"
	"github.com/linkshield/cloaker/internal/logger"
	"github.com/linkshield/cloaker/internal/models"
	"github.com/linkshield/cloaker/internal/repository"
	"github.com/linkshield/cloaker/internal/tracing"
	"github.com/linkshield/cloaker/internal/utils"
)

// Service moves visitor rows past the retention window out of postgres and
// into object storage as JSONL, one file per run.
type Service struct {
	log   logger.Logger
	cfg   *config.ArchiveConfig
	store ObjectStore
	repo  repository.VisitorRepository
}

func NewService(log logger.Logger, cfg *config.ArchiveConfig, store ObjectStore, repo repository.VisitorRepository) *Service {
	return &Service{log: log, cfg: cfg, store: store, repo: repo}
}

// Run archives one batch of aged visitors. Rows are deleted only after the
// upload succeeds; a failed upload leaves them for the next run.
func (s *Service) Run(ctx context.Context) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ArchiveService.Run")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	cutoff := utils.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	visitors, err := s.repo.ListOlderThan(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, errors.Wrap(err, "list aged visitors")
	}
	if len(visitors) == 0 {
		return 0, nil
	}

	payload, err := encodeJSONL(visitors)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}

	key := fmt.Sprintf("visitors/%s/%s.jsonl", utils.Now().Format("2006/01/02"), utils.GenerateNanoIDWithPrefix("batch", 12))
	if err := s.store.Upload(ctx, s.cfg.Bucket, key, payload, "application/x-ndjson"); err != nil {
		tracing.TraceErr(span, err)
		return 0, errors.Wrap(err, "upload visitor archive")
	}

	ids := make([]string, 0, len(visitors))
	for _, v := range visitors {
		ids = append(ids, v.ID)
	}
	if err := s.repo.DeleteByIDs(ctx, ids); err != nil {
		tracing.TraceErr(span, err)
		s.log.Errorf("archived batch uploaded to %s but row cleanup failed: %v", key, err)
		return 0, err
	}

	span.LogFields(tracingLog.Int("result.archived", len(visitors)), tracingLog.String("result.key", key))
	s.log.Infof("archived %d visitors to %s", len(visitors), key)
	return len(visitors), nil
}

func encodeJSONL(visitors []models.CloakerVisitor) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range visitors {
		if err := enc.Encode(&visitors[i]); err != nil {
			return nil, errors.Wrap(err, "encode visitor row")
		}
	}
	return buf.Bytes(), nil
}
