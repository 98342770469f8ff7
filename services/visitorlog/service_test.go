package visitorlog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/linkshield/cloaker/internal/logger"
	"github.com/linkshield/cloaker/internal/models"
	"github.com/linkshield/cloaker/internal/repository"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

type fakeVisitorRepo struct {
	repository.VisitorRepository

	mu      sync.Mutex
	batches [][]models.CloakerVisitor
	err     error
}

func (f *fakeVisitorRepo) CreateBatch(ctx context.Context, visitors []models.CloakerVisitor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	batch := make([]models.CloakerVisitor, len(visitors))
	copy(batch, visitors)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeVisitorRepo) rows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, b := range f.batches {
		total += len(b)
	}
	return total
}

func TestWriter_CloseFlushesQueuedRows(t *testing.T) {
	repo := &fakeVisitorRepo{}
	w := NewWriter(getLogger(), repo)

	for i := 0; i < 25; i++ {
		w.Record(models.CloakerVisitor{ID: "visitor", LinkID: "link_1"})
	}
	w.Close()

	assert.Equal(t, 25, repo.rows())
}

func TestWriter_FlushesAtBatchSize(t *testing.T) {
	repo := &fakeVisitorRepo{}
	w := NewWriter(getLogger(), repo)
	defer w.Close()

	for i := 0; i < defaultFlushSize; i++ {
		w.Record(models.CloakerVisitor{ID: "visitor", LinkID: "link_1"})
	}

	// the full batch should land without waiting for the ticker
	deadline := time.Now().Add(time.Second)
	for repo.rows() < defaultFlushSize && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, defaultFlushSize, repo.rows())
}

func TestWriter_InsertFailureDropsBatchOnly(t *testing.T) {
	repo := &fakeVisitorRepo{err: errors.New("db down")}
	w := NewWriter(getLogger(), repo)

	w.Record(models.CloakerVisitor{ID: "visitor", LinkID: "link_1"})
	w.Close()

	assert.Equal(t, 0, repo.rows())

	// the writer keeps accepting after a failed flush
	repo2 := &fakeVisitorRepo{}
	w2 := NewWriter(getLogger(), repo2)
	w2.Record(models.CloakerVisitor{ID: "visitor", LinkID: "link_1"})
	w2.Close()
	assert.Equal(t, 1, repo2.rows())
}

func TestWriter_CloseIsIdempotent(t *testing.T) {
	w := NewWriter(getLogger(), &fakeVisitorRepo{})
	w.Close()
	w.Close()
}
