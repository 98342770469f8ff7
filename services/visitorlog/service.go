package visitorlog

import (
	"context"
	"sync"
	"time"

	"github.com/linkshield/cloaker/internal/logger"
	"github.com/linkshield/cloaker/internal/models"
	"github.com/linkshield/cloaker/internal/repository"
)

const (
	defaultQueueSize     = 4096
	defaultFlushSize     = 200
	defaultFlushInterval = 2 * time.Second
)

// Writer persists visitor rows off the request path. Clicks enqueue and
// move on; a single drain goroutine batches inserts by size or age,
// whichever comes first. A full queue drops the row, the redirect already
// happened and an audit gap beats added latency.
type Writer struct {
	log  logger.Logger
	repo repository.VisitorRepository

	queue         chan models.CloakerVisitor
	flushSize     int
	flushInterval time.Duration

	closeOnce sync.Once
	done      chan struct{}
	drained   chan struct{}
}

func NewWriter(log logger.Logger, repo repository.VisitorRepository) *Writer {
	w := &Writer{
		log:           log,
		repo:          repo,
		queue:         make(chan models.CloakerVisitor, defaultQueueSize),
		flushSize:     defaultFlushSize,
		flushInterval: defaultFlushInterval,
		done:          make(chan struct{}),
		drained:       make(chan struct{}),
	}
	go w.drain()
	return w
}

// Record queues one visitor row. Never blocks.
func (w *Writer) Record(visitor models.CloakerVisitor) {
	select {
	case w.queue <- visitor:
	default:
		w.log.Warnf("visitor log queue full, dropping row for link %s", visitor.LinkID)
	}
}

func (w *Writer) drain() {
	defer close(w.drained)

	batch := make([]models.CloakerVisitor, 0, w.flushSize)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := w.repo.CreateBatch(ctx, batch); err != nil {
			w.log.Errorf("visitor batch insert failed, %d rows lost: %v", len(batch), err)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case visitor := <-w.queue:
			batch = append(batch, visitor)
			if len(batch) >= w.flushSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.done:
			for {
				select {
				case visitor := <-w.queue:
					batch = append(batch, visitor)
					if len(batch) >= w.flushSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close flushes everything queued and stops the drain goroutine.
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
	})
	<-w.drained
}
