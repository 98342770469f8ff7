package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/linkshield/cloaker/config"
	"github.com/linkshield/cloaker/dto"
	er "github.com/linkshield/cloaker/internal/errors"
	"github.com/linkshield/cloaker/internal/logger"
	"github.com/linkshield/cloaker/internal/tracing"
	"github.com/linkshield/cloaker/services/events"
)

// Delivery is one webhook POST waiting in the queue.
type Delivery struct {
	URL   string
	Event dto.ClickEvent
}

// Dispatcher delivers click events to link-owner webhooks from a bounded
// queue drained by a fixed worker pool. Enqueue never blocks the click
// path; a full queue drops the delivery and reports it.
type Dispatcher struct {
	log       logger.Logger
	cfg       *config.WebhookConfig
	client    *http.Client
	publisher events.Publisher

	queue chan Delivery
	wg    sync.WaitGroup

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewDispatcher(log logger.Logger, cfg *config.WebhookConfig, publisher events.Publisher) *Dispatcher {
	d := &Dispatcher{
		log:       log,
		cfg:       cfg,
		publisher: publisher,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		queue: make(chan Delivery, cfg.QueueSize),
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Enqueue hands a delivery to the worker pool. The event is also fanned out
// on the message bus when a publisher is wired, regardless of webhook
// delivery outcome.
func (d *Dispatcher) Enqueue(ctx context.Context, delivery Delivery) error {
	if d.publisher != nil {
		if err := d.publisher.PublishClickEvent(ctx, delivery.Event); err != nil {
			d.log.Warnf("click event fan-out failed for link %s: %v", delivery.Event.LinkID, err)
		}
	}

	if delivery.URL == "" {
		return nil
	}

	// the read lock keeps Close from closing the queue between the check
	// and the send
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return er.ErrWebhookQueueFull
	}

	select {
	case d.queue <- delivery:
		return nil
	default:
		d.log.Warnf("webhook queue full, dropping delivery for link %s", delivery.Event.LinkID)
		return er.ErrWebhookQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for delivery := range d.queue {
		d.deliver(delivery)
	}
}

func (d *Dispatcher) deliver(delivery Delivery) {
	span := opentracing.StartSpan("WebhookDispatcher.Deliver")
	defer span.Finish()
	tracing.TagComponentDispatcher(span)
	span.SetTag("linkId", delivery.Event.LinkID)
	span.SetTag("url", delivery.URL)

	body, err := json.Marshal(delivery.Event)
	if err != nil {
		tracing.TraceErr(span, err)
		d.log.Errorf("webhook payload marshal failed: %v", err)
		return
	}

	backoff := time.Duration(d.cfg.BackoffSeconds) * time.Second
	maxBackoff := time.Duration(d.cfg.MaxBackoffSeconds) * time.Second

	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		lastErr = d.post(delivery.URL, body, delivery.Event)
		if lastErr == nil {
			span.LogKV("result.attempts", attempt+1)
			return
		}
		d.log.Warnf("webhook delivery attempt %d to %s failed: %v", attempt+1, delivery.URL, lastErr)
	}

	tracing.TraceErr(span, errors.Wrap(er.ErrWebhookDeliveryFailed, lastErr.Error()))
	d.log.Errorf("webhook delivery to %s exhausted retries: %v", delivery.URL, lastErr)
}

func (d *Dispatcher) post(url string, body []byte, event dto.ClickEvent) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "cloaker-webhook/1.0")
	req.Header.Set("X-Cloaker-Event", event.EventType.String())
	req.Header.Set("X-Cloaker-Link-Id", event.LinkID)

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send webhook request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Close stops accepting new deliveries and waits for queued ones to drain.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	d.wg.Wait()
}
