// Package notify delivers status change notifications to registered webhook
// endpoints. Delivery is best-effort: bounded retries with a fixed backoff,
// every attempt audited, and abandonment counted rather than escalated.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/medgrid/exchange-engine/internal/config"
	"github.com/medgrid/exchange-engine/internal/ledger"
	"github.com/medgrid/exchange-engine/internal/metrics"
	"github.com/medgrid/exchange-engine/internal/models"
	"github.com/medgrid/exchange-engine/pkg/utils"
)

// delivery is one scheduled webhook post
type delivery struct {
	event  models.NotificationEvent
	target string
}

// Dispatcher fans out notifications asynchronously. It satisfies the
// service layer's Notifier contract: Notify never blocks a state
// transition. Deliveries queue onto a bounded channel drained by a fixed
// worker pool; when the queue is full the delivery is abandoned and
// counted, the same as an exhausted retry.
type Dispatcher struct {
	cfg     *config.NotificationConfig
	ledger  *ledger.Ledger
	metrics *metrics.Metrics
	logger  *logrus.Logger
	client  *http.Client

	jobs   chan delivery
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewDispatcher creates the dispatcher and starts its delivery pool
func NewDispatcher(cfg *config.NotificationConfig, auditLedger *ledger.Ledger, m *metrics.Metrics, logger *logrus.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	d := &Dispatcher{
		cfg:     cfg,
		ledger:  auditLedger,
		metrics: m,
		logger:  logger,
		client:  &http.Client{Timeout: cfg.Timeout},
		jobs:    make(chan delivery, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		group:   group,
	}

	for i := 0; i < cfg.Workers; i++ {
		group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job := <-d.jobs:
					d.deliver(job.event, job.target)
				}
			}
		})
	}

	return d
}

// Notify schedules delivery of the event to each target URL
func (d *Dispatcher) Notify(subjectID, eventType string, targets []string) {
	event := models.NotificationEvent{
		DeliveryID: utils.GenerateNotificationID(),
		SubjectID:  subjectID,
		EventType:  eventType,
		Timestamp:  time.Now().UnixMilli(),
	}

	for _, target := range targets {
		if target == "" {
			continue
		}
		select {
		case d.jobs <- delivery{event: event, target: target}:
		default:
			if d.metrics != nil {
				d.metrics.NotificationsAbandoned.Inc()
			}
			d.logger.WithFields(logrus.Fields{
				"subject_id": subjectID,
				"event_type": eventType,
				"target":     target,
			}).Error("Notification abandoned; delivery queue is full")
		}
	}
}

// Close stops accepting work and waits for in-flight deliveries
func (d *Dispatcher) Close() {
	d.cancel()
	_ = d.group.Wait()
}

// deliver posts the event with bounded retries. Each attempt lands on the
// audit ledger so the notification history is reviewable alongside the
// transitions that caused it.
func (d *Dispatcher) deliver(event models.NotificationEvent, target string) {
	body, err := json.Marshal(event)
	if err != nil {
		d.logger.WithError(err).Error("Failed to marshal notification event")
		return
	}

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		err := d.post(target, body)
		d.audit(event, target, attempt, err)

		if err == nil {
			d.logger.WithFields(logrus.Fields{
				"subject_id": event.SubjectID,
				"event_type": event.EventType,
				"target":     target,
				"attempt":    attempt,
			}).Debug("Notification delivered")
			return
		}

		d.logger.WithError(err).WithFields(logrus.Fields{
			"subject_id": event.SubjectID,
			"target":     target,
			"attempt":    attempt,
		}).Warn("Notification delivery failed")

		if attempt < d.cfg.MaxAttempts {
			select {
			case <-time.After(d.cfg.Backoff):
			case <-d.ctx.Done():
				return
			}
		}
	}

	if d.metrics != nil {
		d.metrics.NotificationsAbandoned.Inc()
	}
	d.logger.WithFields(logrus.Fields{
		"subject_id": event.SubjectID,
		"event_type": event.EventType,
		"target":     target,
	}).Error("Notification abandoned after exhausting attempts")
}

func (d *Dispatcher) post(target string, body []byte) error {
	req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) audit(event models.NotificationEvent, target string, attempt int, deliveryErr error) {
	result := "ok"
	if deliveryErr != nil {
		result = deliveryErr.Error()
	}

	if _, err := d.ledger.Append(d.ctx, &models.AuditRecord{
		ActorID:    "system",
		SubjectID:  event.SubjectID,
		Action:     models.AuditActionNotificationAttempt,
		Detail:     fmt.Sprintf("%s attempt %d to %s: %s", event.EventType, attempt, target, result),
		ActionTime: time.Now().UnixMilli(),
	}); err != nil {
		d.logger.WithError(err).Warn("Failed to audit notification attempt")
	}
}
