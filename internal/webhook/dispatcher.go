package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"RampEngine/internal/errs"
	"RampEngine/internal/models"

	"go.uber.org/zap"
)

const DefaultTimeout = 10 * time.Second

type Payload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type Delivery struct {
	Delivered  bool
	StatusCode int
	Err        error
	Duration   time.Duration
}

// Outcome is the short string stored in the order's webhook tracking.
func (d Delivery) Outcome() string {
	switch {
	case d.Delivered:
		return "delivered"
	case d.Err != nil:
		return "error: " + d.Err.Error()
	default:
		return fmt.Sprintf("http %d", d.StatusCode)
	}
}

// Recorder stores the outcome of a delivery attempt.
type Recorder interface {
	RecordWebhookAttempt(ctx context.Context, orderID string, delivery models.WebhookDelivery) error
}

// DeliveryObserver is told about every attempt, e.g. for metrics.
type DeliveryObserver interface {
	WebhookDelivered(event string, delivered bool, took time.Duration)
}

type Options struct {
	Secrets  SecretSource
	Recorder Recorder
	Observer DeliveryObserver
	Logger   *zap.Logger
	Timeout  time.Duration
	Now      func() time.Time
}

// Dispatcher sends signed order notifications to the owning business. Every
// transition gets at most one attempt; failures are recorded on the order
// and never affect its status.
type Dispatcher struct {
	client   *http.Client
	secrets  SecretSource
	recorder Recorder
	observer DeliveryObserver
	logger   *zap.Logger
	timeout  time.Duration
	now      func() time.Time
	wg       sync.WaitGroup
}

func NewDispatcher(opts Options) *Dispatcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	secrets := opts.Secrets
	if secrets == nil {
		secrets = StaticSecret(nil)
	}
	return &Dispatcher{
		client:   &http.Client{Timeout: timeout},
		secrets:  secrets,
		recorder: opts.Recorder,
		observer: opts.Observer,
		logger:   logger,
		timeout:  timeout,
		now:      now,
	}
}

// Notify performs one signed POST and reports the result. It never returns
// an error; failures are described by the Delivery.
func (d *Dispatcher) Notify(ctx context.Context, url string, secret []byte, event string, data any) Delivery {
	start := time.Now()
	body, err := json.Marshal(Payload{Event: event, Timestamp: d.now().UTC(), Data: data})
	if err != nil {
		return Delivery{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Delivery{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, event)
	req.Header.Set(SignatureHeader, Sign(secret, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return Delivery{Err: err, Duration: time.Since(start)}
	}
	defer resp.Body.Close()
	return Delivery{
		Delivered:  resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Duration:   time.Since(start),
	}
}

// Dispatch notifies the order's webhook URL in the background.
func (d *Dispatcher) Dispatch(ctx context.Context, order *models.Order, event string) {
	if order.Webhook.URL == "" {
		return
	}
	view := order.View()
	url := order.Webhook.URL
	orderID := order.OrderID
	businessID := order.BusinessID

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout+5*time.Second)
		defer cancel()

		var delivery Delivery
		secret, err := d.secrets.Secret(businessID)
		if err != nil {
			delivery = Delivery{Err: err}
		} else {
			delivery = d.Notify(ctx, url, secret, event, view)
		}

		log := d.logger.With(
			zap.String("order_id", orderID),
			zap.String("event", event),
			zap.Duration("took", delivery.Duration),
		)
		if delivery.Delivered {
			log.Info("webhook delivered", zap.Int("status_code", delivery.StatusCode))
		} else {
			log.Warn("webhook delivery failed",
				zap.String("outcome", delivery.Outcome()),
				zap.Error(errs.Wrap(errs.CodeWebhookDeliveryFailed, "webhook not delivered", delivery.Err)),
			)
		}
		if d.observer != nil {
			d.observer.WebhookDelivered(event, delivery.Delivered, delivery.Duration)
		}
		if d.recorder == nil {
			return
		}
		rec := models.WebhookDelivery{AttemptedAt: d.now().UTC(), Outcome: delivery.Outcome()}
		if err := d.recorder.RecordWebhookAttempt(ctx, orderID, rec); err != nil {
			log.Error("record webhook attempt failed", zap.Error(err))
		}
	}()
}

// OrderChanged dispatches the webhook matching the status just entered.
func (d *Dispatcher) OrderChanged(ctx context.Context, change models.Change) {
	d.Dispatch(ctx, change.Order, models.WebhookEventFor(change.Order.Status, change.Event))
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
