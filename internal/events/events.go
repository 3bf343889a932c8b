package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"RampEngine/internal/models"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const publishTimeout = 10 * time.Second

// OrderEvent is the record written to the lifecycle topic.
type OrderEvent struct {
	OrderID    string             `json:"orderId"`
	Reference  string             `json:"businessOrderReference"`
	BusinessID string             `json:"businessId"`
	Event      models.Event       `json:"event"`
	From       models.OrderStatus `json:"from"`
	To         models.OrderStatus `json:"to"`
	At         time.Time          `json:"at"`
	Order      models.OrderView   `json:"order"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher streams lifecycle transitions to Kafka, keyed by order id so a
// single order's events stay ordered within a partition.
type Publisher struct {
	writer messageWriter
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *Publisher {
	return NewPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}, logger)
}

func NewPublisher(w messageWriter, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{writer: w, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, ev OrderEvent) error {
	v, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: v,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(ev.Event)},
		},
	})
}

// OrderChanged publishes in the background; the transitioning caller never
// waits on the broker.
func (p *Publisher) OrderChanged(ctx context.Context, change models.Change) {
	ev := OrderEvent{
		OrderID:    change.Order.OrderID,
		Reference:  change.Order.Reference,
		BusinessID: change.Order.BusinessID,
		Event:      change.Event,
		From:       change.From,
		To:         change.Order.Status,
		At:         change.At,
		Order:      change.Order.View(),
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := p.Publish(ctx, ev); err != nil {
			p.logger.Error("publish order event failed",
				zap.String("order_id", ev.OrderID),
				zap.String("event", string(ev.Event)),
				zap.Error(err),
			)
		}
	}()
}

// Close waits for in-flight publishes and closes the writer.
func (p *Publisher) Close() error {
	p.wg.Wait()
	return p.writer.Close()
}
