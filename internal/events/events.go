// Package events broadcasts order and payment outcomes to the notification side.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	applog "retrocart/internal/log"
)

const (
	OrderPlaced        = "order.placed"
	OrderStatusChanged = "order.status_changed"
	PaymentSucceeded   = "payment.succeeded"
	PaymentFailed      = "payment.failed"
)

type Event struct {
	Type    string         `json:"type"`
	OrderID string         `json:"orderId"`
	At      time.Time      `json:"at"`
	Data    map[string]any `json:"data,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Recorder keeps events in memory; used by tests and the dev server.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists the recorded event types in order.
func (r *Recorder) Types() []string {
	var out []string
	for _, e := range r.Events() {
		out = append(out, e.Type)
	}
	return out
}

// KafkaPublisher writes events keyed by order id so one order stays on one partition.
type KafkaPublisher struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
}

func NewKafkaPublisher(brokers []string, topic string, buf int) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start runs the writer loop until ctx is done, then flushes what is queued.
func (p *KafkaPublisher) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				for {
					select {
					case m := <-p.inbox:
						p.write(m)
					default:
						_ = p.w.Close()
						return
					}
				}
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

func (p *KafkaPublisher) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		applog.L().Error("events.kafka.write.fail", zap.String("key", string(m.Key)), zap.Error(err))
	}
}

// Publish never blocks the caller; when the buffer is full the event is dropped and logged.
func (p *KafkaPublisher) Publish(_ context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b, err := json.Marshal(e)
	if err != nil {
		applog.L().Error("events.marshal.fail", zap.String("type", e.Type), zap.Error(err))
		return
	}
	m := kafka.Message{
		Key:     []byte(e.OrderID),
		Value:   b,
		Time:    e.At,
		Headers: []kafka.Header{{Key: "type", Value: []byte(e.Type)}},
	}
	select {
	case p.inbox <- m:
	default:
		applog.L().Warn("events.dropped", zap.String("type", e.Type), zap.String("order_id", e.OrderID))
	}
}

// WaitClosed blocks until the loop started by Start has flushed and exited.
func (p *KafkaPublisher) WaitClosed() { <-p.closeCh }
