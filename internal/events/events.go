// Package events publishes ledger events to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/segmentio/kafka-go"
)

// TradeExecuted is the event type emitted after a trade commits.
const TradeExecuted = "trade.executed"

// TradeEvent is the JSON payload of a trade.executed event.
type TradeEvent struct {
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	Data      TradeEventData `json:"data"`
}

type TradeEventData struct {
	TradeID  string  `json:"trade_id"`
	UserID   string  `json:"user_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"trade_type"`
	Quantity int64   `json:"quantity"`
	Price    float64 `json:"price"`
}

// NewTradeEvent builds the event for a committed trade.
func NewTradeEvent(t *domain.Trade) TradeEvent {
	return TradeEvent{
		Event:     TradeExecuted,
		Timestamp: t.ExecutedAt.UTC().Format(time.RFC3339Nano),
		Data: TradeEventData{
			TradeID:  t.TradeID,
			UserID:   t.OwnerID,
			Symbol:   t.Symbol,
			Side:     string(t.Side),
			Quantity: t.Quantity,
			Price:    domain.PriceToFloat(t.Price),
		},
	}
}

// Publisher delivers trade events.
type Publisher interface {
	PublishTrade(ctx context.Context, ev TradeEvent) error
	Close() error
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) PublishTrade(context.Context, TradeEvent) error { return nil }
func (Nop) Close() error                                   { return nil }

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Compile-time checks.
var (
	_ Publisher     = Nop{}
	_ Publisher     = (*KafkaPublisher)(nil)
	_ messageWriter = (*kafka.Writer)(nil)
)

// KafkaPublisher writes events to a Kafka topic keyed by user id, so every
// event of one user lands on the same partition in commit order.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			BatchTimeout:           50 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *KafkaPublisher) PublishTrade(ctx context.Context, ev TradeEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Event, err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.Data.UserID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(ev.Event)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s: %w", ev.Event, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
