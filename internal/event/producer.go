package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/storefront/internal/cartstore"
	"github.com/utafrali/storefront/internal/domain"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
)

// Kafka topics for cart events.
var (
	TopicCartUpdated = pkgkafka.Topic("cart", "updated")
	TopicCartCleared = pkgkafka.Topic("cart", "cleared")
)

// Event types carried in the envelope.
const (
	TypeCartUpdated = "cart.updated"
	TypeCartCleared = "cart.cleared"
)

// AggregateTypeCart is the aggregate type of cart events.
const AggregateTypeCart = "cart"

// SourceStorefront identifies events originating from this service.
const SourceStorefront = "storefront"

// CartUpdatedData is the payload for a cart.updated event.
type CartUpdatedData struct {
	SessionID     string         `json:"session_id"`
	Op            string         `json:"op"`
	Items         []CartLineData `json:"items"`
	TotalQuantity int            `json:"total_quantity"`
	TotalPrice    float64        `json:"total_price"`
	Persisted     bool           `json:"persisted"`
}

// CartLineData is the line payload within cart events. Display fields are
// not published.
type CartLineData struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// CartClearedData is the payload for a cart.cleared event.
type CartClearedData struct {
	SessionID string `json:"session_id"`
}

// EventPublisher sends an event envelope to a topic. *pkgkafka.Producer
// implements it.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer turns cart snapshots into Kafka events.
type Producer struct {
	kafka  EventPublisher
	logger *slog.Logger
}

// NewProducer creates a new cart event producer.
func NewProducer(kafka EventPublisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishSnapshot publishes cart.cleared for a Clear and cart.updated for
// every other mutation.
func (p *Producer) PublishSnapshot(ctx context.Context, snap cartstore.Snapshot) error {
	if snap.Op == cartstore.OpClear {
		return p.PublishCartCleared(ctx, snap.SessionID)
	}
	return p.PublishCartUpdated(ctx, snap)
}

// PublishCartUpdated publishes a cart.updated event.
func (p *Producer) PublishCartUpdated(ctx context.Context, snap cartstore.Snapshot) error {
	data := CartUpdatedData{
		SessionID:     snap.SessionID,
		Op:            string(snap.Op),
		Items:         lineData(snap.Items),
		TotalQuantity: snap.TotalQuantity,
		TotalPrice:    snap.TotalPrice,
		Persisted:     snap.Persisted,
	}

	event, err := pkgkafka.NewEvent(TypeCartUpdated, snap.SessionID, AggregateTypeCart, SourceStorefront, data)
	if err != nil {
		return fmt.Errorf("create cart.updated event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicCartUpdated, event); err != nil {
		return fmt.Errorf("publish cart.updated event: %w", err)
	}

	p.logger.DebugContext(ctx, "published cart.updated event",
		slog.String("session_id", snap.SessionID),
		slog.String("op", string(snap.Op)),
		slog.Int("total_quantity", snap.TotalQuantity),
	)
	return nil
}

// PublishCartCleared publishes a cart.cleared event.
func (p *Producer) PublishCartCleared(ctx context.Context, sessionID string) error {
	event, err := pkgkafka.NewEvent(TypeCartCleared, sessionID, AggregateTypeCart, SourceStorefront, CartClearedData{SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("create cart.cleared event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicCartCleared, event); err != nil {
		return fmt.Errorf("publish cart.cleared event: %w", err)
	}

	p.logger.DebugContext(ctx, "published cart.cleared event",
		slog.String("session_id", sessionID),
	)
	return nil
}

func lineData(c domain.Cart) []CartLineData {
	out := make([]CartLineData, len(c))
	for i, l := range c {
		out[i] = CartLineData{Name: l.Name, Price: l.Price, Quantity: l.Quantity}
	}
	return out
}
