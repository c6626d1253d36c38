// Package events mirrors bot lifecycle changes to external observers.
package events

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/edgard/hyperbot/internal/database"
)

// Event types.
const (
	TypePairingCode = "pairing_code"
	TypeQRCode      = "qr"
	TypeStatus      = "status"
	TypeBotCreated  = "bot_created"
)

// Event is a single notification. Topic scopes it to a bot or a tenant.
type Event struct {
	Topic    string    `json:"topic"`
	Type     string    `json:"type"`
	BotID    string    `json:"botId,omitempty"`
	TenantID string    `json:"tenantId,omitempty"`
	Data     any       `json:"data"`
	Time     time.Time `json:"time"`
}

// BotTopic returns the topic for events of the given type about a bot.
func BotTopic(botID, eventType string) string {
	return fmt.Sprintf("bot:%s:%s", botID, eventType)
}

// TenantTopic returns the topic for tenant-wide bot announcements.
func TenantTopic(tenantID string) string {
	return fmt.Sprintf("tenant:%s:bots", tenantID)
}

// Sink delivers events to one kind of observer.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// Publisher fans events out to every sink. Delivery is best effort: sink
// failures are logged and never returned to the caller.
type Publisher struct {
	sinks  []Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher creates a Publisher over sinks.
func NewPublisher(logger *slog.Logger, sinks ...Sink) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Publisher{
		sinks:  sinks,
		logger: logger.With("component", "publisher"),
		now:    time.Now,
	}
}

// PairingCode announces a pairing code the user types into their phone.
func (p *Publisher) PairingCode(ctx context.Context, botID, code string) {
	p.publish(ctx, Event{Topic: BotTopic(botID, TypePairingCode), Type: TypePairingCode, BotID: botID, Data: code})
}

// QRCode announces a new scannable QR payload.
func (p *Publisher) QRCode(ctx context.Context, botID, qr string) {
	p.publish(ctx, Event{Topic: BotTopic(botID, TypeQRCode), Type: TypeQRCode, BotID: botID, Data: qr})
}

// Status announces a connection status change.
func (p *Publisher) Status(ctx context.Context, botID string, status database.BotStatus) {
	p.publish(ctx, Event{Topic: BotTopic(botID, TypeStatus), Type: TypeStatus, BotID: botID, Data: status.Event()})
}

// BotCreated announces a new bot to its tenant.
func (p *Publisher) BotCreated(ctx context.Context, bot *database.BotRecord) {
	p.publish(ctx, Event{
		Topic:    TenantTopic(bot.TenantID),
		Type:     TypeBotCreated,
		BotID:    bot.ID,
		TenantID: bot.TenantID,
		Data: map[string]any{
			"id":     bot.ID,
			"name":   bot.Name,
			"status": bot.Status,
			"config": bot.Config,
		},
	})
}

func (p *Publisher) publish(ctx context.Context, event Event) {
	event.Time = p.now().UTC()
	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			p.logger.WarnContext(ctx, "Failed to publish event", "topic", event.Topic, "sink", fmt.Sprintf("%T", sink), "error", err)
		}
	}
	p.logger.DebugContext(ctx, "Event published", "topic", event.Topic, "type", event.Type)
}

// LogSink writes every event to a logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "event_log")}
}

func (s *LogSink) Publish(ctx context.Context, event Event) error {
	s.logger.InfoContext(ctx, "Bot event", "topic", event.Topic, "type", event.Type, "bot_id", event.BotID)
	return nil
}
