package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/predmarket/internal/domain"
)

// EnvelopeSigner attaches an operator signature to an event envelope.
type EnvelopeSigner interface {
	SignEnvelope(env *domain.EventEnvelope) error
}

// Notifier forwards human-readable alerts for selected event types.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// EventBroadcaster implements domain.EventPublisher. Each envelope is
// optionally signed, published on its market's pub/sub channel, appended to
// the durable event stream, and handed to the notifier.
type EventBroadcaster struct {
	bus      domain.SignalBus
	signer   EnvelopeSigner
	notifier Notifier
	logger   *slog.Logger
}

// NewEventBroadcaster creates an EventBroadcaster. signer and notifier may be
// nil.
func NewEventBroadcaster(bus domain.SignalBus, signer EnvelopeSigner, notifier Notifier, logger *slog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		bus:      bus,
		signer:   signer,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "event_broadcaster")),
	}
}

// Publish delivers env to every sink and joins their failures.
func (b *EventBroadcaster) Publish(ctx context.Context, env domain.EventEnvelope) error {
	if b.signer != nil {
		if err := b.signer.SignEnvelope(&env); err != nil {
			return fmt.Errorf("event_broadcaster: sign %s: %w", env.ID, err)
		}
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("event_broadcaster: marshal %s: %w", env.ID, err)
	}

	var errs []error
	if err := b.bus.Publish(ctx, domain.MarketChannel(env.MarketID), data); err != nil {
		errs = append(errs, fmt.Errorf("publish: %w", err))
	}
	if err := b.bus.StreamAppend(ctx, domain.EventStream, data); err != nil {
		errs = append(errs, fmt.Errorf("stream append: %w", err))
	}
	if b.notifier != nil {
		title, msg := describe(env)
		if err := b.notifier.Notify(ctx, string(env.Type), title, msg); err != nil {
			errs = append(errs, fmt.Errorf("notify: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("event_broadcaster: %s: %w", env.Type, errors.Join(errs...))
	}
	b.logger.DebugContext(ctx, "event_broadcaster: event published",
		slog.String("event_id", env.ID),
		slog.String("type", string(env.Type)),
		slog.String("market_id", env.MarketID.String()),
	)
	return nil
}

// describe renders a short alert for an envelope.
func describe(env domain.EventEnvelope) (title, message string) {
	id := env.MarketID.String()
	switch env.Type {
	case domain.EventMarketCreated:
		var e domain.MarketCreated
		_ = json.Unmarshal(env.Payload, &e)
		return "Market created", fmt.Sprintf("Market %s: %q resolves at %s", id, e.Question, e.ResolutionTime.Format("2006-01-02 15:04 MST"))
	case domain.EventPredictionPlaced:
		var e domain.PredictionPlaced
		_ = json.Unmarshal(env.Payload, &e)
		return "Prediction placed", fmt.Sprintf("Market %s: %s put %d on %s for %d tokens", id, e.Predictor, e.Amount, e.Side, e.Tokens)
	case domain.EventMarketResolved:
		var e domain.MarketResolved
		_ = json.Unmarshal(env.Payload, &e)
		return "Market resolved", fmt.Sprintf("Market %s resolved %s (yes pool %d, no pool %d)", id, e.Outcome, e.YesPool, e.NoPool)
	case domain.EventRewardClaimed:
		var e domain.RewardClaimed
		_ = json.Unmarshal(env.Payload, &e)
		return "Reward claimed", fmt.Sprintf("Market %s: %s claimed %d", id, e.Claimer, e.Reward)
	case domain.EventFeesWithdrawn:
		var e domain.FeesWithdrawn
		_ = json.Unmarshal(env.Payload, &e)
		return "Fees withdrawn", fmt.Sprintf("Market %s: %s withdrew %d in fees", id, e.Admin, e.Amount)
	}
	return string(env.Type), "Market " + id
}

// Compile-time interface check.
var _ domain.EventPublisher = (*EventBroadcaster)(nil)
