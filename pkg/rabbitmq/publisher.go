package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"nvr-edge/config"
	"nvr-edge/constant"
	"nvr-edge/dto"
	"nvr-edge/entities"
)

const (
	defaultExchange   = "nvr_events"
	segmentRoutingKey = "nvr.segment.closed"
	healthRoutingKey  = "nvr.camera.health"
	publishTimeout    = 5 * time.Second
)

// Publisher emits segment and health events to an exchange for external
// consumers. Publishing is best-effort: a broker hiccup is logged, never
// surfaced to the recording path.
type Publisher struct {
	ch       *amqp.Channel
	exchange string
}

func NewPublisher(ctx context.Context, conn *amqp.Connection, cfg *config.RabbitMQ) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	exchange := cfg.ExchangeName
	if exchange == "" {
		exchange = defaultExchange
	}
	kind := cfg.Kind
	if kind == "" {
		kind = "topic"
	}

	if err := ch.ExchangeDeclare(exchange, kind, true, false, false, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Str("exchange", exchange).Msg("failed to declare exchange")
		return nil, err
	}

	return &Publisher{ch: ch, exchange: exchange}, nil
}

func (p *Publisher) SegmentClosed(ctx context.Context) func(seg entities.Segment) {
	return func(seg entities.Segment) {
		if seg.State != constant.SegmentStateClosedVerified {
			return
		}
		p.publish(ctx, segmentRoutingKey, dto.SegmentClosedMessage{
			EventId:  uuid.New(),
			CameraId: seg.CameraId,
			Path:     seg.Path,
			Start:    seg.Start,
			Size:     seg.Size,
			ClosedAt: seg.Start.Add(seg.Duration),
		})
	}
}

func (p *Publisher) HealthTransition(ctx context.Context) func(cameraId string, from, to constant.HealthState) {
	return func(cameraId string, from, to constant.HealthState) {
		p.publish(ctx, healthRoutingKey, dto.HealthTransitionMessage{
			EventId:  uuid.New(),
			CameraId: cameraId,
			From:     from,
			To:       to,
			At:       time.Now().UTC(),
		})
	}
}

func (p *Publisher) publish(ctx context.Context, routingKey string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("routing_key", routingKey).Msg("failed to marshal event")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.ch.PublishWithContext(pubCtx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("routing_key", routingKey).Msg("failed to publish event")
	}
}
