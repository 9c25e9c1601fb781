package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/observability"
)

// EventSubmissionGraded is emitted after a grading run persisted its result.
const EventSubmissionGraded = "submission.graded"

const publishTimeout = 2 * time.Second

// GradingEvent is the message fanned out to brokers.
type GradingEvent struct {
	Type         string    `json:"type"`
	Source       string    `json:"source"`
	SubmissionID string    `json:"submission_id"`
	AssignmentID string    `json:"assignment_id"`
	StudentID    string    `json:"student_id"`
	Grade        float64   `json:"grade"`
	Complexity   string    `json:"complexity"`
	Message      string    `json:"message"`
	SentAt       time.Time `json:"sent_at"`
}

// EventPublisher delivers grading events. Publishing never fails the caller.
type EventPublisher interface {
	Publish(ctx context.Context, event GradingEvent)
}

type brokerEventPublisher struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	sanitizer    *bluemonday.Policy
	logger       zerolog.Logger
	nodeID       string
	now          func() time.Time
}

// NewEventPublisher publishes to a Redis channel and a NATS subject derived
// from channelBase. Either connection may be nil.
func NewEventPublisher(redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) EventPublisher {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":events"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".events"
	}

	return &brokerEventPublisher{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		sanitizer:    bluemonday.StrictPolicy(),
		logger:       logger.With().Str("component", "event_publisher").Logger(),
		nodeID:       uuid.NewString(),
		now:          time.Now,
	}
}

func (p *brokerEventPublisher) Publish(ctx context.Context, event GradingEvent) {
	event.Source = p.nodeID
	event.Message = strings.TrimSpace(p.sanitizer.Sanitize(event.Message))
	if event.SentAt.IsZero() {
		event.SentAt = p.now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn().Err(err).Str("submission_id", event.SubmissionID).Msg("failed to encode grading event")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	published := false
	if p.redis != nil && p.redisChannel != "" {
		if err := p.redis.Publish(ctx, p.redisChannel, payload).Err(); err != nil {
			p.logger.Warn().Err(err).Str("submission_id", event.SubmissionID).Msg("failed to publish grading event to redis")
		} else {
			published = true
		}
	}

	if p.nats != nil && p.natsSubject != "" {
		if err := p.nats.Publish(p.natsSubject, payload); err != nil {
			p.logger.Warn().Err(err).Str("submission_id", event.SubmissionID).Msg("failed to publish grading event to nats")
		} else {
			published = true
		}
	}

	if published {
		observability.EventsPublished().WithLabelValues(event.Type).Inc()
	}
}

type noopEventPublisher struct{}

// NewNoopEventPublisher returns a publisher that drops every event.
func NewNoopEventPublisher() EventPublisher {
	return noopEventPublisher{}
}

func (noopEventPublisher) Publish(context.Context, GradingEvent) {}
