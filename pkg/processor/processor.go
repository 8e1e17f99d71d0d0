// Package processor applies inbound HBI events to the relationship store and
// stages the resulting normalized events in the outbox, one transaction per
// message.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizer"
	"github.com/Ramsey-B/fern/pkg/relationships"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var ErrUnsupportedEvent = errors.New("unsupported hbi event")

// Transactor runs fn as one atomic unit of work.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OutboxWriter stages a normalized event for later publication.
type OutboxWriter interface {
	CreateOutboxRecord(ctx context.Context, event models.SwatchEvent) error
}

// Projector receives relationship changes after their transaction commits.
type Projector interface {
	Project(ctx context.Context, changes []models.RelationshipChange)
}

// Result describes what one inbound event produced.
type Result struct {
	Outcome    string
	SkipReason string
	Events     []models.SwatchEvent
	Changes    []models.RelationshipChange
}

type Processor struct {
	tx            Transactor
	relationships *relationships.Service
	normalizer    *normalizer.Normalizer
	outbox        OutboxWriter
	projector     Projector
	afterCommit   func()
	validate      *validator.Validate
	logger        ectologger.Logger
}

type Option func(*Processor)

// WithProjector forwards committed relationship changes to p.
func WithProjector(p Projector) Option {
	return func(proc *Processor) { proc.projector = p }
}

// WithAfterCommit registers fn to run after every committed message that staged events.
func WithAfterCommit(fn func()) Option {
	return func(proc *Processor) { proc.afterCommit = fn }
}

func NewProcessor(
	tx Transactor,
	relationshipService *relationships.Service,
	norm *normalizer.Normalizer,
	outbox OutboxWriter,
	logger ectologger.Logger,
	opts ...Option,
) *Processor {
	p := &Processor{
		tx:            tx,
		relationships: relationshipService,
		normalizer:    norm,
		outbox:        outbox,
		validate:      validator.New(),
		logger:        logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleMessage is the kafka.MessageHandler for the inbound HBI topic.
// Undecodable and unsupported messages are acknowledged; persistence failures
// are returned so the message is redelivered.
func (p *Processor) HandleMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	var event models.HbiEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		metrics.HbiEventsTotal.WithLabelValues("unknown", metrics.OutcomeUnsupported).Inc()
		p.logger.WithContext(ctx).WithError(err).WithField("message", msg.Ref()).Warn("Dropping undecodable HBI message")
		return nil
	}

	_, err := p.Process(ctx, &event)
	if errors.Is(err, ErrUnsupportedEvent) {
		return nil
	}
	return err
}

// Process applies one event. ErrUnsupportedEvent marks events that were
// dropped without any mutation.
func (p *Processor) Process(ctx context.Context, event *models.HbiEvent) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.Process")
	defer span.End()

	start := time.Now()
	eventType := eventTypeLabel(event.Type)
	defer func() {
		metrics.HbiEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": event.Type,
		"org_id":     event.OrgIDValue(),
	})

	handle, err := p.route(event)
	if err != nil {
		metrics.HbiEventsTotal.WithLabelValues(eventType, metrics.OutcomeUnsupported).Inc()
		log.WithError(err).Warn("Dropping unsupported HBI event")
		return &Result{Outcome: metrics.OutcomeUnsupported}, err
	}

	var result *Result
	err = p.tx.WithTx(ctx, func(ctx context.Context) error {
		run := newUnitOfWork(p, p.normalizer.EventTime(event.Timestamp))
		if err := handle(ctx, run, event); err != nil {
			return err
		}
		for _, e := range run.events {
			if err := p.outbox.CreateOutboxRecord(ctx, e); err != nil {
				return err
			}
		}
		result = run.result()
		return nil
	})
	if err != nil {
		metrics.HbiEventsTotal.WithLabelValues(eventType, metrics.OutcomeFailed).Inc()
		log.WithError(err).Error("Failed to process HBI event, transaction rolled back")
		return nil, err
	}

	metrics.HbiEventsTotal.WithLabelValues(eventType, result.Outcome).Inc()
	for _, e := range result.Events {
		metrics.OutboundEventsStaged.WithLabelValues(e.EventType).Inc()
	}

	log.WithFields(map[string]any{
		"outcome":     result.Outcome,
		"skip_reason": result.SkipReason,
		"events":      len(result.Events),
	}).Debug("Processed HBI event")

	if p.projector != nil && len(result.Changes) > 0 {
		p.projector.Project(ctx, result.Changes)
	}
	if p.afterCommit != nil && len(result.Events) > 0 {
		p.afterCommit()
	}

	return result, nil
}

type handlerFunc func(ctx context.Context, run *unitOfWork, event *models.HbiEvent) error

func (p *Processor) route(event *models.HbiEvent) (handlerFunc, error) {
	if err := p.validate.Struct(event); err != nil {
		return nil, errors.Join(ErrUnsupportedEvent, err)
	}

	switch event.Type {
	case models.HbiEventCreated, models.HbiEventUpdated:
		if event.Host == nil {
			return nil, errors.Join(ErrUnsupportedEvent, errors.New("create/update event has no host"))
		}
		return p.handleCreateUpdate, nil
	case models.HbiEventDelete:
		if event.OrgID == "" || (event.ID == "" && derefString(event.SubscriptionManagerID) == "") {
			return nil, errors.Join(ErrUnsupportedEvent, errors.New("delete event has no host identity"))
		}
		return p.handleDelete, nil
	default:
		return nil, ErrUnsupportedEvent
	}
}

func eventTypeLabel(t string) string {
	switch t {
	case models.HbiEventCreated, models.HbiEventUpdated, models.HbiEventDelete:
		return t
	default:
		return "unknown"
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
