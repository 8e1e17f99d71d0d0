// Package outbox stages normalized events next to the mutations that produce
// them and flushes them to the outbound topic.
package outbox

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/clock"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/featureflags"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const DefaultBatchSize = 100

// Store is the outbox persistence.
type Store interface {
	Create(ctx context.Context, record *models.OutboxRecord) error
	FindAllWithLock(ctx context.Context, limit int) ([]models.OutboxRecord, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Count(ctx context.Context) (int64, error)
}

// Publisher sends one event to the outbound topic.
type Publisher interface {
	Publish(ctx context.Context, event models.SwatchEvent) error
}

type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	store     Store
	tx        Transactor
	publisher Publisher
	flags     featureflags.Source
	clock     clock.Clock
	batchSize int
	logger    ectologger.Logger
}

type Config struct {
	BatchSize int
}

func NewService(
	store Store,
	tx Transactor,
	publisher Publisher,
	flags featureflags.Source,
	clk clock.Clock,
	cfg Config,
	logger ectologger.Logger,
) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		store:     store,
		tx:        tx,
		publisher: publisher,
		flags:     flags,
		clock:     clk,
		batchSize: cfg.BatchSize,
		logger:    logger,
	}
}

// CreateOutboxRecord stages event. Called inside the caller's transaction.
func (s *Service) CreateOutboxRecord(ctx context.Context, event models.SwatchEvent) error {
	ctx, span := tracing.StartSpan(ctx, "outbox.Service.CreateOutboxRecord")
	defer span.End()

	return s.store.Create(ctx, &models.OutboxRecord{
		ID:          uuid.New(),
		OrgID:       event.OrgID,
		SwatchEvent: database.NewJSONB(event),
		CreatedDate: s.clock.Now(),
	})
}

// Count returns the number of rows waiting to be flushed.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.Count(ctx)
}

// FlushOutboxRecords drains the outbox batch by batch until a batch comes back
// empty and returns how many rows were removed. Rows whose publish failed stay
// for the next run, and the run stops after the batch that contained them.
func (s *Service) FlushOutboxRecords(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "outbox.Service.FlushOutboxRecords")
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.OutboxFlushDuration.Observe(time.Since(start).Seconds())
	}()

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		batch, err := s.flushBatch(ctx)
		total += batch.removed
		if err != nil {
			return total, err
		}
		if batch.fetched == 0 || batch.failed > 0 {
			if batch.failed > 0 {
				s.logger.WithContext(ctx).WithFields(map[string]any{
					"failed":  batch.failed,
					"removed": total,
				}).Warn("Stopping outbox flush after publish failures")
			}
			break
		}
	}

	s.logger.WithContext(ctx).WithField("removed", total).Debug("Outbox flush complete")
	return total, nil
}

type batchResult struct {
	fetched int
	removed int
	failed  int
}

func (s *Service) flushBatch(ctx context.Context) (batchResult, error) {
	var result batchResult

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		records, err := s.store.FindAllWithLock(ctx, s.batchSize)
		if err != nil {
			return err
		}
		result = batchResult{fetched: len(records)}
		if len(records) == 0 {
			return nil
		}

		emit := s.flags.EmitEvents(ctx)
		for _, record := range records {
			outcome := metrics.OutboxDropped
			if emit {
				if err := s.publisher.Publish(ctx, record.SwatchEvent.Data); err != nil {
					s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
						"outbox_id": record.ID.String(),
						"org_id":    record.OrgID,
					}).Error("Failed to publish outbox record, keeping it for retry")
					metrics.OutboxRecordsTotal.WithLabelValues(metrics.OutboxFailed).Inc()
					result.failed++
					continue
				}
				outcome = metrics.OutboxPublished
			}

			if err := s.store.Delete(ctx, record.ID); err != nil {
				return err
			}
			metrics.OutboxRecordsTotal.WithLabelValues(outcome).Inc()
			result.removed++
		}
		return nil
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Outbox flush batch rolled back")
		return batchResult{}, err
	}

	return result, nil
}
