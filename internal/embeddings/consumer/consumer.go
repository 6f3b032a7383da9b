// Package consumer executes embedding jobs delivered over Pub/Sub.
package consumer

import (
	"context"
	"encoding/json"
	"errors"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/studioflow-backend/internal/backfill"
	"github.com/angelmondragon/studioflow-backend/internal/embeddings"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
)

type generator interface {
	GenerateMany(ctx context.Context, ids []uuid.UUID, force, dryRun bool) ([]embeddings.Result, error)
}

type backfiller interface {
	RunQueued(ctx context.Context, job embeddings.Job) (backfill.Report, error)
	EnqueueAll(ctx context.Context, req backfill.Request, limit int) (int, error)
}

type Consumer struct {
	generator    generator
	backfill     backfiller
	subscription *pubsub.Subscriber
	logg         *logger.Logger
}

func NewConsumer(gen generator, loop backfiller, subscription *pubsub.Subscriber, logg *logger.Logger) (*Consumer, error) {
	if gen == nil {
		return nil, errors.New("embedding service is required")
	}
	if loop == nil {
		return nil, errors.New("backfill loop is required")
	}
	if subscription == nil {
		return nil, errors.New("embedding subscription is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{generator: gen, backfill: loop, subscription: subscription, logg: logg}, nil
}

// Run processes messages until the context is canceled or the subscription errors.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg.ID, msg.Data).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	nack bool
}

func (c *Consumer) process(ctx context.Context, messageID string, data []byte) processResult {
	logCtx := c.logg.WithField(ctx, "message_id", messageID)

	var job embeddings.Job
	if err := json.Unmarshal(data, &job); err != nil {
		c.logg.Error(logCtx, "failed to decode embedding job", err)
		return processResult{}
	}
	if err := job.Validate(); err != nil {
		c.logg.Error(logCtx, "invalid embedding job", err)
		return processResult{}
	}
	logCtx = c.logg.WithField(logCtx, "job_kind", string(job.Kind))
	if job.OrganizationID != uuid.Nil {
		logCtx = c.logg.WithOrganizationID(logCtx, job.OrganizationID.String())
	}

	err := c.handle(logCtx, job)
	if err == nil {
		return processResult{}
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		c.logg.Warn(logCtx, "embedding job interrupted; requesting redelivery")
		return processResult{nack: true}
	}
	if pkgerrors.IsRetryable(err) {
		c.logg.Error(logCtx, "embedding job failed; requesting redelivery", err)
		return processResult{nack: true}
	}
	c.logg.Error(logCtx, "embedding job rejected", err)
	return processResult{}
}

func (c *Consumer) handle(ctx context.Context, job embeddings.Job) error {
	switch job.Kind {
	case embeddings.JobMedia, embeddings.JobBatch:
		results, err := c.generator.GenerateMany(ctx, job.MediaIDs, job.Force, job.DryRun)
		c.logg.Info(c.logg.WithFields(ctx, outcomeCounts(results)), "embedding job processed")
		return err
	case embeddings.JobOrganization:
		report, err := c.backfill.RunQueued(ctx, job)
		c.logg.Info(c.logg.WithFields(ctx, map[string]any{
			"remaining": report.Remaining,
			"generated": report.Generated,
			"stopped":   string(report.Stopped),
		}), "backfill batch processed")
		return err
	case embeddings.JobAll:
		queued, err := c.backfill.EnqueueAll(ctx, backfill.Request{
			BatchSize: job.BatchSize,
			Force:     job.Force,
			DryRun:    job.DryRun,
		}, 0)
		c.logg.Info(c.logg.WithField(ctx, "organizations_queued", queued), "backfill fan-out processed")
		return err
	}
	return nil
}

func outcomeCounts(results []embeddings.Result) map[string]any {
	counts := map[string]any{}
	for _, r := range results {
		n, _ := counts[string(r.Outcome)].(int)
		counts[string(r.Outcome)] = n + 1
	}
	return counts
}
