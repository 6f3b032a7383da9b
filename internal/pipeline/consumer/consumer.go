// Package consumer drives pipeline stage tasks delivered over Pub/Sub.
package consumer

import (
	"context"
	"encoding/json"
	"errors"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/studioflow-backend/internal/pipeline"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
)

const consumerName = "pipeline-stage"

type taskProcessor interface {
	Process(ctx context.Context, task pipeline.StageTask) error
}

type processedTracker interface {
	IsProcessed(ctx context.Context, consumer string, id uuid.UUID) (bool, error)
	MarkProcessed(ctx context.Context, consumer string, id uuid.UUID) error
}

// Consumer runs one stage per message and publishes the successor through
// the orchestrator's dispatcher.
type Consumer struct {
	processor    taskProcessor
	tracker      processedTracker
	subscription *pubsub.Subscriber
	logg         *logger.Logger
}

// NewConsumer builds a stage consumer. tracker may be nil, in which case
// redelivered messages are recognized only by completed step rows.
func NewConsumer(processor taskProcessor, tracker processedTracker, subscription *pubsub.Subscriber, logg *logger.Logger) (*Consumer, error) {
	if processor == nil {
		return nil, errors.New("pipeline processor is required")
	}
	if subscription == nil {
		return nil, errors.New("pipeline subscription is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		processor:    processor,
		tracker:      tracker,
		subscription: subscription,
		logg:         logg,
	}, nil
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

	var task pipeline.StageTask
	if err := json.Unmarshal(data, &task); err != nil {
		c.logg.Error(logCtx, "failed to decode stage task", err)
		return processResult{}
	}
	if task.RunID == uuid.Nil {
		c.logg.Warn(logCtx, "stage task missing run id")
		return processResult{}
	}
	logCtx = c.logg.WithRunID(logCtx, task.RunID.String())
	logCtx = c.logg.WithField(logCtx, "stage", task.Stage.String())

	key := messageKey(messageID)
	if c.tracker != nil && key != uuid.Nil {
		done, err := c.tracker.IsProcessed(logCtx, consumerName, key)
		if err != nil {
			c.logg.Warn(logCtx, "idempotency lookup failed; processing anyway")
		} else if done {
			c.logg.Info(logCtx, "stage task already processed")
			return processResult{}
		}
	}

	err := c.processor.Process(logCtx, task)
	var failure *pipeline.StageFailure
	switch {
	case err == nil:
	case errors.As(err, &failure):
		// the run is already marked failed; redelivery cannot help
		c.logg.Warn(logCtx, "stage failed permanently")
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		// shutdown mid-stage leaves the step running; the next delivery resumes it
		c.logg.Warn(logCtx, "stage task interrupted; requesting redelivery")
		return processResult{nack: true}
	case pkgerrors.IsRetryable(err):
		c.logg.Error(logCtx, "stage task failed; requesting redelivery", err)
		return processResult{nack: true}
	default:
		c.logg.Error(logCtx, "stage task rejected", err)
		return processResult{}
	}

	if c.tracker != nil && key != uuid.Nil {
		if err := c.tracker.MarkProcessed(logCtx, consumerName, key); err != nil {
			c.logg.Warn(logCtx, "failed to record processed stage task")
		}
	}
	return processResult{}
}

// messageKey maps a Pub/Sub message id onto the uuid keyspace used by the
// idempotency manager.
func messageKey(messageID string) uuid.UUID {
	if messageID == "" {
		return uuid.Nil
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(messageID))
}
