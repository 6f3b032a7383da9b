package pipeline

import (
	"context"
	"errors"

	"cloud.google.com/go/pubsub/v2"

	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
	pkgpubsub "github.com/angelmondragon/studioflow-backend/pkg/pubsub"
)

// Dispatcher hands a stage task to whatever executes it next.
type Dispatcher interface {
	Dispatch(ctx context.Context, task StageTask) error
}

// Attribute keys set on published stage tasks.
const (
	AttrRunID = "run_id"
	AttrStage = "stage"
)

// PubSubDispatcher publishes tasks for the distributed workers.
type PubSubDispatcher struct {
	publisher *pubsub.Publisher
}

func NewPubSubDispatcher(publisher *pubsub.Publisher) (*PubSubDispatcher, error) {
	if publisher == nil {
		return nil, errors.New("pipeline publisher is required")
	}
	return &PubSubDispatcher{publisher: publisher}, nil
}

func (d *PubSubDispatcher) Dispatch(ctx context.Context, task StageTask) error {
	_, err := pkgpubsub.PublishJSON(ctx, d.publisher, task, map[string]string{
		AttrRunID: task.RunID.String(),
		AttrStage: task.Stage.String(),
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeTransient, err, "dispatch stage task")
	}
	return nil
}

// InlineDispatcher runs tasks in the calling goroutine, following each
// returned next task until the run ends. Used without a broker.
type InlineDispatcher struct {
	handle func(ctx context.Context, task StageTask) (*StageTask, error)
}

func NewInlineDispatcher(handle func(ctx context.Context, task StageTask) (*StageTask, error)) *InlineDispatcher {
	return &InlineDispatcher{handle: handle}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, task StageTask) error {
	next := &task
	for next != nil {
		var err error
		next, err = d.handle(ctx, *next)
		if err != nil {
			return err
		}
	}
	return nil
}
