package embeddings

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
	pkgpubsub "github.com/angelmondragon/studioflow-backend/pkg/pubsub"
)

// JobKind selects what an embedding job covers.
type JobKind string

const (
	JobMedia        JobKind = "media"
	JobBatch        JobKind = "batch"
	JobOrganization JobKind = "organization"
	JobAll          JobKind = "all"
)

// Job is the payload of an embedding queue message. Organization jobs run
// one backfill batch; PreviousRemaining and Failed carry the loop state to
// the next message.
type Job struct {
	Kind              JobKind     `json:"kind"`
	OrganizationID    uuid.UUID   `json:"organization_id,omitempty"`
	MediaIDs          []uuid.UUID `json:"media_ids,omitempty"`
	Force             bool        `json:"force,omitempty"`
	DryRun            bool        `json:"dry_run,omitempty"`
	BatchSize         int         `json:"batch_size,omitempty"`
	PreviousRemaining *int64      `json:"previous_remaining,omitempty"`
	Failed            []uuid.UUID `json:"failed,omitempty"`
}

func (j Job) Validate() error {
	switch j.Kind {
	case JobMedia, JobBatch:
		if len(j.MediaIDs) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s job requires media ids", j.Kind))
		}
	case JobOrganization:
		if j.OrganizationID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "organization job requires an organization id")
		}
	case JobAll:
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown embedding job kind %q", j.Kind))
	}
	return nil
}

// Attribute keys set on published embedding jobs.
const (
	AttrJobKind        = "kind"
	AttrOrganizationID = "organization_id"
)

// JobQueue publishes embedding jobs to Pub/Sub.
type JobQueue struct {
	publisher *pubsub.Publisher
}

func NewJobQueue(publisher *pubsub.Publisher) (*JobQueue, error) {
	if publisher == nil {
		return nil, errors.New("embedding publisher is required")
	}
	return &JobQueue{publisher: publisher}, nil
}

func (q *JobQueue) Enqueue(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	attrs := map[string]string{AttrJobKind: string(job.Kind)}
	if job.OrganizationID != uuid.Nil {
		attrs[AttrOrganizationID] = job.OrganizationID.String()
	}
	if _, err := pkgpubsub.PublishJSON(ctx, q.publisher, job, attrs); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeTransient, err, "enqueue embedding job")
	}
	return nil
}

type enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// QueueRequester asks for an embedding by publishing a media job. It is what
// the pipeline uses once a run completes.
type QueueRequester struct {
	queue enqueuer
}

func NewQueueRequester(queue enqueuer) *QueueRequester {
	return &QueueRequester{queue: queue}
}

func (r *QueueRequester) RequestEmbedding(ctx context.Context, organizationID, mediaID uuid.UUID) error {
	return r.queue.Enqueue(ctx, Job{Kind: JobMedia, OrganizationID: organizationID, MediaIDs: []uuid.UUID{mediaID}})
}

// DirectRequester generates the embedding in the caller's goroutine.
type DirectRequester struct {
	service *Service
	logg    *logger.Logger
}

func NewDirectRequester(service *Service, logg *logger.Logger) *DirectRequester {
	return &DirectRequester{service: service, logg: logg}
}

func (r *DirectRequester) RequestEmbedding(ctx context.Context, organizationID, mediaID uuid.UUID) error {
	_, err := r.service.GenerateForMedia(r.logg.WithOrganizationID(ctx, organizationID.String()), mediaID, false)
	return err
}
