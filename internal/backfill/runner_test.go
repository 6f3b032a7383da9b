package backfill

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/studioflow-backend/internal/embeddings"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
)

type manyStub struct {
	ids []uuid.UUID
}

func (m *manyStub) GenerateMany(_ context.Context, ids []uuid.UUID, _, dryRun bool) ([]embeddings.Result, error) {
	m.ids = ids
	outcome := embeddings.OutcomeGenerated
	if dryRun {
		outcome = embeddings.OutcomeWouldGenerate
	}
	results := make([]embeddings.Result, 0, len(ids))
	for _, id := range ids {
		results = append(results, embeddings.Result{MediaID: id, Outcome: outcome})
	}
	return results, nil
}

func TestRunnerQueuesByDefault(t *testing.T) {
	f := newFixture(t)
	runner, err := NewRunner(f.loop, &manyStub{}, f.queue)
	require.NoError(t, err)

	job := embeddings.Job{Kind: embeddings.JobAll}
	out, err := runner.Run(context.Background(), job, false)
	require.NoError(t, err)
	assert.True(t, out.Queued)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, embeddings.JobAll, f.queue.jobs[0].Kind)
}

func TestRunnerInlineMediaJob(t *testing.T) {
	f := newFixture(t)
	gen := &manyStub{}
	runner, err := NewRunner(f.loop, gen, nil)
	require.NoError(t, err)

	ids := []uuid.UUID{uuid.New(), uuid.New()}
	out, err := runner.Run(context.Background(), embeddings.Job{Kind: embeddings.JobBatch, MediaIDs: ids, DryRun: true}, true)
	require.NoError(t, err)
	assert.False(t, out.Queued)
	assert.Equal(t, ids, gen.ids)
	require.Len(t, out.Results, 2)
	assert.Equal(t, embeddings.OutcomeWouldGenerate, out.Results[0].Outcome)
}

func TestRunnerInlineOrganizationJob(t *testing.T) {
	f := newFixture(t)
	org, _ := f.org(t, "acme", 3)
	runner, err := NewRunner(f.loop, &manyStub{}, nil)
	require.NoError(t, err)

	out, err := runner.Run(context.Background(), embeddings.Job{Kind: embeddings.JobOrganization, OrganizationID: org}, true)
	require.NoError(t, err)
	require.Len(t, out.Reports, 1)
	assert.Equal(t, StopDone, out.Reports[0].Stopped)
	assert.EqualValues(t, 0, out.Reports[0].Remaining)
}

func TestRunnerQueuedWithoutQueueIsValidationError(t *testing.T) {
	f := newFixture(t)
	runner, err := NewRunner(f.loop, &manyStub{}, nil)
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), embeddings.Job{Kind: embeddings.JobMedia, MediaIDs: []uuid.UUID{uuid.New()}}, false)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestRunnerRejectsInvalidJob(t *testing.T) {
	f := newFixture(t)
	runner, err := NewRunner(f.loop, &manyStub{}, f.queue)
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), embeddings.Job{Kind: embeddings.JobOrganization}, true)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Empty(t, f.queue.jobs)
}
