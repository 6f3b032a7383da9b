package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/studioflow-backend/pkg/logger"
)

type stubRunner struct {
	err     error
	blocked bool
	started chan struct{}
}

func (s *stubRunner) Run(ctx context.Context) error {
	if s.started != nil {
		close(s.started)
	}
	if s.blocked {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "worker-test", Output: io.Discard})
}

func TestNewServiceRequiresConsumers(t *testing.T) {
	_, err := NewService(ServiceParams{Logger: testLogger(), PipelineConsumer: &stubRunner{}})
	require.Error(t, err)
}

func TestServiceRunStopsWhenDependencyUnready(t *testing.T) {
	svc, err := NewService(ServiceParams{
		Logger:            testLogger(),
		Dependencies:      map[string]pinger{"redis": stubPinger{err: errors.New("refused")}},
		PipelineConsumer:  &stubRunner{blocked: true},
		EmbeddingConsumer: &stubRunner{blocked: true},
	})
	require.NoError(t, err)

	err = svc.Run(context.Background())
	require.ErrorContains(t, err, "redis ping failed")
}

func TestServiceRunReturnsFirstConsumerFailure(t *testing.T) {
	boom := errors.New("subscription deleted")
	other := &stubRunner{blocked: true}
	svc, err := NewService(ServiceParams{
		Logger:            testLogger(),
		Dependencies:      map[string]pinger{"database": stubPinger{}},
		PipelineConsumer:  &stubRunner{err: boom},
		EmbeddingConsumer: other,
	})
	require.NoError(t, err)

	err = svc.Run(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestServiceRunTreatsEarlyExitAsFailure(t *testing.T) {
	svc, err := NewService(ServiceParams{
		Logger:            testLogger(),
		PipelineConsumer:  &stubRunner{blocked: true},
		EmbeddingConsumer: &stubRunner{},
	})
	require.NoError(t, err)

	err = svc.Run(context.Background())
	require.ErrorContains(t, err, "embedding consumer exited")
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	started := make(chan struct{})
	svc, err := NewService(ServiceParams{
		Logger:            testLogger(),
		PipelineConsumer:  &stubRunner{blocked: true, started: started},
		EmbeddingConsumer: &stubRunner{blocked: true},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	<-started
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
