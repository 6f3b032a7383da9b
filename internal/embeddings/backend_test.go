package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/studioflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "embeddings-test", Output: io.Discard})
}

type scriptedProvider struct {
	mu      sync.Mutex
	errs    []error
	calls   [][]string
	embedFn func(texts []string) [][]float32
}

func (p *scriptedProvider) embed(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, texts)
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if p.embedFn != nil {
		return p.embedFn(texts), nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 2}
	}
	return out, nil
}

type stubLimiter struct {
	allowed bool
	err     error
	scopes  []string
}

func (l *stubLimiter) FixedWindowAllow(_ context.Context, scope string, _ int64, _ time.Duration) (bool, int64, error) {
	l.scopes = append(l.scopes, scope)
	return l.allowed, 1, l.err
}

func newTestBackend(p provider, dim int, sleeps *[]time.Duration) *backend {
	return &backend{
		name:      "fake",
		model:     "fake-model",
		dimension: dim,
		provider:  p,
		retry: retryPolicy{
			maxRetries: 3,
			baseDelay:  2 * time.Second,
			maxDelay:   5 * time.Second,
			sleep: func(_ context.Context, d time.Duration) error {
				if sleeps != nil {
					*sleeps = append(*sleeps, d)
				}
				return nil
			},
		},
		logg: testLogger(),
	}
}

func TestNormalizePadsAndTruncates(t *testing.T) {
	cases := []struct {
		name string
		in   []float32
		dim  int
		want []float32
	}{
		{name: "shorter", in: []float32{1, 2}, dim: 4, want: []float32{1, 2, 0, 0}},
		{name: "longer", in: []float32{1, 2, 3, 4, 5}, dim: 3, want: []float32{1, 2, 3}},
		{name: "exact", in: []float32{0.5, -0.5}, dim: 2, want: []float32{0.5, -0.5}},
		{name: "empty", in: nil, dim: 2, want: []float32{0, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Normalize(tc.in, tc.dim)
			assert.Len(t, got, tc.dim)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeDoesNotAliasInput(t *testing.T) {
	in := []float32{1, 2, 3}
	out := Normalize(in, 3)
	out[0] = 9
	assert.Equal(t, float32(1), in[0])
}

func TestGenerateEmbeddingNormalizesToDimension(t *testing.T) {
	b := newTestBackend(&scriptedProvider{}, 8, nil)
	vec, err := b.GenerateEmbedding(context.Background(), "kitchen")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
	assert.Equal(t, float32(7), vec[0])
}

func TestGenerateEmbeddingBlankTextIsNil(t *testing.T) {
	p := &scriptedProvider{}
	b := newTestBackend(p, 4, nil)
	vec, err := b.GenerateEmbedding(context.Background(), "   ")
	require.NoError(t, err)
	assert.Nil(t, vec)
	assert.Empty(t, p.calls)
}

func TestGenerateEmbeddingRetriesWithIncreasingBackoff(t *testing.T) {
	p := &scriptedProvider{errs: []error{
		status.Error(codes.ResourceExhausted, "quota"),
		&httpStatusError{service: "x", status: 503},
		nil,
	}}
	var sleeps []time.Duration
	b := newTestBackend(p, 4, &sleeps)

	vec, err := b.GenerateEmbedding(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Len(t, p.calls, 3)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeps)
}

func TestGenerateEmbeddingStopsAtRetryCeiling(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "down")
	p := &scriptedProvider{errs: []error{unavailable, unavailable, unavailable, unavailable, unavailable, unavailable}}
	var sleeps []time.Duration
	b := newTestBackend(p, 4, &sleeps)

	_, err := b.GenerateEmbedding(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeTransient))
	assert.Len(t, p.calls, 4)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second}, sleeps)
}

func TestGenerateEmbeddingDoesNotRetryRejectedRequests(t *testing.T) {
	p := &scriptedProvider{errs: []error{&googleapi.Error{Code: http.StatusBadRequest, Message: "bad"}}}
	b := newTestBackend(p, 4, nil)

	_, err := b.GenerateEmbedding(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Len(t, p.calls, 1)
}

func TestRateLimitDenialSkipsProvider(t *testing.T) {
	p := &scriptedProvider{}
	b := newTestBackend(p, 4, nil)
	b.limiter = &stubLimiter{allowed: false}
	b.limit = 10

	_, err := b.GenerateEmbedding(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeRateLimit))
	assert.Empty(t, p.calls)
}

func TestRateLimiterOutageDoesNotBlock(t *testing.T) {
	p := &scriptedProvider{}
	b := newTestBackend(p, 4, nil)
	limiter := &stubLimiter{err: errors.New("redis down")}
	b.limiter = limiter
	b.limit = 10

	_, err := b.GenerateEmbedding(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"embeddings:fake"}, limiter.scopes)
}

// retrievalProvider answers query-mode calls with a marker vector.
type retrievalProvider struct {
	*scriptedProvider
	queries [][]string
}

func (p *retrievalProvider) embedQuery(_ context.Context, texts []string) ([][]float32, error) {
	p.queries = append(p.queries, texts)
	return [][]float32{{9, 9}}, nil
}

func TestQueryEmbeddingUsesQueryMode(t *testing.T) {
	p := &retrievalProvider{scriptedProvider: &scriptedProvider{}}
	b := newTestBackend(p, 3, nil)

	vec, err := b.GenerateQueryEmbedding(context.Background(), "kitchen island")
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 9, 0}, vec)
	assert.Equal(t, [][]string{{"kitchen island"}}, p.queries)
	assert.Empty(t, p.calls, "documents mode is not used for queries")

	_, err = b.GenerateEmbedding(context.Background(), "kitchen island")
	require.NoError(t, err)
	assert.Len(t, p.calls, 1)

	plain := newTestBackend(&scriptedProvider{}, 3, nil)
	vec, err = plain.GenerateQueryEmbedding(context.Background(), "ab")
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 1, 2}, vec)
}

func TestBatchKeepsInputAlignment(t *testing.T) {
	p := &scriptedProvider{}
	b := newTestBackend(p, 3, nil)

	out, err := b.GenerateEmbeddingsBatch(context.Background(), []string{"ab", "", "abcd", "  "})
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, []float32{2, 1, 2}, out[0])
	assert.Nil(t, out[1])
	assert.Equal(t, []float32{4, 1, 2}, out[2])
	assert.Nil(t, out[3])
	require.Len(t, p.calls, 1)
	assert.Equal(t, []string{"ab", "abcd"}, p.calls[0])
}

func TestBatchFallsBackToSingleCalls(t *testing.T) {
	bad := &httpStatusError{service: "x", status: http.StatusBadRequest}
	p := &scriptedProvider{errs: []error{bad, nil, bad}}
	b := newTestBackend(p, 3, nil)

	out, err := b.GenerateEmbeddingsBatch(context.Background(), []string{"ok", "broken"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.NotNil(t, out[0])
	assert.Nil(t, out[1])
}

func TestClassifyProviderError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code pkgerrors.Code
	}{
		{name: "grpc exhausted", err: status.Error(codes.ResourceExhausted, "q"), code: pkgerrors.CodeRateLimit},
		{name: "grpc internal", err: status.Error(codes.Internal, "x"), code: pkgerrors.CodeTransient},
		{name: "grpc invalid", err: status.Error(codes.InvalidArgument, "x"), code: pkgerrors.CodeValidation},
		{name: "googleapi 429", err: &googleapi.Error{Code: 429}, code: pkgerrors.CodeRateLimit},
		{name: "googleapi 502", err: &googleapi.Error{Code: 502}, code: pkgerrors.CodeTransient},
		{name: "http 500", err: &httpStatusError{status: 500}, code: pkgerrors.CodeTransient},
		{name: "plain", err: errors.New("eof"), code: pkgerrors.CodeDependency},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, pkgerrors.CodeOf(classifyProviderError(tc.err)), tc.name)
	}
	assert.NoError(t, classifyProviderError(nil))
	assert.ErrorIs(t, classifyProviderError(context.Canceled), context.Canceled)
}

func TestLocalServerProvider(t *testing.T) {
	var got embedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(embedResponse{Model: got.Model, Embeddings: [][]float32{{1, 2}, {3, 4}}})
	}))
	defer srv.Close()

	p := &localServerProvider{baseURL: srv.URL, model: "nomic-embed-text", httpClient: srv.Client()}
	out, err := p.embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}}, out)
	assert.Equal(t, "nomic-embed-text", got.Model)
	assert.Equal(t, []string{"a", "b"}, got.Input)
}

func TestLocalServerProviderStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := &localServerProvider{baseURL: srv.URL, model: "m", httpClient: srv.Client()}
	_, err := p.embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsRetryable(classifyProviderError(err)))
}

func TestRESTIndexUpsertAndQuery(t *testing.T) {
	org := uuid.New()
	hit := uuid.New()
	var upserted upsertRequest
	var queried queryRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("Api-Key"))
		switch r.URL.Path {
		case "/vectors/upsert":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&upserted))
			_, _ = io.WriteString(w, `{"upsertedCount":1}`)
		case "/query":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&queried))
			_, _ = io.WriteString(w, `{"matches":[{"id":"`+hit.String()+`","score":0.91},{"id":"not-a-uuid","score":0.5}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	index, err := NewRESTIndex(config.VectorIndexConfig{Host: srv.URL, APIKey: "secret", Namespace: "media"}, srv.Client())
	require.NoError(t, err)

	require.NoError(t, index.Upsert(context.Background(), org, hit, []float32{1, 0}, map[string]string{"type": "image"}))
	require.Len(t, upserted.Vectors, 1)
	assert.Equal(t, hit.String(), upserted.Vectors[0].ID)
	assert.Equal(t, org.String(), upserted.Vectors[0].Metadata["organization_id"])
	assert.Equal(t, "media", upserted.Namespace)

	matches, err := index.Query(context.Background(), org, []float32{1, 0}, 5, IndexFilter{Types: []string{"image"}})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, hit, matches[0].MediaID)
	assert.InDelta(t, 0.91, matches[0].Score, 1e-9)
	assert.Equal(t, 5, queried.TopK)
	assert.Contains(t, queried.Filter, "type")
}

func TestNewRESTIndexRequiresHost(t *testing.T) {
	_, err := NewRESTIndex(config.VectorIndexConfig{}, nil)
	assert.Error(t, err)

	index, err := NewRESTIndex(config.VectorIndexConfig{Host: "media-abc.svc.pinecone.io"}, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(index.host, "https://"))
}
