package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/studioflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
)

// IndexMatch is one hit from the external index. Score is cosine similarity.
type IndexMatch struct {
	MediaID uuid.UUID
	Score   float64
}

// IndexFilter narrows index queries by media attributes.
type IndexFilter struct {
	Types    []string
	Statuses []string
}

// VectorIndex is a managed external vector index.
type VectorIndex interface {
	Upsert(ctx context.Context, organizationID, mediaID uuid.UUID, vec []float32, attrs map[string]string) error
	Query(ctx context.Context, organizationID uuid.UUID, vec []float32, topK int, filter IndexFilter) ([]IndexMatch, error)
}

// RESTIndex talks to a Pinecone-compatible data plane.
type RESTIndex struct {
	host       string
	apiKey     string
	namespace  string
	httpClient *http.Client
}

// NewRESTIndex builds an index client from config.
func NewRESTIndex(cfg config.VectorIndexConfig, httpClient *http.Client) (*RESTIndex, error) {
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		return nil, fmt.Errorf("vector index host is required")
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &RESTIndex{host: host, apiKey: cfg.APIKey, namespace: cfg.Namespace, httpClient: httpClient}, nil
}

type indexVector struct {
	ID       string            `json:"id"`
	Values   []float32         `json:"values"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type upsertRequest struct {
	Vectors   []indexVector `json:"vectors"`
	Namespace string        `json:"namespace,omitempty"`
}

type queryRequest struct {
	Vector          []float32      `json:"vector"`
	TopK            int            `json:"topK"`
	Namespace       string         `json:"namespace,omitempty"`
	Filter          map[string]any `json:"filter,omitempty"`
	IncludeMetadata bool           `json:"includeMetadata"`
}

type queryResponse struct {
	Matches []struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	} `json:"matches"`
}

func (i *RESTIndex) Upsert(ctx context.Context, organizationID, mediaID uuid.UUID, vec []float32, attrs map[string]string) error {
	metadata := map[string]string{"organization_id": organizationID.String()}
	for k, v := range attrs {
		metadata[k] = v
	}
	req := upsertRequest{
		Vectors:   []indexVector{{ID: mediaID.String(), Values: vec, Metadata: metadata}},
		Namespace: i.namespace,
	}
	return classifyProviderError(i.post(ctx, "/vectors/upsert", req, nil))
}

func (i *RESTIndex) Query(ctx context.Context, organizationID uuid.UUID, vec []float32, topK int, filter IndexFilter) ([]IndexMatch, error) {
	where := map[string]any{"organization_id": map[string]any{"$eq": organizationID.String()}}
	if len(filter.Types) > 0 {
		where["type"] = map[string]any{"$in": filter.Types}
	}
	if len(filter.Statuses) > 0 {
		where["status"] = map[string]any{"$in": filter.Statuses}
	}
	req := queryRequest{Vector: vec, TopK: topK, Namespace: i.namespace, Filter: where}

	var resp queryResponse
	if err := i.post(ctx, "/query", req, &resp); err != nil {
		return nil, classifyProviderError(err)
	}
	matches := make([]IndexMatch, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		id, err := uuid.Parse(m.ID)
		if err != nil {
			continue
		}
		matches = append(matches, IndexMatch{MediaID: id, Score: m.Score})
	}
	return matches, nil
}

func (i *RESTIndex) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode index request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.host+path, bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build index request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", i.apiKey)

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeTransient, err, "vector index request failed")
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeTransient, err, "read vector index response")
	}
	if resp.StatusCode >= 300 {
		return &httpStatusError{service: "vector index", status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode vector index response")
	}
	return nil
}
