package embeddings

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// geminiBatchLimit is the most requests BatchEmbedContents accepts at once.
const geminiBatchLimit = 100

// geminiProvider keeps one model handle per retrieval task type; stored media
// are embedded as documents and search text as queries.
type geminiProvider struct {
	document *genai.EmbeddingModel
	query    *genai.EmbeddingModel
}

// NewGeminiClient opens a Gemini API client. Callers close it on shutdown.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return client, nil
}

func newGeminiProvider(client *genai.Client, model string) *geminiProvider {
	document := client.EmbeddingModel(model)
	document.TaskType = genai.TaskTypeRetrievalDocument
	query := client.EmbeddingModel(model)
	query.TaskType = genai.TaskTypeRetrievalQuery
	return &geminiProvider{document: document, query: query}
}

func (p *geminiProvider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	return geminiEmbed(ctx, p.document, texts)
}

func (p *geminiProvider) embedQuery(ctx context.Context, texts []string) ([][]float32, error) {
	return geminiEmbed(ctx, p.query, texts)
}

func geminiEmbed(ctx context.Context, model *genai.EmbeddingModel, texts []string) ([][]float32, error) {
	if len(texts) == 1 {
		res, err := model.EmbedContent(ctx, genai.Text(texts[0]))
		if err != nil {
			return nil, err
		}
		if res.Embedding == nil {
			return [][]float32{nil}, nil
		}
		return [][]float32{res.Embedding.Values}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiBatchLimit {
		end := min(start+geminiBatchLimit, len(texts))
		batch := model.NewBatch()
		for _, text := range texts[start:end] {
			batch.AddContent(genai.Text(text))
		}
		res, err := model.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(res.Embeddings), end-start)
		}
		for _, e := range res.Embeddings {
			if e == nil {
				out = append(out, nil)
				continue
			}
			out = append(out, e.Values)
		}
	}
	return out, nil
}
