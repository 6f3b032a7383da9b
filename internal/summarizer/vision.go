package summarizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
)

// Image is one still sent to the vision model.
type Image struct {
	Format string
	Data   []byte
}

// GeminiVision describes images with a Gemini multimodal model.
type GeminiVision struct {
	name  string
	model *genai.GenerativeModel
}

func NewGeminiVision(client *genai.Client, model string) *GeminiVision {
	gm := client.GenerativeModel(model)
	gm.SetTemperature(0.2)
	return &GeminiVision{name: model, model: gm}
}

func (g *GeminiVision) Name() string { return g.name }

// Describe sends the images followed by the prompt and returns the text reply.
func (g *GeminiVision) Describe(ctx context.Context, prompt string, images []Image) (string, error) {
	parts := make([]genai.Part, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, genai.ImageData(img.Format, img.Data))
	}
	parts = append(parts, genai.Text(prompt))

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return "", fmt.Errorf("no content in response")
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("no text parts in response")
	}
	return out, nil
}
