package backend

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	openai "github.com/sashabaranov/go-openai"

	"github.com/LiboWorks/screenflow/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const readTextPrompt = `You read text from mobile game screenshots.
Return every distinct line of text visible in the image as JSON:
{"candidates": [{"text": "...", "confidence": 0.0}]}
Order candidates by confidence, highest first. The expected language is %s.`

// OpenAIBackend implements VisionBackend using the OpenAI chat completions
// API with image input.
type OpenAIBackend struct {
	client       *openai.Client
	defaultModel string
}

// OpenAIConfig holds configuration for the OpenAI backend.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // Optional: for Azure or compatible APIs
	DefaultModel string
}

// NewOpenAIBackend creates a new OpenAI backend. Empty fields fall back to
// the global configuration.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	learned := config.Get().OCR.Learned

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = learned.APIKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not provided (set OPENAI_API_KEY or ocr.learned.api_key)")
	}

	clientCfg := openai.DefaultConfig(apiKey)
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = learned.BaseURL
	}
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}

	defaultModel := cfg.DefaultModel
	if defaultModel == "" {
		defaultModel = learned.Model
	}

	return &OpenAIBackend{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: defaultModel,
	}, nil
}

// ReadText implements VisionBackend.
func (b *OpenAIBackend) ReadText(ctx context.Context, png []byte, language string) ([]TextCandidate, error) {
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	req := openai.ChatCompletionRequest{
		Model: b.defaultModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(readTextPrompt, language)},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Read the text in this image."},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURL,
						Detail: openai.ImageURLDetailHigh,
					}},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return parseCandidates(resp.Choices[0].Message.Content)
}

func parseCandidates(content string) ([]TextCandidate, error) {
	var payload struct {
		Candidates []TextCandidate `json:"candidates"`
	}
	content = strings.TrimSpace(content)
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("unexpected recognizer output %q: %w", content, err)
	}

	out := payload.Candidates[:0]
	for _, c := range payload.Candidates {
		if strings.TrimSpace(c.Text) != "" {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out, nil
}

// Name implements VisionBackend.
func (b *OpenAIBackend) Name() string {
	return "openai"
}

// Close implements VisionBackend.
func (b *OpenAIBackend) Close() error {
	return nil
}
