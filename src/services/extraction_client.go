package services

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/username/ledgerlens/src/config"
	"github.com/username/ledgerlens/src/extraction"
	"github.com/username/ledgerlens/src/logger"
)

// GeminiExtractor asks a Gemini model to turn raw statement text into the
// structured document contract.
type GeminiExtractor struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

func NewGeminiExtractor(ctx context.Context, cfg *config.AppConfig) (*GeminiExtractor, error) {
	clientCfg := &genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	if cfg.GeminiAPIKey != "" {
		clientCfg.APIKey = cfg.GeminiAPIKey
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("error initializing Gemini client: %w", err)
	}
	return &GeminiExtractor{
		client:  client,
		model:   cfg.ExtractionModel,
		timeout: cfg.ExtractionTimeout,
	}, nil
}

// Extract sends the prompt, the statement text and any corrective feedback
// in a single chat turn and returns the model's raw text. Validation of the
// result is the caller's job.
func (e *GeminiExtractor) Extract(ctx context.Context, req ExtractionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	chat, err := e.client.Chats.Create(ctx, e.model, nil, nil)
	if err != nil {
		return "", fmt.Errorf("%w: creating chat: %v", ErrExtractionFailed, err)
	}

	parts := []*genai.Part{
		{Text: extraction.ExtractionPrompt(req.FileType, req.Filename)},
		{Text: "Statement content:\n\n" + req.Content},
	}
	if req.Feedback != "" {
		parts = append(parts, &genai.Part{Text: req.Feedback})
	}

	started := time.Now()
	resp, err := chat.Send(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: model returned no content", ErrExtractionFailed)
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		text += part.Text
	}
	logger.L.Info("Extraction completed",
		"model", e.model,
		"filename", req.Filename,
		"corrective", req.Feedback != "",
		"durationMs", time.Since(started).Milliseconds(),
	)
	return text, nil
}
