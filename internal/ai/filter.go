package ai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"coinsentry/internal/config"
	"coinsentry/internal/logger"
)

// FilterClient runs the news/context veto filter over an OpenAI-compatible API.
type FilterClient struct {
	client *openai.Client
	model  string
	cfg    *config.Config
	logger *logger.Logger
}

func NewFilterClient(cfg *config.Config, log *logger.Logger) *FilterClient {
	ocfg := openai.DefaultConfig(cfg.Filter.APIKey)
	if cfg.Filter.BaseURL != "" {
		ocfg.BaseURL = cfg.Filter.BaseURL
	}

	return &FilterClient{
		client: openai.NewClientWithConfig(ocfg),
		model:  cfg.Filter.Model,
		cfg:    cfg,
		logger: log,
	}
}

// Filter asks the model for an approve/reject verdict on one candidate entry.
func (f *FilterClient) Filter(ctx context.Context, req *FilterRequest) (*Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.FilterTimeout())
	defer cancel()

	userPrompt := BuildFilterPrompt(req)

	f.logger.Debug("sending filter request", "market", req.Market, "headlines", len(req.News))

	resp, err := f.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: f.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("filter API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("filter returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	f.logger.Debug("filter raw response", "market", req.Market, "content", raw)

	decision, err := ParseDecision(raw)
	if err != nil {
		return nil, fmt.Errorf("parse filter response: %w", err)
	}

	return decision, nil
}
