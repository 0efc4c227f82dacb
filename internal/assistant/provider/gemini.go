package provider

import (
	"context"
	"fmt"

	"github.com/Wattine-core-poc/server/internal/assistant/model"
	errx "github.com/Wattine-core-poc/server/internal/core/error"
	logx "github.com/Wattine-core-poc/server/pkg/logger"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// GeminiProvider completes chat turns with a Gemini model through the eino
// chat-model component.
type GeminiProvider struct {
	chatModel *gemini.ChatModel
	modelName string
}

// GeminiConfig holds what is needed to construct the provider.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   model.ProviderModelConfig
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.Model.Model,
		Temperature: &cfg.Model.Temperature,
		MaxTokens:   &cfg.Model.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating response model")
		return nil, fmt.Errorf("error creating response model: %w", err)
	}

	return &GeminiProvider{chatModel: chatModel, modelName: cfg.Model.Model}, nil
}

func (p *GeminiProvider) Complete(ctx context.Context, messages []*schema.Message) (string, Usage, error) {
	resp, err := p.chatModel.Generate(ctx, messages)
	if err != nil {
		logx.Error().Err(err).Str("model", p.modelName).Msg("chat completion failed")
		return "", Usage{}, errx.WrapProvider(err)
	}
	if resp == nil || resp.Content == "" {
		return "", usageFromMessage(resp), errx.WrapProvider(fmt.Errorf("empty completion from %s", p.modelName))
	}
	return resp.Content, usageFromMessage(resp), nil
}
