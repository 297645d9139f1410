package extract

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"infraagent/pkg/logx"
)

// DefaultAnthropicModel is used when the config does not pin a model.
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicExtractor extracts deployment fields with the Anthropic Messages
// API. API failures degrade to the rule-based extractor.
type AnthropicExtractor struct {
	client   anthropic.Client
	fallback *RuleExtractor
	logger   *logx.Logger
	model    anthropic.Model
}

// NewAnthropicExtractor creates an extractor backed by the Anthropic client.
func NewAnthropicExtractor(apiKey, model string) *AnthropicExtractor {
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &AnthropicExtractor{
		client:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		fallback: NewRuleExtractor(),
		logger:   logx.NewLogger("extract-anthropic"),
		model:    anthropic.Model(model),
	}
}

// Extract implements Extractor.
func (a *AnthropicExtractor) Extract(ctx context.Context, message string) (Fields, error) {
	fields, err := a.extractLLM(ctx, message)
	if err != nil {
		a.logger.Warn("Anthropic extraction failed, using rule fallback: %v", err)
		return a.fallback.Extract(ctx, message)
	}
	return fields, nil
}

func (a *AnthropicExtractor) extractLLM(ctx context.Context, message string) (Fields, error) {
	params := anthropic.MessageNewParams{
		Model: a.model,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(message)),
		},
		MaxTokens: extractionMaxTokens,
		System: []anthropic.TextBlockParam{{
			Text: extractionSystemPrompt,
			Type: "text",
		}},
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return Fields{}, fmt.Errorf("Anthropic Messages API failed: %w", err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return Fields{}, fmt.Errorf("empty response from Anthropic Messages API")
	}

	var text string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}

	return parseFieldsResponse(text)
}
