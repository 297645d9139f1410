package extract

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"infraagent/pkg/logx"
)

// DefaultOpenAIModel is used when the config does not pin a model.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIExtractor extracts deployment fields with the OpenAI Responses API.
// API failures degrade to the rule-based extractor instead of surfacing to
// the conversation.
type OpenAIExtractor struct {
	client   openai.Client
	fallback *RuleExtractor
	logger   *logx.Logger
	model    string
}

// NewOpenAIExtractor creates an extractor backed by the official OpenAI client.
func NewOpenAIExtractor(apiKey, model string) *OpenAIExtractor {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIExtractor{
		client:   openai.NewClient(option.WithAPIKey(apiKey)),
		fallback: NewRuleExtractor(),
		logger:   logx.NewLogger("extract-openai"),
		model:    model,
	}
}

// Extract implements Extractor.
func (o *OpenAIExtractor) Extract(ctx context.Context, message string) (Fields, error) {
	fields, err := o.extractLLM(ctx, message)
	if err != nil {
		o.logger.Warn("OpenAI extraction failed, using rule fallback: %v", err)
		return o.fallback.Extract(ctx, message)
	}
	return fields, nil
}

func (o *OpenAIExtractor) extractLLM(ctx context.Context, message string) (Fields, error) {
	inputText := fmt.Sprintf("System: %s\n\n%s", extractionSystemPrompt, message)

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(extractionMaxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(inputText)},
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return Fields{}, fmt.Errorf("OpenAI Responses API failed: %w", err)
	}
	if resp == nil {
		return Fields{}, fmt.Errorf("empty response from OpenAI Responses API")
	}

	return parseFieldsResponse(resp.OutputText())
}
