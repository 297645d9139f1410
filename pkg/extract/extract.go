// Package extract turns free-form deployment requests into structured
// deployment fields. Extraction is best-effort: absent or unrecognizable
// values come back empty, never as errors.
package extract

import (
	"context"

	"infraagent/pkg/config"
	"infraagent/pkg/logx"
)

// Fields holds whatever deployment parameters could be recognized in a
// single message. Empty string means "not mentioned".
type Fields struct {
	RepoURL        string `json:"repo_url"`
	Environment    string `json:"environment"`
	DeploymentType string `json:"deployment_type"`
	Requirements   string `json:"requirements"`
}

// IsZero reports whether nothing was extracted.
func (f Fields) IsZero() bool {
	return f == Fields{}
}

// Extractor recognizes deployment fields in one message.
type Extractor interface {
	Extract(ctx context.Context, message string) (Fields, error)
}

// NewFromConfig builds the extractor selected by the config. LLM providers
// need an API key; when the key is unavailable the rule-based extractor is
// used instead so the service stays functional.
func NewFromConfig(cfg *config.Config) Extractor {
	logger := logx.NewLogger("extract")

	switch cfg.Extraction.Provider {
	case config.ProviderOpenAI:
		key, err := config.GetSecret(config.SecretOpenAIKey)
		if err != nil {
			logger.Warn("OpenAI extraction configured but no API key available, falling back to rules: %v", err)
			return NewRuleExtractor()
		}
		return NewOpenAIExtractor(key, cfg.Extraction.Model)

	case config.ProviderAnthropic:
		key, err := config.GetSecret(config.SecretAnthropicKey)
		if err != nil {
			logger.Warn("Anthropic extraction configured but no API key available, falling back to rules: %v", err)
			return NewRuleExtractor()
		}
		return NewAnthropicExtractor(key, cfg.Extraction.Model)

	default:
		return NewRuleExtractor()
	}
}
