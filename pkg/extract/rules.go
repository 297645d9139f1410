package extract

import (
	"context"
	"regexp"
	"strings"

	"infraagent/pkg/persistence"
)

// repoURLPattern matches GitHub repository URLs with or without a scheme.
var repoURLPattern = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?github\.com/([\w.-]+)/([\w.-]+)`)

// environmentKeywords maps words users actually type to canonical
// environment names.
//
//nolint:gochecknoglobals // Lookup table, never mutated.
var environmentKeywords = map[string]string{
	"dev":         persistence.EnvDev,
	"development": persistence.EnvDev,
	"qa":          persistence.EnvQA,
	"beta":        persistence.EnvBeta,
	"prod":        persistence.EnvProd,
	"production":  persistence.EnvProd,
}

// deploymentTypeKeywords recognizes explicit deployment type mentions.
//
//nolint:gochecknoglobals // Lookup table, never mutated.
var deploymentTypeKeywords = map[string]string{
	"static":  "static_site",
	"website": "static_site",
	"worker":  "worker",
	"cron":    "worker",
	"service": "service",
	"api":     "service",
}

// RuleExtractor recognizes deployment fields with regular expressions and
// keyword matching. It needs no network and never fails, which makes it both
// the default provider and the fallback when an LLM call goes wrong.
type RuleExtractor struct{}

// NewRuleExtractor creates a rule-based extractor.
func NewRuleExtractor() *RuleExtractor {
	return &RuleExtractor{}
}

// Extract implements Extractor.
func (r *RuleExtractor) Extract(_ context.Context, message string) (Fields, error) {
	fields := Fields{
		RepoURL:     extractRepoURL(message),
		Environment: extractEnvironment(message),
	}

	for _, word := range tokenize(message) {
		if t, ok := deploymentTypeKeywords[word]; ok {
			fields.DeploymentType = t
			break
		}
	}

	return fields, nil
}

// extractRepoURL finds the first GitHub repository reference and normalizes
// it to a canonical https URL without the .git suffix.
func extractRepoURL(message string) string {
	m := repoURLPattern.FindStringSubmatch(message)
	if m == nil {
		return ""
	}

	owner := m[1]
	repo := strings.TrimSuffix(m[2], ".git")
	// The repo group is greedy about dots so a URL at the end of a sentence
	// drags the period along.
	repo = strings.TrimRight(repo, ".")
	if owner == "" || repo == "" {
		return ""
	}

	return "https://github.com/" + owner + "/" + repo
}

// extractEnvironment finds the first environment keyword used as a whole
// word. Keywords inside the repo URL must not count, so the URL is removed
// before matching.
func extractEnvironment(message string) string {
	withoutURL := repoURLPattern.ReplaceAllString(message, " ")
	for _, word := range tokenize(withoutURL) {
		if env, ok := environmentKeywords[word]; ok {
			return env
		}
	}
	return ""
}

// tokenize splits a message into lower-cased words.
func tokenize(message string) []string {
	return strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}
