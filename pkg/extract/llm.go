package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"infraagent/pkg/persistence"
)

// extractionSystemPrompt instructs the model to answer with nothing but a
// JSON object so the response can be parsed mechanically.
const extractionSystemPrompt = `You extract deployment parameters from user messages.

Respond with ONLY a JSON object, no prose, in this exact shape:
{"repo_url": "", "environment": "", "deployment_type": "", "requirements": ""}

Rules:
- repo_url: a GitHub repository URL if one is mentioned, normalized to https://github.com/owner/repo. Otherwise "".
- environment: one of "dev", "qa", "beta", "prod" if the user names a target environment (map "production" to "prod", "development" to "dev"). Otherwise "".
- deployment_type: the kind of deployment if stated (for example "static_site", "service", "worker"). Otherwise "".
- requirements: any special requirements the user states, verbatim. Otherwise "".
- Never invent values. A field the user did not mention stays "".`

const extractionMaxTokens = 512

// parseFieldsResponse parses the model's JSON reply into Fields. Models wrap
// JSON in code fences or add prose despite instructions, so the parser works
// on the first balanced object it can find.
func parseFieldsResponse(text string) (Fields, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return Fields{}, fmt.Errorf("no JSON object in extraction response")
	}

	var fields Fields
	if err := json.Unmarshal([]byte(text[start:end+1]), &fields); err != nil {
		return Fields{}, fmt.Errorf("failed to parse extraction response: %w", err)
	}

	// Only the closed environment set survives. An invalid environment is
	// treated as not mentioned.
	if env, ok := persistence.NormalizeEnvironment(fields.Environment); ok {
		fields.Environment = env
	} else {
		fields.Environment = ""
	}

	fields.RepoURL = strings.TrimSpace(fields.RepoURL)
	fields.DeploymentType = strings.TrimSpace(fields.DeploymentType)
	fields.Requirements = strings.TrimSpace(fields.Requirements)
	return fields, nil
}
