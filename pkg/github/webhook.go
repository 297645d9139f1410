package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"infraagent/pkg/logx"
)

// DefaultAPIBaseURL is the GitHub REST API root.
const DefaultAPIBaseURL = "https://api.github.com"

// PushEvent is the subset of a GitHub push webhook payload the service
// reacts to.
type PushEvent struct {
	Ref        string `json:"ref"`
	Repository struct {
		FullName string `json:"full_name"`
		HTMLURL  string `json:"html_url"`
		CloneURL string `json:"clone_url"`
	} `json:"repository"`
	Pusher struct {
		Name string `json:"name"`
	} `json:"pusher"`
}

// WebhookClient registers push webhooks on GitHub repositories.
type WebhookClient struct {
	httpClient  *http.Client
	logger      *logx.Logger
	baseURL     string
	token       string
	secret      string
	callbackURL string
}

// NewWebhookClient creates a webhook registration client. An empty token is
// allowed; Register then becomes a no-op so deployments work without GitHub
// credentials.
func NewWebhookClient(token, secret, callbackURL string) *WebhookClient {
	return &WebhookClient{
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		logger:      logx.NewLogger("github"),
		baseURL:     DefaultAPIBaseURL,
		token:       token,
		secret:      secret,
		callbackURL: callbackURL,
	}
}

// SetBaseURL overrides the API root. Used by tests.
func (c *WebhookClient) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// hookRequest is the create-hook payload for the GitHub REST API.
type hookRequest struct {
	Name   string     `json:"name"`
	Active bool       `json:"active"`
	Events []string   `json:"events"`
	Config hookConfig `json:"config"`
}

type hookConfig struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Secret      string `json:"secret"`
	InsecureSSL string `json:"insecure_ssl"`
}

// Register creates a push webhook on the repository pointing at the
// configured callback URL. Returns true when the hook is in place, whether
// created now or already present. Without a token or callback URL the call
// is skipped and returns false with no error.
func (c *WebhookClient) Register(ctx context.Context, repoURL string) (bool, error) {
	if c.token == "" || c.callbackURL == "" {
		c.logger.Debug("Skipping webhook registration for %s: no token or callback URL", repoURL)
		return false, nil
	}

	repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return false, err
	}

	body, err := json.Marshal(hookRequest{
		Name:   "web",
		Active: true,
		Events: []string{"push"},
		Config: hookConfig{
			URL:         c.callbackURL,
			ContentType: "json",
			Secret:      c.secret,
			InsecureSSL: "0",
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal hook request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/hooks", c.baseURL, repo.Owner, repo.Name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to build hook request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("hook creation request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusCreated:
		c.logger.Info("Registered push webhook on %s", repo)
		return true, nil
	case http.StatusUnprocessableEntity:
		// GitHub answers 422 when an identical hook already exists.
		c.logger.Debug("Webhook already present on %s", repo)
		return true, nil
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return false, fmt.Errorf("hook creation failed for %s: status %d: %s",
			repo, resp.StatusCode, string(detail))
	}
}
