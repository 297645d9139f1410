// Package github handles GitHub repository URLs, webhook signature
// verification, and webhook registration.
package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Repo identifies one GitHub repository.
type Repo struct {
	Owner string
	Name  string
}

// ParseRepoURL parses a GitHub repository URL into its owner and name.
// Accepted forms: https://github.com/owner/repo, github.com/owner/repo,
// with or without a trailing .git.
func ParseRepoURL(raw string) (Repo, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Repo{}, fmt.Errorf("empty repository URL")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Repo{}, fmt.Errorf("invalid repository URL %q: %w", raw, err)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	if host != "github.com" {
		return Repo{}, fmt.Errorf("unsupported repository host %q", u.Host)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("repository URL %q lacks owner/name", raw)
	}

	return Repo{
		Owner: parts[0],
		Name:  strings.TrimSuffix(parts[1], ".git"),
	}, nil
}

// URL returns the canonical https URL of the repository.
func (r Repo) URL() string {
	return "https://github.com/" + r.Owner + "/" + r.Name
}

// String returns owner/name.
func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// SignPayload computes the X-Hub-Signature-256 header value GitHub sends
// for a payload: "sha256=" followed by the hex HMAC-SHA256 digest.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook payload against its signature header
// using a constant-time comparison.
func VerifySignature(secret string, payload []byte, signature string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	expected := SignPayload(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
