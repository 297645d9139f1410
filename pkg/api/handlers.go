package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"infraagent/pkg/extract"
	"infraagent/pkg/github"
	"infraagent/pkg/persistence"
	"infraagent/pkg/resolver"
	"infraagent/pkg/tracker"
)

// chatRequest is the POST /chat body.
type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// chatResponse is the POST /chat reply.
type chatResponse struct {
	ConversationID string   `json:"conversation_id"`
	Message        string   `json:"message"`
	NeedsInput     bool     `json:"needs_input"`
	InputType      string   `json:"input_type,omitempty"`
	Suggestions    []string `json:"suggestions,omitempty"`
	DeploymentID   string   `json:"deployment_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	result, err := s.resolver.ResolveTurn(r.Context(), req.ConversationID, req.Message)
	if err != nil {
		s.logger.Error("Chat turn failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	resp := chatResponse{
		ConversationID: result.ConversationID,
		Message:        result.Message,
		NeedsInput:     result.NeedsInput(),
		InputType:      result.InputType,
		Suggestions:    result.Suggestions,
	}
	if result.Deployment != nil {
		resp.DeploymentID = result.Deployment.ID
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// deployRequest is the POST /deploy body. Explicit fields pre-fill their
// slots and win over extraction from the prompt.
type deployRequest struct {
	Prompt      string `json:"prompt"`
	RepoURL     string `json:"repo_url,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// deployResponse is the POST /deploy reply.
type deployResponse struct {
	Status        string         `json:"status"`
	Message       string         `json:"message"`
	DeploymentID  string         `json:"deployment_id,omitempty"`
	ExtractedInfo extract.Fields `json:"extracted_info"`
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" && req.RepoURL == "" {
		s.writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	result, err := s.resolver.ResolveDeploy(r.Context(), req.Prompt, req.RepoURL, req.Environment)
	if err != nil {
		s.logger.Error("Deploy request failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to process deploy request")
		return
	}

	resp := deployResponse{
		Status:        result.Status,
		Message:       result.Message,
		ExtractedInfo: result.Slots,
	}
	if result.Deployment != nil {
		resp.Status = string(persistence.StatusPending)
		resp.DeploymentID = result.Deployment.ID
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleDeployRouter fans out GET /deploy/list, /deploy/logs/{id}, and
// /deploy/{id}.
func (s *Server) handleDeployRouter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/deploy/")
	switch {
	case rest == "list":
		s.handleDeployList(w, r)
	case strings.HasPrefix(rest, "logs/"):
		s.handleDeployLogs(w, r, strings.TrimPrefix(rest, "logs/"))
	case rest != "" && !strings.Contains(rest, "/"):
		s.handleDeployDetail(w, r, rest)
	default:
		s.writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleDeployList(w http.ResponseWriter, r *http.Request) {
	limit := s.listLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = n
	}
	if limit > s.maxListLimit {
		limit = s.maxListLimit
	}

	var filter *persistence.DeploymentFilter
	if env := r.URL.Query().Get("environment"); env != "" {
		normalized, ok := persistence.NormalizeEnvironment(env)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "invalid environment filter")
			return
		}
		filter = &persistence.DeploymentFilter{Environment: normalized}
	}

	deployments, err := s.tracker.List(filter, limit)
	if err != nil {
		s.logger.Error("Deployment list failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list deployments")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"deployments": deployments})
}

func (s *Server) handleDeployDetail(w http.ResponseWriter, _ *http.Request, id string) {
	deployment, err := s.tracker.Get(id)
	if errors.Is(err, tracker.ErrUnknownDeployment) {
		s.writeError(w, http.StatusNotFound, "unknown deployment")
		return
	}
	if err != nil {
		s.logger.Error("Deployment lookup failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get deployment")
		return
	}
	s.writeJSON(w, http.StatusOK, deployment)
}

func (s *Server) handleDeployLogs(w http.ResponseWriter, _ *http.Request, id string) {
	logs, err := s.tracker.GetLogs(id)
	if errors.Is(err, tracker.ErrUnknownDeployment) {
		s.writeError(w, http.StatusNotFound, "unknown deployment")
		return
	}
	if err != nil {
		s.logger.Error("Deployment logs lookup failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get deployment logs")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"deployment_id": id,
		"build_logs":    logs,
	})
}

// handleGitHubWebhook implements POST /webhook/github. A verified push event
// redeploys the repository's most recent deployment configuration.
func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read payload")
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if !github.VerifySignature(s.webhookSecret, payload, signature) {
		s.logger.Warn("Rejected webhook with bad signature from %s", r.RemoteAddr)
		s.writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	if event := r.Header.Get("X-GitHub-Event"); event != "push" {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "not a push event"})
		return
	}

	var push github.PushEvent
	if err := json.Unmarshal(payload, &push); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid push payload")
		return
	}
	if push.Repository.HTMLURL == "" {
		s.writeError(w, http.StatusBadRequest, "payload lacks repository URL")
		return
	}

	latest, err := s.tracker.LatestForRepo(push.Repository.HTMLURL)
	if errors.Is(err, tracker.ErrUnknownDeployment) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "repository never deployed"})
		return
	}
	if err != nil {
		s.logger.Error("Webhook deployment lookup failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to look up deployments")
		return
	}

	result, err := s.resolver.ResolveDeploy(r.Context(),
		"Redeploy triggered by push to "+push.Repository.FullName,
		latest.RepoURL, latest.Environment)
	if err != nil {
		s.logger.Error("Webhook redeploy failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to trigger redeploy")
		return
	}
	if result.Status != resolver.StatusDispatched {
		s.writeError(w, http.StatusInternalServerError, "redeploy did not dispatch")
		return
	}

	s.logger.Info("Push to %s triggered redeploy %s", push.Repository.FullName, result.Deployment.ID)
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":        "redeploy_triggered",
		"deployment_id": result.Deployment.ID,
	})
}
