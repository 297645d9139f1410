// Package resolver drives multi-turn slot filling for deployment requests.
// Each chat turn merges newly extracted fields into the conversation's
// accumulated slots, then either asks for the next missing slot or hands the
// completed request to the dispatcher.
package resolver

import (
	"context"

	"infraagent/pkg/dispatch"
	"infraagent/pkg/extract"
	"infraagent/pkg/github"
	"infraagent/pkg/logx"
	"infraagent/pkg/metrics"
	"infraagent/pkg/persistence"
	"infraagent/pkg/session"
)

// Result statuses.
const (
	StatusNeedsRepoURL     = "needs_repo_url"
	StatusNeedsEnvironment = "needs_environment"
	StatusDispatched       = "dispatched"
)

// Input types the UI can specialize prompts for.
const (
	InputRepoURL     = "repo_url"
	InputEnvironment = "environment"
)

// Result is the outcome of resolving one turn or one form submission.
type Result struct {
	Status         string
	ConversationID string
	Message        string
	InputType      string
	Suggestions    []string
	Slots          extract.Fields
	// Deployment is set when Status is StatusDispatched.
	Deployment *persistence.Deployment
}

// NeedsInput reports whether the caller must supply more information.
func (r *Result) NeedsInput() bool {
	return r.Status != StatusDispatched
}

// Resolver serializes turns per conversation and owns the slot-filling
// decision sequence.
type Resolver struct {
	extractor  extract.Extractor
	sessions   *session.Store
	dispatcher *dispatch.Dispatcher
	logger     *logx.Logger
	metrics    *metrics.Recorder
}

// New creates a resolver.
func New(extractor extract.Extractor, sessions *session.Store, dispatcher *dispatch.Dispatcher) *Resolver {
	return &Resolver{
		extractor:  extractor,
		sessions:   sessions,
		dispatcher: dispatcher,
		logger:     logx.NewLogger("resolver"),
		metrics:    metrics.Default(),
	}
}

// ResolveTurn applies one chat message to its conversation. An empty or
// unknown conversation id starts a fresh conversation; a conversation whose
// slots already fed a deployment is left frozen and the turn starts a new
// one.
func (r *Resolver) ResolveTurn(ctx context.Context, conversationID, message string) (*Result, error) {
	sess, _ := r.sessions.GetOrCreate(conversationID)

	sess.Lock()
	if sess.Dispatched {
		// Dispatched conversations are immutable. Further turns open a new
		// conversation so the old transcript stays tied to its deployment.
		sess.Unlock()
		sess = r.sessions.Create()
		sess.Lock()
	}
	defer sess.Unlock()

	sess.AppendTurn(session.RoleUser, message)

	fields, err := r.extractor.Extract(ctx, message)
	if err != nil {
		// Extraction is best-effort; a broken extractor degrades to an
		// empty result, not a failed turn.
		r.logger.Warn("Extraction failed on conversation %s: %v", sess.ID, err)
		fields = extract.Fields{}
	}
	mergeSlots(&sess.Slots, sanitizeFields(fields))

	result, err := r.decide(ctx, sess)
	if err != nil {
		return nil, err
	}

	sess.AppendTurn(session.RoleAssistant, result.Message)
	r.metrics.ChatTurn(result.Status)
	return result, nil
}

// ResolveDeploy handles the one-shot form flow. Explicitly supplied fields
// pre-fill their slots and win over anything extracted from the prompt.
func (r *Resolver) ResolveDeploy(ctx context.Context, prompt, repoURL, environment string) (*Result, error) {
	sess := r.sessions.Create()

	sess.Lock()
	defer sess.Unlock()

	sess.AppendTurn(session.RoleUser, prompt)

	fields, err := r.extractor.Extract(ctx, prompt)
	if err != nil {
		r.logger.Warn("Extraction failed on form request: %v", err)
		fields = extract.Fields{}
	}
	mergeSlots(&sess.Slots, sanitizeFields(fields))
	mergeSlots(&sess.Slots, sanitizeFields(extract.Fields{RepoURL: repoURL, Environment: environment}))

	result, err := r.decide(ctx, sess)
	if err != nil {
		return nil, err
	}

	sess.AppendTurn(session.RoleAssistant, result.Message)
	r.metrics.ChatTurn(result.Status)
	return result, nil
}

// decide inspects the accumulated slots and either asks for the next
// missing slot (repo_url before environment) or dispatches. Caller holds
// the session lock.
func (r *Resolver) decide(ctx context.Context, sess *session.Session) (*Result, error) {
	slots := sess.Slots

	if slots.RepoURL == "" {
		return &Result{
			Status:         StatusNeedsRepoURL,
			ConversationID: sess.ID,
			Message:        "Which GitHub repository should I deploy? Please share the full URL.",
			InputType:      InputRepoURL,
			Suggestions:    []string{"https://github.com/username/repository"},
			Slots:          slots,
		}, nil
	}

	if _, ok := persistence.NormalizeEnvironment(slots.Environment); !ok {
		return &Result{
			Status:         StatusNeedsEnvironment,
			ConversationID: sess.ID,
			Message:        "Which environment should I deploy " + slots.RepoURL + " to?",
			InputType:      InputEnvironment,
			Suggestions:    persistence.ValidEnvironments(),
			Slots:          slots,
		}, nil
	}

	deployment, err := r.dispatcher.Dispatch(ctx, &dispatch.Request{
		ConversationID: sess.ID,
		RepoURL:        slots.RepoURL,
		Environment:    slots.Environment,
		Prompt:         firstUserTurn(sess),
		DeploymentType: slots.DeploymentType,
		Requirements:   slots.Requirements,
	})
	if err != nil {
		return nil, err
	}

	sess.MarkDispatched(deployment.ID)
	r.logger.Info("Conversation %s dispatched deployment %s", sess.ID, deployment.ID)

	return &Result{
		Status:         StatusDispatched,
		ConversationID: sess.ID,
		Message: "Deployment started: " + deployment.RepoURL + " to " + deployment.Environment +
			". Deployment id " + deployment.ID + ".",
		Slots:      slots,
		Deployment: deployment,
	}, nil
}

// sanitizeFields drops values that fail slot validation before they can
// merge. A repository URL that does not resolve to host/owner/repo and an
// environment outside the closed set are treated as not mentioned, so the
// caller gets reprompted instead of a deployment with a garbage slot.
func sanitizeFields(f extract.Fields) extract.Fields {
	f.RepoURL = canonicalRepoURL(f.RepoURL)
	if env, ok := persistence.NormalizeEnvironment(f.Environment); ok {
		f.Environment = env
	} else {
		f.Environment = ""
	}
	return f
}

// canonicalRepoURL normalizes a repository reference to its canonical
// https://github.com/owner/repo form, or "" when it has no such shape.
func canonicalRepoURL(raw string) string {
	if raw == "" {
		return ""
	}
	repo, err := github.ParseRepoURL(raw)
	if err != nil {
		return ""
	}
	return repo.URL()
}

// mergeSlots applies the monotonic merge rule: a non-empty incoming value
// overwrites, an empty one never clears.
func mergeSlots(dst *extract.Fields, src extract.Fields) {
	if src.RepoURL != "" {
		dst.RepoURL = src.RepoURL
	}
	if src.Environment != "" {
		dst.Environment = src.Environment
	}
	if src.DeploymentType != "" {
		dst.DeploymentType = src.DeploymentType
	}
	if src.Requirements != "" {
		dst.Requirements = src.Requirements
	}
}

// firstUserTurn returns the conversation's opening user message, which
// becomes the deployment's recorded prompt.
func firstUserTurn(sess *session.Session) string {
	for _, turn := range sess.Turns {
		if turn.Role == session.RoleUser {
			return turn.Content
		}
	}
	return ""
}
