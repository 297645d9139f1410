// Package tracker owns the deployment lifecycle state machine and the
// append-only log stream attached to each deployment.
package tracker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"infraagent/pkg/logx"
	"infraagent/pkg/metrics"
	"infraagent/pkg/persistence"
)

// ErrInvalidTransition indicates an attempted status change violates the
// allowed-edge set. The deployment is left untouched.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrUnknownDeployment indicates the deployment id resolves to no record.
var ErrUnknownDeployment = persistence.ErrDeploymentNotFound

// TransitionTable defines valid status transitions for deployments.
type TransitionTable map[persistence.DeploymentStatus][]persistence.DeploymentStatus

// deploymentTransitions is the only edge set the tracker accepts. Terminal
// states have no outgoing edges.
//
//nolint:gochecknoglobals // Static transition table.
var deploymentTransitions = TransitionTable{
	persistence.StatusPending: {
		persistence.StatusInProgress,
		persistence.StatusCancelled,
	},
	persistence.StatusInProgress: {
		persistence.StatusCompleted,
		persistence.StatusFailed,
		persistence.StatusCancelled,
	},
	persistence.StatusCompleted: {},
	persistence.StatusFailed:    {},
	persistence.StatusCancelled: {},
}

// Allowed reports whether the from → to edge exists in the table.
func (t TransitionTable) Allowed(from, to persistence.DeploymentStatus) bool {
	for _, next := range t[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CreateRequest carries the validated inputs for a new deployment record.
type CreateRequest struct {
	RepoURL        string
	Environment    string
	Prompt         string
	DeploymentType string
	Requirements   string
}

// TransitionOptions carries the optional fields of a status transition.
type TransitionOptions struct {
	// ErrorMessage is required when transitioning to failed.
	ErrorMessage string
	// DeploymentURL may be set when transitioning to completed.
	DeploymentURL string
}

// Tracker is the authoritative owner of deployment lifecycle state.
// Transitions on the same deployment are serialized per id; unrelated
// deployments proceed independently.
type Tracker struct {
	ops     *persistence.DatabaseOperations
	logger  *logx.Logger
	metrics *metrics.Recorder

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New creates a tracker over the given database operations.
func New(ops *persistence.DatabaseOperations) *Tracker {
	return &Tracker{
		ops:     ops,
		logger:  logx.NewLogger("tracker"),
		metrics: metrics.Default(),
		locks:   make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing operations on one deployment id.
// Entries are kept for the life of the process; deployment cardinality stays
// small enough that this does not matter.
func (t *Tracker) lockFor(id string) *sync.Mutex {
	t.lockMu.Lock()
	defer t.lockMu.Unlock()

	mu, ok := t.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		t.locks[id] = mu
	}
	return mu
}

// Create registers a new deployment in status pending and returns the record.
func (t *Tracker) Create(req *CreateRequest) (*persistence.Deployment, error) {
	env, ok := persistence.NormalizeEnvironment(req.Environment)
	if !ok {
		return nil, fmt.Errorf("invalid environment %q", req.Environment)
	}
	if req.RepoURL == "" {
		return nil, fmt.Errorf("repository URL is required")
	}

	deploymentType := req.DeploymentType
	if deploymentType == "" {
		deploymentType = persistence.DefaultDeploymentType
	}

	now := time.Now().UTC()
	d := &persistence.Deployment{
		ID:             persistence.GenerateDeploymentID(),
		RepoURL:        req.RepoURL,
		Environment:    env,
		Prompt:         req.Prompt,
		DeploymentType: deploymentType,
		Requirements:   req.Requirements,
		Status:         persistence.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := t.ops.InsertDeployment(d); err != nil {
		return nil, err
	}

	t.metrics.DeploymentCreated(env)
	t.logger.Info("Created deployment %s for %s (%s)", d.ID, d.RepoURL, d.Environment)
	return d, nil
}

// Transition moves a deployment to a new status. The edge must exist in the
// transition table and the deployment's current status must still permit it
// at commit time; otherwise ErrInvalidTransition is returned and nothing
// changes.
func (t *Tracker) Transition(id string, to persistence.DeploymentStatus, opts *TransitionOptions) error {
	if opts == nil {
		opts = &TransitionOptions{}
	}
	if !persistence.IsValidStatus(string(to)) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if to == persistence.StatusFailed && opts.ErrorMessage == "" {
		return fmt.Errorf("%w: transition to failed requires an error message", ErrInvalidTransition)
	}

	mu := t.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	current, err := t.ops.GetDeploymentByID(id)
	if err != nil {
		return err
	}
	if !deploymentTransitions.Allowed(current.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}

	err = t.ops.UpdateDeploymentStatus(&persistence.StatusUpdate{
		ID:            id,
		From:          current.Status,
		To:            to,
		ErrorMessage:  opts.ErrorMessage,
		DeploymentURL: opts.DeploymentURL,
	})
	if errors.Is(err, persistence.ErrStatusConflict) {
		// The status moved underneath us despite the per-id lock, which
		// means an out-of-band writer. Treat like any other bad edge.
		return fmt.Errorf("%w: %s is no longer %s", ErrInvalidTransition, id, current.Status)
	}
	if err != nil {
		return err
	}

	t.metrics.DeploymentTransition(current.Environment, string(to))
	if to.IsTerminal() {
		t.metrics.DeploymentFinished(current.Environment, time.Since(current.CreatedAt))
	}
	t.logger.Info("Deployment %s: %s -> %s", id, current.Status, to)
	return nil
}

// AppendLog appends one entry to the deployment's log stream. Appends after
// a terminal status are accepted but flagged as late, never rejected.
func (t *Tracker) AppendLog(id, step string, level persistence.LogLevel, message string) error {
	if !persistence.IsValidLogLevel(string(level)) {
		level = persistence.LogLevelInfo
	}

	current, err := t.ops.GetDeploymentByID(id)
	if err != nil {
		return err
	}

	entry := &persistence.DeploymentLog{
		DeploymentID: id,
		Step:         step,
		Level:        level,
		Message:      message,
		Late:         current.Status.IsTerminal(),
	}
	if err := t.ops.AppendDeploymentLog(entry); err != nil {
		return err
	}

	t.metrics.LogEntryAppended(string(level))
	if entry.Late {
		t.logger.Debug("Late log append on %s (%s): %s", id, step, message)
	}
	return nil
}

// Get returns one deployment record.
func (t *Tracker) Get(id string) (*persistence.Deployment, error) {
	return t.ops.GetDeploymentByID(id)
}

// List returns deployments newest-first, capped at limit.
func (t *Tracker) List(filter *persistence.DeploymentFilter, limit int) ([]*persistence.Deployment, error) {
	return t.ops.ListDeployments(filter, limit)
}

// GetLogs returns the ordered log stream for a deployment. The deployment
// must exist; an existing deployment with no logs yields an empty slice.
func (t *Tracker) GetLogs(id string) ([]*persistence.DeploymentLog, error) {
	if _, err := t.ops.GetDeploymentByID(id); err != nil {
		return nil, err
	}
	return t.ops.GetDeploymentLogs(id)
}

// MarkWebhookConfigured records that the repository webhook was registered.
func (t *Tracker) MarkWebhookConfigured(id string) error {
	return t.ops.SetWebhookConfigured(id)
}

// LatestForRepo returns the most recent deployment for a repository.
func (t *Tracker) LatestForRepo(repoURL string) (*persistence.Deployment, error) {
	return t.ops.LatestDeploymentForRepo(repoURL)
}
