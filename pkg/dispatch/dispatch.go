// Package dispatch hands completed deployment requests to the lifecycle
// tracker and the execution engine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"infraagent/pkg/logx"
	"infraagent/pkg/persistence"
	"infraagent/pkg/tracker"
)

// ErrIncompleteRequest indicates a dispatch attempt with missing required
// slots. The slot resolver guarantees completeness before dispatching, so
// seeing this error means a caller skipped the resolver.
var ErrIncompleteRequest = errors.New("incomplete deployment request")

// Engine executes a dispatched deployment asynchronously and reports
// progress back through the lifecycle tracker. Implementations must never
// panic the process; failures are recorded as a failed transition.
type Engine interface {
	Execute(ctx context.Context, deployment *persistence.Deployment)
}

// Request is one fully resolved deployment request ready for hand-off.
type Request struct {
	ConversationID string
	RepoURL        string
	Environment    string
	Prompt         string
	DeploymentType string
	Requirements   string
}

// MissingSlots names the required slots the request still lacks, in
// resolution order.
func (r *Request) MissingSlots() []string {
	var missing []string
	if strings.TrimSpace(r.RepoURL) == "" {
		missing = append(missing, "repo_url")
	}
	if _, ok := persistence.NormalizeEnvironment(r.Environment); !ok {
		missing = append(missing, "environment")
	}
	return missing
}

// Complete reports whether both required slots are filled and valid.
func (r *Request) Complete() bool {
	return len(r.MissingSlots()) == 0
}

// Dispatcher validates completeness, creates the pending record, and starts
// the execution engine. The engine call is fire-and-forget: Dispatch returns
// with the pending record without waiting on execution.
type Dispatcher struct {
	tracker *tracker.Tracker
	engine  Engine
	logger  *logx.Logger
}

// New creates a dispatcher.
func New(tr *tracker.Tracker, engine Engine) *Dispatcher {
	return &Dispatcher{
		tracker: tr,
		engine:  engine,
		logger:  logx.NewLogger("dispatch"),
	}
}

// Dispatch creates a pending deployment from the request and hands it to
// the execution engine.
func (d *Dispatcher) Dispatch(_ context.Context, req *Request) (*persistence.Deployment, error) {
	// The resolver already guaranteed completeness; re-check anyway so a
	// bad caller cannot create half-specified records.
	if missing := req.MissingSlots(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrIncompleteRequest, strings.Join(missing, ", "))
	}

	deployment, err := d.tracker.Create(&tracker.CreateRequest{
		RepoURL:        req.RepoURL,
		Environment:    req.Environment,
		Prompt:         req.Prompt,
		DeploymentType: req.DeploymentType,
		Requirements:   req.Requirements,
	})
	if err != nil {
		return nil, logx.Wrap(err, "failed to create deployment record")
	}

	d.logger.Info("Dispatching deployment %s (conversation %s)", deployment.ID, req.ConversationID)

	// The engine outlives the request, so it gets its own context. Nothing
	// here waits on it; progress lands in the tracker asynchronously.
	go d.engine.Execute(context.Background(), deployment)

	return deployment, nil
}
