// Package engine provides the simulated execution engine. It walks a
// deployment through the build pipeline steps, emits log entries, and
// reports the outcome back through the lifecycle tracker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"infraagent/pkg/config"
	"infraagent/pkg/github"
	"infraagent/pkg/logx"
	"infraagent/pkg/persistence"
	"infraagent/pkg/tracker"
)

// Pipeline step names, in execution order.
const (
	StepInitialization  = "initialization"
	StepCloning         = "cloning"
	StepAnalysis        = "analysis"
	StepServiceCreation = "service_creation"
	StepWebhookSetup    = "webhook_setup"
	StepBuilding        = "building"
	StepDeployment      = "deployment"
)

// FailureHook lets tests and fault injection force a deployment to fail at
// the building step. A non-nil return aborts the pipeline with that error.
type FailureHook func(d *persistence.Deployment) error

// Simulated executes deployments without touching real infrastructure.
// Every step sleeps for the configured delay and appends a log entry, so
// list and log queries observe a deployment progressing over time.
type Simulated struct {
	tracker     *tracker.Tracker
	webhooks    *github.WebhookClient
	logger      *logx.Logger
	failureHook FailureHook
	stepDelay   time.Duration
	urlDomain   string
}

// NewSimulated creates the simulated engine. webhooks may be nil when
// webhook registration is not configured.
func NewSimulated(tr *tracker.Tracker, cfg config.EngineConfig, webhooks *github.WebhookClient) *Simulated {
	return &Simulated{
		tracker:   tr,
		webhooks:  webhooks,
		logger:    logx.NewLogger("engine"),
		stepDelay: cfg.StepDelay,
		urlDomain: cfg.URLDomain,
	}
}

// SetFailureHook installs a fault injection hook.
func (e *Simulated) SetFailureHook(hook FailureHook) {
	e.failureHook = hook
}

// Execute runs the pipeline for one deployment. It never returns an error:
// failures are recorded on the deployment itself.
func (e *Simulated) Execute(ctx context.Context, d *persistence.Deployment) {
	if err := e.tracker.Transition(d.ID, persistence.StatusInProgress, nil); err != nil {
		// Most likely cancelled while still pending. Nothing to run.
		e.logger.Info("Not executing deployment %s: %v", d.ID, err)
		return
	}

	e.log(d.ID, StepInitialization, persistence.LogLevelInfo,
		fmt.Sprintf("Starting deployment of %s to %s", d.RepoURL, d.Environment))

	steps := []struct {
		name    string
		message string
	}{
		{StepCloning, fmt.Sprintf("Cloning repository %s", d.RepoURL)},
		{StepAnalysis, "Analyzing repository structure"},
		{StepServiceCreation, fmt.Sprintf("Creating %s service in %s", d.DeploymentType, d.Environment)},
	}

	for _, step := range steps {
		if stopped := e.pause(ctx, d.ID); stopped {
			return
		}
		e.log(d.ID, step.name, persistence.LogLevelInfo, step.message)
	}

	e.registerWebhook(ctx, d)

	if stopped := e.pause(ctx, d.ID); stopped {
		return
	}
	e.log(d.ID, StepBuilding, persistence.LogLevelInfo, "Building application")

	if e.failureHook != nil {
		if err := e.failureHook(d); err != nil {
			e.fail(d.ID, err)
			return
		}
	}

	if stopped := e.pause(ctx, d.ID); stopped {
		return
	}

	url := e.deploymentURL(d)
	e.log(d.ID, StepDeployment, persistence.LogLevelInfo,
		fmt.Sprintf("Deployment live at %s", url))

	err := e.tracker.Transition(d.ID, persistence.StatusCompleted, &tracker.TransitionOptions{
		DeploymentURL: url,
	})
	if err != nil {
		e.logger.Warn("Could not complete deployment %s: %v", d.ID, err)
	}
}

// pause sleeps one step delay, then reports whether execution should stop
// because the deployment was cancelled or the context ended.
func (e *Simulated) pause(ctx context.Context, id string) bool {
	if e.stepDelay > 0 {
		select {
		case <-ctx.Done():
			return true
		case <-time.After(e.stepDelay):
		}
	}

	current, err := e.tracker.Get(id)
	if err != nil {
		e.logger.Error("Lost deployment %s mid-execution: %v", id, err)
		return true
	}
	if current.Status == persistence.StatusCancelled {
		e.log(id, StepDeployment, persistence.LogLevelWarn, "Execution stopped: deployment cancelled")
		return true
	}
	return false
}

// registerWebhook best-effort registers a push webhook on the repository.
// Failures are logged on the deployment but never fail the pipeline.
func (e *Simulated) registerWebhook(ctx context.Context, d *persistence.Deployment) {
	if e.webhooks == nil {
		return
	}

	registered, err := e.webhooks.Register(ctx, d.RepoURL)
	if err != nil {
		e.log(d.ID, StepWebhookSetup, persistence.LogLevelWarn,
			fmt.Sprintf("Webhook registration failed: %v", err))
		return
	}
	if !registered {
		return
	}

	e.log(d.ID, StepWebhookSetup, persistence.LogLevelInfo, "Push webhook registered")
	if err := e.tracker.MarkWebhookConfigured(d.ID); err != nil {
		e.logger.Warn("Could not record webhook flag on %s: %v", d.ID, err)
	}
}

// fail records a pipeline failure on the deployment.
func (e *Simulated) fail(id string, cause error) {
	e.log(id, StepBuilding, persistence.LogLevelError, cause.Error())

	err := e.tracker.Transition(id, persistence.StatusFailed, &tracker.TransitionOptions{
		ErrorMessage: cause.Error(),
	})
	if err != nil && !errors.Is(err, tracker.ErrInvalidTransition) {
		e.logger.Error("Could not record failure on %s: %v", id, err)
	}
}

// deploymentURL derives the public URL for a completed deployment from the
// repository name and target environment.
func (e *Simulated) deploymentURL(d *persistence.Deployment) string {
	name := "app"
	if repo, err := github.ParseRepoURL(d.RepoURL); err == nil {
		name = strings.ToLower(repo.Name)
	}
	return fmt.Sprintf("https://%s-%s.%s", name, d.Environment, e.urlDomain)
}

// log appends a pipeline log entry, tolerating append failures.
func (e *Simulated) log(id, step string, level persistence.LogLevel, message string) {
	if err := e.tracker.AppendLog(id, step, level, message); err != nil {
		e.logger.Warn("Could not append log for %s: %v", id, err)
	}
}
