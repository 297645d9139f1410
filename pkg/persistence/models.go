package persistence

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeploymentStatus is the closed set of lifecycle states for a deployment.
type DeploymentStatus string

const (
	StatusPending    DeploymentStatus = "pending"
	StatusInProgress DeploymentStatus = "in_progress"
	StatusCompleted  DeploymentStatus = "completed"
	StatusFailed     DeploymentStatus = "failed"
	StatusCancelled  DeploymentStatus = "cancelled"
)

// ValidStatuses returns all valid deployment statuses.
func ValidStatuses() []DeploymentStatus {
	return []DeploymentStatus{
		StatusPending,
		StatusInProgress,
		StatusCompleted,
		StatusFailed,
		StatusCancelled,
	}
}

// IsValidStatus checks whether a status string names a known state.
func IsValidStatus(status string) bool {
	for _, s := range ValidStatuses() {
		if DeploymentStatus(status) == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status permits no further transitions.
func (s DeploymentStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	case StatusPending, StatusInProgress:
		return false
	}
	return false
}

// Target environments a deployment may be dispatched to.
const (
	EnvDev  = "dev"
	EnvQA   = "qa"
	EnvBeta = "beta"
	EnvProd = "prod"
)

// ValidEnvironments returns the closed environment set.
func ValidEnvironments() []string {
	return []string{EnvDev, EnvQA, EnvBeta, EnvProd}
}

// NormalizeEnvironment lower-cases env and returns it with true when it names
// a valid environment. Anything else returns ("", false): callers treat the
// slot as missing, never as an error.
func NormalizeEnvironment(env string) (string, bool) {
	env = strings.ToLower(strings.TrimSpace(env))
	for _, valid := range ValidEnvironments() {
		if env == valid {
			return env, true
		}
	}
	return "", false
}

// DefaultDeploymentType is used when extraction yields no deployment type.
const DefaultDeploymentType = "application"

// Deployment is the authoritative record of one dispatched deployment.
//
//nolint:govet // struct alignment optimization not critical for this type
type Deployment struct {
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	ID             string           `json:"id"`
	RepoURL        string           `json:"repo_url"`
	Environment    string           `json:"environment"`
	Prompt         string           `json:"prompt"`
	DeploymentType string           `json:"deployment_type"`
	Requirements   string           `json:"requirements,omitempty"`
	Status         DeploymentStatus `json:"status"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	DeploymentURL  string           `json:"deployment_url,omitempty"`
	WebhookSet     bool             `json:"webhook_configured"`
}

// LogLevel is the severity of a build log entry.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValidLogLevel checks whether level names a known log level.
func IsValidLogLevel(level string) bool {
	switch LogLevel(level) {
	case LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}

// DeploymentLog is one entry in a deployment's append-only log stream.
type DeploymentLog struct {
	Timestamp    time.Time `json:"timestamp"`
	DeploymentID string    `json:"-"`
	Step         string    `json:"step"`
	Level        LogLevel  `json:"level"`
	Message      string    `json:"message"`
	// Late marks entries appended after the deployment reached a terminal
	// state. They are accepted but flagged so readers can tell them apart.
	Late bool `json:"late,omitempty"`
}

// DeploymentFilter restricts ListDeployments results.
type DeploymentFilter struct {
	Environment string
	RepoURL     string
}

// GenerateDeploymentID generates a new UUID for a deployment record.
func GenerateDeploymentID() string {
	return uuid.New().String()
}

// GenerateConversationID generates a new UUID for a conversation.
func GenerateConversationID() string {
	return uuid.New().String()
}
