package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors surfaced by database operations.
var (
	// ErrDeploymentNotFound indicates the deployment id resolves to no record.
	ErrDeploymentNotFound = errors.New("deployment not found")

	// ErrStatusConflict indicates a conditional status update matched no row:
	// the record's current status was not the expected one.
	ErrStatusConflict = errors.New("deployment status conflict")
)

// DatabaseOperations provides methods for deployment database operations.
type DatabaseOperations struct {
	db *sql.DB
}

// NewDatabaseOperations creates a new DatabaseOperations instance.
func NewDatabaseOperations(db *sql.DB) *DatabaseOperations {
	return &DatabaseOperations{db: db}
}

const deploymentColumns = `
	id, repo_url, environment, prompt, deployment_type, requirements,
	status, error_message, deployment_url,
	created_at, updated_at, completed_at, webhook_configured
`

// InsertDeployment inserts a new deployment record.
func (ops *DatabaseOperations) InsertDeployment(d *Deployment) error {
	query := `
		INSERT INTO deployments (
			id, repo_url, environment, prompt, deployment_type, requirements,
			status, error_message, deployment_url,
			created_at, updated_at, completed_at, webhook_configured
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := ops.db.Exec(query,
		d.ID, d.RepoURL, d.Environment, d.Prompt, d.DeploymentType, nullString(d.Requirements),
		string(d.Status), nullString(d.ErrorMessage), nullString(d.DeploymentURL),
		d.CreatedAt, d.UpdatedAt, nullTime(d.CompletedAt), d.WebhookSet,
	)
	if err != nil {
		return fmt.Errorf("failed to insert deployment %s: %w", d.ID, err)
	}
	return nil
}

// GetDeploymentByID retrieves a single deployment.
func (ops *DatabaseOperations) GetDeploymentByID(id string) (*Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = ?`
	d, err := scanDeployment(ops.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDeploymentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment %s: %w", id, err)
	}
	return d, nil
}

// StatusUpdate describes one conditional status transition.
// The update only applies while the record's status still equals From;
// otherwise ErrStatusConflict is returned and nothing is mutated.
type StatusUpdate struct {
	Timestamp     time.Time
	ID            string
	From          DeploymentStatus
	To            DeploymentStatus
	ErrorMessage  string
	DeploymentURL string
}

// UpdateDeploymentStatus applies a conditional status transition atomically.
func (ops *DatabaseOperations) UpdateDeploymentStatus(req *StatusUpdate) error {
	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	setParts := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{string(req.To), timestamp}

	if req.To.IsTerminal() {
		setParts = append(setParts, "completed_at = ?")
		args = append(args, timestamp)
	}
	if req.ErrorMessage != "" {
		setParts = append(setParts, "error_message = ?")
		args = append(args, req.ErrorMessage)
	}
	if req.DeploymentURL != "" {
		setParts = append(setParts, "deployment_url = ?")
		args = append(args, req.DeploymentURL)
	}

	args = append(args, req.ID, string(req.From))

	//nolint:gosec // Safe string concatenation: column names are fixed, values are bound.
	query := `UPDATE deployments SET ` + strings.Join(setParts, ", ") +
		` WHERE id = ? AND status = ?`

	result, err := ops.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update status for %s: %w", req.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Distinguish a missing record from a concurrent status change.
		if _, getErr := ops.GetDeploymentByID(req.ID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s is no longer %s", ErrStatusConflict, req.ID, req.From)
	}
	return nil
}

// SetWebhookConfigured marks the deployment's repository webhook as registered.
func (ops *DatabaseOperations) SetWebhookConfigured(id string) error {
	result, err := ops.db.Exec(
		`UPDATE deployments SET webhook_configured = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark webhook configured for %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrDeploymentNotFound, id)
	}
	return nil
}

// ListDeployments returns deployments ordered by created_at descending,
// capped at limit. The filter restricts by environment and/or repository.
func (ops *DatabaseOperations) ListDeployments(filter *DeploymentFilter, limit int) ([]*Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments`
	var conds []string
	var args []interface{}

	if filter != nil {
		if filter.Environment != "" {
			conds = append(conds, "environment = ?")
			args = append(args, filter.Environment)
		}
		if filter.RepoURL != "" {
			conds = append(conds, "repo_url = ?")
			args = append(args, filter.RepoURL)
		}
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := ops.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	deployments := make([]*Deployment, 0)
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment row: %w", err)
		}
		deployments = append(deployments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("deployment row iteration error: %w", err)
	}
	return deployments, nil
}

// LatestDeploymentForRepo returns the most recent deployment for a repository,
// or ErrDeploymentNotFound when the repository has never been deployed.
func (ops *DatabaseOperations) LatestDeploymentForRepo(repoURL string) (*Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE repo_url = ? ORDER BY created_at DESC, id DESC LIMIT 1`
	d, err := scanDeployment(ops.db.QueryRow(query, repoURL))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no deployments for %s", ErrDeploymentNotFound, repoURL)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest deployment for %s: %w", repoURL, err)
	}
	return d, nil
}

// AppendDeploymentLog appends one entry to a deployment's log stream.
func (ops *DatabaseOperations) AppendDeploymentLog(entry *DeploymentLog) error {
	timestamp := entry.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	_, err := ops.db.Exec(`
		INSERT INTO deployment_logs (deployment_id, step, level, message, late, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.DeploymentID, entry.Step, string(entry.Level), entry.Message, entry.Late, timestamp)
	if err != nil {
		return fmt.Errorf("failed to append log for %s: %w", entry.DeploymentID, err)
	}
	return nil
}

// GetDeploymentLogs returns the full ordered log stream for a deployment.
// An empty slice (not an error) is returned when nothing has been logged yet.
func (ops *DatabaseOperations) GetDeploymentLogs(deploymentID string) ([]*DeploymentLog, error) {
	rows, err := ops.db.Query(`
		SELECT deployment_id, step, level, message, late, created_at
		FROM deployment_logs WHERE deployment_id = ? ORDER BY id ASC
	`, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs for %s: %w", deploymentID, err)
	}
	defer func() { _ = rows.Close() }()

	logs := make([]*DeploymentLog, 0)
	for rows.Next() {
		entry := &DeploymentLog{}
		var level string
		if err := rows.Scan(&entry.DeploymentID, &entry.Step, &level,
			&entry.Message, &entry.Late, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan log row: %w", err)
		}
		entry.Level = LogLevel(level)
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("log row iteration error: %w", err)
	}
	return logs, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanDeployment.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDeployment(row scanner) (*Deployment, error) {
	d := &Deployment{}
	var status string
	var requirements, errorMessage, deploymentURL sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&d.ID, &d.RepoURL, &d.Environment, &d.Prompt, &d.DeploymentType, &requirements,
		&status, &errorMessage, &deploymentURL,
		&d.CreatedAt, &d.UpdatedAt, &completedAt, &d.WebhookSet,
	)
	if err != nil {
		return nil, err
	}

	d.Status = DeploymentStatus(status)
	d.Requirements = requirements.String
	d.ErrorMessage = errorMessage.String
	d.DeploymentURL = deploymentURL.String
	if completedAt.Valid {
		t := completedAt.Time
		d.CompletedAt = &t
	}
	return d, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
