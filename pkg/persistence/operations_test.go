package persistence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Helper to create a new database for each test.
func createTestDB(t *testing.T) *DatabaseOperations {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "persistence_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	db, err := InitializeDatabase(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
		os.RemoveAll(tempDir)
	})

	return NewDatabaseOperations(db)
}

func testDeployment(id string) *Deployment {
	now := time.Now().UTC()
	return &Deployment{
		ID:             id,
		RepoURL:        "https://github.com/acme/app",
		Environment:    EnvProd,
		Prompt:         "deploy my app to prod",
		DeploymentType: DefaultDeploymentType,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestInsertAndGetDeployment(t *testing.T) {
	ops := createTestDB(t)

	d := testDeployment(GenerateDeploymentID())
	if err := ops.InsertDeployment(d); err != nil {
		t.Fatalf("Failed to insert deployment: %v", err)
	}

	got, err := ops.GetDeploymentByID(d.ID)
	if err != nil {
		t.Fatalf("Failed to get deployment: %v", err)
	}

	if got.RepoURL != d.RepoURL {
		t.Errorf("Expected repo %q, got %q", d.RepoURL, got.RepoURL)
	}
	if got.Status != StatusPending {
		t.Errorf("Expected status pending, got %s", got.Status)
	}
	if got.CompletedAt != nil {
		t.Errorf("Expected nil completed_at on a pending deployment, got %v", got.CompletedAt)
	}
}

func TestGetDeploymentNotFound(t *testing.T) {
	ops := createTestDB(t)

	_, err := ops.GetDeploymentByID("no-such-id")
	if !errors.Is(err, ErrDeploymentNotFound) {
		t.Errorf("Expected ErrDeploymentNotFound, got %v", err)
	}
}

func TestConditionalStatusUpdate(t *testing.T) {
	ops := createTestDB(t)

	d := testDeployment(GenerateDeploymentID())
	if err := ops.InsertDeployment(d); err != nil {
		t.Fatalf("Failed to insert deployment: %v", err)
	}

	// pending -> in_progress succeeds.
	err := ops.UpdateDeploymentStatus(&StatusUpdate{
		ID: d.ID, From: StatusPending, To: StatusInProgress,
	})
	if err != nil {
		t.Fatalf("Failed to update status: %v", err)
	}

	// A second update expecting pending must conflict without mutating.
	err = ops.UpdateDeploymentStatus(&StatusUpdate{
		ID: d.ID, From: StatusPending, To: StatusCancelled,
	})
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("Expected ErrStatusConflict, got %v", err)
	}

	got, err := ops.GetDeploymentByID(d.ID)
	if err != nil {
		t.Fatalf("Failed to get deployment: %v", err)
	}
	if got.Status != StatusInProgress {
		t.Errorf("Expected status in_progress after conflict, got %s", got.Status)
	}
}

func TestTerminalUpdateSetsCompletedAt(t *testing.T) {
	ops := createTestDB(t)

	d := testDeployment(GenerateDeploymentID())
	if err := ops.InsertDeployment(d); err != nil {
		t.Fatalf("Failed to insert deployment: %v", err)
	}

	steps := []*StatusUpdate{
		{ID: d.ID, From: StatusPending, To: StatusInProgress},
		{ID: d.ID, From: StatusInProgress, To: StatusCompleted, DeploymentURL: "https://app-prod.apps.infraagent.dev"},
	}
	for _, step := range steps {
		if err := ops.UpdateDeploymentStatus(step); err != nil {
			t.Fatalf("Failed transition to %s: %v", step.To, err)
		}
	}

	got, err := ops.GetDeploymentByID(d.ID)
	if err != nil {
		t.Fatalf("Failed to get deployment: %v", err)
	}
	if got.CompletedAt == nil {
		t.Error("Expected completed_at set on terminal status")
	}
	if got.DeploymentURL != "https://app-prod.apps.infraagent.dev" {
		t.Errorf("Expected deployment URL persisted, got %q", got.DeploymentURL)
	}
}

func TestUpdateStatusUnknownDeployment(t *testing.T) {
	ops := createTestDB(t)

	err := ops.UpdateDeploymentStatus(&StatusUpdate{
		ID: "missing", From: StatusPending, To: StatusInProgress,
	})
	if !errors.Is(err, ErrDeploymentNotFound) {
		t.Errorf("Expected ErrDeploymentNotFound, got %v", err)
	}
}

func TestListDeploymentsOrderAndLimit(t *testing.T) {
	ops := createTestDB(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		d := testDeployment(fmt.Sprintf("dep-%d", i))
		d.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		d.UpdatedAt = d.CreatedAt
		if i%2 == 0 {
			d.Environment = EnvDev
		}
		if err := ops.InsertDeployment(d); err != nil {
			t.Fatalf("Failed to insert deployment %d: %v", i, err)
		}
	}

	list, err := ops.ListDeployments(nil, 3)
	if err != nil {
		t.Fatalf("Failed to list deployments: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("Expected 3 deployments, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.After(list[i-1].CreatedAt) {
			t.Error("Expected newest-first ordering")
		}
	}

	// Environment filter.
	devOnly, err := ops.ListDeployments(&DeploymentFilter{Environment: EnvDev}, 10)
	if err != nil {
		t.Fatalf("Failed to list dev deployments: %v", err)
	}
	for _, d := range devOnly {
		if d.Environment != EnvDev {
			t.Errorf("Filter leaked environment %s", d.Environment)
		}
	}
	if len(devOnly) != 3 {
		t.Errorf("Expected 3 dev deployments, got %d", len(devOnly))
	}
}

func TestLatestDeploymentForRepo(t *testing.T) {
	ops := createTestDB(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		d := testDeployment(fmt.Sprintf("repo-dep-%d", i))
		d.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		d.UpdatedAt = d.CreatedAt
		if err := ops.InsertDeployment(d); err != nil {
			t.Fatalf("Failed to insert deployment: %v", err)
		}
	}

	latest, err := ops.LatestDeploymentForRepo("https://github.com/acme/app")
	if err != nil {
		t.Fatalf("Failed to get latest deployment: %v", err)
	}
	if latest.ID != "repo-dep-2" {
		t.Errorf("Expected repo-dep-2, got %s", latest.ID)
	}

	_, err = ops.LatestDeploymentForRepo("https://github.com/acme/other")
	if !errors.Is(err, ErrDeploymentNotFound) {
		t.Errorf("Expected ErrDeploymentNotFound, got %v", err)
	}
}

func TestDeploymentLogs(t *testing.T) {
	ops := createTestDB(t)

	d := testDeployment(GenerateDeploymentID())
	if err := ops.InsertDeployment(d); err != nil {
		t.Fatalf("Failed to insert deployment: %v", err)
	}

	// Empty stream is not an error.
	logs, err := ops.GetDeploymentLogs(d.ID)
	if err != nil {
		t.Fatalf("Failed to get empty logs: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("Expected empty log stream, got %d entries", len(logs))
	}

	entries := []*DeploymentLog{
		{DeploymentID: d.ID, Step: "clone", Level: LogLevelInfo, Message: "Cloning repository"},
		{DeploymentID: d.ID, Step: "build", Level: LogLevelWarn, Message: "Lockfile out of date"},
		{DeploymentID: d.ID, Step: "release", Level: LogLevelInfo, Message: "Deployment live", Late: true},
	}
	for _, e := range entries {
		if err := ops.AppendDeploymentLog(e); err != nil {
			t.Fatalf("Failed to append log: %v", err)
		}
	}

	logs, err = ops.GetDeploymentLogs(d.ID)
	if err != nil {
		t.Fatalf("Failed to get logs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("Expected 3 log entries, got %d", len(logs))
	}
	if logs[0].Step != "clone" || logs[2].Step != "release" {
		t.Error("Expected logs in append order")
	}
	if !logs[2].Late {
		t.Error("Expected late flag preserved")
	}
	if logs[1].Level != LogLevelWarn {
		t.Errorf("Expected warn level, got %s", logs[1].Level)
	}
}

func TestSetWebhookConfigured(t *testing.T) {
	ops := createTestDB(t)

	d := testDeployment(GenerateDeploymentID())
	if err := ops.InsertDeployment(d); err != nil {
		t.Fatalf("Failed to insert deployment: %v", err)
	}

	if err := ops.SetWebhookConfigured(d.ID); err != nil {
		t.Fatalf("Failed to set webhook flag: %v", err)
	}

	got, err := ops.GetDeploymentByID(d.ID)
	if err != nil {
		t.Fatalf("Failed to get deployment: %v", err)
	}
	if !got.WebhookSet {
		t.Error("Expected webhook_configured true")
	}

	if err := ops.SetWebhookConfigured("missing"); !errors.Is(err, ErrDeploymentNotFound) {
		t.Errorf("Expected ErrDeploymentNotFound, got %v", err)
	}
}

func TestNormalizeEnvironment(t *testing.T) {
	cases := []struct {
		in    string
		want  string
		valid bool
	}{
		{"prod", "prod", true},
		{"PROD", "prod", true},
		{"  qa ", "qa", true},
		{"production", "", false},
		{"staging", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeEnvironment(tc.in)
		if got != tc.want || ok != tc.valid {
			t.Errorf("NormalizeEnvironment(%q) = (%q, %v), want (%q, %v)",
				tc.in, got, ok, tc.want, tc.valid)
		}
	}
}

func TestStatusHelpers(t *testing.T) {
	if !StatusCompleted.IsTerminal() || !StatusFailed.IsTerminal() || !StatusCancelled.IsTerminal() {
		t.Error("Expected completed/failed/cancelled to be terminal")
	}
	if StatusPending.IsTerminal() || StatusInProgress.IsTerminal() {
		t.Error("Expected pending/in_progress to be non-terminal")
	}
	if !IsValidStatus("in_progress") {
		t.Error("Expected in_progress to be valid")
	}
	if IsValidStatus("running") {
		t.Error("Expected running to be invalid")
	}
}
