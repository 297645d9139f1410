package tracker

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"infraagent/pkg/persistence"
)

func createTestTracker(t *testing.T) *Tracker {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "tracker_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	db, err := persistence.InitializeDatabase(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
		os.RemoveAll(tempDir)
	})

	return New(persistence.NewDatabaseOperations(db))
}

func createPending(t *testing.T, tr *Tracker) *persistence.Deployment {
	t.Helper()

	d, err := tr.Create(&CreateRequest{
		RepoURL:     "https://github.com/acme/app",
		Environment: "prod",
		Prompt:      "deploy my app to prod",
	})
	if err != nil {
		t.Fatalf("Failed to create deployment: %v", err)
	}
	return d
}

func TestCreateDefaults(t *testing.T) {
	tr := createTestTracker(t)

	d := createPending(t, tr)
	if d.Status != persistence.StatusPending {
		t.Errorf("Expected pending, got %s", d.Status)
	}
	if d.DeploymentType != persistence.DefaultDeploymentType {
		t.Errorf("Expected default deployment type, got %s", d.DeploymentType)
	}
	if d.ID == "" {
		t.Error("Expected a generated id")
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	tr := createTestTracker(t)

	if _, err := tr.Create(&CreateRequest{RepoURL: "https://github.com/a/b", Environment: "staging"}); err == nil {
		t.Error("Expected error for invalid environment")
	}
	if _, err := tr.Create(&CreateRequest{Environment: "dev"}); err == nil {
		t.Error("Expected error for missing repo URL")
	}
}

func TestHappyPathTransitions(t *testing.T) {
	tr := createTestTracker(t)
	d := createPending(t, tr)

	if err := tr.Transition(d.ID, persistence.StatusInProgress, nil); err != nil {
		t.Fatalf("pending -> in_progress failed: %v", err)
	}
	err := tr.Transition(d.ID, persistence.StatusCompleted, &TransitionOptions{
		DeploymentURL: "https://app-prod.apps.infraagent.dev",
	})
	if err != nil {
		t.Fatalf("in_progress -> completed failed: %v", err)
	}

	got, err := tr.Get(d.ID)
	if err != nil {
		t.Fatalf("Failed to get deployment: %v", err)
	}
	if got.Status != persistence.StatusCompleted {
		t.Errorf("Expected completed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("Expected completed_at set")
	}
	if got.DeploymentURL == "" {
		t.Error("Expected deployment URL recorded")
	}
}

func TestInvalidEdges(t *testing.T) {
	tr := createTestTracker(t)

	cases := []struct {
		name string
		path []persistence.DeploymentStatus
		to   persistence.DeploymentStatus
	}{
		{"pending to completed", nil, persistence.StatusCompleted},
		{"pending to failed", nil, persistence.StatusFailed},
		{"completed to in_progress", []persistence.DeploymentStatus{persistence.StatusInProgress, persistence.StatusCompleted}, persistence.StatusInProgress},
		{"cancelled to in_progress", []persistence.DeploymentStatus{persistence.StatusCancelled}, persistence.StatusInProgress},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := createPending(t, tr)
			for _, step := range tc.path {
				opts := &TransitionOptions{}
				if step == persistence.StatusFailed {
					opts.ErrorMessage = "boom"
				}
				if err := tr.Transition(d.ID, step, opts); err != nil {
					t.Fatalf("Setup transition to %s failed: %v", step, err)
				}
			}

			before, _ := tr.Get(d.ID)
			err := tr.Transition(d.ID, tc.to, &TransitionOptions{ErrorMessage: "boom"})
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("Expected ErrInvalidTransition, got %v", err)
			}

			after, _ := tr.Get(d.ID)
			if after.Status != before.Status {
				t.Errorf("Rejected transition mutated status: %s -> %s", before.Status, after.Status)
			}
		})
	}
}

func TestDoubleCompleteRejected(t *testing.T) {
	tr := createTestTracker(t)
	d := createPending(t, tr)

	if err := tr.Transition(d.ID, persistence.StatusInProgress, nil); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := tr.Transition(d.ID, persistence.StatusCompleted, nil); err != nil {
		t.Fatalf("First completion failed: %v", err)
	}

	err := tr.Transition(d.ID, persistence.StatusCompleted, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected second completion rejected, got %v", err)
	}
}

func TestFailedRequiresErrorMessage(t *testing.T) {
	tr := createTestTracker(t)
	d := createPending(t, tr)

	if err := tr.Transition(d.ID, persistence.StatusInProgress, nil); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	err := tr.Transition(d.ID, persistence.StatusFailed, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition for failed without message, got %v", err)
	}

	got, _ := tr.Get(d.ID)
	if got.Status != persistence.StatusInProgress {
		t.Errorf("Expected status unchanged, got %s", got.Status)
	}

	err = tr.Transition(d.ID, persistence.StatusFailed, &TransitionOptions{ErrorMessage: "build broke"})
	if err != nil {
		t.Fatalf("Expected failed transition with message to succeed: %v", err)
	}
	got, _ = tr.Get(d.ID)
	if got.ErrorMessage != "build broke" {
		t.Errorf("Expected error message persisted, got %q", got.ErrorMessage)
	}
}

func TestCancelFromPendingAndInProgress(t *testing.T) {
	tr := createTestTracker(t)

	a := createPending(t, tr)
	if err := tr.Transition(a.ID, persistence.StatusCancelled, nil); err != nil {
		t.Errorf("pending -> cancelled failed: %v", err)
	}

	b := createPending(t, tr)
	if err := tr.Transition(b.ID, persistence.StatusInProgress, nil); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := tr.Transition(b.ID, persistence.StatusCancelled, nil); err != nil {
		t.Errorf("in_progress -> cancelled failed: %v", err)
	}
}

func TestTransitionUnknownDeployment(t *testing.T) {
	tr := createTestTracker(t)

	err := tr.Transition("missing", persistence.StatusInProgress, nil)
	if !errors.Is(err, ErrUnknownDeployment) {
		t.Errorf("Expected ErrUnknownDeployment, got %v", err)
	}
}

func TestAppendLogAndLateFlag(t *testing.T) {
	tr := createTestTracker(t)
	d := createPending(t, tr)

	if err := tr.AppendLog(d.ID, "clone", persistence.LogLevelInfo, "Cloning repository"); err != nil {
		t.Fatalf("Failed to append log: %v", err)
	}

	if err := tr.Transition(d.ID, persistence.StatusCancelled, nil); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	// Appends after a terminal status are accepted but flagged.
	if err := tr.AppendLog(d.ID, "cleanup", persistence.LogLevelWarn, "Straggler output"); err != nil {
		t.Fatalf("Late append rejected: %v", err)
	}

	logs, err := tr.GetLogs(d.ID)
	if err != nil {
		t.Fatalf("Failed to get logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("Expected 2 log entries, got %d", len(logs))
	}
	if logs[0].Late {
		t.Error("Expected first entry not flagged late")
	}
	if !logs[1].Late {
		t.Error("Expected post-terminal entry flagged late")
	}
}

func TestGetLogsUnknownDeployment(t *testing.T) {
	tr := createTestTracker(t)

	if _, err := tr.GetLogs("missing"); !errors.Is(err, ErrUnknownDeployment) {
		t.Errorf("Expected ErrUnknownDeployment, got %v", err)
	}
}

func TestConcurrentTransitionsOneWinner(t *testing.T) {
	tr := createTestTracker(t)
	d := createPending(t, tr)

	if err := tr.Transition(d.ID, persistence.StatusInProgress, nil); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- tr.Transition(d.ID, persistence.StatusCompleted, nil)
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Expected ErrInvalidTransition from losers, got %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("Expected exactly one successful completion, got %d", wins)
	}
}

func TestConcurrentCreatesIndependent(t *testing.T) {
	tr := createTestTracker(t)

	const n = 10
	var wg sync.WaitGroup
	ids := make(chan string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := tr.Create(&CreateRequest{
				RepoURL:     "https://github.com/acme/app",
				Environment: "dev",
				Prompt:      "deploy",
			})
			if err != nil {
				t.Errorf("Concurrent create failed: %v", err)
				return
			}
			ids <- d.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("Duplicate deployment id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("Expected %d deployments, got %d", n, len(seen))
	}
}
