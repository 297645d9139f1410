package persistence

import (
	"path/filepath"
	"testing"
)

func TestSingletonLifecycle(t *testing.T) {
	if err := Reset(); err != nil {
		t.Fatalf("Failed to reset singleton: %v", err)
	}
	t.Cleanup(func() {
		if err := Reset(); err != nil {
			t.Errorf("Cleanup reset failed: %v", err)
		}
	})

	if IsInitialized() {
		t.Fatal("Expected uninitialized singleton before Initialize")
	}

	dbPath := filepath.Join(t.TempDir(), "app.db")
	if err := Initialize(dbPath); err != nil {
		t.Fatalf("Failed to initialize singleton: %v", err)
	}
	if !IsInitialized() {
		t.Fatal("Expected initialized singleton after Initialize")
	}

	// A second call is a no-op, not a reopen.
	if err := Initialize(filepath.Join(t.TempDir(), "other.db")); err != nil {
		t.Fatalf("Repeated Initialize failed: %v", err)
	}

	ops := Ops()
	d := testDeployment(GenerateDeploymentID())
	if err := ops.InsertDeployment(d); err != nil {
		t.Fatalf("Failed to insert via singleton ops: %v", err)
	}
	if _, err := ops.GetDeploymentByID(d.ID); err != nil {
		t.Fatalf("Failed to read back via singleton ops: %v", err)
	}

	if err := Close(); err != nil {
		t.Fatalf("Failed to close singleton: %v", err)
	}
	if IsInitialized() {
		t.Error("Expected uninitialized singleton after Close")
	}
}
