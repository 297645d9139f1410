package session

import (
	"errors"
	"testing"
	"time"
)

func TestCreateAndGet(t *testing.T) {
	st := NewStore(time.Minute)

	sess := st.Create()
	if sess.ID == "" {
		t.Fatal("Expected a conversation id")
	}

	got, err := st.Get(sess.ID)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if got != sess {
		t.Error("Expected the same session instance")
	}
}

func TestGetUnknownConversation(t *testing.T) {
	st := NewStore(time.Minute)

	_, err := st.Get("no-such-conversation")
	if !errors.Is(err, ErrUnknownConversation) {
		t.Errorf("Expected ErrUnknownConversation, got %v", err)
	}
}

func TestGetOrCreate(t *testing.T) {
	st := NewStore(time.Minute)

	sess, created := st.GetOrCreate("")
	if !created {
		t.Error("Expected a new session for empty id")
	}

	same, created := st.GetOrCreate(sess.ID)
	if created {
		t.Error("Expected the existing session")
	}
	if same != sess {
		t.Error("Expected the same session instance")
	}

	fresh, created := st.GetOrCreate("expired-or-bogus")
	if !created {
		t.Error("Expected a new session for unknown id")
	}
	if fresh.ID == "expired-or-bogus" {
		t.Error("Expected a freshly generated id, not the unknown one")
	}
}

func TestExpiry(t *testing.T) {
	st := NewStore(30 * time.Millisecond)

	sess := st.Create()
	time.Sleep(50 * time.Millisecond)

	_, err := st.Get(sess.ID)
	if !errors.Is(err, ErrUnknownConversation) {
		t.Errorf("Expected expired session to be unknown, got %v", err)
	}
}

func TestGetRefreshesActivity(t *testing.T) {
	st := NewStore(60 * time.Millisecond)

	sess := st.Create()
	for i := 0; i < 3; i++ {
		time.Sleep(30 * time.Millisecond)
		if _, err := st.Get(sess.ID); err != nil {
			t.Fatalf("Session expired despite activity: %v", err)
		}
	}
}

func TestSweep(t *testing.T) {
	st := NewStore(20 * time.Millisecond)

	st.Create()
	st.Create()
	time.Sleep(40 * time.Millisecond)
	live := st.Create()

	if removed := st.Sweep(); removed != 2 {
		t.Errorf("Expected 2 swept sessions, got %d", removed)
	}
	if st.Len() != 1 {
		t.Errorf("Expected 1 live session, got %d", st.Len())
	}
	if _, err := st.Get(live.ID); err != nil {
		t.Errorf("Live session swept: %v", err)
	}
}

func TestMarkDispatched(t *testing.T) {
	st := NewStore(time.Minute)

	sess := st.Create()
	sess.Lock()
	sess.AppendTurn(RoleUser, "deploy github.com/acme/app to prod")
	sess.MarkDispatched("dep-123")
	sess.Unlock()

	got, err := st.Get(sess.ID)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}

	got.Lock()
	defer got.Unlock()
	if !got.Dispatched {
		t.Error("Expected session marked dispatched")
	}
	if got.DeploymentID != "dep-123" {
		t.Errorf("Expected deployment id dep-123, got %s", got.DeploymentID)
	}
	if len(got.Turns) != 1 || got.Turns[0].Role != RoleUser {
		t.Error("Expected one user turn in the transcript")
	}
}
