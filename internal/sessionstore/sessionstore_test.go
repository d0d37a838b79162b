package sessionstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/robotdad/amplifier-collection-recipes/pkg/models"
)

func testRecipe(name string) *models.Recipe {
	return &models.Recipe{Name: name, Version: "1.0.0", Steps: []models.Step{{ID: "only", Agent: "writer", Prompt: "hi"}}}
}

func TestCreateSaveLoadRoundTrip(t *testing.T) {
	store := New(t.TempDir(), 7)
	project := filepath.Join(t.TempDir(), "proj")

	state, err := store.CreateSession(testRecipe("greet"), project, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if state.SessionID == "" {
		t.Fatal("expected a generated session id")
	}

	state.Context["seen"] = true
	state.CurrentStepIndex = 1
	if err := store.SaveState(state.SessionID, project, state); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	loaded, err := store.LoadState(state.SessionID, project)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if loaded.CurrentStepIndex != 1 {
		t.Fatalf("CurrentStepIndex = %d, want 1", loaded.CurrentStepIndex)
	}
	if loaded.Context["seen"] != true {
		t.Fatalf("Context[seen] = %v, want true", loaded.Context["seen"])
	}

	if !store.SessionExists(state.SessionID, project) {
		t.Fatal("expected session to exist")
	}
}

func TestLoadStateMissingSessionIsNotFound(t *testing.T) {
	store := New(t.TempDir(), 7)
	_, err := store.LoadState("nope_recipe", filepath.Join(t.TempDir(), "proj"))
	if err == nil {
		t.Fatal("expected an error")
	}
	if _, ok := err.(*NotFoundError); !ok {
		t.Fatalf("error type = %T, want *NotFoundError", err)
	}
}

func TestListSessionsOrdersNewestFirst(t *testing.T) {
	store := New(t.TempDir(), 7)
	project := filepath.Join(t.TempDir(), "proj")

	older, err := store.CreateSession(testRecipe("a"), project, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	older.Started = time.Now().Add(-time.Hour)
	if err := store.SaveState(older.SessionID, project, older); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	newer, err := store.CreateSession(testRecipe("b"), project, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sessions, err := store.ListSessions(project)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len(sessions) = %d, want 2", len(sessions))
	}
	if sessions[0].SessionID != newer.SessionID {
		t.Fatalf("sessions[0] = %s, want newest %s", sessions[0].SessionID, newer.SessionID)
	}
}

func TestCleanupOldSessionsRemovesExpired(t *testing.T) {
	store := New(t.TempDir(), 7)
	project := filepath.Join(t.TempDir(), "proj")

	state, err := store.CreateSession(testRecipe("old"), project, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	state.Started = time.Now().AddDate(0, 0, -10)
	if err := store.SaveState(state.SessionID, project, state); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	removed, err := store.CleanupOldSessions(project)
	if err != nil {
		t.Fatalf("CleanupOldSessions: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if store.SessionExists(state.SessionID, project) {
		t.Fatal("expected expired session to be removed")
	}
}

func TestApprovalTimeoutOutcomes(t *testing.T) {
	state := &models.SessionState{}
	SetPendingApproval(state, "review", "ok?", 1, models.ApprovalDefaultDeny)

	if outcome := CheckApprovalTimeout(state); outcome != NotTimedOut {
		t.Fatalf("outcome = %v, want NotTimedOut before the deadline", outcome)
	}

	state.PendingApprovalRequestedAt = time.Now().Add(-2 * time.Second)
	if outcome := CheckApprovalTimeout(state); outcome != TimedOutDenied {
		t.Fatalf("outcome = %v, want TimedOutDenied", outcome)
	}

	state.PendingApprovalDefault = models.ApprovalDefaultApprove
	if outcome := CheckApprovalTimeout(state); outcome != TimedOutApproved {
		t.Fatalf("outcome = %v, want TimedOutApproved", outcome)
	}
}

func TestApprovalTimeoutZeroNeverTimesOut(t *testing.T) {
	state := &models.SessionState{}
	SetPendingApproval(state, "review", "ok?", 0, models.ApprovalDefaultDeny)
	state.PendingApprovalRequestedAt = time.Now().Add(-24 * time.Hour)

	if outcome := CheckApprovalTimeout(state); outcome != NotTimedOut {
		t.Fatalf("outcome = %v, want NotTimedOut for timeout=0", outcome)
	}
}

func TestListPendingApprovalsAcrossProjects(t *testing.T) {
	baseDir := t.TempDir()
	store := New(baseDir, 7)

	projectA := filepath.Join(t.TempDir(), "a")
	projectB := filepath.Join(t.TempDir(), "b")

	stateA, err := store.CreateSession(testRecipe("a"), projectA, "")
	if err != nil {
		t.Fatalf("CreateSession a: %v", err)
	}
	SetPendingApproval(stateA, "stage-1", "go?", 0, models.ApprovalDefaultDeny)
	if err := store.SaveState(stateA.SessionID, projectA, stateA); err != nil {
		t.Fatalf("SaveState a: %v", err)
	}

	if _, err := store.CreateSession(testRecipe("b"), projectB, ""); err != nil {
		t.Fatalf("CreateSession b: %v", err)
	}

	pending, err := ListPendingApprovals(baseDir)
	if err != nil {
		t.Fatalf("ListPendingApprovals: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("len(pending) = %d, want 1", len(pending))
	}
	if pending[0].SessionID != stateA.SessionID {
		t.Fatalf("pending[0].SessionID = %s, want %s", pending[0].SessionID, stateA.SessionID)
	}
}

func TestProjectSlugReplacesSeparatorsAndTrimsLeadingHyphen(t *testing.T) {
	slug := ProjectSlug("/home/user/project")
	if slug != "home-user-project" {
		t.Fatalf("slug = %q, want %q", slug, "home-user-project")
	}
}
