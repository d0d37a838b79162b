// Package sessionstore implements the durable per-project, per-session
// state store (C5): create, checkpoint, load, enumerate, and garbage
// collect sessions on disk, plus the approval-gate bookkeeping that
// rides alongside a session's state file.
//
// Grounded on three teacher pieces, recombined for this domain:
// internal/retention/local_archiver.go's directory-per-kitchen layout
// and os.MkdirAll/os.Create/json.NewEncoder idiom (here: directory per
// project slug, file per session); internal/sessions/sessions.go's
// sync.RWMutex-guarded registry (here: one lock per session ID instead
// of one global map, since sessions are independent files); and
// internal/retention/janitor.go's cutoff-and-purge cycle (here:
// simplified to a direct age check against started, with no
// archive-driver indirection, since the spec doesn't call for archival).
// Exact on-disk semantics (session ID format, project slug derivation,
// state.json shape) follow the original Python session.py.
package sessionstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/robotdad/amplifier-collection-recipes/pkg/models"
)

// NotFoundError reports a missing session state file.
type NotFoundError struct {
	SessionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.SessionID)
}

// Store is the filesystem-backed session store. One Store serves every
// project under BaseDir; session directories are namespaced by project
// slug beneath it.
type Store struct {
	BaseDir         string
	AutoCleanupDays int

	locksMu sync.Mutex
	locks   map[string]*sync.RWMutex
}

// New constructs a Store rooted at baseDir, with the given default
// auto-cleanup window (days).
func New(baseDir string, autoCleanupDays int) *Store {
	return &Store{
		BaseDir:         baseDir,
		AutoCleanupDays: autoCleanupDays,
		locks:           make(map[string]*sync.RWMutex),
	}
}

func (s *Store) lockFor(sessionID string) *sync.RWMutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[sessionID] = l
	}
	return l
}

// ProjectSlug turns an absolute project path into the directory-safe
// slug used under BaseDir, per §3: slashes and backslashes become
// hyphens, and a leading hyphen is trimmed.
func ProjectSlug(projectPath string) string {
	slug := strings.NewReplacer("/", "-", "\\", "-").Replace(projectPath)
	return strings.TrimPrefix(slug, "-")
}

// GenerateSessionID produces a new session id in the spec's
// {16-hex-span}-{YYYYMMDD-HHMMSS}_recipe format: the first 8 bytes of a
// freshly generated UUID stand in for a W3C trace-context span id,
// followed by the creation timestamp. Ids are unique per call; since
// the random span comes first, their lexical order does not follow
// creation time.
func GenerateSessionID() string {
	id := uuid.New()
	span := id[:8]
	return fmt.Sprintf("%x-%s_recipe", span, time.Now().Format("20060102-150405"))
}

func (s *Store) sessionDir(projectPath, sessionID string) string {
	return filepath.Join(s.BaseDir, ProjectSlug(projectPath), "recipe-sessions", sessionID)
}

func (s *Store) stateFile(projectPath, sessionID string) string {
	return filepath.Join(s.sessionDir(projectPath, sessionID), "state.json")
}

// CreateSession allocates a new session directory, optionally copies
// the recipe source file alongside the state, and writes the initial
// checkpoint.
func (s *Store) CreateSession(recipe *models.Recipe, projectPath, recipePath string) (*models.SessionState, error) {
	sessionID := GenerateSessionID()
	dir := s.sessionDir(projectPath, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	if recipePath != "" {
		if err := copyFile(recipePath, filepath.Join(dir, "recipe.yaml")); err != nil {
			return nil, fmt.Errorf("copying recipe file: %w", err)
		}
	}

	ctx := make(models.Context, len(recipe.Context))
	for k, v := range recipe.Context {
		ctx[k] = v
	}

	state := &models.SessionState{
		SessionID:     sessionID,
		RecipeName:    recipe.Name,
		RecipeVersion: recipe.Version,
		Started:       time.Now(),
		ProjectPath:   projectPath,
		Context:       ctx,
		CompletedSteps: []string{},
		IsStaged:      recipe.IsStaged(),
	}
	if err := s.SaveState(sessionID, projectPath, state); err != nil {
		return nil, err
	}
	return state, nil
}

// SaveState overwrites state.json with pretty UTF-8 JSON. Written via a
// temp file + rename so a crash mid-write never leaves a truncated
// state.json behind — a stricter guarantee than the original Python
// implementation's plain overwrite, which the spec explicitly permits
// (§9 "State durability").
func (s *Store) SaveState(sessionID, projectPath string, state *models.SessionState) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.sessionDir(projectPath, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	final := s.stateFile(projectPath, sessionID)

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "state-*.json.tmp")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing session state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp state file: %w", err)
	}
	return nil
}

// LoadState reads and parses a session's state.json.
func (s *Store) LoadState(sessionID, projectPath string) (*models.SessionState, error) {
	lock := s.lockFor(sessionID)
	lock.RLock()
	defer lock.RUnlock()

	data, err := os.ReadFile(s.stateFile(projectPath, sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{SessionID: sessionID}
		}
		return nil, fmt.Errorf("reading session state: %w", err)
	}
	var state models.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing session state: %w", err)
	}
	return &state, nil
}

// SessionExists reports whether a session's state file is present.
func (s *Store) SessionExists(sessionID, projectPath string) bool {
	_, err := os.Stat(s.stateFile(projectPath, sessionID))
	return err == nil
}

// ListSessions enumerates every session under a project, skipping
// unreadable or corrupted entries silently (matching the original
// list_sessions' bare except-and-skip), newest started first.
func (s *Store) ListSessions(projectPath string) ([]models.SessionSummary, error) {
	root := filepath.Join(s.BaseDir, ProjectSlug(projectPath), "recipe-sessions")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	var out []models.SessionSummary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		state, err := s.LoadState(entry.Name(), projectPath)
		if err != nil {
			continue
		}
		out = append(out, models.SessionSummary{
			SessionID:        state.SessionID,
			RecipeName:       state.RecipeName,
			Started:          state.Started,
			CurrentStepIndex: state.CurrentStepIndex,
			CompletedSteps:   state.CompletedSteps,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.After(out[j].Started) })
	return out, nil
}

// CleanupOldSessions deletes session directories whose Started time is
// older than AutoCleanupDays, returning the count removed. Grounded on
// janitor.go's cutoff computation, simplified to a direct purge with no
// archive step, since the spec has no archival concept.
func (s *Store) CleanupOldSessions(projectPath string) (int, error) {
	root := filepath.Join(s.BaseDir, ProjectSlug(projectPath), "recipe-sessions")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("listing sessions for cleanup: %w", err)
	}

	days := s.AutoCleanupDays
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		state, err := s.LoadState(entry.Name(), projectPath)
		if err != nil {
			continue
		}
		if state.Started.Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(root, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// ── Approval gate bookkeeping (§4.9.3) ──────────────────────────

// GetStageApprovalStatus returns the recorded status for a stage,
// defaulting to NotRequired if never set.
func GetStageApprovalStatus(state *models.SessionState, stage string) models.ApprovalStatus {
	if state.StageApprovals == nil {
		return models.ApprovalNotRequired
	}
	if st, ok := state.StageApprovals[stage]; ok {
		return st
	}
	return models.ApprovalNotRequired
}

// SetStageApprovalStatus records a stage's approval status and appends
// a history entry.
func SetStageApprovalStatus(state *models.SessionState, stage string, status models.ApprovalStatus, reason string) {
	if state.StageApprovals == nil {
		state.StageApprovals = make(map[string]models.ApprovalStatus)
	}
	state.StageApprovals[stage] = status
	state.ApprovalHistory = append(state.ApprovalHistory, models.ApprovalHistoryEntry{
		Stage:     stage,
		Status:    status,
		Timestamp: time.Now(),
		Reason:    reason,
	})
}

// SetPendingApproval parks the session at an approval gate.
func SetPendingApproval(state *models.SessionState, stage, prompt string, timeout int, def models.ApprovalDefault) {
	state.PendingApprovalStage = stage
	state.PendingApprovalPrompt = prompt
	state.PendingApprovalTimeout = timeout
	state.PendingApprovalDefault = def
	state.PendingApprovalRequestedAt = time.Now()
	SetStageApprovalStatus(state, stage, models.ApprovalPending, "")
}

// TimeoutOutcome is the result of CheckApprovalTimeout.
type TimeoutOutcome int

const (
	// NotTimedOut means the gate's timeout (if any) has not elapsed.
	NotTimedOut TimeoutOutcome = iota
	// TimedOutApproved means the timeout elapsed and default=approve.
	TimedOutApproved
	// TimedOutDenied means the timeout elapsed and default=deny.
	TimedOutDenied
)

// CheckApprovalTimeout evaluates a pending approval's timeout.
// timeout=0 means "never" — the gate waits forever regardless of
// default, consolidating the spec's two source behaviors (§9).
func CheckApprovalTimeout(state *models.SessionState) TimeoutOutcome {
	if !state.HasPendingApproval() {
		return NotTimedOut
	}
	if state.PendingApprovalTimeout <= 0 {
		return NotTimedOut
	}
	deadline := state.PendingApprovalRequestedAt.Add(time.Duration(state.PendingApprovalTimeout) * time.Second)
	if time.Now().Before(deadline) {
		return NotTimedOut
	}
	if state.PendingApprovalDefault == models.ApprovalDefaultApprove {
		return TimedOutApproved
	}
	return TimedOutDenied
}

// ListPendingApprovals enumerates every session under baseDir (across
// all projects) whose state currently carries a pending approval.
func ListPendingApprovals(baseDir string) ([]models.PendingApprovalSummary, error) {
	var out []models.PendingApprovalSummary

	projectDirs, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing projects: %w", err)
	}

	for _, pd := range projectDirs {
		if !pd.IsDir() {
			continue
		}
		sessionsRoot := filepath.Join(baseDir, pd.Name(), "recipe-sessions")
		sessionDirs, err := os.ReadDir(sessionsRoot)
		if err != nil {
			continue
		}
		for _, sd := range sessionDirs {
			if !sd.IsDir() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(sessionsRoot, sd.Name(), "state.json"))
			if err != nil {
				continue
			}
			var state models.SessionState
			if err := json.Unmarshal(data, &state); err != nil {
				continue
			}
			if state.HasPendingApproval() {
				out = append(out, models.PendingApprovalSummary{
					SessionID: state.SessionID,
					Stage:     state.PendingApprovalStage,
					Prompt:    state.PendingApprovalPrompt,
				})
			}
		}
	}
	return out, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
