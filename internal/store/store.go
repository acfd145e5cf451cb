// Package store implements the file-based state store: one YAML record per
// issue under a directory, written atomically and guarded by a per-id
// exclusive file lock.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/autoeng/auto-engineer/internal/apperrors"
	"github.com/autoeng/auto-engineer/internal/state"
)

// PRMetadata mirrors the pr-metadata fields of a WorkflowRecord.
type PRMetadata struct {
	Title      string   `yaml:"title,omitempty"`
	Body       string   `yaml:"body,omitempty"`
	Labels     []string `yaml:"labels,omitempty"`
	Assignees  []string `yaml:"assignees,omitempty"`
	Reviewers  []string `yaml:"reviewers,omitempty"`
	Draft      bool     `yaml:"draft,omitempty"`
}

// ReviewCycleStatus is the Review Cycle Engine's (C7) status enum.
type ReviewCycleStatus string

const (
	ReviewPending                ReviewCycleStatus = "pending"
	ReviewMachineInProgress      ReviewCycleStatus = "machine-review-in-progress"
	ReviewWaitingForHuman        ReviewCycleStatus = "waiting-for-human"
	ReviewHumanReceived          ReviewCycleStatus = "human-review-received"
	ReviewChangesRequested       ReviewCycleStatus = "changes-requested"
	ReviewMachineUpdateInProgress ReviewCycleStatus = "machine-update-in-progress"
	ReviewApproved               ReviewCycleStatus = "approved"
	ReviewMaxIterationsReached   ReviewCycleStatus = "max-iterations-reached"
)

// Review is one human or machine review submitted against a pull request.
type Review struct {
	Author      string    `yaml:"author"`
	State       string    `yaml:"state"` // approved|changes_requested|commented
	SubmittedAt time.Time `yaml:"submitted_at"`
}

// ReviewCycleState is the Review Cycle Engine's (C7) persisted state,
// embedded in a Record once a PR exists.
type ReviewCycleState struct {
	Status         ReviewCycleStatus `yaml:"status"`
	Iteration      int               `yaml:"iteration"`
	MaxIterations  int               `yaml:"max_iterations"`
	MachineReviews []Review          `yaml:"machine_reviews,omitempty"`
	HumanReviews   []Review          `yaml:"human_reviews,omitempty"`
}

// NewReviewCycleState starts a fresh cycle at iteration 1.
func NewReviewCycleState(maxIterations int) *ReviewCycleState {
	return &ReviewCycleState{
		Status:        ReviewPending,
		Iteration:     1,
		MaxIterations: maxIterations,
	}
}

// latestPerAuthor keeps only the most recent review for each non-bot author,
// per §4.7's "latest review per author among non-bot reviewers" rule.
func latestPerAuthor(reviews []Review, isBot func(author string) bool) map[string]Review {
	latest := map[string]Review{}
	for _, r := range reviews {
		if isBot(r.Author) {
			continue
		}
		if existing, ok := latest[r.Author]; !ok || r.SubmittedAt.After(existing.SubmittedAt) {
			latest[r.Author] = r
		}
	}
	return latest
}

// Decide applies the §4.7 approval decision: at least one approval and no
// changes-requested among the latest per-author human reviews, with
// unresolved comments vetoing approval even when reviews are green. When
// requireHumanApproval is false, zero reviews with no changes-requested and
// no unresolved comments is also approved.
func (r *ReviewCycleState) Decide(isBot func(author string) bool, hasUnresolvedComments bool, requireHumanApproval bool) ReviewCycleStatus {
	latest := latestPerAuthor(r.HumanReviews, isBot)

	approvals := 0
	changesRequested := 0
	for _, rev := range latest {
		switch strings.ToLower(rev.State) {
		case "approved":
			approvals++
		case "changes_requested":
			changesRequested++
		}
	}

	if changesRequested > 0 {
		return ReviewChangesRequested
	}
	if hasUnresolvedComments {
		return ReviewChangesRequested
	}
	if approvals > 0 {
		return ReviewApproved
	}
	if !requireHumanApproval {
		return ReviewApproved
	}
	return ReviewWaitingForHuman
}

// Record is the persisted WorkflowRecord (spec §3): the central, durable
// entity for one issue. It wraps the phase/Q&A/review state already tracked
// by internal/state.State (kept for its comment-embedding and label-driven
// signaling) with the repository, PR, and worktree bookkeeping a file-based
// record needs to stand on its own across process restarts.
type Record struct {
	IssueID    string     `yaml:"issue_id"`
	Repository Repository `yaml:"repository"`

	Status   string `yaml:"status"`   // pending|fetching|implementing|creating-pr|in-review|ready-to-merge|completed|failed
	AIStatus string `yaml:"ai_status"` // not-started|in-progress|implemented|failed

	WorktreePath string `yaml:"worktree_path,omitempty"`
	BaseBranch   string `yaml:"base_branch,omitempty"`
	Branch       string `yaml:"branch,omitempty"`
	PRNumber     int    `yaml:"pr_number,omitempty"`

	PRMetadata PRMetadata `yaml:"pr_metadata,omitempty"`

	CreatedAt time.Time         `yaml:"created_at"`
	UpdatedAt time.Time         `yaml:"updated_at"`
	Metadata  map[string]string `yaml:"metadata,omitempty"`

	// Embedded workflow state: phase machine, Q&A history, review-iteration
	// counters, dependency tracking. Kept as a pointer so existing
	// comment-embedding code (internal/state) operates on the same value.
	State *state.State `yaml:"state,omitempty"`

	// ReviewCycle is the Review Cycle Engine's (C7) state, present once a PR
	// has been opened for this record.
	ReviewCycle *ReviewCycleState `yaml:"review_cycle,omitempty"`
}

// PipelineStatusForPhase maps a phase-machine value (internal/state.Phase)
// onto the spec's pipeline status vocabulary (§3/§4.10). The phase machine
// remains the comment-embedded signaling channel; this mapping is what the
// file-based record actually persists as Status.
func PipelineStatusForPhase(p state.Phase, prNumber int, reviewApproved bool) string {
	switch p {
	case state.PhaseNew, state.PhaseQuestions, state.PhasePlanning, state.PhaseApproval:
		return StatusPending
	case state.PhaseImplementing:
		return StatusImplementing
	case state.PhaseReview:
		switch {
		case prNumber == 0:
			return StatusCreatingPR
		case reviewApproved:
			return StatusReadyToMerge
		default:
			return StatusInReview
		}
	case state.PhaseCompleted:
		return StatusCompleted
	case state.PhaseFailed:
		return StatusFailed
	default:
		return StatusPending
	}
}

// Repository identifies the repository a record belongs to.
type Repository struct {
	Owner         string `yaml:"owner"`
	Name          string `yaml:"name"`
	DefaultBranch string `yaml:"default_branch,omitempty"`
	RemoteURL     string `yaml:"remote_url,omitempty"`
}

// Status constants (spec §3).
const (
	StatusPending      = "pending"
	StatusFetching     = "fetching"
	StatusImplementing = "implementing"
	StatusCreatingPR   = "creating-pr"
	StatusInReview     = "in-review"
	StatusReadyToMerge = "ready-to-merge"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
)

// AIStatus constants (spec §3).
const (
	AIStatusNotStarted = "not-started"
	AIStatusInProgress = "in-progress"
	AIStatusImplemented = "implemented"
	AIStatusFailed      = "failed"
)

// NewRecord creates a fresh record in the pending status.
func NewRecord(issueID string, repo Repository) *Record {
	now := time.Now()
	return &Record{
		IssueID:    issueID,
		Repository: repo,
		Status:     StatusPending,
		AIStatus:   "not-started",
		CreatedAt:  now,
		UpdatedAt:  now,
		Metadata:   map[string]string{},
		State:      state.NewState(),
	}
}

// Store is the file-based State Store (C1). One file per record under
// baseDir, named "<issue-id>.yaml".
type Store struct {
	baseDir string
}

// New creates a Store rooted at baseDir (typically ".auto/state").
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) pathFor(id string) string {
	return filepath.Join(s.baseDir, sanitizeID(id)+".yaml")
}

func (s *Store) lockPathFor(id string) string {
	return filepath.Join(s.baseDir, "."+sanitizeID(id)+".lock")
}

// sanitizeID replaces path separators so provider-qualified ids like
// "#123" or "PROJ-45" are safe single-segment filenames.
func sanitizeID(id string) string {
	id = strings.TrimPrefix(id, "#")
	id = strings.ReplaceAll(id, "/", "_")
	return id
}

// Load reads the record for id. Returns apperrors.ErrNotFound if absent.
func (s *Store) Load(id string) (*Record, error) {
	data, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("record %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read record %s: %w", id, err)
	}

	var rec Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record %s: %w", id, err)
	}
	return &rec, nil
}

// Save atomically persists the record, serialized by a per-id exclusive
// file lock held for the duration of the write.
func (s *Store) Save(rec *Record) error {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	unlock, err := s.lock(rec.IssueID)
	if err != nil {
		return err
	}
	defer unlock()

	rec.UpdatedAt = time.Now()

	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize record %s: %w", rec.IssueID, err)
	}

	dest := s.pathFor(rec.IssueID)
	tmp, err := os.CreateTemp(s.baseDir, ".tmp-"+sanitizeID(rec.IssueID)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for record %s: %w", rec.IssueID, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write record %s: %w", rec.IssueID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync record %s: %w", rec.IssueID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for record %s: %w", rec.IssueID, err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to finalize record %s: %w", rec.IssueID, err)
	}
	return nil
}

// lock acquires an exclusive advisory lock on a per-id lock file using
// flock(2). No library in the retrieval pack grounds file locking, so this
// is a deliberate, narrow use of the standard library's syscall package
// (documented in DESIGN.md).
func (s *Store) lock(id string) (func(), error) {
	lockPath := s.lockPathFor(id)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file for %s: %w", id, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", id, err)
	}

	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, nil
}

// List enumerates all records, skipping files that fail to parse (logged by
// the caller, which receives them in the second return value).
func (s *Store) List() ([]*Record, []string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to list state directory: %w", err)
	}

	var records []*Record
	var warnings []string

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.baseDir, name))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		var rec Record
		if err := yaml.Unmarshal(data, &rec); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		records = append(records, &rec)
	}

	return records, warnings, nil
}

// Delete removes the record for id. Not an error if it doesn't exist.
func (s *Store) Delete(id string) error {
	unlock, err := s.lock(id)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(s.pathFor(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	os.Remove(s.lockPathFor(id))
	return nil
}

// PurgeTerminal deletes every record whose status is completed or failed,
// returning the count removed.
func (s *Store) PurgeTerminal() (int, error) {
	records, _, err := s.List()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, rec := range records {
		if rec.Status == StatusCompleted || rec.Status == StatusFailed {
			if err := s.Delete(rec.IssueID); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}
