package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/autoeng/auto-engineer/internal/apperrors"
	"github.com/autoeng/auto-engineer/internal/state"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	rec := NewRecord("#123", Repository{Owner: "acme", Name: "widgets"})
	rec.Branch = "auto/feature/123"
	rec.PRNumber = 7
	rec.ReviewCycle = NewReviewCycleState(5)

	if err := s.Save(rec); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	got, err := s.Load("#123")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if got.Branch != rec.Branch || got.PRNumber != rec.PRNumber {
		t.Errorf("Load() = %+v, want branch=%s pr=%d", got, rec.Branch, rec.PRNumber)
	}
	if got.ReviewCycle == nil || got.ReviewCycle.MaxIterations != 5 {
		t.Errorf("Load() review cycle = %+v, want MaxIterations=5", got.ReviewCycle)
	}
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Load("#999")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("Load() error = %v, want wrapping ErrNotFound", err)
	}
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	rec := NewRecord("#1", Repository{Owner: "a", Name: "b"})

	if err := s.Save(rec); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	entries, err := filepath.Glob(filepath.Join(dir, ".tmp-*"))
	if err != nil {
		t.Fatalf("Glob returned error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("temp file left behind after Save: %v", entries)
	}
}

func TestPurgeTerminal(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	pending := NewRecord("#1", Repository{Owner: "a", Name: "b"})
	completed := NewRecord("#2", Repository{Owner: "a", Name: "b"})
	completed.Status = StatusCompleted
	failed := NewRecord("#3", Repository{Owner: "a", Name: "b"})
	failed.Status = StatusFailed

	for _, r := range []*Record{pending, completed, failed} {
		if err := s.Save(r); err != nil {
			t.Fatalf("Save returned error: %v", err)
		}
	}

	count, err := s.PurgeTerminal()
	if err != nil {
		t.Fatalf("PurgeTerminal returned error: %v", err)
	}
	if count != 2 {
		t.Errorf("PurgeTerminal() = %d, want 2", count)
	}

	records, _, err := s.List()
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(records) != 1 || records[0].IssueID != "#1" {
		t.Errorf("List() after purge = %+v, want only #1 remaining", records)
	}
}

func TestReviewCycleStateDecide(t *testing.T) {
	isBot := func(author string) bool { return author == "ci-bot[bot]" }

	tests := []struct {
		name                  string
		reviews               []Review
		hasUnresolvedComments bool
		requireHumanApproval  bool
		want                  ReviewCycleStatus
	}{
		{
			name:                 "no reviews, approval required",
			requireHumanApproval: true,
			want:                 ReviewWaitingForHuman,
		},
		{
			name:                 "no reviews, approval not required",
			requireHumanApproval: false,
			want:                 ReviewApproved,
		},
		{
			name: "single approval",
			reviews: []Review{
				{Author: "alice", State: "approved", SubmittedAt: time.Now()},
			},
			requireHumanApproval: true,
			want:                 ReviewApproved,
		},
		{
			name: "changes requested wins over approval",
			reviews: []Review{
				{Author: "alice", State: "approved", SubmittedAt: time.Now().Add(-time.Hour)},
				{Author: "bob", State: "changes_requested", SubmittedAt: time.Now()},
			},
			requireHumanApproval: true,
			want:                 ReviewChangesRequested,
		},
		{
			name: "latest review per author supersedes an earlier one",
			reviews: []Review{
				{Author: "alice", State: "changes_requested", SubmittedAt: time.Now().Add(-time.Hour)},
				{Author: "alice", State: "approved", SubmittedAt: time.Now()},
			},
			requireHumanApproval: true,
			want:                 ReviewApproved,
		},
		{
			name: "bot reviews are ignored",
			reviews: []Review{
				{Author: "ci-bot[bot]", State: "changes_requested", SubmittedAt: time.Now()},
			},
			requireHumanApproval: false,
			want:                 ReviewApproved,
		},
		{
			name: "unresolved comments veto an approval",
			reviews: []Review{
				{Author: "alice", State: "approved", SubmittedAt: time.Now()},
			},
			hasUnresolvedComments: true,
			requireHumanApproval:  true,
			want:                  ReviewChangesRequested,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &ReviewCycleState{HumanReviews: tt.reviews}
			got := r.Decide(isBot, tt.hasUnresolvedComments, tt.requireHumanApproval)
			if got != tt.want {
				t.Errorf("Decide() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPipelineStatusForPhase(t *testing.T) {
	tests := []struct {
		phase    state.Phase
		prNumber int
		approved bool
		want     string
	}{
		{state.PhaseNew, 0, false, StatusPending},
		{state.PhaseApproval, 0, false, StatusPending},
		{state.PhaseImplementing, 0, false, StatusImplementing},
		{state.PhaseReview, 0, false, StatusCreatingPR},
		{state.PhaseReview, 7, false, StatusInReview},
		{state.PhaseReview, 7, true, StatusReadyToMerge},
		{state.PhaseCompleted, 7, true, StatusCompleted},
		{state.PhaseFailed, 0, false, StatusFailed},
	}

	for _, tt := range tests {
		got := PipelineStatusForPhase(tt.phase, tt.prNumber, tt.approved)
		if got != tt.want {
			t.Errorf("PipelineStatusForPhase(%s, %d, %v) = %s, want %s", tt.phase, tt.prNumber, tt.approved, got, tt.want)
		}
	}
}
