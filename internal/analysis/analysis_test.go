package analysis

import (
	"testing"

	"github.com/autoeng/auto-engineer/internal/providers"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Category
	}{
		{"security wins over bug", "this auth check is vulnerable to injection and crashes", CategorySecurity},
		{"question", "why does this function return nil here?", CategoryQuestion},
		{"testing", "please add test coverage for this branch", CategoryTesting},
		{"nitpick", "nit: extra blank line", CategoryNitpick},
		{"bug on breakage wording", "this breaks when the list is empty, also feels slow", CategoryBug},
		{"bug only", "this is broken and throws an exception", CategoryBug},
		{"performance only", "this query is slow and could use a cache", CategoryPerformance},
		{"style", "inconsistent naming convention here", CategoryStyle},
		{"documentation", "please add a docstring explaining this", CategoryDocumentation},
		{"suggestion", "maybe consider extracting this into a helper", CategorySuggestion},
		{"fallback code quality", "this approach works but needs restructuring for clarity", CategoryCodeQuality},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Categorize(tt.body)
			if got != tt.want {
				t.Errorf("Categorize(%q) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}

func TestPrioritize(t *testing.T) {
	if got := Prioritize("this is a critical issue", CategoryCodeQuality); got != PriorityCritical {
		t.Errorf("got %q, want critical", got)
	}
	if got := Prioritize("fine either way", CategoryBug); got != PriorityCritical {
		t.Errorf("bug category should force critical priority, got %q", got)
	}
	if got := Prioritize("just a nit", CategoryNitpick); got != PriorityLow {
		t.Errorf("nitpick category should default to low priority, got %q", got)
	}
	if got := Prioritize("looks fine", CategoryStyle); got != PriorityMedium {
		t.Errorf("got %q, want medium", got)
	}
}

func TestIsActionable(t *testing.T) {
	if IsActionable("great work on this, love it", CategoryCodeQuality) {
		t.Error("pure praise should not be actionable")
	}
	if IsActionable("great job, but this should use a mutex", CategoryCodeQuality) == false {
		t.Error("praise with a contrastive marker should be actionable")
	}
	if IsActionable("what does this parameter do?", CategoryQuestion) {
		t.Error("a plain question should not be actionable")
	}
	if !IsActionable("what does this do? it must be fixed", CategoryQuestion) {
		t.Error("a question carrying an imperative should be actionable")
	}
	if IsActionable("nit: rename this", CategoryNitpick) {
		t.Error("nitpicks should never be actionable")
	}
}

func TestSuggestedChange(t *testing.T) {
	body := "try this instead:\n```suggestion\nfoo := bar()\n```\n"
	if got := SuggestedChange(body); got != "foo := bar()" {
		t.Errorf("got %q", got)
	}

	plain := "here's an example:\n```go\nx := 1\n```"
	if got := SuggestedChange(plain); got != "x := 1" {
		t.Errorf("got %q", got)
	}

	if got := SuggestedChange("no code here"); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

func TestComplexityClamped(t *testing.T) {
	if got := Complexity("typo", CategoryNitpick); got < 1 {
		t.Errorf("complexity must clamp to >= 1, got %d", got)
	}
	if got := Complexity("refactor the whole architecture, also a security issue", CategorySecurity); got > 10 {
		t.Errorf("complexity must clamp to <= 10, got %d", got)
	}
}

func TestEstimateEffort(t *testing.T) {
	cases := map[int]Effort{1: EffortQuick, 3: EffortQuick, 4: EffortMedium, 6: EffortMedium, 7: EffortSignificant, 10: EffortSignificant}
	for complexity, want := range cases {
		if got := EstimateEffort(complexity); got != want {
			t.Errorf("EstimateEffort(%d) = %q, want %q", complexity, got, want)
		}
	}
}

func TestGroupThreads(t *testing.T) {
	comments := []ProcessedComment{
		{Original: &providers.Comment{ID: 1, Path: "a.go", Line: 10, Body: "one"}},
		{Original: &providers.Comment{ID: 2, Path: "a.go", Line: 15, Body: "two"}},
		{Original: &providers.Comment{ID: 3, Path: "a.go", Line: 80, Body: "three"}},
		{Original: &providers.Comment{ID: 4, Path: "", Body: "general"}},
	}

	threads := GroupThreads(comments)

	var fileThreads int
	var generalThreads int
	for _, th := range threads {
		if th.Path == "a.go" {
			fileThreads++
		} else {
			generalThreads++
		}
	}

	if fileThreads != 2 {
		t.Errorf("expected 2 threads in a.go (lines 10/15 merged, 80 separate), got %d", fileThreads)
	}
	if generalThreads != 1 {
		t.Errorf("expected 1 general thread, got %d", generalThreads)
	}
}

func TestRecommendedOrder(t *testing.T) {
	comments := []ProcessedComment{
		Process(&providers.Comment{ID: 1, Body: "nit: rename this variable"}),
		Process(&providers.Comment{ID: 2, Body: "this is broken and crashes on empty input"}),
		Process(&providers.Comment{ID: 3, Body: "this looks vulnerable to injection"}),
	}

	ordered := RecommendedOrder(comments)

	if len(ordered) != 2 {
		t.Fatalf("expected nitpick to be filtered out, got %d comments", len(ordered))
	}
	if ordered[0].Original.ID != 3 {
		t.Errorf("expected the security comment first, got comment %d", ordered[0].Original.ID)
	}
}

func TestProcessPopulatesRelatedFiles(t *testing.T) {
	pc := Process(&providers.Comment{ID: 1, Path: "foo/bar.go", Line: 5, Body: "fix this"})
	if len(pc.RelatedFiles) != 1 || pc.RelatedFiles[0] != "foo/bar.go" {
		t.Errorf("expected RelatedFiles to contain the comment's path, got %v", pc.RelatedFiles)
	}
	if pc.CommentType != TypeLineComment {
		t.Errorf("expected line_comment type, got %q", pc.CommentType)
	}
}
