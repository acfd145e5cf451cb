// Package analysis implements the Comment Analyzer (C8): categorization,
// prioritization, complexity scoring, thread grouping, and recommended
// ordering of pull-request review comments.
//
// Lexicons and precedence are grounded in the review-comment categorizer of
// the source this system was distilled from.
package analysis

import (
	"regexp"
	"sort"
	"strings"

	"github.com/autoeng/auto-engineer/internal/providers"
)

// Category is the comment's classified kind.
type Category string

const (
	CategoryBug           Category = "bug"
	CategorySecurity      Category = "security"
	CategoryPerformance   Category = "performance"
	CategoryCodeQuality   Category = "code_quality"
	CategoryStyle         Category = "style"
	CategoryDocumentation Category = "documentation"
	CategoryTesting       Category = "testing"
	CategorySuggestion    Category = "suggestion"
	CategoryQuestion      Category = "question"
	CategoryNitpick       Category = "nitpick"
)

// Priority is the urgency bucket assigned to a comment.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// CommentType describes the comment's shape, not its subject matter.
type CommentType string

const (
	TypeLineComment    CommentType = "line_comment"
	TypeFileComment    CommentType = "file_comment"
	TypeGeneralComment CommentType = "general_comment"
	TypeSuggestion     CommentType = "suggestion"
	TypeChangeRequest  CommentType = "change_request"
)

// Effort estimates how much work a comment's resolution requires.
type Effort string

const (
	EffortQuick       Effort = "quick"
	EffortMedium      Effort = "medium"
	EffortSignificant Effort = "significant"
)

// ProcessedComment is the Comment Analyzer's output for one ReviewComment.
type ProcessedComment struct {
	Original          *providers.Comment
	Category          Category
	Priority          Priority
	CommentType       CommentType
	Actionable        bool
	RequiresCodeChange bool
	SuggestedChange   string
	Keywords          []string
	Complexity        int
	Effort            Effort
	RelatedFiles      []string
	Dependencies      []int64
}

var (
	bugPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(bug|error|broken|fail|crash|exception|null pointer|undefined|breaks)\b`),
		regexp.MustCompile(`(?i)\b(doesn't work|not working|incorrect|wrong)\b`),
		regexp.MustCompile(`(?i)\b(should be|expected|missing|forgot)\b`),
	}
	securityPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(security|vulnerable|exploit|injection|xss|csrf|auth)\b`),
		regexp.MustCompile(`(?i)\b(sanitize|validate|escape|permission|access control)\b`),
		regexp.MustCompile(`(?i)\b(password|secret|token|key|credential)\b`),
	}
	performancePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(performance|slow|optimize|cache|memory|cpu|inefficient)\b`),
		regexp.MustCompile(`(?i)\b(n\+1|query|database|async|parallel|concurrent)\b`),
		regexp.MustCompile(`(?i)\b(bottleneck|scalability|load|latency)\b`),
	}
	stylePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(style|format|naming|convention|consistent|inconsistent)\b`),
		regexp.MustCompile(`(?i)\b(indent|indentation|spacing|spaces|line length|long|camelCase|snake_case)\b`),
		regexp.MustCompile(`(?i)\b(typo|grammar|wrapped|wrap)\b`),
	}
	docPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(document|documentation|docstring|readme|comment|explain)\b`),
		regexp.MustCompile(`(?i)\badd.*comment|missing.*comment|missing.*docstring\b`),
		regexp.MustCompile(`(?i)\bupdate.*readme|api.*documentation\b`),
	}
	testingPattern    = regexp.MustCompile(`(?i)\b(test|spec|coverage|mock)\b`)
	nitpickPattern    = regexp.MustCompile(`(?i)\b(nit|nitpick|minor|tiny)\b`)
	breakagePattern   = regexp.MustCompile(`(?i)\b(break|breaks|broken|fail|crash|doesn't work)\b`)
	suggestPattern    = regexp.MustCompile(`(?i)\b(suggest|recommend|consider|maybe|could)\b`)
	whQuestionPattern = regexp.MustCompile(`(?i)^\s*(what|why|how|when|where|who|is|does|should|can|could)\b.*\?\s*$`)

	praisePattern      = regexp.MustCompile(`(?i)\b(great|nice|good|love|awesome|excellent|well done|lgtm)\b`)
	contrastivePattern = regexp.MustCompile(`(?i)\b(but|however|should|could|might|consider)\b`)
	imperativeChange   = regexp.MustCompile(`(?i)\b(must|required|needs?|should fix)\b`)
	imperativeEdit     = regexp.MustCompile(`(?i)\b(fix|change|update|modify|refactor|remove|add|replace|correct|adjust)\b`)
	refactorPattern    = regexp.MustCompile(`(?i)\b(refactor|redesign|architecture)\b`)
	typoPattern        = regexp.MustCompile(`(?i)\b(typo|spacing|format)\b`)

	fencedSuggestion = regexp.MustCompile("(?s)```suggestion\\n(.*?)```")
	fencedCodeBlock  = regexp.MustCompile("(?s)```[a-zA-Z]*\\n(.*?)```")
)

func matchesAny(body string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(body) {
			return true
		}
	}
	return false
}

// Categorize applies the §4.8 twelve-rule precedence to a comment body.
func Categorize(body string) Category {
	switch {
	case matchesAny(body, securityPatterns):
		return CategorySecurity
	case isQuestion(body):
		return CategoryQuestion
	case testingPattern.MatchString(body):
		return CategoryTesting
	case matchesAny(body, docPatterns):
		return CategoryDocumentation
	case nitpickPattern.MatchString(body):
		return CategoryNitpick
	case matchesAny(body, bugPatterns) && matchesAny(body, performancePatterns):
		if breakagePattern.MatchString(body) {
			return CategoryBug
		}
		return CategoryPerformance
	case matchesAny(body, bugPatterns):
		return CategoryBug
	case matchesAny(body, performancePatterns):
		return CategoryPerformance
	case matchesAny(body, stylePatterns):
		return CategoryStyle
	case matchesAny(body, docPatterns):
		return CategoryDocumentation
	case suggestPattern.MatchString(body):
		return CategorySuggestion
	default:
		return CategoryCodeQuality
	}
}

func isQuestion(body string) bool {
	trimmed := strings.TrimSpace(body)
	return strings.HasSuffix(trimmed, "?") || whQuestionPattern.MatchString(trimmed)
}

var criticalTokens = regexp.MustCompile(`(?i)\b(critical|urgent|blocking|broken|security)\b`)
var highTokens = regexp.MustCompile(`(?i)\b(important|should|must|required)\b`)
var lowTokens = regexp.MustCompile(`(?i)\b(nit|minor|optional)\b`)

// Prioritize applies the §4.8 priority rules.
func Prioritize(body string, category Category) Priority {
	switch {
	case criticalTokens.MatchString(body) || category == CategoryBug || category == CategorySecurity:
		return PriorityCritical
	case highTokens.MatchString(body) || category == CategoryPerformance:
		return PriorityHigh
	case lowTokens.MatchString(body) || category == CategoryNitpick || category == CategoryQuestion:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// ClassifyType derives the CommentType.
func ClassifyType(body string, hasLine, hasPath bool) CommentType {
	switch {
	case fencedSuggestion.MatchString(body):
		return TypeSuggestion
	case hasLine:
		return TypeLineComment
	case hasPath:
		return TypeFileComment
	case imperativeChange.MatchString(body):
		return TypeChangeRequest
	default:
		return TypeGeneralComment
	}
}

func isPraiseWithoutContrast(body string) bool {
	return praisePattern.MatchString(body) && !contrastivePattern.MatchString(body)
}

// IsActionable applies the §4.8 actionable rule.
func IsActionable(body string, category Category) bool {
	switch {
	case isPraiseWithoutContrast(body):
		return false
	case category == CategoryQuestion && !imperativeChange.MatchString(body):
		return false
	case category == CategoryNitpick:
		return false
	default:
		return true
	}
}

// RequiresCodeChange applies the §4.8 rule.
func RequiresCodeChange(body string, commentType CommentType) bool {
	if isPraiseWithoutContrast(body) {
		return false
	}
	if commentType == TypeSuggestion || commentType == TypeChangeRequest {
		return true
	}
	return imperativeEdit.MatchString(body)
}

// SuggestedChange extracts a fenced ```suggestion block, falling back to the
// first fenced code block.
func SuggestedChange(body string) string {
	if m := fencedSuggestion.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := fencedCodeBlock.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// Complexity applies the §4.8 additive scoring, clamped to [1,10].
func Complexity(body string, category Category) int {
	score := 5

	switch category {
	case CategoryBug:
		score += 2
	case CategorySecurity:
		score += 3
	case CategoryPerformance:
		score += 2
	case CategoryStyle:
		score -= 2
	case CategoryNitpick:
		score -= 3
	}

	if refactorPattern.MatchString(body) {
		score += 3
	}
	if testingPattern.MatchString(body) {
		score += 1
	}
	if typoPattern.MatchString(body) {
		score -= 2
	}
	if len(body) > 200 {
		score += 1
	}

	if score < 1 {
		score = 1
	}
	if score > 10 {
		score = 10
	}
	return score
}

// EstimateEffort maps a complexity score to an effort bucket.
func EstimateEffort(complexity int) Effort {
	switch {
	case complexity <= 3:
		return EffortQuick
	case complexity <= 6:
		return EffortMedium
	default:
		return EffortSignificant
	}
}

// Process runs the full per-comment pipeline.
func Process(c *providers.Comment) ProcessedComment {
	body := c.Body
	category := Categorize(body)
	commentType := ClassifyType(body, c.Line != 0, c.Path != "")
	complexity := Complexity(body, category)

	pc := ProcessedComment{
		Original:           c,
		Category:           category,
		Priority:           Prioritize(body, category),
		CommentType:        commentType,
		Actionable:         IsActionable(body, category),
		RequiresCodeChange: RequiresCodeChange(body, commentType),
		SuggestedChange:    SuggestedChange(body),
		Complexity:         complexity,
		Effort:             EstimateEffort(complexity),
	}
	if c.Path != "" {
		pc.RelatedFiles = []string{c.Path}
	}
	return pc
}

// Thread groups processed comments by file, merging same-file comments
// whose line numbers fall within 10 of the previous sorted line. Comments
// without a path each form their own thread.
type Thread struct {
	Path     string
	Comments []ProcessedComment
}

// GroupThreads implements the §4.8 thread-grouping rule.
func GroupThreads(comments []ProcessedComment) []Thread {
	byFile := map[string][]ProcessedComment{}
	var general []ProcessedComment

	for _, c := range comments {
		if c.Original.Path == "" {
			general = append(general, c)
			continue
		}
		byFile[c.Original.Path] = append(byFile[c.Original.Path], c)
	}

	var threads []Thread
	paths := make([]string, 0, len(byFile))
	for p := range byFile {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		group := byFile[path]
		sort.Slice(group, func(i, j int) bool {
			return group[i].Original.Line < group[j].Original.Line
		})

		var current *Thread
		lastLine := -1000
		for _, c := range group {
			if current == nil || c.Original.Line-lastLine > 10 {
				threads = append(threads, Thread{Path: path})
				current = &threads[len(threads)-1]
			}
			current.Comments = append(current.Comments, c)
			lastLine = c.Original.Line
		}
	}

	for _, c := range general {
		threads = append(threads, Thread{Comments: []ProcessedComment{c}})
	}

	return threads
}

var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:      1,
	PriorityMedium:    2,
	PriorityLow:       3,
}

var categoryRank = map[Category]int{
	CategorySecurity:      0,
	CategoryBug:           1,
	CategoryPerformance:   2,
	CategoryCodeQuality:   3,
	CategoryStyle:         4,
	CategoryTesting:       5,
	CategoryDocumentation: 6,
	CategorySuggestion:    7,
	CategoryQuestion:      8,
	CategoryNitpick:       9,
}

// RecommendedOrder returns only actionable comments, sorted by
// (priority rank, category rank, complexity ascending).
func RecommendedOrder(comments []ProcessedComment) []ProcessedComment {
	var actionable []ProcessedComment
	for _, c := range comments {
		if c.Actionable {
			actionable = append(actionable, c)
		}
	}

	sort.SliceStable(actionable, func(i, j int) bool {
		a, b := actionable[i], actionable[j]
		if priorityRank[a.Priority] != priorityRank[b.Priority] {
			return priorityRank[a.Priority] < priorityRank[b.Priority]
		}
		if categoryRank[a.Category] != categoryRank[b.Category] {
			return categoryRank[a.Category] < categoryRank[b.Category]
		}
		return a.Complexity < b.Complexity
	})

	return actionable
}
