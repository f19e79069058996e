package security

import (
	"strconv"
	"time"

	"github.com/passvault/passvault/pkg/storage"
)

// SecurityScore represents the overall security assessment of a vault.
type SecurityScore struct {
	// Overall is the total score (0-100).
	Overall int `json:"overall"`
	// Components breaks down the score into categories.
	Components ScoreComponents `json:"components"`
	// Issues contains the detected security issues.
	Issues []SecurityIssue `json:"issues"`
	// Suggestions provides actionable recommendations.
	Suggestions []string `json:"suggestions"`
}

// ScoreComponents breaks down the security score into categories.
// Each component contributes up to 25 points (total: 100).
type ScoreComponents struct {
	// StrengthScore is based on average password strength (0-25).
	StrengthScore int `json:"strength"`
	// UniquenessScore is based on the share of unique secrets (0-25).
	UniquenessScore int `json:"uniqueness"`
	// FreshnessScore is based on average health by age (0-25).
	FreshnessScore int `json:"freshness"`
	// RotationScore is based on the share of entries not recycling an old secret (0-25).
	RotationScore int `json:"rotation"`
}

// IssueType identifies the type of security issue.
type IssueType string

const (
	// IssueWeakPassword indicates a password with insufficient strength.
	IssueWeakPassword IssueType = "weak"
	// IssueDuplicatePassword indicates the same secret on several entries.
	IssueDuplicatePassword IssueType = "duplicate"
	// IssueStale indicates a secret that has not been changed for a long time.
	IssueStale IssueType = "stale"
	// IssueRecycled indicates a secret that was already used on the same entry.
	IssueRecycled IssueType = "recycled"
)

// Severity indicates the urgency of a security issue.
type Severity string

const (
	// SeverityCritical requires immediate attention.
	SeverityCritical Severity = "critical"
	// SeverityWarning should be addressed soon.
	SeverityWarning Severity = "warning"
	// SeverityInfo is informational only.
	SeverityInfo Severity = "info"
)

// SecurityIssue represents a detected security problem.
type SecurityIssue struct {
	// Type identifies the category of issue.
	Type IssueType `json:"type"`
	// Severity indicates urgency.
	Severity Severity `json:"severity"`
	// EntryID is the affected entry (empty unless ids were requested).
	EntryID string `json:"entry_id,omitempty"`
	// EntryIDs is used for duplicate issues (multiple entries).
	EntryIDs []string `json:"entry_ids,omitempty"`
	// Description explains the issue.
	Description string `json:"description"`
	// Suggestion provides remediation guidance.
	Suggestion string `json:"suggestion,omitempty"`
}

// Calculator computes security scores for a set of entries.
type Calculator struct {
	hmacKey []byte // Session-local key for duplicate detection
	now     func() time.Time
}

// NewCalculator creates a new security calculator.
func NewCalculator() *Calculator {
	return &Calculator{now: time.Now}
}

// WithClock sets the time source used for age-based scoring.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// CalculateScore computes the full security score. Entries should carry
// their history for the rotation component to be meaningful.
func (c *Calculator) CalculateScore(entries []*storage.Entry, includeIDs bool) (*SecurityScore, error) {
	if len(entries) == 0 {
		return &SecurityScore{
			Overall: 100,
			Components: ScoreComponents{
				StrengthScore:   25,
				UniquenessScore: 25,
				FreshnessScore:  25,
				RotationScore:   25,
			},
			Issues:      []SecurityIssue{},
			Suggestions: []string{},
		}, nil
	}

	strengthScore, weakIssues := c.calculateStrengthScore(entries, includeIDs)
	uniquenessScore, dupIssues, err := c.calculateUniquenessScore(entries, includeIDs)
	if err != nil {
		return nil, err
	}
	freshnessScore, staleIssues := c.calculateFreshnessScore(entries, includeIDs)
	rotationScore, recycledIssues := c.calculateRotationScore(entries, includeIDs)

	allIssues := make([]SecurityIssue, 0, len(weakIssues)+len(dupIssues)+len(staleIssues)+len(recycledIssues))
	allIssues = append(allIssues, weakIssues...)
	allIssues = append(allIssues, dupIssues...)
	allIssues = append(allIssues, staleIssues...)
	allIssues = append(allIssues, recycledIssues...)

	return &SecurityScore{
		Overall: strengthScore + uniquenessScore + freshnessScore + rotationScore,
		Components: ScoreComponents{
			StrengthScore:   strengthScore,
			UniquenessScore: uniquenessScore,
			FreshnessScore:  freshnessScore,
			RotationScore:   rotationScore,
		},
		Issues:      allIssues,
		Suggestions: generateSuggestions(allIssues),
	}, nil
}

// calculateStrengthScore returns the average strength points (0-25) and
// weak password issues. Entries without a secret are not rated.
func (c *Calculator) calculateStrengthScore(entries []*storage.Entry, includeIDs bool) (int, []SecurityIssue) {
	var issues []SecurityIssue
	totalPoints, rated := 0, 0

	for _, e := range entries {
		if e.Secret == "" {
			continue
		}
		rated++
		strength := CalculateStrength(e.Secret)
		totalPoints += strength.Points()

		if strength == PasswordWeak {
			issue := SecurityIssue{
				Type:        IssueWeakPassword,
				Severity:    SeverityWarning,
				Description: "Password has insufficient strength",
				Suggestion:  "Use a longer password mixing letters, digits and symbols",
			}
			if includeIDs {
				issue.EntryID = e.ID
			}
			issues = append(issues, issue)
		}
	}

	if rated == 0 {
		return 25, issues
	}
	return min(totalPoints/rated, 25), issues
}

// calculateUniquenessScore scales the share of distinct secrets to 0-25.
func (c *Calculator) calculateUniquenessScore(entries []*storage.Entry, includeIDs bool) (int, []SecurityIssue, error) {
	groups, err := c.FindDuplicates(entries, true, 0)
	if err != nil {
		return 0, nil, err
	}

	total := 0
	for _, e := range entries {
		if normalizeValue(e.Secret) != "" {
			total++
		}
	}
	if total == 0 {
		return 25, nil, nil
	}

	duplicated := 0
	var issues []SecurityIssue
	for _, g := range groups {
		duplicated += g.Count - 1
		issue := SecurityIssue{
			Type:        IssueDuplicatePassword,
			Severity:    SeverityWarning,
			Description: "Multiple entries share the same password",
			Suggestion:  "Use a unique password for each entry",
		}
		if includeIDs {
			issue.EntryIDs = g.EntryIDs
		}
		issues = append(issues, issue)
	}

	unique := total - duplicated
	return unique * 25 / total, issues, nil
}

// calculateFreshnessScore averages HealthScore over all entries and scales
// it to 0-25. Stale entries are reported.
func (c *Calculator) calculateFreshnessScore(entries []*storage.Entry, includeIDs bool) (int, []SecurityIssue) {
	now := c.now()
	total := 0
	var issues []SecurityIssue

	for _, e := range entries {
		health := HealthScore(e.UpdatedAt, now)
		total += health
		if HealthLabel(health) != HealthStale && HealthLabel(health) != HealthLow {
			continue
		}
		severity := SeverityInfo
		if HealthLabel(health) == HealthStale {
			severity = SeverityWarning
		}
		issue := SecurityIssue{
			Type:        IssueStale,
			Severity:    severity,
			Description: "Password unchanged for " + formatDays(DaysSince(e.UpdatedAt, now)),
			Suggestion:  "Rotate long-lived passwords",
		}
		if includeIDs {
			issue.EntryID = e.ID
		}
		issues = append(issues, issue)
	}

	return total * 25 / (100 * len(entries)), issues
}

// calculateRotationScore scales the share of entries whose current secret
// is not one of their own previous secrets to 0-25.
func (c *Calculator) calculateRotationScore(entries []*storage.Entry, includeIDs bool) (int, []SecurityIssue) {
	var issues []SecurityIssue
	for _, e := range entries {
		if !RecycledSecret(e) {
			continue
		}
		issue := SecurityIssue{
			Type:        IssueRecycled,
			Severity:    SeverityCritical,
			Description: "Current password was used before on this entry",
			Suggestion:  "Pick a password this entry has never used",
		}
		if includeIDs {
			issue.EntryID = e.ID
		}
		issues = append(issues, issue)
	}
	return (len(entries) - len(issues)) * 25 / len(entries), issues
}

// generateSuggestions creates actionable recommendations based on issues.
func generateSuggestions(issues []SecurityIssue) []string {
	seen := make(map[IssueType]bool)
	for _, issue := range issues {
		seen[issue.Type] = true
	}

	suggestions := []string{}
	if seen[IssueWeakPassword] {
		suggestions = append(suggestions, "Update weak passwords with stronger alternatives")
	}
	if seen[IssueDuplicatePassword] {
		suggestions = append(suggestions, "Replace duplicate passwords with unique values")
	}
	if seen[IssueRecycled] {
		suggestions = append(suggestions, "Turn on reuse enforcement and replace recycled passwords")
	}
	if seen[IssueStale] {
		suggestions = append(suggestions, "Rotate passwords that have not changed in months")
	}
	return suggestions
}

// formatDays returns a human-readable day count.
func formatDays(days int) string {
	if days == 1 {
		return "1 day"
	}
	return strconv.Itoa(days) + " days"
}
