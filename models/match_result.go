package models

// CompatibilityLevel is the tier shown on the results screen.
type CompatibilityLevel string

const (
	CompatibilityLow    CompatibilityLevel = "Low"
	CompatibilityMedium CompatibilityLevel = "Medium"
	CompatibilityHigh   CompatibilityLevel = "High"
)

// PlayerAnswer is one participant's choice for a question.
type PlayerAnswer struct {
	OptionID string `json:"answer"`
	Text     string `json:"answerText"`
}

// MatchResult is the per-question comparison of both participants' answers,
// keyed by role rather than by connection id.
type MatchResult struct {
	QuestionID int                   `json:"questionId"`
	Question   string                `json:"question"`
	Options    []Option              `json:"options,omitempty"`
	Matched    bool                  `json:"matched"`
	Answers    map[Role]PlayerAnswer `json:"playerAnswers"`
}

type Compatibility struct {
	Level   CompatibilityLevel `json:"level"`
	Message string             `json:"message"`
}

type Summary struct {
	TotalQuestions     int           `json:"totalQuestions"`
	MatchedAnswers     int           `json:"matchedAnswers"`
	UnmatchedQuestions []MatchResult `json:"unmatchedQuestions"`
}

// Results is set once when the session completes and never re-derived.
type Results struct {
	Score         float64       `json:"score"`
	MatchResults  []MatchResult `json:"matchResults"`
	Summary       Summary       `json:"summary"`
	Compatibility Compatibility `json:"compatibility"`
	NoMatches     bool          `json:"noMatches"`
}
