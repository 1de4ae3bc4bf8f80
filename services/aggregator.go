package services

import (
	"math"
	"sort"

	"matchquiz/models"
)

// compatibilityTiers is checked top-down; the first tier whose floor the
// score reaches wins.
var compatibilityTiers = []struct {
	floor         float64
	compatibility models.Compatibility
}{
	{80, models.Compatibility{Level: models.CompatibilityHigh, Message: "You two are perfectly in sync!"}},
	{50, models.Compatibility{Level: models.CompatibilityMedium, Message: "You have a lot in common!"}},
	{0, models.Compatibility{Level: models.CompatibilityLow, Message: "Keep learning about each other!"}},
}

// CompatibilityFor maps a 0-100 score onto the fixed tier table.
func CompatibilityFor(score float64) models.Compatibility {
	for _, tier := range compatibilityTiers {
		if score >= tier.floor {
			return tier.compatibility
		}
	}
	return compatibilityTiers[len(compatibilityTiers)-1].compatibility
}

// Aggregate derives the results summary from a game_complete payload.
func Aggregate(payload GameCompletePayload) models.Results {
	matchResults := make([]models.MatchResult, 0, len(payload.MatchResults))
	unmatched := []models.MatchResult{}
	matched := 0
	for _, raw := range payload.MatchResults {
		result := models.MatchResult{
			QuestionID: raw.QuestionID,
			Question:   raw.Question,
			Options:    append([]models.Option(nil), raw.Options...),
			Matched:    raw.Matched,
			Answers:    answersByRole(raw.PlayerAnswers),
		}
		matchResults = append(matchResults, result)
		if result.Matched {
			matched++
		} else {
			unmatched = append(unmatched, result)
		}
	}

	if len(payload.MatchResults) == 0 && payload.Summary != nil {
		matched = payload.Summary.MatchedAnswers
	}

	total := len(matchResults)
	if payload.Summary != nil && payload.Summary.TotalQuestions > 0 {
		total = payload.Summary.TotalQuestions
	}

	var score float64
	switch {
	case payload.Score != nil:
		score = *payload.Score
	case total > 0:
		score = math.Round(float64(matched)/float64(total)*10000) / 100
	}

	compatibility := CompatibilityFor(score)
	if payload.Compatibility != nil {
		compatibility = *payload.Compatibility
	}

	return models.Results{
		Score:        score,
		MatchResults: matchResults,
		Summary: models.Summary{
			TotalQuestions:     total,
			MatchedAnswers:     matched,
			UnmatchedQuestions: unmatched,
		},
		Compatibility: compatibility,
		NoMatches:     matched == 0,
	}
}

// answersByRole re-keys raw answers from volatile connection ids to the
// role each participant declared.
func answersByRole(raw map[string]RawPlayerAnswer) map[models.Role]models.PlayerAnswer {
	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	answers := make(map[models.Role]models.PlayerAnswer, len(raw))
	for _, id := range ids {
		a := raw[id]
		role, ok := models.ParseRole(string(a.declaredRole()))
		if !ok {
			continue
		}
		if _, seen := answers[role]; seen {
			continue
		}
		answers[role] = models.PlayerAnswer{OptionID: a.Answer, Text: a.AnswerText}
	}
	return answers
}

// BuildMatchData shapes completed results into the request body used by the
// results-media side jobs.
func BuildMatchData(results models.Results) []MatchDataItem {
	items := make([]MatchDataItem, 0, len(results.MatchResults))
	for _, r := range results.MatchResults {
		answers := make(map[models.Role]MatchDataAnswer, len(r.Answers))
		for role, a := range r.Answers {
			answers[role] = MatchDataAnswer{AnswerText: a.Text}
		}
		items = append(items, MatchDataItem{
			Question:      r.Question,
			Matched:       r.Matched,
			PlayerAnswers: answers,
		})
	}
	return items
}
