package quiz

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/aura-classroom/backend/internal/models"
)

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsCorrect grades an answer. Choice questions need an exact case-insensitive match; short answers
// are a heuristic match when either text contains the other.
func IsCorrect(t models.QuizType, answer, correct string) bool {
	a, c := normalize(answer), normalize(correct)
	switch t {
	case models.QuizMCQ, models.QuizTrueFalse:
		return a == c
	case models.QuizShortAnswer:
		if a == "" || c == "" {
			return a == c
		}
		return strings.Contains(a, c) || strings.Contains(c, a)
	}
	return false
}

// Rank aggregates responses per participant and orders them by correct answers descending, then
// average response time ascending.
func Rank(responses []models.QuizResponse) []models.LeaderboardEntry {
	type agg struct {
		entry   models.LeaderboardEntry
		totalMs int64
	}
	byParticipant := make(map[uuid.UUID]*agg)
	var order []uuid.UUID
	for _, r := range responses {
		a, ok := byParticipant[r.ParticipantID]
		if !ok {
			a = &agg{entry: models.LeaderboardEntry{ParticipantID: r.ParticipantID, DisplayName: r.DisplayName}}
			byParticipant[r.ParticipantID] = a
			order = append(order, r.ParticipantID)
		}
		a.entry.TotalAnswered++
		if r.IsCorrect {
			a.entry.CorrectCount++
		}
		a.totalMs += r.ResponseTimeMs
		if a.entry.DisplayName == "" {
			a.entry.DisplayName = r.DisplayName
		}
	}

	out := make([]models.LeaderboardEntry, 0, len(order))
	for _, id := range order {
		a := byParticipant[id]
		e := a.entry
		e.Accuracy = float64(e.CorrectCount) / float64(e.TotalAnswered)
		e.AverageResponseTimeMs = float64(a.totalMs) / float64(e.TotalAnswered)
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CorrectCount != out[j].CorrectCount {
			return out[i].CorrectCount > out[j].CorrectCount
		}
		return out[i].AverageResponseTimeMs < out[j].AverageResponseTimeMs
	})
	return out
}

// Summary describes the responses to one quiz.
type Summary struct {
	TotalResponses        int     `json:"total_responses"`
	CorrectResponses      int     `json:"correct_responses"`
	Accuracy              float64 `json:"accuracy"`
	AverageResponseTimeMs float64 `json:"average_response_time_ms"`
}

// Summarize computes totals over one quiz's responses.
func Summarize(responses []models.QuizResponse) Summary {
	var s Summary
	var totalMs int64
	for _, r := range responses {
		s.TotalResponses++
		if r.IsCorrect {
			s.CorrectResponses++
		}
		totalMs += r.ResponseTimeMs
	}
	if s.TotalResponses > 0 {
		s.Accuracy = float64(s.CorrectResponses) / float64(s.TotalResponses)
		s.AverageResponseTimeMs = float64(totalMs) / float64(s.TotalResponses)
	}
	return s
}
