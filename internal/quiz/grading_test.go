package quiz

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/aura-classroom/backend/internal/models"
)

func TestIsCorrect(t *testing.T) {
	tests := []struct {
		typ     models.QuizType
		answer  string
		correct string
		want    bool
	}{
		{models.QuizMCQ, "Paris", "paris", true},
		{models.QuizMCQ, " paris ", "Paris", true},
		{models.QuizMCQ, "Lyon", "Paris", false},
		{models.QuizTrueFalse, "TRUE", "true", true},
		{models.QuizTrueFalse, "false", "true", false},
		{models.QuizShortAnswer, "photosynthesis in plants", "Photosynthesis", true},
		{models.QuizShortAnswer, "photo", "photosynthesis", true},
		{models.QuizShortAnswer, "respiration", "photosynthesis", false},
		{models.QuizShortAnswer, "", "photosynthesis", false},
		{models.QuizType("ESSAY"), "x", "x", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsCorrect(tt.typ, tt.answer, tt.correct), "%s %q vs %q", tt.typ, tt.answer, tt.correct)
	}
}

func TestRank_OrdersByCorrectThenSpeed(t *testing.T) {
	ana, ben, cai := uuid.New(), uuid.New(), uuid.New()
	responses := []models.QuizResponse{
		{ParticipantID: ana, DisplayName: "Ana", IsCorrect: true, ResponseTimeMs: 4000},
		{ParticipantID: ben, DisplayName: "Ben", IsCorrect: true, ResponseTimeMs: 1000},
		{ParticipantID: cai, DisplayName: "Cai", IsCorrect: false, ResponseTimeMs: 500},
		{ParticipantID: ana, DisplayName: "Ana", IsCorrect: true, ResponseTimeMs: 2000},
		{ParticipantID: ben, DisplayName: "Ben", IsCorrect: false, ResponseTimeMs: 1000},
		{ParticipantID: cai, DisplayName: "Cai", IsCorrect: true, ResponseTimeMs: 700},
	}

	got := Rank(responses)
	if assert.Len(t, got, 3) {
		assert.Equal(t, ana, got[0].ParticipantID)
		assert.Equal(t, 2, got[0].CorrectCount)
		assert.Equal(t, 2, got[0].TotalAnswered)
		assert.InDelta(t, 1.0, got[0].Accuracy, 1e-9)
		assert.InDelta(t, 3000.0, got[0].AverageResponseTimeMs, 1e-9)

		// one correct each; Cai averaged 600ms, Ben 1000ms
		assert.Equal(t, cai, got[1].ParticipantID)
		assert.Equal(t, ben, got[2].ParticipantID)
		assert.InDelta(t, 0.5, got[2].Accuracy, 1e-9)
	}

	assert.Empty(t, Rank(nil))
}

func TestSummarize(t *testing.T) {
	s := Summarize([]models.QuizResponse{
		{IsCorrect: true, ResponseTimeMs: 1000},
		{IsCorrect: false, ResponseTimeMs: 3000},
	})
	assert.Equal(t, 2, s.TotalResponses)
	assert.Equal(t, 1, s.CorrectResponses)
	assert.InDelta(t, 0.5, s.Accuracy, 1e-9)
	assert.InDelta(t, 2000.0, s.AverageResponseTimeMs, 1e-9)

	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestQuestionValidate(t *testing.T) {
	q := Question{Question: " 2+2? ", Type: models.QuizMCQ, Options: []string{"3", "4"}, CorrectAnswer: "4"}
	assert.NoError(t, q.validate())
	assert.Equal(t, "2+2?", q.Question)
	assert.Equal(t, DefaultTimeLimit, q.TimeLimitSeconds)

	tf := Question{Question: "Sky is blue", Type: models.QuizTrueFalse, CorrectAnswer: "True", TimeLimitSeconds: 10}
	assert.NoError(t, tf.validate())
	assert.Equal(t, []string{"True", "False"}, tf.Options)
	assert.Equal(t, 10, tf.TimeLimitSeconds)

	sa := Question{Question: "Name it", Type: models.QuizShortAnswer, Options: []string{"ignored"}, CorrectAnswer: "x"}
	assert.NoError(t, sa.validate())
	assert.Nil(t, sa.Options)

	bad := []Question{
		{Question: "", Type: models.QuizMCQ, Options: []string{"a", "b"}, CorrectAnswer: "a"},
		{Question: "q", Type: "ESSAY", CorrectAnswer: "a"},
		{Question: "q", Type: models.QuizMCQ, Options: []string{"a"}, CorrectAnswer: "a"},
		{Question: "q", Type: models.QuizMCQ, Options: []string{"a", "b"}, CorrectAnswer: "c"},
		{Question: "q", Type: models.QuizTrueFalse, CorrectAnswer: "maybe"},
		{Question: "q", Type: models.QuizShortAnswer, CorrectAnswer: " "},
		{Question: "q", Type: models.QuizShortAnswer, CorrectAnswer: "a", TimeLimitSeconds: -1},
	}
	for i := range bad {
		assert.Error(t, bad[i].validate(), "case %d", i)
	}
}
