// Package scoring implements the Scorer (C9): deterministic score/bonus
// calculation from answer + question + timing, per spec.md §4.4.
// Generalizes internal/core/scoring.go's ComputeScore (a deterministic,
// weighted formula over a fixed event set) to the quiz per-answer formula.
package scoring

import (
	"math"
	"strings"

	"github.com/quizsync/engine/internal/domain"
)

// Streak bonus tuning constants, per spec.md §4.4.
const (
	StreakCap  = 500
	StreakStep = 50
)

// Result is the Scorer's output, per spec §4.4.
type Result struct {
	IsCorrect    bool
	PointsEarned int
	SpeedBonus   int
	StreakBonus  int
}

// Score computes the result for one answer. voided forces the zeroed
// outcome regardless of correctness, per §4.4 "Voided questions".
func Score(q domain.Question, ans domain.SubmittedAnswer, responseTimeMs int64, streakCountBefore int, exam domain.ExamSettings, voided bool) Result {
	if voided {
		return Result{IsCorrect: false, PointsEarned: 0, SpeedBonus: 0, StreakBonus: 0}
	}

	correct, partialPoints := evaluateCorrectness(q, ans)
	isPartialMode := q.QuestionType == domain.QuestionMultipleChoiceMulti && q.Scoring.PartialCreditEnabled

	base := q.Scoring.BasePoints
	var pointsEarned int
	var speedBonus int
	var streakBonus int

	switch {
	case isPartialMode:
		pointsEarned = partialPoints
		correct = pointsEarned == base
	case correct:
		pointsEarned = base
	default:
		pointsEarned = 0
	}

	// Speed and streak bonuses apply only to non-partial-credit correct
	// answers, per §4.4: "(only when isCorrect and not partial)".
	if correct && !isPartialMode {
		speedBonus = computeSpeedBonus(q, responseTimeMs)
		streakBonus = computeStreakBonus(streakCountBefore)
		pointsEarned += speedBonus + streakBonus
	} else if !correct && exam.NegativeMarkingEnabled {
		pointsEarned = -roundHalfAwayFromZero(float64(base) * exam.NegativeMarkingPercentage / 100.0)
	}

	return Result{
		IsCorrect:    correct,
		PointsEarned: pointsEarned,
		SpeedBonus:   speedBonus,
		StreakBonus:  streakBonus,
	}
}

// evaluateCorrectness returns whether the answer is correct and, for
// partial-credit multi-select, the clamped partial point value.
func evaluateCorrectness(q domain.Question, ans domain.SubmittedAnswer) (bool, int) {
	switch q.QuestionType {
	case domain.QuestionMultipleChoice, domain.QuestionTrueFalse:
		return singleSelectCorrect(q, ans), 0
	case domain.QuestionMultipleChoiceMulti:
		return multiSelectCorrect(q, ans)
	case domain.QuestionNumberInput:
		return numberCorrect(q, ans), 0
	case domain.QuestionOpenEnded:
		return openEndedCorrect(q, ans), 0
	default:
		return false, 0
	}
}

func singleSelectCorrect(q domain.Question, ans domain.SubmittedAnswer) bool {
	if len(ans.SelectedOptionIDs) != 1 {
		return false
	}
	selected := ans.SelectedOptionIDs[0]
	for _, opt := range q.Options {
		if opt.ID == selected {
			return opt.IsCorrect
		}
	}
	return false
}

// multiSelectCorrect implements §4.4: exact-set-equality unless partial
// credit is enabled, in which case
// pointsEarned = basePoints * (correct-selected - incorrect-selected) /
// correctOptionCount, clamped to [0, basePoints].
func multiSelectCorrect(q domain.Question, ans domain.SubmittedAnswer) (bool, int) {
	correctIDs := make(map[string]struct{})
	for _, opt := range q.Options {
		if opt.IsCorrect {
			correctIDs[opt.ID] = struct{}{}
		}
	}
	selected := make(map[string]struct{}, len(ans.SelectedOptionIDs))
	for _, id := range ans.SelectedOptionIDs {
		selected[id] = struct{}{}
	}

	if !q.Scoring.PartialCreditEnabled {
		if len(selected) != len(correctIDs) {
			return false, 0
		}
		for id := range selected {
			if _, ok := correctIDs[id]; !ok {
				return false, 0
			}
		}
		return true, q.Scoring.BasePoints
	}

	var correctSelected, incorrectSelected int
	for id := range selected {
		if _, ok := correctIDs[id]; ok {
			correctSelected++
		} else {
			incorrectSelected++
		}
	}
	if len(correctIDs) == 0 {
		return false, 0
	}
	raw := float64(q.Scoring.BasePoints) * float64(correctSelected-incorrectSelected) / float64(len(correctIDs))
	points := int(math.Round(raw))
	if points < 0 {
		points = 0
	}
	if points > q.Scoring.BasePoints {
		points = q.Scoring.BasePoints
	}
	return points == q.Scoring.BasePoints, points
}

func numberCorrect(q domain.Question, ans domain.SubmittedAnswer) bool {
	if ans.AnswerNumber == nil {
		return false
	}
	return math.Abs(*ans.AnswerNumber-q.TargetNumber) <= q.Tolerance
}

func openEndedCorrect(q domain.Question, ans domain.SubmittedAnswer) bool {
	normalized := normalizeText(ans.AnswerText)
	if normalized == "" {
		return false
	}
	for _, accepted := range q.AcceptedAnswers {
		if normalizeText(accepted) == normalized {
			return true
		}
	}
	return false
}

func normalizeText(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	return strings.Join(fields, " ")
}

// computeSpeedBonus implements §4.4: basePoints * speedBonusMultiplier *
// max(0, 1 - responseTimeMs/(timeLimit*1000)), rounded to nearest integer.
func computeSpeedBonus(q domain.Question, responseTimeMs int64) int {
	timeLimitMs := float64(q.TimeLimitSec) * 1000.0
	if timeLimitMs <= 0 {
		return 0
	}
	fraction := 1.0 - float64(responseTimeMs)/timeLimitMs
	if fraction < 0 {
		fraction = 0
	}
	bonus := float64(q.Scoring.BasePoints) * q.Scoring.SpeedBonusMultiplier * fraction
	return int(math.Round(bonus))
}

// computeStreakBonus implements §4.4:
// min(STREAK_CAP, (streakCountBefore+1) * STREAK_STEP).
func computeStreakBonus(streakCountBefore int) int {
	bonus := (streakCountBefore + 1) * StreakStep
	if bonus > StreakCap {
		bonus = StreakCap
	}
	return bonus
}

func roundHalfAwayFromZero(v float64) int {
	if v >= 0 {
		return int(math.Floor(v + 0.5))
	}
	return -int(math.Floor(-v + 0.5))
}
