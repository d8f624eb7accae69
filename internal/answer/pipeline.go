// Package answer implements the AnswerPipeline (C12): the ordered
// ingest/validate/dedupe/persist/score/fan-out steps of spec.md §4.3.
// Generalizes the validate-then-persist-then-react shape of
// internal/ingest/ledger_consumer.go (bounded-size check, then a fixed
// sequence of guards before the record is committed) to the quiz answer
// submission path.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quizsync/engine/internal/apperr"
	"github.com/quizsync/engine/internal/clock"
	"github.com/quizsync/engine/internal/domain"
	"github.com/quizsync/engine/internal/ids"
	"github.com/quizsync/engine/internal/ratelimit"
	"github.com/quizsync/engine/internal/scoring"
	"github.com/quizsync/engine/internal/store"
)

// MaxMessageBytes bounds inbound submit_answer payload size, per §4.3 step 1.
const MaxMessageBytes = 16 * 1024

// GraceDefault is the default timing grace window of §4.3 step 4 ("grace
// ≤ 250ms").
const GraceDefault = 250 * time.Millisecond

// QuestionLookup resolves a question by id within the current session,
// scoped to whatever currently-active question set the coordinator owns.
type QuestionLookup func(questionID string) (domain.Question, bool)

// SessionView is the minimal read-only session state the pipeline needs
// from the owning SessionCoordinator to run its state/timing checks. The
// coordinator is the only writer of this state (§5); the pipeline only
// reads a snapshot handed to it for one submission.
type SessionView struct {
	SessionID         string
	State             domain.SessionState
	CurrentQuestionID string
	QuestionStartTime time.Time
	TimerEndTime      time.Time
	VoidedQuestions   map[string]struct{}
	StreakCountBefore int
	ExamSettings      domain.ExamSettings
}

// Outcome is the result of one Submit call: Accepted and Answer are both
// set on success, or Rejected is populated on failure.
type Outcome struct {
	Accepted bool
	Answer   domain.Answer
	Rejected *apperr.Error
}

// Pipeline runs the ten-step submission sequence of §4.3.
type Pipeline struct {
	ephemeral store.EphemeralStore
	durable   store.DurableStore
	limiter   *ratelimit.Limiter
	clock     clock.Clock
	log       *slog.Logger
	grace     time.Duration
}

// New constructs a Pipeline. grace is clamped to ≤250ms by the config
// loader (internal/config); New also replaces a grace that is ≤0 or
// above GraceDefault with GraceDefault.
func New(ephemeral store.EphemeralStore, durable store.DurableStore, limiter *ratelimit.Limiter, c clock.Clock, log *slog.Logger, grace time.Duration) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if c == nil {
		c = clock.System{}
	}
	if grace <= 0 || grace > GraceDefault {
		grace = GraceDefault
	}
	return &Pipeline{ephemeral: ephemeral, durable: durable, limiter: limiter, clock: c, log: log, grace: grace}
}

// Submit runs the pipeline for one submission from socketID/participantID
// against sv (a snapshot of the owning session) and lookup (resolves the
// submitted questionId to its Question within the active quiz).
func (p *Pipeline) Submit(ctx context.Context, sv SessionView, socketID, participantID string, raw domain.SubmittedAnswer, rawSizeBytes int, lookup QuestionLookup) Outcome {
	// Step 1: channel check.
	if rawSizeBytes > MaxMessageBytes {
		return reject(apperr.Invalid, "message exceeds size bound")
	}

	// Step 2: rate-limit (messages scope is enforced by the caller per
	// socket before dispatch reaches Submit; this step re-checks the
	// answer-specific dedupe scope at step 5).

	// Step 3: state check.
	if sv.State != domain.StateActiveQuestion || raw.QuestionID != sv.CurrentQuestionID {
		return reject(apperr.InvalidQuestion, "question is not currently active")
	}
	if _, voided := sv.VoidedQuestions[raw.QuestionID]; voided {
		return reject(apperr.InvalidQuestion, "question has been voided")
	}

	// Step 4: timing check.
	serverReceivedAt := p.clock.Now()
	if serverReceivedAt.After(sv.TimerEndTime.Add(p.grace)) {
		return reject(apperr.TimeExpired, "submission arrived after the timer deadline")
	}

	// Step 5: dedup check via the answer rate-limit scope.
	decision := p.limiter.Check(ctx, ratelimit.ScopeAnswer, participantID, raw.QuestionID)
	if !decision.Allowed {
		return reject(apperr.AlreadySubmitted, "an answer was already recorded for this question")
	}

	question, ok := lookup(raw.QuestionID)
	if !ok {
		return reject(apperr.InvalidQuestion, "unknown question")
	}

	// Step 6: shape check.
	if err := validateShape(question, raw); err != nil {
		return reject(apperr.Invalid, err.Error())
	}

	// Step 7: persist. The response time is computed here; the record is
	// written below, once scoring has filled in its points.
	responseTimeMs := clampResponseTime(serverReceivedAt.Sub(sv.QuestionStartTime), question.TimeLimitSec)

	// Step 8: score.
	result := scoring.Score(question, raw, responseTimeMs, sv.StreakCountBefore, sv.ExamSettings, false)

	ans := domain.Answer{
		AnswerID:          ids.NewAnswerID(),
		SessionID:         sv.SessionID,
		ParticipantID:     participantID,
		QuestionID:        raw.QuestionID,
		SelectedOptionIDs: raw.SelectedOptionIDs,
		AnswerText:        raw.AnswerText,
		AnswerNumber:      raw.AnswerNumber,
		ClientTimestamp:   raw.ClientTimestamp,
		ServerReceivedAt:  serverReceivedAt,
		ResponseTimeMs:    responseTimeMs,
		IsCorrect:         result.IsCorrect,
		PointsEarned:      result.PointsEarned,
		SpeedBonus:        result.SpeedBonus,
		StreakBonus:       result.StreakBonus,
	}

	if err := p.persist(ctx, ans); err != nil {
		p.log.Error("answer_persist_failed", slog.String("sessionId", sv.SessionID), slog.String("participantId", participantID), slog.Any("err", err))
		return reject(apperr.Internal, "failed to persist answer")
	}

	if err := p.ephemeral.SAdd(ctx, answeredKey(sv.SessionID, raw.QuestionID), participantID); err != nil {
		p.log.Warn("answered_set_update_failed", slog.String("sessionId", sv.SessionID), slog.Any("err", err))
	}

	return Outcome{Accepted: true, Answer: ans}
}

func (p *Pipeline) persist(ctx context.Context, ans domain.Answer) error {
	rec := store.AnswerRecord{
		AnswerID:         ans.AnswerID,
		SessionID:        ans.SessionID,
		ParticipantID:    ans.ParticipantID,
		QuestionID:       ans.QuestionID,
		ResponseTimeMs:   ans.ResponseTimeMs,
		IsCorrect:        ans.IsCorrect,
		PointsEarned:     ans.PointsEarned,
		SpeedBonus:       ans.SpeedBonus,
		StreakBonus:      ans.StreakBonus,
		ServerReceivedAt: ans.ServerReceivedAt.UnixMilli(),
	}
	if err := p.durable.PutAnswer(ctx, rec); err != nil {
		return fmt.Errorf("put answer: %w", err)
	}
	return nil
}

// HasAnswered reports whether participantID is present in the answered
// set for (sessionID, questionID), used by recovery to compute
// hasAnsweredCurrentQuestion per §4.7.
func (p *Pipeline) HasAnswered(ctx context.Context, sessionID, questionID, participantID string) (bool, error) {
	return p.ephemeral.SIsMember(ctx, answeredKey(sessionID, questionID), participantID)
}

func answeredKey(sessionID, questionID string) string {
	return fmt.Sprintf(store.KeyAnswered, sessionID, questionID)
}

func reject(code apperr.Code, message string) Outcome {
	return Outcome{Rejected: apperr.New(code, message)}
}

func clampResponseTime(elapsed time.Duration, timeLimitSec int) int64 {
	ms := elapsed.Milliseconds()
	if ms < 0 {
		return 0
	}
	max := int64(timeLimitSec) * 1000
	if ms > max {
		return max
	}
	return ms
}

func validateShape(q domain.Question, ans domain.SubmittedAnswer) error {
	switch q.QuestionType {
	case domain.QuestionMultipleChoice, domain.QuestionTrueFalse:
		if len(ans.SelectedOptionIDs) != 1 {
			return fmt.Errorf("expected exactly one selected option")
		}
		if !optionExists(q, ans.SelectedOptionIDs[0]) {
			return fmt.Errorf("unknown option selected")
		}
	case domain.QuestionMultipleChoiceMulti:
		if len(ans.SelectedOptionIDs) == 0 {
			return fmt.Errorf("expected at least one selected option")
		}
		for _, id := range ans.SelectedOptionIDs {
			if !optionExists(q, id) {
				return fmt.Errorf("unknown option selected")
			}
		}
	case domain.QuestionNumberInput:
		if ans.AnswerNumber == nil {
			return fmt.Errorf("answerNumber is required")
		}
	case domain.QuestionOpenEnded:
		if ans.AnswerText == "" {
			return fmt.Errorf("answerText is required")
		}
	}
	return nil
}

func optionExists(q domain.Question, id string) bool {
	for _, opt := range q.Options {
		if opt.ID == id {
			return true
		}
	}
	return false
}
