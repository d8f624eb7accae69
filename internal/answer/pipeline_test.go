package answer

import (
	"context"
	"testing"
	"time"

	"github.com/quizsync/engine/internal/apperr"
	"github.com/quizsync/engine/internal/clock"
	"github.com/quizsync/engine/internal/domain"
	"github.com/quizsync/engine/internal/ratelimit"
	"github.com/quizsync/engine/internal/store"
)

func newTestPipeline(t *testing.T, fake *clock.Fake) (*Pipeline, store.EphemeralStore, store.DurableStore) {
	t.Helper()
	dir := t.TempDir()
	durable, err := store.NewFileDurableStore(dir)
	if err != nil {
		t.Fatalf("new durable store: %v", err)
	}
	t.Cleanup(func() { durable.Close() })

	ephemeral := store.NewMemoryEphemeralStore()
	t.Cleanup(func() { ephemeral.Close() })

	limiter := ratelimit.New(ephemeral, nil)
	return New(ephemeral, durable, limiter, fake, nil, 250*time.Millisecond), ephemeral, durable
}

func baseSessionView(now time.Time) SessionView {
	return SessionView{
		SessionID:         "sess-1",
		State:             domain.StateActiveQuestion,
		CurrentQuestionID: "q1",
		QuestionStartTime: now,
		TimerEndTime:      now.Add(30 * time.Second),
		VoidedQuestions:   map[string]struct{}{},
		ExamSettings:      domain.ExamSettings{},
	}
}

func baseLookup() QuestionLookup {
	q := domain.Question{
		QuestionID:   "q1",
		QuestionType: domain.QuestionMultipleChoice,
		TimeLimitSec: 30,
		Options: []domain.Option{
			{ID: "a", IsCorrect: true},
			{ID: "b", IsCorrect: false},
		},
		Scoring: domain.ScoringRule{BasePoints: 100, SpeedBonusMultiplier: 0.5},
	}
	return func(id string) (domain.Question, bool) {
		if id == q.QuestionID {
			return q, true
		}
		return domain.Question{}, false
	}
}

func TestSubmitAcceptsFirstAnswer(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	pipeline, _, _ := newTestPipeline(t, fake)
	sv := baseSessionView(fake.Now())

	ans := domain.SubmittedAnswer{QuestionID: "q1", SelectedOptionIDs: []string{"a"}}
	outcome := pipeline.Submit(context.Background(), sv, "socket-1", "participant-1", ans, 64, baseLookup())

	if !outcome.Accepted {
		t.Fatalf("expected answer to be accepted, got rejection %+v", outcome.Rejected)
	}
	if !outcome.Answer.IsCorrect {
		t.Fatalf("expected correct answer")
	}
}

func TestSubmitRejectsDuplicate(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	pipeline, _, _ := newTestPipeline(t, fake)
	sv := baseSessionView(fake.Now())
	ans := domain.SubmittedAnswer{QuestionID: "q1", SelectedOptionIDs: []string{"a"}}

	first := pipeline.Submit(context.Background(), sv, "socket-1", "participant-1", ans, 64, baseLookup())
	if !first.Accepted {
		t.Fatalf("expected first submit accepted, got %+v", first.Rejected)
	}

	second := pipeline.Submit(context.Background(), sv, "socket-1", "participant-1", ans, 64, baseLookup())
	if second.Accepted {
		t.Fatalf("expected duplicate submit to be rejected")
	}
	if second.Rejected.Code != apperr.AlreadySubmitted {
		t.Fatalf("expected ALREADY_SUBMITTED, got %v", second.Rejected.Code)
	}
}

func TestSubmitRejectsAfterTimerExpiredPlusGrace(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	pipeline, _, _ := newTestPipeline(t, fake)
	sv := baseSessionView(fake.Now())
	sv.TimerEndTime = fake.Now().Add(-1 * time.Millisecond) // already expired

	fake.Advance(300 * time.Millisecond) // beyond the 250ms grace

	ans := domain.SubmittedAnswer{QuestionID: "q1", SelectedOptionIDs: []string{"a"}}
	outcome := pipeline.Submit(context.Background(), sv, "socket-1", "participant-1", ans, 64, baseLookup())

	if outcome.Accepted {
		t.Fatalf("expected expired submission to be rejected")
	}
	if outcome.Rejected.Code != apperr.TimeExpired {
		t.Fatalf("expected TIME_EXPIRED, got %v", outcome.Rejected.Code)
	}
}

func TestSubmitRejectsWrongQuestion(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	pipeline, _, _ := newTestPipeline(t, fake)
	sv := baseSessionView(fake.Now())
	sv.CurrentQuestionID = "q2"

	ans := domain.SubmittedAnswer{QuestionID: "q1", SelectedOptionIDs: []string{"a"}}
	outcome := pipeline.Submit(context.Background(), sv, "socket-1", "participant-1", ans, 64, baseLookup())

	if outcome.Accepted {
		t.Fatalf("expected mismatched question to be rejected")
	}
	if outcome.Rejected.Code != apperr.InvalidQuestion {
		t.Fatalf("expected INVALID_QUESTION, got %v", outcome.Rejected.Code)
	}
}

func TestSubmitRejectsOversizedMessage(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	pipeline, _, _ := newTestPipeline(t, fake)
	sv := baseSessionView(fake.Now())

	ans := domain.SubmittedAnswer{QuestionID: "q1", SelectedOptionIDs: []string{"a"}}
	outcome := pipeline.Submit(context.Background(), sv, "socket-1", "participant-1", ans, MaxMessageBytes+1, baseLookup())

	if outcome.Accepted {
		t.Fatalf("expected oversized message to be rejected")
	}
	if outcome.Rejected.Code != apperr.Invalid {
		t.Fatalf("expected INVALID, got %v", outcome.Rejected.Code)
	}
}
