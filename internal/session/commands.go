package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/quizsync/engine/internal/answer"
	"github.com/quizsync/engine/internal/apperr"
	"github.com/quizsync/engine/internal/domain"
	"github.com/quizsync/engine/internal/ids"
	"github.com/quizsync/engine/internal/store"
	"github.com/quizsync/engine/internal/timer"
)

// JoinResult is returned from Join.
type JoinResult struct {
	Participant domain.Participant
	Token       string
	Error       *apperr.Error
}

// Join admits a new participant, per §4.1's late-join and LOBBY rules.
// Profanity/rate-limit checks happen before Join is called (they don't
// require the session actor); Join applies the ban-by-ip and
// nickname-uniqueness checks and the state-machine and roster mutations.
func (c *Coordinator) Join(ctx context.Context, nickname, ipAddress, socketID string) JoinResult {
	var result JoinResult
	c.enqueue(func() {
		if c.sess.State != domain.StateLobby && !c.sess.AllowLateJoiners {
			result.Error = apperr.New(apperr.SessionStarted, "session already started and late joiners are disabled")
			return
		}
		if c.sess.State == domain.StateEnded {
			result.Error = apperr.New(apperr.SessionEnded, "session has ended")
			return
		}
		for _, other := range c.participants {
			if other.IsBanned && other.IPAddress == ipAddress {
				result.Error = apperr.New(apperr.ParticipantBanned, "participant is banned from this session")
				return
			}
		}
		lower := nicknameKey(nickname)
		if _, taken := c.nicknames[lower]; taken {
			result.Error = apperr.New(apperr.NicknameTaken, "nickname already in use for this session")
			return
		}

		now := c.deps.Clock.Now()
		p := &domain.Participant{
			ParticipantID:   ids.NewParticipantID(),
			SessionID:       c.sess.SessionID,
			Nickname:        nickname,
			SocketID:        socketID,
			IPAddress:       ipAddress,
			IsActive:        true,
			JoinedAt:        now,
			LastConnectedAt: now,
		}
		c.participants[p.ParticipantID] = p
		c.nicknames[lower] = p.ParticipantID
		c.sess.ActiveParticipants[p.ParticipantID] = struct{}{}
		c.sess.ParticipantCount = len(c.participants)

		if err := c.deps.Durable.PutParticipant(ctx, toParticipantRecord(p)); err != nil {
			c.deps.Log.Error("participant_persist_failed", slog.String("sessionId", c.sess.SessionID), slog.Any("err", err))
		}
		c.writeAudit(ctx, "participant_joined", p.ParticipantID, map[string]string{"nickname": nickname})

		tok, err := c.deps.Tokens.Mint(c.sess.SessionID, domain.RoleParticipant, p.ParticipantID)
		if err != nil {
			result.Error = apperr.New(apperr.Internal, "failed to mint session token")
			return
		}
		p.Token = tok

		c.broadcast("participant_joined", map[string]any{"participantId": p.ParticipantID, "nickname": nickname})
		result.Participant = *p
		result.Token = tok
		c.publishSnapshot()
	})
	return result
}

// StartQuiz transitions LOBBY -> ACTIVE_QUESTION(index=0), per §4.1.
func (c *Coordinator) StartQuiz(ctx context.Context, actorRole domain.Role) error {
	return c.controllerCommand(ctx, actorRole, func() *apperr.Error {
		if c.sess.State != domain.StateLobby {
			return apperr.New(apperr.Invalid, "quiz can only be started from LOBBY")
		}
		if len(c.quiz.Questions) == 0 {
			return apperr.New(apperr.Invalid, "quiz has no questions")
		}
		c.beginQuestion(ctx, 0)
		c.broadcast("quiz_started", nil)
		return nil
	})
}

// NextQuestion transitions REVEAL -> ACTIVE_QUESTION(index+1), or ENDED
// if no more questions remain, per §4.1.
func (c *Coordinator) NextQuestion(ctx context.Context, actorRole domain.Role) error {
	return c.controllerCommand(ctx, actorRole, func() *apperr.Error {
		if c.sess.State != domain.StateReveal {
			return apperr.New(apperr.Invalid, "next_question is only valid from REVEAL")
		}
		nextIdx := c.sess.CurrentQuestionIndex + 1
		if nextIdx >= len(c.quiz.Questions) {
			c.endQuiz(ctx)
			return nil
		}
		c.beginQuestion(ctx, nextIdx)
		return nil
	})
}

// EndQuiz forces ENDED from any non-terminal state, per §4.1's terminal
// transition via explicit end.
func (c *Coordinator) EndQuiz(ctx context.Context, actorRole domain.Role) error {
	return c.controllerCommand(ctx, actorRole, func() *apperr.Error {
		if c.sess.State == domain.StateEnded {
			return apperr.New(apperr.Invalid, "session already ended")
		}
		c.endQuiz(ctx)
		return nil
	})
}

// SkipQuestion transitions ACTIVE_QUESTION -> REVEAL without further
// scoring, per §4.1.
func (c *Coordinator) SkipQuestion(ctx context.Context, actorRole domain.Role, reason string) error {
	return c.controllerCommand(ctx, actorRole, func() *apperr.Error {
		if c.sess.State != domain.StateActiveQuestion {
			return apperr.New(apperr.Invalid, "skip_question is only valid during ACTIVE_QUESTION")
		}
		c.scheduler.Stop()
		c.sess.State = domain.StateReveal
		c.writeAudit(ctx, "question_skipped", string(actorRole), map[string]string{"reason": reason, "questionId": c.sess.CurrentQuestionID})
		c.broadcast("question_skipped", map[string]any{"questionId": c.sess.CurrentQuestionID, "reason": reason})
		return nil
	})
}

// RevealQuestion transitions ACTIVE_QUESTION -> REVEAL on controller
// request (the deadline-driven path goes through onDeadline instead),
// per §4.1: "reveal (controller, or deadline expiry ...) -> REVEAL".
func (c *Coordinator) RevealQuestion(ctx context.Context, actorRole domain.Role) error {
	return c.controllerCommand(ctx, actorRole, func() *apperr.Error {
		if c.sess.State != domain.StateActiveQuestion {
			return apperr.New(apperr.Invalid, "reveal is only valid during ACTIVE_QUESTION")
		}
		c.revealCurrentQuestion(ctx)
		return nil
	})
}

// VoidQuestion zeroes a question's scoring contribution retroactively,
// per scenario 8: each participant who answered it loses exactly that
// question's points and response time (totals clamped at 0), and streaks
// are recomputed without it.
func (c *Coordinator) VoidQuestion(ctx context.Context, actorRole domain.Role, questionID, reason string) error {
	return c.controllerCommand(ctx, actorRole, func() *apperr.Error {
		if _, already := c.sess.VoidedQuestions[questionID]; already {
			return apperr.New(apperr.InvalidQuestion, "question already voided")
		}
		c.sess.VoidedQuestions[questionID] = struct{}{}

		for participantID, p := range c.participants {
			rec, ok, err := c.deps.Durable.GetAnswer(ctx, c.sess.SessionID, participantID, questionID)
			if err != nil || !ok {
				continue
			}
			p.TotalScore -= rec.PointsEarned
			if p.TotalScore < 0 {
				p.TotalScore = 0
			}
			p.TotalTimeMs -= rec.ResponseTimeMs
			if p.TotalTimeMs < 0 {
				p.TotalTimeMs = 0
			}
			p.StreakCount = c.recomputeStreak(ctx, participantID)
			seq, err := c.board.Update(ctx, participantID, p.Nickname, p.TotalScore, p.TotalTimeMs, p.StreakCount, 0)
			if err == nil {
				c.seq = seq
			}
		}

		if top, err := c.board.GetTopN(ctx, c.topN()); err == nil {
			c.board.CacheSnapshot(top)
			c.broadcast("leaderboard_updated", map[string]any{"leaderboard": top, "topN": c.topN(), "sequence": c.seq})
		}

		c.writeAudit(ctx, "question_voided", string(actorRole), map[string]string{"questionId": questionID, "reason": reason})
		c.broadcast("question_voided", map[string]any{"questionId": questionID, "reason": reason})
		return nil
	})
}

// recomputeStreak replays participantID's answer history across the
// quiz's questions in order, skipping voided questions and questions
// never answered, and returns the consecutive-correct count trailing
// the last counted answer. This is what I5 calls "recomputed excluding
// voided questions" — a void can both break and restore a streak,
// depending on which answers surround it.
func (c *Coordinator) recomputeStreak(ctx context.Context, participantID string) int {
	streak := 0
	for _, q := range c.quiz.Questions {
		if _, voided := c.sess.VoidedQuestions[q.QuestionID]; voided {
			continue
		}
		rec, ok, err := c.deps.Durable.GetAnswer(ctx, c.sess.SessionID, participantID, q.QuestionID)
		if err != nil || !ok {
			continue
		}
		if rec.IsCorrect {
			streak++
		} else {
			streak = 0
		}
	}
	return streak
}

// PauseTimer/ResumeTimer/ResetTimer remain in ACTIVE_QUESTION, per §4.1.
func (c *Coordinator) PauseTimer(ctx context.Context, actorRole domain.Role) error {
	return c.controllerCommand(ctx, actorRole, func() *apperr.Error {
		if c.sess.State != domain.StateActiveQuestion {
			return apperr.New(apperr.Invalid, "pause_timer is only valid during ACTIVE_QUESTION")
		}
		c.scheduler.Pause()
		c.broadcast("timer_paused", nil)
		return nil
	})
}

func (c *Coordinator) ResumeTimer(ctx context.Context, actorRole domain.Role) error {
	return c.controllerCommand(ctx, actorRole, func() *apperr.Error {
		if c.sess.State != domain.StateActiveQuestion {
			return apperr.New(apperr.Invalid, "resume_timer is only valid during ACTIVE_QUESTION")
		}
		c.scheduler.Resume()
		c.broadcast("timer_resumed", nil)
		return nil
	})
}

func (c *Coordinator) ResetTimer(ctx context.Context, actorRole domain.Role, newTimeLimitSec int) error {
	return c.controllerCommand(ctx, actorRole, func() *apperr.Error {
		if c.sess.State != domain.StateActiveQuestion {
			return apperr.New(apperr.Invalid, "reset_timer is only valid during ACTIVE_QUESTION")
		}
		limit := time.Duration(newTimeLimitSec) * time.Second
		c.scheduler.Reset(limit)
		c.sess.TimerEndTime = c.deps.Clock.Now().Add(limit)
		c.broadcast("timer_reset", map[string]any{"newTimeLimitSec": newTimeLimitSec})
		return nil
	})
}

// KickParticipant disconnects a participant without banning them.
func (c *Coordinator) KickParticipant(ctx context.Context, actorRole domain.Role, participantID, reason string) error {
	return c.controllerCommand(ctx, actorRole, func() *apperr.Error {
		p, ok := c.participants[participantID]
		if !ok {
			return apperr.New(apperr.ParticipantNotFound, "unknown participant")
		}
		p.IsActive = false
		delete(c.sess.ActiveParticipants, participantID)
		c.writeAudit(ctx, "participant_kicked", string(actorRole), map[string]string{"participantId": participantID, "reason": reason})
		c.sendTo(p.SocketID, "kicked", map[string]any{"reason": reason})
		c.broadcast("participant_left", map[string]any{"participantId": participantID})
		return nil
	})
}

// BanParticipant kicks and marks a participant banned so they cannot
// re-enter the session, per §3: "banned participants cannot re-enter the
// session even with a new identity bound to the same ip" (ip-level
// enforcement happens in Join).
func (c *Coordinator) BanParticipant(ctx context.Context, actorRole domain.Role, participantID, reason string) error {
	return c.controllerCommand(ctx, actorRole, func() *apperr.Error {
		p, ok := c.participants[participantID]
		if !ok {
			return apperr.New(apperr.ParticipantNotFound, "unknown participant")
		}
		p.IsActive = false
		p.IsBanned = true
		delete(c.sess.ActiveParticipants, participantID)
		if err := c.deps.Durable.PutParticipant(ctx, toParticipantRecord(p)); err != nil {
			c.deps.Log.Error("participant_ban_persist_failed", slog.String("sessionId", c.sess.SessionID), slog.Any("err", err))
		}
		c.writeAudit(ctx, "participant_banned", string(actorRole), map[string]string{"participantId": participantID, "reason": reason})
		c.sendTo(p.SocketID, "banned", map[string]any{"reason": reason})
		c.broadcast("participant_left", map[string]any{"participantId": participantID})
		return nil
	})
}

// ToggleLateJoiners flips the session's late-joiner admission policy.
func (c *Coordinator) ToggleLateJoiners(ctx context.Context, actorRole domain.Role, allow bool) error {
	return c.controllerCommand(ctx, actorRole, func() *apperr.Error {
		c.sess.AllowLateJoiners = allow
		c.broadcast("participant_status_changed", map[string]any{"allowLateJoiners": allow})
		return nil
	})
}

// SubmitAnswer runs the AnswerPipeline for one participant's submission
// and emits the §4.3 step-10 outbound events.
func (c *Coordinator) SubmitAnswer(ctx context.Context, participantID string, raw domain.SubmittedAnswer, sizeBytes int) answer.Outcome {
	var outcome answer.Outcome
	c.enqueue(func() {
		p, ok := c.participants[participantID]
		if !ok {
			outcome = answer.Outcome{Rejected: apperr.New(apperr.ParticipantNotFound, "unknown participant")}
			return
		}

		sv := answer.SessionView{
			SessionID:         c.sess.SessionID,
			State:             c.sess.State,
			CurrentQuestionID: c.sess.CurrentQuestionID,
			QuestionStartTime: c.sess.QuestionStartTime,
			TimerEndTime:      c.sess.TimerEndTime,
			VoidedQuestions:   c.sess.VoidedQuestions,
			StreakCountBefore: p.StreakCount,
			ExamSettings:      c.sess.ExamSettings,
		}
		outcome = c.pipeline.Submit(ctx, sv, p.SocketID, participantID, raw, sizeBytes, func(id string) (domain.Question, bool) {
			q, ok := c.currentQuestion()
			if !ok || q.QuestionID != id {
				return domain.Question{}, false
			}
			return q, true
		})

		if outcome.Rejected != nil {
			c.sendTo(p.SocketID, "answer_rejected", map[string]any{"reason": string(outcome.Rejected.Code)})
			c.broadcast("answer_count_updated", nil)
			return
		}

		if outcome.Answer.IsCorrect {
			p.StreakCount++
		} else {
			p.StreakCount = 0
		}
		p.TotalScore += outcome.Answer.PointsEarned
		p.TotalTimeMs += outcome.Answer.ResponseTimeMs

		seq, err := c.board.Update(ctx, participantID, p.Nickname, p.TotalScore, p.TotalTimeMs, p.StreakCount, outcome.Answer.PointsEarned)
		if err == nil {
			c.seq = seq
		}

		c.sendTo(p.SocketID, "answer_accepted", map[string]any{"responseTimeMs": outcome.Answer.ResponseTimeMs})
		c.sendTo(p.SocketID, "answer_result", map[string]any{
			"isCorrect":    outcome.Answer.IsCorrect,
			"pointsEarned": outcome.Answer.PointsEarned,
			"speedBonus":   outcome.Answer.SpeedBonus,
			"streakBonus":  outcome.Answer.StreakBonus,
		})
		c.broadcast("answer_count_updated", nil)
		c.maybeBroadcastLeaderboard(ctx)
		c.publishSnapshot()
	})
	return outcome
}

// Reattach updates a reconnecting participant's socketID and marks them
// active again, per §4.7 step 5 ("mark the participant active"). It does
// not validate the participant's token or ban status — RecoveryService
// does that before calling Reattach.
func (c *Coordinator) Reattach(ctx context.Context, participantID, socketID string) error {
	var outErr error
	c.enqueue(func() {
		p, ok := c.participants[participantID]
		if !ok {
			outErr = apperr.New(apperr.ParticipantNotFound, "unknown participant")
			return
		}
		p.SocketID = socketID
		p.IsActive = true
		p.LastConnectedAt = c.deps.Clock.Now()
		c.sess.ActiveParticipants[participantID] = struct{}{}
		if err := c.deps.Durable.PutParticipant(ctx, toParticipantRecord(p)); err != nil {
			c.deps.Log.Error("participant_reattach_persist_failed", slog.String("sessionId", c.sess.SessionID), slog.Any("err", err))
		}
		c.broadcast("participant_reconnected", map[string]any{"participantId": participantID})
		c.publishSnapshot()
	})
	return outErr
}

// HasAnsweredCurrentQuestion reports whether participantID has already
// answered the session's current question, used by recovery to compute
// §4.7's hasAnsweredCurrentQuestion field on reconnect.
func (c *Coordinator) HasAnsweredCurrentQuestion(ctx context.Context, participantID string) (bool, error) {
	snap := c.Snapshot()
	if snap.Session.CurrentQuestionID == "" {
		return false, nil
	}
	return c.pipeline.HasAnswered(ctx, snap.Session.SessionID, snap.Session.CurrentQuestionID, participantID)
}

// FocusLost/FocusRegained record advisory focus-monitoring events, per
// §4.8; they never affect scoring unless examSettings.focusMonitoringEnabled
// is set, in which case excessive loss is left to moderator policy.
func (c *Coordinator) FocusLost(ctx context.Context, participantID string, timestamp time.Time) {
	c.enqueue(func() {
		p, ok := c.participants[participantID]
		if !ok {
			return
		}
		p.FocusLostCount++
		c.broadcast("participant_focus_changed", map[string]any{"participantId": participantID, "event": "lost", "timestamp": timestamp.UnixMilli()})
	})
}

func (c *Coordinator) FocusRegained(ctx context.Context, participantID string, timestamp time.Time, durationMs int64) {
	c.enqueue(func() {
		p, ok := c.participants[participantID]
		if !ok {
			return
		}
		p.FocusLostTimeMs += durationMs
		c.broadcast("participant_focus_changed", map[string]any{"participantId": participantID, "event": "regained", "timestamp": timestamp.UnixMilli(), "durationMs": durationMs})
	})
}

// controllerCommand enforces the required-role check of §4.1 ("every
// controller command carries a required role match") before running fn,
// then persists session state and re-publishes the snapshot.
func (c *Coordinator) controllerCommand(ctx context.Context, actorRole domain.Role, fn func() *apperr.Error) error {
	var outErr error
	c.enqueue(func() {
		if err := requireRole(actorRole, domain.RoleController); err != nil {
			outErr = err
			return
		}
		if appErr := fn(); appErr != nil {
			outErr = appErr
			return
		}
		if err := c.persistSessionLocked(ctx); err != nil {
			c.deps.Log.Error("session_persist_failed", slog.String("sessionId", c.sess.SessionID), slog.Any("err", err))
		}
		c.publishSnapshot()
	})
	return outErr
}

func (c *Coordinator) beginQuestion(ctx context.Context, index int) {
	q := c.quiz.Questions[index]
	now := c.deps.Clock.Now()
	c.sess.State = domain.StateActiveQuestion
	c.sess.CurrentQuestionIndex = index
	c.sess.CurrentQuestionID = q.QuestionID
	c.sess.QuestionStartTime = now
	c.sess.TimerEndTime = now.Add(time.Duration(q.TimeLimitSec) * time.Second)

	c.scheduler.Start(ctx, q.QuestionID, now, time.Duration(q.TimeLimitSec)*time.Second)

	c.writeAudit(ctx, "question_started", "system", map[string]string{"questionId": q.QuestionID})
	c.broadcast("question_started", map[string]any{
		"questionIndex": index,
		"question":      questionWithoutAnswers(q),
		"startTime":     now.UnixMilli(),
		"endTime":       c.sess.TimerEndTime.UnixMilli(),
	})
}

func (c *Coordinator) revealCurrentQuestion(ctx context.Context) {
	c.scheduler.Stop()
	c.sess.State = domain.StateReveal

	q, _ := c.currentQuestion()
	c.writeAudit(ctx, "reveal_answers", "system", map[string]string{"questionId": q.QuestionID})
	c.broadcast("reveal_answers", map[string]any{
		"questionId":      q.QuestionID,
		"correctOptions":  correctOptionIDs(q),
		"explanationText": q.ExplanationText,
	})
}

func (c *Coordinator) endQuiz(ctx context.Context) {
	c.scheduler.Stop()
	c.sess.State = domain.StateEnded
	c.sess.EndedAt = c.deps.Clock.Now()
	if err := c.persistSessionLocked(ctx); err != nil {
		// The failure is logged and the transition proceeds; the write
		// is not retried.
		c.deps.Log.Error("session_end_persist_failed", slog.String("sessionId", c.sess.SessionID), slog.Any("err", err))
	}
	c.writeAudit(ctx, "session_ended", "system", nil)
	top, err := c.board.GetTopN(ctx, c.topN())
	if err != nil {
		c.deps.Log.Warn("leaderboard_topn_failed", slog.String("sessionId", c.sess.SessionID), slog.Any("err", err))
		top = nil
	}
	c.broadcast("quiz_ended", map[string]any{"finalLeaderboard": top})
}

func (c *Coordinator) onTick(t timer.Tick) {
	c.broadcast("timer_tick", map[string]any{
		"questionId":       t.QuestionID,
		"remainingSeconds": t.RemainingSeconds,
		"serverTime":       t.ServerTimeMillis,
	})
}

// onDeadline runs directly on the actor goroutine (Run calls it inline
// from its select loop, the same way it calls an op), not through
// enqueue: enqueueing here would deadlock, since Run would be waiting on
// its own completion.
func (c *Coordinator) onDeadline(ctx context.Context, d timer.Deadline) {
	if c.sess.State != domain.StateActiveQuestion || c.sess.CurrentQuestionID != d.QuestionID {
		return
	}
	c.broadcast("timer_expired", map[string]any{"questionId": d.QuestionID})
	if c.sess.ExamSettings.SkipReveal {
		c.publishSnapshot()
		return
	}
	c.revealCurrentQuestion(ctx)
	c.publishSnapshot()
}

// maybeBroadcastLeaderboard coalesces leaderboard_updated to at most one
// per LeaderboardThrottle window (default 250ms, per §4.5): the first
// update once the window has elapsed is broadcast with the latest top-N;
// later updates inside the window only refresh the cached top-N, and no
// trailing broadcast is sent when the window closes.
func (c *Coordinator) maybeBroadcastLeaderboard(ctx context.Context) {
	top, err := c.board.GetTopN(ctx, c.topN())
	if err != nil {
		c.deps.Log.Warn("leaderboard_topn_failed", slog.String("sessionId", c.sess.SessionID), slog.Any("err", err))
		return
	}
	c.board.CacheSnapshot(top)

	now := c.deps.Clock.Now()
	if !c.lastBoardBroadcast.IsZero() && now.Sub(c.lastBoardBroadcast) < c.leaderboardThrottle() {
		return
	}
	c.lastBoardBroadcast = now
	c.broadcast("leaderboard_updated", map[string]any{"leaderboard": top, "topN": c.topN(), "sequence": c.seq})
}

func (c *Coordinator) leaderboardThrottle() time.Duration {
	if c.deps.LeaderboardThrottle <= 0 {
		return 250 * time.Millisecond
	}
	return c.deps.LeaderboardThrottle
}

func (c *Coordinator) topN() int {
	if c.deps.LeaderboardTopN <= 0 {
		return 20
	}
	return c.deps.LeaderboardTopN
}

func nicknameKey(nickname string) string { return strings.ToLower(nickname) }

func toParticipantRecord(p *domain.Participant) store.ParticipantRecord {
	return store.ParticipantRecord{
		ParticipantID:   p.ParticipantID,
		SessionID:       p.SessionID,
		Nickname:        p.Nickname,
		IPAddress:       p.IPAddress,
		IsActive:        p.IsActive,
		IsEliminated:    p.IsEliminated,
		IsBanned:        p.IsBanned,
		TotalScore:      p.TotalScore,
		TotalTimeMs:     p.TotalTimeMs,
		StreakCount:     p.StreakCount,
		FocusLostCount:  p.FocusLostCount,
		FocusLostTimeMs: p.FocusLostTimeMs,
		JoinedAt:        p.JoinedAt.UnixMilli(),
		LastConnectedAt: p.LastConnectedAt.UnixMilli(),
	}
}

func questionWithoutAnswers(q domain.Question) map[string]any {
	options := make([]map[string]any, 0, len(q.Options))
	for _, opt := range q.Options {
		options = append(options, map[string]any{"id": opt.ID, "text": opt.Text})
	}
	return map[string]any{
		"questionId":   q.QuestionID,
		"questionText": q.QuestionText,
		"questionType": q.QuestionType,
		"options":      options,
		"timeLimitSec": q.TimeLimitSec,
	}
}

func correctOptionIDs(q domain.Question) []string {
	out := make([]string, 0)
	for _, opt := range q.Options {
		if opt.IsCorrect {
			out = append(out, opt.ID)
		}
	}
	return out
}
