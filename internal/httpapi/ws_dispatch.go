package httpapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/quizsync/engine/internal/apperr"
	"github.com/quizsync/engine/internal/domain"
	"github.com/quizsync/engine/internal/session"
)

// dispatchFrame maps one post-handshake inbound frame to the matching
// session.Coordinator command, per spec.md §6's inbound event table.
// Controller events rely on the Coordinator's own requireRole check for
// the UNAUTHORIZED rejection; participant events are checked here (with
// INVALID_ROLE) since they have no equivalent controllerCommand wrapper.
func dispatchFrame(ctx context.Context, coord *session.Coordinator, role domain.Role, participantID string, frame inboundFrame) error {
	switch frame.Type {
	case "submit_answer":
		return dispatchSubmitAnswer(ctx, coord, role, participantID, frame.Payload)
	case "focus_lost":
		return dispatchFocusLost(ctx, coord, role, participantID)
	case "focus_regained":
		return dispatchFocusRegained(ctx, coord, role, participantID, frame.Payload)
	case "start_quiz":
		return coord.StartQuiz(ctx, role)
	case "next_question":
		return coord.NextQuestion(ctx, role)
	case "end_quiz":
		return coord.EndQuiz(ctx, role)
	case "skip_question":
		var p struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(frame.Payload, &p)
		return coord.SkipQuestion(ctx, role, p.Reason)
	case "reveal_question":
		return coord.RevealQuestion(ctx, role)
	case "void_question":
		var p struct {
			QuestionID string `json:"questionId"`
			Reason     string `json:"reason"`
		}
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return apperr.New(apperr.Invalid, "malformed void_question payload")
		}
		return coord.VoidQuestion(ctx, role, p.QuestionID, p.Reason)
	case "pause_timer":
		return coord.PauseTimer(ctx, role)
	case "resume_timer":
		return coord.ResumeTimer(ctx, role)
	case "reset_timer":
		var p struct {
			NewTimeLimitSec int `json:"newTimeLimitSec"`
		}
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return apperr.New(apperr.Invalid, "malformed reset_timer payload")
		}
		return coord.ResetTimer(ctx, role, p.NewTimeLimitSec)
	case "kick_participant":
		var p struct {
			ParticipantID string `json:"participantId"`
			Reason        string `json:"reason"`
		}
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return apperr.New(apperr.Invalid, "malformed kick_participant payload")
		}
		return coord.KickParticipant(ctx, role, p.ParticipantID, p.Reason)
	case "ban_participant":
		var p struct {
			ParticipantID string `json:"participantId"`
			Reason        string `json:"reason"`
		}
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return apperr.New(apperr.Invalid, "malformed ban_participant payload")
		}
		return coord.BanParticipant(ctx, role, p.ParticipantID, p.Reason)
	case "toggle_late_joiners":
		var p struct {
			Allow bool `json:"allow"`
		}
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return apperr.New(apperr.Invalid, "malformed toggle_late_joiners payload")
		}
		return coord.ToggleLateJoiners(ctx, role, p.Allow)
	default:
		return apperr.New(apperr.Invalid, "unknown frame type")
	}
}

func dispatchSubmitAnswer(ctx context.Context, coord *session.Coordinator, role domain.Role, participantID string, raw json.RawMessage) error {
	if role != domain.RoleParticipant {
		return apperr.New(apperr.InvalidRole, "submit_answer requires participant role")
	}
	var p struct {
		QuestionID        string    `json:"questionId"`
		SelectedOptionIDs []string  `json:"selectedOptionIds"`
		AnswerText        string    `json:"answerText"`
		AnswerNumber      *float64  `json:"answerNumber"`
		ClientTimestamp   time.Time `json:"clientTimestamp"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperr.New(apperr.Invalid, "malformed submit_answer payload")
	}
	if p.ClientTimestamp.IsZero() {
		p.ClientTimestamp = time.Now()
	}
	outcome := coord.SubmitAnswer(ctx, participantID, domain.SubmittedAnswer{
		QuestionID:        p.QuestionID,
		SelectedOptionIDs: p.SelectedOptionIDs,
		AnswerText:        p.AnswerText,
		AnswerNumber:      p.AnswerNumber,
		ClientTimestamp:   p.ClientTimestamp,
	}, len(raw))
	if outcome.Rejected != nil {
		return outcome.Rejected
	}
	return nil
}

func dispatchFocusLost(ctx context.Context, coord *session.Coordinator, role domain.Role, participantID string) error {
	if role != domain.RoleParticipant {
		return apperr.New(apperr.InvalidRole, "focus_lost requires participant role")
	}
	coord.FocusLost(ctx, participantID, time.Now())
	return nil
}

func dispatchFocusRegained(ctx context.Context, coord *session.Coordinator, role domain.Role, participantID string, raw json.RawMessage) error {
	if role != domain.RoleParticipant {
		return apperr.New(apperr.InvalidRole, "focus_regained requires participant role")
	}
	var p struct {
		DurationMs int64 `json:"durationMs"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperr.New(apperr.Invalid, "malformed focus_regained payload")
	}
	coord.FocusRegained(ctx, participantID, time.Now(), p.DurationMs)
	return nil
}
