// Package domain defines the shared entity types of spec.md §3 — Session,
// Participant, Question, Answer, and the derived leaderboard entry — used
// across every component so the wire and storage layers agree on shape.
package domain

import "time"

// SessionState is the session lifecycle state machine of spec.md §4.1.
type SessionState string

const (
	StateLobby          SessionState = "LOBBY"
	StateActiveQuestion SessionState = "ACTIVE_QUESTION"
	StateReveal         SessionState = "REVEAL"
	StateEnded          SessionState = "ENDED"
)

// ExamSettings groups the exam-mode toggles of spec.md §3.
type ExamSettings struct {
	NegativeMarkingEnabled    bool
	NegativeMarkingPercentage float64
	FocusMonitoringEnabled    bool
	SkipReveal                bool
}

// Session is the in-memory, authoritative session state a SessionCoordinator
// owns, per spec.md §3.
type Session struct {
	SessionID              string
	JoinCode                string
	QuizID                  string
	State                   SessionState
	CurrentQuestionIndex    int // -1 before first question
	CurrentQuestionID       string
	QuestionStartTime       time.Time
	TimerEndTime            time.Time
	ParticipantCount        int
	ActiveParticipants      map[string]struct{}
	EliminatedParticipants  map[string]struct{}
	VoidedQuestions         map[string]struct{}
	AllowLateJoiners        bool
	ExamSettings            ExamSettings
	HostID                  string
	CreatedAt               time.Time
	EndedAt                 time.Time
}

// Role identifies the kind of client attached to a session's connection
// fan-out, per spec.md §4.8.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleController  Role = "controller"
	RoleBigscreen   Role = "bigscreen"
	RoleTester      Role = "tester"
)

// Participant is a playing (or spectating/eliminated) client, per spec §3.
type Participant struct {
	ParticipantID   string
	SessionID       string
	Nickname        string
	SocketID        string
	IPAddress       string
	Token           string
	IsActive        bool
	IsEliminated    bool
	IsBanned        bool
	TotalScore      int
	TotalTimeMs     int64
	StreakCount     int
	FocusLostCount  int
	FocusLostTimeMs int64
	JoinedAt        time.Time
	LastConnectedAt time.Time
}

// QuestionType enumerates the supported answer shapes, per spec §3.
type QuestionType string

const (
	QuestionMultipleChoice      QuestionType = "MULTIPLE_CHOICE"
	QuestionMultipleChoiceMulti QuestionType = "MULTIPLE_CHOICE_MULTI"
	QuestionTrueFalse           QuestionType = "TRUE_FALSE"
	QuestionNumberInput         QuestionType = "NUMBER_INPUT"
	QuestionOpenEnded           QuestionType = "OPEN_ENDED"
)

// Option is one selectable answer choice of a Question.
type Option struct {
	ID              string
	Text            string
	IsCorrect       bool
	Tolerance       float64 // for NUMBER_INPUT, via the question's own target
	AcceptedAnswers []string
}

// ScoringRule groups the point parameters of a Question, per spec §3/§4.4.
type ScoringRule struct {
	BasePoints           int
	SpeedBonusMultiplier float64
	PartialCreditEnabled bool
}

// Question is the read-only-within-a-session quiz question, per spec §3.
type Question struct {
	QuestionID      string
	QuestionText    string
	QuestionType    QuestionType
	Options         []Option
	TimeLimitSec    int
	ShuffleOptions  bool
	Scoring         ScoringRule
	ExplanationText string
	// TargetNumber/Tolerance are used by NUMBER_INPUT questions.
	TargetNumber float64
	Tolerance    float64
	// AcceptedAnswers is used by OPEN_ENDED questions.
	AcceptedAnswers []string
}

// SubmittedAnswer is the raw inbound submit_answer payload, per spec §6.
type SubmittedAnswer struct {
	QuestionID        string
	SelectedOptionIDs []string
	AnswerText        string
	AnswerNumber      *float64
	ClientTimestamp   time.Time
}

// Answer is the persisted, scored answer record, per spec §3.
type Answer struct {
	AnswerID         string
	SessionID        string
	ParticipantID    string
	QuestionID       string
	SelectedOptionIDs []string
	AnswerText       string
	AnswerNumber     *float64
	ClientTimestamp  time.Time
	ServerReceivedAt time.Time
	ResponseTimeMs   int64
	IsCorrect        bool
	PointsEarned     int
	SpeedBonus       int
	StreakBonus      int
}

// LeaderboardEntry is the derived, ranked view of spec.md §3/§4.5.
type LeaderboardEntry struct {
	ParticipantID    string
	Nickname         string
	TotalScore       int
	TotalTimeMs      int64
	StreakCount      int
	Rank             int
	LastQuestionScore int
}
