package store

import "context"

// SessionRecord is the durable projection of a Session (spec §3).
type SessionRecord struct {
	SessionID            string
	JoinCode             string
	QuizID               string
	State                string
	CurrentQuestionIndex int
	HostID               string
	AllowLateJoiners     bool
	CreatedAt            int64 // unix millis
	EndedAt              int64 // unix millis, 0 if not ended
}

// ParticipantRecord is the durable projection of a Participant (spec §3).
type ParticipantRecord struct {
	ParticipantID   string
	SessionID       string
	Nickname        string
	IPAddress       string
	IsActive        bool
	IsEliminated    bool
	IsBanned        bool
	TotalScore      int
	TotalTimeMs     int64
	StreakCount     int
	FocusLostCount  int
	FocusLostTimeMs int64
	JoinedAt        int64
	LastConnectedAt int64
}

// AnswerRecord is the durable projection of an Answer (spec §3).
type AnswerRecord struct {
	AnswerID        string
	SessionID       string
	ParticipantID   string
	QuestionID      string
	ResponseTimeMs  int64
	IsCorrect       bool
	PointsEarned    int
	SpeedBonus      int
	StreakBonus     int
	ServerReceivedAt int64
	Voided          bool
}

// DurableStore is the document-store collaborator declared in spec.md §6,
// covering the sessions/participants/answers collections this subsystem
// owns writes to (quizzes/audit_logs are owned by the declared external
// QuizStore/AuditLog collaborators). Writes are idempotent by primary key,
// per §5's shared-resource policy.
type DurableStore interface {
	PutSession(ctx context.Context, rec SessionRecord) error
	GetSession(ctx context.Context, sessionID string) (SessionRecord, bool, error)

	PutParticipant(ctx context.Context, rec ParticipantRecord) error
	GetParticipant(ctx context.Context, sessionID, participantID string) (ParticipantRecord, bool, error)
	ListParticipants(ctx context.Context, sessionID string) ([]ParticipantRecord, error)

	// PutAnswer upserts on (sessionId, participantId, questionId) per §6.
	PutAnswer(ctx context.Context, rec AnswerRecord) error
	GetAnswer(ctx context.Context, sessionID, participantID, questionID string) (AnswerRecord, bool, error)
	ListAnswersForQuestion(ctx context.Context, sessionID, questionID string) ([]AnswerRecord, error)

	Close() error
}
