package httpapi

import (
	"sync"

	"github.com/quizsync/engine/internal/session"
)

// QuizCatalog resolves a quizId to the question set a new session plays
// through. Quiz authoring and persistence is the declared-external
// QuizStore collaborator (spec.md §1 Non-goals: "Quiz authoring/CMS ...
// assumed to already exist"); StaticCatalog is the minimal seam this
// repository needs to exercise session creation without owning that
// store.
type QuizCatalog interface {
	GetQuiz(quizID string) (session.Quiz, bool)
}

// StaticCatalog is an in-memory QuizCatalog, loaded once at startup from
// whatever process seeds it (a config file, a fixture, or a call into the
// external QuizStore at boot).
type StaticCatalog struct {
	mu     sync.RWMutex
	quizzes map[string]session.Quiz
}

// NewStaticCatalog constructs an empty catalog.
func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{quizzes: make(map[string]session.Quiz)}
}

// Put registers or replaces a quiz.
func (c *StaticCatalog) Put(quiz session.Quiz) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quizzes[quiz.QuizID] = quiz
}

// GetQuiz resolves quizID.
func (c *StaticCatalog) GetQuiz(quizID string) (session.Quiz, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quizzes[quizID]
	return q, ok
}
