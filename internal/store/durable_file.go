package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileDurableStore is an append-only JSON-lines DurableStore, generalizing
// internal/core/store.go's Store (bufio.Scanner reload into an in-memory
// index, append-and-fsync writes) from a single scores.json file into three
// collections (sessions/participants/answers), each upserted by primary key
// via last-write-wins replay on load.
type FileDurableStore struct {
	mu sync.RWMutex

	sessionsFile     *os.File
	participantsFile *os.File
	answersFile      *os.File

	sessions     map[string]SessionRecord
	participants map[string]ParticipantRecord // key: sessionID+"/"+participantID
	answers      map[string]AnswerRecord      // key: sessionID+"/"+participantID+"/"+questionID
}

// NewFileDurableStore opens (or creates) the three collection files under
// dir and rebuilds the in-memory index from their contents.
func NewFileDurableStore(dir string) (*FileDurableStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir durable dir: %w", err)
	}

	s := &FileDurableStore{
		sessions:     make(map[string]SessionRecord),
		participants: make(map[string]ParticipantRecord),
		answers:      make(map[string]AnswerRecord),
	}

	var err error
	s.sessionsFile, err = openAppend(filepath.Join(dir, "sessions.jsonl"))
	if err != nil {
		return nil, err
	}
	s.participantsFile, err = openAppend(filepath.Join(dir, "participants.jsonl"))
	if err != nil {
		return nil, err
	}
	s.answersFile, err = openAppend(filepath.Join(dir, "answers.jsonl"))
	if err != nil {
		return nil, err
	}

	if err := loadIndex(s.sessionsFile, func(rec SessionRecord) { s.sessions[rec.SessionID] = rec }); err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	if err := loadIndex(s.participantsFile, func(rec ParticipantRecord) {
		s.participants[participantKey(rec.SessionID, rec.ParticipantID)] = rec
	}); err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	if err := loadIndex(s.answersFile, func(rec AnswerRecord) {
		s.answers[answerKey(rec.SessionID, rec.ParticipantID, rec.QuestionID)] = rec
	}); err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}

	return s, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
}

func loadIndex[T any](f *os.File, apply func(T)) error {
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(line, &rec); err != nil {
			continue // tolerate a partially written tail line
		}
		apply(rec)
	}
	return scanner.Err()
}

func appendLine(f *os.File, v any) error {
	enc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		return err
	}
	if _, err := f.Write(append(enc, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

func participantKey(sessionID, participantID string) string {
	return sessionID + "/" + participantID
}

func answerKey(sessionID, participantID, questionID string) string {
	return sessionID + "/" + participantID + "/" + questionID
}

func (s *FileDurableStore) PutSession(_ context.Context, rec SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := appendLine(s.sessionsFile, rec); err != nil {
		return err
	}
	s.sessions[rec.SessionID] = rec
	return nil
}

func (s *FileDurableStore) GetSession(_ context.Context, sessionID string) (SessionRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	return rec, ok, nil
}

func (s *FileDurableStore) PutParticipant(_ context.Context, rec ParticipantRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := appendLine(s.participantsFile, rec); err != nil {
		return err
	}
	s.participants[participantKey(rec.SessionID, rec.ParticipantID)] = rec
	return nil
}

func (s *FileDurableStore) GetParticipant(_ context.Context, sessionID, participantID string) (ParticipantRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.participants[participantKey(sessionID, participantID)]
	return rec, ok, nil
}

func (s *FileDurableStore) ListParticipants(_ context.Context, sessionID string) ([]ParticipantRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ParticipantRecord, 0)
	for _, rec := range s.participants {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *FileDurableStore) PutAnswer(_ context.Context, rec AnswerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := appendLine(s.answersFile, rec); err != nil {
		return err
	}
	s.answers[answerKey(rec.SessionID, rec.ParticipantID, rec.QuestionID)] = rec
	return nil
}

func (s *FileDurableStore) GetAnswer(_ context.Context, sessionID, participantID, questionID string) (AnswerRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.answers[answerKey(sessionID, participantID, questionID)]
	return rec, ok, nil
}

func (s *FileDurableStore) ListAnswersForQuestion(_ context.Context, sessionID, questionID string) ([]AnswerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AnswerRecord, 0)
	for _, rec := range s.answers {
		if rec.SessionID == sessionID && rec.QuestionID == questionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *FileDurableStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, f := range []*os.File{s.sessionsFile, s.participantsFile, s.answersFile} {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
