// Package ids centralizes identifier generation so every entity id in the
// system (sessionId, participantId, answerId) is produced the same way.
package ids

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// NewSessionID returns a new random session identifier.
func NewSessionID() string { return uuid.NewString() }

// NewParticipantID returns a new random participant identifier.
func NewParticipantID() string { return uuid.NewString() }

// NewAnswerID returns a new random answer identifier.
func NewAnswerID() string { return uuid.NewString() }

const joinCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewJoinCode returns a 6-character A-Z/0-9 join code, per spec §3.
func NewJoinCode() (string, error) {
	var sb strings.Builder
	sb.Grow(6)
	max := big.NewInt(int64(len(joinCodeAlphabet)))
	for i := 0; i < 6; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(joinCodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}
