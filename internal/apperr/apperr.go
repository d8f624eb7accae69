// Package apperr defines the stable, client-visible error taxonomy shared by
// every outbound auth_error / answer_rejected / recovery_failed / error event.
package apperr

import "fmt"

// Code is a closed enum of the external error codes clients may observe.
type Code string

const (
	SessionNotFound    Code = "SESSION_NOT_FOUND"
	SessionEnded       Code = "SESSION_ENDED"
	SessionExpired     Code = "SESSION_EXPIRED"
	SessionStarted     Code = "SESSION_STARTED"
	ParticipantNotFound Code = "PARTICIPANT_NOT_FOUND"
	ParticipantBanned  Code = "PARTICIPANT_BANNED"
	InvalidJoinCode    Code = "INVALID_JOIN_CODE"
	ProfanityDetected  Code = "PROFANITY_DETECTED"
	NicknameTaken      Code = "NICKNAME_TAKEN"
	RateLimited        Code = "RATE_LIMITED"
	MissingToken       Code = "MISSING_TOKEN"
	ExpiredToken       Code = "EXPIRED_TOKEN"
	InvalidRole        Code = "INVALID_ROLE"
	Unauthorized       Code = "UNAUTHORIZED"
	Invalid            Code = "INVALID"
	TimeExpired        Code = "TIME_EXPIRED"
	AlreadySubmitted   Code = "ALREADY_SUBMITTED"
	InvalidQuestion    Code = "INVALID_QUESTION"
	Internal           Code = "INTERNAL"
)

// Error is the single struct backing every client-visible error event.
// RetryAfter is only populated for RateLimited.
type Error struct {
	Code       Code
	Message    string
	RetryAfter float64 // seconds, 0 if not applicable
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New constructs an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithRetryAfter returns a copy of e carrying the given retry-after duration.
func (e *Error) WithRetryAfter(seconds float64) *Error {
	out := *e
	out.RetryAfter = seconds
	return &out
}

// As extracts an *Error from err, returning (nil, false) for any other error.
func As(err error) (*Error, bool) {
	ae, ok := err.(*Error)
	return ae, ok
}
