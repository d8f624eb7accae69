// Package audit implements the AuditLog (C7) collaborator: an append-only
// event sink recording security events and every state transition, per
// spec.md §6 and §7. Two backends are provided: a file-backed one for
// tests and small deployments, and a Kafka-backed one for production.
package audit

import "context"

// Event is one append-only audit record.
type Event struct {
	SessionID string
	Type      string // e.g. "session_started", "participant_banned", "join_rate_limited"
	Actor     string // participantId, hostId, or "system"
	At        int64  // unix millis
	// Payload carries redacted, event-specific fields (§7: "Security
	// events ... are recorded in the audit log with redacted payloads").
	Payload map[string]string
}

// AuditLog is the append-only event sink declared in spec.md §6.
// Implementations must preserve per-session ordering (§5: "Audit log:
// append-only; ordering within a session is preserved by enqueuing writes
// on the same session queue") — callers are expected to invoke Append only
// from the owning session's single-writer actor.
type AuditLog interface {
	Append(ctx context.Context, ev Event) error
	Close() error
}
