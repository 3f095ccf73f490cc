package domain

import "time"

// AuditAction labels an entry in the append-only session audit log.
type AuditAction string

const (
	AuditCreated          AuditAction = "created"
	AuditAdvanced         AuditAction = "advanced"
	AuditReverted         AuditAction = "reverted"
	AuditJumped           AuditAction = "jumped"
	AuditReconciled       AuditAction = "reconciled"
	AuditCorruptDiscarded AuditAction = "corrupt_discarded"
)

// AuditEntry records a single mutation applied to a session.
type AuditEntry struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Action    AuditAction `json:"action"`
	Step      StepRef     `json:"step"`
	Answer    string      `json:"answer,omitempty"` // JSON snapshot of the accepted answer
	CreatedAt time.Time   `json:"created_at"`
}
