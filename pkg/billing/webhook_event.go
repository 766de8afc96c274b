package billing

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is an append-only record of a provider callback. The
// (Provider, ProviderEventID) pair is globally unique, which turns
// at-least-once provider delivery into exactly-once processing: a
// conflicting insert means the event was already accepted.
//
// Rows are never deleted. After the initial insert only the processing
// bookkeeping fields change (Processed, ProcessedAt, Attempts, LastError,
// DeadLettered).
type WebhookEvent struct {
	ID              uuid.UUID
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte // raw provider envelope, kept for audit
	Normalized      []byte // normalized event JSON, used by the retry sweep
	Processed       bool
	ProcessedAt     *time.Time
	Attempts        int
	LastAttemptAt   *time.Time
	LastError       string
	DeadLettered    bool
	CreatedAt       time.Time
}
