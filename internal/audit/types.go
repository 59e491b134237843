// Package audit records every authorization decision and security-relevant
// event to an append-only local trail, rotates segments by size, archives
// rotated segments with compression and a content hash, and forwards entries
// to external sinks best-effort. The local trail is the durability backstop.
package audit

import (
	"context"
	"time"
)

type EventType string

const (
	EventDataAccess     EventType = "data_access"
	EventHarmfulContent EventType = "harmful_content"
	EventSecurity       EventType = "security_event"
	EventPIIExposure    EventType = "pii_exposure"
)

// Actor identifies who performed the audited action.
type Actor struct {
	SubjectID string `json:"subject_id"`
	Role      string `json:"role"`
}

// Entry is one audit record. Entries are append-only: once written they are
// never mutated or deleted by the running process.
type Entry struct {
	EntryID   string            `json:"entry_id"`
	Seq       uint64            `json:"seq"`
	Timestamp time.Time         `json:"timestamp"`
	EventType EventType         `json:"event_type"`
	Actor     Actor             `json:"actor"`
	Resource  string            `json:"resource,omitempty"`
	Purpose   string            `json:"purpose,omitempty"`
	Outcome   string            `json:"outcome,omitempty"`
	Severity  string            `json:"severity,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Sink is an external destination for audit entries. Delivery failures are the
// sink's caller's problem to retry; a sink itself should do one attempt.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e Entry) error
}
