package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is the append-only audit record of a provider callback.
type WebhookEvent struct {
	ID         uuid.UUID
	Provider   Provider
	EventID    string
	Payload    []byte
	Verified   bool
	Error      string
	ReceivedAt time.Time
}
