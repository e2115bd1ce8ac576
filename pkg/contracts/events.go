package contracts

import (
	"encoding/json"
	"time"
)

// EventType names the state transitions that fan out to webhooks and the
// audit journal.
type EventType string

const (
	EventProposalCreated       EventType = "proposal.created"
	EventProposalAcknowledged  EventType = "proposal.acknowledged"
	EventProposalApproved      EventType = "proposal.approved"
	EventProposalRejected      EventType = "proposal.rejected"
	EventProposalWithdrawn     EventType = "proposal.withdrawn"
	EventProposalExpired       EventType = "proposal.expired"
	EventProposalForceApproved EventType = "proposal.force_approved"
	EventContractPublished     EventType = "contract.published"
)

// WebhookEvent is the outbound envelope. Payload shape is event-specific;
// approved and force_approved share a shape and differ only in Event.
type WebhookEvent struct {
	Event     EventType `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// DeliveryStatus is the state of one webhook delivery attempt sequence.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// WebhookDelivery is the persisted record of one outbound notification.
type WebhookDelivery struct {
	ID             string          `json:"id"`
	EventType      EventType       `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	TargetURL      string          `json:"target_url"`
	Status         DeliveryStatus  `json:"status"`
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"last_error,omitempty"`
	LastStatusCode int             `json:"last_status_code,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// AuditEvent is one append-only journal row. Observability only; writes are
// best-effort and never fail the primary operation.
type AuditEvent struct {
	ID         string         `json:"id"`
	Event      EventType      `json:"event"`
	ActorID    string         `json:"actor_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
