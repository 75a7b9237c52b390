package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/sygfp/spendchain/internal/workflow"
)

// NotificationPublisher publishes chain transition events to NATS for the
// notifications service.
//
// Subject convention: notifications.chain.<event_type>
// Event types: document_submitted, validation_required, document_validated,
//              document_rejected, document_deferred, document_signed,
//              document_paid, dossier_closed
//
// All publish operations are non-fatal — errors are logged but never
// propagated, so notification failures never interrupt a transition.
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType     string    `json:"event_type"`
	DocumentID    string    `json:"document_id"`
	DocumentKind  string    `json:"document_kind"`
	Numero        string    `json:"numero"`
	FromStatus    string    `json:"from_status"`
	ToStatus      string    `json:"to_status"`
	Action        string    `json:"action"`
	ActorID       string    `json:"actor_id"`
	EffectiveID   string    `json:"effective_actor_id"`
	Justification *string   `json:"justification,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. A nil connection disables publishing.
func NewNotificationPublisher(conn *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, log: log}
}

// TransitionOccurred publishes the committed transition.
// Implements workflow.Notifier.
func (p *NotificationPublisher) TransitionOccurred(ctx context.Context, doc *workflow.Document, event *workflow.TransitionEvent) {
	if p.conn == nil {
		return
	}

	eventType := eventTypeFor(event.Action, event.ToStatus)
	payload := &NotificationEvent{
		EventType:     eventType,
		DocumentID:    doc.ID,
		DocumentKind:  string(doc.Kind),
		Numero:        doc.Numero,
		FromStatus:    string(event.FromStatus),
		ToStatus:      string(event.ToStatus),
		Action:        string(event.Action),
		ActorID:       event.ActorID,
		EffectiveID:   event.EffectiveActorID,
		Justification: event.Justification,
		OccurredAt:    event.OccurredAt,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.chain.%s", eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("document_id", doc.ID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("document_id", doc.ID).
		Str("numero", doc.Numero).
		Msg("notification: event published")
}

// eventTypeFor maps a committed transition onto the notification taxonomy.
func eventTypeFor(action workflow.Action, to workflow.Status) string {
	switch action {
	case workflow.ActionSubmit, workflow.ActionResubmit:
		return "document_submitted"
	case workflow.ActionReject:
		return "document_rejected"
	case workflow.ActionDefer:
		return "document_deferred"
	case workflow.ActionSign:
		return "document_signed"
	case workflow.ActionPay:
		return "document_paid"
	case workflow.ActionClose:
		return "dossier_closed"
	}
	if workflow.IsValidated(to) {
		return "document_validated"
	}
	// Validation advanced to an intermediate visa step.
	return "validation_required"
}
