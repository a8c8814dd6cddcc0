package catalog

import (
	"encoding/json"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
)

// EventType describes one kind of business event endpoints can subscribe to.
type EventType struct {
	entity.Entity

	ID id.ID `json:"id"`

	// Name is the dot-separated event type name, e.g. "billing.invoice.paid".
	Name string `json:"name"`

	// Description explains when the event fires.
	Description string `json:"description,omitempty"`

	// Group is the producing subsystem (user, billing, agent, support, system).
	Group string `json:"group,omitempty"`

	// Schema is an optional JSON Schema for the event data. When set,
	// TriggerEvent rejects data that does not conform.
	Schema json.RawMessage `json:"schema,omitempty"`
}

// ListOpts filters catalog listings.
type ListOpts struct {
	Group string
}

// TestEventType is the synthetic type used by endpoint test deliveries.
const TestEventType = "system.test"

// DefaultEventTypes are the event types emitted by the platform subsystems.
var DefaultEventTypes = []EventType{
	{Name: "user.created", Group: "user", Description: "A user account was created."},
	{Name: "user.updated", Group: "user", Description: "A user profile changed."},
	{Name: "user.deleted", Group: "user", Description: "A user account was deleted."},
	{Name: "billing.invoice.created", Group: "billing", Description: "An invoice was issued."},
	{Name: "billing.invoice.paid", Group: "billing", Description: "An invoice was paid."},
	{Name: "billing.payment.failed", Group: "billing", Description: "A payment attempt failed."},
	{Name: "billing.subscription.updated", Group: "billing", Description: "A subscription changed plan or status."},
	{Name: "agent.created", Group: "agent", Description: "An agent was created."},
	{Name: "agent.run.completed", Group: "agent", Description: "An agent run finished successfully."},
	{Name: "agent.run.failed", Group: "agent", Description: "An agent run failed."},
	{Name: "support.ticket.created", Group: "support", Description: "A support ticket was opened."},
	{Name: "support.ticket.resolved", Group: "support", Description: "A support ticket was resolved."},
	{Name: TestEventType, Group: "system", Description: "Synthetic event sent by endpoint tests."},
}
