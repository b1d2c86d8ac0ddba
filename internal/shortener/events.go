package shortener

import (
	"context"
	"time"
)

type EventType string

const (
	EventLinkCreated EventType = "LinkCreated"
	EventLinkUpdated EventType = "LinkUpdated"
	EventLinkDeleted EventType = "LinkDeleted"
)

// Event is a lifecycle notification about one link. Link is a snapshot taken
// when the event was recorded; for deletes it is the pre-delete row.
type Event struct {
	Type          EventType
	Link          Link
	OccurredAt    time.Time
	CorrelationID string
}

// Key is the broker partition key. All events for one link share it.
func (e Event) Key() string {
	return e.Link.ID.String()
}

func linkCreatedEvent(link Link, correlationID string) Event {
	return Event{Type: EventLinkCreated, Link: link, OccurredAt: link.CreatedAt, CorrelationID: correlationID}
}

func linkUpdatedEvent(link Link, correlationID string) Event {
	return Event{Type: EventLinkUpdated, Link: link, OccurredAt: link.UpdatedAt, CorrelationID: correlationID}
}

func linkDeletedEvent(link Link, deletedAt time.Time, correlationID string) Event {
	return Event{Type: EventLinkDeleted, Link: link, OccurredAt: deletedAt, CorrelationID: correlationID}
}

// EventPublisher hands committed events to the broker. Publish must not
// block on broker I/O and never reports failure to the caller: by the time it
// runs the write is already durable.
type EventPublisher interface {
	Publish(ctx context.Context, events []Event)
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, []Event) {}
