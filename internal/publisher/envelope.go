package publisher

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sundayezeilo/linkservice/internal/shortener"
)

// Envelope is the JSON value written to the lifecycle topic. Exactly one of
// the payload fields is set, matching EventType.
type Envelope struct {
	EventType   string       `json:"event_type"`
	LinkCreated *LinkPayload `json:"link_created,omitempty"`
	LinkUpdated *LinkPayload `json:"link_updated,omitempty"`
	LinkDeleted *LinkPayload `json:"link_deleted,omitempty"`
}

// LinkPayload is the link snapshot carried by every event. Notes are never
// included.
type LinkPayload struct {
	LinkID    string     `json:"link_id"`
	OwnerID   string     `json:"owner_id"`
	Code      string     `json:"code"`
	TargetURL string     `json:"target_url,omitempty"`
	Title     string     `json:"title,omitempty"`
	Active    bool       `json:"active"`
	IsCustom  bool       `json:"is_custom"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func payloadFor(e shortener.Event) *LinkPayload {
	l := e.Link
	p := &LinkPayload{
		LinkID:    l.ID.String(),
		OwnerID:   l.OwnerID,
		Code:      l.Code,
		TargetURL: l.TargetURL,
		Active:    l.Active,
		IsCustom:  l.IsCustom,
		ExpiresAt: l.ExpiresAt,
	}
	if l.Title != nil {
		p.Title = *l.Title
	}
	if !l.CreatedAt.IsZero() {
		createdAt := l.CreatedAt.UTC()
		p.CreatedAt = &createdAt
	}
	if !l.UpdatedAt.IsZero() {
		updatedAt := l.UpdatedAt.UTC()
		p.UpdatedAt = &updatedAt
	}
	return p
}

// EncodeEvent builds the envelope for e and marshals it.
func EncodeEvent(e shortener.Event) ([]byte, error) {
	env := Envelope{EventType: string(e.Type)}
	payload := payloadFor(e)

	switch e.Type {
	case shortener.EventLinkCreated:
		env.LinkCreated = payload
	case shortener.EventLinkUpdated:
		env.LinkUpdated = payload
	case shortener.EventLinkDeleted:
		deletedAt := e.OccurredAt.UTC()
		payload.DeletedAt = &deletedAt
		env.LinkDeleted = payload
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}

	return json.Marshal(env)
}
