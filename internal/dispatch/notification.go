// Package dispatch turns inbound notifications into background sync jobs.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"

	"example.com/tracker/internal/domain"
)

var (
	// ErrNoActors is returned when the notification describes nobody.
	ErrNoActors = errors.New("notification describes no actors")
	// ErrMissingTarget is returned when the delivery target or event base
	// URL is absent; nothing is enqueued in that case.
	ErrMissingTarget = errors.New("notification lacks inbox or event base URL")
)

// Notification is the inbound AS2 message announcing that actors linked
// portal accounts. Only the fields the dispatcher consumes are modeled.
type Notification struct {
	Event struct {
		To           string `json:"to"`
		EventBaseURL string `json:"tracker:eventBaseUrl"`
		Object       struct {
			Describes []actorBlock `json:"describes"`
		} `json:"object"`
	} `json:"event"`
}

type actorBlock struct {
	ID      string `json:"id"`
	Portals struct {
		Items []struct {
			Portal map[string]any `json:"tracker:portal"`
		} `json:"items"`
	} `json:"tracker:portals"`
}

// ParseNotification decodes and validates a notification payload.
func ParseNotification(payload []byte) (*Notification, error) {
	var note Notification
	if err := json.Unmarshal(payload, &note); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	if len(note.Event.Object.Describes) == 0 {
		return nil, ErrNoActors
	}
	return &note, nil
}

// credentials flattens the notification into one PortalCredential per
// actor/portal pair, stripping the namespace prefix from field names and
// attaching the actor id.
func (n *Notification) credentials() []domain.PortalCredential {
	var creds []domain.PortalCredential
	for _, actor := range n.Event.Object.Describes {
		for _, item := range actor.Portals.Items {
			if len(item.Portal) == 0 {
				continue
			}
			creds = append(creds, domain.CredentialFromNamespaced(item.Portal, actor.ID))
		}
	}
	return creds
}
