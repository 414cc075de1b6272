// Package queue moves sync jobs between the dispatcher and the workers over
// Kafka.
package queue

import (
	"example.com/tracker/internal/domain"
)

// Job is one unit of background work: run a single portal's driver for one
// or more credentials. Per-actor portals get one job per credential;
// batchable portals get one job carrying every credential from the
// notification.
type Job struct {
	ID           string                    `json:"job_id"`
	PortalName   string                    `json:"portal_name"`
	Users        []domain.PortalCredential `json:"users"`
	LDNInboxURL  string                    `json:"ldn_inbox_url"`
	EventBaseURL string                    `json:"event_base_url"`
}
