// Package domain defines the core model shared by the dispatcher, the portal
// drivers, and the inbox publisher.
package domain

import (
	"strings"
	"time"
)

// Namespace is the JSON-LD prefix used for tracker-owned vocabulary in
// notifications and canonical events.
const Namespace = "tracker:"

// TimeLayout is the canonical timestamp format: UTC, second precision.
const TimeLayout = "2006-01-02T15:04:05Z"

// PortalCredential carries everything a driver needs to sync one actor on one
// portal. It is transient: it arrives inside a notification, rides along in
// the job payload, and is never persisted here except for its cursor fields.
type PortalCredential struct {
	ActorID     string `json:"id"`
	Name        string `json:"name"`
	Username    string `json:"username,omitempty"`
	UserID      string `json:"userId,omitempty"`
	PortalURL   string `json:"portalUrl,omitempty"`
	APIKey      string `json:"apiKey,omitempty"`
	APISecret   string `json:"apiSecret,omitempty"`
	OAuthToken  string `json:"oauthToken,omitempty"`
	OAuthSecret string `json:"oauthSecret,omitempty"`

	// LastTracked is the timestamp cursor in TimeLayout format.
	// LastToken is the opaque cursor; its semantics are portal-specific
	// (ETag, since_id, API offset).
	LastTracked string `json:"lastTracked,omitempty"`
	LastToken   string `json:"lastToken,omitempty"`
}

// LastTrackedTime parses the timestamp cursor. The zero time and false are
// returned when the cursor is absent or malformed.
func (c PortalCredential) LastTrackedTime() (time.Time, bool) {
	if c.LastTracked == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(TimeLayout, c.LastTracked)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// CredentialFromNamespaced builds a PortalCredential from a notification
// credential block whose keys carry the tracker namespace prefix, attaching
// the owning actor id.
func CredentialFromNamespaced(fields map[string]any, actorID string) PortalCredential {
	cred := PortalCredential{ActorID: actorID}
	for key, value := range fields {
		str, _ := value.(string)
		switch strings.TrimPrefix(key, Namespace) {
		case "name":
			cred.Name = str
		case "username":
			cred.Username = str
		case "userId":
			cred.UserID = str
		case "portalUrl":
			cred.PortalURL = str
		case "apiKey":
			cred.APIKey = str
		case "apiSecret":
			cred.APISecret = str
		case "oauthToken":
			cred.OAuthToken = str
		case "oauthSecret":
			cred.OAuthSecret = str
		case "lastTracked":
			cred.LastTracked = str
		case "lastToken":
			cred.LastToken = str
		}
	}
	return cred
}
