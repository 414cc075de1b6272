package domain

import (
	"time"

	"github.com/google/uuid"
)

// Activity type tags carried in CanonicalEvent.Event.Type. The first element
// is the semantic action; the tracker tags identify the event as
// tracker-originated.
const (
	ActionAdd             = "Add"
	ActionCreate          = "Create"
	ActionUpdate          = "Update"
	ActionLike            = "Like"
	ActionOffer           = "Offer"
	ActionAccept          = "Accept"
	ActionTentativeReject = "TentativeReject"

	TagArtifactCreation    = Namespace + "ArtifactCreation"
	TagArtifactInteraction = Namespace + "ArtifactInteraction"
	TagTracker             = Namespace + "Tracker"
)

// Image is an AS2 Link to an avatar or thumbnail.
type Image struct {
	Type string `json:"type"`
	Href string `json:"href"`
}

// Actor identifies the tracked person on whose behalf the event was observed.
type Actor struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Name  string `json:"name,omitempty"`
	URL   string `json:"url,omitempty"`
	Image *Image `json:"image,omitempty"`
}

// Target is the collection the remote activity happened in, usually the
// portal or repository URL.
type Target struct {
	ID   string   `json:"id"`
	Type []string `json:"type"`
	Name string   `json:"name,omitempty"`
}

// Item is one link inside the event object collection. The memento fields
// are only populated by portals that expose versioned resources.
type Item struct {
	Type             []string `json:"type"`
	Href             string   `json:"href"`
	OriginalResource string   `json:"OriginalResource,omitempty"`
	Memento          string   `json:"Memento,omitempty"`
	MementoDatetime  string   `json:"mementoDatetime,omitempty"`
}

// Object is the AS2 collection of artifacts the event describes.
type Object struct {
	Type       string `json:"type"`
	TotalItems int    `json:"totalItems"`
	Items      []Item `json:"items"`
}

// Provenance is one prov:used entry. Nested entries attribute tools (for
// example a feed-parsing library) used to consult the outer source.
type Provenance struct {
	ID   string       `json:"@id"`
	Used []Provenance `json:"prov:used,omitempty"`
}

// EventBody is the activity description inside a canonical event.
type EventBody struct {
	Actor       Actor    `json:"actor"`
	Target      Target   `json:"target"`
	Published   string   `json:"published"`
	Type        []string `json:"type"`
	Object      Object   `json:"object"`
	GeneratedAt string   `json:"prov:generatedAtTime"`
}

// ActivityProvenance lists the source API URLs consulted to produce the
// event. The first entry names the tracker itself and collects tool
// references under it.
type ActivityProvenance struct {
	Used []Provenance `json:"prov:used"`
}

// CanonicalEvent is the portal-agnostic representation of one piece of
// remote activity, serialized as a JSON-LD document and delivered to the
// downstream LDN inbox.
type CanonicalEvent struct {
	Context   []any              `json:"@context"`
	ID        string             `json:"id"`
	Event     EventBody          `json:"event"`
	Activity  ActivityProvenance `json:"activity"`
	LastToken string             `json:"tracker:lastToken,omitempty"`
}

var eventContext = []any{
	"https://www.w3.org/ns/activitystreams",
	map[string]string{
		"tracker": "https://scholarlyorphans.org/tracker#",
		"schema":  "https://schema.org/",
		"prov":    "http://www.w3.org/ns/prov#",
	},
}

// NewEvent returns a canonical event skeleton: fresh id under the event base
// URL, generated-at stamp, and the tracker provenance root that tool
// references nest under. Drivers fill in actor, target, published, type, and
// object, and append the consulted source URLs.
func NewEvent(eventBaseURL, portalName, lastToken string, now time.Time) CanonicalEvent {
	generated := now.UTC().Format(TimeLayout)
	return CanonicalEvent{
		Context: eventContext,
		ID:      eventBaseURL + uuid.NewString(),
		Event: EventBody{
			GeneratedAt: generated,
			Type:        []string{},
		},
		Activity: ActivityProvenance{
			Used: []Provenance{{
				ID:   "https://scholarlyorphans.org/tracker/" + portalName,
				Used: []Provenance{},
			}},
		},
		LastToken: lastToken,
	}
}

// AddSource records a consulted source API URL.
func (e *CanonicalEvent) AddSource(url string) {
	e.Activity.Used = append(e.Activity.Used, Provenance{ID: url})
}

// AddTool attributes a tool (library, parser) under the tracker provenance
// root.
func (e *CanonicalEvent) AddTool(url string) {
	e.Activity.Used[0].Used = append(e.Activity.Used[0].Used, Provenance{ID: url})
}

// PublishedTime parses the event's published stamp. False when unset or not
// in canonical form.
func (e CanonicalEvent) PublishedTime() (time.Time, bool) {
	if e.Event.Published == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(TimeLayout, e.Event.Published)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
