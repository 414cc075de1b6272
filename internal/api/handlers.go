// Package api exposes the LDN inbox HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"example.com/tracker/internal/auth"
	"example.com/tracker/internal/dispatch"
	"example.com/tracker/internal/observability"
)

// InboxPath is the LDN inbox resource. Notifications are POSTed here.
const InboxPath = "/tracker/inbox/"

// linkHeader advertises the LDP container types of the inbox resource.
const linkHeader = `<http://www.w3.org/ns/ldp#Resource>; rel="type",` +
	`<http://www.w3.org/ns/ldp#RDFSource>; rel="type",` +
	`<http://www.w3.org/ns/ldp#Container>; rel="type",` +
	`<http://www.w3.org/ns/ldp#BasicContainer>; rel="type"`

// acceptedTypes are the payload media types the inbox consumes and serves.
var acceptedTypes = []string{
	"application/ld+json",
	`application/ld+json; profile="http://www.w3.org/ns/activitystreams"`,
	"json-ld",
}

// inboxDescription is the JSON-LD description of the inbox container served
// on GET.
var inboxDescription = map[string]any{
	"@context": map[string]string{"ldp": "http://www.w3.org/ns/ldp#"},
	"@id":      InboxPath,
	"@type": []string{
		"ldp:Resource",
		"ldp:RDFSource",
		"ldp:Container",
		"ldp:BasicContainer",
	},
}

// Dispatcher fans a parsed notification out into sync jobs.
type Dispatcher interface {
	Dispatch(ctx context.Context, note *dispatch.Notification) (int, error)
}

// Handler serves the LDN inbox endpoints.
type Handler struct {
	dispatcher Dispatcher
	logger     *log.Logger
}

// Option configures optional Handler behaviour.
type Option func(*Handler)

// WithLogger overrides the handler's logger.
func WithLogger(logger *log.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler builds a Handler around the dispatcher.
func NewHandler(dispatcher Dispatcher, opts ...Option) *Handler {
	h := &Handler{
		dispatcher: dispatcher,
		logger:     log.New(log.Writer(), "[inbox] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(InboxPath, h.inbox)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) inbox(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodHead, http.MethodOptions:
		h.describeInbox(w)
	case http.MethodGet:
		h.getInbox(w, r)
	case http.MethodPost:
		if r.URL.Path != InboxPath {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed",
				"notifications are posted to the inbox root")
			return
		}
		h.postInbox(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// describeInbox answers HEAD and OPTIONS with the discovery headers the LDN
// spec requires.
func (h *Handler) describeInbox(w http.ResponseWriter) {
	ldnHeaders(w)
	w.Header().Set("Accept-Post", "application/ld+json")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) getInbox(w http.ResponseWriter, r *http.Request) {
	accept := r.Header.Get("Accept")
	contentType := "application/ld+json"
	switch {
	case accept == "" || accept == "*/*" || strings.Contains(accept, "text/html"):
		// Browsers get the JSON-LD description too.
	case acceptable(accept):
		contentType = accept
	default:
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type",
			"requested format unavailable")
		return
	}

	ldnHeaders(w)
	w.Header().Set("Accept-Post", "application/ld+json, text/turtle")
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(inboxDescription); err != nil {
		h.logger.Printf("write inbox description: %v", err)
	}
}

// postInbox accepts an AS2 notification, validates it, and fans it out into
// sync jobs. The dispatcher only enqueues; it never waits for job results.
func (h *Handler) postInbox(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeInboxWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope inbox:write required")
		return
	}

	if !acceptable(r.Header.Get("Content-Type")) {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type",
			"content type not accepted")
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to read body")
		return
	}
	if len(payload) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "received empty payload")
		return
	}

	note, err := dispatch.ParseNotification(payload)
	if err != nil {
		if errors.Is(err, dispatch.ErrNoActors) {
			writeError(w, http.StatusBadRequest, "invalid_request",
				"cannot process payload: no actors described")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse payload")
		return
	}

	enqueued, err := h.dispatcher.Dispatch(r.Context(), note)
	if err != nil {
		if errors.Is(err, dispatch.ErrMissingTarget) {
			writeError(w, http.StatusBadRequest, "invalid_request",
				"notification lacks inbox or event base URL")
			return
		}
		h.logger.Printf("dispatch failed after %d job(s): %v", enqueued, err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not process payload")
		return
	}

	h.logger.Printf("notification accepted, %d job(s) enqueued", enqueued)
	observability.RecordNotificationAccepted(time.Now())
	ldnHeaders(w)
	w.Header().Set("Location", InboxPath)
	w.WriteHeader(http.StatusCreated)
}

func ldnHeaders(w http.ResponseWriter) {
	w.Header().Set("Allow", "GET, HEAD, OPTIONS, POST")
	w.Header().Set("Link", linkHeader)
}

func acceptable(contentType string) bool {
	for _, accepted := range acceptedTypes {
		if strings.Contains(contentType, accepted) {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
