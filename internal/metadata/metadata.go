// ABOUTME: OAuth protected-resource metadata document and its HTTP handler
// ABOUTME: Serves unauthenticated discovery data telling clients how to obtain a token

package metadata

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// WellKnownPath is the fixed path the metadata document is served on.
const WellKnownPath = "/.well-known/oauth-protected-resource"

// Document is the OAuth 2.0 Protected Resource Metadata (RFC 9728).
// It is static configuration data, never derived from the request.
type Document struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
}

// Publisher serves the protected-resource metadata document.
type Publisher struct {
	doc    Document
	body   []byte
	logger *slog.Logger
}

// NewPublisher builds a publisher for the given resource identifier,
// authorization server base URLs, and advertised scope strings.
//
// The scope strings are informational for delegated-user flows; the gateway
// enforces its caller allowlist, never scopes.
func NewPublisher(resource string, authorizationServers, scopes []string, logger *slog.Logger) (*Publisher, error) {
	if resource == "" {
		return nil, errors.New("resource identifier is required")
	}
	if len(authorizationServers) == 0 {
		return nil, errors.New("at least one authorization server is required")
	}
	if len(scopes) == 0 {
		return nil, errors.New("at least one scope is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	doc := Document{
		Resource:               strings.TrimRight(resource, "/"),
		AuthorizationServers:   authorizationServers,
		ScopesSupported:        scopes,
		BearerMethodsSupported: []string{"header"},
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	return &Publisher{
		doc:    doc,
		body:   body,
		logger: logger.With("component", "metadata"),
	}, nil
}

// Document returns the served metadata document.
func (p *Publisher) Document() Document {
	return p.doc
}

// URL returns the absolute URL of the metadata document for the given base.
func (p *Publisher) URL() string {
	return p.doc.Resource + WellKnownPath
}

// ServeHTTP answers GET requests with the pre-encoded document. The endpoint
// is reachable without authentication: it is how a client with no token yet
// discovers where to get one.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if _, err := w.Write(p.body); err != nil {
		p.logger.Warn("failed to write metadata response", "error", err)
	}
}
