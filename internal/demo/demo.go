// Package demo provides stub implementations of the host-supplied
// collaborators (permission.Oracle, httpapi.DocumentResolver) the engine
// needs but never defines itself — used by main.go when no real host
// application is wired in, the same role the teacher's pkg/clients stub
// clients (email.StubClient, sms.StubClient) play for local development.
package demo

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/flowkeeper/enginecore/services/instance"
)

// AllowAllOracle grants every permission check, logging each decision.
// Never use this against a real host application.
type AllowAllOracle struct{}

func (AllowAllOracle) HasPermission(_ context.Context, user instance.User, permission string, doc instance.Document) (bool, error) {
	slog.Debug("permission check (stub: allow all)", "permission", permission, "user", user.UserID(), "document", doc.ObjectID())
	return true, nil
}

// Document is a minimal in-memory instance.Document.
type Document struct {
	Type string
	ID   string
}

func (d Document) DocumentType() string { return d.Type }
func (d Document) ObjectID() string     { return d.ID }

// User is a minimal in-memory instance.User.
type User struct {
	ID string
}

func (u User) UserID() string { return u.ID }

// Registry is an in-memory instance.Document store keyed by
// (documentType, objectID), used by MapResolver.
type Registry struct {
	mu    sync.Mutex
	byKey map[string]Document
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]Document)}
}

// Put registers a document so MapResolver.ResolveDocument can find it.
func (r *Registry) Put(doc Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[doc.Type+"\x00"+doc.ID] = doc
}

// MapResolver implements httpapi.DocumentResolver against a Registry and
// a fixed demo user taken from the X-Demo-User header, falling back to
// "anonymous".
type MapResolver struct {
	Registry *Registry
}

func NewMapResolver(registry *Registry) *MapResolver {
	return &MapResolver{Registry: registry}
}

func (m *MapResolver) ResolveDocument(_ context.Context, documentType, objectID string) (instance.Document, error) {
	m.Registry.mu.Lock()
	defer m.Registry.mu.Unlock()
	doc, ok := m.Registry.byKey[documentType+"\x00"+objectID]
	if !ok {
		return nil, fmt.Errorf("demo: no document registered for %s/%s", documentType, objectID)
	}
	return doc, nil
}

func (m *MapResolver) ResolveUser(_ context.Context, r *http.Request) (instance.User, error) {
	id := r.Header.Get("X-Demo-User")
	if id == "" {
		id = "anonymous"
	}
	return User{ID: id}, nil
}
