// Package httpapi is the HTTP surface over the engine: installing specs,
// starting/advancing/cancelling/joining instances. Grounded on the
// teacher's services/workflow (service.go + workflow.go) — same router
// shape, middleware, and JSON error envelope, generalized from a single
// workflow-DAG resource to the engine's spec/instance split.
package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/flowkeeper/enginecore/services/callables"
	"github.com/flowkeeper/enginecore/services/executor"
	"github.com/flowkeeper/enginecore/services/instance"
	"github.com/flowkeeper/enginecore/services/installer"
	"github.com/flowkeeper/enginecore/services/permission"
	"github.com/flowkeeper/enginecore/services/storage"
)

type contextKey string

const requestIDKey contextKey = "requestID"

// Service wires the HTTP layer to the engine's three entry points:
// installing specs, and running the executor against instances.
type Service struct {
	storage   storage.Storage
	installer *installer.Installer
	executor  *executor.Engine
	resolver  DocumentResolver
}

// DocumentResolver loads the instance.Document/instance.User pair an
// incoming request names, keeping the HTTP layer ignorant of the host
// application's concrete document and user models (spec.md §1 "external
// collaborators").
type DocumentResolver interface {
	ResolveDocument(ctx context.Context, documentType, objectID string) (instance.Document, error)
	ResolveUser(ctx context.Context, r *http.Request) (instance.User, error)
}

// NewService creates a Service. All arguments are required.
func NewService(store storage.Storage, registry *callables.Registry, gate *permission.Gate, resolver DocumentResolver) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("httpapi: store cannot be nil")
	}
	return &Service{
		storage:   store,
		installer: installer.New(store, registry),
		executor:  executor.New(store, gate, registry),
		resolver:  resolver,
	}, nil
}

// requestIDMiddleware assigns a unique ID to each request for log
// correlation, reusing an inbound X-Request-ID if present.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// jsonMiddleware sets the Content-Type header to application/json.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// LoadRoutes registers the engine's routes under parentRouter.
func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.PathPrefix("/").Subrouter()
	router.StrictSlash(false)
	router.Use(requestIDMiddleware)
	router.Use(jsonMiddleware)

	router.HandleFunc("/workflows/{code}", s.HandleGetWorkflowSpec).Methods("GET")
	router.HandleFunc("/workflows/{code}/install", s.HandleInstallWorkflowSpec).Methods("POST")
	router.HandleFunc("/workflows/{code}/instances", s.HandleStartInstance).Methods("POST")

	router.HandleFunc("/instances/{id}", s.HandleGetInstance).Methods("GET")
	router.HandleFunc("/instances/{id}/advance", s.HandleAdvance).Methods("POST")
	router.HandleFunc("/instances/{id}/cancel", s.HandleCancel).Methods("POST")
	router.HandleFunc("/instances/{id}/join", s.HandleJoin).Methods("POST")
}

// reqID extracts the request ID from context (set by requestIDMiddleware).
func reqID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}
