package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/flowkeeper/enginecore/internal/engineerr"
	"github.com/flowkeeper/enginecore/services/instance"
	"github.com/flowkeeper/enginecore/services/installer"
	"github.com/flowkeeper/enginecore/services/nav"
	"github.com/flowkeeper/enginecore/services/storage"
)

// maxRequestBody limits request bodies to prevent abuse.
const maxRequestBody = 1 << 20 // 1MB

// HandleGetWorkflowSpec returns a previously-installed spec by code.
func (s *Service) HandleGetWorkflowSpec(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	code := mux.Vars(r)["code"]

	ws, err := s.storage.GetWorkflowSpec(r.Context(), code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErrorJSON(w, "NOT_FOUND", "workflow spec not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to get workflow spec", "code", code, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"code":        ws.Code,
		"name":        ws.Name,
		"description": ws.Description,
		"courseCount": len(ws.Courses),
	})
}

// HandleInstallWorkflowSpec installs the declarative map body as a new
// WorkflowSpec, rejecting a body whose course tree fails validation.
func (s *Service) HandleInstallWorkflowSpec(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var in installer.WorkflowInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		slog.Warn("failed to decode install body", "requestId", rid, "error", err)
		writeErrorJSON(w, "INVALID_BODY", "invalid request body", http.StatusBadRequest)
		return
	}

	ws, err := s.installer.Install(r.Context(), in)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateCode) {
			writeErrorJSON(w, "DUPLICATE_CODE", "workflow code already installed", http.StatusConflict)
			return
		}
		if kind, ok := engineerr.KindOf(err); ok {
			slog.Warn("workflow spec failed validation", "requestId", rid, "kind", kind, "error", err)
			writeErrorJSON(w, string(kind), err.Error(), http.StatusUnprocessableEntity)
			return
		}
		slog.Error("failed to install workflow spec", "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"code": ws.Code})
}

// startRequest is the body of HandleStartInstance: the document the new
// instance binds to.
type startRequest struct {
	ObjectID string `json:"objectId"`
}

// HandleStartInstance starts a new instance of the named workflow spec
// against a document.
func (s *Service) HandleStartInstance(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	code := mux.Vars(r)["code"]
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var body startRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrorJSON(w, "INVALID_BODY", "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	ws, err := s.storage.GetWorkflowSpec(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErrorJSON(w, "NOT_FOUND", "workflow spec not found", http.StatusNotFound)
			return
		}
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}

	doc, err := s.resolver.ResolveDocument(ctx, ws.DocumentType, body.ObjectID)
	if err != nil {
		writeErrorJSON(w, "NOT_FOUND", "document not found", http.StatusNotFound)
		return
	}
	user, err := s.resolver.ResolveUser(ctx, r)
	if err != nil {
		writeErrorJSON(w, "UNAUTHORIZED", "could not resolve user", http.StatusUnauthorized)
		return
	}

	wi, err := s.executor.Start(ctx, ws, doc, user)
	if err != nil {
		writeEngineError(w, rid, "failed to start workflow instance", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": wi.ID})
}

// HandleGetInstance returns a summary of an instance's root course state.
func (s *Service) HandleGetInstance(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeErrorJSON(w, "INVALID_ID", "invalid instance id", http.StatusBadRequest)
		return
	}

	wi, err := s.storage.GetWorkflowInstance(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErrorJSON(w, "NOT_FOUND", "instance not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to get workflow instance", "id", id, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}

	root, err := nav.RootCourse(wi)
	if err != nil {
		writeEngineError(w, rid, "failed to resolve root course", err)
		return
	}

	payload := map[string]any{"id": wi.ID, "workflowCode": wi.WorkflowSpec.Code}
	if root.Node != nil {
		payload["currentNode"] = root.Node.NodeSpec.Code
		payload["currentNodeType"] = string(root.Node.NodeSpec.Type)
	}
	writeJSON(w, http.StatusOK, payload)
}

// advanceRequest carries the course to advance (by dotted branch path,
// "" for the root) and the action name of the outbound transition to
// take.
type advanceRequest struct {
	CoursePath string `json:"coursePath"`
	ActionName string `json:"actionName"`
}

// HandleAdvance advances a course within an instance by action name.
func (s *Service) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	wi, body, ok := s.loadInstanceAndDecode(w, r, &advanceRequest{})
	if !ok {
		return
	}
	req := body.(*advanceRequest)

	ci, err := s.resolveCourse(wi, req.CoursePath)
	if err != nil {
		writeEngineError(w, rid, "course not found", err)
		return
	}

	ctx := r.Context()
	doc, err := s.resolver.ResolveDocument(ctx, wi.DocumentType, wi.ObjectID)
	if err != nil {
		writeErrorJSON(w, "NOT_FOUND", "document not found", http.StatusNotFound)
		return
	}
	user, err := s.resolver.ResolveUser(ctx, r)
	if err != nil {
		writeErrorJSON(w, "UNAUTHORIZED", "could not resolve user", http.StatusUnauthorized)
		return
	}

	if err := s.executor.Advance(ctx, ci, req.ActionName, doc, user); err != nil {
		writeEngineError(w, rid, "failed to advance course", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// cancelRequest carries the course to cancel (by dotted branch path).
type cancelRequest struct {
	CoursePath string `json:"coursePath"`
}

// HandleCancel cancels a course (and every running descendant) within an
// instance.
func (s *Service) HandleCancel(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	wi, body, ok := s.loadInstanceAndDecode(w, r, &cancelRequest{})
	if !ok {
		return
	}
	req := body.(*cancelRequest)

	ci, err := s.resolveCourse(wi, req.CoursePath)
	if err != nil {
		writeEngineError(w, rid, "course not found", err)
		return
	}

	ctx := r.Context()
	doc, err := s.resolver.ResolveDocument(ctx, wi.DocumentType, wi.ObjectID)
	if err != nil {
		writeErrorJSON(w, "NOT_FOUND", "document not found", http.StatusNotFound)
		return
	}
	user, err := s.resolver.ResolveUser(ctx, r)
	if err != nil {
		writeErrorJSON(w, "UNAUTHORIZED", "could not resolve user", http.StatusUnauthorized)
		return
	}

	if err := s.executor.Cancel(ctx, ci, doc, user); err != nil {
		writeEngineError(w, rid, "failed to cancel course", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// joinRequest carries the branch course to terminate via JOINED.
type joinRequest struct {
	CoursePath string `json:"coursePath"`
}

// HandleJoin terminates a single branch course via its JOINED node —
// the HTTP-facing counterpart of a SPLIT's joiner callable invoking
// Join on one branch directly, rather than waiting for it to finish on
// its own.
func (s *Service) HandleJoin(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	wi, body, ok := s.loadInstanceAndDecode(w, r, &joinRequest{})
	if !ok {
		return
	}
	req := body.(*joinRequest)

	ci, err := s.resolveCourse(wi, req.CoursePath)
	if err != nil {
		writeEngineError(w, rid, "course not found", err)
		return
	}

	ctx := r.Context()
	doc, err := s.resolver.ResolveDocument(ctx, wi.DocumentType, wi.ObjectID)
	if err != nil {
		writeErrorJSON(w, "NOT_FOUND", "document not found", http.StatusNotFound)
		return
	}
	user, err := s.resolver.ResolveUser(ctx, r)
	if err != nil {
		writeErrorJSON(w, "UNAUTHORIZED", "could not resolve user", http.StatusUnauthorized)
		return
	}

	if err := s.executor.Join(ctx, ci, doc, user); err != nil {
		writeEngineError(w, rid, "failed to join course", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// resolveCourse finds wi's root course and descends coursePath from it.
func (s *Service) resolveCourse(wi *instance.WorkflowInstance, coursePath string) (*instance.CourseInstance, error) {
	root, err := nav.RootCourse(wi)
	if err != nil {
		return nil, err
	}
	return nav.FindCourse(root, coursePath)
}

// loadInstanceAndDecode is the shared prologue of Advance/Cancel/Join:
// parse the instance id, load it, and decode the request body into dst.
func (s *Service) loadInstanceAndDecode(w http.ResponseWriter, r *http.Request, dst any) (*instance.WorkflowInstance, any, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeErrorJSON(w, "INVALID_ID", "invalid instance id", http.StatusBadRequest)
		return nil, nil, false
	}

	wi, err := s.storage.GetWorkflowInstance(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErrorJSON(w, "NOT_FOUND", "instance not found", http.StatusNotFound)
			return nil, nil, false
		}
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return nil, nil, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErrorJSON(w, "INVALID_BODY", "invalid request body", http.StatusBadRequest)
		return nil, nil, false
	}

	return wi, dst, true
}

// writeJSON writes a 2xx JSON payload.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeErrorJSON writes a structured JSON error response with a
// machine-readable code and a human-readable message.
func writeErrorJSON(w http.ResponseWriter, errCode, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"code": errCode, "message": message})
}

// writeEngineError maps an *engineerr.Error to an HTTP status: permission
// denials to 403, structural/spec errors to 422, anything unrecognized to
// 500 after logging.
func writeEngineError(w http.ResponseWriter, rid, context string, err error) {
	kind, ok := engineerr.KindOf(err)
	if !ok {
		slog.Error(context, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}

	switch kind {
	case engineerr.KindWorkflowCreateDenied,
		engineerr.KindWorkflowCourseCancelDeniedByWorkflow,
		engineerr.KindWorkflowCourseCancelDeniedByCourse,
		engineerr.KindWorkflowCourseAdvanceDeniedByNode,
		engineerr.KindWorkflowCourseAdvanceDeniedByTransition:
		writeErrorJSON(w, string(kind), err.Error(), http.StatusForbidden)
	default:
		writeErrorJSON(w, string(kind), err.Error(), http.StatusUnprocessableEntity)
	}
}
