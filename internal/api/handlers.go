package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/mamasecure/scanstore/pkg/classify"
	"github.com/mamasecure/scanstore/pkg/identity"
	"github.com/mamasecure/scanstore/pkg/scan"
	"github.com/mamasecure/scanstore/pkg/session"
)

// UserHeader carries the caller's identity. Requests without it use the
// guest namespace.
const UserHeader = "X-User"

const maxBodyBytes = 1 << 20

type (
	namespaceKey   struct{}
	openWarningKey struct{}
)

// Handler serves the session and scan endpoints. It keeps one scan pipeline
// per namespace on top of the manager's stores.
type Handler struct {
	manager    *session.Manager
	classifier classify.Classifier
	scanOpts   []scan.Option
	limiter    *RateLimiter

	mu        sync.Mutex
	pipelines map[string]*scan.Pipeline
	retired   []*scan.Pipeline
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithScanOptions passes opts to every pipeline the handler creates.
func WithScanOptions(opts ...scan.Option) HandlerOption {
	return func(h *Handler) {
		h.scanOpts = append(h.scanOpts, opts...)
	}
}

// WithRateLimit throttles scan submissions per namespace. A non-positive
// rate disables the limit.
func WithRateLimit(perSecond float64, burst int) HandlerOption {
	return func(h *Handler) {
		if perSecond > 0 {
			h.limiter = NewRateLimiter(perSecond, burst)
		}
	}
}

// NewHandler creates a handler backed by manager and classifier.
func NewHandler(manager *session.Manager, classifier classify.Classifier, opts ...HandlerOption) *Handler {
	h := &Handler{
		manager:    manager,
		classifier: classifier,
		pipelines:  make(map[string]*scan.Pipeline),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// IdentityMiddleware resolves the namespace for the request from UserHeader.
func (h *Handler) IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.Header.Get(UserHeader)
		ns := identity.Resolve(identity.User{Name: name, Authenticated: name != ""})
		ctx := context.WithValue(r.Context(), namespaceKey{}, ns)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func namespaceFrom(ctx context.Context) string {
	if ns, ok := ctx.Value(namespaceKey{}).(string); ok {
		return ns
	}
	return identity.Namespace("")
}

// StoreMiddleware opens the caller's store and attaches it to the request
// context. Corrupt or unreachable storage ends the request here; a
// persistence warning travels with the request instead.
func (h *Handler) StoreMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, err := h.manager.Open(r.Context(), namespaceFrom(r.Context()))
		if err != nil && !session.IsWarning(err) {
			writeError(w, err)
			return
		}
		ctx := session.ContextWithStore(r.Context(), st)
		if err != nil {
			ctx = context.WithValue(ctx, openWarningKey{}, err)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// openWarning returns the persistence warning raised while opening the
// request's store, if any.
func openWarning(ctx context.Context) error {
	err, _ := ctx.Value(openWarningKey{}).(error)
	return err
}

// pipeline returns the scan pipeline for the request's store. A pipeline
// whose store was replaced is retired, not dropped, so Close still waits
// for its jobs.
func (h *Handler) pipeline(ctx context.Context) (*scan.Pipeline, error) {
	st, ok := session.StoreFromContext(ctx)
	if !ok {
		return nil, session.ErrStoreNotInContext
	}
	ns := namespaceFrom(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.pipelines[ns]
	if !ok || p.Store() != st {
		if ok {
			h.retired = append(h.retired, p)
		}
		p = scan.NewPipeline(st, h.classifier, h.scanOpts...)
		h.pipelines[ns] = p
	}
	return p, openWarning(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type sessionSummary struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	ScanCount int    `json:"scan_count"`
	Active    bool   `json:"active"`
}

type sessionListResponse struct {
	Namespace string           `json:"namespace"`
	ActiveID  string           `json:"active_id"`
	Sessions  []sessionSummary `json:"sessions"`
	Warning   string           `json:"warning,omitempty"`
}

type sessionResponse struct {
	session.Session
	Active  bool   `json:"active"`
	Warning string `json:"warning,omitempty"`
}

func listResponse(st *session.Store, warning error) sessionListResponse {
	active := st.ActiveID()
	sessions := st.Sessions()
	resp := sessionListResponse{
		Namespace: st.Namespace(),
		ActiveID:  active,
		Sessions:  make([]sessionSummary, 0, len(sessions)),
		Warning:   warningText(warning),
	}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, sessionSummary{
			ID:        s.ID,
			Label:     s.Label,
			ScanCount: len(s.Scans),
			Active:    s.ID == active,
		})
	}
	return resp
}

func (h *Handler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	st := session.MustStoreFromContext(r.Context())
	writeJSON(w, http.StatusOK, listResponse(st, openWarning(r.Context())))
}

func (h *Handler) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := session.MustStoreFromContext(r.Context()).CreateSession(r.Context())
	if err != nil && !session.IsWarning(err) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Session: sess, Active: true, Warning: warningText(err)})
}

func (h *Handler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	st := session.MustStoreFromContext(r.Context())
	sess, err := st.Session(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: sess, Active: sess.ID == st.ActiveID()})
}

type renameRequest struct {
	Label string `json:"label"`
}

func (h *Handler) RenameSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	st := session.MustStoreFromContext(r.Context())
	id := chi.URLParam(r, "id")
	err := st.RenameSession(r.Context(), id, req.Label)
	if err != nil && !session.IsWarning(err) {
		writeError(w, err)
		return
	}
	sess, lookupErr := st.Session(id)
	if lookupErr != nil {
		writeError(w, lookupErr)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: sess, Active: id == st.ActiveID(), Warning: warningText(err)})
}

func (h *Handler) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	st := session.MustStoreFromContext(r.Context())
	err := st.DeleteSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil && !session.IsWarning(err) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(st, err))
}

func (h *Handler) ActivateSessionHandler(w http.ResponseWriter, r *http.Request) {
	st := session.MustStoreFromContext(r.Context())
	if err := st.SetActive(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(st, nil))
}

type scanRequest struct {
	Input string `json:"input"`
	// SessionID targets a specific session instead of the active one.
	SessionID string `json:"session_id,omitempty"`
	// Wait holds the response until the verdict is recorded.
	Wait bool `json:"wait,omitempty"`
}

type scanResponse struct {
	SessionID string              `json:"session_id"`
	Status    string              `json:"status"`
	Record    *session.ScanRecord `json:"record,omitempty"`
	Warning   string              `json:"warning,omitempty"`
}

func (h *Handler) SubmitScanHandler(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.pipeline(r.Context())
	if p == nil {
		writeError(w, err)
		return
	}

	// A detached job keeps running after the 202 is written.
	ctx := r.Context()
	if !req.Wait {
		ctx = context.WithoutCancel(ctx)
	}

	var job *scan.Job
	if req.SessionID != "" {
		job, err = p.SubmitTo(ctx, req.SessionID, req.Input)
	} else {
		job, err = p.Submit(ctx, req.Input)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "input is required", Code: "empty_input"})
		return
	}

	if !req.Wait {
		writeJSON(w, http.StatusAccepted, scanResponse{SessionID: job.SessionID(), Status: "pending"})
		return
	}

	result, err := job.Wait(r.Context())
	if err != nil && !session.IsWarning(err) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scanResponse{
		SessionID: job.SessionID(),
		Status:    "recorded",
		Record:    &session.ScanRecord{Input: job.Input(), Result: result},
		Warning:   warningText(err),
	})
}

type batchRequest struct {
	Inputs []string `json:"inputs"`
}

type batchResponse struct {
	Results []session.ScanResult `json:"results"`
	Warning string               `json:"warning,omitempty"`
}

func (h *Handler) SubmitBatchHandler(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.pipeline(r.Context())
	if p == nil {
		writeError(w, err)
		return
	}

	results, err := p.SubmitBatch(r.Context(), req.Inputs)
	if err != nil && !session.IsWarning(err) {
		writeError(w, err)
		return
	}
	if len(results) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "inputs are required", Code: "empty_input"})
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{Results: results, Warning: warningText(err)})
}

func (h *Handler) ResetHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.manager.Reset(r.Context(), namespaceFrom(r.Context()))
	if err != nil && !session.IsWarning(err) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(st, err))
}

// Close stops every pipeline and waits for in-flight scans.
func (h *Handler) Close(ctx context.Context) error {
	h.mu.Lock()
	pipelines := make([]*scan.Pipeline, 0, len(h.pipelines)+len(h.retired))
	pipelines = append(pipelines, h.retired...)
	for _, p := range h.pipelines {
		pipelines = append(pipelines, p)
	}
	h.mu.Unlock()

	var errs []error
	for _, p := range pipelines {
		if err := p.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body: " + err.Error(), Code: "bad_request"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, session.ErrLastSession):
		status, code = http.StatusConflict, "last_session"
	case session.IsCorrupt(err):
		code = "corrupt"
	case errors.Is(err, session.ErrInvalidPathComponent):
		status, code = http.StatusBadRequest, "invalid_user"
	case errors.Is(err, scan.ErrScanDropped):
		status, code = http.StatusGone, "dropped"
	case errors.Is(err, scan.ErrPipelineClosed), errors.Is(err, session.ErrStorageClosed):
		status, code = http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, "cancelled"
	}
	if status == http.StatusInternalServerError {
		log.Printf("[API] Request failed: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func warningText(err error) string {
	if err == nil || !session.IsWarning(err) {
		return ""
	}
	log.Printf("[API] WARNING: %v", err)
	return err.Error()
}
