package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"safemodel/internal/release"
	"safemodel/internal/release/ports"
	"safemodel/internal/training"
	id "safemodel/pkg/domain"
	dErrors "safemodel/pkg/domain-errors"
	audit "safemodel/pkg/platform/audit"
	"safemodel/pkg/platform/httputil"
	"safemodel/pkg/requestcontext"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// Service defines the release operations the handler needs.
type Service interface {
	EvaluateRelease(ctx context.Context, sess ports.Session) (release.Decision, error)
	ExportRelease(ctx context.Context, sess ports.Session) (release.Export, error)
}

// AuditReader lists stored audit events.
type AuditReader interface {
	ListBySession(ctx context.Context, session id.SessionID) ([]audit.Event, error)
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

// Sessions resolves session IDs to live sessions.
type Sessions interface {
	Get(sid id.SessionID) (training.Entry, error)
}

// Handler wires release and audit endpoints to the release service.
type Handler struct {
	service  Service
	sessions Sessions
	audit    AuditReader
	logger   *slog.Logger
}

func New(service Service, sessions Sessions, auditReader AuditReader, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		sessions: sessions,
		audit:    auditReader,
		logger:   logger,
	}
}

// Register mounts release endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/sessions/{sessionID}/release", h.HandleEvaluate)
	r.Post("/sessions/{sessionID}/export", h.HandleExport)
	r.Get("/sessions/{sessionID}/audit", h.HandleSessionAudit)
	r.Get("/audit/recent", h.HandleRecentAudit)
}

// HandleEvaluate handles POST /sessions/{sessionID}/release.
func (h *Handler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	reviewer := requestcontext.ReviewerID(ctx)
	if reviewer.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	sid, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entry, err := h.sessions.Get(sid)
	if errors.Is(err, training.ErrSessionNotFound) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "session not found"))
		return
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	d, err := h.service.EvaluateRelease(ctx, entry.Session)
	if err != nil {
		h.logger.ErrorContext(ctx, "release evaluation failed",
			"request_id", requestID,
			"session_id", sid,
			"reviewer_id", reviewer,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "release evaluated",
		"request_id", requestID,
		"session_id", sid,
		"reviewer_id", reviewer,
		"safe_to_release", d.SafeToRelease,
		"check", d.Check,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromDecision(sid, d))
}

// HandleExport handles POST /sessions/{sessionID}/export. A blocked verdict is
// returned with 409 and no checkpoint is written.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	reviewer := requestcontext.ReviewerID(ctx)
	if reviewer.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	sid, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entry, err := h.sessions.Get(sid)
	if errors.Is(err, training.ErrSessionNotFound) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "session not found"))
		return
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	exp, err := h.service.ExportRelease(ctx, entry.Session)
	if err != nil {
		h.logger.ErrorContext(ctx, "model export failed",
			"request_id", requestID,
			"session_id", sid,
			"reviewer_id", reviewer,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if exp.Path == "" {
		status = http.StatusConflict
	}
	h.logger.InfoContext(ctx, "model export requested",
		"request_id", requestID,
		"session_id", sid,
		"reviewer_id", reviewer,
		"exported", exp.Path != "",
	)
	httputil.WriteJSON(w, status, FromExport(sid, exp))
}

// HandleSessionAudit handles GET /sessions/{sessionID}/audit.
func (h *Handler) HandleSessionAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if requestcontext.ReviewerID(ctx).IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	sid, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	events, err := h.audit.ListBySession(ctx, sid)
	if err != nil {
		h.logger.ErrorContext(ctx, "list audit events failed",
			"request_id", requestcontext.RequestID(ctx),
			"session_id", sid,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "list audit events"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEvents(events))
}

// HandleRecentAudit handles GET /audit/recent?limit=N.
func (h *Handler) HandleRecentAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if requestcontext.ReviewerID(ctx).IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxAuditLimit {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be between 1 and 500"))
			return
		}
		limit = n
	}
	events, err := h.audit.ListRecent(ctx, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "list recent audit events failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "list audit events"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEvents(events))
}
