package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"safemodel/internal/optimizer"
	"safemodel/internal/training"
	id "safemodel/pkg/domain"
	dErrors "safemodel/pkg/domain-errors"
	"safemodel/pkg/platform/httputil"
	"safemodel/pkg/requestcontext"
)

// Handler wires session endpoints to training sessions.
type Handler struct {
	factory  *training.Factory
	registry *training.Registry
	logger   *slog.Logger
}

func New(factory *training.Factory, registry *training.Registry, logger *slog.Logger) *Handler {
	return &Handler{
		factory:  factory,
		registry: registry,
		logger:   logger,
	}
}

// Register mounts session endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/sessions", h.HandleCreate)
	r.Post("/sessions/{sessionID}/compile", h.HandleCompile)
	r.Post("/sessions/{sessionID}/epsilon", h.HandleEpsilon)
	r.Post("/sessions/{sessionID}/fit", h.HandleFit)
	r.Put("/sessions/{sessionID}/model", h.HandleReplaceModel)
	r.Get("/sessions/{sessionID}/provenance", h.HandleProvenance)
}

// HandleCreate handles POST /sessions.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[CreateSessionRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	configs, weights := splitLayers(req.Layers)
	sess, _, err := h.factory.Create(ctx, configs, weights, req.Parameters)
	if err != nil {
		h.fail(ctx, w, "create session failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, SessionResponse{
		SessionID:  sess.ID().String(),
		Optimizer:  sess.DefaultOptimizer().String(),
		Parameters: fromParameters(sess.Parameters()),
	})
}

// HandleCompile handles POST /sessions/{sessionID}/compile.
func (h *Handler) HandleCompile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entry, ok := h.lookup(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CompileRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	res := entry.Session.Compile(ctx, optimizer.Parse(req.Optimizer))
	httputil.WriteJSON(w, http.StatusOK, CompileResponse{
		Requested: res.Requested.String(),
		Bound:     res.Bound.String(),
		Message:   res.Message,
	})
}

// HandleEpsilon handles POST /sessions/{sessionID}/epsilon.
func (h *Handler) HandleEpsilon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entry, ok := h.lookup(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[EpsilonRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	report, err := entry.Session.CheckEpsilon(ctx, req.NumSamples, req.BatchSize, req.Epochs)
	if err != nil {
		h.fail(ctx, w, "epsilon check failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromReport(report))
}

// HandleFit handles POST /sessions/{sessionID}/fit.
func (h *Handler) HandleFit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entry, ok := h.lookup(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[FitRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	configs, weights := splitLayers(req.Layers)
	trainer := training.PushedFit{
		Model:       entry.Model,
		Configs:     configs,
		Weights:     weights,
		DPGradients: req.DPGradients,
	}
	res, err := entry.Session.Fit(ctx, trainer, training.FitRequest{
		NumSamples:    req.NumSamples,
		BatchSize:     req.BatchSize,
		Epochs:        req.Epochs,
		RefineEpsilon: req.RefineEpsilon,
	})
	if err != nil {
		h.fail(ctx, w, "fit failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromFitResult(res))
}

// HandleReplaceModel handles PUT /sessions/{sessionID}/model. It changes the
// live model without going through fit.
func (h *Handler) HandleReplaceModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entry, ok := h.lookup(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ModelRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	configs, weights := splitLayers(req.Layers)
	if err := entry.Model.Replace(configs, weights); err != nil {
		h.fail(ctx, w, "replace model failed", err)
		return
	}
	h.logger.WarnContext(ctx, "model replaced outside fit",
		"session_id", entry.Session.ID(),
		"request_id", requestcontext.RequestID(ctx),
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleProvenance handles GET /sessions/{sessionID}/provenance.
func (h *Handler) HandleProvenance(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.lookup(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromProvenance(entry.Session.Provenance()))
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (training.Entry, bool) {
	sid, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return training.Entry{}, false
	}
	entry, err := h.registry.Get(sid)
	if errors.Is(err, training.ErrSessionNotFound) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "session not found"))
		return training.Entry{}, false
	}
	if err != nil {
		httputil.WriteError(w, err)
		return training.Entry{}, false
	}
	return entry, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	h.logger.ErrorContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
