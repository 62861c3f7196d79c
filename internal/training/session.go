// Package training wraps an opaque model and its training loop with the
// bookkeeping the release gate needs: the bound optimizer, the recorded DP
// parameters, the achieved epsilon, and the POST_FIT snapshot.
package training

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"safemodel/internal/accountant"
	"safemodel/internal/optimizer"
	"safemodel/internal/policy"
	"safemodel/internal/snapshot"
	"safemodel/internal/snapshot/store"
	id "safemodel/pkg/domain"
	dErrors "safemodel/pkg/domain-errors"
	audit "safemodel/pkg/platform/audit"
	"safemodel/pkg/requestcontext"
)

// Trainer runs the model's training loop with the bound optimizer. It must
// call Binding.MarkDPGradientsCalled when DP gradients are computed.
type Trainer interface {
	Fit(ctx context.Context, req FitRequest, b *optimizer.Binding) error
}

// FitRequest describes one training run. With RefineEpsilon set, the budget
// is checked and reported but the model is not trained.
type FitRequest struct {
	NumSamples    int
	BatchSize     int
	Epochs        int
	RefineEpsilon bool
}

// FitResult reports what a Fit call did.
type FitResult struct {
	Budget  accountant.Report
	Trained bool
	State   optimizer.State
	Message string
}

// CompileResult reports the optimizer actually bound by Compile.
type CompileResult struct {
	Requested optimizer.Identity
	Bound     optimizer.Identity
	Message   string
}

// OpsTracker receives routine audit events.
type OpsTracker interface {
	Track(event audit.OpsEvent)
}

// ComplianceEmitter persists events that must not be lost. A failed emit
// fails the operation that produced it.
type ComplianceEmitter interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

// Session is one model under the release gate. Its methods are serialised:
// a fit and a release capture never interleave.
type Session struct {
	id      id.SessionID
	model   snapshot.Model
	policy  *policy.Policy
	checker *accountant.Checker
	store   store.Store
	tracker *optimizer.Tracker
	logger  *slog.Logger
	ops     OpsTracker
	audit   ComplianceEmitter

	// defaultOptimizer is the optimizer the policy and overrides select.
	defaultOptimizer optimizer.Identity

	mu          sync.Mutex
	params      accountant.Parameters
	lastEpsilon float64
	fitted      bool

	// batchSubstituted is set while the recorded batch size is a substitute
	// for a requested zero.
	batchSubstituted bool
}

type Option func(*Session)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

func WithOpsTracker(t OpsTracker) Option {
	return func(s *Session) { s.ops = t }
}

func WithCompliance(e ComplianceEmitter) Option {
	return func(s *Session) { s.audit = e }
}

// WithID fixes the session ID instead of generating one.
func WithID(sid id.SessionID) Option {
	return func(s *Session) { s.id = sid }
}

// NewSession starts a session for model. Training parameters come from the
// policy defaults with overrides applied on top.
func NewSession(model snapshot.Model, pol *policy.Policy, overrides policy.Overrides,
	checker *accountant.Checker, st store.Store, opts ...Option) (*Session, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if pol == nil {
		return nil, fmt.Errorf("policy is required")
	}
	if checker == nil {
		return nil, fmt.Errorf("budget checker is required")
	}
	if st == nil {
		return nil, fmt.Errorf("snapshot store is required")
	}

	params, identity := pol.Resolve(overrides)
	if err := params.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		id:      id.NewSessionID(),
		model:   model,
		policy:  pol,
		checker: checker,
		store:   st,
		tracker: optimizer.NewTracker(),
		logger:  slog.Default(),
		params:  params,

		defaultOptimizer: identity,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Session) ID() id.SessionID { return s.id }

func (s *Session) DefaultOptimizer() optimizer.Identity { return s.defaultOptimizer }

// Parameters returns the currently recorded training parameters.
func (s *Session) Parameters() accountant.Parameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Compile binds an optimizer. When the policy enables substitution, non-DP
// choices are replaced by their DP variant and the returned message carries
// the disclosure warning.
func (s *Session) Compile(ctx context.Context, requested optimizer.Identity) CompileResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := CompileResult{Requested: requested, Bound: requested}
	if s.policy.SubstituteNonDPOptimizers {
		res.Bound, res.Message = optimizer.Resolve(requested)
	}
	s.tracker.Compile(res.Bound)

	if res.Message != "" {
		s.logger.WarnContext(ctx, "during compilation: "+res.Message,
			"session_id", s.id,
			"requested", requested,
			"bound", res.Bound,
		)
	}
	s.track(ctx, audit.EventOptimizerCompiled, res.Bound.String())
	return res
}

// CheckEpsilon records the training shape and computes the budget it spends.
func (s *Session) CheckEpsilon(ctx context.Context, numSamples, batchSize, epochs int) (accountant.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkLocked(ctx, numSamples, batchSize, epochs)
}

func (s *Session) checkLocked(ctx context.Context, numSamples, batchSize, epochs int) (accountant.Report, error) {
	params := s.params
	params.NumSamples, params.BatchSize, params.Epochs = numSamples, batchSize, epochs

	report, err := s.checker.Check(ctx, params)
	if err != nil {
		return accountant.Report{}, err
	}
	s.params = report.Parameters
	s.batchSubstituted = report.BatchSizeSubstituted
	s.lastEpsilon = report.Epsilon
	return report, nil
}

// Fit checks the budget and then trains. With RefineEpsilon it returns after
// the check without training.
func (s *Session) Fit(ctx context.Context, trainer Trainer, req FitRequest) (FitResult, error) {
	if trainer == nil {
		return FitResult{}, dErrors.New(dErrors.CodeInvalidInput, "trainer is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	binding := s.tracker.Binding()
	if binding == nil {
		return FitResult{}, dErrors.New(dErrors.CodeBadRequest, "compile an optimizer before fitting")
	}

	report, err := s.checkLocked(ctx, req.NumSamples, req.BatchSize, req.Epochs)
	if err != nil {
		return FitResult{}, err
	}
	if !report.Met {
		s.logger.WarnContext(ctx, report.Message, "session_id", s.id)
	}
	if req.RefineEpsilon {
		return FitResult{
			Budget:  report,
			State:   s.tracker.State(),
			Message: "not fitting the model: refine_epsilon was set",
		}, nil
	}

	// the trainer sees the substituted batch size, if any
	req.BatchSize = report.Parameters.BatchSize
	if err := trainer.Fit(ctx, req, binding); err != nil {
		return FitResult{}, fmt.Errorf("fit: %w", err)
	}

	state, err := s.fitCompleteLocked(ctx)
	if err != nil {
		return FitResult{}, err
	}
	return FitResult{Budget: report, Trained: true, State: state, Message: report.Message}, nil
}

// OnFitComplete records the end of a fit driven outside Fit: it advances the
// provenance state, stores the POST_FIT snapshot, and stores the provenance
// so later changes can be detected.
func (s *Session) OnFitComplete(ctx context.Context) (optimizer.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fitCompleteLocked(ctx)
}

func (s *Session) fitCompleteLocked(ctx context.Context) (optimizer.State, error) {
	// capture first: a model that cannot be captured must not advance provenance
	snap, err := snapshot.Capture(s.model, requestcontext.Now(ctx))
	if err != nil {
		return s.tracker.State(), err
	}
	state := s.tracker.FitCompleted()
	if err := s.store.Put(ctx, s.id, store.StagePostFit, snap); err != nil {
		return state, dErrors.Wrap(err, dErrors.CodeInternal, "store post-fit snapshot")
	}
	if err := s.store.PutProvenance(ctx, s.id, s.tracker.Provenance(s.lastEpsilon)); err != nil {
		return state, dErrors.Wrap(err, dErrors.CodeInternal, "store post-fit provenance")
	}
	s.fitted = true

	if s.audit != nil {
		if err := s.audit.Emit(ctx, audit.ComplianceEvent{
			Timestamp: requestcontext.Now(ctx),
			SessionID: s.id,
			Action:    string(audit.EventFitCompleted),
			Epsilon:   audit.Epsilon(s.lastEpsilon),
			Detail:    state.String(),
			RequestID: requestcontext.RequestID(ctx),
		}); err != nil {
			return state, err
		}
	}

	s.logger.InfoContext(ctx, "fit completed",
		"session_id", s.id,
		"snapshot_id", snap.ID(),
		"provenance", state.String(),
		"epsilon", s.lastEpsilon,
	)
	s.track(ctx, audit.EventSnapshotCaptured, string(store.StagePostFit))
	return state, nil
}

// State is a consistent view of a session taken for release evaluation.
type State struct {
	SessionID   id.SessionID
	PreRelease  snapshot.Snapshot
	Identity    optimizer.Identity
	AllowList   []optimizer.Identity
	DPConfirmed bool
	DPMessage   string
	Provenance  optimizer.Provenance
	Parameters  accountant.Parameters

	// BatchSizeSubstituted reports that Parameters.BatchSize replaces a
	// requested zero.
	BatchSizeSubstituted bool
	Fitted               bool
}

// ReleaseState captures the PRE_RELEASE snapshot and the live optimizer
// state under the session lock.
func (s *Session) ReleaseState(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := snapshot.Capture(s.model, requestcontext.Now(ctx))
	if err != nil {
		return State{}, err
	}
	confirmed, msg := s.tracker.Confirmed()
	return State{
		SessionID:   s.id,
		PreRelease:  snap,
		Identity:    s.tracker.Identity(),
		AllowList:   s.policy.AllowList(),
		DPConfirmed: confirmed,
		DPMessage:   msg,
		Provenance:  s.tracker.Provenance(s.lastEpsilon),
		Parameters:  s.params,
		Fitted:      s.fitted,

		BatchSizeSubstituted: s.batchSubstituted,
	}, nil
}

// Provenance is the live provenance record.
func (s *Session) Provenance() optimizer.Provenance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Provenance(s.lastEpsilon)
}

func (s *Session) track(ctx context.Context, action audit.AuditEvent, detail string) {
	if s.ops == nil {
		return
	}
	s.ops.Track(audit.OpsEvent{
		Timestamp: requestcontext.Now(ctx),
		SessionID: s.id,
		Action:    string(action),
		Detail:    detail,
		RequestID: requestcontext.RequestID(ctx),
	})
}
