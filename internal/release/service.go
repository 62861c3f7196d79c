// Package release decides whether a trained model may leave the trusted
// research environment.
package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"safemodel/internal/checkpoint"
	"safemodel/internal/optimizer"
	"safemodel/internal/release/metrics"
	"safemodel/internal/release/ports"
	"safemodel/internal/snapshot"
	"safemodel/internal/snapshot/store"
	id "safemodel/pkg/domain"
	dErrors "safemodel/pkg/domain-errors"
	audit "safemodel/pkg/platform/audit"
	"safemodel/pkg/platform/sentinel"
	"safemodel/pkg/requestcontext"
)

const storeTimeout = 5 * time.Second

// Service evaluates release requests: it captures PRE_RELEASE, loads what was
// recorded after fit, runs the engine, and audits the verdict.
type Service struct {
	engine  *Engine
	store   ports.SnapshotStore
	audit   ports.AuditPort
	logger  *slog.Logger
	metrics *metrics.Metrics

	// checkpointDir receives exported models; export is off when empty.
	checkpointDir string

	// evaluating holds one *sync.Mutex per session so evaluations of the
	// same session do not interleave their PRE_RELEASE writes.
	evaluating sync.Map
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithCheckpointDir enables ExportRelease, writing checkpoints under dir.
func WithCheckpointDir(dir string) Option {
	return func(s *Service) { s.checkpointDir = dir }
}

func NewService(engine *Engine, st ports.SnapshotStore, auditor ports.AuditPort, opts ...Option) (*Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if st == nil {
		return nil, fmt.Errorf("snapshot store is required")
	}
	if auditor == nil {
		return nil, fmt.Errorf("audit publisher is required")
	}
	s := &Service{
		engine: engine,
		store:  st,
		audit:  auditor,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// postFit is what was recorded when the last fit completed.
type postFit struct {
	snapshot   *snapshot.Snapshot
	provenance *optimizer.Provenance
}

// EvaluateRelease runs the release protocol for sess. Storage failures other
// than a missing record are returned as errors; a missing POST_FIT record is
// a blocking decision.
func (s *Service) EvaluateRelease(ctx context.Context, sess ports.Session) (Decision, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveEvaluateLatency(time.Since(start)) }()

	if sess == nil {
		return Decision{}, dErrors.New(dErrors.CodeInvalidInput, "session is required")
	}
	ctx, span := otel.Tracer("safemodel/release").Start(ctx, "release.EvaluateRelease",
		trace.WithAttributes(attribute.String("session_id", sess.ID().String())))
	defer span.End()

	d, err := s.evaluate(ctx, sess)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluation failed")
		s.logger.ErrorContext(ctx, "release evaluation failed",
			"session_id", sess.ID(),
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return Decision{}, err
	}
	span.SetAttributes(
		attribute.Bool("safe_to_release", d.SafeToRelease),
		attribute.String("check", string(d.Check)),
		attribute.String("reason", string(d.Reason)),
	)
	return d, nil
}

func (s *Service) sessionLock(sid id.SessionID) *sync.Mutex {
	mu, _ := s.evaluating.LoadOrStore(sid, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *Service) evaluate(ctx context.Context, sess ports.Session) (Decision, error) {
	sid := sess.ID()
	mu := s.sessionLock(sid)
	mu.Lock()
	defer mu.Unlock()

	state, err := sess.ReleaseState(ctx)
	if err != nil {
		return Decision{}, dErrors.Wrap(err, dErrors.CodeInternal, "capture pre-release snapshot")
	}

	putStart := time.Now()
	if err := s.store.Put(ctx, sid, store.StagePreRelease, state.PreRelease); err != nil {
		return Decision{}, dErrors.Wrap(err, dErrors.CodeInternal, "store pre-release snapshot")
	}
	s.metrics.ObserveStoreLatency("put_pre_release", time.Since(putStart))

	recorded, err := s.loadPostFit(ctx, sess)
	if err != nil {
		return Decision{}, dErrors.Wrap(err, dErrors.CodeInternal, "load post-fit record")
	}

	d, err := s.engine.Evaluate(Input{
		PostFit:          recorded.snapshot,
		PreRelease:       state.PreRelease,
		Identity:         state.Identity,
		AllowList:        state.AllowList,
		DPConfirmed:      state.DPConfirmed,
		DPMessage:        state.DPMessage,
		StoredProvenance: recorded.provenance,
		LiveProvenance:   state.Provenance,
		Parameters:       state.Parameters,
		Now:              requestcontext.Now(ctx),

		BatchSizeSubstituted: state.BatchSizeSubstituted,
	})
	if err != nil {
		return Decision{}, err
	}
	if d.PreReleaseFingerprint, err = snapshot.Fingerprint(state.PreRelease); err != nil {
		return Decision{}, dErrors.Wrap(err, dErrors.CodeInternal, "fingerprint pre-release snapshot")
	}
	if recorded.snapshot != nil {
		if d.PostFitFingerprint, err = snapshot.Fingerprint(*recorded.snapshot); err != nil {
			return Decision{}, dErrors.Wrap(err, dErrors.CodeInternal, "fingerprint post-fit snapshot")
		}
	}

	outcome := "blocked"
	if d.SafeToRelease {
		outcome = "allowed"
	}
	s.metrics.IncrementOutcome(outcome, string(d.Check))
	if d.Epsilon != nil {
		s.metrics.ObserveEpsilon(*d.Epsilon)
	}

	if err := s.audit.Emit(ctx, audit.ComplianceEvent{
		Timestamp: d.EvaluatedAt,
		SessionID: sid,
		Action:    string(audit.EventReleaseEvaluated),
		Decision:  outcome,
		Reason:    string(d.Reason),
		Check:     string(d.Check),
		Epsilon:   epsilonOf(d),
		Detail:    d.Message,
		RequestID: requestcontext.RequestID(ctx),
		ActorID:   reviewer(ctx),

		PreReleaseFingerprint: d.PreReleaseFingerprint,
		PostFitFingerprint:    d.PostFitFingerprint,
	}); err != nil {
		return Decision{}, err
	}

	s.logger.InfoContext(ctx, "release evaluated",
		"session_id", sid,
		"request_id", requestcontext.RequestID(ctx),
		"outcome", outcome,
		"check", d.Check,
		"reason", d.Reason,
	)
	return d, nil
}

// loadPostFit fetches the POST_FIT snapshot and provenance concurrently.
// Missing records come back nil; any other failure cancels both fetches.
func (s *Service) loadPostFit(ctx context.Context, sess ports.Session) (postFit, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	var out postFit
	sid := sess.ID()

	g.Go(func() error {
		start := time.Now()
		snap, err := s.store.Get(ctx, sid, store.StagePostFit)
		s.metrics.ObserveStoreLatency("get_post_fit", time.Since(start))
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out.snapshot = &snap
		return nil
	})

	g.Go(func() error {
		start := time.Now()
		prov, err := s.store.GetProvenance(ctx, sid)
		s.metrics.ObserveStoreLatency("get_provenance", time.Since(start))
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out.provenance = &prov
		return nil
	})

	if err := g.Wait(); err != nil {
		return postFit{}, err
	}
	return out, nil
}

// Export is the outcome of ExportRelease. Path is empty when the release was
// blocked.
type Export struct {
	Decision    Decision
	Path        string
	Fingerprint string
}

// ExportRelease re-evaluates sess and, when release is allowed, writes the
// POST_FIT snapshot as a checkpoint named after the session. The written file
// is read back and must fingerprint to the snapshot the verdict compared.
func (s *Service) ExportRelease(ctx context.Context, sess ports.Session) (Export, error) {
	if s.checkpointDir == "" {
		return Export{}, dErrors.New(dErrors.CodeConflict, "checkpoint export is not configured")
	}
	d, err := s.EvaluateRelease(ctx, sess)
	if err != nil {
		return Export{}, err
	}
	if !d.SafeToRelease {
		return Export{Decision: d}, nil
	}

	sid := sess.ID()
	post, err := s.store.Get(ctx, sid, store.StagePostFit)
	if err != nil {
		return Export{}, dErrors.Wrap(err, dErrors.CodeInternal, "load post-fit snapshot")
	}
	path := filepath.Join(s.checkpointDir, sid.String()+checkpoint.Suffix)
	if err := checkpoint.Save(post, path); err != nil {
		return Export{}, dErrors.Wrap(err, dErrors.CodeInternal, "save checkpoint")
	}
	written, err := checkpoint.Load(path)
	if err != nil {
		return Export{}, dErrors.Wrap(err, dErrors.CodeInternal, "read back checkpoint")
	}
	fp, err := snapshot.Fingerprint(written)
	if err != nil {
		return Export{}, dErrors.Wrap(err, dErrors.CodeInternal, "fingerprint checkpoint")
	}
	if fp != d.PostFitFingerprint {
		return Export{}, dErrors.New(dErrors.CodeConflict, "post-fit snapshot changed during export")
	}

	if err := s.audit.Emit(ctx, audit.ComplianceEvent{
		Timestamp:          requestcontext.Now(ctx),
		SessionID:          sid,
		Action:             string(audit.EventModelExported),
		Decision:           "allowed",
		Epsilon:            epsilonOf(d),
		Detail:             path,
		RequestID:          requestcontext.RequestID(ctx),
		ActorID:            reviewer(ctx),
		PostFitFingerprint: fp,
	}); err != nil {
		return Export{}, err
	}
	s.logger.InfoContext(ctx, "model exported",
		"session_id", sid,
		"path", path,
		"fingerprint", fp,
	)
	return Export{Decision: d, Path: path, Fingerprint: fp}, nil
}

func epsilonOf(d Decision) *float64 {
	if d.Epsilon == nil {
		return nil
	}
	return audit.Epsilon(*d.Epsilon)
}

func reviewer(ctx context.Context) string {
	rid := requestcontext.ReviewerID(ctx)
	if rid.IsNil() {
		return ""
	}
	return rid.String()
}
