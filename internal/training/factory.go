package training

import (
	"context"

	"safemodel/internal/accountant"
	"safemodel/internal/policy"
	"safemodel/internal/snapshot"
	"safemodel/internal/snapshot/store"
	audit "safemodel/pkg/platform/audit"
	"safemodel/pkg/requestcontext"
)

// Factory creates sessions that share one policy, budget checker, and store,
// and registers them.
type Factory struct {
	policy   *policy.Policy
	checker  *accountant.Checker
	store    store.Store
	registry *Registry
	opts     []Option
}

func NewFactory(pol *policy.Policy, checker *accountant.Checker, st store.Store, registry *Registry, opts ...Option) *Factory {
	return &Factory{policy: pol, checker: checker, store: st, registry: registry, opts: opts}
}

// Create starts a session over a model holding the given layers and compiles
// the optimizer the policy selects.
func (f *Factory) Create(ctx context.Context, configs []map[string]any, weights [][]snapshot.Tensor, o policy.Overrides) (*Session, *MemoryModel, error) {
	model, err := NewMemoryModel(configs, weights)
	if err != nil {
		return nil, nil, err
	}
	sess, err := NewSession(model, f.policy, o, f.checker, f.store, f.opts...)
	if err != nil {
		return nil, nil, err
	}
	f.registry.Add(sess, model)

	sess.logger.InfoContext(ctx, "session created",
		"session_id", sess.ID(),
		"layers", len(configs),
		"request_id", requestcontext.RequestID(ctx),
	)
	sess.track(ctx, audit.EventSessionCreated, "")
	sess.Compile(ctx, sess.DefaultOptimizer())
	return sess, model, nil
}

// Policy returns the policy sessions are created under.
func (f *Factory) Policy() *policy.Policy { return f.policy }
