package store_test

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"safemodel/internal/optimizer"
	"safemodel/internal/snapshot"
	"safemodel/internal/snapshot/store"
	id "safemodel/pkg/domain"
	dErrors "safemodel/pkg/domain-errors"
	"safemodel/pkg/platform/sentinel"
)

// ContractSuite holds the behaviour every backend must share. Backend suites
// embed it and set Store in SetupTest.
type ContractSuite struct {
	suite.Suite
	Store store.Store
}

func contractSnapshot(bias float64) snapshot.Snapshot {
	snap, err := snapshot.New(
		[]map[string]any{
			{"name": "dense", "units": 3, "kernel_initializer": map[string]any{"seed": nil}},
			{"name": "out", "rate": 0.1},
		},
		[][]snapshot.Tensor{
			{{Shape: []int{2, 3}, Data: []float64{1, math.Copysign(0, -1), math.NaN(), math.Inf(1), 1e-310, bias}}},
			{{Shape: []int{}, Data: []float64{0.5}}},
		},
		time.Date(2026, 2, 3, 4, 5, 6, 7, time.UTC),
	)
	if err != nil {
		panic(err)
	}
	return snap
}

func (s *ContractSuite) TestPutGetIsExact() {
	ctx := context.Background()
	sid := id.NewSessionID()
	snap := contractSnapshot(0.1)

	s.Require().NoError(s.Store.Put(ctx, sid, store.StagePostFit, snap))
	got, err := s.Store.Get(ctx, sid, store.StagePostFit)
	s.Require().NoError(err)

	s.Equal(snap.ID(), got.ID())
	same, msg := snapshot.CompareWeights(snap, got)
	s.True(same, msg)
	same, msg = snapshot.CompareConfigs(snap, got)
	s.True(same, msg)
}

func (s *ContractSuite) TestPutReplaces() {
	ctx := context.Background()
	sid := id.NewSessionID()

	s.Require().NoError(s.Store.Put(ctx, sid, store.StagePreRelease, contractSnapshot(1)))
	second := contractSnapshot(2)
	s.Require().NoError(s.Store.Put(ctx, sid, store.StagePreRelease, second))

	got, err := s.Store.Get(ctx, sid, store.StagePreRelease)
	s.Require().NoError(err)
	s.Equal(second.ID(), got.ID())
}

func (s *ContractSuite) TestStagesAndSessionsAreIndependent() {
	ctx := context.Background()
	a, b := id.NewSessionID(), id.NewSessionID()
	s.Require().NoError(s.Store.Put(ctx, a, store.StagePostFit, contractSnapshot(1)))

	_, err := s.Store.Get(ctx, a, store.StagePreRelease)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.Store.Get(ctx, b, store.StagePostFit)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ContractSuite) TestInvalidKeys() {
	ctx := context.Background()
	err := s.Store.Put(ctx, id.SessionID{}, store.StagePostFit, contractSnapshot(0))
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	_, err = s.Store.Get(ctx, id.NewSessionID(), store.Stage("final"))
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ContractSuite) TestProvenanceRoundTrip() {
	ctx := context.Background()
	sid := id.NewSessionID()

	_, err := s.Store.GetProvenance(ctx, sid)
	s.ErrorIs(err, sentinel.ErrNotFound)

	for _, eps := range []float64{97.34711, math.Inf(1), math.Nextafter(1.857, 2)} {
		p := optimizer.Provenance{
			Identity:       optimizer.DPKerasAdamOptimizer,
			ConfiguredAsDP: true,
			InvokedAsDP:    true,
			Rationale:      optimizer.MsgDPRun,
			Epsilon:        eps,
		}
		s.Require().NoError(s.Store.PutProvenance(ctx, sid, p))
		got, err := s.Store.GetProvenance(ctx, sid)
		s.Require().NoError(err)
		s.True(p.Equal(got), "epsilon %v", eps)
	}
}

func (s *ContractSuite) TestConcurrentSessions() {
	ctx := context.Background()
	const n = 16
	sids := make([]id.SessionID, n)
	for i := range sids {
		sids[i] = id.NewSessionID()
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i, sid := range sids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Store.Put(ctx, sid, store.StagePostFit, contractSnapshot(float64(i))); err != nil {
				errs <- fmt.Errorf("session %d: %w", i, err)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}

	for i, sid := range sids {
		got, err := s.Store.Get(ctx, sid, store.StagePostFit)
		s.Require().NoError(err)
		same, msg := snapshot.CompareWeights(contractSnapshot(float64(i)), got)
		s.True(same, msg)
	}
}
