package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service,AuditReader

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"safemodel/internal/accountant"
	"safemodel/internal/policy"
	"safemodel/internal/release"
	"safemodel/internal/release/handler/mocks"
	"safemodel/internal/snapshot"
	"safemodel/internal/snapshot/store"
	"safemodel/internal/training"
	id "safemodel/pkg/domain"
	dErrors "safemodel/pkg/domain-errors"
	audit "safemodel/pkg/platform/audit"
	"safemodel/pkg/testutil"
)

type ReleaseHandlerSuite struct {
	suite.Suite
	service  *mocks.MockService
	audit    *mocks.MockAuditReader
	registry *training.Registry
	router   chi.Router
	sid      id.SessionID
	reviewer id.ReviewerID
}

func TestReleaseHandlerSuite(t *testing.T) {
	suite.Run(t, new(ReleaseHandlerSuite))
}

func (s *ReleaseHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.T().Cleanup(ctrl.Finish)
	s.service = mocks.NewMockService(ctrl)
	s.audit = mocks.NewMockAuditReader(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	checker, err := accountant.NewChecker(accountant.NewRDP())
	s.Require().NoError(err)
	s.registry = training.NewRegistry()
	factory := training.NewFactory(policy.Default(), checker, store.NewInMemory(), s.registry, training.WithLogger(logger))
	sess, _, err := factory.Create(context.Background(),
		[]map[string]any{{"name": "dense"}},
		[][]snapshot.Tensor{{{Shape: []int{1}, Data: []float64{1}}}},
		policy.Overrides{})
	s.Require().NoError(err)
	s.sid = sess.ID()

	s.reviewer, err = id.ParseReviewerID("0f8e4d2c-1b3a-4c5d-8e9f-a0b1c2d3e4f5")
	s.Require().NoError(err)

	s.router = chi.NewRouter()
	New(s.service, s.registry, s.audit, logger).Register(s.router)
}

func (s *ReleaseHandlerSuite) request(method, path string, authenticated bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authenticated {
		req = testutil.WithReviewer(req, s.reviewer.String())
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *ReleaseHandlerSuite) TestEvaluateRequiresReviewer() {
	w := s.request(http.MethodPost, "/sessions/"+s.sid.String()+"/release", false)
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *ReleaseHandlerSuite) TestEvaluateUnknownSession() {
	w := s.request(http.MethodPost, "/sessions/"+id.NewSessionID().String()+"/release", true)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *ReleaseHandlerSuite) TestEvaluate() {
	at := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	s.Run("allowed", func() {
		eps := 1.857
		s.service.EXPECT().EvaluateRelease(gomock.Any(), gomock.Any()).Return(release.Decision{
			SafeToRelease: true,
			Message:       "release allowed",
			Epsilon:       &eps,
			Check:         release.CheckBudget,
			Reason:        release.ReasonAllChecksPassed,
			EvaluatedAt:   at,
		}, nil)

		w := s.request(http.MethodPost, "/sessions/"+s.sid.String()+"/release", true)
		s.Require().Equal(http.StatusOK, w.Code)
		var resp DecisionResponse
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.True(resp.SafeToRelease)
		s.Equal(s.sid.String(), resp.SessionID)
		s.Equal("privacy_budget", resp.Check)
		s.Equal("all_checks_passed", resp.Reason)
		s.Require().NotNil(resp.Epsilon)
		s.Equal(1.857, *resp.Epsilon)
	})

	s.Run("unbounded epsilon", func() {
		inf := math.Inf(1)
		s.service.EXPECT().EvaluateRelease(gomock.Any(), gomock.Any()).Return(release.Decision{
			Epsilon: &inf,
			Check:   release.CheckBudget,
			Reason:  release.ReasonBudgetExceeded,
		}, nil)

		w := s.request(http.MethodPost, "/sessions/"+s.sid.String()+"/release", true)
		s.Require().Equal(http.StatusOK, w.Code)
		var resp DecisionResponse
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.True(resp.Unbounded)
		s.Nil(resp.Epsilon)
	})

	s.Run("service failure is not reported as a decision", func() {
		s.service.EXPECT().EvaluateRelease(gomock.Any(), gomock.Any()).Return(release.Decision{}, errors.New("store down"))

		w := s.request(http.MethodPost, "/sessions/"+s.sid.String()+"/release", true)
		s.Equal(http.StatusInternalServerError, w.Code)
		s.NotContains(w.Body.String(), "safe_to_release")
	})
}

func (s *ReleaseHandlerSuite) TestExport() {
	path := "/sessions/" + s.sid.String() + "/export"

	s.Run("requires reviewer", func() {
		w := s.request(http.MethodPost, path, false)
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("exported", func() {
		s.service.EXPECT().ExportRelease(gomock.Any(), gomock.Any()).Return(release.Export{
			Decision: release.Decision{
				SafeToRelease:      true,
				Check:              release.CheckBudget,
				Reason:             release.ReasonAllChecksPassed,
				PostFitFingerprint: "abc123",
			},
			Path:        "/var/lib/safemodel/" + s.sid.String() + ".json",
			Fingerprint: "abc123",
		}, nil)

		w := s.request(http.MethodPost, path, true)
		s.Require().Equal(http.StatusOK, w.Code)
		var resp ExportResponse
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.True(resp.Decision.SafeToRelease)
		s.Equal("abc123", resp.Fingerprint)
		s.Equal("abc123", resp.Decision.PostFitFingerprint)
		s.Contains(resp.Checkpoint, s.sid.String())
	})

	s.Run("blocked verdict is a conflict", func() {
		s.service.EXPECT().ExportRelease(gomock.Any(), gomock.Any()).Return(release.Export{
			Decision: release.Decision{Check: release.CheckIntegrity, Reason: release.ReasonNoTraining},
		}, nil)

		w := s.request(http.MethodPost, path, true)
		s.Require().Equal(http.StatusConflict, w.Code)
		var resp ExportResponse
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.False(resp.Decision.SafeToRelease)
		s.Equal("no_training", resp.Decision.Reason)
		s.Empty(resp.Checkpoint)
	})

	s.Run("export not configured", func() {
		s.service.EXPECT().ExportRelease(gomock.Any(), gomock.Any()).
			Return(release.Export{}, dErrors.New(dErrors.CodeConflict, "checkpoint export is not configured"))

		w := s.request(http.MethodPost, path, true)
		s.Equal(http.StatusConflict, w.Code)
		s.Contains(w.Body.String(), "not configured")
	})
}

func (s *ReleaseHandlerSuite) TestSessionAudit() {
	eps := 2.0
	s.audit.EXPECT().ListBySession(gomock.Any(), s.sid).Return([]audit.Event{{
		ID:        "evt-1",
		Category:  audit.CategoryCompliance,
		SessionID: s.sid,
		Action:    string(audit.EventReleaseEvaluated),
		Decision:  "blocked",
		Epsilon:   &eps,
	}}, nil)

	w := s.request(http.MethodGet, "/sessions/"+s.sid.String()+"/audit", true)
	s.Require().Equal(http.StatusOK, w.Code)
	var resp EventsResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Require().Len(resp.Events, 1)
	s.Equal("evt-1", resp.Events[0].ID)
	s.Equal("compliance", resp.Events[0].Category)
	s.Equal("blocked", resp.Events[0].Decision)
}

func (s *ReleaseHandlerSuite) TestRecentAudit() {
	s.Run("default limit", func() {
		s.audit.EXPECT().ListRecent(gomock.Any(), defaultAuditLimit).Return(nil, nil)
		w := s.request(http.MethodGet, "/audit/recent", true)
		s.Equal(http.StatusOK, w.Code)
		s.JSONEq(`{"events":[]}`, w.Body.String())
	})

	s.Run("explicit limit", func() {
		s.audit.EXPECT().ListRecent(gomock.Any(), 5).Return(nil, nil)
		w := s.request(http.MethodGet, "/audit/recent?limit=5", true)
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("bad limit", func() {
		w := s.request(http.MethodGet, "/audit/recent?limit=0", true)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("unauthenticated", func() {
		w := s.request(http.MethodGet, "/audit/recent", false)
		s.Equal(http.StatusUnauthorized, w.Code)
	})
}

func TestFromDecisionOmitsMissingEpsilon(t *testing.T) {
	resp := FromDecision(id.NewSessionID(), release.Decision{Check: release.CheckIntegrity, Reason: release.ReasonNoTraining})
	b, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(b), `"epsilon"`)
	assert.False(t, resp.SafeToRelease)
}
