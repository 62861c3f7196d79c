package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	id "safemodel/pkg/domain"
	dErrors "safemodel/pkg/domain-errors"
	audit "safemodel/pkg/platform/audit"
	"safemodel/pkg/requestcontext"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []audit.SecurityEvent
}

func (r *recordingEmitter) Emit(_ context.Context, event audit.SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// =============================================================================
// Request metadata
// =============================================================================

func TestRequestMetadata(t *testing.T) {
	var gotID, gotIP string
	var gotTime time.Time
	h := RequestMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = requestcontext.RequestID(r.Context())
		gotIP = requestcontext.ClientIP(r.Context())
		gotTime = requestcontext.Now(r.Context())
	}))

	t.Run("propagates caller request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Equal(t, "req-123", gotID)
		assert.Equal(t, "req-123", rr.Header().Get(RequestIDHeader))
		assert.Equal(t, "203.0.113.9", gotIP)
		assert.False(t, gotTime.IsZero())
	})

	t.Run("generates a request id when absent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.NotEmpty(t, gotID)
		assert.Equal(t, gotID, rr.Header().Get(RequestIDHeader))
		assert.Equal(t, "192.0.2.1", gotIP)
	})
}

// =============================================================================
// Reviewer authentication
// =============================================================================

type AuthSuite struct {
	suite.Suite
	jwt      *JWTService
	security *recordingEmitter
	handler  http.Handler
	reviewer id.ReviewerID
	seen     id.ReviewerID
}

func TestAuthSuite(t *testing.T) {
	suite.Run(t, new(AuthSuite))
}

func (s *AuthSuite) SetupTest() {
	var err error
	s.reviewer, err = id.ParseReviewerID("0f8e4d2c-1b3a-4c5d-8e9f-a0b1c2d3e4f5")
	s.Require().NoError(err)
	s.jwt = NewJWTService("test-signing-key", "safemodel-test")
	s.security = &recordingEmitter{}
	s.seen = id.ReviewerID{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.handler = RequestMetadata(RequireReviewer(s.jwt, s.security, logger)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.seen = requestcontext.ReviewerID(r.Context())
			w.WriteHeader(http.StatusNoContent)
		})))
}

func (s *AuthSuite) serve(authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/sessions/x/release", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *AuthSuite) TestValidTokenSetsReviewer() {
	token, err := s.jwt.IssueReviewerToken(s.reviewer, time.Hour)
	s.Require().NoError(err)

	rr := s.serve("Bearer " + token)
	s.Equal(http.StatusNoContent, rr.Code)
	s.Equal(s.reviewer, s.seen)
	s.Empty(s.security.events)
}

func (s *AuthSuite) TestMissingTokenRejectedAndAudited() {
	rr := s.serve("")
	s.Equal(http.StatusUnauthorized, rr.Code)
	s.JSONEq(`{"error":"unauthorized","error_description":"Missing or invalid Authorization header"}`, rr.Body.String())
	s.True(s.seen.IsNil())
	s.Require().Len(s.security.events, 1)
	s.Equal(string(audit.EventAuthFailed), s.security.events[0].Action)
	s.NotEmpty(s.security.events[0].RequestID)
	s.Equal("unknown", s.security.events[0].UserAgent)
}

func (s *AuthSuite) TestExpiredTokenRejected() {
	token, err := s.jwt.IssueReviewerToken(s.reviewer, -time.Hour)
	s.Require().NoError(err)

	rr := s.serve("Bearer " + token)
	s.Equal(http.StatusUnauthorized, rr.Code)
	s.Require().Len(s.security.events, 1)
	s.Contains(s.security.events[0].Detail, "token has expired")
}

func (s *AuthSuite) TestForeignSignatureRejected() {
	other := NewJWTService("another-key", "safemodel-test")
	token, err := other.IssueReviewerToken(s.reviewer, time.Hour)
	s.Require().NoError(err)

	rr := s.serve("Bearer " + token)
	s.Equal(http.StatusUnauthorized, rr.Code)
}

// =============================================================================
// JWT service
// =============================================================================

func TestJWTServiceRoundTrip(t *testing.T) {
	svc := NewJWTService("key", "issuer")
	reviewer := mustReviewer(t)

	token, err := svc.IssueReviewerToken(reviewer, time.Minute)
	require.NoError(t, err)
	got, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, reviewer, got)
}

func TestJWTServiceRejectsWrongIssuer(t *testing.T) {
	token, err := NewJWTService("key", "elsewhere").IssueReviewerToken(mustReviewer(t), time.Minute)
	require.NoError(t, err)

	_, err = NewJWTService("key", "issuer").ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestJWTServiceRejectsGarbage(t *testing.T) {
	_, err := NewJWTService("key", "issuer").ValidateToken("not-a-token")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func mustReviewer(t *testing.T) id.ReviewerID {
	t.Helper()
	r, err := id.ParseReviewerID("6b1f7c1e-2d4a-4f8b-9c3d-5e6f7a8b9c0d")
	require.NoError(t, err)
	return r
}

func TestDescribeClient(t *testing.T) {
	assert.Equal(t, "unknown", describeClient(""))
	firefox := describeClient("Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0")
	assert.Contains(t, firefox, "Firefox")
	assert.Contains(t, firefox, "Linux")
	assert.Contains(t, describeClient("Googlebot/2.1 (+http://www.google.com/bot.html)"), "[bot]")
}
