package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"safemodel/internal/accountant"
	"safemodel/internal/policy"
	"safemodel/internal/snapshot/store"
	"safemodel/internal/training"
)

type SessionHandlerSuite struct {
	suite.Suite
	router   chi.Router
	registry *training.Registry
	store    *store.InMemory
}

func TestSessionHandlerSuite(t *testing.T) {
	suite.Run(t, new(SessionHandlerSuite))
}

func (s *SessionHandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	checker, err := accountant.NewChecker(accountant.NewRDP(), accountant.WithLogger(logger))
	s.Require().NoError(err)
	s.registry = training.NewRegistry()
	s.store = store.NewInMemory()
	factory := training.NewFactory(policy.Default(), checker, s.store, s.registry, training.WithLogger(logger))

	s.router = chi.NewRouter()
	New(factory, s.registry, logger).Register(s.router)
}

func (s *SessionHandlerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func layersBody(bias float64) []map[string]any {
	return []map[string]any{
		{"config": map[string]any{"name": "dense", "units": 2}, "weights": []map[string]any{
			{"shape": []int{2}, "data": []float64{0.5, bias}},
		}},
	}
}

func (s *SessionHandlerSuite) create() string {
	w := s.do(http.MethodPost, "/sessions", map[string]any{
		"layers":     layersBody(0),
		"parameters": map[string]any{"noise_multiplier": 4},
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var resp SessionResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.SessionID
}

func (s *SessionHandlerSuite) TestCreate() {
	w := s.do(http.MethodPost, "/sessions", map[string]any{
		"layers":     layersBody(0),
		"parameters": map[string]any{"noise_multiplier": 4, "epochs": 5},
	})
	s.Require().Equal(http.StatusCreated, w.Code)

	var resp SessionResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.NotEmpty(resp.SessionID)
	s.Equal("DPKerasSGDOptimizer", resp.Optimizer)
	s.Equal(4.0, resp.Parameters.NoiseMultiplier)
	s.Equal(5, resp.Parameters.Epochs)
	s.Equal(10.0, resp.Parameters.MinEpsilon)
	s.Equal(1, s.registry.Len())
}

func (s *SessionHandlerSuite) TestCreateValidation() {
	s.Run("no layers", func() {
		w := s.do(http.MethodPost, "/sessions", map[string]any{})
		s.Equal(http.StatusBadRequest, w.Code)
		s.Contains(w.Body.String(), "layers are required")
	})
	s.Run("malformed json", func() {
		req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewBufferString("{"))
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		s.Equal(http.StatusBadRequest, w.Code)
	})
	s.Run("tensor shape mismatch", func() {
		w := s.do(http.MethodPost, "/sessions", map[string]any{"layers": []map[string]any{
			{"config": map[string]any{"name": "dense"}, "weights": []map[string]any{{"shape": []int{3}, "data": []float64{1}}}},
		}})
		s.Equal(http.StatusBadRequest, w.Code)
		s.Contains(w.Body.String(), "shape [3] implies 3 elements, got 1")
		s.Equal(0, s.registry.Len())
	})
}

func (s *SessionHandlerSuite) TestUnknownSession() {
	w := s.do(http.MethodPost, "/sessions/7b0f2c3e-4a51-4c55-9a3c-8d1f0e2b6a77/compile", map[string]any{"optimizer": "Adam"})
	s.Equal(http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/sessions/not-a-uuid/provenance", nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *SessionHandlerSuite) TestCompile() {
	sid := s.create()
	w := s.do(http.MethodPost, "/sessions/"+sid+"/compile", map[string]any{"optimizer": "tensorflow.keras.optimizers.Adam"})
	s.Require().Equal(http.StatusOK, w.Code)

	var resp CompileResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal("Adam", resp.Requested)
	s.Equal("Adam", resp.Bound)
}

func (s *SessionHandlerSuite) TestEpsilon() {
	sid := s.create()

	w := s.do(http.MethodPost, "/sessions/"+sid+"/epsilon", map[string]any{"num_samples": 250, "batch_size": 0, "epochs": 20})
	s.Require().Equal(http.StatusOK, w.Code)
	var resp BudgetResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.True(resp.BatchSizeSubstituted)
	s.Contains(resp.Message, "batch_size = 1")
	s.Equal(1, resp.Parameters.BatchSize)
	s.Require().NotNil(resp.Epsilon)
}

func (s *SessionHandlerSuite) TestEpsilonUnbounded() {
	w := s.do(http.MethodPost, "/sessions", map[string]any{
		"layers":     layersBody(0),
		"parameters": map[string]any{"noise_multiplier": 0},
	})
	s.Require().Equal(http.StatusCreated, w.Code)
	var created SessionResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &created))

	w = s.do(http.MethodPost, "/sessions/"+created.SessionID+"/epsilon", map[string]any{"num_samples": 250, "batch_size": 25, "epochs": 20})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var resp BudgetResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.True(resp.Unbounded)
	s.Nil(resp.Epsilon)
	s.False(resp.Met)
}

func (s *SessionHandlerSuite) TestFitAndProvenance() {
	sid := s.create()

	w := s.do(http.MethodPost, "/sessions/"+sid+"/fit", map[string]any{
		"num_samples": 250, "batch_size": 25, "epochs": 20,
		"dp_gradients": true, "layers": layersBody(0.1),
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var fit FitResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &fit))
	s.True(fit.Trained)
	s.Equal("dp_confirmed", fit.Provenance)
	s.True(fit.Budget.Met)

	w = s.do(http.MethodGet, "/sessions/"+sid+"/provenance", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var prov ProvenanceResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &prov))
	s.True(prov.InvokedAsDP)
	s.True(prov.ConfiguredAsDP)
	s.Require().NotNil(prov.Epsilon)
	s.InDelta(1.857, *prov.Epsilon, 0.01)
}

func (s *SessionHandlerSuite) TestRefineEpsilonNeedsNoLayers() {
	sid := s.create()
	w := s.do(http.MethodPost, "/sessions/"+sid+"/fit", map[string]any{
		"num_samples": 250, "batch_size": 25, "epochs": 20, "refine_epsilon": true,
	})
	s.Require().Equal(http.StatusOK, w.Code)
	var fit FitResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &fit))
	s.False(fit.Trained)
	s.Equal("dp_configured_not_run", fit.Provenance)
}

func (s *SessionHandlerSuite) TestReplaceModel() {
	sid := s.create()
	w := s.do(http.MethodPut, "/sessions/"+sid+"/model", map[string]any{"layers": layersBody(9)})
	s.Equal(http.StatusNoContent, w.Code)

	w = s.do(http.MethodPut, "/sessions/"+sid+"/model", map[string]any{"layers": []any{}})
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPut, "/sessions/"+sid+"/model", map[string]any{"layers": []map[string]any{
		{"config": map[string]any{"name": "dense"}, "weights": []map[string]any{{"shape": []int{3}, "data": []float64{1}}}},
	}})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Contains(w.Body.String(), "layers[0].weights[0]")
}
