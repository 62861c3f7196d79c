package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "safemodel/pkg/domain-errors"
	"safemodel/pkg/platform/sentinel"
)

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		status      int
		code        string
		description string
	}{
		{"coded bad request", dErrors.New(dErrors.CodeBadRequest, "invalid input"), http.StatusBadRequest, "bad_request", "invalid input"},
		{"coded unauthorized", dErrors.New(dErrors.CodeUnauthorized, "token has expired"), http.StatusUnauthorized, "unauthorized", "token has expired"},
		{"invariant violation", dErrors.New(dErrors.CodeInvariantViolation, "layer count mismatch"), http.StatusUnprocessableEntity, "invariant_violation", "layer count mismatch"},
		{"wrapped sentinel not found", fmt.Errorf("get post_fit: %w", sentinel.ErrNotFound), http.StatusNotFound, "not_found", "get post_fit: not found"},
		{"sentinel invalid state", sentinel.ErrInvalidState, http.StatusConflict, "conflict", "invalid state"},
		{"uncoded error is internal", errors.New("db failed"), http.StatusInternalServerError, "internal_error", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			body := decodeBody(t, w)
			assert.Equal(t, tt.code, body["error"])
			desc, ok := body["error_description"]
			if tt.description == "" {
				assert.False(t, ok, "internal errors never expose a description")
				return
			}
			assert.Equal(t, tt.description, desc)
		})
	}
}

type fitBody struct {
	Epochs int `json:"epochs"`
}

func (b *fitBody) Validate() error {
	if b.Epochs <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "epochs must be positive")
	}
	return nil
}

func TestDecodeAndPrepare(t *testing.T) {
	decode := func(payload string) (*fitBody, bool, *httptest.ResponseRecorder) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
		got, ok := DecodeAndPrepare[fitBody](w, r, nil, r.Context(), "req-1")
		return got, ok, w
	}

	t.Run("valid body", func(t *testing.T) {
		got, ok, _ := decode(`{"epochs": 20}`)
		require.True(t, ok)
		assert.Equal(t, 20, got.Epochs)
	})

	t.Run("malformed json", func(t *testing.T) {
		got, ok, w := decode(`{"epochs":`)
		assert.False(t, ok)
		assert.Nil(t, got)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid json payload", decodeBody(t, w)["error_description"])
	})

	t.Run("validation failure", func(t *testing.T) {
		_, ok, w := decode(`{"epochs": 0}`)
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_input", decodeBody(t, w)["error"])
	})
}
