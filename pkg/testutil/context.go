package testutil

import (
	"net/http"

	id "safemodel/pkg/domain"
	"safemodel/pkg/requestcontext"
)

// WithReviewer marks the request as coming from an authenticated reviewer,
// the way the auth middleware would. Invalid IDs leave the request anonymous.
func WithReviewer(req *http.Request, reviewerID string) *http.Request {
	if parsed, err := id.ParseReviewerID(reviewerID); err == nil {
		return req.WithContext(requestcontext.WithReviewerID(req.Context(), parsed))
	}
	return req
}

// WithBearer sets the Authorization header.
func WithBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}
