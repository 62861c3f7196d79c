package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	id "safemodel/pkg/domain"
	audit "safemodel/pkg/platform/audit"
	"safemodel/pkg/requestcontext"
)

// TokenValidator resolves a bearer token to the reviewer it was issued to.
type TokenValidator interface {
	ValidateToken(tokenString string) (id.ReviewerID, error)
}

// SecurityEmitter records rejected credentials.
type SecurityEmitter interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

// RequireReviewer rejects requests without a valid reviewer bearer token and
// stores the reviewer in the context for the release handlers.
func RequireReviewer(validator TokenValidator, security SecurityEmitter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				reject(r, w, security, logger, "missing bearer token", "Missing or invalid Authorization header")
				return
			}
			reviewer, err := validator.ValidateToken(token)
			if err != nil {
				reject(r, w, security, logger, err.Error(), "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithReviewerID(ctx, reviewer)))
		})
	}
}

func reject(r *http.Request, w http.ResponseWriter, security SecurityEmitter, logger *slog.Logger, reason, description string) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	client := describeClient(r.UserAgent())
	logger.WarnContext(ctx, "unauthorized release access",
		"reason", reason,
		"client", client,
		"request_id", requestID,
	)
	if security != nil {
		security.Emit(ctx, audit.SecurityEvent{
			Timestamp: requestcontext.Now(ctx),
			Action:    string(audit.EventAuthFailed),
			Detail:    reason,
			ClientIP:  requestcontext.ClientIP(ctx),
			UserAgent: client,
			RequestID: requestID,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}

// describeClient condenses a User-Agent header to "browser version (os)",
// flagging crawlers.
func describeClient(header string) string {
	if header == "" {
		return "unknown"
	}
	ua := useragent.New(header)
	name, version := ua.Browser()
	desc := strings.TrimSpace(name + " " + version)
	if os := ua.OS(); os != "" {
		desc += " (" + os + ")"
	}
	if ua.Bot() {
		desc += " [bot]"
	}
	return desc
}
