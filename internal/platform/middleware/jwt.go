package middleware

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "safemodel/pkg/domain"
	dErrors "safemodel/pkg/domain-errors"
)

// ReviewerClaims are the claims of a reviewer access token.
type ReviewerClaims struct {
	ReviewerID string `json:"reviewer_id"`
	jwt.RegisteredClaims
}

// JWTService issues and validates HS256 reviewer tokens.
type JWTService struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

func NewJWTService(signingKey, issuer string) *JWTService {
	return &JWTService{signingKey: []byte(signingKey), issuer: issuer, now: time.Now}
}

// IssueReviewerToken signs a token for the reviewer valid for expiresIn.
func (s *JWTService) IssueReviewerToken(reviewer id.ReviewerID, expiresIn time.Duration) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, ReviewerClaims{
		ReviewerID: reviewer.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   reviewer.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// ValidateToken verifies the signature, issuer and expiry, and returns the
// reviewer the token was issued to.
func (s *JWTService) ValidateToken(tokenString string) (id.ReviewerID, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &ReviewerClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return id.ReviewerID{}, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return id.ReviewerID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*ReviewerClaims)
	if !ok || !parsed.Valid {
		return id.ReviewerID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	reviewer, err := id.ParseReviewerID(claims.ReviewerID)
	if err != nil {
		return id.ReviewerID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return reviewer, nil
}
