// Package auth issues and verifies the service tokens that chat backends use
// to report posted messages.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// ClaimsContextKey is where RequireAuth stores the verified claims.
const ClaimsContextKey = "service_claims"

var ErrInvalidToken = errors.New("invalid or expired token")

// ServiceClaims scope a token to a single organization.
type ServiceClaims struct {
	OrganizationID int64 `json:"org_id"`
	jwt.RegisteredClaims
}

// TokenService signs and validates HS256 service tokens.
type TokenService struct {
	secretKey []byte
	issuer    string

	// TokenDuration is the lifetime of issued tokens. Default: 24 hours.
	TokenDuration time.Duration
	now           func() time.Time
}

// NewTokenService creates a new token service
func NewTokenService(secretKey, issuer string) *TokenService {
	return &TokenService{
		secretKey:     []byte(secretKey),
		issuer:        issuer,
		TokenDuration: 24 * time.Hour,
		now:           time.Now,
	}
}

// Issue creates a token for orgID. subject names the calling service.
func (ts *TokenService) Issue(orgID int64, subject string) (string, error) {
	if orgID <= 0 {
		return "", fmt.Errorf("organization id must be positive, got %d", orgID)
	}
	now := ts.now()
	claims := &ServiceClaims{
		OrganizationID: orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.TokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    ts.issuer,
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}
	return signed, nil
}

// Validate parses tokenString and returns its claims.
func (ts *TokenService) Validate(tokenString string) (*ServiceClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
	}
	if ts.issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &ServiceClaims{}, func(token *jwt.Token) (interface{}, error) {
		return ts.secretKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*ServiceClaims)
	if !ok || !token.Valid || claims.OrganizationID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RequireAuth validates the bearer token and stores its claims in the echo
// context.
func RequireAuth(ts *TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			claims, err := ts.Validate(tokenParts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			c.Set(ClaimsContextKey, claims)
			return next(c)
		}
	}
}

// ClaimsFromContext returns the claims stored by RequireAuth.
func ClaimsFromContext(c echo.Context) (*ServiceClaims, bool) {
	claims, ok := c.Get(ClaimsContextKey).(*ServiceClaims)
	return claims, ok
}
