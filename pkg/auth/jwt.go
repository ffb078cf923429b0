// Package auth validates gateway bearer tokens and carries the resulting
// Identity through request context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/archestra-ai/gateway/pkg/logger"
)

// Common errors
var (
	ErrNoToken           = errors.New("no token provided")
	ErrInvalidToken      = errors.New("invalid token")
	ErrTokenExpired      = errors.New("token expired")
	ErrInvalidIssuer     = errors.New("invalid issuer")
	ErrInvalidAudience   = errors.New("invalid audience")
	ErrMissingJWKSURL    = errors.New("missing JWKS URL")
	ErrFailedToFetchJWKS = errors.New("failed to fetch JWKS")
)

// JWTValidator validates JWT tokens against an OIDC-style JWKS endpoint,
// refreshing keys in the background.
type JWTValidator struct {
	issuer     string
	audience   string
	jwksURL    string
	clientID   string
	jwksClient *jwk.Cache
}

// JWTValidatorConfig contains configuration for the JWT validator.
type JWTValidatorConfig struct {
	// Issuer is the OIDC issuer URL (e.g., https://accounts.google.com)
	Issuer string

	// Audience is the expected audience for the token
	Audience string

	// JWKSURL is the URL to fetch the JWKS from
	JWKSURL string

	// ClientID is the OIDC client ID
	ClientID string
}

// NewJWTValidatorConfig creates a new JWTValidatorConfig with the provided parameters.
// Returns nil if every field is empty, so callers can fall back to another
// IdentityProvider.
func NewJWTValidatorConfig(issuer, audience, jwksURL, clientID string) *JWTValidatorConfig {
	if issuer == "" && audience == "" && jwksURL == "" && clientID == "" {
		return nil
	}

	return &JWTValidatorConfig{
		Issuer:   issuer,
		Audience: audience,
		JWKSURL:  jwksURL,
		ClientID: clientID,
	}
}

// NewJWTValidator creates a new JWT validator with a background-refreshing JWKS cache.
func NewJWTValidator(ctx context.Context, config JWTValidatorConfig) (*JWTValidator, error) {
	if config.JWKSURL == "" {
		return nil, ErrMissingJWKSURL
	}

	client := httprc.NewClient()
	cache, err := jwk.NewCache(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}

	if err := cache.Register(ctx, config.JWKSURL); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}

	return &JWTValidator{
		issuer:     config.Issuer,
		audience:   config.Audience,
		jwksURL:    config.JWKSURL,
		clientID:   config.ClientID,
		jwksClient: cache,
	}, nil
}

// getKeyFromJWKS gets the key from the JWKS.
func (v *JWTValidator) getKeyFromJWKS(ctx context.Context, token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("token header missing kid")
	}

	keySet, err := v.jwksClient.Lookup(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToFetchJWKS, err)
	}

	key, found := keySet.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("key ID %s not found in JWKS", kid)
	}

	var rawKey interface{}
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}

	return rawKey, nil
}

// validateClaims validates the standard claims in the token.
func (v *JWTValidator) validateClaims(claims jwt.MapClaims) error {
	if v.issuer != "" {
		issuer, err := claims.GetIssuer()
		if err != nil || issuer != v.issuer {
			return ErrInvalidIssuer
		}
	}

	if v.audience != "" {
		audiences, err := claims.GetAudience()
		if err != nil {
			return ErrInvalidAudience
		}

		found := false
		for _, aud := range audiences {
			if aud == v.audience {
				found = true
				break
			}
		}

		if !found {
			return ErrInvalidAudience
		}
	}

	expirationTime, err := claims.GetExpirationTime()
	if err != nil || expirationTime == nil || expirationTime.Before(time.Now()) {
		return ErrTokenExpired
	}

	return nil
}

// ValidateToken validates a JWT token and returns its claims.
func (v *JWTValidator) ValidateToken(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return v.getKeyFromJWKS(ctx, token)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("failed to get claims from token")
	}

	if err := v.validateClaims(claims); err != nil {
		return nil, err
	}

	return claims, nil
}

// truncateToken truncates a token for logging purposes.
func truncateToken(token string) string {
	if len(token) <= 10 {
		return token
	}
	return token[:10] + "..."
}

// Middleware creates an HTTP middleware that validates the Authorization
// bearer token and stores the resulting Identity and TokenAuthContext on
// the request context.
func (v *JWTValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		claims, err := v.ValidateToken(r.Context(), tokenString)
		if err != nil {
			logger.Debugf("token validation failed for %s...: %v", truncateToken(tokenString), err)
			http.Error(w, fmt.Sprintf("Invalid token: %v", err), http.StatusUnauthorized)
			return
		}

		identity, err := ClaimsToIdentity(claims, tokenString)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid token claims: %v", err), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsContextKey{}, claims)
		ctx = WithIdentity(ctx, identity)
		ctx = WithTokenAuthContext(ctx, TokenAuthContextFromIdentity(identity))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
