package auth

import "context"

// TokenAuthContext is the normalized output of the gateway's IdentityProvider:
// everything the Credential Resolver and Usage Metering layers need to know
// about the caller, independent of how the token was actually validated
// (JWT/JWKS today, something else tomorrow).
type TokenAuthContext struct {
	// TokenID identifies the credential itself (the JWT's jti, or the
	// Subject when no jti claim is present) — used for audit trails.
	TokenID string

	// UserID is the authenticated user, if this is a user-scoped token.
	UserID string

	// OrgID is the organization the token is scoped to. Always present.
	OrgID string

	// TeamIDs are the teams the user belongs to within OrgID, if known.
	TeamIDs []string

	// IsOrgToken is true when the token authenticates an organization-wide
	// service identity rather than an individual user.
	IsOrgToken bool

	// IsExternalIdp is true when the token was issued by an external IdP
	// (as opposed to the gateway's own ChatApiKey-issued tokens).
	IsExternalIdp bool

	// RawToken is the original bearer token, for pass-through scenarios.
	// Never logged; callers must redact it explicitly if they serialize this.
	RawToken string
}

// TokenAuthContextFromIdentity derives a TokenAuthContext from an already
// validated Identity. It reads org_id/team_ids/is_org_token/idp claims by
// convention, since claim names vary by IdP the same way group names do.
func TokenAuthContextFromIdentity(identity *Identity) TokenAuthContext {
	if identity == nil {
		return TokenAuthContext{}
	}

	tac := TokenAuthContext{
		TokenID:       identity.Subject,
		UserID:        identity.Subject,
		RawToken:      identity.Token,
		IsExternalIdp: true,
	}

	if jti, ok := identity.Claims["jti"].(string); ok && jti != "" {
		tac.TokenID = jti
	}
	if orgID, ok := identity.Claims["org_id"].(string); ok {
		tac.OrgID = orgID
	}
	if isOrgToken, ok := identity.Claims["is_org_token"].(bool); ok {
		tac.IsOrgToken = isOrgToken
	}
	if tac.IsOrgToken {
		tac.UserID = ""
	}
	if raw, ok := identity.Claims["team_ids"].([]any); ok {
		teamIDs := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				teamIDs = append(teamIDs, s)
			}
		}
		tac.TeamIDs = teamIDs
	}
	if issuedLocally, ok := identity.Claims["issued_by_gateway"].(bool); ok && issuedLocally {
		tac.IsExternalIdp = false
	}

	return tac
}

// tokenAuthContextKey is the context key for TokenAuthContext.
type tokenAuthContextKey struct{}

// WithTokenAuthContext stores a TokenAuthContext in the context.
func WithTokenAuthContext(ctx context.Context, tac TokenAuthContext) context.Context {
	return context.WithValue(ctx, tokenAuthContextKey{}, tac)
}

// TokenAuthContextFromContext retrieves the TokenAuthContext stored by
// WithTokenAuthContext.
func TokenAuthContextFromContext(ctx context.Context) (TokenAuthContext, bool) {
	tac, ok := ctx.Value(tokenAuthContextKey{}).(TokenAuthContext)
	return tac, ok
}
