package gateway

import (
	"context"

	"github.com/archestra-ai/gateway/pkg/auth"
	"github.com/archestra-ai/gateway/pkg/collab"
)

// JWTIdentityProvider adapts auth.JWTValidator to collab.IdentityProvider,
// converting auth.TokenAuthContext into its collab-local mirror at the
// boundary so pkg/collab never needs to import pkg/auth.
type JWTIdentityProvider struct {
	Validator *auth.JWTValidator
}

// Authenticate validates bearerToken and returns the normalized
// collab.TokenAuthContext the rest of the gateway consumes.
func (p JWTIdentityProvider) Authenticate(ctx context.Context, bearerToken string) (collab.TokenAuthContext, error) {
	claims, err := p.Validator.ValidateToken(ctx, bearerToken)
	if err != nil {
		return collab.TokenAuthContext{}, err
	}

	identity, err := auth.ClaimsToIdentity(claims, bearerToken)
	if err != nil {
		return collab.TokenAuthContext{}, err
	}

	tac := auth.TokenAuthContextFromIdentity(identity)
	return collab.TokenAuthContext{
		TokenID:       tac.TokenID,
		UserID:        tac.UserID,
		OrgID:         tac.OrgID,
		TeamIDs:       tac.TeamIDs,
		IsOrgToken:    tac.IsOrgToken,
		IsExternalIdp: tac.IsExternalIdp,
		RawToken:      tac.RawToken,
	}, nil
}
