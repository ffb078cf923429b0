package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenAuthContextFromIdentity_User(t *testing.T) {
	t.Parallel()

	identity := &Identity{
		Subject: "user-1",
		Token:   "secret-token",
		Claims: map[string]any{
			"jti":      "tok-123",
			"org_id":   "org-9",
			"team_ids": []any{"team-a", "team-b"},
		},
	}

	tac := TokenAuthContextFromIdentity(identity)

	assert.Equal(t, "tok-123", tac.TokenID)
	assert.Equal(t, "user-1", tac.UserID)
	assert.Equal(t, "org-9", tac.OrgID)
	assert.Equal(t, []string{"team-a", "team-b"}, tac.TeamIDs)
	assert.False(t, tac.IsOrgToken)
	assert.True(t, tac.IsExternalIdp)
	assert.Equal(t, "secret-token", tac.RawToken)
}

func TestTokenAuthContextFromIdentity_OrgToken(t *testing.T) {
	t.Parallel()

	identity := &Identity{
		Subject: "svc-account-1",
		Claims: map[string]any{
			"org_id":       "org-9",
			"is_org_token": true,
		},
	}

	tac := TokenAuthContextFromIdentity(identity)

	assert.True(t, tac.IsOrgToken)
	assert.Empty(t, tac.UserID, "org-wide tokens have no individual user")
	assert.Equal(t, "org-9", tac.OrgID)
}

func TestTokenAuthContextFromIdentity_GatewayIssued(t *testing.T) {
	t.Parallel()

	identity := &Identity{
		Subject: "user-2",
		Claims: map[string]any{
			"issued_by_gateway": true,
		},
	}

	tac := TokenAuthContextFromIdentity(identity)
	assert.False(t, tac.IsExternalIdp)
}

func TestTokenAuthContextFromIdentity_Nil(t *testing.T) {
	t.Parallel()
	assert.Equal(t, TokenAuthContext{}, TokenAuthContextFromIdentity(nil))
}

func TestWithTokenAuthContext_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, ok := TokenAuthContextFromContext(ctx)
	require.False(t, ok)

	tac := TokenAuthContext{TokenID: "tok-1", OrgID: "org-1"}
	ctx = WithTokenAuthContext(ctx, tac)

	got, ok := TokenAuthContextFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, tac, got)
}
