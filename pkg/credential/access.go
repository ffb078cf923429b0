package credential

import (
	"context"
	"fmt"

	cedar "github.com/cedar-policy/cedar-go"

	"github.com/archestra-ai/gateway/pkg/collab"
)

// accessPolicy expresses the key-visibility rules as data instead of a
// nested if-chain:
// a user can view a ChatApiKey iff it is org-wide, or team-scoped to one of
// their teams, or their own personal key; admins additionally see every
// key except other users' personal keys.
const accessPolicy = `
permit (
  principal,
  action == Action::"viewKey",
  resource
) when {
  resource.scope == "org_wide"
};

permit (
  principal,
  action == Action::"viewKey",
  resource
) when {
  resource.scope == "team" && context.userTeamIds.contains(resource.teamId)
};

permit (
  principal,
  action == Action::"viewKey",
  resource
) when {
  resource.scope == "personal" && resource.userId == context.userId
};

permit (
  principal,
  action == Action::"viewKey",
  resource
) when {
  context.isAdmin && resource.scope != "personal"
};
`

// AccessChecker evaluates the shared-key visibility access rule via a
// compiled Cedar policy set, so the rule is declarative data rather than
// a chain of boolean conditions scattered through the resolver.
type AccessChecker struct {
	policySet *cedar.PolicySet
}

// NewAccessChecker compiles the access policy once; a parse failure here
// would mean the embedded policy text itself is malformed, which is a
// programmer error, not a runtime condition, so it panics like other
// init-time invariant violations in this codebase.
func NewAccessChecker() *AccessChecker {
	ps, err := cedar.NewPolicySetFromBytes("access.cedar", []byte(accessPolicy))
	if err != nil {
		panic(fmt.Sprintf("credential: invalid embedded access policy: %v", err))
	}
	return &AccessChecker{policySet: ps}
}

// CanView reports whether a user with the given teams/admin status may
// view (and thus be returned) the given key.
func (a *AccessChecker) CanView(_ context.Context, key *collab.ChatApiKey, userID string, userTeamIDs []string, isAdmin bool) (bool, error) {
	resourceRecord := cedar.NewRecord(cedar.RecordMap{
		"scope": cedar.String(key.Scope),
	})
	if key.TeamID != nil {
		resourceRecord = withField(resourceRecord, "teamId", cedar.String(*key.TeamID))
	}
	if key.UserID != nil {
		resourceRecord = withField(resourceRecord, "userId", cedar.String(*key.UserID))
	}

	teamSet := make([]cedar.Value, 0, len(userTeamIDs))
	for _, t := range userTeamIDs {
		teamSet = append(teamSet, cedar.String(t))
	}

	req := cedar.Request{
		Principal: cedar.NewEntityUID("User", cedar.String(userID)),
		Action:    cedar.NewEntityUID("Action", "viewKey"),
		Resource:  cedar.NewEntityUID("ChatApiKey", cedar.String(key.ID)),
		Context: cedar.NewRecord(cedar.RecordMap{
			"userId":      cedar.String(userID),
			"userTeamIds": cedar.NewSet(teamSet...),
			"isAdmin":     cedar.Boolean(isAdmin),
		}),
	}

	entities := cedar.EntityMap{
		req.Resource: {
			UID:        req.Resource,
			Attributes: resourceRecord,
		},
	}

	decision, _ := a.policySet.IsAuthorized(entities, req)
	if decision != cedar.Allow {
		return false, nil
	}
	return true, nil
}

func withField(r cedar.Record, key string, v cedar.Value) cedar.Record {
	m := cedar.RecordMap{}
	for k, val := range r.Map() {
		m[k] = val
	}
	m[cedar.String(key)] = v
	return cedar.NewRecord(m)
}
