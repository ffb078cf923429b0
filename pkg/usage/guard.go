package usage

import (
	"context"

	"github.com/archestra-ai/gateway/pkg/collab"
)

// Guard implements the pre-request admission check: the agent level is
// evaluated first; if it admits, team and org are consulted in turn, and
// the first denial wins.
type Guard struct {
	store   collab.Store
	pricing PricingTable
}

// NewGuard constructs a Guard. A nil pricing table uses DefaultPricing.
func NewGuard(store collab.Store, pricing PricingTable) *Guard {
	if pricing == nil {
		pricing = DefaultPricing
	}
	return &Guard{store: store, pricing: pricing}
}

// Admit reports whether agent may make a request against model given its
// current usage, evaluating agent, then each team, then the organization.
func (g *Guard) Admit(ctx context.Context, agent *collab.Agent, model string) (bool, error) {
	for _, entity := range entityChain(agent) {
		admitted, err := g.admitEntity(ctx, entity.entityType, entity.entityID, model)
		if err != nil {
			return false, err
		}
		if !admitted {
			return false, nil
		}
	}
	return true, nil
}

func (g *Guard) admitEntity(ctx context.Context, entityType collab.LimitEntityType, entityID, model string) (bool, error) {
	limits, err := g.store.FindLimits(ctx, entityType, entityID)
	if err != nil {
		return false, err
	}

	for _, limit := range limits {
		if !modelsInclude(limit.Models, model) {
			continue
		}
		counter, err := g.store.GetOrCreateModelCounter(ctx, limit.ID, model)
		if err != nil {
			return false, err
		}
		cost := g.pricing.Cost(model, counter.CurrentUsageTokensIn, counter.CurrentUsageTokensOut)
		if cost > limit.LimitValue {
			return false, nil
		}
	}
	return true, nil
}
