// Package usage implements hierarchical usage accounting and the
// pre-request admission check: per-(entity, model) token counters rolled
// up from agent to team to organization.
package usage

import (
	"context"

	"github.com/archestra-ai/gateway/pkg/collab"
	"github.com/archestra-ai/gateway/pkg/logger"
)

// Recorder fans an Interaction's token counts out to every applicable
// Limit on the agent, each team the agent belongs to, and the organization.
type Recorder struct {
	store collab.Store
}

// NewRecorder constructs a Recorder over store.
func NewRecorder(store collab.Store) *Recorder {
	return &Recorder{store: store}
}

// Record appends interaction to the audit trail and increments every
// Limit's per-model counters whose Models set includes interaction.Model,
// across the agent → teams → organization chain.
func (r *Recorder) Record(ctx context.Context, interaction *collab.Interaction) error {
	if err := r.store.RecordInteraction(ctx, interaction); err != nil {
		return err
	}

	agent, err := r.store.GetAgent(ctx, interaction.AgentID)
	if err != nil {
		return err
	}

	for _, entity := range entityChain(agent) {
		if err := r.incrementEntityCounters(ctx, entity.entityType, entity.entityID, interaction); err != nil {
			return err
		}
	}
	return nil
}

type scopedEntity struct {
	entityType collab.LimitEntityType
	entityID   string
}

// entityChain returns agent, every team it belongs to, and its
// organization. Degrades gracefully to just agent + organization when the
// agent has no teams.
func entityChain(agent *collab.Agent) []scopedEntity {
	chain := make([]scopedEntity, 0, len(agent.Teams)+2)
	chain = append(chain, scopedEntity{collab.EntityAgent, agent.ID})
	for _, team := range agent.Teams {
		chain = append(chain, scopedEntity{collab.EntityTeam, team})
	}
	chain = append(chain, scopedEntity{collab.EntityOrg, agent.OrgID})
	return chain
}

func (r *Recorder) incrementEntityCounters(ctx context.Context, entityType collab.LimitEntityType, entityID string, interaction *collab.Interaction) error {
	limits, err := r.store.FindLimits(ctx, entityType, entityID)
	if err != nil {
		return err
	}

	for _, limit := range limits {
		if !modelsInclude(limit.Models, interaction.Model) {
			continue
		}
		if err := r.store.IncrementModelCounter(ctx, limit.ID, interaction.Model, interaction.InputTokens, interaction.OutputTokens); err != nil {
			logger.Errorw("usage: failed to increment limit counter", "limitId", limit.ID, "model", interaction.Model, "error", err)
			return err
		}
	}
	return nil
}

func modelsInclude(models []string, model string) bool {
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}
