// Package memstore is an in-memory implementation of pkg/collab's Store,
// SecretStore, and PodOrchestrator interfaces, used by tests and by the
// single-process reference deployment.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/archestra-ai/gateway/pkg/collab"
	"github.com/archestra-ai/gateway/pkg/errors"
)

// Store is a mutex-guarded in-memory collab.Store.
type Store struct {
	mu sync.RWMutex

	orgs          map[string]*collab.Organization
	users         map[string]*collab.User
	userTeams     map[string][]string
	agents        map[string]*collab.Agent
	conversations map[string]*collab.Conversation
	chatKeys      map[string]*collab.ChatApiKey
	catalogItems  map[string]*collab.McpCatalogItem
	mcpServers    map[string]*collab.McpServer
	tools         map[string]*collab.Tool
	sessions      map[string]*collab.McpHttpSession
	interactions  []*collab.Interaction
	limits        map[string]*collab.Limit
	counters      map[string]*collab.LimitModelCounter // key: limitID+"/"+model
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		orgs:          map[string]*collab.Organization{},
		users:         map[string]*collab.User{},
		userTeams:     map[string][]string{},
		agents:        map[string]*collab.Agent{},
		conversations: map[string]*collab.Conversation{},
		chatKeys:      map[string]*collab.ChatApiKey{},
		catalogItems:  map[string]*collab.McpCatalogItem{},
		mcpServers:    map[string]*collab.McpServer{},
		tools:         map[string]*collab.Tool{},
		sessions:      map[string]*collab.McpHttpSession{},
		limits:        map[string]*collab.Limit{},
		counters:      map[string]*collab.LimitModelCounter{},
	}
}

// --- Seeding helpers (tests / bootstrap), not part of collab.Store ---

func (s *Store) PutOrganization(o *collab.Organization) { s.mu.Lock(); defer s.mu.Unlock(); s.orgs[o.ID] = o }
func (s *Store) PutUser(u *collab.User, teamIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	s.userTeams[u.ID] = teamIDs
}
func (s *Store) PutAgent(a *collab.Agent) { s.mu.Lock(); defer s.mu.Unlock(); s.agents[a.ID] = a }
func (s *Store) PutConversation(c *collab.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
}
func (s *Store) PutChatAPIKey(k *collab.ChatApiKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatKeys[k.ID] = k
}
func (s *Store) PutMcpCatalogItem(i *collab.McpCatalogItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalogItems[i.ID] = i
}
func (s *Store) PutMcpServer(srv *collab.McpServer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mcpServers[srv.ID] = srv
}
func (s *Store) PutTool(t *collab.Tool) { s.mu.Lock(); defer s.mu.Unlock(); s.tools[t.ID] = t }
func (s *Store) PutLimit(l *collab.Limit) { s.mu.Lock(); defer s.mu.Unlock(); s.limits[l.ID] = l }

// --- collab.Store ---

func (s *Store) GetOrganization(_ context.Context, id string) (*collab.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o, ok := s.orgs[id]; ok {
		return o, nil
	}
	return nil, errors.NewNotFoundError("organization not found", nil)
}

func (s *Store) GetUser(_ context.Context, id string) (*collab.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, errors.NewNotFoundError("user not found", nil)
}

func (s *Store) GetUserTeamIDs(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.userTeams[userID]...), nil
}

func (s *Store) GetAgent(_ context.Context, id string) (*collab.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.agents[id]; ok {
		return a, nil
	}
	return nil, errors.NewNotFoundError("agent not found", nil)
}

func (s *Store) GetConversation(_ context.Context, id string) (*collab.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.conversations[id]; ok {
		return c, nil
	}
	return nil, errors.NewNotFoundError("conversation not found", nil)
}

func (s *Store) GetChatAPIKey(_ context.Context, id string) (*collab.ChatApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k, ok := s.chatKeys[id]; ok {
		return k, nil
	}
	return nil, errors.NewNotFoundError("chat api key not found", nil)
}

func (s *Store) FindPersonalKey(_ context.Context, orgID, provider, userID string) (*collab.ChatApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.chatKeys {
		if k.Scope == collab.ScopePersonal && k.OrgID == orgID && k.Provider == provider &&
			k.UserID != nil && *k.UserID == userID && k.SecretID != nil {
			return k, nil
		}
	}
	return nil, nil
}

func (s *Store) FindTeamKeys(_ context.Context, orgID, provider string, teamIDs []string) ([]*collab.ChatApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	teamSet := map[string]bool{}
	for _, t := range teamIDs {
		teamSet[t] = true
	}

	var out []*collab.ChatApiKey
	for _, k := range s.chatKeys {
		if k.Scope == collab.ScopeTeam && k.OrgID == orgID && k.Provider == provider &&
			k.TeamID != nil && teamSet[*k.TeamID] && k.SecretID != nil {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) FindOrgWideKey(_ context.Context, orgID, provider string) (*collab.ChatApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.chatKeys {
		if k.Scope == collab.ScopeOrgWide && k.OrgID == orgID && k.Provider == provider && k.SecretID != nil {
			return k, nil
		}
	}
	return nil, nil
}

func (s *Store) GetMcpCatalogItem(_ context.Context, id string) (*collab.McpCatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := s.catalogItems[id]; ok {
		return i, nil
	}
	return nil, errors.NewNotFoundError("catalog item not found", nil)
}

func (s *Store) GetMcpServer(_ context.Context, id string) (*collab.McpServer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if srv, ok := s.mcpServers[id]; ok {
		return srv, nil
	}
	return nil, errors.NewNotFoundError("mcp server not found", nil)
}

func (s *Store) FindMcpServersByCatalog(_ context.Context, catalogID string) ([]*collab.McpServer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*collab.McpServer
	for _, srv := range s.mcpServers {
		if srv.CatalogID == catalogID {
			out = append(out, srv)
		}
	}
	return out, nil
}

func (s *Store) UpdateMcpServerOAuthStatus(_ context.Context, serverID string, refreshError *string, failedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.mcpServers[serverID]
	if !ok {
		return errors.NewNotFoundError("mcp server not found", nil)
	}
	srv.OAuthRefreshError = refreshError
	srv.OAuthRefreshFailedAt = failedAt
	return nil
}

func (s *Store) GetTool(_ context.Context, id string) (*collab.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tools[id]; ok {
		return t, nil
	}
	return nil, errors.NewNotFoundError("tool not found", nil)
}

func (s *Store) FindAgentTools(_ context.Context, agentID string) ([]*collab.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.agents[agentID]
	if !ok {
		return nil, errors.NewNotFoundError("agent not found", nil)
	}
	teams := map[string]bool{}
	for _, t := range agent.Teams {
		teams[t] = true
	}

	serverTeamScoped := map[string]bool{}
	for id, srv := range s.mcpServers {
		if srv.TeamID != nil && teams[*srv.TeamID] {
			serverTeamScoped[id] = true
		}
	}

	var out []*collab.Tool
	for _, t := range s.tools {
		if t.McpServerID != nil && serverTeamScoped[*t.McpServerID] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) GetMcpHttpSession(_ context.Context, connectionKey string) (*collab.McpHttpSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[connectionKey]; ok {
		return sess, nil
	}
	return nil, nil
}

func (s *Store) PutMcpHttpSession(_ context.Context, session *collab.McpHttpSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ConnectionKey] = session
	return nil
}

func (s *Store) DeleteMcpHttpSession(_ context.Context, connectionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, connectionKey)
	return nil
}

func (s *Store) DisassociateSessionsForProcess(_ context.Context, processInstanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.SessionEndpointPodName != nil && *sess.SessionEndpointPodName == processInstanceID {
			sess.SessionEndpointPodName = nil
		}
	}
	return nil
}

func (s *Store) RecordInteraction(_ context.Context, interaction *collab.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions = append(s.interactions, interaction)
	return nil
}

// Interactions returns a snapshot of recorded interactions, for tests.
func (s *Store) Interactions() []*collab.Interaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*collab.Interaction{}, s.interactions...)
}

func (s *Store) FindLimits(_ context.Context, entityType collab.LimitEntityType, entityID string) ([]*collab.Limit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*collab.Limit
	for _, l := range s.limits {
		if l.EntityType == entityType && l.EntityID == entityID {
			out = append(out, l)
		}
	}
	return out, nil
}

func counterKey(limitID, model string) string { return limitID + "/" + model }

func (s *Store) GetOrCreateModelCounter(_ context.Context, limitID, model string) (*collab.LimitModelCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := counterKey(limitID, model)
	if c, ok := s.counters[key]; ok {
		return c, nil
	}
	c := &collab.LimitModelCounter{LimitID: limitID, Model: model}
	s.counters[key] = c
	return c, nil
}

func (s *Store) IncrementModelCounter(_ context.Context, limitID, model string, inDelta, outDelta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := counterKey(limitID, model)
	c, ok := s.counters[key]
	if !ok {
		c = &collab.LimitModelCounter{LimitID: limitID, Model: model}
		s.counters[key] = c
	}
	c.CurrentUsageTokensIn += inDelta
	c.CurrentUsageTokensOut += outDelta
	return nil
}

func (s *Store) FindStaleLimits(_ context.Context, cutoff time.Time) ([]*collab.Limit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*collab.Limit
	for _, l := range s.limits {
		if l.LastCleanup == nil || l.LastCleanup.Before(cutoff) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Store) ResetLimitCounters(_ context.Context, limitID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, c := range s.counters {
		if c.LimitID == limitID {
			c.CurrentUsageTokensIn = 0
			c.CurrentUsageTokensOut = 0
			s.counters[key] = c
		}
	}
	if l, ok := s.limits[limitID]; ok {
		t := now
		l.LastCleanup = &t
	}
	return nil
}
