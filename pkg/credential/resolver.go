// Package credential implements the gateway's Credential Resolver: the
// seven-step priority lookup from (tenant, user, teams, agent,
// conversation, provider) to a concrete, dereferenced API key.
package credential

import (
	"context"
	"strings"

	"github.com/archestra-ai/gateway/pkg/collab"
	"github.com/archestra-ai/gateway/pkg/errors"
)

// providersUsableUnconfigured sends a placeholder token rather than
// failing outright when no credential resolves.
var providersUsableUnconfigured = map[string]bool{
	"vllm":   true,
	"ollama": true,
}

const placeholderToken = "placeholder"

// Request is the input to Resolve.
type Request struct {
	OrgID             string
	UserID            string // empty if the caller has no individual user (org token)
	UserTeamIDs       []string
	Provider          string
	ConversationID    string // empty if none
	AgentLlmAPIKeyID  string // empty if the agent has no configured key
	AgentID           string
	IsAdmin           bool
	GeminiVertexMode  bool
}

// Source identifies which priority step produced the resolved credential,
// mostly for observability/audit.
type Source string

// The priority sources, in resolution order.
const (
	SourceConversationPin Source = "conversation_pin"
	SourceAgentConfigured Source = "agent_configured"
	SourcePersonal        Source = "personal"
	SourceTeam            Source = "team"
	SourceOrgWide         Source = "org_wide"
	SourceEnvironment     Source = "environment"
	SourceUnconfigured    Source = "unconfigured"
	SourceVertexADC       Source = "vertex_adc"
)

// ResolvedCredential is the gateway's output: either a dereferenced secret
// value to use as the Authorization credential, or a marker that no key
// is configured (still usable for some providers).
type ResolvedCredential struct {
	Source        Source
	ChatAPIKeyID  string // empty for env/unconfigured/vertex sources
	Value         string // the dereferenced secret, placeholder token, or empty
	Unconfigured  bool
}

// EnvLookup resolves the last-resort environment-variable credential for
// a provider; pkg/config.ProviderConfig.APIKey satisfies this by closure.
type EnvLookup func(provider string) (apiKey string, ok bool)

// Resolver implements the seven-step credential resolution chain.
type Resolver struct {
	store       collab.Store
	secrets     collab.SecretStore
	envLookup   EnvLookup
	accessCheck *AccessChecker
}

// New constructs a Resolver.
func New(store collab.Store, secrets collab.SecretStore, envLookup EnvLookup) *Resolver {
	return &Resolver{
		store:       store,
		secrets:     secrets,
		envLookup:   envLookup,
		accessCheck: NewAccessChecker(),
	}
}

// Resolve implements the priority chain. It is idempotent given unchanged
// Store state ("Idempotence of resolver").
func (r *Resolver) Resolve(ctx context.Context, req Request) (*ResolvedCredential, error) {
	// Step 1: conversation pin.
	if req.ConversationID != "" {
		conv, err := r.store.GetConversation(ctx, req.ConversationID)
		if err != nil && !errors.IsNotFound(err) {
			return nil, err
		}
		if conv != nil && conv.ChatAPIKeyID != nil {
			key, err := r.store.GetChatAPIKey(ctx, *conv.ChatAPIKeyID)
			if err != nil && !errors.IsNotFound(err) {
				return nil, err
			}
			if key != nil && key.Provider == req.Provider {
				if key.ID == req.AgentLlmAPIKeyID {
					return r.dereference(ctx, SourceConversationPin, key)
				}
				allowed, err := r.accessCheck.CanView(ctx, key, req.UserID, req.UserTeamIDs, req.IsAdmin)
				if err != nil {
					return nil, err
				}
				if allowed {
					return r.dereference(ctx, SourceConversationPin, key)
				}
				// Pinned key exists but caller lacks access: fall through
				// to the rest of the chain rather than erroring, since a
				// later step may still resolve a usable key.
			}
		}
	}

	// Step 2: agent-configured key, permission flows through agent access.
	if req.AgentLlmAPIKeyID != "" {
		key, err := r.store.GetChatAPIKey(ctx, req.AgentLlmAPIKeyID)
		if err != nil && !errors.IsNotFound(err) {
			return nil, err
		}
		if key != nil && key.Provider == req.Provider {
			return r.dereference(ctx, SourceAgentConfigured, key)
		}
	}

	// Step 3: personal key.
	if req.UserID != "" {
		key, err := r.store.FindPersonalKey(ctx, req.OrgID, req.Provider, req.UserID)
		if err != nil {
			return nil, err
		}
		if key != nil {
			return r.dereference(ctx, SourcePersonal, key)
		}
	}

	// Step 4: first team key (oldest createdAt wins), across the caller's teams.
	if len(req.UserTeamIDs) > 0 {
		keys, err := r.store.FindTeamKeys(ctx, req.OrgID, req.Provider, req.UserTeamIDs)
		if err != nil {
			return nil, err
		}
		if len(keys) > 0 {
			return r.dereference(ctx, SourceTeam, keys[0])
		}
	}

	// Step 5: org-wide key.
	key, err := r.store.FindOrgWideKey(ctx, req.OrgID, req.Provider)
	if err != nil {
		return nil, err
	}
	if key != nil {
		return r.dereference(ctx, SourceOrgWide, key)
	}

	// Gemini Vertex AI mode needs no key at all.
	if req.Provider == "gemini" && req.GeminiVertexMode {
		return &ResolvedCredential{Source: SourceVertexADC, Unconfigured: false}, nil
	}

	// Step 6: environment fallback.
	if r.envLookup != nil {
		if apiKey, ok := r.envLookup(req.Provider); ok && apiKey != "" {
			return &ResolvedCredential{Source: SourceEnvironment, Value: apiKey}, nil
		}
	}

	// Step 7: unconfigured.
	if providersUsableUnconfigured[strings.ToLower(req.Provider)] {
		return &ResolvedCredential{Source: SourceUnconfigured, Value: placeholderToken, Unconfigured: true}, nil
	}

	return &ResolvedCredential{Source: SourceUnconfigured, Unconfigured: true}, nil
}

// dereference resolves key's Secret (including vault-reference indirection)
// into the final credential value.
func (r *Resolver) dereference(ctx context.Context, source Source, key *collab.ChatApiKey) (*ResolvedCredential, error) {
	if key.SecretID == nil {
		return nil, errors.NewMisconfiguredError("resolved chat api key has no secret", nil)
	}

	secret, err := r.secrets.Get(ctx, *key.SecretID)
	if err != nil {
		return nil, err
	}

	value, err := r.resolveSecretValue(ctx, secret.Value)
	if err != nil {
		return nil, err
	}

	return &ResolvedCredential{Source: source, ChatAPIKeyID: key.ID, Value: value}, nil
}

// resolveSecretValue dereferences a vault-reference string of the form
// "path#key" through SecretStore; a plain value is returned as-is.
func (r *Resolver) resolveSecretValue(ctx context.Context, raw string) (string, error) {
	path, key, isVaultRef := splitVaultRef(raw)
	if !isVaultRef {
		return raw, nil
	}
	return r.secrets.ResolveVault(ctx, path, key)
}

func splitVaultRef(raw string) (path, key string, ok bool) {
	idx := strings.Index(raw, "#")
	if idx < 0 {
		return "", "", false
	}
	return raw[:idx], raw[idx+1:], true
}
