// Package gateway implements the HTTP ingress: request authentication,
// context propagation, the Credential Resolver, the Provider Router
// (including the agentic tool-call loop against the MCP Tool
// Dispatcher), and Usage Metering, wired together behind a chi router.
package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/archestra-ai/gateway/pkg/collab"
	"github.com/archestra-ai/gateway/pkg/config"
	"github.com/archestra-ai/gateway/pkg/credential"
	"github.com/archestra-ai/gateway/pkg/dispatcher"
	"github.com/archestra-ai/gateway/pkg/errors"
	"github.com/archestra-ai/gateway/pkg/ids"
	"github.com/archestra-ai/gateway/pkg/provider"
	"github.com/archestra-ai/gateway/pkg/usage"
)

// Gateway wires together every component the HTTP ingress depends on.
type Gateway struct {
	store      collab.Store
	registry   *provider.Registry
	resolver   *credential.Resolver
	guard      *usage.Guard
	recorder   *usage.Recorder
	dispatcher *dispatcher.Dispatcher
	identity   collab.IdentityProvider

	geminiVertexMode bool

	limiters *agentLimiters
	metrics  *metrics
}

// Option customizes a Gateway at construction time.
type Option func(*Gateway)

// WithIdentityProvider installs the IdentityProvider used to authenticate
// inbound bearer tokens. Without one, requests are trusted as-is (used by
// tests and by deployments that terminate auth upstream of the gateway).
func WithIdentityProvider(p collab.IdentityProvider) Option {
	return func(g *Gateway) { g.identity = p }
}

// WithRateLimit sets the per-agent token-bucket rate (requests/second)
// and burst size for the HTTP ingress limiter.
func WithRateLimit(rps float64, burst int) Option {
	return func(g *Gateway) {
		g.limiters = newAgentLimiters(rps, burst, func(n int) { g.metrics.activeLimiters.Set(float64(n)) })
	}
}

// WithPrometheusRegisterer registers the gateway's metrics against reg
// instead of the default: pass nil to skip registration entirely (tests).
func WithPrometheusRegisterer(reg prometheus.Registerer) Option {
	return func(g *Gateway) { g.metrics = newMetrics(reg) }
}

// New constructs a Gateway. registry, resolver, guard, recorder, and disp
// must be non-nil; store is the same Store instance passed to resolver/
// recorder/guard, kept here for agent/tool lookups the ingress layer
// itself needs. cfg supplies the Gemini Vertex AI toggle the Credential
// Resolver needs at request time.
func New(store collab.Store, registry *provider.Registry, resolver *credential.Resolver, guard *usage.Guard, recorder *usage.Recorder, disp *dispatcher.Dispatcher, cfg *config.Config, opts ...Option) *Gateway {
	g := &Gateway{
		store:      store,
		registry:   registry,
		resolver:   resolver,
		guard:      guard,
		recorder:   recorder,
		dispatcher: disp,
	}
	if cfg != nil {
		g.geminiVertexMode = cfg.GeminiVertex.Enabled
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.limiters == nil {
		g.limiters = newAgentLimiters(0, 0, nil)
	}
	if g.metrics == nil {
		g.metrics = newMetrics(prometheus.DefaultRegisterer)
	}
	return g
}

// Router builds the chi mux for the gateway's external interface:
// POST /v1/{provider}/{agentId}[/...] plus a Prometheus scrape endpoint.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1/{provider}/{agentId}", func(r chi.Router) {
		if g.identity != nil {
			r.Use(g.authenticate)
		}
		r.Post("/", g.handleChat)
		r.Post("/*", g.handleChat)
	})

	return r
}

// authenticate validates the Authorization bearer token through the
// configured IdentityProvider and stores the resulting
// pkg/collab.TokenAuthContext on the request context. pkg/auth's own
// JWTValidator.Middleware does the equivalent for pkg/auth.TokenAuthContext;
// this is the mirror-type conversion at the HTTP boundary that keeps
// pkg/collab free of an import-cycle dependency on pkg/auth.
func (g *Gateway) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" || token == authHeader {
			writeError(w, errors.NewAuthenticationError("missing or malformed Authorization header", nil))
			return
		}

		tac, err := g.identity.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, errors.NewAuthenticationError("token validation failed", err))
			return
		}

		ctx := withTokenAuthContext(r.Context(), tac)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tokenAuthContextKey mirrors pkg/auth's private context key so
// pkg/collab.TokenAuthContext round-trips through request context without
// pkg/gateway needing to import pkg/auth for anything but the JWT
// validator construction in cmd/archestra-gateway.
type tokenAuthContextKey struct{}

func withTokenAuthContext(ctx context.Context, tac collab.TokenAuthContext) context.Context {
	return context.WithValue(ctx, tokenAuthContextKey{}, tac)
}

func tokenAuthContextFromContext(ctx context.Context) (collab.TokenAuthContext, bool) {
	tac, ok := ctx.Value(tokenAuthContextKey{}).(collab.TokenAuthContext)
	return tac, ok
}

// findAgentTool resolves a model-requested tool name into a callable
// Tool + its owning McpCatalogItem, scoped to agentID, matching
// case-insensitively the same way the Dispatcher resolves
// server-advertised tool names.
func (g *Gateway) findAgentTool(ctx context.Context, agentID, name string) (*collab.Tool, *collab.McpCatalogItem, error) {
	tools, err := g.store.FindAgentTools(ctx, agentID)
	if err != nil {
		return nil, nil, err
	}
	lower := strings.ToLower(name)
	for _, t := range tools {
		if strings.ToLower(t.Name) != lower {
			continue
		}
		if t.CatalogID == nil {
			return nil, nil, errors.NewMisconfiguredError("tool has no catalog item", nil)
		}
		catalog, err := g.store.GetMcpCatalogItem(ctx, *t.CatalogID)
		if err != nil {
			return nil, nil, err
		}
		return t, catalog, nil
	}
	return nil, nil, errors.NewNotFoundError("no tool named "+name+" available to this agent", nil)
}

// newInteractionID is a thin wrapper kept so chat.go doesn't import
// pkg/ids directly for the one call site.
func newInteractionID() string { return ids.New() }
