// Package main is the entry point for the Archestra gateway.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/archestra-ai/gateway/pkg/auth"
	"github.com/archestra-ai/gateway/pkg/collab/memstore"
	"github.com/archestra-ai/gateway/pkg/config"
	"github.com/archestra-ai/gateway/pkg/credential"
	"github.com/archestra-ai/gateway/pkg/dispatcher"
	"github.com/archestra-ai/gateway/pkg/gateway"
	"github.com/archestra-ai/gateway/pkg/ids"
	"github.com/archestra-ai/gateway/pkg/logger"
	"github.com/archestra-ai/gateway/pkg/provider"
	"github.com/archestra-ai/gateway/pkg/usage"
)

func main() {
	logger.Initialize()

	cfg, err := config.Load(os.Getenv("ARCHESTRA_CONFIG_FILE"))
	if err != nil {
		logger.Errorw("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// The reference single-process deployment backs Store/SecretStore/
	// PodOrchestrator with in-memory implementations. A production
	// deployment swaps Store for a database-backed implementation and
	// PodOrchestrator for a Kubernetes-backed one; both are external
	// collaborators this module only defines the interface for.
	store := memstore.New()
	secrets := memstore.NewSecretStore()
	pods := memstore.NewPodOrchestrator()

	registry := provider.NewRegistry(cfg, http.DefaultClient)

	envLookup := func(p string) (string, bool) {
		pc, ok := cfg.Providers[p]
		if !ok || pc.APIKey == "" {
			return "", false
		}
		return pc.APIKey, true
	}
	resolver := credential.New(store, secrets, envLookup)
	guard := usage.NewGuard(store, nil)
	recorder := usage.NewRecorder(store)

	dialer := dispatcher.NewPodDialer(store, secrets, pods, int64(cfg.HTTPConcurrencyLimit))
	disp := dispatcher.NewDispatcher(store, secrets, pods, dialer, int64(cfg.HTTPConcurrencyLimit))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []gateway.Option{
		gateway.WithRateLimit(5, 10),
	}

	if jwtCfg := auth.NewJWTValidatorConfig(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWKSURL, cfg.JWTClientID); jwtCfg != nil {
		validator, err := auth.NewJWTValidator(ctx, *jwtCfg)
		if err != nil {
			logger.Errorw("failed to construct JWT validator", "error", err)
			os.Exit(1)
		}
		opts = append(opts, gateway.WithIdentityProvider(gateway.JWTIdentityProvider{Validator: validator}))
	} else {
		logger.Warn("no JWT issuer/audience/JWKS configured; running with auth disabled")
	}

	gw := gateway.New(store, registry, resolver, guard, recorder, disp, cfg, opts...)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      gw.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	processInstanceID := ids.New()

	go func() {
		logger.Infow("archestra-gateway listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("gateway server stopped unexpectedly", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down archestra-gateway")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("error during graceful shutdown", "error", err)
	}

	if err := disp.Close(); err != nil {
		logger.Errorw("error closing mcp connection pool", "error", err)
	}

	if err := store.DisassociateSessionsForProcess(shutdownCtx, processInstanceID); err != nil {
		logger.Errorw("error disassociating sessions for process", "error", err)
	}
}
