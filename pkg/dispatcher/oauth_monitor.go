package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/archestra-ai/gateway/pkg/collab"
	"github.com/archestra-ai/gateway/pkg/logger"
)

// refreshFailedReason / noRefreshTokenReason are the oauthRefreshError
// values recorded on a server when token refresh fails.
const (
	refreshFailedReason   = "refresh_failed"
	noRefreshTokenReason  = "no_refresh_token"
)

// MonitoredTokenSource wraps an oauth2.TokenSource and latches the
// owning McpServer's oauthRefreshError/oauthRefreshFailedAt through
// collab.Store whenever a token can no longer be retrieved, so the
// Credential Resolver and admin UI see the failure without polling the
// upstream server directly.
type MonitoredTokenSource struct {
	tokenSource  oauth2.TokenSource
	mcpServerID  string
	store        collab.Store
	monitorCtx   context.Context
	stopMonitor  chan struct{}
	stopOnce     sync.Once
	timer        *time.Timer
}

// NewMonitoredTokenSource wraps tokenSource for mcpServerID, latching
// failures onto store.
func NewMonitoredTokenSource(ctx context.Context, tokenSource oauth2.TokenSource, mcpServerID string, store collab.Store) *MonitoredTokenSource {
	return &MonitoredTokenSource{
		tokenSource: tokenSource,
		mcpServerID: mcpServerID,
		store:       store,
		monitorCtx:  ctx,
		stopMonitor: make(chan struct{}),
	}
}

// Token retrieves a token, latching oauthRefreshError on failure.
func (m *MonitoredTokenSource) Token() (*oauth2.Token, error) {
	tok, err := m.tokenSource.Token()
	if err != nil {
		m.markFailed(fmt.Sprintf("token retrieval failed: %v", err))
		return nil, err
	}
	return tok, nil
}

// StartBackgroundMonitoring checks token validity at expiry and latches
// a failure if refresh no longer succeeds.
func (m *MonitoredTokenSource) StartBackgroundMonitoring() {
	if m.timer == nil {
		m.timer = time.NewTimer(time.Millisecond)
	}
	go m.monitorLoop()
}

func (m *MonitoredTokenSource) monitorLoop() {
	for {
		select {
		case <-m.monitorCtx.Done():
			m.stopTimer()
			return
		case <-m.stopMonitor:
			m.stopTimer()
			return
		case <-m.timer.C:
			shouldStop, next := m.onTick()
			if shouldStop {
				m.stopTimer()
				return
			}
			m.stopTimer()
			m.timer.Reset(next)
		}
	}
}

func (m *MonitoredTokenSource) stopTimer() {
	if m.timer != nil && !m.timer.Stop() {
		select {
		case <-m.timer.C:
		default:
		}
	}
}

func (m *MonitoredTokenSource) onTick() (bool, time.Duration) {
	tok, err := m.tokenSource.Token()
	if err != nil {
		m.markFailed(fmt.Sprintf("no valid token: %v", err))
		return true, 0
	}
	if tok.Expiry.IsZero() {
		return true, 0
	}
	wait := time.Until(tok.Expiry)
	if wait < time.Second {
		wait = time.Second
	}
	return false, wait
}

func (m *MonitoredTokenSource) markFailed(reason string) {
	now := time.Now()
	logger.Warnw("dispatcher: oauth token refresh failed", "mcpServerId", m.mcpServerID, "reason", reason)
	_ = m.store.UpdateMcpServerOAuthStatus(context.Background(), m.mcpServerID, strPtr(refreshFailedReason), &now)
	m.stopOnce.Do(func() { close(m.stopMonitor) })
}

func strPtr(s string) *string { return &s }
