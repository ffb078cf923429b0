package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/archestra-ai/gateway/pkg/collab"
	"github.com/archestra-ai/gateway/pkg/collab/memstore"
)

type mockTokenSource struct {
	mu        sync.Mutex
	tokenFn   func() (*oauth2.Token, error)
	callCount int
}

func newMockTokenSource(fn func() (*oauth2.Token, error)) *mockTokenSource {
	return &mockTokenSource{tokenFn: fn}
}

func (m *mockTokenSource) Token() (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	return m.tokenFn()
}

func TestMonitoredTokenSource_SuccessfulRetrievalDoesNotLatchFailure(t *testing.T) {
	t.Parallel()
	store := memstore.New()
	store.PutMcpServer(&collab.McpServer{ID: "srv-1", CatalogID: "cat-1"})

	valid := &oauth2.Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)}
	ts := newMockTokenSource(func() (*oauth2.Token, error) { return valid, nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mts := NewMonitoredTokenSource(ctx, ts, "srv-1", store)

	tok, err := mts.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "tok" {
		t.Errorf("AccessToken = %q, want tok", tok.AccessToken)
	}

	srv, _ := store.GetMcpServer(context.Background(), "srv-1")
	if srv.OAuthRefreshError != nil {
		t.Errorf("OAuthRefreshError = %v, want nil after a successful fetch", *srv.OAuthRefreshError)
	}
}

func TestMonitoredTokenSource_FailureLatchesRefreshError(t *testing.T) {
	t.Parallel()
	store := memstore.New()
	store.PutMcpServer(&collab.McpServer{ID: "srv-1", CatalogID: "cat-1"})

	ts := newMockTokenSource(func() (*oauth2.Token, error) {
		return nil, errors.New("invalid_grant: refresh token expired")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mts := NewMonitoredTokenSource(ctx, ts, "srv-1", store)

	if _, err := mts.Token(); err == nil {
		t.Fatal("expected error")
	}

	srv, _ := store.GetMcpServer(context.Background(), "srv-1")
	if srv.OAuthRefreshError == nil {
		t.Fatal("expected OAuthRefreshError to be latched")
	}
	if srv.OAuthRefreshFailedAt == nil {
		t.Fatal("expected OAuthRefreshFailedAt to be stamped")
	}
}

func TestMonitoredTokenSource_BackgroundMonitoringStopsAfterFailure(t *testing.T) {
	t.Parallel()
	store := memstore.New()
	store.PutMcpServer(&collab.McpServer{ID: "srv-1", CatalogID: "cat-1"})

	ts := newMockTokenSource(func() (*oauth2.Token, error) {
		return nil, errors.New("token expired")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mts := NewMonitoredTokenSource(ctx, ts, "srv-1", store)
	mts.StartBackgroundMonitoring()

	select {
	case <-mts.stopMonitor:
	case <-time.After(2 * time.Second):
		t.Fatal("expected monitor loop to stop after a failed refresh")
	}
}
