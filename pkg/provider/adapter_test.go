package provider

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archestra-ai/gateway/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Providers: map[string]config.ProviderConfig{},
		Retry:     config.RetryConfig{BaseMs: 1, MaxMs: 5, MaxRetries: 2},
	}
}

// TestNewRegistry_CoversAllTenProviders asserts the compile-time factory
// table is exhaustive over config.SupportedProviders.
func TestNewRegistry_CoversAllTenProviders(t *testing.T) {
	t.Parallel()
	r := NewRegistry(testConfig(), http.DefaultClient)
	for _, p := range config.SupportedProviders {
		a, err := r.Adapter(ID(p))
		require.NoErrorf(t, err, "provider %q missing from registry", p)
		assert.NotNil(t, a)
	}
}

func TestRegistry_Adapter_UnknownProviderErrors(t *testing.T) {
	t.Parallel()
	r := NewRegistry(testConfig(), http.DefaultClient)
	_, err := r.Adapter(ID("not-a-provider"))
	assert.Error(t, err)
}
