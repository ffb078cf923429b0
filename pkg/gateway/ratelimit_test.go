package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAgentLimitersAllow(t *testing.T) {
	t.Parallel()

	created := 0
	limiters := newAgentLimiters(1, 2, func(n int) { created = n })

	assert.True(t, limiters.Allow("agent-1"))
	assert.True(t, limiters.Allow("agent-1"))
	assert.False(t, limiters.Allow("agent-1"), "burst of 2 exhausted on the third call")
	assert.Equal(t, 1, created)

	assert.True(t, limiters.Allow("agent-2"), "a different agent has its own independent bucket")
	assert.Equal(t, 2, created)
}

func TestAgentLimitersDefaults(t *testing.T) {
	t.Parallel()

	limiters := newAgentLimiters(0, 0, nil)
	assert.Equal(t, 10, limiters.burst)
}
