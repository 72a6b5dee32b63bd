package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultReconnectPolicyIsFixed(t *testing.T) {
	p := DefaultReconnectPolicy()
	for attempt := 1; attempt <= 10; attempt++ {
		assert.Equal(t, 3*time.Second, p.NextDelay(attempt))
		assert.True(t, p.Allows(attempt))
	}
}

func TestReconnectPolicyBackoff(t *testing.T) {
	p := ReconnectPolicy{Delay: time.Second, MaxDelay: 5 * time.Second, MaxAttempts: 4}

	assert.Equal(t, time.Second, p.NextDelay(0))
	assert.Equal(t, time.Second, p.NextDelay(1))
	assert.Equal(t, 2*time.Second, p.NextDelay(2))
	assert.Equal(t, 4*time.Second, p.NextDelay(3))
	assert.Equal(t, 5*time.Second, p.NextDelay(4))
	assert.Equal(t, 5*time.Second, p.NextDelay(40))

	assert.True(t, p.Allows(4))
	assert.False(t, p.Allows(5))
}

func TestReconnectPolicyMaxBelowDelay(t *testing.T) {
	p := ReconnectPolicy{Delay: 2 * time.Second}
	assert.Equal(t, 2*time.Second, p.NextDelay(3))
}
