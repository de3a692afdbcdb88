package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInCooldown_NeverTriggered(t *testing.T) {
	rule := &Rule{CooldownMinutes: 60}

	assert.False(t, InCooldown(rule, time.Now()))
}

func TestInCooldown_WindowBoundaries(t *testing.T) {
	now := time.Now()
	last := now.Add(-10 * time.Minute)
	rule := &Rule{CooldownMinutes: 10, LastTriggeredAt: &last}

	// Exactly at the boundary the window has elapsed.
	assert.False(t, InCooldown(rule, now))

	// An epsilon short of the window still suppresses.
	assert.True(t, InCooldown(rule, now.Add(-time.Millisecond)))

	// An epsilon past the window allows the next fire.
	assert.False(t, InCooldown(rule, now.Add(time.Millisecond)))
}

func TestInCooldown_ZeroWidthWindow(t *testing.T) {
	now := time.Now()
	rule := &Rule{CooldownMinutes: 0, LastTriggeredAt: &now}

	// A rule that fired this instant is immediately eligible again.
	assert.False(t, InCooldown(rule, now))
}

func TestInCooldown_InsideWindow(t *testing.T) {
	now := time.Now()
	last := now.Add(-5 * time.Minute)
	rule := &Rule{CooldownMinutes: 30, LastTriggeredAt: &last}

	assert.True(t, InCooldown(rule, now))
}

func TestCooldownWindow(t *testing.T) {
	assert.Equal(t, 45*time.Minute, CooldownWindow(&Rule{CooldownMinutes: 45}))
	assert.Equal(t, time.Duration(0), CooldownWindow(&Rule{}))
}
