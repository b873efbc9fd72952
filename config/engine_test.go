package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEngineDefaults(t *testing.T) {
	t.Setenv("AGENT_BASE_URL", "http://agent:9000/")
	t.Setenv("AGENT_STREAM_URL", "ws://agent:9000/stream")

	cfg, err := LoadEngine()
	require.NoError(t, err)

	assert.Equal(t, "http://agent:9000", cfg.AgentBaseURL)
	assert.Equal(t, time.Second, cfg.QuietInterval)
	assert.Equal(t, 60*time.Second, cfg.BufferTTL)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 31*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 10*time.Minute, cfg.MaxStreamAge)
}

func TestLoadEngineOverrides(t *testing.T) {
	t.Setenv("AGENT_BASE_URL", "http://agent")
	t.Setenv("AGENT_STREAM_URL", "ws://agent/stream")
	t.Setenv("CHAT_QUIET_INTERVAL", "250ms")
	t.Setenv("AGENT_MAX_RETRIES", "0")
	t.Setenv("AGENT_WORKERS", "-3")
	t.Setenv("STREAM_IDLE_TIMEOUT", "garbage")

	cfg, err := LoadEngine()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.QuietInterval)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, DefaultEngine().GatewayWorkers, cfg.GatewayWorkers)
	assert.Equal(t, DefaultEngine().IdleTimeout, cfg.IdleTimeout)
}

func TestLoadEngineRequiresAgentURLs(t *testing.T) {
	t.Setenv("AGENT_BASE_URL", "")
	t.Setenv("AGENT_STREAM_URL", "ws://agent/stream")

	_, err := LoadEngine()
	require.Error(t, err)

	t.Setenv("AGENT_BASE_URL", "http://agent")
	t.Setenv("AGENT_STREAM_URL", "")
	_, err = LoadEngine()
	require.Error(t, err)
}
