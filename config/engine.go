package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Engine holds the tunables of the chat streaming engine.
type Engine struct {
	Port string

	// AI agent endpoints
	AgentBaseURL   string // outbound HTTP: /chat, /chat/stop, /health
	AgentStreamURL string // inbound websocket push connection
	AgentToken     string

	// typing buffer + debounce
	BufferTTL     time.Duration
	QuietInterval time.Duration
	TimerPoolSize int

	// health monitor
	HealthInterval time.Duration
	ProbeTimeout   time.Duration

	// gateway client
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	GatewayWorkers int
	GatewayQueue   int

	// ingester
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration

	// reapers
	IdleTimeout         time.Duration
	IdleReapInterval    time.Duration
	MaxStreamAge        time.Duration
	OverdueReapInterval time.Duration

	// persistence + notifier
	PersistTimeout  time.Duration
	NotifyQueueSize int
	JournalTTL      time.Duration

	JWTSecret string
}

// DefaultEngine returns the engine defaults.
func DefaultEngine() Engine {
	return Engine{
		Port:                "8080",
		BufferTTL:           60 * time.Second,
		QuietInterval:       1 * time.Second,
		TimerPoolSize:       16,
		HealthInterval:      30 * time.Second,
		ProbeTimeout:        10 * time.Second,
		RequestTimeout:      10 * time.Second,
		MaxRetries:          2,
		RetryBackoff:        1 * time.Second,
		GatewayWorkers:      4,
		GatewayQueue:        256,
		ReconnectDelay:      3 * time.Second,
		HandshakeTimeout:    10 * time.Second,
		IdleTimeout:         31 * time.Second,
		IdleReapInterval:    30 * time.Second,
		MaxStreamAge:        10 * time.Minute,
		OverdueReapInterval: 10 * time.Minute,
		PersistTimeout:      5 * time.Second,
		NotifyQueueSize:     1024,
		JournalTTL:          7 * 24 * time.Hour,
	}
}

// LoadEngine reads engine settings from the environment on top of DefaultEngine.
func LoadEngine() (Engine, error) {
	d := DefaultEngine()
	cfg := Engine{
		Port:                envString("PORT", d.Port),
		AgentBaseURL:        strings.TrimRight(envString("AGENT_BASE_URL", ""), "/"),
		AgentStreamURL:      envString("AGENT_STREAM_URL", ""),
		AgentToken:          envString("AGENT_TOKEN", ""),
		BufferTTL:           envDuration("CHAT_BUFFER_TTL", d.BufferTTL),
		QuietInterval:       envDuration("CHAT_QUIET_INTERVAL", d.QuietInterval),
		TimerPoolSize:       envInt("CHAT_TIMER_POOL", d.TimerPoolSize),
		HealthInterval:      envDuration("AGENT_HEALTH_INTERVAL", d.HealthInterval),
		ProbeTimeout:        envDuration("AGENT_PROBE_TIMEOUT", d.ProbeTimeout),
		RequestTimeout:      envDuration("AGENT_REQUEST_TIMEOUT", d.RequestTimeout),
		MaxRetries:          envNonNegInt("AGENT_MAX_RETRIES", d.MaxRetries),
		RetryBackoff:        envDuration("AGENT_RETRY_BACKOFF", d.RetryBackoff),
		GatewayWorkers:      envInt("AGENT_WORKERS", d.GatewayWorkers),
		GatewayQueue:        envInt("AGENT_QUEUE", d.GatewayQueue),
		ReconnectDelay:      envDuration("AGENT_RECONNECT_DELAY", d.ReconnectDelay),
		HandshakeTimeout:    envDuration("AGENT_HANDSHAKE_TIMEOUT", d.HandshakeTimeout),
		IdleTimeout:         envDuration("STREAM_IDLE_TIMEOUT", d.IdleTimeout),
		IdleReapInterval:    envDuration("STREAM_IDLE_REAP_INTERVAL", d.IdleReapInterval),
		MaxStreamAge:        envDuration("STREAM_MAX_AGE", d.MaxStreamAge),
		OverdueReapInterval: envDuration("STREAM_OVERDUE_REAP_INTERVAL", d.OverdueReapInterval),
		PersistTimeout:      envDuration("CHAT_PERSIST_TIMEOUT", d.PersistTimeout),
		NotifyQueueSize:     envInt("CHAT_NOTIFY_QUEUE", d.NotifyQueueSize),
		JournalTTL:          envDuration("STREAM_JOURNAL_TTL", d.JournalTTL),
		JWTSecret:           envString("JWT_SECRET", ""),
	}

	if cfg.AgentBaseURL == "" {
		return cfg, errors.New("AGENT_BASE_URL environment variable is not set")
	}
	if cfg.AgentStreamURL == "" {
		return cfg, errors.New("AGENT_STREAM_URL environment variable is not set")
	}
	return cfg, nil
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// envNonNegInt accepts 0 (e.g. "no retries").
func envNonNegInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
