// Package config loads the service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration holds all settings for the stream service.
type Configuration struct {
	Service       ServiceConfig
	Server        ServerConfig
	Audio         AudioConfig
	Providers     ProviderConfig
	Dispatch      DispatchConfig
	Session       SessionConfig
	Reorder       ReorderConfig
	RateLimit     RateLimitConfig
	Queue         QueueConfig
	Observability ObservabilityConfig
}

// ServiceConfig identifies the service instance.
type ServiceConfig struct {
	Name      string
	Principal string
	// AuthToken, when non-empty, must match the token query parameter of the
	// websocket handshake. Empty means the connection is accepted as-is; full
	// authentication is an external collaborator's concern.
	AuthToken string
}

// ServerConfig configures the public HTTP/websocket listener.
type ServerConfig struct {
	Addr            string
	ReadBufferSize  int
	WriteBufferSize int
	KeepaliveEvery  time.Duration
}

// AudioConfig describes the inbound PCM stream and the assembler window.
type AudioConfig struct {
	SampleRateHz   int
	Channels       int
	BytesPerSample int
	WindowDuration time.Duration
	Format         string
}

// ProviderConfig selects and orders the transcription backends.
type ProviderConfig struct {
	// Order is the fallback order, e.g. "openai,google,mock".
	Order        []string
	OpenAIAPIKey string
	OpenAIModel  string
	LanguageCode string
}

// DispatchConfig bounds provider calls.
type DispatchConfig struct {
	AttemptTimeout     time.Duration
	RetriesPerProvider int
	InflightPerSession int
	PendingSegments    int
	AttemptLogSize     int
}

// SessionConfig bounds session lifecycle and admission.
type SessionConfig struct {
	MaxSessions    int
	MaxPerClient   int
	IdleTimeout    time.Duration
	DrainGrace     time.Duration
	OutboundBuffer int
	ReapInterval   time.Duration
}

// ReorderConfig bounds the per-session reorder buffer.
type ReorderConfig struct {
	BufferSize int
	MaxWait    time.Duration
}

// RateLimitConfig configures the per-client token buckets. Session admission
// and audio frames draw from separate buckets so a streaming client cannot
// starve its own reconnects.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	FramesPerSecond   float64
	FramesBurst       int
}

// QueueConfig configures the optional Kafka scale-out path.
type QueueConfig struct {
	Enabled        bool
	Brokers        []string
	SegmentsTopic  string
	ResultsTopic   string
	GroupID        string
	Workers        int
	PublishTimeout time.Duration
}

// ObservabilityConfig configures logging and the metrics listener.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Load builds the Configuration from the environment, falling back to
// defaults suitable for local development.
func Load() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Name:      envOrDefault("SERVICE_NAME", "voicebridge-stream"),
			Principal: envOrDefault("SERVICE_PRINCIPAL", "svc-voicebridge-stream"),
			AuthToken: envOrDefault("AUTH_TOKEN", ""),
		},
		Server: ServerConfig{
			Addr:            envOrDefault("SERVER_ADDR", ":8080"),
			ReadBufferSize:  envInt("WS_READ_BUFFER_BYTES", 4096),
			WriteBufferSize: envInt("WS_WRITE_BUFFER_BYTES", 4096),
			KeepaliveEvery:  envDuration("WS_KEEPALIVE_EVERY", time.Second),
		},
		Audio: AudioConfig{
			SampleRateHz:   envInt("AUDIO_SAMPLE_RATE_HZ", 16000),
			Channels:       envInt("AUDIO_CHANNELS", 1),
			BytesPerSample: envInt("AUDIO_BYTES_PER_SAMPLE", 2),
			WindowDuration: envDuration("AUDIO_WINDOW_MS", 200*time.Millisecond),
			Format:         envOrDefault("AUDIO_FORMAT", "pcm16"),
		},
		Providers: ProviderConfig{
			Order:        envStrings("PROVIDER_ORDER", []string{"mock"}),
			OpenAIAPIKey: envOrDefault("OPENAI_API_KEY", ""),
			OpenAIModel:  envOrDefault("OPENAI_WHISPER_MODEL", "whisper-1"),
			LanguageCode: envOrDefault("STT_LANGUAGE_CODE", "en-US"),
		},
		Dispatch: DispatchConfig{
			AttemptTimeout:     envDuration("DISPATCH_ATTEMPT_TIMEOUT", 5*time.Second),
			RetriesPerProvider: envInt("DISPATCH_RETRIES_PER_PROVIDER", 1),
			InflightPerSession: envInt("DISPATCH_INFLIGHT_PER_SESSION", 2),
			PendingSegments:    envInt("DISPATCH_PENDING_SEGMENTS", 32),
			AttemptLogSize:     envInt("DISPATCH_ATTEMPT_LOG_SIZE", 256),
		},
		Session: SessionConfig{
			MaxSessions:    envInt("SESSION_MAX_TOTAL", 256),
			MaxPerClient:   envInt("SESSION_MAX_PER_CLIENT", 5),
			IdleTimeout:    envDuration("SESSION_IDLE_TIMEOUT", 60*time.Second),
			DrainGrace:     envDuration("SESSION_DRAIN_GRACE", 5*time.Second),
			OutboundBuffer: envInt("SESSION_OUTBOUND_BUFFER", 64),
			ReapInterval:   envDuration("SESSION_REAP_INTERVAL", 10*time.Second),
		},
		Reorder: ReorderConfig{
			BufferSize: envInt("REORDER_BUFFER_SIZE", 8),
			MaxWait:    envDuration("REORDER_MAX_WAIT", 2*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloat("RATE_LIMIT_RPS", 10),
			Burst:             envInt("RATE_LIMIT_BURST", 20),
			FramesPerSecond:   envFloat("RATE_LIMIT_FRAMES_RPS", 50),
			FramesBurst:       envInt("RATE_LIMIT_FRAMES_BURST", 100),
		},
		Queue: QueueConfig{
			Enabled:        envBool("KAFKA_ENABLED", false),
			Brokers:        envStrings("KAFKA_BROKERS", nil),
			SegmentsTopic:  envOrDefault("KAFKA_SEGMENTS_TOPIC", "voicebridge.audio.segments"),
			ResultsTopic:   envOrDefault("KAFKA_RESULTS_TOPIC", "voicebridge.transcription.results"),
			GroupID:        envOrDefault("KAFKA_GROUP_ID", "voicebridge-dispatch"),
			Workers:        envInt("KAFKA_WORKERS", 4),
			PublishTimeout: envDuration("KAFKA_PUBLISH_TIMEOUT", 10*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// envDuration accepts either a Go duration string ("250ms") or, for *_MS
// keys, a bare millisecond count.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && strings.HasSuffix(key, "_MS") {
		return time.Duration(n) * time.Millisecond
	}
	return def
}

func envStrings(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
