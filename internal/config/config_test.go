package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear relevant env vars
	envVars := []string{
		"SERVICE_NAME", "SERVICE_PRINCIPAL", "SERVER_ADDR", "LOG_LEVEL",
		"PROVIDER_ORDER", "STT_LANGUAGE_CODE",
		"AUDIO_SAMPLE_RATE_HZ", "AUDIO_WINDOW_MS", "AUDIO_FORMAT",
		"DISPATCH_ATTEMPT_TIMEOUT", "DISPATCH_RETRIES_PER_PROVIDER",
		"DISPATCH_INFLIGHT_PER_SESSION",
		"SESSION_MAX_TOTAL", "SESSION_MAX_PER_CLIENT", "SESSION_IDLE_TIMEOUT",
		"REORDER_BUFFER_SIZE", "REORDER_MAX_WAIT",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_SEGMENTS_TOPIC",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}

	cfg := Load()

	if cfg.Service.Principal != "svc-voicebridge-stream" {
		t.Errorf("expected default principal 'svc-voicebridge-stream', got %s", cfg.Service.Principal)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected default addr ':8080', got %s", cfg.Server.Addr)
	}

	if cfg.Audio.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.Audio.SampleRateHz)
	}
	if cfg.Audio.WindowDuration != 200*time.Millisecond {
		t.Errorf("expected default window 200ms, got %v", cfg.Audio.WindowDuration)
	}
	if cfg.Audio.Format != "pcm16" {
		t.Errorf("expected default format 'pcm16', got %s", cfg.Audio.Format)
	}

	if len(cfg.Providers.Order) != 1 || cfg.Providers.Order[0] != "mock" {
		t.Errorf("expected default provider order [mock], got %v", cfg.Providers.Order)
	}

	if cfg.Dispatch.AttemptTimeout != 5*time.Second {
		t.Errorf("expected default attempt timeout 5s, got %v", cfg.Dispatch.AttemptTimeout)
	}
	if cfg.Dispatch.RetriesPerProvider != 1 {
		t.Errorf("expected default retries 1, got %d", cfg.Dispatch.RetriesPerProvider)
	}
	if cfg.Dispatch.InflightPerSession != 2 {
		t.Errorf("expected default inflight cap 2, got %d", cfg.Dispatch.InflightPerSession)
	}

	if cfg.Session.MaxSessions != 256 {
		t.Errorf("expected default max sessions 256, got %d", cfg.Session.MaxSessions)
	}
	if cfg.Session.IdleTimeout != 60*time.Second {
		t.Errorf("expected default idle timeout 60s, got %v", cfg.Session.IdleTimeout)
	}

	if cfg.Reorder.BufferSize != 8 {
		t.Errorf("expected default reorder buffer 8, got %d", cfg.Reorder.BufferSize)
	}
	if cfg.Reorder.MaxWait != 2*time.Second {
		t.Errorf("expected default reorder wait 2s, got %v", cfg.Reorder.MaxWait)
	}

	if cfg.Queue.Enabled {
		t.Error("expected queue disabled by default")
	}
	if cfg.Queue.SegmentsTopic != "voicebridge.audio.segments" {
		t.Errorf("unexpected default segments topic %s", cfg.Queue.SegmentsTopic)
	}

	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	set := map[string]string{
		"SERVICE_PRINCIPAL":             "custom-principal",
		"SERVER_ADDR":                   ":9999",
		"LOG_LEVEL":                     "debug",
		"PROVIDER_ORDER":                "openai, google ,mock",
		"AUDIO_SAMPLE_RATE_HZ":          "8000",
		"AUDIO_WINDOW_MS":               "250",
		"DISPATCH_ATTEMPT_TIMEOUT":      "2s",
		"DISPATCH_RETRIES_PER_PROVIDER": "0",
		"SESSION_MAX_TOTAL":             "10",
		"SESSION_IDLE_TIMEOUT":          "30s",
		"REORDER_BUFFER_SIZE":           "16",
		"RATE_LIMIT_RPS":                "2.5",
		"KAFKA_ENABLED":                 "true",
		"KAFKA_BROKERS":                 "k1:9092,k2:9092",
	}
	for k, v := range set {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range set {
			os.Unsetenv(k)
		}
	}()

	cfg := Load()

	if cfg.Service.Principal != "custom-principal" {
		t.Errorf("expected principal 'custom-principal', got %s", cfg.Service.Principal)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("expected addr ':9999', got %s", cfg.Server.Addr)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}

	want := []string{"openai", "google", "mock"}
	if len(cfg.Providers.Order) != len(want) {
		t.Fatalf("expected provider order %v, got %v", want, cfg.Providers.Order)
	}
	for i, p := range want {
		if cfg.Providers.Order[i] != p {
			t.Errorf("provider order[%d]: expected %s, got %s", i, p, cfg.Providers.Order[i])
		}
	}

	if cfg.Audio.SampleRateHz != 8000 {
		t.Errorf("expected sample rate 8000, got %d", cfg.Audio.SampleRateHz)
	}
	if cfg.Audio.WindowDuration != 250*time.Millisecond {
		t.Errorf("expected window 250ms, got %v", cfg.Audio.WindowDuration)
	}

	if cfg.Dispatch.AttemptTimeout != 2*time.Second {
		t.Errorf("expected attempt timeout 2s, got %v", cfg.Dispatch.AttemptTimeout)
	}
	if cfg.Dispatch.RetriesPerProvider != 0 {
		t.Errorf("expected retries 0, got %d", cfg.Dispatch.RetriesPerProvider)
	}

	if cfg.Session.MaxSessions != 10 {
		t.Errorf("expected max sessions 10, got %d", cfg.Session.MaxSessions)
	}
	if cfg.Reorder.BufferSize != 16 {
		t.Errorf("expected reorder buffer 16, got %d", cfg.Reorder.BufferSize)
	}
	if cfg.RateLimit.RequestsPerSecond != 2.5 {
		t.Errorf("expected rps 2.5, got %v", cfg.RateLimit.RequestsPerSecond)
	}

	if !cfg.Queue.Enabled {
		t.Error("expected queue enabled")
	}
	if len(cfg.Queue.Brokers) != 2 || cfg.Queue.Brokers[0] != "k1:9092" {
		t.Errorf("unexpected brokers %v", cfg.Queue.Brokers)
	}
}

func TestEnvDuration_Fallbacks(t *testing.T) {
	os.Setenv("AUDIO_WINDOW_MS", "not-a-duration")
	defer os.Unsetenv("AUDIO_WINDOW_MS")

	cfg := Load()
	if cfg.Audio.WindowDuration != 200*time.Millisecond {
		t.Errorf("expected fallback to default 200ms, got %v", cfg.Audio.WindowDuration)
	}
}
