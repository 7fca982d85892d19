package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateDefaults(t *testing.T) {
	warnings, err := Validate(Default())
	require.NoError(t, err)
	require.Empty(t, warnings)
}

func TestValidateRejectsInvalidConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty remote", func(c *Config) { c.Remote.Endpoint = " " }, "remote.endpoint"},
		{"zero dial timeout", func(c *Config) { c.Remote.DialTimeoutMS = 0 }, "remote.dial_timeout_ms"},
		{"zero finalize timeout", func(c *Config) { c.Remote.FinalizeTimeoutMS = 0 }, "remote.finalize_timeout_ms"},
		{"zero recognition dial timeout", func(c *Config) { c.Recognition.DialTimeoutMS = 0 }, "recognition.dial_timeout_ms"},
		{"empty language", func(c *Config) { c.Recognition.Language = "" }, "recognition.language"},
		{"threshold above one", func(c *Config) { c.Recognition.ConfidenceThreshold = 1.5 }, "confidence_threshold"},
		{"max below initial backoff", func(c *Config) { c.Recognition.Restart.MaxBackoffMS = 10 }, "max_backoff_ms"},
		{"negative attempts", func(c *Config) { c.Recognition.Restart.MaxAttempts = -1 }, "max_attempts"},
		{"empty fallback", func(c *Config) { c.Audio.Fallback = "" }, "audio.fallback"},
		{"sample rate", func(c *Config) { c.Audio.SampleRate = 4000 }, "audio.sample_rate"},
		{"chunk interval", func(c *Config) { c.Audio.ChunkIntervalMS = 20 }, "audio.chunk_interval_ms"},
		{"min level", func(c *Config) { c.Audio.MinLevel = 1 }, "audio.min_level"},
		{"events listen", func(c *Config) { c.Events.Listen = "nonsense" }, "events.listen"},
		{"serve listen", func(c *Config) { c.Serve.Listen = "" }, "serve.listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			_, err := Validate(cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateWarnsOnMissingRecognizer(t *testing.T) {
	cfg := Default()
	cfg.Recognition.Endpoint = ""
	cfg.Recognition.Continuous = false

	warnings, err := Validate(cfg)
	require.NoError(t, err)
	require.Len(t, warnings, 2)
	require.Contains(t, warnings[0].Message, "recognition-unsupported")
}
