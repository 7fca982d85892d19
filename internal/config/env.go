package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. MURMUR_REMOTE_ENDPOINT.
const EnvPrefix = "MURMUR"

type envBinding struct {
	key   string
	apply func(cfg *Config, raw string) error
}

var envBindings = []envBinding{
	{"remote.endpoint", stringEnv(func(c *Config) *string { return &c.Remote.Endpoint })},
	{"remote.dial_timeout_ms", intEnv(func(c *Config) *int { return &c.Remote.DialTimeoutMS })},
	{"remote.finalize_timeout_ms", intEnv(func(c *Config) *int { return &c.Remote.FinalizeTimeoutMS })},
	{"recognition.endpoint", stringEnv(func(c *Config) *string { return &c.Recognition.Endpoint })},
	{"recognition.dial_timeout_ms", intEnv(func(c *Config) *int { return &c.Recognition.DialTimeoutMS })},
	{"recognition.language", stringEnv(func(c *Config) *string { return &c.Recognition.Language })},
	{"recognition.continuous", boolEnv(func(c *Config) *bool { return &c.Recognition.Continuous })},
	{"recognition.interim_results", boolEnv(func(c *Config) *bool { return &c.Recognition.InterimResults })},
	{"recognition.max_alternatives", intEnv(func(c *Config) *int { return &c.Recognition.MaxAlternatives })},
	{"recognition.confidence_threshold", floatEnv(func(c *Config) *float64 { return &c.Recognition.ConfidenceThreshold })},
	{"recognition.restart.initial_backoff_ms", intEnv(func(c *Config) *int { return &c.Recognition.Restart.InitialBackoffMS })},
	{"recognition.restart.max_backoff_ms", intEnv(func(c *Config) *int { return &c.Recognition.Restart.MaxBackoffMS })},
	{"recognition.restart.max_attempts", intEnv(func(c *Config) *int { return &c.Recognition.Restart.MaxAttempts })},
	{"audio.input", stringEnv(func(c *Config) *string { return &c.Audio.Input })},
	{"audio.fallback", stringEnv(func(c *Config) *string { return &c.Audio.Fallback })},
	{"audio.echo_cancellation", boolEnv(func(c *Config) *bool { return &c.Audio.EchoCancellation })},
	{"audio.noise_suppression", boolEnv(func(c *Config) *bool { return &c.Audio.NoiseSuppression })},
	{"audio.auto_gain_control", boolEnv(func(c *Config) *bool { return &c.Audio.AutoGainControl })},
	{"audio.sample_rate", intEnv(func(c *Config) *int { return &c.Audio.SampleRate })},
	{"audio.chunk_interval_ms", intEnv(func(c *Config) *int { return &c.Audio.ChunkIntervalMS })},
	{"audio.min_level", floatEnv(func(c *Config) *float64 { return &c.Audio.MinLevel })},
	{"audio.level_warn_interval_ms", intEnv(func(c *Config) *int { return &c.Audio.LevelWarnIntervalMS })},
	{"events.listen", stringEnv(func(c *Config) *string { return &c.Events.Listen })},
	{"serve.listen", stringEnv(func(c *Config) *string { return &c.Serve.Listen })},
}

// ApplyEnv overlays MURMUR_<SECTION>_<KEY> environment variables onto cfg.
// It returns one warning per applied override.
func ApplyEnv(cfg *Config) ([]Warning, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	warnings := make([]Warning, 0)
	for _, binding := range envBindings {
		if err := v.BindEnv(binding.key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", binding.key, err)
		}
		if !v.IsSet(binding.key) {
			continue
		}
		raw := strings.TrimSpace(v.GetString(binding.key))
		if err := binding.apply(cfg, raw); err != nil {
			return nil, fmt.Errorf("%s: %w", envName(binding.key), err)
		}
		warnings = append(warnings, Warning{Message: fmt.Sprintf("%s overridden by %s", binding.key, envName(binding.key))})
	}
	return warnings, nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func stringEnv(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, raw string) error {
		*field(c) = raw
		return nil
	}
}

func intEnv(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, raw string) error {
		n, err := cast.ToIntE(raw)
		if err != nil {
			return fmt.Errorf("expected integer, got %q", raw)
		}
		*field(c) = n
		return nil
	}
}

func floatEnv(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, raw string) error {
		f, err := cast.ToFloat64E(raw)
		if err != nil {
			return fmt.Errorf("expected number, got %q", raw)
		}
		*field(c) = f
		return nil
	}
}

func boolEnv(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, raw string) error {
		b, err := cast.ToBoolE(raw)
		if err != nil {
			return fmt.Errorf("expected boolean, got %q", raw)
		}
		*field(c) = b
		return nil
	}
}
