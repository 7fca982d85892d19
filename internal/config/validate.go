package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Remote.Endpoint) == "" {
		return nil, fmt.Errorf("remote.endpoint must not be empty")
	}
	if cfg.Remote.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("remote.dial_timeout_ms must be > 0")
	}
	if cfg.Remote.FinalizeTimeoutMS <= 0 {
		return nil, fmt.Errorf("remote.finalize_timeout_ms must be > 0")
	}

	if strings.TrimSpace(cfg.Recognition.Endpoint) == "" {
		warnings = append(warnings, Warning{Message: "recognition.endpoint is empty; sessions will fail with recognition-unsupported"})
	}
	if cfg.Recognition.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("recognition.dial_timeout_ms must be > 0")
	}
	if strings.TrimSpace(cfg.Recognition.Language) == "" {
		return nil, fmt.Errorf("recognition.language must not be empty")
	}
	if cfg.Recognition.MaxAlternatives < 1 {
		return nil, fmt.Errorf("recognition.max_alternatives must be >= 1")
	}
	if t := cfg.Recognition.ConfidenceThreshold; t < 0 || t > 1 {
		return nil, fmt.Errorf("recognition.confidence_threshold must be within [0, 1]")
	}
	restart := cfg.Recognition.Restart
	if restart.InitialBackoffMS < 0 {
		return nil, fmt.Errorf("recognition.restart.initial_backoff_ms must be >= 0")
	}
	if restart.MaxBackoffMS < restart.InitialBackoffMS {
		return nil, fmt.Errorf("recognition.restart.max_backoff_ms must be >= initial_backoff_ms")
	}
	if restart.MaxAttempts < 0 {
		return nil, fmt.Errorf("recognition.restart.max_attempts must be >= 0")
	}
	if !cfg.Recognition.Continuous {
		warnings = append(warnings, Warning{Message: "recognition.continuous=false; the recognizer may end the stream after the first utterance"})
	}

	if strings.TrimSpace(cfg.Audio.Input) == "" {
		return nil, fmt.Errorf("audio.input must not be empty")
	}
	if strings.TrimSpace(cfg.Audio.Fallback) == "" {
		return nil, fmt.Errorf("audio.fallback must not be empty")
	}
	if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 192000 {
		return nil, fmt.Errorf("audio.sample_rate must be within [8000, 192000]")
	}
	if cfg.Audio.ChunkIntervalMS < 100 {
		return nil, fmt.Errorf("audio.chunk_interval_ms must be >= 100")
	}
	if cfg.Audio.MinLevel < 0 || cfg.Audio.MinLevel >= 1 {
		return nil, fmt.Errorf("audio.min_level must be within [0, 1)")
	}
	if cfg.Audio.LevelWarnIntervalMS < 0 {
		return nil, fmt.Errorf("audio.level_warn_interval_ms must be >= 0")
	}

	if err := validateListen("events.listen", cfg.Events.Listen, true); err != nil {
		return nil, err
	}
	if err := validateListen("serve.listen", cfg.Serve.Listen, false); err != nil {
		return nil, err
	}

	return warnings, nil
}

func validateListen(key, addr string, optional bool) error {
	if strings.TrimSpace(addr) == "" {
		if optional {
			return nil
		}
		return fmt.Errorf("%s must not be empty", key)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s must be host:port: %w", key, err)
	}
	return nil
}
