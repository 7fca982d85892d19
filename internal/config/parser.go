package config

import (
	"encoding/json"
	"strings"
)

type jsoncConfig struct {
	Remote      *jsoncRemote      `json:"remote"`
	Recognition *jsoncRecognition `json:"recognition"`
	Audio       *jsoncAudio       `json:"audio"`
	Events      *jsoncListener    `json:"events"`
	Serve       *jsoncListener    `json:"serve"`
}

type jsoncRemote struct {
	Endpoint          *string `json:"endpoint"`
	DialTimeoutMS     *int    `json:"dial_timeout_ms"`
	FinalizeTimeoutMS *int    `json:"finalize_timeout_ms"`
}

type jsoncRecognition struct {
	Endpoint            *string       `json:"endpoint"`
	DialTimeoutMS       *int          `json:"dial_timeout_ms"`
	Language            *string       `json:"language"`
	Continuous          *bool         `json:"continuous"`
	InterimResults      *bool         `json:"interim_results"`
	MaxAlternatives     *int          `json:"max_alternatives"`
	ConfidenceThreshold *float64      `json:"confidence_threshold"`
	Restart             *jsoncRestart `json:"restart"`
}

type jsoncRestart struct {
	InitialBackoffMS *int `json:"initial_backoff_ms"`
	MaxBackoffMS     *int `json:"max_backoff_ms"`
	MaxAttempts      *int `json:"max_attempts"`
}

type jsoncAudio struct {
	Input               *string  `json:"input"`
	Fallback            *string  `json:"fallback"`
	EchoCancellation    *bool    `json:"echo_cancellation"`
	NoiseSuppression    *bool    `json:"noise_suppression"`
	AutoGainControl     *bool    `json:"auto_gain_control"`
	SampleRate          *int     `json:"sample_rate"`
	ChunkIntervalMS     *int     `json:"chunk_interval_ms"`
	MinLevel            *float64 `json:"min_level"`
	LevelWarnIntervalMS *int     `json:"level_warn_interval_ms"`
}

type jsoncListener struct {
	Listen *string `json:"listen"`
}

// Parse decodes JSONC content on top of base and validates the result.
// Blank content yields base unchanged.
func Parse(content string, base Config) (Config, []Warning, error) {
	cfg, err := decode(content, base)
	if err != nil {
		return Config{}, nil, err
	}
	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func decode(content string, base Config) (Config, error) {
	if strings.TrimSpace(content) == "" {
		return base, nil
	}

	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	payload.applyTo(&cfg)
	return cfg, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) {
	if r := payload.Remote; r != nil {
		setString(&cfg.Remote.Endpoint, r.Endpoint)
		setInt(&cfg.Remote.DialTimeoutMS, r.DialTimeoutMS)
		setInt(&cfg.Remote.FinalizeTimeoutMS, r.FinalizeTimeoutMS)
	}

	if r := payload.Recognition; r != nil {
		setString(&cfg.Recognition.Endpoint, r.Endpoint)
		setInt(&cfg.Recognition.DialTimeoutMS, r.DialTimeoutMS)
		setString(&cfg.Recognition.Language, r.Language)
		setBool(&cfg.Recognition.Continuous, r.Continuous)
		setBool(&cfg.Recognition.InterimResults, r.InterimResults)
		setInt(&cfg.Recognition.MaxAlternatives, r.MaxAlternatives)
		if r.ConfidenceThreshold != nil {
			cfg.Recognition.ConfidenceThreshold = *r.ConfidenceThreshold
		}
		if rs := r.Restart; rs != nil {
			setInt(&cfg.Recognition.Restart.InitialBackoffMS, rs.InitialBackoffMS)
			setInt(&cfg.Recognition.Restart.MaxBackoffMS, rs.MaxBackoffMS)
			setInt(&cfg.Recognition.Restart.MaxAttempts, rs.MaxAttempts)
		}
	}

	if a := payload.Audio; a != nil {
		setString(&cfg.Audio.Input, a.Input)
		setString(&cfg.Audio.Fallback, a.Fallback)
		setBool(&cfg.Audio.EchoCancellation, a.EchoCancellation)
		setBool(&cfg.Audio.NoiseSuppression, a.NoiseSuppression)
		setBool(&cfg.Audio.AutoGainControl, a.AutoGainControl)
		setInt(&cfg.Audio.SampleRate, a.SampleRate)
		setInt(&cfg.Audio.ChunkIntervalMS, a.ChunkIntervalMS)
		if a.MinLevel != nil {
			cfg.Audio.MinLevel = *a.MinLevel
		}
		setInt(&cfg.Audio.LevelWarnIntervalMS, a.LevelWarnIntervalMS)
	}

	if payload.Events != nil {
		setString(&cfg.Events.Listen, payload.Events.Listen)
	}
	if payload.Serve != nil {
		setString(&cfg.Serve.Listen, payload.Serve.Listen)
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}
