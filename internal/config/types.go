// Package config resolves, parses, validates, and defaults murmur configuration.
package config

import "time"

// Config is the fully materialized runtime configuration used by murmur.
type Config struct {
	Remote      RemoteConfig
	Recognition RecognitionConfig
	Audio       AudioConfig
	Events      EventsConfig
	Serve       ServeConfig
}

// RemoteConfig addresses the transcription service that owns recordings.
type RemoteConfig struct {
	Endpoint          string
	DialTimeoutMS     int
	FinalizeTimeoutMS int
}

// DialTimeout returns the connection readiness budget.
func (c RemoteConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMS) * time.Millisecond
}

// FinalizeTimeout returns the budget for draining and finalizing a session.
func (c RemoteConfig) FinalizeTimeout() time.Duration {
	return time.Duration(c.FinalizeTimeoutMS) * time.Millisecond
}

// RecognitionConfig controls the streaming recognizer and result reconciliation.
type RecognitionConfig struct {
	Endpoint            string
	DialTimeoutMS       int
	Language            string
	Continuous          bool
	InterimResults      bool
	MaxAlternatives     int
	ConfidenceThreshold float64
	Restart             RestartConfig
}

// DialTimeout returns the recognizer readiness budget.
func (c RecognitionConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMS) * time.Millisecond
}

// RestartConfig bounds reconnection after the recognizer ends a stream.
// MaxAttempts 0 means unlimited.
type RestartConfig struct {
	InitialBackoffMS int
	MaxBackoffMS     int
	MaxAttempts      int
}

// AudioConfig controls input-source selection, capture shaping, and chunking.
type AudioConfig struct {
	Input               string
	Fallback            string
	EchoCancellation    bool
	NoiseSuppression    bool
	AutoGainControl     bool
	SampleRate          int
	ChunkIntervalMS     int
	MinLevel            float64
	LevelWarnIntervalMS int
}

// ChunkInterval returns the cadence at which captured audio is handed off.
func (c AudioConfig) ChunkInterval() time.Duration {
	return time.Duration(c.ChunkIntervalMS) * time.Millisecond
}

// LevelWarnInterval returns the minimum spacing between low-level advisories.
func (c AudioConfig) LevelWarnInterval() time.Duration {
	return time.Duration(c.LevelWarnIntervalMS) * time.Millisecond
}

// EventsConfig controls the optional websocket event feed. Empty Listen disables it.
type EventsConfig struct {
	Listen string
}

// ServeConfig controls the in-memory transcription service started by `murmur serve`.
type ServeConfig struct {
	Listen string
}

// Warning is a non-fatal config finding surfaced to logs and doctor output.
type Warning struct {
	Line    int
	Message string
}
