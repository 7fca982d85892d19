package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Remote: RemoteConfig{
			Endpoint:          "127.0.0.1:50061",
			DialTimeoutMS:     3000,
			FinalizeTimeoutMS: 10000,
		},
		Recognition: RecognitionConfig{
			Endpoint:            "127.0.0.1:50062",
			DialTimeoutMS:       3000,
			Language:            "en-US",
			Continuous:          true,
			InterimResults:      true,
			MaxAlternatives:     3,
			ConfidenceThreshold: 0.8,
			Restart: RestartConfig{
				InitialBackoffMS: 250,
				MaxBackoffMS:     5000,
				MaxAttempts:      0,
			},
		},
		Audio: AudioConfig{
			Input:               "default",
			Fallback:            "default",
			EchoCancellation:    true,
			NoiseSuppression:    true,
			AutoGainControl:     true,
			SampleRate:          48000,
			ChunkIntervalMS:     1000,
			MinLevel:            0.01,
			LevelWarnIntervalMS: 2000,
		},
		Serve: ServeConfig{Listen: "127.0.0.1:50061"},
	}
}
