// Package config loads runtime settings from an optional YAML file,
// a .env file, and the process environment, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Settings is everything the server needs at boot.
type Settings struct {
	Port              string        `yaml:"port"`
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"`
	OBSAddr           string        `yaml:"obs_addr"`
	OBSPassword       string        `yaml:"obs_password"`
	OverlayInput      string        `yaml:"overlay_input"`
	RecordingsDir     string        `yaml:"recordings_dir"`
	FinalizeDelay     time.Duration `yaml:"-"`
	HeartbeatInterval time.Duration `yaml:"-"`
	ReconnectInterval time.Duration `yaml:"-"`

	// Raw duration strings from the YAML file; parsed into the fields
	// above during Resolve.
	FinalizeDelayRaw     string `yaml:"finalize_delay"`
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	ReconnectIntervalRaw string `yaml:"reconnect_interval"`
}

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, callers can ignore
// the error and use system env or defaults.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// Resolve builds the final Settings: defaults, then the YAML file at
// path (skipped when missing), then environment overrides.
func Resolve(path string) (Settings, error) {
	s := Settings{
		Port:              "8080",
		LogLevel:          "info",
		LogFormat:         "json",
		OBSAddr:           "127.0.0.1:4455",
		OverlayInput:      "overlay-text",
		RecordingsDir:     "recordings",
		FinalizeDelay:     2 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		ReconnectInterval: 5 * time.Second,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fine, env and defaults carry it
		case err != nil:
			return Settings{}, fmt.Errorf("read settings file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &s); err != nil {
				return Settings{}, fmt.Errorf("parse settings file: %w", err)
			}
		}
	}

	s.Port = GetEnv("PORT", s.Port)
	s.LogLevel = GetEnv("LOG_LEVEL", s.LogLevel)
	s.LogFormat = GetEnv("LOG_FORMAT", s.LogFormat)
	s.OBSAddr = GetEnv("OBS_ADDR", s.OBSAddr)
	s.OBSPassword = GetEnv("OBS_PASSWORD", s.OBSPassword)
	s.OverlayInput = GetEnv("OBS_OVERLAY_INPUT", s.OverlayInput)
	s.RecordingsDir = GetEnv("RECORDINGS_DIR", s.RecordingsDir)

	var err error
	if s.FinalizeDelay, err = resolveDuration("FINALIZE_DELAY", s.FinalizeDelayRaw, s.FinalizeDelay); err != nil {
		return Settings{}, err
	}
	if s.HeartbeatInterval, err = resolveDuration("HEARTBEAT_INTERVAL", s.HeartbeatIntervalRaw, s.HeartbeatInterval); err != nil {
		return Settings{}, err
	}
	if s.ReconnectInterval, err = resolveDuration("RECONNECT_INTERVAL", s.ReconnectIntervalRaw, s.ReconnectInterval); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func resolveDuration(envKey, fileValue string, fallback time.Duration) (time.Duration, error) {
	value := fileValue
	if s := os.Getenv(envKey); s != "" {
		value = s
	}
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", envKey, err)
	}
	return d, nil
}

// GetEnv returns the value of the environment variable named by key, or
// fallback if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named
// by key, or fallback if the variable is unset, empty, or not a valid
// integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}
