package session

import (
	"os"
	"time"
)

// Config defines the runtime configuration for the session lifecycle.
//
// Durations are read from environment variables as compact strings ("90s",
// "10m", "1h") via ParseCompactDuration.
type Config struct {
	// RotationURL is the rotation endpoint. The refresh credential is
	// supplied out-of-band (HTTP-only cookie), never by the caller.
	RotationURL string

	// AccessTokenLifetime mirrors the server's configured access-token TTL.
	// It feeds the rotation cutoff; it is not enforced against tokens, whose
	// real expiry always comes from the exp claim.
	AccessTokenLifetime time.Duration

	// DialogThreshold is how long before refresh expiry the user must be
	// warned.
	DialogThreshold time.Duration

	// SafetyMargin is the buffer that keeps silent rotation from racing the
	// warning dialog.
	SafetyMargin time.Duration

	// RotateWindow is the access-token remaining lifetime at which the
	// session enters NearExpiry and rotation is attempted.
	RotateWindow time.Duration

	// PollInterval is the poller tick interval.
	PollInterval time.Duration
}

// RotationCutoff is the refresh-token remaining lifetime at or below which
// silent rotation must stop and the renew-session prompt takes over.
func (c Config) RotationCutoff() time.Duration {
	return c.DialogThreshold + c.AccessTokenLifetime + c.SafetyMargin
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		AccessTokenLifetime: 15 * time.Minute,
		DialogThreshold:     60 * time.Second,
		SafetyMargin:        10 * time.Second,
		RotateWindow:        30 * time.Second,
		PollInterval:        5 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Recognized (durations as compact strings):
//   - PULSE_ROTATION_URL
//   - PULSE_ACCESS_TOKEN_LIFETIME
//   - PULSE_REFRESH_DIALOG_THRESHOLD
//   - PULSE_ROTATION_SAFETY_MARGIN
//   - PULSE_ROTATE_WINDOW
//   - PULSE_POLL_INTERVAL
//
// An env var that is set but does not parse to a positive duration is a
// configuration error, not a silent default.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.RotationURL = os.Getenv("PULSE_ROTATION_URL")

	read := func(key string, dst *time.Duration) bool {
		v := os.Getenv(key)
		if v == "" {
			return true
		}
		d := ParseCompactDuration(v)
		if d <= 0 {
			return false
		}
		*dst = d
		return true
	}

	if !read("PULSE_ACCESS_TOKEN_LIFETIME", &cfg.AccessTokenLifetime) {
		return Config{}, ErrConfig
	}
	if !read("PULSE_REFRESH_DIALOG_THRESHOLD", &cfg.DialogThreshold) {
		return Config{}, ErrConfig
	}
	if !read("PULSE_ROTATION_SAFETY_MARGIN", &cfg.SafetyMargin) {
		return Config{}, ErrConfig
	}
	if !read("PULSE_ROTATE_WINDOW", &cfg.RotateWindow) {
		return Config{}, ErrConfig
	}
	if !read("PULSE_POLL_INTERVAL", &cfg.PollInterval) {
		return Config{}, ErrConfig
	}

	// Invariant: the poller must tick well inside the rotate window, or
	// NearExpiry could be observed only after the token already lapsed.
	if cfg.PollInterval >= cfg.RotateWindow+cfg.AccessTokenLifetime {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
