// Copyright 2025 The Kestrel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package kvclient

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	"github.com/kestreldb/kestrel-go/pkg/util/retry"
)

// Duration wraps time.Duration so that TOML config files can spell
// durations as strings ("50ms", "2s").
type Duration time.Duration

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config tunes the routing layer's dispatch behavior. The zero value is
// not usable; start from DefaultConfig or LoadConfig.
type Config struct {
	// InitialBackoff is the backoff after the first failed attempt.
	InitialBackoff Duration `toml:"initial-backoff"`
	// MaxBackoff caps the backoff growth between attempts.
	MaxBackoff Duration `toml:"max-backoff"`
	// BackoffMultiplier is applied to the backoff after each attempt.
	BackoffMultiplier float64 `toml:"backoff-multiplier"`
	// MaxSendAttempts bounds the total attempts of one SendToTablet call.
	MaxSendAttempts int `toml:"max-send-attempts"`
	// LookupTimeout bounds each tablet location lookup. Zero disables the
	// bound; the caller's context still applies.
	LookupTimeout Duration `toml:"lookup-timeout"`
}

// DefaultConfig returns the stock dispatch configuration.
func DefaultConfig() Config {
	return Config{
		InitialBackoff:    Duration(50 * time.Millisecond),
		MaxBackoff:        Duration(2 * time.Second),
		BackoffMultiplier: 2,
		MaxSendAttempts:   10,
		LookupTimeout:     Duration(5 * time.Second),
	}
}

// LoadConfig reads a TOML config file on top of the defaults. Unknown keys
// are rejected rather than silently ignored.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.Wrapf(err, "loading config from %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, errors.Newf("unknown config keys in %s: %v", path, undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if c.InitialBackoff <= 0 {
		return errors.Newf("initial-backoff must be positive, got %s", time.Duration(c.InitialBackoff))
	}
	if c.MaxBackoff < c.InitialBackoff {
		return errors.Newf("max-backoff (%s) must be at least initial-backoff (%s)",
			time.Duration(c.MaxBackoff), time.Duration(c.InitialBackoff))
	}
	if c.BackoffMultiplier < 1 {
		return errors.Newf("backoff-multiplier must be at least 1, got %f", c.BackoffMultiplier)
	}
	if c.MaxSendAttempts < 1 {
		return errors.Newf("max-send-attempts must be at least 1, got %d", c.MaxSendAttempts)
	}
	if c.LookupTimeout < 0 {
		return errors.Newf("lookup-timeout must not be negative, got %s", time.Duration(c.LookupTimeout))
	}
	return nil
}

func (c Config) retryOptions() retry.Options {
	return retry.Options{
		InitialBackoff: time.Duration(c.InitialBackoff),
		MaxBackoff:     time.Duration(c.MaxBackoff),
		Multiplier:     c.BackoffMultiplier,
		// The first attempt is not a retry.
		MaxRetries: c.MaxSendAttempts - 1,
	}
}
