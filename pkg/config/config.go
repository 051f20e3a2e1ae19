// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/rs/zerolog/log"
)

type Config struct {
	tree *toml.Tree
}

const (
	ListenAddrKey             = "server.listen"
	StorageDirKey             = "storage.path"
	AuditDBKey                = "storage.sqldb_path"
	SpeedFactorKey            = "simulation.speed_factor"
	PollIntervalKey           = "simulation.poll_interval_ms"
	SettleDelayKey            = "simulation.settle_delay_ms"
	SaveIntervalKey           = "simulation.save_interval_sec"
	EligibilityKey            = "simulation.eligibility"
	EligibilityThresholdKey   = "simulation.eligibility_failure_threshold"
	RebootResetProbabilityKey = "simulation.reset_probability"

	ListenAddrDefault  = ":8000"
	StorageDirDefault  = "/var/lib/upgradectl"
	AuditDBDefault     = "audit.db"
	SpeedFactorDefault = 40.0
	// EligibilityDefault always reports the array as eligible; "failure"
	// and "auto" exercise upgrade clients' failure paths.
	EligibilityDefault = "success"
)

// NewConfig loads the TOML configuration from the given path. An empty path
// yields a config of pure defaults so the controller can run standalone.
func NewConfig(path string) (*Config, error) {
	if path == "" {
		tree, _ := toml.Load("")
		return &Config{tree: tree}, nil
	}
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to load TOML from %q: %w", path, err)
	}
	return &Config{tree: tree}, nil
}

func (c *Config) GetListenAddr() string {
	return c.getString(ListenAddrKey, ListenAddrDefault)
}

func (c *Config) GetStorageDir() string {
	return c.getString(StorageDirKey, StorageDirDefault)
}

func (c *Config) GetDBPath() string {
	return filepath.Join(c.GetStorageDir(), c.getString(AuditDBKey, AuditDBDefault))
}

// GetSpeedFactor returns the scalar dividing nominal task durations.
func (c *Config) GetSpeedFactor() float64 {
	v := c.getFloat(SpeedFactorKey, SpeedFactorDefault)
	if v <= 0 {
		log.Warn().Float64("value", v).Float64("default", SpeedFactorDefault).Msg("invalid simulation speed factor, using default")
		return SpeedFactorDefault
	}
	return v
}

func (c *Config) GetPollInterval() time.Duration {
	return c.getMillis(PollIntervalKey, 100)
}

func (c *Config) GetSettleDelay() time.Duration {
	return c.getMillis(SettleDelayKey, 500)
}

func (c *Config) GetSaveInterval() time.Duration {
	sec := c.getInt(SaveIntervalKey, 60)
	if sec <= 0 {
		log.Warn().Int64("value", sec).Msg("invalid save interval, using default")
		sec = 60
	}
	return time.Duration(sec) * time.Second
}

// GetEligibilityMode returns how verifyUpgradeEligibility responds:
// "success", "failure" or "auto" (random failures at the configured
// threshold).
func (c *Config) GetEligibilityMode() string {
	mode := c.getString(EligibilityKey, EligibilityDefault)
	switch mode {
	case "success", "failure", "auto":
		return mode
	}
	log.Warn().Str("value", mode).Str("default", EligibilityDefault).Msg("invalid eligibility mode, using default")
	return EligibilityDefault
}

func (c *Config) GetEligibilityFailureThreshold() float64 {
	v := c.getFloat(EligibilityThresholdKey, 0.3)
	if v < 0 || v > 1 {
		log.Warn().Float64("value", v).Msg("eligibility failure threshold out of range, using default")
		return 0.3
	}
	return v
}

// GetResetProbability returns the chance a request is dropped while the
// primary SP reboot task is running.
func (c *Config) GetResetProbability() float64 {
	v := c.getFloat(RebootResetProbabilityKey, 1.0)
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// EnsureStorageDir creates the state directory if needed.
func (c *Config) EnsureStorageDir() error {
	return os.MkdirAll(c.GetStorageDir(), 0o755)
}

func (c *Config) getString(key, def string) string {
	if v, ok := c.tree.GetDefault(key, def).(string); ok {
		return v
	}
	log.Warn().Str("key", key).Str("default", def).Msg("config value has wrong type, using default")
	return def
}

func (c *Config) getInt(key string, def int64) int64 {
	switch v := c.tree.GetDefault(key, def).(type) {
	case int64:
		return v
	case int:
		return int64(v)
	}
	log.Warn().Str("key", key).Int64("default", def).Msg("config value has wrong type, using default")
	return def
}

func (c *Config) getFloat(key string, def float64) float64 {
	switch v := c.tree.GetDefault(key, def).(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	log.Warn().Str("key", key).Float64("default", def).Msg("config value has wrong type, using default")
	return def
}

func (c *Config) getMillis(key string, defMillis int64) time.Duration {
	ms := c.getInt(key, defMillis)
	if ms <= 0 {
		log.Warn().Str("key", key).Int64("default", defMillis).Msg("invalid duration, using default")
		ms = defMillis
	}
	return time.Duration(ms) * time.Millisecond
}
