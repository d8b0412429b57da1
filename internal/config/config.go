// Package config loads the experiment configuration from JSON and supplies
// the defaults used when no file is given.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the top-level experiment configuration.
type Config struct {
	Experiment  Experiment  `json:"experiment"`
	Task        Task        `json:"task"`
	Timing      Timing      `json:"timing"`
	Stimulation Stimulation `json:"stimulation"`
	Paths       Paths       `json:"paths"`
}

// Experiment names the protocol and maps run numbers to run types.
type Experiment struct {
	Mode               string `json:"mode"`
	RunDurationMinutes float64 `json:"run_duration_minutes"`
	// RunTypes maps the run number (as a decimal string, matching the JSON
	// key type) to "baseline", "stim" or "post_stim".
	RunTypes map[string]string `json:"run_types"`
	// StimulusPool is the number of distinct stimulus identities available
	// for pair selection.
	StimulusPool int `json:"stimulus_pool"`
}

// Task holds the reward contingency parameters.
type Task struct {
	MinTrialsSameContingency int     `json:"min_trials_same_contingency"`
	ContingencyJitter        int     `json:"contingency_jitter"`
	WinFraction              float64 `json:"win_fraction"`
}

// Timing holds the per-phase durations in seconds.
type Timing struct {
	FixationDuration float64 `json:"fixation_duration"`
	MaxResponseTime  float64 `json:"max_response_time"`
	WaitDurationMin  float64 `json:"wait_duration_min"`
	WaitDurationMax  float64 `json:"wait_duration_max"`
	OutcomeDuration  float64 `json:"outcome_duration"`
	ITIDuration      float64 `json:"iti_duration"`
}

// Stimulation configures trigger synchronization and the device command
// interface.
type Stimulation struct {
	Enabled               bool    `json:"enabled"`
	StreamURL             string  `json:"stream_url"`
	TriggerCode           int     `json:"trigger_code"`
	TriggerTimeoutSeconds float64 `json:"trigger_timeout_seconds"`
	ManualFallback        bool    `json:"manual_fallback"`
	CommandDir            string  `json:"command_dir"`
	ProtocolActive        string  `json:"protocol_active"`
	ProtocolSham          string  `json:"protocol_sham"`
	// RedisAddr, when set, mirrors markers to a Redis stream for live
	// monitoring.
	RedisAddr   string `json:"redis_addr"`
	RedisStream string `json:"redis_stream"`
}

// Paths locates on-disk artifacts.
type Paths struct {
	DataDir string `json:"data_dir"`
}

// Default returns the built-in configuration: 6-minute runs over an 8-run
// protocol with the standard contingency and phase timings.
func Default() *Config {
	return &Config{
		Experiment: Experiment{
			Mode:               "THETA_NIC",
			RunDurationMinutes: 6,
			RunTypes: map[string]string{
				"1": "baseline",
				"2": "stim",
				"3": "stim",
				"4": "post_stim",
				"5": "baseline",
				"6": "stim",
				"7": "stim",
				"8": "post_stim",
			},
			StimulusPool: 50,
		},
		Task: Task{
			MinTrialsSameContingency: 25,
			ContingencyJitter:        4,
			WinFraction:              0.75,
		},
		Timing: Timing{
			FixationDuration: 0.5,
			MaxResponseTime:  2.0,
			WaitDurationMin:  2.0,
			WaitDurationMax:  2.0,
			OutcomeDuration:  1.0,
			ITIDuration:      0.25,
		},
		Stimulation: Stimulation{
			Enabled:               false,
			StreamURL:             "ws://localhost:1812/markers",
			TriggerCode:           203,
			TriggerTimeoutSeconds: 30,
			ManualFallback:        true,
			CommandDir:            "./nic_commands",
			ProtocolActive:        "DLPFC_Active",
			ProtocolSham:          "DLPFC_Sham",
			RedisStream:           "bandit:markers",
		},
		Paths: Paths{
			DataDir: "./data",
		},
	}
}

// Load reads a JSON configuration file. Fields absent from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks parameter ranges.
func (c *Config) Validate() error {
	if c.Experiment.RunDurationMinutes <= 0 {
		return fmt.Errorf("run_duration_minutes must be positive, got %v", c.Experiment.RunDurationMinutes)
	}
	if c.Experiment.StimulusPool < 2 {
		return fmt.Errorf("stimulus_pool must be at least 2, got %d", c.Experiment.StimulusPool)
	}
	if c.Task.WinFraction <= 0 || c.Task.WinFraction >= 1 {
		return fmt.Errorf("win_fraction must be in (0, 1), got %v", c.Task.WinFraction)
	}
	if c.Task.MinTrialsSameContingency < 1 {
		return fmt.Errorf("min_trials_same_contingency must be at least 1, got %d", c.Task.MinTrialsSameContingency)
	}
	if c.Task.ContingencyJitter < 0 {
		return fmt.Errorf("contingency_jitter must not be negative, got %d", c.Task.ContingencyJitter)
	}
	if c.Timing.MaxResponseTime <= 0 {
		return fmt.Errorf("max_response_time must be positive, got %v", c.Timing.MaxResponseTime)
	}
	for name, v := range map[string]float64{
		"fixation_duration": c.Timing.FixationDuration,
		"wait_duration_min": c.Timing.WaitDurationMin,
		"wait_duration_max": c.Timing.WaitDurationMax,
		"outcome_duration":  c.Timing.OutcomeDuration,
		"iti_duration":      c.Timing.ITIDuration,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %v", name, v)
		}
	}
	if c.Timing.WaitDurationMax < c.Timing.WaitDurationMin {
		return fmt.Errorf("wait_duration_max %v below wait_duration_min %v",
			c.Timing.WaitDurationMax, c.Timing.WaitDurationMin)
	}
	if c.Stimulation.TriggerTimeoutSeconds < 0 {
		return fmt.Errorf("trigger_timeout_seconds must not be negative, got %v", c.Stimulation.TriggerTimeoutSeconds)
	}
	return nil
}

// RunDuration returns the run length as a duration.
func (c *Config) RunDuration() time.Duration {
	return time.Duration(c.Experiment.RunDurationMinutes * float64(time.Minute))
}

// RunTypeFor resolves the run type for a run number. Unmapped runs are
// "baseline".
func (c *Config) RunTypeFor(run int) string {
	if t, ok := c.Experiment.RunTypes[strconv.Itoa(run)]; ok {
		return t
	}
	return "baseline"
}

// TriggerTimeout returns the trigger wait as a duration.
func (s Stimulation) TriggerTimeout() time.Duration {
	return time.Duration(s.TriggerTimeoutSeconds * float64(time.Second))
}
