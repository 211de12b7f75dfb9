// Package config decodes the global ~/.steroids/config.yaml (§6) and
// supplies the PhaseConfig value design note §9 calls for: a single
// immutable object built once per phase rather than scattered parameters.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RoleConfig names the provider/model pair for one actor role.
type RoleConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// AIConfig is the `ai` section of the global config.
type AIConfig struct {
	Orchestrator RoleConfig   `yaml:"orchestrator"`
	Coder        RoleConfig   `yaml:"coder"`
	Reviewer     RoleConfig   `yaml:"reviewer"`
	Reviewers    []RoleConfig `yaml:"reviewers"`
	Coordinator  RoleConfig   `yaml:"coordinator"`
}

// HealthConfig is the `health` section: recovery-sweep tuning.
type HealthConfig struct {
	AutoRecover         bool `yaml:"autoRecover"`
	MaxRecoveryAttempts int  `yaml:"maxRecoveryAttempts"`
	MaxIncidentsPerHour int  `yaml:"maxIncidentsPerHour"`
}

// FollowUpTasksConfig is the `followUpTasks` section.
type FollowUpTasksConfig struct {
	MaxDepth            int  `yaml:"maxDepth"`
	AutoImplementDepth1 bool `yaml:"autoImplementDepth1"`
}

// RunnersConfig is the `runners` section (left open-shaped; the runner
// supervision binary itself is out of scope per §1).
type RunnersConfig struct {
	PushBranch string `yaml:"pushBranch"`
}

// RateLimitConfig is the `rateLimit` section: the token-bucket tuning knobs
// for the Provider Adapter's per-provider/model admission guard and the
// Wakeup Controller's per-project spawn guard.
type RateLimitConfig struct {
	ProviderPerMinute int `yaml:"providerPerMinute"`
	ProviderBurst     int `yaml:"providerBurst"`
	SpawnPerMinute    int `yaml:"spawnPerMinute"`
}

// GlobalConfig is the full decoded shape of ~/.steroids/config.yaml.
type GlobalConfig struct {
	AI            AIConfig            `yaml:"ai"`
	Runners       RunnersConfig       `yaml:"runners"`
	Health        HealthConfig        `yaml:"health"`
	FollowUpTasks FollowUpTasksConfig `yaml:"followUpTasks"`
	RateLimit     RateLimitConfig     `yaml:"rateLimit"`
}

// Load reads and decodes a config file, applying the defaults below for any
// zero-valued tuning knob.
func Load(path string) (*GlobalConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg GlobalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a GlobalConfig with every tuning knob at its zero-config
// default, for callers operating without a config.yaml on disk yet (e.g. a
// discovery pass run before `steroids init`).
func Default() *GlobalConfig {
	cfg := &GlobalConfig{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *GlobalConfig) {
	if cfg.Health.MaxRecoveryAttempts == 0 {
		cfg.Health.MaxRecoveryAttempts = 3
	}
	if cfg.Health.MaxIncidentsPerHour == 0 {
		cfg.Health.MaxIncidentsPerHour = 20
	}
	if cfg.FollowUpTasks.MaxDepth == 0 {
		cfg.FollowUpTasks.MaxDepth = 3
	}
	if cfg.RateLimit.ProviderPerMinute == 0 {
		cfg.RateLimit.ProviderPerMinute = 30
	}
	if cfg.RateLimit.ProviderBurst == 0 {
		cfg.RateLimit.ProviderBurst = 1
	}
	if cfg.RateLimit.SpawnPerMinute == 0 {
		cfg.RateLimit.SpawnPerMinute = 2
	}
}

// PhaseConfig is the single immutable value threaded through one Coder or
// Reviewer phase invocation (§9: "Config as an object passed through").
type PhaseConfig struct {
	CoordinatorThresholds []int
	PushBranch            string
	StrictReview          bool
	MaxFollowUpDepth      int
	AutoImplementDepth1   bool
	MaxRecoveryAttempts   int
	MaxIncidentsPerHour   int
	LeaseTTL              time.Duration
	ActivityResetTimeout  time.Duration
}

// DefaultPhaseConfig builds a PhaseConfig from a GlobalConfig with the
// literal defaults named in §4 (coordinator thresholds {2,5,9}, 120s lease).
func DefaultPhaseConfig(g *GlobalConfig) PhaseConfig {
	return PhaseConfig{
		CoordinatorThresholds: []int{2, 5, 9},
		PushBranch:            g.Runners.PushBranch,
		StrictReview:          len(g.AI.Reviewers) > 0,
		MaxFollowUpDepth:      g.FollowUpTasks.MaxDepth,
		AutoImplementDepth1:   g.FollowUpTasks.AutoImplementDepth1,
		MaxRecoveryAttempts:   g.Health.MaxRecoveryAttempts,
		MaxIncidentsPerHour:   g.Health.MaxIncidentsPerHour,
		LeaseTTL:              120 * time.Second,
		ActivityResetTimeout:  180 * time.Second,
	}
}
