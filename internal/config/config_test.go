package config

import "testing"

func TestDefaultAppliesZeroConfigDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Health.MaxRecoveryAttempts != 3 {
		t.Errorf("MaxRecoveryAttempts = %d, want 3", cfg.Health.MaxRecoveryAttempts)
	}
	if cfg.Health.MaxIncidentsPerHour != 20 {
		t.Errorf("MaxIncidentsPerHour = %d, want 20", cfg.Health.MaxIncidentsPerHour)
	}
	if cfg.FollowUpTasks.MaxDepth != 3 {
		t.Errorf("FollowUpTasks.MaxDepth = %d, want 3", cfg.FollowUpTasks.MaxDepth)
	}
	if cfg.RateLimit.ProviderPerMinute != 30 {
		t.Errorf("RateLimit.ProviderPerMinute = %d, want 30", cfg.RateLimit.ProviderPerMinute)
	}
	if cfg.RateLimit.ProviderBurst != 1 {
		t.Errorf("RateLimit.ProviderBurst = %d, want 1", cfg.RateLimit.ProviderBurst)
	}
	if cfg.RateLimit.SpawnPerMinute != 2 {
		t.Errorf("RateLimit.SpawnPerMinute = %d, want 2", cfg.RateLimit.SpawnPerMinute)
	}
}

func TestApplyDefaultsDoesNotOverrideExplicitValues(t *testing.T) {
	cfg := &GlobalConfig{}
	cfg.Health.MaxRecoveryAttempts = 7
	cfg.RateLimit.ProviderPerMinute = 120
	applyDefaults(cfg)

	if cfg.Health.MaxRecoveryAttempts != 7 {
		t.Errorf("MaxRecoveryAttempts = %d, want 7 (explicit value overridden)", cfg.Health.MaxRecoveryAttempts)
	}
	if cfg.RateLimit.ProviderPerMinute != 120 {
		t.Errorf("RateLimit.ProviderPerMinute = %d, want 120 (explicit value overridden)", cfg.RateLimit.ProviderPerMinute)
	}
}

func TestDefaultPhaseConfigCoordinatorThresholds(t *testing.T) {
	pc := DefaultPhaseConfig(Default())
	want := []int{2, 5, 9}
	if len(pc.CoordinatorThresholds) != len(want) {
		t.Fatalf("CoordinatorThresholds = %v, want %v", pc.CoordinatorThresholds, want)
	}
	for i, v := range want {
		if pc.CoordinatorThresholds[i] != v {
			t.Errorf("CoordinatorThresholds[%d] = %d, want %d", i, pc.CoordinatorThresholds[i], v)
		}
	}
	if pc.LeaseTTL.Seconds() != 120 {
		t.Errorf("LeaseTTL = %v, want 120s", pc.LeaseTTL)
	}
}
