package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"HTTP_ADDR", "DB_DSN",
		"PRESENCE_WINDOW_SECONDS",
		"REACTION_VISIBILITY_SECONDS", "REACTION_RETENTION_SECONDS", "SWEEP_INTERVAL_SECONDS",
		"CELEBRATE_EFFECT_SECONDS", "CELEBRATE_COOLDOWN_SECONDS", "CELEBRATE_PUBLISH_COOLDOWN_SECONDS",
		"CHAT_HISTORY_LIMIT",
		"BRIDGE_CHANNEL", "BRIDGE_USERNAME", "BRIDGE_OAUTH_TOKEN",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.PresenceWindow != 300*time.Second {
		t.Errorf("PresenceWindow = %v, want 300s", cfg.PresenceWindow)
	}
	if cfg.ReactionVisibility != 10*time.Second {
		t.Errorf("ReactionVisibility = %v, want 10s", cfg.ReactionVisibility)
	}
	if cfg.ReactionRetention != 5*time.Second {
		t.Errorf("ReactionRetention = %v, want 5s", cfg.ReactionRetention)
	}
	// Retention deliberately shorter than visibility: the store may purge
	// while a consumer still shows the event from its last snapshot.
	if cfg.ReactionRetention >= cfg.ReactionVisibility {
		t.Errorf("retention %v should be below visibility %v", cfg.ReactionRetention, cfg.ReactionVisibility)
	}
	if cfg.SweepInterval != 2*time.Second {
		t.Errorf("SweepInterval = %v, want 2s", cfg.SweepInterval)
	}
	if cfg.CelebrateCooldown != 8*time.Second {
		t.Errorf("CelebrateCooldown = %v, want 8s", cfg.CelebrateCooldown)
	}
	if cfg.CelebratePublishCooldown != 10*time.Second {
		t.Errorf("CelebratePublishCooldown = %v, want 10s", cfg.CelebratePublishCooldown)
	}
	if cfg.ChatHistoryLimit != 200 {
		t.Errorf("ChatHistoryLimit = %d, want 200", cfg.ChatHistoryLimit)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("PRESENCE_WINDOW_SECONDS", "60")
	t.Setenv("REACTION_VISIBILITY_SECONDS", "20")
	t.Setenv("CHAT_HISTORY_LIMIT", "50")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.PresenceWindow != 60*time.Second {
		t.Errorf("PresenceWindow = %v, want 60s", cfg.PresenceWindow)
	}
	if cfg.ReactionVisibility != 20*time.Second {
		t.Errorf("ReactionVisibility = %v, want 20s", cfg.ReactionVisibility)
	}
	if cfg.ChatHistoryLimit != 50 {
		t.Errorf("ChatHistoryLimit = %d, want 50", cfg.ChatHistoryLimit)
	}
}

func TestLoadRejectsBadDurations(t *testing.T) {
	clearEnv(t)
	t.Setenv("PRESENCE_WINDOW_SECONDS", "not-a-number")
	if _, err := Load(); err == nil {
		t.Error("unparsable duration should fail loudly")
	}

	clearEnv(t)
	t.Setenv("SWEEP_INTERVAL_SECONDS", "-5")
	if _, err := Load(); err == nil {
		t.Error("negative duration should fail loudly")
	}
}

func TestValidateBridgeReady(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.ValidateBridgeReady(); err == nil {
		t.Error("missing bridge creds should fail validation")
	}

	t.Setenv("BRIDGE_CHANNEL", "somechannel")
	t.Setenv("BRIDGE_USERNAME", "bot")
	t.Setenv("BRIDGE_OAUTH_TOKEN", "oauth:xyz")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.ValidateBridgeReady(); err != nil {
		t.Errorf("ValidateBridgeReady with full creds: %v", err)
	}
}
