package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("BOOTSTRAP_ADMIN_PASSWORD", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.BootstrapAdminPassword != "" {
		t.Fatalf("expected empty BOOTSTRAP_ADMIN_PASSWORD when unset, got %q", cfg.BootstrapAdminPassword)
	}
}

func TestLoadParsesListsAndFallsBackOnBadNumbers(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", " http://a.test , ,http://b.test")
	t.Setenv("ANALYTICS_CACHE_TTL_SECONDS", "-5")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "abc")
	t.Setenv("DATABASE_AUTO_MIGRATE", "false")
	t.Setenv("PORT", "9090")
	t.Setenv("PUBLIC_BASE_URL", "https://pos.example.test/")

	cfg := Load()
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "http://a.test" || cfg.AllowedOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins: %#v", cfg.AllowedOrigins)
	}
	if cfg.AnalyticsCacheTTLSeconds != 60 {
		t.Fatalf("expected cache ttl fallback 60, got %d", cfg.AnalyticsCacheTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected token ttl fallback 480, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.DatabaseAutoMigrate {
		t.Fatal("expected auto migrate disabled")
	}
	if cfg.Address() != ":9090" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
	if cfg.PublicBaseURL != "https://pos.example.test" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.PublicBaseURL)
	}
}
