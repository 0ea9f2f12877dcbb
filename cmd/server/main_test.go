package main

import (
	"context"
	"testing"
	"time"

	"bengkelpos/backend/internal/cache"
	"bengkelpos/backend/internal/config"
	"bengkelpos/backend/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", AccessTokenTTLMinutes: 480})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", AccessTokenTTLMinutes: 480})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestOpenRepositoryWithoutDatabaseUsesMemory(t *testing.T) {
	repo, closeFn, err := openRepository(context.Background(), config.Config{})
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	if closeFn != nil {
		t.Fatal("memory store needs no closer")
	}
	if _, ok := repo.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", repo)
	}
}

func TestOpenSummaryCacheFallsBackToNoop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	got, closeFn := openSummaryCache(ctx, config.Config{RedisAddr: "127.0.0.1:1"})
	if _, ok := got.(cache.NoopSummaryCache); !ok {
		t.Fatalf("expected noop cache for unreachable redis, got %T", got)
	}
	if closeFn != nil {
		t.Fatal("expected no closer for the noop cache")
	}
}
