package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"fuelerp/backend/internal/config"
	"fuelerp/backend/internal/domain"
	"fuelerp/backend/internal/httpapi"
	"fuelerp/backend/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	for _, cfg := range []config.Config{
		{AuthSecret: "short"},
		{AuthSecret: strings.Repeat("x", 40)},
		{AuthSecret: "0123456789abcdef0123456789abcdef", SeedAdminPassword: "admin"},
	} {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("expected weak security config to be rejected: %+v", cfg)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestEnsureAdminCreatesFirstUser(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	auth := httpapi.NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour, repo)

	if err := ensureAdmin(ctx, auth, "bootstrap-pass"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	users, err := repo.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 || users[0].Role != domain.RoleAdmin {
		t.Fatalf("expected one admin, got %+v", users)
	}

	if err := ensureAdmin(ctx, auth, "another-pass"); err != nil {
		t.Fatalf("second ensure admin: %v", err)
	}
	if _, err := auth.Login(ctx, domain.LoginRequest{Username: "admin", Password: "bootstrap-pass"}); err != nil {
		t.Fatalf("expected original password to remain, got %v", err)
	}
}

func TestEnsureAdminSkipsWithoutPassword(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	auth := httpapi.NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour, repo)

	if err := ensureAdmin(ctx, auth, ""); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	if users := auth.ListUsers(ctx); len(users) != 0 {
		t.Fatalf("expected no users, got %d", len(users))
	}
}
