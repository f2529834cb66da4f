package cli

import (
	"context"
	"errors"
	"testing"
	"time"

	"quiz-session-service/internal/auth"
	"quiz-session-service/internal/config"
)

func TestBuildComponentsRequiresAuthSecret(t *testing.T) {
	_, err := buildComponents(context.Background(), config.Config{})
	if !errors.Is(err, auth.ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestBuildComponentsInMemory(t *testing.T) {
	var cfg config.Config
	cfg.Auth.Secret = "wiring-secret"
	cfg.Auth.Issuer = "quiz-test"

	comps, err := buildComponents(context.Background(), cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer comps.Close()
	if comps.service == nil || comps.authn == nil {
		t.Fatalf("expected service and authenticator to be wired")
	}
	if comps.dispatcher != nil {
		t.Fatalf("expected feedback disabled without a provider")
	}

	token, err := comps.authn.Issue("u1", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if userID, err := comps.authn.Verify(token); err != nil || userID != "u1" {
		t.Fatalf("verify: got %q err=%v", userID, err)
	}
}
