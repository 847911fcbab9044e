package httpapi

import (
	"testing"
	"time"

	"mandoob/backend/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("unit-test-secret-0123456789abcdef", time.Hour)

	profile := domain.UserProfile{ID: "talal-admin", Role: domain.RoleAdmin}
	token, expiresAt, err := tm.Issue(profile)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if token == "" {
		t.Fatalf("empty token")
	}
	if !expiresAt.After(time.Now()) {
		t.Fatalf("expiry must be in the future, got %v", expiresAt)
	}

	subject, role, err := tm.Parse(token)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if subject != "talal-admin" || role != domain.RoleAdmin {
		t.Fatalf("claims mangled: subject=%q role=%q", subject, role)
	}
}

func TestTokenWrongSecretRejected(t *testing.T) {
	issuer := NewTokenManager("secret-one-0123456789abcdefghijklm", time.Hour)
	verifier := NewTokenManager("secret-two-0123456789abcdefghijklm", time.Hour)

	token, _, err := issuer.Issue(domain.UserProfile{ID: "talal-admin"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, _, err := verifier.Parse(token); err == nil {
		t.Fatalf("token signed with a different secret must be rejected")
	}
}

func TestTokenExpiryEnforced(t *testing.T) {
	tm := NewTokenManager("unit-test-secret-0123456789abcdef", time.Hour)
	tm.tokenTTL = -time.Minute

	token, _, err := tm.Issue(domain.UserProfile{ID: "talal-admin"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, _, err := tm.Parse(token); err == nil {
		t.Fatalf("expired token must be rejected")
	}
}

func TestTokenGarbageRejected(t *testing.T) {
	tm := NewTokenManager("unit-test-secret-0123456789abcdef", time.Hour)
	if _, _, err := tm.Parse("not.a.token"); err == nil {
		t.Fatalf("garbage token must be rejected")
	}
}
