package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTokenIssuer_Pair(t *testing.T) {
	fixed := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	ti := NewTokenIssuer(testSigningKey, "telemed", 15*time.Minute, 720*time.Hour)
	ti.now = func() time.Time { return fixed }

	userID := uuid.New()
	pair, hash, err := ti.Pair(userID, "p@example.com", RolePatient)
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	if pair.TokenType != "Bearer" {
		t.Errorf("expected Bearer token type, got %q", pair.TokenType)
	}
	if !pair.ExpiresAt.Equal(fixed.Add(15 * time.Minute)) {
		t.Errorf("unexpected access expiry %s", pair.ExpiresAt)
	}
	if !pair.RefreshExpiresAt.Equal(fixed.Add(720 * time.Hour)) {
		t.Errorf("unexpected refresh expiry %s", pair.RefreshExpiresAt)
	}
	if hash != HashToken(pair.RefreshToken) {
		t.Error("refresh hash does not match the returned token")
	}
	if hash == pair.RefreshToken {
		t.Error("refresh token must not be stored in clear")
	}
}

func TestIssueAccess_Parses(t *testing.T) {
	ti := NewTokenIssuer(testSigningKey, "telemed", time.Hour, time.Hour)
	userID := uuid.New()
	token, _, err := ti.IssueAccess(userID, "d@example.com", RoleDoctor)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	claims, err := ParseToken(token, testSigningKey, "telemed")
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != userID.String() || claims.Email != "d@example.com" {
		t.Errorf("unexpected claims %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != RoleDoctor {
		t.Errorf("expected [doctor] roles, got %v", claims.Roles)
	}
	if claims.ID == "" {
		t.Error("expected jti to be set")
	}
}

func TestNewRefreshToken_Unique(t *testing.T) {
	ti := NewTokenIssuer(testSigningKey, "", time.Hour, time.Hour)
	a, _, _, err := ti.NewRefreshToken()
	if err != nil {
		t.Fatal(err)
	}
	b, _, _, _ := ti.NewRefreshToken()
	if a == b {
		t.Error("expected distinct refresh tokens")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(hash, "correct horse") {
		t.Error("expected password to match its hash")
	}
	if CheckPassword(hash, "wrong horse") {
		t.Error("expected wrong password to fail")
	}
}
