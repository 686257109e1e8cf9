package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"prosync/internal/domain"
)

type staticUsers []domain.User

func (s staticUsers) ListUsers(context.Context) ([]domain.User, error) { return s, nil }

func TestLogin(t *testing.T) {
	hashed, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	users := staticUsers{
		{ID: "1", Username: "admin", Password: "123", Status: domain.UserActive, IsAdmin: true},
		{ID: "2", Username: "ana", Password: hashed, Status: domain.UserActive},
		{ID: "3", Username: "bob", Password: "pw", Status: domain.UserBlocked},
	}
	ctx := context.Background()
	cases := []struct {
		name     string
		username string
		password string
		wantID   string
		wantErr  error
	}{
		{"legacy plain secret", "ADMIN", "123", "1", nil},
		{"bcrypt secret", " ana ", "s3cret", "2", nil},
		{"wrong password", "ana", "nope", "", ErrInvalidCredentials},
		{"unknown user", "zed", "123", "", ErrInvalidCredentials},
		{"blocked", "bob", "pw", "", ErrBlocked},
	}
	for _, tc := range cases {
		u, err := Login(ctx, users, tc.username, tc.password)
		if !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: got err %v want %v", tc.name, err, tc.wantErr)
		}
		if u.ID != tc.wantID {
			t.Fatalf("%s: got user %q want %q", tc.name, u.ID, tc.wantID)
		}
	}
}

func TestDeviceSignature(t *testing.T) {
	sig := DeviceSignature("Mozilla/5.0 (X11; Linux x86_64) Firefox/120.0")
	if len(sig) != 24 {
		t.Fatalf("expected 24 chars, got %d", len(sig))
	}
	if DeviceSignature("ab") != "YWI=" {
		t.Fatalf("short agents keep the full encoding, got %s", DeviceSignature("ab"))
	}
}

func TestSessionsLifecycle(t *testing.T) {
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	s := Sessions{Secret: []byte("test-secret"), Now: func() time.Time { return now }}
	sess, err := s.Issue("u1", false, "agent-a")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !sess.ExpiresAt.Equal(now.Add(4 * time.Hour)) {
		t.Fatalf("unexpected expiry %v", sess.ExpiresAt)
	}
	id, ok, err := s.Validate(sess.Token, "agent-a")
	if err != nil || !ok || id != "u1" {
		t.Fatalf("validate: id=%q ok=%v err=%v", id, ok, err)
	}
	if _, ok, err := s.Validate(sess.Token, "agent-b"); ok || err != nil {
		t.Fatalf("other device should be soft-invalid: ok=%v err=%v", ok, err)
	}

	later := now.Add(5 * time.Hour)
	expired := Sessions{Secret: s.Secret, Now: func() time.Time { return later }}
	if _, ok, err := expired.Validate(sess.Token, "agent-a"); ok || err != nil {
		t.Fatalf("expired should be soft-invalid: ok=%v err=%v", ok, err)
	}

	remembered, err := s.Issue("u1", true, "agent-a")
	if err != nil {
		t.Fatalf("issue remember: %v", err)
	}
	if !remembered.ExpiresAt.Equal(now.Add(30 * 24 * time.Hour)) {
		t.Fatalf("unexpected remember expiry %v", remembered.ExpiresAt)
	}
	if _, ok, _ := expired.Validate(remembered.Token, "agent-a"); !ok {
		t.Fatalf("remembered session should outlive the short ttl")
	}

	if _, _, err := s.Validate("not-a-token", "agent-a"); err == nil {
		t.Fatalf("malformed token should error")
	}
	forged := Sessions{Secret: []byte("other"), Now: s.Now}
	if _, _, err := forged.Validate(sess.Token, "agent-a"); err == nil {
		t.Fatalf("token signed with another key should error")
	}
}

func TestRequireAdmin(t *testing.T) {
	var fe ForbiddenError
	if err := RequireAdmin(domain.User{}); !errors.As(err, &fe) || fe.Permission != "admin" {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := RequireAdmin(domain.User{IsAdmin: true}); err != nil {
		t.Fatalf("admin should pass: %v", err)
	}
}
