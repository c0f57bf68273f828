package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/keywarden/keywarden/internal/model"
	"github.com/keywarden/keywarden/internal/store"
)

func newTestAuth(t *testing.T) (*AuthService, *store.Store) {
	t.Helper()
	st, err := store.Open(store.Options{Driver: store.DriverSQLite})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewAuthService(st, "unit-test-secret"), st
}

func seedAdmin(t *testing.T, st *store.Store, email, password string, active bool) *model.Admin {
	t.Helper()
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatal(err)
	}
	admin := &model.Admin{
		ID:           id.String(),
		Email:        email,
		PasswordHash: HashPassword(password),
		IsActive:     active,
	}
	if err := st.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatal(err)
	}
	return admin
}

func TestLogin(t *testing.T) {
	svc, st := newTestAuth(t)
	ctx := context.Background()

	admin := seedAdmin(t, st, "ops@example.com", "correct-horse", true)

	p, err := svc.Login(ctx, "ops@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if p.AdminID != admin.ID || p.Email != "ops@example.com" {
		t.Errorf("principal = %+v", p)
	}

	if _, err := svc.Login(ctx, "ops@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginDisabledAccount(t *testing.T) {
	svc, st := newTestAuth(t)
	seedAdmin(t, st, "gone@example.com", "whatever1", false)

	if _, err := svc.Login(context.Background(), "gone@example.com", "whatever1"); !errors.Is(err, ErrAccountDisabled) {
		t.Errorf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestJWTRoundTrip(t *testing.T) {
	svc, _ := newTestAuth(t)
	ctx := context.Background()

	in := &AdminPrincipal{AdminID: "adm-1", Email: "ops@example.com", SuperAdmin: true}
	token, err := svc.IssueJWT(ctx, in, time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	out, err := svc.ValidateJWT(ctx, token)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if out.AdminID != in.AdminID || out.Email != in.Email || !out.SuperAdmin {
		t.Errorf("claims did not round trip: %+v", out)
	}
}

func TestJWTRejectsForgeries(t *testing.T) {
	svc, _ := newTestAuth(t)
	other := NewAuthService(nil, "a-different-secret")
	ctx := context.Background()

	token, err := other.IssueJWT(ctx, &AdminPrincipal{AdminID: "adm-1"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ValidateJWT(ctx, token); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong key: expected ErrInvalidCredentials, got %v", err)
	}

	expired, err := svc.IssueJWT(ctx, &AdminPrincipal{AdminID: "adm-1"}, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ValidateJWT(ctx, expired); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expired: expected ErrInvalidCredentials, got %v", err)
	}

	if _, err := svc.ValidateJWT(ctx, "not.a.token"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("garbage: expected ErrInvalidCredentials, got %v", err)
	}
}
