package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keywarden/keywarden/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
)

// AdminPrincipal identifies an authenticated operator.
type AdminPrincipal struct {
	AdminID    string
	Email      string
	SuperAdmin bool
}

// AuthService authenticates operator accounts for the admin API. Keys
// presented by platform callers go through Engine.VerifyAndAuthorize instead;
// this service only guards the management surface of the engine itself.
type AuthService struct {
	store     *store.Store
	jwtSecret []byte
}

func NewAuthService(st *store.Store, jwtSecret string) *AuthService {
	return &AuthService{
		store:     st,
		jwtSecret: []byte(jwtSecret),
	}
}

// Login verifies an operator's email/password pair and returns the principal.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AdminPrincipal, error) {
	admin, err := s.store.GetAdminByEmail(ctx, email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	candidate := HashPassword(password)
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(admin.PasswordHash)) != 1 {
		return nil, ErrInvalidCredentials
	}
	if !admin.IsActive {
		return nil, ErrAccountDisabled
	}

	// Update last login timestamp (fire and forget)
	go s.store.UpdateAdminLastLogin(context.Background(), admin.ID) //nolint:errcheck

	return &AdminPrincipal{
		AdminID:    admin.ID,
		Email:      admin.Email,
		SuperAdmin: admin.IsSuperAdmin,
	}, nil
}

// ValidateJWT verifies a bearer token and returns the operator identity.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*AdminPrincipal, error) {
	claims := &jwtClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !token.Valid {
		return nil, ErrInvalidCredentials
	}

	return &AdminPrincipal{
		AdminID:    claims.AdminID,
		Email:      claims.Email,
		SuperAdmin: claims.SuperAdmin,
	}, nil
}

// IssueJWT creates a new signed token for the given operator.
func (s *AuthService) IssueJWT(ctx context.Context, p *AdminPrincipal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		AdminID:    p.AdminID,
		Email:      p.Email,
		SuperAdmin: p.SuperAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "keywarden",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

type jwtClaims struct {
	AdminID    string `json:"admin_id"`
	Email      string `json:"email"`
	SuperAdmin bool   `json:"super_admin"`
	jwt.RegisteredClaims
}
