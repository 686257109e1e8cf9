package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"prosync/internal/domain"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrBlocked            = errors.New("user is blocked")
)

const (
	DefaultSessionTTL  = 4 * time.Hour
	DefaultRememberTTL = 30 * 24 * time.Hour
	signatureLen       = 24
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// RequireAdmin returns ForbiddenError unless u is an administrator.
func RequireAdmin(u domain.User) error {
	if !u.IsAdmin {
		return ForbiddenError{Permission: "admin"}
	}
	return nil
}

// UserLister is the slice of the store Login needs.
type UserLister interface {
	ListUsers(ctx context.Context) ([]domain.User, error)
}

// IsHash reports whether secret is already a bcrypt hash.
func IsHash(secret string) bool {
	return strings.HasPrefix(secret, "$2a$") || strings.HasPrefix(secret, "$2b$") || strings.HasPrefix(secret, "$2y$")
}

func HashPassword(plain string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// CheckPassword compares against a bcrypt hash, or in constant time against a legacy
// plain secret.
func CheckPassword(stored, given string) bool {
	if stored == "" {
		return false
	}
	if IsHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}

// Login resolves username (case-insensitive) and verifies password.
func Login(ctx context.Context, users UserLister, username, password string) (domain.User, error) {
	all, err := users.ListUsers(ctx)
	if err != nil {
		return domain.User{}, err
	}
	username = strings.TrimSpace(username)
	var candidates []domain.User
	for _, u := range all {
		if strings.EqualFold(strings.TrimSpace(u.Username), username) {
			candidates = append(candidates, u)
		}
	}
	// Active accounts win over blocked ones sharing a username.
	for _, u := range candidates {
		if u.Status == domain.UserActive && CheckPassword(u.Password, password) {
			return u, nil
		}
	}
	for _, u := range candidates {
		if CheckPassword(u.Password, password) {
			return domain.User{}, ErrBlocked
		}
	}
	return domain.User{}, ErrInvalidCredentials
}

// DeviceSignature fingerprints a user agent.
func DeviceSignature(userAgent string) string {
	enc := base64.StdEncoding.EncodeToString([]byte(userAgent))
	if len(enc) > signatureLen {
		enc = enc[:signatureLen]
	}
	return enc
}

type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt" format:"date-time"`
	Remember  bool      `json:"remember"`
}

type claims struct {
	jwt.RegisteredClaims
	Device   string `json:"dev"`
	Remember bool   `json:"rem,omitempty"`
}

// Sessions issues and validates HS256 session tokens.
type Sessions struct {
	Secret      []byte
	TTL         time.Duration
	RememberTTL time.Duration
	Now         func() time.Time
}

func (s Sessions) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Sessions) key() ([]byte, error) {
	if len(s.Secret) == 0 {
		return nil, errors.New("jwt secret not configured")
	}
	return s.Secret, nil
}

func (s Sessions) Issue(userID string, remember bool, userAgent string) (Session, error) {
	key, err := s.key()
	if err != nil {
		return Session{}, err
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if remember {
		ttl = s.RememberTTL
		if ttl <= 0 {
			ttl = DefaultRememberTTL
		}
	}
	now := s.now().UTC()
	exp := now.Add(ttl)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Device:   DeviceSignature(userAgent),
		Remember: remember,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(key)
	if err != nil {
		return Session{}, fmt.Errorf("sign session: %w", err)
	}
	return Session{Token: signed, UserID: userID, ExpiresAt: exp.Truncate(time.Second), Remember: remember}, nil
}

// Validate returns the session subject. Expired tokens and tokens from another device are
// invalid without an error; malformed or forged tokens return one.
func (s Sessions) Validate(token, userAgent string) (string, bool, error) {
	key, err := s.key()
	if err != nil {
		return "", false, err
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	c := &claims{}
	_, err = parser.ParseWithClaims(token, c, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if errors.Is(err, jwt.ErrTokenExpired) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if c.Subject == "" {
		return "", false, errors.New("subject claim required")
	}
	if c.Device != DeviceSignature(userAgent) {
		return "", false, nil
	}
	return c.Subject, true, nil
}
