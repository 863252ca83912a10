package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// AdminTokenHeader carries the static admin token.
	AdminTokenHeader = "X-Admin-Token"
	RoleAdmin        = "admin"
)

var ErrUnauthorized = errors.New("unauthorized")

// Claims is the payload of an admin bearer token.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// HasRole reports whether the claims grant role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AdminConfig enables either or both admin credentials. With neither set
// every request is rejected.
type AdminConfig struct {
	Token     string
	JWTSecret []byte
	Issuer    string
}

// Authenticator verifies admin requests.
type Authenticator struct {
	cfg AdminConfig
}

func NewAuthenticator(cfg AdminConfig) *Authenticator {
	cfg.Token = strings.TrimSpace(cfg.Token)
	return &Authenticator{cfg: cfg}
}

// Authenticate accepts the static token in X-Admin-Token or an HS256
// bearer token carrying the admin role, and returns the caller's subject.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	if a.cfg.Token != "" {
		got := r.Header.Get(AdminTokenHeader)
		if got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(a.cfg.Token)) == 1 {
			return "admin-token", nil
		}
	}

	if len(a.cfg.JWTSecret) == 0 {
		return "", ErrUnauthorized
	}
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrUnauthorized
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(parts[1]), claims, func(*jwt.Token) (interface{}, error) {
		return a.cfg.JWTSecret, nil
	}, opts...)
	if err != nil || !token.Valid || !claims.HasRole(RoleAdmin) {
		return "", ErrUnauthorized
	}
	return claims.Subject, nil
}

// IssueAdminToken signs an admin bearer token for subject. It backs the
// CLI's token command.
func IssueAdminToken(secret []byte, subject, issuer string, claims jwt.RegisteredClaims) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is required")
	}
	claims.Subject = subject
	if issuer != "" {
		claims.Issuer = issuer
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: claims, Roles: []string{RoleAdmin}})
	return tok.SignedString(secret)
}
