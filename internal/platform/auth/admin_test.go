package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret-key-for-unit-tests-only")

func signed(t *testing.T, claims Claims, method jwt.SigningMethod, key []byte) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return s
}

func requestWith(headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/register-lab", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestAuthenticate_StaticToken(t *testing.T) {
	a := NewAuthenticator(AdminConfig{Token: "s3cret"})

	sub, err := a.Authenticate(requestWith(map[string]string{"x-admin-token": "s3cret"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub != "admin-token" {
		t.Errorf("unexpected subject %q", sub)
	}

	for _, bad := range []string{"", "S3CRET", "s3cret ", "other"} {
		if _, err := a.Authenticate(requestWith(map[string]string{"X-Admin-Token": bad})); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("token %q: expected ErrUnauthorized, got %v", bad, err)
		}
	}
}

func TestAuthenticate_NothingConfigured(t *testing.T) {
	a := NewAuthenticator(AdminConfig{})
	if _, err := a.Authenticate(requestWith(map[string]string{"X-Admin-Token": ""})); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAuthenticate_BearerJWT(t *testing.T) {
	a := NewAuthenticator(AdminConfig{JWTSecret: testSecret})
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))
	past := jwt.NewNumericDate(time.Now().Add(-time.Hour))

	tests := []struct {
		name    string
		header  string
		wantErr bool
	}{
		{
			name:   "admin role",
			header: "Bearer " + signed(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "ops", ExpiresAt: future}, Roles: []string{"admin"}}, jwt.SigningMethodHS256, testSecret),
		},
		{
			name:    "missing role",
			header:  "Bearer " + signed(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "ops", ExpiresAt: future}, Roles: []string{"viewer"}}, jwt.SigningMethodHS256, testSecret),
			wantErr: true,
		},
		{
			name:    "expired",
			header:  "Bearer " + signed(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "ops", ExpiresAt: past}, Roles: []string{"admin"}}, jwt.SigningMethodHS256, testSecret),
			wantErr: true,
		},
		{
			name:    "wrong key",
			header:  "Bearer " + signed(t, Claims{Roles: []string{"admin"}}, jwt.SigningMethodHS256, []byte("other")),
			wantErr: true,
		},
		{
			name:    "wrong algorithm",
			header:  "Bearer " + signed(t, Claims{Roles: []string{"admin"}}, jwt.SigningMethodHS512, testSecret),
			wantErr: true,
		},
		{name: "no scheme", header: "abc", wantErr: true},
		{name: "empty bearer", header: "Bearer ", wantErr: true},
		{name: "basic", header: "Basic dXNlcjpwYXNz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := a.Authenticate(requestWith(map[string]string{"Authorization": tt.header}))
			if tt.wantErr {
				if !errors.Is(err, ErrUnauthorized) {
					t.Errorf("expected ErrUnauthorized, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sub != "ops" {
				t.Errorf("unexpected subject %q", sub)
			}
		})
	}
}

func TestAuthenticate_TokenOrJWT(t *testing.T) {
	a := NewAuthenticator(AdminConfig{Token: "s3cret", JWTSecret: testSecret})
	tok, err := IssueAdminToken(testSecret, "cli", "", jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))})
	if err != nil {
		t.Fatalf("IssueAdminToken: %v", err)
	}

	if _, err := a.Authenticate(requestWith(map[string]string{"X-Admin-Token": "wrong", "Authorization": "Bearer " + tok})); err != nil {
		t.Errorf("expected bearer fallback to succeed, got %v", err)
	}
	if _, err := a.Authenticate(requestWith(map[string]string{"X-Admin-Token": "s3cret"})); err != nil {
		t.Errorf("expected static token to succeed, got %v", err)
	}
}

func TestAuthenticate_Issuer(t *testing.T) {
	a := NewAuthenticator(AdminConfig{JWTSecret: testSecret, Issuer: "lab-portal"})

	good, _ := IssueAdminToken(testSecret, "cli", "lab-portal", jwt.RegisteredClaims{})
	if _, err := a.Authenticate(requestWith(map[string]string{"Authorization": "Bearer " + good})); err != nil {
		t.Errorf("expected matching issuer to pass, got %v", err)
	}
	bad, _ := IssueAdminToken(testSecret, "cli", "elsewhere", jwt.RegisteredClaims{})
	if _, err := a.Authenticate(requestWith(map[string]string{"Authorization": "Bearer " + bad})); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected issuer mismatch to fail, got %v", err)
	}
}

func TestIssueAdminToken_RequiresSecret(t *testing.T) {
	if _, err := IssueAdminToken(nil, "x", "", jwt.RegisteredClaims{}); err == nil {
		t.Error("expected error without secret")
	}
}
