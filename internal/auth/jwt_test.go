package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService("test-secret-at-least-16-chars!!", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// =========================================================================
// TOKEN SERVICE
// =========================================================================

func TestNewTokenService_ShortSecret(t *testing.T) {
	if _, err := NewTokenService("short", time.Hour); err == nil {
		t.Fatal("NewTokenService() should reject secrets shorter than 16 chars")
	}
}

func TestGenerate_RejectsEmptyUser(t *testing.T) {
	ts := newTestTokenService(t)
	if _, err := ts.Generate(""); err == nil {
		t.Fatal("Generate(\"\") should fail")
	}
}

func TestValidate_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Generate("user-123")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	got, err := ts.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got != "user-123" {
		t.Errorf("Validate() = %q, want %q", got, "user-123")
	}
}

func TestValidate_Rejects(t *testing.T) {
	ts := newTestTokenService(t)
	other, _ := NewTokenService("a-completely-different-secret", time.Hour)

	expired, _ := ts.GenerateWithDuration("user-123", -time.Minute)
	foreign, _ := other.Generate("user-123")
	wrongIssuer, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-123",
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("test-secret-at-least-16-chars!!"))
	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user-123",
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"other secret", foreign},
		{"wrong issuer", wrongIssuer},
		{"alg none", unsigned},
		{"garbage", "not.a.jwt"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ts.Validate(tt.token); err == nil {
				t.Errorf("Validate() accepted a %s token", tt.name)
			}
		})
	}
}

func TestValidate_ExpiredMessage(t *testing.T) {
	ts := newTestTokenService(t)
	token, _ := ts.GenerateWithDuration("user-123", -time.Minute)

	_, err := ts.Validate(token)
	if err == nil || !strings.Contains(err.Error(), "expired") {
		t.Errorf("Validate() error = %v, want an expiry error", err)
	}
}

// =========================================================================
// MIDDLEWARE
// =========================================================================

func TestRequireAuth(t *testing.T) {
	ts := newTestTokenService(t)
	token, _ := ts.Generate("user-123")

	var seen string
	h := RequireAuth(ts, func(w http.ResponseWriter, err error) {
		w.WriteHeader(http.StatusUnauthorized)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserIDFromContext(r.Context())
	}))

	tests := []struct {
		name       string
		prepare    func(r *http.Request)
		wantStatus int
		wantUser   string
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK, "user-123"},
		{"lower-case scheme", func(r *http.Request) { r.Header.Set("Authorization", "bearer "+token) }, http.StatusOK, "user-123"},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: token}) }, http.StatusOK, "user-123"},
		{"no token", func(r *http.Request) {}, http.StatusUnauthorized, ""},
		{"basic scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }, http.StatusUnauthorized, ""},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if seen != tt.wantUser {
				t.Errorf("user = %q, want %q", seen, tt.wantUser)
			}
		})
	}
}

func TestExtractUserID_NoToken(t *testing.T) {
	ts := newTestTokenService(t)
	_, err := extractUserID(httptest.NewRequest(http.MethodGet, "/", nil), ts)
	if !errors.Is(err, errNoToken) {
		t.Errorf("extractUserID() error = %v, want errNoToken", err)
	}
}
