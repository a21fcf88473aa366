package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/coordination-labs/messaging-gateway/internal/logging"
)

var testSecret = []byte("test-secret")

func signTestToken(t *testing.T, userID string, expired bool) string {
	t.Helper()
	claims := &Claims{
		UserID: userID,
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	if expired {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tokenString
}

func authedHandler(t *testing.T, gotUser *string) http.Handler {
	m := NewAuthMiddleware(testSecret, logging.New("test", "error", "json"), []string{"/health"})
	return m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*gotUser = GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAuthAcceptsValidToken(t *testing.T) {
	var gotUser string
	handler := authedHandler(t, &gotUser)

	r := httptest.NewRequest(http.MethodGet, "/api/whatsapp/groups", nil)
	r.Header.Set("Authorization", "Bearer "+signTestToken(t, "user-42", false))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotUser != "user-42" {
		t.Fatalf("user in context = %q", gotUser)
	}
}

func TestAuthRejections(t *testing.T) {
	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"malformed header", "Token abc"},
		{"garbage token", "Bearer not.a.token"},
		{"expired token", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var gotUser string
			handler := authedHandler(t, &gotUser)

			r := httptest.NewRequest(http.MethodGet, "/api/whatsapp/groups", nil)
			header := tc.header
			if tc.name == "expired token" {
				header = "Bearer " + signTestToken(t, "user-42", true)
			}
			if header != "" {
				r.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, r)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if gotUser != "" {
				t.Fatal("handler ran despite rejection")
			}
		})
	}
}

func TestAuthSkipPaths(t *testing.T) {
	var gotUser string
	handler := authedHandler(t, &gotUser)

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for skipped path", rec.Code)
	}
}

func TestAuthRejectsWrongSigningMethod(t *testing.T) {
	var gotUser string
	handler := authedHandler(t, &gotUser)

	// Token signed with "none" must be rejected.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "user-42"})
	tokenString, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/whatsapp/groups", nil)
	r.Header.Set("Authorization", "Bearer "+tokenString)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
