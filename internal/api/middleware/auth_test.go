package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"Sutian/internal/auth"
)

// stubVerifier accepts exactly one token
type stubVerifier struct {
	validToken string
	subject    string
}

func (s *stubVerifier) Verify(_ context.Context, token string) (*auth.Claims, error) {
	if token != s.validToken {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: s.subject},
		Role:             "authenticated",
	}, nil
}

func newTestAuth() *AuthMiddleware {
	return NewAuthMiddleware(&stubVerifier{validToken: "good-token", subject: "user-123"}, nil)
}

// TestRequireAuth_ValidToken tests that valid tokens are accepted
func TestRequireAuth_ValidToken(t *testing.T) {
	handlerCalled := false
	handler := newTestAuth().RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true

		if id := GetUserID(r); id != "user-123" {
			t.Errorf("expected user id 'user-123', got %s", id)
		}
		claims := GetJWTClaims(r)
		if claims == nil || claims.Role != "authenticated" {
			t.Errorf("expected claims with role 'authenticated', got %+v", claims)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !handlerCalled {
		t.Error("handler was not called")
	}
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRequireAuth_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		wantMessage string
	}{
		{name: "missing header", header: "", wantMessage: "Missing Authorization header"},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz", wantMessage: "Invalid Authorization header format. Expected: Bearer <token>"},
		{name: "invalid token", header: "Bearer bad-token", wantMessage: "Invalid or expired token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestAuth().RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodPost, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected status 401, got %d", w.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON body: %v", err)
			}
			if body["error"] != "AuthenticationRequired" {
				t.Errorf("expected error AuthenticationRequired, got %q", body["error"])
			}
			if body["message"] != tt.wantMessage {
				t.Errorf("expected message %q, got %q", tt.wantMessage, body["message"])
			}
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	tests := []struct {
		name   string
		header string
		wantID string
	}{
		{name: "valid token", header: "Bearer good-token", wantID: "user-123"},
		{name: "no token", header: "", wantID: ""},
		{name: "invalid token", header: "Bearer bad-token", wantID: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotID string
			called := false
			handler := newTestAuth().OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				gotID = GetUserID(r)
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if !called {
				t.Fatal("handler was not called")
			}
			if gotID != tt.wantID {
				t.Errorf("expected user id %q, got %q", tt.wantID, gotID)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name       string
		roles      []string
		bearer     string
		wantStatus int
	}{
		{name: "matching role", roles: []string{"service_role", "authenticated"}, bearer: "good-token", wantStatus: http.StatusOK},
		{name: "other role", roles: []string{"service_role"}, bearer: "good-token", wantStatus: http.StatusForbidden},
		{name: "no token", roles: []string{"authenticated"}, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestAuth().RequireAuth(RequireRole(tt.roles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})))

			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}

	// Without RequireAuth in front there are no claims to check
	w := httptest.NewRecorder()
	RequireRole("authenticated")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler must not run without claims")
	})).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 without claims, got %d", w.Code)
	}
}

func TestContextIdentity(t *testing.T) {
	user, err := ContextIdentity{}.CurrentUser(context.Background())
	if err != nil || user != nil {
		t.Errorf("anonymous context: expected (nil, nil), got (%v, %v)", user, err)
	}

	user, err = ContextIdentity{}.CurrentUser(SetTestUserID(context.Background(), "user-9"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil || user.ID != "user-9" {
		t.Errorf("expected user-9, got %+v", user)
	}
}

func TestVerifierSatisfiesInterface(t *testing.T) {
	v, err := auth.NewVerifier(auth.Config{Secret: []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		t.Fatal(err)
	}
	var _ TokenVerifier = v

	_, err = v.Verify(context.Background(), "nope")
	if !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}
