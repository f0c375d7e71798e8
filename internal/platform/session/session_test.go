package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func TestIssuer_RoundTrip(t *testing.T) {
	i := NewIssuer("test-secret", time.Hour)
	token, exp, err := i.Issue("ws-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Errorf("expected expiry in the future, got %s", exp)
	}
	sid, err := i.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sid != "ws-1" {
		t.Errorf("expected ws-1, got %q", sid)
	}
}

func TestIssuer_RejectsForeignKey(t *testing.T) {
	token, _, err := NewIssuer("one", time.Hour).Issue("ws-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := NewIssuer("two", time.Hour).Parse(token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestIssuer_RejectsExpired(t *testing.T) {
	i := NewIssuer("secret", time.Minute)
	i.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err := i.Issue("ws-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	i.now = time.Now
	if _, err := i.Parse(token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestIssuer_RejectsMissingSessionID(t *testing.T) {
	i := NewIssuer("secret", time.Hour)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := i.Parse(token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	i := NewIssuer("secret", time.Hour)
	token, _, err := i.Issue("ws-9")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"basic auth", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"garbage token", "Bearer abc", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}

	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			var seen string
			h := Middleware(i)(func(c echo.Context) error {
				seen = FromContext(c)
				return c.NoContent(http.StatusOK)
			})
			err := h(c)

			if tt.status == http.StatusOK {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if seen != "ws-9" {
					t.Errorf("expected session ws-9, got %q", seen)
				}
				return
			}
			httpErr, ok := err.(*echo.HTTPError)
			if !ok {
				t.Fatalf("expected echo.HTTPError, got %T", err)
			}
			if httpErr.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, httpErr.Code)
			}
		})
	}
}
