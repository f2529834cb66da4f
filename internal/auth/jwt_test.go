package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndVerify(t *testing.T) {
	a := NewAuthenticator("secret", "quiz-service")
	token, err := a.Issue("u1", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	userID, err := a.Verify(token)
	if err != nil || userID != "u1" {
		t.Fatalf("verify: got %q err=%v", userID, err)
	}
}

func TestVerifyRejects(t *testing.T) {
	a := NewAuthenticator("secret", "quiz-service")
	expired, _ := a.Issue("u1", -time.Minute)
	otherKey, _ := NewAuthenticator("other", "quiz-service").Issue("u1", time.Hour)
	otherIssuer, _ := NewAuthenticator("secret", "someone-else").Issue("u1", time.Hour)
	noSubject, _ := a.Issue("", time.Hour)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong key":    otherKey,
		"wrong issuer": otherIssuer,
		"no subject":   noSubject,
		"alg none":     none,
		"garbage":      "abc.def.ghi",
	} {
		if _, err := a.Verify(token); err != ErrInvalidToken {
			t.Fatalf("%s: expected invalid token, got %v", name, err)
		}
	}
}

func TestMiddleware(t *testing.T) {
	a := NewAuthenticator("secret", "")
	var seen string
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := UserID(r.Context())
		seen = string(id)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	token, _ := a.Issue("u7", time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen != "u7" {
		t.Fatalf("expected pass-through for u7, got code=%d user=%q", rec.Code, seen)
	}

	seen = ""
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	if seen != "u7" {
		t.Fatalf("expected query token accepted, got %q", seen)
	}
}

func TestEmptySecretAcceptsNothing(t *testing.T) {
	a := NewAuthenticator("", "quiz-service")
	if _, err := a.Issue("u1", time.Hour); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("issue with empty secret: expected ErrMissingSecret, got %v", err)
	}

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "victim",
		"iss": "quiz-service",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte{})
	if err != nil {
		t.Fatalf("sign with empty key: %v", err)
	}
	if _, err := a.Verify(forged); err != ErrInvalidToken {
		t.Fatalf("expected token signed with an empty key to be rejected, got %v", err)
	}
}

func TestUnauthorizedBodyIsJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeUnauthorized(rec, `token "abc" is malformed`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	if body["error"] != "unauthorized" || body["message"] != `token "abc" is malformed` {
		t.Fatalf("unexpected body %v", body)
	}
}
