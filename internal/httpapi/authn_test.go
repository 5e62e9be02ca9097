package httpapi

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret, subject string, expiry time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestAuthDisabledWithoutSecret(t *testing.T) {
	c := newTestAPI(t, "")
	resp := c.get("/v1/clients", nil)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestAuthRequiredWithSecret(t *testing.T) {
	c := newTestAPI(t, "test-secret")

	resp := c.get("/v1/clients", nil)
	wantStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	// Health stays public.
	resp = c.get("/healthz", nil)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	token := signToken(t, "test-secret", "ops@timebill.test", time.Hour)
	resp = c.do(http.MethodGet, "/v1/clients", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestAuthRejectsBadTokens(t *testing.T) {
	c := newTestAPI(t, "test-secret")

	cases := map[string]string{
		"wrong secret": "Bearer " + signToken(t, "other-secret", "ops", time.Hour),
		"expired":      "Bearer " + signToken(t, "test-secret", "ops", -time.Hour),
		"bad scheme":   "Basic abc",
		"empty":        "",
	}
	for name, header := range cases {
		headers := map[string]string{}
		if header != "" {
			headers["Authorization"] = header
		}
		resp := c.do(http.MethodGet, "/v1/clients", nil, headers)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, resp.StatusCode)
		}
		resp.Body.Close()
	}
}
