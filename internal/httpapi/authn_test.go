package httpapi

import (
	"net/http"
	"testing"
	"time"

	"github.com/Jyothsnapennepalli/permission-debt-app/internal/auth"
)

func TestAuthRejectsBadTokens(t *testing.T) {
	c, _ := newTestAPI(t, &fakeProvider{})

	cases := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"wrong scheme", "Basic abc123"},
		{"empty bearer", "Bearer "},
		{"garbage token", "Bearer not-a-jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			headers := map[string]string{}
			if tc.header != "" {
				headers["Authorization"] = tc.header
			}
			resp := c.get("/v1/audit/records", nil, headers)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", resp.StatusCode)
			}
			resp.Body.Close()
		})
	}
}

func TestAuthRejectsExpiredSession(t *testing.T) {
	c, _ := newTestAPI(t, &fakeProvider{})

	principal := auth.Principal{ID: "uid-1", Email: "a@co.com"}
	token, err := auth.GenerateSessionToken(principal, "tok", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateSessionToken: %v", err)
	}

	resp := c.get("/v1/audit/records", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestPublicPathsSkipAuth(t *testing.T) {
	c, _ := newTestAPI(t, &fakeProvider{})

	for _, path := range []string{"/healthz", "/readyz", "/v1/info", "/metrics"} {
		resp := c.get(path, nil, nil)
		if resp.StatusCode == http.StatusUnauthorized {
			t.Fatalf("%s must not require a session", path)
		}
		resp.Body.Close()
	}
}

func TestPreflightSkipsAuth(t *testing.T) {
	c, _ := newTestAPI(t, &fakeProvider{})

	resp := c.do(http.MethodOptions, "/v1/audit/runs", nil, map[string]string{
		"Origin": "http://localhost:3000",
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", resp.StatusCode)
	}
	resp.Body.Close()
}
