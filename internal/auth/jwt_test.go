package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"contact-center/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// signToken mints a token the way the identity service does.
func signToken(t *testing.T, secret string, now time.Time, ttl time.Duration, typ TokenType, id Identity, issuer, audience string) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        "jti-1",
		},
		UserID:    id.UserID,
		TenantID:  id.TenantID,
		AgentID:   id.AgentID,
		Role:      id.Role,
		TokenType: typ,
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestVerifyAccessToken(t *testing.T) {
	m, err := NewManager(config.AuthConfig{JWTSecret: "secret", JWTIssuer: "issuer", JWTAudience: "aud"})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	token := signToken(t, "secret", now, 15*time.Minute, TokenTypeAccess,
		Identity{UserID: "user-1", TenantID: "t-1", AgentID: "a-1", Role: "agent"}, "issuer", "aud")

	claims, err := m.Verify(token, TokenTypeAccess, now.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id := claims.Identity(); id.UserID != "user-1" || id.TenantID != "t-1" || id.AgentID != "a-1" || id.Role != "agent" {
		t.Fatalf("unexpected identity: %+v", id)
	}

	if _, err := m.Verify(token, TokenTypeAccess, now.Add(time.Hour)); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}

	other := signToken(t, "secret", now, time.Minute, TokenTypeAccess,
		Identity{UserID: "u", TenantID: "t", Role: "agent"}, "someone-else", "aud")
	if _, err := m.Verify(other, TokenTypeAccess, now); err == nil {
		t.Fatalf("expected wrong issuer to be rejected")
	}

	forged := signToken(t, "not-the-secret", now, time.Minute, TokenTypeAccess,
		Identity{UserID: "u", TenantID: "t", Role: "agent"}, "issuer", "aud")
	if _, err := m.Verify(forged, TokenTypeAccess, now); err == nil {
		t.Fatalf("expected bad signature to be rejected")
	}
}

func TestVerifyRejectsRefreshToken(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret"})
	now := time.Now()
	token := signToken(t, "secret", now, time.Hour, TokenTypeRefresh, Identity{UserID: "u", TenantID: "t"}, "", "")
	if _, err := m.Verify(token, TokenTypeAccess, now); err == nil {
		t.Fatalf("expected token_type mismatch")
	}
}

func TestVerifyRequiresTenant(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret"})
	now := time.Now()
	token := signToken(t, "secret", now, time.Minute, TokenTypeAccess, Identity{UserID: "u", Role: "agent"}, "", "")
	if _, err := m.Verify(token, TokenTypeAccess, now); err == nil {
		t.Fatalf("expected tenant_id missing")
	}
}

func TestRequireAccessToken_HeaderOrQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret"})
	token := signToken(t, "secret", time.Now(), time.Minute, TokenTypeAccess, Identity{UserID: "u", TenantID: "t-9", Role: "agent"}, "", "")

	r := gin.New()
	r.GET("/x", RequireAccessToken(m), func(c *gin.Context) {
		tid, _ := TenantID(c.Request.Context())
		c.String(http.StatusOK, tid)
	})

	cases := []struct {
		name   string
		target string
		header string
		code   int
	}{
		{"header", "/x", "Bearer " + token, http.StatusOK},
		{"query", "/x?access_token=" + token, "", http.StatusOK},
		{"missing", "/x", "", http.StatusUnauthorized},
		{"garbage", "/x", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, tc.target, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		r.ServeHTTP(w, req)
		if w.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.code, w.Code)
		}
		if tc.code == http.StatusOK && w.Body.String() != "t-9" {
			t.Fatalf("%s: expected tenant in context, got %q", tc.name, w.Body.String())
		}
	}
}
