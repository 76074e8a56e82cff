package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:    AppConfig{Env: "local", Port: 8080},
		Auth:   AuthConfig{JWTSecret: "secret"},
		Relay:  RelayConfig{SendBuffer: 64},
		WebRTC: WebRTCConfig{MaxConnections: 1000, HandshakeTimeout: 30 * time.Second},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	// Ensure a clean env by not setting anything and calling validation directly.
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_MemoryDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Storage.Driver != StorageMemory {
		t.Fatalf("expected memory driver default, got %q", c.Storage.Driver)
	}
	if len(c.WebRTC.ICEServers) != 2 {
		t.Fatalf("expected default ice servers, got %+v", c.WebRTC.ICEServers)
	}
	if c.Queue.ReaperInterval != 5*time.Second {
		t.Fatalf("expected reaper default, got %v", c.Queue.ReaperInterval)
	}
}

func TestValidate_PostgresRequiresDB(t *testing.T) {
	c := validLocal()
	c.Storage.Driver = StoragePostgres
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_HOST is required") {
		t.Fatalf("expected DB_HOST error, got %v", err)
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Storage.Driver = StoragePostgres
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	c.DB = DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "contact_center"}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_ProductionRejectsMemory(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for memory storage in production")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validLocal()
	c.Storage.Driver = StoragePostgres
	c.DB = DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "contact_center"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_ICEServers(t *testing.T) {
	c := validLocal()
	c.WebRTC.ICEServers, _ = loadICEServers("stun:stun.example.com:3478, http://nope", "")
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "http://nope") {
		t.Fatalf("expected invalid url error, got %v", err)
	}

	c = validLocal()
	c.WebRTC.ICEServers, _ = loadICEServers("turn:turn.example.com:3478", "")
	err = c.Validate()
	if err == nil || !strings.Contains(err.Error(), "requires username and credential") {
		t.Fatalf("expected turn credentials error, got %v", err)
	}
}

func TestLoadICEServers_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ice.yaml")
	body := `ice_servers:
  - urls: ["stun:stun.example.com:3478"]
  - urls: ["turn:turn.example.com:3478?transport=udp"]
    username: user
    credential: secret
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	servers, err := loadICEServers("ignored:list", path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(servers) != 2 || servers[1].Username != "user" || servers[1].Credential != "secret" {
		t.Fatalf("unexpected servers: %+v", servers)
	}
	if errs := validateICEServers(servers); len(errs) != 0 {
		t.Fatalf("expected valid servers, got %v", errs)
	}

	if _, err := loadICEServers("", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("ICE_SERVERS", "stun:a.example.com:3478,stun:b.example.com:3478")
	t.Setenv("QUEUE_MAX_WAIT", "2m")
	t.Setenv("WEBRTC_MAX_CONNECTIONS", "5")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.HTTPAddr() != ":9090" {
		t.Fatalf("unexpected addr %q", c.HTTPAddr())
	}
	if len(c.WebRTC.ICEServers) != 2 || c.WebRTC.ICEServers[1].URLs[0] != "stun:b.example.com:3478" {
		t.Fatalf("unexpected ice servers %+v", c.WebRTC.ICEServers)
	}
	if c.Queue.MaxWait != 2*time.Minute || c.WebRTC.MaxConnections != 5 {
		t.Fatalf("unexpected queue/webrtc config %+v %+v", c.Queue, c.WebRTC)
	}
	if c.WebRTC.HandshakeTimeout != 30*time.Second || c.Relay.SendBuffer != 64 {
		t.Fatalf("expected defaults, got %+v %+v", c.WebRTC, c.Relay)
	}
	if c.UsesRedis() {
		t.Fatalf("redis should be off without REDIS_HOST")
	}
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("QUEUE_MAX_WAIT", "soon")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "QUEUE_MAX_WAIT") {
		t.Fatalf("expected duration error, got %v", err)
	}
}
