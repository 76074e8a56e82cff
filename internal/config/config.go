package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

// Config holds all configuration required by the API process.
// All values come from env (a .env file is loaded by the CLI when present).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	Storage StorageConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	WebRTC  WebRTCConfig
	Queue   QueueConfig
	Relay   RelayConfig
}

type AppConfig struct {
	Env  string
	Port int
}

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type StorageConfig struct {
	// Driver selects the call recorder and agent directory: memory or postgres.
	Driver string

	// AgentsFile is a YAML roster. The memory driver loads it at startup; with postgres it
	// is imported by the agents import command.
	AgentsFile string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional. When Host is set, call events are also published to Redis and
// connection slots are counted there, shared by every API instance.
type RedisConfig struct {
	Host string
	Port int
}

// AuthConfig verifies access tokens minted by the identity service; this service never
// issues tokens.
type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

type WebRTCConfig struct {
	ICEServers []webrtc.ICEServer

	// MaxConnections caps open signaling connections per tenant; 0 disables the cap.
	MaxConnections int

	// HandshakeTimeout bounds how long a connection may stay connecting.
	HandshakeTimeout time.Duration
}

type QueueConfig struct {
	// MaxWait evicts queue entries waiting longer than this; 0 disables eviction.
	MaxWait time.Duration

	ReaperInterval time.Duration
	CallRetention  time.Duration
}

type RelayConfig struct {
	SendBuffer int
	PongWait   time.Duration

	// AllowedOrigins restricts browser WebSocket origins; empty allows any.
	AllowedOrigins []string
}

// DefaultICEServers are used when neither ICE_SERVERS nor ICE_SERVERS_FILE is set.
func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:stun1.l.google.com:19302"}},
	}
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(os.Getenv("STORAGE_DRIVER")))
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageMemory
	}
	c.Storage.AgentsFile = strings.TrimSpace(os.Getenv("AGENTS_FILE"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := optionalInt("DB_PORT", 5432)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optionalInt("REDIS_PORT", 6379)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))

	{
		servers, err := loadICEServers(os.Getenv("ICE_SERVERS"), os.Getenv("ICE_SERVERS_FILE"))
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.WebRTC.ICEServers = servers
	}
	{
		n, err := optionalInt("WEBRTC_MAX_CONNECTIONS", 1000)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.WebRTC.MaxConnections = n
	}
	c.WebRTC.HandshakeTimeout, parseErrs = optionalDuration(parseErrs, "WEBRTC_HANDSHAKE_TIMEOUT", 30*time.Second)

	c.Queue.MaxWait, parseErrs = optionalDuration(parseErrs, "QUEUE_MAX_WAIT", 0)
	c.Queue.ReaperInterval, parseErrs = optionalDuration(parseErrs, "REAPER_INTERVAL", 5*time.Second)
	c.Queue.CallRetention, parseErrs = optionalDuration(parseErrs, "CALL_RETENTION", time.Hour)

	{
		n, err := optionalInt("RELAY_SEND_BUFFER", 64)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Relay.SendBuffer = n
	}
	c.Relay.PongWait, parseErrs = optionalDuration(parseErrs, "RELAY_PONG_WAIT", 60*time.Second)
	for _, o := range strings.Split(os.Getenv("RELAY_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			c.Relay.AllowedOrigins = append(c.Relay.AllowedOrigins, o)
		}
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the configuration and fills env-dependent defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	switch c.Storage.Driver {
	case "":
		c.Storage.Driver = StorageMemory
	case StorageMemory, StoragePostgres:
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be memory or postgres, got %q", c.Storage.Driver))
	}
	if c.Storage.Driver == StorageMemory && c.IsProduction() {
		errs = append(errs, errors.New("STORAGE_DRIVER=memory is not allowed in production"))
	}

	if c.UsesPostgres() {
		errs = append(errs, c.validateDB()...)
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if len(c.WebRTC.ICEServers) == 0 {
		c.WebRTC.ICEServers = DefaultICEServers()
	}
	errs = append(errs, validateICEServers(c.WebRTC.ICEServers)...)
	if c.WebRTC.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("WEBRTC_MAX_CONNECTIONS must be >= 0, got %d", c.WebRTC.MaxConnections))
	}
	if c.WebRTC.HandshakeTimeout < 0 {
		errs = append(errs, errors.New("WEBRTC_HANDSHAKE_TIMEOUT must be >= 0"))
	}

	if c.Queue.MaxWait < 0 {
		errs = append(errs, errors.New("QUEUE_MAX_WAIT must be >= 0"))
	}
	if c.Queue.ReaperInterval <= 0 {
		c.Queue.ReaperInterval = 5 * time.Second
	}

	if c.Relay.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("RELAY_SEND_BUFFER must be > 0, got %d", c.Relay.SendBuffer))
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) UsesPostgres() bool {
	return c.Storage.Driver == StoragePostgres
}

func (c Config) UsesRedis() bool {
	return c.Redis.Host != ""
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string, def int) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return def, nil
	}
	return mustInt(key)
}

// optionalDuration parses key as a Go duration or falls back to def when unset.
func optionalDuration(errs []error, key string, def time.Duration) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, append(errs, fmt.Errorf("%s must be a duration like 30s, got %q", key, v))
	}
	return d, errs
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
