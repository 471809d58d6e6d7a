package util

import (
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

//nolint:gochecknoglobals // here its ok
var once sync.Once

func init() {
	once.Do(func() {
		if err := godotenv.Load(".env"); err != nil {
			log.Printf("Warning: could not load .env file: %v", err)
		}
	})
}

const (
	defaultServerAddr      = "localhost:8080"
	defaultWriteTimeout    = 10 * time.Second
	defaultReadTimeout     = 10 * time.Second
	defaultIdleTimeout     = 30 * time.Second
	defaultGracefulTimeout = 5 * time.Second

	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour
	defaultClientID   = "authz"

	defaultDeviceShards   = 32
	defaultDevicesPerUser = 8

	defaultMaxRequests = 100
	defaultWindow      = 1 * time.Minute
	defaultMinInterval = 0 * time.Millisecond
	defaultBanDuration = 5 * time.Minute

	JWTLeeWay = 5 * time.Second
)

type ServerConfig struct {
	ServerAddr      string
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	GracefulTimeout time.Duration
}

func NewServerConfig() *ServerConfig {
	addr := os.Getenv("SERVER_ADDRESS")
	if addr == "" {
		addr = defaultServerAddr
	}

	return &ServerConfig{
		ServerAddr:      addr,
		WriteTimeout:    parseDurationOrDefault("WRITE_TIMEOUT", defaultWriteTimeout),
		ReadTimeout:     parseDurationOrDefault("READ_TIMEOUT", defaultReadTimeout),
		IdleTimeout:     parseDurationOrDefault("IDLE_TIMEOUT", defaultIdleTimeout),
		GracefulTimeout: parseDurationOrDefault("GRACEFUL_TIMEOUT", defaultGracefulTimeout),
	}
}

type TokenConfig struct {
	JwtSecretKey []byte
	ClientID     string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
}

func NewTokenConfig() *TokenConfig {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}

	clientID := os.Getenv("CLIENT_ID")
	if clientID == "" {
		clientID = defaultClientID
	}

	return &TokenConfig{
		JwtSecretKey: []byte(secret),
		ClientID:     clientID,
		AccessTTL:    parseDurationOrDefault("ACCESS_TOKEN_TTL", defaultAccessTTL),
		RefreshTTL:   parseDurationOrDefault("REFRESH_TOKEN_TTL", defaultRefreshTTL),
	}
}

type RegistryConfig struct {
	Shards            int
	MaxDevicesPerUser int
}

func NewRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		Shards:            parseIntOrDefault("REGISTRY_SHARDS", defaultDeviceShards),
		MaxDevicesPerUser: parseIntOrDefault("MAX_DEVICES_PER_USER", defaultDevicesPerUser),
	}
}

// RateLimiterConfig holds the fallback limits applied to endpoints whose
// policy declares rate limiting without overriding every field.
type RateLimiterConfig struct {
	MaxRequests int
	Window      time.Duration
	MinInterval time.Duration
	BanDuration time.Duration
}

func NewRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		MaxRequests: parseIntOrDefault("RATE_LIMIT_MAX_REQUESTS", defaultMaxRequests),
		Window:      parseDurationOrDefault("RATE_LIMIT_WINDOW", defaultWindow),
		MinInterval: parseDurationOrDefault("RATE_LIMIT_MIN_INTERVAL", defaultMinInterval),
		BanDuration: parseDurationOrDefault("RATE_LIMIT_BAN_DURATION", defaultBanDuration),
	}
}

// GetPolicySpecPath returns the OpenAPI document holding endpoint policies,
// empty if policies are registered programmatically instead.
func GetPolicySpecPath() string {
	return os.Getenv("AUTHZ_POLICY_SPEC")
}

func parseIntOrDefault(varName string, def int) int {
	if v := os.Getenv(varName); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("Invalid integer in %s: %s, using default %d", varName, v, def)
	}
	return def
}

func parseDurationOrDefault(varName string, def time.Duration) time.Duration {
	if v := os.Getenv(varName); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("Invalid duration in %s: %s, using default %s", varName, v, def)
	}
	return def
}
