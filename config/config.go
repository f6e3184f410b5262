package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every knob for the chat client. All fields have working
// defaults so tests can use zero-config construction via Default().
type Config struct {
	Env string

	// REST
	APIBaseURL     string
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
	PageSize       int

	// socket
	SocketURL         string
	AckTimeout        time.Duration
	ReconnectAttempts int
	ReconnectBackoff  time.Duration
	ReconnectMaxWait  time.Duration

	// typing
	TypingIdle time.Duration
}

// ServerConfig configures the reference chat server (cmd/chatd).
type ServerConfig struct {
	Port            string
	DatabaseDSN     string
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	UploadDir       string
	UploadBaseURL   string
}

// Default returns the built-in defaults without touching the environment.
func Default() Config {
	return Config{
		Env:               "development",
		APIBaseURL:        "http://localhost:8082/api",
		RequestTimeout:    30 * time.Second,
		UploadTimeout:     60 * time.Second,
		PageSize:          20,
		SocketURL:         "ws://localhost:8082/ws",
		AckTimeout:        10 * time.Second,
		ReconnectAttempts: 5,
		ReconnectBackoff:  500 * time.Millisecond,
		ReconnectMaxWait:  10 * time.Second,
		TypingIdle:        2 * time.Second,
	}
}

// Load reads configuration from the environment, after a best-effort
// godotenv.Load. Missing variables fall back to Default values.
func Load() Config {
	_ = godotenv.Load()

	cfg := Default()
	cfg.Env = getEnv("CHAT_ENV", cfg.Env)
	cfg.APIBaseURL = getEnv("CHAT_API_BASE_URL", cfg.APIBaseURL)
	cfg.SocketURL = getEnv("CHAT_SOCKET_URL", cfg.SocketURL)
	cfg.RequestTimeout = getDuration("CHAT_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.UploadTimeout = getDuration("CHAT_UPLOAD_TIMEOUT", cfg.UploadTimeout)
	cfg.AckTimeout = getDuration("CHAT_ACK_TIMEOUT", cfg.AckTimeout)
	cfg.ReconnectBackoff = getDuration("CHAT_RECONNECT_BACKOFF", cfg.ReconnectBackoff)
	cfg.ReconnectMaxWait = getDuration("CHAT_RECONNECT_MAX_WAIT", cfg.ReconnectMaxWait)
	cfg.TypingIdle = getDuration("CHAT_TYPING_IDLE", cfg.TypingIdle)
	cfg.PageSize = getInt("CHAT_PAGE_SIZE", cfg.PageSize)
	cfg.ReconnectAttempts = getInt("CHAT_RECONNECT_ATTEMPTS", cfg.ReconnectAttempts)
	return cfg
}

// LoadServer reads the reference server's configuration.
func LoadServer() ServerConfig {
	_ = godotenv.Load()

	return ServerConfig{
		Port:            getEnv("CHATD_PORT", "8082"),
		DatabaseDSN:     getEnv("CHATD_DATABASE_DSN", "chat:chat@tcp(127.0.0.1:3306)/chat?charset=utf8mb4&parseTime=True&loc=Local"),
		JWTSecret:       getEnv("CHATD_JWT_SECRET", "dev-secret"),
		AccessTokenTTL:  getDuration("CHATD_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: getDuration("CHATD_REFRESH_TOKEN_TTL", 30*24*time.Hour),
		UploadDir:       getEnv("CHATD_UPLOAD_DIR", "./uploads"),
		UploadBaseURL:   getEnv("CHATD_UPLOAD_BASE_URL", "http://localhost:8082/uploads"),
	}
}

// IsDevelopment reports whether the client runs in a dev environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
