package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/logger"
	"gopkg.in/yaml.v3"
)

// loadEnv reads .env only outside production (in containers config comes
// from env vars only). Walks up to five parent directories.
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		path := dir + "/.env"
		f, err := os.Open(path)
		if err == nil {
			loadEnvFrom(f)
			f.Close()
			return
		}
		parent := strings.TrimSuffix(dir, "/")
		idx := strings.LastIndex(parent, "/")
		if idx <= 0 {
			return
		}
		dir = parent[:idx]
		if dir == "" {
			dir = "/"
		}
	}
}

func loadEnvFrom(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		if len(val) >= 2 && (val[0] == '"' && val[len(val)-1] == '"' || val[0] == '\'' && val[len(val)-1] == '\'') {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// Config holds client and server settings.
// Priority: environment variables > YAML file > defaults.
type Config struct {
	// Client
	ServerURL         string        `yaml:"server_url"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `yaml:"-"`
	TypingDebounce    time.Duration `yaml:"-"`
	SendTimeout       time.Duration `yaml:"-"`
	HistoryLimit      int           `yaml:"history_limit"`

	// Server
	ServerAddr         string        `yaml:"server_addr"`
	ReadTimeout        time.Duration `yaml:"-"`
	WriteTimeout       time.Duration `yaml:"-"`
	IdleTimeout        time.Duration `yaml:"-"`
	CORSAllowedOrigins string        `yaml:"cors_allowed_origins"`
	RedisURL           string        `yaml:"-"`
	MaxWSConnections   int           `yaml:"max_ws_connections"`
	PollWait           time.Duration `yaml:"-"`
	PollIdleTimeout    time.Duration `yaml:"-"`

	LogLevel string `yaml:"log_level"`
}

// yamlConfig is the intermediate struct for YAML parsing (durations as
// plain numbers).
type yamlConfig struct {
	ServerURL           string `yaml:"server_url"`
	ReconnectAttempts   int    `yaml:"reconnect_attempts"`
	ReconnectDelayMs    int    `yaml:"reconnect_delay_ms"`
	TypingDebounceMs    int    `yaml:"typing_debounce_ms"`
	SendTimeoutSec      int    `yaml:"send_timeout_sec"`
	HistoryLimit        int    `yaml:"history_limit"`
	ServerAddr          string `yaml:"server_addr"`
	ReadTimeout         int    `yaml:"read_timeout"`
	WriteTimeout        int    `yaml:"write_timeout"`
	IdleTimeout         int    `yaml:"idle_timeout"`
	CORSAllowedOrigins  string `yaml:"cors_allowed_origins"`
	MaxWSConnections    int    `yaml:"max_ws_connections"`
	PollWaitSec         int    `yaml:"poll_wait_sec"`
	PollIdleTimeoutSec  int    `yaml:"poll_idle_timeout_sec"`
	LogLevel            string `yaml:"log_level"`
}

// Load loads configuration. The .env file (if any) is applied first, then
// YAML, then environment variables (highest priority). path is the
// service's own config file (e.g. config/server.yaml); CONFIG_PATH
// overrides it. Each binary names its file explicitly so the server never
// silently picks up the client's settings.
func Load(path string) *Config {
	loadEnv()
	yc := yamlConfig{
		ServerURL:          "http://localhost:8080",
		ReconnectAttempts:  5,
		ReconnectDelayMs:   1000,
		TypingDebounceMs:   2000,
		SendTimeoutSec:     10,
		HistoryLimit:       50,
		ServerAddr:         ":8080",
		ReadTimeout:        15,
		WriteTimeout:       15,
		IdleTimeout:        60,
		CORSAllowedOrigins: "*",
		MaxWSConnections:   10000,
		PollWaitSec:        25,
		PollIdleTimeoutSec: 60,
		LogLevel:           "info",
	}

	for _, p := range []string{os.Getenv("CONFIG_PATH"), path} {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: parse %s: %v (using defaults)", p, err)
		} else {
			logger.Infof("config: loaded %s", p)
		}
		break
	}

	return &Config{
		ServerURL:          envStr("SERVER_URL", yc.ServerURL),
		ReconnectAttempts:  envInt("RECONNECT_ATTEMPTS", yc.ReconnectAttempts),
		ReconnectDelay:     time.Duration(envInt("RECONNECT_DELAY_MS", yc.ReconnectDelayMs)) * time.Millisecond,
		TypingDebounce:     time.Duration(envInt("TYPING_DEBOUNCE_MS", yc.TypingDebounceMs)) * time.Millisecond,
		SendTimeout:        time.Duration(envInt("SEND_TIMEOUT_SEC", yc.SendTimeoutSec)) * time.Second,
		HistoryLimit:       envInt("HISTORY_LIMIT", yc.HistoryLimit),
		ServerAddr:         envStr("SERVER_ADDR", yc.ServerAddr),
		ReadTimeout:        time.Duration(envInt("READ_TIMEOUT", yc.ReadTimeout)) * time.Second,
		WriteTimeout:       time.Duration(envInt("WRITE_TIMEOUT", yc.WriteTimeout)) * time.Second,
		IdleTimeout:        time.Duration(envInt("IDLE_TIMEOUT", yc.IdleTimeout)) * time.Second,
		CORSAllowedOrigins: envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
		RedisURL:           envStr("REDIS_URL", ""),
		MaxWSConnections:   envInt("MAX_WS_CONNECTIONS", yc.MaxWSConnections),
		PollWait:           time.Duration(envInt("POLL_WAIT_SEC", yc.PollWaitSec)) * time.Second,
		PollIdleTimeout:    time.Duration(envInt("POLL_IDLE_TIMEOUT_SEC", yc.PollIdleTimeoutSec)) * time.Second,
		LogLevel:           envStr("LOG_LEVEL", yc.LogLevel),
	}
}

// envStr returns the environment variable value or fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt returns the numeric environment variable value or fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
