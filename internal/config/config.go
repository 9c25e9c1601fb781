package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Sandbox drivers understood by the grader.
const (
	SandboxDriverPiston = "piston"
	SandboxDriverDocker = "docker"
)

// Config holds runtime configuration values for the grading service.
type Config struct {
	AppName              string
	AppEnv               string
	AppPort              string
	DatabaseURL          string
	RedisURL             string
	NATSURL              string
	JWTSecret            string
	QueueName            string
	WorkerEnabled        bool
	WorkerConcurrency    int
	SandboxDriver        string
	SandboxURL           string
	SandboxTimeoutBuffer time.Duration
	DockerHost           string
	CodeRunCPUShares     int
	StatusTTL            time.Duration
	LeaderboardCacheTTL  time.Duration
	EventsChannel        string
	RunPublicRateLimit   int
	RunPublicRateWindow  time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Grader")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("queue.name", "submissions")
	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.concurrency", 3)
	v.SetDefault("sandbox.driver", SandboxDriverPiston)
	v.SetDefault("sandbox.url", "https://emkc.org/api/v2/piston/execute")
	v.SetDefault("sandbox.timeout_buffer", "10s")
	v.SetDefault("code_run_cpu_shares", 512)
	v.SetDefault("status.ttl", "24h")
	v.SetDefault("leaderboard.cache_ttl", "30s")
	v.SetDefault("events.channel", "gema:grading")
	v.SetDefault("rate_limit.run_public", 10)
	v.SetDefault("rate_limit.run_public_window", "1m")

	buffer, err := parseDuration(v, "sandbox.timeout_buffer", "10s")
	if err != nil {
		return Config{}, err
	}
	statusTTL, err := parseDuration(v, "status.ttl", "24h")
	if err != nil {
		return Config{}, err
	}
	leaderboardTTL, err := parseDuration(v, "leaderboard.cache_ttl", "30s")
	if err != nil {
		return Config{}, err
	}
	rateWindow, err := parseDuration(v, "rate_limit.run_public_window", "1m")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:              v.GetString("app.name"),
		AppEnv:               v.GetString("app.env"),
		AppPort:              v.GetString("app.port"),
		DatabaseURL:          v.GetString("database.url"),
		RedisURL:             v.GetString("redis.url"),
		NATSURL:              v.GetString("nats.url"),
		JWTSecret:            v.GetString("jwt.secret"),
		QueueName:            v.GetString("queue.name"),
		WorkerEnabled:        v.GetBool("worker.enabled"),
		WorkerConcurrency:    v.GetInt("worker.concurrency"),
		SandboxDriver:        strings.ToLower(strings.TrimSpace(v.GetString("sandbox.driver"))),
		SandboxURL:           v.GetString("sandbox.url"),
		SandboxTimeoutBuffer: buffer,
		DockerHost:           v.GetString("docker_host"),
		CodeRunCPUShares:     v.GetInt("code_run_cpu_shares"),
		StatusTTL:            statusTTL,
		LeaderboardCacheTTL:  leaderboardTTL,
		EventsChannel:        v.GetString("events.channel"),
		RunPublicRateLimit:   v.GetInt("rate_limit.run_public"),
		RunPublicRateWindow:  rateWindow,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.SandboxDriver {
	case SandboxDriverPiston, SandboxDriverDocker:
	default:
		return Config{}, fmt.Errorf("unsupported sandbox driver %q", cfg.SandboxDriver)
	}

	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 3
	}

	if cfg.CodeRunCPUShares <= 0 {
		cfg.CodeRunCPUShares = 512
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key, fallback string) (time.Duration, error) {
	raw := v.GetString(key)
	if raw == "" {
		raw = fallback
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
