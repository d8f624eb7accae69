// Package config loads runtime settings for quizsyncd: compiled-in
// defaults, layered with an optional .properties file, layered with
// environment variables. Mirrors
// services/gamification/internal/config/config.go.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config captures every runtime tunable named in spec.md §5, §4.6 and §4.7.
type Config struct {
	ListenAddress   string
	LogFilePath     string
	PropertiesPath  string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	ShutdownTimeout  time.Duration

	// I/O deadlines, spec §5.
	EphemeralTimeout time.Duration
	DurableTimeout   time.Duration
	AuditTimeout     time.Duration

	// Rate limiter windows/caps, spec §4.6.
	JoinWindow      time.Duration
	JoinMax         int
	AnswerWindow    time.Duration
	AnswerMax       int
	MessagesWindow  time.Duration
	MessagesMax     int

	// Recovery grace window, spec §4.7.
	RecoveryGraceWindow time.Duration

	// Timing grace for answer submission, spec §4.3 step 4. Clamped to <=250ms.
	AnswerTimingGrace time.Duration

	// Leaderboard broadcast throttle, spec §4.5.
	LeaderboardThrottle time.Duration
	LeaderboardTopN     int

	// Handshake window, spec §4.8.
	AuthHandshakeWindow time.Duration

	// JWT signing secret for TokenIssuer.
	TokenSigningKey string

	// Ephemeral store backend: "memory" or "redis".
	EphemeralBackend string
	RedisAddr        string

	// Audit log backend: "file" or "kafka".
	AuditBackend  string
	AuditFilePath string
	KafkaBrokers  []string
	KafkaTopic    string

	DurableFilePath string
}

const (
	defaultListenAddress = ":8090"
	defaultLogFile       = "logs/quizsyncd.log"
	defaultPropsPath     = "quizsyncd.properties"
)

// Load resolves configuration by layering defaults, an optional properties
// file, and environment variables, matching
// services/gamification/internal/config/config.go's Load.
func Load() (Config, error) {
	cfg := Config{
		ListenAddress:       defaultListenAddress,
		LogFilePath:         filepath.Clean(defaultLogFile),
		HTTPReadTimeout:     5 * time.Second,
		HTTPWriteTimeout:    10 * time.Second,
		ShutdownTimeout:     10 * time.Second,
		EphemeralTimeout:    200 * time.Millisecond,
		DurableTimeout:      time.Second,
		AuditTimeout:        2 * time.Second,
		JoinWindow:          60 * time.Second,
		JoinMax:             5,
		AnswerWindow:        300 * time.Second,
		AnswerMax:           1,
		MessagesWindow:      time.Second,
		MessagesMax:         10,
		RecoveryGraceWindow: 5 * time.Minute,
		AnswerTimingGrace:   250 * time.Millisecond,
		LeaderboardThrottle: 250 * time.Millisecond,
		LeaderboardTopN:     20,
		AuthHandshakeWindow: 5 * time.Second,
		TokenSigningKey:     "",
		EphemeralBackend:    "memory",
		RedisAddr:           "localhost:6379",
		AuditBackend:        "file",
		AuditFilePath:       "data/audit.jsonl",
		KafkaTopic:          "quizsync.audit",
		DurableFilePath:     "data/durable.jsonl",
	}

	propsPath := strings.TrimSpace(os.Getenv("QUIZSYNC_PROPERTIES_PATH"))
	if propsPath == "" {
		propsPath = defaultPropsPath
	}
	cfg.PropertiesPath = propsPath

	if err := applyProperties(&cfg, propsPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.AnswerTimingGrace > 250*time.Millisecond {
		cfg.AnswerTimingGrace = 250 * time.Millisecond
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return Config{}, errors.New("listen address cannot be empty")
	}
	return cfg, nil
}

func applyProperties(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, ";") {
			continue
		}
		parts := strings.SplitN(raw, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid properties entry on line %d", line)
		}
		if err := setProperty(cfg, strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])); err != nil {
			return fmt.Errorf("property %s: %w", parts[0], err)
		}
	}
	return scanner.Err()
}

func setProperty(cfg *Config, key, value string) error {
	switch key {
	case "listen_address":
		cfg.ListenAddress = value
	case "log_path":
		cfg.LogFilePath = filepath.Clean(value)
	case "ephemeral_backend":
		cfg.EphemeralBackend = value
	case "redis_addr":
		cfg.RedisAddr = value
	case "audit_backend":
		cfg.AuditBackend = value
	case "audit_file_path":
		cfg.AuditFilePath = value
	case "durable_file_path":
		cfg.DurableFilePath = value
	case "kafka_brokers":
		cfg.KafkaBrokers = splitCSV(value)
	case "kafka_topic":
		cfg.KafkaTopic = value
	case "token_signing_key":
		cfg.TokenSigningKey = value
	case "join_rate_max":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.JoinMax = n
	case "leaderboard_top_n":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.LeaderboardTopN = n
	case "http_read_timeout_ms":
		return assignMillis(&cfg.HTTPReadTimeout, value)
	case "http_write_timeout_ms":
		return assignMillis(&cfg.HTTPWriteTimeout, value)
	case "shutdown_timeout_ms":
		return assignMillis(&cfg.ShutdownTimeout, value)
	case "ephemeral_timeout_ms":
		return assignMillis(&cfg.EphemeralTimeout, value)
	case "durable_timeout_ms":
		return assignMillis(&cfg.DurableTimeout, value)
	case "audit_timeout_ms":
		return assignMillis(&cfg.AuditTimeout, value)
	case "recovery_grace_ms":
		return assignMillis(&cfg.RecoveryGraceWindow, value)
	case "answer_timing_grace_ms":
		return assignMillis(&cfg.AnswerTimingGrace, value)
	case "leaderboard_throttle_ms":
		return assignMillis(&cfg.LeaderboardThrottle, value)
	case "auth_handshake_window_ms":
		return assignMillis(&cfg.AuthHandshakeWindow, value)
	default:
		// Unknown keys are ignored to keep the loader forward-compatible.
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := lookupEnvTrimmed(key); ok {
			*dst = v
		}
	}
	str("QUIZSYNC_LISTEN_ADDRESS", &cfg.ListenAddress)
	str("QUIZSYNC_LOG_PATH", &cfg.LogFilePath)
	str("QUIZSYNC_EPHEMERAL_BACKEND", &cfg.EphemeralBackend)
	str("QUIZSYNC_REDIS_ADDR", &cfg.RedisAddr)
	str("QUIZSYNC_AUDIT_BACKEND", &cfg.AuditBackend)
	str("QUIZSYNC_AUDIT_FILE_PATH", &cfg.AuditFilePath)
	str("QUIZSYNC_DURABLE_FILE_PATH", &cfg.DurableFilePath)
	str("QUIZSYNC_KAFKA_TOPIC", &cfg.KafkaTopic)
	str("QUIZSYNC_TOKEN_SIGNING_KEY", &cfg.TokenSigningKey)

	if v, ok := lookupEnvTrimmed("QUIZSYNC_KAFKA_BROKERS"); ok {
		cfg.KafkaBrokers = splitCSV(v)
	}
	if v, ok := lookupEnvTrimmed("QUIZSYNC_JOIN_RATE_MAX"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("QUIZSYNC_JOIN_RATE_MAX: %w", err)
		}
		cfg.JoinMax = n
	}
	if v, ok := lookupEnvTrimmed("QUIZSYNC_LEADERBOARD_TOP_N"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("QUIZSYNC_LEADERBOARD_TOP_N: %w", err)
		}
		cfg.LeaderboardTopN = n
	}
	return nil
}

func lookupEnvTrimmed(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func assignMillis(dst *time.Duration, raw string) error {
	ms, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if ms <= 0 {
		return errors.New("value must be greater than zero")
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
