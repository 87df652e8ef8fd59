package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AppConfig holds environment driven configuration values.
// Sensitive data should never have defaults inside code and must be provided via config files or the environment.
type AppConfig struct {
	AppPort            string
	JWTSecret          string
	RateLimitPerMinute int
	AllowedOrigins     []string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Database
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	// Redis for coordination and caching
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// Telegram
	TelegramBotToken string
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
	// Reminder scheduling
	ActivePeriodStart  string  // "HH:MM" clock time, start of the notification window
	ActivePeriodEnd    string  // "HH:MM" clock time, may wrap past midnight
	BucketOffsetsMin   []int   // minutes before day-end, descending
	BucketToleranceMin float64 // scheduler jitter absorbed around each offset
	TickRetryAttempts  int     // bounded retries for transient datastore errors
	TickRetryBackoff   time.Duration
	DeliveryTimeout    time.Duration // per-channel send deadline
	// Confirmation sessions
	Login2FATTL      time.Duration
	PasswordResetTTL time.Duration
	SessionRetention time.Duration // how long terminal sessions are kept before purge
	MinPasswordLen   int
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration. It should be called once during boot.
// Precedence: config/config.json -> defaults -> environment variable overrides.
func Load() AppConfig {
	if loaded {
		return cfg
	}

	_ = loadJSONConfig(filepath.Join("config", "config.json"), &cfg)
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set in environment variables")
	}
	if err := cfg.ValidateReminderWindow(); err != nil {
		log.Fatalf("invalid reminder configuration: %v", err)
	}

	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

// ValidateReminderWindow enforces the structural invariants of the bucket
// configuration: offsets are positive, strictly descending, and spaced more
// than twice the tolerance apart, so at most one bucket can ever match a
// single scheduler tick.
func (c AppConfig) ValidateReminderWindow() error {
	if len(c.BucketOffsetsMin) == 0 {
		return fmt.Errorf("at least one reminder bucket offset is required")
	}
	if c.BucketToleranceMin <= 0 {
		return fmt.Errorf("bucket tolerance must be positive, got %v", c.BucketToleranceMin)
	}
	prev := -1
	for i, off := range c.BucketOffsetsMin {
		if off <= 0 {
			return fmt.Errorf("bucket offset %d must be positive", off)
		}
		if i > 0 {
			if off >= prev {
				return fmt.Errorf("bucket offsets must be strictly descending, got %d after %d", off, prev)
			}
			if float64(prev-off) <= 2*c.BucketToleranceMin {
				return fmt.Errorf("bucket offsets %d and %d are within 2x tolerance (%v min) of each other", prev, off, c.BucketToleranceMin)
			}
		}
		prev = off
	}
	if _, err := parseClock(c.ActivePeriodStart); err != nil {
		return fmt.Errorf("invalid active period start: %w", err)
	}
	if _, err := parseClock(c.ActivePeriodEnd); err != nil {
		return fmt.Errorf("invalid active period end: %w", err)
	}
	return nil
}

// ClockMinutes parses an "HH:MM" clock string into minutes since midnight.
// Validity is established by ValidateReminderWindow at load time.
func ClockMinutes(s string) int {
	m, _ := parseClock(s)
	return m
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// loadJSONConfig reads JSON file into cfg if present. Returns error only for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil // silently ignore missing file
	}
	defer f.Close()

	var raw map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return err
	}

	getString := func(m map[string]any, key string) string {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}
	getInt := func(m map[string]any, key string) int {
		if v, ok := m[key]; ok {
			switch t := v.(type) {
			case float64:
				return int(t)
			case int:
				return t
			}
		}
		return 0
	}
	getFloat := func(m map[string]any, key string) float64 {
		if v, ok := m[key]; ok {
			if f, ok := v.(float64); ok {
				return f
			}
		}
		return 0
	}
	getBool := func(m map[string]any, key string) bool {
		if v, ok := m[key]; ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
		return false
	}
	getStringSlice := func(m map[string]any, key string) []string {
		if v, ok := m[key]; ok {
			if arr, ok := v.([]any); ok {
				res := make([]string, 0, len(arr))
				for _, it := range arr {
					if s, ok := it.(string); ok {
						res = append(res, s)
					}
				}
				return res
			}
		}
		return nil
	}
	getIntSlice := func(m map[string]any, key string) []int {
		if v, ok := m[key]; ok {
			if arr, ok := v.([]any); ok {
				res := make([]int, 0, len(arr))
				for _, it := range arr {
					if f, ok := it.(float64); ok {
						res = append(res, int(f))
					}
				}
				return res
			}
		}
		return nil
	}

	if app, ok := raw["app"].(map[string]any); ok {
		out.AppPort = getString(app, "AppPort")
		out.JWTSecret = getString(app, "JWTSecret")
		if v := getInt(app, "RateLimitPerMinute"); v != 0 {
			out.RateLimitPerMinute = v
		}
		if list := getStringSlice(app, "AllowedOrigins"); len(list) > 0 {
			out.AllowedOrigins = list
		}
	}

	if g, ok := raw["gin"].(map[string]any); ok {
		if v := getString(g, "Mode"); v != "" {
			out.GinMode = v
		}
		if v := getString(g, "LogPath"); v != "" {
			out.GinPath = v
		}
	}

	if dbs, ok := raw["database"].(map[string]any); ok {
		out.DatabaseURI = getString(dbs, "DatabaseURI")
		out.DBHost = getString(dbs, "DBHost")
		out.DBPort = getString(dbs, "DBPort")
		out.DBUser = getString(dbs, "DBUser")
		out.DBPassword = getString(dbs, "DBPassword")
		out.DBName = getString(dbs, "DBName")
	}

	if rds, ok := raw["redis"].(map[string]any); ok {
		out.RedisHost = getString(rds, "RedisHost")
		if v := getInt(rds, "RedisPort"); v != 0 {
			out.RedisPort = v
		}
		if v := getInt(rds, "RedisDB"); v != 0 {
			out.RedisDB = v
		}
		out.RedisPassword = getString(rds, "RedisPassword")
	}

	if tg, ok := raw["telegram"].(map[string]any); ok {
		out.TelegramBotToken = getString(tg, "BotToken")
	}

	if lg, ok := raw["log"].(map[string]any); ok {
		if v := getString(lg, "Level"); v != "" {
			out.LogLevel = v
		}
		if v := getString(lg, "Path"); v != "" {
			out.LogPath = v
		}
		if v := getInt(lg, "MaxSizeMB"); v != 0 {
			out.LogMaxSizeMB = v
		}
		if v := getInt(lg, "MaxBackups"); v != 0 {
			out.LogMaxBackups = v
		}
		if v := getInt(lg, "MaxAgeDays"); v != 0 {
			out.LogMaxAgeDays = v
		}
		out.LogCompress = getBool(lg, "Compress")
	}

	if rm, ok := raw["reminder"].(map[string]any); ok {
		if v := getString(rm, "ActivePeriodStart"); v != "" {
			out.ActivePeriodStart = v
		}
		if v := getString(rm, "ActivePeriodEnd"); v != "" {
			out.ActivePeriodEnd = v
		}
		if list := getIntSlice(rm, "BucketOffsetsMin"); len(list) > 0 {
			out.BucketOffsetsMin = list
		}
		if v := getFloat(rm, "BucketToleranceMin"); v != 0 {
			out.BucketToleranceMin = v
		}
		if v := getInt(rm, "TickRetryAttempts"); v != 0 {
			out.TickRetryAttempts = v
		}
		if v := getInt(rm, "TickRetryBackoffMs"); v != 0 {
			out.TickRetryBackoff = time.Duration(v) * time.Millisecond
		}
		if v := getInt(rm, "DeliveryTimeoutSec"); v != 0 {
			out.DeliveryTimeout = time.Duration(v) * time.Second
		}
	}

	if ses, ok := raw["session"].(map[string]any); ok {
		if v := getInt(ses, "Login2FATTLMin"); v != 0 {
			out.Login2FATTL = time.Duration(v) * time.Minute
		}
		if v := getInt(ses, "PasswordResetTTLMin"); v != 0 {
			out.PasswordResetTTL = time.Duration(v) * time.Minute
		}
		if v := getInt(ses, "RetentionMin"); v != 0 {
			out.SessionRetention = time.Duration(v) * time.Minute
		}
		if v := getInt(ses, "MinPasswordLen"); v != 0 {
			out.MinPasswordLen = v
		}
	}

	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		c.DBPort = "3306"
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "taskforge"
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
	if c.ActivePeriodStart == "" {
		c.ActivePeriodStart = "21:00"
	}
	if c.ActivePeriodEnd == "" {
		c.ActivePeriodEnd = "00:05"
	}
	if len(c.BucketOffsetsMin) == 0 {
		c.BucketOffsetsMin = []int{120, 60, 30, 15, 5}
	}
	if c.BucketToleranceMin == 0 {
		c.BucketToleranceMin = 2.5
	}
	if c.TickRetryAttempts == 0 {
		c.TickRetryAttempts = 3
	}
	if c.TickRetryBackoff == 0 {
		c.TickRetryBackoff = 500 * time.Millisecond
	}
	if c.DeliveryTimeout == 0 {
		c.DeliveryTimeout = 5 * time.Second
	}
	if c.Login2FATTL == 0 {
		c.Login2FATTL = 10 * time.Minute
	}
	if c.PasswordResetTTL == 0 {
		c.PasswordResetTTL = 15 * time.Minute
	}
	if c.SessionRetention == 0 {
		c.SessionRetention = time.Hour
	}
	if c.MinPasswordLen == 0 {
		c.MinPasswordLen = 8
	}
}

// applyEnvOverrides maps known environment variables onto config values when set.
func applyEnvOverrides(c *AppConfig) {
	if v := getEnv("APP_PORT", ""); v != "" {
		c.AppPort = v
	}
	if v := getEnv("JWT_SECRET", ""); v != "" {
		c.JWTSecret = v
	}
	if v := getEnv("GIN_MODE", ""); v != "" {
		c.GinMode = v
	}
	if v := getEnv("GIN_PATH", ""); v != "" {
		c.GinPath = v
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		c.RateLimitPerMinute = mustParseInt(v)
	}
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitAndTrim(v)
	}
	if v := getEnv("DATABASE_URI", ""); v != "" {
		c.DatabaseURI = v
	}
	if v := getEnv("DB_HOST", ""); v != "" {
		c.DBHost = v
	}
	if v := getEnv("DB_PORT", ""); v != "" {
		c.DBPort = v
	}
	if v := getEnv("DB_USER", ""); v != "" {
		c.DBUser = v
	}
	if v := getEnv("DB_PASSWORD", ""); v != "" {
		c.DBPassword = v
	}
	if v := getEnv("DB_NAME", ""); v != "" {
		c.DBName = v
	}
	if v := getEnv("REDIS_HOST", ""); v != "" {
		c.RedisHost = v
	}
	if v := getEnv("REDIS_PORT", ""); v != "" {
		c.RedisPort = mustParseInt(v)
	}
	if v := getEnv("REDIS_DB", ""); v != "" {
		c.RedisDB = mustParseInt(v)
	}
	if v := getEnv("REDIS_PASSWORD", ""); v != "" {
		c.RedisPassword = v
	}
	if v := getEnv("TELEGRAM_BOT_TOKEN", ""); v != "" {
		c.TelegramBotToken = v
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("LOG_PATH", ""); v != "" {
		c.LogPath = v
	}
	if v := getEnv("LOG_MAX_SIZE_MB", ""); v != "" {
		c.LogMaxSizeMB = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_BACKUPS", ""); v != "" {
		c.LogMaxBackups = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_AGE_DAYS", ""); v != "" {
		c.LogMaxAgeDays = mustParseInt(v)
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = v == "true"
	}
	if v := getEnv("ACTIVE_PERIOD_START", ""); v != "" {
		c.ActivePeriodStart = v
	}
	if v := getEnv("ACTIVE_PERIOD_END", ""); v != "" {
		c.ActivePeriodEnd = v
	}
	if v := getEnv("BUCKET_OFFSETS_MIN", ""); v != "" {
		offsets := []int{}
		for _, item := range splitAndTrim(v) {
			offsets = append(offsets, mustParseInt(item))
		}
		c.BucketOffsetsMin = offsets
	}
	if v := getEnv("BUCKET_TOLERANCE_MIN", ""); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			log.Fatalf("invalid float value %s: %v", v, err)
		}
		c.BucketToleranceMin = f
	}
	if v := getEnv("TICK_RETRY_ATTEMPTS", ""); v != "" {
		c.TickRetryAttempts = mustParseInt(v)
	}
	if v := getEnv("DELIVERY_TIMEOUT_SEC", ""); v != "" {
		c.DeliveryTimeout = time.Duration(mustParseInt(v)) * time.Second
	}
	if v := getEnv("LOGIN_2FA_TTL_MIN", ""); v != "" {
		c.Login2FATTL = time.Duration(mustParseInt(v)) * time.Minute
	}
	if v := getEnv("PASSWORD_RESET_TTL_MIN", ""); v != "" {
		c.PasswordResetTTL = time.Duration(mustParseInt(v)) * time.Minute
	}
	if v := getEnv("SESSION_RETENTION_MIN", ""); v != "" {
		c.SessionRetention = time.Duration(mustParseInt(v)) * time.Minute
	}
	if v := getEnv("MIN_PASSWORD_LEN", ""); v != "" {
		c.MinPasswordLen = mustParseInt(v)
	}
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
