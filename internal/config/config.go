// Package config loads the chat server configuration. Values start from
// Default(), are overlaid by an optional YAML file, then by a .env file and
// finally by process environment variables.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fiora/chat-app/internal/messaging"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Postgres PostgresConfig `yaml:"postgres"`
	Auth     AuthConfig     `yaml:"auth"`
	Guard    GuardConfig    `yaml:"guard"`
	Chat     ChatConfig     `yaml:"chat"`
	Roster   RosterConfig   `yaml:"roster"`
	Push     PushConfig     `yaml:"push"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	ListenAddr        string        `yaml:"listen_addr"`
	Name              string        `yaml:"name"`
	WorkerPoolSize    int           `yaml:"worker_pool_size"`
	MaxConnections    int           `yaml:"max_connections"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	HandlerTimeout    time.Duration `yaml:"handler_timeout"` // 0: handlers run unbounded
	ConnectPerMin     int           `yaml:"connect_per_minute"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatGrace    time.Duration `yaml:"heartbeat_grace"`
	// TrustedProxies lists CIDRs or bare ips allowed to set X-Forwarded-For.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type PostgresConfig struct {
	// Driver selects the storage backend: "postgres" or "memory".
	Driver      string `yaml:"driver"`
	URL         string `yaml:"url"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
	Administrators []string      `yaml:"administrators"`
}

// GuardConfig tunes the Abuse Guard.
type GuardConfig struct {
	MaxCallPerMinutes        int           `yaml:"max_call_per_minutes"`
	NewUserMaxCallPerMinutes int           `yaml:"new_user_max_call_per_minutes"`
	Window                   time.Duration `yaml:"window"`
	SealDuration             time.Duration `yaml:"seal_duration"`
	AdminSealDuration        time.Duration `yaml:"admin_seal_duration"`
	NewUserWindow            time.Duration `yaml:"new_user_window"`
}

type ChatConfig struct {
	MaxTextLength        int    `yaml:"max_text_length"`
	MaxFileSize          int64  `yaml:"max_file_size"`
	RollDefault          int    `yaml:"roll_default"`
	RollMax              int    `yaml:"roll_max"`
	HistoryPageSize      int    `yaml:"history_page_size"`
	CommunityGroupLimit  int    `yaml:"community_group_limit"`
	NotificationTokenCap int    `yaml:"notification_token_cap"`
	DefaultGroupBuffer   int    `yaml:"default_group_buffer"`
	DefaultGroupName     string `yaml:"default_group_name"`
}

type RosterConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type PushConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Subject   string        `yaml:"subject"`
	Timeout   time.Duration `yaml:"timeout"`
	PerSecond float64       `yaml:"per_second"`
	Burst     int           `yaml:"burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config populated with production defaults.
func Default() Config {
	host, _ := os.Hostname()
	if host == "" {
		host = "chat-1"
	}
	return Config{
		Server: ServerConfig{
			ListenAddr:        ":9200",
			Name:              host,
			WorkerPoolSize:    256,
			MaxConnections:    100000,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			ConnectPerMin:     30,
			ShutdownTimeout:   5 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			HeartbeatGrace:    10 * time.Second,
		},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		NATS:     NATSConfig{URL: "nats://localhost:4222"},
		Postgres: PostgresConfig{Driver: "postgres", URL: "postgres://localhost:5432/fiora?sslmode=disable"},
		Auth: AuthConfig{
			JWTSecret: "jwtSecret",
			TokenTTL:  7 * 24 * time.Hour,
		},
		Guard: GuardConfig{
			MaxCallPerMinutes:        20,
			NewUserMaxCallPerMinutes: 5,
			Window:                   time.Minute,
			SealDuration:             5 * time.Minute,
			AdminSealDuration:        10 * time.Minute,
			NewUserWindow:            24 * time.Hour,
		},
		Chat: ChatConfig{
			MaxTextLength:        2048,
			MaxFileSize:          100 * 1024 * 1024,
			RollDefault:          100,
			RollMax:              99999,
			HistoryPageSize:      15,
			CommunityGroupLimit:  10,
			NotificationTokenCap: 3,
			DefaultGroupBuffer:   50,
			DefaultGroupName:     "fiora",
		},
		Roster: RosterConfig{TTL: time.Minute},
		Push: PushConfig{
			Enabled:   true,
			Subject:   messaging.SubjectPush,
			Timeout:   5 * time.Second,
			PerSecond: 50,
			Burst:     100,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load builds the configuration. path is the YAML file; an empty path falls
// back to CONFIG_FILE and then config.yaml. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		path = "config.yaml"
	}
	if err := loadFile(path, &cfg); err != nil {
		return cfg, err
	}

	// .env is optional; existing environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("config: load .env: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"LISTEN_ADDR":    &cfg.Server.ListenAddr,
		"SERVER_NAME":    &cfg.Server.Name,
		"REDIS_ADDR":     &cfg.Redis.Addr,
		"REDIS_PASSWORD": &cfg.Redis.Password,
		"NATS_URL":       &cfg.NATS.URL,
		"DATABASE_URL":   &cfg.Postgres.URL,
		"STORE_DRIVER":   &cfg.Postgres.Driver,
		"JWT_SECRET":     &cfg.Auth.JWTSecret,
		"LOG_LEVEL":      &cfg.Log.Level,
		"LOG_FORMAT":     &cfg.Log.Format,
		"PUSH_SUBJECT":   &cfg.Push.Subject,
		"DEFAULT_GROUP":  &cfg.Chat.DefaultGroupName,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"WORKER_POOL_SIZE":              &cfg.Server.WorkerPoolSize,
		"MAX_CONNECTIONS":               &cfg.Server.MaxConnections,
		"CONNECT_PER_MINUTE":            &cfg.Server.ConnectPerMin,
		"REDIS_DB":                      &cfg.Redis.DB,
		"MAX_CALL_PER_MINUTES":          &cfg.Guard.MaxCallPerMinutes,
		"NEW_USER_MAX_CALL_PER_MINUTES": &cfg.Guard.NewUserMaxCallPerMinutes,
		"MAX_TEXT_LENGTH":               &cfg.Chat.MaxTextLength,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"READ_TIMEOUT":       &cfg.Server.ReadTimeout,
		"WRITE_TIMEOUT":      &cfg.Server.WriteTimeout,
		"HANDLER_TIMEOUT":    &cfg.Server.HandlerTimeout,
		"HEARTBEAT_INTERVAL": &cfg.Server.HeartbeatInterval,
		"TOKEN_TTL":          &cfg.Auth.TokenTTL,
		"RATE_WINDOW":        &cfg.Guard.Window,
		"SEAL_DURATION":      &cfg.Guard.SealDuration,
		"NEW_USER_WINDOW":    &cfg.Guard.NewUserWindow,
		"ROSTER_TTL":         &cfg.Roster.TTL,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = d
	}

	if v := os.Getenv("AUTO_MIGRATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: AUTO_MIGRATE: %w", err)
		}
		cfg.Postgres.AutoMigrate = b
	}
	if v := os.Getenv("PUSH_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: PUSH_ENABLED: %w", err)
		}
		cfg.Push.Enabled = b
	}
	if v := os.Getenv("ADMINISTRATORS"); v != "" {
		cfg.Auth.Administrators = splitList(v)
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.Server.TrustedProxies = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Server.ListenAddr == "":
		return errors.New("config: listen address is required")
	case c.Server.WorkerPoolSize <= 0:
		return errors.New("config: worker pool size must be positive")
	case c.Server.HandlerTimeout < 0:
		return errors.New("config: handler timeout must not be negative")
	case c.Guard.Window <= 0:
		return errors.New("config: rate window must be positive")
	case c.Guard.MaxCallPerMinutes <= 0 || c.Guard.NewUserMaxCallPerMinutes <= 0:
		return errors.New("config: call limits must be positive")
	case c.Guard.SealDuration <= 0:
		return errors.New("config: seal duration must be positive")
	case c.Roster.TTL <= 0:
		return errors.New("config: roster ttl must be positive")
	case c.Chat.CommunityGroupLimit < 1:
		return errors.New("config: community group limit must allow the announcement group")
	case c.Chat.NotificationTokenCap < 1:
		return errors.New("config: notification token cap must be positive")
	case c.Chat.DefaultGroupName == "":
		return errors.New("config: default group name is required")
	case c.Chat.RollMax < c.Chat.RollDefault:
		return errors.New("config: roll max must not be below roll default")
	}
	switch c.Postgres.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Postgres.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("config: jwt secret is required")
	}
	if _, err := c.Server.ProxyPrefixes(); err != nil {
		return err
	}
	return nil
}

// ProxyPrefixes parses TrustedProxies. A bare ip is a single-host prefix.
func (c ServerConfig) ProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, v := range c.TrustedProxies {
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("config: trusted proxy %q: %w", v, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("config: trusted proxy %q: %w", v, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// IsAdministrator reports whether userID is in the configured administrator list.
func (c AuthConfig) IsAdministrator(userID string) bool {
	if userID == "" {
		return false
	}
	for _, id := range c.Administrators {
		if id == userID {
			return true
		}
	}
	return false
}
