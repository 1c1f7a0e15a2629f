// Package config loads coordinator settings from defaults, an optional
// config file and LIVECLASS_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	dbconfig "liveclass/pkg/database"
)

// EnvPrefix namespaces every environment override, e.g. LIVECLASS_HTTP_PORT
const EnvPrefix = "LIVECLASS"

// Config is the full process configuration
type Config struct {
	Database  *dbconfig.Config `mapstructure:"database"`
	HTTP      *HTTPConfig      `mapstructure:"http"`
	WebSocket *WebSocketConfig `mapstructure:"websocket"`
	Room      *RoomConfig      `mapstructure:"room"`
	Redis     *RedisConfig     `mapstructure:"redis"`
	Auth      *AuthConfig      `mapstructure:"auth"`
	Log       *LogConfig       `mapstructure:"log"`
}

type HTTPConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// WebSocketConfig covers heartbeat, framing and per-connection queues
type WebSocketConfig struct {
	MaxConnections int           `mapstructure:"max_connections"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SoftQueue      int           `mapstructure:"soft_queue"`
	HardQueue      int           `mapstructure:"hard_queue"`
}

// RoomConfig covers membership limits, chat throttling and admission
type RoomConfig struct {
	MaxMembers      int           `mapstructure:"max_members"`
	ChatRateLimit   int           `mapstructure:"chat_rate_limit"`
	ChatRateWindow  time.Duration `mapstructure:"chat_rate_window"`
	OpenAdmission   bool          `mapstructure:"open_admission"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	ArchiveQueue    int           `mapstructure:"archive_queue"`
}

// RedisConfig enables the cross-instance relay when Addr is set
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Queue    int    `mapstructure:"queue"`
}

// Enabled reports whether a relay should be started
func (r *RedisConfig) Enabled() bool { return r != nil && r.Addr != "" }

// AuthConfig holds the token secret; empty means user_id is trusted as given
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LogConfig struct {
	Env   string `mapstructure:"env"`
	Level string `mapstructure:"level"`
}

// DefaultConfig returns settings suitable for a single classroom node
func DefaultConfig() *Config {
	return &Config{
		Database: dbconfig.DefaultConfig(),
		HTTP: &HTTPConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		WebSocket: &WebSocketConfig{
			MaxConnections: 1000,
			PongWait:       60 * time.Second,
			PingInterval:   54 * time.Second,
			WriteTimeout:   5 * time.Second,
			MaxMessageSize: 64 << 10,
			SoftQueue:      256,
			HardQueue:      1024,
		},
		Room: &RoomConfig{
			MaxMembers:      200,
			ChatRateLimit:   100,
			ChatRateWindow:  time.Minute,
			RefreshInterval: 30 * time.Second,
			CleanupInterval: time.Minute,
			ArchiveQueue:    1024,
		},
		Redis: &RedisConfig{Queue: 1024},
		Auth:  &AuthConfig{},
		Log:   &LogConfig{Env: "dev", Level: "info"},
	}
}

// Validate rejects configurations the coordinator cannot run with
func (c *Config) Validate() error {
	if c.Database == nil || c.HTTP == nil || c.WebSocket == nil || c.Room == nil || c.Redis == nil || c.Auth == nil || c.Log == nil {
		return fmt.Errorf("all configuration sections are required")
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// port 0 binds any free port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	ws := c.WebSocket
	if ws.MaxConnections <= 0 {
		return fmt.Errorf("WebSocket max connections must be positive")
	}
	if ws.PongWait <= 0 || ws.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket timeouts must be positive")
	}
	if ws.PingInterval <= 0 || ws.PingInterval >= ws.PongWait {
		return fmt.Errorf("WebSocket ping interval must be positive and shorter than pong wait")
	}
	if ws.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}
	if ws.SoftQueue <= 0 || ws.HardQueue < ws.SoftQueue {
		return fmt.Errorf("WebSocket queues must satisfy 0 < soft_queue <= hard_queue")
	}

	if c.Room.MaxMembers < 0 {
		return fmt.Errorf("room max members cannot be negative")
	}
	if c.Room.ChatRateLimit > 0 && c.Room.ChatRateWindow <= 0 {
		return fmt.Errorf("chat rate window must be positive when a limit is set")
	}
	if c.Room.RefreshInterval <= 0 || c.Room.CleanupInterval <= 0 {
		return fmt.Errorf("room intervals must be positive")
	}
	if c.Room.ArchiveQueue <= 0 {
		return fmt.Errorf("archive queue must be positive")
	}

	if c.Redis.Enabled() && c.Redis.Queue <= 0 {
		return fmt.Errorf("redis queue must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be one of debug, info, warn, error")
	}
	return nil
}

// Addr is the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// Load builds a Config with precedence env > file > defaults. path may be
// empty; a named file that cannot be read is an error
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can bind it during Unmarshal
func setDefaults(v *viper.Viper, d *Config) {
	defaults := map[string]any{
		"database.driver":             d.Database.Driver,
		"database.path":               d.Database.DatabasePath,
		"database.url":                d.Database.URL,
		"database.max_connections":    d.Database.MaxConnections,
		"database.conn_max_lifetime":  d.Database.ConnMaxLifetime,
		"database.conn_max_idle_time": d.Database.ConnMaxIdleTime,

		"http.host":            d.HTTP.Host,
		"http.port":            d.HTTP.Port,
		"http.read_timeout":    d.HTTP.ReadTimeout,
		"http.write_timeout":   d.HTTP.WriteTimeout,
		"http.allowed_origins": d.HTTP.AllowedOrigins,

		"websocket.max_connections":  d.WebSocket.MaxConnections,
		"websocket.pong_wait":        d.WebSocket.PongWait,
		"websocket.ping_interval":    d.WebSocket.PingInterval,
		"websocket.write_timeout":    d.WebSocket.WriteTimeout,
		"websocket.max_message_size": d.WebSocket.MaxMessageSize,
		"websocket.soft_queue":       d.WebSocket.SoftQueue,
		"websocket.hard_queue":       d.WebSocket.HardQueue,

		"room.max_members":      d.Room.MaxMembers,
		"room.chat_rate_limit":  d.Room.ChatRateLimit,
		"room.chat_rate_window": d.Room.ChatRateWindow,
		"room.open_admission":   d.Room.OpenAdmission,
		"room.refresh_interval": d.Room.RefreshInterval,
		"room.cleanup_interval": d.Room.CleanupInterval,
		"room.archive_queue":    d.Room.ArchiveQueue,

		"redis.addr":     d.Redis.Addr,
		"redis.password": d.Redis.Password,
		"redis.db":       d.Redis.DB,
		"redis.queue":    d.Redis.Queue,

		"auth.jwt_secret": d.Auth.JWTSecret,

		"log.env":   d.Log.Env,
		"log.level": d.Log.Level,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}
