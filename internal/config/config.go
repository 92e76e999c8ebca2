package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"

	"edurelay/internal/logger"
)

// EnvPrefix is prepended to every environment override, e.g.
// EDURELAY_HTTP_PORT overrides http.port.
const EnvPrefix = "EDURELAY"

// ConfigFileEnv names a config file when --config is not given.
const ConfigFileEnv = EnvPrefix + "_CONFIG_FILE"

type Config struct {
	Mode      string            `mapstructure:"mode"`
	HTTP      *HTTPConfig       `mapstructure:"http"`
	WebSocket *WebSocketConfig  `mapstructure:"websocket"`
	Journal   *JournalConfig    `mapstructure:"journal"`
	Presence  *PresenceConfig   `mapstructure:"presence"`
	Relay     *RelayConfig      `mapstructure:"relay"`
	Log       *logger.LogConfig `mapstructure:"log"`
	ICE       *ICEConfig        `mapstructure:"ice"`
}

type HTTPConfig struct {
	Host string `mapstructure:"host"`
	// Port 0 binds a free port.
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// AllowedOrigins is matched against the Origin header of REST and
	// WebSocket requests. "*" allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	QueueSize    int           `mapstructure:"queue_size"`
	MaxFrameSize int64         `mapstructure:"max_frame_size"`
}

// JournalConfig controls the SQLite lifecycle journal. The journal is an
// audit trail only; rooms are never reloaded from it.
type JournalConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PresenceConfig struct {
	PruneSchedule string `mapstructure:"prune_schedule"`
	// StaleAfter is how long a participant may stay unbound before the prune
	// job removes it. Zero disables pruning.
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type RelayConfig struct {
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

type ICEConfig struct {
	Servers []ICEServerConfig `mapstructure:"servers"`
}

type ICEServerConfig struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// DefaultConfig returns settings suitable for a single classroom server.
func DefaultConfig() *Config {
	return &Config{
		Mode: "production",
		HTTP: &HTTPConfig{
			Host:           "0.0.0.0",
			Port:           5000,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			QueueSize:    100,
			MaxFrameSize: 64 * 1024,
		},
		Journal: &JournalConfig{
			Enabled: true,
			Path:    "./edurelay.db",
			Timeout: 30 * time.Second,
		},
		Presence: &PresenceConfig{
			PruneSchedule: "@every 1m",
			StaleAfter:    30 * time.Minute,
		},
		Relay: &RelayConfig{
			RateLimit:  200,
			RateWindow: time.Minute,
		},
		Log: &logger.LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 5,
		},
		ICE: &ICEConfig{
			Servers: []ICEServerConfig{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
			},
		},
	}
}

func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.QueueSize <= 0 {
		return fmt.Errorf("WebSocket queue size must be positive")
	}
	if c.WebSocket.MaxFrameSize <= 0 {
		return fmt.Errorf("WebSocket max frame size must be positive")
	}

	if c.Journal == nil {
		return fmt.Errorf("journal configuration is required")
	}
	if c.Journal.Enabled {
		if c.Journal.Path == "" {
			return fmt.Errorf("journal path cannot be empty when the journal is enabled")
		}
		if c.Journal.Timeout <= 0 {
			return fmt.Errorf("journal timeout must be positive")
		}
	}

	if c.Presence == nil {
		return fmt.Errorf("presence configuration is required")
	}
	if c.Presence.StaleAfter < 0 {
		return fmt.Errorf("presence stale_after cannot be negative")
	}
	if c.Presence.StaleAfter > 0 && c.Presence.PruneSchedule == "" {
		return fmt.Errorf("presence prune_schedule is required when stale_after is set")
	}

	if c.Relay == nil {
		return fmt.Errorf("relay configuration is required")
	}
	if c.Relay.RateLimit <= 0 || c.Relay.RateWindow <= 0 {
		return fmt.Errorf("relay rate limit and window must be positive")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}

	if c.ICE != nil {
		for i, s := range c.ICE.Servers {
			if len(s.URLs) == 0 {
				return fmt.Errorf("ice server %d has no urls", i)
			}
		}
	}
	return nil
}

// Address is the host:port the HTTP server listens on.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// ICEServers converts the configured servers into the form browsers and
// pion peers consume.
func (c *Config) ICEServers() []webrtc.ICEServer {
	if c.ICE == nil {
		return []webrtc.ICEServer{}
	}
	servers := make([]webrtc.ICEServer, 0, len(c.ICE.Servers))
	for _, s := range c.ICE.Servers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return servers
}

// Load builds the configuration with precedence defaults < file < environment.
// A .env file in the working directory is loaded into the environment first.
// path may be empty, in which case EDURELAY_CONFIG_FILE is consulted.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
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

// setDefaults registers every key so that environment overrides apply to
// keys that appear in no config file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("mode", d.Mode)

	v.SetDefault("http.host", d.HTTP.Host)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.allowed_origins", d.HTTP.AllowedOrigins)

	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.read_timeout", d.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.queue_size", d.WebSocket.QueueSize)
	v.SetDefault("websocket.max_frame_size", d.WebSocket.MaxFrameSize)

	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.path", d.Journal.Path)
	v.SetDefault("journal.timeout", d.Journal.Timeout)

	v.SetDefault("presence.prune_schedule", d.Presence.PruneSchedule)
	v.SetDefault("presence.stale_after", d.Presence.StaleAfter)

	v.SetDefault("relay.rate_limit", d.Relay.RateLimit)
	v.SetDefault("relay.rate_window", d.Relay.RateWindow)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.filename", d.Log.Filename)
	v.SetDefault("log.max_size", d.Log.MaxSize)
	v.SetDefault("log.max_age", d.Log.MaxAge)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)

	servers := make([]map[string]any, 0, len(d.ICE.Servers))
	for _, s := range d.ICE.Servers {
		servers = append(servers, map[string]any{
			"urls":       s.URLs,
			"username":   s.Username,
			"credential": s.Credential,
		})
	}
	v.SetDefault("ice.servers", servers)
}
