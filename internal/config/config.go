package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the top-level configuration tree for the driver daemon.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Serial   SerialConfig   `mapstructure:"serial"`
	Log      LogConfig      `mapstructure:"log"`
	Security SecurityConfig `mapstructure:"security"`
}

// ServerConfig configures the admin HTTP API.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WebSocketConfig configures the admin API's event-broadcast socket.
type WebSocketConfig struct {
	Path              string        `mapstructure:"path"`
	ReadBufferSize    int           `mapstructure:"read_buffer_size"`
	WriteBufferSize   int           `mapstructure:"write_buffer_size"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	PongTimeout       time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	EnableCompression bool          `mapstructure:"enable_compression"`
}

// SerialConfig configures the link to the bill validator. These
// values are read exactly once, when the port is opened: the wire
// protocol fixes the line parameters, so there is nothing for a
// config hot-reload to apply to an already-open port.
type SerialConfig struct {
	Port          string        `mapstructure:"port"`
	BaudRate      int           `mapstructure:"baud_rate"`
	DataBits      int           `mapstructure:"data_bits"`
	StopBits      int           `mapstructure:"stop_bits"`
	Parity        string        `mapstructure:"parity"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	DeviceAddress int           `mapstructure:"device_address"`
	MockMode      bool          `mapstructure:"mock_mode"`
}

// LogConfig configures the zap/lumberjack logging pipeline.
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// SecurityConfig configures the admin API's authentication.
type SecurityConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	JWT       JWTConfig       `mapstructure:"jwt"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init loads configuration from configPath (or ./config.yaml / ./config/config.yaml
// if empty), applying defaults for anything unset. Safe to call more
// than once; only the first call takes effect.
func Init(configPath string) error {
	var err error
	once.Do(func() {
		v = viper.New()

		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		v.SetEnvPrefix("CCNETD")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		setDefaults(v)

		if err = v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return
			}
		}

		cfg = &Config{}
		err = v.Unmarshal(cfg)
	})

	return err
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.enable_compression", true)

	v.SetDefault("serial.port", "/dev/ttyUSB0")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.read_timeout", "2s")
	v.SetDefault("serial.device_address", 3)
	v.SetDefault("serial.mock_mode", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "both")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "ccnetd.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)

	v.SetDefault("security.rate_limit.enabled", true)
	v.SetDefault("security.rate_limit.requests_per_minute", 120)
	v.SetDefault("security.rate_limit.burst", 20)
	v.SetDefault("security.jwt.expire_hours", 12)
}

// Get returns the currently loaded configuration, or nil if Init
// hasn't been called.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch installs a callback fired whenever the config file changes
// on disk. Only the admin-surface sections (server, websocket,
// security, log) are meaningful to re-apply at runtime; serial
// settings in a reloaded config are ignored once the port is open.
func Watch(callback func(*Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()

		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("config reload failed: %v\n", err)
			return
		}
		cfg = newCfg

		if callback != nil {
			callback(cfg)
		}
	})
}

func GetString(key string) string       { return v.GetString(key) }
func GetInt(key string) int             { return v.GetInt(key) }
func GetBool(key string) bool           { return v.GetBool(key) }
func GetDuration(key string) time.Duration { return v.GetDuration(key) }
func IsSet(key string) bool             { return v.IsSet(key) }
