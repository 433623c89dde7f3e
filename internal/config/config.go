package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Janus JanusConfig `mapstructure:"janus"`
	HTTP  HTTPConfig  `mapstructure:"http"`
	Log   LogConfig   `mapstructure:"log"`
	RTC   RTCConfig   `mapstructure:"rtc"`
}

type JanusConfig struct {
	URL                string        `mapstructure:"url"`
	Room               uint64        `mapstructure:"room"`
	Display            string        `mapstructure:"display"`
	KeepAliveInterval  time.Duration `mapstructure:"keepalive_interval"`
	TransactionTimeout time.Duration `mapstructure:"transaction_timeout"`
	WriteWait          time.Duration `mapstructure:"write_wait"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	SendQueue          int           `mapstructure:"send_queue"`
	ReadLimit          int64         `mapstructure:"read_limit"`
}

type HTTPConfig struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	Secret     string        `mapstructure:"secret"`
	JoinLimit  int           `mapstructure:"join_limit"`
	JoinWindow time.Duration `mapstructure:"join_window"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type RTCConfig struct {
	ICEServers []string `mapstructure:"ice_servers"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) and lets
// environment variables override any key, e.g. JANUS_URL or JANUS_ROOM.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("janus.url", "ws://localhost:8188")
	v.SetDefault("janus.room", 1234)
	v.SetDefault("janus.display", "roomctl")
	v.SetDefault("janus.keepalive_interval", "30s")
	v.SetDefault("janus.transaction_timeout", "30s")
	v.SetDefault("janus.write_wait", "5s")
	v.SetDefault("janus.dial_timeout", "10s")
	v.SetDefault("janus.send_queue", 64)
	v.SetDefault("janus.read_limit", 1<<20)
	v.SetDefault("http.mode", "release")
	v.SetDefault("http.port", 8090)
	v.SetDefault("http.secret", "roomctl-dev-secret")
	v.SetDefault("http.join_limit", 5)
	v.SetDefault("http.join_window", "1m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
	v.SetDefault("rtc.ice_servers", []string{"stun:stun.l.google.com:19302"})
}

func (c *Config) Validate() error {
	if c.Janus.URL == "" {
		return errors.New("janus.url is required")
	}
	if c.Janus.Room == 0 {
		return errors.New("janus.room is required")
	}
	if c.Janus.KeepAliveInterval <= 0 {
		return fmt.Errorf("janus.keepalive_interval must be positive, got %s", c.Janus.KeepAliveInterval)
	}
	if c.Janus.TransactionTimeout < 0 {
		return fmt.Errorf("janus.transaction_timeout must not be negative, got %s", c.Janus.TransactionTimeout)
	}
	if c.Janus.SendQueue <= 0 {
		return fmt.Errorf("janus.send_queue must be positive, got %d", c.Janus.SendQueue)
	}
	return nil
}
