package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/bark-labs/webpush-relay/internal/worker"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration knobs for the relay.
type Config struct {
	HTTP struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"http"`
	Server struct {
		// Origin is the public scheme://host[:port] browsers load the app from.
		Origin string `mapstructure:"origin"`
	} `mapstructure:"server"`
	VAPID struct {
		PublicKey  string `mapstructure:"public_key"`
		PrivateKey string `mapstructure:"private_key"`
		Subscriber string `mapstructure:"subscriber"`
		TTL        int    `mapstructure:"ttl"`
		RecordSize uint32 `mapstructure:"record_size"`
	} `mapstructure:"vapid"`
	Push struct {
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
		RatePerSec     float64       `mapstructure:"rate_per_sec"`
		Burst          int           `mapstructure:"burst"`
		PayloadLimit   int           `mapstructure:"payload_limit"`
		BodyMaxRunes   int           `mapstructure:"body_max_runes"`
	} `mapstructure:"push"`
	Storage struct {
		Path          string        `mapstructure:"path"`
		Retention     time.Duration `mapstructure:"retention"`
		PruneSchedule string        `mapstructure:"prune_schedule"`
	} `mapstructure:"storage"`
	Worker WorkerConfig `mapstructure:"worker"`
	Stream struct {
		Addr         string        `mapstructure:"addr"`
		PingInterval time.Duration `mapstructure:"ping_interval"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"stream"`
	Kafka struct {
		Enabled bool     `mapstructure:"enabled"`
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
		Group   string   `mapstructure:"group"`
	} `mapstructure:"kafka"`
	Frontend struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"frontend"`
	Auth struct {
		Enabled   bool   `mapstructure:"enabled"`
		Username  string `mapstructure:"username"`
		Password  string `mapstructure:"password"`
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"auth"`
	Log     LogConfig `mapstructure:"log"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
}

// WorkerConfig controls how push payloads are presented.
type WorkerConfig struct {
	Icon              string `mapstructure:"icon"`
	Badge             string `mapstructure:"badge"`
	CriticalTag       string `mapstructure:"critical_tag"`
	CriticalVibration []int  `mapstructure:"critical_vibration"`
	InfoVibration     string `mapstructure:"info_vibration"`
	InfoSilent        bool   `mapstructure:"info_silent"`
	DiagnosticFetch   bool   `mapstructure:"diagnostic_fetch"`
}

// LogConfig selects log level, format and an optional rotated file sink.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads the configuration from disk/environment using Viper.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("webpush_relay")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// a missing file is fine, env + defaults still apply
		if !isNotFound(err) {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Server.Origin = strings.TrimRight(strings.TrimSpace(cfg.Server.Origin), "/")
	return &cfg, nil
}

// Presentation converts the worker section into worker presentation options.
func (w WorkerConfig) Presentation() (worker.Presentation, error) {
	profile, err := worker.ParseVibrationProfile(w.InfoVibration)
	if err != nil {
		return worker.Presentation{}, fmt.Errorf("worker.info_vibration: %w", err)
	}
	return worker.Presentation{
		Icon:              w.Icon,
		Badge:             w.Badge,
		CriticalTag:       w.CriticalTag,
		CriticalVibration: w.CriticalVibration,
		InfoVibration:     profile,
		InfoSilent:        w.InfoSilent,
		DiagnosticFetch:   w.DiagnosticFetch,
	}, nil
}

func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	// SetConfigFile with a missing path surfaces the os error instead
	return errors.Is(err, fs.ErrNotExist)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8090")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "30s")

	v.SetDefault("server.origin", "http://localhost:8090")

	v.SetDefault("vapid.subscriber", "mailto:noreply@webpush-relay.local")
	v.SetDefault("vapid.ttl", 60)
	v.SetDefault("vapid.record_size", 3000)

	v.SetDefault("push.request_timeout", "10s")
	v.SetDefault("push.rate_per_sec", 20)
	v.SetDefault("push.burst", 10)
	v.SetDefault("push.payload_limit", 1500)
	v.SetDefault("push.body_max_runes", 300)

	v.SetDefault("storage.path", "./data/relay.db")
	v.SetDefault("storage.retention", "2160h")
	v.SetDefault("storage.prune_schedule", "@daily")

	v.SetDefault("worker.icon", "/static/notification-icon.png")
	v.SetDefault("worker.badge", "/static/notification-badge.png")
	v.SetDefault("worker.critical_tag", "critical")
	v.SetDefault("worker.critical_vibration", []int{300, 100, 300, 100, 300})
	v.SetDefault("worker.info_vibration", "none")
	v.SetDefault("worker.info_silent", false)
	v.SetDefault("worker.diagnostic_fetch", false)

	v.SetDefault("stream.addr", ":8091")
	v.SetDefault("stream.ping_interval", "30s")
	v.SetDefault("stream.write_timeout", "3s")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic", "notifications")
	v.SetDefault("kafka.group", "webpush-relay")

	v.SetDefault("frontend.dir", "./web")

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.username", "admin")
	v.SetDefault("auth.password", "admin123")
	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("metrics.enabled", true)
}
