package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Timezone string
	Database struct {
		Path string
	}
	Server struct {
		Port int
	}
	Auth struct {
		JWTSecret     string `mapstructure:"jwt_secret"`
		AdminUsername string `mapstructure:"admin_username"`
		AdminPassword string `mapstructure:"admin_password"`
		AdminEmail    string `mapstructure:"admin_email"`
	}
	Logging struct {
		Level      string
		Format     string
		Output     string
		File       string
		MaxSize    int `mapstructure:"max_size"`
		MaxBackups int `mapstructure:"max_backups"`
		MaxAge     int `mapstructure:"max_age"`
	}
	Scheduler struct {
		Lookahead        time.Duration
		ReloadInterval   time.Duration `mapstructure:"reload_interval"`
		SweepSpec        string        `mapstructure:"sweep_spec"`
		SweepConcurrency int           `mapstructure:"sweep_concurrency"`
		RunTimeout       time.Duration `mapstructure:"run_timeout"`
	}
	Mail struct {
		SMTPHost string `mapstructure:"smtp_host"`
		SMTPPort int    `mapstructure:"smtp_port"`
		Username string
		Password string
		From     string
	}
	Slack struct {
		Token   string
		Channel string
	}
}

// Location resolves the configured time zone, falling back to the host zone.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("timezone", "America/Sao_Paulo")
	v.SetDefault("database.path", "data/relatorios.db")
	v.SetDefault("server.port", 8080)

	v.SetDefault("auth.jwt_secret", "change-me")
	v.SetDefault("auth.admin_username", "admin")
	v.SetDefault("auth.admin_password", "admin")
	v.SetDefault("auth.admin_email", "admin@localhost")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file", "logs/relatorios.log")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	v.SetDefault("scheduler.lookahead", time.Hour)
	v.SetDefault("scheduler.reload_interval", 5*time.Minute)
	v.SetDefault("scheduler.sweep_spec", "@every 5m")
	v.SetDefault("scheduler.sweep_concurrency", 4)
	v.SetDefault("scheduler.run_timeout", 5*time.Minute)

	v.SetDefault("mail.smtp_host", "")
	v.SetDefault("mail.smtp_port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "TFD Relatorios <noreply@localhost>")

	// Unset keys are invisible to Unmarshal, so register them for env overrides
	v.SetDefault("slack.token", "")
	v.SetDefault("slack.channel", "")
}

// LoadConfig loads the configuration from config.yaml in the working directory.
// Environment variables prefixed with TFD_ override file values
// (e.g. TFD_MAIL_SMTP_HOST).
func LoadConfig() (*Config, error) {
	return load(".")
}

func load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix("tfd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, write the defaults so operators have something to edit
		if err := os.MkdirAll(filepath.Join(dir, "data"), 0755); err != nil {
			fmt.Printf("Warning: Failed to create data directory: %v\n", err)
		}
		if err := v.SafeWriteConfigAs(filepath.Join(dir, "config.yaml")); err != nil {
			fmt.Printf("Warning: Failed to write default config: %v\n", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
