package config

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"defectflow/internal/bootstrap/logging"
	"defectflow/internal/errs"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Notifier NotifierConfig `mapstructure:"notifier"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type ScoringConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type NotifierConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type WorkflowConfig struct {
	// PipelineProfile optionally points at a toml file overriding the
	// builtin pipeline variants.
	PipelineProfile string `mapstructure:"pipeline_profile"`

	// CompactReinvites opts into purging a prior cycle's collaborator and
	// stage-data rows on re-invite. Off by default: it destroys audit trail.
	CompactReinvites bool `mapstructure:"compact_reinvites"`

	SelfEvalTTLMinutes int `mapstructure:"self_eval_ttl_minutes"`
}

func (s ScoringConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (n NotifierConfig) Timeout() time.Duration {
	return time.Duration(n.TimeoutSeconds) * time.Second
}

func (w WorkflowConfig) SelfEvalTTL() time.Duration {
	return time.Duration(w.SelfEvalTTLMinutes) * time.Minute
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			// Keep default and env-backed config when no file is provided.
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if cfg.Database.DSN == "" {
		return Config{}, errors.New("database.dsn is required")
	}
	if cfg.Scoring.BaseURL == "" {
		return Config{}, errors.New("scoring.base_url is required")
	}
	if cfg.Notifier.BaseURL == "" {
		return Config{}, errors.New("notifier.base_url is required")
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("scoring_base_url", cfg.Scoring.BaseURL),
	)

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "defectflow")
	v.SetDefault("app.env", "local")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".defectflow/state/workflow.sqlite")
	v.SetDefault("scoring.base_url", "http://127.0.0.1:8090")
	v.SetDefault("scoring.timeout_seconds", 180)
	v.SetDefault("notifier.base_url", "http://127.0.0.1:8091")
	v.SetDefault("notifier.timeout_seconds", 30)
	v.SetDefault("workflow.pipeline_profile", "")
	v.SetDefault("workflow.compact_reinvites", false)
	v.SetDefault("workflow.self_eval_ttl_minutes", 30)
}
