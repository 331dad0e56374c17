package config

import (
	"fmt"
	"os"
	"time"

	"github.com/admirer145/Chesslyze-sub001/internal/constants"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerPort string         `yaml:"server_port"`
	DBPath     string         `yaml:"db_path"`
	LogLevel   string         `yaml:"log_level"`
	Lichess    LichessConfig  `yaml:"lichess"`
	ChessCom   ChessComConfig `yaml:"chesscom"`
	AMQP       AMQPConfig     `yaml:"amqp"`
}

type LichessConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Token       string        `yaml:"token"`
	MaxAttempts int           `yaml:"max_attempts"`
	RateBackoff time.Duration `yaml:"rate_backoff"`
	NetBackoff  time.Duration `yaml:"net_backoff"`
	ChunkPacing time.Duration `yaml:"chunk_pacing"`
}

type ChessComConfig struct {
	BaseURL    string        `yaml:"base_url"`
	UserAgent  string        `yaml:"user_agent"`
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
}

// AMQP is optional: an empty URL disables the import-event publisher.
type AMQPConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{}

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.ServerPort = getEnv("SERVER_PORT", cfg.ServerPort)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Lichess.Token = getEnv("LICHESS_TOKEN", cfg.Lichess.Token)
	cfg.AMQP.URL = getEnv("AMQP_URL", cfg.AMQP.URL)

	cfg.setDefaults()

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Bool("lichess_token_set", cfg.Lichess.Token != "").
		Bool("amqp_enabled", cfg.AMQP.URL != "").
		Msg("configuration loaded")

	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.ServerPort == "" {
		c.ServerPort = "8080"
	}
	if c.DBPath == "" {
		c.DBPath = "chesslyze.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Lichess.BaseURL == "" {
		c.Lichess.BaseURL = constants.LichessBaseURL
	}
	if c.Lichess.MaxAttempts == 0 {
		c.Lichess.MaxAttempts = constants.LichessMaxAttempts
	}
	if c.Lichess.RateBackoff == 0 {
		c.Lichess.RateBackoff = constants.LichessRateBackoff
	}
	if c.Lichess.NetBackoff == 0 {
		c.Lichess.NetBackoff = constants.LichessNetBackoff
	}
	if c.Lichess.ChunkPacing == 0 {
		c.Lichess.ChunkPacing = constants.LichessChunkPacing
	}
	if c.ChessCom.BaseURL == "" {
		c.ChessCom.BaseURL = constants.ChessComBaseURL
	}
	if c.ChessCom.UserAgent == "" {
		c.ChessCom.UserAgent = "Chesslyze/1.0 (+https://github.com/admirer145/Chesslyze-sub001)"
	}
	if c.ChessCom.MaxRetries == 0 {
		c.ChessCom.MaxRetries = constants.ChessComMaxRetries
	}
	if c.ChessCom.Backoff == 0 {
		c.ChessCom.Backoff = constants.ChessComBackoff
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "chesslyze"
	}
	if c.AMQP.RoutingKey == "" {
		c.AMQP.RoutingKey = "imports"
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var Module = fx.Provide(Load)
