// Package config assembles the server configuration from defaults, the
// environment (optionally seeded from a .env file), a YAML file and flags,
// in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/adwski/badminton-live/backend/score"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const envPrefix = "SCOREBOARD_"

var (
	ErrInvalid = errors.New("invalid configuration")
)

type Config struct {
	APIListenAddr string        `yaml:"api_listen_addr"`
	WSListenAddr  string        `yaml:"ws_listen_addr"`
	LogLevel      string        `yaml:"log_level"`
	RoomIdleTTL   time.Duration `yaml:"room_idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	BestOf        int           `yaml:"best_of"`
	SendBuffer    int           `yaml:"send_buffer"`
}

func Default() Config {
	return Config{
		APIListenAddr: ":8080",
		WSListenAddr:  ":8888",
		LogLevel:      "debug",
		RoomIdleTTL:   10 * time.Minute,
		SweepInterval: time.Minute,
		BestOf:        0,
		SendBuffer:    16,
	}
}

// Load builds the configuration from command line args (without the program name).
func Load(args []string) (*Config, error) {
	var (
		cfg   = Default()
		flags = Default()
		fs    = pflag.NewFlagSet("scoreboard", pflag.ContinueOnError)

		configPath = fs.StringP("config", "c", "", "path to yaml config file")
		envFile    = fs.String("env-file", ".env", "dotenv file, skipped when missing")
	)
	fs.StringVarP(&flags.APIListenAddr, "api-listen-addr", "a", flags.APIListenAddr, "api listen address")
	fs.StringVarP(&flags.WSListenAddr, "ws-listen-addr", "w", flags.WSListenAddr, "websocket listen address")
	fs.StringVarP(&flags.LogLevel, "log-level", "l", flags.LogLevel, "log level")
	fs.DurationVar(&flags.RoomIdleTTL, "room-idle-ttl", flags.RoomIdleTTL, "reclaim rooms without connections after this period")
	fs.DurationVar(&flags.SweepInterval, "sweep-interval", flags.SweepInterval, "idle room sweep period")
	fs.IntVar(&flags.BestOf, "best-of", flags.BestOf, "sets in a match, 0 counts sets without end")
	fs.IntVar(&flags.SendBuffer, "send-buffer", flags.SendBuffer, "outbound queue size per connection")

	if err := fs.Parse(args); err != nil {
		return nil, errors.Join(ErrInvalid, err)
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("cannot load env file %s: %w", *envFile, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if *configPath != "" {
		if err := cfg.applyFile(*configPath); err != nil {
			return nil, err
		}
	}

	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "api-listen-addr":
			cfg.APIListenAddr = flags.APIListenAddr
		case "ws-listen-addr":
			cfg.WSListenAddr = flags.WSListenAddr
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		case "room-idle-ttl":
			cfg.RoomIdleTTL = flags.RoomIdleTTL
		case "sweep-interval":
			cfg.SweepInterval = flags.SweepInterval
		case "best-of":
			cfg.BestOf = flags.BestOf
		case "send-buffer":
			cfg.SendBuffer = flags.SendBuffer
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return errors.Join(ErrInvalid, fmt.Errorf("failed to parse config: %w", err))
	}
	return nil
}

func (cfg *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}

	str("API_ADDR", &cfg.APIListenAddr)
	str("WS_ADDR", &cfg.WSListenAddr)
	str("LOG_LEVEL", &cfg.LogLevel)
	dur("ROOM_IDLE_TTL", &cfg.RoomIdleTTL)
	dur("SWEEP_INTERVAL", &cfg.SweepInterval)
	num("BEST_OF", &cfg.BestOf)
	num("SEND_BUFFER", &cfg.SendBuffer)

	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalid}, errs...)...)
	}
	return nil
}

func (cfg *Config) Validate() error {
	var errs []error
	if cfg.APIListenAddr == "" {
		errs = append(errs, errors.New("api listen address is empty"))
	}
	if cfg.WSListenAddr == "" {
		errs = append(errs, errors.New("websocket listen address is empty"))
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if cfg.RoomIdleTTL <= 0 {
		errs = append(errs, errors.New("room idle ttl must be positive"))
	}
	if cfg.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep interval must be positive"))
	}
	if err := cfg.Rules().Validate(); err != nil {
		errs = append(errs, err)
	}
	if cfg.SendBuffer < 1 {
		errs = append(errs, errors.New("send buffer must be at least 1"))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalid}, errs...)...)
	}
	return nil
}

// Level is valid once Validate has passed.
func (cfg *Config) Level() zerolog.Level {
	lvl, _ := zerolog.ParseLevel(cfg.LogLevel)
	return lvl
}

func (cfg *Config) Rules() score.Rules {
	return score.Rules{BestOf: cfg.BestOf}
}
