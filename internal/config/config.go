// Package config loads the server's configuration with the same layered
// precedence as the teacher's pack-mate storbeck-augustus: a YAML file,
// overridden by WORDDUEL_-prefixed environment variables, validated with
// struct tags plus a handwritten cross-field check.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	goyaml "gopkg.in/yaml.v3"
)

// Config mirrors every key spec.md §6 names for the runtime. Fields are
// grouped the way the teacher's README describes the knobs (turn timing,
// scoring, bot scaling, XP, oracle model chain).
type Config struct {
	Server ServerConfig `yaml:"server" koanf:"server"`
	Game   GameConfig   `yaml:"game" koanf:"game"`
	Bot    BotConfig    `yaml:"bot" koanf:"bot"`
	XP     XPConfig     `yaml:"xp" koanf:"xp"`
	Oracle OracleConfig `yaml:"oracle" koanf:"oracle"`
}

type ServerConfig struct {
	Port     int    `yaml:"port" koanf:"port" validate:"gte=1,lte=65535"`
	LogFile  string `yaml:"log_file" koanf:"log_file"`
	Debug    bool   `yaml:"debug" koanf:"debug"`
	JWTKey   string `yaml:"jwt_key" koanf:"jwt_key"`
}

// GameConfig holds the turn/round/mistake constants of spec.md §6.
type GameConfig struct {
	TurnDurationSeconds        int `yaml:"turn_duration_seconds" koanf:"turn_duration_seconds" validate:"gte=1"`
	MaxRounds                  int `yaml:"max_rounds" koanf:"max_rounds" validate:"gte=1"`
	MaxMistakes                int `yaml:"max_mistakes" koanf:"max_mistakes" validate:"gte=1"`
	MatchmakingBotThresholdSec int `yaml:"matchmaking_bot_threshold_seconds" koanf:"matchmaking_bot_threshold_seconds" validate:"gte=0"`
	AgeOutSweepIntervalSeconds int `yaml:"age_out_sweep_interval_seconds" koanf:"age_out_sweep_interval_seconds" validate:"gte=1"`

	// BotNamesByLanguage is the per-language bot display-name list spec.md
	// §4.D and §6 require.
	BotNamesByLanguage map[string][]string `yaml:"bot_names_by_language" koanf:"bot_names_by_language"`
}

func (g GameConfig) TurnDuration() time.Duration {
	return time.Duration(g.TurnDurationSeconds) * time.Second
}

func (g GameConfig) AgeOutGrace() time.Duration {
	return time.Duration(g.MatchmakingBotThresholdSec) * time.Second
}

func (g GameConfig) AgeOutSweepInterval() time.Duration {
	return time.Duration(g.AgeOutSweepIntervalSeconds) * time.Second
}

// BotConfig holds the probability-scaling constants of spec.md §4.B.
type BotConfig struct {
	MaxMistakeProbability float64 `yaml:"max_mistake_probability" koanf:"max_mistake_probability" validate:"gte=0,lte=1"`
	MinMistakeProbability float64 `yaml:"min_mistake_probability" koanf:"min_mistake_probability" validate:"gte=0,lte=1"`
	MaxTimeoutProbability float64 `yaml:"max_timeout_probability" koanf:"max_timeout_probability" validate:"gte=0,lte=1"`
	MinTimeoutProbability float64 `yaml:"min_timeout_probability" koanf:"min_timeout_probability" validate:"gte=0,lte=1"`
	LevelCapForScaling    int     `yaml:"level_cap_for_scaling" koanf:"level_cap_for_scaling" validate:"gte=1"`
}

// XPConfig holds the XP constants spec.md §6 names without fixing values.
type XPConfig struct {
	RoundWin   int `yaml:"round_win" koanf:"round_win"`
	RoundLoss  int `yaml:"round_loss" koanf:"round_loss"`
	RoundDraw  int `yaml:"round_draw" koanf:"round_draw"`
	GameWin    int `yaml:"game_win" koanf:"game_win"`
	GameLoss   int `yaml:"game_loss" koanf:"game_loss"`
	GameDraw   int `yaml:"game_draw" koanf:"game_draw"`
	ForfeitWin int `yaml:"forfeit_win" koanf:"forfeit_win"`
}

// OracleConfig holds the ordered model chain and API credentials for the
// Validation Oracle Client (spec.md §4.A step 3).
type OracleConfig struct {
	APIKey string   `yaml:"api_key" koanf:"api_key"`
	Models []string `yaml:"models" koanf:"models" validate:"required,min=1"`
}

// Default returns the spec.md §6 defaults: 30s turns, 3 rounds, 3 mistakes,
// 15s matchmaking grace.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 3000},
		Game: GameConfig{
			TurnDurationSeconds:        30,
			MaxRounds:                  3,
			MaxMistakes:                3,
			MatchmakingBotThresholdSec: 15,
			AgeOutSweepIntervalSeconds: 15,
		},
		Bot: BotConfig{
			MaxMistakeProbability: 0.35,
			MinMistakeProbability: 0.05,
			MaxTimeoutProbability: 0.25,
			MinTimeoutProbability: 0.02,
			LevelCapForScaling:    20,
		},
		XP: XPConfig{
			RoundWin: 10, RoundLoss: 2, RoundDraw: 5,
			GameWin: 50, GameLoss: 10, GameDraw: 25, ForfeitWin: 40,
		},
		Oracle: OracleConfig{
			Models: []string{"gpt-4o-mini", "gpt-4o", "gpt-3.5-turbo"},
		},
	}
}

// Validate checks cross-field rules the validator struct tags can't express,
// the same split storbeck-augustus/pkg/config/config.go uses (tag
// validation first, then a handwritten Validate()).
func (c *Config) Validate() error {
	if c.Bot.MinMistakeProbability > c.Bot.MaxMistakeProbability {
		return fmt.Errorf("bot.min_mistake_probability must be <= bot.max_mistake_probability")
	}
	if c.Bot.MinTimeoutProbability > c.Bot.MaxTimeoutProbability {
		return fmt.Errorf("bot.min_timeout_probability must be <= bot.max_timeout_probability")
	}
	if c.Game.MaxMistakes < 1 {
		return fmt.Errorf("game.max_mistakes must be >= 1")
	}
	return nil
}

// Load layers the defaults above, then a YAML file (if configPath is
// non-empty), then WORDDUEL_-prefixed environment variables, each layer
// overriding the ones before it, then validates the result. Grounded on
// storbeck-augustus/pkg/config/koanf_loader.go's LoadConfigKoanf.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaultsYAML, err := goyaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config defaults: %w", err)
	}
	if err := k.Load(rawbytes.Provider(defaultsYAML), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	err = k.Load(env.Provider("WORDDUEL_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "WORDDUEL_")
		s = strings.Replace(s, "__", ".", -1)
		s = strings.ToLower(s)
		return s
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("config unmarshal failed: %w", err)
	}

	v := validator.New()
	if err := v.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
