package cmd

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/md-matcher/internal/ai"
	"github.com/spigell/md-matcher/internal/directory"
	"github.com/spigell/md-matcher/internal/selection"
	"github.com/spigell/md-matcher/internal/source"
)

const (
	app = "md-matcher"
)

type Config struct {
	Directory DirectoryConfig   `mapstructure:"directory"`
	Selection selection.Options `mapstructure:"selection"`
	Prompt    PromptConfig      `mapstructure:"prompt"`
	AI        AIConfig          `mapstructure:"ai"`
	Feedback  FeedbackConfig    `mapstructure:"feedback"`
	Server    ServerConfig      `mapstructure:"server"`
}

type DirectoryConfig struct {
	Source              string          `mapstructure:"source" validate:"oneof=csv postgres"`
	TTL                 time.Duration   `mapstructure:"ttl" validate:"gte=0"`
	AcceptingStatuses   []string        `mapstructure:"accepting-statuses"`
	AcceptUnknownStatus bool            `mapstructure:"accept-unknown-status"`
	UnknownValue        string          `mapstructure:"unknown-value"`
	CSV                 source.CSVFiles `mapstructure:"csv"`
	Postgres            PostgresConfig  `mapstructure:"postgres"`
	Columns             ColumnsConfig   `mapstructure:"columns"`
}

type PostgresConfig struct {
	DatabaseURLFile string `mapstructure:"database-url-file"`

	source.PostgresConfig `mapstructure:",squash"`
}

type ColumnsConfig struct {
	Directors directory.DirectorColumns `mapstructure:"directors"`
	Metadata  directory.DirectorColumns `mapstructure:"metadata"`
	Providers directory.ProviderColumns `mapstructure:"providers"`
}

type PromptConfig struct {
	TemplateFile string `mapstructure:"template-file"`
}

type AIConfig struct {
	Provider string       `mapstructure:"provider" validate:"omitempty,oneof=gemini"`
	Gemini   GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKeyFile   string `mapstructure:"api-key-file"`
	MaxLogLength int    `mapstructure:"max-log-length" validate:"gte=0"`

	ai.ModelParams `mapstructure:",squash"`
}

type FeedbackConfig struct {
	Sink  string      `mapstructure:"sink" validate:"omitempty,oneof=none file redis mongo"`
	File  string      `mapstructure:"file"`
	Redis RedisConfig `mapstructure:"redis"`
	Mongo MongoConfig `mapstructure:"mongo"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	PasswordFile string `mapstructure:"password-file"`
	DB           int    `mapstructure:"db" validate:"gte=0"`
	Stream       string `mapstructure:"stream"`
}

type MongoConfig struct {
	URIFile    string `mapstructure:"uri-file"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "md-matcher ranks medical directors for nurse and mid-level providers",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	envs := map[string]string{
		"ai.gemini.api-key-file":               "GEMINI_API_KEY_FILE",
		"directory.postgres.database-url-file": "MD_MATCHER_DATABASE_URL_FILE",
	}
	for key, env := range envs {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is md-matcher.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// The version command works without a config.
	if versionCmd.CalledAs() != "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("MD_MATCHER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// A missing default config is fine: defaults and environment may be enough.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func defaultConfig() *Config {
	// Slices stay empty here and are defaulted after decoding so a configured
	// list replaces the default instead of merging with it.
	pg := source.DefaultPostgresConfig()
	pg.OpenStatuses = nil
	pg.TicketStatuses = nil
	return &Config{
		Directory: DirectoryConfig{
			Source:       "csv",
			TTL:          time.Hour,
			UnknownValue: "Unknown",
			Postgres:     PostgresConfig{PostgresConfig: pg},
			Columns: ColumnsConfig{
				Directors: directory.DefaultDirectorColumns(),
				Metadata:  directory.DefaultDirectorColumns(),
				Providers: directory.DefaultProviderColumns(),
			},
		},
		Selection: selection.DefaultOptions(),
		AI: AIConfig{
			Provider: "gemini",
			Gemini: GeminiConfig{
				MaxLogLength: 2000,
				ModelParams:  ai.DefaultModelParams(),
			},
		},
		Feedback: FeedbackConfig{
			Sink: "file",
			File: "feedback.jsonl",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Stream: "md-matcher:feedback",
			},
			Mongo: MongoConfig{
				Database:   "md_matcher",
				Collection: "feedback",
			},
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

func getConfig() (*Config, error) {
	config := defaultConfig()
	if err := viper.Unmarshal(config); err != nil {
		return config, err
	}

	pg := &config.Directory.Postgres
	if len(pg.OpenStatuses) == 0 {
		pg.OpenStatuses = source.DefaultPostgresConfig().OpenStatuses
	}
	if len(pg.TicketStatuses) == 0 {
		pg.TicketStatuses = source.DefaultPostgresConfig().TicketStatuses
	}

	if err := validator.New().Struct(config); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}
