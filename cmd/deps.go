package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/md-matcher/internal/ai"
	"github.com/spigell/md-matcher/internal/ai/gemini"
	"github.com/spigell/md-matcher/internal/directory"
	"github.com/spigell/md-matcher/internal/feedback"
	"github.com/spigell/md-matcher/internal/matching"
	"github.com/spigell/md-matcher/internal/prompt"
	"github.com/spigell/md-matcher/internal/secrets"
	"github.com/spigell/md-matcher/internal/selection"
	"github.com/spigell/md-matcher/internal/source"
	"github.com/spigell/md-matcher/internal/telemetry"
)

// components are the long-lived pieces a command works with.
type components struct {
	store   *directory.Store
	service *matching.Service
	sink    feedback.Sink
	closers []func()
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func buildOptions(cfg DirectoryConfig) directory.BuildOptions {
	opts := directory.DefaultBuildOptions()
	opts.DirectorColumns = source.NormalizeDirectorColumns(cfg.Columns.Directors)
	opts.MetadataColumns = source.NormalizeDirectorColumns(cfg.Columns.Metadata)
	opts.ProviderColumns = source.NormalizeProviderColumns(cfg.Columns.Providers)
	opts.AcceptUnknownStatus = cfg.AcceptUnknownStatus

	if v := strings.TrimSpace(cfg.UnknownValue); v != "" {
		opts.UnknownValue = v
	}
	if len(cfg.AcceptingStatuses) > 0 {
		opts.OpenStatuses = make([]directory.AcceptingStatus, 0, len(cfg.AcceptingStatuses))
		for _, s := range cfg.AcceptingStatuses {
			opts.OpenStatuses = append(opts.OpenStatuses, directory.NormalizeStatus(s))
		}
	}
	return opts
}

func newSource(ctx context.Context, cfg DirectoryConfig, opts directory.BuildOptions) (directory.Source, func(), error) {
	switch cfg.Source {
	case "", "csv":
		src, err := source.NewCSV(cfg.CSV)
		if err != nil {
			return nil, nil, err
		}
		return src, func() {}, nil
	case "postgres":
		dsn, err := secrets.Load(secrets.Source{
			Name: "database url",
			File: cfg.Postgres.DatabaseURLFile,
			Env:  "DATABASE_URL",
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w (set directory.postgres.database-url-file or MD_MATCHER_DATABASE_URL_FILE)", err)
		}

		pgCfg := cfg.Postgres.PostgresConfig
		pgCfg.DirectorColumns = opts.DirectorColumns
		pgCfg.ProviderColumns = opts.ProviderColumns

		src, err := source.NewPostgres(ctx, dsn, pgCfg)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported directory source: %s", cfg.Source)
	}
}

func newStore(ctx context.Context, cfg DirectoryConfig, logger *zap.Logger) (*directory.Store, func(), error) {
	opts := buildOptions(cfg)
	src, closer, err := newSource(ctx, cfg, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("building directory source: %w", err)
	}
	return directory.NewStore(src, opts, cfg.TTL, logger.With(zap.String("component", "directory"))), closer, nil
}

func newCompleter(ctx context.Context, cfg AIConfig, logger *zap.Logger) (ai.Completer, error) {
	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: cfg.Gemini.APIKeyFile,
		Env:  "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY_FILE)", err)
	}

	return gemini.NewGenerator(ctx, apiKey, cfg.Gemini.ModelParams, logger, cfg.Gemini.MaxLogLength)
}

func newAssembler(cfg PromptConfig) (*prompt.Assembler, error) {
	if cfg.TemplateFile == "" {
		return prompt.New(""), nil
	}
	data, err := os.ReadFile(cfg.TemplateFile)
	if err != nil {
		return nil, fmt.Errorf("reading prompt template: %w", err)
	}
	return prompt.New(string(data)), nil
}

func newSink(ctx context.Context, cfg FeedbackConfig) (feedback.Sink, error) {
	switch cfg.Sink {
	case "", "none":
		return nil, nil
	case "file":
		return feedback.NewFileSink(cfg.File)
	case "redis":
		password := ""
		if cfg.Redis.PasswordFile != "" {
			var err error
			password, err = secrets.Load(secrets.Source{Name: "redis password", File: cfg.Redis.PasswordFile})
			if err != nil {
				return nil, err
			}
		}
		return feedback.NewRedisSink(ctx, cfg.Redis.Addr, password, cfg.Redis.DB, cfg.Redis.Stream)
	case "mongo":
		uri, err := secrets.Load(secrets.Source{
			Name: "mongo uri",
			File: cfg.Mongo.URIFile,
			Env:  "MONGODB_URI",
		})
		if err != nil {
			return nil, err
		}
		return feedback.NewMongoSink(ctx, uri, cfg.Mongo.Database, cfg.Mongo.Collection)
	default:
		return nil, fmt.Errorf("unsupported feedback sink: %s", cfg.Sink)
	}
}

// setup wires the store, the matching service and the feedback sink. A sink
// that cannot be reached is logged and skipped so matching still works.
func setup(ctx context.Context, config *Config, logger *zap.Logger, metrics *telemetry.Metrics) (*components, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	c := &components{}

	store, closer, err := newStore(ctx, config.Directory, logger)
	if err != nil {
		return nil, err
	}
	c.store = store
	c.closers = append(c.closers, closer)

	completer, err := newCompleter(ctx, config.AI, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("building ai completer: %w", err)
	}

	assembler, err := newAssembler(config.Prompt)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.service, err = matching.New(matching.Deps{
		Directory: store,
		Completer: completer,
		Selector:  selection.New(config.Selection, logger),
		Assembler: assembler,
		Params:    config.AI.Gemini.ModelParams,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	sink, err := newSink(ctx, config.Feedback)
	switch {
	case err != nil:
		logger.Warn("feedback is disabled", zap.Error(err), zap.String("sink", config.Feedback.Sink))
	case sink != nil:
		c.sink = sink
		c.closers = append(c.closers, func() {
			if err := sink.Close(context.Background()); err != nil {
				logger.Warn("closing feedback sink", zap.Error(err))
			}
		})
	}

	return c, nil
}
