package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/md-matcher/internal/logger"
	"github.com/spigell/md-matcher/internal/server"
	"github.com/spigell/md-matcher/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the matcher over HTTP",
	Run: func(cmd *cobra.Command, _ []string) {
		serve(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default from server.addr)")
}

func serve(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		config.Server.Addr = addr
	}

	logger.Info("starting the md-matcher server", zap.String("version", version))

	stats := telemetry.NewProvider()
	defer stats.Shutdown(context.Background())

	metrics, err := stats.Metrics()
	if err != nil {
		logger.Fatal("creating metrics", zap.Error(err))
	}

	c, err := setup(ctx, config, logger, metrics)
	if err != nil {
		logger.Fatal("setting up", zap.Error(err))
	}
	defer c.Close()

	// Warm the cache so the first request does not pay for the load.
	if _, err := c.store.Refresh(ctx); err != nil {
		logger.Warn("initial directory load failed; retrying on first request", zap.Error(err))
	}

	srv := server.New(server.Deps{
		Store:   c.store,
		Matcher: c.service,
		Steps:   c.service.Steps(),
		Sink:    c.sink,
		Stats:   stats,
		Logger:  logger,
	})

	if err := srv.ListenAndServe(ctx, config.Server.Addr); err != nil {
		logger.Fatal("serving", zap.Error(err))
	}
}
