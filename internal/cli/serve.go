package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/trancethehuman/claude-code-on-the-cloud/internal/api"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/config"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/runtime"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/setup"

	// Register runtime providers
	_ "github.com/trancethehuman/claude-code-on-the-cloud/internal/runtime/docker"
	_ "github.com/trancethehuman/claude-code-on-the-cloud/internal/runtime/fake"
)

var (
	port        string
	runtimeName string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sandbox server",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	serveCmd.Flags().StringVarP(&port, "port", "p", "", "HTTP server port (overrides config)")
	serveCmd.Flags().StringVarP(&runtimeName, "runtime", "r", "", "Sandbox runtime: docker, fake (overrides config)")
	RootCmd.AddCommand(serveCmd)
}

func runServer() {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if port != "" {
		cfg.Port = port
	}
	if runtimeName != "" {
		cfg.Runtime = runtimeName
	}

	log.Info().Str("runtime", cfg.Runtime).Str("port", cfg.Port).Msg("Starting sandbox server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	rt, err := runtime.New(cfg.Runtime, cfg.RuntimeConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize runtime")
	}
	defer rt.Close()

	ctxTimeout, cancelTimeout := context.WithTimeout(ctx, 5*time.Second)
	if err := rt.Healthy(ctxTimeout); err != nil {
		log.Fatal().Err(err).Msg("Runtime health check failed")
	}
	cancelTimeout()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	orch := setup.New(rt, setup.Options{
		VCPUs:               cfg.VCPUs,
		RuntimeTag:          cfg.RuntimeTag,
		MinAliveMinutes:     cfg.MinAliveMinutes,
		MaxAliveMinutes:     cfg.MaxAliveMinutes,
		DefaultAliveMinutes: cfg.DefaultAliveMinutes,
	})
	h := api.NewHandler(rt, orch, cfg.APIKey)
	h.RegisterRoutes(e)

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		serverErr <- e.Start(":" + cfg.Port)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server startup failed")
		}
	}
}
