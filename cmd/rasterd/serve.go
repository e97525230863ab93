package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/entrhq/rasterd/pkg/api"
	"github.com/entrhq/rasterd/pkg/assets"
	"github.com/entrhq/rasterd/pkg/config"
	"github.com/entrhq/rasterd/pkg/engine"
	"github.com/entrhq/rasterd/pkg/logging"
	"github.com/entrhq/rasterd/pkg/service"
	"github.com/entrhq/rasterd/pkg/session"
)

const shutdownGrace = 10 * time.Second

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the render service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "HTTP listen address (overrides config)")

	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	chromium := engine.NewChromium(logging.Component(logger, "engine"))
	ctrl := session.NewController(chromium, session.Options{
		Mode:           session.Mode(cfg.Mode),
		Endpoint:       cfg.Endpoint,
		ExecutablePath: cfg.ExecutablePath,
		ExtraArgs:      cfg.ExtraArgs,
		ProxyServer:    cfg.Proxy,
		Headless:       cfg.IsHeadless(),
		ConnectTimeout: cfg.Timeout(),
		Reconnect: session.ReconnectPolicy{
			Enabled:    cfg.Reconnect.Enabled,
			Interval:   cfg.ReconnectInterval(),
			MaxRetries: cfg.Reconnect.MaxRetries,
		},
		OnDemand: cfg.OnDemand,
	}, logging.Component(logger, "session"))

	fonts := assets.NewServer(logging.Component(logger, "assets"))
	renderer := service.NewRenderer(ctrl, fonts, service.Options{
		FontPath:       cfg.FontPath,
		ViewportWidth:  cfg.Viewport.Width,
		ViewportHeight: cfg.Viewport.Height,
		NavTimeout:     cfg.Timeout(),
	}, logging.Component(logger, "service"))

	// On-demand sessions connect lazily on the first render; everything
	// else connects up front so a bad config fails the start.
	if !cfg.OnDemand {
		if err := ctrl.Start(ctx); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: api.NewRouter(renderer, logging.Component(logger, "api")),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("listen", cfg.Listen).Info("rasterd listening")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			renderer.Stop()
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("error shutting down HTTP server")
	}

	renderer.Stop()
	if err := chromium.Stop(); err != nil {
		logger.WithError(err).Warn("error stopping browser driver")
	}
	return nil
}
