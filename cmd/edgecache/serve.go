package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/lucasew/edgecache/internal/app"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Installs the cache version and starts the proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := app.Config{
			Port:              viper.GetInt("port"),
			Origin:            viper.GetString("origin"),
			App:               viper.GetString("app"),
			Version:           viper.GetString("cache-version"),
			Assets:            viper.GetStringSlice("assets"),
			Storage:           viper.GetString("storage"),
			DataDir:           viper.GetString("data-dir"),
			APIPrefix:         viper.GetString("api-prefix"),
			AdminPrefix:       viper.GetString("admin-prefix"),
			OfflinePage:       viper.GetString("offline-page"),
			Bypass:            viper.GetStringSlice("bypass"),
			ImagesLimit:       viper.GetInt("images-limit"),
			DynamicLimit:      viper.GetInt("dynamic-limit"),
			EvictionStrategy:  viper.GetString("eviction-strategy"),
			EvictionInterval:  viper.GetDuration("eviction-interval"),
			RevalidateTimeout: viper.GetDuration("revalidate-timeout"),
			UpstreamTimeout:   viper.GetDuration("upstream-timeout"),
			SyncSchedule:      viper.GetString("sync-schedule"),
			SyncConcurrency:   viper.GetInt("sync-concurrency"),
			CaCertPath:        viper.GetString("ca-cert"),
			CaKeyPath:         viper.GetString("ca-key"),
			CaCertContent:     viper.GetString("ca-cert-content"),
			CaKeyContent:      viper.GetString("ca-key-content"),
		}
		if len(cfg.Assets) == 0 {
			cfg.Assets = nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		server, cleanup, err := app.NewServer(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	d := app.DefaultConfig()
	f := serveCmd.Flags()

	f.Int("port", d.Port, "Port to listen on")
	f.String("origin", "", "Origin server URL (required)")
	f.String("app", d.App, "App name used as partition prefix")
	f.String("cache-version", d.Version, "Cache version; bumping it replaces every partition")
	f.StringSlice("assets", nil, "Assets cached at install (default /, /manifest.json, /favicon.png, /apple-touch-icon.png, /offline.html)")
	f.String("storage", d.Storage, "Storage backend (sqlite, memory)")
	f.String("data-dir", d.DataDir, "Directory of the SQLite database")
	f.String("api-prefix", d.APIPrefix, "Path prefix of network-only API requests")
	f.String("admin-prefix", d.AdminPrefix, "Path prefix of the admin API")
	f.String("offline-page", d.OfflinePage, "Cached page served to offline navigations")
	f.StringSlice("bypass", nil, "Regular expressions of request URIs never intercepted")
	f.Int("images-limit", d.ImagesLimit, "Maximum entries in the images partition")
	f.Int("dynamic-limit", d.DynamicLimit, "Maximum entries in the dynamic partition")
	f.String("eviction-strategy", d.EvictionStrategy, "Eviction strategy (fifo)")
	f.Duration("eviction-interval", d.EvictionInterval, "Interval of the background eviction sweep (0 disables it)")
	f.Duration("revalidate-timeout", d.RevalidateTimeout, "Timeout of one background revalidation")
	f.Duration("upstream-timeout", d.UpstreamTimeout, "Timeout of one origin request")
	f.String("sync-schedule", "", `Cron schedule replaying pending writes (e.g. "@every 1m")`)
	f.Int("sync-concurrency", d.SyncConcurrency, "Pending writes delivered in parallel per replay")
	f.String("ca-cert", "", "Path to CA certificate for HTTPS interception")
	f.String("ca-key", "", "Path to CA private key for HTTPS interception")
	f.String("ca-cert-content", "", "CA certificate PEM content")
	f.String("ca-key-content", "", "CA private key PEM content")

	bindFlags(f,
		"port", "origin", "app", "cache-version", "assets", "storage", "data-dir",
		"api-prefix", "admin-prefix", "offline-page", "bypass",
		"images-limit", "dynamic-limit", "eviction-strategy", "eviction-interval",
		"revalidate-timeout", "upstream-timeout", "sync-schedule", "sync-concurrency",
		"ca-cert", "ca-key", "ca-cert-content", "ca-key-content",
	)
}
