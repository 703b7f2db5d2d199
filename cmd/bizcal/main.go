package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"bizcal/internal/aggregate"
	"bizcal/internal/cache"
	"bizcal/internal/config"
	appLog "bizcal/internal/log"
	"bizcal/internal/provider"
	"bizcal/internal/provider/google"
	"bizcal/internal/provider/icloud"
	"bizcal/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	debug      bool
}

var flags flagConfig

var rootCmd = &cobra.Command{
	Use:           "bizcal",
	Short:         "Calendar aggregation and availability API",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration (secrets are never printed)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(conf)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		_, _ = w.Write(out)
		fmt.Fprintf(w, "# icloud password set: %t\n", conf.ICloud.Password != "")
		fmt.Fprintf(w, "# google client secret set: %t\n", conf.Google.ClientSecret != "")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "/etc/bizcal/config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&flags.listen, "listen", "", "HTTP listen address (overrides config if set)")
	rootCmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		appLog.Error("bizcal failed", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	conf, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", flags.configPath, err)
	}
	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	return conf, nil
}

func buildProviders(ctx context.Context, conf *config.Config) []provider.Provider {
	var out []provider.Provider
	if conf.ICloud.Enabled {
		out = append(out, icloud.New(conf.ICloud, conf.Timezone))
	}
	if conf.Google.Enabled {
		out = append(out, google.New(ctx, conf.Google, conf.Timezone))
	}
	return out
}

func serve(parent context.Context) error {
	appLog.Info("bizcal starting", "version", version)

	conf, err := loadConfig()
	if err != nil {
		return err
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	providers := buildProviders(ctx, conf)
	if len(providers) == 0 {
		appLog.Warn("no calendar provider enabled; every query will be empty")
	}

	backend, err := cache.Open(ctx, conf.Cache)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	svc := aggregate.New(conf, providers, cache.NewStore(backend), config.NewPrefsStore(conf.PrefsPath))
	defer func() {
		if err := svc.Close(); err != nil {
			appLog.Error("cache close failed", err)
		}
	}()

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"providers", len(providers),
		"cache_backend", backend.Name(),
		"prefs_path", conf.PrefsPath,
	)

	sched := cron.New()
	if _, err := sched.AddFunc(conf.RefreshCron, func() { svc.Warm(ctx) }); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", conf.RefreshCron, err)
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	srv := web.NewServer(conf, svc).HTTPServer()
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen, "debug", flags.debug)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("http shutdown failed", err)
	}
	appLog.Info("bizcal exiting")
	return nil
}
