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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/conduitmsg/conduit/internal/adapter"
	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/pkg/models"
)

const defaultConfigPath = "conduit.yaml"

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "conduit",
		Short:         "Messaging platform adapters for the conduit controller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	adapters := []struct {
		use         string
		short       string
		adapterType models.AdapterType
	}{
		{"telegram", "Run the Telegram adapter", models.AdapterTelegram},
		{"discord", "Run the Discord adapter", models.AdapterDiscord},
		{"discord-webhook", "Run the send-only Discord webhook adapter", models.AdapterDiscordWebhook},
		{"slack", "Run the Slack adapter", models.AdapterSlack},
		{"zulip", "Run the Zulip adapter", models.AdapterZulip},
		{"textfile", "Run the local file pseudo-platform", models.AdapterTextFile},
		{"shell", "Run the local shell pseudo-platform", models.AdapterShell},
	}
	for _, def := range adapters {
		root.AddCommand(buildAdapterCmd(def.use, def.short, def.adapterType))
	}
	root.AddCommand(buildVersionCmd())
	return root
}

// buildAdapterCmd creates one "conduit <platform>" command. The adapter type
// from the command overrides whatever the config file says, so one config
// can serve several adapter processes.
func buildAdapterCmd(use, short string, adapterType models.AdapterType) *cobra.Command {
	var (
		configPath  string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdapter(cmd.Context(), configPath, metricsAddr, adapterType)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "",
		"Address for the Prometheus /metrics endpoint (disabled when empty)")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("conduit %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func runAdapter(ctx context.Context, configPath, metricsAddr string, adapterType models.AdapterType) error {
	// Credentials usually live in a .env file during development; a missing
	// file is fine.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.Adapter.AdapterType = adapterType
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := cfg.Logger()
	a, err := adapter.New(log, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
		log.Info("metrics endpoint listening", "addr", metricsAddr)
	}

	log.Info("adapter starting", "adapter_id", cfg.Adapter.AdapterID, "version", version)
	err = a.Run(ctx)
	if err != nil {
		log.Error("adapter stopped", "error", err)
		return err
	}
	log.Info("adapter stopped")
	return nil
}
