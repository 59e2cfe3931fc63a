package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/LLM-Red-Team/hailuo-free-api/pkg/apiserver"
	"github.com/LLM-Red-Team/hailuo-free-api/pkg/config"
	"github.com/LLM-Red-Team/hailuo-free-api/pkg/hailuo"
	"github.com/LLM-Red-Team/hailuo-free-api/pkg/kv"
	"github.com/LLM-Red-Team/hailuo-free-api/pkg/relay"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	Long: `Run the OpenAI-compatible API server.

Configuration comes from an optional YAML file (--config) with
environment overrides: HOST, PORT, HAILUO_BASE_URL, REPLACE_AUDIO_MODEL,
DEVICE_CACHE_DIR, LOG_LEVEL.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	clientOpts := []hailuo.Option{}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, hailuo.WithBaseURL(cfg.BaseURL))
	}
	if cfg.DeviceCacheDir != "" {
		store, err := kv.NewBadger(kv.BadgerOptions{Dir: cfg.DeviceCacheDir})
		if err != nil {
			return fmt.Errorf("open device cache: %w", err)
		}
		defer store.Close()
		clientOpts = append(clientOpts, hailuo.WithDeviceStore(store))
		slog.Info("device cache enabled", "dir", cfg.DeviceCacheDir)
	}

	client := hailuo.NewClient(clientOpts...)

	relayOpts := []relay.RelayOption{}
	if len(cfg.VoiceOverrides) > 0 {
		relayOpts = append(relayOpts, relay.WithVoiceOverrides(cfg.VoiceOverrides))
	}

	srv := apiserver.New(relay.New(client, relayOpts...))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.ListenAndServe(ctx, cfg.Addr())
}
