package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"tidbyt.dev/departureboard"
	"tidbyt.dev/departureboard/api"
	"tidbyt.dev/departureboard/ptref"
	"tidbyt.dev/departureboard/request"
	"tidbyt.dev/departureboard/synthese"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves departure boards over HTTP",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

var (
	listenAddr      string
	refreshInterval time.Duration
)

func init() {
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "", "", "HTTP listen address")
	serveCmd.Flags().DurationVarP(&refreshInterval, "refresh-check", "", time.Minute, "How often to check feeds for refresh")
}

// Builds engines against the currently active static feed. Datasets
// are expensive to index, so one is kept per feed hash.
type backends struct {
	manager  *departureboard.Manager
	passages *synthese.Client
	config   departureboard.EngineConfig

	mutex   sync.Mutex
	hash    string
	dataset *departureboard.Dataset
}

func (b *backends) loadDataset(static *departureboard.Static) (*departureboard.Dataset, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.dataset != nil && b.hash == static.Metadata.Hash {
		return b.dataset, nil
	}

	index, err := ptref.NewIndex(static.Reader)
	if err != nil {
		return nil, fmt.Errorf("indexing referential: %w", err)
	}
	dataset, err := departureboard.NewDataset(static, index)
	if err != nil {
		return nil, err
	}

	log.Info().Str("hash", static.Metadata.Hash).Msg("dataset loaded")

	b.hash = static.Metadata.Hash
	b.dataset = dataset
	return dataset, nil
}

func (b *backends) get(ctx context.Context) (*api.Backend, error) {
	static, err := b.manager.LoadStaticAsync(cfg.Feed.StaticURL, cfg.Feed.Headers, time.Now())
	if err != nil {
		return nil, err
	}

	dataset, err := b.loadDataset(static)
	if err != nil {
		return nil, err
	}

	router, err := loadRouter(ctx, b.manager, cfg, static, b.passages)
	if err != nil {
		// Realtime outages degrade to the static schedule
		log.Warn().Err(err).Msg("loading realtime")
		router = static
	}

	return &api.Backend{
		Engine: departureboard.NewEngine(dataset, router, b.config),
		Static: static,
	}, nil
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Feed.StaticURL == "" {
		return fmt.Errorf("static URL is required")
	}

	manager, err := newManager(cfg)
	if err != nil {
		return err
	}

	passages, err := newPassageSource(cfg)
	if err != nil {
		return err
	}

	engineConfig, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	engineConfig.Logger = &log.Logger

	if err := manager.Refresh(ctx); err != nil {
		log.Error().Err(err).Msg("initial refresh")
	}

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := manager.Refresh(ctx); err != nil {
					log.Error().Err(err).Msg("refreshing feeds")
				}
			}
		}
	}()

	b := &backends{
		manager:  manager,
		passages: passages,
		config:   engineConfig,
	}

	defaults := request.DefaultOptions()
	defaults.Depth = cfg.Engine.Depth
	defaults.Count = cfg.Engine.Count
	defaults.ItemsPerPoint = cfg.Engine.ItemsPerPoint
	defaults.RTLevel = cfg.RTLevel()

	opts := []api.Option{
		api.WithDefaults(defaults),
		api.WithLogger(log.Logger),
	}
	if passages != nil {
		opts = append(opts, api.WithStatus("synthese", func() any { return passages.Status() }))
	}

	app := api.New(b.get, opts...).App()

	addr := cfg.HTTP.Listen
	if listenAddr != "" {
		addr = listenAddr
	}

	errs := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		errs <- app.Listen(addr)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		return app.Shutdown()
	}
}
