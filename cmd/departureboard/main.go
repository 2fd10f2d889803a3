package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"tidbyt.dev/departureboard"
	"tidbyt.dev/departureboard/config"
	"tidbyt.dev/departureboard/downloader"
	"tidbyt.dev/departureboard/storage"
	"tidbyt.dev/departureboard/synthese"
)

var rootCmd = &cobra.Command{
	Use:               "departureboard",
	Short:             "Departure boards from GTFS data",
	Long:              "Computes departure boards, route schedules and terminus schedules from GTFS static and realtime feeds",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	configPath      string
	staticURL       string
	realtimeURLs    []string
	sharedHeaders   []string
	storageBackend  string
	storageDir      string
	syntheseURL     string
	logLevel        string
	realtimeHeaders []string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVarP(&staticURL, "static-url", "", "", "GTFS Static URL")
	rootCmd.PersistentFlags().StringSliceVarP(&realtimeURLs, "realtime-url", "", []string{}, "GTFS Realtime URL")
	rootCmd.PersistentFlags().StringSliceVarP(
		&sharedHeaders,
		"header",
		"",
		[]string{},
		"GTFS HTTP header (shared between static and realtime)",
	)
	rootCmd.PersistentFlags().StringSliceVarP(
		&realtimeHeaders,
		"realtime-header",
		"",
		[]string{},
		"GTFS Realtime HTTP header",
	)
	rootCmd.PersistentFlags().StringVarP(&storageBackend, "storage", "", "", "Storage backend (memory, sqlite, postgres)")
	rootCmd.PersistentFlags().StringVarP(&storageDir, "storage-dir", "", "", "Directory for on disk storage")
	rootCmd.PersistentFlags().StringVarP(&syntheseURL, "synthese-url", "", "", "Next passage service URL")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "", "info", "Log level")

	rootCmd.AddCommand(departuresCmd)
	rootCmd.AddCommand(stopsCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

var cfg *config.Config

func setup(cmd *cobra.Command, args []string) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	cfg, err = loadConfig()
	return err
}

// Reads the configuration file, if any, and applies flag overrides.
func loadConfig() (*config.Config, error) {
	c := config.Default()
	if configPath != "" {
		var err error
		c, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	}

	if staticURL != "" {
		c.Feed.StaticURL = staticURL
	}
	if len(realtimeURLs) > 0 {
		c.Feed.RealtimeURLs = realtimeURLs
	}
	if storageBackend != "" {
		c.Storage.Backend = storageBackend
	}
	if storageDir != "" {
		c.Storage.Directory = storageDir
	}
	if syntheseURL != "" {
		c.Synthese.URL = syntheseURL
	}

	headers, err := parseHeaders(sharedHeaders)
	if err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}
	if c.Feed.Headers == nil {
		c.Feed.Headers = map[string]string{}
	}
	for k, v := range headers {
		c.Feed.Headers[k] = v
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func parseHeaders(headers []string) (map[string]string, error) {
	parsed := map[string]string{}
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("'%s' is not on form <key>:<value>", header)
		}
		parsed[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return parsed, nil
}

func openStorage(c *config.Config) (storage.Storage, error) {
	switch c.Storage.Backend {
	case "sqlite":
		return storage.NewSQLiteStorage(storage.SQLiteConfig{OnDisk: true, Directory: c.Storage.Directory})
	case "postgres":
		return storage.NewPSQLStorage(c.Storage.DSN, false)
	}
	return storage.NewMemoryStorage(), nil
}

func newManager(c *config.Config) (*departureboard.Manager, error) {
	s, err := openStorage(c)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	manager := departureboard.NewManager(s)
	manager.Logger = log.Logger
	manager.StaticRefreshInterval = c.Feed.RefreshInterval

	switch {
	case c.Feed.CacheDir != "":
		fs, err := downloader.NewFilesystem(c.Feed.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("creating download cache: %w", err)
		}
		manager.Downloader = fs
	case c.Redis.Addr != "":
		manager.Downloader = downloader.NewRedis(newRedis(c), "departureboard:feed:")
	}

	manager.Track(c.Feed.StaticURL, c.Feed.Headers)

	return manager, nil
}

var (
	redisOnce   sync.Once
	redisClient *redis.Client
)

// One client shared by everything cached in redis.
func newRedis(c *config.Config) *redis.Client {
	redisOnce.Do(func() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
	})
	return redisClient
}

// The next passage client, or nil when none is configured.
func newPassageSource(c *config.Config) (*synthese.Client, error) {
	proxyConfig, ok, err := c.SyntheseConfig()
	if err != nil || !ok {
		return nil, err
	}

	opts := []synthese.Option{synthese.WithLogger(log.Logger)}
	if c.Redis.Addr != "" {
		opts = append(opts, synthese.WithRedis(newRedis(c)))
	}

	return synthese.New(proxyConfig, opts...), nil
}

func realtimeHeaderMap(c *config.Config) (map[string]string, error) {
	headers := map[string]string{}
	for k, v := range c.Feed.Headers {
		headers[k] = v
	}
	extra, err := parseHeaders(realtimeHeaders)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime header: %w", err)
	}
	for k, v := range extra {
		headers[k] = v
	}
	return headers, nil
}

// Loads the static feed active now, retrieving it first if storage
// doesn't have it.
func loadStatic(ctx context.Context, manager *departureboard.Manager, c *config.Config) (*departureboard.Static, error) {
	if c.Feed.StaticURL == "" {
		return nil, fmt.Errorf("static URL is required")
	}
	return manager.LoadStatic(ctx, c.Feed.StaticURL, c.Feed.Headers, time.Now())
}

// Static schedule, with realtime data layered on top when realtime
// feeds are configured.
func loadRouter(
	ctx context.Context,
	manager *departureboard.Manager,
	c *config.Config,
	static *departureboard.Static,
	passages *synthese.Client,
) (departureboard.Router, error) {
	if len(c.Feed.RealtimeURLs) == 0 {
		return static, nil
	}

	headers, err := realtimeHeaderMap(c)
	if err != nil {
		return nil, err
	}

	opts := []departureboard.RealtimeOption{departureboard.WithLogger(log.Logger)}
	if passages != nil {
		opts = append(opts, departureboard.WithPassageSource(passages))
	}

	return manager.LoadRealtime(ctx, static, c.Feed.RealtimeURLs, headers, opts...)
}
