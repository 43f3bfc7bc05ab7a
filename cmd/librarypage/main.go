package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tmatesoft/librarypage"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "librarypage",
		Usage: "Serve the JavaSVN library download page",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file",
				EnvVars: []string{"LIBRARYPAGE_CONFIG"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   librarypage.DefaultPort,
				Usage:   "HTTP server port",
				EnvVars: []string{"PORT"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-file",
				Usage:   "Also write logs to this file, rotated",
				EnvVars: []string{"LOG_FILE"},
			},
			&cli.StringFlag{
				Name:    "cache-path",
				Usage:   "Fragment store file, or " + librarypage.MemoryCachePath,
				EnvVars: []string{"CACHE_PATH"},
			},
			&cli.DurationFlag{
				Name:    "cache-ttl",
				Value:   librarypage.DefaultCacheTTL,
				Usage:   "How long a rendered feed fragment is served before refreshing",
				EnvVars: []string{"CACHE_TTL"},
			},
			&cli.IntFlag{
				Name:    "max-items",
				Value:   librarypage.DefaultMaxItems,
				Usage:   "Feed entries shown in the download table",
				EnvVars: []string{"MAX_ITEMS"},
			},
		},
		Action: runServe,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*librarypage.Config, error) {
	cfg := librarypage.DefaultConfig()
	if path := c.String("config"); path != "" {
		loaded, err := librarypage.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("log-level") || c.String("config") == "" {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-file") {
		cfg.Log.File = c.String("log-file")
	}
	if c.IsSet("cache-path") {
		cfg.Cache.Path = c.String("cache-path")
	}
	if c.IsSet("cache-ttl") {
		cfg.Cache.TTL = c.Duration("cache-ttl")
	}
	if c.IsSet("max-items") {
		cfg.Feed.MaxItems = c.Int("max-items")
	}
	return cfg, nil
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log, closer, err := librarypage.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()
	defer log.Sync()

	store, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	page := librarypage.New(store, cfg.Options(log)...)

	serverErr := make(chan error, 1)
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		serverErr <- page.Run()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-done:
		log.Info("signal received", zap.String("signal", sig.String()))
	}

	if err := page.Shutdown(); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
