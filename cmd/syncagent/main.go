// Package main runs the background sync agent: it opens its own handle
// on the shared durable store, hosts the bridge for foreground pages and
// drains the pending operation queue while no page is open.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bfgold/storefront-sync/internal/agent"
	"github.com/bfgold/storefront-sync/internal/config"
	"github.com/bfgold/storefront-sync/internal/logging"
	"github.com/bfgold/storefront-sync/internal/store"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("storefront-syncagent v%s\n", Version)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(os.Stdout, logLevel(cfg.LogLevel))
	logging.Info("Sync agent starting",
		map[string]interface{}{"version": Version, "data_dir": cfg.DataDir})

	st, err := store.Open(cfg.DataDir, store.DefaultPartitions...)
	if err != nil {
		logging.Error("Failed to open durable store", err, nil)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := agent.New(st, cfg.Agent)
	if err := a.Start(ctx); err != nil {
		logging.Error("Failed to start agent", err, nil)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Info("Shutting down", nil)
	a.Stop()
}

// loadConfig reads the config file when given; the agent can run with
// defaults alone since its remote credentials arrive over the bridge.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.DefaultConfig(), nil
}

func logLevel(level string) logging.LogLevel {
	switch level {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
