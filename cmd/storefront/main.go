// Package main runs the foreground storefront sync context: the durable
// store, the operation queue, the cart and wishlist managers, the product
// cache and the connectivity watcher, plus a bridge link that pushes
// remote credentials to the background agent and applies its price
// broadcasts.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bfgold/storefront-sync/internal/bridge"
	"github.com/bfgold/storefront-sync/internal/cache"
	"github.com/bfgold/storefront-sync/internal/cart"
	"github.com/bfgold/storefront-sync/internal/config"
	"github.com/bfgold/storefront-sync/internal/errors"
	"github.com/bfgold/storefront-sync/internal/logging"
	"github.com/bfgold/storefront-sync/internal/netbus"
	"github.com/bfgold/storefront-sync/internal/prefetch"
	"github.com/bfgold/storefront-sync/internal/queue"
	"github.com/bfgold/storefront-sync/internal/remote"
	"github.com/bfgold/storefront-sync/internal/store"
	"github.com/bfgold/storefront-sync/internal/wishlist"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	configPath := flag.String("config", config.DefaultFileName, "path to the YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("storefront-sync v%s\n", Version)
		return
	}

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(os.Stdout, logLevel(cfg.LogLevel))
	logging.Info("Storefront sync starting",
		map[string]interface{}{"version": Version, "data_dir": cfg.DataDir})

	if err := run(cfg); err != nil {
		logging.Error("Storefront sync failed", err, nil)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	st, err := store.Open(cfg.DataDir, store.DefaultPartitions...)
	if err != nil {
		return err
	}
	defer st.Close()

	client := remote.NewClient(&remote.Config{
		BaseURL: cfg.Remote.URL,
		APIKey:  cfg.Remote.AnonKey,
		Timeout: cfg.Remote.Timeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := netbus.New(true)
	go bus.Watch(ctx, &netbus.HTTPProbe{URL: cfg.Remote.URL}, 30*time.Second)

	wake := &agentWake{}
	q := queue.New(st, queue.WithWakeRegistrar(wake))
	productCache := cache.New(st)

	cartMgr := cart.NewManager(st, q, client, bus)
	cartMgr.Start(ctx)
	defer cartMgr.Close()

	wishMgr := wishlist.NewManager(st, q, client, bus)
	wishMgr.Start(ctx)
	defer wishMgr.Close()

	prefetcher := prefetch.New(client, productCache, st)
	prefetcher.Run(ctx)

	// Bridge to the background agent: push credentials up, apply price
	// broadcasts down. The agent may not be running; everything still
	// works without it, just without background replay.
	link := dialAgent(cfg, cartMgr)
	if link != nil {
		wake.setLink(link)
		defer link.Close()

		// Re-push credentials on every sign-in or token refresh, so the
		// agent replays under the live session instead of anonymously.
		cartMgr.SetSessionListener(func(userID, accessToken string) {
			err := link.SendConfig(bridge.ConfigUpdate{
				BaseURL:     cfg.Remote.URL,
				APIKey:      cfg.Remote.AnonKey,
				AccessToken: accessToken,
				UserID:      userID,
			})
			if err != nil {
				logging.Warn("Failed to push session to agent",
					map[string]interface{}{"reason": err.Error()})
			}
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Info("Shutting down", nil)
	return nil
}

func dialAgent(cfg *config.Config, cartMgr *cart.Manager) *bridge.Link {
	agentURL := "http://" + cfg.Agent.ListenAddr + "/bridge"

	link, err := bridge.Dial(agentURL, func(msgType string, data json.RawMessage) {
		if msgType != bridge.MsgPricesUpdated {
			return
		}
		var payload bridge.PricesUpdated
		if err := json.Unmarshal(data, &payload); err != nil {
			logging.Debug("Discarding malformed price broadcast",
				map[string]interface{}{"reason": err.Error()})
			return
		}
		cartMgr.ApplyPriceUpdates(payload.Products)
	})
	if err != nil {
		logging.Warn("Background agent unreachable, continuing without it",
			map[string]interface{}{"reason": err.Error()})
		return nil
	}

	if err := link.SendConfig(bridge.ConfigUpdate{
		BaseURL: cfg.Remote.URL,
		APIKey:  cfg.Remote.AnonKey,
	}); err != nil {
		logging.Warn("Failed to push config to agent",
			map[string]interface{}{"reason": err.Error()})
	}
	return link
}

// agentWake asks the background agent to replay the queue whenever an
// operation is enqueued. Without a live bridge link the registration
// fails and the queue falls back to reconnect-driven replay.
type agentWake struct {
	mu   sync.Mutex
	link *bridge.Link
}

func (w *agentWake) setLink(l *bridge.Link) {
	w.mu.Lock()
	w.link = l
	w.mu.Unlock()
}

func (w *agentWake) RegisterSync(tag string) error {
	w.mu.Lock()
	l := w.link
	w.mu.Unlock()
	if l == nil {
		return errors.New(errors.ErrSyncNotConfigured, "no agent link")
	}
	return l.RequestReplay()
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
