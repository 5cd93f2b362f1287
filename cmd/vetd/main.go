package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lhdbsbz/vetd/internal/audit"
	"github.com/lhdbsbz/vetd/internal/bridge"
	"github.com/lhdbsbz/vetd/internal/config"
	"github.com/lhdbsbz/vetd/internal/gateway"
	"github.com/lhdbsbz/vetd/internal/pipeline"
	"github.com/lhdbsbz/vetd/internal/platform"
	"github.com/lhdbsbz/vetd/internal/policy"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("vetd v%s\n", version)
	case "init":
		if err := initConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
			os.Exit(1)
		}
	case "serve":
		if err := serve(); err != nil {
			slog.Error("fatal", "error", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("vetd - group moderation daemon")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  vetd init      Create a starter config with a generated token")
	fmt.Println("  vetd serve     Start the moderation pipeline")
	fmt.Println("  vetd version   Show version info")
}

func initConfig() error {
	path := config.ResolveConfigPath("")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := config.CreateFromExample(path); err != nil {
		return err
	}
	fmt.Printf("Created %s\n", path)
	fmt.Println("Set group.id and policy.baseURL, then run: vetd serve")
	return nil
}

func serve() error {
	// Setup structured logging
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	home := config.ResolveHome()
	slog.Info("vetd starting", "version", version, "home", home)

	if err := os.MkdirAll(home, 0755); err != nil {
		return fmt.Errorf("create home dir: %w", err)
	}

	// Load config
	cfgPath := config.ResolveConfigPath("")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", cfgPath, "error", err)
		cfg = config.DefaultConfig()
		cfg.Audit.Dir = filepath.Join(home, "logs")
	}
	config.Set(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown signal received", "signal", sig)
		cancel()
	}()

	go config.Watch(ctx)

	// Wire the pipeline: bridge link ← platform adapter ← pipeline → policy + audit.
	auditLog := audit.NewLogger(cfg.Audit.Dir)
	link := gateway.NewBridgeLink()
	adapter := platform.NewWSAdapter(link)
	pipe := pipeline.New(adapter, policy.NewClientFromConfig(), auditLog)
	defer pipe.Close()

	// Launch the platform bridge; it connects back over /ws.
	wsURL := fmt.Sprintf("ws://127.0.0.1:%d/ws", cfg.Gateway.Port)
	bridges := bridge.NewManager(wsURL, cfg.Gateway.Auth.Token)
	bridges.Start(ctx, cfg.Bridge)
	defer bridges.Stop()
	config.RegisterOnReload(func(c *config.Config) {
		bridges.Restart(ctx, c.Bridge)
	})

	sched := pipeline.NewScheduler(pipe, auditLog)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	srv := gateway.NewServer(link, auditLog)
	return srv.Start(ctx)
}
