package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	daemon "github.com/sevlyar/go-daemon"
	"github.com/spf13/cobra"

	"github.com/mrecos/mcp-gateway/internal/audit"
	"github.com/mrecos/mcp-gateway/internal/auth"
	"github.com/mrecos/mcp-gateway/internal/cache"
	"github.com/mrecos/mcp-gateway/internal/config"
	"github.com/mrecos/mcp-gateway/internal/gensales"
	"github.com/mrecos/mcp-gateway/internal/limiter"
	"github.com/mrecos/mcp-gateway/internal/mcp"
	"github.com/mrecos/mcp-gateway/internal/server"
)

var (
	configPath string
	daemonMode bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mcp-gateway",
		Short: "HTTP middleware in front of a remote tool-invocation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemonMode {
				cntxt := &daemon.Context{
					PidFileName: "mcp-gateway.pid",
					PidFilePerm: 0644,
				}
				child, err := cntxt.Reborn()
				if err != nil {
					return err
				}
				if child != nil {
					return nil
				}
				defer cntxt.Release()
			}
			return serve()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&daemonMode, "daemon", false, "run in background")

	var (
		outPath string
		rows    int
		seed    int64
	)
	genCmd := &cobra.Command{
		Use:   "gen-sales",
		Short: "Generate a synthetic multi-tenant sales CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer out.Close()
			if err := gensales.Generate(out, gensales.Options{Rows: rows, Seed: seed}); err != nil {
				return err
			}
			log.Printf("wrote %d rows to %s", rows, outPath)
			return nil
		},
	}
	genCmd.Flags().StringVar(&outPath, "out", "sales_data.csv", "output CSV path")
	genCmd.Flags().IntVar(&rows, "rows", 150, "number of rows")
	genCmd.Flags().Int64Var(&seed, "seed", 42, "random seed")
	rootCmd.AddCommand(genCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func serve() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	for _, warning := range cfg.Warnings() {
		log.Printf("WARNING: %s", warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var invoker server.ToolInvoker
	if !cfg.DemoMode() {
		client, err := mcp.New(mcp.Config{
			ServerURL:   cfg.Upstream.ServerURL,
			AuthToken:   cfg.Upstream.AuthToken,
			Timeout:     cfg.Upstream.Timeout,
			InsecureTLS: cfg.Upstream.InsecureTLS,
		})
		if err != nil {
			return err
		}
		invoker = client
	}

	redisClient, err := buildRedisClient(cfg.RateLimiter)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	toolCache, err := cache.New(cache.Config{
		Enabled:     cfg.Cache.Enabled,
		NumCounters: cfg.Cache.NumCounters,
		MaxCost:     cfg.Cache.MaxCost,
		BufferItems: cfg.Cache.BufferItems,
		TTL:         cfg.Cache.TTL,
	})
	if err != nil {
		return err
	}

	limit := limiter.New(limiter.Config{
		Enabled:           cfg.RateLimiter.Enabled,
		RequestsPerSecond: cfg.RateLimiter.RequestsPerSecond,
		Burst:             cfg.RateLimiter.Burst,
		Window:            cfg.RateLimiter.Window,
		Redis:             redisClient,
	})

	srv := server.New(cfg, invoker,
		auth.New(cfg.Session),
		toolCache,
		limit,
		audit.New(cfg.Audit.Enabled, os.Stdout),
	)

	if invoker != nil {
		log.Printf("forwarding to %s", cfg.Upstream.ServerURL)
	}
	log.Printf("mcp-gateway listening on %s", cfg.Server.Address)
	return srv.Run(ctx)
}

func buildRedisClient(cfg config.RateLimiterConfig) (redis.UniversalClient, error) {
	if !cfg.Enabled || cfg.RedisAddr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return client, nil
}
