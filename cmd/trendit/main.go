package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/qepting91/trendit/internal/collector"
	"github.com/qepting91/trendit/internal/config"
	"github.com/qepting91/trendit/internal/engine"
	"github.com/qepting91/trendit/internal/httpapi"
	"github.com/qepting91/trendit/internal/ingest"
	"github.com/qepting91/trendit/internal/ratelimit"
	"github.com/qepting91/trendit/internal/storage"
)

func main() {
	root := &cobra.Command{
		Use:   "trendit",
		Short: "Reddit collection job engine",
		PersistentPreRun: func(*cobra.Command, []string) {
			godotenv.Load()
			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
			slog.SetDefault(logger)
		},
	}
	root.AddCommand(serveCmd(), collectCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup wires the shared pieces: store, budget, client, registry.
func setup() (*storage.Store, *engine.Registry, config.Config, error) {
	cfg := config.Load()

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, cfg, fmt.Errorf("mkdir data dir: %w", err)
		}
	}
	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, cfg, fmt.Errorf("open record store: %w", err)
	}

	budget := ratelimit.NewBudget(cfg.RateLimitPerMinute)
	client, err := collector.New(collector.Config{
		Mode:         cfg.CollectorMode,
		UserAgent:    cfg.UserAgent,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Username:     cfg.Username,
		Password:     cfg.Password,
	}, budget)
	if err != nil {
		store.Close()
		return nil, nil, cfg, fmt.Errorf("initialize collector: %w", err)
	}
	slog.Info("collector initialized", "mode", cfg.CollectorMode, "rate_limit_per_minute", cfg.RateLimitPerMinute)

	registry := engine.NewRegistry(store, client, slog.Default(), engine.Options{
		FacetParallelism: cfg.FacetParallelism,
	})
	return store, registry, cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, registry, cfg, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			srv := &http.Server{
				Addr:    cfg.Addr,
				Handler: httpapi.NewServer(registry, store).Router(),
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("api listening", "addr", cfg.Addr)
				errCh <- srv.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case <-sigCh:
				slog.Info("shutdown signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func collectCmd() *cobra.Command {
	var (
		subredditsPath string
		keywordsPath   string
		postLimit      int
		commentLimit   int
	)
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run one collection job from CSV inputs and wait for it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, registry, _, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			targets, err := ingest.LoadTargets(subredditsPath)
			if err != nil {
				return fmt.Errorf("load targets: %w", err)
			}
			if len(targets) == 0 {
				return fmt.Errorf("no valid targets in %s", subredditsPath)
			}
			keywords, _ := ingest.LoadKeywords(keywordsPath)

			spec := ingest.BuildSpec(targets, keywords)
			spec.PostLimit = postLimit
			spec.CommentLimit = commentLimit

			ctx := cmd.Context()
			id, err := registry.CreateJob(ctx, spec)
			if err != nil {
				return err
			}
			slog.Info("collection job started", "job_id", id, "targets", len(targets))

			// Cancel the job on SIGINT instead of killing the process hard.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				slog.Info("shutdown signal received, cancelling job", "job_id", id)
				registry.Cancel(context.Background(), id)
			}()

			if err := registry.Wait(ctx, id); err != nil {
				return err
			}
			snap, err := registry.Status(ctx, id)
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(snap)
		},
	}
	cmd.Flags().StringVar(&subredditsPath, "subreddits", "input/subreddits.csv", "CSV of subreddit,min_score rows")
	cmd.Flags().StringVar(&keywordsPath, "keywords", "input/keywords.csv", "CSV of keywords, one per row")
	cmd.Flags().IntVar(&postLimit, "post-limit", 100, "posts to collect per facet")
	cmd.Flags().IntVar(&commentLimit, "comment-limit", 50, "comments to collect per post")
	return cmd
}
