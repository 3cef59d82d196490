package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mkarpis/leadpipe/internal/api"
	"github.com/mkarpis/leadpipe/internal/config"
	"github.com/mkarpis/leadpipe/internal/csvparser"
	"github.com/mkarpis/leadpipe/internal/dedupe"
	"github.com/mkarpis/leadpipe/internal/delivery"
	"github.com/mkarpis/leadpipe/internal/eligibility"
	"github.com/mkarpis/leadpipe/internal/metrics"
	"github.com/mkarpis/leadpipe/internal/models"
	"github.com/mkarpis/leadpipe/internal/runner"
	"github.com/mkarpis/leadpipe/internal/storage"
	"github.com/mkarpis/leadpipe/internal/validate"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "leadpipe",
		Short: "Lead injection scheduling and pacing engine",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(poolCmd(&configPath))
	rootCmd.AddCommand(campaignCmd(&configPath))
	rootCmd.AddCommand(statsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the LeadPipe server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			metrics.Init()

			dupes := dedupe.NewChecker(store)
			sender := delivery.NewSender(cfg.Delivery.Timeout)
			manager := runner.NewManager(store, sender, dupes, cfg.Advisory.Interval, log)
			if err := manager.Restore(context.Background()); err != nil {
				return fmt.Errorf("failed to restore running campaigns: %w", err)
			}

			server := api.NewServer(cfg.Server, api.Deps{
				Store:      store,
				Manager:    manager,
				Filter:     eligibility.New(store, dupes),
				Validator:  validate.New(store, dupes),
				Dupes:      dupes,
				Injection:  cfg.Injection,
				AdminToken: cfg.Auth.AdminToken,
			}, log)

			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Str("storage", cfg.Storage.Driver).
				Msg("LeadPipe is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			manager.Stop()

			log.Info().Msg("LeadPipe stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func poolCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Manage lead pools",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new lead pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			p := &models.LeadPool{
				ID:        models.NewID("pool"),
				Name:      name,
				CreatedAt: time.Now().UTC(),
			}
			if err := store.CreatePool(context.Background(), p); err != nil {
				return fmt.Errorf("failed to create pool: %w", err)
			}

			out, _ := json.MarshalIndent(p, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	createCmd.Flags().String("name", "", "pool name")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all lead pools",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			pools, err := store.ListPools(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list pools: %w", err)
			}

			if len(pools) == 0 {
				fmt.Println("No pools found.")
				return nil
			}

			for _, p := range pools {
				n, _ := store.CountPoolEntries(context.Background(), p.ID)
				fmt.Printf("  %s  %s  %d entries  (created %s)\n", p.ID, p.Name, n, p.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	importCmd := &cobra.Command{
		Use:   "import <pool_id> <file.csv>",
		Short: "Import a CSV of contacts into a pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("usage: leadpipe pool import <pool_id> <file.csv>")
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			pool, err := store.GetPool(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get pool: %w", err)
			}
			if pool == nil {
				return fmt.Errorf("pool %s not found", args[0])
			}

			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("failed to open csv: %w", err)
			}
			defer f.Close()

			rows, err := csvparser.ParseLeadRows(f, 0)
			if err != nil {
				return fmt.Errorf("failed to parse csv: %w", err)
			}

			imported, skipped := 0, 0
			now := time.Now().UTC()
			for _, row := range rows {
				e := &models.LeadPoolEntry{
					ID:           models.NewID("lead"),
					PoolID:       pool.ID,
					FirstName:    row.FirstName,
					LastName:     row.LastName,
					Email:        row.Email,
					Phone:        row.Phone,
					Country:      row.Country,
					IP:           row.IP,
					Offer:        row.Offer,
					CustomFields: row.Fields,
					Source:       row.Source,
					SourceDate:   now,
					CreatedAt:    now,
				}
				if e.Source == "" {
					e.Source = models.SourceImport
				}
				if row.SourceDate != nil {
					e.SourceDate = row.SourceDate.UTC()
				}
				if err := store.CreatePoolEntry(context.Background(), e); err != nil {
					skipped++
					continue
				}
				imported++
			}

			fmt.Printf("imported %d entries, skipped %d\n", imported, skipped)
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd, importCmd)
	return cmd
}

func campaignCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Inspect campaigns",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all campaigns",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			campaigns, err := store.ListCampaigns(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list campaigns: %w", err)
			}

			if len(campaigns) == 0 {
				fmt.Println("No campaigns found.")
				return nil
			}

			for _, c := range campaigns {
				fmt.Printf("  %s  %s  %s  sent=%d failed=%d skipped=%d total=%d\n",
					c.ID, c.Name, c.Status, c.SentCount, c.FailedCount, c.SkippedCount, c.TotalCount)
			}
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate <campaign_id>",
		Short: "Dry-run a campaign's queue against dedup and quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: leadpipe campaign validate <campaign_id>")
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			v := validate.New(store, dedupe.NewChecker(store))
			res, err := v.Run(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			out, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.AddCommand(listCmd, validateCmd)
	return cmd
}

func statsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show engine-wide stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := store.GetStats(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			out, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("LeadPipe v%s\n", version)
		},
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func storeFromConfig(configPath string) (storage.Storage, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, func() { store.Close() }, nil
}
