package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/careflow/internal/config"
	"github.com/ehr/careflow/internal/platform/db"
	"github.com/ehr/careflow/internal/platform/livefeed"
	"github.com/ehr/careflow/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "careflow-server",
		Short: "Clinical resource and workflow transaction engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(hospitalCmd())
	rootCmd.AddCommand(outboxCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			withRelay, _ := cmd.Flags().GetBool("with-relay")
			return runServer(withRelay)
		},
	}
	cmd.Flags().Bool("with-relay", false, "Run the outbox relay inside the server process")
	return cmd
}

func runServer(withRelay bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	logger.Info().Str("driver", b.driver).Msg("store opened")

	tariff, err := cfg.Tariff()
	if err != nil {
		return err
	}
	svcs := buildServices(b, tariff)
	if withRelay {
		svcs.feed = livefeed.NewHub(logger)
	}
	e := newServer(cfg, logger, b, svcs)

	if withRelay {
		relay, closeSinks, err := newRelay(ctx, cfg, b, logger, svcs.feed)
		if err != nil {
			return err
		}
		defer closeSinks()
		relayCtx, release, err := b.hospitalContext(ctx, cfg.DefaultHospital)
		if err != nil {
			return err
		}
		defer release()
		go func() {
			if err := relay.Run(relayCtx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("outbox relay stopped")
			}
		}()
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect hospital schema migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			hospital, _ := cmd.Flags().GetString("hospital")
			ctx := context.Background()
			cfg, pool, err := connectPostgres(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if hospital == "" {
				hospital = cfg.DefaultHospital
			}

			schema := db.SchemaName(hospital)
			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := db.NewMigratorFS(pool, migrations.FS).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("hospital", "", "Hospital identifier (defaults to DEFAULT_HOSPITAL)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			hospital, _ := cmd.Flags().GetString("hospital")
			ctx := context.Background()
			cfg, pool, err := connectPostgres(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if hospital == "" {
				hospital = cfg.DefaultHospital
			}

			schema := db.SchemaName(hospital)
			statuses, err := db.NewMigratorFS(pool, migrations.FS).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(os.Stdout, schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("hospital", "", "Hospital identifier (defaults to DEFAULT_HOSPITAL)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func hospitalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hospital",
		Short: "Manage hospital schemas",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a hospital schema and apply all migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			ctx := context.Background()
			_, pool, err := connectPostgres(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating hospital schema: %s\n", db.SchemaName(name))
			if err := db.CreateHospitalSchema(ctx, pool, name, migrations.FS); err != nil {
				return err
			}
			fmt.Println("Hospital created.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Hospital identifier (alphanumeric)")
	cmd.AddCommand(createCmd)
	return cmd
}

func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Deliver recorded domain events",
	}

	relayCmd := &cobra.Command{
		Use:   "relay",
		Short: "Poll the outbox and publish events to the configured sinks",
		RunE: func(cmd *cobra.Command, args []string) error {
			hospital, _ := cmd.Flags().GetString("hospital")
			once, _ := cmd.Flags().GetBool("once")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if hospital == "" {
				hospital = cfg.DefaultHospital
			}
			logger := newLogger(cfg).With().Str("hospital_id", hospital).Logger()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			relay, closeSinks, err := newRelay(ctx, cfg, b, logger)
			if err != nil {
				return err
			}
			defer closeSinks()

			ctx, release, err := b.hospitalContext(ctx, hospital)
			if err != nil {
				return err
			}
			defer release()
			if once {
				n, err := relay.Flush(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Published %d event(s).\n", n)
				return nil
			}
			return relay.Run(ctx)
		},
	}
	relayCmd.Flags().String("hospital", "", "Hospital identifier (defaults to DEFAULT_HOSPITAL)")
	relayCmd.Flags().Bool("once", false, "Publish one batch and exit")
	cmd.AddCommand(relayCmd)
	return cmd
}
