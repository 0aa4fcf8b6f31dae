package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/telemed/telemed/internal/config"
	"github.com/telemed/telemed/internal/domain/facility"
	"github.com/telemed/telemed/internal/domain/identity"
	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/internal/platform/db"
)

const defaultSchema = "public"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:   "telemed-server",
		Short: "Telemedicine portal API server",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(envFile)
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file loaded before configuration is read")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(createSuperuserCmd())
	root.AddCommand(resetDBCmd())
	return root
}

// loadEnvFile exports the variables of path into the process environment,
// overriding values already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Overload(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func poolOptions(cfg *config.Config) db.PoolOptions {
	return db.PoolOptions{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: cfg.DBMaxConnLife,
		AppName:         cfg.AppName,
	}
}

func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, poolOptions(cfg))
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, dir).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", defaultSchema, "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", defaultSchema, "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func createSuperuserCmd() *cobra.Command {
	var in identity.RegisterInput
	cmd := &cobra.Command{
		Use:   "create-superuser",
		Short: "Create an active system administrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			issuer := auth.NewTokenIssuer(cfg.SigningKey(), cfg.JWTIssuer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
			svc := identity.NewService(
				identity.NewUserRepoPG(pool),
				identity.NewProfileRepoPG(pool),
				identity.NewRefreshTokenRepoPG(pool),
				db.NewTransactor(pool),
				issuer,
			)
			u, err := svc.CreateSuperuser(ctx, in)
			if errors.Is(err, identity.ErrDuplicate) {
				return fmt.Errorf("a user with email %s already exists", in.Email)
			}
			if err != nil {
				return err
			}
			fmt.Printf("Superuser %s created (id %s).\n", u.Email, u.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Email, "email", "", "Login email")
	f.StringVar(&in.Password, "password", "", "Login password")
	f.StringVar(&in.DocumentType, "document-type", identity.DocCC, "Identity document type (CC, TI, CE, PA)")
	f.StringVar(&in.DocumentNumber, "document", "", "Identity document number")
	f.StringVar(&in.FirstName, "first-name", "", "First name")
	f.StringVar(&in.LastName, "last-name", "", "Last name")
	for _, name := range []string{"email", "password", "document", "first-name", "last-name"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// checkReset refuses destructive resets unless confirmed, and always in
// production.
func checkReset(cfg *config.Config, confirmed bool) error {
	if cfg.IsProduction() {
		return fmt.Errorf("reset-db is disabled when ENV=production")
	}
	if !confirmed {
		return fmt.Errorf("reset-db drops every table; pass --yes to confirm")
	}
	return nil
}

func resetDBCmd() *cobra.Command {
	var (
		confirmed bool
		seed      bool
		dir       string
		schema    string
	)
	cmd := &cobra.Command{
		Use:   "reset-db",
		Short: "Drop and recreate the schema, then apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := checkReset(cfg, confirmed); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, poolOptions(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.ResetSchema(ctx, pool, schema); err != nil {
				return err
			}
			count, err := db.NewMigrator(pool, dir).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Schema %s recreated, %d migration(s) applied.\n", schema, count)

			if seed {
				n, err := facility.NewService(facility.NewRepoPG(pool)).SeedSpecialties(ctx)
				if err != nil {
					return fmt.Errorf("seed specialties: %w", err)
				}
				fmt.Printf("Seeded %d specialties.\n", n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm dropping all data")
	cmd.Flags().BoolVar(&seed, "seed", false, "Insert the default specialties")
	cmd.Flags().StringVar(&dir, "dir", "./migrations", "Path to migrations directory")
	cmd.Flags().StringVar(&schema, "schema", defaultSchema, "Schema to reset")
	return cmd
}
