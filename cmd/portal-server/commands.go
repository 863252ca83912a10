package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/labportal/portal/internal/domain/lab"
	"github.com/labportal/portal/internal/platform/auth"
	"github.com/labportal/portal/internal/platform/db"
)

func labCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lab",
		Short: "Inspect and register labs in the registry",
	}

	// lab resolve
	resolveCmd := &cobra.Command{
		Use:   "resolve <lab-key>",
		Short: "Resolve a lab key through the cache tiers and print its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := buildApp(ctx, cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.labs.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.AddCommand(resolveCmd)

	// lab register
	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Insert or update a lab row and refresh its snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := recordFromFlags(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := buildApp(ctx, cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			defer a.Close()

			res, snapshotUpdated, err := a.labs.Register(ctx, rec)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"ok":              true,
				"result":          res,
				"snapshotUpdated": snapshotUpdated,
			})
		},
	}
	registerCmd.Flags().String("key", "", "Lab key (required)")
	registerCmd.Flags().String("folder", "", "Drive folder id of the lab root (required)")
	registerCmd.Flags().String("log-sheet", "", "Spreadsheet id of the lab's access log (required)")
	registerCmd.Flags().String("logo", "", "Drive file id of the lab logo")
	registerCmd.Flags().String("title", "", "Portal title")
	registerCmd.Flags().String("subtitle", "", "Portal subtitle")
	cmd.AddCommand(registerCmd)

	return cmd
}

func recordFromFlags(cmd *cobra.Command) (lab.Record, error) {
	get := func(name string) string {
		v, _ := cmd.Flags().GetString(name)
		return v
	}
	rec := lab.Record{
		LabKey:        get("key"),
		DriveFolderID: get("folder"),
		LogSheetID:    get("log-sheet"),
		LogoFileID:    get("logo"),
		Title:         get("title"),
		Subtitle:      get("subtitle"),
	}.Trimmed()
	if rec.LabKey == "" || rec.DriveFolderID == "" || rec.LogSheetID == "" {
		return lab.Record{}, errors.New("--key, --folder and --log-sheet are required")
	}
	return rec, nil
}

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage the postgres snapshot store",
	}

	// snapshot migrate
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the snapshot table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	cmd.AddCommand(migrateCmd)

	// snapshot status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show snapshot schema migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(context.Context, *db.Migrator) error) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	ctx := cmd.Context()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, db.Migrations()))
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		state, at := "pending", ""
		if s.Applied {
			state = "applied"
			if s.AppliedAt != nil {
				at = s.AppliedAt.Format(time.RFC3339)
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, state, at)
	}
}

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin credential helpers",
	}

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token accepted by register-lab",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			subject, _ := cmd.Flags().GetString("subject")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if ttl <= 0 {
				return errors.New("--ttl must be positive")
			}

			now := time.Now()
			tok, err := auth.IssueAdminToken([]byte(cfg.AdminJWTSecret), subject, cfg.AdminJWTIssuer, jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			})
			if err != nil {
				return fmt.Errorf("ADMIN_JWT_SECRET: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	tokenCmd.Flags().String("subject", "cli", "Subject recorded in the token")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	cmd.AddCommand(tokenCmd)

	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
