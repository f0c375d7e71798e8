package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicq/clinicq/internal/config"
	"github.com/clinicq/clinicq/internal/domain/clinic"
	"github.com/clinicq/clinicq/internal/domain/report"
	"github.com/clinicq/clinicq/internal/platform/db"
	"github.com/clinicq/clinicq/internal/platform/realtime"
	"github.com/clinicq/clinicq/migrations"
)

// resolvedConnection loads the config and the connection it resolves to.
func resolvedConnection() (*config.Config, *config.Connection, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	conn, _, err := cfg.ResolveConnection()
	if err != nil {
		return nil, nil, err
	}
	if conn == nil {
		return nil, nil, errors.New("no connection configured; run `clinicq-server connection set` first")
	}
	return cfg, conn, nil
}

// withStore connects a realtime client for the duration of fn.
func withStore(fn func(ctx context.Context, client *realtime.Client, logger zerolog.Logger) error) error {
	cfg, conn, err := resolvedConnection()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	ctx := context.Background()

	backend, err := backendOpener(cfg, logger)(ctx, *conn)
	if err != nil {
		return err
	}
	client := realtime.NewClient(logger)
	if err := client.Connect(backend); err != nil {
		backend.Close()
		return err
	}
	defer client.Disconnect()
	return fn(ctx, client, logger)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres realtime store schema",
	}

	withMigrator := func(fn func(ctx context.Context, m *db.Migrator) error) error {
		cfg, conn, err := resolvedConnection()
		if err != nil {
			return err
		}
		ctx := context.Background()
		pool, err := db.NewPool(ctx, conn.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		return fn(ctx, db.NewMigrator(pool, migrations.FS))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
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
			})
		},
	})

	return cmd
}

func connectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connection",
		Short: "Show or change the realtime store connection",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved connection with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			conn, source, err := cfg.ResolveConnection()
			if err != nil {
				return err
			}
			out := struct {
				Source     config.ConnectionSource `json:"source"`
				Connection *config.Connection      `json:"connection,omitempty"`
			}{Source: source}
			if conn != nil {
				red := conn.Redacted()
				out.Connection = &red
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	})

	var flags config.Connection
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Persist connection fields, merged over the saved entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return persistMerged(cmd, flags)
		},
	}
	setCmd.Flags().StringVar(&flags.DatabaseURL, "database-url", "", "store URL (postgres://, redis://, memory://)")
	setCmd.Flags().StringVar(&flags.ProjectID, "project-id", "", "project namespace")
	setCmd.Flags().StringVar(&flags.StorageBucket, "storage-bucket", "", "banner bucket host or URL")
	setCmd.Flags().StringVar(&flags.APIKey, "api-key", "", "bucket API key")
	setCmd.Flags().StringVar(&flags.AuthDomain, "auth-domain", "", "auth domain")
	setCmd.Flags().StringVar(&flags.MessagingSenderID, "messaging-sender-id", "", "messaging sender id")
	setCmd.Flags().StringVar(&flags.AppID, "app-id", "", "app id")
	cmd.AddCommand(setCmd)

	pasteCmd := &cobra.Command{
		Use:   "paste",
		Short: "Read a pasted config snippet (JSON, YAML or a JS object) from stdin or --file",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			var r io.Reader = cmd.InOrStdin()
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			text, err := io.ReadAll(io.LimitReader(r, 64<<10))
			if err != nil {
				return err
			}
			parsed, err := config.ParseConnectionText(string(text))
			if err != nil {
				return err
			}
			return persistMerged(cmd, parsed)
		},
	}
	pasteCmd.Flags().String("file", "", "read the snippet from this file instead of stdin")
	cmd.AddCommand(pasteCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Remove the saved connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := config.ClearConnectionFile(cfg.ConnectionFile()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Connection removed.")
			return nil
		},
	})

	return cmd
}

func persistMerged(cmd *cobra.Command, update config.Connection) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	current, err := config.LoadConnectionFile(cfg.ConnectionFile())
	if err != nil {
		return err
	}
	merged := update
	if current != nil {
		merged = current.Merge(update)
	}
	if err := config.SaveConnectionFile(cfg.ConnectionFile(), merged); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Connection saved to %s.\n", cfg.ConnectionFile())
	return printJSON(cmd.OutOrStdout(), merged.Redacted())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load initial patients and settings into an empty store",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			demo, _ := cmd.Flags().GetBool("demo")

			var fx clinic.Fixture
			switch {
			case file != "":
				loaded, err := clinic.LoadFixture(file)
				if err != nil {
					return err
				}
				fx = loaded
			case demo:
				fx = clinic.DemoFixture(time.Now().UnixMilli())
			default:
				return errors.New("either --file or --demo is required")
			}

			return withStore(func(ctx context.Context, client *realtime.Client, logger zerolog.Logger) error {
				res, err := clinic.Seed(ctx,
					clinic.NewPatientRepo(client, "", logger),
					clinic.NewSettingsRepo(client, "", logger),
					fx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d patient(s); settings written: %t\n", res.Patients, res.Settings)
				return nil
			})
		},
	}
	cmd.Flags().String("file", "", "YAML fixture with settings and patients")
	cmd.Flags().Bool("demo", false, "seed the built-in sample queue")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write completed visits to an Excel workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				out = "visits-" + time.Now().Format("20060102") + ".xlsx"
			}

			return withStore(func(ctx context.Context, client *realtime.Client, logger zerolog.Logger) error {
				patients, err := clinic.NewPatientRepo(client, "", logger).List(ctx)
				if err != nil {
					return err
				}
				settings := clinic.DefaultSettings()
				stored, err := clinic.NewSettingsRepo(client, "", logger).Get(ctx)
				switch {
				case err == nil:
					settings = *stored
				case !errors.Is(err, clinic.ErrSettingsNotFound):
					return err
				}

				data, err := report.Workbook(patients, settings, time.Local)
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)
				return nil
			})
		},
	}
	cmd.Flags().String("out", "", "output file (default visits-YYYYMMDD.xlsx)")
	return cmd
}
