package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"portaladmin/config"
	"portaladmin/db"
	"portaladmin/logging"
	"portaladmin/model"
)

const (
	defaultSchemaFile    = "supabase-ready.sql"
	defaultAddColumnFile = "add-auth-column.sql"
	defaultMaxBackups    = 5
)

// env is what every subcommand needs once configuration has loaded.
type env struct {
	cfg *config.Config
	log *zap.SugaredLogger
	out io.Writer
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:          "setup",
		Short:        "Provision and verify the portal database",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("log-level", "", "Log level (overrides LOG_LEVEL)")
	_ = v.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	// withEnv loads configuration and a logger, then hands them to fn.
	withEnv := func(fn func(ctx context.Context, e env) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return fn(cmd.Context(), env{cfg: cfg, log: log, out: cmd.OutOrStdout()})
		}
	}

	rootCmd.AddCommand(
		newSchemaCmd(withEnv),
		newAddColumnCmd(withEnv),
		newVerifyCmd(withEnv),
		newMigrateCmd(withEnv),
	)
	return rootCmd
}

type wrapFunc func(fn func(ctx context.Context, e env) error) func(*cobra.Command, []string) error

// openStore connects and runs fn, closing the store on every path.
func openStore(ctx context.Context, e env, fn func(store *db.SQLStore) error) error {
	store, err := db.Open(ctx, e.cfg.Database, e.log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			e.log.Warnf("closing database: %v", err)
		}
	}()
	return fn(store)
}

func newSchemaCmd(wrap wrapFunc) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Execute the schema script, then verify the portal tables",
		RunE: wrap(func(ctx context.Context, e env) error {
			if _, err := os.Stat(file); err != nil {
				return fmt.Errorf("%w: %s", db.ErrSchemaFileNotFound, file)
			}
			return openStore(ctx, e, func(store *db.SQLStore) error {
				e.log.Infof("applying %s to %s", file, e.cfg.Database.Target())
				if err := store.ExecSQLFile(ctx, file); err != nil {
					return err
				}
				return verify(ctx, store, e.out)
			})
		}),
	}
	cmd.Flags().StringVarP(&file, "file", "f", defaultSchemaFile, "SQL schema script")
	return cmd
}

func newAddColumnCmd(wrap wrapFunc) *cobra.Command {
	var file, table, column string
	cmd := &cobra.Command{
		Use:   "add-column",
		Short: "Execute a column-addition script and confirm the column exists",
		RunE: wrap(func(ctx context.Context, e env) error {
			if _, err := os.Stat(file); err != nil {
				return fmt.Errorf("%w: %s", db.ErrSchemaFileNotFound, file)
			}
			return openStore(ctx, e, func(store *db.SQLStore) error {
				if store.HasColumn(ctx, table, column) {
					fmt.Fprintf(e.out, "%s.%s already exists, nothing to do\n", table, column)
					return nil
				}
				if err := store.ExecSQLFile(ctx, file); err != nil {
					return err
				}
				if !store.HasColumn(ctx, table, column) {
					return fmt.Errorf("%s ran but %s.%s is still missing", file, table, column)
				}
				fmt.Fprintf(e.out, "%s.%s added\n", table, column)
				return nil
			})
		}),
	}
	cmd.Flags().StringVarP(&file, "file", "f", defaultAddColumnFile, "SQL script adding the column")
	cmd.Flags().StringVar(&table, "table", "workers", "Table the script alters")
	cmd.Flags().StringVar(&column, "column", "auth_user_id", "Column the script adds")
	return cmd
}

func newVerifyCmd(wrap wrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Print row counts and the table list",
		RunE: wrap(func(ctx context.Context, e env) error {
			return openStore(ctx, e, func(store *db.SQLStore) error {
				return verify(ctx, store, e.out)
			})
		}),
	}
}

func newMigrateCmd(wrap wrapFunc) *cobra.Command {
	var doBackup bool
	var maxBackups int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the portal tables from the models (local SQLite databases)",
		RunE: wrap(func(ctx context.Context, e env) error {
			if doBackup && e.cfg.Database.Driver == config.DriverSQLite {
				if err := backupSQLite(e.cfg.Database.Path, maxBackups, e.log); err != nil {
					return err
				}
			}
			return openStore(ctx, e, func(store *db.SQLStore) error {
				if err := store.AutoMigrate(ctx); err != nil {
					return err
				}
				return verify(ctx, store, e.out)
			})
		}),
	}
	cmd.Flags().BoolVar(&doBackup, "backup", true, "Back up an existing SQLite database file first")
	cmd.Flags().IntVar(&maxBackups, "max-backups", defaultMaxBackups, "Maximum number of backups to retain")
	return cmd
}

func verify(ctx context.Context, store *db.SQLStore, out io.Writer) error {
	counts, err := store.TableCounts(ctx, db.PortalTables)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Table\tRows")
	for _, table := range db.PortalTables {
		n := counts[table]
		if n < 0 {
			fmt.Fprintf(tw, "%s\tmissing\n", table)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\n", table, n)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if counts["workers"] >= 0 {
		admins, err := store.ListWorkersByRole(ctx, model.RoleAdmin)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nAdmin workers: %d\n", len(admins))
		for _, a := range admins {
			fmt.Fprintf(out, "  %s  %s\n", a.ID, a.DisplayName)
		}
	}

	tables, err := store.ListTables(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nTables: %v\n", tables)

	for _, table := range db.PortalTables {
		if counts[table] < 0 {
			return fmt.Errorf("table %s is missing", table)
		}
	}
	return nil
}
