package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"portaladmin/config"
	"portaladmin/db"
	"portaladmin/importer"
	"portaladmin/logging"
)

const (
	defaultSourceFile = "workers.csv"
	defaultRecent     = 5
)

type options struct {
	file    string
	fileSet bool
	sheet   string
	mode    string
	dryRun  bool
	strict  bool
	recent  int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "import",
		Short: "Reconcile the workers table with the roster",
		Long: `Reads the worker roster from a CSV export (or a Google Sheet with --sheet),
keeps the rows whose Availability is the active sentinel and writes them to the
workers table. The seed admin worker is never touched.

  --mode upsert   insert or update each worker; failed rows are reported and skipped
  --mode replace  delete every other worker and insert the roster, all or nothing`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
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
			log.Debugf("configuration: %s", cfg)

			opts.fileSet = cmd.Flags().Changed("file")

			return run(cmd.Context(), cfg, opts, log, cmd.OutOrStdout())
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&opts.file, "file", "f", defaultSourceFile, "CSV roster to import")
	flags.StringVar(&opts.sheet, "sheet", "", "Google spreadsheet id to read instead of --file (overrides SHEETS_SPREADSHEET_ID)")
	flags.StringVarP(&opts.mode, "mode", "m", string(importer.ModeUpsert), "Reconciliation mode: upsert or replace")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Show what would change without writing")
	flags.BoolVar(&opts.strict, "strict", false, "Exit non-zero when any row fails in upsert mode")
	flags.IntVar(&opts.recent, "recent", defaultRecent, "Number of recent workers to list after the import")
	flags.String("log-level", "", "Log level (overrides LOG_LEVEL)")
	flags.String("sheet-range", "", "Sheet range including the header row (overrides SHEETS_RANGE)")
	_ = v.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("sheets.range", flags.Lookup("sheet-range"))

	return rootCmd
}

func run(ctx context.Context, cfg *config.Config, opts options, log *zap.SugaredLogger, out io.Writer) error {
	mode, err := importer.ParseMode(opts.mode)
	if err != nil {
		return err
	}
	policy, err := importer.PolicyFromConfig(cfg.Import)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}

	// The source is read before connecting so a bad file never reaches the database.
	records, warnings, err := loadRecords(ctx, cfg, opts, log)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		log.Warnf("source %s", w)
	}
	log.Infof("loaded %d roster rows", len(records))

	store, err := db.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warnf("closing database: %v", err)
		}
	}()

	imp := importer.New(store, policy, log)

	if opts.dryRun {
		plan, err := imp.Plan(ctx, imp.Canonicalize(records), mode)
		if err != nil {
			return err
		}
		plan.Print(out)
		return nil
	}

	log.Infof("importing into %s (%s mode)", cfg.Database.Target(), mode)
	report, runErr := imp.Run(ctx, records, mode)
	report.Warnings = warnings
	report.Print(out)
	if runErr != nil {
		return runErr
	}

	verification, err := importer.Verify(ctx, store, opts.recent)
	if err != nil {
		return err
	}
	verification.Print(out)

	if opts.strict && report.Failed() > 0 {
		return fmt.Errorf("%d of %d rows failed", report.Failed(), report.ActiveRows)
	}
	return nil
}

func loadRecords(ctx context.Context, cfg *config.Config, opts options, log *zap.SugaredLogger) ([]importer.SourceRecord, []importer.ParseWarning, error) {
	spreadsheetID := opts.sheet
	if spreadsheetID == "" && !opts.fileSet {
		spreadsheetID = cfg.Sheets.SpreadsheetID
	}
	if spreadsheetID == "" {
		log.Infof("reading roster from %s", opts.file)
		return importer.LoadSource(opts.file)
	}

	var clientOpts []option.ClientOption
	if cfg.Sheets.CredentialsFile != "" {
		creds, err := importer.CredentialsFromFile(ctx, cfg.Sheets.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		clientOpts = append(clientOpts, creds)
	}
	src, err := importer.NewSheetSource(ctx, spreadsheetID, cfg.Sheets.Range, clientOpts...)
	if err != nil {
		return nil, nil, err
	}
	log.Infof("reading roster from sheet %s (%s)", spreadsheetID, cfg.Sheets.Range)
	return src.Load(ctx)
}
