package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/itsm-sla/internal/cache"
	"github.com/spec-kit/itsm-sla/internal/config"
	"github.com/spec-kit/itsm-sla/internal/legacy"
	"github.com/spec-kit/itsm-sla/internal/observability"
	"github.com/spec-kit/itsm-sla/internal/persistence"
	"github.com/spec-kit/itsm-sla/internal/repository"
	"github.com/spec-kit/itsm-sla/internal/service"
)

var (
	dsnFlag    string
	dryRunFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "slaimport",
	Short: "Import SLA rules from the legacy MySQL database",
	Long: `slaimport reads every row of the legacy sla_configurations table and upserts it
into the SLA configuration store. Rows that fail validation are reported and skipped.
Running timers keep the values they were created with.`,
	SilenceUsage: true,
	RunE:         runImport,
}

func init() {
	rootCmd.Flags().StringVar(&dsnFlag, "dsn", "", "Legacy MySQL DSN (defaults to LEGACY_MYSQL_DSN)")
	rootCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Report what would change without writing")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runImport(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	dsn := dsnFlag
	if dsn == "" {
		dsn = cfg.Legacy.MySQLDSN
	}
	if dsn == "" {
		return errors.New("legacy database DSN required: pass --dsn or set LEGACY_MYSQL_DSN")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("POSTGRES_DSN required: rules are imported into the service database")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	legacyDB, err := persistence.OpenMySQL(ctx, dsn, logger)
	if err != nil {
		return err
	}
	defer legacyDB.Close()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	configs := repository.NewSlaConfigRepository(pg.PoolHandle())
	// drops the entries API instances cached in redis
	configCache := cache.NewConfigCache(configs, redis.Handle(), cfg.SLA.ConfigCacheTTL(), logger)
	importer := legacy.NewImporter(
		legacy.NewReader(legacyDB),
		service.NewSlaConfigService(configs, configCache, logger),
		configs,
		logger,
	)

	report, err := importer.Run(ctx, dryRunFlag)
	if err != nil {
		logger.Error("legacy import failed", zap.Error(err))
		return err
	}
	return printReport(cmd, report)
}

func printReport(cmd *cobra.Command, report legacy.Report) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	if report.DryRun {
		fmt.Fprintln(w, "dry run: nothing was written")
	}
	fmt.Fprintln(w, "ACTION\tPRODUCT\tMODULE\tISSUE\tREASON")
	for _, o := range report.Outcomes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", o.Action, o.Key.ProductID, o.Key.ModuleID, o.Key.IssueName, o.Reason)
	}
	fmt.Fprintf(w, "\ncreated=%d updated=%d skipped=%d\n",
		report.Count(legacy.ActionCreate), report.Count(legacy.ActionUpdate), report.Count(legacy.ActionSkip))
	return w.Flush()
}
