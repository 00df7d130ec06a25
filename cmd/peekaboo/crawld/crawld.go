package crawld

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ntsmith7/peekaboo/internal/config"
	"github.com/ntsmith7/peekaboo/internal/dao"
	"github.com/ntsmith7/peekaboo/internal/database"
	"github.com/ntsmith7/peekaboo/internal/services"
	"github.com/ntsmith7/peekaboo/internal/utils"
	"github.com/ntsmith7/peekaboo/pkg/analyzer"
	"github.com/ntsmith7/peekaboo/pkg/logger"
	"github.com/ntsmith7/peekaboo/pkg/scanners/katana"
)

// Opts holds the crawl daemon flags
type Opts struct {
	Scope      string
	Interval   time.Duration
	Batch      int
	ConfigPath string
}

// NewCrawlDaemonCommand creates the crawld command
func NewCrawlDaemonCommand() *cobra.Command {
	opts := &Opts{}

	crawldCmd := &cobra.Command{
		Use:   "crawld",
		Short: "Run the standing crawl daemon",
		Long:  `Poll for live targets in a scope that have never been crawled and crawl them in batches until stopped`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			log := logger.NewLogger(logrus.GetLevel())

			scope := utils.NormalizeDomain(opts.Scope)
			if scope == "" {
				return fmt.Errorf("invalid scope %q", opts.Scope)
			}

			appCfg, err := config.Load()
			if err != nil {
				return err
			}

			db, err := database.InitDB(config.LoadDatabaseConfig())
			if err != nil {
				return err
			}
			store := dao.NewGormStore(db)

			scannersCfg, err := config.LoadScanners(filepath.Join(opts.ConfigPath, "scanners.yaml"))
			if err != nil {
				return err
			}
			ktCfg := scannersCfg.GetOrDefault("katana")

			crawler := katana.NewCrawler(
				katana.WithBinary(ktCfg.Binary),
				katana.WithBudget(ktCfg.Timeout()),
			)
			if err := crawler.CheckInstalled(); err != nil {
				return err
			}

			crawldCfg := appCfg.Crawld
			if cmd.Flags().Changed("interval") {
				crawldCfg.PollInterval = opts.Interval
			}
			if cmd.Flags().Changed("batch") {
				crawldCfg.BatchSize = opts.Batch
			}

			svc, err := services.NewCrawlService(store, crawler, analyzer.New(), crawldCfg, log)
			if err != nil {
				return err
			}

			// Setup graceful shutdown
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigChan
				log.WithFields(logger.Fields{
					"signal": sig.String(),
				}).Info("Received shutdown signal")
				cancel()
			}()

			log.WithFields(logger.Fields{"scope": scope}).Info("Crawl daemon starting")
			return svc.Run(ctx, scope)
		},
	}

	crawldCmd.Flags().StringVarP(&opts.Scope, "scope", "s", "", "Root domain whose targets to crawl (required)")
	crawldCmd.Flags().DurationVar(&opts.Interval, "interval", 5*time.Minute, "Poll interval between batches (overrides crawld.poll_interval)")
	crawldCmd.Flags().IntVar(&opts.Batch, "batch", 50, "Maximum targets per batch (overrides crawld.batch_size)")
	crawldCmd.Flags().StringVar(&opts.ConfigPath, "config", utils.GetConfigPath(), "Configuration directory path")

	crawldCmd.MarkFlagRequired("scope")

	return crawldCmd
}
