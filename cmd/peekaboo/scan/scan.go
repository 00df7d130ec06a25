package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ntsmith7/peekaboo/internal/config"
	"github.com/ntsmith7/peekaboo/internal/dao"
	"github.com/ntsmith7/peekaboo/internal/database"
	"github.com/ntsmith7/peekaboo/internal/models"
	"github.com/ntsmith7/peekaboo/internal/notification"
	"github.com/ntsmith7/peekaboo/internal/utils"
	"github.com/ntsmith7/peekaboo/pkg/artifacts"
	"github.com/ntsmith7/peekaboo/pkg/engine"
	"github.com/ntsmith7/peekaboo/pkg/logger"
	"github.com/ntsmith7/peekaboo/pkg/metrics"
	"github.com/ntsmith7/peekaboo/pkg/probe"
	"github.com/ntsmith7/peekaboo/pkg/scanners/katana"
	"github.com/ntsmith7/peekaboo/pkg/scanners/subfinder"
	"github.com/ntsmith7/peekaboo/pkg/xss"
)

// Config holds the scan command flags
type Config struct {
	Domain       string
	Bruteforce   bool
	ConfigPath   string
	ArtifactsDir string
	Timeout      time.Duration
}

// App wires one command-line scan end to end
type App struct {
	config        *Config
	appCfg        *config.AppConfig
	logger        *logger.Logger
	discordClient *notification.NotificationClient
}

// NewApp creates a new application instance. The log level is whatever the
// root command set on the standard logger.
func NewApp(cfg *Config) (*App, error) {
	appLogger := logger.NewLogger(logrus.GetLevel())

	appCfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	discordClient, err := notification.NewNotificationClient(appCfg.Discord.Token, appCfg.Discord.ChannelID)
	switch {
	case err == nil:
		appLogger.Info("Discord notifications enabled")
	case errors.Is(err, notification.ErrNotConfigured):
		appLogger.Info("Discord not configured - notifications disabled")
	default:
		appLogger.WithError(err).Warn("Failed to initialize Discord client")
	}

	return &App{
		config:        cfg,
		appCfg:        appCfg,
		logger:        appLogger,
		discordClient: discordClient,
	}, nil
}

// Close cleans up application resources
func (a *App) Close() error {
	if a.discordClient != nil {
		return a.discordClient.Close()
	}
	return nil
}

// Run executes one full scan of the configured domain and prints the final
// report as JSON.
func (a *App) Run(ctx context.Context) error {
	domain := utils.NormalizeDomain(a.config.Domain)
	if domain == "" {
		return fmt.Errorf("invalid domain %q", a.config.Domain)
	}

	db, err := database.InitDB(config.LoadDatabaseConfig())
	if err != nil {
		return err
	}
	store := dao.NewGormStore(db)

	scanID := uuid.New().String()
	artifactStore, err := artifacts.NewStore(a.artifactsDir(), scanID, domain)
	if err != nil {
		return err
	}
	a.logger.WithFields(logger.Fields{
		"scan_id": scanID,
		"dir":     artifactStore.Dir(),
	}).Info("Scan artifact directory ready")

	// Mirror the run's log stream into the artifact directory.
	runLog := a.logger
	scanLogger, err := logger.NewScanLogger(scanID, artifactStore.Dir(), a.logger.GetLevel())
	if err != nil {
		a.logger.WithError(err).Warn("Scan log mirroring unavailable")
	} else {
		runLog = scanLogger.Logger
		defer func() {
			if closeErr := scanLogger.Close(); closeErr != nil {
				a.logger.WithError(closeErr).Warn("Failed to close scan logger")
			}
		}()
	}

	// Dedupe raw scanner output as it lands.
	go artifacts.Watch(ctx, artifactStore.Dir())

	orch, err := a.buildOrchestrator(store, artifactStore, runLog)
	if err != nil {
		return err
	}

	type runResult struct {
		report *models.ScanReport
		err    error
	}
	resultChan := make(chan runResult, 1)
	go func() {
		report, runErr := orch.Run(ctx, domain)
		resultChan <- runResult{report: report, err: runErr}
	}()

	var res runResult
	select {
	case res = <-resultChan:
	case <-ctx.Done():
		runLog.Info("Shutdown requested, waiting for engine to finish...")
		timeout := time.NewTimer(30 * time.Second)
		defer timeout.Stop()

		select {
		case res = <-resultChan:
		case <-timeout.C:
			runLog.Warn("Engine shutdown timed out")
			return fmt.Errorf("engine shutdown timed out")
		}
	}

	if res.report == nil {
		if scanLogger != nil {
			scanLogger.LogScanFailure("engine did not produce a report", res.err)
		}
		return res.err
	}

	if scanLogger != nil {
		scanLogger.LogScanFinished(res.report.Status)
	}

	a.printReport(res.report)

	if path, saveErr := artifactStore.SaveReport(res.report); saveErr != nil {
		runLog.WithError(saveErr).Warn("Failed to save report artifact")
	} else {
		runLog.WithFields(logger.Fields{"path": path}).Info("Report saved")
	}

	a.notify(res.report, store)

	return res.err
}

func (a *App) artifactsDir() string {
	if a.config.ArtifactsDir != "" {
		return a.config.ArtifactsDir
	}
	return a.appCfg.Artifacts.Dir
}

func (a *App) buildOrchestrator(store engine.Store, sink subfinder.Sink, log *logger.Logger) (*engine.Orchestrator, error) {
	scannersCfg, err := config.LoadScanners(filepath.Join(a.config.ConfigPath, "scanners.yaml"))
	if err != nil {
		return nil, err
	}
	sfCfg := scannersCfg.GetOrDefault("subfinder")
	ktCfg := scannersCfg.GetOrDefault("katana")

	passive := subfinder.NewScanner(
		subfinder.WithBinary(sfCfg.Binary),
		subfinder.WithTimeout(sfCfg.Timeout()),
		subfinder.WithRateLimit(sfCfg.RateLimit),
		subfinder.WithSink(sink),
	)
	crawler := katana.NewCrawler(
		katana.WithBinary(ktCfg.Binary),
		katana.WithBudget(ktCfg.Timeout()),
	)
	prober := probe.NewClient(
		probe.WithResolvers(a.appCfg.Probe.Resolvers),
		probe.WithHTTPTimeout(a.appCfg.Scan.ProbeTimeout),
	)
	vulnProbe := xss.NewScanner()

	scanCfg := a.appCfg.Scan
	overall := scanCfg.OverallTimeout
	if a.config.Timeout > 0 {
		overall = a.config.Timeout
	}

	opts := []engine.OptFunc{
		engine.WithStore(store),
		engine.WithPassiveScanner(passive),
		engine.WithProber(prober),
		engine.WithCrawler(crawler),
		engine.WithVulnerabilityProbe(vulnProbe),
		engine.WithMetrics(metrics.NewRecorder()),
		engine.WithLogger(log),
		engine.WithPhaseConcurrency(scanCfg.DiscoveryConcurrency, scanCfg.CrawlConcurrency, scanCfg.VulnConcurrency),
		engine.WithPhaseTimeouts(scanCfg.DiscoveryTimeout, scanCfg.CrawlTimeout),
		engine.WithTaskTimeouts(scanCfg.ProbeTimeout, scanCfg.CrawlTargetTimeout, scanCfg.VulnResourceTimeout),
		engine.WithOverallTimeout(overall),
	}

	if a.config.Bruteforce || scanCfg.Bruteforce.Enabled {
		words, wlErr := a.loadWordlist()
		if wlErr != nil {
			return nil, wlErr
		}
		opts = append(opts, engine.WithBruteforce(words))
	}

	return engine.NewOrchestrator(opts...)
}

func (a *App) loadWordlist() ([]string, error) {
	path := a.appCfg.Scan.Bruteforce.Wordlist
	if path == "" {
		// Empty slice selects the built-in wordlist.
		return nil, nil
	}
	return config.ReadWordlist(path)
}

func (a *App) printReport(report *models.ScanReport) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		a.logger.WithError(err).Error("Failed to render report")
		return
	}
	fmt.Println(string(data))
}

func (a *App) notify(report *models.ScanReport, store *dao.GormStore) {
	if a.discordClient == nil {
		return
	}

	if err := a.discordClient.SendScanCompleteMessage(report); err != nil {
		a.logger.WithError(err).Warn("Failed to send scan completion notification")
	}
	if report.FindingsDiscovered == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	findings, err := store.FindingsByScope(ctx, report.Target)
	if err != nil {
		a.logger.WithError(err).Warn("Failed to load findings for alerting")
		return
	}
	a.discordClient.SendFindingAlerts(findings)
}

// NewScanCommand creates the scan command
func NewScanCommand() *cobra.Command {
	config := &Config{}

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one full scan of a domain",
		Long:  `Run subdomain discovery, liveness probing, crawling and XSS scanning against a domain, then print the report`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			// Create application instance
			app, err := NewApp(config)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer func() {
				if closeErr := app.Close(); closeErr != nil {
					app.logger.WithError(closeErr).Error("Error closing application")
				}
			}()

			// Setup graceful shutdown
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			// Handle signals
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigChan
				app.logger.WithFields(logger.Fields{
					"signal": sig.String(),
				}).Info("Received shutdown signal")
				cancel()
			}()

			// Run the application
			return app.Run(ctx)
		},
	}

	// Setup scan command flags
	scanCmd.Flags().StringVarP(&config.Domain, "domain", "d", "", "Target domain to scan (required)")
	scanCmd.Flags().BoolVar(&config.Bruteforce, "bruteforce", false, "Enable bruteforce subdomain discovery")
	scanCmd.Flags().StringVar(&config.ConfigPath, "config", utils.GetConfigPath(), "Configuration directory path")
	scanCmd.Flags().StringVar(&config.ArtifactsDir, "artifacts", "", "Artifact directory (defaults to artifacts.dir from config)")
	scanCmd.Flags().DurationVar(&config.Timeout, "timeout", 0, "Overall scan timeout (defaults to scan.overall_timeout from config)")

	// Mark required flags
	scanCmd.MarkFlagRequired("domain")

	return scanCmd
}
