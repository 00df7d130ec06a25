package server

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ntsmith7/peekaboo/api/routes"
	"github.com/ntsmith7/peekaboo/internal/config"
	"github.com/ntsmith7/peekaboo/internal/dao"
	"github.com/ntsmith7/peekaboo/internal/database"
	"github.com/ntsmith7/peekaboo/internal/notification"
	"github.com/ntsmith7/peekaboo/internal/services"
	"github.com/ntsmith7/peekaboo/internal/utils"
	"github.com/ntsmith7/peekaboo/pkg/logger"
	"github.com/ntsmith7/peekaboo/pkg/metrics"
	"github.com/ntsmith7/peekaboo/pkg/probe"
	"github.com/ntsmith7/peekaboo/pkg/scanners/katana"
	"github.com/ntsmith7/peekaboo/pkg/scanners/subfinder"
	"github.com/ntsmith7/peekaboo/pkg/xss"
)

type ServerOpts struct {
	Port       int
	ConfigPath string
}

// NewServerCommand creates the server command. All services are constructed
// here and handed to the router; nothing reaches for globals.
func NewServerCommand() *cobra.Command {
	opts := &ServerOpts{}

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the peekaboo API server",
		Long:  `Start the HTTP API for launching scans, tracking their progress and reading reports`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			appCfg, err := config.Load()
			if err != nil {
				return err
			}

			db, err := database.InitDB(config.LoadDatabaseConfig())
			if err != nil {
				return err
			}

			store := dao.NewGormStore(db)
			scanDAO := dao.NewScanDAO(db)
			recorder := metrics.NewRecorder()
			log := logger.NewLogger(logrus.GetLevel())

			var notifier services.Notifier
			discord, err := notification.NewNotificationClient(appCfg.Discord.Token, appCfg.Discord.ChannelID)
			switch {
			case err == nil:
				notifier = discord
				defer discord.Close()
				log.Info("Discord notifications enabled")
			case errors.Is(err, notification.ErrNotConfigured):
				log.Info("Discord not configured - notifications disabled")
			default:
				log.WithError(err).Warn("Failed to initialize Discord client")
			}

			scannersCfg, err := config.LoadScanners(filepath.Join(opts.ConfigPath, "scanners.yaml"))
			if err != nil {
				return err
			}
			sfCfg := scannersCfg.GetOrDefault("subfinder")
			ktCfg := scannersCfg.GetOrDefault("katana")

			scanService, err := services.NewScanService(services.ScanServiceDeps{
				ScanDAO: scanDAO,
				Store:   store,
				Passive: subfinder.NewScanner(
					subfinder.WithBinary(sfCfg.Binary),
					subfinder.WithTimeout(sfCfg.Timeout()),
					subfinder.WithRateLimit(sfCfg.RateLimit),
				),
				Prober: probe.NewClient(
					probe.WithResolvers(appCfg.Probe.Resolvers),
					probe.WithHTTPTimeout(appCfg.Scan.ProbeTimeout),
				),
				Crawler: katana.NewCrawler(
					katana.WithBinary(ktCfg.Binary),
					katana.WithBudget(ktCfg.Timeout()),
				),
				VulnProbe: xss.NewScanner(),
				Metrics:   recorder,
				Notifier:  notifier,
				Config:    appCfg,
				Logger:    log,
			})
			if err != nil {
				return err
			}

			router := routes.InitRouter(routes.Deps{
				ScanService:   scanService,
				ConfigService: services.NewConfigService(),
				Store:         store,
				Metrics:       recorder,
			})

			listen := appCfg.Server.Listen
			if cmd.Flags().Changed("port") {
				listen = fmt.Sprintf(":%d", opts.Port)
			}
			log.WithFields(logger.Fields{"listen": listen}).Info("Starting API server")
			return router.Run(listen)
		},
	}

	serverCmd.Flags().IntVarP(&opts.Port, "port", "p", 8080, "Port to listen on (overrides server.listen from config)")
	serverCmd.Flags().StringVar(&opts.ConfigPath, "config", utils.GetConfigPath(), "Configuration directory path")

	return serverCmd
}
