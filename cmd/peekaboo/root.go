package main

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ntsmith7/peekaboo/cmd/peekaboo/crawld"
	"github.com/ntsmith7/peekaboo/cmd/peekaboo/scan"
	"github.com/ntsmith7/peekaboo/cmd/peekaboo/server"
)

const version = "0.2.0"

func Execute() error {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:     "peekaboo",
		Short:   "Subdomain discovery, crawling and XSS scanning pipeline",
		Long:    `Peekaboo enumerates a domain's subdomains, probes which of them are alive, crawls the live ones and checks parameterized endpoints for reflected XSS`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				log.SetLevel(log.DebugLevel)
			} else {
				log.SetLevel(log.InfoLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	// Add commands
	rootCmd.AddCommand(scan.NewScanCommand())
	rootCmd.AddCommand(server.NewServerCommand())
	rootCmd.AddCommand(crawld.NewCrawlDaemonCommand())
	return rootCmd.ExecuteContext(context.Background())
}
