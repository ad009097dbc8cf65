// Package commands implements the par3 CLI: create, verify, repair, list,
// trial, and config subcommands over the packet/mapper/rs/repair core.
package commands

import (
	"fmt"
	"net/http"
	"sync"

	configcmd "github.com/marmos91/par3/cmd/par3/commands/config"
	"github.com/marmos91/par3/internal/logger"
	"github.com/marmos91/par3/pkg/config"
	"github.com/marmos91/par3/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "par3",
	Short: "par3 - content-defined PAR3 parity archive toolkit",
	Long: `par3 builds, verifies, and repairs PAR3 parity archives: it chunks
and deduplicates input files, computes Reed-Solomon recovery blocks over a
Cauchy matrix, and can reconstruct damaged or missing files from whatever
recovery data survives.

Use "par3 [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/par3/config.yaml)")
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(trialCmd)
	rootCmd.AddCommand(configcmd.Cmd)
}

// loadConfig reads the config file named by the persistent --config flag,
// falling back to defaults when unset or missing.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	setupMetrics(cfg)
	return cfg, nil
}

var metricsOnce sync.Once

// setupMetrics does nothing unless cfg.Metrics.Enabled; when enabled it
// installs a process-wide Prometheus registry and serves it over HTTP on
// cfg.Metrics.Port for the
// lifetime of the command: par3 runs are one-shot, but a long encode or
// repair over a very large input set still benefits from being scrapable
// while it runs. Runs at most once per
// process regardless of how many times loadConfig is called.
func setupMetrics(cfg *config.Config) {
	metricsOnce.Do(func() {
		if !cfg.Metrics.Enabled {
			return
		}
		reg := prometheus.NewRegistry()
		metrics.InitRegistry(reg)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		logger.Info("metrics enabled", "addr", addr)
	})
}
