package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"fluxrules/internal/config"
	"fluxrules/internal/conflicts"
	"fluxrules/internal/constants"
	"fluxrules/internal/logger"
	"fluxrules/internal/rete"
	apperrors "fluxrules/pkg/errors"
	"fluxrules/pkg/logging"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "rules-engine",
		Short: "Rule evaluation engine",
		Long:  "Rules engine compiles business rules into a shared match network and evaluates facts against it",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (or CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd(), validateCmd(), simulateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger.
func setup() (*config.Config, logger.Logger, error) {
	earlyLog := logging.NewEarlyLog()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
			return nil, nil, errors.New("config file is required")
		}
	}

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return nil, nil, err
	}
	if cfg.Service.Name == "" {
		cfg.Service.Name = constants.ServiceName
	}

	log, err := logger.New(cfg.Logging.Level)
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return nil, nil, err
	}
	return cfg, log, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the rules engine service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting rules engine", "rule_source", cfg.Engine.RuleSource)

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				app.Shutdown(context.Background())
				return err
			}

			runErr := app.Run(ctx)
			if runErr != nil {
				log.ErrorwCtx(ctx, "Service stopped with error", "error", runErr)
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer shutdownCancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.ErrorwCtx(shutdownCtx, "Shutdown error", "error", err)
			}
			return runErr
		},
	}
}

// openEngine prepares a dry-run engine over the configured rule source.
func openEngine(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	app := NewApp(cfg, log)
	if err := app.initStores(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if app.source == nil {
		app.Close(ctx)
		return nil, errors.New("engine.rule_source is not configured")
	}
	if err := app.initEngine(false); err != nil {
		app.Close(ctx)
		return nil, err
	}
	return app, nil
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and compile the configured rule set",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			app, err := openEngine(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			snap, _, err := app.service.ReloadFromSource(ctx, constants.TriggerStartup, false)
			if err != nil {
				if id := apperrors.RuleID(err); id != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "rule %s is invalid: %v\n", id, err)
				}
				return err
			}

			report, err := app.service.DetectConflicts(ctx)
			if err != nil {
				return err
			}

			writeSummary(cmd.OutOrStdout(), len(snap.Rules), snap.Network.Stats(), report)
			return nil
		},
	}
}

// writeSummary prints the compile stats followed by one line per conflict.
func writeSummary(w io.Writer, rules int, stats rete.NetworkStats, report *conflicts.Report) {
	fmt.Fprintf(w, "%d rules compiled: %d alpha nodes, %d beta nodes, %d shared alpha refs\n",
		rules, stats.AlphaNodes, stats.BetaNodes, stats.SharedAlphaRefs)
	fmt.Fprintf(w, "%d duplicate conditions, %d priority collisions\n",
		len(report.DuplicateConditions), len(report.PriorityCollisions))
	for _, line := range report.Descriptions() {
		fmt.Fprintf(w, "  - %s\n", line)
	}
}

func simulateCmd() *cobra.Command {
	var (
		factFile string
		ruleIDs  string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Evaluate a JSON fact against the configured rules without dispatching actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			data, err := os.ReadFile(factFile)
			if err != nil {
				return fmt.Errorf("failed to read fact file: %w", err)
			}
			var fact rete.Fact
			if err := json.Unmarshal(data, &fact); err != nil {
				return fmt.Errorf("invalid fact: %w", err)
			}

			ctx := cmd.Context()
			app, err := openEngine(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			if _, _, err := app.service.ReloadFromSource(ctx, constants.TriggerStartup, false); err != nil {
				return err
			}

			eval, err := app.service.Simulate(ctx, fact, splitIDs(ruleIDs))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(eval)
		},
	}

	cmd.Flags().StringVar(&factFile, "fact", "", "Path to a JSON fact")
	cmd.Flags().StringVar(&ruleIDs, "rules", "", "Comma separated rule ids to evaluate (default all)")
	cmd.MarkFlagRequired("fact")
	return cmd
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
