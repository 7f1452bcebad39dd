package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hdlforge/crucible"
	httpadapter "github.com/hdlforge/crucible/internal/adapters/http"
	"github.com/hdlforge/crucible/internal/presentation/report"
	"github.com/hdlforge/crucible/internal/presentation/tui"
	"github.com/hdlforge/crucible/internal/worker"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a verification campaign",
	Long: `Loads the design context and DAG, then drives every module to a terminal
state. Exits non-zero when any module fails or is blocked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		demo, _ := cmd.Flags().GetBool("demo")
		jsonMode, _ := cmd.Flags().GetBool("json")
		listen, _ := cmd.Flags().GetString("listen")
		if listen != "" {
			cfg.Listen = listen
		}

		if !jsonMode {
			tui.PrintBanner(os.Stderr)
		}

		campaign, err := crucible.New(cfg, crucible.WithLogger(logger))
		if err != nil {
			return err
		}
		defer campaign.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if demo {
			// Stub workers answer every task in-process, so the campaign runs
			// without agents or EDA tools attached.
			stub := worker.NewStub(campaign.Broker(), logger)
			if err := stub.Start(ctx); err != nil {
				return err
			}
			defer stub.Wait()
		}

		if cfg.Listen != "" {
			handler := httpadapter.NewHandler(campaign.Orchestrator(), campaign.Metrics().Registry(), logger)
			srv := &http.Server{Addr: cfg.Listen, Handler: handler}
			go func() {
				logger.Info("status server listening", "addr", cfg.Listen)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("status server failed", "err", err)
				}
			}()
			defer srv.Shutdown(context.Background())
		}

		result, runErr := campaign.Run(ctx)
		if runErr != nil && result == nil {
			return runErr
		}

		if jsonMode {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
		} else {
			fmt.Print(report.RenderANSI(result))
		}

		if runErr != nil {
			return runErr
		}
		if !result.Succeeded() {
			return fmt.Errorf("campaign finished with failures: %d failed, %d blocked", result.Failed, result.Blocked)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("demo", false, "Run with in-process stub workers (no external agents)")
	runCmd.Flags().Bool("json", false, "Print the run report as JSON instead of rendered Markdown")
	runCmd.Flags().String("listen", "", "Serve status and metrics on this address (e.g. :8080)")
}
