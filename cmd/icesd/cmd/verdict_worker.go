package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/batch"
	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/worker"
)

var verdictWorkerCmd = &cobra.Command{
	Use:   "verdict-worker",
	Short: "Consume the verdicts queue and dispatch remediation actions",
	RunE:  runVerdictWorker,
}

func init() {
	rootCmd.AddCommand(verdictWorkerCmd)
}

func runVerdictWorker(c *cobra.Command, args []string) error {
	deps, err := buildDeps()
	if err != nil {
		return err
	}

	stopHTTP := startHTTPServer(viper.GetString("http_addr"), deps.Reg)
	defer stopHTTP()

	w := &worker.VerdictWorker{
		Queue:      deps.Queue,
		Store:      deps.Store,
		Dispatcher: buildDispatcher(deps),
		Notifier:   buildNotifier(),
		Metrics:    deps.Metrics,
		Log:        deps.Log,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if bc, ok := w.Dispatcher.Batch.(*batch.Client); ok {
		bc.StartPeriodicFlush(ctx, 0)
	}

	deps.Log.Infow("verdict worker starting", "queue", worker.VerdictsQueue, "tenant_id", dispatchTenantID(deps))
	err = w.Run(ctx)
	if ctx.Err() != nil {
		deps.Log.Infow("verdict worker shutting down")
		return nil
	}
	return err
}
