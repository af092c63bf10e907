package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/analyzer"
	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/worker"
)

var analysisWorkerCmd = &cobra.Command{
	Use:   "analysis-worker",
	Short: "Consume the emails queue, run the analyzer pipeline, publish verdicts",
	RunE:  runAnalysisWorker,
}

func init() {
	rootCmd.AddCommand(analysisWorkerCmd)
}

func runAnalysisWorker(c *cobra.Command, args []string) error {
	deps, err := buildDeps()
	if err != nil {
		return err
	}
	wireAnalyzers(deps)

	stopHTTP := startHTTPServer(viper.GetString("http_addr"), deps.Reg)
	defer stopHTTP()

	w := &worker.AnalysisWorker{
		Queue:    deps.Queue,
		Store:    deps.Store,
		Pipeline: analyzer.NewPipeline(deps.Log),
		Metrics:  deps.Metrics,
		Log:      deps.Log,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	deps.Log.Infow("analysis worker starting", "queue", worker.EmailsQueue)
	err = w.Run(ctx)
	if ctx.Err() != nil {
		deps.Log.Infow("analysis worker shutting down")
		return nil
	}
	return err
}
