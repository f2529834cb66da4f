package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"quiz-session-service/internal/config"
	"quiz-session-service/internal/feedback"
)

// NewWorkerCmd runs only the feedback outbox worker.
func NewWorkerCmd(configPath *string) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Retry pending feedback jobs until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), *configPath, batch)
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 10, "jobs to run per poll")
	return cmd
}

func runWorker(ctx context.Context, configPath string, batch int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("worker needs postgres; in-memory jobs are only visible to the server process")
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	comps, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer comps.Close()
	if comps.dispatcher == nil {
		return fmt.Errorf("feedback provider not configured")
	}
	return feedback.NewWorker(comps.dispatcher, config.TTLDuration(cfg.Feedback.PollInterval, 15*time.Second), batch).Run(ctx)
}
