package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quiz-session-service/internal/config"
	"quiz-session-service/internal/feedback"
	"quiz-session-service/internal/logger"
	transport "quiz-session-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the quiz HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port, withWorker)
		},
	}
	cmd.Flags().BoolVar(&withWorker, "with-worker", true, "also run the feedback retry worker in-process")
	return cmd
}

func runServer(ctx context.Context, configPath, portFlag string, withWorker bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	comps, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer comps.Close()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewRouter(comps.service, comps.authn),
		ReadTimeout:  config.TTLDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.TTLDuration(cfg.Server.WriteTimeout, 15*time.Second),
	}
	log := logger.Log()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", server.Addr).Info("starting quiz service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.TTLDuration(cfg.Server.ShutdownTimeout, 5*time.Second))
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if withWorker && comps.dispatcher != nil {
		worker := feedback.NewWorker(comps.dispatcher, config.TTLDuration(cfg.Feedback.PollInterval, 15*time.Second), 10)
		g.Go(func() error {
			return worker.Run(gctx)
		})
	}
	return g.Wait()
}
