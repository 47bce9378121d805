package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docqa/src/log"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background indexing worker",
	Long: `The worker command consumes index_document jobs from the AMQP jobs queue
and runs the indexing pipeline for each of them.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	if viper.GetString("queue.driver") != "amqp" {
		log.Info("Worker only receives jobs published over amqp", "queue_driver", viper.GetString("queue.driver"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	pipeline, err := a.indexingPipeline()
	if err != nil {
		return err
	}

	_, router, err := a.newJobService(pipeline)
	if err != nil {
		return err
	}

	go func() {
		if err := router.Run(ctx); err != nil {
			log.Error(err, "Job router stopped")
			cancel()
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-c:
	case <-ctx.Done():
	}

	log.Info("Shutting down...")
	cancel()
	if err := router.Close(); err != nil {
		log.Error(err, "Error closing job router")
	}
	log.Info("Router stopped")

	return nil
}
