package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	v1 "docqa/handler/http/v1"
	"docqa/src/core/rag"
	"docqa/src/log"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the document QA server",
	Long: `The serve command starts an HTTP server for uploading PDFs, indexing them
and asking questions about them. With queue.driver=gochannel background
indexing jobs run inside the server; with amqp they are left to the worker.`,
	RunE: RunServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func RunServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		log.Error(err, "Failed to initialize dependencies")
		return err
	}
	defer a.Close()

	pipeline, err := a.indexingPipeline()
	if err != nil {
		return err
	}

	jobService, router, err := a.newJobService(pipeline)
	if err != nil {
		log.Error(err, "Failed to initialize job service")
		return err
	}

	if viper.GetString("queue.driver") == "gochannel" {
		go func() {
			if err := router.Run(ctx); err != nil {
				log.Error(err, "Job router stopped")
				cancel()
			}
		}()
		select {
		case <-router.Running():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	handler := v1.NewHandler(
		a.documentService(),
		pipeline,
		jobService,
		a.queryPipeline(),
		rag.NewConversationService(a.conversations),
		a.systemService(),
	)

	// Setup gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + viper.GetString("server.port"),
		Handler: r,
	}

	go func() {
		log.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "Failed to start server")
			cancel()
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}
	log.Info("Shutting down server...")

	timeout, err := time.ParseDuration(viper.GetString("server.shutdown_timeout"))
	if err != nil {
		log.Error(err, "Invalid shutdown timeout, using default 5s")
		timeout = 5 * time.Second
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}

	cancel()
	if err := router.Close(); err != nil {
		log.Error(err, "Error closing job router")
	}

	log.Info("Server exited")
	return nil
}

// requestLogger logs one line per request through the global logger.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}
