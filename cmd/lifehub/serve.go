package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/suPer8Hu/lifehub/internal/chat"
	"github.com/suPer8Hu/lifehub/internal/db"
	"github.com/suPer8Hu/lifehub/internal/httpapi"
	"github.com/suPer8Hu/lifehub/internal/httpapi/handlers"
	"github.com/suPer8Hu/lifehub/internal/store/rabbitmq"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "Run schema migrations before serving")
}

func runServe(ctx context.Context) error {
	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		return err
	}
	if autoMigrate {
		if err := chat.AutoMigrate(gdb); err != nil {
			return err
		}
	}

	rds := connectRedis(ctx, cfg, logger)
	if rds != nil {
		defer rds.Close()
	}

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		return err
	}
	defer pub.Close()

	svc := newChatService(cfg, gdb, rds, logger)
	defer svc.Wait()

	if !cfg.LogDev {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(handlers.NewHandler(svc, pub, logger), cfg.JWTSecret, logger)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr), zap.String("ai_provider", cfg.AIProvider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
