package main

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/lifehub/internal/db"
	"github.com/suPer8Hu/lifehub/internal/store/rabbitmq"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume async chat jobs from RabbitMQ",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		gdb, err := db.Connect(cfg.DBDSN)
		if err != nil {
			return err
		}

		rds := connectRedis(ctx, cfg, logger)
		if rds != nil {
			defer rds.Close()
		}

		svc := newChatService(cfg, gdb, rds, logger.Named("worker"))
		defer svc.Wait()

		consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerConcurrency, logger.Named("worker"))
		if err != nil {
			return err
		}
		defer consumer.Close()

		err = consumer.Run(ctx, svc.ProcessJob)
		if errors.Is(err, rabbitmq.ErrDeliveriesClosed) && ctx.Err() != nil {
			return nil
		}
		return err
	},
}
