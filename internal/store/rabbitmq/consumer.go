package rabbitmq

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HandlerFunc processes one job. A returned error dead-letters the message.
type HandlerFunc func(ctx context.Context, jobID string) error

// ErrDeliveriesClosed is returned by Run when the broker closes the
// delivery channel.
var ErrDeliveriesClosed = errors.New("rabbitmq: delivery channel closed")

type Consumer struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	queue       string
	concurrency int
	log         *zap.Logger
}

func NewConsumer(url, queue string, concurrency int, log *zap.Logger) (*Consumer, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	conn, ch, err := dial(url, queue)
	if err != nil {
		return nil, err
	}
	// strict concurrency control
	if err := ch.Qos(concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch, queue: queue, concurrency: concurrency, log: log}, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Run consumes until ctx is cancelled, letting in-flight jobs finish.
func (c *Consumer) Run(ctx context.Context, handle HandlerFunc) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	c.log.Info("worker started", zap.String("queue", c.queue), zap.Int("concurrency", c.concurrency))
	return serve(ctx, msgs, c.concurrency, handle, c.log)
}

// serve fans deliveries out to a fixed pool of workers.
func serve(ctx context.Context, msgs <-chan amqp.Delivery, concurrency int, handle HandlerFunc, log *zap.Logger) error {
	jobs := make(chan amqp.Delivery, concurrency*2)

	var g errgroup.Group
	for i := 0; i < concurrency; i++ {
		workerID := i
		g.Go(func() error {
			for d := range jobs {
				process(ctx, workerID, d, handle, log)
			}
			return nil
		})
	}

	// dispatcher
	var runErr error
dispatch:
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			break dispatch
		case d, ok := <-msgs:
			if !ok {
				runErr = ErrDeliveriesClosed
				break dispatch
			}
			jobs <- d
		}
	}
	close(jobs)
	_ = g.Wait()
	return runErr
}

func process(ctx context.Context, workerID int, d amqp.Delivery, handle HandlerFunc, log *zap.Logger) {
	jobID, err := decodeJobMessage(d.Body)
	if err != nil {
		log.Warn("bad job message", zap.Int("worker", workerID), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	// in-flight jobs finish even when shutdown starts
	start := time.Now()
	if err := handle(context.WithoutCancel(ctx), jobID); err != nil {
		log.Warn("job failed",
			zap.Int("worker", workerID),
			zap.String("job_id", jobID),
			zap.Duration("cost", time.Since(start)),
			zap.Error(err),
		)
		_ = d.Nack(false, false)
		return
	}
	if err := d.Ack(false); err != nil {
		log.Warn("ack failed", zap.Int("worker", workerID), zap.String("job_id", jobID), zap.Error(err))
	}
}
