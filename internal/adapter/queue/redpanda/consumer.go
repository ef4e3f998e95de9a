package redpanda

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/persona-feedback/internal/domain"
	"github.com/fairyhunter13/persona-feedback/internal/observability"
)

// Handler processes one task payload. Handle must be idempotent: the same
// payload can arrive more than once. Abandon performs the terminal failure
// bookkeeping for a task the consumer is about to dead-letter; it also must
// tolerate repeated invocation.
type Handler interface {
	Handle(ctx context.Context, payload []byte) error
	Abandon(ctx context.Context, payload []byte) error
}

// ConsumerConfig tunes one Consumer.
type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	Topic       string
	Concurrency int
	Prefetch    int
	// MaxAttempts bounds deliveries per task; the attempt that would exceed
	// it goes to the DLQ instead.
	MaxAttempts int
	// MaxWallTime caps the processing time of a single task.
	MaxWallTime time.Duration
}

// Consumer polls one work topic and dispatches records to a fixed worker
// pool. Offsets are committed through marks: a record is marked only after
// its outcome (ack, requeue or dead-letter) has been produced durably.
type Consumer struct {
	cfg     ConsumerConfig
	client  *kgo.Client
	handler Handler
	records chan *kgo.Record
	wg      sync.WaitGroup
}

// NewConsumer constructs a Consumer for topic with the given handler.
func NewConsumer(cfg ConsumerConfig, handler Handler) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("op=queue.consumer: no seed brokers provided")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("op=queue.consumer: missing group id")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = cfg.Concurrency
	}
	kotelService := kotel.NewKotel(kotel.WithTracer(kotel.NewTracer(
		kotel.TracerProvider(otel.GetTracerProvider()),
	)))
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(time.Second),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.FetchMaxBytes(10*1024*1024),
	)
	if err != nil {
		return nil, fmt.Errorf("op=queue.consumer: %w", err)
	}
	if err := EnsureTopics(context.Background(), client, 8); err != nil {
		slog.Warn("topic creation failed, topics may already exist", slog.Any("error", err))
	}
	return &Consumer{
		cfg:     cfg,
		client:  client,
		handler: handler,
		records: make(chan *kgo.Record, cfg.Prefetch),
	}, nil
}

// Start runs the poll loop and worker pool until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	slog.Info("consumer starting",
		slog.String("topic", c.cfg.Topic),
		slog.String("group_id", c.cfg.GroupID),
		slog.Int("concurrency", c.cfg.Concurrency))

	for i := 0; i < c.cfg.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}

	for {
		select {
		case <-ctx.Done():
			close(c.records)
			c.wg.Wait()
			slog.Info("consumer stopped", slog.String("topic", c.cfg.Topic))
			return ctx.Err()
		default:
		}
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			close(c.records)
			c.wg.Wait()
			return nil
		}
		for _, fetchErr := range fetches.Errors() {
			if fetchErr.Err == context.Canceled {
				continue
			}
			slog.Error("fetch error",
				slog.String("topic", fetchErr.Topic),
				slog.Int("partition", int(fetchErr.Partition)),
				slog.Any("error", fetchErr.Err))
		}
		fetches.EachRecord(func(record *kgo.Record) {
			select {
			case c.records <- record:
			case <-ctx.Done():
			}
		})
	}
}

func (c *Consumer) worker(ctx context.Context, id int) {
	defer c.wg.Done()
	for record := range c.records {
		c.process(ctx, id, record)
	}
}

func (c *Consumer) process(ctx context.Context, workerID int, record *kgo.Record) {
	attempt := recordAttempt(record)
	if rid := recordRequestID(record); rid != "" {
		ctx = observability.ContextWithRequestID(ctx, rid)
		ctx = observability.ContextWithLogger(ctx,
			observability.LoggerFromContext(ctx).With(slog.String("request_id", rid)))
	}
	lg := observability.LoggerFromContext(ctx).With(
		slog.String("topic", record.Topic),
		slog.Int64("offset", record.Offset),
		slog.Int("attempt", attempt),
		slog.Int("worker_id", workerID))

	observability.StartTask(c.cfg.Topic)
	tctx := ctx
	cancel := context.CancelFunc(func() {})
	if c.cfg.MaxWallTime > 0 {
		tctx, cancel = context.WithTimeout(ctx, c.cfg.MaxWallTime)
	}
	err := c.handler.Handle(tctx, record.Value)
	cancel()

	switch {
	case err == nil:
		observability.CompleteTask(c.cfg.Topic)
		c.client.MarkCommitRecords(record)

	case domain.IsRetriable(err) && attempt+1 < c.cfg.MaxAttempts:
		lg.Warn("task failed, requeueing", slog.Any("error", err))
		if rErr := c.requeue(ctx, record, attempt+1); rErr != nil {
			// Leave the record unmarked so the group re-delivers it.
			lg.Error("requeue failed", slog.Any("error", rErr))
			observability.FailTask(c.cfg.Topic)
			return
		}
		observability.RequeueTask(c.cfg.Topic)
		c.client.MarkCommitRecords(record)

	default:
		lg.Error("task failed permanently, dead-lettering", slog.Any("error", err))
		if aErr := c.handler.Abandon(ctx, record.Value); aErr != nil {
			lg.Error("abandon bookkeeping failed", slog.Any("error", aErr))
		}
		if dErr := c.deadLetter(ctx, record, attempt, err); dErr != nil {
			lg.Error("dead-letter produce failed", slog.Any("error", dErr))
			observability.FailTask(c.cfg.Topic)
			return
		}
		observability.DeadLetterTask(c.cfg.Topic)
		observability.FailTask(c.cfg.Topic)
		c.client.MarkCommitRecords(record)
	}
}

func (c *Consumer) requeue(ctx context.Context, record *kgo.Record, attempt int) error {
	next := &kgo.Record{
		Topic: record.Topic,
		Key:   record.Key,
		Value: record.Value,
		Headers: []kgo.RecordHeader{
			{Key: headerAttempt, Value: []byte(strconv.Itoa(attempt))},
			{Key: headerRequestID, Value: []byte(recordRequestID(record))},
		},
	}
	return c.client.ProduceSync(ctx, next).FirstErr()
}

func (c *Consumer) deadLetter(ctx context.Context, record *kgo.Record, attempt int, cause error) error {
	dead := &kgo.Record{
		Topic: DLQTopic(record.Topic),
		Key:   record.Key,
		Value: record.Value,
		Headers: []kgo.RecordHeader{
			{Key: headerAttempt, Value: []byte(strconv.Itoa(attempt))},
			{Key: headerRequestID, Value: []byte(recordRequestID(record))},
			{Key: "error", Value: []byte(cause.Error())},
		},
	}
	return c.client.ProduceSync(ctx, dead).FirstErr()
}

// Close closes the underlying client.
func (c *Consumer) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}
