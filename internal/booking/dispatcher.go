package booking

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/lucasdmc/atendeai-lify-admin-sub001/pkg/logging"
)

// Deliverer sends the engine's reply back to the patient. Delivery
// failures are logged, not retried through the queue: the session state
// already advanced and a redelivered fragment would re-derive the reply.
type Deliverer interface {
	Deliver(ctx context.Context, result *OutboundResult) error
}

// ErrDispatcherClosed indicates the dispatcher no longer accepts work.
var ErrDispatcherClosed = errors.New("booking: dispatcher closed")

const (
	defaultWorkers          = 2
	defaultReceiveWait      = 2  // seconds
	defaultReceiveMax       = 5  // messages
	maxReceiveWaitSeconds   = 20 // SQS limit
	maxReceiveBatchMessages = 10
)

type dispatcherConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*dispatcherConfig)

// WithWorkerCount overrides the number of queue polling goroutines.
func WithWorkerCount(workers int) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if workers > 0 {
			cfg.workers = workers
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait time for receive calls.
func WithReceiveWaitSeconds(seconds int) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxReceiveWaitSeconds {
			seconds = maxReceiveWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize overrides how many messages each poll returns.
func WithReceiveBatchSize(size int) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchMessages {
			size = maxReceiveBatchMessages
		}
		cfg.receiveBatchSize = size
	}
}

// Dispatcher routes inbound fragments through a queue before invoking
// the engine. The webhook handler stays fast and the queue absorbs
// gateway bursts; pointing at LocalStack SQS in development and AWS SQS
// in production is a config change, not a code change.
type Dispatcher struct {
	engine    *Engine
	queue     queueClient
	deliverer Deliverer
	logger    *logging.Logger

	cfg dispatcherConfig

	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewDispatcher wires the queue-backed dispatcher.
func NewDispatcher(engine *Engine, queue queueClient, deliverer Deliverer, logger *logging.Logger, opts ...DispatcherOption) *Dispatcher {
	if engine == nil {
		panic("booking: engine cannot be nil")
	}
	if queue == nil {
		panic("booking: queue cannot be nil")
	}
	if deliverer == nil {
		panic("booking: deliverer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := dispatcherConfig{
		workers:          defaultWorkers,
		receiveWaitSecs:  defaultReceiveWait,
		receiveBatchSize: defaultReceiveMax,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Dispatcher{
		engine:    engine,
		queue:     queue,
		deliverer: deliverer,
		logger:    logger,
		cfg:       cfg,
		closed:    make(chan struct{}),
	}
}

// Enqueue publishes an inbound fragment for asynchronous processing.
func (d *Dispatcher) Enqueue(ctx context.Context, msg InboundMessage) error {
	select {
	case <-d.closed:
		return ErrDispatcherClosed
	default:
	}

	payload, body, err := encodePayload(queuePayload{Inbound: msg})
	if err != nil {
		return err
	}
	if err := d.queue.Send(ctx, body); err != nil {
		return err
	}
	d.logger.Debug("inbound fragment enqueued",
		"job_id", payload.ID,
		"conversation_key", msg.ConversationKey,
		"message_id", msg.MessageID,
	)
	return nil
}

// Start launches the polling workers until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.workers; i++ {
		d.wg.Add(1)
		go d.run(ctx, i+1)
	}
}

// Shutdown stops accepting work and waits for in-flight jobs.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.once.Do(func() { close(d.closed) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(ctx context.Context, workerID int) {
	defer d.wg.Done()
	d.logger.Debug("booking worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			d.logger.Debug("booking worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := d.queue.Receive(ctx, d.cfg.receiveBatchSize, d.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			d.logger.Error("failed to receive booking jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			d.handleMessage(ctx, msg)
		}
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg queueMessage) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		d.logger.Error("failed to decode booking job", "error", err)
		d.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	in := payload.Inbound
	result, err := d.engine.HandleMessage(ctx, in.ConversationKey, in.Text)
	if err != nil {
		// HandleMessage degrades to a system-error reply internally, so
		// any error here is unexpected. Keep the message for redelivery.
		d.logger.Error("booking job failed", "error", err, "job_id", payload.ID)
		return
	}

	if err := d.deliverer.Deliver(ctx, result); err != nil {
		d.logger.Error("failed to deliver booking reply",
			"error", err,
			"job_id", payload.ID,
			"conversation_key", in.ConversationKey,
			"kind", string(result.Kind),
		)
	}

	d.deleteMessage(context.Background(), msg.ReceiptHandle)
}

func (d *Dispatcher) deleteMessage(ctx context.Context, receiptHandle string) {
	if err := d.queue.Delete(ctx, receiptHandle); err != nil {
		d.logger.Error("failed to delete booking job", "error", err)
	}
}
