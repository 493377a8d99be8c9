// Package outbox drains the persisted sync queue: outbound actions created
// while disconnected, replayed in creation order once connectivity returns,
// without duplicate delivery.
package outbox

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/inboxd/inboxd/internal/bus"
	"github.com/inboxd/inboxd/internal/model"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Store is the slice of the cache store the processor needs.
type Store interface {
	PendingOperations() ([]model.SyncOperation, error)
	MarkCompleted(id string) error
	MarkFailed(id, reason string) error
	CleanupQueue(retention time.Duration) error
}

// Submitter dispatches one operation over the live transport.
type Submitter interface {
	Submit(ctx context.Context, op model.SyncOperation) error
	Connected() bool
}

// OpResult is the payload of queue.op_completed and queue.op_failed events.
type OpResult struct {
	ID     string
	Kind   model.OperationKind
	TempID string
	ChatID string
	Error  string
}

// Processor replays queued operations. At most one pass runs at a time;
// overlapping triggers (reconnect settle, network-online, foreground) are
// ignored while a pass is active.
type Processor struct {
	store      Store
	submitter  Submitter
	bus        *bus.Bus
	logger     *zap.Logger
	ackTimeout time.Duration
	retention  time.Duration

	inFlight atomic.Bool
	cancel   context.CancelFunc
}

// NewProcessor creates a queue processor.
func NewProcessor(store Store, submitter Submitter, b *bus.Bus, ackTimeout, retention time.Duration, logger *zap.Logger) *Processor {
	return &Processor{
		store:      store,
		submitter:  submitter,
		bus:        b,
		logger:     logger,
		ackTimeout: ackTimeout,
		retention:  retention,
	}
}

// Start subscribes to the processing triggers.
func (p *Processor) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	triggerCh, unsubT := p.bus.Subscribe(bus.KindQueueTrigger, 16)
	onlineCh, unsubN := p.bus.Subscribe(bus.KindNetOnline, 16)

	go func() {
		defer unsubT()
		defer unsubN()
		for {
			select {
			case <-triggerCh:
				p.Process(ctx)
			case <-onlineCh:
				// Reachability came back while the transport still
				// thinks it is connected; the queue may contain sends
				// that failed during the outage.
				p.Process(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the trigger loop.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// Process runs one drain pass. Re-entrant invocations while a pass is active
// are ignored, and nothing happens when the transport is disconnected.
func (p *Processor) Process(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer p.inFlight.Store(false)

	if !p.submitter.Connected() {
		return
	}

	ops, err := p.store.PendingOperations()
	if err != nil {
		p.logger.Error("failed to load sync queue", zap.Error(err))
		return
	}

	processed := 0
	for _, op := range ops {
		// A mid-pass disconnect stops the pass; remaining operations are
		// retried on the next trigger.
		if !p.submitter.Connected() {
			p.logger.Warn("transport dropped mid-pass, stopping", zap.Int("remaining", len(ops)-processed))
			break
		}

		sctx, cancel := context.WithTimeout(ctx, p.ackTimeout)
		err := p.submitter.Submit(sctx, op)
		cancel()

		res := OpResult{
			ID:     op.ID,
			Kind:   op.Kind,
			TempID: gjson.GetBytes(op.Payload, "tempId").String(),
			ChatID: gjson.GetBytes(op.Payload, "chatId").String(),
		}

		if err != nil {
			// Do not attempt subsequent operations against a dead
			// transport; creation order must hold on replay.
			if markErr := p.store.MarkFailed(op.ID, err.Error()); markErr != nil {
				p.logger.Error("failed to mark operation failed", zap.Error(markErr), zap.String("op_id", op.ID))
			}
			res.Error = err.Error()
			p.bus.Emit(bus.KindQueueOpFailed, res)
			p.logger.Warn("queued operation failed", zap.Error(err), zap.String("op_id", op.ID))
			break
		}

		if err := p.store.MarkCompleted(op.ID); err != nil {
			p.logger.Error("failed to mark operation completed", zap.Error(err), zap.String("op_id", op.ID))
		}
		p.bus.Emit(bus.KindQueueOpCompleted, res)
		processed++
	}

	if err := p.store.CleanupQueue(p.retention); err != nil {
		p.logger.Warn("sync queue cleanup failed", zap.Error(err))
	}

	if processed > 0 {
		p.logger.Info("sync queue drained", zap.Int("completed", processed), zap.Int("total", len(ops)))
	}
}
