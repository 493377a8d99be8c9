package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/inboxd/inboxd/internal/bus"
	"github.com/inboxd/inboxd/internal/model"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu        sync.Mutex
	pending   []model.SyncOperation
	completed []string
	failed    []string
	cleanups  int
}

func (s *fakeStore) PendingOperations() ([]model.SyncOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.SyncOperation(nil), s.pending...), nil
}

func (s *fakeStore) MarkCompleted(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, id)
	for i := range s.pending {
		if s.pending[i].ID == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	return nil
}

func (s *fakeStore) MarkFailed(id, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, id)
	return nil
}

func (s *fakeStore) CleanupQueue(time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups++
	return nil
}

type fakeSubmitter struct {
	mu        sync.Mutex
	connected bool
	failOn    map[string]error
	submitted []string

	// dropAfter disconnects the transport once that many submissions
	// succeeded.
	dropAfter int
}

func (f *fakeSubmitter) Submit(_ context.Context, op model.SyncOperation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn[op.ID]; err != nil {
		return err
	}
	f.submitted = append(f.submitted, op.ID)
	if f.dropAfter > 0 && len(f.submitted) >= f.dropAfter {
		f.connected = false
	}
	return nil
}

func (f *fakeSubmitter) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func op(id string, createdAt int64) model.SyncOperation {
	return model.SyncOperation{
		ID:        id,
		Kind:      model.OpSendMessage,
		Payload:   []byte(`{"chatId":"chat-1","tempId":"temp-` + id + `"}`),
		Status:    model.OpPending,
		CreatedAt: createdAt,
	}
}

func newProcessor(store *fakeStore, sub *fakeSubmitter, b *bus.Bus) *Processor {
	return NewProcessor(store, sub, b, time.Second, 72*time.Hour, zap.NewNop())
}

func TestProcessDrainsInOrder(t *testing.T) {
	store := &fakeStore{pending: []model.SyncOperation{op("1", 100), op("2", 200), op("3", 300)}}
	sub := &fakeSubmitter{connected: true}
	p := newProcessor(store, sub, bus.New())

	p.Process(context.Background())

	want := []string{"1", "2", "3"}
	if len(sub.submitted) != len(want) {
		t.Fatalf("submitted %d operations, want %d", len(sub.submitted), len(want))
	}
	for i, id := range want {
		if sub.submitted[i] != id {
			t.Errorf("submission[%d] = %q, want %q", i, sub.submitted[i], id)
		}
	}
	if len(store.completed) != 3 {
		t.Errorf("completed %d, want 3", len(store.completed))
	}
	if store.cleanups != 1 {
		t.Errorf("cleanups = %d, want 1", store.cleanups)
	}
}

func TestProcessSkipsWhenDisconnected(t *testing.T) {
	store := &fakeStore{pending: []model.SyncOperation{op("1", 100)}}
	sub := &fakeSubmitter{connected: false}
	p := newProcessor(store, sub, bus.New())

	p.Process(context.Background())

	if len(sub.submitted) != 0 {
		t.Errorf("submitted %d operations while disconnected, want 0", len(sub.submitted))
	}
}

func TestProcessStopsOnFailure(t *testing.T) {
	store := &fakeStore{pending: []model.SyncOperation{op("1", 100), op("2", 200), op("3", 300)}}
	sub := &fakeSubmitter{
		connected: true,
		failOn:    map[string]error{"2": errors.New("send rejected")},
	}
	p := newProcessor(store, sub, bus.New())

	p.Process(context.Background())

	if len(sub.submitted) != 1 {
		t.Fatalf("submitted %d operations, want 1 (pass stops at failure)", len(sub.submitted))
	}
	if len(store.failed) != 1 || store.failed[0] != "2" {
		t.Errorf("failed = %v, want [2]", store.failed)
	}
	// The third operation stays pending for the next pass.
	pending, _ := store.PendingOperations()
	ids := make([]string, len(pending))
	for i, o := range pending {
		ids[i] = o.ID
	}
	if len(pending) != 2 {
		t.Errorf("pending after pass = %v, want [2 3]", ids)
	}
}

func TestProcessStopsOnMidPassDisconnect(t *testing.T) {
	store := &fakeStore{pending: []model.SyncOperation{op("1", 100), op("2", 200), op("3", 300)}}
	sub := &fakeSubmitter{connected: true, dropAfter: 1}
	p := newProcessor(store, sub, bus.New())

	p.Process(context.Background())

	if len(sub.submitted) != 1 {
		t.Errorf("submitted %d operations, want 1 (disconnect stops the pass)", len(sub.submitted))
	}
}

func TestProcessRetryWithoutDuplicate(t *testing.T) {
	store := &fakeStore{pending: []model.SyncOperation{op("1", 100)}}
	sub := &fakeSubmitter{
		connected: true,
		failOn:    map[string]error{"1": errors.New("transient")},
	}
	p := newProcessor(store, sub, bus.New())

	p.Process(context.Background())
	if len(sub.submitted) != 0 {
		t.Fatalf("first pass submitted %d, want 0", len(sub.submitted))
	}

	// Failure clears; failed operations are part of the pending set again.
	sub.mu.Lock()
	delete(sub.failOn, "1")
	sub.mu.Unlock()

	p.Process(context.Background())
	p.Process(context.Background())

	if len(sub.submitted) != 1 {
		t.Errorf("submitted %d times across retries, want exactly 1", len(sub.submitted))
	}
}

func TestProcessEmitsResults(t *testing.T) {
	store := &fakeStore{pending: []model.SyncOperation{op("1", 100)}}
	sub := &fakeSubmitter{connected: true}
	b := bus.New()
	ch, unsub := b.Subscribe("queue.op_", 4)
	defer unsub()

	newProcessor(store, sub, b).Process(context.Background())

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindQueueOpCompleted {
			t.Fatalf("kind = %q, want queue.op_completed", evt.Kind)
		}
		res, ok := evt.Payload.(OpResult)
		if !ok {
			t.Fatalf("payload type = %T, want OpResult", evt.Payload)
		}
		if res.TempID != "temp-1" || res.ChatID != "chat-1" {
			t.Errorf("result = %+v, want tempId temp-1 chatId chat-1", res)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for op_completed")
	}
}

func TestProcessTriggeredByBus(t *testing.T) {
	store := &fakeStore{pending: []model.SyncOperation{op("1", 100)}}
	sub := &fakeSubmitter{connected: true}
	b := bus.New()
	p := newProcessor(store, sub, b)
	p.Start(context.Background())
	defer p.Stop()

	b.Emit(bus.KindQueueTrigger, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sub.mu.Lock()
		n := len(sub.submitted)
		sub.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for triggered drain")
}
