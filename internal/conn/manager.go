// Package conn owns the transport session lifecycle: exactly one logical
// socket session per authenticated identity, its state machine, and the
// retry/backfill scheduling around reconnects.
package conn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/inboxd/inboxd/internal/bus"
	"github.com/inboxd/inboxd/internal/model"
	"github.com/inboxd/inboxd/internal/sched"
	"github.com/inboxd/inboxd/internal/transport"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when a submission is attempted without a live
// session. Callers fall back to the durable sync queue.
var ErrNotConnected = errors.New("transport not connected")

// SessionConn is the slice of transport.Session the manager depends on.
type SessionConn interface {
	ReadLoop(ctx context.Context, emit func(*transport.Event)) error
	Submit(ctx context.Context, op model.SyncOperation) error
	Close() error
}

// Dialer opens a session scoped to the given credentials.
type Dialer func(ctx context.Context, socketURL, token, account string) (SessionConn, error)

// NewDialer adapts transport.Dial to the Dialer signature.
func NewDialer(logger *zap.Logger) Dialer {
	return func(ctx context.Context, socketURL, token, account string) (SessionConn, error) {
		return transport.Dial(ctx, socketURL, token, account, logger)
	}
}

// Options tune the manager's timers and retry budget.
type Options struct {
	SocketURL         string
	Token             string
	AccountID         string
	SettleDelay       time.Duration
	ReconnectInterval time.Duration
	MaxRetries        int
}

// Manager establishes and supervises the socket session. Outbound actions
// during disconnection are not its concern: they are captured by the sync
// queue and replayed by the queue processor.
type Manager struct {
	dial   Dialer
	bus    *bus.Bus
	sched  sched.Scheduler
	logger *zap.Logger

	mu             sync.Mutex
	opts           Options
	machine        *Machine
	sess           SessionConn
	disconnectedAt time.Time
	everConnected  bool
	localClose     bool
	gen            int
	readCancel     context.CancelFunc
	timers         map[int]sched.Handle
	timerSeq       int
}

// NewManager creates a connection manager. Connect must be called to open
// the session.
func NewManager(opts Options, dial Dialer, b *bus.Bus, s sched.Scheduler, logger *zap.Logger) *Manager {
	return &Manager{
		dial:    dial,
		bus:     b,
		sched:   s,
		logger:  logger,
		opts:    opts,
		machine: NewMachine(),
		timers:  make(map[int]sched.Handle),
	}
}

// Snapshot returns the current connection state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:          m.machine.Current(),
		DisconnectedAt: m.disconnectedAt,
		EverConnected:  m.everConnected,
	}
}

// Connected reports whether a live session exists.
func (m *Manager) Connected() bool {
	return m.machine.Current() == Connected
}

// Connect opens the session. No-op when already connected or connecting.
// Fails silently (stays disconnected) when credentials are missing.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	switch m.machine.Current() {
	case Connected, Connecting:
		m.mu.Unlock()
		return
	}
	if m.opts.Token == "" || m.opts.AccountID == "" {
		m.logger.Debug("connect skipped: not authenticated")
		m.mu.Unlock()
		return
	}
	m.localClose = false
	_ = m.machine.Transition(Connecting)
	gen := m.gen
	m.mu.Unlock()

	go m.establish(ctx, gen, 1)
}

// Disconnect tears down the session by local choice: no automatic
// reconnection is scheduled, and pending timers are canceled.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.localClose = true
	m.gen++
	for _, t := range m.timers {
		t.Cancel()
	}
	m.timers = make(map[int]sched.Handle)
	if m.readCancel != nil {
		m.readCancel()
		m.readCancel = nil
	}
	sess := m.sess
	m.sess = nil
	state := m.machine.Current()
	if state == Connected || state == Connecting || state == Failed {
		_ = m.machine.Transition(Disconnected)
	}
	if state == Connected {
		m.disconnectedAt = time.Now()
	}
	m.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
		m.logger.Info("disconnected by local request")
		m.bus.Emit(bus.KindConnDisconnected, false)
	}
}

// SetScope switches the active account. While connected this tears the
// session down, waits a settle delay, and reconnects, so in-flight
// operations are never misattributed to the old scope.
func (m *Manager) SetScope(ctx context.Context, accountID string) {
	m.mu.Lock()
	if m.opts.AccountID == accountID {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.Disconnect()

	m.mu.Lock()
	m.opts.AccountID = accountID
	delay := m.opts.SettleDelay
	m.mu.Unlock()

	m.logger.Info("account scope changed, reconnecting", zap.String("account", accountID))
	m.schedule(delay, func() {
		m.Connect(ctx)
	})
}

// Submit dispatches an operation over the live session. Returns
// ErrNotConnected when there is none.
func (m *Manager) Submit(ctx context.Context, op model.SyncOperation) error {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.Submit(ctx, op)
}

func (m *Manager) establish(ctx context.Context, gen, attempt int) {
	m.mu.Lock()
	if gen != m.gen || m.localClose {
		m.mu.Unlock()
		return
	}
	opts := m.opts
	m.mu.Unlock()

	sess, err := m.dial(ctx, opts.SocketURL, opts.Token, opts.AccountID)
	if err != nil {
		m.handleDialFailure(ctx, gen, attempt, err)
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.localClose {
		m.mu.Unlock()
		_ = sess.Close()
		return
	}
	m.sess = sess
	_ = m.machine.Transition(Connected)
	first := !m.everConnected
	m.everConnected = true
	info := ConnectedInfo{First: first}
	if !first && !m.disconnectedAt.IsZero() {
		info.Downtime = time.Since(m.disconnectedAt)
		info.Known = true
	}
	rctx, cancel := context.WithCancel(ctx)
	m.readCancel = cancel
	m.mu.Unlock()

	m.logger.Info("connected",
		zap.Bool("first", info.First),
		zap.Duration("downtime", info.Downtime),
	)
	m.bus.Emit(bus.KindConnConnected, info)

	// Let the transport settle before draining the sync queue.
	m.schedule(opts.SettleDelay, func() {
		m.bus.Emit(bus.KindQueueTrigger, nil)
	})

	go func() {
		readErr := sess.ReadLoop(rctx, m.emitEvent)
		m.handleSessionDrop(ctx, gen, readErr)
	}()
}

// handleDialFailure reports a recoverable retrying condition while under the
// retry budget, and a terminal error once it is exhausted.
func (m *Manager) handleDialFailure(ctx context.Context, gen, attempt int, err error) {
	m.mu.Lock()
	if gen != m.gen || m.localClose {
		m.mu.Unlock()
		return
	}
	maxRetries := m.opts.MaxRetries
	interval := m.opts.ReconnectInterval
	if attempt >= maxRetries {
		_ = m.machine.Transition(Failed)
		m.mu.Unlock()
		m.logger.Error("connect failed, retry budget exhausted", zap.Error(err), zap.Int("attempts", attempt))
		m.bus.Emit(bus.KindConnFailed, err.Error())
		return
	}
	m.mu.Unlock()

	m.logger.Warn("connect failed, retrying", zap.Error(err), zap.Int("attempt", attempt))
	m.bus.Emit(bus.KindConnRetrying, RetryInfo{Attempt: attempt, MaxRetries: maxRetries})
	m.schedule(interval, func() {
		m.establish(ctx, gen, attempt+1)
	})
}

// handleSessionDrop processes a server-initiated disconnect: records the
// downtime start and schedules an automatic reconnection attempt. Local
// disconnects bump the generation first, so they never reach this path.
func (m *Manager) handleSessionDrop(ctx context.Context, gen int, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.sess = nil
	m.disconnectedAt = time.Now()
	_ = m.machine.Transition(Disconnected)
	interval := m.opts.ReconnectInterval
	m.mu.Unlock()

	m.logger.Warn("session dropped", zap.Error(err))
	m.bus.Emit(bus.KindConnDisconnected, true)
	m.schedule(interval, func() {
		m.Connect(ctx)
	})
}

func (m *Manager) emitEvent(evt *transport.Event) {
	m.bus.Emit(evt.BusKind(), evt)
}

// schedule registers a cancelable timer that removes itself from the
// tracking map when it fires, so a long-lived session does not accumulate
// spent handles.
func (m *Manager) schedule(d time.Duration, fn func()) {
	m.mu.Lock()
	id := m.timerSeq
	m.timerSeq++
	m.timers[id] = noopHandle{}
	m.mu.Unlock()

	h := m.sched.After(d, func() {
		m.mu.Lock()
		delete(m.timers, id)
		m.mu.Unlock()
		fn()
	})

	// Skip storing the handle if the timer already fired or Disconnect
	// swept the map in the meantime.
	m.mu.Lock()
	if _, ok := m.timers[id]; ok {
		m.timers[id] = h
	}
	m.mu.Unlock()
}

type noopHandle struct{}

func (noopHandle) Cancel() {}
