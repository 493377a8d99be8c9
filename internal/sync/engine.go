// Package sync is the reconciliation core: a single-goroutine engine owning
// the in-memory inbox view, the message reconciler, the chat list merger,
// the cache-first loader, and the tiered reconnection backfill strategy.
package sync

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/inboxd/inboxd/internal/bus"
	"github.com/inboxd/inboxd/internal/conn"
	"github.com/inboxd/inboxd/internal/model"
	"github.com/inboxd/inboxd/internal/notify"
	"github.com/inboxd/inboxd/internal/outbox"
	"github.com/inboxd/inboxd/internal/transport"
	"go.uber.org/zap"
)

// Submitter dispatches outbound operations over the live transport.
// conn.Manager satisfies it.
type Submitter interface {
	Submit(ctx context.Context, op model.SyncOperation) error
	Connected() bool
}

// Options tune the engine.
type Options struct {
	AccountID   string
	MatchWindow time.Duration
	AckTimeout  time.Duration
}

// Engine owns the in-memory chat and message state. Every mutation happens
// on its single run-loop goroutine: inbound transport events, outbound user
// actions, fetch completions, and queue results are all serialized through
// it, so the model needs no locks by construction.
type Engine struct {
	opts      Options
	cache     CacheStore
	loader    *Loader
	submitter Submitter
	notifier  notify.Notifier
	bus       *bus.Bus
	logger    *zap.Logger

	cmds   chan func()
	cancel context.CancelFunc
	done   chan struct{}

	// Run-loop-owned state. Never touched outside the loop.
	chats      []model.Chat
	msgs       map[string][]model.Message
	openChat   string
	foreground bool
	badge      int
	stale      bool
}

// NewEngine creates the engine. Start must be called before use.
func NewEngine(opts Options, cache CacheStore, loader *Loader, submitter Submitter, notifier notify.Notifier, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		opts:       opts,
		cache:      cache,
		loader:     loader,
		submitter:  submitter,
		notifier:   notifier,
		bus:        b,
		logger:     logger,
		cmds:       make(chan func(), 256),
		msgs:       make(map[string][]model.Message),
		foreground: true,
	}
}

// Start primes the view from the cache and launches the run loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	// Cache-first: the view is usable before the first byte from the
	// server arrives. It is stale until a fetch completes.
	cached, err := e.cache.CachedChats()
	if err != nil {
		e.logger.Warn("failed to read cached chats", zap.Error(err))
	}
	e.chats = cached
	e.stale = true

	transportCh, unsubT := e.bus.Subscribe("transport.", 256)
	connCh, unsubC := e.bus.Subscribe("conn.", 16)
	queueCh, unsubQ := e.bus.Subscribe("queue.op_", 64)

	go func() {
		defer close(e.done)
		defer unsubT()
		defer unsubC()
		defer unsubQ()
		for {
			select {
			case evt := <-transportCh:
				e.handleTransportEvent(ctx, evt)
			case evt := <-connCh:
				e.handleConnEvent(ctx, evt)
			case evt := <-queueCh:
				e.handleQueueEvent(evt)
			case fn := <-e.cmds:
				fn()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the run loop.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

// post schedules fn on the run loop. Returns false when the engine is
// stopped. A true return only means the command was accepted: the loop can
// exit with commands still buffered, so callers waiting on a reply must also
// watch e.done.
func (e *Engine) post(fn func()) bool {
	select {
	case e.cmds <- fn:
		return true
	case <-e.done:
		return false
	}
}

// Chats returns a copy of the working chat list. Returns nil on a stopped
// engine.
func (e *Engine) Chats() []model.Chat {
	resp := make(chan []model.Chat, 1)
	if !e.post(func() { resp <- slices.Clone(e.chats) }) {
		return nil
	}
	select {
	case chats := <-resp:
		return chats
	case <-e.done:
		return nil
	}
}

// Conversation returns a copy of a chat's reconciled message collection.
// Returns nil on a stopped engine.
func (e *Engine) Conversation(chatID string) []model.Message {
	resp := make(chan []model.Message, 1)
	if !e.post(func() { resp <- slices.Clone(e.msgs[chatID]) }) {
		return nil
	}
	select {
	case msgs := <-resp:
		return msgs
	case <-e.done:
		return nil
	}
}

// Stale reports whether the view has not yet converged to server truth.
func (e *Engine) Stale() bool {
	resp := make(chan bool, 1)
	if !e.post(func() { resp <- e.stale }) {
		return true
	}
	select {
	case stale := <-resp:
		return stale
	case <-e.done:
		return true
	}
}

// OpenChat marks a chat as the one currently on screen; its inbound
// messages do not notify. Also lazily loads its conversation from cache.
func (e *Engine) OpenChat(chatID string) {
	e.post(func() {
		e.openChat = chatID
		if _, ok := e.msgs[chatID]; !ok {
			cached, err := e.cache.CachedConversation(chatID)
			if err != nil {
				e.logger.Warn("failed to read cached conversation", zap.Error(err), zap.String("chat_id", chatID))
			}
			e.msgs[chatID] = cached
		}
	})
}

// SetForeground records whether the app is in the foreground; backgrounded
// inbound messages always notify.
func (e *Engine) SetForeground(fg bool) {
	e.post(func() { e.foreground = fg })
}

// SendText creates an optimistic text message shown immediately, then either
// submits it over the live transport or queues it durably for the processor.
// Returns the client-assigned temp identifier.
func (e *Engine) SendText(chatID, body string) string {
	tempID := model.NewTempID()
	e.post(func() { e.sendMessage(chatID, "text", body, tempID, nil) })
	return tempID
}

// SendTemplate behaves like SendText for a template payload.
func (e *Engine) SendTemplate(chatID string, template json.RawMessage) string {
	tempID := model.NewTempID()
	e.post(func() { e.sendMessage(chatID, "template", "", tempID, template) })
	return tempID
}

// MarkChatRead zeroes a chat's unread count locally and confirms it to the
// server, queueing the action when offline.
func (e *Engine) MarkChatRead(chatID string) {
	e.post(func() {
		for i := range e.chats {
			if e.chats[i].ID == chatID {
				e.chats[i].UnreadCount = 0
				break
			}
		}
		e.refreshBadge()
		e.persistChats()

		payload, _ := json.Marshal(map[string]string{"chatId": chatID})
		op := model.SyncOperation{
			ID:      uuid.New().String(),
			Kind:    model.OpResetUnread,
			Payload: payload,
		}
		e.submitOrQueue(op, "")
	})
}

func (e *Engine) sendMessage(chatID, msgType, body, tempID string, template json.RawMessage) {
	now := time.Now().UnixMilli()
	msg := model.Message{
		TempID:       tempID,
		ChatID:       chatID,
		Type:         msgType,
		Body:         body,
		Timestamp:    now,
		Status:       model.StatusPending,
		IsOptimistic: true,
		FromMe:       true,
		SenderRole:   "agent",
	}
	e.msgs[chatID] = append(e.msgs[chatID], msg)
	SortMessages(e.msgs[chatID])
	e.touchChat(chatID, &msg)
	e.persistConversation(chatID)
	e.bus.Emit(bus.KindStateMessages, chatID)

	payload := map[string]any{
		"chatId":    chatID,
		"tempId":    tempID,
		"type":      msgType,
		"body":      body,
		"timestamp": now,
	}
	if template != nil {
		payload["template"] = template
	}
	raw, _ := json.Marshal(payload)

	kind := model.OpSendMessage
	if msgType == "template" {
		kind = model.OpSendTemplate
	}
	op := model.SyncOperation{ID: uuid.New().String(), Kind: kind, Payload: raw}
	e.submitOrQueue(op, tempID)
}

// submitOrQueue tries a live submission with a bounded acknowledgment wait;
// anything short of confirmed submission lands the operation in the durable
// queue for the processor.
func (e *Engine) submitOrQueue(op model.SyncOperation, tempID string) {
	if !e.submitter.Connected() {
		e.queueOperation(op, tempID)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.AckTimeout)
		defer cancel()
		if err := e.submitter.Submit(ctx, op); err != nil {
			e.logger.Warn("live submission failed, queueing", zap.Error(err), zap.String("op_id", op.ID))
			// Enqueue directly rather than via the run loop: the
			// operation must survive even when the engine stops while
			// the submission is in flight. Only the status flip goes
			// through the loop, and losing that on shutdown is fine.
			if qerr := e.cache.EnqueueOperation(op); qerr != nil {
				e.logger.Error("failed to enqueue operation", zap.Error(qerr), zap.String("op_id", op.ID))
				return
			}
			if tempID != "" {
				e.post(func() { e.setOptimisticStatus(tempID, model.StatusQueued) })
			}
		}
	}()
}

// queueOperation persists the operation and flips the optimistic message to
// queued so the UI reflects the deferred send.
func (e *Engine) queueOperation(op model.SyncOperation, tempID string) {
	if err := e.cache.EnqueueOperation(op); err != nil {
		e.logger.Error("failed to enqueue operation", zap.Error(err), zap.String("op_id", op.ID))
		return
	}
	if tempID != "" {
		e.setOptimisticStatus(tempID, model.StatusQueued)
	}
}

func (e *Engine) handleTransportEvent(ctx context.Context, evt bus.Event) {
	te, ok := evt.Payload.(*transport.Event)
	if !ok {
		return
	}
	switch evt.Kind {
	case bus.KindNewMessage:
		e.applyNewMessage(te.Chat, te.Message)
	case bus.KindNewMessagesBulk:
		// A bulk frame can carry several messages for one chat; every one
		// of them is reconciled, not just the latest.
		byChat := make(map[string][]*model.Message, len(te.Messages))
		for i := range te.Messages {
			m := &te.Messages[i]
			byChat[m.ChatID] = append(byChat[m.ChatID], m)
		}
		for i := range te.Chats {
			chat := &te.Chats[i]
			batch := byChat[chat.ID]
			if len(batch) == 0 {
				e.applyNewMessage(chat, nil)
				continue
			}
			for _, m := range batch {
				e.applyNewMessage(chat, m)
			}
		}
	case bus.KindMessageStatus:
		e.applyStatus(te.Status)
	case bus.KindMessageReaction:
		e.applyReaction(te.Reaction)
	case bus.KindResetUnread:
		for i := range e.chats {
			if e.chats[i].ID == te.ChatID {
				e.chats[i].UnreadCount = 0
				break
			}
		}
		e.refreshBadge()
		e.persistChats()
		e.bus.Emit(bus.KindStateChats, nil)
	case bus.KindChatsUpdated:
		// Contact data changed server-side; refresh the recent window.
		e.refresh(ctx, TierRecent)
	case bus.KindTeamMemberLogout:
		if slices.Contains(te.Accounts, e.opts.AccountID) {
			e.logger.Warn("account logged out by team administration")
			e.bus.Emit(bus.KindSessionForceLogout, e.opts.AccountID)
		}
	case bus.KindContactCreated:
		e.logger.Info("contact created", zap.String("contact_id", te.ContactID))
	case bus.KindContactCreateError, bus.KindSendMessageError:
		e.logger.Warn("server reported error", zap.String("kind", string(te.Kind)), zap.String("message", te.ErrorMessage))
	case bus.KindTemplateStatus:
		e.logger.Info("template status updated")
	}
}

func (e *Engine) handleConnEvent(ctx context.Context, evt bus.Event) {
	if evt.Kind != bus.KindConnConnected {
		return
	}
	info, ok := evt.Payload.(conn.ConnectedInfo)
	if !ok {
		return
	}
	tier := SelectTier(info.Downtime, info.Known && !info.First)
	e.refresh(ctx, tier)
}

func (e *Engine) handleQueueEvent(evt bus.Event) {
	if evt.Kind != bus.KindQueueOpCompleted {
		return
	}
	res, ok := evt.Payload.(outbox.OpResult)
	if !ok || res.TempID == "" {
		return
	}
	// The queued send reached the transport; the reconciler promotes it
	// further once status events arrive.
	e.setOptimisticStatus(res.TempID, model.StatusPending)
}

// refresh runs the background half of a cache-first load: fetch off-loop,
// apply on-loop. A failed fetch leaves the current (cached) view intact and
// merely keeps the stale flag set.
func (e *Engine) refresh(ctx context.Context, tier Tier) {
	e.stale = true
	existing := slices.Clone(e.chats)
	openChat := e.openChat

	go func() {
		merged, err := e.loader.FetchChats(ctx, tier, existing)
		if err != nil {
			e.logger.Warn("chat refresh failed, keeping cached view", zap.Error(err))
			return
		}
		e.post(func() {
			e.chats = merged
			e.stale = false
			e.refreshBadge()
			e.persistChats()
			e.bus.Emit(bus.KindStateChats, nil)
		})

		if openChat == "" {
			return
		}
		fetched, err := e.loader.FetchConversation(ctx, tier, openChat)
		if err != nil {
			e.logger.Warn("conversation refresh failed", zap.Error(err), zap.String("chat_id", openChat))
			return
		}
		e.post(func() { e.mergeConversation(openChat, fetched) })
	}()
}

// mergeConversation reconciles each fetched message into the existing
// collection, so optimistic entries pair up instead of duplicating.
func (e *Engine) mergeConversation(chatID string, fetched []model.Message) {
	msgs := e.msgs[chatID]
	for _, m := range fetched {
		msgs, _ = ReconcileMessage(msgs, m, e.opts.MatchWindow)
	}
	e.msgs[chatID] = msgs
	e.persistConversation(chatID)
	e.bus.Emit(bus.KindStateMessages, chatID)
}

func (e *Engine) applyNewMessage(chat *model.Chat, msg *model.Message) {
	if chat == nil || chat.ID == "" {
		return
	}
	e.upsertChat(*chat)

	var outcome Outcome
	if msg != nil {
		msgs, oc := ReconcileMessage(e.msgs[chat.ID], *msg, e.opts.MatchWindow)
		e.msgs[chat.ID] = msgs
		outcome = oc
		e.touchChat(chat.ID, msg)
		e.persistConversation(chat.ID)
		e.bus.Emit(bus.KindStateMessages, chat.ID)
	}

	e.refreshBadge()
	e.persistChats()
	e.bus.Emit(bus.KindStateChats, nil)

	// Only genuinely new inbound messages notify; replays and replaced
	// optimistic entries stay silent.
	if msg != nil && !msg.FromMe && outcome == OutcomeAppended {
		if !e.foreground || e.openChat != chat.ID {
			e.notifier.NotifyIncomingMessage(*msg, chat.ContactName, chat.ID)
		}
	}
}

func (e *Engine) applyStatus(u *model.StatusUpdate) {
	if u == nil || u.ChatID == "" {
		return
	}
	if ApplyStatusUpdate(e.msgs[u.ChatID], *u) {
		e.persistConversation(u.ChatID)
		e.bus.Emit(bus.KindStateMessages, u.ChatID)
	}
}

func (e *Engine) applyReaction(u *model.ReactionUpdate) {
	if u == nil || u.ChatID == "" {
		return
	}
	if ApplyReactionUpdate(e.msgs[u.ChatID], *u) {
		e.persistConversation(u.ChatID)
		e.bus.Emit(bus.KindStateMessages, u.ChatID)
	}
}

// upsertChat inserts or overwrites one chat summary (server data wins) and
// re-sorts the working list.
func (e *Engine) upsertChat(chat model.Chat) {
	replaced := false
	for i := range e.chats {
		if e.chats[i].ID == chat.ID {
			e.chats[i] = chat
			replaced = true
			break
		}
	}
	if !replaced {
		e.chats = append(e.chats, chat)
	}
	sortChats(e.chats)
}

// touchChat advances a chat's denormalized last-message summary.
func (e *Engine) touchChat(chatID string, msg *model.Message) {
	for i := range e.chats {
		if e.chats[i].ID == chatID {
			bumpChat(&e.chats[i], msg)
			sortChats(e.chats)
			return
		}
	}
	// First message of a chat we have not seen yet.
	chat := model.Chat{ID: chatID, LastMessageTime: msg.Timestamp, LastMessage: msg.Summary()}
	e.chats = append(e.chats, chat)
	sortChats(e.chats)
}

func (e *Engine) setOptimisticStatus(tempID string, status model.MessageStatus) {
	for chatID, msgs := range e.msgs {
		for i := range msgs {
			if msgs[i].IsOptimistic && msgs[i].TempID == tempID {
				msgs[i].Status = status
				e.persistConversation(chatID)
				e.bus.Emit(bus.KindStateMessages, chatID)
				return
			}
		}
	}
}

// refreshBadge keeps the badge equal to the total unread count and signals
// the collaborator on change.
func (e *Engine) refreshBadge() {
	total := 0
	for i := range e.chats {
		total += e.chats[i].UnreadCount
	}
	if total != e.badge {
		e.badge = total
		e.notifier.SetBadgeCount(total)
		e.bus.Emit(bus.KindStateBadge, total)
	}
}

func (e *Engine) persistChats() {
	if err := e.cache.PutChats(e.chats); err != nil {
		e.logger.Warn("failed to persist chats", zap.Error(err))
	}
}

func (e *Engine) persistConversation(chatID string) {
	if err := e.cache.ReplaceConversation(chatID, e.msgs[chatID]); err != nil {
		e.logger.Warn("failed to persist conversation", zap.Error(err), zap.String("chat_id", chatID))
	}
}
