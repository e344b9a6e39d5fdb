package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"medsync/api"
	"medsync/logging"
	"medsync/models"
	"medsync/realtime"
	"medsync/store"

	"github.com/rs/zerolog"
)

// DefaultTypingIdle is the debounce window for the typing indicator: after
// this much input silence the peer is told typing stopped.
const DefaultTypingIdle = 2000 * time.Millisecond

var ErrNoConversation = errors.New("chat: no open conversation")

// Registry is the slice of the listener registry this channel needs.
type Registry interface {
	Register(event string, h realtime.Handler) bool
	Unregister(event string)
}

// Emitter sends outbound events through the shared transport.
type Emitter interface {
	Emit(event string, payload any) error
}

// API is the request/response collaborator the channel reconciles against.
type API interface {
	Messages(ctx context.Context, conversationID string) ([]models.ChatMessage, error)
	SendMessage(ctx context.Context, conversationID, content string, attachment *api.Upload) (*models.ChatMessage, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// Channel synchronizes one conversation at a time: sends through the REST
// collaborator, receives pushes from the socket, deduplicates on message
// id, relays the typing indicator, and reconciles by wholesale refetch
// after an outage.
type Channel struct {
	reg    Registry
	emit   Emitter
	api    API
	cache  *store.Cache
	states *realtime.StateObservable
	log    zerolog.Logger
	idle   time.Duration

	mu             sync.Mutex
	conversationID string
	messages       []models.ChatMessage
	connected      bool
	typing         bool
	typingTimer    *time.Timer
	typingGen      int
	unsubscribe    func()

	onMessage    func(models.ChatMessage)
	onPeerTyping func(models.TypingStatus)
}

// New builds the channel and subscribes it to connectivity. cache may be
// nil. idle <= 0 selects DefaultTypingIdle.
func New(reg Registry, emit Emitter, apiClient API, states *realtime.StateObservable, cache *store.Cache, idle time.Duration) *Channel {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	ch := &Channel{
		reg:    reg,
		emit:   emit,
		api:    apiClient,
		cache:  cache,
		states: states,
		log:    logging.Component("chat"),
		idle:   idle,
	}
	if states != nil {
		ch.unsubscribe = states.Subscribe(ch.onConnectivity)
	}
	return ch
}

// OnMessage sets the presentation callback for appended messages.
func (ch *Channel) OnMessage(fn func(models.ChatMessage)) {
	ch.mu.Lock()
	ch.onMessage = fn
	ch.mu.Unlock()
}

// OnPeerTyping sets the presentation callback for inbound typing events.
// Peer typing is surfaced directly; the peer's own debounce timer decides
// when the events stop arriving.
func (ch *Channel) OnPeerTyping(fn func(models.TypingStatus)) {
	ch.mu.Lock()
	ch.onPeerTyping = fn
	ch.mu.Unlock()
}

// Attach registers the channel's listeners. Returns false when the
// registry refuses the binding (no credential).
func (ch *Channel) Attach() bool {
	if !ch.reg.Register(models.EventNewMessage, ch.handleNewMessage) {
		return false
	}
	ch.reg.Register(models.EventTypingStatus, ch.handleTyping)
	return true
}

// Close tears the channel down: listeners unregistered, connectivity
// subscription dropped, typing timer cancelled (with a final
// isTyping=false if one was pending). The shared connection is never
// touched.
func (ch *Channel) Close() {
	ch.reg.Unregister(models.EventNewMessage)
	ch.reg.Unregister(models.EventTypingStatus)

	ch.mu.Lock()
	if ch.unsubscribe != nil {
		ch.unsubscribe()
		ch.unsubscribe = nil
	}
	if ch.typingTimer != nil {
		ch.typingTimer.Stop()
		ch.typingTimer = nil
	}
	wasTyping := ch.typing
	ch.typing = false
	conv := ch.conversationID
	ch.mu.Unlock()

	if wasTyping {
		ch.emitTyping(conv, false)
	}
}

// Open selects the active conversation, loads its history and marks it
// read. Any previously open conversation's local state is discarded.
func (ch *Channel) Open(ctx context.Context, conversationID string) error {
	msgs, err := ch.api.Messages(ctx, conversationID)
	if err != nil {
		return err
	}

	ch.mu.Lock()
	ch.conversationID = conversationID
	ch.messages = msgs
	ch.mu.Unlock()

	ch.persist(conversationID, msgs)

	if err := ch.api.MarkRead(ctx, conversationID); err != nil {
		ch.log.Warn().Str("conversation", conversationID).Err(err).Msg("mark read failed")
	}
	return nil
}

// Messages returns a copy of the local message list in order.
func (ch *Channel) Messages() []models.ChatMessage {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([]models.ChatMessage, len(ch.messages))
	copy(out, ch.messages)
	return out
}

// SendMessage posts through the collaborator and appends the returned
// record. Nothing is appended until the request resolves; a failure is
// returned to the caller for retry and leaves the local list untouched.
// If the realtime push for the same message won the race, the append is
// skipped (dedup on id).
func (ch *Channel) SendMessage(ctx context.Context, content string, attachment *api.Upload) (*models.ChatMessage, error) {
	ch.mu.Lock()
	conv := ch.conversationID
	ch.mu.Unlock()
	if conv == "" {
		return nil, ErrNoConversation
	}

	msg, err := ch.api.SendMessage(ctx, conv, content, attachment)
	if err != nil {
		return nil, err
	}

	ch.appendIfAbsent(*msg)
	return msg, nil
}

// NotifyActivity records local input activity for the typing indicator.
// The first activity emits isTyping=true; every activity restarts the
// single idle timer; only the timer's expiry emits isTyping=false.
func (ch *Channel) NotifyActivity() {
	ch.mu.Lock()
	conv := ch.conversationID
	if conv == "" {
		ch.mu.Unlock()
		return
	}
	emitStart := !ch.typing
	ch.typing = true
	if ch.typingTimer != nil {
		ch.typingTimer.Stop()
	}
	// Stop does not guarantee the callback is out of the system: an
	// expiry that already fired can still be waiting on the lock. The
	// generation makes such a straggler a no-op.
	ch.typingGen++
	gen := ch.typingGen
	ch.typingTimer = time.AfterFunc(ch.idle, func() { ch.typingExpired(gen) })
	ch.mu.Unlock()

	if emitStart {
		ch.emitTyping(conv, true)
	}
}

func (ch *Channel) typingExpired(gen int) {
	ch.mu.Lock()
	if gen != ch.typingGen || !ch.typing {
		ch.mu.Unlock()
		return
	}
	ch.typing = false
	ch.typingTimer = nil
	conv := ch.conversationID
	ch.mu.Unlock()

	ch.emitTyping(conv, false)
}

func (ch *Channel) emitTyping(conversationID string, isTyping bool) {
	err := ch.emit.Emit(models.EventTypingStatus, models.TypingStatus{
		ConversationID: conversationID,
		IsTyping:       isTyping,
	})
	if err != nil {
		ch.log.Debug().Bool("is_typing", isTyping).Err(err).Msg("typing emit failed")
	}
}

func (ch *Channel) handleNewMessage(payload json.RawMessage) {
	var msg models.ChatMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.ID == "" {
		ch.log.Warn().Err(err).Msg("dropping malformed message event")
		return
	}

	ch.mu.Lock()
	conv := ch.conversationID
	ch.mu.Unlock()
	if msg.ConversationID != conv {
		return
	}

	ch.appendIfAbsent(msg)

	// Receiving a message in the open conversation means it is being
	// looked at: acknowledge immediately, best-effort.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ch.api.MarkRead(ctx, conv); err != nil {
			ch.log.Debug().Str("conversation", conv).Err(err).Msg("read receipt failed")
		}
	}()
}

func (ch *Channel) handleTyping(payload json.RawMessage) {
	var ts models.TypingStatus
	if err := json.Unmarshal(payload, &ts); err != nil {
		return
	}

	ch.mu.Lock()
	conv := ch.conversationID
	fn := ch.onPeerTyping
	ch.mu.Unlock()

	if ts.ConversationID != conv || fn == nil {
		return
	}
	fn(ts)
}

// onConnectivity drives reconciliation: on the transition back to
// connected, the open conversation's list is refetched and replaced
// wholesale. Events missed during the outage are never replayed.
func (ch *Channel) onConnectivity(up bool) {
	ch.mu.Lock()
	was := ch.connected
	ch.connected = up
	conv := ch.conversationID
	ch.mu.Unlock()

	if up && !was && conv != "" {
		go ch.reconcile(conv)
	}
}

func (ch *Channel) reconcile(conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	msgs, err := ch.api.Messages(ctx, conversationID)
	if err != nil {
		ch.log.Warn().Str("conversation", conversationID).Err(err).Msg("reconciliation fetch failed")
		return
	}

	ch.mu.Lock()
	if ch.conversationID != conversationID {
		// The user moved on during the fetch.
		ch.mu.Unlock()
		return
	}
	ch.messages = msgs
	ch.mu.Unlock()

	ch.log.Info().Str("conversation", conversationID).Int("messages", len(msgs)).Msg("reconciled after reconnect")
	ch.persist(conversationID, msgs)
}

func (ch *Channel) appendIfAbsent(msg models.ChatMessage) {
	ch.mu.Lock()
	for _, m := range ch.messages {
		if m.ID == msg.ID {
			ch.mu.Unlock()
			return
		}
	}
	ch.messages = append(ch.messages, msg)
	snapshot := make([]models.ChatMessage, len(ch.messages))
	copy(snapshot, ch.messages)
	fn := ch.onMessage
	ch.mu.Unlock()

	ch.persist(msg.ConversationID, snapshot)
	if fn != nil {
		fn(msg)
	}
}

func (ch *Channel) persist(conversationID string, msgs []models.ChatMessage) {
	if ch.cache == nil {
		return
	}
	if err := ch.cache.ReplaceMessages(conversationID, msgs); err != nil {
		ch.log.Warn().Str("conversation", conversationID).Err(err).Msg("could not persist snapshot")
	}
}
