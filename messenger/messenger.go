package messenger

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/driverkit/coord/halerr"
	"github.com/driverkit/coord/internal/concurrency"
)

// DefaultQueueCapacity bounds the message queue when no capacity is given.
const DefaultQueueCapacity = 1024

// defaultPollInterval is how long the delivery worker sleeps when the queue
// is empty.
const defaultPollInterval = 100 * time.Microsecond

// Stats counts messenger activity since the last ClearStats.
type Stats struct {
	MessagesSent          uint64  // Accepted by SendMessage
	MessagesReceived      uint64  // Dequeued and processed by the worker
	MessagesDropped       uint64  // Rejected because the queue was full
	MessagesExpired       uint64  // Dropped by the worker past their timeout
	RequestsSent          uint64  // Correlated requests submitted
	RequestsTimeout       uint64  // Requests that timed out unanswered
	AverageResponseTimeMs float64 // Mean round-trip of answered requests
}

// Messenger is the cross-driver message bus. Submission is lock-free and
// non-blocking; a single background worker delivers messages to handlers.
type Messenger struct {
	initialized atomic.Bool
	queue       *concurrency.Ring[Message]
	capacity    uint64
	poll        time.Duration
	nextID      atomic.Uint64

	handlersMu sync.Mutex
	handlers   map[string]Handler

	pendingMu sync.Mutex
	pending   map[uint64]chan Message

	statsMu   sync.Mutex
	stats     Stats
	responses uint64  // Answered request count, for the response average
	rttSumMs  float64 // Summed round-trip of answered requests

	stop   chan struct{}
	done   sync.WaitGroup
	logger *zap.Logger
}

// Option adjusts messenger construction.
type Option func(*Messenger)

// WithQueueCapacity overrides the bounded queue capacity.
func WithQueueCapacity(capacity uint64) Option {
	return func(m *Messenger) { m.capacity = capacity }
}

// WithPollInterval overrides the worker's idle sleep.
func WithPollInterval(d time.Duration) Option {
	return func(m *Messenger) { m.poll = d }
}

// New creates a messenger. A nil logger is replaced with a no-op logger.
// The messenger delivers nothing until Initialize starts the worker.
func New(logger *zap.Logger, opts ...Option) *Messenger {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Messenger{
		capacity: DefaultQueueCapacity,
		poll:     defaultPollInterval,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize starts the delivery worker. Calling Initialize on a running
// messenger is a no-op.
func (m *Messenger) Initialize() error {
	if m.initialized.Load() {
		return nil
	}

	m.queue = concurrency.NewRing[Message](m.capacity)
	m.handlersMu.Lock()
	m.handlers = make(map[string]Handler)
	m.handlersMu.Unlock()
	m.pendingMu.Lock()
	m.pending = make(map[uint64]chan Message)
	m.pendingMu.Unlock()

	m.stop = make(chan struct{})
	m.done.Add(1)
	go m.deliveryLoop()

	m.initialized.Store(true)
	m.logger.Info("messenger initialized", zap.Uint64("queue_capacity", m.queue.Cap()))
	return nil
}

// Shutdown stops the worker and clears handlers and pending requests so a
// subsequent Initialize starts clean. Shutdown is idempotent; queued but
// undelivered messages are discarded.
func (m *Messenger) Shutdown() error {
	if !m.initialized.Load() {
		return nil
	}
	m.initialized.Store(false)

	close(m.stop)
	m.done.Wait()

	m.handlersMu.Lock()
	m.handlers = nil
	m.handlersMu.Unlock()

	m.pendingMu.Lock()
	for id, slot := range m.pending {
		close(slot)
		delete(m.pending, id)
	}
	m.pendingMu.Unlock()

	m.logger.Info("messenger shut down")
	return nil
}

// RegisterHandler adds a named handler. Duplicate ids are a Configuration
// error.
func (m *Messenger) RegisterHandler(id string, h Handler) error {
	if h == nil {
		return halerr.New(halerr.CategoryConfiguration, "NIL_HANDLER", "handler must not be nil")
	}

	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()

	if m.handlers == nil {
		return halerr.NotInitialized("messenger")
	}
	if _, exists := m.handlers[id]; exists {
		return halerr.AlreadyExists("handler", id)
	}
	m.handlers[id] = h
	m.logger.Debug("handler registered", zap.String("handler", id))
	return nil
}

// UnregisterHandler removes a handler by id.
func (m *Messenger) UnregisterHandler(id string) error {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()

	if m.handlers == nil {
		return halerr.NotInitialized("messenger")
	}
	if _, exists := m.handlers[id]; !exists {
		return halerr.NotFound("handler", id)
	}
	delete(m.handlers, id)
	return nil
}

// SendMessage submits a message to the queue. It assigns an id when the
// header has none and never blocks: a full queue fails with a Resource
// error and increments the dropped counter.
func (m *Messenger) SendMessage(msg Message) error {
	if !m.initialized.Load() {
		return halerr.NotInitialized("messenger")
	}

	if msg.Header.ID == 0 {
		msg.Header.ID = m.nextID.Add(1)
	}
	if msg.Header.Timestamp.IsZero() {
		msg.Header.Timestamp = time.Now()
	}

	// A zero timeout is honored as already expired; the worker drops and
	// counts it. NewHeader applies the default for normal paths.
	if !m.queue.TryPush(msg) {
		m.statsMu.Lock()
		m.stats.MessagesDropped++
		m.statsMu.Unlock()
		return halerr.New(halerr.CategoryResource, "QUEUE_FULL", "message queue full")
	}

	m.statsMu.Lock()
	m.stats.MessagesSent++
	m.statsMu.Unlock()
	return nil
}

// SendNotification sends a fire-and-forget payload to one recipient.
func (m *Messenger) SendNotification(senderID, recipientID string, payload Payload, priority Priority) error {
	header := NewHeader(Notification, senderID, recipientID)
	header.Priority = priority
	return m.SendMessage(NewMessage(header, payload))
}

// BroadcastEvent sends an event payload to every handler that accepts
// Event messages.
func (m *Messenger) BroadcastEvent(senderID string, payload Payload) error {
	header := NewHeader(Event, senderID, Broadcast)
	return m.SendMessage(NewMessage(header, payload))
}

// SendRequest stamps the message as a correlated Request, submits it and
// blocks until the matching Response arrives or timeout elapses. It is the
// only blocking operation on the bus.
func (m *Messenger) SendRequest(msg Message, timeout time.Duration) (Message, error) {
	if !m.initialized.Load() {
		return Message{}, halerr.NotInitialized("messenger")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	id := m.nextID.Add(1)
	msg.Header.Type = Request
	msg.Header.ID = id
	msg.Header.CorrelationID = id
	msg.Header.Timeout = timeout
	if msg.Header.Timestamp.IsZero() {
		msg.Header.Timestamp = time.Now()
	}

	slot := make(chan Message, 1)
	m.pendingMu.Lock()
	m.pending[id] = slot
	m.pendingMu.Unlock()

	start := time.Now()
	if err := m.SendMessage(msg); err != nil {
		m.pendingMu.Lock()
		delete(m.pending, id)
		m.pendingMu.Unlock()
		return Message{}, err
	}

	m.statsMu.Lock()
	m.stats.RequestsSent++
	m.statsMu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case response, ok := <-slot:
		if !ok {
			return Message{}, halerr.NotInitialized("messenger")
		}
		m.recordResponse(time.Since(start))
		return response, nil
	case <-timer.C:
		m.pendingMu.Lock()
		delete(m.pending, id)
		m.pendingMu.Unlock()

		m.statsMu.Lock()
		m.stats.RequestsTimeout++
		m.statsMu.Unlock()
		return Message{}, halerr.Newf(halerr.CategoryResource, "REQUEST_TIMEOUT",
			"no response to request %d within %s", id, timeout)
	}
}

// Stats returns a snapshot of the messenger counters.
func (m *Messenger) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// ClearStats resets all counters.
func (m *Messenger) ClearStats() {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.stats = Stats{}
	m.responses = 0
	m.rttSumMs = 0
}

// QueueDepth returns the approximate number of undelivered messages.
func (m *Messenger) QueueDepth() uint64 {
	if !m.initialized.Load() {
		return 0
	}
	return m.queue.Len()
}

// deliveryLoop drains the queue until Shutdown, sleeping briefly when
// empty.
func (m *Messenger) deliveryLoop() {
	defer m.done.Done()

	var msg Message
	for {
		select {
		case <-m.stop:
			return
		default:
		}

		if m.queue.TryPop(&msg) {
			m.process(msg)
			msg = Message{}
			continue
		}
		time.Sleep(m.poll)
	}
}

// process routes one dequeued message: expired messages are dropped and
// counted, Response messages complete their pending request slot, and all
// other messages fan out to matching handlers. A handler's non-nil return
// is resubmitted as a correlated Response with sender and recipient
// swapped.
func (m *Messenger) process(msg Message) {
	if msg.Expired() {
		m.statsMu.Lock()
		m.stats.MessagesExpired++
		m.statsMu.Unlock()

		m.logger.Debug("message expired",
			zap.Uint64("id", msg.Header.ID),
			zap.String("type", msg.Header.Type.String()))
		return
	}

	m.statsMu.Lock()
	m.stats.MessagesReceived++
	m.statsMu.Unlock()

	if msg.Header.Type == Response {
		m.pendingMu.Lock()
		slot, ok := m.pending[msg.Header.CorrelationID]
		if ok {
			delete(m.pending, msg.Header.CorrelationID)
		}
		m.pendingMu.Unlock()
		if ok {
			slot <- msg
		}
		return
	}

	var targets []Handler
	m.handlersMu.Lock()
	if msg.Header.RecipientID == Broadcast {
		for _, h := range m.handlers {
			if h.CanHandle(msg.Header.Type) {
				targets = append(targets, h)
			}
		}
	} else if h, ok := m.handlers[msg.Header.RecipientID]; ok && h.CanHandle(msg.Header.Type) {
		targets = append(targets, h)
	}
	m.handlersMu.Unlock()

	for _, h := range targets {
		m.dispatch(h, msg)
	}
}

// dispatch delivers one message to one handler. Handler errors and panics
// are swallowed here so delivery continues to the remaining handlers.
func (m *Messenger) dispatch(h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("handler panicked",
				zap.String("handler", h.HandlerID()),
				zap.Uint64("message_id", msg.Header.ID),
				zap.Any("panic", r))
		}
	}()

	response, err := h.HandleMessage(msg)
	if err != nil {
		m.logger.Warn("handler failed",
			zap.String("handler", h.HandlerID()),
			zap.Uint64("message_id", msg.Header.ID),
			zap.Error(err))
		return
	}
	if response == nil {
		return
	}

	response.Header.Type = Response
	response.Header.ID = 0 // reassigned by SendMessage
	response.Header.CorrelationID = msg.Header.ID
	response.Header.RecipientID = msg.Header.SenderID
	response.Header.SenderID = h.HandlerID()
	response.Header.Timestamp = time.Now()
	if response.Header.Timeout == 0 {
		response.Header.Timeout = DefaultTimeout
	}

	if err := m.SendMessage(*response); err != nil {
		m.logger.Warn("response submission failed",
			zap.String("handler", h.HandlerID()),
			zap.Uint64("correlation_id", msg.Header.ID),
			zap.Error(err))
	}
}

// recordResponse folds one answered round-trip into the response average.
func (m *Messenger) recordResponse(rtt time.Duration) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.responses++
	m.rttSumMs += float64(rtt.Microseconds()) / 1000.0
	m.stats.AverageResponseTimeMs = m.rttSumMs / float64(m.responses)
}
