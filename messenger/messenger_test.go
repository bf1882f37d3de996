package messenger

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driverkit/coord/halerr"
)

func newTestMessenger(t *testing.T, opts ...Option) *Messenger {
	t.Helper()
	m := New(nil, opts...)
	require.NoError(t, m.Initialize())
	t.Cleanup(func() { m.Shutdown() })
	return m
}

func echoHandler(id string) *HandlerFunc {
	return &HandlerFunc{
		ID:    id,
		Types: []Type{Request},
		Fn: func(msg Message) (*Message, error) {
			out := NewMessage(Header{}, &ResourceResponsePayload{Success: true, Message: "pong"})
			return &out, nil
		},
	}
}

func TestNotInitialized(t *testing.T) {
	m := New(nil)

	err := m.SendMessage(NewMessage(NewHeader(Notification, "a", "b"), nil))
	assert.True(t, halerr.IsInternal(err))

	err = m.RegisterHandler("a", echoHandler("a"))
	assert.True(t, halerr.IsInternal(err))

	_, err = m.SendRequest(NewMessage(NewHeader(Request, "a", "b"), nil), time.Second)
	assert.True(t, halerr.IsInternal(err))

	assert.Zero(t, m.QueueDepth())
}

func TestRegisterHandler(t *testing.T) {
	m := newTestMessenger(t)

	require.NoError(t, m.RegisterHandler("audio", echoHandler("audio")))

	err := m.RegisterHandler("audio", echoHandler("audio"))
	require.Error(t, err)
	assert.Equal(t, "ALREADY_EXISTS", halerr.CodeOf(err))

	err = m.RegisterHandler("nil", nil)
	require.Error(t, err)
	assert.True(t, halerr.IsConfiguration(err))

	require.NoError(t, m.UnregisterHandler("audio"))
	err = m.UnregisterHandler("audio")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", halerr.CodeOf(err))
}

func TestRequestResponseRoundTrip(t *testing.T) {
	m := newTestMessenger(t)
	require.NoError(t, m.RegisterHandler("audio", echoHandler("audio")))

	request := NewMessage(
		NewHeader(Request, "gpu", "audio"),
		&ResourceResponsePayload{Success: true, Message: "ping"},
	)
	response, err := m.SendRequest(request, 500*time.Millisecond)
	require.NoError(t, err)

	// Response routing swaps the endpoints.
	assert.Equal(t, Response, response.Header.Type)
	assert.Equal(t, "audio", response.Header.SenderID)
	assert.Equal(t, "gpu", response.Header.RecipientID)
	assert.NotZero(t, response.Header.CorrelationID)

	payload, ok := response.Payload.(*ResourceResponsePayload)
	require.True(t, ok)
	assert.Equal(t, "pong", payload.Message)

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.RequestsSent)
	assert.Zero(t, stats.RequestsTimeout)
	assert.GreaterOrEqual(t, stats.AverageResponseTimeMs, 0.0)
}

func TestRequestEchoesExactPayload(t *testing.T) {
	m := newTestMessenger(t)

	require.NoError(t, m.RegisterHandler("echo", &HandlerFunc{
		ID:    "echo",
		Types: []Type{Request},
		Fn: func(msg Message) (*Message, error) {
			out := NewMessage(Header{}, msg.Payload.Clone())
			return &out, nil
		},
	}))

	sent := &PerformancePayload{
		DriverID: "gpu",
		Metrics:  []Metric{{Name: "frame_time", Value: 16.6, Unit: "ms"}},
	}
	response, err := m.SendRequest(NewMessage(NewHeader(Request, "gpu", "echo"), sent), 500*time.Millisecond)
	require.NoError(t, err)

	got, ok := response.Payload.(*PerformancePayload)
	require.True(t, ok)
	assert.Equal(t, sent.DriverID, got.DriverID)
	assert.Equal(t, sent.Metrics, got.Metrics)
}

func TestRequestTimeout(t *testing.T) {
	m := newTestMessenger(t)

	_, err := m.SendRequest(NewMessage(NewHeader(Request, "gpu", "nobody"), nil), 30*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, "REQUEST_TIMEOUT", halerr.CodeOf(err))
	assert.True(t, halerr.IsResource(err))
	assert.Equal(t, uint64(1), m.Stats().RequestsTimeout)
}

func TestExpiredMessageNeverDelivered(t *testing.T) {
	m := newTestMessenger(t)

	var delivered atomic.Bool
	require.NoError(t, m.RegisterHandler("audio", &HandlerFunc{
		ID:    "audio",
		Types: []Type{Notification},
		Fn: func(msg Message) (*Message, error) {
			delivered.Store(true)
			return nil, nil
		},
	}))

	header := NewHeader(Notification, "gpu", "audio")
	header.Timeout = 0 // already expired on arrival
	require.NoError(t, m.SendMessage(Message{Header: header}))

	require.Eventually(t, func() bool {
		return m.Stats().MessagesExpired == 1
	}, time.Second, time.Millisecond)
	assert.False(t, delivered.Load())
}

func TestBroadcast(t *testing.T) {
	m := newTestMessenger(t)

	var received atomic.Int32
	listener := func(id string) *HandlerFunc {
		return &HandlerFunc{
			ID:    id,
			Types: []Type{Event},
			Fn: func(msg Message) (*Message, error) {
				received.Add(1)
				return nil, nil
			},
		}
	}
	require.NoError(t, m.RegisterHandler("audio", listener("audio")))
	require.NoError(t, m.RegisterHandler("gpu", listener("gpu")))

	// A handler that does not accept events stays untouched.
	require.NoError(t, m.RegisterHandler("storage", echoHandler("storage")))

	require.NoError(t, m.BroadcastEvent("platform", nil))

	require.Eventually(t, func() bool {
		return received.Load() == 2
	}, time.Second, time.Millisecond)
}

func TestNotificationRouting(t *testing.T) {
	m := newTestMessenger(t)

	var got atomic.Value
	require.NoError(t, m.RegisterHandler("audio", &HandlerFunc{
		ID:    "audio",
		Types: []Type{Notification},
		Fn: func(msg Message) (*Message, error) {
			got.Store(msg.Header.SenderID)
			return nil, nil
		},
	}))

	require.NoError(t, m.SendNotification("gpu", "audio", nil, PriorityHigh))

	require.Eventually(t, func() bool {
		sender, ok := got.Load().(string)
		return ok && sender == "gpu"
	}, time.Second, time.Millisecond)
}

func TestQueueFull(t *testing.T) {
	m := newTestMessenger(t, WithQueueCapacity(2), WithPollInterval(time.Millisecond))

	// Park the worker inside a handler so the queue cannot drain.
	entered := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, m.RegisterHandler("block", &HandlerFunc{
		ID:    "block",
		Types: []Type{Notification},
		Fn: func(msg Message) (*Message, error) {
			close(entered)
			<-release
			return nil, nil
		},
	}))
	defer close(release)

	require.NoError(t, m.SendNotification("gpu", "block", nil, PriorityNormal))
	<-entered

	require.NoError(t, m.SendNotification("gpu", "audio", nil, PriorityNormal))
	require.NoError(t, m.SendNotification("gpu", "audio", nil, PriorityNormal))

	err := m.SendNotification("gpu", "audio", nil, PriorityNormal)
	require.Error(t, err)
	assert.Equal(t, "QUEUE_FULL", halerr.CodeOf(err))
	assert.Equal(t, uint64(1), m.Stats().MessagesDropped)
}

func TestHandlerErrorIsSwallowed(t *testing.T) {
	m := newTestMessenger(t)

	require.NoError(t, m.RegisterHandler("flaky", &HandlerFunc{
		ID:    "flaky",
		Types: []Type{Request},
		Fn: func(msg Message) (*Message, error) {
			return nil, halerr.New(halerr.CategoryInternal, "BOOM", "handler failure")
		},
	}))
	require.NoError(t, m.RegisterHandler("audio", echoHandler("audio")))

	// The flaky handler times out its caller but does not poison the bus.
	_, err := m.SendRequest(NewMessage(NewHeader(Request, "gpu", "flaky"), nil), 30*time.Millisecond)
	require.Error(t, err)

	response, err := m.SendRequest(NewMessage(NewHeader(Request, "gpu", "audio"), nil), 500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "audio", response.Header.SenderID)
}

func TestHandlerPanicIsContained(t *testing.T) {
	m := newTestMessenger(t)

	require.NoError(t, m.RegisterHandler("panicky", &HandlerFunc{
		ID:    "panicky",
		Types: []Type{Notification},
		Fn: func(msg Message) (*Message, error) {
			panic("handler bug")
		},
	}))
	require.NoError(t, m.RegisterHandler("audio", echoHandler("audio")))

	require.NoError(t, m.SendNotification("gpu", "panicky", nil, PriorityNormal))

	response, err := m.SendRequest(NewMessage(NewHeader(Request, "gpu", "audio"), nil), 500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "audio", response.Header.SenderID)
}

func TestShutdownIdempotentAndRestart(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Initialize())
	require.NoError(t, m.RegisterHandler("audio", echoHandler("audio")))

	require.NoError(t, m.Shutdown())
	require.NoError(t, m.Shutdown())

	// Handlers are cleared; a restart begins empty.
	require.NoError(t, m.Initialize())
	defer m.Shutdown()
	require.NoError(t, m.RegisterHandler("audio", echoHandler("audio")))
}

func TestMessageExpiry(t *testing.T) {
	msg := NewMessage(NewHeader(Notification, "a", "b"), nil)
	assert.False(t, msg.Expired())

	msg.Header.Timestamp = time.Now().Add(-10 * time.Second)
	assert.True(t, msg.Expired())
}
