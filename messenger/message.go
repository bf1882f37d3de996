// Package messenger implements the cross-driver messaging system: a bounded
// lock-free message bus with fire-and-forget notifications, broadcast
// events and correlated request/response exchanges between named handlers.
// One background worker drains the queue; submission never blocks.
package messenger

import "time"

// Type classifies a message.
type Type uint8

const (
	Request      Type = iota // Request message expecting a response
	Response                 // Response to a previous request
	Notification             // One-way notification message
	Event                    // System event notification
	Performance              // Performance telemetry data
	Resource                 // Resource-related message
)

// String returns the message type name.
func (t Type) String() string {
	switch t {
	case Request:
		return "request"
	case Response:
		return "response"
	case Notification:
		return "notification"
	case Event:
		return "event"
	case Performance:
		return "performance"
	case Resource:
		return "resource"
	default:
		return "unknown"
	}
}

// Priority orders messages by urgency.
type Priority uint8

const (
	PriorityLow      Priority = 0 // Background messages
	PriorityNormal   Priority = 1 // Standard messages
	PriorityHigh     Priority = 2 // Time-critical messages
	PriorityCritical Priority = 3 // System-critical messages
)

// Broadcast is the reserved recipient marker that routes a message to every
// handler whose CanHandle accepts its type.
const Broadcast = "*"

// DefaultTimeout is the message timeout applied when none is given.
const DefaultTimeout = 5 * time.Second

// Header carries routing and correlation metadata for a message.
type Header struct {
	ID            uint64        // Unique message identifier
	CorrelationID uint64        // Links a Response to its Request
	Type          Type          // Message type
	Priority      Priority      // Message priority
	SenderID      string        // Sending driver identifier
	RecipientID   string        // Receiving driver identifier, or Broadcast
	Timestamp     time.Time     // When the message was created
	Timeout       time.Duration // Message lifetime
	PayloadSize   uint32        // Serialized payload size in bytes
}

// NewHeader returns a header stamped with the current time, Normal priority
// and the default timeout.
func NewHeader(t Type, sender, recipient string) Header {
	return Header{
		Type:        t,
		Priority:    PriorityNormal,
		SenderID:    sender,
		RecipientID: recipient,
		Timestamp:   time.Now(),
		Timeout:     DefaultTimeout,
	}
}

// Payload is the polymorphic message body. Payloads are self-describing by
// type string, serializable and cloneable; the bus clones payloads rather
// than sharing them across handler boundaries.
type Payload interface {
	// PayloadType identifies the concrete payload.
	PayloadType() string
	// MarshalBinary serializes the payload.
	MarshalBinary() ([]byte, error)
	// UnmarshalBinary restores the payload from serialized bytes.
	UnmarshalBinary(data []byte) error
	// Clone returns an independent copy.
	Clone() Payload
}

// Message is a value type: once submitted to the bus, ownership transfers
// to the messaging subsystem until delivered or dropped as expired.
type Message struct {
	Header  Header  // Routing and correlation metadata
	Payload Payload // Optional body, may be nil
}

// NewMessage builds a message and records the payload size in the header.
func NewMessage(header Header, payload Payload) Message {
	m := Message{Header: header}
	m.SetPayload(payload)
	return m
}

// SetPayload replaces the payload and updates the header's payload size.
func (m *Message) SetPayload(payload Payload) {
	m.Payload = payload
	m.Header.PayloadSize = 0
	if payload != nil {
		if data, err := payload.MarshalBinary(); err == nil {
			m.Header.PayloadSize = uint32(len(data))
		}
	}
}

// Age returns the time elapsed since the message was created.
func (m *Message) Age() time.Duration {
	return time.Since(m.Header.Timestamp)
}

// Expired reports whether the message outlived its header timeout.
func (m *Message) Expired() bool {
	return m.Age() >= m.Header.Timeout
}
