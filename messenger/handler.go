package messenger

// Handler is the contract a driver implements to receive messages. Handlers
// run on the delivery worker; a non-nil returned message is sent back to
// the sender as a correlated Response.
type Handler interface {
	// HandlerID returns the handler's stable identity.
	HandlerID() string
	// CanHandle reports whether the handler accepts messages of type t.
	CanHandle(t Type) bool
	// HandleMessage processes a delivered message. Returning a non-nil
	// message produces a Response; errors are counted and swallowed at the
	// dispatch boundary, never propagated to the sender.
	HandleMessage(msg Message) (*Message, error)
}

// HandlerFunc adapts a function to the Handler interface, accepting a fixed
// set of message types.
type HandlerFunc struct {
	ID    string                             // Handler identity
	Types []Type                             // Accepted message types
	Fn    func(msg Message) (*Message, error) // Delivery callback
}

// HandlerID implements Handler.
func (h *HandlerFunc) HandlerID() string { return h.ID }

// CanHandle implements Handler.
func (h *HandlerFunc) CanHandle(t Type) bool {
	for _, accepted := range h.Types {
		if accepted == t {
			return true
		}
	}
	return false
}

// HandleMessage implements Handler.
func (h *HandlerFunc) HandleMessage(msg Message) (*Message, error) {
	return h.Fn(msg)
}
