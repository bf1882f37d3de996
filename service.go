package coord

import (
	"github.com/driverkit/coord/deadlock"
	"github.com/driverkit/coord/messenger"
	"github.com/driverkit/coord/resource"
)

// coordinatorHandler services ResourceRequestPayload messages against the
// engine and registry, so drivers can acquire, release, query and update
// resources asynchronously over the bus instead of calling the engine
// directly.
type coordinatorHandler struct {
	ctx *Context
}

func (h *coordinatorHandler) HandlerID() string { return CoordinatorID }

func (h *coordinatorHandler) CanHandle(t messenger.Type) bool {
	return t == messenger.Request || t == messenger.Resource
}

func (h *coordinatorHandler) HandleMessage(msg messenger.Message) (*messenger.Message, error) {
	payload, ok := msg.Payload.(*messenger.ResourceRequestPayload)
	if !ok {
		return nil, nil
	}

	handle := h.resolve(payload.Handle)
	response := &messenger.ResourceResponsePayload{Handle: handle}

	switch payload.Operation {
	case messenger.OpAcquire:
		err := h.ctx.engine.RequestAcquisition(deadlock.NewRequest(msg.Header.SenderID, handle))
		if err != nil {
			response.Success = false
			response.Message = err.Error()
			if deadlock.IsQueued(err) {
				response.Message = "queued"
			}
		} else {
			response.Success = true
			response.Message = "acquired"
		}

	case messenger.OpRelease:
		if err := h.ctx.engine.Release(msg.Header.SenderID, handle); err != nil {
			response.Success = false
			response.Message = err.Error()
		} else {
			response.Success = true
			response.Message = "released"
		}

	case messenger.OpQuery:
		response.Success = true
		if owner, held := h.ctx.engine.OwnerOf(handle.ID()); held {
			response.Message = "owned by " + owner
		} else {
			response.Message = "free"
		}
		if meta, err := h.ctx.resources.Metadata(handle); err == nil {
			response.Metadata = meta
		}

	case messenger.OpUpdate:
		if err := h.ctx.resources.UpdateMetadata(handle, payload.Metadata); err != nil {
			response.Success = false
			response.Message = err.Error()
		} else {
			response.Success = true
			response.Message = "updated"
		}

	default:
		response.Success = false
		response.Message = "unknown operation"
	}

	out := messenger.NewMessage(messenger.Header{}, response)
	return &out, nil
}

// resolve upgrades an identity-only handle (as restored from the wire) to
// the registry's canonical handle when possible.
func (h *coordinatorHandler) resolve(handle resource.Handle) resource.Handle {
	if full, err := h.ctx.resources.Find(handle.Name()); err == nil {
		return full
	}
	return handle
}
