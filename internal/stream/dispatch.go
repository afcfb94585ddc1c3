package stream

import (
	"go.uber.org/zap"
)

// Handler consumes decoded stream events. The store implements this;
// each method corresponds to exactly one frame kind.
type Handler interface {
	ApplyNewMessage(NewMessage)
	ApplyReadReceipt(ReadReceipt)
	ApplyUnreadUpdate(UnreadUpdate)
	ApplyPresenceUpdate(PresenceUpdate)
	ApplyTyping(Typing)
	ApplyParticipantUpdate(ParticipantUpdate)
}

// Dispatcher decodes inbound frames and routes each to exactly one
// handler method. It holds no state of its own. Unknown or malformed
// frames are logged and dropped: a single bad frame must not disrupt
// the session.
type Dispatcher struct {
	handler Handler
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher routing into handler.
func NewDispatcher(handler Handler, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{handler: handler, logger: logger}
}

// Dispatch decodes raw and invokes the matching handler.
func (d *Dispatcher) Dispatch(raw []byte) {
	evt, err := DecodeFrame(raw)
	if err != nil {
		d.logger.Warn("dropping stream frame", zap.Error(err))
		return
	}

	switch e := evt.(type) {
	case NewMessage:
		d.handler.ApplyNewMessage(e)
	case ReadReceipt:
		d.handler.ApplyReadReceipt(e)
	case UnreadUpdate:
		d.handler.ApplyUnreadUpdate(e)
	case PresenceUpdate:
		d.handler.ApplyPresenceUpdate(e)
	case Typing:
		d.handler.ApplyTyping(e)
	case ParticipantUpdate:
		d.handler.ApplyParticipantUpdate(e)
	}
}
