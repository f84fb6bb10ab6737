package dimse

import (
	"fmt"
	"sync"

	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
	"github.com/caio-sobreiro/dicomkit/pdu"
	"github.com/caio-sobreiro/dicomkit/types"
)

// Tracker records the message ids of requests awaiting a final response.
type Tracker struct {
	mu          sync.Mutex
	outstanding map[uint16]uint16
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{outstanding: make(map[uint16]uint16)}
}

// Register records a request. Reusing an outstanding id is an error.
func (t *Tracker) Register(messageID, command uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.outstanding[messageID]; ok {
		return fmt.Errorf("%w: message id %d already outstanding for %s",
			dicomerrors.ErrInvalidMessage, messageID, types.CommandName(prev))
	}
	t.outstanding[messageID] = command
	return nil
}

// Resolve matches a response to its request. A final response retires the
// id, so a second final response for it is a protocol violation, as is a
// response to an id that was never sent or whose command differs.
func (t *Tracker) Resolve(rsp *types.Message, final bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	command, ok := t.outstanding[rsp.MessageIDBeingRespondedTo]
	if !ok {
		return dicomerrors.NewProtocolViolation(pdu.StateEstablished, pdu.TypePDataTF,
			"%s responds to unknown message id %d", types.CommandName(rsp.CommandField), rsp.MessageIDBeingRespondedTo)
	}
	if types.ResponseCommandFor(command) != rsp.CommandField {
		return dicomerrors.NewProtocolViolation(pdu.StateEstablished, pdu.TypePDataTF,
			"%s does not answer %s (message id %d)", types.CommandName(rsp.CommandField), types.CommandName(command), rsp.MessageIDBeingRespondedTo)
	}
	if final {
		delete(t.outstanding, rsp.MessageIDBeingRespondedTo)
	}
	return nil
}

// Forget drops an id without a response, e.g. after a local failure.
func (t *Tracker) Forget(messageID uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.outstanding, messageID)
}

// Outstanding returns the number of requests awaiting a final response.
func (t *Tracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.outstanding)
}
