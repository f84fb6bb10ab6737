package dimse

import (
	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
	"github.com/caio-sobreiro/dicomkit/pdu"
	"github.com/caio-sobreiro/dicomkit/types"
)

// Received is a fully reassembled message.
type Received struct {
	ContextID byte
	Message   *types.Message
	// Data is nil when the command announced no dataset.
	Data []byte
}

// Assembler rebuilds messages from PDVs. One message is assembled at a
// time and all of its PDVs must share a presentation context.
type Assembler struct {
	active    bool
	contextID byte
	command   []byte
	data      []byte
	msg       *types.Message
}

// Add consumes one PDV and returns the message it completes, if any.
func (a *Assembler) Add(pdv pdu.PDV) (*Received, error) {
	if !a.active {
		if !pdv.Command {
			return nil, a.violation("data fragment on context %d before any command", pdv.ContextID)
		}
		a.active = true
		a.contextID = pdv.ContextID
	} else if pdv.ContextID != a.contextID {
		return nil, a.violation("context changed from %d to %d mid-message", a.contextID, pdv.ContextID)
	}

	if a.msg == nil {
		if !pdv.Command {
			return nil, a.violation("data fragment before command on context %d was complete", pdv.ContextID)
		}
		a.command = append(a.command, pdv.Data...)
		if !pdv.Last {
			return nil, nil
		}
		msg, err := DecodeCommand(a.command)
		if err != nil {
			a.Reset()
			return nil, err
		}
		if !msg.HasDataset() {
			return a.complete(msg, nil), nil
		}
		a.msg = msg
		a.data = []byte{}
		return nil, nil
	}

	if pdv.Command {
		return nil, a.violation("command fragment while awaiting dataset on context %d", pdv.ContextID)
	}
	a.data = append(a.data, pdv.Data...)
	if !pdv.Last {
		return nil, nil
	}
	return a.complete(a.msg, a.data), nil
}

// Pending reports whether a message is partially assembled.
func (a *Assembler) Pending() bool {
	return a.active
}

// Reset discards any partial message.
func (a *Assembler) Reset() {
	*a = Assembler{}
}

func (a *Assembler) complete(msg *types.Message, data []byte) *Received {
	r := &Received{ContextID: a.contextID, Message: msg, Data: data}
	a.Reset()
	return r
}

func (a *Assembler) violation(format string, args ...any) error {
	a.Reset()
	return dicomerrors.NewProtocolViolation(pdu.StateEstablished, pdu.TypePDataTF, format, args...)
}
