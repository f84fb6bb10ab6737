package dimse

import (
	"github.com/caio-sobreiro/dicomkit/pdu"
	"github.com/caio-sobreiro/dicomkit/types"
)

const (
	// pdvOverhead is the PDV item length field plus context id and
	// message control header.
	pdvOverhead = 6
	// unboundedFragment caps fragments when the peer announced no limit.
	unboundedFragment = 1 << 20
)

// Sender writes P-DATA-TF PDUs to an association.
type Sender interface {
	SendPDataTF(p *pdu.PDataTF) error
}

// MaxFragment is the largest PDV payload that fits a peer's maximum PDU
// length.
func MaxFragment(maxPDULength uint32) int {
	if maxPDULength == 0 || maxPDULength > unboundedFragment {
		return unboundedFragment
	}
	if maxPDULength <= pdvOverhead {
		return 1
	}
	return int(maxPDULength) - pdvOverhead
}

// Fragment splits an encoded command and optional dataset into P-DATA-TF
// PDUs carrying one PDV each. The final fragment of each object is flagged
// last. A nil data slice sends the command only.
func Fragment(contextID byte, command, data []byte, maxPDULength uint32) []*pdu.PDataTF {
	size := MaxFragment(maxPDULength)
	out := split(nil, contextID, true, command, size)
	if data != nil {
		out = split(out, contextID, false, data, size)
	}
	return out
}

func split(out []*pdu.PDataTF, contextID byte, command bool, payload []byte, size int) []*pdu.PDataTF {
	for {
		n := min(len(payload), size)
		last := n == len(payload)
		out = append(out, &pdu.PDataTF{Items: []pdu.PDV{{
			ContextID: contextID,
			Command:   command,
			Last:      last,
			Data:      payload[:n],
		}}})
		if last {
			return out
		}
		payload = payload[n:]
	}
}

// SendMessage encodes msg and sends it with its dataset. The command's
// data set type is set from whether data is nil.
func SendMessage(s Sender, contextID byte, msg *types.Message, data []byte, maxPDULength uint32) error {
	if data == nil {
		msg.CommandDataSetType = types.DataSetAbsent
	} else if msg.CommandDataSetType == types.DataSetAbsent {
		msg.CommandDataSetType = types.DataSetPresent
	}
	command, err := EncodeCommand(msg)
	if err != nil {
		return err
	}
	for _, p := range Fragment(contextID, command, data, maxPDULength) {
		if err := s.SendPDataTF(p); err != nil {
			return err
		}
	}
	return nil
}
