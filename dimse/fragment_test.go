package dimse

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomkit/pdu"
	"github.com/caio-sobreiro/dicomkit/types"
)

type MockSender struct {
	PDUs []*pdu.PDataTF
}

func (m *MockSender) SendPDataTF(p *pdu.PDataTF) error {
	m.PDUs = append(m.PDUs, p)
	return nil
}

func TestMaxFragment(t *testing.T) {
	assert.Equal(t, 16378, MaxFragment(16384))
	assert.Equal(t, unboundedFragment, MaxFragment(0))
	assert.Equal(t, 1, MaxFragment(4))
}

func TestFragmentLargeDataset(t *testing.T) {
	data := make([]byte, 50000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	command := []byte{1, 2, 3, 4}
	const maxPDU = 4096

	pdus := Fragment(3, command, data, maxPDU)
	require.Len(t, pdus, 1+(len(data)+maxPDU-7)/(maxPDU-6))

	var rebuilt []byte
	for i, p := range pdus {
		require.Len(t, p.Items, 1)
		pdv := p.Items[0]
		assert.Equal(t, byte(3), pdv.ContextID)
		encoded, err := pdu.Encode(p)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(encoded)-pdu.HeaderLength, maxPDU)
		if i == 0 {
			assert.True(t, pdv.Command)
			assert.True(t, pdv.Last)
			assert.Equal(t, command, pdv.Data)
			continue
		}
		assert.False(t, pdv.Command)
		assert.Equal(t, i == len(pdus)-1, pdv.Last)
		rebuilt = append(rebuilt, pdv.Data...)
	}
	assert.True(t, bytes.Equal(data, rebuilt))
}

func TestFragmentCommandOnly(t *testing.T) {
	pdus := Fragment(1, []byte{1, 2}, nil, 16384)
	require.Len(t, pdus, 1)
	assert.True(t, pdus[0].Items[0].Command)
	assert.True(t, pdus[0].Items[0].Last)
}

func TestSendMessageReassembles(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB, 0xCD}, 10000)
	msg := &types.Message{
		CommandField:           types.CStoreRQ,
		MessageID:              5,
		AffectedSOPClassUID:    types.CTImageStorage,
		AffectedSOPInstanceUID: "1.2.3",
	}
	sender := &MockSender{}
	require.NoError(t, SendMessage(sender, 1, msg, data, 1024))
	assert.Greater(t, len(sender.PDUs), 2)

	var a Assembler
	var got *Received
	for i, p := range sender.PDUs {
		rec, err := a.Add(p.Items[0])
		require.NoError(t, err)
		if i < len(sender.PDUs)-1 {
			assert.Nil(t, rec)
		}
		got = rec
	}
	require.NotNil(t, got)
	assert.Equal(t, byte(1), got.ContextID)
	assert.Equal(t, uint16(5), got.Message.MessageID)
	assert.Equal(t, data, got.Data)
	assert.False(t, a.Pending())
}
