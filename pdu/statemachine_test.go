package pdu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
)

func TestStateMachineRequestorLifecycle(t *testing.T) {
	ctx := context.Background()
	sm := NewStateMachine(nil)
	assert.Equal(t, StateIdle, sm.Current())

	require.NoError(t, sm.Fire(ctx, EventConnect))
	assert.Equal(t, StateAwaitingAccept, sm.Current())
	require.NoError(t, sm.CheckIncoming(TypeAssociateAC))
	require.NoError(t, sm.Fire(ctx, EventAccept))
	assert.Equal(t, StateEstablished, sm.Current())

	require.NoError(t, sm.Fire(ctx, EventReleaseRequest))
	assert.Equal(t, StateAwaitingReleaseResponse, sm.Current())
	require.NoError(t, sm.CheckIncoming(TypeReleaseRP))
	require.NoError(t, sm.Fire(ctx, EventReleaseResponse))
	assert.Equal(t, StateClosed, sm.Current())
	assert.True(t, sm.Terminal())
}

func TestStateMachineRejectsOutOfOrderPDUs(t *testing.T) {
	ctx := context.Background()
	sm := NewStateMachine(nil)
	require.NoError(t, sm.Fire(ctx, EventTransportOpen))

	err := sm.CheckIncoming(TypePDataTF)
	require.Error(t, err)
	assert.ErrorIs(t, err, dicomerrors.ErrProtocolViolation)
	var pv *dicomerrors.ProtocolViolation
	require.ErrorAs(t, err, &pv)
	assert.Equal(t, StateAwaitingRequest, pv.State)
	assert.Equal(t, TypePDataTF, pv.PDUType)

	require.NoError(t, sm.CheckIncoming(TypeAssociateRQ))
	require.NoError(t, sm.Fire(ctx, EventAccept))
	assert.Error(t, sm.CheckIncoming(TypeAssociateRQ))
	assert.NoError(t, sm.CheckIncoming(TypePDataTF))
	assert.NoError(t, sm.CheckIncoming(TypeAbort))
	assert.Error(t, sm.CheckIncoming(0x42))
}

func TestStateMachineAbortIsTerminal(t *testing.T) {
	ctx := context.Background()
	sm := NewStateMachine(nil)
	assert.False(t, sm.Abort(ctx), "idle association cannot abort")

	require.NoError(t, sm.Fire(ctx, EventConnect))
	assert.True(t, sm.Abort(ctx))
	assert.Equal(t, StateAborted, sm.Current())
	assert.False(t, sm.Abort(ctx))
	assert.ErrorIs(t, sm.Fire(ctx, EventAccept), dicomerrors.ErrProtocolViolation)
	assert.Error(t, sm.CheckIncoming(TypeAbort))
}
