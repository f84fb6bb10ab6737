package pdu

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
	"github.com/caio-sobreiro/dicomkit/types"
)

type recordingHandler struct {
	mu   sync.Mutex
	pdvs []PDV
	err  error
}

func (h *recordingHandler) HandlePDV(_ context.Context, pdv PDV, _ *Layer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pdvs = append(h.pdvs, pdv)
	return h.err
}

func (h *recordingHandler) received() []PDV {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]PDV(nil), h.pdvs...)
}

func startLayer(t *testing.T, handler DIMSEHandler, opts LayerOptions) (net.Conn, <-chan error, *Layer) {
	t.Helper()
	server, client := net.Pipe()
	layer := NewLayer(server, handler, opts)
	done := make(chan error, 1)
	go func() {
		done <- layer.HandleConnection(context.Background())
	}()
	t.Cleanup(func() { client.Close() })
	return client, done, layer
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("layer did not return")
		return nil
	}
}

func TestLayerAssociateDataRelease(t *testing.T) {
	defer goleak.VerifyNone(t)

	handler := &recordingHandler{}
	conn, done, layer := startLayer(t, handler, LayerOptions{Policy: AcceptorPolicy{AETitle: "ARCHIVE"}})

	require.NoError(t, WritePDU(conn, sampleRQ()))
	p, err := ReadPDU(conn, 0)
	require.NoError(t, err)
	ac, ok := p.(*AssociateAC)
	require.True(t, ok, "got %T", p)
	require.Len(t, ac.PresentationContexts, 2)
	assert.Equal(t, types.ImplicitVRLittleEndian, ac.PresentationContexts[0].TransferSyntax)
	assert.Equal(t, types.ExplicitVRLittleEndian, ac.PresentationContexts[1].TransferSyntax)

	data := &PDataTF{Items: []PDV{{ContextID: 1, Command: true, Last: true, Data: []byte{1, 2}}}}
	require.NoError(t, WritePDU(conn, data))
	require.NoError(t, WritePDU(conn, &ReleaseRQ{}))
	p, err = ReadPDU(conn, 0)
	require.NoError(t, err)
	assert.IsType(t, &ReleaseRP{}, p)

	require.NoError(t, waitResult(t, done))
	assert.Equal(t, StateClosed, layer.State())
	require.Len(t, handler.received(), 1)
	assert.Equal(t, []byte{1, 2}, handler.received()[0].Data)
	assert.Equal(t, "MODALITY", layer.CallingAETitle())
	assert.Equal(t, uint32(32768), layer.MaxPDULength())
	assert.True(t, layer.SupportsSCPRole(types.CTImageStorage))
}

func TestLayerRejectsUnknownCalledAE(t *testing.T) {
	defer goleak.VerifyNone(t)

	conn, done, _ := startLayer(t, &recordingHandler{}, LayerOptions{Policy: AcceptorPolicy{AETitle: "SOMEONE_ELSE"}})
	require.NoError(t, WritePDU(conn, sampleRQ()))
	p, err := ReadPDU(conn, 0)
	require.NoError(t, err)
	rj, ok := p.(*AssociateRJ)
	require.True(t, ok)
	assert.Equal(t, byte(dicomerrors.RejectReasonCalledAETitleNotRecognized), rj.Reason)

	err = waitResult(t, done)
	var nf *dicomerrors.NegotiationFailure
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, dicomerrors.RejectReasonCalledAETitleNotRecognized, nf.Reason)
}

func TestLayerAbortsOnDataBeforeAssociation(t *testing.T) {
	defer goleak.VerifyNone(t)

	conn, done, layer := startLayer(t, &recordingHandler{}, LayerOptions{})
	require.NoError(t, WritePDU(conn, &PDataTF{Items: []PDV{{ContextID: 1, Last: true, Data: []byte{0, 0}}}}))
	p, err := ReadPDU(conn, 0)
	require.NoError(t, err)
	abort, ok := p.(*Abort)
	require.True(t, ok)
	assert.Equal(t, AbortReasonUnexpectedPDU, abort.Reason)

	err = waitResult(t, done)
	assert.ErrorIs(t, err, dicomerrors.ErrProtocolViolation)
	assert.Equal(t, StateAborted, layer.State())
}

func TestLayerAbortsOnUnknownContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	conn, done, _ := startLayer(t, &recordingHandler{}, LayerOptions{})
	require.NoError(t, WritePDU(conn, sampleRQ()))
	_, err := ReadPDU(conn, 0)
	require.NoError(t, err)

	require.NoError(t, WritePDU(conn, &PDataTF{Items: []PDV{{ContextID: 99, Command: true, Last: true, Data: []byte{0, 0}}}}))
	p, err := ReadPDU(conn, 0)
	require.NoError(t, err)
	assert.IsType(t, &Abort{}, p)
	assert.ErrorIs(t, waitResult(t, done), dicomerrors.ErrProtocolViolation)
}

func TestLayerIdleTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	conn, done, layer := startLayer(t, &recordingHandler{}, LayerOptions{IdleTimeout: 50 * time.Millisecond})
	require.NoError(t, WritePDU(conn, sampleRQ()))
	_, err := ReadPDU(conn, 0)
	require.NoError(t, err)

	// Stay silent; the layer should abort.
	p, err := ReadPDU(conn, 0)
	require.NoError(t, err)
	assert.IsType(t, &Abort{}, p)

	err = waitResult(t, done)
	var te *dicomerrors.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, dicomerrors.PhaseIdle, te.Phase)
	assert.Equal(t, StateAborted, layer.State())
}

func TestLayerPeerAbort(t *testing.T) {
	defer goleak.VerifyNone(t)

	conn, done, _ := startLayer(t, &recordingHandler{}, LayerOptions{})
	require.NoError(t, WritePDU(conn, sampleRQ()))
	_, err := ReadPDU(conn, 0)
	require.NoError(t, err)
	require.NoError(t, WritePDU(conn, &Abort{Source: AbortSourceServiceUser}))

	err = waitResult(t, done)
	var ae *dicomerrors.AbortError
	require.ErrorAs(t, err, &ae)
}

func TestLayerAbortBeforeAssociateRequest(t *testing.T) {
	defer goleak.VerifyNone(t)

	conn, done, layer := startLayer(t, &recordingHandler{}, LayerOptions{})
	require.NoError(t, WritePDU(conn, &Abort{Source: AbortSourceServiceUser}))

	err := waitResult(t, done)
	var ae *dicomerrors.AbortError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, StateAborted, layer.State())
}
