package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/caio-sobreiro/dicomkit/dicom"
	"github.com/caio-sobreiro/dicomkit/dimse"
	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
	"github.com/caio-sobreiro/dicomkit/interfaces"
	"github.com/caio-sobreiro/dicomkit/pdu"
	"github.com/caio-sobreiro/dicomkit/types"
)

// testSCP answers requests the way a small archive would.
type testSCP struct {
	matches     []*dicom.Dataset
	waitCancel  bool
	storeStatus uint16
	storeText   string
	instances   []*dicom.Dataset

	mu       sync.Mutex
	requests []*types.Message
}

func (h *testSCP) HandleDIMSE(_ context.Context, msg *types.Message, _ *dicom.Dataset, _ interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	rsp := &types.Message{
		CommandField:              types.ResponseCommandFor(msg.CommandField),
		MessageIDBeingRespondedTo: msg.MessageID,
		AffectedSOPClassUID:       msg.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    msg.AffectedSOPInstanceUID,
	}
	switch msg.CommandField {
	case types.CStoreRQ:
		rsp.Status = h.storeStatus
		rsp.ErrorComment = h.storeText
	case types.NCreateRQ:
		if rsp.AffectedSOPInstanceUID == "" {
			rsp.AffectedSOPInstanceUID = "1.2.826.0.1.3680043.10.1417.99"
		}
	case types.NSetRQ:
		rsp.AffectedSOPClassUID = msg.RequestedSOPClassUID
		rsp.AffectedSOPInstanceUID = msg.RequestedSOPInstanceUID
	}
	return rsp, nil, nil
}

func (h *testSCP) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data *dicom.Dataset, meta interfaces.MessageContext, r interfaces.ResponseSender) error {
	h.mu.Lock()
	h.requests = append(h.requests, msg)
	h.mu.Unlock()

	final := &types.Message{
		CommandField:              types.ResponseCommandFor(msg.CommandField),
		MessageIDBeingRespondedTo: msg.MessageID,
		AffectedSOPClassUID:       msg.AffectedSOPClassUID,
	}
	switch msg.CommandField {
	case types.CFindRQ:
		for i, match := range h.matches {
			pending := *final
			pending.Status = types.StatusPending
			if err := r.SendResponse(&pending, match); err != nil {
				if errors.Is(err, dicomerrors.ErrOperationCanceled) {
					break
				}
				return err
			}
			if i == 0 && h.waitCancel {
				select {
				case <-ctx.Done():
				case <-time.After(5 * time.Second):
				}
			}
		}
		if ctx.Err() != nil {
			final.Status = types.StatusCancel
		}
		return r.SendResponse(final, nil)
	case types.CGetRQ:
		getter := r.(interfaces.CGetResponder)
		var completed, failed uint16
		for i, ds := range h.instances {
			status, err := getter.SendCStore(ctx, ds.GetString(dicom.SOPClassUID), ds.GetString(dicom.SOPInstanceUID), ds)
			if err != nil {
				return err
			}
			if status == types.StatusSuccess {
				completed++
			} else {
				failed++
			}
			remaining := uint16(len(h.instances) - i - 1)
			pending := *final
			pending.Status = types.StatusPending
			pending.NumberOfRemainingSuboperations = &remaining
			pending.NumberOfCompletedSuboperations = &completed
			pending.NumberOfFailedSuboperations = &failed
			if err := r.SendResponse(&pending, nil); err != nil {
				return err
			}
		}
		var zero uint16
		final.NumberOfRemainingSuboperations = &zero
		final.NumberOfCompletedSuboperations = &completed
		final.NumberOfFailedSuboperations = &failed
		final.NumberOfWarningSuboperations = &zero
		return r.SendResponse(final, nil)
	}
	rsp, rspData, err := h.HandleDIMSE(ctx, msg, data, meta)
	if err != nil {
		return err
	}
	return r.SendResponse(rsp, rspData)
}

func startSCP(t *testing.T, handler interfaces.ServiceHandler, policy pdu.AcceptorPolicy) (net.Conn, <-chan error) {
	t.Helper()
	server, client := net.Pipe()
	layer := pdu.NewLayer(server, dimse.NewService(handler, "ARCHIVE", nil), pdu.LayerOptions{
		Policy:      policy,
		IdleTimeout: 5 * time.Second,
	})
	done := make(chan error, 1)
	go func() {
		done <- layer.HandleConnection(context.Background())
	}()
	return client, done
}

func waitSCP(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("SCP did not return")
		return nil
	}
}

func testConfig() Config {
	return Config{
		CallingAETitle: "MODALITY",
		CalledAETitle:  "ARCHIVE",
		IdleTimeout:    5 * time.Second,
		ConnectTimeout: 5 * time.Second,
	}
}

func associate(t *testing.T, handler interfaces.ServiceHandler, cfg Config) (*Association, <-chan error) {
	t.Helper()
	conn, done := startSCP(t, handler, pdu.AcceptorPolicy{AETitle: "ARCHIVE"})
	assoc, err := NewAssociation(context.Background(), conn, cfg)
	require.NoError(t, err)
	return assoc, done
}

func patient(id, name string) *dicom.Dataset {
	ds := dicom.NewDataset()
	ds.SetString(dicom.PatientID, dicom.VR_LO, id)
	ds.SetString(dicom.PatientName, dicom.VR_PN, name)
	return ds
}

func instance(uid string) *dicom.Dataset {
	ds := dicom.NewDataset()
	ds.SetString(dicom.SOPClassUID, dicom.VR_UI, types.CTImageStorage)
	ds.SetString(dicom.SOPInstanceUID, dicom.VR_UI, uid)
	ds.SetString(dicom.PatientID, dicom.VR_LO, "P1")
	return ds
}

func TestEchoAndRelease(t *testing.T) {
	defer goleak.VerifyNone(t)

	assoc, done := associate(t, &testSCP{}, testConfig())
	assert.Equal(t, pdu.StateEstablished, assoc.State())

	result, err := assoc.Echo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(types.StatusSuccess), result.Status)
	assert.Greater(t, result.Elapsed, time.Duration(0))

	require.NoError(t, assoc.Release(context.Background()))
	assert.Equal(t, pdu.StateClosed, assoc.State())
	require.NoError(t, waitSCP(t, done))
}

func TestAssociationRejected(t *testing.T) {
	defer goleak.VerifyNone(t)

	conn, done := startSCP(t, &testSCP{}, pdu.AcceptorPolicy{AETitle: "ARCHIVE"})
	cfg := testConfig()
	cfg.CalledAETitle = "NOT_ARCHIVE"
	_, err := NewAssociation(context.Background(), conn, cfg)

	var nf *dicomerrors.NegotiationFailure
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, dicomerrors.RejectPermanent, nf.Result)
	assert.Equal(t, dicomerrors.RejectSourceServiceUser, nf.Source)
	assert.Equal(t, dicomerrors.RejectReasonCalledAETitleNotRecognized, nf.Reason)
	assert.ErrorIs(t, err, dicomerrors.ErrAssociationRejected)
	assert.Error(t, waitSCP(t, done))
}

func TestNegotiationTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	server, client := net.Pipe()
	peer := make(chan struct{})
	go func() {
		defer close(peer)
		defer server.Close()
		// Read the request and whatever follows without answering.
		for {
			if _, err := pdu.ReadPDU(server, 0); err != nil {
				return
			}
		}
	}()

	cfg := testConfig()
	cfg.ConnectTimeout = 100 * time.Millisecond
	_, err := NewAssociation(context.Background(), client, cfg)

	var te *dicomerrors.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, dicomerrors.PhaseNegotiate, te.Phase)
	<-peer
}

func TestFindCollectsMatches(t *testing.T) {
	defer goleak.VerifyNone(t)

	scp := &testSCP{matches: []*dicom.Dataset{
		patient("P1", "Doe^John"),
		patient("P2", "Doe^Jane"),
		patient("P3", "Roe^Richard"),
	}}
	assoc, done := associate(t, scp, testConfig())

	query := dicom.NewDataset()
	query.SetString(dicom.QueryRetrieveLevel, dicom.VR_CS, "PATIENT")
	query.SetString(dicom.PatientName, dicom.VR_PN, "*")
	matches, result, err := assoc.FindAll(context.Background(), &FindRequest{
		SOPClassUID: types.PatientRootQueryRetrieveInformationModelFind,
		Identifier:  query,
	})
	require.NoError(t, err)
	assert.Equal(t, uint16(types.StatusSuccess), result.Status)
	assert.Equal(t, 3, result.Matches)
	assert.False(t, result.Canceled)
	require.Len(t, matches, 3)
	assert.Equal(t, "P2", matches[1].GetString(dicom.PatientID))

	require.NoError(t, assoc.Release(context.Background()))
	require.NoError(t, waitSCP(t, done))
}

func TestFindReportsUndecodableMatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	broken := patient("P2", "Doe^Jane")
	broken.Set(dicom.NewElement(dicom.ItemTag, dicom.VR_UN, []byte{0, 0}))
	scp := &testSCP{matches: []*dicom.Dataset{
		patient("P1", "Doe^John"),
		broken,
		patient("P3", "Roe^Richard"),
	}}
	assoc, done := associate(t, scp, testConfig())

	matches, result, err := assoc.FindAll(context.Background(), &FindRequest{
		SOPClassUID: types.PatientRootQueryRetrieveInformationModelFind,
	})
	var fe *dicomerrors.FormatError
	require.ErrorAs(t, err, &fe)
	require.NotNil(t, result)
	assert.Equal(t, uint16(types.StatusSuccess), result.Status)
	assert.Equal(t, 3, result.Matches)
	require.Len(t, result.DecodeErrors, 1)
	require.Len(t, matches, 2)
	assert.Equal(t, "P3", matches[1].GetString(dicom.PatientID))

	require.NoError(t, assoc.Release(context.Background()))
	require.NoError(t, waitSCP(t, done))
}

func TestFindCancelFromCallback(t *testing.T) {
	defer goleak.VerifyNone(t)

	scp := &testSCP{
		matches:    []*dicom.Dataset{patient("P1", "A"), patient("P2", "B"), patient("P3", "C")},
		waitCancel: true,
	}
	assoc, done := associate(t, scp, testConfig())

	calls := 0
	result, err := assoc.Find(context.Background(), &FindRequest{}, func(*dicom.Dataset) bool {
		calls++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, result.Canceled)
	assert.Equal(t, uint16(types.StatusCancel), result.Status)

	// The association is still usable after a cancelled query.
	_, err = assoc.Echo(context.Background())
	require.NoError(t, err)

	require.NoError(t, assoc.Release(context.Background()))
	require.NoError(t, waitSCP(t, done))
}

func TestFindContextCancelAborts(t *testing.T) {
	defer goleak.VerifyNone(t)

	scp := &testSCP{matches: []*dicom.Dataset{patient("P1", "A"), patient("P2", "B")}, waitCancel: true}
	assoc, done := associate(t, scp, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := assoc.Find(ctx, &FindRequest{}, func(*dicom.Dataset) bool {
		cancel()
		return true
	})
	assert.ErrorIs(t, err, dicomerrors.ErrOperationCanceled)
	assert.Equal(t, pdu.StateAborted, assoc.State())

	var abort *dicomerrors.AbortError
	assert.ErrorAs(t, waitSCP(t, done), &abort)
}

func TestStoreWarning(t *testing.T) {
	defer goleak.VerifyNone(t)

	scp := &testSCP{storeStatus: types.StatusWarningCoercion, storeText: "coerced"}
	assoc, done := associate(t, scp, testConfig())

	result, err := assoc.Store(context.Background(), &StoreRequest{Dataset: instance("1.2.3.4")})
	require.NoError(t, err)
	assert.Equal(t, uint16(types.StatusWarningCoercion), result.Status)
	require.NotNil(t, result.Warning)
	assert.True(t, result.Warning.IsWarning())
	assert.Equal(t, "coerced", result.Warning.ErrorComment)

	require.NoError(t, assoc.Release(context.Background()))
	require.NoError(t, waitSCP(t, done))
}

func TestStoreFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	scp := &testSCP{storeStatus: types.StatusOutOfResources}
	assoc, done := associate(t, scp, testConfig())

	_, err := assoc.Store(context.Background(), &StoreRequest{Dataset: instance("1.2.3.4")})
	var rr *dicomerrors.RemoteRejection
	require.ErrorAs(t, err, &rr)
	assert.Equal(t, uint16(types.StatusOutOfResources), rr.Status)
	assert.True(t, rr.IsFailure())

	_, err = assoc.Store(context.Background(), &StoreRequest{Dataset: dicom.NewDataset()})
	assert.Error(t, err)

	require.NoError(t, assoc.Release(context.Background()))
	require.NoError(t, waitSCP(t, done))
}

func TestStoreWithoutContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.AbstractSyntaxes = []string{types.VerificationSOPClass}
	assoc, done := associate(t, &testSCP{}, cfg)

	_, err := assoc.Store(context.Background(), &StoreRequest{Dataset: instance("1.2.3.4")})
	assert.ErrorIs(t, err, dicomerrors.ErrNoPresentationCtx)

	require.NoError(t, assoc.Release(context.Background()))
	require.NoError(t, waitSCP(t, done))
}

func TestGetReceivesSubOperations(t *testing.T) {
	defer goleak.VerifyNone(t)

	scp := &testSCP{instances: []*dicom.Dataset{instance("1.2.3.1"), instance("1.2.3.2")}}
	cfg := testConfig()
	cfg.StorageSCPRole = true
	assoc, done := associate(t, scp, cfg)

	var received []string
	var progress []Progress
	query := dicom.NewDataset()
	query.SetString(dicom.QueryRetrieveLevel, dicom.VR_CS, "PATIENT")
	query.SetString(dicom.PatientID, dicom.VR_LO, "P1")
	result, err := assoc.Get(context.Background(), &GetRequest{Identifier: query},
		func(p Progress) { progress = append(progress, p) },
		func(_ context.Context, sopClass, sopInstance string, ds *dicom.Dataset) uint16 {
			assert.Equal(t, types.CTImageStorage, sopClass)
			assert.Equal(t, sopInstance, ds.GetString(dicom.SOPInstanceUID))
			received = append(received, sopInstance)
			return types.StatusSuccess
		})
	require.NoError(t, err)
	assert.Equal(t, uint16(types.StatusSuccess), result.Status)
	assert.Equal(t, []string{"1.2.3.1", "1.2.3.2"}, received)
	assert.Equal(t, Progress{Completed: 2}, result.Progress)
	require.Len(t, progress, 2)
	assert.Equal(t, uint16(1), progress[0].Remaining)

	require.NoError(t, assoc.Release(context.Background()))
	require.NoError(t, waitSCP(t, done))
}

func TestProcedureStepLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	assoc, done := associate(t, &testSCP{}, testConfig())

	attrs := dicom.NewDataset()
	attrs.SetString(dicom.PerformedProcedureStepStatus, dicom.VR_CS, types.ProcedureStepInProgress)
	created, err := assoc.CreateProcedureStep(context.Background(), "", attrs)
	require.NoError(t, err)
	assert.Equal(t, "1.2.826.0.1.3680043.10.1417.99", created.SOPInstanceUID)

	update := CompletedProcedureStep("1.2.3", []ReferencedInstance{{SOPClassUID: types.CTImageStorage, SOPInstanceUID: "1.2.3.1"}})
	updated, err := assoc.UpdateProcedureStep(context.Background(), created.SOPInstanceUID, update)
	require.NoError(t, err)
	assert.Equal(t, created.SOPInstanceUID, updated.SOPInstanceUID)

	_, err = assoc.UpdateProcedureStep(context.Background(), "", update)
	assert.ErrorIs(t, err, dicomerrors.ErrInvalidMessage)

	require.NoError(t, assoc.Release(context.Background()))
	require.NoError(t, waitSCP(t, done))
}

func TestOperationAfterRelease(t *testing.T) {
	defer goleak.VerifyNone(t)

	assoc, done := associate(t, &testSCP{}, testConfig())
	require.NoError(t, assoc.Release(context.Background()))
	require.NoError(t, waitSCP(t, done))

	_, err := assoc.Echo(context.Background())
	assert.ErrorIs(t, err, dicomerrors.ErrConnectionClosed)
}
