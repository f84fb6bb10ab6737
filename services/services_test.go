package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomkit/client"
	"github.com/caio-sobreiro/dicomkit/dicom"
	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
	"github.com/caio-sobreiro/dicomkit/interfaces"
	"github.com/caio-sobreiro/dicomkit/types"
)

// mockResponder implements interfaces.CGetResponder.
type mockResponder struct {
	mu        sync.Mutex
	responses []*types.Message
	datasets  []*dicom.Dataset
	stored    []string
	storeFunc func(sopInstanceUID string) (uint16, error)
	sendFunc  func(msg *types.Message) error
}

func (m *mockResponder) SendResponse(msg *types.Message, ds *dicom.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendFunc != nil {
		if err := m.sendFunc(msg); err != nil {
			return err
		}
	}
	m.responses = append(m.responses, msg)
	m.datasets = append(m.datasets, ds)
	return nil
}

func (m *mockResponder) SendCStore(_ context.Context, _, sopInstanceUID string, _ *dicom.Dataset) (uint16, error) {
	m.mu.Lock()
	m.stored = append(m.stored, sopInstanceUID)
	m.mu.Unlock()
	if m.storeFunc != nil {
		return m.storeFunc(sopInstanceUID)
	}
	return types.StatusSuccess, nil
}

func (m *mockResponder) last() *types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.responses[len(m.responses)-1]
}

func testMeta() interfaces.MessageContext {
	return interfaces.MessageContext{
		ContextID:         1,
		TransferSyntaxUID: types.ExplicitVRLittleEndian,
		CallingAETitle:    "MODALITY",
		CalledAETitle:     "ARCHIVE",
	}
}

func ctInstance(patientID, name, study, series, sop, modality string) *dicom.Dataset {
	ds := dicom.NewDataset()
	ds.SetString(dicom.SOPClassUID, dicom.VR_UI, types.CTImageStorage)
	ds.SetString(dicom.SOPInstanceUID, dicom.VR_UI, sop)
	ds.SetString(dicom.StudyInstanceUID, dicom.VR_UI, study)
	ds.SetString(dicom.SeriesInstanceUID, dicom.VR_UI, series)
	ds.SetString(dicom.PatientID, dicom.VR_LO, patientID)
	ds.SetString(dicom.PatientName, dicom.VR_PN, name)
	ds.SetString(dicom.StudyDate, dicom.VR_DA, "20240115")
	ds.SetString(dicom.Modality, dicom.VR_CS, modality)
	return ds
}

func seededStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	for _, ds := range []*dicom.Dataset{
		ctInstance("P1", "Doe^John", "1.2.1", "1.2.1.1", "1.2.1.1.1", "CT"),
		ctInstance("P1", "Doe^John", "1.2.1", "1.2.1.1", "1.2.1.1.2", "CT"),
		ctInstance("P1", "Doe^John", "1.2.1", "1.2.1.2", "1.2.1.2.1", "SR"),
		ctInstance("P2", "Roe^Jane", "1.2.2", "1.2.2.1", "1.2.2.1.1", "MR"),
	} {
		require.NoError(t, store.Store(context.Background(), InstanceFromDataset(ds)))
	}
	return store
}

func request(command uint16, sopClass string) *types.Message {
	return &types.Message{CommandField: command, MessageID: 7, AffectedSOPClassUID: sopClass}
}

func TestRegistryRouting(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterHandler(types.CEchoRQ, NewEchoService(nil))
	assert.True(t, r.HasHandler(types.CEchoRQ))
	assert.Equal(t, []uint16{types.CEchoRQ}, r.RegisteredCommands())

	rsp, _, err := r.HandleDIMSE(context.Background(), request(types.CEchoRQ, types.VerificationSOPClass), nil, testMeta())
	require.NoError(t, err)
	assert.Equal(t, uint16(types.CEchoRSP), rsp.CommandField)
	assert.Equal(t, uint16(7), rsp.MessageIDBeingRespondedTo)
	assert.Equal(t, uint16(types.StatusSuccess), rsp.Status)

	responder := &mockResponder{}
	require.NoError(t, r.HandleDIMSEStreaming(context.Background(), request(types.NDeleteRQ, ""), nil, testMeta(), responder))
	assert.Equal(t, uint16(types.StatusUnrecognizedOperation), responder.last().Status)

	r.UnregisterHandler(types.CEchoRQ)
	assert.False(t, r.HasHandler(types.CEchoRQ))
}

func TestMatches(t *testing.T) {
	ds := ctInstance("P1", "Doe^John", "1.2.1", "1.2.1.1", "1.2.1.1.1", "CT")

	tests := []struct {
		name  string
		tag   dicom.Tag
		vr    string
		value []string
		want  bool
	}{
		{"universal", dicom.PatientName, dicom.VR_PN, nil, true},
		{"exact", dicom.PatientID, dicom.VR_LO, []string{"P1"}, true},
		{"exact miss", dicom.PatientID, dicom.VR_LO, []string{"P2"}, false},
		{"wildcard", dicom.PatientName, dicom.VR_PN, []string{"doe*"}, true},
		{"single char wildcard", dicom.PatientID, dicom.VR_LO, []string{"P?"}, true},
		{"wildcard miss", dicom.PatientName, dicom.VR_PN, []string{"Roe*"}, false},
		{"uid list", dicom.StudyInstanceUID, dicom.VR_UI, []string{"9.9", "1.2.1"}, true},
		{"uid list miss", dicom.StudyInstanceUID, dicom.VR_UI, []string{"9.9", "1.2"}, false},
		{"date range", dicom.StudyDate, dicom.VR_DA, []string{"20240101-20240131"}, true},
		{"open start", dicom.StudyDate, dicom.VR_DA, []string{"-20240115"}, true},
		{"open end", dicom.StudyDate, dicom.VR_DA, []string{"20240116-"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := dicom.NewDataset()
			id.SetString(dicom.QueryRetrieveLevel, dicom.VR_CS, "STUDY")
			id.SetString(tt.tag, tt.vr, tt.value...)
			assert.Equal(t, tt.want, Matches(id, ds))
		})
	}
}

func TestMatchesSequence(t *testing.T) {
	step := dicom.NewDataset()
	step.SetString(dicom.Modality, dicom.VR_CS, "CT")
	step.SetString(dicom.ScheduledStationAETitle, dicom.VR_AE, "CT01")
	item := dicom.NewDataset()
	item.SetSequence(dicom.ScheduledProcedureStepSequence, step)

	query := dicom.NewDataset()
	query.SetString(dicom.Modality, dicom.VR_CS, "CT")
	id := dicom.NewDataset()
	id.SetSequence(dicom.ScheduledProcedureStepSequence, query)
	assert.True(t, Matches(id, item))

	query.SetString(dicom.Modality, dicom.VR_CS, "MR")
	assert.False(t, Matches(id, item))

	id.SetSequence(dicom.ScheduledProcedureStepSequence)
	assert.True(t, Matches(id, item))
}

func TestFindStudyLevel(t *testing.T) {
	svc := NewFindService(seededStore(t), nil, nil)
	id := dicom.NewDataset()
	id.SetString(dicom.QueryRetrieveLevel, dicom.VR_CS, "STUDY")
	id.SetString(dicom.PatientName, dicom.VR_PN, "Doe*")
	id.SetString(dicom.StudyInstanceUID, dicom.VR_UI)
	id.SetString(dicom.NumberOfStudyRelatedInstances, dicom.VR_IS)
	id.SetString(dicom.ModalitiesInStudy, dicom.VR_CS)

	responder := &mockResponder{}
	err := svc.HandleDIMSEStreaming(context.Background(), request(types.CFindRQ, types.StudyRootQueryRetrieveInformationModelFind), id, testMeta(), responder)
	require.NoError(t, err)
	require.Len(t, responder.responses, 2)

	assert.Equal(t, uint16(types.StatusPending), responder.responses[0].Status)
	match := responder.datasets[0]
	assert.Equal(t, "1.2.1", match.GetString(dicom.StudyInstanceUID))
	assert.Equal(t, "3", match.GetString(dicom.NumberOfStudyRelatedInstances))
	assert.Equal(t, []string{"CT", "SR"}, match.GetStrings(dicom.ModalitiesInStudy))
	assert.False(t, match.Has(dicom.SOPInstanceUID))
	assert.Equal(t, uint16(types.StatusSuccess), responder.last().Status)
}

func TestFindInvalidLevel(t *testing.T) {
	svc := NewFindService(seededStore(t), nil, nil)
	id := dicom.NewDataset()
	id.SetString(dicom.QueryRetrieveLevel, dicom.VR_CS, "FRAME")

	responder := &mockResponder{}
	require.NoError(t, svc.HandleDIMSEStreaming(context.Background(), request(types.CFindRQ, types.StudyRootQueryRetrieveInformationModelFind), id, testMeta(), responder))
	require.Len(t, responder.responses, 1)
	assert.Equal(t, uint16(types.StatusIdentifierDoesNotMatch), responder.last().Status)
}

func TestFindCancelled(t *testing.T) {
	svc := NewFindService(seededStore(t), nil, nil)
	id := dicom.NewDataset()
	id.SetString(dicom.QueryRetrieveLevel, dicom.VR_CS, "IMAGE")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	responder := &mockResponder{sendFunc: func(msg *types.Message) error {
		if msg.Status == types.StatusPending {
			cancel()
		}
		return nil
	}}
	require.NoError(t, svc.HandleDIMSEStreaming(ctx, request(types.CFindRQ, types.StudyRootQueryRetrieveInformationModelFind), id, testMeta(), responder))
	require.Len(t, responder.responses, 2)
	assert.Equal(t, uint16(types.StatusCancel), responder.last().Status)
}

func TestWorklist(t *testing.T) {
	store := NewMemoryStore()
	for _, station := range []string{"CT01", "MR01"} {
		step := dicom.NewDataset()
		step.SetString(dicom.ScheduledStationAETitle, dicom.VR_AE, station)
		step.SetString(dicom.ScheduledProcedureStepStartDate, dicom.VR_DA, "20240115")
		item := dicom.NewDataset()
		item.SetString(dicom.PatientID, dicom.VR_LO, "P-"+station)
		item.SetSequence(dicom.ScheduledProcedureStepSequence, step)
		store.AddWorklistItem(item)
	}
	svc := NewFindService(store, store, nil)

	stepQuery := dicom.NewDataset()
	stepQuery.SetString(dicom.ScheduledStationAETitle, dicom.VR_AE, "CT01")
	stepQuery.SetString(dicom.ScheduledProcedureStepStartDate, dicom.VR_DA, "20240101-20240131")
	id := dicom.NewDataset()
	id.SetString(dicom.PatientID, dicom.VR_LO)
	id.SetSequence(dicom.ScheduledProcedureStepSequence, stepQuery)

	responder := &mockResponder{}
	require.NoError(t, svc.HandleDIMSEStreaming(context.Background(), request(types.CFindRQ, types.ModalityWorklistInformationModelFind), id, testMeta(), responder))
	require.Len(t, responder.responses, 2)
	assert.Equal(t, "P-CT01", responder.datasets[0].GetString(dicom.PatientID))

	svc = NewFindService(store, nil, nil)
	responder = &mockResponder{}
	require.NoError(t, svc.HandleDIMSEStreaming(context.Background(), request(types.CFindRQ, types.ModalityWorklistInformationModelFind), id, testMeta(), responder))
	assert.Equal(t, uint16(types.StatusSOPClassNotSupported), responder.last().Status)
}

func TestStoreService(t *testing.T) {
	store := NewMemoryStore()
	svc := NewStoreService(store, nil)
	var notified []string
	svc.OnStored = func(_ context.Context, inst *interfaces.Instance) {
		notified = append(notified, inst.SOPInstanceUID)
	}

	tests := []struct {
		name    string
		command string
		ds      *dicom.Dataset
		status  uint16
	}{
		{"stored", "1.2.3.1", ctInstance("P1", "A", "1.2", "1.2.3", "1.2.3.1", "CT"), types.StatusSuccess},
		{"coerced", "1.2.3.2", dicom.NewDataset(), types.StatusWarningCoercion},
		{"mismatch", "1.2.3.3", ctInstance("P1", "A", "1.2", "1.2.3", "1.2.3.9", "CT"), types.StatusDataSetDoesNotMatch},
		{"invalid uid", "1.02.3", ctInstance("P1", "A", "1.2", "1.2.3", "1.02.3", "CT"), types.StatusDataSetDoesNotMatch},
		{"no data set", "1.2.3.4", nil, types.StatusDataSetDoesNotMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := request(types.CStoreRQ, types.CTImageStorage)
			msg.AffectedSOPInstanceUID = tt.command
			rsp, _, err := svc.HandleDIMSE(context.Background(), msg, tt.ds, testMeta())
			require.NoError(t, err)
			assert.Equal(t, uint16(types.CStoreRSP), rsp.CommandField)
			assert.Equal(t, tt.command, rsp.AffectedSOPInstanceUID)
			assert.Equal(t, tt.status, rsp.Status)
		})
	}
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, []string{"1.2.3.1", "1.2.3.2"}, notified)

	inst, err := store.Get(context.Background(), "1.2.3.2")
	require.NoError(t, err)
	assert.Equal(t, types.CTImageStorage, inst.SOPClassUID)
}

func TestGetService(t *testing.T) {
	svc := NewGetService(seededStore(t), nil)
	id := dicom.NewDataset()
	id.SetString(dicom.QueryRetrieveLevel, dicom.VR_CS, "STUDY")
	id.SetString(dicom.StudyInstanceUID, dicom.VR_UI, "1.2.1")

	responder := &mockResponder{storeFunc: func(uid string) (uint16, error) {
		if uid == "1.2.1.2.1" {
			return types.StatusOutOfResources, nil
		}
		return types.StatusSuccess, nil
	}}
	require.NoError(t, svc.HandleDIMSEStreaming(context.Background(), request(types.CGetRQ, types.StudyRootQueryRetrieveInformationModelGet), id, testMeta(), responder))

	assert.Equal(t, []string{"1.2.1.1.1", "1.2.1.1.2", "1.2.1.2.1"}, responder.stored)
	require.Len(t, responder.responses, 4)
	assert.Equal(t, uint16(2), *responder.responses[0].NumberOfRemainingSuboperations)

	final := responder.last()
	assert.Equal(t, uint16(types.StatusWarningSubOpsFailed), final.Status)
	assert.Equal(t, uint16(2), *final.NumberOfCompletedSuboperations)
	assert.Equal(t, uint16(1), *final.NumberOfFailedSuboperations)
	assert.Equal(t, []string{"1.2.1.2.1"}, responder.datasets[3].GetStrings(dicom.FailedSOPInstanceUIDList))
}

type fakeSCU struct {
	mu     sync.Mutex
	stored []*client.StoreRequest
	closed bool
}

func (f *fakeSCU) Store(_ context.Context, req *client.StoreRequest) (*client.StoreResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, req)
	return &client.StoreResult{Status: types.StatusSuccess}, nil
}

func (f *fakeSCU) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestMoveService(t *testing.T) {
	svc := NewMoveService(seededStore(t), "ARCHIVE", map[string]string{"WORKSTATION": "ws:104"}, nil)
	svc.Parallelism = 2
	var (
		mu   sync.Mutex
		scus []*fakeSCU
	)
	svc.Dial = func(_ context.Context, ae, address string, sopClasses []string) (StoreSCU, error) {
		assert.Equal(t, "WORKSTATION", ae)
		assert.Equal(t, "ws:104", address)
		assert.Equal(t, []string{types.CTImageStorage}, sopClasses)
		scu := &fakeSCU{}
		mu.Lock()
		scus = append(scus, scu)
		mu.Unlock()
		return scu, nil
	}

	id := dicom.NewDataset()
	id.SetString(dicom.QueryRetrieveLevel, dicom.VR_CS, "PATIENT")
	id.SetString(dicom.PatientID, dicom.VR_LO, "P1")
	msg := request(types.CMoveRQ, types.PatientRootQueryRetrieveInformationModelMove)
	msg.MoveDestination = "WORKSTATION"

	responder := &mockResponder{}
	require.NoError(t, svc.HandleDIMSEStreaming(context.Background(), msg, id, testMeta(), responder))

	final := responder.last()
	assert.Equal(t, uint16(types.StatusSuccess), final.Status)
	assert.Equal(t, uint16(3), *final.NumberOfCompletedSuboperations)
	require.Len(t, scus, 2)
	total := 0
	for _, scu := range scus {
		assert.True(t, scu.closed)
		for _, req := range scu.stored {
			assert.Equal(t, "MODALITY", req.MoveOriginatorAETitle)
			assert.Equal(t, uint16(7), req.MoveOriginatorMessageID)
		}
		total += len(scu.stored)
	}
	assert.Equal(t, 3, total)
}

func TestMoveServiceFailures(t *testing.T) {
	svc := NewMoveService(seededStore(t), "ARCHIVE", map[string]string{"WORKSTATION": "ws:104"}, nil)
	id := dicom.NewDataset()
	id.SetString(dicom.QueryRetrieveLevel, dicom.VR_CS, "PATIENT")
	id.SetString(dicom.PatientID, dicom.VR_LO, "P2")

	msg := request(types.CMoveRQ, types.PatientRootQueryRetrieveInformationModelMove)
	msg.MoveDestination = "UNKNOWN"
	responder := &mockResponder{}
	require.NoError(t, svc.HandleDIMSEStreaming(context.Background(), msg, id, testMeta(), responder))
	assert.Equal(t, uint16(types.StatusMoveDestinationUnknown), responder.last().Status)

	svc.Dial = func(context.Context, string, string, []string) (StoreSCU, error) {
		return nil, errors.New("connection refused")
	}
	msg.MoveDestination = "WORKSTATION"
	responder = &mockResponder{}
	require.NoError(t, svc.HandleDIMSEStreaming(context.Background(), msg, id, testMeta(), responder))
	final := responder.last()
	assert.Equal(t, uint16(types.StatusOutOfResourcesSubOps), final.Status)
	assert.Equal(t, uint16(1), *final.NumberOfFailedSuboperations)
}

func TestMPPSLifecycle(t *testing.T) {
	svc := NewMPPSService(nil)
	ctx := context.Background()

	create := func(status string) *types.Message {
		attrs := dicom.NewDataset()
		attrs.SetString(dicom.PerformedProcedureStepStatus, dicom.VR_CS, status)
		msg := request(types.NCreateRQ, types.ModalityPerformedProcedureStepSOPClass)
		rsp, _, err := svc.HandleDIMSE(ctx, msg, attrs, testMeta())
		require.NoError(t, err)
		return rsp
	}
	set := func(uid, status string) *types.Message {
		attrs := dicom.NewDataset()
		attrs.SetString(dicom.PerformedProcedureStepStatus, dicom.VR_CS, status)
		msg := &types.Message{
			CommandField:            types.NSetRQ,
			MessageID:               8,
			RequestedSOPClassUID:    types.ModalityPerformedProcedureStepSOPClass,
			RequestedSOPInstanceUID: uid,
		}
		rsp, _, err := svc.HandleDIMSE(ctx, msg, attrs, testMeta())
		require.NoError(t, err)
		return rsp
	}

	assert.Equal(t, uint16(types.StatusInvalidAttributeValue), create(types.ProcedureStepCompleted).Status)

	rsp := create(types.ProcedureStepInProgress)
	require.Equal(t, uint16(types.StatusSuccess), rsp.Status)
	uid := rsp.AffectedSOPInstanceUID
	require.NoError(t, dicom.ValidateUID(uid))
	assert.Equal(t, uint16(types.NCreateRSP), rsp.CommandField)

	assert.Equal(t, uint16(types.StatusNoSuchObjectInstance), set("1.2.3", types.ProcedureStepCompleted).Status)
	assert.Equal(t, uint16(types.StatusInvalidAttributeValue), set(uid, "PAUSED").Status)

	rsp = set(uid, types.ProcedureStepCompleted)
	assert.Equal(t, uint16(types.StatusSuccess), rsp.Status)
	assert.Equal(t, types.ModalityPerformedProcedureStepSOPClass, rsp.AffectedSOPClassUID)
	assert.Equal(t, uid, rsp.AffectedSOPInstanceUID)

	assert.Equal(t, uint16(types.StatusProcessingFailure), set(uid, types.ProcedureStepDiscontinued).Status)

	step, ok := svc.Step(uid)
	require.True(t, ok)
	assert.Equal(t, types.ProcedureStepCompleted, step.GetString(dicom.PerformedProcedureStepStatus))
}

func TestNonStreamingRetrieveHandlers(t *testing.T) {
	store := NewMemoryStore()
	for _, h := range []interfaces.ServiceHandler{
		NewFindService(store, nil, nil),
		NewGetService(store, nil),
		NewMoveService(store, "ARCHIVE", nil, nil),
	} {
		_, _, err := h.HandleDIMSE(context.Background(), request(types.CFindRQ, ""), nil, testMeta())
		assert.ErrorIs(t, err, dicomerrors.ErrInvalidMessage)
	}
}
