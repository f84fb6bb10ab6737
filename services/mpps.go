package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/caio-sobreiro/dicomkit/dicom"
	"github.com/caio-sobreiro/dicomkit/interfaces"
	"github.com/caio-sobreiro/dicomkit/types"
)

// MPPSService is a Modality Performed Procedure Step provider. It keeps
// procedure steps in memory and enforces their lifecycle: a step is
// created IN PROGRESS and may be updated until it becomes COMPLETED or
// DISCONTINUED.
type MPPSService struct {
	mu     sync.Mutex
	steps  map[string]*dicom.Dataset
	logger *slog.Logger
}

// NewMPPSService creates an MPPS provider.
func NewMPPSService(logger *slog.Logger) *MPPSService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MPPSService{steps: make(map[string]*dicom.Dataset), logger: logger}
}

// Step returns a copy of the procedure step with the given UID.
func (s *MPPSService) Step(sopInstanceUID string) (*dicom.Dataset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.steps[sopInstanceUID]
	if !ok {
		return nil, false
	}
	return ds.Clone(), true
}

// HandleDIMSE handles N-CREATE and N-SET requests.
func (s *MPPSService) HandleDIMSE(ctx context.Context, msg *types.Message, data *dicom.Dataset, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	if data == nil {
		data = dicom.NewDataset()
	}
	switch msg.CommandField {
	case types.NCreateRQ:
		return s.create(ctx, msg, data, meta)
	case types.NSetRQ:
		return s.set(ctx, msg, data)
	}
	return CreateErrorResponse(msg, types.StatusUnrecognizedOperation), nil, nil
}

func (s *MPPSService) create(ctx context.Context, msg *types.Message, data *dicom.Dataset, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	uid := msg.AffectedSOPInstanceUID
	if uid == "" {
		var err error
		if uid, err = dicom.NewUID(); err != nil {
			return nil, nil, fmt.Errorf("generate procedure step UID: %w", err)
		}
	}
	builder := NewResponseBuilder(msg)
	if status := data.GetString(dicom.PerformedProcedureStepStatus); status != types.ProcedureStepInProgress {
		s.logger.WarnContext(ctx, "N-CREATE with invalid procedure step status",
			"sop_instance_uid", uid,
			"status", status)
		rsp := builder.NResponse(types.StatusInvalidAttributeValue, uid)
		rsp.ErrorComment = "Performed Procedure Step Status must be IN PROGRESS"
		return rsp, nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.steps[uid]; exists {
		return builder.NResponse(types.StatusDuplicateSOPInstance, uid), nil, nil
	}
	step := data.Clone()
	step.SetString(dicom.SOPClassUID, dicom.VR_UI, types.ModalityPerformedProcedureStepSOPClass)
	step.SetString(dicom.SOPInstanceUID, dicom.VR_UI, uid)
	s.steps[uid] = step
	s.logger.InfoContext(ctx, "procedure step created",
		"sop_instance_uid", uid,
		"calling_ae", meta.CallingAETitle)
	return builder.NResponse(types.StatusSuccess, uid), nil, nil
}

func (s *MPPSService) set(ctx context.Context, msg *types.Message, data *dicom.Dataset) (*types.Message, *dicom.Dataset, error) {
	uid := msg.RequestedSOPInstanceUID
	builder := NewResponseBuilder(msg)

	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[uid]
	if !ok {
		return builder.NResponse(types.StatusNoSuchObjectInstance, uid), nil, nil
	}
	current := step.GetString(dicom.PerformedProcedureStepStatus)
	if current != types.ProcedureStepInProgress {
		rsp := builder.NResponse(types.StatusProcessingFailure, uid)
		rsp.ErrorComment = "Performed Procedure Step Object may no longer be updated"
		return rsp, nil, nil
	}
	if data.Has(dicom.PerformedProcedureStepStatus) {
		switch next := data.GetString(dicom.PerformedProcedureStepStatus); next {
		case types.ProcedureStepInProgress, types.ProcedureStepCompleted, types.ProcedureStepDiscontinued:
		default:
			rsp := builder.NResponse(types.StatusInvalidAttributeValue, uid)
			rsp.ErrorComment = truncateComment("unknown procedure step status " + next)
			return rsp, nil, nil
		}
	}

	for _, el := range data.Elements() {
		if el.Tag == dicom.SOPInstanceUID || el.Tag == dicom.SOPClassUID {
			continue
		}
		step.Set(el)
	}
	s.logger.InfoContext(ctx, "procedure step updated",
		"sop_instance_uid", uid,
		"status", step.GetString(dicom.PerformedProcedureStepStatus))
	return builder.NResponse(types.StatusSuccess, uid), nil, nil
}
