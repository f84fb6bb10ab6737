package client

import (
	"context"
	"fmt"

	"github.com/caio-sobreiro/dicomkit/dicom"
	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
	"github.com/caio-sobreiro/dicomkit/types"
)

// NResult is the outcome of an N-CREATE or N-SET.
type NResult struct {
	Status         uint16
	SOPInstanceUID string
	Dataset        *dicom.Dataset
	Warning        *dicomerrors.RemoteRejection
}

// CreateProcedureStep sends an N-CREATE for a Modality Performed Procedure
// Step. attrs must carry Performed Procedure Step Status IN PROGRESS. An
// empty sopInstanceUID lets the peer assign one, returned in the result.
func (a *Association) CreateProcedureStep(ctx context.Context, sopInstanceUID string, attrs *dicom.Dataset) (*NResult, error) {
	msg := &types.Message{
		CommandField:           types.NCreateRQ,
		AffectedSOPClassUID:    types.ModalityPerformedProcedureStepSOPClass,
		AffectedSOPInstanceUID: sopInstanceUID,
	}
	return a.normalized(ctx, "N-CREATE", msg, attrs)
}

// UpdateProcedureStep sends an N-SET for an existing procedure step, for
// instance to move it to COMPLETED or DISCONTINUED.
func (a *Association) UpdateProcedureStep(ctx context.Context, sopInstanceUID string, attrs *dicom.Dataset) (*NResult, error) {
	if sopInstanceUID == "" {
		return nil, fmt.Errorf("N-SET: %w: requested SOP instance UID is required", dicomerrors.ErrInvalidMessage)
	}
	msg := &types.Message{
		CommandField:            types.NSetRQ,
		RequestedSOPClassUID:    types.ModalityPerformedProcedureStepSOPClass,
		RequestedSOPInstanceUID: sopInstanceUID,
	}
	return a.normalized(ctx, "N-SET", msg, attrs)
}

func (a *Association) normalized(ctx context.Context, operation string, msg *types.Message, attrs *dicom.Dataset) (*NResult, error) {
	if attrs == nil {
		attrs = dicom.NewDataset()
	}
	var result *NResult
	err := a.operation(ctx, func(ctx context.Context) error {
		pc, err := a.contextFor(types.ModalityPerformedProcedureStepSOPClass, "")
		if err != nil {
			return err
		}
		if err := a.request(ctx, pc, msg, attrs); err != nil {
			return err
		}
		rsp, err := a.awaitResponse(ctx, nil)
		if err != nil {
			return err
		}
		result = &NResult{
			Status:         rsp.msg.Status,
			SOPInstanceUID: rsp.msg.AffectedSOPInstanceUID,
			Dataset:        rsp.data,
		}
		if result.SOPInstanceUID == "" {
			result.SOPInstanceUID = msg.AffectedSOPInstanceUID
		}
		if result.SOPInstanceUID == "" {
			result.SOPInstanceUID = msg.RequestedSOPInstanceUID
		}
		a.logger.Info(operation+" completed",
			"sop_instance_uid", result.SOPInstanceUID,
			"status", fmt.Sprintf("0x%04X", result.Status))
		result.Warning, err = outcome(operation, rsp.msg)
		if err != nil {
			return err
		}
		return rsp.decodeErr
	})
	return result, err
}

// ReferencedInstance is an instance produced by a procedure step.
type ReferencedInstance struct {
	SOPClassUID    string
	SOPInstanceUID string
}

// CompletedProcedureStep builds N-SET attributes that complete a step and
// reference the instances of one performed series.
func CompletedProcedureStep(seriesInstanceUID string, instances []ReferencedInstance) *dicom.Dataset {
	ds := dicom.NewDataset()
	ds.SetString(dicom.PerformedProcedureStepStatus, dicom.VR_CS, types.ProcedureStepCompleted)
	refs := make([]*dicom.Dataset, 0, len(instances))
	for _, inst := range instances {
		item := dicom.NewDataset()
		item.SetString(dicom.ReferencedSOPClassUID, dicom.VR_UI, inst.SOPClassUID)
		item.SetString(dicom.ReferencedSOPInstanceUID, dicom.VR_UI, inst.SOPInstanceUID)
		refs = append(refs, item)
	}
	series := dicom.NewDataset()
	series.SetString(dicom.SeriesInstanceUID, dicom.VR_UI, seriesInstanceUID)
	series.SetSequence(dicom.ReferencedImageSequence, refs...)
	ds.SetSequence(dicom.PerformedSeriesSequence, series)
	return ds
}
