package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/caio-sobreiro/dicomkit/dicom"
	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
	"github.com/caio-sobreiro/dicomkit/types"
)

// StoreRequest describes a C-STORE.
type StoreRequest struct {
	// SOPClassUID and SOPInstanceUID default to the dataset's values.
	SOPClassUID    string
	SOPInstanceUID string
	Dataset        *dicom.Dataset
	// TransferSyntaxUID is the syntax the dataset is held in. A context
	// negotiated with it is preferred. Encapsulated data cannot be sent
	// on a context with a different syntax.
	TransferSyntaxUID string
	Priority          uint16
	// Set when the store is a C-MOVE sub-operation.
	MoveOriginatorAETitle   string
	MoveOriginatorMessageID uint16
}

// StoreResult is the outcome of a C-STORE.
type StoreResult struct {
	Status  uint16
	Warning *dicomerrors.RemoteRejection
}

// Store sends one instance. Failure statuses are returned as
// *errors.RemoteRejection, warnings in StoreResult.Warning.
func (a *Association) Store(ctx context.Context, req *StoreRequest) (*StoreResult, error) {
	if req.Dataset == nil {
		return nil, errors.New("store: nil dataset")
	}
	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = req.Dataset.GetString(dicom.SOPClassUID)
	}
	sopInstance := req.SOPInstanceUID
	if sopInstance == "" {
		sopInstance = req.Dataset.GetString(dicom.SOPInstanceUID)
	}
	if sopClass == "" || sopInstance == "" {
		return nil, errors.New("store: SOP class and instance UIDs are required")
	}

	var result *StoreResult
	err := a.operation(ctx, func(ctx context.Context) error {
		pc, err := a.contextFor(sopClass, req.TransferSyntaxUID)
		if err != nil {
			return err
		}
		if req.TransferSyntaxUID != "" && pc.TransferSyntax != req.TransferSyntaxUID &&
			types.IsEncapsulated(req.TransferSyntaxUID) {
			return fmt.Errorf("%w: %s data on a %s context", dicomerrors.ErrUnsupportedTransfer,
				req.TransferSyntaxUID, pc.TransferSyntax)
		}
		msg := &types.Message{
			CommandField:            types.CStoreRQ,
			AffectedSOPClassUID:     sopClass,
			AffectedSOPInstanceUID:  sopInstance,
			Priority:                req.Priority,
			MoveOriginatorAETitle:   req.MoveOriginatorAETitle,
			MoveOriginatorMessageID: req.MoveOriginatorMessageID,
		}
		if err := a.request(ctx, pc, msg, req.Dataset); err != nil {
			return err
		}
		rsp, err := a.awaitResponse(ctx, nil)
		if err != nil {
			return err
		}
		result = &StoreResult{Status: rsp.msg.Status}
		a.logger.Info("C-STORE completed",
			"sop_instance_uid", sopInstance,
			"status", fmt.Sprintf("0x%04X", rsp.msg.Status))
		result.Warning, err = outcome("C-STORE", rsp.msg)
		return err
	})
	return result, err
}

// StoreFile sends the dataset of a Part 10 file.
func (a *Association) StoreFile(ctx context.Context, f *dicom.File) (*StoreResult, error) {
	req := &StoreRequest{
		Dataset:           f.Dataset,
		TransferSyntaxUID: f.TransferSyntax.UID,
	}
	if f.Meta != nil {
		req.SOPClassUID = f.Meta.GetString(dicom.MediaStorageSOPClassUID)
		req.SOPInstanceUID = f.Meta.GetString(dicom.MediaStorageSOPInstanceUID)
	}
	return a.Store(ctx, req)
}
