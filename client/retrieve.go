package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/caio-sobreiro/dicomkit/dicom"
	"github.com/caio-sobreiro/dicomkit/dimse"
	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
	"github.com/caio-sobreiro/dicomkit/types"
)

// Progress reports C-MOVE and C-GET sub-operation counters.
type Progress struct {
	Remaining uint16
	Completed uint16
	Failed    uint16
	Warning   uint16
}

func progressOf(msg *types.Message) Progress {
	value := func(v *uint16) uint16 {
		if v == nil {
			return 0
		}
		return *v
	}
	return Progress{
		Remaining: value(msg.NumberOfRemainingSuboperations),
		Completed: value(msg.NumberOfCompletedSuboperations),
		Failed:    value(msg.NumberOfFailedSuboperations),
		Warning:   value(msg.NumberOfWarningSuboperations),
	}
}

// RetrieveResult is the terminal outcome of a C-MOVE or C-GET.
type RetrieveResult struct {
	Status   uint16
	Progress Progress
	Canceled bool
	Warning  *dicomerrors.RemoteRejection
	// Failed lists the SOP instance UIDs reported by a failure or warning
	// response.
	Failed []string
}

// MoveRequest describes a C-MOVE.
type MoveRequest struct {
	// SOPClassUID is the information model. Empty means study root.
	SOPClassUID string
	Priority    uint16
	Destination string
	Identifier  *dicom.Dataset
}

// GetRequest describes a C-GET.
type GetRequest struct {
	// SOPClassUID is the information model. Empty means study root.
	SOPClassUID string
	Priority    uint16
	Identifier  *dicom.Dataset
}

// StoreHandler receives the C-STORE sub-operations of a C-GET and returns
// the status to answer with.
type StoreHandler func(ctx context.Context, sopClassUID, sopInstanceUID string, ds *dicom.Dataset) uint16

// Move asks the peer to send matching instances to req.Destination.
func (a *Association) Move(ctx context.Context, req *MoveRequest, onProgress func(Progress)) (*RetrieveResult, error) {
	if req.Destination == "" {
		return nil, errors.New("move: destination AE title is required")
	}
	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = types.StudyRootQueryRetrieveInformationModelMove
	}
	msg := &types.Message{
		CommandField:        types.CMoveRQ,
		AffectedSOPClassUID: sopClass,
		Priority:            req.Priority,
		MoveDestination:     req.Destination,
	}
	return a.retrieve(ctx, "C-MOVE", msg, req.Identifier, onProgress, nil)
}

// Get retrieves matching instances over this association. The peer sends
// them as C-STORE sub-operations which are passed to store. The
// association must have been negotiated with StorageSCPRole.
func (a *Association) Get(ctx context.Context, req *GetRequest, onProgress func(Progress), store StoreHandler) (*RetrieveResult, error) {
	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = types.StudyRootQueryRetrieveInformationModelGet
	}
	msg := &types.Message{
		CommandField:        types.CGetRQ,
		AffectedSOPClassUID: sopClass,
		Priority:            req.Priority,
	}
	return a.retrieve(ctx, "C-GET", msg, req.Identifier, onProgress, store)
}

func (a *Association) retrieve(ctx context.Context, operation string, msg *types.Message, identifier *dicom.Dataset,
	onProgress func(Progress), store StoreHandler) (*RetrieveResult, error) {
	if identifier == nil {
		identifier = dicom.NewDataset()
	}
	var result *RetrieveResult
	err := a.operation(ctx, func(ctx context.Context) error {
		pc, err := a.contextFor(msg.AffectedSOPClassUID, "")
		if err != nil {
			return err
		}
		if err := a.request(ctx, pc, msg, identifier); err != nil {
			return err
		}

		var onStore func(*dimse.Received) error
		if msg.CommandField == types.CGetRQ {
			onStore = func(rec *dimse.Received) error {
				return a.handleSubOperation(ctx, rec, store)
			}
		}
		result = &RetrieveResult{}
		for {
			rsp, err := a.awaitResponse(ctx, onStore)
			if err != nil {
				return err
			}
			result.Progress = progressOf(rsp.msg)
			if types.ClassifyStatus(rsp.msg.Status) == types.CategoryPending {
				if onProgress != nil {
					onProgress(result.Progress)
				}
				continue
			}

			result.Status = rsp.msg.Status
			result.Canceled = rsp.msg.Status == types.StatusCancel
			if rsp.data != nil {
				result.Failed = rsp.data.GetStrings(dicom.FailedSOPInstanceUIDList)
			}
			a.logger.Info(operation+" completed",
				"status", fmt.Sprintf("0x%04X", result.Status),
				"completed", result.Progress.Completed,
				"failed", result.Progress.Failed,
				"warning", result.Progress.Warning)
			if result.Canceled {
				return rsp.decodeErr
			}
			result.Warning, err = outcome(operation, rsp.msg)
			if err != nil {
				return err
			}
			return rsp.decodeErr
		}
	})
	return result, err
}

// handleSubOperation answers a C-STORE-RQ received during a C-GET.
func (a *Association) handleSubOperation(ctx context.Context, rec *dimse.Received, store StoreHandler) error {
	req := rec.Message
	status := uint16(types.StatusOutOfResources)
	pc, _ := a.contextByID(rec.ContextID)
	ds, err := dimse.DecodeData(rec.Data, pc.TransferSyntax)
	switch {
	case err != nil:
		a.logger.Warn("failed to decode C-STORE sub-operation", "error", err, "message_id", req.MessageID)
		status = types.StatusDataSetDoesNotMatch
	case store != nil:
		status = store(ctx, req.AffectedSOPClassUID, req.AffectedSOPInstanceUID, ds)
	default:
		a.logger.Warn("C-STORE sub-operation received without a store handler",
			"sop_instance_uid", req.AffectedSOPInstanceUID)
	}
	rsp := &types.Message{
		CommandField:              types.CStoreRSP,
		MessageIDBeingRespondedTo: req.MessageID,
		AffectedSOPClassUID:       req.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    req.AffectedSOPInstanceUID,
		Status:                    status,
	}
	return a.send(ctx, rec.ContextID, rsp, nil)
}
