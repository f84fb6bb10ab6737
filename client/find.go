package client

import (
	"context"
	"errors"

	"github.com/caio-sobreiro/dicomkit/dicom"
	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
	"github.com/caio-sobreiro/dicomkit/pdu"
	"github.com/caio-sobreiro/dicomkit/types"
)

// FindRequest describes a C-FIND query.
type FindRequest struct {
	// SOPClassUID is the information model. Empty means study root.
	SOPClassUID string
	Priority    uint16
	Identifier  *dicom.Dataset
}

// FindResult is the terminal outcome of a C-FIND.
type FindResult struct {
	Status   uint16
	Matches  int
	Canceled bool
	// Warning is set for warning statuses.
	Warning *dicomerrors.RemoteRejection
	// DecodeErrors holds one error per pending response whose identifier
	// could not be decoded. Such responses count in Matches but are not
	// passed to the callback.
	DecodeErrors []error
}

// Find runs a C-FIND and calls onMatch for every pending response that
// carries an identifier. Returning false from onMatch sends a C-CANCEL-RQ;
// matches arriving after that are discarded. Identifiers that fail to
// decode are skipped and reported in FindResult.DecodeErrors; the query
// then returns the result together with those errors.
func (a *Association) Find(ctx context.Context, req *FindRequest, onMatch func(*dicom.Dataset) bool) (*FindResult, error) {
	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = types.StudyRootQueryRetrieveInformationModelFind
	}
	identifier := req.Identifier
	if identifier == nil {
		identifier = dicom.NewDataset()
	}

	var result *FindResult
	err := a.operation(ctx, func(ctx context.Context) error {
		pc, err := a.contextFor(sopClass, "")
		if err != nil {
			return err
		}
		msg := &types.Message{
			CommandField:        types.CFindRQ,
			AffectedSOPClassUID: sopClass,
			Priority:            req.Priority,
		}
		if err := a.request(ctx, pc, msg, identifier); err != nil {
			return err
		}

		result = &FindResult{}
		for {
			rsp, err := a.awaitResponse(ctx, nil)
			if err != nil {
				return err
			}
			if types.ClassifyStatus(rsp.msg.Status) == types.CategoryPending {
				if result.Canceled {
					continue
				}
				if rsp.decodeErr != nil {
					result.Matches++
					result.DecodeErrors = append(result.DecodeErrors, rsp.decodeErr)
					continue
				}
				if rsp.data == nil {
					continue
				}
				result.Matches++
				if onMatch != nil && !onMatch(rsp.data) {
					result.Canceled = true
					if err := a.cancel(ctx, pc, msg.MessageID); err != nil {
						return err
					}
				}
				continue
			}

			result.Status = rsp.msg.Status
			if result.Status == types.StatusCancel {
				result.Canceled = true
			}
			a.logger.Info("C-FIND completed",
				"status", result.Status,
				"matches", result.Matches,
				"canceled", result.Canceled)
			if result.Canceled {
				return errors.Join(result.DecodeErrors...)
			}
			result.Warning, err = outcome("C-FIND", rsp.msg)
			if err != nil {
				return err
			}
			return errors.Join(result.DecodeErrors...)
		}
	})
	return result, err
}

// FindAll runs a C-FIND and collects every match.
func (a *Association) FindAll(ctx context.Context, req *FindRequest) ([]*dicom.Dataset, *FindResult, error) {
	var matches []*dicom.Dataset
	result, err := a.Find(ctx, req, func(ds *dicom.Dataset) bool {
		matches = append(matches, ds)
		return true
	})
	return matches, result, err
}

// Worklist queries the modality worklist.
func (a *Association) Worklist(ctx context.Context, identifier *dicom.Dataset) ([]*dicom.Dataset, *FindResult, error) {
	return a.FindAll(ctx, &FindRequest{
		SOPClassUID: types.ModalityWorklistInformationModelFind,
		Identifier:  identifier,
	})
}

// cancel sends a C-CANCEL-RQ for an outstanding request.
func (a *Association) cancel(ctx context.Context, pc pdu.PresentationContext, messageID uint16) error {
	a.logger.Debug("sending C-CANCEL-RQ", "message_id", messageID)
	msg := &types.Message{
		CommandField:              types.CCancelRQ,
		MessageIDBeingRespondedTo: messageID,
	}
	return a.send(ctx, pc.ID, msg, nil)
}
