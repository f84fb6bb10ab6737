package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/caio-sobreiro/dicomkit/dicom"
	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
	"github.com/caio-sobreiro/dicomkit/interfaces"
	"github.com/caio-sobreiro/dicomkit/types"
)

// FindService answers C-FIND requests for the patient root, study root and
// modality worklist information models.
type FindService struct {
	store    interfaces.InstanceStore
	worklist interfaces.WorklistStore
	logger   *slog.Logger
}

// NewFindService creates a C-FIND provider. worklist may be nil, in which
// case worklist queries fail with 0x0122 (SOP class not supported).
func NewFindService(store interfaces.InstanceStore, worklist interfaces.WorklistStore, logger *slog.Logger) *FindService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FindService{store: store, worklist: worklist, logger: logger}
}

// HandleDIMSE is not used for C-FIND; queries always stream.
func (s *FindService) HandleDIMSE(_ context.Context, msg *types.Message, _ *dicom.Dataset, _ interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	return nil, nil, fmt.Errorf("%w: C-FIND requires a streaming responder", dicomerrors.ErrInvalidMessage)
}

// HandleDIMSEStreaming sends one pending response per match followed by a
// final status. When ctx is cancelled by a C-CANCEL the remaining matches
// are dropped and the final status is 0xFE00.
func (s *FindService) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, identifier *dicom.Dataset, meta interfaces.MessageContext, responder interfaces.ResponseSender) error {
	logger := s.logger.With("message_id", msg.MessageID, "calling_ae", meta.CallingAETitle)
	if identifier == nil {
		return responder.SendResponse(NewCFindErrorResponse(msg, types.StatusIdentifierDoesNotMatch), nil)
	}

	var (
		matches []*dicom.Dataset
		err     error
	)
	if msg.AffectedSOPClassUID == types.ModalityWorklistInformationModelFind {
		if s.worklist == nil {
			return responder.SendResponse(NewCFindErrorResponse(msg, types.StatusSOPClassNotSupported), nil)
		}
		matches, err = s.findWorklist(ctx, identifier)
	} else {
		level, ok := types.ParseQueryLevel(identifier.GetString(dicom.QueryRetrieveLevel))
		if !ok {
			logger.WarnContext(ctx, "C-FIND with invalid query level",
				"level", identifier.GetString(dicom.QueryRetrieveLevel))
			return responder.SendResponse(NewCFindErrorResponse(msg, types.StatusIdentifierDoesNotMatch), nil)
		}
		matches, err = s.findInstances(ctx, level, identifier)
	}
	if err != nil {
		if ctx.Err() != nil {
			return responder.SendResponse(NewCFindErrorResponse(msg, types.StatusCancel), nil)
		}
		logger.ErrorContext(ctx, "C-FIND query failed", "error", err)
		rsp := NewCFindErrorResponse(msg, types.StatusUnableToProcess)
		rsp.ErrorComment = truncateComment(err.Error())
		return responder.SendResponse(rsp, nil)
	}

	sent := 0
	for _, match := range matches {
		if ctx.Err() != nil {
			break
		}
		if err := responder.SendResponse(NewCFindPendingResponse(msg), match); err != nil {
			if errors.Is(err, dicomerrors.ErrOperationCanceled) {
				break
			}
			return err
		}
		sent++
	}
	if ctx.Err() != nil {
		logger.InfoContext(ctx, "C-FIND cancelled", "sent", sent, "matches", len(matches))
		return responder.SendResponse(NewCFindErrorResponse(msg, types.StatusCancel), nil)
	}
	logger.InfoContext(ctx, "C-FIND completed", "matches", sent)
	return responder.SendResponse(NewCFindSuccessResponse(msg), nil)
}

// entityKey names the attribute that identifies an entity at each level.
var entityKey = map[types.QueryLevel]dicom.Tag{
	types.QueryLevelPatient: dicom.PatientID,
	types.QueryLevelStudy:   dicom.StudyInstanceUID,
	types.QueryLevelSeries:  dicom.SeriesInstanceUID,
	types.QueryLevelImage:   dicom.SOPInstanceUID,
}

type entity struct {
	first     *interfaces.Instance
	series    map[string]bool
	modality  map[string]bool
	instances int
}

func (s *FindService) findInstances(ctx context.Context, level types.QueryLevel, identifier *dicom.Dataset) ([]*dicom.Dataset, error) {
	instances, err := s.store.Find(ctx, level, identifier)
	if err != nil {
		return nil, err
	}

	keyTag := entityKey[level]
	var order []string
	entities := make(map[string]*entity)
	for _, inst := range instances {
		key := inst.Dataset.GetString(keyTag)
		e, ok := entities[key]
		if !ok {
			e = &entity{first: inst, series: make(map[string]bool), modality: make(map[string]bool)}
			entities[key] = e
			order = append(order, key)
		}
		e.instances++
		e.series[inst.SeriesInstanceUID] = true
		if m := inst.Dataset.GetString(dicom.Modality); m != "" {
			e.modality[m] = true
		}
	}

	wantModalities := identifier.GetStrings(dicom.ModalitiesInStudy)
	out := make([]*dicom.Dataset, 0, len(order))
	for _, key := range order {
		e := entities[key]
		if level == types.QueryLevelStudy && !anyOf(wantModalities, e.modality) {
			continue
		}
		rsp := returnKeys(identifier, e.first.Dataset)
		rsp.SetString(dicom.QueryRetrieveLevel, dicom.VR_CS, string(level))
		if level == types.QueryLevelStudy {
			fillStudyCounts(identifier, rsp, e)
		}
		out = append(out, rsp)
	}
	return out, nil
}

func anyOf(wanted []string, have map[string]bool) bool {
	if len(wanted) == 0 || (len(wanted) == 1 && wanted[0] == "") {
		return true
	}
	for _, w := range wanted {
		if have[w] {
			return true
		}
	}
	return false
}

func fillStudyCounts(identifier, rsp *dicom.Dataset, e *entity) {
	if identifier.Has(dicom.NumberOfStudyRelatedInstances) {
		rsp.SetString(dicom.NumberOfStudyRelatedInstances, dicom.VR_IS, strconv.Itoa(e.instances))
	}
	if identifier.Has(dicom.NumberOfStudyRelatedSeries) {
		rsp.SetString(dicom.NumberOfStudyRelatedSeries, dicom.VR_IS, strconv.Itoa(len(e.series)))
	}
	if identifier.Has(dicom.ModalitiesInStudy) {
		modalities := make([]string, 0, len(e.modality))
		for m := range e.modality {
			modalities = append(modalities, m)
		}
		sort.Strings(modalities)
		rsp.SetString(dicom.ModalitiesInStudy, dicom.VR_CS, modalities...)
	}
}

func (s *FindService) findWorklist(ctx context.Context, identifier *dicom.Dataset) ([]*dicom.Dataset, error) {
	items, err := s.worklist.Worklist(ctx)
	if err != nil {
		return nil, err
	}
	var out []*dicom.Dataset
	for _, item := range items {
		if Matches(identifier, item) {
			out = append(out, returnKeys(identifier, item))
		}
	}
	return out, nil
}

func truncateComment(s string) string {
	if len(s) > 64 {
		return s[:64]
	}
	return s
}
