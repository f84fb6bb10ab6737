package services

import (
	"context"
	"log/slog"

	"github.com/caio-sobreiro/dicomkit/dicom"
	"github.com/caio-sobreiro/dicomkit/interfaces"
	"github.com/caio-sobreiro/dicomkit/types"
)

// StoreService accepts C-STORE requests into an InstanceStore.
type StoreService struct {
	store  interfaces.InstanceStore
	logger *slog.Logger
	// OnStored, if set, is called after each instance is stored.
	OnStored func(ctx context.Context, inst *interfaces.Instance)
}

// NewStoreService creates a C-STORE provider.
func NewStoreService(store interfaces.InstanceStore, logger *slog.Logger) *StoreService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreService{store: store, logger: logger}
}

// HandleDIMSE stores the request dataset. SOP Class and Instance UIDs the
// dataset lacks are coerced from the command and reported with status
// 0xB000; a dataset naming a different instance is refused with 0xA900.
func (s *StoreService) HandleDIMSE(ctx context.Context, msg *types.Message, ds *dicom.Dataset, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	logger := s.logger.With("message_id", msg.MessageID, "sop_instance_uid", msg.AffectedSOPInstanceUID)
	fail := func(status uint16, comment string) (*types.Message, *dicom.Dataset, error) {
		logger.WarnContext(ctx, "C-STORE refused", "status", status, "reason", comment)
		rsp := NewCStoreResponse(msg, status)
		rsp.ErrorComment = truncateComment(comment)
		return rsp, nil, nil
	}

	if ds == nil {
		return fail(types.StatusDataSetDoesNotMatch, "no data set")
	}
	if err := dicom.ValidateUID(msg.AffectedSOPInstanceUID); err != nil {
		return fail(types.StatusDataSetDoesNotMatch, err.Error())
	}

	status := uint16(types.StatusSuccess)
	comment := ""
	switch uid := ds.GetString(dicom.SOPInstanceUID); {
	case uid == "":
		ds.SetString(dicom.SOPInstanceUID, dicom.VR_UI, msg.AffectedSOPInstanceUID)
		status, comment = types.StatusWarningCoercion, "SOP Instance UID coerced"
	case uid != msg.AffectedSOPInstanceUID:
		return fail(types.StatusDataSetDoesNotMatch, "SOP Instance UID differs from command")
	}
	switch uid := ds.GetString(dicom.SOPClassUID); {
	case uid == "":
		ds.SetString(dicom.SOPClassUID, dicom.VR_UI, msg.AffectedSOPClassUID)
		status, comment = types.StatusWarningCoercion, "SOP Class UID coerced"
	case uid != msg.AffectedSOPClassUID:
		return fail(types.StatusDataSetDoesNotMatch, "SOP Class UID differs from command")
	}

	inst := InstanceFromDataset(ds)
	if err := s.store.Store(ctx, inst); err != nil {
		logger.ErrorContext(ctx, "failed to store instance", "error", err)
		return fail(types.StatusOutOfResources, err.Error())
	}
	if s.OnStored != nil {
		s.OnStored(ctx, inst)
	}
	logger.InfoContext(ctx, "instance stored",
		"sop_class", types.SOPClassName(inst.SOPClassUID),
		"calling_ae", meta.CallingAETitle,
		"transfer_syntax", meta.TransferSyntaxUID)

	rsp := NewCStoreResponse(msg, status)
	rsp.ErrorComment = comment
	return rsp, nil, nil
}
