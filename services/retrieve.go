package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/caio-sobreiro/dicomkit/client"
	"github.com/caio-sobreiro/dicomkit/dicom"
	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
	"github.com/caio-sobreiro/dicomkit/interfaces"
	"github.com/caio-sobreiro/dicomkit/types"
)

// subOperations counts the C-STORE sub-operations of one retrieve.
type subOperations struct {
	total     int
	completed *atomic.Uint32
	failed    *atomic.Uint32
	warning   *atomic.Uint32

	mu        sync.Mutex
	failedUID []string
}

func newSubOperations(total int) *subOperations {
	return &subOperations{
		total:     total,
		completed: atomic.NewUint32(0),
		failed:    atomic.NewUint32(0),
		warning:   atomic.NewUint32(0),
	}
}

func (o *subOperations) record(sopInstanceUID string, status uint16, err error) {
	switch {
	case err == nil && types.ClassifyStatus(status) == types.CategorySuccess:
		o.completed.Inc()
	case err == nil && types.ClassifyStatus(status) == types.CategoryWarning:
		o.warning.Inc()
	default:
		o.failed.Inc()
		o.mu.Lock()
		o.failedUID = append(o.failedUID, sopInstanceUID)
		o.mu.Unlock()
	}
}

func (o *subOperations) counts() (completed, failed, warning, remaining uint16) {
	completed = uint16(o.completed.Load())
	failed = uint16(o.failed.Load())
	warning = uint16(o.warning.Load())
	remaining = uint16(o.total) - completed - failed - warning
	return
}

func (o *subOperations) pending(req *types.Message) *types.Message {
	c, f, w, r := o.counts()
	return NewRetrievePendingResponse(req, c, f, w, r)
}

// final builds the terminal response. A cancelled retrieve reports 0xFE00
// with the remaining count.
func (o *subOperations) final(ctx context.Context, req *types.Message) (*types.Message, *dicom.Dataset) {
	c, f, w, r := o.counts()
	var rsp *types.Message
	if ctx.Err() != nil && r > 0 {
		rsp = NewResponseBuilder(req).RetrieveResponse(types.StatusCancel, &c, &f, &w, &r)
	} else {
		rsp = NewRetrieveFinalResponse(req, c, f, w)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.failedUID) == 0 {
		return rsp, nil
	}
	ds := dicom.NewDataset()
	ds.SetString(dicom.FailedSOPInstanceUIDList, dicom.VR_UI, o.failedUID...)
	rsp.CommandDataSetType = types.DataSetPresent
	return rsp, ds
}

// matchRetrieve resolves a retrieve identifier to instances. A zero status
// means the lookup succeeded.
func matchRetrieve(ctx context.Context, store interfaces.InstanceStore, identifier *dicom.Dataset) ([]*interfaces.Instance, uint16, error) {
	if identifier == nil {
		return nil, types.StatusIdentifierDoesNotMatch, nil
	}
	level, ok := types.ParseQueryLevel(identifier.GetString(dicom.QueryRetrieveLevel))
	if !ok {
		return nil, types.StatusIdentifierDoesNotMatch, nil
	}
	instances, err := store.Find(ctx, level, identifier)
	if err != nil {
		return nil, types.StatusUnableToProcess, err
	}
	return instances, types.StatusSuccess, nil
}

// GetService answers C-GET requests by sending matching instances back
// over the requesting association.
type GetService struct {
	store  interfaces.InstanceStore
	logger *slog.Logger
}

// NewGetService creates a C-GET provider.
func NewGetService(store interfaces.InstanceStore, logger *slog.Logger) *GetService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetService{store: store, logger: logger}
}

// HandleDIMSE is not used for C-GET.
func (s *GetService) HandleDIMSE(context.Context, *types.Message, *dicom.Dataset, interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	return nil, nil, fmt.Errorf("%w: C-GET requires a streaming responder", dicomerrors.ErrInvalidMessage)
}

// HandleDIMSEStreaming runs one C-STORE sub-operation per matching
// instance, reporting progress after each.
func (s *GetService) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, identifier *dicom.Dataset, meta interfaces.MessageContext, responder interfaces.ResponseSender) error {
	logger := s.logger.With("message_id", msg.MessageID, "calling_ae", meta.CallingAETitle)
	getter, ok := responder.(interfaces.CGetResponder)
	if !ok {
		return responder.SendResponse(NewRetrieveErrorResponse(msg, types.StatusUnableToProcess), nil)
	}
	instances, status, err := matchRetrieve(ctx, s.store, identifier)
	if status != types.StatusSuccess {
		if err != nil {
			logger.ErrorContext(ctx, "C-GET lookup failed", "error", err)
		}
		return responder.SendResponse(NewRetrieveErrorResponse(msg, status), nil)
	}

	ops := newSubOperations(len(instances))
	for _, inst := range instances {
		if ctx.Err() != nil {
			break
		}
		status, err := getter.SendCStore(ctx, inst.SOPClassUID, inst.SOPInstanceUID, inst.Dataset)
		if err != nil {
			logger.WarnContext(ctx, "C-STORE sub-operation failed",
				"sop_instance_uid", inst.SOPInstanceUID,
				"error", err)
			if errors.Is(err, dicomerrors.ErrConnectionClosed) {
				return err
			}
		}
		ops.record(inst.SOPInstanceUID, status, err)
		if ctx.Err() != nil {
			break
		}
		if err := responder.SendResponse(ops.pending(msg), nil); err != nil && !errors.Is(err, dicomerrors.ErrOperationCanceled) {
			return err
		}
	}
	rsp, ds := ops.final(ctx, msg)
	c, f, w, _ := ops.counts()
	logger.InfoContext(ctx, "C-GET completed", "completed", c, "failed", f, "warning", w)
	return responder.SendResponse(rsp, ds)
}

// StoreSCU is the storage user a C-MOVE drives on the destination.
type StoreSCU interface {
	Store(ctx context.Context, req *client.StoreRequest) (*client.StoreResult, error)
	Close() error
}

// DialFunc opens an association to a C-MOVE destination proposing the
// given SOP classes.
type DialFunc func(ctx context.Context, destinationAE, address string, sopClasses []string) (StoreSCU, error)

// MoveService answers C-MOVE requests by storing matching instances on a
// known destination AE.
type MoveService struct {
	store        interfaces.InstanceStore
	aeTitle      string
	destinations map[string]string
	logger       *slog.Logger

	// Dial opens destination associations. Defaults to client.Connect.
	Dial DialFunc
	// Parallelism is the number of destination associations used by one
	// C-MOVE. Defaults to 1.
	Parallelism int
	// ClientConfig is the template for destination associations.
	ClientConfig client.Config
}

// NewMoveService creates a C-MOVE provider. destinations maps AE titles to
// host:port addresses.
func NewMoveService(store interfaces.InstanceStore, aeTitle string, destinations map[string]string, logger *slog.Logger) *MoveService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MoveService{
		store:        store,
		aeTitle:      aeTitle,
		destinations: destinations,
		logger:       logger,
		Parallelism:  1,
	}
	s.Dial = s.connect
	return s
}

func (s *MoveService) connect(ctx context.Context, destinationAE, address string, sopClasses []string) (StoreSCU, error) {
	cfg := s.ClientConfig
	cfg.CallingAETitle = s.aeTitle
	cfg.CalledAETitle = destinationAE
	cfg.AbstractSyntaxes = sopClasses
	if cfg.Logger == nil {
		cfg.Logger = s.logger
	}
	return client.Connect(ctx, address, cfg)
}

// HandleDIMSE is not used for C-MOVE.
func (s *MoveService) HandleDIMSE(context.Context, *types.Message, *dicom.Dataset, interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	return nil, nil, fmt.Errorf("%w: C-MOVE requires a streaming responder", dicomerrors.ErrInvalidMessage)
}

// HandleDIMSEStreaming stores the matching instances on the destination,
// split across Parallelism associations.
func (s *MoveService) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, identifier *dicom.Dataset, meta interfaces.MessageContext, responder interfaces.ResponseSender) error {
	logger := s.logger.With("message_id", msg.MessageID, "destination", msg.MoveDestination)
	address, ok := s.destinations[msg.MoveDestination]
	if !ok {
		logger.WarnContext(ctx, "C-MOVE to unknown destination")
		return responder.SendResponse(NewRetrieveErrorResponse(msg, types.StatusMoveDestinationUnknown), nil)
	}
	instances, status, err := matchRetrieve(ctx, s.store, identifier)
	if status != types.StatusSuccess {
		if err != nil {
			logger.ErrorContext(ctx, "C-MOVE lookup failed", "error", err)
		}
		return responder.SendResponse(NewRetrieveErrorResponse(msg, status), nil)
	}

	ops := newSubOperations(len(instances))
	g, gctx := errgroup.WithContext(ctx)
	for _, batch := range split(instances, s.Parallelism) {
		g.Go(func() error {
			return s.moveBatch(gctx, msg, meta, address, batch, ops, responder)
		})
	}
	if err := g.Wait(); err != nil {
		logger.WarnContext(ctx, "C-MOVE interrupted", "error", err)
	}

	rsp, ds := ops.final(ctx, msg)
	c, f, w, _ := ops.counts()
	logger.InfoContext(ctx, "C-MOVE completed", "completed", c, "failed", f, "warning", w)
	return responder.SendResponse(rsp, ds)
}

func (s *MoveService) moveBatch(ctx context.Context, msg *types.Message, meta interfaces.MessageContext, address string,
	batch []*interfaces.Instance, ops *subOperations, responder interfaces.ResponseSender) error {
	scu, err := s.Dial(ctx, msg.MoveDestination, address, sopClassesOf(batch))
	if err != nil {
		s.logger.WarnContext(ctx, "failed to open destination association",
			"destination", msg.MoveDestination,
			"error", err)
		for _, inst := range batch {
			ops.record(inst.SOPInstanceUID, 0, err)
		}
		return nil
	}
	defer scu.Close()

	for _, inst := range batch {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var status uint16
		result, err := scu.Store(ctx, &client.StoreRequest{
			SOPClassUID:             inst.SOPClassUID,
			SOPInstanceUID:          inst.SOPInstanceUID,
			Dataset:                 inst.Dataset,
			MoveOriginatorAETitle:   meta.CallingAETitle,
			MoveOriginatorMessageID: msg.MessageID,
		})
		if result != nil {
			status = result.Status
		}
		ops.record(inst.SOPInstanceUID, status, err)
		if err := responder.SendResponse(ops.pending(msg), nil); err != nil {
			if errors.Is(err, dicomerrors.ErrOperationCanceled) {
				return err
			}
			return fmt.Errorf("send C-MOVE progress: %w", err)
		}
	}
	return nil
}

func sopClassesOf(instances []*interfaces.Instance) []string {
	seen := make(map[string]bool)
	var out []string
	for _, inst := range instances {
		if !seen[inst.SOPClassUID] {
			seen[inst.SOPClassUID] = true
			out = append(out, inst.SOPClassUID)
		}
	}
	return out
}

// split deals instances round-robin into at most n batches.
func split(instances []*interfaces.Instance, n int) [][]*interfaces.Instance {
	if n < 1 {
		n = 1
	}
	if n > len(instances) {
		n = len(instances)
	}
	batches := make([][]*interfaces.Instance, n)
	for i, inst := range instances {
		batches[i%n] = append(batches[i%n], inst)
	}
	return batches
}
