package dimse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/atomic"

	"github.com/caio-sobreiro/dicomkit/dicom"
	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
	"github.com/caio-sobreiro/dicomkit/interfaces"
	"github.com/caio-sobreiro/dicomkit/pdu"
	"github.com/caio-sobreiro/dicomkit/types"
)

// PDULayer is the part of the association the dispatcher needs.
type PDULayer interface {
	Sender
	MaxPDULength() uint32
	PresentationContext(id byte) (pdu.PresentationContext, bool)
	ContextFor(abstractSyntax string) (pdu.PresentationContext, bool)
	CallingAETitle() string
}

// Service reassembles requests arriving on one association and runs them
// against a handler. Each request runs on its own goroutine so that
// C-CANCEL and C-STORE sub-operation responses are read while it is in
// progress.
type Service struct {
	handler   interfaces.ServiceHandler
	aeTitle   string
	logger    *slog.Logger
	assembler Assembler

	sendMu  sync.Mutex
	mu      sync.Mutex
	running map[uint16]context.CancelFunc
	subops  map[uint16]chan *types.Message
	nextID  *atomic.Uint32
	wg      sync.WaitGroup
}

// NewService creates a dispatcher for one association.
func NewService(handler interfaces.ServiceHandler, aeTitle string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		handler: handler,
		aeTitle: aeTitle,
		logger:  logger,
		running: make(map[uint16]context.CancelFunc),
		subops:  make(map[uint16]chan *types.Message),
		nextID:  atomic.NewUint32(0),
	}
}

// HandlePDV implements pdu.DIMSEHandler.
func (s *Service) HandlePDV(ctx context.Context, pdv pdu.PDV, layer *pdu.Layer) error {
	return s.handle(ctx, pdv, layer)
}

// Wait blocks until every running request has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) handle(ctx context.Context, pdv pdu.PDV, layer PDULayer) error {
	s.logger.Debug("received PDV",
		"context_id", pdv.ContextID,
		"command", pdv.Command,
		"last", pdv.Last,
		"size_bytes", len(pdv.Data))

	rec, err := s.assembler.Add(pdv)
	if err != nil || rec == nil {
		return err
	}
	msg := rec.Message

	switch {
	case msg.CommandField == types.CCancelRQ:
		s.cancel(msg.MessageIDBeingRespondedTo)
		return nil
	case msg.IsResponse():
		return s.deliverSubOperationResponse(msg)
	}

	pc, ok := layer.PresentationContext(rec.ContextID)
	if !ok {
		return dicomerrors.NewProtocolViolation(pdu.StateEstablished, pdu.TypePDataTF,
			"message on unknown presentation context %d", rec.ContextID)
	}
	meta := interfaces.MessageContext{
		ContextID:         pc.ID,
		AbstractSyntax:    pc.AbstractSyntax,
		TransferSyntaxUID: pc.TransferSyntax,
		CallingAETitle:    layer.CallingAETitle(),
		CalledAETitle:     s.aeTitle,
	}
	msg.TransferSyntaxUID = pc.TransferSyntax

	opCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.running[msg.MessageID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.finish(msg.MessageID)
		s.run(opCtx, msg, rec.Data, meta, layer)
	}()
	return nil
}

func (s *Service) run(ctx context.Context, msg *types.Message, raw []byte, meta interfaces.MessageContext, layer PDULayer) {
	logger := s.logger.With("message_id", msg.MessageID, "command", types.CommandName(msg.CommandField))
	logger.InfoContext(ctx, "processing DIMSE request", "context_id", meta.ContextID, "dataset_size", len(raw))

	r := &responder{service: s, layer: layer, request: msg, meta: meta, ctx: ctx}

	data, err := DecodeData(raw, meta.TransferSyntaxUID)
	if err != nil {
		logger.WarnContext(ctx, "failed to decode request dataset", "error", err)
		rsp := failureResponse(msg, types.StatusUnableToProcess, err.Error())
		if err := r.SendResponse(rsp, nil); err != nil {
			logger.WarnContext(ctx, "failed to send response", "error", err)
		}
		return
	}

	if streaming, ok := s.handler.(interfaces.StreamingServiceHandler); ok {
		err = streaming.HandleDIMSEStreaming(ctx, msg, data, meta, r)
	} else {
		var (
			rsp     *types.Message
			rspData *dicom.Dataset
		)
		rsp, rspData, err = s.handler.HandleDIMSE(ctx, msg, data, meta)
		if err == nil {
			err = r.SendResponse(rsp, rspData)
		}
	}
	if err != nil && !errors.Is(err, dicomerrors.ErrConnectionClosed) {
		logger.WarnContext(ctx, "service handler failed", "error", err)
		if !r.final.Load() {
			_ = r.SendResponse(failureResponse(msg, types.StatusUnableToProcess, err.Error()), nil)
		}
	}
}

func failureResponse(req *types.Message, status uint16, comment string) *types.Message {
	if len(comment) > 64 {
		comment = comment[:64]
	}
	return &types.Message{
		CommandField:              types.ResponseCommandFor(req.CommandField),
		MessageIDBeingRespondedTo: req.MessageID,
		AffectedSOPClassUID:       req.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    req.AffectedSOPInstanceUID,
		CommandDataSetType:        types.DataSetAbsent,
		Status:                    status,
		ErrorComment:              comment,
	}
}

func (s *Service) cancel(messageID uint16) {
	s.mu.Lock()
	cancel, ok := s.running[messageID]
	s.mu.Unlock()
	if !ok {
		s.logger.Debug("C-CANCEL for message that is not running", "message_id", messageID)
		return
	}
	s.logger.Info("cancelling request", "message_id", messageID)
	cancel()
}

func (s *Service) finish(messageID uint16) {
	s.mu.Lock()
	cancel, ok := s.running[messageID]
	delete(s.running, messageID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Service) deliverSubOperationResponse(msg *types.Message) error {
	s.mu.Lock()
	ch, ok := s.subops[msg.MessageIDBeingRespondedTo]
	delete(s.subops, msg.MessageIDBeingRespondedTo)
	s.mu.Unlock()
	if !ok {
		return dicomerrors.NewProtocolViolation(pdu.StateEstablished, pdu.TypePDataTF,
			"unexpected %s for message id %d", types.CommandName(msg.CommandField), msg.MessageIDBeingRespondedTo)
	}
	ch <- msg
	return nil
}

func (s *Service) messageID() uint16 {
	for {
		if id := uint16(s.nextID.Inc()); id != 0 {
			return id
		}
	}
}

func (s *Service) send(layer PDULayer, contextID byte, msg *types.Message, data *dicom.Dataset, transferSyntaxUID string) error {
	raw, err := EncodeData(data, transferSyntaxUID)
	if err != nil {
		return fmt.Errorf("encode %s dataset: %w", types.CommandName(msg.CommandField), err)
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return SendMessage(layer, contextID, msg, raw, layer.MaxPDULength())
}

// responder sends the responses of one request.
type responder struct {
	service *Service
	layer   PDULayer
	request *types.Message
	meta    interfaces.MessageContext
	ctx     context.Context
	final   atomic.Bool
}

// SendResponse sends msg. Once the request was cancelled, pending
// responses are dropped and ErrOperationCanceled is returned.
func (r *responder) SendResponse(msg *types.Message, data *dicom.Dataset) error {
	if msg == nil {
		return fmt.Errorf("%w: nil response", dicomerrors.ErrInvalidMessage)
	}
	pending := types.ClassifyStatus(msg.Status) == types.CategoryPending
	if pending && r.ctx.Err() != nil {
		return dicomerrors.ErrOperationCanceled
	}
	if r.final.Load() {
		return fmt.Errorf("%w: response after final status for message %d", dicomerrors.ErrInvalidMessage, r.request.MessageID)
	}
	if msg.MessageIDBeingRespondedTo == 0 {
		msg.MessageIDBeingRespondedTo = r.request.MessageID
	}
	if !pending {
		r.final.Store(true)
	}
	r.service.logger.Debug("sending response",
		"message_id", r.request.MessageID,
		"command", types.CommandName(msg.CommandField),
		"status", fmt.Sprintf("0x%04X", msg.Status))
	return r.service.send(r.layer, r.meta.ContextID, msg, data, r.meta.TransferSyntaxUID)
}

// SendCStore runs a C-STORE sub-operation on the requesting association.
func (r *responder) SendCStore(ctx context.Context, sopClassUID, sopInstanceUID string, data *dicom.Dataset) (uint16, error) {
	pc, ok := r.layer.ContextFor(sopClassUID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", dicomerrors.ErrNoPresentationCtx, types.SOPClassName(sopClassUID))
	}
	s := r.service
	id := s.messageID()
	ch := make(chan *types.Message, 1)
	s.mu.Lock()
	s.subops[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subops, id)
		s.mu.Unlock()
	}()

	rq := &types.Message{
		CommandField:           types.CStoreRQ,
		MessageID:              id,
		Priority:               types.PriorityMedium,
		AffectedSOPClassUID:    sopClassUID,
		AffectedSOPInstanceUID: sopInstanceUID,
		CommandDataSetType:     types.DataSetPresent,
	}
	if err := s.send(r.layer, pc.ID, rq, data, pc.TransferSyntax); err != nil {
		return 0, err
	}
	select {
	case rsp := <-ch:
		return rsp.Status, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
