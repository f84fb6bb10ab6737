// Package client implements the requestor side of DICOM associations.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/caio-sobreiro/dicomkit/dicom"
	"github.com/caio-sobreiro/dicomkit/dimse"
	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
	"github.com/caio-sobreiro/dicomkit/pdu"
	"github.com/caio-sobreiro/dicomkit/types"
)

// Config holds client configuration.
type Config struct {
	CallingAETitle string
	CalledAETitle  string
	MaxPDULength   uint32
	// ConnectTimeout bounds dialing and association negotiation (default: 30s).
	ConnectTimeout time.Duration
	// IdleTimeout bounds the wait for each expected PDU (default: 60s).
	IdleTimeout time.Duration
	// OperationTimeout bounds a whole DIMSE operation. Zero means no limit.
	OperationTimeout time.Duration
	Logger           *slog.Logger
	// PreferredTransferSyntaxes are proposed for every context (default:
	// explicit then implicit VR little endian).
	PreferredTransferSyntaxes []string
	// AbstractSyntaxes to propose. Empty means DefaultAbstractSyntaxes.
	AbstractSyntaxes []string
	// StorageSCPRole requests the SCP role for storage classes so that
	// C-GET can receive its C-STORE sub-operations.
	StorageSCPRole bool
	ImplementationClassUID    string
	ImplementationVersionName string
}

func (c *Config) applyDefaults() {
	if c.MaxPDULength == 0 {
		c.MaxPDULength = pdu.DefaultMaxPDULength
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if len(c.PreferredTransferSyntaxes) == 0 {
		c.PreferredTransferSyntaxes = types.DefaultTransferSyntaxes()
	}
	if len(c.AbstractSyntaxes) == 0 {
		c.AbstractSyntaxes = DefaultAbstractSyntaxes()
	}
	if c.ImplementationClassUID == "" {
		c.ImplementationClassUID = dicom.ImplementationClassUIDValue
	}
	if c.ImplementationVersionName == "" {
		c.ImplementationVersionName = dicom.ImplementationVersionNameValue
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// DefaultAbstractSyntaxes proposes verification, query/retrieve, worklist,
// MPPS and every known storage class.
func DefaultAbstractSyntaxes() []string {
	out := []string{
		types.VerificationSOPClass,
		types.StudyRootQueryRetrieveInformationModelFind,
		types.StudyRootQueryRetrieveInformationModelMove,
		types.StudyRootQueryRetrieveInformationModelGet,
		types.PatientRootQueryRetrieveInformationModelFind,
		types.PatientRootQueryRetrieveInformationModelMove,
		types.PatientRootQueryRetrieveInformationModelGet,
		types.ModalityWorklistInformationModelFind,
		types.ModalityPerformedProcedureStepSOPClass,
	}
	return append(out, types.SOPClassesOfKind(types.ServiceStorage)...)
}

// maxAssociateLength bounds A-ASSOCIATE PDUs, which are not subject to
// the negotiated maximum.
const maxAssociateLength = 1 << 20

// Association is a requestor-side association. Operations on one
// association are serialised.
type Association struct {
	conn      net.Conn
	cfg       Config
	logger    *slog.Logger
	state     *pdu.StateMachine
	contexts  []pdu.PresentationContext
	peerMax   uint32
	tracker   *dimse.Tracker
	assembler dimse.Assembler
	nextID    *atomic.Uint32
	opMu      sync.Mutex
	writeMu   sync.Mutex
}

// Connect dials address and negotiates an association.
func Connect(ctx context.Context, address string, cfg Config) (*Association, error) {
	cfg.applyDefaults()
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, dicomerrors.NewTimeoutError(dicomerrors.PhaseConnect, cfg.ConnectTimeout)
		}
		return nil, dicomerrors.NewNetworkError("dial "+address, err)
	}
	return NewAssociation(ctx, conn, cfg)
}

// NewAssociation negotiates an association over an open connection. The
// connection is owned by the association afterwards and is closed when
// negotiation fails.
func NewAssociation(ctx context.Context, conn net.Conn, cfg Config) (*Association, error) {
	cfg.applyDefaults()
	a, err := negotiate(ctx, conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

func negotiate(ctx context.Context, conn net.Conn, cfg Config) (*Association, error) {
	logger := cfg.Logger.With("remote_addr", remoteAddr(conn), "called_ae", cfg.CalledAETitle)
	a := &Association{
		conn:    conn,
		cfg:     cfg,
		logger:  logger,
		state:   pdu.NewStateMachine(logger),
		tracker: dimse.NewTracker(),
		nextID:  atomic.NewUint32(0),
	}

	rq := a.associateRequest()
	if err := a.state.Fire(ctx, pdu.EventConnect); err != nil {
		return nil, err
	}
	negotiateCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := a.writePDU(negotiateCtx, rq); err != nil {
		return nil, err
	}
	p, err := a.readPDU(negotiateCtx, dicomerrors.PhaseNegotiate)
	if err != nil {
		return nil, err
	}

	switch p := p.(type) {
	case *pdu.AssociateRJ:
		_ = a.state.Fire(ctx, pdu.EventReject)
		failure := dicomerrors.NewNegotiationFailure(dicomerrors.RejectResult(p.Result),
			dicomerrors.AssociationRejectSource(p.Source), dicomerrors.AssociationRejectReason(p.Reason))
		logger.Warn("association rejected", "error", failure)
		return nil, failure
	case *pdu.AssociateAC:
		a.contexts = pdu.MatchAccept(rq, p)
		a.peerMax = p.UserInfo.MaxPDULength
		accepted := 0
		for _, pc := range a.contexts {
			if pc.Accepted() {
				accepted++
			}
		}
		if accepted == 0 {
			a.abort(ctx)
			return nil, &dicomerrors.NegotiationFailure{Msg: "no presentation context accepted"}
		}
		if err := a.state.Fire(ctx, pdu.EventAccept); err != nil {
			return nil, err
		}
		logger.Info("DICOM association established",
			"calling_ae", cfg.CallingAETitle,
			"accepted_contexts", accepted)
		return a, nil
	}
	return nil, dicomerrors.NewProtocolViolation(a.state.Current(), p.Type(), "unexpected reply to A-ASSOCIATE-RQ")
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (a *Association) associateRequest() *pdu.AssociateRQ {
	rq := &pdu.AssociateRQ{
		ProtocolVersion:    pdu.ProtocolVersion,
		CalledAETitle:      a.cfg.CalledAETitle,
		CallingAETitle:     a.cfg.CallingAETitle,
		ApplicationContext: types.ApplicationContextUID,
		UserInfo: pdu.UserInformation{
			MaxPDULength:              a.cfg.MaxPDULength,
			ImplementationClassUID:    a.cfg.ImplementationClassUID,
			ImplementationVersionName: a.cfg.ImplementationVersionName,
		},
	}
	for i, as := range a.cfg.AbstractSyntaxes {
		if i >= 128 {
			a.logger.Warn("too many abstract syntaxes, proposal truncated", "proposed", 128)
			break
		}
		rq.PresentationContexts = append(rq.PresentationContexts, pdu.PresentationContextRQ{
			ID:               byte(2*i + 1),
			AbstractSyntax:   as,
			TransferSyntaxes: a.cfg.PreferredTransferSyntaxes,
		})
		if a.cfg.StorageSCPRole && types.IsStorageSOPClass(as) {
			rq.UserInfo.RoleSelections = append(rq.UserInfo.RoleSelections, pdu.RoleSelection{
				SOPClassUID: as, SCURole: true, SCPRole: true,
			})
		}
	}
	return rq
}

// PresentationContexts returns the outcome of every proposed context.
func (a *Association) PresentationContexts() []pdu.PresentationContext {
	return append([]pdu.PresentationContext(nil), a.contexts...)
}

// State returns the association state.
func (a *Association) State() string {
	return a.state.Current()
}

// MaxPDULength is the largest PDU the peer accepts.
func (a *Association) MaxPDULength() uint32 {
	if a.peerMax == 0 {
		return pdu.DefaultMaxPDULength
	}
	return a.peerMax
}

// contextFor returns the accepted context for an abstract syntax. When
// transferSyntax is set, a context negotiated with that syntax is preferred.
func (a *Association) contextFor(abstractSyntax, transferSyntax string) (pdu.PresentationContext, error) {
	var fallback *pdu.PresentationContext
	for i, pc := range a.contexts {
		if !pc.Accepted() || pc.AbstractSyntax != abstractSyntax {
			continue
		}
		if transferSyntax == "" || pc.TransferSyntax == transferSyntax {
			return pc, nil
		}
		if fallback == nil {
			fallback = &a.contexts[i]
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return pdu.PresentationContext{}, fmt.Errorf("%w: %s", dicomerrors.ErrNoPresentationCtx, types.SOPClassName(abstractSyntax))
}

func (a *Association) contextByID(id byte) (pdu.PresentationContext, bool) {
	for _, pc := range a.contexts {
		if pc.ID == id && pc.Accepted() {
			return pc, true
		}
	}
	return pdu.PresentationContext{}, false
}

func (a *Association) messageID() uint16 {
	for {
		if id := uint16(a.nextID.Inc()); id != 0 {
			return id
		}
	}
}

// SendPDataTF writes one P-DATA-TF.
func (a *Association) SendPDataTF(p *pdu.PDataTF) error {
	return a.writePDU(context.Background(), p)
}

func (a *Association) writePDU(ctx context.Context, p pdu.PDU) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = a.conn.SetWriteDeadline(deadline)
	} else {
		_ = a.conn.SetWriteDeadline(time.Time{})
	}
	if err := pdu.WritePDU(a.conn, p); err != nil {
		return dicomerrors.NewNetworkError("write "+pdu.TypeName(p.Type()), err)
	}
	return nil
}

// readPDU waits for the next PDU, bounded by the idle timeout and ctx.
// Timeouts, cancellation and protocol violations abort the association.
func (a *Association) readPDU(ctx context.Context, phase dicomerrors.Phase) (pdu.PDU, error) {
	deadline := time.Now().Add(a.cfg.IdleTimeout)
	ctxBound := false
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline, ctxBound = d, true
	}
	if err := a.conn.SetReadDeadline(deadline); err != nil {
		return nil, dicomerrors.NewNetworkError("set deadline", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = a.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	limit := a.cfg.MaxPDULength
	if phase == dicomerrors.PhaseNegotiate {
		limit = maxAssociateLength
	}
	p, err := pdu.ReadPDU(a.conn, limit)
	if err != nil {
		var netErr net.Error
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			a.abort(ctx)
			return nil, fmt.Errorf("%w: %w", dicomerrors.ErrOperationCanceled, ctx.Err())
		case errors.Is(ctx.Err(), context.DeadlineExceeded),
			ctxBound && errors.As(err, &netErr) && netErr.Timeout():
			a.abort(ctx)
			return nil, dicomerrors.NewTimeoutError(phase, a.timeoutFor(phase))
		case errors.As(err, &netErr) && netErr.Timeout():
			a.abort(ctx)
			return nil, dicomerrors.NewTimeoutError(dicomerrors.PhaseIdle, a.cfg.IdleTimeout)
		case errors.Is(err, dicomerrors.ErrInvalidPDU):
			a.abort(ctx)
			return nil, err
		}
		a.state.Abort(ctx)
		return nil, fmt.Errorf("%w: %w", dicomerrors.ErrConnectionClosed, err)
	}
	if err := a.state.CheckIncoming(p.Type()); err != nil {
		a.abort(ctx)
		return nil, err
	}
	if abort, ok := p.(*pdu.Abort); ok {
		a.state.Abort(ctx)
		a.conn.Close()
		return nil, dicomerrors.NewAbortError(abort.Source, abort.Reason)
	}
	return p, nil
}

func (a *Association) timeoutFor(phase dicomerrors.Phase) time.Duration {
	switch phase {
	case dicomerrors.PhaseNegotiate, dicomerrors.PhaseConnect:
		return a.cfg.ConnectTimeout
	case dicomerrors.PhaseOperation:
		return a.cfg.OperationTimeout
	}
	return a.cfg.IdleTimeout
}

// receive returns the next complete message.
func (a *Association) receive(ctx context.Context) (*dimse.Received, error) {
	for {
		p, err := a.readPDU(ctx, dicomerrors.PhaseOperation)
		if err != nil {
			return nil, err
		}
		switch p := p.(type) {
		case *pdu.PDataTF:
			for i, pdv := range p.Items {
				if _, ok := a.contextByID(pdv.ContextID); !ok {
					a.abort(ctx)
					return nil, dicomerrors.NewProtocolViolation(a.state.Current(), pdu.TypePDataTF,
						"PDV on presentation context %d which was not accepted", pdv.ContextID)
				}
				rec, err := a.assembler.Add(pdv)
				if err != nil {
					a.abort(ctx)
					return nil, err
				}
				if rec != nil {
					if i != len(p.Items)-1 {
						a.abort(ctx)
						return nil, dicomerrors.NewProtocolViolation(a.state.Current(), pdu.TypePDataTF,
							"PDVs of a new message share a PDU with the end of the previous one")
					}
					return rec, nil
				}
			}
		case *pdu.ReleaseRQ:
			_ = a.writePDU(ctx, &pdu.ReleaseRP{})
			_ = a.state.Fire(ctx, pdu.EventPeerRelease)
			a.conn.Close()
			return nil, fmt.Errorf("%w: released by peer", dicomerrors.ErrConnectionClosed)
		default:
			a.abort(ctx)
			return nil, dicomerrors.NewProtocolViolation(a.state.Current(), p.Type(), "unexpected PDU during operation")
		}
	}
}

// operation runs fn with the association locked and the operation
// timeout applied.
func (a *Association) operation(ctx context.Context, fn func(ctx context.Context) error) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()
	if !a.state.Is(pdu.StateEstablished) {
		return fmt.Errorf("%w: association is %s", dicomerrors.ErrConnectionClosed, a.state.Current())
	}
	if a.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.OperationTimeout)
		defer cancel()
	}
	return fn(ctx)
}

// request sends a request and registers its id with the tracker.
func (a *Association) request(ctx context.Context, pc pdu.PresentationContext, msg *types.Message, data *dicom.Dataset) error {
	if msg.MessageID == 0 {
		msg.MessageID = a.messageID()
	}
	raw, err := dimse.EncodeData(data, pc.TransferSyntax)
	if err != nil {
		return fmt.Errorf("encode %s dataset: %w", types.CommandName(msg.CommandField), err)
	}
	if err := a.tracker.Register(msg.MessageID, msg.CommandField); err != nil {
		return err
	}
	a.logger.Debug("sending request",
		"command", types.CommandName(msg.CommandField),
		"message_id", msg.MessageID,
		"context_id", pc.ID)
	if err := a.send(ctx, pc.ID, msg, raw); err != nil {
		a.tracker.Forget(msg.MessageID)
		return err
	}
	return nil
}

func (a *Association) send(ctx context.Context, contextID byte, msg *types.Message, raw []byte) error {
	return dimse.SendMessage(&ctxSender{a: a, ctx: ctx}, contextID, msg, raw, a.MaxPDULength())
}

type ctxSender struct {
	a   *Association
	ctx context.Context
}

func (s *ctxSender) SendPDataTF(p *pdu.PDataTF) error {
	return s.a.writePDU(s.ctx, p)
}

// response is a decoded response to an outstanding request.
type response struct {
	msg  *types.Message
	data *dicom.Dataset
	// decodeErr is set when the response carried a data set that could
	// not be decoded.
	decodeErr error
}

// awaitResponse reads until a response to one of our requests arrives.
// Incoming C-STORE requests are passed to onStore when set.
func (a *Association) awaitResponse(ctx context.Context, onStore func(*dimse.Received) error) (*response, error) {
	for {
		rec, err := a.receive(ctx)
		if err != nil {
			return nil, err
		}
		msg := rec.Message
		if !msg.IsResponse() {
			if msg.CommandField == types.CStoreRQ && onStore != nil {
				if err := onStore(rec); err != nil {
					return nil, err
				}
				continue
			}
			a.abort(ctx)
			return nil, dicomerrors.NewProtocolViolation(a.state.Current(), pdu.TypePDataTF,
				"unexpected %s from acceptor", types.CommandName(msg.CommandField))
		}
		final := types.ClassifyStatus(msg.Status) != types.CategoryPending
		if err := a.tracker.Resolve(msg, final); err != nil {
			a.abort(ctx)
			return nil, err
		}
		pc, _ := a.contextByID(rec.ContextID)
		data, err := dimse.DecodeData(rec.Data, pc.TransferSyntax)
		if err != nil {
			// Malformed identifiers fail only this response; the exchange
			// continues so the terminal status is still read.
			a.logger.Warn("failed to decode response dataset",
				"error", err,
				"message_id", msg.MessageIDBeingRespondedTo,
				"status", fmt.Sprintf("0x%04X", msg.Status))
			return &response{msg: msg, decodeErr: err}, nil
		}
		return &response{msg: msg, data: data}, nil
	}
}

// Release performs an orderly release and closes the connection.
func (a *Association) Release(ctx context.Context) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()
	defer a.conn.Close()
	if err := a.state.Fire(ctx, pdu.EventReleaseRequest); err != nil {
		return err
	}
	if err := a.writePDU(ctx, &pdu.ReleaseRQ{}); err != nil {
		return err
	}
	for {
		p, err := a.readPDU(ctx, dicomerrors.PhaseRelease)
		if err != nil {
			return err
		}
		if _, ok := p.(*pdu.ReleaseRP); ok {
			a.logger.Info("association released")
			return a.state.Fire(ctx, pdu.EventReleaseResponse)
		}
		a.logger.Debug("discarding PDU while awaiting release", "pdu", pdu.TypeName(p.Type()))
	}
}

// Abort sends an A-ABORT and closes the connection.
func (a *Association) Abort() error {
	a.abort(context.Background())
	return nil
}

func (a *Association) abort(ctx context.Context) {
	if a.state.Abort(ctx) {
		writeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := a.writePDU(writeCtx, &pdu.Abort{Source: pdu.AbortSourceServiceUser}); err != nil {
			a.logger.Debug("failed to send A-ABORT", "error", err)
		}
		a.logger.Warn("association aborted")
	}
	a.conn.Close()
}

// Close releases the association, aborting it if the release fails.
func (a *Association) Close() error {
	if !a.state.Is(pdu.StateEstablished) {
		return a.conn.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.IdleTimeout)
	defer cancel()
	if err := a.Release(ctx); err != nil {
		a.abort(ctx)
		return err
	}
	return nil
}

// outcome turns a final status into a warning or an error.
func outcome(operation string, msg *types.Message) (*dicomerrors.RemoteRejection, error) {
	switch types.ClassifyStatus(msg.Status) {
	case types.CategorySuccess:
		return nil, nil
	case types.CategoryWarning:
		return dicomerrors.NewRemoteRejection(operation, msg.Status, msg.ErrorComment), nil
	}
	return nil, dicomerrors.NewRemoteRejection(operation, msg.Status, msg.ErrorComment)
}
