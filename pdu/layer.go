package pdu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
)

// DIMSEHandler receives every PDV of an established association.
type DIMSEHandler interface {
	HandlePDV(ctx context.Context, pdv PDV, layer *Layer) error
}

// Waiter is implemented by handlers that run operations in the background.
// Wait blocks until they have returned.
type Waiter interface {
	Wait()
}

// LayerOptions configures the acceptor side of an association.
type LayerOptions struct {
	Policy AcceptorPolicy
	// IdleTimeout bounds the wait for each expected PDU. Zero disables it.
	IdleTimeout time.Duration
	// MaxPDULength bounds incoming PDUs and is announced to the peer.
	MaxPDULength uint32
	Logger       *slog.Logger
}

// maxAssociateLength bounds association requests, which are not subject
// to the negotiated maximum.
const maxAssociateLength = 1 << 20

// Layer handles the acceptor side of the DICOM upper layer protocol.
type Layer struct {
	conn     net.Conn
	handler  DIMSEHandler
	opts     LayerOptions
	state    *StateMachine
	logger   *slog.Logger
	writeMu  sync.Mutex
	mu       sync.RWMutex
	assoc    *AssociateRQ
	contexts map[byte]PresentationContext
	peerMax  uint32
}

// NewLayer creates a Layer serving conn.
func NewLayer(conn net.Conn, handler DIMSEHandler, opts LayerOptions) *Layer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxPDULength == 0 {
		opts.MaxPDULength = DefaultMaxPDULength
	}
	if opts.Policy.MaxPDULength == 0 {
		opts.Policy.MaxPDULength = opts.MaxPDULength
	}
	logger = logger.With("remote_addr", conn.RemoteAddr().String())
	return &Layer{
		conn:     conn,
		handler:  handler,
		opts:     opts,
		state:    NewStateMachine(logger),
		logger:   logger,
		contexts: make(map[byte]PresentationContext),
	}
}

// State returns the current association state.
func (l *Layer) State() string {
	return l.state.Current()
}

// HandleConnection runs the association until it is released, aborted or
// ctx is done. The connection is closed on return.
func (l *Layer) HandleConnection(ctx context.Context) error {
	defer l.conn.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = l.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := l.state.Fire(ctx, EventTransportOpen); err != nil {
		return err
	}
	if err := l.associate(ctx); err != nil {
		return fmt.Errorf("association failed: %w", err)
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		if w, ok := l.handler.(Waiter); ok {
			w.Wait()
		}
	}()

	for {
		p, err := l.read(ctx, dicomerrors.PhaseIdle)
		if err != nil {
			if errors.Is(err, io.EOF) {
				l.logger.Info("connection closed by peer")
				_ = l.state.Fire(ctx, EventClose)
				return nil
			}
			return err
		}
		done, err := l.dispatch(handlerCtx, p)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// read waits for the next PDU and checks it against the state machine.
// Timeouts and violations abort the association.
func (l *Layer) read(ctx context.Context, phase dicomerrors.Phase) (PDU, error) {
	if l.opts.IdleTimeout > 0 {
		if err := l.conn.SetReadDeadline(time.Now().Add(l.opts.IdleTimeout)); err != nil {
			return nil, dicomerrors.NewNetworkError("set deadline", err)
		}
	}
	limit := l.opts.MaxPDULength
	if phase == dicomerrors.PhaseNegotiate {
		limit = maxAssociateLength
	}
	p, err := ReadPDU(l.conn, limit)
	if err != nil {
		if ctx.Err() != nil {
			l.abort(ctx, AbortReasonNotSpecified)
			return nil, fmt.Errorf("%w: %w", dicomerrors.ErrOperationCanceled, ctx.Err())
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			l.logger.Warn("timed out waiting for PDU", "phase", phase, "timeout", l.opts.IdleTimeout)
			l.abort(ctx, AbortReasonNotSpecified)
			return nil, dicomerrors.NewTimeoutError(phase, l.opts.IdleTimeout)
		}
		if errors.Is(err, dicomerrors.ErrInvalidPDU) {
			l.abort(ctx, AbortReasonInvalidParameterValue)
			return nil, err
		}
		return nil, err
	}
	if err := l.state.CheckIncoming(p.Type()); err != nil {
		l.logger.Error("protocol violation", "state", l.state.Current(), "pdu", TypeName(p.Type()))
		l.abort(ctx, AbortReasonUnexpectedPDU)
		return nil, err
	}
	return p, nil
}

func (l *Layer) associate(ctx context.Context) error {
	p, err := l.read(ctx, dicomerrors.PhaseNegotiate)
	if err != nil {
		return err
	}
	var rq *AssociateRQ
	switch p := p.(type) {
	case *AssociateRQ:
		rq = p
	case *Abort:
		l.state.Abort(ctx)
		l.logger.Info("association aborted by peer before negotiation", "source", p.Source, "reason", p.Reason)
		return dicomerrors.NewAbortError(p.Source, p.Reason)
	default:
		l.abort(ctx, AbortReasonUnexpectedPDU)
		return dicomerrors.NewProtocolViolation(l.state.Current(), p.Type(), "expected A-ASSOCIATE-RQ")
	}
	l.logger.Debug("received A-ASSOCIATE-RQ",
		"calling_ae", rq.CallingAETitle,
		"called_ae", rq.CalledAETitle,
		"contexts", len(rq.PresentationContexts))

	ac, rj, contexts := Negotiate(rq, l.opts.Policy)
	if rj != nil {
		l.logger.Warn("rejecting association",
			"calling_ae", rq.CallingAETitle,
			"reason", dicomerrors.ReasonText(dicomerrors.AssociationRejectSource(rj.Source), dicomerrors.AssociationRejectReason(rj.Reason)))
		if err := l.WritePDU(rj); err != nil {
			return err
		}
		_ = l.state.Fire(ctx, EventReject)
		return dicomerrors.NewNegotiationFailure(dicomerrors.RejectResult(rj.Result),
			dicomerrors.AssociationRejectSource(rj.Source), dicomerrors.AssociationRejectReason(rj.Reason))
	}

	l.mu.Lock()
	l.assoc = rq
	l.peerMax = rq.UserInfo.MaxPDULength
	for _, pc := range contexts {
		l.contexts[pc.ID] = pc
		if !pc.Accepted() {
			l.logger.Warn("presentation context rejected",
				"context_id", pc.ID,
				"abstract_syntax", pc.AbstractSyntax,
				"result", ResultName(pc.Result))
		}
	}
	l.mu.Unlock()

	if err := l.WritePDU(ac); err != nil {
		return err
	}
	if err := l.state.Fire(ctx, EventAccept); err != nil {
		return err
	}
	l.logger.Info("association established", "calling_ae", rq.CallingAETitle, "called_ae", rq.CalledAETitle)
	return nil
}

// dispatch handles one PDU of an established association and reports
// whether the association has ended.
func (l *Layer) dispatch(ctx context.Context, p PDU) (bool, error) {
	switch p := p.(type) {
	case *PDataTF:
		for _, pdv := range p.Items {
			if _, ok := l.PresentationContext(pdv.ContextID); !ok {
				l.abort(ctx, AbortReasonInvalidParameterValue)
				return true, dicomerrors.NewProtocolViolation(l.state.Current(), TypePDataTF,
					"PDV references presentation context %d which was not accepted", pdv.ContextID)
			}
			if err := l.handler.HandlePDV(ctx, pdv, l); err != nil {
				if errors.Is(err, dicomerrors.ErrProtocolViolation) || errors.Is(err, dicomerrors.ErrInvalidMessage) {
					l.abort(ctx, AbortReasonUnexpectedParameter)
				}
				return true, err
			}
		}
		return false, nil
	case *ReleaseRQ:
		l.logger.Debug("received A-RELEASE-RQ")
		if err := l.WritePDU(&ReleaseRP{}); err != nil {
			return true, err
		}
		_ = l.state.Fire(ctx, EventPeerRelease)
		l.logger.Info("association released")
		return true, nil
	case *Abort:
		l.state.Abort(ctx)
		l.logger.Info("association aborted by peer", "source", p.Source, "reason", p.Reason)
		return true, dicomerrors.NewAbortError(p.Source, p.Reason)
	}
	return true, dicomerrors.NewProtocolViolation(l.state.Current(), p.Type(), "unhandled PDU")
}

// WritePDU sends p. Writes are serialised so concurrent handlers never
// interleave PDUs.
func (l *Layer) WritePDU(p PDU) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := WritePDU(l.conn, p); err != nil {
		return dicomerrors.NewNetworkError("write "+TypeName(p.Type()), err)
	}
	return nil
}

// SendPDataTF sends a P-DATA-TF while the association is usable.
func (l *Layer) SendPDataTF(p *PDataTF) error {
	if l.state.Terminal() {
		return dicomerrors.ErrConnectionClosed
	}
	return l.WritePDU(p)
}

// Abort sends an A-ABORT and moves the association to StateAborted.
func (l *Layer) Abort(reason byte) {
	l.abort(context.Background(), reason)
}

func (l *Layer) abort(ctx context.Context, reason byte) {
	if !l.state.Abort(ctx) {
		return
	}
	if err := l.WritePDU(&Abort{Source: AbortSourceServiceProvider, Reason: reason}); err != nil {
		l.logger.Debug("failed to send A-ABORT", "error", err)
	}
}

// MaxPDULength is the largest PDU the peer accepts.
func (l *Layer) MaxPDULength() uint32 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.peerMax == 0 {
		return DefaultMaxPDULength
	}
	return l.peerMax
}

// CallingAETitle returns the requestor's AE title.
func (l *Layer) CallingAETitle() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.assoc == nil {
		return ""
	}
	return l.assoc.CallingAETitle
}

// PresentationContext returns an accepted context by id.
func (l *Layer) PresentationContext(id byte) (PresentationContext, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pc, ok := l.contexts[id]
	if !ok || !pc.Accepted() {
		return PresentationContext{}, false
	}
	return pc, true
}

// TransferSyntax returns the negotiated transfer syntax of a context.
func (l *Layer) TransferSyntax(id byte) (string, error) {
	pc, ok := l.PresentationContext(id)
	if !ok {
		return "", fmt.Errorf("%w: presentation context %d", dicomerrors.ErrNoPresentationCtx, id)
	}
	return pc.TransferSyntax, nil
}

// ContextFor returns the lowest-numbered accepted context for an abstract
// syntax.
func (l *Layer) ContextFor(abstractSyntax string) (PresentationContext, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var best PresentationContext
	found := false
	for _, pc := range l.contexts {
		if pc.Accepted() && pc.AbstractSyntax == abstractSyntax && (!found || pc.ID < best.ID) {
			best, found = pc, true
		}
	}
	return best, found
}

// SupportsSCPRole reports whether the requestor asked to act as SCP for
// sopClassUID, as C-GET requires for its C-STORE sub-operations.
func (l *Layer) SupportsSCPRole(sopClassUID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.assoc == nil {
		return false
	}
	for _, rs := range l.assoc.UserInfo.RoleSelections {
		if rs.SOPClassUID == sopClassUID && rs.SCPRole {
			return true
		}
	}
	return false
}
