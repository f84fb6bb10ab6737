// Package server accepts DICOM associations and serves them with a
// service handler.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/caio-sobreiro/dicomkit/dimse"
	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
	"github.com/caio-sobreiro/dicomkit/interfaces"
	"github.com/caio-sobreiro/dicomkit/pdu"
)

// Option configures a Server instance.
type Option func(*Server)

// WithLogger overrides the logger used by the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.Logger = logger
	}
}

// WithIdleTimeout bounds the wait for each PDU on an association.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.IdleTimeout = timeout
	}
}

// WithMaxPDULength sets the largest PDU accepted and announced to peers.
func WithMaxPDULength(n uint32) Option {
	return func(s *Server) {
		s.MaxPDULength = n
	}
}

// WithPolicy sets the presentation context acceptance policy.
func WithPolicy(policy pdu.AcceptorPolicy) Option {
	return func(s *Server) {
		s.Policy = policy
	}
}

// WithMaxAssociations limits concurrent associations. Requests beyond the
// limit are rejected as transient (local limit exceeded).
func WithMaxAssociations(n int) Option {
	return func(s *Server) {
		s.MaxAssociations = n
	}
}

// Server exposes a reusable DICOM listener that wires the PDU and DIMSE
// layers.
type Server struct {
	AETitle         string
	Handler         interfaces.ServiceHandler
	Logger          *slog.Logger
	IdleTimeout     time.Duration // Idle timeout per association (default: 60s)
	MaxPDULength    uint32
	Policy          pdu.AcceptorPolicy
	MaxAssociations int // Zero means unlimited

	active *atomic.Int32
}

// New builds a Server with the provided AE title and handler.
func New(aeTitle string, handler interfaces.ServiceHandler, opts ...Option) *Server {
	srv := &Server{
		AETitle:     aeTitle,
		Handler:     handler,
		IdleTimeout: 60 * time.Second,
		active:      atomic.NewInt32(0),
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// ListenAndServe listens on the given address and serves until the context
// is done or an error occurs.
func ListenAndServe(ctx context.Context, address, aeTitle string, handler interfaces.ServiceHandler, opts ...Option) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return dicomerrors.NewNetworkError("listen "+address, err)
	}
	defer listener.Close()

	return New(aeTitle, handler, opts...).Serve(ctx, listener)
}

// ActiveAssociations returns the number of connections being served.
func (s *Server) ActiveAssociations() int {
	if s.active == nil {
		return 0
	}
	return int(s.active.Load())
}

// Serve accepts connections from listener until ctx is cancelled or an
// unrecoverable error occurs. It returns once every connection has ended.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if listener == nil {
		return errors.New("dicomserver: listener is required")
	}
	if s == nil {
		return errors.New("dicomserver: server is nil")
	}
	if s.Handler == nil {
		return errors.New("dicomserver: handler is required")
	}
	if s.AETitle == "" {
		return errors.New("dicomserver: AE title is required")
	}
	if s.active == nil {
		s.active = atomic.NewInt32(0)
	}

	logger := s.logger()
	g, ctx := errgroup.WithContext(ctx)

	stop := context.AfterFunc(ctx, func() {
		_ = listener.Close()
	})
	defer stop()

	logger.Info("DICOM server listening",
		"address", listener.Addr().String(),
		"ae_title", s.AETitle)

	g.Go(func() error {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					logger.Warn("accept timeout", "error", err)
					continue
				}
				return dicomerrors.NewNetworkError("accept", err)
			}
			g.Go(func() error {
				s.handleConnection(ctx, conn, logger)
				return nil
			})
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn, logger *slog.Logger) {
	active := s.active.Inc()
	defer s.active.Dec()
	connLogger := logger.With("remote_addr", conn.RemoteAddr().String())
	connLogger.Info("accepted DICOM connection", "active_associations", active)

	policy := s.Policy
	if policy.AETitle == "" {
		policy.AETitle = s.AETitle
	}
	if s.MaxAssociations > 0 && int(active) > s.MaxAssociations {
		policy.RejectAssociation = func(*pdu.AssociateRQ) *pdu.AssociateRJ {
			return &pdu.AssociateRJ{
				Result: byte(dicomerrors.RejectTransient),
				Source: byte(dicomerrors.RejectSourceServiceProviderPresentation),
				Reason: byte(dicomerrors.RejectReasonLocalLimitExceeded),
			}
		}
	}

	service := dimse.NewService(s.Handler, s.AETitle, connLogger)
	layer := pdu.NewLayer(conn, service, pdu.LayerOptions{
		Policy:       policy,
		IdleTimeout:  s.IdleTimeout,
		MaxPDULength: s.MaxPDULength,
		Logger:       logger,
	})

	if err := layer.HandleConnection(ctx); err != nil && ctx.Err() == nil {
		connLogger.Warn("DICOM connection ended", "error", err)
		return
	}
	connLogger.Info("DICOM connection closed")
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
