// Package services provides DICOM service class providers: verification,
// storage, query, retrieve and modality performed procedure step, all
// backed by an interfaces.InstanceStore.
package services

import (
	"context"
	"log/slog"

	"github.com/caio-sobreiro/dicomkit/dicom"
	"github.com/caio-sobreiro/dicomkit/interfaces"
	"github.com/caio-sobreiro/dicomkit/types"
)

// EchoService handles C-ECHO verification requests. It is stateless.
type EchoService struct {
	logger *slog.Logger
}

// NewEchoService creates a C-ECHO service.
func NewEchoService(logger *slog.Logger) *EchoService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EchoService{logger: logger}
}

// HandleDIMSE answers a C-ECHO-RQ with success.
func (s *EchoService) HandleDIMSE(ctx context.Context, msg *types.Message, _ *dicom.Dataset, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	s.logger.InfoContext(ctx, "C-ECHO request",
		"message_id", msg.MessageID,
		"calling_ae", meta.CallingAETitle)
	return NewCEchoResponse(msg, types.StatusSuccess), nil, nil
}

// HealthCheck reports whether the service is operational.
func (s *EchoService) HealthCheck(context.Context) error {
	return nil
}
