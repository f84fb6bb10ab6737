// Package interfaces contains the service and handler interfaces shared by
// the DIMSE dispatcher and the service implementations.
package interfaces

import (
	"context"

	"github.com/caio-sobreiro/dicomkit/dicom"
	"github.com/caio-sobreiro/dicomkit/types"
)

// MessageContext describes the association a request arrived on.
type MessageContext struct {
	ContextID         byte
	AbstractSyntax    string
	TransferSyntaxUID string
	CallingAETitle    string
	CalledAETitle     string
}

// ServiceHandler handles single-response DIMSE operations.
type ServiceHandler interface {
	HandleDIMSE(ctx context.Context, msg *types.Message, data *dicom.Dataset, meta MessageContext) (*types.Message, *dicom.Dataset, error)
}

// StreamingServiceHandler handles operations with interim responses.
// ctx is cancelled when the peer sends C-CANCEL for the request.
type StreamingServiceHandler interface {
	HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data *dicom.Dataset, meta MessageContext, responder ResponseSender) error
}

// ResponseSender sends responses for one request.
type ResponseSender interface {
	SendResponse(msg *types.Message, data *dicom.Dataset) error
}

// CGetResponder can also run C-STORE sub-operations on the requesting
// association.
type CGetResponder interface {
	ResponseSender
	// SendCStore stores one instance on the peer and returns its status.
	SendCStore(ctx context.Context, sopClassUID, sopInstanceUID string, data *dicom.Dataset) (uint16, error)
}
