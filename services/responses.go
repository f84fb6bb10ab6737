package services

import (
	"github.com/caio-sobreiro/dicomkit/types"
)

// ResponseBuilder creates DIMSE responses for one request.
//
// The builder fills MessageIDBeingRespondedTo and the affected SOP class
// and instance from the request, so handlers only choose the status and,
// for retrieves, the sub-operation counters.
type ResponseBuilder struct {
	request *types.Message
}

// NewResponseBuilder creates a builder for request.
func NewResponseBuilder(request *types.Message) *ResponseBuilder {
	return &ResponseBuilder{request: request}
}

func (b *ResponseBuilder) response(status uint16) *types.Message {
	return &types.Message{
		CommandField:              types.ResponseCommandFor(b.request.CommandField),
		MessageIDBeingRespondedTo: b.request.MessageID,
		AffectedSOPClassUID:       affectedClass(b.request),
		CommandDataSetType:        types.DataSetAbsent,
		Status:                    status,
	}
}

// CEchoResponse creates a C-ECHO-RSP.
func (b *ResponseBuilder) CEchoResponse(status uint16) *types.Message {
	rsp := b.response(status)
	rsp.AffectedSOPClassUID = types.VerificationSOPClass
	return rsp
}

// CFindResponse creates a C-FIND-RSP. Pending responses carry a match.
func (b *ResponseBuilder) CFindResponse(status uint16, hasDataset bool) *types.Message {
	rsp := b.response(status)
	if hasDataset {
		rsp.CommandDataSetType = types.DataSetPresent
	}
	return rsp
}

// RetrieveResponse creates a C-MOVE-RSP or C-GET-RSP with sub-operation
// counters. Nil counters are left out of the command.
func (b *ResponseBuilder) RetrieveResponse(status uint16, completed, failed, warning, remaining *uint16) *types.Message {
	rsp := b.response(status)
	rsp.NumberOfCompletedSuboperations = completed
	rsp.NumberOfFailedSuboperations = failed
	rsp.NumberOfWarningSuboperations = warning
	rsp.NumberOfRemainingSuboperations = remaining
	return rsp
}

// CStoreResponse creates a C-STORE-RSP.
func (b *ResponseBuilder) CStoreResponse(status uint16) *types.Message {
	rsp := b.response(status)
	rsp.AffectedSOPInstanceUID = b.request.AffectedSOPInstanceUID
	return rsp
}

// NResponse creates an N-CREATE-RSP or N-SET-RSP for instanceUID.
func (b *ResponseBuilder) NResponse(status uint16, instanceUID string) *types.Message {
	rsp := b.response(status)
	rsp.AffectedSOPInstanceUID = instanceUID
	return rsp
}

// NewCEchoResponse creates a C-ECHO-RSP for request.
func NewCEchoResponse(request *types.Message, status uint16) *types.Message {
	return NewResponseBuilder(request).CEchoResponse(status)
}

// NewCFindPendingResponse creates a pending C-FIND-RSP carrying a match.
func NewCFindPendingResponse(request *types.Message) *types.Message {
	return NewResponseBuilder(request).CFindResponse(types.StatusPending, true)
}

// NewCFindSuccessResponse creates the final success C-FIND-RSP.
func NewCFindSuccessResponse(request *types.Message) *types.Message {
	return NewResponseBuilder(request).CFindResponse(types.StatusSuccess, false)
}

// NewCFindErrorResponse creates a final C-FIND-RSP with status.
func NewCFindErrorResponse(request *types.Message, status uint16) *types.Message {
	return NewResponseBuilder(request).CFindResponse(status, false)
}

// NewRetrievePendingResponse creates a pending C-MOVE-RSP or C-GET-RSP.
func NewRetrievePendingResponse(request *types.Message, completed, failed, warning, remaining uint16) *types.Message {
	return NewResponseBuilder(request).RetrieveResponse(types.StatusPending, &completed, &failed, &warning, &remaining)
}

// NewRetrieveFinalResponse creates the final C-MOVE-RSP or C-GET-RSP. The
// status is success when nothing failed, 0xB000 when some sub-operations
// failed or warned, and 0xA702 when every one of them failed.
func NewRetrieveFinalResponse(request *types.Message, completed, failed, warning uint16) *types.Message {
	status := uint16(types.StatusSuccess)
	switch {
	case failed > 0 && completed == 0 && warning == 0:
		status = types.StatusOutOfResourcesSubOps
	case failed > 0 || warning > 0:
		status = types.StatusWarningSubOpsFailed
	}
	remaining := uint16(0)
	return NewResponseBuilder(request).RetrieveResponse(status, &completed, &failed, &warning, &remaining)
}

// NewRetrieveErrorResponse creates a final C-MOVE-RSP or C-GET-RSP without
// counters.
func NewRetrieveErrorResponse(request *types.Message, status uint16) *types.Message {
	return NewResponseBuilder(request).RetrieveResponse(status, nil, nil, nil, nil)
}

// NewCStoreResponse creates a C-STORE-RSP.
func NewCStoreResponse(request *types.Message, status uint16) *types.Message {
	return NewResponseBuilder(request).CStoreResponse(status)
}
