package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/caio-sobreiro/dicomkit/dicom"
	"github.com/caio-sobreiro/dicomkit/interfaces"
	"github.com/caio-sobreiro/dicomkit/types"
)

// Registry manages DICOM service handlers and routes incoming DIMSE messages.
//
// The registry acts as a dispatcher, routing DIMSE messages to the
// appropriate service handler based on the command field. It supports both
// single-response and streaming (multi-response) operations, and is itself
// a StreamingServiceHandler so it can be handed to dimse.NewService.
//
// Example usage:
//
//	registry := services.NewRegistry(logger)
//	registry.RegisterHandler(types.CEchoRQ, services.NewEchoService(logger))
//	registry.RegisterHandler(types.CFindRQ, services.NewFindService(store, logger))
type Registry struct {
	mu       sync.RWMutex
	handlers map[uint16]interfaces.ServiceHandler
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[uint16]interfaces.ServiceHandler),
		logger:   logger,
	}
}

// RegisterHandler registers a service handler for a DIMSE request command.
// Registering the same command again replaces the previous handler.
func (r *Registry) RegisterHandler(commandField uint16, handler interfaces.ServiceHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[commandField] = handler
}

// UnregisterHandler removes the handler for a command. Later requests with
// that command are answered with an unrecognized-operation status.
func (r *Registry) UnregisterHandler(commandField uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, commandField)
}

func (r *Registry) lookup(commandField uint16) (interfaces.ServiceHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[commandField]
	return h, ok
}

// HandleDIMSE routes a single-response request. Requests without a
// registered handler get status 0x0211 (unrecognized operation).
func (r *Registry) HandleDIMSE(ctx context.Context, msg *types.Message, data *dicom.Dataset, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	r.logger.DebugContext(ctx, "routing DIMSE message",
		"command_field", fmt.Sprintf("0x%04x", msg.CommandField),
		"message_id", msg.MessageID)

	handler, ok := r.lookup(msg.CommandField)
	if !ok {
		return r.unsupported(ctx, msg), nil, nil
	}
	return handler.HandleDIMSE(ctx, msg, data, meta)
}

// HandleDIMSEStreaming routes a request that may produce several
// responses. Handlers that do not stream fall back to HandleDIMSE and a
// single response.
func (r *Registry) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data *dicom.Dataset, meta interfaces.MessageContext, responder interfaces.ResponseSender) error {
	r.logger.DebugContext(ctx, "routing streaming DIMSE message",
		"command_field", fmt.Sprintf("0x%04x", msg.CommandField),
		"message_id", msg.MessageID)

	handler, ok := r.lookup(msg.CommandField)
	if !ok {
		return responder.SendResponse(r.unsupported(ctx, msg), nil)
	}
	if streaming, ok := handler.(interfaces.StreamingServiceHandler); ok {
		return streaming.HandleDIMSEStreaming(ctx, msg, data, meta, responder)
	}
	rsp, rspData, err := handler.HandleDIMSE(ctx, msg, data, meta)
	if err != nil {
		return err
	}
	return responder.SendResponse(rsp, rspData)
}

func (r *Registry) unsupported(ctx context.Context, msg *types.Message) *types.Message {
	r.logger.WarnContext(ctx, "no handler registered for DIMSE command",
		"command_field", fmt.Sprintf("0x%04x", msg.CommandField))
	return CreateErrorResponse(msg, types.StatusUnrecognizedOperation)
}

// HasHandler reports whether a handler is registered for commandField.
func (r *Registry) HasHandler(commandField uint16) bool {
	_, ok := r.lookup(commandField)
	return ok
}

// RegisteredCommands returns the registered command fields in ascending order.
func (r *Registry) RegisteredCommands() []uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	commands := make([]uint16, 0, len(r.handlers))
	for cmd := range r.handlers {
		commands = append(commands, cmd)
	}
	sort.Slice(commands, func(i, j int) bool { return commands[i] < commands[j] })
	return commands
}

// CreateErrorResponse builds a response to req carrying only a status.
func CreateErrorResponse(req *types.Message, status uint16) *types.Message {
	return &types.Message{
		CommandField:              types.ResponseCommandFor(req.CommandField),
		MessageIDBeingRespondedTo: req.MessageID,
		AffectedSOPClassUID:       affectedClass(req),
		AffectedSOPInstanceUID:    affectedInstance(req),
		CommandDataSetType:        types.DataSetAbsent,
		Status:                    status,
	}
}

// affectedClass is the SOP class a response reports. N-SET and friends
// address the requested class.
func affectedClass(req *types.Message) string {
	if req.AffectedSOPClassUID != "" {
		return req.AffectedSOPClassUID
	}
	return req.RequestedSOPClassUID
}

func affectedInstance(req *types.Message) string {
	if req.AffectedSOPInstanceUID != "" {
		return req.AffectedSOPInstanceUID
	}
	return req.RequestedSOPInstanceUID
}

// NewArchive returns a registry serving every provider in this package
// over store: verification, storage, query (including worklist), C-GET,
// C-MOVE to destinations and MPPS.
func NewArchive(store *MemoryStore, aeTitle string, destinations map[string]string, logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	mpps := NewMPPSService(logger)
	r.RegisterHandler(types.CEchoRQ, NewEchoService(logger))
	r.RegisterHandler(types.CStoreRQ, NewStoreService(store, logger))
	r.RegisterHandler(types.CFindRQ, NewFindService(store, store, logger))
	r.RegisterHandler(types.CGetRQ, NewGetService(store, logger))
	r.RegisterHandler(types.CMoveRQ, NewMoveService(store, aeTitle, destinations, logger))
	r.RegisterHandler(types.NCreateRQ, mpps)
	r.RegisterHandler(types.NSetRQ, mpps)
	return r
}
