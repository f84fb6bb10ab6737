package pdu

import (
	"context"
	"log/slog"

	"github.com/looplab/fsm"

	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
)

// Association states.
const (
	StateIdle                    = "idle"
	StateAwaitingAccept          = "awaiting_accept"
	StateAwaitingRequest         = "awaiting_request"
	StateEstablished             = "established"
	StateAwaitingReleaseResponse = "awaiting_release_response"
	StateClosed                  = "closed"
	StateAborted                 = "aborted"
)

// Association events.
const (
	EventConnect         = "connect"
	EventTransportOpen   = "transport_open"
	EventAccept          = "accept"
	EventReject          = "reject"
	EventReleaseRequest  = "release_request"
	EventReleaseResponse = "release_response"
	EventPeerRelease     = "peer_release"
	EventAbort           = "abort"
	EventClose           = "close"
)

var liveStates = []string{
	StateAwaitingAccept,
	StateAwaitingRequest,
	StateEstablished,
	StateAwaitingReleaseResponse,
}

// StateMachine tracks one association through its lifecycle.
type StateMachine struct {
	fsm    *fsm.FSM
	logger *slog.Logger
}

// NewStateMachine returns a machine in StateIdle.
func NewStateMachine(logger *slog.Logger) *StateMachine {
	if logger == nil {
		logger = slog.Default()
	}
	sm := &StateMachine{logger: logger}
	sm.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventConnect, Src: []string{StateIdle}, Dst: StateAwaitingAccept},
			{Name: EventTransportOpen, Src: []string{StateIdle}, Dst: StateAwaitingRequest},
			{Name: EventAccept, Src: []string{StateAwaitingAccept, StateAwaitingRequest}, Dst: StateEstablished},
			{Name: EventReject, Src: []string{StateAwaitingAccept, StateAwaitingRequest}, Dst: StateClosed},
			{Name: EventReleaseRequest, Src: []string{StateEstablished}, Dst: StateAwaitingReleaseResponse},
			{Name: EventReleaseResponse, Src: []string{StateAwaitingReleaseResponse}, Dst: StateClosed},
			{Name: EventPeerRelease, Src: []string{StateEstablished}, Dst: StateClosed},
			{Name: EventAbort, Src: liveStates, Dst: StateAborted},
			{Name: EventClose, Src: append([]string{StateIdle}, liveStates...), Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				sm.logger.Debug("association state changed", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)
	return sm
}

// Current returns the current state.
func (sm *StateMachine) Current() string {
	return sm.fsm.Current()
}

// Is reports whether the machine is in state.
func (sm *StateMachine) Is(state string) bool {
	return sm.fsm.Is(state)
}

// Terminal reports whether the association is closed or aborted.
func (sm *StateMachine) Terminal() bool {
	return sm.Is(StateClosed) || sm.Is(StateAborted)
}

// Fire applies event. An event that is not valid in the current state is
// a ProtocolViolation. Cancellation of ctx does not stop a transition.
func (sm *StateMachine) Fire(ctx context.Context, event string) error {
	if !sm.fsm.Can(event) {
		return dicomerrors.NewProtocolViolation(sm.Current(), 0, "event %s not allowed", event)
	}
	if err := sm.fsm.Event(context.WithoutCancel(ctx), event); err != nil {
		return dicomerrors.NewProtocolViolation(sm.Current(), 0, "event %s: %v", event, err)
	}
	return nil
}

// Abort moves any live association to StateAborted. It reports whether a
// transition happened.
func (sm *StateMachine) Abort(ctx context.Context) bool {
	if !sm.fsm.Can(EventAbort) {
		return false
	}
	return sm.fsm.Event(context.WithoutCancel(ctx), EventAbort) == nil
}

// CheckIncoming validates a received PDU type against the current state.
func (sm *StateMachine) CheckIncoming(pduType byte) error {
	state := sm.Current()
	if pduType == TypeAbort && state != StateIdle && !sm.Terminal() {
		return nil
	}
	allowed := false
	switch state {
	case StateAwaitingAccept:
		allowed = pduType == TypeAssociateAC || pduType == TypeAssociateRJ
	case StateAwaitingRequest:
		allowed = pduType == TypeAssociateRQ
	case StateEstablished:
		allowed = pduType == TypePDataTF || pduType == TypeReleaseRQ
	case StateAwaitingReleaseResponse:
		// Data already in flight may still arrive ahead of the response.
		allowed = pduType == TypeReleaseRP || pduType == TypePDataTF
	}
	if !allowed {
		return dicomerrors.NewProtocolViolation(state, pduType, "unexpected %s", TypeName(pduType))
	}
	return nil
}
