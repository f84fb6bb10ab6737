package pdu

import (
	"strings"

	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
	"github.com/caio-sobreiro/dicomkit/types"
)

// AcceptorPolicy decides which proposed presentation contexts an acceptor
// takes on.
type AcceptorPolicy struct {
	// AETitle is compared against the called AE title when non-empty.
	AETitle string
	// AbstractSyntaxes lists accepted SOP classes. A nil map accepts the
	// verification, query/retrieve, worklist, MPPS and storage classes.
	AbstractSyntaxes map[string]bool
	// TransferSyntaxes in preference order. Empty means types.DefaultTransferSyntaxes.
	TransferSyntaxes []string
	// MaxPDULength announced in the accept.
	MaxPDULength uint32
	// Reject, if set, is consulted per context before syntax matching and
	// causes a user-rejection result when it returns true.
	Reject func(abstractSyntax string) bool
	// RejectAssociation, if set, may refuse the whole request.
	RejectAssociation func(rq *AssociateRQ) *AssociateRJ
}

// PresentationContext is one negotiated context as seen by either side.
type PresentationContext struct {
	ID             byte
	Result         byte
	AbstractSyntax string
	TransferSyntax string
}

// Accepted reports whether the context may carry messages.
func (pc PresentationContext) Accepted() bool {
	return pc.Result == ResultAcceptance
}

// DefaultAbstractSyntaxes is the acceptor's default set.
func DefaultAbstractSyntaxes() map[string]bool {
	m := map[string]bool{
		types.VerificationSOPClass:                         true,
		types.ModalityWorklistInformationModelFind:         true,
		types.ModalityPerformedProcedureStepSOPClass:       true,
		types.PatientRootQueryRetrieveInformationModelFind: true,
		types.PatientRootQueryRetrieveInformationModelMove: true,
		types.PatientRootQueryRetrieveInformationModelGet:  true,
		types.StudyRootQueryRetrieveInformationModelFind:   true,
		types.StudyRootQueryRetrieveInformationModelMove:   true,
		types.StudyRootQueryRetrieveInformationModelGet:    true,
	}
	for _, uid := range types.SOPClassesOfKind(types.ServiceStorage) {
		m[uid] = true
	}
	return m
}

func (p *AcceptorPolicy) supportsAbstractSyntax(uid string) bool {
	if p.AbstractSyntaxes == nil {
		return DefaultAbstractSyntaxes()[uid] || types.IsStorageSOPClass(uid)
	}
	return p.AbstractSyntaxes[uid]
}

func (p *AcceptorPolicy) transferSyntaxes() []string {
	if len(p.TransferSyntaxes) == 0 {
		return types.DefaultTransferSyntaxes()
	}
	return p.TransferSyntaxes
}

// Negotiate answers an association request. Exactly one of the returned
// PDUs is non-nil. On acceptance every proposed context appears in the
// AC with either one transfer syntax or a rejection result.
func Negotiate(rq *AssociateRQ, policy AcceptorPolicy) (*AssociateAC, *AssociateRJ, []PresentationContext) {
	if rq.ProtocolVersion&ProtocolVersion == 0 {
		return nil, reject(dicomerrors.RejectSourceServiceProviderACSE, dicomerrors.RejectReasonProtocolVersionNotSupported), nil
	}
	if rq.ApplicationContext != types.ApplicationContextUID {
		return nil, reject(dicomerrors.RejectSourceServiceUser, dicomerrors.RejectReasonApplicationContextNotSupported), nil
	}
	if policy.AETitle != "" && !strings.EqualFold(strings.TrimSpace(rq.CalledAETitle), strings.TrimSpace(policy.AETitle)) {
		return nil, reject(dicomerrors.RejectSourceServiceUser, dicomerrors.RejectReasonCalledAETitleNotRecognized), nil
	}
	if policy.RejectAssociation != nil {
		if rj := policy.RejectAssociation(rq); rj != nil {
			return nil, rj, nil
		}
	}

	preferred := policy.transferSyntaxes()
	contexts := make([]PresentationContext, 0, len(rq.PresentationContexts))
	ac := &AssociateAC{
		ProtocolVersion:    ProtocolVersion,
		CalledAETitle:      rq.CalledAETitle,
		CallingAETitle:     rq.CallingAETitle,
		ApplicationContext: types.ApplicationContextUID,
		UserInfo: UserInformation{
			MaxPDULength:   policy.MaxPDULength,
			RoleSelections: acceptRoles(rq.UserInfo.RoleSelections),
		},
	}
	for _, proposed := range rq.PresentationContexts {
		pc := PresentationContext{ID: proposed.ID, AbstractSyntax: proposed.AbstractSyntax}
		switch {
		case policy.Reject != nil && policy.Reject(proposed.AbstractSyntax):
			pc.Result = ResultUserRejection
		case !policy.supportsAbstractSyntax(proposed.AbstractSyntax):
			pc.Result = ResultAbstractSyntaxNotSupported
		default:
			pc.TransferSyntax = chooseTransferSyntax(preferred, proposed.TransferSyntaxes)
			if pc.TransferSyntax == "" {
				pc.Result = ResultTransferSyntaxNotSupported
			}
		}
		contexts = append(contexts, pc)
		ac.PresentationContexts = append(ac.PresentationContexts, PresentationContextAC{
			ID:             pc.ID,
			Result:         pc.Result,
			TransferSyntax: pc.TransferSyntax,
		})
	}
	return ac, nil, contexts
}

// chooseTransferSyntax returns the first acceptor preference the requestor
// also proposed.
func chooseTransferSyntax(preferred, proposed []string) string {
	for _, want := range preferred {
		for _, have := range proposed {
			if want == have {
				return want
			}
		}
	}
	return ""
}

// acceptRoles echoes the requested roles for C-GET style role reversal.
func acceptRoles(requested []RoleSelection) []RoleSelection {
	if len(requested) == 0 {
		return nil
	}
	out := make([]RoleSelection, len(requested))
	copy(out, requested)
	return out
}

func reject(source dicomerrors.AssociationRejectSource, reason dicomerrors.AssociationRejectReason) *AssociateRJ {
	return &AssociateRJ{
		Result: byte(dicomerrors.RejectPermanent),
		Source: byte(source),
		Reason: byte(reason),
	}
}

// MatchAccept pairs a requestor's proposal with the acceptor's answer.
// Contexts the acceptor omitted are reported with ResultNoReason.
func MatchAccept(rq *AssociateRQ, ac *AssociateAC) []PresentationContext {
	answers := make(map[byte]PresentationContextAC, len(ac.PresentationContexts))
	for _, pc := range ac.PresentationContexts {
		answers[pc.ID] = pc
	}
	out := make([]PresentationContext, 0, len(rq.PresentationContexts))
	for _, proposed := range rq.PresentationContexts {
		pc := PresentationContext{ID: proposed.ID, AbstractSyntax: proposed.AbstractSyntax, Result: ResultNoReason}
		if answer, ok := answers[proposed.ID]; ok {
			pc.Result = answer.Result
			if answer.Result == ResultAcceptance {
				pc.TransferSyntax = answer.TransferSyntax
			}
		}
		out = append(out, pc)
	}
	return out
}
