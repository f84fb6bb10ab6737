package pdu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
	"github.com/caio-sobreiro/dicomkit/types"
)

func TestNegotiateResolvesEveryContext(t *testing.T) {
	rq := &AssociateRQ{
		ProtocolVersion:    ProtocolVersion,
		CalledAETitle:      "ARCHIVE",
		CallingAETitle:     "SCU",
		ApplicationContext: types.ApplicationContextUID,
		PresentationContexts: []PresentationContextRQ{
			{ID: 1, AbstractSyntax: types.VerificationSOPClass, TransferSyntaxes: []string{types.ImplicitVRLittleEndian, types.ExplicitVRLittleEndian}},
			{ID: 3, AbstractSyntax: "1.2.3.4.5.6", TransferSyntaxes: []string{types.ImplicitVRLittleEndian}},
			{ID: 5, AbstractSyntax: types.CTImageStorage, TransferSyntaxes: []string{types.JPEGBaseline8Bit}},
			{ID: 7, AbstractSyntax: types.MRImageStorage, TransferSyntaxes: []string{types.ExplicitVRBigEndian, types.ImplicitVRLittleEndian}},
			{ID: 9, AbstractSyntax: types.SecondaryCaptureImageStorage, TransferSyntaxes: []string{types.ExplicitVRLittleEndian}},
		},
		UserInfo: UserInformation{MaxPDULength: 16384},
	}
	policy := AcceptorPolicy{
		AETitle:          "ARCHIVE",
		TransferSyntaxes: []string{types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian},
		Reject: func(as string) bool {
			return as == types.SecondaryCaptureImageStorage
		},
	}

	ac, rj, contexts := Negotiate(rq, policy)
	require.Nil(t, rj)
	require.NotNil(t, ac)
	require.Len(t, ac.PresentationContexts, len(rq.PresentationContexts))
	require.Len(t, contexts, len(rq.PresentationContexts))

	want := map[byte]struct {
		result byte
		ts     string
	}{
		1: {ResultAcceptance, types.ExplicitVRLittleEndian},
		3: {ResultAbstractSyntaxNotSupported, ""},
		5: {ResultTransferSyntaxNotSupported, ""},
		7: {ResultAcceptance, types.ImplicitVRLittleEndian},
		9: {ResultUserRejection, ""},
	}
	for _, pc := range ac.PresentationContexts {
		w := want[pc.ID]
		assert.Equal(t, w.result, pc.Result, "context %d", pc.ID)
		assert.Equal(t, w.ts, pc.TransferSyntax, "context %d", pc.ID)
		// accepted with exactly one syntax, or rejected with none
		assert.Equal(t, pc.Result == ResultAcceptance, pc.TransferSyntax != "")
	}
}

func TestNegotiateRejectsAssociation(t *testing.T) {
	base := func() *AssociateRQ {
		return &AssociateRQ{
			ProtocolVersion:    ProtocolVersion,
			CalledAETitle:      "ARCHIVE",
			CallingAETitle:     "SCU",
			ApplicationContext: types.ApplicationContextUID,
		}
	}
	tests := []struct {
		name   string
		mutate func(*AssociateRQ)
		source dicomerrors.AssociationRejectSource
		reason dicomerrors.AssociationRejectReason
	}{
		{"called AE", func(rq *AssociateRQ) { rq.CalledAETitle = "OTHER" }, dicomerrors.RejectSourceServiceUser, dicomerrors.RejectReasonCalledAETitleNotRecognized},
		{"application context", func(rq *AssociateRQ) { rq.ApplicationContext = "1.2.3" }, dicomerrors.RejectSourceServiceUser, dicomerrors.RejectReasonApplicationContextNotSupported},
		{"protocol version", func(rq *AssociateRQ) { rq.ProtocolVersion = 2 }, dicomerrors.RejectSourceServiceProviderACSE, dicomerrors.RejectReasonProtocolVersionNotSupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rq := base()
			tt.mutate(rq)
			ac, rj, _ := Negotiate(rq, AcceptorPolicy{AETitle: "ARCHIVE"})
			assert.Nil(t, ac)
			require.NotNil(t, rj)
			assert.Equal(t, byte(dicomerrors.RejectPermanent), rj.Result)
			assert.Equal(t, byte(tt.source), rj.Source)
			assert.Equal(t, byte(tt.reason), rj.Reason)
		})
	}
}

func TestNegotiateEchoesRoleSelection(t *testing.T) {
	rq := sampleRQ()
	ac, rj, _ := Negotiate(rq, AcceptorPolicy{})
	require.Nil(t, rj)
	assert.Equal(t, rq.UserInfo.RoleSelections, ac.UserInfo.RoleSelections)
}

func TestMatchAccept(t *testing.T) {
	rq := sampleRQ()
	ac := &AssociateAC{PresentationContexts: []PresentationContextAC{
		{ID: 1, Result: ResultAcceptance, TransferSyntax: types.ImplicitVRLittleEndian},
	}}
	got := MatchAccept(rq, ac)
	require.Len(t, got, 2)
	assert.True(t, got[0].Accepted())
	assert.Equal(t, types.VerificationSOPClass, got[0].AbstractSyntax)
	assert.False(t, got[1].Accepted())
	assert.Equal(t, ResultNoReason, got[1].Result)
}
