package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagOrdering(t *testing.T) {
	a := NewTag(0x0008, 0x0018)
	b := NewTag(0x0010, 0x0010)

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, uint32(0x00080018), a.Uint32())
	assert.Equal(t, a, TagFromUint32(0x00080018))
	assert.Equal(t, "(0008,0018)", a.String())
}

func TestTagPredicates(t *testing.T) {
	assert.True(t, NewTag(0x0009, 0x0010).IsPrivate())
	assert.False(t, NewTag(0x0010, 0x0010).IsPrivate())
	assert.True(t, NewTag(0x0002, 0x0000).IsGroupLength())
}

func TestLookupTransferSyntax(t *testing.T) {
	tests := []struct {
		uid          string
		explicit     bool
		bigEndian    bool
		deflated     bool
		encapsulated bool
	}{
		{ImplicitVRLittleEndian, false, false, false, false},
		{ExplicitVRLittleEndian, true, false, false, false},
		{ExplicitVRBigEndian, true, true, false, false},
		{DeflatedExplicitVRLittleEndian, true, false, true, false},
		{JPEGBaseline8Bit, true, false, false, true},
		{RLELossless, true, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.uid, func(t *testing.T) {
			info, ok := LookupTransferSyntax(tt.uid)
			require.True(t, ok)
			assert.Equal(t, tt.explicit, info.ExplicitVR)
			assert.Equal(t, tt.bigEndian, info.BigEndian)
			assert.Equal(t, tt.deflated, info.Deflated)
			assert.Equal(t, tt.encapsulated, info.Encapsulated)
		})
	}

	_, ok := LookupTransferSyntax("1.2.3.4")
	assert.False(t, ok)
	assert.False(t, IsNative("1.2.3.4"))
	assert.True(t, IsNative(ExplicitVRBigEndian))
	assert.True(t, IsEncapsulated(JPEG2000))
}

func TestSOPClassRegistry(t *testing.T) {
	assert.True(t, IsStorageSOPClass(CTImageStorage))
	assert.False(t, IsStorageSOPClass(VerificationSOPClass))
	assert.True(t, IsQueryRetrieveSOPClass(StudyRootQueryRetrieveInformationModelMove))
	assert.Equal(t, "CT Image Storage", SOPClassName(CTImageStorage))
	assert.Equal(t, "9.9.9", SOPClassName("9.9.9"))

	info, ok := LookupSOPClass(ModalityPerformedProcedureStepSOPClass)
	require.True(t, ok)
	assert.Equal(t, ServiceProcedureStep, info.Kind)
	assert.Contains(t, SOPClassesOfKind(ServiceStorage), MRImageStorage)
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status uint16
		want   StatusCategory
	}{
		{StatusSuccess, CategorySuccess},
		{StatusPending, CategoryPending},
		{StatusPendingWarning, CategoryPending},
		{StatusCancel, CategoryCancel},
		{StatusWarningCoercion, CategoryWarning},
		{StatusWarningDataSetMismatch, CategoryWarning},
		{StatusOutOfResources, CategoryFailure},
		{StatusFailure, CategoryFailure},
		{StatusProcessingFailure, CategoryFailure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyStatus(tt.status), "status 0x%04x", tt.status)
	}
}

func TestMessageHelpers(t *testing.T) {
	msg := Message{CommandField: CEchoRSP, CommandDataSetType: DataSetAbsent}
	assert.True(t, msg.IsResponse())
	assert.False(t, msg.HasDataset())
	assert.Equal(t, uint16(CFindRSP), ResponseCommandFor(CFindRQ))
	assert.Equal(t, uint16(NCreateRSP), ResponseCommandFor(NCreateRQ))
	assert.Equal(t, "N-SET-RQ", CommandName(NSetRQ))
}

func TestParseQueryLevel(t *testing.T) {
	l, ok := ParseQueryLevel(" study ")
	require.True(t, ok)
	assert.Equal(t, QueryLevelStudy, l)
	assert.Equal(t, 1, l.Depth())

	_, ok = ParseQueryLevel("FRAME")
	assert.False(t, ok)
}
