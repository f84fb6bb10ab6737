package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiationFailure(t *testing.T) {
	err := NewNegotiationFailure(RejectPermanent, RejectSourceServiceUser, RejectReasonCalledAETitleNotRecognized)

	assert.True(t, errors.Is(err, ErrAssociationRejected))
	assert.Contains(t, err.Error(), "called-ae-title-not-recognized")
	assert.Contains(t, err.Error(), "rejected-permanent")

	var nf *NegotiationFailure
	wrapped := fmt.Errorf("connect: %w", err)
	require.True(t, errors.As(wrapped, &nf))
	assert.Equal(t, RejectReasonCalledAETitleNotRecognized, nf.Reason)
}

func TestReasonTextDependsOnSource(t *testing.T) {
	assert.Equal(t, "application-context-not-supported",
		ReasonText(RejectSourceServiceUser, 0x02))
	assert.Equal(t, "protocol-version-not-supported",
		ReasonText(RejectSourceServiceProviderACSE, 0x02))
	assert.Equal(t, "local-limit-exceeded",
		ReasonText(RejectSourceServiceProviderPresentation, 0x02))
	assert.Equal(t, "reason-0x09", ReasonText(RejectSourceServiceUser, 0x09))
}

func TestRemoteRejectionClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    uint16
		isSuccess bool
		isPending bool
		isWarning bool
		isFailure bool
	}{
		{"Success", 0x0000, true, false, false, false},
		{"Pending", 0xFF00, false, true, false, false},
		{"Warning", 0xB000, false, false, true, false},
		{"Attribute list warning", 0x0107, false, false, true, false},
		{"Out of resources", 0xA700, false, false, false, true},
		{"Unable to process", 0xC000, false, false, false, true},
		{"Processing failure", 0x0110, false, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRemoteRejection("C-STORE", tt.status, "")
			assert.Equal(t, tt.isSuccess, err.IsSuccess())
			assert.Equal(t, tt.isPending, err.IsPending())
			assert.Equal(t, tt.isWarning, err.IsWarning())
			assert.Equal(t, tt.isFailure, err.IsFailure())
		})
	}
}

func TestFormatError(t *testing.T) {
	err := NewFormatError(132, "invalid VR %q", "ZZ")
	assert.True(t, errors.Is(err, ErrMalformed))
	assert.Equal(t, `dicom: format error at offset 132: invalid VR "ZZ"`, err.Error())

	wrapped := WrapFormatError(140, ErrUnsupportedTransfer, "transfer syntax %s", "1.2.3")
	assert.True(t, errors.Is(wrapped, ErrUnsupportedTransfer))
	assert.True(t, errors.Is(wrapped, ErrMalformed))

	var fe *FormatError
	require.True(t, errors.As(fmt.Errorf("read: %w", wrapped), &fe))
	assert.Equal(t, int64(140), fe.Offset)
}

func TestProtocolViolation(t *testing.T) {
	err := NewProtocolViolation("established", 0x01, "unexpected %s", "A-ASSOCIATE-RQ")
	assert.True(t, errors.Is(err, ErrProtocolViolation))
	assert.Contains(t, err.Error(), "PDU 0x01")
	assert.Contains(t, err.Error(), "unexpected A-ASSOCIATE-RQ")
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError(PhaseIdle, 30*time.Second)
	assert.True(t, err.Timeout())
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, "dicom: idle timeout after 30s", err.Error())
}

func TestNetworkErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := NewNetworkError("dial", inner)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "dial")
}

func TestAbortError(t *testing.T) {
	err := NewAbortError(0x02, 0x01)
	assert.Contains(t, err.Error(), "service-provider")
	assert.True(t, errors.Is(err, ErrConnectionClosed))
}
