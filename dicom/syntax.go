package dicom

import (
	"encoding/binary"

	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
	"github.com/caio-sobreiro/dicomkit/types"
)

// TransferSyntax is the set of encoding rules an encoder or decoder follows.
type TransferSyntax struct {
	UID          string
	ByteOrder    binary.ByteOrder
	ExplicitVR   bool
	Deflated     bool
	Encapsulated bool
}

// Commonly used syntaxes.
var (
	ImplicitVRLittleEndian = TransferSyntax{UID: types.ImplicitVRLittleEndian, ByteOrder: binary.LittleEndian}
	ExplicitVRLittleEndian = TransferSyntax{UID: types.ExplicitVRLittleEndian, ByteOrder: binary.LittleEndian, ExplicitVR: true}
	ExplicitVRBigEndian    = TransferSyntax{UID: types.ExplicitVRBigEndian, ByteOrder: binary.BigEndian, ExplicitVR: true}
)

// LookupTransferSyntax resolves uid to encoding rules. Unknown UIDs return
// an error matching errors.ErrUnsupportedTransfer.
func LookupTransferSyntax(uid string) (TransferSyntax, error) {
	info, ok := types.LookupTransferSyntax(uid)
	if !ok {
		return TransferSyntax{}, dicomerrors.WrapFormatError(0, dicomerrors.ErrUnsupportedTransfer, "transfer syntax %q", uid)
	}
	ts := TransferSyntax{
		UID:          info.UID,
		ByteOrder:    binary.LittleEndian,
		ExplicitVR:   info.ExplicitVR,
		Deflated:     info.Deflated,
		Encapsulated: info.Encapsulated,
	}
	if info.BigEndian {
		ts.ByteOrder = binary.BigEndian
	}
	return ts, nil
}

// IsBigEndian reports whether multi-byte numbers are stored big endian.
func (ts TransferSyntax) IsBigEndian() bool {
	return ts.ByteOrder == binary.BigEndian
}

func (ts TransferSyntax) byteOrder() binary.ByteOrder {
	if ts.ByteOrder == nil {
		return binary.LittleEndian
	}
	return ts.ByteOrder
}
