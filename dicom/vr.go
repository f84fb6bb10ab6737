package dicom

import "github.com/caio-sobreiro/dicomkit/types"

// Tag is re-exported so callers of this package rarely need types directly.
type Tag = types.Tag

// VR codes, re-exported from types.
const (
	VR_AE = types.VR_AE
	VR_AS = types.VR_AS
	VR_AT = types.VR_AT
	VR_CS = types.VR_CS
	VR_DA = types.VR_DA
	VR_DS = types.VR_DS
	VR_DT = types.VR_DT
	VR_FL = types.VR_FL
	VR_FD = types.VR_FD
	VR_IS = types.VR_IS
	VR_LO = types.VR_LO
	VR_LT = types.VR_LT
	VR_OB = types.VR_OB
	VR_OD = types.VR_OD
	VR_OF = types.VR_OF
	VR_OL = types.VR_OL
	VR_OV = types.VR_OV
	VR_OW = types.VR_OW
	VR_PN = types.VR_PN
	VR_SH = types.VR_SH
	VR_SL = types.VR_SL
	VR_SQ = types.VR_SQ
	VR_SS = types.VR_SS
	VR_ST = types.VR_ST
	VR_SV = types.VR_SV
	VR_TM = types.VR_TM
	VR_UC = types.VR_UC
	VR_UI = types.VR_UI
	VR_UL = types.VR_UL
	VR_UN = types.VR_UN
	VR_UR = types.VR_UR
	VR_US = types.VR_US
	VR_UT = types.VR_UT
	VR_UV = types.VR_UV
)

// VRKind groups value representations that share an encoding.
type VRKind int

const (
	// KindText is a backslash separated list of short strings, space padded.
	KindText VRKind = iota
	// KindLongText is a single free text value. Leading spaces are significant.
	KindLongText
	// KindPersonName is a PN value: up to three component groups split by '='.
	KindPersonName
	// KindUID is a backslash separated list of UIDs, NUL padded.
	KindUID
	// KindNumber is a packed array of fixed width binary numbers.
	KindNumber
	// KindTag is a packed array of attribute tags.
	KindTag
	// KindBulk is an opaque byte or word stream.
	KindBulk
	// KindSequence holds nested datasets.
	KindSequence
)

func (k VRKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindLongText:
		return "long-text"
	case KindPersonName:
		return "person-name"
	case KindUID:
		return "uid"
	case KindNumber:
		return "number"
	case KindTag:
		return "tag"
	case KindBulk:
		return "bulk"
	case KindSequence:
		return "sequence"
	}
	return "unknown"
}

// VRInfo describes how values of a VR are laid out on the wire.
type VRInfo struct {
	Kind VRKind
	// LongLength VRs use a 2 byte reserved field and a 4 byte length in explicit VR.
	LongLength bool
	// Pad is appended to odd length values.
	Pad byte
	// Width is the size of one numeric unit, used for byte swapping. Zero means no swapping.
	Width int
	// Multi is set when values are separated by backslashes.
	Multi bool
}

var vrTable = map[string]VRInfo{
	VR_AE: {Kind: KindText, Pad: ' ', Multi: true},
	VR_AS: {Kind: KindText, Pad: ' ', Multi: true},
	VR_CS: {Kind: KindText, Pad: ' ', Multi: true},
	VR_DA: {Kind: KindText, Pad: ' ', Multi: true},
	VR_DS: {Kind: KindText, Pad: ' ', Multi: true},
	VR_DT: {Kind: KindText, Pad: ' ', Multi: true},
	VR_IS: {Kind: KindText, Pad: ' ', Multi: true},
	VR_LO: {Kind: KindText, Pad: ' ', Multi: true},
	VR_SH: {Kind: KindText, Pad: ' ', Multi: true},
	VR_TM: {Kind: KindText, Pad: ' ', Multi: true},
	VR_UC: {Kind: KindText, Pad: ' ', Multi: true, LongLength: true},

	VR_LT: {Kind: KindLongText, Pad: ' '},
	VR_ST: {Kind: KindLongText, Pad: ' '},
	VR_UT: {Kind: KindLongText, Pad: ' ', LongLength: true},
	VR_UR: {Kind: KindLongText, Pad: ' ', LongLength: true},

	VR_PN: {Kind: KindPersonName, Pad: ' ', Multi: true},
	VR_UI: {Kind: KindUID, Pad: 0x00, Multi: true},

	VR_US: {Kind: KindNumber, Width: 2},
	VR_SS: {Kind: KindNumber, Width: 2},
	VR_UL: {Kind: KindNumber, Width: 4},
	VR_SL: {Kind: KindNumber, Width: 4},
	VR_FL: {Kind: KindNumber, Width: 4},
	VR_FD: {Kind: KindNumber, Width: 8},
	VR_SV: {Kind: KindNumber, Width: 8, LongLength: true},
	VR_UV: {Kind: KindNumber, Width: 8, LongLength: true},

	VR_AT: {Kind: KindTag, Width: 2},

	VR_OB: {Kind: KindBulk, LongLength: true},
	VR_UN: {Kind: KindBulk, LongLength: true},
	VR_OW: {Kind: KindBulk, Width: 2, LongLength: true},
	VR_OF: {Kind: KindBulk, Width: 4, LongLength: true},
	VR_OL: {Kind: KindBulk, Width: 4, LongLength: true},
	VR_OD: {Kind: KindBulk, Width: 8, LongLength: true},
	VR_OV: {Kind: KindBulk, Width: 8, LongLength: true},

	VR_SQ: {Kind: KindSequence, LongLength: true},
}

// LookupVR returns the layout of a VR code.
func LookupVR(vr string) (VRInfo, bool) {
	info, ok := vrTable[vr]
	return info, ok
}

// IsLongLengthVR reports whether vr uses the 4 byte length form in explicit VR.
func IsLongLengthVR(vr string) bool {
	return vrTable[vr].LongLength
}

// padByte returns the padding byte for vr. Unknown VRs pad with NUL.
func padByte(vr string) byte {
	if info, ok := vrTable[vr]; ok {
		return info.Pad
	}
	return 0x00
}
