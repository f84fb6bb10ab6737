package types

// Native (uncompressed) transfer syntaxes.
const (
	ImplicitVRLittleEndian         = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian         = "1.2.840.10008.1.2.1"
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
	ExplicitVRBigEndian            = "1.2.840.10008.1.2.2"
)

// Encapsulated transfer syntaxes. Pixel data is carried as opaque fragments.
const (
	JPEGBaseline8Bit        = "1.2.840.10008.1.2.4.50"
	JPEGExtended12Bit       = "1.2.840.10008.1.2.4.51"
	JPEGLossless            = "1.2.840.10008.1.2.4.57"
	JPEGLosslessSV1         = "1.2.840.10008.1.2.4.70"
	JPEGLSLossless          = "1.2.840.10008.1.2.4.80"
	JPEGLSNearLossless      = "1.2.840.10008.1.2.4.81"
	JPEG2000Lossless        = "1.2.840.10008.1.2.4.90"
	JPEG2000                = "1.2.840.10008.1.2.4.91"
	MPEG2MainProfile        = "1.2.840.10008.1.2.4.100"
	MPEG4AVCH264HighProfile = "1.2.840.10008.1.2.4.102"
	HEVCH265MainProfile     = "1.2.840.10008.1.2.4.107"
	HTJ2KLossless           = "1.2.840.10008.1.2.4.201"
	HTJ2K                   = "1.2.840.10008.1.2.4.203"
	RLELossless             = "1.2.840.10008.1.2.5"
)

// TransferSyntaxInfo captures the encoding rules a transfer syntax selects.
type TransferSyntaxInfo struct {
	UID        string
	Name       string
	ExplicitVR bool
	BigEndian  bool
	// Deflated syntaxes compress everything after the file meta group.
	Deflated bool
	// Encapsulated syntaxes store pixel data as fragments with an offset table.
	Encapsulated bool
	Lossy        bool
	Retired      bool
}

var transferSyntaxes = map[string]TransferSyntaxInfo{
	ImplicitVRLittleEndian:         {UID: ImplicitVRLittleEndian, Name: "Implicit VR Little Endian"},
	ExplicitVRLittleEndian:         {UID: ExplicitVRLittleEndian, Name: "Explicit VR Little Endian", ExplicitVR: true},
	DeflatedExplicitVRLittleEndian: {UID: DeflatedExplicitVRLittleEndian, Name: "Deflated Explicit VR Little Endian", ExplicitVR: true, Deflated: true},
	ExplicitVRBigEndian:            {UID: ExplicitVRBigEndian, Name: "Explicit VR Big Endian", ExplicitVR: true, BigEndian: true, Retired: true},

	JPEGBaseline8Bit:        encapsulated(JPEGBaseline8Bit, "JPEG Baseline (Process 1)", true),
	JPEGExtended12Bit:       encapsulated(JPEGExtended12Bit, "JPEG Extended (Process 2 & 4)", true),
	JPEGLossless:            encapsulated(JPEGLossless, "JPEG Lossless (Process 14)", false),
	JPEGLosslessSV1:         encapsulated(JPEGLosslessSV1, "JPEG Lossless, First-Order Prediction", false),
	JPEGLSLossless:          encapsulated(JPEGLSLossless, "JPEG-LS Lossless", false),
	JPEGLSNearLossless:      encapsulated(JPEGLSNearLossless, "JPEG-LS Near-Lossless", true),
	JPEG2000Lossless:        encapsulated(JPEG2000Lossless, "JPEG 2000 Lossless Only", false),
	JPEG2000:                encapsulated(JPEG2000, "JPEG 2000", true),
	MPEG2MainProfile:        encapsulated(MPEG2MainProfile, "MPEG2 Main Profile @ Main Level", true),
	MPEG4AVCH264HighProfile: encapsulated(MPEG4AVCH264HighProfile, "MPEG-4 AVC/H.264 High Profile", true),
	HEVCH265MainProfile:     encapsulated(HEVCH265MainProfile, "HEVC/H.265 Main Profile", true),
	HTJ2KLossless:           encapsulated(HTJ2KLossless, "High-Throughput JPEG 2000 Lossless", false),
	HTJ2K:                   encapsulated(HTJ2K, "High-Throughput JPEG 2000", true),
	RLELossless:             encapsulated(RLELossless, "RLE Lossless", false),
}

func encapsulated(uid, name string, lossy bool) TransferSyntaxInfo {
	return TransferSyntaxInfo{UID: uid, Name: name, ExplicitVR: true, Encapsulated: true, Lossy: lossy}
}

// LookupTransferSyntax returns the encoding rules for uid.
func LookupTransferSyntax(uid string) (TransferSyntaxInfo, bool) {
	info, ok := transferSyntaxes[uid]
	return info, ok
}

// IsEncapsulated reports whether uid carries pixel data as fragments.
func IsEncapsulated(uid string) bool {
	return transferSyntaxes[uid].Encapsulated
}

// IsNative reports whether uid is a known syntax that stores pixel data uncompressed.
func IsNative(uid string) bool {
	info, ok := transferSyntaxes[uid]
	return ok && !info.Encapsulated
}

// DefaultTransferSyntaxes is the negotiation preference used when none is configured.
func DefaultTransferSyntaxes() []string {
	return []string{ExplicitVRLittleEndian, ImplicitVRLittleEndian}
}
