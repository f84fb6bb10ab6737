package dicom

import "github.com/caio-sobreiro/dicomkit/types"

// Dictionary resolves the VR of a tag when the stream does not carry it.
type Dictionary interface {
	LookupVR(tag Tag) (string, bool)
}

// DictionaryFunc adapts a function to Dictionary.
type DictionaryFunc func(tag Tag) (string, bool)

func (f DictionaryFunc) LookupVR(tag Tag) (string, bool) {
	return f(tag)
}

// DefaultDictionary knows the command group, the file meta group and the
// attributes this module reads or writes itself.
var DefaultDictionary Dictionary = builtinDictionary{}

type builtinDictionary struct{}

func (builtinDictionary) LookupVR(tag Tag) (string, bool) {
	if tag.IsGroupLength() {
		return VR_UL, true
	}
	if tag.Group == 0x0000 {
		vr, ok := commandVRs[tag.Element]
		return vr, ok
	}
	if tag.IsPrivate() && tag.Element >= 0x0010 && tag.Element <= 0x00FF {
		// Private creator.
		return VR_LO, true
	}
	vr, ok := attributeVRs[tag.Uint32()]
	return vr, ok
}

var commandVRs = map[uint16]string{
	0x0002: VR_UI, // Affected SOP Class UID
	0x0003: VR_UI, // Requested SOP Class UID
	0x0100: VR_US, // Command Field
	0x0110: VR_US, // Message ID
	0x0120: VR_US, // Message ID Being Responded To
	0x0600: VR_AE, // Move Destination
	0x0700: VR_US, // Priority
	0x0800: VR_US, // Command Data Set Type
	0x0900: VR_US, // Status
	0x0901: VR_AT, // Offending Element
	0x0902: VR_LO, // Error Comment
	0x0903: VR_US, // Error ID
	0x1000: VR_UI, // Affected SOP Instance UID
	0x1001: VR_UI, // Requested SOP Instance UID
	0x1002: VR_US, // Event Type ID
	0x1005: VR_AT, // Attribute Identifier List
	0x1008: VR_US, // Action Type ID
	0x1020: VR_US, // Number of Remaining Sub-operations
	0x1021: VR_US, // Number of Completed Sub-operations
	0x1022: VR_US, // Number of Failed Sub-operations
	0x1023: VR_US, // Number of Warning Sub-operations
	0x1030: VR_AE, // Move Originator Application Entity Title
	0x1031: VR_US, // Move Originator Message ID
}

func dictKey(group, element uint16) uint32 {
	return types.NewTag(group, element).Uint32()
}

var attributeVRs = map[uint32]string{
	dictKey(0x0002, 0x0001): VR_OB,
	dictKey(0x0002, 0x0002): VR_UI,
	dictKey(0x0002, 0x0003): VR_UI,
	dictKey(0x0002, 0x0010): VR_UI,
	dictKey(0x0002, 0x0012): VR_UI,
	dictKey(0x0002, 0x0013): VR_SH,
	dictKey(0x0002, 0x0016): VR_AE,

	dictKey(0x0008, 0x0005): VR_CS,
	dictKey(0x0008, 0x0008): VR_CS,
	dictKey(0x0008, 0x0012): VR_DA,
	dictKey(0x0008, 0x0013): VR_TM,
	dictKey(0x0008, 0x0016): VR_UI,
	dictKey(0x0008, 0x0018): VR_UI,
	dictKey(0x0008, 0x0020): VR_DA,
	dictKey(0x0008, 0x0021): VR_DA,
	dictKey(0x0008, 0x0022): VR_DA,
	dictKey(0x0008, 0x0023): VR_DA,
	dictKey(0x0008, 0x0030): VR_TM,
	dictKey(0x0008, 0x0031): VR_TM,
	dictKey(0x0008, 0x0032): VR_TM,
	dictKey(0x0008, 0x0033): VR_TM,
	dictKey(0x0008, 0x0050): VR_SH,
	dictKey(0x0008, 0x0052): VR_CS,
	dictKey(0x0008, 0x0054): VR_AE,
	dictKey(0x0008, 0x0056): VR_CS,
	dictKey(0x0008, 0x0058): VR_UI,
	dictKey(0x0008, 0x0060): VR_CS,
	dictKey(0x0008, 0x0061): VR_CS,
	dictKey(0x0008, 0x0070): VR_LO,
	dictKey(0x0008, 0x0080): VR_LO,
	dictKey(0x0008, 0x0090): VR_PN,
	dictKey(0x0008, 0x1030): VR_LO,
	dictKey(0x0008, 0x103E): VR_LO,
	dictKey(0x0008, 0x1040): VR_LO,
	dictKey(0x0008, 0x1090): VR_LO,
	dictKey(0x0008, 0x1110): VR_SQ,
	dictKey(0x0008, 0x1111): VR_SQ,
	dictKey(0x0008, 0x1115): VR_SQ,
	dictKey(0x0008, 0x1140): VR_SQ,
	dictKey(0x0008, 0x1150): VR_UI,
	dictKey(0x0008, 0x1155): VR_UI,

	dictKey(0x0010, 0x0010): VR_PN,
	dictKey(0x0010, 0x0020): VR_LO,
	dictKey(0x0010, 0x0021): VR_LO,
	dictKey(0x0010, 0x0030): VR_DA,
	dictKey(0x0010, 0x0040): VR_CS,
	dictKey(0x0010, 0x1010): VR_AS,
	dictKey(0x0010, 0x1020): VR_DS,
	dictKey(0x0010, 0x1030): VR_DS,

	dictKey(0x0018, 0x0015): VR_CS,
	dictKey(0x0018, 0x0050): VR_DS,
	dictKey(0x0018, 0x0060): VR_DS,
	dictKey(0x0018, 0x1030): VR_LO,
	dictKey(0x0018, 0x5100): VR_CS,

	dictKey(0x0020, 0x000D): VR_UI,
	dictKey(0x0020, 0x000E): VR_UI,
	dictKey(0x0020, 0x0010): VR_SH,
	dictKey(0x0020, 0x0011): VR_IS,
	dictKey(0x0020, 0x0012): VR_IS,
	dictKey(0x0020, 0x0013): VR_IS,
	dictKey(0x0020, 0x0032): VR_DS,
	dictKey(0x0020, 0x0037): VR_DS,
	dictKey(0x0020, 0x0052): VR_UI,
	dictKey(0x0020, 0x1041): VR_DS,
	dictKey(0x0020, 0x1206): VR_IS,
	dictKey(0x0020, 0x1208): VR_IS,
	dictKey(0x0020, 0x1209): VR_IS,

	dictKey(0x0028, 0x0002): VR_US,
	dictKey(0x0028, 0x0004): VR_CS,
	dictKey(0x0028, 0x0006): VR_US,
	dictKey(0x0028, 0x0008): VR_IS,
	dictKey(0x0028, 0x0010): VR_US,
	dictKey(0x0028, 0x0011): VR_US,
	dictKey(0x0028, 0x0030): VR_DS,
	dictKey(0x0028, 0x0100): VR_US,
	dictKey(0x0028, 0x0101): VR_US,
	dictKey(0x0028, 0x0102): VR_US,
	dictKey(0x0028, 0x0103): VR_US,
	dictKey(0x0028, 0x1050): VR_DS,
	dictKey(0x0028, 0x1051): VR_DS,
	dictKey(0x0028, 0x1052): VR_DS,
	dictKey(0x0028, 0x1053): VR_DS,

	dictKey(0x0032, 0x1032): VR_PN,
	dictKey(0x0032, 0x1060): VR_LO,
	dictKey(0x0032, 0x1064): VR_SQ,

	dictKey(0x0040, 0x0001): VR_AE,
	dictKey(0x0040, 0x0002): VR_DA,
	dictKey(0x0040, 0x0003): VR_TM,
	dictKey(0x0040, 0x0006): VR_PN,
	dictKey(0x0040, 0x0007): VR_LO,
	dictKey(0x0040, 0x0009): VR_SH,
	dictKey(0x0040, 0x0010): VR_SH,
	dictKey(0x0040, 0x0020): VR_CS,
	dictKey(0x0040, 0x0100): VR_SQ,
	dictKey(0x0040, 0x0241): VR_AE,
	dictKey(0x0040, 0x0242): VR_SH,
	dictKey(0x0040, 0x0243): VR_SH,
	dictKey(0x0040, 0x0244): VR_DA,
	dictKey(0x0040, 0x0245): VR_TM,
	dictKey(0x0040, 0x0250): VR_DA,
	dictKey(0x0040, 0x0251): VR_TM,
	dictKey(0x0040, 0x0252): VR_CS,
	dictKey(0x0040, 0x0253): VR_SH,
	dictKey(0x0040, 0x0254): VR_LO,
	dictKey(0x0040, 0x0255): VR_LO,
	dictKey(0x0040, 0x0260): VR_SQ,
	dictKey(0x0040, 0x0270): VR_SQ,
	dictKey(0x0040, 0x0280): VR_ST,
	dictKey(0x0040, 0x0340): VR_SQ,
	dictKey(0x0040, 0x1001): VR_SH,

	dictKey(0x7FE0, 0x0010): VR_OW,
	dictKey(0xFFFA, 0xFFFA): VR_SQ,
}
