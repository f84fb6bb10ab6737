// Package types holds the identifiers shared by every layer: tags, value
// representations, SOP classes, transfer syntaxes and DIMSE command fields.
package types

import "fmt"

// Value representation codes.
const (
	VR_AE = "AE" // Application Entity
	VR_AS = "AS" // Age String
	VR_AT = "AT" // Attribute Tag
	VR_CS = "CS" // Code String
	VR_DA = "DA" // Date
	VR_DS = "DS" // Decimal String
	VR_DT = "DT" // Date Time
	VR_FL = "FL" // Floating Point Single
	VR_FD = "FD" // Floating Point Double
	VR_IS = "IS" // Integer String
	VR_LO = "LO" // Long String
	VR_LT = "LT" // Long Text
	VR_OB = "OB" // Other Byte
	VR_OD = "OD" // Other Double
	VR_OF = "OF" // Other Float
	VR_OL = "OL" // Other Long
	VR_OV = "OV" // Other Very Long
	VR_OW = "OW" // Other Word
	VR_PN = "PN" // Person Name
	VR_SH = "SH" // Short String
	VR_SL = "SL" // Signed Long
	VR_SQ = "SQ" // Sequence of Items
	VR_SS = "SS" // Signed Short
	VR_ST = "ST" // Short Text
	VR_SV = "SV" // Signed Very Long
	VR_TM = "TM" // Time
	VR_UC = "UC" // Unlimited Characters
	VR_UI = "UI" // Unique Identifier
	VR_UL = "UL" // Unsigned Long
	VR_UN = "UN" // Unknown
	VR_UR = "UR" // Universal Resource
	VR_US = "US" // Unsigned Short
	VR_UT = "UT" // Unlimited Text
	VR_UV = "UV" // Unsigned Very Long
)

// Tag identifies a data element by group and element number.
type Tag struct {
	Group   uint16
	Element uint16
}

// NewTag builds a Tag.
func NewTag(group, element uint16) Tag {
	return Tag{Group: group, Element: element}
}

// TagFromUint32 splits a packed 0xGGGGEEEE value.
func TagFromUint32(v uint32) Tag {
	return Tag{Group: uint16(v >> 16), Element: uint16(v)}
}

// Uint32 packs the tag as 0xGGGGEEEE, which orders tags the way datasets are sorted.
func (t Tag) Uint32() uint32 {
	return uint32(t.Group)<<16 | uint32(t.Element)
}

// Compare returns -1, 0 or 1 depending on whether t sorts before, equal to or after o.
func (t Tag) Compare(o Tag) int {
	a, b := t.Uint32(), o.Uint32()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// IsPrivate reports whether the tag belongs to an odd (private) group.
func (t Tag) IsPrivate() bool {
	return t.Group%2 == 1
}

// IsGroupLength reports whether the tag is a (gggg,0000) group length element.
func (t Tag) IsGroupLength() bool {
	return t.Element == 0
}

// String returns the tag in (gggg,eeee) form.
func (t Tag) String() string {
	return fmt.Sprintf("(%04x,%04x)", t.Group, t.Element)
}
