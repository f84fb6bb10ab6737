package dicom

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Element is a single data element. Leaf values are kept as raw bytes in
// little endian order, already padded to an even length. Sequences carry
// Items instead, and encapsulated pixel data carries Fragments.
type Element struct {
	Tag   Tag
	VR    string
	Value []byte
	Items []*Dataset
	// Fragments is non-nil only for encapsulated pixel data.
	Fragments *PixelPayload
	// UndefinedLength records how a sequence or pixel data element was
	// delimited on the wire. It does not affect equality.
	UndefinedLength bool
}

// NewElement builds a leaf element, padding value to an even length.
func NewElement(tag Tag, vr string, value []byte) *Element {
	return &Element{Tag: tag, VR: vr, Value: padEven(value, padByte(vr))}
}

// NewStringElement joins values with backslashes.
func NewStringElement(tag Tag, vr string, values ...string) *Element {
	return NewElement(tag, vr, []byte(strings.Join(values, "\\")))
}

// NewUint16Element builds a US element.
func NewUint16Element(tag Tag, values ...uint16) *Element {
	buf := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(buf[2*i:], v)
	}
	return &Element{Tag: tag, VR: VR_US, Value: buf}
}

// NewUint32Element builds a UL element.
func NewUint32Element(tag Tag, values ...uint32) *Element {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], v)
	}
	return &Element{Tag: tag, VR: VR_UL, Value: buf}
}

// NewFloat64Element builds an FD element.
func NewFloat64Element(tag Tag, values ...float64) *Element {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return &Element{Tag: tag, VR: VR_FD, Value: buf}
}

// NewTagElement builds an AT element.
func NewTagElement(tag Tag, values ...Tag) *Element {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(buf[4*i:], v.Group)
		binary.LittleEndian.PutUint16(buf[4*i+2:], v.Element)
	}
	return &Element{Tag: tag, VR: VR_AT, Value: buf}
}

// NewSequenceElement builds an SQ element from items.
func NewSequenceElement(tag Tag, items ...*Dataset) *Element {
	return &Element{Tag: tag, VR: VR_SQ, Items: items}
}

// NewPixelDataElement wraps encapsulated pixel data.
func NewPixelDataElement(payload *PixelPayload) *Element {
	return &Element{Tag: PixelData, VR: VR_OB, Fragments: payload, UndefinedLength: true}
}

func padEven(value []byte, pad byte) []byte {
	if len(value)%2 == 0 {
		return value
	}
	out := make([]byte, len(value)+1)
	copy(out, value)
	out[len(value)] = pad
	return out
}

// IsSequence reports whether the element holds nested items.
func (e *Element) IsSequence() bool {
	return e.VR == VR_SQ
}

// IsEncapsulated reports whether the element holds pixel data fragments.
func (e *Element) IsEncapsulated() bool {
	return e.Fragments != nil
}

// Kind returns the VR kind, treating unknown VRs as bulk data.
func (e *Element) Kind() VRKind {
	if info, ok := vrTable[e.VR]; ok {
		return info.Kind
	}
	return KindBulk
}

// String renders the value for diagnostics.
func (e *Element) String() string {
	switch {
	case e.IsSequence():
		return fmt.Sprintf("%s %s [%d items]", e.Tag, e.VR, len(e.Items))
	case e.IsEncapsulated():
		return fmt.Sprintf("%s %s [%d fragments]", e.Tag, e.VR, len(e.Fragments.Fragments))
	}
	switch e.Kind() {
	case KindText, KindLongText, KindPersonName, KindUID:
		return fmt.Sprintf("%s %s %q", e.Tag, e.VR, strings.Join(e.Strings(), "\\"))
	case KindNumber:
		if e.VR == VR_FL || e.VR == VR_FD {
			v, _ := e.Float64s()
			return fmt.Sprintf("%s %s %v", e.Tag, e.VR, v)
		}
		v, _ := e.Int64s()
		return fmt.Sprintf("%s %s %v", e.Tag, e.VR, v)
	case KindTag:
		v, _ := e.Tags()
		return fmt.Sprintf("%s %s %v", e.Tag, e.VR, v)
	}
	return fmt.Sprintf("%s %s <%d bytes>", e.Tag, e.VR, len(e.Value))
}

// Strings splits a text value into its components without character set
// conversion. Use Dataset.GetStrings for decoded text.
func (e *Element) Strings() []string {
	return splitText(e.VR, string(e.Value))
}

func splitText(vr string, s string) []string {
	info, ok := vrTable[vr]
	if !ok {
		return []string{strings.TrimRight(s, "\x00 ")}
	}
	if s == "" {
		return nil
	}
	parts := []string{s}
	if info.Multi {
		parts = strings.Split(s, "\\")
	}
	for i, p := range parts {
		switch info.Kind {
		case KindText:
			parts[i] = strings.Trim(p, " \x00")
		case KindUID:
			parts[i] = strings.TrimRight(p, "\x00 ")
		default:
			parts[i] = strings.TrimRight(p, " \x00")
		}
	}
	return parts
}

// Uint16s decodes a US, SS or OW value.
func (e *Element) Uint16s() ([]uint16, error) {
	if e.VR != VR_US && e.VR != VR_SS && e.VR != VR_OW {
		return nil, fmt.Errorf("dicom: %s has VR %s, not US", e.Tag, e.VR)
	}
	out := make([]uint16, len(e.Value)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(e.Value[2*i:])
	}
	return out, nil
}

// Uint32s decodes a UL, SL or OL value.
func (e *Element) Uint32s() ([]uint32, error) {
	if e.VR != VR_UL && e.VR != VR_SL && e.VR != VR_OL {
		return nil, fmt.Errorf("dicom: %s has VR %s, not UL", e.Tag, e.VR)
	}
	out := make([]uint32, len(e.Value)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(e.Value[4*i:])
	}
	return out, nil
}

// Int64s decodes any integer VR, including IS strings.
func (e *Element) Int64s() ([]int64, error) {
	v := e.Value
	var out []int64
	switch e.VR {
	case VR_US:
		for i := 0; i+2 <= len(v); i += 2 {
			out = append(out, int64(binary.LittleEndian.Uint16(v[i:])))
		}
	case VR_SS:
		for i := 0; i+2 <= len(v); i += 2 {
			out = append(out, int64(int16(binary.LittleEndian.Uint16(v[i:]))))
		}
	case VR_UL:
		for i := 0; i+4 <= len(v); i += 4 {
			out = append(out, int64(binary.LittleEndian.Uint32(v[i:])))
		}
	case VR_SL:
		for i := 0; i+4 <= len(v); i += 4 {
			out = append(out, int64(int32(binary.LittleEndian.Uint32(v[i:]))))
		}
	case VR_SV, VR_UV:
		for i := 0; i+8 <= len(v); i += 8 {
			out = append(out, int64(binary.LittleEndian.Uint64(v[i:])))
		}
	case VR_IS:
		for _, s := range e.Strings() {
			n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("dicom: %s: invalid IS value %q: %w", e.Tag, s, err)
			}
			out = append(out, n)
		}
	default:
		return nil, fmt.Errorf("dicom: %s has VR %s, not an integer", e.Tag, e.VR)
	}
	return out, nil
}

// Float64s decodes FL, FD and DS values.
func (e *Element) Float64s() ([]float64, error) {
	v := e.Value
	var out []float64
	switch e.VR {
	case VR_FL, VR_OF:
		for i := 0; i+4 <= len(v); i += 4 {
			out = append(out, float64(math.Float32frombits(binary.LittleEndian.Uint32(v[i:]))))
		}
	case VR_FD, VR_OD:
		for i := 0; i+8 <= len(v); i += 8 {
			out = append(out, math.Float64frombits(binary.LittleEndian.Uint64(v[i:])))
		}
	case VR_DS:
		for _, s := range e.Strings() {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("dicom: %s: invalid DS value %q: %w", e.Tag, s, err)
			}
			out = append(out, f)
		}
	default:
		return nil, fmt.Errorf("dicom: %s has VR %s, not a float", e.Tag, e.VR)
	}
	return out, nil
}

// Tags decodes an AT value.
func (e *Element) Tags() ([]Tag, error) {
	if e.VR != VR_AT {
		return nil, fmt.Errorf("dicom: %s has VR %s, not AT", e.Tag, e.VR)
	}
	out := make([]Tag, len(e.Value)/4)
	for i := range out {
		out[i] = Tag{
			Group:   binary.LittleEndian.Uint16(e.Value[4*i:]),
			Element: binary.LittleEndian.Uint16(e.Value[4*i+2:]),
		}
	}
	return out, nil
}

// Equal compares tag, VR and value recursively. Length encoding is ignored.
func (e *Element) Equal(o *Element) bool {
	if e == nil || o == nil {
		return e == o
	}
	if e.Tag != o.Tag || e.VR != o.VR {
		return false
	}
	if string(e.Value) != string(o.Value) {
		return false
	}
	if len(e.Items) != len(o.Items) {
		return false
	}
	for i := range e.Items {
		if !e.Items[i].Equal(o.Items[i]) {
			return false
		}
	}
	return e.Fragments.Equal(o.Fragments)
}
