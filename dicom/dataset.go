package dicom

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
)

// Anomaly records a tolerated irregularity found while decoding.
type Anomaly struct {
	Tag Tag
	Msg string
}

// Dataset is an ordered collection of elements keyed by tag.
type Dataset struct {
	elements []*Element
	index    map[Tag]int

	// Anomalies lists duplicate tags seen by a strict decode of this dataset
	// alone; see AllAnomalies for nested items. The last occurrence of a
	// duplicated tag is the one kept.
	Anomalies []Anomaly

	// UndefinedLength marks a sequence item that was, or is to be, encoded
	// with an item delimiter instead of an explicit length.
	UndefinedLength bool

	inheritedCharset []string
}

// NewDataset creates an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{index: make(map[Tag]int)}
}

// Len returns the number of elements.
func (d *Dataset) Len() int {
	return len(d.elements)
}

// Elements returns the elements in dataset order. The slice must not be modified.
func (d *Dataset) Elements() []*Element {
	return d.elements
}

// Tags returns the tags in dataset order.
func (d *Dataset) Tags() []Tag {
	out := make([]Tag, len(d.elements))
	for i, el := range d.elements {
		out[i] = el.Tag
	}
	return out
}

// Set inserts el, replacing any element with the same tag in place.
func (d *Dataset) Set(el *Element) {
	d.put(el, false)
}

func (d *Dataset) put(el *Element, recordDuplicate bool) {
	if d.index == nil {
		d.index = make(map[Tag]int)
	}
	if len(el.Items) > 0 {
		terms := d.charsetTerms()
		for _, item := range el.Items {
			item.inheritCharset(terms)
		}
	}
	if i, ok := d.index[el.Tag]; ok {
		if recordDuplicate {
			d.Anomalies = append(d.Anomalies, Anomaly{Tag: el.Tag, Msg: "duplicate tag, earlier value discarded"})
		}
		d.elements[i] = el
		return
	}
	d.index[el.Tag] = len(d.elements)
	d.elements = append(d.elements, el)
}

// inheritCharset records the enclosing dataset's character set on an item
// and its nested items. Items with their own Specific Character Set pass
// that on instead.
func (d *Dataset) inheritCharset(terms []string) {
	if d.inheritedCharset == nil {
		d.inheritedCharset = terms
	}
	own := d.charsetTerms()
	for _, el := range d.elements {
		for _, item := range el.Items {
			item.inheritCharset(own)
		}
	}
}

// AllAnomalies returns the anomalies of d and of every nested item, depth
// first in element order.
func (d *Dataset) AllAnomalies() []Anomaly {
	out := append([]Anomaly(nil), d.Anomalies...)
	for _, el := range d.elements {
		for _, item := range el.Items {
			out = append(out, item.AllAnomalies()...)
		}
	}
	return out
}

// Get returns the element for tag.
func (d *Dataset) Get(tag Tag) (*Element, bool) {
	i, ok := d.index[tag]
	if !ok {
		return nil, false
	}
	return d.elements[i], true
}

// Has reports whether tag is present.
func (d *Dataset) Has(tag Tag) bool {
	_, ok := d.index[tag]
	return ok
}

// Remove deletes tag and reports whether it was present.
func (d *Dataset) Remove(tag Tag) bool {
	i, ok := d.index[tag]
	if !ok {
		return false
	}
	d.elements = append(d.elements[:i], d.elements[i+1:]...)
	delete(d.index, tag)
	for j := i; j < len(d.elements); j++ {
		d.index[d.elements[j].Tag] = j
	}
	return true
}

// Sort orders elements by ascending tag, the order required on the wire.
func (d *Dataset) Sort() {
	sort.SliceStable(d.elements, func(i, j int) bool {
		return d.elements[i].Tag.Compare(d.elements[j].Tag) < 0
	})
	for i, el := range d.elements {
		d.index[el.Tag] = i
	}
}

// Equal compares two datasets element by element, ignoring how sequence
// lengths were encoded.
func (d *Dataset) Equal(o *Dataset) bool {
	if d == nil || o == nil {
		return d == o
	}
	if len(d.elements) != len(o.elements) {
		return false
	}
	for i := range d.elements {
		if !d.elements[i].Equal(o.elements[i]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (d *Dataset) Clone() *Dataset {
	out := NewDataset()
	out.inheritedCharset = d.inheritedCharset
	out.UndefinedLength = d.UndefinedLength
	for _, el := range d.elements {
		c := *el
		c.Value = append([]byte(nil), el.Value...)
		if el.Items != nil {
			c.Items = make([]*Dataset, len(el.Items))
			for i, item := range el.Items {
				c.Items[i] = item.Clone()
			}
		}
		if el.Fragments != nil {
			c.Fragments = el.Fragments.Clone()
		}
		out.put(&c, false)
	}
	return out
}

// AddElement stores value under tag, converting common Go types to the
// wire representation of vr.
func (d *Dataset) AddElement(tag Tag, vr string, value any) error {
	var el *Element
	switch v := value.(type) {
	case string:
		el = NewStringElement(tag, vr, v)
	case []string:
		el = NewStringElement(tag, vr, v...)
	case uint16:
		el = NewUint16Element(tag, v)
		el.VR = vr
	case []uint16:
		el = NewUint16Element(tag, v...)
		el.VR = vr
	case uint32:
		el = NewUint32Element(tag, v)
		el.VR = vr
	case int:
		var err error
		if el, err = intElement(tag, vr, v); err != nil {
			return err
		}
	case float64:
		if vr == VR_DS {
			el = NewStringElement(tag, vr, strconv.FormatFloat(v, 'g', -1, 64))
		} else {
			el = NewFloat64Element(tag, v)
		}
	case []byte:
		el = NewElement(tag, vr, v)
	case Tag:
		el = NewTagElement(tag, v)
	case []*Dataset:
		el = NewSequenceElement(tag, v...)
	case *PixelPayload:
		el = NewPixelDataElement(v)
	default:
		return fmt.Errorf("dicom: unsupported value type %T for %s", value, tag)
	}
	d.Set(el)
	return nil
}

// intElement encodes v with the width and signedness of vr.
func intElement(tag Tag, vr string, v int) (*Element, error) {
	var lo, hi int64
	switch vr {
	case VR_IS, VR_DS:
		return NewStringElement(tag, vr, strconv.Itoa(v)), nil
	case VR_US:
		lo, hi = 0, math.MaxUint16
	case VR_SS:
		lo, hi = math.MinInt16, math.MaxInt16
	case VR_UL:
		lo, hi = 0, math.MaxUint32
	case VR_SL:
		lo, hi = math.MinInt32, math.MaxInt32
	default:
		return nil, fmt.Errorf("dicom: cannot store int in %s element %s", vr, tag)
	}
	if int64(v) < lo || int64(v) > hi {
		return nil, fmt.Errorf("dicom: %d out of range for %s element %s", v, vr, tag)
	}

	var el *Element
	switch vr {
	case VR_US, VR_SS:
		el = NewUint16Element(tag, uint16(v))
	default:
		el = NewUint32Element(tag, uint32(v))
	}
	el.VR = vr
	return el, nil
}

// SetString is shorthand for storing a text element.
func (d *Dataset) SetString(tag Tag, vr string, values ...string) {
	d.Set(NewStringElement(tag, vr, values...))
}

// SetUint16 is shorthand for storing a US element.
func (d *Dataset) SetUint16(tag Tag, values ...uint16) {
	d.Set(NewUint16Element(tag, values...))
}

// SetSequence is shorthand for storing an SQ element.
func (d *Dataset) SetSequence(tag Tag, items ...*Dataset) {
	d.Set(NewSequenceElement(tag, items...))
}

// GetString returns the first value of a text element decoded through the
// dataset's character set. Missing elements yield "".
func (d *Dataset) GetString(tag Tag) string {
	values := d.GetStrings(tag)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// GetStrings returns every value of a text element.
func (d *Dataset) GetStrings(tag Tag) []string {
	el, ok := d.Get(tag)
	if !ok {
		return nil
	}
	switch el.Kind() {
	case KindText, KindLongText, KindPersonName:
		if el.VR == VR_CS || el.VR == VR_AE || el.VR == VR_DA || el.VR == VR_TM ||
			el.VR == VR_DT || el.VR == VR_AS || el.VR == VR_DS || el.VR == VR_IS {
			return el.Strings()
		}
		return splitText(el.VR, d.decodeText(el.Value))
	}
	return el.Strings()
}

// GetUint16 returns the first value of a US element.
func (d *Dataset) GetUint16(tag Tag) (uint16, error) {
	el, ok := d.Get(tag)
	if !ok {
		return 0, fmt.Errorf("%w: %s", dicomerrors.ErrElementNotFound, tag)
	}
	v, err := el.Uint16s()
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return 0, fmt.Errorf("dicom: %s is empty", tag)
	}
	return v[0], nil
}

// GetUint32 returns the first value of a UL element.
func (d *Dataset) GetUint32(tag Tag) (uint32, error) {
	el, ok := d.Get(tag)
	if !ok {
		return 0, fmt.Errorf("%w: %s", dicomerrors.ErrElementNotFound, tag)
	}
	v, err := el.Uint32s()
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return 0, fmt.Errorf("dicom: %s is empty", tag)
	}
	return v[0], nil
}

// GetInt returns the first value of an integer element (binary or IS).
func (d *Dataset) GetInt(tag Tag) (int, error) {
	el, ok := d.Get(tag)
	if !ok {
		return 0, fmt.Errorf("%w: %s", dicomerrors.ErrElementNotFound, tag)
	}
	v, err := el.Int64s()
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return 0, fmt.Errorf("dicom: %s is empty", tag)
	}
	return int(v[0]), nil
}

// GetFloat returns the first value of a floating point element (binary or DS).
func (d *Dataset) GetFloat(tag Tag) (float64, error) {
	el, ok := d.Get(tag)
	if !ok {
		return 0, fmt.Errorf("%w: %s", dicomerrors.ErrElementNotFound, tag)
	}
	v, err := el.Float64s()
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return 0, fmt.Errorf("dicom: %s is empty", tag)
	}
	return v[0], nil
}

// GetDate parses a DA element (YYYYMMDD, or the legacy YYYY.MM.DD form).
func (d *Dataset) GetDate(tag Tag) (time.Time, error) {
	s := d.GetString(tag)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: %s", dicomerrors.ErrElementNotFound, tag)
	}
	return ParseDate(s)
}

// ParseDate parses a single DA value.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	layout := "20060102"
	if len(s) == 10 && s[4] == '.' {
		layout = "2006.01.02"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("dicom: invalid date %q: %w", s, err)
	}
	return t, nil
}

// GetPersonName parses the first value of a PN element.
func (d *Dataset) GetPersonName(tag Tag) (PersonName, error) {
	el, ok := d.Get(tag)
	if !ok {
		return PersonName{}, fmt.Errorf("%w: %s", dicomerrors.ErrElementNotFound, tag)
	}
	if el.VR != VR_PN {
		return PersonName{}, fmt.Errorf("dicom: %s has VR %s, not PN", tag, el.VR)
	}
	return ParsePersonName(d.GetString(tag)), nil
}

// GetSequence returns the items of an SQ element.
func (d *Dataset) GetSequence(tag Tag) ([]*Dataset, error) {
	el, ok := d.Get(tag)
	if !ok {
		return nil, fmt.Errorf("%w: %s", dicomerrors.ErrElementNotFound, tag)
	}
	if !el.IsSequence() {
		return nil, fmt.Errorf("dicom: %s has VR %s, not SQ", tag, el.VR)
	}
	return el.Items, nil
}

// GetTags returns the values of an AT element.
func (d *Dataset) GetTags(tag Tag) ([]Tag, error) {
	el, ok := d.Get(tag)
	if !ok {
		return nil, fmt.Errorf("%w: %s", dicomerrors.ErrElementNotFound, tag)
	}
	return el.Tags()
}

// DecodeDataset decodes a bare dataset (no preamble or meta group) encoded
// with ts. Deflated syntaxes are inflated first.
func DecodeDataset(data []byte, ts TransferSyntax, opts DecodeOptions) (*Dataset, error) {
	if ts.Deflated {
		inflated, err := io.ReadAll(flate.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, dicomerrors.WrapFormatError(0, err, "inflate dataset")
		}
		data = inflated
	}
	return NewDecoder(data, ts, opts).ReadDataset()
}

// EncodeDataset encodes ds with ts, deflating when the syntax requires it.
func EncodeDataset(ds *Dataset, ts TransferSyntax, opts EncodeOptions) ([]byte, error) {
	enc := NewEncoder(ts, opts)
	if err := enc.WriteDataset(ds); err != nil {
		return nil, err
	}
	if !ts.Deflated {
		return enc.Bytes(), nil
	}
	var out bytes.Buffer
	w, err := flate.NewWriter(&out, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(enc.Bytes()); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// EncodeDatasetWithTransferSyntax encodes ds for the syntax named by uid.
func EncodeDatasetWithTransferSyntax(ds *Dataset, uid string) ([]byte, error) {
	ts, err := LookupTransferSyntax(uid)
	if err != nil {
		return nil, err
	}
	return EncodeDataset(ds, ts, EncodeOptions{})
}

// ParseDatasetWithTransferSyntax decodes data for the syntax named by uid.
func ParseDatasetWithTransferSyntax(data []byte, uid string) (*Dataset, error) {
	ts, err := LookupTransferSyntax(uid)
	if err != nil {
		return nil, err
	}
	return DecodeDataset(data, ts, DecodeOptions{})
}
