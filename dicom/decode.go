package dicom

import (
	"encoding/binary"

	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
)

const undefinedLength = 0xFFFFFFFF

// DecodeOptions tunes decoding.
type DecodeOptions struct {
	// Strict records duplicate tags as anomalies on the dataset.
	Strict bool
	// Dictionary resolves VRs for implicit VR streams. Nil means DefaultDictionary.
	Dictionary Dictionary
}

// Decoder reads elements from an in-memory buffer.
type Decoder struct {
	buf    []byte
	off    int
	end    int
	base   int
	syntax TransferSyntax
	opts   DecodeOptions
}

// NewDecoder reads data using syntax. Offsets reported in errors are
// relative to the start of data.
func NewDecoder(data []byte, syntax TransferSyntax, opts DecodeOptions) *Decoder {
	if opts.Dictionary == nil {
		opts.Dictionary = DefaultDictionary
	}
	return &Decoder{buf: data, end: len(data), syntax: syntax, opts: opts}
}

// WithBaseOffset shifts the offsets reported in errors, so a decoder over a
// slice of a file reports file offsets.
func (d *Decoder) WithBaseOffset(base int) *Decoder {
	d.base = base
	return d
}

// Offset is the position of the next unread byte.
func (d *Decoder) Offset() int {
	return d.off
}

// Done reports whether the buffer is exhausted.
func (d *Decoder) Done() bool {
	return d.off >= d.end
}

func (d *Decoder) order() binary.ByteOrder {
	return d.syntax.byteOrder()
}

func (d *Decoder) errorf(at int, format string, args ...any) error {
	return dicomerrors.NewFormatError(d.base+at, format, args...)
}

func (d *Decoder) need(n int) error {
	if n < 0 || d.end-d.off < n {
		return d.errorf(d.off, "need %d bytes, %d remaining", n, d.end-d.off)
	}
	return nil
}

func (d *Decoder) readTag() (Tag, error) {
	if err := d.need(4); err != nil {
		return Tag{}, err
	}
	o := d.order()
	t := Tag{Group: o.Uint16(d.buf[d.off:]), Element: o.Uint16(d.buf[d.off+2:])}
	d.off += 4
	return t, nil
}

func (d *Decoder) readUint32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := d.order().Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

// PeekTag returns the next tag without consuming it.
func (d *Decoder) PeekTag() (Tag, error) {
	start := d.off
	t, err := d.readTag()
	d.off = start
	return t, err
}

// ReadElement decodes one element, including any nested items.
func (d *Decoder) ReadElement() (*Element, error) {
	start := d.off
	tag, err := d.readTag()
	if err != nil {
		return nil, err
	}
	if tag.Group == 0xFFFE {
		return nil, d.errorf(start, "unexpected delimiter %s outside a sequence", tag)
	}

	var vr string
	var length uint32
	if d.syntax.ExplicitVR {
		if err := d.need(2); err != nil {
			return nil, err
		}
		vr = string(d.buf[d.off : d.off+2])
		info, ok := vrTable[vr]
		if !ok {
			return nil, d.errorf(d.off, "invalid VR %q for %s", vr, tag)
		}
		d.off += 2
		if info.LongLength {
			if err := d.need(6); err != nil {
				return nil, err
			}
			d.off += 2
			length = d.order().Uint32(d.buf[d.off:])
			d.off += 4
		} else {
			if err := d.need(2); err != nil {
				return nil, err
			}
			length = uint32(d.order().Uint16(d.buf[d.off:]))
			d.off += 2
		}
	} else {
		if length, err = d.readUint32(); err != nil {
			return nil, err
		}
		var ok bool
		if vr, ok = d.opts.Dictionary.LookupVR(tag); !ok {
			vr = VR_UN
		}
	}

	el := &Element{Tag: tag, VR: vr}
	if length == undefinedLength {
		el.UndefinedLength = true
		switch {
		case vr == VR_SQ:
			el.Items, err = d.readItems(-1)
		case vr == VR_UN:
			// Undefined length UN is a sequence encoded as implicit VR little endian.
			el.VR = VR_SQ
			el.Items, err = d.withSyntax(ImplicitVRLittleEndian, func() ([]*Dataset, error) {
				return d.readItems(-1)
			})
		case tag == PixelData && (vr == VR_OB || vr == VR_OW):
			el.Fragments, err = d.readFragments()
		default:
			return nil, d.errorf(start, "undefined length not allowed for %s %s", tag, vr)
		}
		if err != nil {
			return nil, err
		}
		return el, nil
	}

	if int64(length) > int64(d.end-d.off) {
		return nil, d.errorf(start, "%s length %d exceeds %d remaining bytes", tag, length, d.end-d.off)
	}
	if length%2 != 0 {
		return nil, d.errorf(start, "%s has odd length %d", tag, length)
	}

	if vr == VR_SQ {
		el.Items, err = d.readItems(d.off + int(length))
		if err != nil {
			return nil, err
		}
		return el, nil
	}

	value := make([]byte, length)
	copy(value, d.buf[d.off:d.off+int(length)])
	d.off += int(length)
	if d.syntax.IsBigEndian() {
		swapUnits(value, swapWidth(vr))
	}
	el.Value = value
	return el, nil
}

func (d *Decoder) withSyntax(ts TransferSyntax, fn func() ([]*Dataset, error)) ([]*Dataset, error) {
	saved := d.syntax
	d.syntax = ts
	defer func() { d.syntax = saved }()
	return fn()
}

// readItems reads sequence items up to end, or up to a sequence delimiter
// when end is negative.
func (d *Decoder) readItems(end int) ([]*Dataset, error) {
	delimited := end < 0
	savedEnd := d.end
	if !delimited {
		d.end = end
	}
	defer func() { d.end = savedEnd }()

	items := []*Dataset{}
	for {
		if !delimited && d.off >= d.end {
			break
		}
		start := d.off
		tag, err := d.readTag()
		if err != nil {
			return nil, err
		}
		length, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		if tag == SequenceDelimitationTag {
			if !delimited {
				return nil, d.errorf(start, "sequence delimiter inside defined length sequence")
			}
			if length != 0 {
				return nil, d.errorf(start, "sequence delimiter with length %d", length)
			}
			return items, nil
		}
		if tag != ItemTag {
			return nil, d.errorf(start, "expected item tag, found %s", tag)
		}

		var item *Dataset
		if length == undefinedLength {
			item, err = d.readDataset(-1)
			if item != nil {
				item.UndefinedLength = true
			}
		} else {
			if int64(length) > int64(d.end-d.off) {
				return nil, d.errorf(start, "item length %d exceeds %d remaining bytes", length, d.end-d.off)
			}
			item, err = d.readDataset(d.off + int(length))
		}
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if d.off != d.end {
		return nil, d.errorf(d.off, "sequence overran its length")
	}
	return items, nil
}

// readDataset reads elements up to end, or up to an item delimiter when end
// is negative.
func (d *Decoder) readDataset(end int) (*Dataset, error) {
	delimited := end < 0
	savedEnd := d.end
	if !delimited {
		d.end = end
	}
	defer func() { d.end = savedEnd }()

	ds := NewDataset()
	for {
		if d.off >= d.end {
			if delimited {
				return nil, d.errorf(d.off, "missing item delimiter")
			}
			break
		}
		tag, err := d.PeekTag()
		if err != nil {
			return nil, err
		}
		if tag == ItemDelimitationTag {
			start := d.off
			d.off += 4
			length, err := d.readUint32()
			if err != nil {
				return nil, err
			}
			if !delimited {
				return nil, d.errorf(start, "item delimiter inside defined length item")
			}
			if length != 0 {
				return nil, d.errorf(start, "item delimiter with length %d", length)
			}
			return ds, nil
		}
		el, err := d.ReadElement()
		if err != nil {
			return nil, err
		}
		ds.put(el, d.opts.Strict)
	}
	if d.off != d.end {
		return nil, d.errorf(d.off, "item overran its length")
	}
	return ds, nil
}

// readFragments reads the items of encapsulated pixel data. The first item
// is the basic offset table.
func (d *Decoder) readFragments() (*PixelPayload, error) {
	payload := &PixelPayload{}
	first := true
	for {
		start := d.off
		tag, err := d.readTag()
		if err != nil {
			return nil, err
		}
		length, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		if tag == SequenceDelimitationTag {
			if first {
				return nil, d.errorf(start, "encapsulated pixel data without offset table item")
			}
			payload.Reindex()
			return payload, nil
		}
		if tag != ItemTag {
			return nil, d.errorf(start, "expected fragment item, found %s", tag)
		}
		if length == undefinedLength {
			return nil, d.errorf(start, "fragment with undefined length")
		}
		if length%2 != 0 {
			return nil, d.errorf(start, "fragment has odd length %d", length)
		}
		if int64(length) > int64(d.end-d.off) {
			return nil, d.errorf(start, "fragment length %d exceeds %d remaining bytes", length, d.end-d.off)
		}
		data := d.buf[d.off : d.off+int(length)]
		d.off += int(length)
		if first {
			first = false
			if length%4 != 0 {
				return nil, d.errorf(start, "offset table length %d is not a multiple of 4", length)
			}
			for i := 0; i < len(data); i += 4 {
				payload.OffsetTable = append(payload.OffsetTable, binary.LittleEndian.Uint32(data[i:]))
			}
			continue
		}
		frag := make([]byte, len(data))
		copy(frag, data)
		payload.Fragments = append(payload.Fragments, frag)
	}
}

// ReadDataset decodes elements until the buffer is exhausted.
func (d *Decoder) ReadDataset() (*Dataset, error) {
	return d.readDataset(d.end)
}

func swapWidth(vr string) int {
	info, ok := vrTable[vr]
	if !ok {
		return 0
	}
	return info.Width
}

// swapUnits reverses the byte order of every width sized unit in place.
func swapUnits(b []byte, width int) {
	if width < 2 {
		return
	}
	for i := 0; i+width <= len(b); i += width {
		u := b[i : i+width]
		for l, r := 0, width-1; l < r; l, r = l+1, r-1 {
			u[l], u[r] = u[r], u[l]
		}
	}
}
