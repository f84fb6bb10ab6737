package dicom

import (
	"bytes"
	"encoding/binary"
	"math"

	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
)

// EncodeOptions tunes encoding.
type EncodeOptions struct {
	// UndefinedLengthSequences writes every sequence and item with
	// delimiters instead of explicit lengths.
	UndefinedLengthSequences bool
}

// Encoder writes elements into an in-memory buffer.
type Encoder struct {
	buf    bytes.Buffer
	syntax TransferSyntax
	opts   EncodeOptions
}

// NewEncoder creates an Encoder for syntax.
func NewEncoder(syntax TransferSyntax, opts EncodeOptions) *Encoder {
	return &Encoder{syntax: syntax, opts: opts}
}

// Bytes returns everything written so far.
func (e *Encoder) Bytes() []byte {
	return e.buf.Bytes()
}

func (e *Encoder) order() binary.ByteOrder {
	return e.syntax.byteOrder()
}

func (e *Encoder) writeTag(t Tag) {
	var b [4]byte
	e.order().PutUint16(b[0:], t.Group)
	e.order().PutUint16(b[2:], t.Element)
	e.buf.Write(b[:])
}

func (e *Encoder) writeUint32(v uint32) {
	var b [4]byte
	e.order().PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) writeHeader(tag Tag, vr string, length uint32) error {
	e.writeTag(tag)
	if !e.syntax.ExplicitVR {
		e.writeUint32(length)
		return nil
	}
	info, ok := vrTable[vr]
	if !ok {
		return dicomerrors.NewFormatError(e.buf.Len(), "cannot encode %s with unknown VR %q", tag, vr)
	}
	e.buf.WriteString(vr)
	if info.LongLength {
		e.buf.Write([]byte{0, 0})
		e.writeUint32(length)
		return nil
	}
	if length > math.MaxUint16 {
		return dicomerrors.NewFormatError(e.buf.Len(), "%s value of %d bytes does not fit VR %s", tag, length, vr)
	}
	var b [2]byte
	e.order().PutUint16(b[:], uint16(length))
	e.buf.Write(b[:])
	return nil
}

// WriteDataset encodes every element of ds in order.
func (e *Encoder) WriteDataset(ds *Dataset) error {
	for _, el := range ds.elements {
		if err := e.WriteElement(el); err != nil {
			return err
		}
	}
	return nil
}

// WriteElement encodes one element.
func (e *Encoder) WriteElement(el *Element) error {
	switch {
	case el.IsEncapsulated():
		return e.writeFragments(el)
	case el.VR == VR_SQ || el.Items != nil:
		return e.writeSequence(el)
	}

	value := padEven(el.Value, padByte(el.VR))
	if e.syntax.IsBigEndian() {
		if w := swapWidth(el.VR); w > 1 {
			value = append([]byte(nil), value...)
			swapUnits(value, w)
		}
	}
	if uint64(len(value)) >= undefinedLength {
		return dicomerrors.NewFormatError(e.buf.Len(), "%s value too large", el.Tag)
	}
	if err := e.writeHeader(el.Tag, el.VR, uint32(len(value))); err != nil {
		return err
	}
	e.buf.Write(value)
	return nil
}

func (e *Encoder) writeSequence(el *Element) error {
	undefined := el.UndefinedLength || e.opts.UndefinedLengthSequences
	if undefined {
		if err := e.writeHeader(el.Tag, VR_SQ, undefinedLength); err != nil {
			return err
		}
		for _, item := range el.Items {
			if err := e.writeItem(item, e.opts.UndefinedLengthSequences || item.UndefinedLength); err != nil {
				return err
			}
		}
		e.writeTag(SequenceDelimitationTag)
		e.writeUint32(0)
		return nil
	}

	body := NewEncoder(e.syntax, e.opts)
	for _, item := range el.Items {
		if err := body.writeItem(item, item.UndefinedLength); err != nil {
			return err
		}
	}
	if err := e.writeHeader(el.Tag, VR_SQ, uint32(body.buf.Len())); err != nil {
		return err
	}
	e.buf.Write(body.Bytes())
	return nil
}

func (e *Encoder) writeItem(item *Dataset, undefined bool) error {
	if undefined {
		e.writeTag(ItemTag)
		e.writeUint32(undefinedLength)
		if err := e.WriteDataset(item); err != nil {
			return err
		}
		e.writeTag(ItemDelimitationTag)
		e.writeUint32(0)
		return nil
	}
	body := NewEncoder(e.syntax, e.opts)
	if err := body.WriteDataset(item); err != nil {
		return err
	}
	e.writeTag(ItemTag)
	e.writeUint32(uint32(body.buf.Len()))
	e.buf.Write(body.Bytes())
	return nil
}

func (e *Encoder) writeFragments(el *Element) error {
	vr := el.VR
	if vr != VR_OB && vr != VR_OW {
		vr = VR_OB
	}
	if err := e.writeHeader(el.Tag, vr, undefinedLength); err != nil {
		return err
	}
	p := el.Fragments
	e.writeTag(ItemTag)
	e.writeUint32(uint32(4 * len(p.OffsetTable)))
	for _, off := range p.OffsetTable {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], off)
		e.buf.Write(b[:])
	}
	for _, frag := range p.Fragments {
		frag = padEven(frag, 0x00)
		e.writeTag(ItemTag)
		e.writeUint32(uint32(len(frag)))
		e.buf.Write(frag)
	}
	e.writeTag(SequenceDelimitationTag)
	e.writeUint32(0)
	return nil
}
