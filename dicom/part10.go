package dicom

import (
	"bytes"
	"compress/flate"
	"io"

	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
	"github.com/caio-sobreiro/dicomkit/types"
)

const (
	// PreambleLength is the size of the leading free-form preamble.
	PreambleLength = 128
	// Magic follows the preamble.
	Magic = "DICM"

	headerLength = PreambleLength + len(Magic)
)

// Implementation identity written into file meta information.
const (
	ImplementationClassUIDValue    = "1.2.826.0.1.3680043.10.1417.1"
	ImplementationVersionNameValue = "DICOMKIT_1"
)

// File is a Part 10 file: preamble, meta group and the dataset body.
type File struct {
	Preamble       [PreambleLength]byte
	Meta           *Dataset
	Dataset        *Dataset
	TransferSyntax TransferSyntax
}

// ReadOptions tunes ReadFile.
type ReadOptions struct {
	// Tolerant accepts files without preamble or magic, and files whose
	// meta group lacks a transfer syntax.
	Tolerant bool
	// FallbackTransferSyntax is used when the meta group does not name
	// one. When empty such files are rejected, except in tolerant mode
	// which assumes implicit VR little endian.
	FallbackTransferSyntax string
	Decode                 DecodeOptions
}

// NewFile builds a File whose meta group describes ds.
func NewFile(ds *Dataset, ts TransferSyntax) *File {
	meta := NewDataset()
	meta.Set(NewElement(FileMetaInformationVersion, VR_OB, []byte{0x00, 0x01}))
	meta.SetString(MediaStorageSOPClassUID, VR_UI, ds.GetString(SOPClassUID))
	meta.SetString(MediaStorageSOPInstanceUID, VR_UI, ds.GetString(SOPInstanceUID))
	meta.SetString(TransferSyntaxUID, VR_UI, ts.UID)
	meta.SetString(ImplementationClassUID, VR_UI, ImplementationClassUIDValue)
	meta.SetString(ImplementationVersionName, VR_SH, ImplementationVersionNameValue)
	return &File{Meta: meta, Dataset: ds, TransferSyntax: ts}
}

// ReadFile parses a Part 10 file held in memory.
func ReadFile(data []byte, opts ReadOptions) (*File, error) {
	f := &File{}
	off := 0
	switch {
	case HasPart10Header(data):
		copy(f.Preamble[:], data[:PreambleLength])
		off = headerLength
	case opts.Tolerant && bytes.HasPrefix(data, []byte(Magic)):
		off = len(Magic)
	case opts.Tolerant:
		off = 0
	default:
		return nil, dicomerrors.NewFormatError(PreambleLength, "missing %s magic", Magic)
	}

	meta, metaEnd, err := readMeta(data, off, opts.Decode)
	if err != nil {
		return nil, err
	}
	f.Meta = meta

	uid := meta.GetString(TransferSyntaxUID)
	if uid == "" {
		switch {
		case opts.FallbackTransferSyntax != "":
			uid = opts.FallbackTransferSyntax
		case opts.Tolerant:
			uid = types.ImplicitVRLittleEndian
		default:
			return nil, dicomerrors.NewFormatError(off, "file meta information has no transfer syntax")
		}
	}
	ts, err := LookupTransferSyntax(uid)
	if err != nil {
		return nil, dicomerrors.WrapFormatError(off, dicomerrors.ErrUnsupportedTransfer, "transfer syntax %q", uid)
	}
	f.TransferSyntax = ts

	body := data[metaEnd:]
	base := metaEnd
	if ts.Deflated {
		inflated, err := io.ReadAll(flate.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, dicomerrors.WrapFormatError(metaEnd, err, "inflate dataset")
		}
		body, base = inflated, 0
	}
	ds, err := NewDecoder(body, ts, opts.Decode).WithBaseOffset(base).ReadDataset()
	if err != nil {
		return nil, err
	}
	f.Dataset = ds
	return f, nil
}

// Parse reads a whole Part 10 stream.
func Parse(r io.Reader, opts ReadOptions) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ReadFile(data, opts)
}

// readMeta decodes the group 0002 elements starting at off and returns the
// offset of the first body byte. The group is always explicit VR little endian.
func readMeta(data []byte, off int, opts DecodeOptions) (*Dataset, int, error) {
	meta := NewDataset()
	dec := NewDecoder(data[off:], ExplicitVRLittleEndian, opts).WithBaseOffset(off)

	limit := -1
	for !dec.Done() {
		tag, err := dec.PeekTag()
		if err != nil {
			return nil, 0, err
		}
		if tag.Group != 0x0002 {
			break
		}
		if limit >= 0 && dec.Offset() >= limit {
			break
		}
		el, err := dec.ReadElement()
		if err != nil {
			return nil, 0, err
		}
		if el.Tag == FileMetaInformationGroupLength {
			if v, err := el.Uint32s(); err == nil && len(v) == 1 {
				limit = dec.Offset() + int(v[0])
			}
			continue
		}
		meta.put(el, opts.Strict)
	}
	return meta, off + dec.Offset(), nil
}

// Bytes encodes f as a Part 10 file. The meta group length is recomputed.
func (f *File) Bytes() ([]byte, error) {
	var out bytes.Buffer
	out.Write(f.Preamble[:])
	out.WriteString(Magic)

	meta := f.Meta.Clone()
	meta.Remove(FileMetaInformationGroupLength)
	meta.SetString(TransferSyntaxUID, VR_UI, f.TransferSyntax.UID)
	meta.Sort()
	metaBytes, err := EncodeDataset(meta, ExplicitVRLittleEndian, EncodeOptions{})
	if err != nil {
		return nil, err
	}
	header := NewEncoder(ExplicitVRLittleEndian, EncodeOptions{})
	if err := header.WriteElement(NewUint32Element(FileMetaInformationGroupLength, uint32(len(metaBytes)))); err != nil {
		return nil, err
	}
	out.Write(header.Bytes())
	out.Write(metaBytes)

	body, err := EncodeDataset(f.Dataset, f.TransferSyntax, EncodeOptions{})
	if err != nil {
		return nil, err
	}
	out.Write(body)
	return out.Bytes(), nil
}

// WriteTo writes the encoded file to w.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	data, err := f.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// StripPart10Header returns the dataset bytes of a Part 10 file with the
// preamble and meta group removed, as needed for a C-STORE payload. The
// bytes are left in the file's transfer syntax.
func StripPart10Header(data []byte) ([]byte, error) {
	if !HasPart10Header(data) {
		if len(data) < headerLength {
			return nil, dicomerrors.NewFormatError(len(data), "need at least %d bytes for a Part 10 header", headerLength)
		}
		return nil, dicomerrors.NewFormatError(PreambleLength, "missing %s magic", Magic)
	}
	_, end, err := readMeta(data, headerLength, DecodeOptions{})
	if err != nil {
		return nil, err
	}
	return data[end:], nil
}

// HasPart10Header reports whether data starts with a preamble and magic.
func HasPart10Header(data []byte) bool {
	return len(data) >= headerLength && string(data[PreambleLength:headerLength]) == Magic
}
