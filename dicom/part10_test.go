package dicom

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
	"github.com/caio-sobreiro/dicomkit/types"
)

func TestFileRoundTrip(t *testing.T) {
	deflated, err := LookupTransferSyntax(types.DeflatedExplicitVRLittleEndian)
	require.NoError(t, err)

	for _, ts := range []TransferSyntax{ExplicitVRLittleEndian, ImplicitVRLittleEndian, ExplicitVRBigEndian, deflated} {
		t.Run(ts.UID, func(t *testing.T) {
			ds := sampleDataset()
			data, err := NewFile(ds, ts).Bytes()
			require.NoError(t, err)
			require.True(t, HasPart10Header(data))

			f, err := ReadFile(data, ReadOptions{Decode: DecodeOptions{Dictionary: testDictionary}})
			require.NoError(t, err)
			assert.Equal(t, ts.UID, f.TransferSyntax.UID)
			assert.Equal(t, ts.UID, f.Meta.GetString(TransferSyntaxUID))
			assert.Equal(t, types.CTImageStorage, f.Meta.GetString(MediaStorageSOPClassUID))
			assert.Equal(t, "1.2.3.4.5", f.Meta.GetString(MediaStorageSOPInstanceUID))
			assert.True(t, ds.Equal(f.Dataset))
		})
	}
}

func TestFileGroupLengthIsRecomputed(t *testing.T) {
	f := NewFile(sampleDataset(), ExplicitVRLittleEndian)
	// A stale group length must not survive re-encoding.
	f.Meta.Set(NewUint32Element(FileMetaInformationGroupLength, 4))
	data, err := f.Bytes()
	require.NoError(t, err)

	body, err := StripPart10Header(data)
	require.NoError(t, err)

	metaEnd := len(data) - len(body)
	assert.Equal(t, []byte{0x02, 0x00, 0x00, 0x00, 'U', 'L', 0x04, 0x00}, data[132:140])
	assert.Equal(t, uint32(metaEnd-144), binary.LittleEndian.Uint32(data[140:144]))
}

func TestReadFileMissingMagic(t *testing.T) {
	body, err := EncodeDataset(sampleDataset(), ExplicitVRLittleEndian, EncodeOptions{})
	require.NoError(t, err)

	_, err = ReadFile(body, ReadOptions{})
	require.Error(t, err)
	var fe *dicomerrors.FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, int64(PreambleLength), fe.Offset)

	f, err := ReadFile(body, ReadOptions{Tolerant: true, FallbackTransferSyntax: types.ExplicitVRLittleEndian})
	require.NoError(t, err)
	assert.True(t, sampleDataset().Equal(f.Dataset))
	assert.Zero(t, f.Meta.Len())
}

// headerOnly returns a preamble and magic followed by an explicit VR little
// endian meta group and body.
func headerOnly(t *testing.T, meta *Dataset) []byte {
	t.Helper()
	data := append(make([]byte, PreambleLength), []byte(Magic)...)
	if meta != nil {
		metaBytes, err := EncodeDataset(meta, ExplicitVRLittleEndian, EncodeOptions{})
		require.NoError(t, err)
		data = append(data, metaBytes...)
	}
	body, err := EncodeDataset(sampleDataset(), ExplicitVRLittleEndian, EncodeOptions{})
	require.NoError(t, err)
	return append(data, body...)
}

func TestReadFileMissingTransferSyntax(t *testing.T) {
	metaWithoutSyntax := NewDataset()
	metaWithoutSyntax.SetString(MediaStorageSOPClassUID, VR_UI, types.CTImageStorage)
	metaWithoutSyntax.SetString(MediaStorageSOPInstanceUID, VR_UI, "1.2.3.4.5")

	tests := []struct {
		name string
		meta *Dataset
	}{
		{"no meta group", nil},
		{"meta group without transfer syntax", metaWithoutSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := headerOnly(t, tt.meta)

			_, err := ReadFile(data, ReadOptions{})
			var fe *dicomerrors.FormatError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, int64(headerLength), fe.Offset)

			f, err := ReadFile(data, ReadOptions{FallbackTransferSyntax: types.ExplicitVRLittleEndian})
			require.NoError(t, err)
			assert.Equal(t, types.ExplicitVRLittleEndian, f.TransferSyntax.UID)
			assert.True(t, sampleDataset().Equal(f.Dataset))
		})
	}
}

func TestReadFileUnknownTransferSyntax(t *testing.T) {
	f := NewFile(sampleDataset(), ExplicitVRLittleEndian)
	f.TransferSyntax.UID = "1.2.3.999"
	data, err := f.Bytes()
	require.NoError(t, err)

	_, err = ReadFile(data, ReadOptions{})
	assert.ErrorIs(t, err, dicomerrors.ErrUnsupportedTransfer)
}

func TestReadFileStructuralErrorNotTolerated(t *testing.T) {
	data, err := NewFile(sampleDataset(), ExplicitVRLittleEndian).Bytes()
	require.NoError(t, err)
	truncated := data[:len(data)-3]

	_, err = ReadFile(truncated, ReadOptions{Tolerant: true})
	assert.ErrorIs(t, err, dicomerrors.ErrMalformed)
}

func TestStripPart10Header(t *testing.T) {
	ds := sampleDataset()
	data, err := NewFile(ds, ExplicitVRLittleEndian).Bytes()
	require.NoError(t, err)

	body, err := StripPart10Header(data)
	require.NoError(t, err)
	want, err := EncodeDataset(ds, ExplicitVRLittleEndian, EncodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, want, body)

	_, err = StripPart10Header([]byte("short"))
	assert.Error(t, err)
	_, err = StripPart10Header(make([]byte, 200))
	assert.Error(t, err)
}

func TestHasPart10Header(t *testing.T) {
	data := append(make([]byte, PreambleLength), []byte(Magic)...)
	assert.True(t, HasPart10Header(data))
	assert.False(t, HasPart10Header(data[:100]))
	assert.False(t, HasPart10Header(make([]byte, 200)))
}

func TestParseFromReader(t *testing.T) {
	data, err := NewFile(sampleDataset(), ExplicitVRLittleEndian).Bytes()
	require.NoError(t, err)

	f, err := Parse(bytes.NewReader(data), ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "PID-1", f.Dataset.GetString(PatientID))

	var buf bytes.Buffer
	n, err := f.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, data, buf.Bytes())
}
