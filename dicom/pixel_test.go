package dicom

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomkit/types"
)

func TestEncapsulateLargeFrame(t *testing.T) {
	frame := make([]byte, 200000)
	for i := range frame {
		frame[i] = byte(i)
	}
	ts, err := LookupTransferSyntax(types.JPEGBaseline8Bit)
	require.NoError(t, err)

	ds := NewDataset()
	ds.Set(NewPixelDataElement(EncapsulateFrames([][]byte{frame}, 0)))
	data, err := EncodeDataset(ds, ts, EncodeOptions{})
	require.NoError(t, err)

	// Header: tag, OB, reserved, undefined length.
	require.Equal(t, []byte{0xE0, 0x7F, 0x10, 0x00, 'O', 'B', 0, 0, 0xFF, 0xFF, 0xFF, 0xFF}, data[:12])

	// Offset table item first, then fragment items of even length.
	off := 12
	assert.Equal(t, []byte{0xFE, 0xFF, 0x00, 0xE0}, data[off:off+4])
	tableLen := binary.LittleEndian.Uint32(data[off+4:])
	assert.Equal(t, uint32(4), tableLen)
	off += 8 + int(tableLen)

	fragments := 0
	for {
		tag := binary.LittleEndian.Uint32(data[off:])
		length := binary.LittleEndian.Uint32(data[off+4:])
		if tag == 0xE0DDFFFE {
			break
		}
		assert.Equal(t, uint32(0xE000FFFE), tag)
		assert.Zero(t, length%2)
		fragments++
		off += 8 + int(length)
	}
	assert.GreaterOrEqual(t, fragments, 1)

	got, err := DecodeDataset(data, ts, DecodeOptions{})
	require.NoError(t, err)
	el, ok := got.Get(PixelData)
	require.True(t, ok)
	require.True(t, el.IsEncapsulated())
	assert.Equal(t, []uint32{0}, el.Fragments.OffsetTable)
	assert.Equal(t, fragments, len(el.Fragments.Fragments))

	decoded, err := el.Fragments.Frame(0)
	require.NoError(t, err)
	assert.Equal(t, frame, decoded)
}

func TestFrameLookupUsesOffsetTable(t *testing.T) {
	frames := [][]byte{
		[]byte("0123456789"),
		[]byte("abcdefg"),
		[]byte("ABCDEFGHIJKLMNOPQRST"),
	}
	p := EncapsulateFrames(frames, 8)

	assert.Equal(t, []uint32{0, 26, 42}, p.OffsetTable)
	assert.Len(t, p.Fragments, 6)
	for _, f := range p.Fragments {
		assert.Zero(t, len(f)%2)
	}
	require.Equal(t, 3, p.NumFrames())

	f0, err := p.Frame(0)
	require.NoError(t, err)
	assert.Equal(t, frames[0], f0)

	f1, err := p.Frame(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdefg\x00"), f1)

	f2, err := p.Frame(2)
	require.NoError(t, err)
	assert.Equal(t, frames[2], f2)

	_, err = p.Frame(3)
	assert.Error(t, err)
}

func TestFrameWithoutOffsetTable(t *testing.T) {
	p := &PixelPayload{Fragments: [][]byte{[]byte("ab"), []byte("cd")}}
	assert.Equal(t, 2, p.NumFrames())
	f, err := p.Frame(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("cd"), f)
}

func TestFrameRejectsBadOffset(t *testing.T) {
	p := &PixelPayload{OffsetTable: []uint32{0, 3}, Fragments: [][]byte{[]byte("ab"), []byte("cd")}}
	_, err := p.Frame(0)
	assert.Error(t, err)
}

func TestFrameConcurrentReaders(t *testing.T) {
	frames := [][]byte{[]byte("0123456789"), []byte("abcdef"), []byte("ABCDEFGHIJKL")}
	ts, err := LookupTransferSyntax(types.JPEGBaseline8Bit)
	require.NoError(t, err)

	ds := NewDataset()
	ds.Set(NewPixelDataElement(EncapsulateFrames(frames, 4)))
	data, err := EncodeDataset(ds, ts, EncodeOptions{})
	require.NoError(t, err)
	got, err := DecodeDataset(data, ts, DecodeOptions{})
	require.NoError(t, err)
	el, ok := got.Get(PixelData)
	require.True(t, ok)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range 50 {
				i := (g + n) % len(frames)
				f, err := el.Fragments.Frame(i)
				if assert.NoError(t, err) {
					assert.Equal(t, frames[i], f)
				}
			}
		}()
	}
	wg.Wait()
}

func TestReindexAfterEditingFragments(t *testing.T) {
	p := EncapsulateFrames([][]byte{[]byte("abcd"), []byte("ef")}, 0)
	require.Equal(t, []uint32{0, 12}, p.OffsetTable)

	p.Fragments = append(p.Fragments, []byte("gh"))
	p.OffsetTable = append(p.OffsetTable, 22)
	f, err := p.Frame(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("gh"), f)

	p.Fragments[0] = []byte("abcdwxyz")
	p.OffsetTable = []uint32{0, 16, 26}
	p.Reindex()
	f, err = p.Frame(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("ef"), f)
}
