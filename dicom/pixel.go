package dicom

import "fmt"

// itemHeaderLength is the tag and length preceding each fragment.
const itemHeaderLength = 8

// DefaultFragmentSize bounds the fragments built by EncapsulateFrames.
const DefaultFragmentSize = 1 << 16

// PixelPayload is encapsulated pixel data: an optional basic offset table
// and the fragments that follow it. Offsets are byte positions of each
// frame's first fragment item, measured from the first fragment item.
//
// The fragment index used by Frame is built when the payload is decoded or
// constructed. Callers that edit Fragments afterwards call Reindex.
type PixelPayload struct {
	OffsetTable []uint32
	Fragments   [][]byte

	starts map[uint32]int
}

// Equal compares offset tables and fragment bytes.
func (p *PixelPayload) Equal(o *PixelPayload) bool {
	if p == nil || o == nil {
		return p == o
	}
	if len(p.OffsetTable) != len(o.OffsetTable) || len(p.Fragments) != len(o.Fragments) {
		return false
	}
	for i := range p.OffsetTable {
		if p.OffsetTable[i] != o.OffsetTable[i] {
			return false
		}
	}
	for i := range p.Fragments {
		if string(p.Fragments[i]) != string(o.Fragments[i]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (p *PixelPayload) Clone() *PixelPayload {
	c := &PixelPayload{OffsetTable: append([]uint32(nil), p.OffsetTable...)}
	for _, f := range p.Fragments {
		c.Fragments = append(c.Fragments, append([]byte(nil), f...))
	}
	c.Reindex()
	return c
}

// NumFrames returns the frame count implied by the offset table. Without a
// table every fragment is treated as one frame.
func (p *PixelPayload) NumFrames() int {
	if len(p.OffsetTable) > 0 {
		return len(p.OffsetTable)
	}
	return len(p.Fragments)
}

// Reindex rebuilds the fragment position index. It must not run
// concurrently with Frame.
func (p *PixelPayload) Reindex() {
	p.starts = indexFragments(p.Fragments)
}

func indexFragments(fragments [][]byte) map[uint32]int {
	starts := make(map[uint32]int, len(fragments))
	var pos uint32
	for i, f := range fragments {
		starts[pos] = i
		pos += uint32(itemHeaderLength + len(f))
	}
	return starts
}

// fragmentStarts never writes to p, so Frame is safe for concurrent use. A
// payload built by hand without Reindex gets a throwaway index per call.
func (p *PixelPayload) fragmentStarts() map[uint32]int {
	if p.starts != nil && len(p.starts) == len(p.Fragments) {
		return p.starts
	}
	return indexFragments(p.Fragments)
}

// Frame returns the concatenated fragments of frame i. With an offset table
// the lookup does not scan earlier frames.
func (p *PixelPayload) Frame(i int) ([]byte, error) {
	if i < 0 || i >= p.NumFrames() {
		return nil, fmt.Errorf("dicom: frame %d out of range [0,%d)", i, p.NumFrames())
	}
	if len(p.OffsetTable) == 0 {
		return p.Fragments[i], nil
	}

	starts := p.fragmentStarts()
	first, ok := starts[p.OffsetTable[i]]
	if !ok {
		return nil, fmt.Errorf("dicom: offset %d of frame %d does not start a fragment", p.OffsetTable[i], i)
	}
	last := len(p.Fragments)
	if i+1 < len(p.OffsetTable) {
		next, ok := starts[p.OffsetTable[i+1]]
		if !ok {
			return nil, fmt.Errorf("dicom: offset %d of frame %d does not start a fragment", p.OffsetTable[i+1], i+1)
		}
		last = next
	}
	if last <= first {
		return nil, fmt.Errorf("dicom: frame %d has no fragments", i)
	}
	if last-first == 1 {
		return p.Fragments[first], nil
	}
	var out []byte
	for _, f := range p.Fragments[first:last] {
		out = append(out, f...)
	}
	return out, nil
}

// EncapsulateFrames splits each frame into even length fragments of at most
// maxFragment bytes and builds the matching offset table.
func EncapsulateFrames(frames [][]byte, maxFragment int) *PixelPayload {
	if maxFragment <= 0 {
		maxFragment = DefaultFragmentSize
	}
	maxFragment &^= 1
	if maxFragment == 0 {
		maxFragment = 2
	}

	p := &PixelPayload{}
	var pos uint32
	for _, frame := range frames {
		p.OffsetTable = append(p.OffsetTable, pos)
		frame = padEven(frame, 0x00)
		for len(frame) > 0 {
			n := min(len(frame), maxFragment)
			frag := append([]byte(nil), frame[:n]...)
			p.Fragments = append(p.Fragments, frag)
			pos += uint32(itemHeaderLength + n)
			frame = frame[n:]
		}
	}
	p.Reindex()
	return p
}
