package iddag

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/revgraph/revgraph/pkg/types"

	"github.com/klauspost/compress/zstd"
)

// blob is the durable form of a dag. Layers carry ranges only; the
// branch-children index is rebuilt on decode.
type blob struct {
	Next   types.Vertex
	Flat   []Segment
	Layers [][]Segment
}

// Encode serializes the dag into a compressed blob for durable storage.
func Encode(d *IdDag) ([]byte, error) {
	b := blob{Next: d.next}
	for _, s := range d.flat {
		b.Flat = append(b.Flat, *s)
	}
	for _, layer := range d.layers {
		var l []Segment
		for _, s := range layer {
			l = append(l, *s)
		}
		b.Layers = append(b.Layers, l)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, fmt.Errorf("encode dag: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(buf.Bytes(), nil), nil
}

// Decode restores a dag from a blob, rejecting anything that fails the
// segment invariants with ErrCorruption.
func Decode(data []byte) (*IdDag, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress dag blob: %v: %w", err, types.ErrCorruption)
	}

	var b blob
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode dag blob: %v: %w", err, types.ErrCorruption)
	}

	d := &IdDag{next: b.Next}
	for i := range b.Flat {
		d.flat = append(d.flat, &b.Flat[i])
	}
	for _, layer := range b.Layers {
		var l []*Segment
		for i := range layer {
			l = append(l, &layer[i])
		}
		d.layers = append(d.layers, l)
	}

	if err := d.validate(); err != nil {
		return nil, err
	}
	d.indexBranchChildren()
	return d, nil
}

// validate checks the flat-cover invariant: segments are contiguous,
// non-overlapping, span exactly [0, next), and parents point below their
// segment.
func (d *IdDag) validate() error {
	if d.next == 0 {
		if len(d.flat) != 0 || len(d.layers) != 0 {
			return fmt.Errorf("empty dag with segments: %w", types.ErrCorruption)
		}
		return nil
	}
	if len(d.flat) == 0 {
		return fmt.Errorf("dag spanning %d vertices without flat segments: %w", d.next, types.ErrCorruption)
	}

	expect := types.Vertex(0)
	for _, seg := range d.flat {
		if seg.Low != expect || seg.High <= seg.Low {
			return fmt.Errorf("flat segment [%d, %d) breaks cover at %d: %w", seg.Low, seg.High, expect, types.ErrCorruption)
		}
		for _, p := range seg.Parents {
			if p >= seg.Low {
				return fmt.Errorf("segment [%d, %d) has internal parent %d: %w", seg.Low, seg.High, p, types.ErrCorruption)
			}
		}
		expect = seg.High
	}
	if expect != d.next {
		return fmt.Errorf("flat segments end at %d, want %d: %w", expect, d.next, types.ErrCorruption)
	}

	for _, layer := range d.layers {
		for _, seg := range layer {
			if seg.High <= seg.Low || seg.High > d.next {
				return fmt.Errorf("high-level segment [%d, %d) out of bounds: %w", seg.Low, seg.High, types.ErrCorruption)
			}
			for _, p := range seg.Parents {
				if p >= seg.Low {
					return fmt.Errorf("high-level segment [%d, %d) has internal parent %d: %w", seg.Low, seg.High, p, types.ErrCorruption)
				}
			}
		}
	}
	return nil
}
