// Package vector builds and queries the scene embedding index. The index
// is exact brute-force L2 over a row-major float32 matrix, persisted next
// to a NumPy copy of the embeddings and a JSONL metadata sidecar; ordinal
// position ties the three files together.
package vector

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
)

// indexMagic identifies the on-disk index format. The file keeps the
// name external tooling expects, but the layout is this package's own.
var indexMagic = [4]byte{'M', 'F', 'V', '1'}

// FlatIndex is an exact L2 nearest-neighbor index.
type FlatIndex struct {
	dim     int
	vectors [][]float32
}

// NewFlatIndex creates an empty index for vectors of the given dimension.
func NewFlatIndex(dim int) *FlatIndex {
	return &FlatIndex{dim: dim}
}

// Dim returns the vector dimension.
func (idx *FlatIndex) Dim() int { return idx.dim }

// Len returns the number of indexed vectors.
func (idx *FlatIndex) Len() int { return len(idx.vectors) }

// Add appends a vector. Its ordinal id is its insertion position.
func (idx *FlatIndex) Add(v []float32) error {
	if len(v) != idx.dim {
		return fmt.Errorf("vector dimension %d, index wants %d", len(v), idx.dim)
	}
	idx.vectors = append(idx.vectors, v)
	return nil
}

// Vectors returns the raw matrix in insertion order.
func (idx *FlatIndex) Vectors() [][]float32 { return idx.vectors }

// Hit is one search result.
type Hit struct {
	Ordinal  int
	Distance float32
}

// Search returns the k nearest vectors to query by squared L2 distance,
// nearest first. Ties break on the lower ordinal.
func (idx *FlatIndex) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != idx.dim {
		return nil, fmt.Errorf("query dimension %d, index wants %d", len(query), idx.dim)
	}
	if k <= 0 || idx.Len() == 0 {
		return nil, nil
	}

	hits := make([]Hit, 0, idx.Len())
	for i, v := range idx.vectors {
		hits = append(hits, Hit{Ordinal: i, Distance: l2Squared(query, v)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Ordinal < hits[j].Ordinal
	})

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

func l2Squared(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Save writes the index: magic, dimension, count, then the matrix as
// little-endian float32 rows.
func (idx *FlatIndex) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(indexMagic[:]); err != nil {
		return fmt.Errorf("write index header: %w", err)
	}
	header := []uint32{uint32(idx.dim), uint32(len(idx.vectors))}
	if err := binary.Write(f, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write index header: %w", err)
	}

	buf := make([]byte, 4*idx.dim)
	for _, v := range idx.vectors {
		for i, x := range v {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
		}
		if _, err := f.Write(buf); err != nil {
			return fmt.Errorf("write index rows: %w", err)
		}
	}
	return nil
}

// LoadIndex reads an index written by Save.
func LoadIndex(path string) (*FlatIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return nil, fmt.Errorf("read index header: %w", err)
	}
	if magic != indexMagic {
		return nil, fmt.Errorf("not an index file: %s", path)
	}

	var header [2]uint32
	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read index header: %w", err)
	}
	dim, count := int(header[0]), int(header[1])
	if dim <= 0 {
		return nil, fmt.Errorf("index has invalid dimension %d", dim)
	}

	idx := NewFlatIndex(dim)
	buf := make([]byte, 4*dim)
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(f, buf); err != nil {
			return nil, fmt.Errorf("read index row %d: %w", i, err)
		}
		v := make([]float32, dim)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*j:]))
		}
		idx.vectors = append(idx.vectors, v)
	}
	return idx, nil
}
