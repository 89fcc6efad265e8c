package vector

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"
)

// WriteNPY writes vectors as a NumPy v1.0 array file: dtype <f4, C order,
// shape (rows, dim). The file stays readable by numpy tooling alongside
// the native index.
func WriteNPY(path string, vectors [][]float32, dim int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create npy: %w", err)
	}
	defer f.Close()

	headerDict := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", len(vectors), dim)
	// Magic (6) + version (2) + header length (2) + header must be a
	// multiple of 64, header terminated by newline.
	base := 6 + 2 + 2
	total := base + len(headerDict) + 1
	pad := (64 - total%64) % 64
	header := headerDict + strings.Repeat(" ", pad) + "\n"

	if _, err := f.Write([]byte("\x93NUMPY\x01\x00")); err != nil {
		return fmt.Errorf("write npy magic: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint16(len(header))); err != nil {
		return fmt.Errorf("write npy header length: %w", err)
	}
	if _, err := f.Write([]byte(header)); err != nil {
		return fmt.Errorf("write npy header: %w", err)
	}

	buf := make([]byte, 4*dim)
	for _, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("row dimension %d, want %d", len(v), dim)
		}
		for i, x := range v {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
		}
		if _, err := f.Write(buf); err != nil {
			return fmt.Errorf("write npy rows: %w", err)
		}
	}
	return nil
}
