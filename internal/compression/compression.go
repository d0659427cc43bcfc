package compression

import (
	"fmt"

	"github.com/golang/snappy"
)

// Gate decides whether content is large enough to be compressed and
// performs the reversible transform. Whether stored content is compressed
// is always recorded next to it; Decompress is never applied by guessing.
type Gate struct {
	Threshold int
}

func NewGate(threshold int) Gate {
	return Gate{Threshold: threshold}
}

// ShouldCompress reports whether content exceeds the threshold.
func (g Gate) ShouldCompress(content []byte) bool {
	return len(content) > g.Threshold
}

func (g Gate) Compress(content []byte) ([]byte, error) {
	return snappy.Encode(nil, content), nil
}

func (g Gate) Decompress(content []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, content)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	return out, nil
}

// Apply compresses content when it crosses the threshold and reports
// whether it did.
func (g Gate) Apply(content []byte) ([]byte, bool, error) {
	if !g.ShouldCompress(content) {
		return content, false, nil
	}
	out, err := g.Compress(content)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Restore undoes Apply given the persisted compressed flag.
func (g Gate) Restore(content []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return content, nil
	}
	return g.Decompress(content)
}
