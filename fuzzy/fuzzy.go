package fuzzy

import (
	"bufio"
	"fmt"
	"os"

	"github.com/glaslos/tlsh"
)

// Hasher computes TLSH similarity digests for files flagged by detection.
// TLSH needs a minimum amount of input to produce a stable digest, and very
// large files are skipped to keep the cascade cheap, so both bounds are
// enforced here.
type Hasher struct {
	MinSize int64
	MaxSize int64
}

func New(minSize, maxSize int64) *Hasher {
	return &Hasher{MinSize: minSize, MaxSize: maxSize}
}

// HashFile returns the TLSH digest of path, or empty without error when the
// file falls outside the size bounds.
func (h *Hasher) HashFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() < h.MinSize {
		return "", nil
	}
	if h.MaxSize > 0 && info.Size() > h.MaxSize {
		return "", nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash, err := tlsh.HashReader(bufio.NewReader(f))
	if err != nil {
		return "", fmt.Errorf("tlsh failed for %s: %v", path, err)
	}
	return hash.String(), nil
}
