package allowlist

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"filewarden/logger"

	"github.com/FastFilter/xorfilter"
	"github.com/cespare/xxhash/v2"
)

// Allowlist short-circuits detection for known-good content hashes. The
// on-disk format is one lower-case hex digest per line; blank lines and
// #-comments are ignored. Lookups go through an xor filter, so membership is
// approximate with a small false-positive rate, acceptable because a hit only
// skips scanning, never flags a file.
type Allowlist struct {
	filter *xorfilter.Xor8
	size   int
}

// Load builds an Allowlist from a hash file. An empty or missing list is an
// error; callers treat "no allowlist" by passing an empty path upstream.
func Load(path string) (*Allowlist, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open allowlist: %v", err)
	}
	defer file.Close()

	seen := make(map[uint64]struct{})
	keys := make([]uint64, 0, 1024)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key := hashKey(line)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("could not read allowlist: %v", err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("allowlist %s contains no hashes", path)
	}

	filter, err := xorfilter.Populate(keys)
	if err != nil {
		return nil, fmt.Errorf("could not build allowlist filter: %v", err)
	}
	logger.Debugf("Loaded allowlist with %d hashes from %s", len(keys), path)
	return &Allowlist{filter: filter, size: len(keys)}, nil
}

// Contains reports whether a content hash is allowlisted. A nil receiver
// always reports false so callers need no guard.
func (a *Allowlist) Contains(hash string) bool {
	if a == nil || hash == "" {
		return false
	}
	return a.filter.Contains(hashKey(hash))
}

// Size returns the number of distinct hashes loaded.
func (a *Allowlist) Size() int {
	if a == nil {
		return 0
	}
	return a.size
}

func hashKey(hash string) uint64 {
	return xxhash.Sum64String(strings.ToLower(hash))
}
