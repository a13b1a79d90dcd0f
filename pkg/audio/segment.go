package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cockroachdb/errors"
)

// SegmentPattern matches segment files written by the dispatcher.
const SegmentPattern = "segment_*.wav"

// Segment is one synthesized dialogue line on disk.
type Segment struct {
	// Index is the 0-based position in the script and the ordering key.
	Index    int     `json:"index"`
	Speaker  string  `json:"speaker"`
	Text     string  `json:"text"`
	Path     string  `json:"filepath"`
	Duration float64 `json:"duration"`
}

// SegmentFileName returns the file name for a segment. The index is zero
// padded so lexicographic order matches script order.
func SegmentFileName(index int, speaker string) string {
	return fmt.Sprintf("segment_%03d_%s.wav", index, speaker)
}

// ParseSegmentIndex extracts the index encoded by SegmentFileName.
func ParseSegmentIndex(name string) (int, bool) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, "segment_") || !strings.HasSuffix(base, ".wav") {
		return 0, false
	}
	rest := strings.TrimPrefix(base, "segment_")
	digits, _, ok := strings.Cut(rest, "_")
	if !ok {
		digits = strings.TrimSuffix(rest, ".wav")
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ListSegments returns the segment files in dir ordered by encoded index.
// A missing directory yields an empty list.
func ListSegments(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "stat segment dir")
	}

	matches, err := doublestar.Glob(os.DirFS(dir), SegmentPattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, errors.Wrap(err, "glob segments")
	}

	type entry struct {
		index int
		name  string
	}
	entries := make([]entry, 0, len(matches))
	for _, m := range matches {
		idx, ok := ParseSegmentIndex(m)
		if !ok {
			continue
		}
		entries = append(entries, entry{index: idx, name: m})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].index != entries[j].index {
			return entries[i].index < entries[j].index
		}
		return entries[i].name < entries[j].name
	})

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, filepath.Join(dir, e.name))
	}
	return out, nil
}
