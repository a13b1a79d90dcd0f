package audio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSegment writes a segment file of the given length in seconds and
// returns its Segment description.
func writeSegment(t *testing.T, dir string, index int, speaker string, seconds float64, amp int16) Segment {
	t.Helper()
	path := filepath.Join(dir, SegmentFileName(index, speaker))
	n := int(seconds * SampleRate)
	require.NoError(t, WriteFile(path, DefaultFormat, tone(n, amp)))
	return Segment{
		Index:    index,
		Speaker:  speaker,
		Text:     "line",
		Path:     path,
		Duration: seconds,
	}
}

func TestCombine_DurationAndTimings(t *testing.T) {
	dir := t.TempDir()
	durations := []float64{1.0, 0.5, 2.0, 0.25, 1.5, 0.75}
	speakers := []string{"sarah", "theo"}

	var segs []Segment
	var sum float64
	for i, d := range durations {
		segs = append(segs, writeSegment(t, dir, i, speakers[i%2], d, 1000))
		sum += d
	}

	out := filepath.Join(dir, "podcast.wav")
	a := NewAssembler()
	res, err := a.Combine(segs, out)
	require.NoError(t, err)

	assert.Equal(t, len(segs), res.SegmentCount)
	assert.InDelta(t, sum+float64(len(segs)-1)*0.5, res.Duration, 1e-9)
	require.Len(t, res.Timings, len(segs))

	var start float64
	for i, tm := range res.Timings {
		assert.InDelta(t, start, tm.Start, 1e-9, "timing %d", i)
		assert.InDelta(t, durations[i], tm.Duration, 1e-9)
		assert.Equal(t, speakers[i%2], tm.Speaker)
		start += durations[i] + 0.5
	}

	info, err := Info(out)
	require.NoError(t, err)
	assert.InDelta(t, res.Duration, info.Duration, 1e-9)
	assert.Equal(t, res.FileSize, info.FileSize)
}

func TestCombine_SingleSegmentHasNoPause(t *testing.T) {
	dir := t.TempDir()
	seg := writeSegment(t, dir, 0, "sarah", 1.0, 500)

	res, err := NewAssembler().Combine([]Segment{seg}, filepath.Join(dir, "out.wav"))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Duration, 1e-9)
}

func TestCombine_Empty(t *testing.T) {
	_, err := NewAssembler().Combine(nil, filepath.Join(t.TempDir(), "out.wav"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestCombine_CustomPause(t *testing.T) {
	dir := t.TempDir()
	segs := []Segment{
		writeSegment(t, dir, 0, "sarah", 1.0, 500),
		writeSegment(t, dir, 1, "theo", 1.0, 500),
	}
	res, err := NewAssembler(WithPause(250*time.Millisecond)).Combine(segs, filepath.Join(dir, "out.wav"))
	require.NoError(t, err)
	assert.InDelta(t, 2.25, res.Duration, 1e-9)
}

func TestCombine_MissingFile(t *testing.T) {
	seg := Segment{Index: 0, Speaker: "sarah", Path: filepath.Join(t.TempDir(), "missing.wav")}
	_, err := NewAssembler().Combine([]Segment{seg}, filepath.Join(t.TempDir(), "out.wav"))
	require.Error(t, err)
}

func TestCombineFromDirectory_Empty(t *testing.T) {
	dir := t.TempDir()
	ok, err := NewAssembler().CombineFromDirectory(dir, filepath.Join(dir, "partial.wav"), 0)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = NewAssembler().CombineFromDirectory(filepath.Join(dir, "absent"), filepath.Join(dir, "partial.wav"), 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCombineFromDirectory_MaxSegments(t *testing.T) {
	dir := t.TempDir()
	// Written out of order on purpose.
	writeSegment(t, dir, 2, "sarah", 1.0, 300)
	writeSegment(t, dir, 0, "sarah", 1.0, 300)
	writeSegment(t, dir, 1, "theo", 1.0, 300)

	out := filepath.Join(dir, "partial.wav")
	a := NewAssembler()

	ok, err := a.CombineFromDirectory(dir, out, 2)
	require.NoError(t, err)
	require.True(t, ok)
	info, err := Info(out)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, info.Duration, 1e-9)

	ok, err = a.CombineFromDirectory(dir, out, 0)
	require.NoError(t, err)
	require.True(t, ok)
	info, err = Info(out)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, info.Duration, 1e-9)
}

func TestListSegments_Order(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		SegmentFileName(10, "theo"),
		SegmentFileName(2, "sarah"),
		SegmentFileName(0, "sarah"),
		"podcast_x_partial.wav",
		"notes.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	got, err := ListSegments(dir)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "segment_000_sarah.wav", filepath.Base(got[0]))
	assert.Equal(t, "segment_002_sarah.wav", filepath.Base(got[1]))
	assert.Equal(t, "segment_010_theo.wav", filepath.Base(got[2]))
}

func TestParseSegmentIndex(t *testing.T) {
	tests := []struct {
		name string
		want int
		ok   bool
	}{
		{"segment_000_sarah.wav", 0, true},
		{"segment_042_theo.wav", 42, true},
		{"/tmp/job/segment_1234_theo.wav", 1234, true},
		{"segment_abc_theo.wav", 0, false},
		{"podcast.wav", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseSegmentIndex(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quiet.wav")
	require.NoError(t, WriteFile(path, DefaultFormat, tone(1600, 2000)))

	a := NewAssembler()
	require.NoError(t, a.Normalize(path))

	_, first, err := ReadFile(path)
	require.NoError(t, err)
	peak := peakAmplitude(first)
	assert.Greater(t, peak, 32000)

	for i := 0; i < 3; i++ {
		require.NoError(t, a.Normalize(path))
	}
	_, again, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestNormalize_Silence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "silent.wav")
	pcm := make([]byte, 3200)
	require.NoError(t, WriteFile(path, DefaultFormat, pcm))

	require.NoError(t, NewAssembler().Normalize(path))
	_, got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pcm, got)
}
