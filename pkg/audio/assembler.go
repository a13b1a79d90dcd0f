package audio

import (
	"encoding/binary"
	"math"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// DefaultPause is the silence inserted between consecutive segments.
const DefaultPause = 500 * time.Millisecond

// DefaultHeadroomDB is how far below full scale Normalize places the peak.
const DefaultHeadroomDB = 0.1

// gainTolerance is the relative gain below which Normalize leaves a file as is.
const gainTolerance = 1e-3

// ErrEmptyInput is returned by Combine when there is nothing to combine.
var ErrEmptyInput = errors.New("no audio segments to combine")

// Timing locates one segment inside a combined file.
type Timing struct {
	Speaker  string  `json:"speaker"`
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// Combined describes the output of one Combine pass.
type Combined struct {
	Path         string   `json:"filepath"`
	Duration     float64  `json:"duration"`
	FileSize     int64    `json:"file_size"`
	SegmentCount int      `json:"segment_count"`
	Timings      []Timing `json:"timings"`
}

// Assembler concatenates segment files with pauses between speakers.
type Assembler struct {
	pause      time.Duration
	headroomDB float64
	logger     *zap.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithPause overrides the inter-segment pause.
func WithPause(d time.Duration) Option {
	return func(a *Assembler) {
		if d >= 0 {
			a.pause = d
		}
	}
}

// WithHeadroom sets the normalization target in dB below full scale.
func WithHeadroom(db float64) Option {
	return func(a *Assembler) {
		if db >= 0 {
			a.headroomDB = db
		}
	}
}

// WithLogger sets the assembler logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAssembler returns an Assembler with the default 500ms pause.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{
		pause:      DefaultPause,
		headroomDB: DefaultHeadroomDB,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Pause returns the configured inter-segment pause.
func (a *Assembler) Pause() time.Duration {
	return a.pause
}

// Combine concatenates segments in the given order into outputPath and
// returns the timing table. Segment i starts after all earlier segments and
// the pauses between them; no pause follows the last segment.
func (a *Assembler) Combine(segments []Segment, outputPath string) (*Combined, error) {
	if len(segments) == 0 {
		return nil, ErrEmptyInput
	}

	var (
		format  Format
		pcm     []byte
		total   float64
		timings = make([]Timing, 0, len(segments))
	)
	for i, seg := range segments {
		f, data, err := ReadFile(seg.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "combine segment %d", seg.Index)
		}
		if i == 0 {
			format = f
		} else if f != format {
			return nil, errors.Newf("segment %d format %+v differs from %+v", seg.Index, f, format)
		}

		d := f.Duration(len(data))
		timings = append(timings, Timing{
			Speaker:  seg.Speaker,
			Text:     seg.Text,
			Start:    total,
			Duration: d,
		})

		pcm = append(pcm, data...)
		total += d
		if i < len(segments)-1 {
			pcm = append(pcm, a.silence(format)...)
			total += a.pause.Seconds()
		}
	}

	if err := WriteFile(outputPath, format, pcm); err != nil {
		return nil, errors.Wrap(err, "write combined audio")
	}
	st, err := os.Stat(outputPath)
	if err != nil {
		return nil, errors.Wrap(err, "stat combined audio")
	}

	return &Combined{
		Path:         outputPath,
		Duration:     total,
		FileSize:     st.Size(),
		SegmentCount: len(segments),
		Timings:      timings,
	}, nil
}

// CombineFromDirectory concatenates the segment files currently present in
// dir, in index order, into outputPath. When maxSegments > 0 only the first
// maxSegments files are used. It returns false with a nil error when no
// segment files exist yet.
func (a *Assembler) CombineFromDirectory(dir, outputPath string, maxSegments int) (bool, error) {
	files, err := ListSegments(dir)
	if err != nil {
		return false, err
	}
	if len(files) == 0 {
		return false, nil
	}
	if maxSegments > 0 && len(files) > maxSegments {
		files = files[:maxSegments]
	}

	var (
		format Format
		pcm    []byte
	)
	for i, path := range files {
		f, data, err := ReadFile(path)
		if err != nil {
			return false, err
		}
		if i == 0 {
			format = f
		} else if f != format {
			return false, errors.Newf("%s format %+v differs from %+v", path, f, format)
		}
		pcm = append(pcm, data...)
		if i < len(files)-1 {
			pcm = append(pcm, a.silence(format)...)
		}
	}

	if err := WriteFile(outputPath, format, pcm); err != nil {
		return false, errors.Wrap(err, "write partial audio")
	}
	a.logger.Debug("Rebuilt audio from directory",
		zap.String("dir", dir),
		zap.Int("segments", len(files)))
	return true, nil
}

// Normalize scales the file at path so its peak sits at the configured
// headroom below full scale. Silent files and files already at the target
// level are left untouched, so repeated calls converge.
func (a *Assembler) Normalize(path string) error {
	f, pcm, err := ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "normalize")
	}

	peak := peakAmplitude(pcm)
	if peak == 0 {
		return nil
	}

	target := math.MaxInt16 * math.Pow(10, -a.headroomDB/20)
	gain := target / float64(peak)
	if math.Abs(gain-1) < gainTolerance {
		return nil
	}

	applyGain(pcm, gain)
	if err := WriteFile(path, f, pcm); err != nil {
		return errors.Wrap(err, "write normalized audio")
	}
	a.logger.Debug("Normalized audio",
		zap.String("path", path),
		zap.Float64("gain", gain))
	return nil
}

func (a *Assembler) silence(f Format) []byte {
	frames := int(math.Round(a.pause.Seconds() * float64(f.SampleRate)))
	return make([]byte, frames*f.BlockAlign())
}

func peakAmplitude(pcm []byte) int {
	peak := 0
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int(int16(binary.LittleEndian.Uint16(pcm[i:])))
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

func applyGain(pcm []byte, gain float64) {
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i:])))
		v := math.Round(s * gain)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(v)))
	}
}
