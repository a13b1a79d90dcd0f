// Package audio implements the WAV handling behind podcast assembly:
// decoding and encoding mono PCM16 files, segment file naming, atomic file
// replacement and the Assembler that stitches segments together.
package audio

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

const (
	// HeaderSize is the size of a canonical RIFF/WAVE header.
	HeaderSize = 44

	// SampleRate is the rate the speech service renders at.
	SampleRate = 16000

	// BitsPerSample is the PCM bit depth.
	BitsPerSample = 16

	// Channels is the channel count (mono).
	Channels = 1

	// ContentType is the MIME type used when serving or uploading WAV files.
	ContentType = "audio/wav"
)

const pcmFormatTag = 1

// ErrInvalidWAV indicates the input is not a PCM16 RIFF/WAVE stream.
var ErrInvalidWAV = errors.New("invalid wav data")

// Format describes the PCM layout of a WAV stream.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultFormat is the layout produced by the speech service.
var DefaultFormat = Format{SampleRate: SampleRate, Channels: Channels, BitsPerSample: BitsPerSample}

// BlockAlign returns the size in bytes of one frame.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// ByteRate returns the number of PCM bytes per second.
func (f Format) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// Duration returns the playback length in seconds of n PCM bytes.
func (f Format) Duration(n int) float64 {
	if f.ByteRate() == 0 {
		return 0
	}
	return float64(n) / float64(f.ByteRate())
}

// DurationFromSize derives the duration of a mono 16-bit 16 kHz WAV payload
// from its total byte length. The container is not parsed: the result is
// only correct for canonical 44-byte headers at the default format.
func DurationFromSize(n int) float64 {
	if n < HeaderSize {
		return 0
	}
	samples := (n - HeaderSize) / 2
	return float64(samples) / float64(SampleRate)
}

// Decode parses a RIFF/WAVE stream and returns its format and PCM payload.
//
// Non-audio chunks (LIST, fact, ...) are skipped. A data chunk whose declared
// size overruns the buffer, or is zero with no chunk header after it, is
// treated as running to the end of the stream, which is how streaming encoders
// write unknown lengths.
func Decode(r io.Reader) (Format, []byte, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return Format{}, nil, errors.Wrap(err, "read wav")
	}
	return decode(b)
}

func decode(b []byte) (Format, []byte, error) {
	if len(b) < 12 || !bytes.Equal(b[0:4], []byte("RIFF")) || !bytes.Equal(b[8:12], []byte("WAVE")) {
		return Format{}, nil, errors.Wrap(ErrInvalidWAV, "missing RIFF/WAVE header")
	}

	var (
		format  Format
		haveFmt bool
	)
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(b) {
				return Format{}, nil, errors.Wrap(ErrInvalidWAV, "short fmt chunk")
			}
			tag := binary.LittleEndian.Uint16(b[body : body+2])
			format = Format{
				Channels:      int(binary.LittleEndian.Uint16(b[body+2 : body+4])),
				SampleRate:    int(binary.LittleEndian.Uint32(b[body+4 : body+8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(b[body+14 : body+16])),
			}
			if tag != pcmFormatTag && tag != 0xFFFE {
				return Format{}, nil, errors.Wrapf(ErrInvalidWAV, "unsupported format tag %d", tag)
			}
			if format.BitsPerSample != BitsPerSample || format.Channels < 1 {
				return Format{}, nil, errors.Wrapf(ErrInvalidWAV, "unsupported layout %d-bit/%d channels", format.BitsPerSample, format.Channels)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return Format{}, nil, errors.Wrap(ErrInvalidWAV, "data chunk before fmt chunk")
			}
			end := body + size
			if end > len(b) || (size == 0 && !chunkHeaderAt(b, body)) {
				end = len(b)
			}
			pcm := b[body:end]
			pcm = pcm[:len(pcm)-len(pcm)%format.BlockAlign()]
			return format, pcm, nil
		}

		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	return Format{}, nil, errors.Wrap(ErrInvalidWAV, "no data chunk")
}

// chunkHeaderAt reports whether b holds a plausible chunk header at off: a
// printable ASCII id and a size that fits in the buffer.
func chunkHeaderAt(b []byte, off int) bool {
	if off+8 > len(b) {
		return false
	}
	for _, c := range b[off : off+4] {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
	return off+8+size <= len(b)
}

// Encode writes a canonical 44-byte header followed by pcm.
func Encode(w io.Writer, f Format, pcm []byte) error {
	hdr := make([]byte, HeaderSize)
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+len(pcm)))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], pcmFormatTag)
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(f.ByteRate()))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(f.BlockAlign()))
	binary.LittleEndian.PutUint16(hdr[34:36], uint16(f.BitsPerSample))
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(len(pcm)))

	if _, err := w.Write(hdr); err != nil {
		return errors.Wrap(err, "write wav header")
	}
	if _, err := w.Write(pcm); err != nil {
		return errors.Wrap(err, "write wav data")
	}
	return nil
}

// EncodeBytes returns f/pcm as a complete WAV file image.
func EncodeBytes(f Format, pcm []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(pcm))
	_ = Encode(&buf, f, pcm)
	return buf.Bytes()
}

// ReadFile decodes the WAV file at path.
func ReadFile(path string) (Format, []byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Format{}, nil, errors.Wrapf(err, "read %s", path)
	}
	f, pcm, err := decode(b)
	if err != nil {
		return Format{}, nil, errors.Wrapf(err, "decode %s", filepath.Base(path))
	}
	return f, pcm, nil
}

// WriteFile encodes pcm and atomically replaces path with it.
func WriteFile(path string, f Format, pcm []byte) error {
	return WriteFileAtomic(path, EncodeBytes(f, pcm))
}

// WriteFileAtomic writes data to a temp file next to path and renames it into
// place, so concurrent readers see either the old file or the new one.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "create output dir")
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "rename into place")
	}
	return nil
}

// FileInfo summarizes a WAV file on disk.
type FileInfo struct {
	Duration    float64 `json:"duration"`
	Channels    int     `json:"channels"`
	SampleWidth int     `json:"sample_width"`
	FrameRate   int     `json:"frame_rate"`
	FileSize    int64   `json:"file_size"`
}

// Info decodes path and reports its layout, duration and size.
func Info(path string) (*FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "stat audio file")
	}
	f, pcm, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &FileInfo{
		Duration:    f.Duration(len(pcm)),
		Channels:    f.Channels,
		SampleWidth: f.BitsPerSample / 8,
		FrameRate:   f.SampleRate,
		FileSize:    st.Size(),
	}, nil
}
