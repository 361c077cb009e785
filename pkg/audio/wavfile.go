package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavFormatPCM is the WAVE format tag for linear PCM.
const wavFormatPCM = 1

// WriteFile writes the clip to path as a linear-PCM WAVE file, replacing any
// existing file.
func (c *Clip) WriteFile(path string) (err error) {
	if c.Format.SampleWidth != 2 {
		return fmt.Errorf("%w: sample width %d bytes", ErrUnsupportedFormat, c.Format.SampleWidth)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("audio: close %s: %w", path, cerr)
		}
	}()

	if err := c.encodeTo(f); err != nil {
		return fmt.Errorf("audio: %s: %w", path, err)
	}
	return nil
}

// WAV returns the clip as an in-memory linear-PCM RIFF/WAVE container. It
// returns nil for clips that are not 16-bit.
func (c *Clip) WAV() []byte {
	if c.Format.SampleWidth != 2 {
		return nil
	}
	var buf seekBuffer
	if err := c.encodeTo(&buf); err != nil {
		return nil
	}
	return buf.data
}

func (c *Clip) encodeTo(w io.WriteSeeker) error {
	enc := wav.NewEncoder(w, c.Format.SampleRate, 16, c.Format.Channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: c.Format.Channels,
			SampleRate:  c.Format.SampleRate,
		},
		Data:           pcmToInts(c.PCM),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	return nil
}

// seekBuffer is an in-memory [io.WriteSeeker]. The WAVE encoder seeks back
// to patch chunk sizes once the payload is written.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if end := b.pos + len(p); end > len(b.data) {
		b.data = append(b.data, make([]byte, end-len(b.data))...)
	}
	n := copy(b.data[b.pos:], p)
	b.pos += n
	return n, nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(b.pos)
	case io.SeekEnd:
		base = int64(len(b.data))
	default:
		return 0, fmt.Errorf("audio: seek: invalid whence %d", whence)
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("audio: seek: negative position")
	}
	b.pos = int(next)
	return next, nil
}

// LoadClip reads a 16-bit linear-PCM WAVE file. A missing file yields an
// error wrapping [os.ErrNotExist].
func LoadClip(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open %s: %w", path, err)
	}
	defer f.Close()

	c, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("audio: load %s: %w", path, err)
	}
	return c, nil
}

// DecodeWAV parses an in-memory WAVE container.
func DecodeWAV(data []byte) (*Clip, error) {
	c, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("audio: decode wav: %w", err)
	}
	return c, nil
}

func decode(r io.ReadSeeker) (*Clip, error) {
	d := wav.NewDecoder(r)
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return nil, err
	}
	if d.SampleRate == 0 || d.NumChans == 0 {
		return nil, errors.New("not a WAVE file")
	}
	if d.WavAudioFormat != wavFormatPCM || d.BitDepth != 16 {
		return nil, fmt.Errorf("%w: format tag %d, %d-bit", ErrUnsupportedFormat, d.WavAudioFormat, d.BitDepth)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	return &Clip{
		Format: Format{
			SampleRate:  int(d.SampleRate),
			Channels:    int(d.NumChans),
			SampleWidth: 2,
			FrameSize:   DefaultFormat.FrameSize,
		},
		PCM: intsToPCM(buf.Data),
	}, nil
}

func pcmToInts(pcm []byte) []int {
	out := make([]int, len(pcm)/2)
	for i := range out {
		out[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

func intsToPCM(samples []int) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}
