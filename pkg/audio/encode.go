package audio

import "time"

// Clip is an immutable encoded recording: format metadata plus the
// concatenated PCM of its frames.
type Clip struct {
	Format Format
	PCM    []byte
}

// Encode concatenates frames in order and wraps them with format f. An empty
// frame list yields a zero-duration clip.
func Encode(frames []AudioFrame, f Format) *Clip {
	n := 0
	for _, fr := range frames {
		n += len(fr.Data)
	}
	pcm := make([]byte, 0, n)
	for _, fr := range frames {
		pcm = append(pcm, fr.Data...)
	}
	return &Clip{Format: f, PCM: pcm}
}

// Duration returns the playback length of the clip.
func (c *Clip) Duration() time.Duration {
	bps := c.Format.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(len(c.PCM)) * time.Second / time.Duration(bps)
}

// Empty reports whether the clip holds no samples.
func (c *Clip) Empty() bool { return len(c.PCM) < c.Format.SampleWidth*max(c.Format.Channels, 1) }

// Mono16k returns the clip down-mixed to mono and resampled to 16 kHz, the
// input format expected by whisper-family models.
func (c *Clip) Mono16k() *Clip {
	const rate = 16000
	pcm := c.PCM
	if c.Format.Channels == 2 {
		pcm = StereoToMono(pcm)
	}
	pcm = ResampleMono16(pcm, c.Format.SampleRate, rate)
	return &Clip{
		Format: Format{SampleRate: rate, Channels: 1, SampleWidth: 2, FrameSize: c.Format.FrameSize},
		PCM:    pcm,
	}
}
