// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// live WebSocket API. It implements the stt.Provider interface.
//
// A clip is streamed as linear16 binary messages followed by a CloseStream
// control message; the provider then collects every final result until
// Deepgram sends its Metadata summary and closes the socket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"
	defaultTimeout   = 30 * time.Second

	// sendChunk is the audio span carried by one binary message.
	sendChunk = 100 * time.Millisecond
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the WebSocket endpoint. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithTimeout bounds one full transcription round trip.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// WithCalibrationWindow sets the leading span used for noise-floor
// calibration.
func WithCalibrationWindow(d time.Duration) Option {
	return func(p *Provider) {
		p.calibration = d
	}
}

// Provider implements stt.Provider backed by the Deepgram live API. Each call
// opens its own connection.
type Provider struct {
	apiKey      string
	model       string
	language    string
	endpoint    string
	timeout     time.Duration
	calibration time.Duration
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:      apiKey,
		model:       defaultModel,
		language:    defaultLanguage,
		endpoint:    deepgramEndpoint,
		timeout:     defaultTimeout,
		calibration: stt.DefaultCalibrationWindow,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, clip *audio.Clip, opts stt.Options) (stt.Transcript, error) {
	speech, _, err := stt.PrepareClip(clip, p.calibration)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: %w", err)
	}

	wsURL, err := p.buildURL(speech.Format, opts)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w: %w", stt.ErrServiceUnavailable, err)
	}
	defer conn.CloseNow()

	var res result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return send(gctx, conn, speech) })
	g.Go(func() error { return res.receive(gctx, conn) })
	if err := g.Wait(); err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: %w: %w", stt.ErrServiceUnavailable, err)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")

	t := res.transcript()
	if t.Text == "" {
		return stt.Transcript{}, fmt.Errorf("deepgram: empty result: %w", stt.ErrUnintelligible)
	}
	t.Duration = speech.Duration()
	return t, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for a clip format.
func (p *Provider) buildURL(f audio.Format, opts stt.Options) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(f.SampleRate))
	q.Set("channels", strconv.Itoa(max(f.Channels, 1)))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// send streams the clip PCM and then asks Deepgram to flush.
func send(ctx context.Context, conn *websocket.Conn, clip *audio.Clip) error {
	size := clip.Format.BytesPerSecond() * int(sendChunk/time.Millisecond) / 1000
	if size <= 0 {
		size = len(clip.PCM)
	}
	for off := 0; off < len(clip.PCM); off += size {
		chunk := clip.PCM[off:min(off+size, len(clip.PCM))]
		if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			return fmt.Errorf("write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("write CloseStream: %w", err)
	}
	return nil
}

// deepgramResponse is the JSON structure returned by Deepgram for Results and
// Metadata events.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// result accumulates final segments. It is written only by receive.
type result struct {
	segments   []string
	confidence float64
	words      []stt.WordDetail
}

// receive reads until Deepgram's Metadata message or a normal close.
func (r *result) receive(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		switch resp.Type {
		case "Metadata":
			return nil
		case "Results":
			r.add(resp)
		}
	}
}

func (r *result) add(resp deepgramResponse) {
	if !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
		return
	}
	alt := resp.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return
	}
	r.segments = append(r.segments, text)
	r.confidence += alt.Confidence
	for _, w := range alt.Words {
		r.words = append(r.words, stt.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}
}

// transcript joins the final segments and averages their confidence.
func (r *result) transcript() stt.Transcript {
	t := stt.Transcript{
		Text:     strings.Join(r.segments, " "),
		Words:    r.words,
		Provider: "deepgram",
	}
	if n := len(r.segments); n > 0 {
		t.Confidence = r.confidence / float64(n)
	}
	return t
}
