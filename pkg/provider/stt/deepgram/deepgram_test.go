package deepgram

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/provider/stt"
)

// ---- helpers ----

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: want %q, got %q", field, want, got)
	}
}

// toneClip returns 300 ms of a loud 440 Hz tone at 16 kHz mono.
func toneClip() *audio.Clip {
	const rate = 16000
	n := rate * 3 / 10
	pcm := make([]byte, n*2)
	for i := range n {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/rate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return &audio.Clip{
		Format: audio.Format{SampleRate: rate, Channels: 1, SampleWidth: 2, FrameSize: 1024},
		PCM:    pcm,
	}
}

func results(final bool, text string, conf float64) []byte {
	msg := map[string]any{
		"type":     "Results",
		"is_final": final,
		"channel": map[string]any{
			"alternatives": []map[string]any{{
				"transcript": text,
				"confidence": conf,
				"words": []map[string]any{
					{"word": "w", "start": 0.5, "end": 0.75, "confidence": conf},
				},
			}},
		},
	}
	b, _ := json.Marshal(msg)
	return b
}

type fakeDeepgram struct {
	auth     atomic.Value
	query    atomic.Value
	received atomic.Int64
	replies  [][]byte
}

// newFakeDeepgram accepts one WebSocket per request, counts audio bytes until
// CloseStream, then sends replies followed by Metadata.
func newFakeDeepgram(t *testing.T, f *fakeDeepgram) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.auth.Store(r.Header.Get("Authorization"))
		f.query.Store(r.URL.RawQuery)
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			typ, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				f.received.Add(int64(len(msg)))
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				break
			}
		}
		for _, m := range f.replies {
			_ = conn.Write(ctx, websocket.MessageText, m)
		}
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Metadata","request_id":"x"}`))
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(audio.DefaultFormat, stt.Options{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "host", "api.deepgram.com", u.Host)
	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "44100", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_LanguageOverriddenByOptions(t *testing.T) {
	p, _ := New("key", WithModel("base"), WithLanguage("en"))

	rawURL, err := p.buildURL(audio.DefaultFormat, stt.Options{Language: "fr-FR"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "fr-FR", u.Query().Get("language"))
	assertEqual(t, "model", "base", u.Query().Get("model"))
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// ---- response parsing ----

func TestResult_JoinsFinalsOnly(t *testing.T) {
	var r result
	for _, m := range [][]byte{
		results(false, "hello wor", 0.5),
		results(true, "hello world", 0.9),
		results(true, "  ", 0.1),
		results(true, "how are you", 0.7),
	} {
		var resp deepgramResponse
		if err := json.Unmarshal(m, &resp); err != nil {
			t.Fatal(err)
		}
		r.add(resp)
	}

	got := r.transcript()
	assertEqual(t, "text", "hello world how are you", got.Text)
	if math.Abs(got.Confidence-0.8) > 1e-9 {
		t.Errorf("confidence = %v, want 0.8", got.Confidence)
	}
	if len(got.Words) != 2 {
		t.Fatalf("words = %d, want 2", len(got.Words))
	}
	if got.Words[0].Start != 500*time.Millisecond || got.Words[0].End != 750*time.Millisecond {
		t.Errorf("word timing = %v..%v", got.Words[0].Start, got.Words[0].End)
	}
}

// ---- end-to-end over a fake socket ----

func TestTranscribe_StreamsClipAndCollectsFinals(t *testing.T) {
	fake := &fakeDeepgram{replies: [][]byte{
		results(false, "hel", 0.2),
		results(true, "hello", 0.9),
		results(true, "world", 0.7),
	}}
	endpoint := newFakeDeepgram(t, fake)
	p, _ := New("secret", WithEndpoint(endpoint), WithTimeout(5*time.Second))

	clip := toneClip()
	got, err := p.Transcribe(context.Background(), clip, stt.Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	assertEqual(t, "text", "hello world", got.Text)
	assertEqual(t, "provider", "deepgram", got.Provider)
	assertEqual(t, "authorization", "Token secret", fake.auth.Load().(string))
	if n := fake.received.Load(); n != int64(len(clip.PCM)) {
		t.Errorf("server received %d audio bytes, want %d", n, len(clip.PCM))
	}
	q, _ := url.ParseQuery(fake.query.Load().(string))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
}

func TestTranscribe_NoFinalsIsUnintelligible(t *testing.T) {
	endpoint := newFakeDeepgram(t, &fakeDeepgram{replies: [][]byte{results(false, "uh", 0.1)}})
	p, _ := New("secret", WithEndpoint(endpoint))

	_, err := p.Transcribe(context.Background(), toneClip(), stt.Options{})
	if !errors.Is(err, stt.ErrUnintelligible) {
		t.Errorf("err = %v, want ErrUnintelligible", err)
	}
}

func TestTranscribe_DialFailureIsServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()
	p, _ := New("bad", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))

	_, err := p.Transcribe(context.Background(), toneClip(), stt.Options{})
	if !errors.Is(err, stt.ErrServiceUnavailable) {
		t.Errorf("err = %v, want ErrServiceUnavailable", err)
	}
}

func TestTranscribe_SilentClipSkipsNetwork(t *testing.T) {
	p, _ := New("key", WithEndpoint("ws://127.0.0.1:1"))
	silent := &audio.Clip{Format: audio.DefaultFormat, PCM: make([]byte, 4410*2)}

	_, err := p.Transcribe(context.Background(), silent, stt.Options{})
	if !errors.Is(err, stt.ErrUnintelligible) {
		t.Errorf("err = %v, want ErrUnintelligible", err)
	}
}
