package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/scribe/internal/health"
	historymock "github.com/MrWong99/scribe/internal/history/mock"
	"github.com/MrWong99/scribe/internal/server"
	"github.com/MrWong99/scribe/internal/session"
	"github.com/MrWong99/scribe/pkg/audio"
	audiomock "github.com/MrWong99/scribe/pkg/audio/mock"
	"github.com/MrWong99/scribe/pkg/provider/stt"
	sttmock "github.com/MrWong99/scribe/pkg/provider/stt/mock"
)

var testFormat = audio.Format{SampleRate: 8000, Channels: 1, SampleWidth: 2, FrameSize: 800}

func wavBody(t *testing.T, d time.Duration) []byte {
	t.Helper()
	n := int(d.Seconds() * float64(testFormat.BytesPerSecond()))
	clip := &audio.Clip{Format: testFormat, PCM: bytes.Repeat([]byte{0x10, 0x00}, n/2)}
	return clip.WAV()
}

func newServer(t *testing.T, p *sttmock.Provider, opts ...server.Option) *httptest.Server {
	t.Helper()
	c := session.New(&audiomock.Device{}, p, session.WithFormat(testFormat), session.WithTempDir(t.TempDir()))
	ts := httptest.NewServer(server.New(c, opts...).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, contentType string, body []byte) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, contentType, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func TestCorrect(t *testing.T) {
	t.Parallel()
	ts := newServer(t, &sttmock.Provider{})

	resp, body := post(t, ts.URL+"/v1/correct", "application/json", []byte(`{"text":"i dont think thats right"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["corrected"] != "I don't think that's right." {
		t.Errorf("corrected = %v", body["corrected"])
	}
	if body["original"] != "i dont think thats right" {
		t.Errorf("original = %v", body["original"])
	}
	corrections, ok := body["corrections"].([]any)
	if !ok || len(corrections) == 0 {
		t.Fatalf("corrections = %v", body["corrections"])
	}
	first := corrections[0].(map[string]any)
	if first["rule"] != "capitalize-first" {
		t.Errorf("first rule = %v", first["rule"])
	}
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Error("missing X-Correlation-ID header")
	}
}

func TestCorrect_EmptyText(t *testing.T) {
	t.Parallel()
	ts := newServer(t, &sttmock.Provider{})

	resp, body := post(t, ts.URL+"/v1/correct", "application/json", []byte(`{"text":""}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["corrected"] != "" {
		t.Errorf("corrected = %v, want empty", body["corrected"])
	}
	if c, _ := body["corrections"].([]any); len(c) != 0 {
		t.Errorf("corrections = %v, want []", body["corrections"])
	}
}

func TestCorrect_BadRequests(t *testing.T) {
	t.Parallel()
	ts := newServer(t, &sttmock.Provider{})

	for _, body := range []string{`not json`, `{}`, `{"text": 3}`, `{"text":"x","extra":1}`} {
		resp, out := post(t, ts.URL+"/v1/correct", "application/json", []byte(body))
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, resp.StatusCode)
		}
		if out["error"] == "" {
			t.Errorf("body %s: missing error message", body)
		}
	}
}

func TestCorrect_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	ts := newServer(t, &sttmock.Provider{})

	resp, err := http.Get(ts.URL + "/v1/correct")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()
	p := &sttmock.Provider{Result: stt.Transcript{Text: "hello world", Provider: "whisper"}}
	ts := newServer(t, p)

	resp, body := post(t, ts.URL+"/v1/transcribe", "audio/wav", wavBody(t, 500*time.Millisecond))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["raw"] != "hello world" || body["corrected"] != "Hello world." {
		t.Errorf("body = %v", body)
	}
	if body["source"] != "upload" || body["provider"] != "whisper" {
		t.Errorf("source/provider = %v/%v", body["source"], body["provider"])
	}
	if body["duration_ms"] != float64(500) {
		t.Errorf("duration_ms = %v, want 500", body["duration_ms"])
	}
	if p.CallCount() != 1 {
		t.Fatalf("provider called %d times", p.CallCount())
	}
	if f := p.Calls[0].Clip.Format; f.SampleRate != testFormat.SampleRate || f.Channels != 1 {
		t.Errorf("clip format = %+v", f)
	}
}

func TestTranscribe_ErrorMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		err       error
		body      []byte
		want      int
		wantEmpty bool
	}{
		{name: "not a wav", body: []byte("hello, I am text"), want: http.StatusBadRequest},
		{name: "empty body", body: nil, want: http.StatusBadRequest},
		{name: "unintelligible", err: fmt.Errorf("whisper: %w", stt.ErrUnintelligible), want: http.StatusOK, wantEmpty: true},
		{name: "unavailable", err: fmt.Errorf("deepgram: %w", stt.ErrServiceUnavailable), want: http.StatusServiceUnavailable},
		{name: "other", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &sttmock.Provider{Err: tt.err, Result: stt.Transcript{Text: "unused"}}
			ts := newServer(t, p)

			body := tt.body
			if body == nil && tt.err != nil {
				body = wavBody(t, 200*time.Millisecond)
			}
			resp, out := post(t, ts.URL+"/v1/transcribe", "audio/wav", body)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d (body %v)", resp.StatusCode, tt.want, out)
			}
			if tt.wantEmpty && (out["raw"] != "" || out["corrected"] != "") {
				t.Errorf("body = %v, want empty text", out)
			}
		})
	}
}

func TestTranscribe_TooLarge(t *testing.T) {
	t.Parallel()
	ts := newServer(t, &sttmock.Provider{}, server.WithMaxUploadBytes(64))

	resp, _ := post(t, ts.URL+"/v1/transcribe", "audio/wav", wavBody(t, time.Second))
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()
	store := &historymock.Store{}
	c := session.New(&audiomock.Device{}, &sttmock.Provider{}, session.WithHistory(store), session.WithTempDir(t.TempDir()))
	ts := httptest.NewServer(server.New(c, server.WithHistory(store)).Handler())
	defer ts.Close()

	for _, text := range []string{"first", "second", "third"} {
		post(t, ts.URL+"/v1/correct", "application/json", []byte(`{"text":"`+text+`"}`))
	}

	resp, err := http.Get(ts.URL + "/v1/history?limit=2")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct {
		Entries []struct {
			Source    string   `json:"source"`
			Corrected string   `json:"corrected"`
			Rules     []string `json:"rules"`
		} `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(out.Entries))
	}
	if out.Entries[0].Corrected != "Third." || out.Entries[0].Source != "text" {
		t.Errorf("newest entry = %+v", out.Entries[0])
	}

	bad, err := http.Get(ts.URL + "/v1/history?limit=zero")
	if err != nil {
		t.Fatal(err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", bad.StatusCode)
	}
}

func TestHistory_NotMountedWithoutStore(t *testing.T) {
	t.Parallel()
	ts := newServer(t, &sttmock.Provider{})

	resp, err := http.Get(ts.URL + "/v1/history")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthAndMetricsMounted(t *testing.T) {
	t.Parallel()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "scribe_up 1\n")
	})
	ts := newServer(t, &sttmock.Provider{},
		server.WithHealth(health.New(nil)),
		server.WithMetricsHandler(metrics),
	)

	for path, want := range map[string]string{"/healthz": `"status":"ok"`, "/readyz": `"status":"ok"`, "/metrics": "scribe_up 1"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
		if !strings.Contains(string(data), want) {
			t.Errorf("%s body = %q, want %q", path, data, want)
		}
	}
}

func TestServeListener_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	c := session.New(&audiomock.Device{}, &sttmock.Provider{})
	srv := server.New(c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/v1/correct"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Post(url, "application/json", strings.NewReader(`{"text":"ping"}`))
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never answered: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeListener: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ServeListener did not return after cancel")
	}
}
