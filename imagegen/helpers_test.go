package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"fluxtask/logging"
)

const testKey = "test-key-123"

// recordedRequest is one call seen by fakeFlux.
type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Key    string
	Body   map[string]any
}

// fakeFlux is an in-process stand-in for the remote service.
//
// Status values are consumed one per result query; the last one repeats.
// The pseudo-status "HTTP500" makes the result endpoint fail.
type fakeFlux struct {
	server *httptest.Server

	mu             sync.Mutex
	requests       []recordedRequest
	submitStatus   int
	submitResponse string
	statuses       []string
	polls          int
	omitSample     bool
	sample         []byte
	sampleStatus   int
}

func newFakeFlux(t *testing.T) *fakeFlux {
	t.Helper()
	f := &fakeFlux{
		submitStatus:   http.StatusOK,
		submitResponse: `{"id":"t1"}`,
		statuses:       []string{"Ready"},
		sample:         testPNG(t, 8, 6),
		sampleStatus:   http.StatusOK,
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeFlux) baseURL() string {
	return f.server.URL + "/v1"
}

func (f *fakeFlux) handle(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	rec := recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Key:    r.Header.Get("x-key"),
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &rec.Body)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, rec)

	switch {
	case strings.HasPrefix(r.URL.Path, "/samples/"):
		w.WriteHeader(f.sampleStatus)
		w.Write(f.sample)

	case r.URL.Path == "/v1/get_result":
		status := f.statuses[min(f.polls, len(f.statuses)-1)]
		f.polls++
		if status == "HTTP500" {
			http.Error(w, `{"detail":"internal"}`, http.StatusInternalServerError)
			return
		}
		resp := map[string]any{"id": r.URL.Query().Get("id"), "status": status}
		if status == string(StatusReady) && !f.omitSample {
			resp["result"] = map[string]any{"sample": f.server.URL + "/samples/out.png"}
		}
		json.NewEncoder(w).Encode(resp)

	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.submitStatus)
		io.WriteString(w, f.submitResponse)
	}
}

func (f *fakeFlux) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func (f *fakeFlux) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

// sleepRecorder is a Sleeper that records delays instead of waiting.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return nil
}

func (s *sleepRecorder) seconds() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.delays))
	for i, d := range s.delays {
		out[i] = int(d / time.Second)
	}
	return out
}

// newTestPipeline wires a submitter and poller against f.
func newTestPipeline(t *testing.T, f *fakeFlux, maxAttempts int) (*Submitter, *Poller, *sleepRecorder) {
	t.Helper()
	sleeper := &sleepRecorder{}
	client := f.server.Client()
	logger := logging.NewNop()

	submitter := NewSubmitter(client, f.baseURL(), logger)
	poller := NewPoller(client, f.baseURL(), NewDownloader(client), PollerConfig{
		MaxAttempts: maxAttempts,
		MaxDelay:    DefaultMaxDelay,
		Unit:        time.Second,
		Sleep:       sleeper.Sleep,
	}, logger)
	return submitter, poller, sleeper
}

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / max(w-1, 1)), G: uint8(y * 255 / max(h-1, 1)), B: 128, A: 255})
		}
	}
	return img
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(w, h)); err != nil {
		t.Fatalf("failed to encode test png: %v", err)
	}
	return buf.Bytes()
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testImage(w, h), nil); err != nil {
		t.Fatalf("failed to encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

// toMap round-trips a wire payload into a generic map.
func toMap(t interface{ Fatalf(string, ...any) }, payload any) map[string]any {
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return out
}
