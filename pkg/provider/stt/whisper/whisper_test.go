package whisper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxgate/voxgate/pkg/provider/stt"
)

// newInferenceServer returns a test server that answers /inference with the
// given text and records how many inference calls it served.
func newInferenceServer(t *testing.T, text string, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			// Reachability probe.
			w.WriteHeader(http.StatusOK)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file part: %v", err)
		}
		if got := r.FormValue("language"); got != "es" {
			t.Errorf("language = %q, want %q", got, "es")
		}
		if calls != nil {
			calls.Add(1)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
}

func TestNew_RequiresServerURL(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") should return an error")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	t.Parallel()

	p, err := New("http://127.0.0.1:1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := p.NewRecognizer("sess-1")
	if err := r.Connect(context.Background()); err == nil {
		t.Fatal("Connect to unreachable server should fail")
	}
}

func TestSendAudio_BeforeConnect(t *testing.T) {
	t.Parallel()

	p, err := New("http://localhost:8080")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := p.NewRecognizer("sess-1")
	if err := r.SendAudio([]byte{1}); err == nil {
		t.Fatal("SendAudio before Connect should fail")
	}
}

func TestRecognizer_LargeChunkSubmitted(t *testing.T) {
	t.Parallel()

	srv := newInferenceServer(t, "hola, buenas tardes", nil)
	defer srv.Close()

	p, err := New(srv.URL, WithMinChunkBytes(64))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := p.NewRecognizer("sess-1")
	if err := r.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer r.Close()

	if err := r.SendAudio(make([]byte, 128)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case tr := <-r.Transcripts():
		if tr.Text != "hola, buenas tardes" {
			t.Errorf("Text = %q", tr.Text)
		}
		if !tr.IsFinal || tr.Confidence != 1.0 {
			t.Errorf("IsFinal=%v Confidence=%v, want final with confidence 1.0", tr.IsFinal, tr.Confidence)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for transcript")
	}
}

func TestRecognizer_SweepConcatenatesSmallChunks(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := newInferenceServer(t, "una frase corta", &calls)
	defer srv.Close()

	p, err := New(srv.URL, WithMinChunkBytes(100), WithSweepInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := p.NewRecognizer("sess-1")
	if err := r.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer r.Close()

	// Three undersized chunks; none submits alone, the sweep submits the
	// concatenation once it crosses the threshold.
	for i := 0; i < 3; i++ {
		if err := r.SendAudio(make([]byte, 40)); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}

	select {
	case tr := <-r.Transcripts():
		if tr.Text != "una frase corta" {
			t.Errorf("Text = %q", tr.Text)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for swept transcript")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("inference calls = %d, want 1", got)
	}
}

func TestRecognizer_UndersizedAudioProducesNothing(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := newInferenceServer(t, "ignored", &calls)
	defer srv.Close()

	p, err := New(srv.URL, WithMinChunkBytes(1024), WithSweepInterval(30*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := p.NewRecognizer("sess-1")
	if err := r.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := r.SendAudio(make([]byte, 10)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	r.Close()

	if got := calls.Load(); got != 0 {
		t.Errorf("inference calls = %d, want 0 for undersized audio", got)
	}
	select {
	case tr, ok := <-r.Transcripts():
		if ok {
			t.Errorf("unexpected transcript %+v", tr)
		}
	case <-time.After(time.Second):
		t.Fatal("transcript channel not closed after Close")
	}
}

func TestRecognizer_JunkSuppressed(t *testing.T) {
	t.Parallel()

	srv := newInferenceServer(t, "Subtítulos realizados por la comunidad de Amara.org", nil)
	defer srv.Close()

	p, err := New(srv.URL, WithMinChunkBytes(16))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := p.NewRecognizer("sess-1")
	if err := r.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := r.SendAudio(make([]byte, 32)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	r.Close()

	if tr, ok := <-r.Transcripts(); ok {
		t.Errorf("junk transcript surfaced: %+v", tr)
	}
}

func TestConnect_Twice(t *testing.T) {
	t.Parallel()

	srv := newInferenceServer(t, "", nil)
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := p.NewRecognizer("sess-1")
	if err := r.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer r.Close()

	if err := r.Connect(context.Background()); err != stt.ErrAlreadyConnected {
		t.Fatalf("second Connect = %v, want ErrAlreadyConnected", err)
	}
}
