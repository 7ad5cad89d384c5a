package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxgate/voxgate/internal/session"
	"github.com/voxgate/voxgate/pkg/provider/llm"
	llmmock "github.com/voxgate/voxgate/pkg/provider/llm/mock"
	"github.com/voxgate/voxgate/pkg/provider/stt"
	sttmock "github.com/voxgate/voxgate/pkg/provider/stt/mock"
	"github.com/voxgate/voxgate/pkg/provider/tts"
	ttsmock "github.com/voxgate/voxgate/pkg/provider/tts/mock"
	"github.com/voxgate/voxgate/pkg/types"
)

// wsHarness runs the voice endpoint on a real HTTP server so tests exercise
// the full WebSocket path: upgrade, frame dispatch, and teardown.
type wsHarness struct {
	registry *session.Registry
	rec      *sttmock.Recognizer
	client   *llmmock.Client
	synth    *ttsmock.Synthesizer
	srv      *httptest.Server
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()
	h := &wsHarness{
		registry: session.NewRegistry(session.RegistryConfig{}),
		rec:      sttmock.NewRecognizer(),
		client:   &llmmock.Client{},
		synth:    ttsmock.NewSynthesizer(),
	}
	cfg := Config{
		Registry: h.registry,
		Providers: Providers{
			STT: &sttmock.Provider{ProviderInfo: stt.Info{Name: "mock-stt"}, Recognizers: []*sttmock.Recognizer{h.rec}},
			LLM: &llmmock.Provider{ProviderInfo: llm.Info{Name: "mock-llm"}, Clients: []*llmmock.Client{h.client}},
			TTS: &ttsmock.Provider{ProviderInfo: tts.Info{Name: "mock-tts"}, Synthesizers: []*ttsmock.Synthesizer{h.synth}},
		},
		Metrics: newTestMetrics(t),
	}
	mux := http.NewServeMux()
	NewHandler(cfg).Register(mux)
	h.srv = httptest.NewServer(mux)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *wsHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(h.srv.URL, "http")+Voice, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

// writeJSON sends one client control frame.
func writeJSON(t *testing.T, conn *websocket.Conn, frame ClientFrame) {
	t.Helper()
	b, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// readFrame reads the next text frame off the socket.
func readFrame(t *testing.T, conn *websocket.Conn) serverFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("read a %v frame, want text", typ)
	}
	var f serverFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("bad server frame %s: %v", data, err)
	}
	return f
}

func TestHandler_VoiceRoundTrip(t *testing.T) {
	t.Parallel()

	h := newWSHarness(t)
	conn := h.dial(t)

	writeJSON(t, conn, ClientFrame{Type: FrameInit, Metadata: map[string]string{"clientName": "Ana"}})
	ready := readFrame(t, conn)
	if ready.Type != "event" || ready.Event != EventReady {
		t.Fatalf("first frame = %+v, want ready", ready)
	}
	if id, _ := ready.Data["sessionId"].(string); id == "" {
		t.Fatal("ready event carries no sessionId")
	}

	// Binary frames are audio and go straight to the recognizer.
	ctx := context.Background()
	if err := conn.Write(ctx, websocket.MessageBinary, []byte("frame-1")); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	waitFor(t, func() bool { return len(h.rec.SentAudio()) == 1 }, "audio to reach recognizer")
	if got := h.rec.SentAudio()[0]; string(got) != "frame-1" {
		t.Errorf("forwarded audio = %q", got)
	}

	// Transcripts come back as events.
	h.rec.EmitTranscript(types.Transcript{Text: "hola", IsFinal: true, Confidence: 0.9})
	if f := readFrame(t, conn); f.Event != EventTranscriptFinal || f.Data["text"] != "hola" {
		t.Fatalf("frame = %+v, want final transcript", f)
	}

	// Synthesized audio comes back as binary.
	h.synth.EmitAudio([]byte("pcm-1"))
	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	typ, data, err := conn.Read(readCtx)
	if err != nil {
		t.Fatalf("read audio: %v", err)
	}
	if typ != websocket.MessageBinary || string(data) != "pcm-1" {
		t.Fatalf("frame = %v %q, want binary pcm-1", typ, data)
	}

	// Unparseable text frames draw a non-fatal error.
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write junk: %v", err)
	}
	if f := readFrame(t, conn); f.Type != "error" || f.Error != ErrKindMessageProcessing {
		t.Fatalf("frame = %+v, want message_processing_error", f)
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

func TestHandler_InitFailureClosesSocket(t *testing.T) {
	t.Parallel()

	h := newWSHarness(t)
	h.rec.ConnectErr = stt.ErrProviderUnavailable
	conn := h.dial(t)

	writeJSON(t, conn, ClientFrame{Type: FrameInit})
	if f := readFrame(t, conn); f.Type != "error" || f.Error != ErrKindInit {
		t.Fatalf("frame = %+v, want init_error", f)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err == nil {
		t.Fatal("socket still open after failed init")
	}
	if h.registry.Len() != 0 {
		t.Errorf("registry Len = %d, want 0", h.registry.Len())
	}
}

func TestHandler_SessionDestroyClosesSocket(t *testing.T) {
	t.Parallel()

	h := newWSHarness(t)
	conn := h.dial(t)

	writeJSON(t, conn, ClientFrame{Type: FrameInit, Metadata: map[string]string{"clientName": "Ana"}})
	ready := readFrame(t, conn)
	id, _ := ready.Data["sessionId"].(string)
	if id == "" {
		t.Fatal("ready event carries no sessionId")
	}

	// Destroying the session, as the idle reaper does, must release the
	// client socket; an abandoned connection cannot be left dangling.
	if err := h.registry.Destroy(id); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if err == nil {
		t.Fatal("socket still open after the session was destroyed")
	}
	if status := websocket.CloseStatus(err); status != websocket.StatusGoingAway {
		t.Errorf("close status = %v, want going away", status)
	}
}
