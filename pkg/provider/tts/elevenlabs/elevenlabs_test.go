package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxgate/voxgate/pkg/provider/tts"
)

// inboundFrame is a decoded client frame captured by the mock server.
type inboundFrame struct {
	Text                 string `json:"text"`
	TryTriggerGeneration bool   `json:"try_trigger_generation"`
	Flush                bool   `json:"flush"`
	XiAPIKey             string `json:"xi_api_key"`
}

// newMockServer runs a stream-input endpoint double. It pushes every decoded
// client frame to frames, and echoes one base64 audio response per non-empty
// text frame after the handshake, marking flushed frames as final.
func newMockServer(t *testing.T, frames chan inboundFrame) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		handshaken := false
		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var f inboundFrame
			if err := json.Unmarshal(msg, &f); err != nil {
				t.Errorf("bad frame %s: %v", msg, err)
				continue
			}
			frames <- f
			if !handshaken {
				handshaken = true
				continue
			}
			if f.Text == "" {
				// End of stream.
				return
			}
			resp := audioResponse{
				Audio:   base64.StdEncoding.EncodeToString([]byte("pcm:" + strings.TrimSpace(f.Text))),
				IsFinal: f.Flush || f.TryTriggerGeneration,
			}
			respBytes, _ := json.Marshal(resp)
			if err := conn.Write(ctx, websocket.MessageText, respBytes); err != nil {
				return
			}
		}
	}))
}

// newTestSynthesizer connects a synthesizer against a fresh mock server.
func newTestSynthesizer(t *testing.T, frames chan inboundFrame) tts.Synthesizer {
	t.Helper()
	srv := newMockServer(t, frames)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	p, err := New("xi-test-key", WithEndpoint(wsURL+"/?voice=%s&model=%s&fmt=%s"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s := p.NewSynthesizer("sess-1", "voice-1")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") should return an error")
	}
}

func TestConnect_SendsHandshake(t *testing.T) {
	t.Parallel()

	frames := make(chan inboundFrame, 16)
	s := newTestSynthesizer(t, frames)

	bos := <-frames
	if bos.Text != " " {
		t.Errorf("handshake text = %q, want single space", bos.Text)
	}
	if bos.XiAPIKey != "xi-test-key" {
		t.Errorf("handshake xi_api_key = %q", bos.XiAPIKey)
	}
	if !s.Connected() {
		t.Error("Connected() = false after Connect")
	}
	if err := s.Connect(context.Background()); err != tts.ErrAlreadyConnected {
		t.Errorf("second Connect = %v, want ErrAlreadyConnected", err)
	}
}

func TestSynthesize_AudioRoundTrip(t *testing.T) {
	t.Parallel()

	frames := make(chan inboundFrame, 16)
	s := newTestSynthesizer(t, frames)
	<-frames // handshake

	if err := s.Synthesize("Hola.", false); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if f := <-frames; f.Text != "Hola. " {
		t.Errorf("frame text = %q, want trailing space appended", f.Text)
	}

	select {
	case pcm := <-s.AudioChunks():
		if string(pcm) != "pcm:Hola." {
			t.Errorf("audio = %q", pcm)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audio")
	}
}

func TestSynthesize_FlushSignalsCompleted(t *testing.T) {
	t.Parallel()

	frames := make(chan inboundFrame, 16)
	s := newTestSynthesizer(t, frames)
	<-frames // handshake

	if err := s.Synthesize("resto", true); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	select {
	case <-s.Completed():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion signal")
	}
}

func TestCancel_DropsAudioWithoutClosing(t *testing.T) {
	t.Parallel()

	frames := make(chan inboundFrame, 16)
	s := newTestSynthesizer(t, frames)
	<-frames // handshake

	s.Cancel()
	f := <-frames
	if f.Text != " " || !f.Flush {
		t.Errorf("cancel frame = %+v, want space with flush", f)
	}

	// The mock echoes final audio for the cancel flush; it must be dropped
	// and the completion signal suppressed.
	select {
	case pcm := <-s.AudioChunks():
		t.Fatalf("received audio %q after Cancel", pcm)
	case <-s.Completed():
		t.Fatal("received completion signal after Cancel")
	case <-time.After(200 * time.Millisecond):
	}

	if !s.Connected() {
		t.Fatal("connection closed by Cancel")
	}

	// The next reply flows again.
	if err := s.Synthesize("Sigo aquí.", false); err != nil {
		t.Fatalf("Synthesize after Cancel: %v", err)
	}
	<-frames
	select {
	case pcm := <-s.AudioChunks():
		if string(pcm) != "pcm:Sigo aquí." {
			t.Errorf("audio = %q", pcm)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for post-cancel audio")
	}
}

func TestCancel_ReturnsPromptlyOnStalledSocket(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		serverConns <- conn
		// Never read. Inbound frames pile up until the client's socket
		// buffers fill and further writes stall.
		<-release
	}))
	defer srv.Close()
	defer close(release)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	p, err := New("xi-test-key", WithEndpoint(wsURL+"/?voice=%s&model=%s&fmt=%s"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s := p.NewSynthesizer("sess-1", "voice-1")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Saturate the socket from a helper goroutine until writes stop making
	// progress.
	var written atomic.Int64
	go func() {
		filler := strings.Repeat("a", 128<<10)
		for i := 0; i < 128; i++ {
			if err := s.Synthesize(filler, false); err != nil {
				return
			}
			written.Add(1)
		}
	}()
	last := int64(-1)
	for {
		n := written.Load()
		if n == last {
			break
		}
		last = n
		time.Sleep(200 * time.Millisecond)
	}

	// Cancel runs under the orchestrator's session lock during barge-in; it
	// must return without waiting on the socket. The flush write happens in
	// the background with its own deadline.
	done := make(chan struct{})
	go func() {
		s.Cancel()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Cancel blocked on a stalled socket")
	}

	// Break the dead connection first so teardown's end-of-stream write
	// fails fast instead of queueing behind the stall. httptest stops
	// tracking hijacked connections, so CloseClientConnections cannot do it;
	// close the accepted websocket directly.
	(<-serverConns).CloseNow()
	s.Close()
}

func TestSynthesize_EmptyTextNeverClosesStream(t *testing.T) {
	t.Parallel()

	frames := make(chan inboundFrame, 16)
	s := newTestSynthesizer(t, frames)
	<-frames // handshake

	// Empty text without flush is a no-op: the end-of-stream marker must not
	// reach the wire.
	if err := s.Synthesize("", false); err != nil {
		t.Fatalf("Synthesize(\"\", false): %v", err)
	}
	select {
	case f := <-frames:
		t.Fatalf("frame %+v sent for empty text", f)
	case <-time.After(150 * time.Millisecond):
	}

	// Empty text with flush goes out as a space-flush instead.
	if err := s.Synthesize("", true); err != nil {
		t.Fatalf("Synthesize(\"\", true): %v", err)
	}
	if f := <-frames; f.Text != " " || !f.TryTriggerGeneration {
		t.Errorf("flush frame = %+v, want space with try_trigger_generation", f)
	}

	// The connection survives and the next reply flows.
	if err := s.Synthesize("Sigo.", false); err != nil {
		t.Fatalf("Synthesize after empty flush: %v", err)
	}
	<-frames
	deadline := time.After(2 * time.Second)
	for {
		select {
		case pcm := <-s.AudioChunks():
			if string(pcm) == "pcm:Sigo." {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for audio after empty flush")
		}
	}
}

func TestSynthesize_BeforeConnect(t *testing.T) {
	t.Parallel()

	p, err := New("xi-test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s := p.NewSynthesizer("sess-1", "")
	if err := s.Synthesize("hola", false); err != tts.ErrNotConnected {
		t.Fatalf("Synthesize = %v, want ErrNotConnected", err)
	}
}

func TestClose_SendsEndOfStream(t *testing.T) {
	t.Parallel()

	frames := make(chan inboundFrame, 16)
	s := newTestSynthesizer(t, frames)
	<-frames // handshake

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if f := <-frames; f.Text != "" {
		t.Errorf("close frame text = %q, want empty end-of-stream marker", f.Text)
	}
	if s.Connected() {
		t.Error("Connected() = true after Close")
	}
}
