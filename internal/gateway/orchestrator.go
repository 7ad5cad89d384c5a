package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/session"
	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/provider/stt"
	"github.com/voxgate/voxgate/pkg/provider/tts"
	"github.com/voxgate/voxgate/pkg/types"
)

// sentenceDelimiters are the characters that close a synthesizable sentence.
// Text accumulated up to and including a delimiter is handed to TTS without
// waiting for the rest of the reply.
const sentenceDelimiters = ".!?\n"

// Providers bundles the three pipeline stages minted per session.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider
}

// Config holds the orchestrator dependencies shared across connections.
type Config struct {
	Registry  *session.Registry
	Providers Providers
	Metrics   *observe.Metrics

	// KeepInterruptedReplies appends the spoken prefix of a barged-in reply
	// to history instead of discarding it.
	KeepInterruptedReplies bool

	// InputQueueSize and OutputQueueSize bound the per-session audio queues.
	// Non-positive selects the session package defaults.
	InputQueueSize  int
	OutputQueueSize int

	// VADThresholdBytes is the minimum inbound frame size treated as voiced.
	// Smaller frames are forwarded to STT but never trigger barge-in.
	VADThresholdBytes int
}

// wireConn is the transport the orchestrator writes to. *websocket.Conn is
// adapted to it by the handler; tests substitute an in-memory recorder.
type wireConn interface {
	WriteText(ctx context.Context, data []byte) error
	WriteBinary(ctx context.Context, data []byte) error

	// Close shuts the client connection down. Called during teardown so a
	// reaped session does not leave its socket dangling; must be safe to
	// call on an already-closed connection.
	Close() error
}

// Orchestrator drives one client connection: it owns the session, the
// per-session provider adapters, and the event pump goroutines. State is
// serialized under a session-local mutex; every provider event stream has
// exactly one consumer goroutine; socket writes are serialized by writeMu.
type Orchestrator struct {
	cfg  Config
	conn wireConn

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu            sync.Mutex
	sess          *session.Session
	buffers       *session.BufferManager
	rec           stt.Recognizer
	llmClient     llm.Client
	synth         tts.Synthesizer
	initialized   bool
	llmStreaming  bool
	agentSpeaking bool
	ttsStreaming  bool
	pendingReply  string
	lastAudioAt   time.Time
	synthAt       time.Time
	awaitingAudio bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewOrchestrator creates an orchestrator for one connection. No session
// exists until the client sends its init frame.
func NewOrchestrator(cfg Config, conn wireConn) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:    cfg,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}
}

// HandleControl processes one client JSON frame.
func (o *Orchestrator) HandleControl(frame ClientFrame) error {
	switch frame.Type {
	case FrameInit:
		return o.handleInit(frame.Metadata)
	case FrameMetadata:
		return o.handleMetadata(frame.Metadata)
	default:
		o.sendError(ErrKindMessageProcessing, fmt.Sprintf("unknown frame type %q", frame.Type))
		return nil
	}
}

// HandleMalformed reports an unparseable client text frame.
func (o *Orchestrator) HandleMalformed() {
	o.sendError(ErrKindMessageProcessing, "malformed JSON frame")
}

// HandleAudio processes one binary client frame.
func (o *Orchestrator) HandleAudio(data []byte) {
	o.mu.Lock()
	if !o.initialized {
		o.mu.Unlock()
		o.sendError(ErrKindMessageProcessing, "audio before init")
		return
	}
	sess := o.sess
	buffers := o.buffers
	o.lastAudioAt = time.Now()
	o.mu.Unlock()

	sess.Touch()
	if buffers.PushInput(data) {
		// Evicting stale audio under pressure beats stalling the socket reader.
		o.cfg.Metrics.RecordAudioDrop(o.ctx, "in")
		slog.Debug("inbound audio queue full, dropped oldest chunk", "session_id", sess.ID, "bytes", len(data))
	}
}

// handleInit creates the session, connects STT and TTS in parallel, starts
// the event pumps, and acknowledges with the ready event. A second init on a
// live session is answered with a well-formed error; the session stays
// intact.
func (o *Orchestrator) handleInit(meta map[string]string) error {
	o.mu.Lock()
	if o.initialized {
		o.mu.Unlock()
		o.sendError(ErrKindMessageProcessing, "session already initialized")
		return nil
	}
	o.mu.Unlock()

	sess := o.cfg.Registry.Create(meta)

	rec := o.cfg.Providers.STT.NewRecognizer(sess.ID)
	llmClient := o.cfg.Providers.LLM.NewClient(sess.ID)
	synth := o.cfg.Providers.TTS.NewSynthesizer(sess.ID, sess.VoiceID())

	// STT and TTS hold live upstream streams; bring them up in parallel so
	// init latency is the slower of the two, not the sum.
	g, gctx := errgroup.WithContext(o.ctx)
	g.Go(func() error { return rec.Connect(gctx) })
	g.Go(func() error { return synth.Connect(gctx) })
	if err := g.Wait(); err != nil {
		rec.Close()
		synth.Close()
		_ = o.cfg.Registry.Destroy(sess.ID)
		o.sendError(ErrKindInit, err.Error())
		o.cfg.Metrics.RecordProviderError(o.ctx, "pipeline", "connect")
		return fmt.Errorf("gateway: connect providers: %w", err)
	}

	buffers := session.NewBufferManager(o.cfg.InputQueueSize, o.cfg.OutputQueueSize)

	o.mu.Lock()
	o.sess = sess
	o.buffers = buffers
	o.rec = rec
	o.llmClient = llmClient
	o.synth = synth
	o.initialized = true
	o.mu.Unlock()

	// The reaper must release provider resources even when the client
	// vanished without closing the socket.
	sess.SetCleanup(o.shutdown)

	o.cfg.Metrics.ActiveSessions.Add(o.ctx, 1)

	o.wg.Add(6)
	go o.forwardLoop()
	go o.transcriptLoop()
	go o.sttErrorLoop()
	go o.ttsAudioLoop()
	go o.ttsSignalLoop()
	go o.outputWriteLoop()

	o.sendEvent(EventReady, ReadyData{
		SessionID: sess.ID,
		Providers: map[string]string{
			"stt": o.cfg.Providers.STT.Info().Name,
			"llm": o.cfg.Providers.LLM.Info().Name,
			"tts": o.cfg.Providers.TTS.Info().Name,
		},
	})

	slog.Info("session initialized",
		"session_id", sess.ID,
		"client_name", sess.ClientName(),
		"stt", o.cfg.Providers.STT.Info().Name,
		"llm", o.cfg.Providers.LLM.Info().Name,
		"tts", o.cfg.Providers.TTS.Info().Name,
	)
	return nil
}

// handleMetadata merges client metadata into the session.
func (o *Orchestrator) handleMetadata(meta map[string]string) error {
	o.mu.Lock()
	sess := o.sess
	initialized := o.initialized
	o.mu.Unlock()
	if !initialized {
		o.sendError(ErrKindMessageProcessing, "metadata before init")
		return nil
	}
	sess.UpdateMetadata(meta)
	sess.Touch()
	return nil
}

// Close tears the connection's session down. Safe to call multiple times and
// from any goroutine; the handler calls it when the socket read loop exits.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	sess := o.sess
	o.mu.Unlock()
	if sess != nil {
		// Destroy runs the registered cleanup exactly once.
		_ = o.cfg.Registry.Destroy(sess.ID)
		return
	}
	o.shutdown()
}

// shutdown releases everything the orchestrator owns: cancels the in-flight
// LLM stream, closes STT and TTS, clears the buffers, and stops the pumps.
func (o *Orchestrator) shutdown() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		rec := o.rec
		llmClient := o.llmClient
		synth := o.synth
		buffers := o.buffers
		sess := o.sess
		wasInitialized := o.initialized
		o.initialized = false
		o.mu.Unlock()

		if llmClient != nil {
			llmClient.Cancel()
		}
		if rec != nil {
			rec.Close()
		}
		if synth != nil {
			synth.Close()
		}

		o.cancel()

		if buffers != nil {
			buffers.Clear()
		}
		if wasInitialized {
			o.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
			o.wg.Wait()
		}

		// When teardown came from the reaper the client socket is still open;
		// closing it unblocks the handler's read loop. A socket the client
		// already closed returns an error here, which is fine.
		_ = o.conn.Close()

		if sess != nil {
			slog.Info("session closed", "session_id", sess.ID)
		}
	})
}

// ---- event pump goroutines ----

// forwardLoop is the single consumer of the inbound audio queue. Each popped
// chunk first triggers barge-in when the agent is mid-reply, then goes to the
// recognizer.
func (o *Orchestrator) forwardLoop() {
	defer o.wg.Done()
	for {
		chunk, err := o.buffers.PopInput(o.ctx)
		if err != nil {
			return
		}

		o.mu.Lock()
		if (o.agentSpeaking || o.llmStreaming) && len(chunk.Data) >= o.cfg.VADThresholdBytes {
			o.bargeInLocked()
		}
		rec := o.rec
		o.mu.Unlock()

		if err := rec.SendAudio(chunk.Data); err != nil {
			if errors.Is(err, stt.ErrNotConnected) {
				return
			}
			o.sendError(ErrKindAudioProcessing, err.Error())
			o.cfg.Metrics.RecordProviderError(o.ctx, rec.Info().Name, "stt")
		}
	}
}

// bargeInLocked interrupts the in-progress reply. Caller holds o.mu.
func (o *Orchestrator) bargeInLocked() {
	o.synth.Cancel()
	o.llmClient.Cancel()
	o.buffers.BumpGeneration()

	if o.cfg.KeepInterruptedReplies && o.pendingReply != "" {
		o.sess.AppendTurn(types.RoleAssistant, o.pendingReply)
	}
	o.pendingReply = ""
	o.agentSpeaking = false
	o.llmStreaming = false
	o.ttsStreaming = false
	o.awaitingAudio = false
	o.sess.SetSpeaking(false)

	o.cfg.Metrics.BargeIns.Add(o.ctx, 1)
	o.cfg.Metrics.RecordReply(o.ctx, "interrupted")
	o.sendEvent(EventInterruptionProcessed, nil)

	slog.Debug("barge-in processed", "session_id", o.sess.ID)
}

// transcriptLoop is the single consumer of recognizer transcripts.
func (o *Orchestrator) transcriptLoop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case t, ok := <-o.rec.Transcripts():
			if !ok {
				return
			}
			if !t.IsFinal {
				o.sendEvent(EventTranscriptPartial, TranscriptData{Text: t.Text, Confidence: t.Confidence})
				continue
			}

			o.mu.Lock()
			if !o.lastAudioAt.IsZero() {
				o.cfg.Metrics.STTLatency.Record(o.ctx, time.Since(o.lastAudioAt).Seconds())
			}
			o.mu.Unlock()

			o.sendEvent(EventTranscriptFinal, TranscriptData{Text: t.Text, Confidence: t.Confidence})
			o.cfg.Metrics.Utterances.Add(o.ctx, 1)
			go o.runReply(t.Text)
		}
	}
}

// sttErrorLoop is the single consumer of recognizer errors. STT errors are
// non-fatal: the event is surfaced and the session stays up.
func (o *Orchestrator) sttErrorLoop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case err, ok := <-o.rec.Errors():
			if !ok {
				return
			}
			o.sendError(ErrKindSTT, err.Error())
			o.cfg.Metrics.RecordProviderError(o.ctx, o.rec.Info().Name, "stt")
		}
	}
}

// ttsAudioLoop is the single consumer of synthesized audio. Chunks enter the
// output queue tagged with the generation current at receipt; the write loop
// discards stale generations.
func (o *Orchestrator) ttsAudioLoop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case pcm, ok := <-o.synth.AudioChunks():
			if !ok {
				return
			}

			o.mu.Lock()
			if o.awaitingAudio {
				o.awaitingAudio = false
				o.cfg.Metrics.TTSFirstAudio.Record(o.ctx, time.Since(o.synthAt).Seconds())
			}
			o.mu.Unlock()

			if o.buffers.PushOutput(pcm) {
				o.cfg.Metrics.RecordAudioDrop(o.ctx, "out")
				slog.Debug("output audio queue full, dropped oldest chunk", "session_id", o.sess.ID, "bytes", len(pcm))
			}
		}
	}
}

// ttsSignalLoop is the single consumer of synthesizer completion signals and
// errors.
func (o *Orchestrator) ttsSignalLoop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case _, ok := <-o.synth.Completed():
			if !ok {
				return
			}
			o.mu.Lock()
			wasSpeaking := o.agentSpeaking
			o.agentSpeaking = false
			o.ttsStreaming = false
			o.sess.SetSpeaking(false)
			o.mu.Unlock()
			if wasSpeaking {
				o.sendEvent(EventAgentFinishedSpeaking, nil)
				o.cfg.Metrics.RecordReply(o.ctx, "completed")
			}
		case err, ok := <-o.synth.Errors():
			if !ok {
				return
			}
			o.sendError(ErrKindTTS, err.Error())
			o.cfg.Metrics.RecordProviderError(o.ctx, o.synth.Info().Name, "tts")
		}
	}
}

// outputWriteLoop is the single binary writer: it pops synthesized chunks of
// the current generation and sends them to the client.
func (o *Orchestrator) outputWriteLoop() {
	defer o.wg.Done()
	for {
		chunk, err := o.buffers.PopOutput(o.ctx)
		if err != nil {
			return
		}
		o.writeMu.Lock()
		// Re-check under the write lock: a barge-in between the pop and here
		// bumps the generation, and its interruption_processed event holds
		// writeMu until it is on the wire. Without this a stale chunk could
		// land after the interruption acknowledgment.
		if chunk.Generation != o.buffers.Generation() {
			o.writeMu.Unlock()
			continue
		}
		err = o.conn.WriteBinary(o.ctx, chunk.Data)
		o.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// ---- reply procedure ----

// runReply drives one agent reply: it appends the user turn, streams the LLM
// completion, feeds complete sentences to TTS as they form, and commits the
// assistant turn when the stream finishes cleanly. A generation bump during
// the stream means the reply was barged in: nothing further is committed.
func (o *Orchestrator) runReply(userText string) {
	o.mu.Lock()
	if !o.initialized {
		o.mu.Unlock()
		return
	}
	o.sess.AppendTurn(types.RoleUser, userText)
	history := o.sess.HistoryMessages()
	clientName := o.sess.ClientName()
	o.llmStreaming = true
	o.pendingReply = ""
	startGen := o.buffers.Generation()
	llmClient := o.llmClient
	o.mu.Unlock()

	if cost := llmClient.EstimateCost(history); cost > 0 {
		slog.Debug("starting reply", "session_id", o.sess.ID, "history_len", len(history), "est_cost_usd", cost)
	}

	streamStart := time.Now()
	ch, err := llmClient.Stream(o.ctx, history, clientName)
	if err != nil {
		if errors.Is(err, llm.ErrStreamInProgress) {
			// Another reply is mid-flight and owns the streaming flag. Rare:
			// it takes a buffered recognizer emitting a second final with no
			// intervening audio frame, since voiced audio during a stream
			// triggers barge-in first.
			return
		}
		o.mu.Lock()
		o.llmStreaming = false
		o.mu.Unlock()
		if o.ctx.Err() != nil {
			return
		}
		o.sendError(ErrKindLLM, err.Error())
		o.cfg.Metrics.RecordProviderError(o.ctx, llmClient.Info().Name, "llm")
		return
	}

	var full strings.Builder
	var sentence strings.Builder
	firstChunk := true
	synthStarted := false

	for chunk := range ch {
		if chunk.Err != nil {
			// Reply abandoned: flags reset, no assistant turn. Audio already
			// synthesized plays out; the session is idle for the next turn.
			o.mu.Lock()
			o.llmStreaming = false
			o.pendingReply = ""
			o.mu.Unlock()
			o.sendError(ErrKindLLM, chunk.Err.Error())
			o.cfg.Metrics.RecordProviderError(o.ctx, llmClient.Info().Name, "llm")
			o.cfg.Metrics.RecordReply(o.ctx, "failed")
			return
		}
		if firstChunk {
			firstChunk = false
			o.cfg.Metrics.LLMFirstChunk.Record(o.ctx, time.Since(streamStart).Seconds())
		}

		o.sendEvent(EventLLMChunk, ChunkData{Chunk: chunk.Text})
		full.WriteString(chunk.Text)
		sentence.WriteString(chunk.Text)

		o.mu.Lock()
		o.pendingReply = full.String()
		o.mu.Unlock()

		if endsWithDelimiter(chunk.Text) {
			o.submitSentence(sentence.String(), false, &synthStarted)
			sentence.Reset()
		}
	}

	o.mu.Lock()
	interrupted := o.buffers.Generation() != startGen
	o.mu.Unlock()
	if interrupted {
		// Barge-in already reset the flags and settled history.
		return
	}

	// Force out whatever the synthesizer is still holding. When the last
	// fragment already closed a sentence the accumulator is empty; flush a
	// single space instead, because empty text is the upstream end-of-stream
	// marker and would kill the synthesis socket.
	if rest := sentence.String(); strings.TrimSpace(rest) != "" {
		o.submitSentence(rest, true, &synthStarted)
	} else if synthStarted {
		o.submitSentence(" ", true, &synthStarted)
	}

	o.mu.Lock()
	o.llmStreaming = false
	o.pendingReply = ""
	if full.Len() > 0 {
		o.sess.AppendTurn(types.RoleAssistant, full.String())
	}
	o.mu.Unlock()
}

// submitSentence hands one text piece to TTS. The first submission of a reply
// flips the speaking flags.
func (o *Orchestrator) submitSentence(text string, flush bool, synthStarted *bool) {
	o.mu.Lock()
	synth := o.synth
	if !*synthStarted {
		*synthStarted = true
		o.agentSpeaking = true
		o.ttsStreaming = true
		o.sess.SetSpeaking(true)
		o.synthAt = time.Now()
		o.awaitingAudio = true
	}
	o.mu.Unlock()

	if err := synth.Synthesize(text, flush); err != nil {
		o.sendError(ErrKindSynthesis, err.Error())
		o.cfg.Metrics.RecordProviderError(o.ctx, synth.Info().Name, "tts")
	}
}

// endsWithDelimiter reports whether the fragment closes a sentence.
func endsWithDelimiter(fragment string) bool {
	trimmed := strings.TrimRight(fragment, " ")
	if trimmed == "" {
		return false
	}
	return strings.ContainsRune(sentenceDelimiters, rune(trimmed[len(trimmed)-1]))
}

// ---- socket writes ----

// sendEvent writes one event frame. Write failures are ignored: a dead
// socket surfaces in the read loop, which tears the session down.
func (o *Orchestrator) sendEvent(event string, data any) {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	_ = o.conn.WriteText(o.ctx, encodeEvent(event, data))
}

// sendError writes one error frame.
func (o *Orchestrator) sendError(kind, message string) {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	_ = o.conn.WriteText(o.ctx, encodeError(kind, message))
}
