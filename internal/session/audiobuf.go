package session

import (
	"context"
	"sync"
	"time"
)

const (
	defaultInputQueueSize  = 256
	defaultOutputQueueSize = 512
)

// Chunk is one queued audio payload.
type Chunk struct {
	// Data is the opaque audio bytes.
	Data []byte

	// EnqueuedAt is when the chunk entered the queue.
	EnqueuedAt time.Time

	// Generation is the reply generation the chunk belongs to. Only
	// meaningful for output chunks.
	Generation uint64
}

// BufferManager owns a session's audio queues. The input queue decouples the
// client transport from the STT adapter; the output queue decouples the TTS
// adapter from the client transport.
//
// Pushes never block: when a queue is full the oldest chunk is evicted. A
// full queue means the consumer is stalled, and for realtime audio the
// freshest frames are the ones worth keeping.
//
// Output chunks are tagged with a generation counter. Barge-in bumps the
// generation, which both drains the queue and marks any chunk still in flight
// as stale, so audio from an interrupted reply never reaches the client even
// when a producer races the bump.
//
// All methods are safe for concurrent use.
type BufferManager struct {
	in  chan Chunk
	out chan Chunk

	genMu sync.Mutex
	gen   uint64
}

// NewBufferManager creates a manager with bounded queues. Non-positive sizes
// select the defaults.
func NewBufferManager(inSize, outSize int) *BufferManager {
	if inSize <= 0 {
		inSize = defaultInputQueueSize
	}
	if outSize <= 0 {
		outSize = defaultOutputQueueSize
	}
	return &BufferManager{
		in:  make(chan Chunk, inSize),
		out: make(chan Chunk, outSize),
	}
}

// Generation returns the current reply generation.
func (b *BufferManager) Generation() uint64 {
	b.genMu.Lock()
	defer b.genMu.Unlock()
	return b.gen
}

// BumpGeneration starts a new reply generation and discards all queued output
// from previous generations. Returns the new generation.
func (b *BufferManager) BumpGeneration() uint64 {
	b.genMu.Lock()
	b.gen++
	gen := b.gen
	b.genMu.Unlock()

	// Drain stale output. Chunks pushed concurrently with the bump carry the
	// old generation and are re-checked at pop.
	drain(b.out)
	return gen
}

// PushInput queues one inbound client chunk for the STT forwarder. Reports
// whether an older chunk was evicted to make room.
func (b *BufferManager) PushInput(data []byte) (dropped bool) {
	return push(b.in, Chunk{Data: data, EnqueuedAt: time.Now()})
}

// PopInput blocks until an inbound chunk is available or ctx is done.
func (b *BufferManager) PopInput(ctx context.Context) (Chunk, error) {
	select {
	case c := <-b.in:
		return c, nil
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	}
}

// InputDepth returns the number of queued inbound chunks.
func (b *BufferManager) InputDepth() int { return len(b.in) }

// PushOutput queues one synthesized chunk tagged with the current generation.
// Reports whether an older chunk was evicted to make room.
func (b *BufferManager) PushOutput(data []byte) (dropped bool) {
	return push(b.out, Chunk{Data: data, EnqueuedAt: time.Now(), Generation: b.Generation()})
}

// PopOutput blocks until an output chunk of the current generation is
// available or ctx is done. Stale chunks are discarded silently.
func (b *BufferManager) PopOutput(ctx context.Context) (Chunk, error) {
	for {
		select {
		case c := <-b.out:
			if c.Generation != b.Generation() {
				continue
			}
			return c, nil
		case <-ctx.Done():
			return Chunk{}, ctx.Err()
		}
	}
}

// OutputDepth returns the number of queued output chunks, stale included.
func (b *BufferManager) OutputDepth() int { return len(b.out) }

// Clear discards everything in both queues.
func (b *BufferManager) Clear() {
	drain(b.in)
	drain(b.out)
}

// push enqueues c, evicting the oldest chunk when the queue is full. The
// retry loop settles even against a concurrent consumer: each iteration
// either sends or frees a slot.
func push(ch chan Chunk, c Chunk) (dropped bool) {
	for {
		select {
		case ch <- c:
			return dropped
		default:
		}
		select {
		case ch <- c:
			return dropped
		case <-ch:
			dropped = true
		}
	}
}

func drain(ch chan Chunk) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
