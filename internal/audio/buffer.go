package audio

import (
	"sync"
)

// RingBuffer is a thread-safe ring buffer for PCM bytes
type RingBuffer struct {
	buffer []byte
	size   int
	read   int
	write  int
	mu     sync.RWMutex
}

// NewRingBuffer creates a ring buffer holding up to size-1 bytes
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write copies as much of data as fits and returns the number of bytes written
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := 0
	for written < len(data) {
		free := rb.spaceLocked()
		if free == 0 {
			break
		}
		end := rb.size
		if rb.read > rb.write {
			end = rb.read - 1
		} else if rb.read == 0 {
			end = rb.size - 1
		}
		n := copy(rb.buffer[rb.write:end], data[written:])
		if n == 0 {
			break
		}
		rb.write = (rb.write + n) % rb.size
		written += n
	}
	return written
}

// Read copies up to len(data) buffered bytes into data
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	read := 0
	for read < len(data) && rb.read != rb.write {
		end := rb.write
		if rb.write < rb.read {
			end = rb.size
		}
		n := copy(data[read:], rb.buffer[rb.read:end])
		rb.read = (rb.read + n) % rb.size
		read += n
	}
	return read
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.availableLocked()
}

// Space returns the number of bytes available to write
func (rb *RingBuffer) Space() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.spaceLocked()
}

func (rb *RingBuffer) availableLocked() int {
	if rb.write >= rb.read {
		return rb.write - rb.read
	}
	return rb.size - rb.read + rb.write
}

// one slot stays empty to tell full from empty
func (rb *RingBuffer) spaceLocked() int {
	return rb.size - rb.availableLocked() - 1
}

// Clear drops all buffered bytes
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.read = 0
	rb.write = 0
}

// IsEmpty returns true if the buffer is empty
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.read == rb.write
}

// IsFull returns true if the buffer is full
func (rb *RingBuffer) IsFull() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return (rb.write+1)%rb.size == rb.read
}

// Framer re-chunks a PCM16 byte stream of arbitrary chunk sizes into
// fixed-size float frames. Audio devices and browser sockets deliver
// whatever their period happens to be; the live session wants exactly
// frameSamples per upstream message.
type Framer struct {
	mu         sync.Mutex
	ring       *RingBuffer
	channels   int
	frameBytes int
	scratch    []byte
}

// NewFramer creates a framer emitting frames of frameSamples per channel
func NewFramer(frameSamples, channels int) *Framer {
	if channels < 1 {
		channels = 1
	}
	frameBytes := frameSamples * 2 * channels
	return &Framer{
		ring:       NewRingBuffer(frameBytes*4 + 1),
		channels:   channels,
		frameBytes: frameBytes,
		scratch:    make([]byte, frameBytes),
	}
}

// Push buffers pcm and calls emit for every complete frame, in order.
// emit receives the first channel's samples; the slice is owned by the callee.
func (f *Framer) Push(pcm []byte, emit func(samples []float32)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for len(pcm) > 0 {
		n := f.ring.Write(pcm)
		pcm = pcm[n:]
		for f.ring.Available() >= f.frameBytes {
			f.ring.Read(f.scratch)
			channels, err := WireFrameToSamples(f.scratch, f.channels)
			if err != nil {
				return err
			}
			emit(channels[0])
		}
	}
	return nil
}

// Pending returns how many bytes are waiting for a complete frame
func (f *Framer) Pending() int {
	return f.ring.Available()
}

// Reset discards any partial frame
func (f *Framer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ring.Clear()
}
