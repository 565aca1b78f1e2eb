package session

import "github.com/zsiec/remote64/internal/wire"

// frameRing is a bounded FIFO of recent frames. Pushing beyond capacity
// evicts the oldest frame.
type frameRing struct {
	frames  []wire.Frame
	size    int
	evicted uint64
}

func newFrameRing(size int) *frameRing {
	return &frameRing{
		frames: make([]wire.Frame, 0, size),
		size:   size,
	}
}

func (r *frameRing) push(f wire.Frame) {
	if len(r.frames) >= r.size {
		drop := len(r.frames) - r.size + 1
		n := copy(r.frames, r.frames[drop:])
		clear(r.frames[n:])
		r.frames = r.frames[:n]
		r.evicted += uint64(drop)
	}
	r.frames = append(r.frames, f)
}

// pop removes and returns up to n frames, oldest first.
func (r *frameRing) pop(n int) []wire.Frame {
	n = min(n, len(r.frames))
	if n <= 0 {
		return nil
	}
	out := make([]wire.Frame, n)
	copy(out, r.frames)
	rest := copy(r.frames, r.frames[n:])
	clear(r.frames[rest:])
	r.frames = r.frames[:rest]
	return out
}

func (r *frameRing) len() int { return len(r.frames) }
